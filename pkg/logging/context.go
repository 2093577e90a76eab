package logging

import (
	"context"
)

type contextKey string

const (
	TraceIDKey      = "trace_id"
	MessageIDKey    = "message_id"
	ServiceNameKey  = "service_name"
	TopicKey        = "topic"
	SubscriberIDKey = "subscriber_id"
	TaskIDKey       = "task_id"
)

var logKeys = []string{TraceIDKey, MessageIDKey, ServiceNameKey, TopicKey, SubscriberIDKey, TaskIDKey}

func with(ctx context.Context, key, value string) context.Context {
	return context.WithValue(ctx, contextKey(key), value)
}

func get(ctx context.Context, key string) string {
	if v, ok := ctx.Value(contextKey(key)).(string); ok {
		return v
	}
	return ""
}

func WithTraceID(ctx context.Context, traceID string) context.Context {
	return with(ctx, TraceIDKey, traceID)
}

func WithMessageID(ctx context.Context, messageID string) context.Context {
	return with(ctx, MessageIDKey, messageID)
}

func WithServiceName(ctx context.Context, serviceName string) context.Context {
	return with(ctx, ServiceNameKey, serviceName)
}

func WithTopic(ctx context.Context, topic string) context.Context {
	return with(ctx, TopicKey, topic)
}

func WithSubscriberID(ctx context.Context, subscriberID string) context.Context {
	return with(ctx, SubscriberIDKey, subscriberID)
}

func WithTaskID(ctx context.Context, taskID string) context.Context {
	return with(ctx, TaskIDKey, taskID)
}

func GetTraceID(ctx context.Context) string {
	return get(ctx, TraceIDKey)
}

func GetServiceName(ctx context.Context) string {
	return get(ctx, ServiceNameKey)
}

// GetLogFields returns the key/value pairs carried by ctx, in a fixed order.
func GetLogFields(ctx context.Context) []interface{} {
	fields := make([]interface{}, 0, 2*len(logKeys))
	for _, key := range logKeys {
		if v := get(ctx, key); v != "" {
			fields = append(fields, key, v)
		}
	}
	return fields
}
