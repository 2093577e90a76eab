package broker

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"greplay/internal/config"
	"greplay/internal/constants"
	"greplay/internal/logger"
	"greplay/pkg/errors"
	"greplay/pkg/logging"
	"greplay/pkg/metrics"
	"greplay/pkg/retry"
	"greplay/pkg/tracing"
)

const (
	transportKafka = "kafka"
	// topicHeader carries the hierarchical topic, which Kafka topic names cannot hold.
	topicHeader = "wis-topic"
)

// KafkaTopicName maps a slash separated topic onto a legal Kafka topic name.
func KafkaTopicName(topic string) string {
	r := strings.NewReplacer("/", ".", "+", "_", "#", "_", "*", "_")
	return r.Replace(strings.Trim(topic, "/"))
}

type KafkaPublisher struct {
	writer *kafka.Writer
	logger logger.Logger
}

func NewKafkaPublisher(cfg config.BrokerConfig, log logger.Logger) *KafkaPublisher {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.KafkaBrokers()...),
		Balancer:               &kafka.Hash{},
		BatchTimeout:           constants.KafkaBatchTimeout,
		WriteTimeout:           constants.KafkaWriteTimeout,
		AllowAutoTopicCreation: true,
		Async:                  false,
	}
	return &KafkaPublisher{writer: w, logger: log}
}

func (p *KafkaPublisher) Publish(ctx context.Context, topic string, payload []byte) error {
	headers := []kafka.Header{{Key: topicHeader, Value: []byte(topic)}}
	headers = tracing.InjectTraceContext(ctx, headers)

	start := time.Now()
	err := p.writer.WriteMessages(ctx,
		kafka.Message{
			Topic:   KafkaTopicName(topic),
			Key:     []byte(topic),
			Value:   payload,
			Headers: headers,
			Time:    time.Now(),
		},
	)
	metrics.ObserveBrokerPublish(transportKafka, len(payload), time.Since(start), err)

	if err != nil {
		return fmt.Errorf("failed to write kafka message: %w", err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

type KafkaSubscriber struct {
	cfg         config.BrokerConfig
	wg          sync.WaitGroup
	reader      *kafka.Reader
	logger      logger.Logger
	serviceName string
}

func NewKafkaSubscriber(cfg config.BrokerConfig, log logger.Logger) *KafkaSubscriber {
	return &KafkaSubscriber{
		cfg:         cfg,
		logger:      log,
		serviceName: "unknown",
	}
}

func (c *KafkaSubscriber) SetServiceName(name string) {
	c.serviceName = name
}

func (c *KafkaSubscriber) Subscribe(ctx context.Context, topics []string, handler HandlerFunc) error {
	if len(topics) == 0 {
		return fmt.Errorf("no topics to subscribe to")
	}

	kafkaTopics := make([]string, len(topics))
	for i, t := range topics {
		kafkaTopics[i] = KafkaTopicName(t)
	}

	c.logger.Infow("Creating Kafka reader",
		"topics", kafkaTopics,
		"brokers", c.cfg.KafkaBrokers(),
		"group_id", c.cfg.Kafka.GroupID,
		"service_name", c.serviceName,
	)

	c.reader = kafka.NewReader(kafka.ReaderConfig{
		Brokers:     c.cfg.KafkaBrokers(),
		GroupID:     c.cfg.Kafka.GroupID,
		GroupTopics: kafkaTopics,
		MinBytes:    1,
		MaxBytes:    10e6,
	})

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.consume(ctx, handler)
	}()

	<-ctx.Done()
	return ctx.Err()
}

func (c *KafkaSubscriber) consume(ctx context.Context, handler HandlerFunc) {
	consumeCtx := logging.WithServiceName(ctx, c.serviceName)
	c.logger.InfowCtx(consumeCtx, "Started consuming")

	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.InfowCtx(consumeCtx, "Stopped consuming", "reason", "context canceled")
				return
			}
			c.logger.ErrorwCtx(consumeCtx, "Error fetching kafka message", "error", err)
			time.Sleep(time.Second)
			continue
		}

		metrics.ObserveBrokerReceive(transportKafka, len(m.Value))
		topic := deliveryTopic(m)

		msgCtx, span := tracing.StartSpanFromKafkaMessage(consumeCtx, "kafka.consume", m.Headers)
		msgCtx = logging.WithTopic(msgCtx, topic)

		if err := c.handleWithRetry(msgCtx, Delivery{Topic: topic, Payload: m.Value}, handler); err != nil {
			span.RecordError(err)
			c.logger.ErrorwCtx(msgCtx, "Failed to handle message after retries, skipping", "error", err)
		}
		span.End()

		if err := c.reader.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
			c.logger.ErrorwCtx(msgCtx, "Failed to commit message", "error", err)
		}
	}
}

func deliveryTopic(m kafka.Message) string {
	for _, h := range m.Headers {
		if h.Key == topicHeader {
			return string(h.Value)
		}
	}
	return strings.ReplaceAll(m.Topic, ".", "/")
}

func (c *KafkaSubscriber) handleWithRetry(ctx context.Context, d Delivery, handler HandlerFunc) error {
	policy := retry.Policy{
		MaxAttempts:     3,
		InitialInterval: 1 * time.Second,
		MaxInterval:     30 * time.Second,
		Multiplier:      2.0,
	}

	r := c.cfg.Kafka.Retry
	if r.MaxAttempts > 0 {
		policy.MaxAttempts = r.MaxAttempts
	}
	if r.InitialInterval > 0 {
		policy.InitialInterval = r.InitialInterval
	}
	if r.MaxInterval > 0 {
		policy.MaxInterval = r.MaxInterval
	}
	if r.Multiplier > 0 {
		policy.Multiplier = r.Multiplier
	}
	if r.MaxElapsedTime > 0 {
		policy.MaxElapsedTime = r.MaxElapsedTime
	}

	return retry.RetryWithCallback(ctx, policy, func() (err error) {
		defer func() {
			if rec := recover(); rec != nil {
				err = errors.RecoverPanic(rec)
				c.logger.ErrorwCtx(ctx, "Panic recovered during message handling", "error", err)
			}
		}()
		return handler(ctx, d)
	}, func(attempt int, err error, nextDelay time.Duration) {
		metrics.RetryAttemptsTotal.WithLabelValues(c.serviceName, "kafka.handle").Inc()
		c.logger.WarnwCtx(ctx, "Retrying message handling",
			"attempt", attempt,
			"max_attempts", policy.MaxAttempts,
			"next_delay", nextDelay,
			"error", err,
		)
	})
}

func (c *KafkaSubscriber) Close() error {
	var err error
	if c.reader != nil {
		err = c.reader.Close()
	}
	c.wg.Wait()
	return err
}
