package broker

import (
	"context"
)

// Publisher sends raw payloads to a named channel.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Close() error
}

// Subscriber delivers feed messages to handler until ctx is cancelled.
type Subscriber interface {
	Subscribe(ctx context.Context, topics []string, handler HandlerFunc) error
	Close() error
	SetServiceName(name string)
}

// Delivery is one message received from the feed.
type Delivery struct {
	Topic   string
	Payload []byte
}

type HandlerFunc func(ctx context.Context, d Delivery) error

// ConnectionState is implemented by transports that hold a live connection.
type ConnectionState interface {
	IsConnected() bool
}
