package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"greplay/internal/broker"
	"greplay/internal/config"
	"greplay/internal/logger"
)

// Base holds the handles every service process shares.
type Base struct {
	Config     *config.Config
	Logger     logger.Logger
	Publisher  broker.Publisher
	Subscriber broker.Subscriber
}

func NewBase(cfg *config.Config, log logger.Logger) *Base {
	return &Base{
		Config: cfg,
		Logger: log,
	}
}

func (b *Base) InitPublisher(clientID string) error {
	publisher, err := broker.NewPublisher(b.Config.Broker, clientID, b.Logger)
	if err != nil {
		return fmt.Errorf("failed to create publisher: %w", err)
	}
	b.Publisher = publisher
	return nil
}

func (b *Base) InitSubscriber(serviceName, clientID string) error {
	subscriber, err := broker.NewSubscriber(b.Config.Broker, clientID, b.Logger)
	if err != nil {
		return fmt.Errorf("failed to create subscriber: %w", err)
	}
	if serviceName != "" {
		subscriber.SetServiceName(serviceName)
	}
	b.Subscriber = subscriber
	return nil
}

func (b *Base) ShutdownBroker() []error {
	var errs []error

	if b.Subscriber != nil {
		if err := b.Subscriber.Close(); err != nil {
			errs = append(errs, fmt.Errorf("subscriber close error: %w", err))
		}
	}

	if b.Publisher != nil {
		if err := b.Publisher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("publisher close error: %w", err))
		}
	}

	return errs
}

// Shutdown runs additionalShutdown first so in-flight work can still publish,
// then closes the broker clients.
func (b *Base) Shutdown(ctx context.Context, additionalShutdown func(ctx context.Context) []error) error {
	b.Logger.Info("Shutting down application...")

	var errs []error
	if additionalShutdown != nil {
		errs = append(errs, additionalShutdown(ctx)...)
	}
	errs = append(errs, b.ShutdownBroker()...)

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}

	b.Logger.Info("Application exited successfully")
	return nil
}
