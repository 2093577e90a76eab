package ingest

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"greplay/internal/broker"
	"greplay/internal/logger"
	apperrors "greplay/pkg/errors"
	"greplay/pkg/logging"
	"greplay/pkg/metrics"
	"greplay/pkg/models"
	"greplay/pkg/tracing"
)

type Admitter interface {
	Admit(ctx context.Context, id, marker string) (bool, error)
	Release(ctx context.Context, id string) error
}

type Saver interface {
	Save(ctx context.Context, msg *models.NotificationMessage) error
}

// Gate admits each feed message through the dedup cache before it is saved.
type Gate struct {
	cache   Admitter
	backend Saver
	logger  logger.Logger
}

func NewGate(cache Admitter, backend Saver, log logger.Logger) *Gate {
	return &Gate{
		cache:   cache,
		backend: backend,
		logger:  log.Component("ingest"),
	}
}

// Handle adapts the gate to a broker subscription.
func (g *Gate) Handle(ctx context.Context, d broker.Delivery) error {
	return g.Ingest(ctx, d.Topic, d.Payload)
}

// Ingest parses payload and hands it to IngestMessage. Unparseable payloads
// are logged and dropped.
func (g *Gate) Ingest(ctx context.Context, topic string, payload []byte) error {
	msg, err := models.ParseNotificationMessage(payload)
	if err != nil {
		metrics.IngestMessagesTotal.WithLabelValues("invalid").Inc()
		parseErr := apperrors.ErrFeedParse.WithCause(err)
		g.logger.WarnwCtx(ctx, "Dropping unparseable notification message",
			"topic", topic,
			"error", parseErr,
		)
		return nil
	}
	return g.IngestMessage(ctx, topic, msg)
}

func (g *Gate) IngestMessage(ctx context.Context, topic string, msg *models.NotificationMessage) error {
	ctx, span := tracing.GetTracer("greplay-ingest").Start(ctx, "ingest.message")
	defer span.End()
	span.SetAttributes(
		attribute.String("message.id", msg.ID),
		attribute.String("message.topic", topic),
	)

	ctx = logging.WithMessageID(ctx, msg.ID)
	start := time.Now()

	admitted, err := g.cache.Admit(ctx, msg.ID, msg.DataID())
	if err != nil {
		span.RecordError(err)
		g.finish(start, "error")
		g.logger.ErrorwCtx(ctx, "Dedup check failed; message not stored", "error", err)
		if apperrors.IsCacheUnavailable(err) {
			return err
		}
		return apperrors.ErrCacheUnavailable.WithCause(err)
	}
	if !admitted {
		g.finish(start, "duplicate")
		g.logger.InfowCtx(ctx, "Duplicate message; discarding")
		return nil
	}

	msg.SetProperty(models.PropertyTopic, topic)
	if err := g.backend.Save(ctx, msg); err != nil {
		span.RecordError(err)
		g.finish(start, "error")
		g.logger.ErrorwCtx(ctx, "Failed to save message", "error", err)
		if relErr := g.cache.Release(ctx, msg.ID); relErr != nil {
			g.logger.WarnwCtx(ctx, "Failed to release dedup claim; redeliveries will be discarded until it expires",
				"error", relErr,
			)
		}
		return err
	}

	g.finish(start, "stored")
	g.logger.DebugwCtx(ctx, "Message stored", "topic", topic)
	return nil
}

func (g *Gate) finish(start time.Time, status string) {
	metrics.IngestMessagesTotal.WithLabelValues(status).Inc()
	metrics.ObserveIngestDuration(time.Since(start), status)
}
