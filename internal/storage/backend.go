package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"greplay/internal/logger"
	"greplay/pkg/health"
	"greplay/pkg/metrics"
	"greplay/pkg/models"
	"greplay/pkg/retry"
)

// Internal fields added to every stored document.
const (
	FieldID        = "_id"
	FieldPubTime   = "_pubtime"
	FieldIndexedAt = "_indexed_at"
)

type SetupStatus int

const (
	SetupCreated SetupStatus = iota
	SetupAlreadyExists
	SetupRecreated
)

func (s SetupStatus) String() string {
	switch s {
	case SetupCreated:
		return "created"
	case SetupAlreadyExists:
		return "already_exists"
	case SetupRecreated:
		return "recreated"
	}
	return "unknown"
}

// Backend is the schema lifecycle and write side of a message store.
type Backend interface {
	// Setup creates policy, mappings and template in that order. Without
	// force an existing schema is left alone.
	Setup(ctx context.Context, force bool) (SetupStatus, error)
	// Teardown removes everything Setup created, tolerating missing parts.
	Teardown(ctx context.Context) error
	Save(ctx context.Context, msg *models.NotificationMessage) error
	Exists(ctx context.Context) (bool, error)
	RecordExists(ctx context.Context, id string) (bool, error)
	// Clean removes records published at or before now-maxAgeHours.
	Clean(ctx context.Context, maxAgeHours int) (int64, error)
	HealthChecker() health.Checker
	Close(ctx context.Context) error
	Name() string
}

// Searcher serves historical feature queries.
type Searcher interface {
	Query(ctx context.Context, q FeatureQuery) (*FeaturePage, error)
}

type Store interface {
	Backend
	Searcher
}

// Options carries the non-URL settings every variant needs.
type Options struct {
	IndexMode      string
	RetentionHours int
	Timeout        time.Duration
	MaxRetries     int
	Logger         logger.Logger
	Now            func() time.Time
}

// caller bounds each backend call with a timeout and a retry budget and
// records it in the storage metrics.
type caller struct {
	backend    string
	timeout    time.Duration
	maxRetries int
	classify   func(error) error
}

func (c caller) do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	start := time.Now()
	policy := retry.BoundedPolicy(c.maxRetries)

	err := retry.RetryWithCallback(ctx, policy, func() error {
		callCtx := ctx
		if c.timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, c.timeout)
			defer cancel()
		}
		err := fn(callCtx)
		if err != nil && c.classify != nil {
			return c.classify(err)
		}
		return err
	}, func(_ int, _ error, _ time.Duration) {
		metrics.RetryAttemptsTotal.WithLabelValues("storage", op).Inc()
	})

	metrics.ObserveStorageOperation(c.backend, op, time.Since(start), err)
	if err != nil {
		return fmt.Errorf("%s %s: %w", c.backend, op, err)
	}
	return nil
}

// storedDocument is the canonical message plus the internal fields. The
// message is round-tripped through JSON so nested values are plain maps.
type storedDocument struct {
	ID        string
	PubTime   time.Time
	IndexedAt time.Time
	Topic     string
	Body      map[string]interface{}
	Raw       []byte
}

func newStoredDocument(msg *models.NotificationMessage, now time.Time) (*storedDocument, error) {
	if msg == nil || msg.ID == "" {
		return nil, fmt.Errorf("message has no id")
	}

	raw, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode message %s: %w", msg.ID, err)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("decode message %s: %w", msg.ID, err)
	}

	pubTime, ok := msg.PubTime()
	if !ok {
		pubTime = now
	}

	return &storedDocument{
		ID:        msg.ID,
		PubTime:   pubTime.UTC(),
		IndexedAt: now.UTC(),
		Topic:     msg.Topic(),
		Body:      body,
		Raw:       raw,
	}, nil
}

// stripInternal drops the underscore fields before a document leaves the store.
func stripInternal(doc map[string]interface{}) {
	delete(doc, FieldID)
	delete(doc, FieldPubTime)
	delete(doc, FieldIndexedAt)
}

func retentionCutoff(now time.Time, maxAgeHours int) time.Time {
	return now.UTC().Add(-time.Duration(maxAgeHours) * time.Hour)
}
