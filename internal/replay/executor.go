package replay

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"greplay/internal/config"
	"greplay/internal/constants"
	"greplay/internal/logger"
	apperrors "greplay/pkg/errors"
	"greplay/pkg/logging"
	"greplay/pkg/metrics"
	"greplay/pkg/tracing"
)

// Publisher is the part of a broker client a replay needs.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// Task is a validated replay, fixed at dispatch.
type Task struct {
	ID               string
	SubscriberID     string
	Datetime         string
	SanitizedTopic   string
	PublicationTopic string
	PageSize         int
}

type Subscription struct {
	Href    string `json:"href"`
	Rel     string `json:"rel"`
	Type    string `json:"type"`
	Title   string `json:"title"`
	Channel string `json:"channel"`
}

// Acknowledgment is returned to the caller before any record is fetched.
type Acknowledgment struct {
	Status        string         `json:"status"`
	JobID         string         `json:"job_id"`
	Subscriptions []Subscription `json:"subscriptions"`
}

type Executor struct {
	centreID  string
	cfg       config.ReplayConfig
	fetcher   PageFetcher
	publisher Publisher
	registry  *Registry
	logger    logger.Logger
}

func NewExecutor(centreID string, cfg config.ReplayConfig, fetcher PageFetcher, publisher Publisher, registry *Registry, log logger.Logger) *Executor {
	if cfg.PageSize <= 0 {
		cfg.PageSize = constants.DefaultReplayPageSize
	}
	if cfg.PublicationPrefix == "" {
		cfg.PublicationPrefix = constants.DefaultPublicationPrefix
	}
	return &Executor{
		centreID:  centreID,
		cfg:       cfg,
		fetcher:   fetcher,
		publisher: publisher,
		registry:  registry,
		logger:    log.Component("replay"),
	}
}

// PublicationTopic is the channel a subscriber's replay is published on.
func (e *Executor) PublicationTopic(subscriberID string) string {
	return strings.Join([]string{strings.TrimSuffix(e.cfg.PublicationPrefix, "/"), e.centreID, subscriberID}, "/")
}

// Prepare validates req and derives the task it describes.
func (e *Executor) Prepare(req *SubscriptionRequest) (*Task, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return &Task{
		ID:               uuid.NewString(),
		SubscriberID:     req.SubscriberID,
		Datetime:         req.Datetime,
		SanitizedTopic:   SanitizeTopic(req.Topic),
		PublicationTopic: e.PublicationTopic(req.SubscriberID),
		PageSize:         e.cfg.PageSize,
	}, nil
}

// Execute validates req, starts the replay in the background and returns the
// acknowledgment without waiting for it.
func (e *Executor) Execute(ctx context.Context, req *SubscriptionRequest) (*Acknowledgment, *Handle, error) {
	task, err := e.Prepare(req)
	if err != nil {
		metrics.ReplayRequestsTotal.WithLabelValues("rejected").Inc()
		e.logger.WarnwCtx(ctx, "Replay request rejected", "error", err)
		return nil, nil, err
	}

	h, err := e.registry.Spawn(task, e.Run)
	if err != nil {
		metrics.ReplayRequestsTotal.WithLabelValues("unavailable").Inc()
		return nil, nil, err
	}
	metrics.ReplayRequestsTotal.WithLabelValues("accepted").Inc()

	e.logger.InfowCtx(ctx, "Replay dispatched",
		"job_id", task.ID,
		"subscriber_id", task.SubscriberID,
		"topic", task.SanitizedTopic,
		"channel", task.PublicationTopic,
	)
	return e.Acknowledge(task), h, nil
}

func (e *Executor) Acknowledge(task *Task) *Acknowledgment {
	ack := &Acknowledgment{
		Status:        "successful",
		JobID:         task.ID,
		Subscriptions: make([]Subscription, 0, len(e.cfg.GlobalBrokers)),
	}
	for _, gb := range e.cfg.GlobalBrokers {
		ack.Subscriptions = append(ack.Subscriptions, Subscription{
			Href:    gb.Href,
			Rel:     constants.LinkRelItems,
			Type:    constants.ContentTypeGeoJSON,
			Title:   gb.Title,
			Channel: task.PublicationTopic,
		})
	}
	return ack
}

// Run pages through the feature API and publishes every feature in order.
// A fetch failure ends the run; publish failures are counted and skipped.
func (e *Executor) Run(ctx context.Context, h *Handle) error {
	task := h.Task()

	ctx = logging.WithTaskID(ctx, task.ID)
	ctx = logging.WithSubscriberID(ctx, task.SubscriberID)
	ctx, span := tracing.GetTracer("greplay-replay").Start(ctx, "replay.task")
	defer span.End()
	span.SetAttributes(
		attribute.String("replay.topic", task.SanitizedTopic),
		attribute.String("replay.channel", task.PublicationTopic),
	)

	next, err := QueryURL(e.cfg.FeatureAPIURL, task.Datetime, task.SanitizedTopic, task.PageSize)
	if err != nil {
		return apperrors.ErrReplayFetch.WithCause(err)
	}

	for next != "" {
		if err := ctx.Err(); err != nil {
			return err
		}

		e.logger.DebugwCtx(ctx, "Querying feature API", "url", next)
		page, err := e.fetcher.Fetch(ctx, next)
		if err != nil {
			span.RecordError(err)
			e.logger.ErrorwCtx(ctx, "Replay aborted", "url", next, "error", err)
			return err
		}
		h.PageFetched()

		for _, feature := range page.Features {
			if err := ctx.Err(); err != nil {
				return err
			}
			e.publish(ctx, h, feature)
		}

		following := page.NextURL(next)
		if following == next {
			e.logger.WarnwCtx(ctx, "Next link points at the current page, stopping", "url", next)
			break
		}
		next = following
	}

	st := h.Status()
	e.logger.InfowCtx(ctx, "Replay completed",
		"pages", st.PagesFetched,
		"published", st.RecordsPublished,
		"publish_failures", st.PublishFailures,
	)
	return nil
}

func (e *Executor) publish(ctx context.Context, h *Handle, feature []byte) {
	err := e.publisher.Publish(ctx, h.Task().PublicationTopic, feature)
	h.RecordPublished(err == nil)
	if err != nil {
		metrics.ReplayRecordsPublishedTotal.WithLabelValues("error").Inc()
		e.logger.WarnwCtx(ctx, "Failed to publish replayed record", "error", err)
		return
	}
	metrics.ReplayRecordsPublishedTotal.WithLabelValues("success").Inc()
}
