package replay

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"greplay/internal/constants"
	"greplay/internal/logger"
	apperrors "greplay/pkg/errors"
	"greplay/pkg/metrics"
)

type State string

const (
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateAborted   State = "aborted"
	StateCancelled State = "cancelled"
)

// Status is a point-in-time view of a task.
type Status struct {
	ID               string     `json:"id"`
	SubscriberID     string     `json:"subscriber_id"`
	Topic            string     `json:"topic"`
	Channel          string     `json:"channel"`
	State            State      `json:"state"`
	PagesFetched     int64      `json:"pages_fetched"`
	RecordsPublished int64      `json:"records_published"`
	PublishFailures  int64      `json:"publish_failures"`
	Error            string     `json:"error,omitempty"`
	StartedAt        time.Time  `json:"started_at"`
	FinishedAt       *time.Time `json:"finished_at,omitempty"`
}

// RunFunc executes a task, reporting progress through h.
type RunFunc func(ctx context.Context, h *Handle) error

// Handle tracks one running or finished task.
type Handle struct {
	task    *Task
	cancel  context.CancelFunc
	done    chan struct{}
	started time.Time

	pages     atomic.Int64
	published atomic.Int64
	failed    atomic.Int64

	mu       sync.Mutex
	state    State
	err      error
	finished time.Time
}

func (h *Handle) Task() *Task {
	return h.task
}

func (h *Handle) PageFetched() {
	h.pages.Add(1)
}

func (h *Handle) RecordPublished(ok bool) {
	if ok {
		h.published.Add(1)
		return
	}
	h.failed.Add(1)
}

// Cancel stops the task at its next page or record boundary.
func (h *Handle) Cancel() {
	h.cancel()
}

func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the task finishes or ctx ends, and returns the task's
// final status and error.
func (h *Handle) Wait(ctx context.Context) (Status, error) {
	select {
	case <-h.done:
		h.mu.Lock()
		err := h.err
		h.mu.Unlock()
		return h.Status(), err
	case <-ctx.Done():
		return h.Status(), ctx.Err()
	}
}

func (h *Handle) Status() Status {
	h.mu.Lock()
	defer h.mu.Unlock()

	s := Status{
		ID:               h.task.ID,
		SubscriberID:     h.task.SubscriberID,
		Topic:            h.task.SanitizedTopic,
		Channel:          h.task.PublicationTopic,
		State:            h.state,
		PagesFetched:     h.pages.Load(),
		RecordsPublished: h.published.Load(),
		PublishFailures:  h.failed.Load(),
		StartedAt:        h.started,
	}
	if h.err != nil {
		s.Error = h.err.Error()
	}
	if !h.finished.IsZero() {
		finished := h.finished
		s.FinishedAt = &finished
	}
	return s
}

func (h *Handle) finish(err error) State {
	state := StateCompleted
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled):
		state = StateCancelled
	default:
		state = StateAborted
	}

	h.mu.Lock()
	h.state = state
	h.err = err
	h.finished = time.Now()
	h.mu.Unlock()
	close(h.done)
	return state
}

// Registry owns every replay task. Tasks run on the registry's context, not
// the context of the request that started them.
type Registry struct {
	ctx         context.Context
	cancelAll   context.CancelFunc
	maxFinished int
	logger      logger.Logger

	mu       sync.Mutex
	tasks    map[string]*Handle
	finished []string
	draining bool
	wg       sync.WaitGroup
}

func NewRegistry(maxFinished int, log logger.Logger) *Registry {
	if maxFinished <= 0 {
		maxFinished = constants.FinishedTaskHistory
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		ctx:         ctx,
		cancelAll:   cancel,
		maxFinished: maxFinished,
		logger:      log.Component("replay-registry"),
		tasks:       make(map[string]*Handle),
	}
}

// Spawn starts run for task in its own goroutine. It fails once Drain has begun.
func (r *Registry) Spawn(task *Task, run RunFunc) (*Handle, error) {
	r.mu.Lock()
	if r.draining {
		r.mu.Unlock()
		return nil, apperrors.ErrServiceUnavailable.WithDetail("message", "replay service is shutting down")
	}

	ctx, cancel := context.WithCancel(r.ctx)
	h := &Handle{
		task:    task,
		cancel:  cancel,
		done:    make(chan struct{}),
		started: time.Now(),
		state:   StateRunning,
	}
	r.tasks[task.ID] = h
	r.wg.Add(1)
	r.mu.Unlock()

	metrics.ReplayTasksActive.Inc()
	go r.run(ctx, h, run)
	return h, nil
}

func (r *Registry) run(ctx context.Context, h *Handle, run RunFunc) {
	defer r.wg.Done()
	defer h.cancel()

	var err error
	func() {
		defer func() {
			if rec := recover(); rec != nil {
				err = apperrors.RecoverPanic(rec)
			}
		}()
		err = run(ctx, h)
	}()

	state := h.finish(err)
	metrics.ReplayTasksActive.Dec()
	metrics.ReplayTasksTotal.WithLabelValues(string(state)).Inc()
	r.retire(h.task.ID)
}

// retire moves a finished task into the bounded history.
func (r *Registry) retire(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.finished = append(r.finished, id)
	for len(r.finished) > r.maxFinished {
		delete(r.tasks, r.finished[0])
		r.finished = r.finished[1:]
	}
}

func (r *Registry) Get(id string) (*Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.tasks[id]
	return h, ok
}

// List returns every known task, oldest first.
func (r *Registry) List() []Status {
	r.mu.Lock()
	handles := make([]*Handle, 0, len(r.tasks))
	for _, h := range r.tasks {
		handles = append(handles, h)
	}
	r.mu.Unlock()

	out := make([]Status, 0, len(handles))
	for _, h := range handles {
		out = append(out, h.Status())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

func (r *Registry) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tasks) - len(r.finished)
}

// Drain refuses new tasks and waits for running ones. When ctx ends first the
// remaining tasks are cancelled and Drain returns ctx's error once they stop.
func (r *Registry) Drain(ctx context.Context) error {
	r.mu.Lock()
	r.draining = true
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.cancelAll()
		return nil
	case <-ctx.Done():
		r.logger.Warnw("Replay tasks still running at shutdown, cancelling", "active", r.Active())
		r.cancelAll()
		<-done
		return ctx.Err()
	}
}
