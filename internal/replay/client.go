package replay

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"greplay/internal/config"
	"greplay/internal/constants"
	"greplay/internal/logger"
	apperrors "greplay/pkg/errors"
	"greplay/pkg/metrics"
	"greplay/pkg/models"
	"greplay/pkg/retry"
)

// Page is one response of the feature query API.
type Page struct {
	Features       []json.RawMessage `json:"features"`
	Links          []models.Link     `json:"links"`
	NumberReturned int               `json:"numberReturned"`
}

// NextURL resolves the page's next link against base. Both rel="next" links
// and a bare "next" key are understood. Empty when there is none.
func (p *Page) NextURL(base string) string {
	var next string
	for _, l := range p.Links {
		switch {
		case l.Next != "":
			next = l.Next
		case l.Rel == constants.LinkRelNext && l.Href != "":
			next = l.Href
		}
	}
	if next == "" {
		return ""
	}

	ref, err := url.Parse(next)
	if err != nil {
		return next
	}
	b, err := url.Parse(base)
	if err != nil {
		return next
	}
	return b.ResolveReference(ref).String()
}

// PageFetcher retrieves a single page of features.
type PageFetcher interface {
	Fetch(ctx context.Context, pageURL string) (*Page, error)
}

// QueryURL builds the first page request for a replay.
func QueryURL(endpoint, datetime, topic string, limit int) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid feature API url: %w", err)
	}
	q := u.Query()
	q.Set("datetime", datetime)
	q.Set("topic", topic)
	q.Set("limit", strconv.Itoa(limit))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// FeatureClient fetches pages over HTTP. Each attempt is bounded by the
// request timeout; 4xx responses are not retried.
type FeatureClient struct {
	client     *http.Client
	timeout    time.Duration
	maxRetries int
	logger     logger.Logger
}

func NewFeatureClient(cfg config.ReplayConfig, log logger.Logger) *FeatureClient {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = constants.DefaultHTTPTimeout
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = constants.DefaultMaxRetries
	}
	return &FeatureClient{
		client:     &http.Client{},
		timeout:    timeout,
		maxRetries: maxRetries,
		logger:     log.Component("feature-client"),
	}
}

func (c *FeatureClient) Fetch(ctx context.Context, pageURL string) (*Page, error) {
	var page *Page
	start := time.Now()

	err := retry.RetryWithCallback(ctx, retry.BoundedPolicy(c.maxRetries), func() error {
		p, err := c.get(ctx, pageURL)
		if err != nil {
			return err
		}
		page = p
		return nil
	}, func(attempt int, err error, nextDelay time.Duration) {
		metrics.RetryAttemptsTotal.WithLabelValues("replay", "fetch").Inc()
		c.logger.WarnwCtx(ctx, "Feature query failed, retrying",
			"attempt", attempt,
			"url", pageURL,
			"next_delay", nextDelay,
			"error", err,
		)
	})
	if err != nil {
		return nil, apperrors.ErrReplayFetch.WithCause(err).WithDetail("url", pageURL)
	}

	metrics.ObserveReplayFetch(time.Since(start))
	return page, nil
}

func (c *FeatureClient) get(ctx context.Context, pageURL string) (*Page, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, retry.NewFatalError(err)
	}
	req.Header.Set("Accept", "application/geo+json, application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil && ctx.Err() != context.DeadlineExceeded {
			return nil, retry.NewFatalError(err)
		}
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		statusErr := fmt.Errorf("feature API returned %d: %s", resp.StatusCode, body)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return nil, retry.NewFatalError(statusErr)
		}
		return nil, statusErr
	}

	var page Page
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, retry.NewFatalError(fmt.Errorf("failed to decode feature page: %w", err))
	}
	return &page, nil
}
