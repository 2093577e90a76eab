package features

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"greplay/internal/config"
	"greplay/internal/constants"
	"greplay/internal/logger"
	"greplay/internal/storage"
	"greplay/pkg/errors"
	"greplay/pkg/metrics"
	"greplay/pkg/models"
)

// FeatureCollection is the items response body.
type FeatureCollection struct {
	Type           string            `json:"type"`
	Features       []json.RawMessage `json:"features"`
	NumberMatched  *int64            `json:"numberMatched,omitempty"`
	NumberReturned int               `json:"numberReturned"`
	Links          []models.Link     `json:"links"`
}

// Handler serves stored notification messages as an OGC API Features
// collection.
type Handler struct {
	searcher storage.Searcher
	cfg      config.FeaturesConfig
	logger   logger.Logger
}

func NewHandler(searcher storage.Searcher, cfg config.FeaturesConfig, log logger.Logger) *Handler {
	if cfg.Collection == "" {
		cfg.Collection = constants.DefaultCollection
	}
	if cfg.MaxLimit <= 0 {
		cfg.MaxLimit = constants.MaxFeatureLimit
	}
	if cfg.DefaultLimit <= 0 || cfg.DefaultLimit > cfg.MaxLimit {
		cfg.DefaultLimit = constants.DefaultFeatureLimit
	}
	return &Handler{
		searcher: searcher,
		cfg:      cfg,
		logger:   log.Component("features"),
	}
}

func (h *Handler) RegisterRoutes(router gin.IRouter) {
	router.GET("/collections/:collection/items", h.Items)
}

func (h *Handler) HandleError(c *gin.Context, err error) {
	status := errors.ToHTTPStatus(err)
	if status >= http.StatusInternalServerError {
		h.logger.ErrorwCtx(c.Request.Context(), "Request error", "error", err, "path", c.Request.URL.Path)
	}
	metrics.FeatureQueriesTotal.WithLabelValues(strconv.Itoa(status)).Inc()
	c.JSON(status, errors.ToErrorResponse(err))
}

func (h *Handler) Items(c *gin.Context) {
	if c.Param("collection") != h.cfg.Collection {
		h.HandleError(c, errors.ErrNotFound.WithDetail("message", "collection not found"))
		return
	}

	q, err := h.parseQuery(c)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	page, err := h.searcher.Query(c.Request.Context(), q)
	if err != nil {
		h.HandleError(c, errors.ErrBackendUnavailable.WithCause(err))
		return
	}

	fc := FeatureCollection{
		Type:           "FeatureCollection",
		Features:       page.Features,
		NumberMatched:  page.NumberMatched,
		NumberReturned: len(page.Features),
		Links:          h.links(c, q, page.HasMore),
	}
	if fc.Features == nil {
		fc.Features = []json.RawMessage{}
	}

	metrics.FeatureQueriesTotal.WithLabelValues(strconv.Itoa(http.StatusOK)).Inc()
	c.Header("Content-Type", constants.ContentTypeGeoJSON)
	c.JSON(http.StatusOK, fc)
}

func (h *Handler) parseQuery(c *gin.Context) (storage.FeatureQuery, error) {
	q := storage.FeatureQuery{
		TopicPattern: strings.TrimSpace(c.Query("topic")),
		Limit:        h.cfg.DefaultLimit,
	}

	if raw := c.Query("datetime"); raw != "" {
		tr, err := models.ParseDatetime(raw)
		if err != nil {
			return q, errors.ErrValidation.WithCause(err).WithDetail("message", "invalid datetime")
		}
		q.TimeRange = tr
	}

	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			return q, errors.ErrValidation.WithDetail("message", "limit must be a positive integer")
		}
		if limit > h.cfg.MaxLimit {
			limit = h.cfg.MaxLimit
		}
		q.Limit = limit
	}

	if raw := c.Query("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			return q, errors.ErrValidation.WithDetail("message", "offset must be a non-negative integer")
		}
		q.Offset = offset
	}

	return q, nil
}

// links returns self and, when more results exist, next. next keeps every
// query parameter and advances offset by the page size.
func (h *Handler) links(c *gin.Context, q storage.FeatureQuery, hasMore bool) []models.Link {
	self := requestURL(c)
	links := []models.Link{{
		Href: self.String(),
		Rel:  constants.LinkRelSelf,
		Type: constants.ContentTypeGeoJSON,
	}}
	if !hasMore {
		return links
	}

	next := *self
	params := next.Query()
	params.Set("limit", strconv.Itoa(q.Limit))
	params.Set("offset", strconv.Itoa(q.Offset+q.Limit))
	next.RawQuery = params.Encode()
	return append(links, models.Link{
		Href:  next.String(),
		Rel:   constants.LinkRelNext,
		Type:  constants.ContentTypeGeoJSON,
		Title: "items (next)",
	})
}

func requestURL(c *gin.Context) *url.URL {
	scheme := "http"
	if c.Request.TLS != nil {
		scheme = "https"
	}
	if proto := c.GetHeader("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}
	return &url.URL{
		Scheme:   scheme,
		Host:     c.Request.Host,
		Path:     c.Request.URL.Path,
		RawQuery: c.Request.URL.RawQuery,
	}
}
