package features

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"greplay/internal/config"
	"greplay/internal/logger"
	"greplay/internal/storage"
)

type fakeSearcher struct {
	total int
	err   error
	last  storage.FeatureQuery
}

func (s *fakeSearcher) Query(_ context.Context, q storage.FeatureQuery) (*storage.FeaturePage, error) {
	s.last = q
	if s.err != nil {
		return nil, s.err
	}
	page := &storage.FeaturePage{}
	for i := q.Offset; i < s.total && i < q.Offset+q.Limit; i++ {
		page.Features = append(page.Features, json.RawMessage(fmt.Sprintf(`{"id":"m%d"}`, i)))
	}
	page.HasMore = q.Offset+q.Limit < s.total
	return page, nil
}

func setup(s storage.Searcher) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	NewHandler(s, config.FeaturesConfig{
		Collection:   "wis2-notification-messages",
		DefaultLimit: 10,
		MaxLimit:     50,
	}, logger.NopLogger()).RegisterRoutes(router)
	return router
}

func get(router *gin.Engine, target string) (*httptest.ResponseRecorder, map[string]interface{}) {
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	var body map[string]interface{}
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	return rec, body
}

func linkHref(body map[string]interface{}, rel string) string {
	links, _ := body["links"].([]interface{})
	for _, l := range links {
		m := l.(map[string]interface{})
		if m["rel"] == rel {
			return m["href"].(string)
		}
	}
	return ""
}

func TestItems_Paginates(t *testing.T) {
	s := &fakeSearcher{total: 25}
	router := setup(s)

	rec, body := get(router, "/collections/wis2-notification-messages/items?topic=cache/a/wis2/*/data&limit=10")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "FeatureCollection", body["type"])
	assert.EqualValues(t, 10, body["numberReturned"])
	assert.Equal(t, "cache/a/wis2/*/data", s.last.TopicPattern)
	assert.NotEmpty(t, linkHref(body, "self"))

	next := linkHref(body, "next")
	require.NotEmpty(t, next)
	u, err := url.Parse(next)
	require.NoError(t, err)
	assert.Equal(t, "10", u.Query().Get("offset"))
	assert.Equal(t, "cache/a/wis2/*/data", u.Query().Get("topic"))

	rec, body = get(router, u.RequestURI())
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 10, s.last.Offset)

	u, _ = url.Parse(linkHref(body, "next"))
	_, body = get(router, u.RequestURI())
	assert.EqualValues(t, 5, body["numberReturned"])
	assert.Empty(t, linkHref(body, "next"))
}

func TestItems_QueryParameters(t *testing.T) {
	s := &fakeSearcher{total: 3}
	router := setup(s)

	rec, body := get(router, "/collections/wis2-notification-messages/items?datetime=2024-01-01T00:00:00Z/..")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 10, s.last.Limit)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), s.last.TimeRange.Start)
	assert.True(t, s.last.TimeRange.End.IsZero())
	assert.Len(t, body["features"], 3)

	_, _ = get(router, "/collections/wis2-notification-messages/items?limit=1000")
	assert.Equal(t, 50, s.last.Limit, "limit is capped")

	rec, body = get(router, "/collections/wis2-notification-messages/items?offset=100")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []interface{}{}, body["features"])
}

func TestItems_Errors(t *testing.T) {
	tests := []struct {
		name     string
		searcher *fakeSearcher
		target   string
		code     int
		errCode  string
	}{
		{"unknown collection", &fakeSearcher{}, "/collections/other/items", http.StatusNotFound, "NOT_FOUND"},
		{"bad datetime", &fakeSearcher{}, "/collections/wis2-notification-messages/items?datetime=soon", http.StatusBadRequest, "VALIDATION_ERROR"},
		{"bad limit", &fakeSearcher{}, "/collections/wis2-notification-messages/items?limit=-1", http.StatusBadRequest, "VALIDATION_ERROR"},
		{"bad offset", &fakeSearcher{}, "/collections/wis2-notification-messages/items?offset=x", http.StatusBadRequest, "VALIDATION_ERROR"},
		{"backend down", &fakeSearcher{err: fmt.Errorf("connection refused")}, "/collections/wis2-notification-messages/items", http.StatusServiceUnavailable, "BACKEND_UNAVAILABLE"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, body := get(setup(tt.searcher), tt.target)
			assert.Equal(t, tt.code, rec.Code)
			assert.Equal(t, tt.errCode, body["error_code"])
		})
	}
}
