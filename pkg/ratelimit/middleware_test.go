package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"greplay/internal/config"
)

func TestIPLimiter_LimitsBurst(t *testing.T) {
	gin.SetMode(gin.TestMode)
	limiter := NewIPLimiter(RateLimitConfig{RPS: 0.001, Burst: 2, CleanupInterval: time.Minute, MaxAge: time.Minute})

	router := gin.New()
	router.Use(limiter.Middleware())
	router.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		router.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.2:1234"
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestIPLimiter_EvictIdle(t *testing.T) {
	limiter := NewIPLimiter(RateLimitConfig{RPS: 1, Burst: 1, CleanupInterval: time.Minute, MaxAge: time.Minute})
	limiter.get("10.0.0.1")

	limiter.evictIdle(time.Now())
	assert.Len(t, limiter.limiters, 1)

	limiter.evictIdle(time.Now().Add(2 * time.Minute))
	assert.Empty(t, limiter.limiters)
}

func TestFromSettings(t *testing.T) {
	c := FromSettings(config.RateLimitConfig{RPS: 5, CleanupInterval: 30})
	assert.Equal(t, 5.0, c.RPS)
	assert.Equal(t, 20, c.Burst)
	assert.Equal(t, 30*time.Second, c.CleanupInterval)
}
