package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

type stubChecker struct {
	name string
	err  error
}

func (s stubChecker) Name() string                  { return s.name }
func (s stubChecker) Check(_ context.Context) error { return s.err }

type stubState bool

func (s stubState) IsConnected() bool { return bool(s) }

func TestCheckerRegistry(t *testing.T) {
	tests := []struct {
		name     string
		checkers []Checker
		want     Status
		code     int
	}{
		{"all healthy", []Checker{stubChecker{name: "a"}, NewBrokerChecker("mqtt", stubState(true))}, StatusHealthy, http.StatusOK},
		{"broker down degrades", []Checker{stubChecker{name: "a"}, NewBrokerChecker("mqtt", stubState(false))}, StatusDegraded, http.StatusOK},
		{"hard failure", []Checker{stubChecker{name: "a", err: errors.New("down")}, NewBrokerChecker("mqtt", stubState(false))}, StatusUnhealthy, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewCheckerRegistry()
			for _, c := range tt.checkers {
				r.Register(c)
			}

			h := r.Check(context.Background())
			assert.Equal(t, tt.want, h.Status)
			assert.Len(t, h.Checks, len(tt.checkers))
			assert.Equal(t, tt.code, h.HTTPStatus())

			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
			assert.Equal(t, tt.code, rec.Code)
			assert.Contains(t, rec.Body.String(), string(tt.want))
		})
	}
}
