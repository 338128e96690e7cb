package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) PingContext(ctx context.Context) error { return f(ctx) }

func TestHealthCheck(t *testing.T) {
	cases := []struct {
		name   string
		db     Pinger
		status int
		body   string
	}{
		{"no database", nil, http.StatusOK, `{"status":"ok","database":"not_configured"}`},
		{"database up", pingerFunc(func(context.Context) error { return nil }), http.StatusOK, `{"status":"ok","database":"up"}`},
		{"database down", pingerFunc(func(context.Context) error { return errors.New("refused") }), http.StatusServiceUnavailable, `{"status":"degraded","database":"down"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			NewHealthHandler(tc.db).HealthCheck(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

			assert.Equal(t, tc.status, rr.Code)
			assert.JSONEq(t, tc.body, rr.Body.String())
		})
	}
}
