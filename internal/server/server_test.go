package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		checks     map[string]error
		wantStatus int
		wantBody   string
	}{
		{"no dependencies", nil, http.StatusOK, "healthy"},
		{"all reachable", map[string]error{"postgres": nil, "redis": nil}, http.StatusOK, "healthy"},
		{"one down", map[string]error{"postgres": nil, "redis": errors.New("refused")}, http.StatusServiceUnavailable, "unhealthy"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var opts []Option
			for name, err := range tc.checks {
				opts = append(opts, WithHealthCheck(name, PingFunc(func(context.Context) error { return err })))
			}
			s := New(":0", "test", opts...)

			resp := httptest.NewRecorder()
			s.Engine.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/health", nil))
			require.Equal(t, tc.wantStatus, resp.Code)

			var body struct {
				Status       string            `json:"status"`
				Dependencies map[string]string `json:"dependencies"`
			}
			require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
			require.Equal(t, tc.wantBody, body.Status)
			require.Len(t, body.Dependencies, len(tc.checks))
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "eventcore_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()

	s := New(":0", "test", WithMetrics(reg))

	resp := httptest.NewRecorder()
	s.Engine.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, resp.Code)
	require.True(t, strings.Contains(resp.Body.String(), "eventcore_test_total 1"))
}

func TestRunStopsOnCancel(t *testing.T) {
	s := New("127.0.0.1:0", "test")
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	cancel()

	require.NoError(t, <-done)
}
