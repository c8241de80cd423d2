package app

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"promoflow/internal/config"
	"promoflow/internal/shared/testutil"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Server.Port = 0
	cfg.Server.ShutdownTimeout = 2 * time.Second
	cfg.Warehouse.DSN = "file:" + filepath.Join(t.TempDir(), "warehouse.db")
	cfg.Telemetry.MetricExporter = "prometheus"
	cfg.Security.RateLimit.Enabled = false
	return cfg
}

func newTestApp(t *testing.T) *Application {
	t.Helper()
	logger, _ := testutil.NewTestLogger(t)
	a, err := New(testConfig(t), logger)
	require.NoError(t, err)
	return a
}

func TestNew_InvalidSchema(t *testing.T) {
	logger, _ := testutil.NewTestLogger(t)
	cfg := testConfig(t)
	cfg.Workflow.Schema = "nope"

	_, err := New(cfg, logger)
	assert.Error(t, err)
}

func TestRouter(t *testing.T) {
	a := newTestApp(t)
	t.Cleanup(func() {
		a.WebSocketHub.Stop()
		_ = a.Warehouse.Close()
	})

	tests := []struct {
		name       string
		method     string
		path       string
		wantStatus int
		contains   string
	}{
		{"health", http.MethodGet, "/health", http.StatusOK, `"ready"`},
		{"liveness", http.MethodGet, "/health/live", http.StatusOK, `"alive"`},
		{"version", http.MethodGet, "/version", http.StatusOK, `"promoflow"`},
		{"options", http.MethodGet, "/api/options", http.StatusOK, `"markets"`},
		{"create session", http.MethodPost, "/api/sessions", http.StatusCreated, `"session_id"`},
		{"ws without session", http.MethodGet, "/ws", http.StatusBadRequest, `"status":400`},
		{"unknown route", http.MethodGet, "/nope", http.StatusNotFound, `/errors/not-found`},
		{"wrong method", http.MethodPatch, "/api/options", http.StatusMethodNotAllowed, `PATCH`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			a.Router.ServeHTTP(w, httptest.NewRequest(tt.method, tt.path, nil))
			assert.Equal(t, tt.wantStatus, w.Code, w.Body.String())
			assert.Contains(t, w.Body.String(), tt.contains)
			assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
		})
	}
}

func TestRouter_MetricsAfterTraffic(t *testing.T) {
	a := newTestApp(t)
	t.Cleanup(func() {
		a.WebSocketHub.Stop()
		_ = a.Warehouse.Close()
	})

	w := httptest.NewRecorder()
	a.Router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/sessions", nil))
	require.Equal(t, http.StatusCreated, w.Code)

	w = httptest.NewRecorder()
	a.Router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "promoflow_active_sessions")
	assert.Contains(t, w.Body.String(), "http_requests_total")
}

func TestStartStop(t *testing.T) {
	a := newTestApp(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, a.Start(ctx, cancel))

	resp, err := http.Get(fmt.Sprintf("http://%s/health/live", a.Addr()))
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "alive")

	require.NoError(t, a.Stop(context.Background()))

	_, err = a.WorkflowService.CreateSession(context.Background())
	assert.Error(t, err)
}
