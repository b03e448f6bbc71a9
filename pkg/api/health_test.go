package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/burrow/pkg/metrics"
)

func passing(name string) Check {
	return Check{Name: name, Fn: func(context.Context) error { return nil }}
}

func failing(name string) Check {
	return Check{Name: name, Fn: func(context.Context) error { return errors.New("connection refused") }}
}

// withoutCriticalComponents makes readiness depend on the checks alone
func withoutCriticalComponents(t *testing.T) {
	t.Helper()
	metrics.SetCriticalComponents()
	t.Cleanup(func() { metrics.SetCriticalComponents("source", "orchestrator", "store") })
}

func TestHealthHandler(t *testing.T) {
	hs := NewHealthServer("v1.2.3")

	tests := []struct {
		name           string
		method         string
		expectedStatus int
	}{
		{name: "GET request succeeds", method: http.MethodGet, expectedStatus: http.StatusOK},
		{name: "POST request fails", method: http.MethodPost, expectedStatus: http.StatusMethodNotAllowed},
		{name: "DELETE request fails", method: http.MethodDelete, expectedStatus: http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/health", nil)
			w := httptest.NewRecorder()

			hs.healthHandler(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)
			if tt.expectedStatus == http.StatusOK {
				var response HealthResponse
				require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
				assert.Equal(t, "healthy", response.Status)
				assert.Equal(t, "v1.2.3", response.Version)
				assert.False(t, response.Timestamp.IsZero())
			}
		})
	}
}

func TestReadyHandler(t *testing.T) {
	withoutCriticalComponents(t)

	tests := []struct {
		name           string
		checks         []Check
		expectedStatus int
		expectedChecks map[string]string
	}{
		{
			name:           "all checks pass",
			checks:         []Check{passing("store"), passing("orchestrator")},
			expectedStatus: http.StatusOK,
			expectedChecks: map[string]string{"store": "ok", "orchestrator": "ok"},
		},
		{
			name:           "one check fails",
			checks:         []Check{passing("store"), failing("orchestrator")},
			expectedStatus: http.StatusServiceUnavailable,
			expectedChecks: map[string]string{"store": "ok", "orchestrator": "error: connection refused"},
		},
		{
			name:           "no checks",
			expectedStatus: http.StatusOK,
			expectedChecks: map[string]string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hs := NewHealthServer("dev", tt.checks...)
			req := httptest.NewRequest(http.MethodGet, "/ready", nil)
			w := httptest.NewRecorder()

			hs.readyHandler(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

			var response ReadyResponse
			require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
			assert.Equal(t, tt.expectedChecks, response.Checks)
			if tt.expectedStatus != http.StatusOK {
				assert.Equal(t, "not ready", response.Status)
				assert.Equal(t, "orchestrator not accessible", response.Message)
			}
		})
	}
}

func TestReadyHandlerWaitsForComponents(t *testing.T) {
	metrics.SetCriticalComponents("api-test-source")
	t.Cleanup(func() { metrics.SetCriticalComponents("source", "orchestrator", "store") })

	hs := NewHealthServer("dev", passing("store"))
	get := func() (*httptest.ResponseRecorder, ReadyResponse) {
		w := httptest.NewRecorder()
		hs.readyHandler(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
		var response ReadyResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
		return w, response
	}

	w, response := get()
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "not registered", response.Checks["api-test-source"])

	metrics.RegisterComponent("api-test-source", true, "connected")
	w, response = get()
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ready", response.Checks["api-test-source"])
	assert.Equal(t, "ok", response.Checks["store"])
}

func TestHealthServerRoutes(t *testing.T) {
	withoutCriticalComponents(t)
	hs := NewHealthServer("dev", failing("store"))

	tests := []struct {
		path           string
		expectedStatus int
	}{
		{path: "/health", expectedStatus: http.StatusOK},
		{path: "/ready", expectedStatus: http.StatusServiceUnavailable},
		{path: "/metrics", expectedStatus: http.StatusOK},
		{path: "/nonexistent", expectedStatus: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			w := httptest.NewRecorder()
			hs.GetHandler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, tt.path, nil))
			assert.Equal(t, tt.expectedStatus, w.Code, "Path: %s", tt.path)
		})
	}
}

func TestHealthServerShutdownBeforeStart(t *testing.T) {
	hs := NewHealthServer("dev")
	assert.NoError(t, hs.Shutdown(context.Background()))
}
