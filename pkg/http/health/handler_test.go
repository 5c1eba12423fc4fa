package health

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	coreHealth "github.com/Sokol111/ecommerce-eventbus/pkg/core/health"
	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockReadinessChecker struct {
	status coreHealth.ReadinessStatus
}

func (m *mockReadinessChecker) IsReady() bool {
	return m.status.Ready
}

func (m *mockReadinessChecker) GetStatus() coreHealth.ReadinessStatus {
	return m.status
}

func TestHealthHandler_IsReady(t *testing.T) {
	tests := []struct {
		name     string
		status   coreHealth.ReadinessStatus
		wantCode int
		wantBody string
	}{
		{
			name:     "ready and taking traffic",
			status:   coreHealth.ReadinessStatus{Ready: true, TrafficReady: true},
			wantCode: http.StatusOK,
			wantBody: "ready",
		},
		{
			name:     "components ready, recovery still running",
			status:   coreHealth.ReadinessStatus{Ready: true},
			wantCode: http.StatusServiceUnavailable,
			wantBody: "not ready",
		},
		{
			name:     "components not ready",
			status:   coreHealth.ReadinessStatus{},
			wantCode: http.StatusServiceUnavailable,
			wantBody: "not ready",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := newHealthHandler(&mockReadinessChecker{status: tt.status})
			w := httptest.NewRecorder()

			handler.IsReady(w, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

			assert.Equal(t, tt.wantCode, w.Code)
			assert.Equal(t, tt.wantBody, w.Body.String())
		})
	}
}

func TestHealthHandler_IsReady_JSON(t *testing.T) {
	t.Run("format query param", func(t *testing.T) {
		now := time.Now().UTC()
		handler := newHealthHandler(&mockReadinessChecker{status: coreHealth.ReadinessStatus{
			Ready: false,
			Components: []coreHealth.ComponentStatus{
				{Name: "mongo", Ready: true, StartedAt: now, ReadyAt: now},
				{Name: "kafka", Ready: false, StartedAt: now},
			},
		}})
		w := httptest.NewRecorder()

		handler.IsReady(w, httptest.NewRequest(http.MethodGet, "/health/ready?format=json", nil))

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
		var status coreHealth.ReadinessStatus
		require.NoError(t, sonic.Unmarshal(w.Body.Bytes(), &status))
		assert.False(t, status.Ready)
		assert.Len(t, status.Components, 2)
	})

	t.Run("accept header", func(t *testing.T) {
		handler := newHealthHandler(&mockReadinessChecker{status: coreHealth.ReadinessStatus{Ready: true, TrafficReady: true}})
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodGet, "/health/ready", nil)
		r.Header.Set("Accept", "application/json")

		handler.IsReady(w, r)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	})
}

func TestHealthHandler_IsLive(t *testing.T) {
	// Liveness does not depend on readiness
	handler := newHealthHandler(&mockReadinessChecker{})
	w := httptest.NewRecorder()

	handler.IsLive(w, httptest.NewRequest(http.MethodGet, "/health/live", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "alive", w.Body.String())
}

func TestRegisterHealthRoutes(t *testing.T) {
	handler := newHealthHandler(&mockReadinessChecker{status: coreHealth.ReadinessStatus{Ready: true, TrafficReady: true}})
	mux := http.NewServeMux()

	registerHealthRoutes(mux, handler)

	t.Run("registers /health/ready endpoint", func(t *testing.T) {
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "ready", w.Body.String())
	})

	t.Run("registers /health/live endpoint", func(t *testing.T) {
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health/live", nil))

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "alive", w.Body.String())
	})

	t.Run("rejects other methods", func(t *testing.T) {
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/health/live", nil))

		assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	})
}
