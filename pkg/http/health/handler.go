package health

import (
	"io"
	"net/http"

	coreHealth "github.com/Sokol111/ecommerce-eventbus/pkg/core/health"
	"github.com/bytedance/sonic"
)

type healthHandler struct {
	readiness coreHealth.ReadinessChecker
}

func newHealthHandler(r coreHealth.ReadinessChecker) *healthHandler {
	return &healthHandler{readiness: r}
}

// IsReady reports 200 once every component is ready and the node takes
// traffic, which happens after startup recovery.
func (h *healthHandler) IsReady(w http.ResponseWriter, r *http.Request) {
	status := h.readiness.GetStatus()
	ready := status.Ready && status.TrafficReady

	if r.URL.Query().Get("format") == "json" || r.Header.Get("Accept") == "application/json" {
		body, err := sonic.ConfigStd.Marshal(status)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(statusCode(ready))
		_, _ = w.Write(body)
		return
	}

	w.WriteHeader(statusCode(ready))
	if ready {
		_, _ = io.WriteString(w, "ready")
	} else {
		_, _ = io.WriteString(w, "not ready")
	}
}

func (h *healthHandler) IsLive(w http.ResponseWriter, _ *http.Request) {
	_, _ = io.WriteString(w, "alive")
}

func statusCode(ready bool) int {
	if ready {
		return http.StatusOK
	}
	return http.StatusServiceUnavailable
}
