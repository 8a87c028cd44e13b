package handler

import (
	"net/http"
	"time"
)

// EngineStatus is the slice of runtime state the status endpoint reports.
// The position manager satisfies it.
type EngineStatus interface {
	OpenCount() int
	TotalExposure() float64
	FatalExits() int
}

// StatusHandler serves the runtime snapshot for dashboards.
type StatusHandler struct {
	mode      string
	engine    EngineStatus
	startedAt time.Time
}

// NewStatusHandler creates a StatusHandler.
func NewStatusHandler(mode string, engine EngineStatus, startedAt time.Time) *StatusHandler {
	return &StatusHandler{mode: mode, engine: engine, startedAt: startedAt}
}

// GetStatus reports the running mode, uptime, and current exposure.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"mode":           h.mode,
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
	}
	if h.engine != nil {
		resp["open_positions"] = h.engine.OpenCount()
		resp["total_exposure"] = h.engine.TotalExposure()
		fatal := h.engine.FatalExits()
		resp["fatal_exits"] = fatal
		if fatal > 0 {
			resp["health"] = "degraded"
		} else {
			resp["health"] = "ok"
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
