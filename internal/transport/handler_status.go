package transport

import (
	"net/http"

	"github.com/pitabwire/aegis/internal/livestatus"
	"github.com/pitabwire/aegis/model"
)

// StatusHandler serves the live-status and bottleneck rollup endpoints.
type StatusHandler struct {
	service *livestatus.Service
}

// NewStatusHandler creates the live-status endpoints handler.
func NewStatusHandler(service *livestatus.Service) *StatusHandler {
	return &StatusHandler{service: service}
}

// LiveStatuses handles GET /api/workflows/status.
func (h *StatusHandler) LiveStatuses(w http.ResponseWriter, r *http.Request) {
	actor := model.MustActorContext(r.Context())

	statuses, err := h.service.LiveStatuses(r.Context(), actor)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	if statuses == nil {
		statuses = []model.WorkflowLiveStatus{}
	}
	WriteJSON(w, http.StatusOK, map[string]any{"statuses": statuses})
}

// Metrics handles GET /api/workflows/metrics.
func (h *StatusHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	actor := model.MustActorContext(r.Context())

	metrics, err := h.service.Metrics(r.Context(), actor)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, metrics)
}
