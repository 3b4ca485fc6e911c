package transport

import (
	"net/http"
	"strconv"

	"github.com/pitabwire/aegis/internal/pending"
	"github.com/pitabwire/aegis/model"
)

// PendingHandler serves the unified pending-approvals feed endpoints.
type PendingHandler struct {
	aggregator     *pending.Aggregator
	defaultMinDays int
}

// NewPendingHandler creates the pending-approvals endpoints handler.
func NewPendingHandler(aggregator *pending.Aggregator, defaultMinDays int) *PendingHandler {
	return &PendingHandler{aggregator: aggregator, defaultMinDays: defaultMinDays}
}

// Feed handles GET /api/approvals/pending.
func (h *PendingHandler) Feed(w http.ResponseWriter, r *http.Request) {
	actor := model.MustActorContext(r.Context())

	minDays := h.defaultMinDays
	if v := r.URL.Query().Get("minDays"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			WriteValidationError(w, r, []model.FieldError{{
				Field: "minDays", Code: "invalid",
				Message: "minDays must be a non-negative integer",
			}})
			return
		}
		minDays = n
	}

	approvals, err := h.aggregator.Aggregate(r.Context(), actor, minDays)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"approvals": approvals,
		"total":     len(approvals),
	})
}

// Counts handles GET /api/approvals/pending/counts.
func (h *PendingHandler) Counts(w http.ResponseWriter, r *http.Request) {
	actor := model.MustActorContext(r.Context())

	approvals, err := h.aggregator.Aggregate(r.Context(), actor, 0)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"counts": pending.CountsByCategory(approvals),
		"total":  len(approvals),
	})
}
