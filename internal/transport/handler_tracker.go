package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/pitabwire/aegis/internal/observability"
	"github.com/pitabwire/aegis/internal/tracker"
	"github.com/pitabwire/aegis/model"
)

// TrackerHandler serves the workflow instance tracker endpoints.
type TrackerHandler struct {
	tracker *tracker.Tracker
}

// NewTrackerHandler creates the tracker endpoints handler.
func NewTrackerHandler(t *tracker.Tracker) *TrackerHandler {
	return &TrackerHandler{tracker: t}
}

type startInstanceRequest struct {
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Start handles POST /api/workflows/{workflowKey}/start.
func (h *TrackerHandler) Start(w http.ResponseWriter, r *http.Request) {
	ctx, span := observability.StartSpan(r.Context(), "tracker.StartInstance")
	defer span.End()

	actor := model.MustActorContext(ctx)
	workflowKey := chi.URLParam(r, "workflowKey")

	var req startInstanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, r, model.NewBadRequestError("Request body is not valid JSON"))
		return
	}

	inst, err := h.tracker.StartInstance(ctx, actor, workflowKey, req.EntityType, req.EntityID, req.Metadata)
	if err != nil {
		observability.EndSpanWithError(span, err)
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusCreated, inst)
}

type advanceStepRequest struct {
	StepID      string `json:"step_id"`
	ActionTaken string `json:"action_taken,omitempty"`
	Notes       string `json:"notes,omitempty"`
}

// Advance handles POST /api/workflow-instances/{instanceId}/advance.
func (h *TrackerHandler) Advance(w http.ResponseWriter, r *http.Request) {
	ctx, span := observability.StartSpan(r.Context(), "tracker.AdvanceStep")
	defer span.End()

	actor := model.MustActorContext(ctx)
	instanceID := chi.URLParam(r, "instanceId")

	var req advanceStepRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, r, model.NewBadRequestError("Request body is not valid JSON"))
		return
	}

	inst, err := h.tracker.AdvanceStep(ctx, actor, instanceID, req.StepID, req.ActionTaken, req.Notes)
	if err != nil {
		observability.EndSpanWithError(span, err)
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, inst)
}

// Complete handles POST /api/workflow-instances/{instanceId}/complete.
func (h *TrackerHandler) Complete(w http.ResponseWriter, r *http.Request) {
	h.settle(w, r, h.tracker.CompleteInstance)
}

// Cancel handles POST /api/workflow-instances/{instanceId}/cancel.
func (h *TrackerHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.settle(w, r, h.tracker.CancelInstance)
}

// Pause handles POST /api/workflow-instances/{instanceId}/pause.
func (h *TrackerHandler) Pause(w http.ResponseWriter, r *http.Request) {
	h.settle(w, r, h.tracker.PauseInstance)
}

func (h *TrackerHandler) settle(
	w http.ResponseWriter,
	r *http.Request,
	op func(ctx context.Context, actor *model.ActorContext, instanceID string) (model.WorkflowInstance, error),
) {
	actor := model.MustActorContext(r.Context())
	instanceID := chi.URLParam(r, "instanceId")

	inst, err := op(r.Context(), actor, instanceID)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, inst)
}

// Get handles GET /api/workflow-instances/{instanceId}.
func (h *TrackerHandler) Get(w http.ResponseWriter, r *http.Request) {
	actor := model.MustActorContext(r.Context())
	instanceID := chi.URLParam(r, "instanceId")

	inst, err := h.tracker.GetInstance(r.Context(), actor, instanceID)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, inst)
}

// Steps handles GET /api/workflow-instances/{instanceId}/steps.
func (h *TrackerHandler) Steps(w http.ResponseWriter, r *http.Request) {
	actor := model.MustActorContext(r.Context())
	instanceID := chi.URLParam(r, "instanceId")

	steps, err := h.tracker.ListSteps(r.Context(), actor, instanceID)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	if steps == nil {
		steps = []model.WorkflowStepHistory{}
	}
	WriteJSON(w, http.StatusOK, map[string]any{"steps": steps})
}

// List handles GET /api/workflow-instances.
func (h *TrackerHandler) List(w http.ResponseWriter, r *http.Request) {
	actor := model.MustActorContext(r.Context())

	filters := tracker.ListFilters{
		WorkflowKey: r.URL.Query().Get("workflow_key"),
		Status:      model.InstanceStatus(r.URL.Query().Get("status")),
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filters.Limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filters.Offset = n
		}
	}

	instances, err := h.tracker.ListInstances(r.Context(), actor, filters)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	if instances == nil {
		instances = []model.WorkflowInstance{}
	}
	WriteJSON(w, http.StatusOK, map[string]any{"instances": instances})
}
