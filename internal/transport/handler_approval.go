package transport

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pitabwire/aegis/internal/approval"
	"github.com/pitabwire/aegis/internal/audit"
	"github.com/pitabwire/aegis/internal/observability"
	"github.com/pitabwire/aegis/model"
)

// ApprovalHandler serves the incident approval state-machine endpoints.
type ApprovalHandler struct {
	machine *approval.Machine
	audit   audit.Writer
}

// NewApprovalHandler creates the approval endpoints handler.
func NewApprovalHandler(machine *approval.Machine, auditLog audit.Writer) *ApprovalHandler {
	return &ApprovalHandler{machine: machine, audit: auditLog}
}

type validateRequest struct {
	Decision string `json:"decision"`
	Notes    string `json:"notes,omitempty"`
}

// Validate handles POST /api/incidents/{incidentId}/validate.
func (h *ApprovalHandler) Validate(w http.ResponseWriter, r *http.Request) {
	ctx, span := observability.StartSpan(r.Context(), "approval.Validate")
	defer span.End()

	actor := model.MustActorContext(ctx)
	incidentID := chi.URLParam(r, "incidentId")

	var req validateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, r, model.NewBadRequestError("Request body is not valid JSON"))
		return
	}
	decision, err := model.ParseValidationDecision(req.Decision)
	if err != nil {
		WriteValidationError(w, r, []model.FieldError{{
			Field: "decision", Code: "invalid", Message: err.Error(),
		}})
		return
	}

	result, err := h.machine.Validate(ctx, actor, incidentID, decision, req.Notes)
	if err != nil {
		observability.EndSpanWithError(span, err)
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, result)
}

type closeRequest struct {
	Justification string `json:"justification"`
}

// Close handles POST /api/incidents/{incidentId}/close.
func (h *ApprovalHandler) Close(w http.ResponseWriter, r *http.Request) {
	ctx, span := observability.StartSpan(r.Context(), "approval.ManagerFinalClosure")
	defer span.End()

	actor := model.MustActorContext(ctx)
	incidentID := chi.URLParam(r, "incidentId")

	var req closeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, r, model.NewBadRequestError("Request body is not valid JSON"))
		return
	}
	if req.Justification == "" {
		WriteValidationError(w, r, []model.FieldError{{
			Field: "justification", Code: "required", Message: "justification is required",
		}})
		return
	}

	result, err := h.machine.ManagerFinalClosure(ctx, actor, incidentID, req.Justification)
	if err != nil {
		observability.EndSpanWithError(span, err)
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, result)
}

// AuditTrail handles GET /api/incidents/{incidentId}/audit.
func (h *ApprovalHandler) AuditTrail(w http.ResponseWriter, r *http.Request) {
	actor := model.MustActorContext(r.Context())
	incidentID := chi.URLParam(r, "incidentId")

	entries, err := h.audit.List(r.Context(), actor.TenantID, incidentID)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	if entries == nil {
		entries = []model.AuditLogEntry{}
	}
	WriteJSON(w, http.StatusOK, map[string]any{"entries": entries})
}
