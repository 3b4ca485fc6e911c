package integration

import (
	"net/http"
	"testing"

	"github.com/pitabwire/aegis/model"
)

func TestHarness_Startup(t *testing.T) {
	h := NewTestHarness(t)

	resp := h.GET("/health", "")
	h.AssertStatus(t, resp, http.StatusOK)
}

func TestHarness_AuthenticationRequired(t *testing.T) {
	h := NewTestHarness(t)

	t.Run("no token returns 401", func(t *testing.T) {
		resp := h.GET("/api/workflows/status", "")
		h.AssertStatus(t, resp, http.StatusUnauthorized)
	})

	t.Run("expired token returns 401", func(t *testing.T) {
		token := h.GenerateExpiredToken(ExpertClaims())
		resp := h.GET("/api/workflows/status", token)
		h.AssertStatus(t, resp, http.StatusUnauthorized)
	})

	t.Run("invalid token returns 401", func(t *testing.T) {
		resp := h.GET("/api/workflows/status", "invalid-token")
		h.AssertStatus(t, resp, http.StatusUnauthorized)
	})
}

func TestApprovalFlow_reject(t *testing.T) {
	h := NewTestHarness(t)
	h.SeedObservation("obs-1", "acme-corp", 2, 0)
	token := h.GenerateToken(ExpertClaims())

	resp := h.POST("/api/incidents/obs-1/validate",
		map[string]any{"decision": "reject", "notes": "photos missing"}, token)

	var result map[string]any
	h.AssertJSON(t, resp, http.StatusOK, &result)
	if result["new_status"] != string(model.StatusPendingDeptRepApproval) {
		t.Errorf("new_status = %v, want %s", result["new_status"], model.StatusPendingDeptRepApproval)
	}

	var trail struct {
		Entries []model.AuditLogEntry `json:"entries"`
	}
	h.AssertJSON(t, h.GET("/api/incidents/obs-1/audit", token), http.StatusOK, &trail)
	if len(trail.Entries) != 1 {
		t.Fatalf("audit entries = %d, want 1", len(trail.Entries))
	}
	if trail.Entries[0].Action != model.AuditActionValidated {
		t.Errorf("audit action = %q, want %s", trail.Entries[0].Action, model.AuditActionValidated)
	}
	if trail.Entries[0].ActorID != "user-expert" {
		t.Errorf("audit actor = %q, want user-expert", trail.Entries[0].ActorID)
	}
}

func TestApprovalFlow_acceptParksOnPendingActionsThenCloses(t *testing.T) {
	h := NewTestHarness(t)
	h.SeedObservation("obs-2", "acme-corp", 3, 2)
	token := h.GenerateToken(ExpertClaims())

	// Two corrective actions still open: accepting parks the record.
	var result map[string]any
	h.AssertJSON(t, h.POST("/api/incidents/obs-2/validate",
		map[string]any{"decision": "accept"}, token), http.StatusOK, &result)
	if result["new_status"] != string(model.StatusActionsPending) {
		t.Fatalf("new_status = %v, want %s", result["new_status"], model.StatusActionsPending)
	}

	// Actions complete; re-validation closes the record.
	h.Incidents.SetPendingActions("obs-2", 0)
	h.AssertJSON(t, h.POST("/api/incidents/obs-2/validate",
		map[string]any{"decision": "accept"}, token), http.StatusOK, &result)
	if result["new_status"] != string(model.StatusClosed) {
		t.Fatalf("new_status = %v, want %s", result["new_status"], model.StatusClosed)
	}

	var trail struct {
		Entries []model.AuditLogEntry `json:"entries"`
	}
	h.AssertJSON(t, h.GET("/api/incidents/obs-2/audit", token), http.StatusOK, &trail)
	if len(trail.Entries) != 2 {
		t.Errorf("audit entries = %d, want 2", len(trail.Entries))
	}
}

func TestApprovalFlow_severity5EscalatesToManager(t *testing.T) {
	h := NewTestHarness(t)
	h.SeedObservation("obs-5", "acme-corp", 5, 0)
	expertToken := h.GenerateToken(ExpertClaims())

	var result map[string]any
	h.AssertJSON(t, h.POST("/api/incidents/obs-5/validate",
		map[string]any{"decision": "accept"}, expertToken), http.StatusOK, &result)
	if result["new_status"] != string(model.StatusPendingFinalClosure) {
		t.Fatalf("new_status = %v, want %s", result["new_status"], model.StatusPendingFinalClosure)
	}

	// An expert cannot perform final closure; the record reads as absent.
	resp := h.POST("/api/incidents/obs-5/close",
		map[string]any{"justification": "done"}, expertToken)
	h.AssertStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()

	managerToken := h.GenerateToken(ManagerClaims())
	h.AssertJSON(t, h.POST("/api/incidents/obs-5/close",
		map[string]any{"justification": "all corrective actions verified"}, managerToken),
		http.StatusOK, &result)
	if result["new_status"] != string(model.StatusClosed) {
		t.Fatalf("new_status = %v, want %s", result["new_status"], model.StatusClosed)
	}

	var trail struct {
		Entries []model.AuditLogEntry `json:"entries"`
	}
	h.AssertJSON(t, h.GET("/api/incidents/obs-5/audit", managerToken), http.StatusOK, &trail)
	if len(trail.Entries) != 2 {
		t.Fatalf("audit entries = %d, want 2", len(trail.Entries))
	}
	if trail.Entries[0].Action != model.AuditActionValidated ||
		trail.Entries[1].Action != model.AuditActionFinalClosure {
		t.Errorf("audit actions = [%s %s], want [%s %s]",
			trail.Entries[0].Action, trail.Entries[1].Action,
			model.AuditActionValidated, model.AuditActionFinalClosure)
	}
}

func TestApprovalFlow_tenantIsolation(t *testing.T) {
	h := NewTestHarness(t)
	h.SeedObservation("obs-1", "acme-corp", 2, 0)
	token := h.GenerateToken(OtherTenantClaims())

	resp := h.POST("/api/incidents/obs-1/validate",
		map[string]any{"decision": "accept"}, token)
	h.AssertStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()
}

func TestApprovalFlow_roleWithoutValidationRights(t *testing.T) {
	h := NewTestHarness(t)
	h.SeedObservation("obs-1", "acme-corp", 2, 0)
	token := h.GenerateToken(ViewerClaims())

	resp := h.POST("/api/incidents/obs-1/validate",
		map[string]any{"decision": "accept"}, token)
	h.AssertStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()
}

func TestApprovalFlow_doubleDecisionConflicts(t *testing.T) {
	h := NewTestHarness(t)
	h.SeedObservation("obs-1", "acme-corp", 2, 0)
	token := h.GenerateToken(ExpertClaims())

	resp := h.POST("/api/incidents/obs-1/validate",
		map[string]any{"decision": "reject"}, token)
	h.AssertStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	// The record left pending_hsse_validation; a second decision is invalid.
	resp = h.POST("/api/incidents/obs-1/validate",
		map[string]any{"decision": "accept"}, token)
	h.AssertStatus(t, resp, http.StatusUnprocessableEntity)
	resp.Body.Close()
}
