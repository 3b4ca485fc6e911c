package model

import "time"

// AuditLogEntry is one append-only record of a successful approval-workflow
// transition. Entries are never updated or deleted; compliance reporting
// consumes them downstream.
type AuditLogEntry struct {
	ID         string         `json:"id"`
	IncidentID string         `json:"incident_id"`
	TenantID   string         `json:"tenant_id"`
	ActorID    string         `json:"actor_id"`
	Action     string         `json:"action"`
	Details    map[string]any `json:"details,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Audit actions recorded by the approval state machine.
const (
	AuditActionValidated    = "hsse_validation"
	AuditActionFinalClosure = "manager_final_closure"
)
