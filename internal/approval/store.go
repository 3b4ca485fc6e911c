package approval

import (
	"context"

	"github.com/pitabwire/aegis/model"
)

// IncidentStore persists incidents for the approval state machine.
type IncidentStore interface {
	// Get retrieves an incident by ID, scoped to a tenant. Returns NOT_FOUND
	// if the incident doesn't exist, is soft-deleted, or belongs to a
	// different tenant.
	Get(ctx context.Context, tenantID, incidentID string) (model.Incident, error)

	// UpdateStatus persists the incident's status and validation fields. The
	// write is conditional on the stored status still being expectedStatus;
	// a concurrent transition surfaces as CONFLICT and nothing is written.
	UpdateStatus(ctx context.Context, incident model.Incident, expectedStatus model.IncidentStatus) error
}

// ActionCounter counts pending corrective actions for an incident. An action
// is pending when it is neither completed, verified, nor cancelled, and not
// soft-deleted.
type ActionCounter interface {
	CountPending(ctx context.Context, tenantID, incidentID string) (int, error)
}
