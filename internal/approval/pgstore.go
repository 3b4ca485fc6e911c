package approval

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pitabwire/aegis/model"
)

// PgIncidentStore is a PostgreSQL-backed IncidentStore using pgx/v5. It also
// implements ActionCounter against the corrective_actions table.
type PgIncidentStore struct {
	pool *pgxpool.Pool
}

// NewPgIncidentStore creates a new PostgreSQL incident store.
func NewPgIncidentStore(pool *pgxpool.Pool) *PgIncidentStore {
	return &PgIncidentStore{pool: pool}
}

// Get retrieves an incident by ID, scoped to tenant. Soft-deleted rows are
// invisible.
func (s *PgIncidentStore) Get(ctx context.Context, tenantID, incidentID string) (model.Incident, error) {
	var inc model.Incident

	err := s.pool.QueryRow(ctx, `
		SELECT id, tenant_id, event_type, title, severity, status,
		       closure_requires_manager,
		       hsse_validation_status, hsse_validated_by, hsse_validated_at, hsse_validation_notes,
		       hsse_manager_decision, hsse_manager_decision_by, hsse_manager_justification,
		       department_id, created_at, updated_at, deleted_at
		FROM incidents
		WHERE id = $1 AND tenant_id = $2 AND deleted_at IS NULL`,
		incidentID, tenantID,
	).Scan(
		&inc.ID, &inc.TenantID, &inc.EventType, &inc.Title, &inc.Severity, &inc.Status,
		&inc.ClosureRequiresManager,
		&inc.HSSEValidationStatus, &inc.HSSEValidatedBy, &inc.HSSEValidatedAt, &inc.HSSEValidationNotes,
		&inc.HSSEManagerDecision, &inc.HSSEManagerDecisionBy, &inc.HSSEManagerJustification,
		&inc.DepartmentID, &inc.CreatedAt, &inc.UpdatedAt, &inc.DeletedAt,
	)
	if err == pgx.ErrNoRows {
		return model.Incident{}, model.NewNotFoundError(
			fmt.Sprintf("incident %q not found", incidentID),
		)
	}
	if err != nil {
		return model.Incident{}, fmt.Errorf("query incident: %w", err)
	}

	return inc, nil
}

// UpdateStatus persists the status and validation fields of an incident. The
// write is conditional on the stored status still being expectedStatus; zero
// rows affected means a concurrent transition won and surfaces as CONFLICT.
func (s *PgIncidentStore) UpdateStatus(ctx context.Context, inc model.Incident, expectedStatus model.IncidentStatus) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE incidents SET
			status = $1,
			closure_requires_manager = $2,
			hsse_validation_status = $3,
			hsse_validated_by = $4,
			hsse_validated_at = $5,
			hsse_validation_notes = $6,
			hsse_manager_decision = $7,
			hsse_manager_decision_by = $8,
			hsse_manager_justification = $9,
			updated_at = $10
		WHERE id = $11 AND tenant_id = $12 AND status = $13 AND deleted_at IS NULL`,
		inc.Status, inc.ClosureRequiresManager,
		inc.HSSEValidationStatus, inc.HSSEValidatedBy, inc.HSSEValidatedAt, inc.HSSEValidationNotes,
		inc.HSSEManagerDecision, inc.HSSEManagerDecisionBy, inc.HSSEManagerJustification,
		inc.UpdatedAt,
		inc.ID, inc.TenantID, expectedStatus,
	)
	if err != nil {
		return fmt.Errorf("update incident status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NewConflictError(
			fmt.Sprintf("incident %q left status %s before the update committed", inc.ID, expectedStatus),
		)
	}
	return nil
}

// CountPending counts corrective actions for an incident that are neither
// completed, verified, nor cancelled.
func (s *PgIncidentStore) CountPending(ctx context.Context, tenantID, incidentID string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM corrective_actions
		WHERE incident_id = $1 AND tenant_id = $2
		  AND status NOT IN ('completed', 'verified', 'cancelled')
		  AND deleted_at IS NULL`,
		incidentID, tenantID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count pending corrective actions: %w", err)
	}
	return count, nil
}

// HealthCheck verifies store connectivity for readiness checks.
func (s *PgIncidentStore) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
