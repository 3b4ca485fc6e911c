package tracker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pitabwire/aegis/model"
)

// PgInstanceStore is a PostgreSQL-backed InstanceStore using pgx/v5.
type PgInstanceStore struct {
	pool *pgxpool.Pool
}

// NewPgInstanceStore creates a new PostgreSQL instance store.
func NewPgInstanceStore(pool *pgxpool.Pool) *PgInstanceStore {
	return &PgInstanceStore{pool: pool}
}

// CreateInstance inserts a new workflow instance.
func (s *PgInstanceStore) CreateInstance(ctx context.Context, inst model.WorkflowInstance) error {
	metadataJSON, err := json.Marshal(inst.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO workflow_instances (
			id, tenant_id, workflow_id, workflow_key, entity_type, entity_id,
			current_step_id, status, started_at, completed_at, started_by,
			participants, metadata, version, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11,
			$12, $13, $14, $15
		)`,
		inst.ID, inst.TenantID, inst.WorkflowID, inst.WorkflowKey, inst.EntityType, inst.EntityID,
		inst.CurrentStepID, inst.Status, inst.StartedAt, inst.CompletedAt, inst.StartedBy,
		inst.Participants, metadataJSON, inst.Version, inst.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert workflow instance: %w", err)
	}
	return nil
}

// GetInstance retrieves a workflow instance by ID, scoped to tenant.
func (s *PgInstanceStore) GetInstance(ctx context.Context, tenantID, instanceID string) (model.WorkflowInstance, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, tenant_id, workflow_id, workflow_key, entity_type, entity_id,
		       current_step_id, status, started_at, completed_at, started_by,
		       participants, metadata, version, updated_at
		FROM workflow_instances
		WHERE id = $1 AND tenant_id = $2`,
		instanceID, tenantID,
	)

	inst, err := scanInstance(row)
	if err == pgx.ErrNoRows {
		return model.WorkflowInstance{}, model.NewNotFoundError(
			fmt.Sprintf("workflow instance %q not found", instanceID),
		)
	}
	if err != nil {
		return model.WorkflowInstance{}, fmt.Errorf("query workflow instance: %w", err)
	}
	return inst, nil
}

// UpdateInstance replaces the full instance row with optimistic locking on
// the version column.
func (s *PgInstanceStore) UpdateInstance(ctx context.Context, inst model.WorkflowInstance) error {
	metadataJSON, err := json.Marshal(inst.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE workflow_instances SET
			current_step_id = $1,
			status = $2,
			completed_at = $3,
			participants = $4,
			metadata = $5,
			version = $6,
			updated_at = $7
		WHERE id = $8 AND tenant_id = $9 AND version = $10`,
		inst.CurrentStepID, inst.Status, inst.CompletedAt,
		inst.Participants, metadataJSON,
		inst.Version+1, inst.UpdatedAt,
		inst.ID, inst.TenantID, inst.Version,
	)
	if err != nil {
		return fmt.Errorf("update workflow instance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NewConflictError(
			fmt.Sprintf("workflow instance %q version conflict (expected %d)", inst.ID, inst.Version),
		)
	}
	return nil
}

// ListInstances returns a tenant's instances, most recently started first.
func (s *PgInstanceStore) ListInstances(ctx context.Context, tenantID string, filters ListFilters) ([]model.WorkflowInstance, error) {
	query := `SELECT id, tenant_id, workflow_id, workflow_key, entity_type, entity_id,
	                 current_step_id, status, started_at, completed_at, started_by,
	                 participants, metadata, version, updated_at
	          FROM workflow_instances
	          WHERE tenant_id = $1`
	args := []any{tenantID}
	argIdx := 2

	if filters.WorkflowKey != "" {
		query += fmt.Sprintf(" AND workflow_key = $%d", argIdx)
		args = append(args, filters.WorkflowKey)
		argIdx++
	}
	if filters.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, filters.Status)
		argIdx++
	}

	query += " ORDER BY started_at DESC, id DESC"

	if filters.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, filters.Limit)
		argIdx++
	}
	if filters.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, filters.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query workflow instances: %w", err)
	}
	defer rows.Close()

	var instances []model.WorkflowInstance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, fmt.Errorf("scan workflow instance: %w", err)
		}
		instances = append(instances, inst)
	}
	return instances, rows.Err()
}

// OpenStep appends a new open step-history row.
func (s *PgInstanceStore) OpenStep(ctx context.Context, step model.WorkflowStepHistory) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO workflow_step_history (
			id, instance_id, step_id, step_name, actor_id,
			action_taken, notes, started_at, completed_at, duration_seconds
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULL, NULL)`,
		step.ID, step.InstanceID, step.StepID, step.StepName, step.ActorID,
		step.ActionTaken, step.Notes, step.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("insert step history: %w", err)
	}
	return nil
}

// CloseOpenStep completes the instance's open step-history row. The duration
// is clamped at zero against clock skew between writers.
func (s *PgInstanceStore) CloseOpenStep(ctx context.Context, instanceID, actorID, actionTaken, notes string, completedAt time.Time) (*model.WorkflowStepHistory, error) {
	var closed model.WorkflowStepHistory
	err := s.pool.QueryRow(ctx, `
		UPDATE workflow_step_history SET
			completed_at = $1,
			duration_seconds = GREATEST(0, FLOOR(EXTRACT(EPOCH FROM ($1 - started_at))))::bigint,
			actor_id = $2,
			action_taken = $3,
			notes = $4
		WHERE instance_id = $5 AND completed_at IS NULL
		RETURNING id, instance_id, step_id, step_name, actor_id,
		          action_taken, notes, started_at, completed_at, duration_seconds`,
		completedAt, actorID, actionTaken, notes, instanceID,
	).Scan(
		&closed.ID, &closed.InstanceID, &closed.StepID, &closed.StepName, &closed.ActorID,
		&closed.ActionTaken, &closed.Notes, &closed.StartedAt, &closed.CompletedAt, &closed.DurationSeconds,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("close step history: %w", err)
	}
	return &closed, nil
}

// ListSteps returns the full step history for an instance.
func (s *PgInstanceStore) ListSteps(ctx context.Context, tenantID, instanceID string) ([]model.WorkflowStepHistory, error) {
	// Verify tenant access.
	if _, err := s.GetInstance(ctx, tenantID, instanceID); err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, instance_id, step_id, step_name, actor_id,
		       action_taken, notes, started_at, completed_at, duration_seconds
		FROM workflow_step_history
		WHERE instance_id = $1
		ORDER BY started_at ASC, id ASC`,
		instanceID,
	)
	if err != nil {
		return nil, fmt.Errorf("query step history: %w", err)
	}
	defer rows.Close()

	return scanSteps(rows)
}

// OpenSteps returns the open step rows of the tenant's active instances.
func (s *PgInstanceStore) OpenSteps(ctx context.Context, tenantID string) ([]model.WorkflowStepHistory, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT h.id, h.instance_id, h.step_id, h.step_name, h.actor_id,
		       h.action_taken, h.notes, h.started_at, h.completed_at, h.duration_seconds
		FROM workflow_step_history h
		JOIN workflow_instances i ON i.id = h.instance_id
		WHERE i.tenant_id = $1 AND i.status = 'active' AND h.completed_at IS NULL`,
		tenantID,
	)
	if err != nil {
		return nil, fmt.Errorf("query open steps: %w", err)
	}
	defer rows.Close()

	return scanSteps(rows)
}

// HealthCheck verifies store connectivity for readiness checks.
func (s *PgInstanceStore) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func scanInstance(row pgx.Row) (model.WorkflowInstance, error) {
	var inst model.WorkflowInstance
	var metadataJSON []byte

	err := row.Scan(
		&inst.ID, &inst.TenantID, &inst.WorkflowID, &inst.WorkflowKey, &inst.EntityType, &inst.EntityID,
		&inst.CurrentStepID, &inst.Status, &inst.StartedAt, &inst.CompletedAt, &inst.StartedBy,
		&inst.Participants, &metadataJSON, &inst.Version, &inst.UpdatedAt,
	)
	if err != nil {
		return model.WorkflowInstance{}, err
	}
	if metadataJSON != nil {
		if err := json.Unmarshal(metadataJSON, &inst.Metadata); err != nil {
			return model.WorkflowInstance{}, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	return inst, nil
}

func scanSteps(rows pgx.Rows) ([]model.WorkflowStepHistory, error) {
	var steps []model.WorkflowStepHistory
	for rows.Next() {
		var step model.WorkflowStepHistory
		if err := rows.Scan(
			&step.ID, &step.InstanceID, &step.StepID, &step.StepName, &step.ActorID,
			&step.ActionTaken, &step.Notes, &step.StartedAt, &step.CompletedAt, &step.DurationSeconds,
		); err != nil {
			return nil, fmt.Errorf("scan step history: %w", err)
		}
		steps = append(steps, step)
	}
	return steps, rows.Err()
}
