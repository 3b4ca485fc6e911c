package pending

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pitabwire/aegis/model"
)

// MapApprovalType maps a free-form approval_type from the generic approvals
// table onto a category by substring match. Unrecognized types land in the
// asset bucket.
func MapApprovalType(approvalType string) model.ApprovalCategory {
	lowered := strings.ToLower(approvalType)
	switch {
	case strings.Contains(lowered, "incident"), strings.Contains(lowered, "observation"):
		return model.CategoryIncident
	case strings.Contains(lowered, "gate"):
		return model.CategoryGatePass
	case strings.Contains(lowered, "worker"):
		return model.CategoryWorker
	case strings.Contains(lowered, "contractor"):
		return model.CategoryContractor
	case strings.Contains(lowered, "visitor"):
		return model.CategoryVisitor
	}
	return model.CategoryAsset
}

// IncidentSource feeds incidents and observations sitting in an approval
// stage.
type IncidentSource struct {
	pool *pgxpool.Pool
}

// NewIncidentSource creates the incident queue source.
func NewIncidentSource(pool *pgxpool.Pool) *IncidentSource {
	return &IncidentSource{pool: pool}
}

func (s *IncidentSource) Name() string { return "incidents" }

// Pending returns the tenant's incidents in an approval-stage status.
func (s *IncidentSource) Pending(ctx context.Context, tenantID string) ([]model.PendingApproval, error) {
	statuses := make([]string, len(model.ApprovalStageStatuses))
	for i, status := range model.ApprovalStageStatuses {
		statuses[i] = string(status)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, title, event_type, severity, status, department_id, created_at, updated_at
		FROM incidents
		WHERE tenant_id = $1 AND status = ANY($2) AND deleted_at IS NULL`,
		tenantID, statuses,
	)
	if err != nil {
		return nil, fmt.Errorf("query pending incidents: %w", err)
	}
	defer rows.Close()

	var out []model.PendingApproval
	for rows.Next() {
		var record model.PendingApproval
		var eventType string
		var severity int
		if err := rows.Scan(
			&record.ID, &record.Title, &eventType, &severity, &record.Status,
			&record.DepartmentID, &record.CreatedAt, &record.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan pending incident: %w", err)
		}
		record.ReferenceID = record.ID
		record.Category = model.CategoryIncident
		record.SubType = eventType
		record.Priority = strconv.Itoa(severity)
		out = append(out, record)
	}
	return out, rows.Err()
}

// GatePassSource feeds gate passes awaiting project-manager or safety
// approval.
type GatePassSource struct {
	pool *pgxpool.Pool
}

// NewGatePassSource creates the gate pass queue source.
func NewGatePassSource(pool *pgxpool.Pool) *GatePassSource {
	return &GatePassSource{pool: pool}
}

func (s *GatePassSource) Name() string { return "gate_passes" }

// Pending returns the tenant's gate passes awaiting approval.
func (s *GatePassSource) Pending(ctx context.Context, tenantID string) ([]model.PendingApproval, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, pass_number, purpose, pass_type, status, requester_name, company_id, created_at, updated_at
		FROM gate_passes
		WHERE tenant_id = $1
		  AND status IN ('pending_pm_approval', 'pending_safety_approval')
		  AND deleted_at IS NULL`,
		tenantID,
	)
	if err != nil {
		return nil, fmt.Errorf("query pending gate passes: %w", err)
	}
	defer rows.Close()

	var out []model.PendingApproval
	for rows.Next() {
		var record model.PendingApproval
		if err := rows.Scan(
			&record.ID, &record.ReferenceID, &record.Title, &record.SubType, &record.Status,
			&record.RequesterName, &record.CompanyID, &record.CreatedAt, &record.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan pending gate pass: %w", err)
		}
		record.Category = model.CategoryGatePass
		out = append(out, record)
	}
	return out, rows.Err()
}

// WorkerSource feeds workers awaiting approval.
type WorkerSource struct {
	pool *pgxpool.Pool
}

// NewWorkerSource creates the worker queue source.
func NewWorkerSource(pool *pgxpool.Pool) *WorkerSource {
	return &WorkerSource{pool: pool}
}

func (s *WorkerSource) Name() string { return "workers" }

// Pending returns the tenant's workers with approval_status pending.
func (s *WorkerSource) Pending(ctx context.Context, tenantID string) ([]model.PendingApproval, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, full_name, trade, approval_status, company_id, created_at, updated_at
		FROM workers
		WHERE tenant_id = $1 AND approval_status = 'pending' AND deleted_at IS NULL`,
		tenantID,
	)
	if err != nil {
		return nil, fmt.Errorf("query pending workers: %w", err)
	}
	defer rows.Close()

	var out []model.PendingApproval
	for rows.Next() {
		var record model.PendingApproval
		if err := rows.Scan(
			&record.ID, &record.Title, &record.SubType, &record.Status,
			&record.CompanyID, &record.CreatedAt, &record.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan pending worker: %w", err)
		}
		record.ReferenceID = record.ID
		record.Category = model.CategoryWorker
		out = append(out, record)
	}
	return out, rows.Err()
}

// ContractorSource feeds contractor companies awaiting approval.
type ContractorSource struct {
	pool *pgxpool.Pool
}

// NewContractorSource creates the contractor company queue source.
func NewContractorSource(pool *pgxpool.Pool) *ContractorSource {
	return &ContractorSource{pool: pool}
}

func (s *ContractorSource) Name() string { return "contractor_companies" }

// Pending returns the tenant's contractor companies with status pending.
func (s *ContractorSource) Pending(ctx context.Context, tenantID string) ([]model.PendingApproval, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, trade_license_number, status, created_at, updated_at
		FROM contractor_companies
		WHERE tenant_id = $1 AND status = 'pending' AND deleted_at IS NULL`,
		tenantID,
	)
	if err != nil {
		return nil, fmt.Errorf("query pending contractor companies: %w", err)
	}
	defer rows.Close()

	var out []model.PendingApproval
	for rows.Next() {
		var record model.PendingApproval
		if err := rows.Scan(
			&record.ID, &record.Title, &record.ReferenceID, &record.Status,
			&record.CreatedAt, &record.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan pending contractor company: %w", err)
		}
		record.Category = model.CategoryContractor
		record.CompanyName = record.Title
		out = append(out, record)
	}
	return out, rows.Err()
}

// GenericSource feeds the catch-all pending_approvals table, whose
// approval_type is mapped to a category by substring.
type GenericSource struct {
	pool *pgxpool.Pool
}

// NewGenericSource creates the generic approvals queue source.
func NewGenericSource(pool *pgxpool.Pool) *GenericSource {
	return &GenericSource{pool: pool}
}

func (s *GenericSource) Name() string { return "pending_approvals" }

// Pending returns the tenant's generic approval rows with status pending.
func (s *GenericSource) Pending(ctx context.Context, tenantID string) ([]model.PendingApproval, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, reference_id, title, approval_type, status, priority,
		       requester_name, department_id, company_id, created_at, updated_at
		FROM pending_approvals
		WHERE tenant_id = $1 AND status = 'pending' AND deleted_at IS NULL`,
		tenantID,
	)
	if err != nil {
		return nil, fmt.Errorf("query generic approvals: %w", err)
	}
	defer rows.Close()

	var out []model.PendingApproval
	for rows.Next() {
		var record model.PendingApproval
		var approvalType string
		if err := rows.Scan(
			&record.ID, &record.ReferenceID, &record.Title, &approvalType, &record.Status, &record.Priority,
			&record.RequesterName, &record.DepartmentID, &record.CompanyID, &record.CreatedAt, &record.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan generic approval: %w", err)
		}
		record.Category = MapApprovalType(approvalType)
		record.SubType = approvalType
		out = append(out, record)
	}
	return out, rows.Err()
}
