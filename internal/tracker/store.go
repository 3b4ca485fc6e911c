// Package tracker implements the generic workflow instance tracker: arbitrary
// named workflows over arbitrary entities, with an append-only step history
// and a snapshot-plus-change-feed read side.
package tracker

import (
	"context"
	"time"

	"github.com/pitabwire/aegis/model"
)

// ListFilters narrows instance snapshot queries.
type ListFilters struct {
	// WorkflowKey restricts to one workflow when non-empty.
	WorkflowKey string

	// Status restricts to one lifecycle status when non-empty.
	Status model.InstanceStatus

	Limit  int
	Offset int
}

// InstanceStore persists workflow instances and their step history.
type InstanceStore interface {
	// CreateInstance inserts a new instance.
	CreateInstance(ctx context.Context, inst model.WorkflowInstance) error

	// GetInstance retrieves an instance by ID, scoped to tenant. Returns
	// NOT_FOUND if absent or owned by another tenant.
	GetInstance(ctx context.Context, tenantID, instanceID string) (model.WorkflowInstance, error)

	// UpdateInstance replaces the full instance row with optimistic locking
	// on Version. The stored Version must equal inst.Version; on success the
	// stored row carries inst.Version+1. A mismatch surfaces as CONFLICT.
	UpdateInstance(ctx context.Context, inst model.WorkflowInstance) error

	// ListInstances returns instances for a tenant, most recent first.
	ListInstances(ctx context.Context, tenantID string, filters ListFilters) ([]model.WorkflowInstance, error)

	// OpenStep appends a new step-history row with a nil CompletedAt.
	OpenStep(ctx context.Context, step model.WorkflowStepHistory) error

	// CloseOpenStep completes the instance's open step-history row, recording
	// who closed it and why. Returns the closed row, or nil when the instance
	// has no open step.
	CloseOpenStep(ctx context.Context, instanceID, actorID, actionTaken, notes string, completedAt time.Time) (*model.WorkflowStepHistory, error)

	// ListSteps returns the full step history for an instance in step order.
	ListSteps(ctx context.Context, tenantID, instanceID string) ([]model.WorkflowStepHistory, error)

	// OpenSteps returns the open step-history rows of a tenant's active
	// instances. Consumed by the live-status aggregator.
	OpenSteps(ctx context.Context, tenantID string) ([]model.WorkflowStepHistory, error)
}
