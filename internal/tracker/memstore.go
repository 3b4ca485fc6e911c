package tracker

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/pitabwire/aegis/model"
)

// MemoryInstanceStore is an in-memory InstanceStore for development mode and
// tests.
type MemoryInstanceStore struct {
	mu        sync.RWMutex
	instances map[string]model.WorkflowInstance
	steps     map[string][]model.WorkflowStepHistory
}

// NewMemoryInstanceStore creates an empty in-memory instance store.
func NewMemoryInstanceStore() *MemoryInstanceStore {
	return &MemoryInstanceStore{
		instances: make(map[string]model.WorkflowInstance),
		steps:     make(map[string][]model.WorkflowStepHistory),
	}
}

// CreateInstance inserts a new instance.
func (s *MemoryInstanceStore) CreateInstance(_ context.Context, inst model.WorkflowInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.instances[inst.ID]; ok {
		return model.NewConflictError(fmt.Sprintf("workflow instance %q already exists", inst.ID))
	}
	s.instances[inst.ID] = inst
	return nil
}

// GetInstance retrieves an instance by ID, scoped to tenant.
func (s *MemoryInstanceStore) GetInstance(_ context.Context, tenantID, instanceID string) (model.WorkflowInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getLocked(tenantID, instanceID)
}

func (s *MemoryInstanceStore) getLocked(tenantID, instanceID string) (model.WorkflowInstance, error) {
	inst, ok := s.instances[instanceID]
	if !ok || inst.TenantID != tenantID {
		return model.WorkflowInstance{}, model.NewNotFoundError(
			fmt.Sprintf("workflow instance %q not found", instanceID),
		)
	}
	return inst, nil
}

// UpdateInstance replaces the stored instance with optimistic locking.
func (s *MemoryInstanceStore) UpdateInstance(_ context.Context, inst model.WorkflowInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.instances[inst.ID]
	if !ok || current.TenantID != inst.TenantID {
		return model.NewNotFoundError(fmt.Sprintf("workflow instance %q not found", inst.ID))
	}
	if current.Version != inst.Version {
		return model.NewConflictError(
			fmt.Sprintf("workflow instance %q version conflict (expected %d)", inst.ID, inst.Version),
		)
	}
	inst.Version++
	s.instances[inst.ID] = inst
	return nil
}

// ListInstances returns a tenant's instances, most recently started first.
func (s *MemoryInstanceStore) ListInstances(_ context.Context, tenantID string, filters ListFilters) ([]model.WorkflowInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.WorkflowInstance
	for _, inst := range s.instances {
		if inst.TenantID != tenantID {
			continue
		}
		if filters.WorkflowKey != "" && inst.WorkflowKey != filters.WorkflowKey {
			continue
		}
		if filters.Status != "" && inst.Status != filters.Status {
			continue
		}
		out = append(out, inst)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartedAt.After(out[j].StartedAt)
	})

	if filters.Offset > 0 {
		if filters.Offset >= len(out) {
			return nil, nil
		}
		out = out[filters.Offset:]
	}
	if filters.Limit > 0 && len(out) > filters.Limit {
		out = out[:filters.Limit]
	}
	return out, nil
}

// OpenStep appends a new open step-history row.
func (s *MemoryInstanceStore) OpenStep(_ context.Context, step model.WorkflowStepHistory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps[step.InstanceID] = append(s.steps[step.InstanceID], step)
	return nil
}

// CloseOpenStep completes the instance's open step row, if any.
func (s *MemoryInstanceStore) CloseOpenStep(_ context.Context, instanceID, actorID, actionTaken, notes string, completedAt time.Time) (*model.WorkflowStepHistory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows := s.steps[instanceID]
	for i := range rows {
		if !rows[i].Open() {
			continue
		}
		duration := int64(completedAt.Sub(rows[i].StartedAt).Seconds())
		if duration < 0 {
			duration = 0
		}
		rows[i].CompletedAt = &completedAt
		rows[i].DurationSeconds = &duration
		rows[i].ActorID = actorID
		rows[i].ActionTaken = actionTaken
		rows[i].Notes = notes
		closed := rows[i]
		return &closed, nil
	}
	return nil, nil
}

// ListSteps returns the step history for an instance in append order.
func (s *MemoryInstanceStore) ListSteps(_ context.Context, tenantID, instanceID string) ([]model.WorkflowStepHistory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, err := s.getLocked(tenantID, instanceID); err != nil {
		return nil, err
	}
	rows := s.steps[instanceID]
	out := make([]model.WorkflowStepHistory, len(rows))
	copy(out, rows)
	return out, nil
}

// HealthCheck always succeeds.
func (s *MemoryInstanceStore) HealthCheck(context.Context) error { return nil }

// OpenSteps returns the open step rows of the tenant's active instances.
func (s *MemoryInstanceStore) OpenSteps(_ context.Context, tenantID string) ([]model.WorkflowStepHistory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.WorkflowStepHistory
	for instanceID, rows := range s.steps {
		inst, ok := s.instances[instanceID]
		if !ok || inst.TenantID != tenantID || inst.Status != model.InstanceActive {
			continue
		}
		for _, row := range rows {
			if row.Open() {
				out = append(out, row)
			}
		}
	}
	return out, nil
}
