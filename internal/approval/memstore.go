package approval

import (
	"context"
	"fmt"
	"sync"

	"github.com/pitabwire/aegis/model"
)

// MemoryIncidentStore is an in-memory IncidentStore and ActionCounter for
// development mode and tests.
type MemoryIncidentStore struct {
	mu        sync.RWMutex
	incidents map[string]model.Incident
	pending   map[string]int

	// FailUpdate makes the next UpdateStatus return the given error. For
	// testing the aborted-write path.
	FailUpdate error
}

// NewMemoryIncidentStore creates an empty in-memory incident store.
func NewMemoryIncidentStore() *MemoryIncidentStore {
	return &MemoryIncidentStore{
		incidents: make(map[string]model.Incident),
		pending:   make(map[string]int),
	}
}

// Put stores or replaces an incident.
func (s *MemoryIncidentStore) Put(inc model.Incident) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.incidents[inc.ID] = inc
}

// SetPendingActions sets the pending corrective-action count for an incident.
func (s *MemoryIncidentStore) SetPendingActions(incidentID string, count int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[incidentID] = count
}

// Get retrieves an incident by ID, scoped to tenant.
func (s *MemoryIncidentStore) Get(_ context.Context, tenantID, incidentID string) (model.Incident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inc, ok := s.incidents[incidentID]
	if !ok || inc.TenantID != tenantID || inc.DeletedAt != nil {
		return model.Incident{}, model.NewNotFoundError(
			fmt.Sprintf("incident %q not found", incidentID),
		)
	}
	return inc, nil
}

// UpdateStatus replaces the stored incident if its status still matches
// expectedStatus.
func (s *MemoryIncidentStore) UpdateStatus(_ context.Context, inc model.Incident, expectedStatus model.IncidentStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailUpdate != nil {
		err := s.FailUpdate
		s.FailUpdate = nil
		return err
	}

	current, ok := s.incidents[inc.ID]
	if !ok || current.TenantID != inc.TenantID || current.DeletedAt != nil {
		return model.NewConflictError(
			fmt.Sprintf("incident %q left status %s before the update committed", inc.ID, expectedStatus),
		)
	}
	if current.Status != expectedStatus {
		return model.NewConflictError(
			fmt.Sprintf("incident %q left status %s before the update committed", inc.ID, expectedStatus),
		)
	}
	s.incidents[inc.ID] = inc
	return nil
}

// CountPending returns the configured pending corrective-action count.
func (s *MemoryIncidentStore) CountPending(_ context.Context, tenantID, incidentID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inc, ok := s.incidents[incidentID]
	if !ok || inc.TenantID != tenantID {
		return 0, nil
	}
	return s.pending[incidentID], nil
}

// HealthCheck always succeeds.
func (s *MemoryIncidentStore) HealthCheck(context.Context) error { return nil }
