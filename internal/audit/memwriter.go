package audit

import (
	"context"
	"sync"

	"github.com/pitabwire/aegis/model"
)

// MemoryWriter is an in-memory Writer for testing.
type MemoryWriter struct {
	mu      sync.RWMutex
	entries []model.AuditLogEntry

	// FailAppend makes Append return the given error. For testing the
	// accepted audit-failure path.
	FailAppend error
}

// NewMemoryWriter creates a new in-memory audit writer.
func NewMemoryWriter() *MemoryWriter {
	return &MemoryWriter{}
}

// Append stores a new audit log entry in append order.
func (w *MemoryWriter) Append(_ context.Context, entry model.AuditLogEntry) error {
	if w.FailAppend != nil {
		return w.FailAppend
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.entries = append(w.entries, entry)
	return nil
}

// List returns all entries for an incident in append order.
func (w *MemoryWriter) List(_ context.Context, tenantID, incidentID string) ([]model.AuditLogEntry, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	var result []model.AuditLogEntry
	for _, entry := range w.entries {
		if entry.TenantID == tenantID && entry.IncidentID == incidentID {
			result = append(result, entry)
		}
	}
	return result, nil
}

// Len returns the total number of entries. For testing.
func (w *MemoryWriter) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.entries)
}
