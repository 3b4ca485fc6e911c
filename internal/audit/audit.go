// Package audit provides the append-only transition log consumed by
// compliance reporting. Entries are written once and never updated or
// deleted.
package audit

import (
	"context"

	"github.com/pitabwire/aegis/model"
)

// Writer appends and reads audit log entries. Append order follows the
// commit order of the owning transitions; implementations must never reorder
// or mutate entries after append.
type Writer interface {
	// Append persists a new audit log entry.
	Append(ctx context.Context, entry model.AuditLogEntry) error

	// List returns all entries for an incident in append order, scoped to a
	// tenant.
	List(ctx context.Context, tenantID, incidentID string) ([]model.AuditLogEntry, error)
}
