package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pitabwire/aegis/model"
)

// PgWriter is a PostgreSQL-backed Writer using pgx/v5.
type PgWriter struct {
	pool *pgxpool.Pool
}

// NewPgWriter creates a new PostgreSQL audit writer.
func NewPgWriter(pool *pgxpool.Pool) *PgWriter {
	return &PgWriter{pool: pool}
}

// Append inserts a new audit log entry.
func (w *PgWriter) Append(ctx context.Context, entry model.AuditLogEntry) error {
	detailsJSON, err := json.Marshal(entry.Details)
	if err != nil {
		return fmt.Errorf("marshal audit details: %w", err)
	}

	_, err = w.pool.Exec(ctx, `
		INSERT INTO audit_log_entries (
			id, incident_id, tenant_id, actor_id, action, details, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		entry.ID, entry.IncidentID, entry.TenantID, entry.ActorID,
		entry.Action, detailsJSON, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert audit log entry: %w", err)
	}
	return nil
}

// List returns all entries for an incident in append order.
func (w *PgWriter) List(ctx context.Context, tenantID, incidentID string) ([]model.AuditLogEntry, error) {
	rows, err := w.pool.Query(ctx, `
		SELECT id, incident_id, tenant_id, actor_id, action, details, created_at
		FROM audit_log_entries
		WHERE tenant_id = $1 AND incident_id = $2
		ORDER BY created_at ASC`,
		tenantID, incidentID,
	)
	if err != nil {
		return nil, fmt.Errorf("query audit log entries: %w", err)
	}
	defer rows.Close()

	var entries []model.AuditLogEntry
	for rows.Next() {
		var entry model.AuditLogEntry
		var detailsJSON []byte
		if err := rows.Scan(
			&entry.ID, &entry.IncidentID, &entry.TenantID, &entry.ActorID,
			&entry.Action, &detailsJSON, &entry.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan audit log entry: %w", err)
		}
		if detailsJSON != nil {
			if err := json.Unmarshal(detailsJSON, &entry.Details); err != nil {
				return nil, fmt.Errorf("unmarshal audit details for entry %q: %w", entry.ID, err)
			}
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
