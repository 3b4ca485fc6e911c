package pending

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PgLookup batch-resolves department and company display names. One query
// per table with an IN over the deduplicated id list, never one per row.
type PgLookup struct {
	pool *pgxpool.Pool
}

// NewPgLookup creates a PostgreSQL-backed name lookup.
func NewPgLookup(pool *pgxpool.Pool) *PgLookup {
	return &PgLookup{pool: pool}
}

// DepartmentNames resolves department ids to names for one tenant.
func (l *PgLookup) DepartmentNames(ctx context.Context, tenantID string, ids []string) (map[string]string, error) {
	return l.names(ctx, "departments", tenantID, ids)
}

// CompanyNames resolves contractor company ids to names for one tenant.
func (l *PgLookup) CompanyNames(ctx context.Context, tenantID string, ids []string) (map[string]string, error) {
	return l.names(ctx, "contractor_companies", tenantID, ids)
}

func (l *PgLookup) names(ctx context.Context, table, tenantID string, ids []string) (map[string]string, error) {
	if len(ids) == 0 {
		return map[string]string{}, nil
	}

	rows, err := l.pool.Query(ctx,
		fmt.Sprintf(`SELECT id, name FROM %s WHERE tenant_id = $1 AND id = ANY($2)`, table),
		tenantID, ids,
	)
	if err != nil {
		return nil, fmt.Errorf("query %s names: %w", table, err)
	}
	defer rows.Close()

	names := make(map[string]string, len(ids))
	for rows.Next() {
		var id, name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, fmt.Errorf("scan %s name: %w", table, err)
		}
		names[id] = name
	}
	return names, rows.Err()
}
