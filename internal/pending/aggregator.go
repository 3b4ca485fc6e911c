// Package pending merges the heterogeneous approval queues, incidents, gate
// passes, workers, contractor companies, and the generic approvals table,
// into one normalized, tenant-isolated feed.
package pending

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/pitabwire/aegis/internal/observability"
	"github.com/pitabwire/aegis/model"
)

// Source is one approval queue contributing to the merged feed. Each source
// applies its own "pending" predicate and maps its rows into the common
// shape; every query it issues must be tenant-scoped.
type Source interface {
	Name() string
	Pending(ctx context.Context, tenantID string) ([]model.PendingApproval, error)
}

// Lookup batch-resolves display names for department and company ids.
type Lookup interface {
	DepartmentNames(ctx context.Context, tenantID string, ids []string) (map[string]string, error)
	CompanyNames(ctx context.Context, tenantID string, ids []string) (map[string]string, error)
}

// Aggregator computes the unified pending-approvals feed per request.
type Aggregator struct {
	sources []Source
	lookup  Lookup
	logger  *zap.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

// NewAggregator creates an aggregator over the given sources.
func NewAggregator(sources []Source, lookup Lookup, logger *zap.Logger, metrics *observability.Metrics) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{
		sources: sources,
		lookup:  lookup,
		logger:  logger,
		metrics: metrics,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Aggregate merges every source's pending records into one feed, newest
// first, with records pending fewer than minDays filtered out. A missing
// tenant fails closed: the result is empty, never cross-tenant.
func (a *Aggregator) Aggregate(ctx context.Context, actor *model.ActorContext, minDays int) ([]model.PendingApproval, error) {
	if actor == nil || actor.TenantID == "" {
		return []model.PendingApproval{}, nil
	}

	start := time.Now()
	now := a.now()

	merged := []model.PendingApproval{}
	for _, source := range a.sources {
		records, err := source.Pending(ctx, actor.TenantID)
		if err != nil {
			observability.RequestLogger(ctx, a.logger).Warn("pending source read failed",
				zap.String("source", source.Name()),
				zap.Error(err),
			)
			return nil, model.NewAggregationError("pending approvals unavailable")
		}
		merged = append(merged, records...)
	}

	for i := range merged {
		reference := merged[i].CreatedAt
		if merged[i].Category == model.CategoryIncident {
			reference = merged[i].UpdatedAt
		}
		merged[i].DaysPending = daysPending(now, reference)
	}

	if minDays > 0 {
		filtered := merged[:0]
		for _, record := range merged {
			if record.DaysPending >= minDays {
				filtered = append(filtered, record)
			}
		}
		merged = filtered
	}

	if err := a.resolveNames(ctx, actor.TenantID, merged); err != nil {
		observability.RequestLogger(ctx, a.logger).Warn("pending name lookup failed", zap.Error(err))
	}

	sort.Slice(merged, func(i, j int) bool {
		if merged[i].CreatedAt.Equal(merged[j].CreatedAt) {
			return merged[i].ID < merged[j].ID
		}
		return merged[i].CreatedAt.After(merged[j].CreatedAt)
	})

	if a.metrics != nil {
		a.metrics.RecordPendingFeedSize(len(merged))
		a.metrics.RecordAggregation("pending_approvals", time.Since(start))
	}
	return merged, nil
}

// CountsByCategory reduces a merged feed into per-category counts. Pure and
// side-effect free.
func CountsByCategory(records []model.PendingApproval) map[model.ApprovalCategory]int {
	counts := make(map[model.ApprovalCategory]int)
	for _, record := range records {
		counts[record.Category]++
	}
	return counts
}

// resolveNames fills department and company display names with one batched
// lookup per table over the deduplicated id sets. Lookup failures degrade to
// missing names rather than failing the feed.
func (a *Aggregator) resolveNames(ctx context.Context, tenantID string, records []model.PendingApproval) error {
	if a.lookup == nil || len(records) == 0 {
		return nil
	}

	departmentIDs := make(map[string]bool)
	companyIDs := make(map[string]bool)
	for _, record := range records {
		if record.DepartmentID != "" {
			departmentIDs[record.DepartmentID] = true
		}
		if record.CompanyID != "" {
			companyIDs[record.CompanyID] = true
		}
	}

	var departments, companies map[string]string
	var err error
	if len(departmentIDs) > 0 {
		departments, err = a.lookup.DepartmentNames(ctx, tenantID, keys(departmentIDs))
		if err != nil {
			return err
		}
	}
	if len(companyIDs) > 0 {
		companies, err = a.lookup.CompanyNames(ctx, tenantID, keys(companyIDs))
		if err != nil {
			return err
		}
	}

	for i := range records {
		if name, ok := departments[records[i].DepartmentID]; ok {
			records[i].DepartmentName = name
		}
		if name, ok := companies[records[i].CompanyID]; ok {
			records[i].CompanyName = name
		}
	}
	return nil
}

// daysPending is floor(now - reference) in whole days, computed in UTC and
// never negative.
func daysPending(now, reference time.Time) int {
	elapsed := now.UTC().Sub(reference.UTC())
	if elapsed < 0 {
		return 0
	}
	return int(elapsed / (24 * time.Hour))
}

func keys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
