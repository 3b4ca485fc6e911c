package livestatus

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/pitabwire/aegis/internal/observability"
	"github.com/pitabwire/aegis/internal/tracker"
	"github.com/pitabwire/aegis/model"
)

// Service recomputes live-status rollups from the tracker store on every
// read. A read failure surfaces as AGGREGATION_ERROR, which consumers treat
// as "data may be stale" and re-fetch.
type Service struct {
	store   tracker.InstanceStore
	logger  *zap.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

// NewService creates a live-status service over the tracker store.
func NewService(store tracker.InstanceStore, logger *zap.Logger, metrics *observability.Metrics) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:   store,
		logger:  logger,
		metrics: metrics,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// LiveStatuses returns the rollup for every workflow key the tenant has
// instances of, sorted by workflow key.
func (s *Service) LiveStatuses(ctx context.Context, actor *model.ActorContext) ([]model.WorkflowLiveStatus, error) {
	if err := actor.Validate(); err != nil {
		return nil, model.NewUnauthorizedError("missing actor identity")
	}

	start := time.Now()
	statuses, _, err := s.compute(ctx, actor.TenantID)
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.RecordAggregation("live_status", time.Since(start))
	}
	return statuses, nil
}

// Metrics returns the tenant-wide cross-workflow rollup.
func (s *Service) Metrics(ctx context.Context, actor *model.ActorContext) (WorkflowMetrics, error) {
	if err := actor.Validate(); err != nil {
		return WorkflowMetrics{}, model.NewUnauthorizedError("missing actor identity")
	}

	start := time.Now()
	statuses, instances, err := s.compute(ctx, actor.TenantID)
	if err != nil {
		return WorkflowMetrics{}, err
	}
	metrics := ComputeMetrics(statuses, instances)
	if s.metrics != nil {
		s.metrics.RecordAggregation("workflow_metrics", time.Since(start))
	}
	return metrics, nil
}

func (s *Service) compute(ctx context.Context, tenantID string) ([]model.WorkflowLiveStatus, []model.WorkflowInstance, error) {
	instances, err := s.store.ListInstances(ctx, tenantID, tracker.ListFilters{})
	if err != nil {
		observability.RequestLogger(ctx, s.logger).Warn("live status instance read failed", zap.Error(err))
		return nil, nil, model.NewAggregationError("workflow instances unavailable")
	}
	openSteps, err := s.store.OpenSteps(ctx, tenantID)
	if err != nil {
		observability.RequestLogger(ctx, s.logger).Warn("live status open-step read failed", zap.Error(err))
		return nil, nil, model.NewAggregationError("workflow step history unavailable")
	}

	byKey := make(map[string][]model.WorkflowInstance)
	keyByInstance := make(map[string]string, len(instances))
	for _, inst := range instances {
		byKey[inst.WorkflowKey] = append(byKey[inst.WorkflowKey], inst)
		keyByInstance[inst.ID] = inst.WorkflowKey
	}
	stepsByKey := make(map[string][]model.WorkflowStepHistory)
	for _, step := range openSteps {
		if key, ok := keyByInstance[step.InstanceID]; ok {
			stepsByKey[key] = append(stepsByKey[key], step)
		}
	}

	now := s.now()
	statuses := make([]model.WorkflowLiveStatus, 0, len(byKey))
	for key, keyInstances := range byKey {
		statuses = append(statuses, ComputeLiveStatus(tenantID, key, keyInstances, stepsByKey[key], now))
	}
	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].WorkflowKey < statuses[j].WorkflowKey
	})
	return statuses, instances, nil
}
