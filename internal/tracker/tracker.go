package tracker

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pitabwire/aegis/internal/observability"
	"github.com/pitabwire/aegis/model"
)

// Tracker records the lifecycle of workflow instances. It is the only writer
// of instances and step history; every instance write replaces the full row
// and is mirrored onto the change feed.
type Tracker struct {
	store       InstanceStore
	feed        *Feed
	logger      *zap.Logger
	metrics     *observability.Metrics
	maxPageSize int
}

// NewTracker creates a workflow instance tracker.
func NewTracker(store InstanceStore, feed *Feed, logger *zap.Logger, metrics *observability.Metrics, maxPageSize int) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxPageSize <= 0 {
		maxPageSize = 100
	}
	return &Tracker{
		store:       store,
		feed:        feed,
		logger:      logger,
		metrics:     metrics,
		maxPageSize: maxPageSize,
	}
}

// StartInstance creates an active instance of the named workflow and opens
// its initial step.
func (t *Tracker) StartInstance(
	ctx context.Context,
	actor *model.ActorContext,
	workflowKey, entityType, entityID string,
	metadata map[string]any,
) (model.WorkflowInstance, error) {
	if err := actor.Validate(); err != nil {
		return model.WorkflowInstance{}, model.NewUnauthorizedError("missing actor identity")
	}

	var details []model.FieldError
	if workflowKey == "" {
		details = append(details, model.FieldError{Field: "workflow_key", Code: "required", Message: "workflow_key is required"})
	}
	if entityType == "" {
		details = append(details, model.FieldError{Field: "entity_type", Code: "required", Message: "entity_type is required"})
	}
	if entityID == "" {
		details = append(details, model.FieldError{Field: "entity_id", Code: "required", Message: "entity_id is required"})
	}
	if len(details) > 0 {
		return model.WorkflowInstance{}, model.NewValidationError(details)
	}

	now := time.Now().UTC()
	inst := model.WorkflowInstance{
		ID:            uuid.New().String(),
		TenantID:      actor.TenantID,
		WorkflowKey:   workflowKey,
		EntityType:    entityType,
		EntityID:      entityID,
		CurrentStepID: model.InitialStepID,
		Status:        model.InstanceActive,
		StartedAt:     now,
		StartedBy:     actor.ActorID,
		Participants:  []string{actor.ActorID},
		Metadata:      metadata,
		Version:       1,
		UpdatedAt:     now,
	}

	if err := t.store.CreateInstance(ctx, inst); err != nil {
		return model.WorkflowInstance{}, err
	}
	if err := t.store.OpenStep(ctx, model.WorkflowStepHistory{
		ID:         uuid.New().String(),
		InstanceID: inst.ID,
		StepID:     model.InitialStepID,
		StepName:   model.InitialStepID,
		ActorID:    actor.ActorID,
		StartedAt:  now,
	}); err != nil {
		return model.WorkflowInstance{}, err
	}

	t.publish(ChangeEvent{Type: ChangeInsert, Instance: inst})
	if t.metrics != nil {
		t.metrics.RecordTrackerStart(workflowKey)
	}
	observability.RequestLogger(ctx, t.logger).Info("workflow instance started",
		zap.String("instance_id", inst.ID),
		zap.String("workflow_key", workflowKey),
		zap.String("entity_type", entityType),
		zap.String("entity_id", entityID),
	)
	return inst, nil
}

// AdvanceStep moves an active instance to a new step: the open step-history
// row is completed with its duration, a new row opens for stepID, and the
// instance's current step moves.
func (t *Tracker) AdvanceStep(
	ctx context.Context,
	actor *model.ActorContext,
	instanceID, stepID, actionTaken, notes string,
) (model.WorkflowInstance, error) {
	if err := actor.Validate(); err != nil {
		return model.WorkflowInstance{}, model.NewUnauthorizedError("missing actor identity")
	}
	if stepID == "" {
		return model.WorkflowInstance{}, model.NewValidationError([]model.FieldError{{
			Field: "step_id", Code: "required", Message: "step_id is required",
		}})
	}

	inst, err := t.store.GetInstance(ctx, actor.TenantID, instanceID)
	if err != nil {
		return model.WorkflowInstance{}, err
	}
	if inst.Status != model.InstanceActive {
		return model.WorkflowInstance{}, model.NewInvalidTransitionError(
			fmt.Sprintf("instance %q is %s, only active instances advance", instanceID, inst.Status),
		)
	}

	// The version-guarded instance write goes first: a concurrent writer
	// fails here with CONFLICT and the step history stays untouched.
	now := time.Now().UTC()
	inst.CurrentStepID = stepID
	inst.Participants = appendParticipant(inst.Participants, actor.ActorID)
	inst.UpdatedAt = now
	if err := t.store.UpdateInstance(ctx, inst); err != nil {
		return model.WorkflowInstance{}, err
	}
	inst.Version++

	closed, err := t.store.CloseOpenStep(ctx, inst.ID, actor.ActorID, actionTaken, notes, now)
	if err != nil {
		return model.WorkflowInstance{}, err
	}
	if err := t.store.OpenStep(ctx, model.WorkflowStepHistory{
		ID:         uuid.New().String(),
		InstanceID: inst.ID,
		StepID:     stepID,
		StepName:   stepID,
		ActorID:    actor.ActorID,
		StartedAt:  now,
	}); err != nil {
		return model.WorkflowInstance{}, err
	}

	t.publish(ChangeEvent{Type: ChangeUpdate, Instance: inst})
	if t.metrics != nil {
		t.metrics.RecordTrackerAdvance(inst.WorkflowKey, stepID)
		if closed != nil && closed.DurationSeconds != nil {
			t.metrics.RecordTrackerStepDuration(inst.WorkflowKey, closed.StepID, time.Duration(*closed.DurationSeconds)*time.Second)
		}
	}
	observability.RequestLogger(ctx, t.logger).Info("workflow step advanced",
		zap.String("instance_id", inst.ID),
		zap.String("workflow_key", inst.WorkflowKey),
		zap.String("step_id", stepID),
	)
	return inst, nil
}

// CompleteInstance marks an instance completed and closes its open step.
func (t *Tracker) CompleteInstance(ctx context.Context, actor *model.ActorContext, instanceID string) (model.WorkflowInstance, error) {
	return t.settle(ctx, actor, instanceID, model.InstanceCompleted)
}

// CancelInstance marks an instance cancelled and closes its open step.
func (t *Tracker) CancelInstance(ctx context.Context, actor *model.ActorContext, instanceID string) (model.WorkflowInstance, error) {
	return t.settle(ctx, actor, instanceID, model.InstanceCancelled)
}

// PauseInstance pauses an active instance and closes its open step.
func (t *Tracker) PauseInstance(ctx context.Context, actor *model.ActorContext, instanceID string) (model.WorkflowInstance, error) {
	return t.settle(ctx, actor, instanceID, model.InstancePaused)
}

func (t *Tracker) settle(ctx context.Context, actor *model.ActorContext, instanceID string, target model.InstanceStatus) (model.WorkflowInstance, error) {
	if err := actor.Validate(); err != nil {
		return model.WorkflowInstance{}, model.NewUnauthorizedError("missing actor identity")
	}

	inst, err := t.store.GetInstance(ctx, actor.TenantID, instanceID)
	if err != nil {
		return model.WorkflowInstance{}, err
	}
	if inst.Status.Terminal() {
		return model.WorkflowInstance{}, model.NewInvalidTransitionError(
			fmt.Sprintf("instance %q is already %s", instanceID, inst.Status),
		)
	}
	if target == model.InstancePaused && inst.Status != model.InstanceActive {
		return model.WorkflowInstance{}, model.NewInvalidTransitionError(
			fmt.Sprintf("instance %q is %s, only active instances pause", instanceID, inst.Status),
		)
	}

	// Version guard before the step close, as in AdvanceStep.
	now := time.Now().UTC()
	inst.Status = target
	inst.UpdatedAt = now
	if target.Terminal() {
		inst.CompletedAt = &now
	}
	if err := t.store.UpdateInstance(ctx, inst); err != nil {
		return model.WorkflowInstance{}, err
	}
	inst.Version++

	if _, err := t.store.CloseOpenStep(ctx, inst.ID, actor.ActorID, string(target), "", now); err != nil {
		return model.WorkflowInstance{}, err
	}

	t.publish(ChangeEvent{Type: ChangeUpdate, Instance: inst})
	if t.metrics != nil && target.Terminal() {
		t.metrics.RecordTrackerTerminal(inst.WorkflowKey, string(target))
	}
	observability.RequestLogger(ctx, t.logger).Info("workflow instance settled",
		zap.String("instance_id", inst.ID),
		zap.String("workflow_key", inst.WorkflowKey),
		zap.String("status", string(target)),
	)
	return inst, nil
}

// GetInstance retrieves one instance, tenant-scoped.
func (t *Tracker) GetInstance(ctx context.Context, actor *model.ActorContext, instanceID string) (model.WorkflowInstance, error) {
	if err := actor.Validate(); err != nil {
		return model.WorkflowInstance{}, model.NewUnauthorizedError("missing actor identity")
	}
	return t.store.GetInstance(ctx, actor.TenantID, instanceID)
}

// ListInstances returns a snapshot page of the actor's tenant, most recent
// first. The page size is clamped to the configured maximum.
func (t *Tracker) ListInstances(ctx context.Context, actor *model.ActorContext, filters ListFilters) ([]model.WorkflowInstance, error) {
	if err := actor.Validate(); err != nil {
		return nil, model.NewUnauthorizedError("missing actor identity")
	}
	if filters.Limit <= 0 || filters.Limit > t.maxPageSize {
		filters.Limit = t.maxPageSize
	}
	return t.store.ListInstances(ctx, actor.TenantID, filters)
}

// ListSteps returns the step history for an instance, tenant-scoped.
func (t *Tracker) ListSteps(ctx context.Context, actor *model.ActorContext, instanceID string) ([]model.WorkflowStepHistory, error) {
	if err := actor.Validate(); err != nil {
		return nil, model.NewUnauthorizedError("missing actor identity")
	}
	return t.store.ListSteps(ctx, actor.TenantID, instanceID)
}

// Subscribe opens a tenant-scoped change feed subscription.
func (t *Tracker) Subscribe(actor *model.ActorContext, buffer int) (*Subscription, error) {
	if err := actor.Validate(); err != nil {
		return nil, model.NewUnauthorizedError("missing actor identity")
	}
	if t.feed == nil {
		return nil, model.NewAggregationError("change feed is not enabled")
	}
	return t.feed.Subscribe(actor.TenantID, buffer), nil
}

func (t *Tracker) publish(event ChangeEvent) {
	if t.feed != nil {
		t.feed.Publish(event)
	}
}

func appendParticipant(participants []string, actorID string) []string {
	for _, p := range participants {
		if p == actorID {
			return participants
		}
	}
	return append(participants, actorID)
}
