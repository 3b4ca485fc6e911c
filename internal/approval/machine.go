package approval

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pitabwire/aegis/internal/audit"
	"github.com/pitabwire/aegis/internal/observability"
	"github.com/pitabwire/aegis/internal/roles"
	"github.com/pitabwire/aegis/model"
)

// Roles allowed to validate a record awaiting HSSE review.
var validatorRoles = []string{roles.RoleHSSEExpert, roles.RoleHSSEManager, roles.RoleEnvironmental}

// Roles allowed to perform manager final closure.
var closerRoles = []string{roles.RoleHSSEManager, roles.RoleAdmin}

// Result is the outcome of a committed state-machine operation.
type Result struct {
	IncidentID string               `json:"incident_id"`
	NewStatus  model.IncidentStatus `json:"new_status"`
}

// Machine applies approval decisions to incidents and observations. All
// writes are conditional on the status read at the start of the operation,
// so two actors racing on the same record cannot both commit.
type Machine struct {
	store    IncidentStore
	actions  ActionCounter
	roles    roles.Directory
	audit    audit.Writer
	notifier Notifier
	logger   *zap.Logger
	metrics  *observability.Metrics
}

// NewMachine creates a new approval state machine.
func NewMachine(
	store IncidentStore,
	actions ActionCounter,
	directory roles.Directory,
	auditLog audit.Writer,
	notifier Notifier,
	logger *zap.Logger,
	metrics *observability.Metrics,
) *Machine {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Machine{
		store:    store,
		actions:  actions,
		roles:    directory,
		audit:    auditLog,
		notifier: notifier,
		logger:   logger,
		metrics:  metrics,
	}
}

// Validate applies an HSSE expert decision to an observation awaiting
// validation.
//
// On reject the record returns to the department representative. On accept
// the severity policy decides the path: level 5 escalates to manager final
// closure; otherwise the record closes when no corrective actions remain
// pending, or parks in observation_actions_pending until they do.
func (m *Machine) Validate(
	ctx context.Context,
	actor *model.ActorContext,
	incidentID string,
	decision model.ValidationDecision,
	notes string,
) (Result, error) {
	if err := actor.Validate(); err != nil {
		return Result{}, model.NewUnauthorizedError("missing actor identity")
	}

	// Authorization is a read gate: an actor without a validator role is
	// told nothing exists, so record existence never leaks across roles or
	// tenants.
	held, err := m.roles.Resolve(ctx, actor)
	if err != nil {
		return Result{}, fmt.Errorf("resolve roles: %w", err)
	}
	if !held.HasAny(validatorRoles...) {
		m.recordRejected("unauthorized")
		return Result{}, model.NewNotFoundError(fmt.Sprintf("incident %q not found", incidentID))
	}

	inc, err := m.store.Get(ctx, actor.TenantID, incidentID)
	if err != nil {
		return Result{}, err
	}

	if inc.EventType != model.EventTypeObservation {
		m.recordRejected("not_observation")
		return Result{}, model.NewValidationError([]model.FieldError{{
			Field: "event_type", Code: "invalid",
			Message: "only observations pass through HSSE validation",
		}})
	}
	if inc.Status != model.StatusPendingHSSEValidation && inc.Status != model.StatusActionsPending {
		m.recordRejected("bad_status")
		return Result{}, model.NewInvalidTransitionError(
			fmt.Sprintf("incident %q is %s, not awaiting HSSE validation", incidentID, inc.Status),
		)
	}

	path, err := ResolvePath(inc.Severity)
	if err != nil {
		m.recordRejected("bad_severity")
		return Result{}, model.NewValidationError([]model.FieldError{{
			Field: "severity", Code: "out_of_range", Message: err.Error(),
		}})
	}

	now := time.Now().UTC()
	prior := inc.Status

	var event model.TransitionEvent
	var validationStatus model.HSSEValidationStatus
	switch decision {
	case model.DecisionReject:
		event = model.EventHSSEReject
		validationStatus = model.HSSEValidationRejected
	case model.DecisionAccept:
		validationStatus = model.HSSEValidationAccepted
		if path.RequiresManagerClosure {
			event = model.EventHSSEEscalate
		} else {
			pending, err := m.actions.CountPending(ctx, actor.TenantID, incidentID)
			if err != nil {
				return Result{}, model.NewPersistenceError("corrective action count unavailable")
			}
			if pending > 0 {
				event = model.EventHSSEHold
			} else {
				event = model.EventHSSEClose
			}
		}
	default:
		m.recordRejected("bad_decision")
		return Result{}, model.NewValidationError([]model.FieldError{{
			Field: "decision", Code: "invalid", Message: fmt.Sprintf("unknown decision %q", decision),
		}})
	}

	newStatus, ok := model.NextStatus(prior, event)
	if !ok {
		m.recordRejected("no_transition")
		return Result{}, model.NewInvalidTransitionError(
			fmt.Sprintf("no transition from %s on %s", prior, event),
		)
	}

	inc.Status = newStatus
	inc.ClosureRequiresManager = path.RequiresManagerClosure
	inc.HSSEValidationStatus = &validationStatus
	inc.HSSEValidatedBy = actor.ActorID
	inc.HSSEValidatedAt = &now
	inc.HSSEValidationNotes = notes
	inc.UpdatedAt = now

	// Primary write first. Failure here aborts the whole operation; no
	// audit entry may exist for a transition that never committed.
	if err := m.store.UpdateStatus(ctx, inc, prior); err != nil {
		return Result{}, err
	}

	m.recordTransition(prior, newStatus)
	m.appendAudit(ctx, actor, inc, model.AuditActionValidated, map[string]any{
		"decision": string(decision),
		"from":     string(prior),
		"to":       string(newStatus),
		"severity": inc.Severity,
		"notes":    notes,
	})
	m.dispatchNotification(ctx, inc.ID, "incident."+string(event), map[string]any{
		"status": string(newStatus),
	})

	observability.RequestLogger(ctx, m.logger).Info("hsse validation applied",
		zap.String("incident_id", inc.ID),
		zap.String("decision", string(decision)),
		zap.String("from", string(prior)),
		zap.String("to", string(newStatus)),
	)

	return Result{IncidentID: inc.ID, NewStatus: newStatus}, nil
}

// ManagerFinalClosure closes a severity-5 record parked in
// pending_final_closure. Only an HSSE manager or admin may perform it.
func (m *Machine) ManagerFinalClosure(
	ctx context.Context,
	actor *model.ActorContext,
	incidentID string,
	justification string,
) (Result, error) {
	if err := actor.Validate(); err != nil {
		return Result{}, model.NewUnauthorizedError("missing actor identity")
	}

	held, err := m.roles.Resolve(ctx, actor)
	if err != nil {
		return Result{}, fmt.Errorf("resolve roles: %w", err)
	}
	if !held.HasAny(closerRoles...) {
		m.recordRejected("unauthorized")
		return Result{}, model.NewNotFoundError(fmt.Sprintf("incident %q not found", incidentID))
	}

	inc, err := m.store.Get(ctx, actor.TenantID, incidentID)
	if err != nil {
		return Result{}, err
	}

	if inc.Status != model.StatusPendingFinalClosure {
		m.recordRejected("bad_status")
		return Result{}, model.NewInvalidTransitionError(
			fmt.Sprintf("incident %q is %s, not awaiting final closure", incidentID, inc.Status),
		)
	}

	newStatus, ok := model.NextStatus(inc.Status, model.EventManagerClose)
	if !ok {
		m.recordRejected("no_transition")
		return Result{}, model.NewInvalidTransitionError(
			fmt.Sprintf("no transition from %s on %s", inc.Status, model.EventManagerClose),
		)
	}

	now := time.Now().UTC()
	prior := inc.Status
	inc.Status = newStatus
	inc.HSSEManagerDecision = "approved"
	inc.HSSEManagerDecisionBy = actor.ActorID
	inc.HSSEManagerJustification = justification
	inc.UpdatedAt = now

	if err := m.store.UpdateStatus(ctx, inc, prior); err != nil {
		return Result{}, err
	}

	m.recordTransition(prior, newStatus)
	m.appendAudit(ctx, actor, inc, model.AuditActionFinalClosure, map[string]any{
		"from":          string(prior),
		"to":            string(newStatus),
		"justification": justification,
	})
	m.dispatchNotification(ctx, inc.ID, "incident.manager_close", map[string]any{
		"status": string(newStatus),
	})

	observability.RequestLogger(ctx, m.logger).Info("manager final closure applied",
		zap.String("incident_id", inc.ID),
	)

	return Result{IncidentID: inc.ID, NewStatus: newStatus}, nil
}

// appendAudit appends a transition entry. Primary-record durability outranks
// audit completeness: a failed append after a committed write is logged and
// counted, never rolled back.
func (m *Machine) appendAudit(ctx context.Context, actor *model.ActorContext, inc model.Incident, action string, details map[string]any) {
	entry := model.AuditLogEntry{
		ID:         uuid.New().String(),
		IncidentID: inc.ID,
		TenantID:   inc.TenantID,
		ActorID:    actor.ActorID,
		Action:     action,
		Details:    details,
		CreatedAt:  time.Now().UTC(),
	}
	if err := m.audit.Append(ctx, entry); err != nil {
		if m.metrics != nil {
			m.metrics.RecordAuditAppendFailure()
		}
		observability.RequestLogger(ctx, m.logger).Warn("audit append failed after committed write",
			zap.String("incident_id", inc.ID),
			zap.String("action", action),
			zap.Error(err),
		)
	}
}

// dispatchNotification invokes the external notification service
// best-effort. Failures are swallowed and logged only.
func (m *Machine) dispatchNotification(ctx context.Context, entityID, action string, payload map[string]any) {
	err := m.notifier.Dispatch(ctx, Notification{
		EntityID: entityID,
		Action:   action,
		Payload:  payload,
	})
	if m.metrics != nil {
		m.metrics.RecordNotificationDispatch(action, err != nil)
	}
	if err != nil {
		observability.RequestLogger(ctx, m.logger).Warn("notification dispatch failed",
			zap.String("entity_id", entityID),
			zap.String("action", action),
			zap.Error(err),
		)
	}
}

func (m *Machine) recordTransition(from, to model.IncidentStatus) {
	if m.metrics != nil {
		m.metrics.RecordApprovalTransition(string(from), string(to))
	}
}

func (m *Machine) recordRejected(reason string) {
	if m.metrics != nil {
		m.metrics.RecordApprovalRejected(reason)
	}
}
