package model

import (
	"fmt"
	"time"
)

// EventType distinguishes reportable safety events.
type EventType string

const (
	EventTypeIncident    EventType = "incident"
	EventTypeObservation EventType = "observation"
)

// IncidentStatus is the closed set of approval-workflow states an incident or
// observation can occupy. Transitions between states are defined exclusively
// by TransitionTable; an update that is not in the table must never reach the
// store.
type IncidentStatus string

const (
	StatusDraft                  IncidentStatus = "draft"
	StatusPendingDeptRepApproval IncidentStatus = "pending_dept_rep_approval"
	StatusPendingHSSEValidation  IncidentStatus = "pending_hsse_validation"
	StatusActionsPending         IncidentStatus = "observation_actions_pending"
	StatusPendingFinalClosure    IncidentStatus = "pending_final_closure"
	StatusClosed                 IncidentStatus = "closed"
)

// Valid reports whether s is a member of the status set.
func (s IncidentStatus) Valid() bool {
	switch s {
	case StatusDraft, StatusPendingDeptRepApproval, StatusPendingHSSEValidation,
		StatusActionsPending, StatusPendingFinalClosure, StatusClosed:
		return true
	}
	return false
}

// Terminal reports whether s admits no further transitions.
func (s IncidentStatus) Terminal() bool {
	return s == StatusClosed
}

// TransitionEvent names an approval decision that moves an incident between
// statuses.
type TransitionEvent string

const (
	EventSubmit         TransitionEvent = "submit"
	EventDeptApprove    TransitionEvent = "dept_approve"
	EventHSSEReject     TransitionEvent = "hsse_reject"
	EventHSSEClose      TransitionEvent = "hsse_close"
	EventHSSEHold       TransitionEvent = "hsse_hold"
	EventHSSEEscalate   TransitionEvent = "hsse_escalate"
	EventActionsCleared TransitionEvent = "actions_cleared"
	EventManagerClose   TransitionEvent = "manager_close"
)

type transitionKey struct {
	From  IncidentStatus
	Event TransitionEvent
}

// TransitionTable is the complete (state, event) -> state map for the
// approval workflow. HSSE validation decisions are accepted both from
// pending_hsse_validation and from observation_actions_pending: once the
// last corrective action closes, the expert re-validates the record from the
// actions-pending state.
var transitionTable = map[transitionKey]IncidentStatus{
	{StatusDraft, EventSubmit}:                       StatusPendingDeptRepApproval,
	{StatusPendingDeptRepApproval, EventDeptApprove}: StatusPendingHSSEValidation,

	{StatusPendingHSSEValidation, EventHSSEReject}:   StatusPendingDeptRepApproval,
	{StatusPendingHSSEValidation, EventHSSEClose}:    StatusClosed,
	{StatusPendingHSSEValidation, EventHSSEHold}:     StatusActionsPending,
	{StatusPendingHSSEValidation, EventHSSEEscalate}: StatusPendingFinalClosure,

	{StatusActionsPending, EventHSSEReject}:   StatusPendingDeptRepApproval,
	{StatusActionsPending, EventHSSEClose}:    StatusClosed,
	{StatusActionsPending, EventHSSEHold}:     StatusActionsPending,
	{StatusActionsPending, EventHSSEEscalate}: StatusPendingFinalClosure,

	{StatusPendingFinalClosure, EventManagerClose}: StatusClosed,
}

// NextStatus resolves the target status for the given (from, event) pair.
// The second return value is false when no such transition exists.
func NextStatus(from IncidentStatus, event TransitionEvent) (IncidentStatus, bool) {
	to, ok := transitionTable[transitionKey{From: from, Event: event}]
	return to, ok
}

// ValidationDecision is an HSSE expert decision on a record awaiting
// validation.
type ValidationDecision string

const (
	DecisionAccept ValidationDecision = "accept"
	DecisionReject ValidationDecision = "reject"
)

// ParseValidationDecision converts a wire string into a ValidationDecision.
func ParseValidationDecision(s string) (ValidationDecision, error) {
	switch ValidationDecision(s) {
	case DecisionAccept:
		return DecisionAccept, nil
	case DecisionReject:
		return DecisionReject, nil
	}
	return "", fmt.Errorf("unknown validation decision %q", s)
}

// HSSEValidationStatus records the outcome of the HSSE validation step.
type HSSEValidationStatus string

const (
	HSSEValidationAccepted HSSEValidationStatus = "accepted"
	HSSEValidationRejected HSSEValidationStatus = "rejected"
)

// Incident is a reportable safety incident or observation moving through the
// severity-driven approval workflow. All fields are tenant-scoped; an incident
// is never visible outside its owning tenant.
type Incident struct {
	ID        string         `json:"id"`
	TenantID  string         `json:"tenant_id"`
	EventType EventType      `json:"event_type"`
	Title     string         `json:"title"`
	Severity  int            `json:"severity"`
	Status    IncidentStatus `json:"status"`

	// ClosureRequiresManager is derived from the severity policy: true iff
	// the severity level requires manager closure (level 5).
	ClosureRequiresManager bool `json:"closure_requires_manager"`

	HSSEValidationStatus     *HSSEValidationStatus `json:"hsse_validation_status,omitempty"`
	HSSEValidatedBy          string                `json:"hsse_validated_by,omitempty"`
	HSSEValidatedAt          *time.Time            `json:"hsse_validated_at,omitempty"`
	HSSEValidationNotes      string                `json:"hsse_validation_notes,omitempty"`
	HSSEManagerDecision      string                `json:"hsse_manager_decision,omitempty"`
	HSSEManagerDecisionBy    string                `json:"hsse_manager_decision_by,omitempty"`
	HSSEManagerJustification string                `json:"hsse_manager_justification,omitempty"`

	DepartmentID string     `json:"department_id,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	DeletedAt    *time.Time `json:"deleted_at,omitempty"`
}

// ApprovalStageStatuses is the set of statuses in which an incident counts as
// awaiting someone's approval. Consumed by the pending-approvals aggregator.
var ApprovalStageStatuses = []IncidentStatus{
	StatusPendingDeptRepApproval,
	StatusPendingHSSEValidation,
	StatusPendingFinalClosure,
}
