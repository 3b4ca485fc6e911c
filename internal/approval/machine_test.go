package approval

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pitabwire/aegis/internal/audit"
	"github.com/pitabwire/aegis/internal/roles"
	"github.com/pitabwire/aegis/model"
)

// --- Test helpers ---

func testActor() *model.ActorContext {
	return &model.ActorContext{
		ActorID:  "user-expert",
		TenantID: "tenant-1",
		Email:    "expert@example.com",
	}
}

// staticRoles returns the same role set for every actor.
type staticRoles struct {
	set roles.RoleSet
}

func (s staticRoles) Resolve(_ context.Context, _ *model.ActorContext) (roles.RoleSet, error) {
	return s.set, nil
}

// captureNotifier records dispatched notifications.
type captureNotifier struct {
	mu            sync.Mutex
	notifications []Notification
	err           error
}

func (n *captureNotifier) Dispatch(_ context.Context, notification Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.notifications = append(n.notifications, notification)
	return nil
}

func (n *captureNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.notifications)
}

func testObservation(id string, severity int, status model.IncidentStatus) model.Incident {
	now := time.Now().UTC().Add(-time.Hour)
	return model.Incident{
		ID:        id,
		TenantID:  "tenant-1",
		EventType: model.EventTypeObservation,
		Title:     "loose scaffolding on level 3",
		Severity:  severity,
		Status:    status,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func newTestMachine(held roles.RoleSet) (*Machine, *MemoryIncidentStore, *audit.MemoryWriter, *captureNotifier) {
	store := NewMemoryIncidentStore()
	auditLog := audit.NewMemoryWriter()
	notifier := &captureNotifier{}
	m := NewMachine(store, store, staticRoles{set: held}, auditLog, notifier, nil, nil)
	return m, store, auditLog, notifier
}

func expertRoles() roles.RoleSet {
	return roles.RoleSet{roles.RoleHSSEExpert: true}
}

func managerRoles() roles.RoleSet {
	return roles.RoleSet{roles.RoleHSSEManager: true}
}

func codeOf(t *testing.T, err error) string {
	t.Helper()
	var envelope *model.ErrorEnvelope
	if !errors.As(err, &envelope) {
		t.Fatalf("error %v is not an ErrorEnvelope", err)
	}
	return envelope.Code
}

// --- Validate tests ---

func TestMachine_Validate_reject(t *testing.T) {
	m, store, auditLog, notifier := newTestMachine(expertRoles())
	store.Put(testObservation("obs-1", 3, model.StatusPendingHSSEValidation))
	ctx := context.Background()

	res, err := m.Validate(ctx, testActor(), "obs-1", model.DecisionReject, "photo missing")
	if err != nil {
		t.Fatalf("Validate error: %v", err)
	}
	if res.NewStatus != model.StatusPendingDeptRepApproval {
		t.Errorf("NewStatus = %q, want pending_dept_rep_approval", res.NewStatus)
	}

	inc, _ := store.Get(ctx, "tenant-1", "obs-1")
	if inc.HSSEValidationStatus == nil || *inc.HSSEValidationStatus != model.HSSEValidationRejected {
		t.Errorf("HSSEValidationStatus = %v, want rejected", inc.HSSEValidationStatus)
	}
	if inc.HSSEValidatedBy != "user-expert" {
		t.Errorf("HSSEValidatedBy = %q", inc.HSSEValidatedBy)
	}
	if inc.HSSEValidationNotes != "photo missing" {
		t.Errorf("HSSEValidationNotes = %q", inc.HSSEValidationNotes)
	}
	if auditLog.Len() != 1 {
		t.Errorf("audit entries = %d, want 1", auditLog.Len())
	}
	if notifier.count() != 1 {
		t.Errorf("notifications = %d, want 1", notifier.count())
	}
}

func TestMachine_Validate_acceptSeverity5Escalates(t *testing.T) {
	m, store, _, _ := newTestMachine(expertRoles())
	store.Put(testObservation("obs-5", 5, model.StatusPendingHSSEValidation))
	ctx := context.Background()

	res, err := m.Validate(ctx, testActor(), "obs-5", model.DecisionAccept, "")
	if err != nil {
		t.Fatalf("Validate error: %v", err)
	}
	if res.NewStatus != model.StatusPendingFinalClosure {
		t.Errorf("NewStatus = %q, want pending_final_closure", res.NewStatus)
	}

	inc, _ := store.Get(ctx, "tenant-1", "obs-5")
	if !inc.ClosureRequiresManager {
		t.Error("ClosureRequiresManager = false, want true for severity 5")
	}
}

func TestMachine_Validate_acceptWithPendingActionsParks(t *testing.T) {
	m, store, _, _ := newTestMachine(expertRoles())
	store.Put(testObservation("obs-3", 3, model.StatusPendingHSSEValidation))
	store.SetPendingActions("obs-3", 2)
	ctx := context.Background()

	res, err := m.Validate(ctx, testActor(), "obs-3", model.DecisionAccept, "")
	if err != nil {
		t.Fatalf("Validate error: %v", err)
	}
	if res.NewStatus != model.StatusActionsPending {
		t.Errorf("NewStatus = %q, want observation_actions_pending", res.NewStatus)
	}
}

func TestMachine_Validate_acceptWithNoActionsCloses(t *testing.T) {
	m, store, _, _ := newTestMachine(expertRoles())
	store.Put(testObservation("obs-3", 3, model.StatusPendingHSSEValidation))
	ctx := context.Background()

	res, err := m.Validate(ctx, testActor(), "obs-3", model.DecisionAccept, "")
	if err != nil {
		t.Fatalf("Validate error: %v", err)
	}
	if res.NewStatus != model.StatusClosed {
		t.Errorf("NewStatus = %q, want closed", res.NewStatus)
	}
}

func TestMachine_Validate_revalidationAfterActionsClear(t *testing.T) {
	// Full observation lifecycle: accept parks the record while corrective
	// actions are open, then a second accept closes it once they are done.
	m, store, auditLog, _ := newTestMachine(expertRoles())
	store.Put(testObservation("obs-3", 3, model.StatusPendingHSSEValidation))
	store.SetPendingActions("obs-3", 1)
	ctx := context.Background()

	res, err := m.Validate(ctx, testActor(), "obs-3", model.DecisionAccept, "")
	if err != nil {
		t.Fatalf("first Validate error: %v", err)
	}
	if res.NewStatus != model.StatusActionsPending {
		t.Fatalf("NewStatus = %q, want observation_actions_pending", res.NewStatus)
	}

	store.SetPendingActions("obs-3", 0)

	res, err = m.Validate(ctx, testActor(), "obs-3", model.DecisionAccept, "actions verified")
	if err != nil {
		t.Fatalf("second Validate error: %v", err)
	}
	if res.NewStatus != model.StatusClosed {
		t.Errorf("NewStatus = %q, want closed", res.NewStatus)
	}
	if auditLog.Len() != 2 {
		t.Errorf("audit entries = %d, want 2", auditLog.Len())
	}
}

func TestMachine_Validate_doubleRejectConflicts(t *testing.T) {
	m, store, auditLog, _ := newTestMachine(expertRoles())
	store.Put(testObservation("obs-1", 3, model.StatusPendingHSSEValidation))
	ctx := context.Background()

	if _, err := m.Validate(ctx, testActor(), "obs-1", model.DecisionReject, ""); err != nil {
		t.Fatalf("first Validate error: %v", err)
	}

	_, err := m.Validate(ctx, testActor(), "obs-1", model.DecisionReject, "")
	if err == nil {
		t.Fatal("second Validate succeeded, want INVALID_TRANSITION")
	}
	if code := codeOf(t, err); code != model.ErrInvalidTransition {
		t.Errorf("code = %q, want INVALID_TRANSITION", code)
	}
	if auditLog.Len() != 1 {
		t.Errorf("audit entries = %d, want 1", auditLog.Len())
	}
}

func TestMachine_Validate_unauthorizedRoleReadsAsNotFound(t *testing.T) {
	m, store, auditLog, notifier := newTestMachine(roles.RoleSet{"site_supervisor": true})
	store.Put(testObservation("obs-1", 3, model.StatusPendingHSSEValidation))
	ctx := context.Background()

	_, err := m.Validate(ctx, testActor(), "obs-1", model.DecisionAccept, "")
	if err == nil {
		t.Fatal("Validate succeeded for actor without validator role")
	}
	if code := codeOf(t, err); code != model.ErrNotFound {
		t.Errorf("code = %q, want NOT_FOUND", code)
	}

	inc, _ := store.Get(ctx, "tenant-1", "obs-1")
	if inc.Status != model.StatusPendingHSSEValidation {
		t.Errorf("Status = %q, record must be untouched", inc.Status)
	}
	if auditLog.Len() != 0 {
		t.Errorf("audit entries = %d, want 0", auditLog.Len())
	}
	if notifier.count() != 0 {
		t.Errorf("notifications = %d, want 0", notifier.count())
	}
}

func TestMachine_Validate_wrongTenantReadsAsNotFound(t *testing.T) {
	m, store, _, _ := newTestMachine(expertRoles())
	obs := testObservation("obs-1", 3, model.StatusPendingHSSEValidation)
	obs.TenantID = "tenant-2"
	store.Put(obs)

	_, err := m.Validate(context.Background(), testActor(), "obs-1", model.DecisionAccept, "")
	if err == nil {
		t.Fatal("Validate succeeded across tenants")
	}
	if code := codeOf(t, err); code != model.ErrNotFound {
		t.Errorf("code = %q, want NOT_FOUND", code)
	}
}

func TestMachine_Validate_incidentRejected(t *testing.T) {
	m, store, _, _ := newTestMachine(expertRoles())
	inc := testObservation("inc-1", 3, model.StatusPendingHSSEValidation)
	inc.EventType = model.EventTypeIncident
	store.Put(inc)

	_, err := m.Validate(context.Background(), testActor(), "inc-1", model.DecisionAccept, "")
	if err == nil {
		t.Fatal("Validate accepted an incident")
	}
	if code := codeOf(t, err); code != model.ErrValidationError {
		t.Errorf("code = %q, want VALIDATION_ERROR", code)
	}
}

func TestMachine_Validate_wrongStatus(t *testing.T) {
	m, store, _, _ := newTestMachine(expertRoles())
	store.Put(testObservation("obs-1", 3, model.StatusDraft))

	_, err := m.Validate(context.Background(), testActor(), "obs-1", model.DecisionAccept, "")
	if err == nil {
		t.Fatal("Validate succeeded on draft record")
	}
	if code := codeOf(t, err); code != model.ErrInvalidTransition {
		t.Errorf("code = %q, want INVALID_TRANSITION", code)
	}
}

func TestMachine_Validate_severityOutOfRange(t *testing.T) {
	m, store, _, _ := newTestMachine(expertRoles())
	store.Put(testObservation("obs-1", 9, model.StatusPendingHSSEValidation))

	_, err := m.Validate(context.Background(), testActor(), "obs-1", model.DecisionAccept, "")
	if err == nil {
		t.Fatal("Validate succeeded with severity 9")
	}
	if code := codeOf(t, err); code != model.ErrValidationError {
		t.Errorf("code = %q, want VALIDATION_ERROR", code)
	}
}

func TestMachine_Validate_storeFailureAborts(t *testing.T) {
	m, store, auditLog, notifier := newTestMachine(expertRoles())
	store.Put(testObservation("obs-1", 3, model.StatusPendingHSSEValidation))
	store.FailUpdate = model.NewPersistenceError("incident row unavailable")
	ctx := context.Background()

	_, err := m.Validate(ctx, testActor(), "obs-1", model.DecisionAccept, "")
	if err == nil {
		t.Fatal("Validate succeeded despite store failure")
	}
	if code := codeOf(t, err); code != model.ErrPersistenceError {
		t.Errorf("code = %q, want PERSISTENCE_ERROR", code)
	}
	if auditLog.Len() != 0 {
		t.Errorf("audit entries = %d, want 0 after aborted write", auditLog.Len())
	}
	if notifier.count() != 0 {
		t.Errorf("notifications = %d, want 0 after aborted write", notifier.count())
	}
}

func TestMachine_Validate_auditFailureDoesNotAbort(t *testing.T) {
	m, store, auditLog, notifier := newTestMachine(expertRoles())
	store.Put(testObservation("obs-1", 3, model.StatusPendingHSSEValidation))
	auditLog.FailAppend = errors.New("audit table unavailable")
	ctx := context.Background()

	res, err := m.Validate(ctx, testActor(), "obs-1", model.DecisionAccept, "")
	if err != nil {
		t.Fatalf("Validate error: %v", err)
	}
	if res.NewStatus != model.StatusClosed {
		t.Errorf("NewStatus = %q, want closed", res.NewStatus)
	}

	inc, _ := store.Get(ctx, "tenant-1", "obs-1")
	if inc.Status != model.StatusClosed {
		t.Errorf("Status = %q, primary write must stand", inc.Status)
	}
	if notifier.count() != 1 {
		t.Errorf("notifications = %d, want 1", notifier.count())
	}
}

func TestMachine_Validate_notificationFailureSwallowed(t *testing.T) {
	m, store, auditLog, notifier := newTestMachine(expertRoles())
	store.Put(testObservation("obs-1", 3, model.StatusPendingHSSEValidation))
	notifier.err = errors.New("notification service down")

	res, err := m.Validate(context.Background(), testActor(), "obs-1", model.DecisionAccept, "")
	if err != nil {
		t.Fatalf("Validate error: %v", err)
	}
	if res.NewStatus != model.StatusClosed {
		t.Errorf("NewStatus = %q, want closed", res.NewStatus)
	}
	if auditLog.Len() != 1 {
		t.Errorf("audit entries = %d, want 1", auditLog.Len())
	}
}

func TestMachine_Validate_missingActor(t *testing.T) {
	m, _, _, _ := newTestMachine(expertRoles())

	_, err := m.Validate(context.Background(), &model.ActorContext{}, "obs-1", model.DecisionAccept, "")
	if err == nil {
		t.Fatal("Validate succeeded without actor identity")
	}
	if code := codeOf(t, err); code != model.ErrUnauthorized {
		t.Errorf("code = %q, want UNAUTHORIZED", code)
	}
}

// --- ManagerFinalClosure tests ---

func TestMachine_ManagerFinalClosure_success(t *testing.T) {
	m, store, auditLog, _ := newTestMachine(managerRoles())
	obs := testObservation("obs-5", 5, model.StatusPendingFinalClosure)
	obs.ClosureRequiresManager = true
	store.Put(obs)
	ctx := context.Background()

	actor := testActor()
	actor.ActorID = "user-manager"

	res, err := m.ManagerFinalClosure(ctx, actor, "obs-5", "investigation complete")
	if err != nil {
		t.Fatalf("ManagerFinalClosure error: %v", err)
	}
	if res.NewStatus != model.StatusClosed {
		t.Errorf("NewStatus = %q, want closed", res.NewStatus)
	}

	inc, _ := store.Get(ctx, "tenant-1", "obs-5")
	if inc.HSSEManagerDecision != "approved" {
		t.Errorf("HSSEManagerDecision = %q, want approved", inc.HSSEManagerDecision)
	}
	if inc.HSSEManagerDecisionBy != "user-manager" {
		t.Errorf("HSSEManagerDecisionBy = %q", inc.HSSEManagerDecisionBy)
	}
	if inc.HSSEManagerJustification != "investigation complete" {
		t.Errorf("HSSEManagerJustification = %q", inc.HSSEManagerJustification)
	}

	entries, _ := auditLog.List(ctx, "tenant-1", "obs-5")
	if len(entries) != 1 || entries[0].Action != model.AuditActionFinalClosure {
		t.Errorf("audit entries = %+v, want one manager_final_closure", entries)
	}
}

func TestMachine_ManagerFinalClosure_wrongStatus(t *testing.T) {
	m, store, _, _ := newTestMachine(managerRoles())
	store.Put(testObservation("obs-1", 5, model.StatusPendingHSSEValidation))

	_, err := m.ManagerFinalClosure(context.Background(), testActor(), "obs-1", "")
	if err == nil {
		t.Fatal("ManagerFinalClosure succeeded outside pending_final_closure")
	}
	if code := codeOf(t, err); code != model.ErrInvalidTransition {
		t.Errorf("code = %q, want INVALID_TRANSITION", code)
	}
}

func TestMachine_ManagerFinalClosure_expertReadsAsNotFound(t *testing.T) {
	m, store, _, _ := newTestMachine(expertRoles())
	store.Put(testObservation("obs-5", 5, model.StatusPendingFinalClosure))

	_, err := m.ManagerFinalClosure(context.Background(), testActor(), "obs-5", "")
	if err == nil {
		t.Fatal("ManagerFinalClosure succeeded for expert role")
	}
	if code := codeOf(t, err); code != model.ErrNotFound {
		t.Errorf("code = %q, want NOT_FOUND", code)
	}
}

// --- End-to-end severity 5 path ---

func TestMachine_severity5FullPath(t *testing.T) {
	store := NewMemoryIncidentStore()
	auditLog := audit.NewMemoryWriter()
	both := roles.RoleSet{roles.RoleHSSEExpert: true, roles.RoleHSSEManager: true}
	m := NewMachine(store, store, staticRoles{set: both}, auditLog, nil, nil, nil)

	store.Put(testObservation("obs-5", 5, model.StatusPendingHSSEValidation))
	ctx := context.Background()

	res, err := m.Validate(ctx, testActor(), "obs-5", model.DecisionAccept, "confirmed hazard")
	if err != nil {
		t.Fatalf("Validate error: %v", err)
	}
	if res.NewStatus != model.StatusPendingFinalClosure {
		t.Fatalf("NewStatus = %q, want pending_final_closure", res.NewStatus)
	}

	res, err = m.ManagerFinalClosure(ctx, testActor(), "obs-5", "controls in place")
	if err != nil {
		t.Fatalf("ManagerFinalClosure error: %v", err)
	}
	if res.NewStatus != model.StatusClosed {
		t.Fatalf("NewStatus = %q, want closed", res.NewStatus)
	}

	entries, _ := auditLog.List(ctx, "tenant-1", "obs-5")
	if len(entries) != 2 {
		t.Fatalf("audit entries = %d, want 2", len(entries))
	}
	if entries[0].Action != model.AuditActionValidated || entries[1].Action != model.AuditActionFinalClosure {
		t.Errorf("audit actions = %q, %q", entries[0].Action, entries[1].Action)
	}
}
