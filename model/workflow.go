package model

import "time"

// InstanceStatus is the lifecycle state of a tracked workflow instance.
type InstanceStatus string

const (
	InstanceActive    InstanceStatus = "active"
	InstanceCompleted InstanceStatus = "completed"
	InstancePaused    InstanceStatus = "paused"
	InstanceCancelled InstanceStatus = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s InstanceStatus) Terminal() bool {
	return s == InstanceCompleted || s == InstanceCancelled
}

// InitialStepID is the step every new workflow instance starts in.
const InitialStepID = "initial"

// WorkflowInstance is one running occurrence of a named, entity-agnostic
// business workflow. The tracker is the only writer; every write replaces the
// full row, which is what makes last-write-wins merging of the change feed
// safe for consumers.
type WorkflowInstance struct {
	ID            string         `json:"id"`
	TenantID      string         `json:"tenant_id"`
	WorkflowID    *string        `json:"workflow_id,omitempty"`
	WorkflowKey   string         `json:"workflow_key"`
	EntityType    string         `json:"entity_type"`
	EntityID      string         `json:"entity_id"`
	CurrentStepID string         `json:"current_step_id"`
	Status        InstanceStatus `json:"status"`
	StartedAt     time.Time      `json:"started_at"`
	CompletedAt   *time.Time     `json:"completed_at,omitempty"`
	StartedBy     string         `json:"started_by"`
	Participants  []string       `json:"participants,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`

	// Version guards concurrent writes with a conditional update.
	Version   int       `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

// WorkflowStepHistory is one append-only row per step an instance passes
// through. At most one row per instance has a nil CompletedAt.
type WorkflowStepHistory struct {
	ID              string     `json:"id"`
	InstanceID      string     `json:"instance_id"`
	StepID          string     `json:"step_id"`
	StepName        string     `json:"step_name"`
	ActorID         string     `json:"actor_id"`
	ActionTaken     string     `json:"action_taken,omitempty"`
	Notes           string     `json:"notes,omitempty"`
	StartedAt       time.Time  `json:"started_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	DurationSeconds *int64     `json:"duration_seconds,omitempty"`
}

// Open reports whether the step row is still the instance's current step.
func (h *WorkflowStepHistory) Open() bool {
	return h.CompletedAt == nil
}

// PerformanceTrend classifies how a workflow's completion times are moving.
type PerformanceTrend string

const (
	TrendImproving PerformanceTrend = "improving"
	TrendStable    PerformanceTrend = "stable"
	TrendDeclining PerformanceTrend = "declining"
)

// WorkflowLiveStatus is the per (tenant, workflow_key) rollup. It is a
// materialized view recomputed from WorkflowInstance and WorkflowStepHistory
// on every read, never a source of truth.
type WorkflowLiveStatus struct {
	TenantID               string           `json:"tenant_id"`
	WorkflowKey            string           `json:"workflow_key"`
	ActiveInstances        int              `json:"active_instances"`
	CompletedToday         int              `json:"completed_today"`
	AvgCompletionTimeHours *float64         `json:"avg_completion_time_hours,omitempty"`
	BottleneckStep         *string          `json:"bottleneck_step,omitempty"`
	BottleneckCount        int              `json:"bottleneck_count"`
	PerformanceTrend       PerformanceTrend `json:"performance_trend"`
	LastUpdated            time.Time        `json:"last_updated"`
}
