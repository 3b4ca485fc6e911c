// Package livestatus computes per-workflow rollups and bottleneck alerts
// from the tracker's instances and step history. Every aggregate is a pure,
// idempotent fold over store reads, recomputed on demand; nothing here is a
// source of truth.
package livestatus

import (
	"sort"
	"time"

	"github.com/pitabwire/aegis/model"
)

// Bottleneck severity thresholds on the open-step count.
const (
	SeverityLow    = "low"
	SeverityMedium = "medium"
	SeverityHigh   = "high"
)

// Trend classification compares mean completion time over the trailing
// window against the window before it; a relative change within the band is
// stable.
const (
	trendWindow = 7 * 24 * time.Hour
	trendBand   = 0.10
)

// BottleneckAlert reports the step where the most active instances of a
// workflow are currently stuck.
type BottleneckAlert struct {
	WorkflowKey string `json:"workflow_key"`
	StepID      string `json:"step_id"`
	Count       int    `json:"count"`
	Severity    string `json:"severity"`
}

// WorkflowMetrics is the cross-workflow rollup for one tenant.
type WorkflowMetrics struct {
	TotalActive         int                    `json:"total_active"`
	CompletedToday      int                    `json:"completed_today"`
	AvgCompletionHours  *float64               `json:"avg_completion_hours,omitempty"`
	Bottlenecks         []BottleneckAlert      `json:"bottlenecks"`
	StatusBreakdown     map[string]int         `json:"status_breakdown"`
	PerformanceTrend    model.PerformanceTrend `json:"performance_trend"`
	InstancesByWorkflow map[string]int         `json:"instances_by_workflow"`
}

// BottleneckSeverity classifies an open-step count: under 5 is low, 5 to 9
// is medium, 10 and above is high.
func BottleneckSeverity(count int) string {
	switch {
	case count >= 10:
		return SeverityHigh
	case count >= 5:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// ClassifyTrend compares the mean completion time of instances completed in
// the trailing seven days against those completed in the seven days before
// that. A drop of more than ten percent is improving, a rise of more than
// ten percent is declining, anything else, including an empty window, is
// stable.
func ClassifyTrend(instances []model.WorkflowInstance, now time.Time) model.PerformanceTrend {
	var recentSum, priorSum time.Duration
	var recentN, priorN int

	recentCutoff := now.Add(-trendWindow)
	priorCutoff := now.Add(-2 * trendWindow)

	for _, inst := range instances {
		if inst.Status != model.InstanceCompleted || inst.CompletedAt == nil {
			continue
		}
		completion := inst.CompletedAt.Sub(inst.StartedAt)
		if completion < 0 {
			completion = 0
		}
		switch {
		case inst.CompletedAt.After(recentCutoff):
			recentSum += completion
			recentN++
		case inst.CompletedAt.After(priorCutoff):
			priorSum += completion
			priorN++
		}
	}

	if recentN == 0 || priorN == 0 {
		return model.TrendStable
	}

	recentMean := float64(recentSum) / float64(recentN)
	priorMean := float64(priorSum) / float64(priorN)
	if priorMean == 0 {
		return model.TrendStable
	}

	change := (recentMean - priorMean) / priorMean
	switch {
	case change < -trendBand:
		return model.TrendImproving
	case change > trendBand:
		return model.TrendDeclining
	}
	return model.TrendStable
}

// ComputeLiveStatus folds one workflow's instances and open step rows into
// its rollup. The openSteps slice must already be restricted to the same
// workflow's active instances.
func ComputeLiveStatus(
	tenantID, workflowKey string,
	instances []model.WorkflowInstance,
	openSteps []model.WorkflowStepHistory,
	now time.Time,
) model.WorkflowLiveStatus {
	status := model.WorkflowLiveStatus{
		TenantID:         tenantID,
		WorkflowKey:      workflowKey,
		PerformanceTrend: ClassifyTrend(instances, now),
		LastUpdated:      now,
	}

	dayStart := now.UTC().Truncate(24 * time.Hour)
	var completionSum time.Duration
	var completedN int

	for _, inst := range instances {
		switch inst.Status {
		case model.InstanceActive:
			status.ActiveInstances++
		case model.InstanceCompleted:
			if inst.CompletedAt == nil {
				continue
			}
			if !inst.CompletedAt.Before(dayStart) {
				status.CompletedToday++
			}
			completion := inst.CompletedAt.Sub(inst.StartedAt)
			if completion < 0 {
				completion = 0
			}
			completionSum += completion
			completedN++
		}
	}

	if completedN > 0 {
		hours := completionSum.Hours() / float64(completedN)
		status.AvgCompletionTimeHours = &hours
	}

	if step, count := busiestStep(openSteps); count > 0 {
		status.BottleneckStep = &step
		status.BottleneckCount = count
	}

	return status
}

// busiestStep returns the step id with the most open rows. Ties break on the
// lexicographically smaller step id so the fold stays deterministic.
func busiestStep(openSteps []model.WorkflowStepHistory) (string, int) {
	counts := make(map[string]int, len(openSteps))
	for _, step := range openSteps {
		counts[step.StepID]++
	}

	var bestStep string
	var bestCount int
	for stepID, count := range counts {
		if count > bestCount || (count == bestCount && count > 0 && stepID < bestStep) {
			bestStep = stepID
			bestCount = count
		}
	}
	return bestStep, bestCount
}

// ComputeMetrics folds the per-key rollups and the raw instance list into
// the tenant-wide metrics view.
func ComputeMetrics(statuses []model.WorkflowLiveStatus, instances []model.WorkflowInstance) WorkflowMetrics {
	metrics := WorkflowMetrics{
		Bottlenecks:         []BottleneckAlert{},
		StatusBreakdown:     make(map[string]int),
		InstancesByWorkflow: make(map[string]int),
		PerformanceTrend:    model.TrendStable,
	}

	var hoursSum float64
	var hoursN int
	trendVotes := make(map[model.PerformanceTrend]int)

	for _, status := range statuses {
		metrics.TotalActive += status.ActiveInstances
		metrics.CompletedToday += status.CompletedToday
		if status.AvgCompletionTimeHours != nil {
			hoursSum += *status.AvgCompletionTimeHours
			hoursN++
		}
		trendVotes[status.PerformanceTrend]++
		if status.BottleneckStep != nil {
			metrics.Bottlenecks = append(metrics.Bottlenecks, BottleneckAlert{
				WorkflowKey: status.WorkflowKey,
				StepID:      *status.BottleneckStep,
				Count:       status.BottleneckCount,
				Severity:    BottleneckSeverity(status.BottleneckCount),
			})
		}
	}

	if hoursN > 0 {
		avg := hoursSum / float64(hoursN)
		metrics.AvgCompletionHours = &avg
	}

	sort.Slice(metrics.Bottlenecks, func(i, j int) bool {
		if metrics.Bottlenecks[i].Count == metrics.Bottlenecks[j].Count {
			return metrics.Bottlenecks[i].WorkflowKey < metrics.Bottlenecks[j].WorkflowKey
		}
		return metrics.Bottlenecks[i].Count > metrics.Bottlenecks[j].Count
	})

	for _, inst := range instances {
		metrics.StatusBreakdown[string(inst.Status)]++
		metrics.InstancesByWorkflow[inst.WorkflowKey]++
	}

	best := 0
	for _, trend := range []model.PerformanceTrend{model.TrendStable, model.TrendImproving, model.TrendDeclining} {
		if trendVotes[trend] > best {
			best = trendVotes[trend]
			metrics.PerformanceTrend = trend
		}
	}

	return metrics
}
