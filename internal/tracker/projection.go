package tracker

import (
	"sort"

	"github.com/pitabwire/aegis/model"
)

// Projection merges a snapshot with incremental change events into a live
// view of a tenant's instances. Merging is last-write-wins keyed by instance
// id, which is safe only because the tracker is the single writer and every
// write replaces the full row. Duplicate and out-of-order delivery is
// tolerated by comparing versions before overwriting.
type Projection struct {
	instances map[string]model.WorkflowInstance
}

// NewProjection creates an empty projection.
func NewProjection() *Projection {
	return &Projection{instances: make(map[string]model.WorkflowInstance)}
}

// ApplySnapshot resets the projection to the given baseline. Called on first
// load and again after every reconnect, so events missed during an outage
// window are never permanently lost.
func (p *Projection) ApplySnapshot(instances []model.WorkflowInstance) {
	p.instances = make(map[string]model.WorkflowInstance, len(instances))
	for _, inst := range instances {
		p.instances[inst.ID] = inst
	}
}

// Apply folds one change event into the projection. A stale event, one whose
// version is not newer than the row already held, is dropped.
func (p *Projection) Apply(event ChangeEvent) {
	switch event.Type {
	case ChangeDelete:
		delete(p.instances, event.Instance.ID)
	case ChangeInsert, ChangeUpdate:
		current, ok := p.instances[event.Instance.ID]
		if ok && current.Version >= event.Instance.Version {
			return
		}
		p.instances[event.Instance.ID] = event.Instance
	}
}

// Len returns the number of instances currently projected.
func (p *Projection) Len() int {
	return len(p.instances)
}

// Get returns the projected instance for the given id.
func (p *Projection) Get(instanceID string) (model.WorkflowInstance, bool) {
	inst, ok := p.instances[instanceID]
	return inst, ok
}

// Snapshot returns the projected instances, most recently started first.
func (p *Projection) Snapshot() []model.WorkflowInstance {
	out := make([]model.WorkflowInstance, 0, len(p.instances))
	for _, inst := range p.instances {
		out = append(out, inst)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return out
}
