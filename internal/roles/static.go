package roles

import (
	"context"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/pitabwire/aegis/model"
)

type policyFile struct {
	// Actors maps "tenant_id/actor_id" to explicit role grants.
	Actors map[string][]string `yaml:"actors"`
}

// StaticDirectory resolves roles from the actor's verified token claims,
// optionally extended by a static YAML grants file. It serves as the external
// role lookup collaborator in deployments without a dedicated identity
// backend.
type StaticDirectory struct {
	path   string
	mu     sync.RWMutex
	policy policyFile
}

// NewStaticDirectory creates a directory backed by the grants file at path.
// An empty path yields a directory that resolves claim roles only.
func NewStaticDirectory(path string) (*StaticDirectory, error) {
	d := &StaticDirectory{path: path}
	if path != "" {
		if err := d.Sync(); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// Resolve returns the union of the actor's claim roles and any static grants.
func (d *StaticDirectory) Resolve(_ context.Context, actor *model.ActorContext) (RoleSet, error) {
	roles := make(RoleSet, len(actor.Roles))
	for _, r := range actor.Roles {
		roles[r] = true
	}

	d.mu.RLock()
	for _, r := range d.policy.Actors[actor.TenantID+"/"+actor.ActorID] {
		roles[r] = true
	}
	d.mu.RUnlock()

	return roles, nil
}

// Sync reloads the grants file from disk.
func (d *StaticDirectory) Sync() error {
	data, err := os.ReadFile(d.path)
	if err != nil {
		return fmt.Errorf("roles: reading grants file %s: %w", d.path, err)
	}

	var p policyFile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("roles: parsing grants file %s: %w", d.path, err)
	}

	d.mu.Lock()
	d.policy = p
	d.mu.Unlock()

	return nil
}
