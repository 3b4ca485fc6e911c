// Package roles resolves and caches the role names held by an actor. The
// approval state machine treats membership in a fixed role-name set as its
// sole authorization check.
package roles

import (
	"context"
	"sync"
	"time"

	"github.com/pitabwire/aegis/model"
)

// Role names consumed by the approval workflow.
const (
	RoleHSSEExpert    = "hsse_expert"
	RoleHSSEManager   = "hsse_manager"
	RoleEnvironmental = "environmental"
	RoleAdmin         = "admin"
)

// RoleSet is the set of role names held by an actor.
type RoleSet map[string]bool

// Has returns true if the set contains the given role.
func (s RoleSet) Has(role string) bool {
	return s[role]
}

// HasAny returns true if the set contains at least one of the given roles.
func (s RoleSet) HasAny(roles ...string) bool {
	for _, r := range roles {
		if s[r] {
			return true
		}
	}
	return false
}

// Directory looks up the roles currently held by an actor. Implementations
// must be tenant-aware: an actor's roles in one tenant say nothing about
// another.
type Directory interface {
	Resolve(ctx context.Context, actor *model.ActorContext) (RoleSet, error)
}

type cacheEntry struct {
	roles   RoleSet
	expires time.Time
}

// CachedDirectory wraps another Directory with an in-memory TTL cache.
type CachedDirectory struct {
	inner Directory
	ttl   time.Duration
	mu    sync.RWMutex
	cache map[string]cacheEntry
}

// NewCachedDirectory creates a caching wrapper around the given directory.
func NewCachedDirectory(inner Directory, ttl time.Duration) *CachedDirectory {
	return &CachedDirectory{
		inner: inner,
		ttl:   ttl,
		cache: make(map[string]cacheEntry),
	}
}

func cacheKey(actor *model.ActorContext) string {
	return actor.ActorID + ":" + actor.TenantID
}

// Resolve returns the role set for the given actor. Results are cached for
// the configured TTL.
func (d *CachedDirectory) Resolve(ctx context.Context, actor *model.ActorContext) (RoleSet, error) {
	key := cacheKey(actor)

	d.mu.RLock()
	if entry, ok := d.cache[key]; ok && time.Now().Before(entry.expires) {
		d.mu.RUnlock()
		return entry.roles, nil
	}
	d.mu.RUnlock()

	roles, err := d.inner.Resolve(ctx, actor)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	d.cache[key] = cacheEntry{roles: roles, expires: time.Now().Add(d.ttl)}
	d.mu.Unlock()

	return roles, nil
}

// Invalidate clears cached roles for the given actor and tenant.
func (d *CachedDirectory) Invalidate(actorID, tenantID string) {
	d.mu.Lock()
	delete(d.cache, actorID+":"+tenantID)
	d.mu.Unlock()
}
