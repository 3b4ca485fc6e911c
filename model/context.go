package model

import (
	"context"
	"errors"
	"fmt"
)

// ActorContext carries the identity and tenancy of the authenticated actor for
// the lifetime of a request. Every core operation receives it explicitly; no
// ambient or global actor state exists anywhere in the codebase. It is
// immutable after construction and safe for concurrent reads.
type ActorContext struct {
	ActorID       string
	Email         string
	TenantID      string
	Roles         []string
	Claims        map[string]any
	CorrelationID string
	TraceID       string
	Locale        string
	Timezone      string
}

// Validate checks that all mandatory fields are present.
// ActorID and TenantID must be non-empty.
func (ac *ActorContext) Validate() error {
	var errs []error
	if ac.ActorID == "" {
		errs = append(errs, fmt.Errorf("ActorID is required"))
	}
	if ac.TenantID == "" {
		errs = append(errs, fmt.Errorf("TenantID is required"))
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// HasRole returns true if the actor holds the given role.
func (ac *ActorContext) HasRole(role string) bool {
	for _, r := range ac.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// HasAnyRole returns true if the actor holds at least one of the given roles.
func (ac *ActorContext) HasAnyRole(roles ...string) bool {
	for _, role := range roles {
		if ac.HasRole(role) {
			return true
		}
	}
	return false
}

// Claim returns the value of the given claim key, or nil if not present.
func (ac *ActorContext) Claim(key string) any {
	if ac.Claims == nil {
		return nil
	}
	return ac.Claims[key]
}

type contextKey struct{}

// WithActorContext attaches an ActorContext to the given context.
func WithActorContext(ctx context.Context, actor *ActorContext) context.Context {
	return context.WithValue(ctx, contextKey{}, actor)
}

// ActorContextFrom extracts the ActorContext from the context, or returns nil
// if not present.
func ActorContextFrom(ctx context.Context) *ActorContext {
	actor, _ := ctx.Value(contextKey{}).(*ActorContext)
	return actor
}

// MustActorContext extracts the ActorContext from the context, panicking if it
// is not present. This is safe to call in handlers that are guaranteed to run
// behind the authentication middleware.
func MustActorContext(ctx context.Context) *ActorContext {
	actor := ActorContextFrom(ctx)
	if actor == nil {
		panic("model: ActorContext not found in context")
	}
	return actor
}
