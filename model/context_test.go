package model

import (
	"context"
	"testing"
)

func TestActorContext_Validate(t *testing.T) {
	tests := []struct {
		name    string
		actor   *ActorContext
		wantErr bool
	}{
		{
			name: "valid context",
			actor: &ActorContext{
				ActorID:  "user-1",
				TenantID: "tenant-1",
			},
			wantErr: false,
		},
		{
			name: "missing ActorID",
			actor: &ActorContext{
				TenantID: "tenant-1",
			},
			wantErr: true,
		},
		{
			name: "missing TenantID",
			actor: &ActorContext{
				ActorID: "user-1",
			},
			wantErr: true,
		},
		{
			name:    "missing both",
			actor:   &ActorContext{},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.actor.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestActorContext_HasRole(t *testing.T) {
	actor := &ActorContext{
		Roles: []string{"hsse_expert", "viewer"},
	}
	if !actor.HasRole("hsse_expert") {
		t.Error("HasRole(hsse_expert) = false, want true")
	}
	if actor.HasRole("hsse_manager") {
		t.Error("HasRole(hsse_manager) = true, want false")
	}
}

func TestActorContext_HasAnyRole(t *testing.T) {
	actor := &ActorContext{
		Roles: []string{"environmental"},
	}
	if !actor.HasAnyRole("hsse_expert", "environmental") {
		t.Error("HasAnyRole should match environmental")
	}
	if actor.HasAnyRole("hsse_expert", "hsse_manager") {
		t.Error("HasAnyRole should not match")
	}
	if actor.HasAnyRole() {
		t.Error("HasAnyRole() with no roles = true, want false")
	}
}

func TestActorContext_Claim(t *testing.T) {
	actor := &ActorContext{
		Claims: map[string]any{"department_id": "dept-7"},
	}
	if got := actor.Claim("department_id"); got != "dept-7" {
		t.Errorf("Claim(department_id) = %v, want dept-7", got)
	}
	if got := actor.Claim("missing"); got != nil {
		t.Errorf("Claim(missing) = %v, want nil", got)
	}

	empty := &ActorContext{}
	if got := empty.Claim("any"); got != nil {
		t.Errorf("Claim on nil claims = %v, want nil", got)
	}
}

func TestActorContext_roundTrip(t *testing.T) {
	actor := &ActorContext{ActorID: "user-1", TenantID: "tenant-1"}
	ctx := WithActorContext(context.Background(), actor)

	if got := ActorContextFrom(ctx); got != actor {
		t.Errorf("ActorContextFrom = %v, want original pointer", got)
	}
	if got := MustActorContext(ctx); got != actor {
		t.Errorf("MustActorContext = %v, want original pointer", got)
	}
}

func TestActorContextFrom_absent(t *testing.T) {
	if got := ActorContextFrom(context.Background()); got != nil {
		t.Errorf("ActorContextFrom(empty) = %v, want nil", got)
	}

	defer func() {
		if recover() == nil {
			t.Error("MustActorContext should panic on empty context")
		}
	}()
	MustActorContext(context.Background())
}
