package shared

import (
	"context"
	"strings"
)

// Role is the opaque role string supplied by the upstream auth gateway.
type Role string

const (
	// RoleAdmin may act on any task, entry or owner.
	RoleAdmin Role = "admin"
	// RoleManager is treated as admin-equivalent for time postings.
	RoleManager Role = "manager"
	// RoleEmployee may act only on records assigned to them.
	RoleEmployee Role = "employee"
)

// Actor identifies who performs an operation.
type Actor struct {
	ID          string
	Role        Role
	DisplayName string
}

// IsAdmin reports whether the actor holds an admin-equivalent role.
func (a Actor) IsAdmin() bool {
	switch Role(strings.ToLower(string(a.Role))) {
	case RoleAdmin, RoleManager:
		return true
	}
	return false
}

// Owns reports whether owner names the actor, ignoring case.
func (a Actor) Owns(owner string) bool {
	return a.ID != "" && strings.EqualFold(strings.TrimSpace(owner), a.ID)
}

// CanActOn reports whether the actor owns the record or is an admin.
func (a Actor) CanActOn(owner string) bool {
	return a.Owns(owner) || a.IsAdmin()
}

type actorContextKey struct{}

// ContextWithActor stores the actor in context.
func ContextWithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext extracts the actor from context.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(Actor)
	return actor, ok && actor.ID != ""
}
