package auth

import (
	"context"
	"errors"
	"slices"
)

// Role names carried in tokens.
const (
	RolePlayer = "player"
	RoleStaff  = "staff"
	RoleAdmin  = "admin"
)

// Permissions checked by the engine.
const (
	PermAward    = "points:award"
	PermGrant    = "grants:issue"
	PermOverride = "override"
	PermManage   = "characters:manage"
)

var staffPermissions = []string{PermAward, PermGrant, PermManage}

// Actor is whoever is making a request: a player acting on their own
// characters, or staff acting on anyone's.
type Actor struct {
	ID       string   `json:"id"`
	PlayerID string   `json:"player_id,omitempty"`
	Roles    []string `json:"roles,omitempty"`
}

// System is the actor used by command line tools and background jobs.
var System = Actor{ID: "system", Roles: []string{RoleAdmin}}

func (a Actor) HasRole(role string) bool {
	return slices.Contains(a.Roles, role)
}

// IsStaff reports whether the actor holds the staff or admin role.
func (a Actor) IsStaff() bool {
	return a.HasRole(RoleStaff) || a.HasRole(RoleAdmin)
}

// Can checks a permission. Admin holds every permission; staff hold all but
// override.
func (a Actor) Can(permission string) bool {
	if a.HasRole(RoleAdmin) {
		return true
	}
	if a.HasRole(RoleStaff) {
		return slices.Contains(staffPermissions, permission)
	}
	return false
}

// CanManage reports whether the actor may act on a character owned by
// playerID.
func (a Actor) CanManage(playerID string) bool {
	if a.Can(PermManage) {
		return true
	}
	return a.PlayerID != "" && a.PlayerID == playerID
}

type contextKey string

const actorKey contextKey = "actor"

var ErrNoActor = errors.New("auth: no actor in context")

// WithActor attaches an Actor to the context.
func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, actorKey, a)
}

// ActorFrom retrieves the Actor from the context.
func ActorFrom(ctx context.Context) (Actor, error) {
	a, ok := ctx.Value(actorKey).(Actor)
	if !ok {
		return Actor{}, ErrNoActor
	}
	return a, nil
}
