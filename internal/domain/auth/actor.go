package auth

import (
	"context"
	"fmt"
)

// Role names a staff role carried in bearer tokens.
type Role string

const (
	// RoleCashier takes orders and payments at a register.
	RoleCashier Role = "cashier"
	// RoleKitchen operates a preparation station.
	RoleKitchen Role = "kitchen"
	// RoleManager may additionally refund orders and change the tax profile.
	RoleManager Role = "manager"
)

// Known reports whether r is one of the staff roles.
func (r Role) Known() bool {
	switch r {
	case RoleCashier, RoleKitchen, RoleManager:
		return true
	default:
		return false
	}
}

// Actor identifies the employee performing an operation.
type Actor struct {
	EmployeeID string
	Role       Role
}

// IsManager reports whether the actor holds manager privilege.
func (a Actor) IsManager() bool {
	return a.Role == RoleManager
}

// AuthorizationError indicates the actor's role does not permit an action.
type AuthorizationError struct {
	Role   Role
	Action string
}

func (e *AuthorizationError) Error() string {
	if e.Role == "" {
		return fmt.Sprintf("%s: no staff role", e.Action)
	}
	return fmt.Sprintf("%s: role %q is not permitted", e.Action, e.Role)
}

// RequireManager returns an AuthorizationError unless a is a manager.
func RequireManager(a Actor, action string) error {
	if !a.IsManager() {
		return &AuthorizationError{Role: a.Role, Action: action}
	}
	return nil
}

// RequireStaff returns an AuthorizationError unless a has a known role.
func RequireStaff(a Actor, action string) error {
	if !a.Role.Known() {
		return &AuthorizationError{Role: a.Role, Action: action}
	}
	return nil
}

type actorKey struct{}

// WithActor stores the actor in ctx.
func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, a)
}

// ActorFrom extracts the actor stored by WithActor.
func ActorFrom(ctx context.Context) (Actor, bool) {
	a, ok := ctx.Value(actorKey{}).(Actor)
	return a, ok
}
