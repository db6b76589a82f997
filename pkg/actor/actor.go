// Package actor identifies the caller performing a stock-affecting action.
//
// The HTTP and messaging layers build an Actor from the bearer token or the
// event envelope and hand it to the inventory services as an explicit
// argument. The services never read it from ambient state.
package actor

import (
	"context"
	"fmt"
)

// Actor is the caller identity supplied by the authorization layer.
type Actor struct {
	// ID is the acting user's ID
	ID string `json:"id"`

	// Name is a display name for logs and audit output
	Name string `json:"name,omitempty"`

	// BranchID is the branch the caller is affiliated with
	BranchID string `json:"branch_id"`

	// Elevated marks administrators allowed to correct counts, restore
	// adjustments and act on any branch
	Elevated bool `json:"elevated"`

	// Permissions are the raw permission strings the elevated flag was derived from
	Permissions []string `json:"permissions,omitempty"`
}

// String returns a string representation of the actor for logging
func (a *Actor) String() string {
	if a == nil {
		return "system"
	}
	return fmt.Sprintf("%s@%s", a.ID, a.BranchID)
}

// CanActOn reports whether the caller may operate on the given branch.
func (a *Actor) CanActOn(branchID string) bool {
	if a == nil {
		return false
	}
	return a.Elevated || (a.BranchID != "" && a.BranchID == branchID)
}

// UserID returns the actor ID or nil for the system actor, for nullable columns.
func (a *Actor) UserID() *string {
	if a == nil || a.IsSystem() {
		return nil
	}
	id := a.ID
	return &id
}

type contextKey string

const actorContextKey contextKey = "actor"

// FromContext retrieves the Actor stored by the HTTP middleware.
// Returns nil if no actor is present.
func FromContext(ctx context.Context) *Actor {
	if ctx == nil {
		return nil
	}
	actor, ok := ctx.Value(actorContextKey).(*Actor)
	if !ok {
		return nil
	}
	return actor
}

// WithActor returns a new context with the Actor attached.
func WithActor(ctx context.Context, a *Actor) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, actorContextKey, a)
}

const systemID = "00000000-0000-0000-0000-000000000000"

// SystemActor returns an Actor representing the service itself acting on a
// branch, e.g. the sale event consumer.
func SystemActor(branchID string) *Actor {
	return &Actor{
		ID:       systemID,
		Name:     "System",
		BranchID: branchID,
	}
}

// IsSystem returns true if the actor represents the system.
func (a *Actor) IsSystem() bool {
	if a == nil {
		return true
	}
	return a.ID == systemID
}

// CachedUser is the display data kept for users referenced by ledger entries.
type CachedUser struct {
	UserID   string  `json:"user_id" db:"user_id"`
	Name     string  `json:"name" db:"name"`
	Email    *string `json:"email,omitempty" db:"email"`
	BranchID *string `json:"branch_id,omitempty" db:"branch_id"`
}
