// Package identity describes who is calling an engine operation.
//
// The session layer authenticates the caller and hands the engine an Actor;
// nothing below the HTTP boundary looks at tokens or headers.
package identity

import (
	"errors"
	"fmt"
)

// Account errors shared by every package that checks whether a user may
// move money.
var (
	ErrUserNotFound    = errors.New("user not found")
	ErrAccountFrozen   = errors.New("account is frozen")
	ErrAccountInactive = errors.New("account is inactive")
	ErrBlacklisted     = errors.New("account is blacklisted")
)

// Restricted reports whether err means the account exists but may not transact.
func Restricted(err error) bool {
	return errors.Is(err, ErrAccountFrozen) || errors.Is(err, ErrAccountInactive) || errors.Is(err, ErrBlacklisted)
}

// Role is the platform role of a user.
type Role string

const (
	RoleUser       Role = "user"
	RoleAdmin      Role = "admin"
	RoleAgentAdmin Role = "agent_admin"
	RoleMediator   Role = "mediator"
)

// Roles lists every role in a stable order.
func Roles() []Role {
	return []Role{RoleUser, RoleAdmin, RoleAgentAdmin, RoleMediator}
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAdmin, RoleAgentAdmin, RoleMediator:
		return true
	}
	return false
}

// ParseRole converts a raw string into a Role.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.Valid() {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}

// SystemUserID identifies background jobs in audit trails.
const SystemUserID int64 = 0

// Actor is the authenticated caller of an operation.
type Actor struct {
	UserID int64 `json:"userId"`
	Role   Role  `json:"role"`
}

// User returns an actor with the plain user role.
func User(id int64) Actor {
	return Actor{UserID: id, Role: RoleUser}
}

// Admin returns an actor with the admin role.
func Admin(id int64) Actor {
	return Actor{UserID: id, Role: RoleAdmin}
}

// System returns the actor used by timers and reconciliation.
func System() Actor {
	return Actor{UserID: SystemUserID, Role: RoleAdmin}
}

// IsAdmin reports whether the actor holds the admin role.
func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin
}

// IsSystem reports whether the actor is a background job.
func (a Actor) IsSystem() bool {
	return a.UserID == SystemUserID
}
