/*
Package identity turns an authentication session into a role-scoped Identity.

KEY CONCEPTS:
  - Identity:   Resolved actor (id, email, role, department, status)
  - Role:       hr, doctor, receptionist, or staff (fallback)
  - Auth:       The external auth collaborator (sign in/up/out, session, events)
  - LocalState: Client-side cached state that must be wiped on failure
  - Resolver:   Long-lived session bootstrap with a bounded wait

FAIL-OPEN vs FAIL-SAFE:
  A session that cannot be fetched in time, or errors, is wiped and the
  caller is Unauthenticated. A session whose profile cannot be read still
  yields an Identity, degraded to role staff. The staff role carries no
  capabilities (see access/controller.go).

SEE ALSO:
  - resolver.go: Timeout race and subscription handling
  - profiles.go: Profile records in the generic store
  - auth/: Concrete Auth implementation
*/
package identity

import (
	"context"
	"strings"
	"time"
)

// =============================================================================
// ROLES AND STATUS
// =============================================================================

type Role string

const (
	RoleHR           Role = "hr"
	RoleDoctor       Role = "doctor"
	RoleReceptionist Role = "receptionist"
	RoleStaff        Role = "staff"
)

// ParseRole normalizes a stored role. Anything unrecognized becomes RoleStaff.
func ParseRole(s string) Role {
	switch r := Role(strings.ToLower(strings.TrimSpace(s))); r {
	case RoleHR, RoleDoctor, RoleReceptionist:
		return r
	default:
		return RoleStaff
	}
}

// Assignable reports whether HR may grant the role to a new account.
func (r Role) Assignable() bool {
	return r == RoleHR || r == RoleDoctor || r == RoleReceptionist
}

type Status string

const (
	StatusActive     Status = "Active"
	StatusOnLeave    Status = "On Leave"
	StatusTerminated Status = "Terminated"
)

// ParseStatus accepts the three known statuses. Empty means Active.
func ParseStatus(s string) (Status, bool) {
	switch st := Status(strings.TrimSpace(s)); st {
	case "":
		return StatusActive, true
	case StatusActive, StatusOnLeave, StatusTerminated:
		return st, true
	default:
		return "", false
	}
}

// =============================================================================
// IDENTITY
// =============================================================================

type Identity struct {
	ID         string `json:"id"`
	Email      string `json:"email"`
	FullName   string `json:"full_name"`
	Role       Role   `json:"role"`
	Department string `json:"department"`
	Status     Status `json:"status"`
	// Degraded is set when no profile could be read for the session user.
	Degraded bool `json:"degraded,omitempty"`
}

// degraded builds the fallback identity for a session without a readable profile.
func degraded(s *Session) *Identity {
	return &Identity{
		ID:       s.UserID,
		Email:    s.Email,
		Role:     RoleStaff,
		Status:   StatusActive,
		Degraded: true,
	}
}

// =============================================================================
// AUTH COLLABORATOR
// =============================================================================

// Session is an authenticated session as reported by the auth collaborator.
type Session struct {
	AccessToken string    `json:"access_token"`
	UserID      string    `json:"user_id"`
	Email       string    `json:"email"`
	ExpiresAt   time.Time `json:"expires_at"`
}

type AuthEvent string

const (
	EventSignedIn  AuthEvent = "SIGNED_IN"
	EventSignedOut AuthEvent = "SIGNED_OUT"
)

// AuthChange is delivered to OnAuthStateChange subscribers.
// Session is nil for EventSignedOut.
type AuthChange struct {
	Event   AuthEvent
	Session *Session
}

// Auth is the external authentication collaborator. Each instance is one
// isolated auth context: signing up or in through one instance never alters
// the session held by another.
type Auth interface {
	SignIn(ctx context.Context, email, password string) (*Session, error)
	// SignUp provisions an account and attaches metadata (full_name, role,
	// department, status) at creation time.
	SignUp(ctx context.Context, email, password string, metadata map[string]string) (*Session, error)
	// GetSession returns the current session, or nil when there is none.
	GetSession(ctx context.Context) (*Session, error)
	SignOut(ctx context.Context) error
	// OnAuthStateChange subscribes fn and returns its unsubscribe func.
	OnAuthStateChange(fn func(AuthChange)) (unsubscribe func())
}

// LocalState is client-side cached state wiped whenever a session is invalidated.
type LocalState interface {
	Clear()
}

// ProfileSource looks up the profile for a user id.
type ProfileSource interface {
	Profile(ctx context.Context, id string) (*Identity, error)
}
