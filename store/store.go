// Package store defines the persistent records authcore reads and writes
// (users, workspaces, trial subscriptions) and the Records interface that
// backs them. Implementations live in store/memory and store/postgres.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when no record matches.
	ErrNotFound = errors.New("store: not found")
	// ErrDuplicate is returned when a unique attribute (email, workspace
	// slug, external identity) is already taken.
	ErrDuplicate = errors.New("store: duplicate")
)

// Role is the coarse role claim carried in access tokens.
type Role string

// Roles known to authcore.
const (
	RoleOwner  Role = "OWNER"
	RoleAdmin  Role = "ADMIN"
	RoleMember Role = "MEMBER"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleOwner, RoleAdmin, RoleMember:
		return true
	default:
		return false
	}
}

// ExternalIdentity links a user to a federated identity provider account.
type ExternalIdentity struct {
	Provider string
	Subject  string
}

// User is the credential record. PasswordHash is empty for federated-only
// accounts. ResetTokenHash and ResetTokenExpiry are set together or not at
// all; use SetResetToken and ClearResetToken.
type User struct {
	ID               string
	Email            string
	PasswordHash     string
	Role             Role
	WorkspaceID      string
	FirstName        string
	LastName         string
	EmailVerified    bool
	ResetTokenHash   string
	ResetTokenExpiry *time.Time
	LastLoginAt      *time.Time
	External         *ExternalIdentity
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// HasPassword reports whether the user can sign in with a password.
func (u *User) HasPassword() bool {
	return u.PasswordHash != ""
}

// SetResetToken records a pending password reset.
func (u *User) SetResetToken(hash string, expiry time.Time) {
	u.ResetTokenHash = hash
	u.ResetTokenExpiry = &expiry
}

// ClearResetToken removes any pending password reset.
func (u *User) ClearResetToken() {
	u.ResetTokenHash = ""
	u.ResetTokenExpiry = nil
}

// ResetTokenUsable reports whether a pending reset exists and has not expired.
func (u *User) ResetTokenUsable(now time.Time) bool {
	return u.ResetTokenHash != "" && u.ResetTokenExpiry != nil && now.Before(*u.ResetTokenExpiry)
}

// Clone returns a deep copy of u.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	if u.ResetTokenExpiry != nil {
		t := *u.ResetTokenExpiry
		c.ResetTokenExpiry = &t
	}
	if u.LastLoginAt != nil {
		t := *u.LastLoginAt
		c.LastLoginAt = &t
	}
	if u.External != nil {
		ext := *u.External
		c.External = &ext
	}
	return &c
}

// Workspace is the tenant created alongside its owner at sign-up.
type Workspace struct {
	ID        string
	Name      string
	Slug      string
	CreatedAt time.Time
}

// Subscription is the billing state seeded for a new workspace.
type Subscription struct {
	ID          string
	WorkspaceID string
	Plan        string
	Status      string
	TrialEndsAt time.Time
	CreatedAt   time.Time
}

// Plan and status of the subscription seeded at sign-up.
const (
	PlanTrial      = "trial"
	StatusTrialing = "trialing"
)

// Records is the persistence contract consumed by the Engine.
type Records interface {
	FindUserByEmail(ctx context.Context, email string) (*User, error)
	FindUserByID(ctx context.Context, id string) (*User, error)
	// FindUserByResetToken looks a user up by the hash of a reset token.
	FindUserByResetToken(ctx context.Context, tokenHash string) (*User, error)
	FindUserByExternalIdentity(ctx context.Context, provider, subject string) (*User, error)
	WorkspaceSlugExists(ctx context.Context, slug string) (bool, error)
	// CreateUserAndWorkspace persists all three records or none of them.
	CreateUserAndWorkspace(ctx context.Context, user *User, workspace *Workspace, subscription *Subscription) error

	// The write operations below each touch only the columns they name, so
	// a caller holding a stale copy of a user can never restore old state.

	// RecordLogin stamps the last successful sign-in.
	RecordLogin(ctx context.Context, userID string, at time.Time) error
	// UpdatePasswordHash replaces the password hash only while it still
	// equals expectedHash. ErrNotFound means the user is gone or the hash
	// changed in the meantime.
	UpdatePasswordHash(ctx context.Context, userID, expectedHash, newHash string) error
	// SetResetToken records a pending reset, replacing any previous one.
	SetResetToken(ctx context.Context, userID, tokenHash string, expiry time.Time) error
	// ClearResetToken drops the pending reset if it is still tokenHash.
	ClearResetToken(ctx context.Context, userID, tokenHash string) error
	// RedeemResetToken sets newHash and clears the pending reset in one
	// step, provided tokenHash is still pending and unexpired at now. It
	// returns the user id, or ErrNotFound.
	RedeemResetToken(ctx context.Context, tokenHash, newHash string, now time.Time) (string, error)
	// LinkExternalIdentity attaches ident to a user that has no linkage yet
	// and marks its email verified. ErrNotFound means the user is gone or
	// was linked in the meantime; ErrDuplicate means ident belongs to
	// another user.
	LinkExternalIdentity(ctx context.Context, userID string, ident ExternalIdentity) error
}
