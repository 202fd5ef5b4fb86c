// Package memory is an in-process implementation of store.Records. It is
// used by tests, the example server and single-node development setups.
package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/MrEthical07/authcore/store"
)

// Op names a Store operation that can be made to fail.
type Op string

// Fault points for FailOn. OpWrite covers every single-user update.
const (
	OpCreateUser         Op = "create_user"
	OpCreateWorkspace    Op = "create_workspace"
	OpCreateSubscription Op = "create_subscription"
	OpWrite              Op = "write"
	OpRead               Op = "read"
)

// Store keeps records in maps guarded by a single mutex. Returned users are
// copies; mutating them never changes the stored record.
type Store struct {
	mu            sync.RWMutex
	users         map[string]*store.User
	byEmail       map[string]string
	byReset       map[string]string
	byExternal    map[string]string
	workspaces    map[string]*store.Workspace
	slugs         map[string]string
	subscriptions map[string]*store.Subscription
	faults        map[Op]error
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		users:         make(map[string]*store.User),
		byEmail:       make(map[string]string),
		byReset:       make(map[string]string),
		byExternal:    make(map[string]string),
		workspaces:    make(map[string]*store.Workspace),
		slugs:         make(map[string]string),
		subscriptions: make(map[string]*store.Subscription),
		faults:        make(map[Op]error),
	}
}

// FailOn makes every subsequent op return err until cleared with a nil err.
func (s *Store) FailOn(op Op, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.faults, op)
		return
	}
	s.faults[op] = err
}

func externalKey(provider, subject string) string {
	return provider + "\x00" + subject
}

func emailKey(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// FindUserByEmail looks a user up by case-insensitive email.
func (s *Store) FindUserByEmail(_ context.Context, email string) (*store.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.faults[OpRead]; err != nil {
		return nil, err
	}
	return s.userByIndex(s.byEmail, emailKey(email))
}

// FindUserByID looks a user up by id.
func (s *Store) FindUserByID(_ context.Context, id string) (*store.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.faults[OpRead]; err != nil {
		return nil, err
	}
	u, ok := s.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return u.Clone(), nil
}

// FindUserByResetToken looks a user up by the hash of a pending reset token.
func (s *Store) FindUserByResetToken(_ context.Context, tokenHash string) (*store.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.faults[OpRead]; err != nil {
		return nil, err
	}
	if tokenHash == "" {
		return nil, store.ErrNotFound
	}
	return s.userByIndex(s.byReset, tokenHash)
}

// FindUserByExternalIdentity looks a user up by federated linkage.
func (s *Store) FindUserByExternalIdentity(_ context.Context, provider, subject string) (*store.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.faults[OpRead]; err != nil {
		return nil, err
	}
	return s.userByIndex(s.byExternal, externalKey(provider, subject))
}

// WorkspaceSlugExists reports whether slug is taken.
func (s *Store) WorkspaceSlugExists(_ context.Context, slug string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.faults[OpRead]; err != nil {
		return false, err
	}
	_, ok := s.slugs[slug]
	return ok, nil
}

// CreateUserAndWorkspace stages all three records and commits them only if
// every step succeeds.
func (s *Store) CreateUserAndWorkspace(_ context.Context, user *store.User, workspace *store.Workspace, subscription *store.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.faults[OpCreateUser]; err != nil {
		return err
	}
	if _, taken := s.byEmail[emailKey(user.Email)]; taken {
		return store.ErrDuplicate
	}
	if user.External != nil {
		if _, taken := s.byExternal[externalKey(user.External.Provider, user.External.Subject)]; taken {
			return store.ErrDuplicate
		}
	}
	stagedUser := user.Clone()

	if err := s.faults[OpCreateWorkspace]; err != nil {
		return err
	}
	if _, taken := s.slugs[workspace.Slug]; taken {
		return store.ErrDuplicate
	}
	stagedWorkspace := *workspace

	if err := s.faults[OpCreateSubscription]; err != nil {
		return err
	}
	stagedSubscription := *subscription

	s.users[stagedUser.ID] = stagedUser
	s.index(stagedUser, nil)
	s.workspaces[stagedWorkspace.ID] = &stagedWorkspace
	s.slugs[stagedWorkspace.Slug] = stagedWorkspace.ID
	s.subscriptions[stagedWorkspace.ID] = &stagedSubscription
	return nil
}

// RecordLogin stamps LastLoginAt.
func (s *Store) RecordLogin(_ context.Context, userID string, at time.Time) error {
	return s.mutate(userID, func(u *store.User) error {
		t := at
		u.LastLoginAt = &t
		return nil
	})
}

// UpdatePasswordHash swaps the hash if it still equals expectedHash.
func (s *Store) UpdatePasswordHash(_ context.Context, userID, expectedHash, newHash string) error {
	return s.mutate(userID, func(u *store.User) error {
		if u.PasswordHash != expectedHash {
			return store.ErrNotFound
		}
		u.PasswordHash = newHash
		return nil
	})
}

// SetResetToken records a pending reset.
func (s *Store) SetResetToken(_ context.Context, userID, tokenHash string, expiry time.Time) error {
	return s.mutate(userID, func(u *store.User) error {
		u.SetResetToken(tokenHash, expiry)
		return nil
	})
}

// ClearResetToken drops the pending reset if it is still tokenHash.
func (s *Store) ClearResetToken(_ context.Context, userID, tokenHash string) error {
	return s.mutate(userID, func(u *store.User) error {
		if u.ResetTokenHash == tokenHash {
			u.ClearResetToken()
		}
		return nil
	})
}

// RedeemResetToken consumes a pending, unexpired reset and sets newHash.
func (s *Store) RedeemResetToken(_ context.Context, tokenHash, newHash string, now time.Time) (string, error) {
	if tokenHash == "" {
		return "", store.ErrNotFound
	}
	s.mu.RLock()
	id, ok := s.byReset[tokenHash]
	s.mu.RUnlock()
	if !ok {
		return "", store.ErrNotFound
	}

	err := s.mutate(id, func(u *store.User) error {
		if u.ResetTokenHash != tokenHash || !u.ResetTokenUsable(now) {
			return store.ErrNotFound
		}
		u.PasswordHash = newHash
		u.ClearResetToken()
		return nil
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// LinkExternalIdentity attaches ident to an unlinked user.
func (s *Store) LinkExternalIdentity(_ context.Context, userID string, ident store.ExternalIdentity) error {
	return s.mutate(userID, func(u *store.User) error {
		if u.External != nil {
			return store.ErrNotFound
		}
		if id, taken := s.byExternal[externalKey(ident.Provider, ident.Subject)]; taken && id != userID {
			return store.ErrDuplicate
		}
		u.External = &store.ExternalIdentity{Provider: ident.Provider, Subject: ident.Subject}
		u.EmailVerified = true
		return nil
	})
}

// mutate applies fn to a copy of the user under the write lock and commits
// it only when fn succeeds.
func (s *Store) mutate(userID string, fn func(u *store.User) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.faults[OpWrite]; err != nil {
		return err
	}
	prev, ok := s.users[userID]
	if !ok {
		return store.ErrNotFound
	}
	next := prev.Clone()
	if err := fn(next); err != nil {
		return err
	}
	next.UpdatedAt = time.Now().UTC()
	s.users[userID] = next
	s.index(next, prev)
	return nil
}

// Workspace returns the workspace with the given id.
func (s *Store) Workspace(id string) (*store.Workspace, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ws, ok := s.workspaces[id]
	if !ok {
		return nil, false
	}
	c := *ws
	return &c, true
}

// Subscription returns the subscription of the given workspace.
func (s *Store) Subscription(workspaceID string) (*store.Subscription, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sub, ok := s.subscriptions[workspaceID]
	if !ok {
		return nil, false
	}
	c := *sub
	return &c, true
}

// Counts reports how many users and workspaces are stored.
func (s *Store) Counts() (users, workspaces int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users), len(s.workspaces)
}

func (s *Store) userByIndex(index map[string]string, key string) (*store.User, error) {
	id, ok := index[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	return s.users[id].Clone(), nil
}

// index must be called with the write lock held.
func (s *Store) index(next, prev *store.User) {
	if prev != nil {
		delete(s.byEmail, emailKey(prev.Email))
		if prev.ResetTokenHash != "" {
			delete(s.byReset, prev.ResetTokenHash)
		}
		if prev.External != nil {
			delete(s.byExternal, externalKey(prev.External.Provider, prev.External.Subject))
		}
	}
	s.byEmail[emailKey(next.Email)] = next.ID
	if next.ResetTokenHash != "" {
		s.byReset[next.ResetTokenHash] = next.ID
	}
	if next.External != nil {
		s.byExternal[externalKey(next.External.Provider, next.External.Subject)] = next.ID
	}
}
