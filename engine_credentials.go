package authcore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/authcore/store"
	"github.com/google/uuid"
)

// Rate-limit categories. Each category keeps independent counters.
const (
	RateCategorySignUp = "signup"
	RateCategoryAuth   = "auth"
	RateCategoryReset  = "reset"
	RateCategoryAPI    = "api"
)

func signInIdentifier(email, ip string) string {
	return "signin:" + email + ":" + ip
}

func signUpIdentifier(ip string) string {
	return "signup:" + ip
}

// SignUp creates a user, its workspace and a trial subscription, then
// signs the user in.
//
// Flow: per-IP rate limit -> input validation -> uniqueness checks ->
// bcrypt hash -> atomic create -> token pair.
func (e *Engine) SignUp(ctx context.Context, in SignUpInput) (*AuthResult, error) {
	if err := e.CheckRateLimit(ctx, RateCategorySignUp, signUpIdentifier(ClientIPFromContext(ctx)), e.config.RateLimit.SignUp); err != nil {
		return nil, err
	}

	user, err := e.CreateAccount(ctx, in)
	if err != nil {
		return nil, err
	}

	pair, err := e.IssueTokenPair(ctx, user)
	if err != nil {
		return nil, err
	}
	return &AuthResult{User: userInfo(user), Tokens: *pair}, nil
}

// CreateAccount registers the owner user, workspace and trial subscription
// in one atomic write and returns the stored user. It does not rate limit
// or issue tokens.
func (e *Engine) CreateAccount(ctx context.Context, in SignUpInput) (*store.User, error) {
	if e.records == nil || e.cipher == nil {
		return nil, ErrEngineNotReady
	}

	user, err := e.createAccount(ctx, in)
	if err != nil {
		switch {
		case errors.Is(err, ErrConflict):
			e.metricInc(MetricSignUpConflict)
		default:
			e.metricInc(MetricSignUpFailure)
		}
		e.emitAudit(ctx, auditEventSignUpFailure, false, "", "", "", err, nil)
		return nil, err
	}

	e.metricInc(MetricSignUpSuccess)
	e.emitAudit(ctx, auditEventSignUp, true, user.ID, user.WorkspaceID, "", nil, nil)
	return user, nil
}

func (e *Engine) createAccount(ctx context.Context, in SignUpInput) (*store.User, error) {
	email, err := normalizeEmail(in.Email)
	if err != nil {
		return nil, err
	}
	if err := e.validatePassword(in.Password); err != nil {
		return nil, err
	}
	workspaceName := strings.TrimSpace(in.WorkspaceName)
	if workspaceName == "" {
		return nil, fmt.Errorf("%w: workspace name is required", ErrBadRequest)
	}
	slug := slugify(workspaceName)

	if _, err := e.records.FindUserByEmail(ctx, email); err == nil {
		return nil, fmt.Errorf("%w: email already registered", ErrConflict)
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, unavailable(err)
	}
	if slug == "" {
		// Nothing to compare against: give the name a generated slug.
		if slug, err = e.availableSlug(ctx, ""); err != nil {
			return nil, err
		}
	} else {
		exists, err := e.records.WorkspaceSlugExists(ctx, slug)
		if err != nil {
			return nil, unavailable(err)
		}
		if exists {
			return nil, fmt.Errorf("%w: workspace name already taken", ErrConflict)
		}
	}

	hash, err := e.cipher.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadRequest, err)
	}

	user := &store.User{
		Email:        email,
		PasswordHash: hash,
		FirstName:    strings.TrimSpace(in.FirstName),
		LastName:     strings.TrimSpace(in.LastName),
	}
	if err := e.persistAccount(ctx, user, workspaceName, slug); err != nil {
		return nil, err
	}
	return user, nil
}

// persistAccount fills ids and timestamps, then writes user, workspace and
// subscription atomically. The user becomes the workspace OWNER.
func (e *Engine) persistAccount(ctx context.Context, user *store.User, workspaceName, slug string) error {
	now := time.Now().UTC()
	workspace := &store.Workspace{
		ID:        uuid.NewString(),
		Name:      workspaceName,
		Slug:      slug,
		CreatedAt: now,
	}
	subscription := &store.Subscription{
		ID:          uuid.NewString(),
		WorkspaceID: workspace.ID,
		Plan:        store.PlanTrial,
		Status:      store.StatusTrialing,
		TrialEndsAt: now.Add(e.config.Account.TrialPeriod),
		CreatedAt:   now,
	}

	user.ID = uuid.NewString()
	user.Role = store.RoleOwner
	user.WorkspaceID = workspace.ID
	user.CreatedAt = now
	user.UpdatedAt = now

	if err := e.records.CreateUserAndWorkspace(ctx, user, workspace, subscription); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return fmt.Errorf("%w: %v", ErrConflict, err)
		}
		return unavailable(err)
	}
	return nil
}

// Authenticate verifies an email/password pair. Unknown users, users
// without a password and wrong passwords all yield ErrUnauthorized after a
// bcrypt comparison of the same cost.
func (e *Engine) Authenticate(ctx context.Context, email, password string) (*store.User, error) {
	if e.records == nil || e.cipher == nil {
		return nil, ErrEngineNotReady
	}

	normalized, err := normalizeEmail(email)
	if err != nil {
		e.cipher.Verify(password, e.dummyHash)
		return nil, ErrUnauthorized
	}

	user, err := e.records.FindUserByEmail(ctx, normalized)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			e.cipher.Verify(password, e.dummyHash)
			return nil, ErrUnauthorized
		}
		return nil, unavailable(err)
	}
	if !user.HasPassword() {
		e.cipher.Verify(password, e.dummyHash)
		return nil, ErrUnauthorized
	}
	if !e.cipher.Verify(password, user.PasswordHash) {
		return nil, ErrUnauthorized
	}
	return user, nil
}

// SignIn authenticates with email and password and issues a token pair.
//
// Flow: rate limit on (email, ip) -> Authenticate -> clear the counter ->
// record last login (and upgrade the hash cost if needed) -> token pair.
// Denied requests return a *RateLimitedError.
func (e *Engine) SignIn(ctx context.Context, email, password string) (*AuthResult, error) {
	normalized := strings.ToLower(strings.TrimSpace(email))
	identifier := signInIdentifier(normalized, ClientIPFromContext(ctx))

	if err := e.CheckRateLimit(ctx, RateCategoryAuth, identifier, e.config.RateLimit.Auth); err != nil {
		e.metricInc(MetricSignInFailure)
		e.emitAudit(ctx, auditEventSignInFailure, false, "", "", "", err, func() map[string]string {
			return map[string]string{"email": normalized}
		})
		return nil, err
	}

	user, err := e.Authenticate(ctx, normalized, password)
	if err != nil {
		e.metricInc(MetricSignInFailure)
		e.emitAudit(ctx, auditEventSignInFailure, false, "", "", "", err, func() map[string]string {
			return map[string]string{"email": normalized}
		})
		return nil, err
	}

	e.resetRateLimit(ctx, RateCategoryAuth, identifier)
	e.recordLogin(ctx, user, password)

	pair, err := e.IssueTokenPair(ctx, user)
	if err != nil {
		e.metricInc(MetricSignInFailure)
		e.emitAudit(ctx, auditEventSignInFailure, false, user.ID, user.WorkspaceID, "", err, nil)
		return nil, err
	}

	e.metricInc(MetricSignInSuccess)
	e.emitAudit(ctx, auditEventSignInSuccess, true, user.ID, user.WorkspaceID, pair.SessionID, nil, nil)
	return &AuthResult{User: userInfo(user), Tokens: *pair}, nil
}

// recordLogin stamps LastLoginAt and rehashes a password stored with an
// outdated cost. Both writes are narrow: the rehash only applies while the
// stored hash is still the one just verified, so a concurrent reset or
// change is never undone. Failures are logged; sign-in proceeds regardless.
func (e *Engine) recordLogin(ctx context.Context, user *store.User, password string) {
	now := time.Now().UTC()
	if err := e.records.RecordLogin(ctx, user.ID, now); err != nil {
		e.logger.WarnContext(ctx, "last login update failed", "user_id", user.ID, "error", err)
	} else {
		user.LastLoginAt = &now
	}

	if !e.cipher.NeedsRehash(user.PasswordHash) {
		return
	}
	hash, err := e.cipher.Hash(password)
	if err != nil {
		return
	}
	switch err := e.records.UpdatePasswordHash(ctx, user.ID, user.PasswordHash, hash); {
	case err == nil:
		user.PasswordHash = hash
	case errors.Is(err, store.ErrNotFound):
		e.logger.InfoContext(ctx, "password changed during sign-in, rehash skipped", "user_id", user.ID)
	default:
		e.logger.WarnContext(ctx, "password rehash failed", "user_id", user.ID, "error", err)
	}
}
