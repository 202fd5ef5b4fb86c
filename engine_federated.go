package authcore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/authcore/cryptox"
	"github.com/MrEthical07/authcore/store"
)

const (
	maxSlugAttempts = 5
	fallbackSlug    = "workspace"
)

// SignInFederated signs in with an identity already verified by an
// external provider.
//
// Resolution order: existing linkage -> existing account with the same
// email (linked on the fly when the provider verified the email and the
// account is not linked to a different identity) ->
// new password-less account with its own workspace. The linkage only
// resolves who is signing in; it grants nothing by itself.
func (e *Engine) SignInFederated(ctx context.Context, ident FederatedIdentity, workspaceName string) (*AuthResult, error) {
	if e.records == nil {
		return nil, ErrEngineNotReady
	}

	user, err := e.resolveFederated(ctx, ident, workspaceName)
	if err != nil {
		e.metricInc(MetricSignInFailure)
		e.emitAudit(ctx, auditEventSignInFailure, false, "", "", "", err, func() map[string]string {
			return map[string]string{"provider": ident.Provider}
		})
		return nil, err
	}

	e.recordFederatedLogin(ctx, user)

	pair, err := e.IssueTokenPair(ctx, user)
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricFederatedSignIn)
	e.emitAudit(ctx, auditEventSignInFederated, true, user.ID, user.WorkspaceID, pair.SessionID, nil, func() map[string]string {
		return map[string]string{"provider": ident.Provider}
	})
	return &AuthResult{User: userInfo(user), Tokens: *pair}, nil
}

func (e *Engine) resolveFederated(ctx context.Context, ident FederatedIdentity, workspaceName string) (*store.User, error) {
	provider := strings.TrimSpace(ident.Provider)
	subject := strings.TrimSpace(ident.Subject)
	if provider == "" || subject == "" {
		return nil, fmt.Errorf("%w: provider and subject are required", ErrBadRequest)
	}
	email, err := normalizeEmail(ident.Email)
	if err != nil {
		return nil, err
	}

	user, err := e.records.FindUserByExternalIdentity(ctx, provider, subject)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, unavailable(err)
	}

	user, err = e.records.FindUserByEmail(ctx, email)
	switch {
	case err == nil:
		return e.linkFederated(ctx, user, ident, provider, subject)
	case !errors.Is(err, store.ErrNotFound):
		return nil, unavailable(err)
	}

	return e.createFederated(ctx, ident, provider, subject, email, workspaceName)
}

func (e *Engine) linkFederated(ctx context.Context, user *store.User, ident FederatedIdentity, provider, subject string) (*store.User, error) {
	if user.External != nil {
		if user.External.Provider == provider && user.External.Subject == subject {
			return user, nil
		}
		return nil, fmt.Errorf("%w: account is linked to another identity", ErrConflict)
	}
	if !ident.EmailVerified {
		return nil, fmt.Errorf("%w: email is registered and the provider did not verify it", ErrConflict)
	}

	link := store.ExternalIdentity{Provider: provider, Subject: subject}
	if err := e.records.LinkExternalIdentity(ctx, user.ID, link); err != nil {
		switch {
		case errors.Is(err, store.ErrDuplicate):
			return nil, fmt.Errorf("%w: %v", ErrConflict, err)
		case errors.Is(err, store.ErrNotFound):
			return nil, fmt.Errorf("%w: account changed while linking", ErrConflict)
		default:
			return nil, unavailable(err)
		}
	}
	user.External = &link
	user.EmailVerified = true

	e.emitAudit(ctx, auditEventFederatedLinked, true, user.ID, user.WorkspaceID, "", nil, func() map[string]string {
		return map[string]string{"provider": provider}
	})
	return user, nil
}

func (e *Engine) createFederated(ctx context.Context, ident FederatedIdentity, provider, subject, email, workspaceName string) (*store.User, error) {
	name := strings.TrimSpace(workspaceName)
	if name == "" {
		name = defaultWorkspaceName(ident.FirstName, email)
	}
	slug, err := e.availableSlug(ctx, slugify(name))
	if err != nil {
		return nil, err
	}

	user := &store.User{
		Email:         email,
		FirstName:     strings.TrimSpace(ident.FirstName),
		LastName:      strings.TrimSpace(ident.LastName),
		EmailVerified: ident.EmailVerified,
		External:      &store.ExternalIdentity{Provider: provider, Subject: subject},
	}
	if err := e.persistAccount(ctx, user, name, slug); err != nil {
		e.metricInc(MetricSignUpFailure)
		return nil, err
	}

	e.metricInc(MetricSignUpSuccess)
	e.emitAudit(ctx, auditEventSignUp, true, user.ID, user.WorkspaceID, "", nil, func() map[string]string {
		return map[string]string{"provider": provider}
	})
	return user, nil
}

// availableSlug returns base, or base with a short random suffix when base
// is taken. An empty base always gets a suffix on fallbackSlug. Federated
// sign-up has no user to report a conflict to.
func (e *Engine) availableSlug(ctx context.Context, base string) (string, error) {
	candidate := base
	if base == "" {
		base = fallbackSlug
	}
	for i := 0; i < maxSlugAttempts; i++ {
		if candidate != "" {
			exists, err := e.records.WorkspaceSlugExists(ctx, candidate)
			if err != nil {
				return "", unavailable(err)
			}
			if !exists {
				return candidate, nil
			}
		}
		suffix, err := cryptox.RandomToken(3)
		if err != nil {
			return "", err
		}
		candidate = base + "-" + suffix
	}
	return "", fmt.Errorf("%w: could not derive a free workspace slug", ErrConflict)
}

func (e *Engine) recordFederatedLogin(ctx context.Context, user *store.User) {
	now := time.Now().UTC()
	if err := e.records.RecordLogin(ctx, user.ID, now); err != nil {
		e.logger.WarnContext(ctx, "last login update failed", "user_id", user.ID, "error", err)
		return
	}
	user.LastLoginAt = &now
}
