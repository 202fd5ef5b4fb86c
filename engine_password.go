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

func resetIdentifier(email, ip string) string {
	return "reset:" + email + ":" + ip
}

// RequestPasswordReset starts a reset for email. It returns nil whether or
// not the account exists, is rate limited, or the mail could not be sent;
// those outcomes are only logged and audited.
//
// Only the SHA-256 of the token is stored; the raw token goes to the
// Mailer.
func (e *Engine) RequestPasswordReset(ctx context.Context, email string) error {
	if e.records == nil || e.cipher == nil {
		return ErrEngineNotReady
	}
	e.metricInc(MetricPasswordResetRequest)

	normalized, err := normalizeEmail(email)
	if err != nil {
		return nil
	}
	if err := e.CheckRateLimit(ctx, RateCategoryReset, resetIdentifier(normalized, ClientIPFromContext(ctx)), e.config.RateLimit.PasswordReset); err != nil {
		e.logger.InfoContext(ctx, "password reset request rate limited")
		return nil
	}

	user, err := e.records.FindUserByEmail(ctx, normalized)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			e.logger.ErrorContext(ctx, "password reset lookup failed", "error", err)
		}
		e.emitAudit(ctx, auditEventPasswordResetRequest, false, "", "", "", nil, func() map[string]string {
			return map[string]string{"reason": "unknown_account"}
		})
		return nil
	}

	token, err := cryptox.RandomToken(e.config.PasswordReset.TokenBytes)
	if err != nil {
		e.logger.ErrorContext(ctx, "password reset token generation failed", "error", err)
		return nil
	}
	expiry := time.Now().UTC().Add(e.config.PasswordReset.TokenTTL)
	if err := e.records.SetResetToken(ctx, user.ID, cryptox.HashToken(token), expiry); err != nil {
		e.logger.ErrorContext(ctx, "password reset token store failed", "user_id", user.ID, "error", err)
		return nil
	}

	if err := e.mailer.SendPasswordResetEmail(ctx, user.Email, token); err != nil {
		e.logger.ErrorContext(ctx, "password reset email failed", "user_id", user.ID, "error", err)
	}
	e.emitAudit(ctx, auditEventPasswordResetRequest, true, user.ID, user.WorkspaceID, "", nil, nil)
	return nil
}

// ResetPassword redeems a reset token, sets the new password and revokes
// every session of the user. Unknown and expired tokens yield
// ErrBadRequest; an expired token is cleared on the way.
func (e *Engine) ResetPassword(ctx context.Context, token, newPassword string) error {
	if e.records == nil || e.cipher == nil {
		return ErrEngineNotReady
	}

	user, err := e.resetPassword(ctx, strings.TrimSpace(token), newPassword)
	if err != nil {
		e.metricInc(MetricPasswordResetFailure)
		e.emitAudit(ctx, auditEventPasswordResetFailure, false, "", "", "", err, nil)
		return err
	}

	e.metricInc(MetricPasswordResetSuccess)
	e.emitAudit(ctx, auditEventPasswordResetSuccess, true, user.ID, user.WorkspaceID, "", nil, nil)
	return nil
}

func (e *Engine) resetPassword(ctx context.Context, token, newPassword string) (*store.User, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: reset token is required", ErrBadRequest)
	}
	if err := e.validatePassword(newPassword); err != nil {
		return nil, err
	}

	tokenHash := cryptox.HashToken(token)
	user, err := e.records.FindUserByResetToken(ctx, tokenHash)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: invalid or expired reset token", ErrBadRequest)
		}
		return nil, unavailable(err)
	}
	now := time.Now()
	if !user.ResetTokenUsable(now) {
		if err := e.records.ClearResetToken(ctx, user.ID, tokenHash); err != nil {
			e.logger.WarnContext(ctx, "expired reset token cleanup failed", "user_id", user.ID, "error", err)
		}
		return nil, fmt.Errorf("%w: invalid or expired reset token", ErrBadRequest)
	}

	hash, err := e.cipher.Hash(newPassword)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	// Redeeming is the single authoritative check: a token spent or
	// replaced since the lookup above fails here.
	if _, err := e.records.RedeemResetToken(ctx, tokenHash, hash, now); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: invalid or expired reset token", ErrBadRequest)
		}
		return nil, unavailable(err)
	}
	user.PasswordHash = hash
	user.ClearResetToken()

	if err := e.LogoutAll(ctx, user.ID); err != nil {
		return nil, err
	}
	return user, nil
}

// ChangePassword replaces the password of a signed-in user after checking
// the current one. Existing sessions stay valid.
func (e *Engine) ChangePassword(ctx context.Context, userID, currentPassword, newPassword string) error {
	if e.records == nil || e.cipher == nil {
		return ErrEngineNotReady
	}

	user, err := e.changePassword(ctx, userID, currentPassword, newPassword)
	if err != nil {
		e.metricInc(MetricPasswordChangeFailure)
		e.emitAudit(ctx, auditEventPasswordChangeFailure, false, userID, "", "", err, nil)
		return err
	}

	e.metricInc(MetricPasswordChangeSuccess)
	e.emitAudit(ctx, auditEventPasswordChangeSuccess, true, user.ID, user.WorkspaceID, "", nil, nil)
	return nil
}

func (e *Engine) changePassword(ctx context.Context, userID, currentPassword, newPassword string) (*store.User, error) {
	user, err := e.records.FindUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrUnauthorized
		}
		return nil, unavailable(err)
	}
	if !user.HasPassword() {
		e.cipher.Verify(currentPassword, e.dummyHash)
		return nil, ErrUnauthorized
	}
	if !e.cipher.Verify(currentPassword, user.PasswordHash) {
		return nil, ErrUnauthorized
	}
	if err := e.validatePassword(newPassword); err != nil {
		return nil, err
	}

	hash, err := e.cipher.Hash(newPassword)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	if err := e.records.UpdatePasswordHash(ctx, user.ID, user.PasswordHash, hash); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Reset or changed concurrently: the verified password is stale.
			return nil, ErrUnauthorized
		}
		return nil, unavailable(err)
	}
	user.PasswordHash = hash
	return user, nil
}
