package authcore

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"
	"unicode/utf8"

	"github.com/MrEthical07/authcore/cryptox"
	"github.com/MrEthical07/authcore/internal/anomaly"
	"github.com/MrEthical07/authcore/session"
	"github.com/MrEthical07/authcore/store"
)

// maxStoredClientField caps the IP and User-Agent kept for session
// listings. The fingerprint is still computed over the full values.
const maxStoredClientField = 512

type clientDetails struct {
	IP        string `json:"ip"`
	UserAgent string `json:"user_agent"`
}

// Fingerprint derives the device fingerprint a refresh token is bound to:
// the first 32 hex characters of SHA-256(ip + "|" + userAgent).
func Fingerprint(ip, userAgent string) string {
	return session.Fingerprint(ip, userAgent)
}

// IssueTokenPair mints an access token and a refresh token for user. The
// refresh entry is stored by the hash of the token, bound to the
// fingerprint of the connection in ctx, and carries the encrypted client
// details for session listings.
func (e *Engine) IssueTokenPair(ctx context.Context, user *store.User) (*TokenPair, error) {
	if e.jwtManager == nil || e.sessionStore == nil || e.cipher == nil {
		return nil, ErrEngineNotReady
	}

	access, _, err := e.jwtManager.CreateAccess(user.ID, user.Email, user.WorkspaceID, string(user.Role))
	if err != nil {
		return nil, err
	}

	refresh, entry, err := e.newRefreshEntry(ctx, user.ID, time.Now())
	if err != nil {
		return nil, err
	}
	if err := e.sessionStore.Save(ctx, entry, e.config.Session.RefreshTTL); err != nil {
		return nil, unavailable(err)
	}
	e.metricInc(MetricSessionCreated)

	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    TokenTypeBearer,
		ExpiresIn:    e.jwtManager.AccessTTL(),
		SessionID:    entry.ID,
	}, nil
}

func (e *Engine) newRefreshEntry(ctx context.Context, userID string, now time.Time) (string, *session.Entry, error) {
	token, err := cryptox.RandomToken(e.config.Session.RefreshTokenBytes)
	if err != nil {
		return "", nil, err
	}

	ip, ua := ClientIPFromContext(ctx), UserAgentFromContext(ctx)
	details, err := json.Marshal(clientDetails{
		IP:        truncateUTF8(ip, maxStoredClientField),
		UserAgent: truncateUTF8(ua, maxStoredClientField),
	})
	if err != nil {
		return "", nil, err
	}
	blob, err := e.cipher.Encrypt(string(details), e.config.Cipher.MasterSecret)
	if err != nil {
		return "", nil, err
	}

	return token, &session.Entry{
		ID:           cryptox.HashToken(token),
		UserID:       userID,
		Fingerprint:  session.Fingerprint(ip, ua),
		Client:       blob,
		CreatedAt:    now.Unix(),
		LastActiveAt: now.Unix(),
		ExpiresAt:    now.Add(e.config.Session.RefreshTTL).Unix(),
	}, nil
}

// RefreshAccessToken exchanges a refresh token for a new access token.
//
// Flow: load entry by token hash -> compare fingerprints -> confirm the
// user still exists -> touch (or rotate) the entry -> mint access token.
//
// A fingerprint mismatch is treated as token theft: an anomaly is
// recorded and every session of the user is revoked before
// ErrUnauthorized is returned.
func (e *Engine) RefreshAccessToken(ctx context.Context, refreshToken string) (*RefreshResult, error) {
	if e.jwtManager == nil || e.sessionStore == nil || e.records == nil {
		return nil, ErrEngineNotReady
	}

	res, userID, err := e.refresh(ctx, refreshToken)
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefreshFailure, false, userID, "", "", err, nil)
		return nil, err
	}

	e.metricInc(MetricRefreshSuccess)
	e.emitAudit(ctx, auditEventRefreshSuccess, true, userID, "", res.SessionID, nil, nil)
	return res, nil
}

func (e *Engine) refresh(ctx context.Context, refreshToken string) (*RefreshResult, string, error) {
	if refreshToken == "" {
		return nil, "", ErrUnauthorized
	}
	id := cryptox.HashToken(refreshToken)

	entry, err := e.sessionStore.Get(ctx, id)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrNotFound):
			return nil, "", ErrUnauthorized
		case errors.Is(err, session.ErrRedisUnavailable):
			return nil, "", unavailable(err)
		default:
			// Undecodable entry: drop it, the token can never be honoured.
			_ = e.sessionStore.Delete(ctx, "", id)
			return nil, "", ErrUnauthorized
		}
	}

	fingerprint := session.Fingerprint(ClientIPFromContext(ctx), UserAgentFromContext(ctx))
	if subtle.ConstantTimeCompare([]byte(fingerprint), []byte(entry.Fingerprint)) != 1 {
		e.handleFingerprintMismatch(ctx, entry)
		return nil, entry.UserID, ErrUnauthorized
	}

	user, err := e.records.FindUserByID(ctx, entry.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			_ = e.sessionStore.Delete(ctx, entry.UserID, entry.ID)
			return nil, entry.UserID, ErrUnauthorized
		}
		return nil, entry.UserID, unavailable(err)
	}

	now := time.Now()
	result := &RefreshResult{TokenType: TokenTypeBearer, SessionID: entry.ID}

	if e.config.Session.RotateRefreshTokens {
		next, err := e.rotate(ctx, entry, now)
		if err != nil {
			return nil, entry.UserID, err
		}
		result.RefreshToken = next.token
		result.SessionID = next.id
	} else {
		entry.LastActiveAt = now.Unix()
		if err := e.sessionStore.Touch(ctx, entry); err != nil {
			if errors.Is(err, session.ErrNotFound) {
				return nil, entry.UserID, ErrUnauthorized
			}
			return nil, entry.UserID, unavailable(err)
		}
	}

	access, _, err := e.jwtManager.CreateAccess(user.ID, user.Email, user.WorkspaceID, string(user.Role))
	if err != nil {
		return nil, entry.UserID, err
	}
	result.AccessToken = access
	result.ExpiresIn = e.jwtManager.AccessTTL()
	return result, entry.UserID, nil
}

type rotatedToken struct {
	token string
	id    string
}

// rotate replaces entry with a fresh token that keeps the original absolute
// expiry. The new entry is saved before the old one is deleted.
func (e *Engine) rotate(ctx context.Context, entry *session.Entry, now time.Time) (*rotatedToken, error) {
	remaining := time.Until(time.Unix(entry.ExpiresAt, 0))
	if remaining <= 0 {
		return nil, ErrUnauthorized
	}

	token, next, err := e.newRefreshEntry(ctx, entry.UserID, now)
	if err != nil {
		return nil, err
	}
	next.CreatedAt = entry.CreatedAt
	next.ExpiresAt = entry.ExpiresAt

	if err := e.sessionStore.Save(ctx, next, remaining); err != nil {
		return nil, unavailable(err)
	}
	if err := e.sessionStore.Delete(ctx, entry.UserID, entry.ID); err != nil {
		return nil, unavailable(err)
	}
	return &rotatedToken{token: token, id: next.ID}, nil
}

func (e *Engine) handleFingerprintMismatch(ctx context.Context, entry *session.Entry) {
	e.metricInc(MetricFingerprintMismatch)
	if e.anomalies != nil {
		e.anomalies.Record(ctx, anomaly.Event{
			Type:       anomaly.TypeFingerprintMismatch,
			Severity:   anomaly.SeverityHigh,
			Identifier: entry.UserID,
			Details: map[string]string{
				"session_id": entry.ID,
				"ip":         ClientIPFromContext(ctx),
			},
			Timestamp: time.Now().UTC(),
		})
	}
	if err := e.LogoutAll(ctx, entry.UserID); err != nil {
		e.logger.ErrorContext(ctx, "session revocation after fingerprint mismatch failed", "user_id", entry.UserID, "error", err)
	}
}

// ValidateAccess verifies an access token (signature, expiry, issuer,
// audience) and checks the revocation list.
func (e *Engine) ValidateAccess(ctx context.Context, accessToken string) (*AccessClaims, error) {
	if e.jwtManager == nil || e.sessionStore == nil {
		return nil, ErrEngineNotReady
	}
	if e.metrics != nil && e.metrics.LatencyEnabled() {
		start := time.Now()
		defer func() { e.metrics.Observe(MetricValidateLatency, time.Since(start)) }()
	}

	claims, err := e.jwtManager.ParseAccess(accessToken)
	if err != nil {
		e.metricInc(MetricValidateFailure)
		return nil, ErrUnauthorized
	}

	revoked, err := e.sessionStore.IsBlacklisted(ctx, claims.ID)
	if err != nil {
		return nil, unavailable(err)
	}
	if revoked {
		e.metricInc(MetricValidateFailure)
		return nil, ErrUnauthorized
	}
	return claims, nil
}

// Logout revokes accessToken for the rest of its lifetime. An empty,
// expired or malformed token is already unusable and is ignored; a token
// issued to another user yields ErrUnauthorized.
func (e *Engine) Logout(ctx context.Context, userID, accessToken string) error {
	if e.jwtManager == nil || e.sessionStore == nil {
		return ErrEngineNotReady
	}
	if accessToken == "" {
		return nil
	}

	claims, err := e.jwtManager.ParseAccess(accessToken)
	if err != nil {
		return nil
	}
	if claims.Subject != userID {
		return ErrUnauthorized
	}

	if err := e.sessionStore.Blacklist(ctx, claims.ID, claims.Remaining(time.Now())); err != nil {
		return unavailable(err)
	}

	e.metricInc(MetricLogout)
	e.emitAudit(ctx, auditEventLogout, true, userID, claims.WorkspaceID, "", nil, nil)
	return nil
}

// RevokeRefreshToken deletes the refresh entry of refreshToken if it
// belongs to userID. Unknown tokens are ignored.
func (e *Engine) RevokeRefreshToken(ctx context.Context, userID, refreshToken string) error {
	if refreshToken == "" {
		return nil
	}
	err := e.RevokeSession(ctx, userID, cryptox.HashToken(refreshToken))
	if errors.Is(err, ErrSessionNotFound) {
		return nil
	}
	return err
}

// LogoutAll revokes every refresh entry of the user. It is idempotent.
func (e *Engine) LogoutAll(ctx context.Context, userID string) error {
	if e.sessionStore == nil {
		return ErrEngineNotReady
	}

	n, err := e.sessionStore.DeleteAllForUser(ctx, userID)
	if err != nil {
		return unavailable(err)
	}

	e.metricInc(MetricLogoutAll)
	e.emitAudit(ctx, auditEventLogoutAll, true, userID, "", "", nil, func() map[string]string {
		return map[string]string{"sessions": fmt.Sprint(n)}
	})
	return nil
}

// RevokeSession deletes one refresh entry of the user by its session id.
func (e *Engine) RevokeSession(ctx context.Context, userID, sessionID string) error {
	if e.sessionStore == nil {
		return ErrEngineNotReady
	}

	entry, err := e.sessionStore.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, session.ErrRedisUnavailable) {
			return unavailable(err)
		}
		return ErrSessionNotFound
	}
	if entry.UserID != userID {
		return ErrSessionNotFound
	}
	if err := e.sessionStore.Delete(ctx, userID, sessionID); err != nil {
		return unavailable(err)
	}

	e.metricInc(MetricSessionRevoked)
	e.emitAudit(ctx, auditEventSessionRevoked, true, userID, "", sessionID, nil, nil)
	return nil
}

// ListActiveSessions returns the user's live sessions, most recently
// active first. Client details are decrypted; a blob that fails
// authentication aborts the listing with cryptox.ErrIntegrity.
func (e *Engine) ListActiveSessions(ctx context.Context, userID string) ([]SessionInfo, error) {
	if e.sessionStore == nil || e.cipher == nil {
		return nil, ErrEngineNotReady
	}

	entries, err := e.sessionStore.ListForUser(ctx, userID)
	if err != nil {
		if errors.Is(err, session.ErrRedisUnavailable) {
			return nil, unavailable(err)
		}
		return nil, err
	}

	out := make([]SessionInfo, 0, len(entries))
	for _, entry := range entries {
		details, err := e.openClientDetails(entry.Client)
		if err != nil {
			return nil, fmt.Errorf("session %s: %w", entry.ID, err)
		}
		out = append(out, SessionInfo{
			ID:           entry.ID,
			IP:           details.IP,
			UserAgent:    details.UserAgent,
			CreatedAt:    time.Unix(entry.CreatedAt, 0).UTC(),
			LastActiveAt: time.Unix(entry.LastActiveAt, 0).UTC(),
			ExpiresAt:    time.Unix(entry.ExpiresAt, 0).UTC(),
		})
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].LastActiveAt.After(out[j].LastActiveAt)
	})
	return out, nil
}

func (e *Engine) openClientDetails(blob string) (clientDetails, error) {
	var details clientDetails
	if blob == "" {
		return details, nil
	}
	plain, err := e.cipher.Decrypt(blob, e.config.Cipher.MasterSecret)
	if err != nil {
		return details, err
	}
	if err := json.Unmarshal([]byte(plain), &details); err != nil {
		return details, fmt.Errorf("%w: %v", cryptox.ErrFormat, err)
	}
	return details, nil
}

// truncateUTF8 cuts s to at most max bytes without splitting a rune.
func truncateUTF8(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}
