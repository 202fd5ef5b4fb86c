package authcore

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/authcore/cryptox"
	"github.com/MrEthical07/authcore/internal/anomaly"
)

const (
	auditEventSignUp                = "sign_up"
	auditEventSignUpFailure         = "sign_up_failure"
	auditEventSignInSuccess         = "sign_in_success"
	auditEventSignInFailure         = "sign_in_failure"
	auditEventSignInFederated       = "sign_in_federated"
	auditEventFederatedLinked       = "federated_identity_linked"
	auditEventRefreshSuccess        = "refresh_success"
	auditEventRefreshFailure        = "refresh_failure"
	auditEventLogout                = "logout"
	auditEventLogoutAll             = "logout_all"
	auditEventSessionRevoked        = "session_revoked"
	auditEventPasswordResetRequest  = "password_reset_request"
	auditEventPasswordResetSuccess  = "password_reset_success"
	auditEventPasswordResetFailure  = "password_reset_failure"
	auditEventPasswordChangeSuccess = "password_change_success"
	auditEventPasswordChangeFailure = "password_change_failure"
	auditEventRateLimitTriggered    = "rate_limit_triggered"
	auditEventAnomalyPrefix         = "anomaly_"
)

// AuditErrorCode is the stable, detail-free error label written to audit
// events.
type AuditErrorCode string

const (
	auditErrUnauthorized AuditErrorCode = "unauthorized"
	auditErrConflict     AuditErrorCode = "conflict"
	auditErrBadRequest   AuditErrorCode = "bad_request"
	auditErrRateLimited  AuditErrorCode = "rate_limited"
	auditErrNotFound     AuditErrorCode = "session_not_found"
	auditErrIntegrity    AuditErrorCode = "integrity"
	auditErrUnavailable  AuditErrorCode = "backend_unavailable"
	auditErrInternal     AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	userID string,
	workspaceID string,
	sessionID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp:   time.Now().UTC(),
		EventType:   eventType,
		UserID:      userID,
		WorkspaceID: workspaceID,
		SessionID:   sessionID,
		IP:          ClientIPFromContext(ctx),
		Success:     success,
		Metadata:    metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func (e *Engine) emitRateLimit(ctx context.Context, category string, retryAfter time.Duration) {
	e.metricInc(MetricRateLimited)
	e.emitAudit(ctx, auditEventRateLimitTriggered, false, "", "", "", ErrRateLimited, func() map[string]string {
		return map[string]string{
			"category":    category,
			"retry_after": retryAfter.Round(time.Second).String(),
		}
	})
}

// forwardAnomaly copies a severe anomaly into the audit trail. It is the
// Forward hook of the anomaly recorder.
func (e *Engine) forwardAnomaly(ctx context.Context, event anomaly.Event) {
	if e == nil || e.audit == nil {
		return
	}
	metadata := make(map[string]string, len(event.Details)+1)
	for k, v := range event.Details {
		metadata[k] = v
	}
	metadata["identifier"] = event.Identifier

	e.audit.Emit(ctx, AuditEvent{
		Timestamp: event.Timestamp.UTC(),
		EventType: auditEventAnomalyPrefix + event.Type,
		IP:        ClientIPFromContext(ctx),
		Success:   false,
		Severity:  string(event.Severity),
		Metadata:  metadata,
	})
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrUnauthorized):
		return auditErrUnauthorized
	case errors.Is(err, ErrConflict):
		return auditErrConflict
	case errors.Is(err, ErrBadRequest):
		return auditErrBadRequest
	case errors.Is(err, ErrRateLimited):
		return auditErrRateLimited
	case errors.Is(err, ErrSessionNotFound):
		return auditErrNotFound
	case errors.Is(err, cryptox.ErrIntegrity), errors.Is(err, cryptox.ErrFormat):
		return auditErrIntegrity
	case errors.Is(err, ErrUnavailable), errors.Is(err, ErrEngineNotReady):
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}
