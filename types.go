package authcore

import (
	"context"
	"io"
	"log/slog"
	"time"

	internalaudit "github.com/MrEthical07/authcore/internal/audit"
	"github.com/MrEthical07/authcore/jwt"
	"github.com/MrEthical07/authcore/store"
)

// TokenTypeBearer is the token_type reported with every access token.
const TokenTypeBearer = "Bearer"

// SignUpInput is the payload of Engine.SignUp and Engine.CreateAccount.
type SignUpInput struct {
	Email         string
	Password      string
	FirstName     string
	LastName      string
	WorkspaceName string
}

// FederatedIdentity is an identity already verified by an external
// provider. The Engine trusts it as given. EmailVerified must reflect the
// provider's own assertion (for example the OIDC email_verified claim); an
// unverified email is never used to link an existing account.
type FederatedIdentity struct {
	Provider      string
	Subject       string
	Email         string
	EmailVerified bool
	FirstName     string
	LastName      string
}

// UserInfo is the caller-safe projection of a user record.
type UserInfo struct {
	ID            string     `json:"id"`
	Email         string     `json:"email"`
	FirstName     string     `json:"first_name"`
	LastName      string     `json:"last_name"`
	Role          string     `json:"role"`
	WorkspaceID   string     `json:"workspace_id"`
	EmailVerified bool       `json:"email_verified"`
	LastLoginAt   *time.Time `json:"last_login_at,omitempty"`
}

func userInfo(u *store.User) UserInfo {
	return UserInfo{
		ID:            u.ID,
		Email:         u.Email,
		FirstName:     u.FirstName,
		LastName:      u.LastName,
		Role:          string(u.Role),
		WorkspaceID:   u.WorkspaceID,
		EmailVerified: u.EmailVerified,
		LastLoginAt:   u.LastLoginAt,
	}
}

// TokenPair is a freshly issued access token and refresh token.
// SessionID identifies the refresh entry in session listings.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	ExpiresIn    time.Duration
	SessionID    string
}

// AuthResult is returned by the sign-up and sign-in operations.
type AuthResult struct {
	User   UserInfo
	Tokens TokenPair
}

// RefreshResult is returned by Engine.RefreshAccessToken. RefreshToken is
// only set when refresh-token rotation is enabled.
type RefreshResult struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	ExpiresIn    time.Duration
	SessionID    string
}

// SessionInfo describes one live refresh entry of a user.
type SessionInfo struct {
	ID           string    `json:"id"`
	IP           string    `json:"ip"`
	UserAgent    string    `json:"user_agent"`
	CreatedAt    time.Time `json:"created_at"`
	LastActiveAt time.Time `json:"last_active_at"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// AccessClaims are the verified claims of an access token.
type AccessClaims = jwt.AccessClaims

// Mailer delivers out-of-band messages. Delivery is best-effort; the
// Engine logs failures and never reports them to the caller.
type Mailer interface {
	SendPasswordResetEmail(ctx context.Context, email, token string) error
}

// LogMailer is a Mailer that only logs the delivery, without the token.
type LogMailer struct {
	Logger *slog.Logger
}

func (m LogMailer) SendPasswordResetEmail(ctx context.Context, email, _ string) error {
	logger := m.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "password reset email queued", "email", email)
	return nil
}

// AuditEvent is the canonical audit record.
type AuditEvent = internalaudit.Event

// AuditSink receives audit events from the dispatcher goroutine.
type AuditSink = internalaudit.Sink

// NoOpSink drops audit events.
type NoOpSink = internalaudit.NoOpSink

// ChannelSink writes audit events into a buffered channel.
type ChannelSink = internalaudit.ChannelSink

// JSONWriterSink writes one JSON object per audit event.
type JSONWriterSink = internalaudit.JSONWriterSink

// SlogSink logs audit events through a *slog.Logger.
type SlogSink = internalaudit.SlogSink

// MultiSink fans audit events out to several sinks.
type MultiSink = internalaudit.MultiSink

// NewChannelSink returns a ChannelSink with the given buffer.
func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

// NewJSONWriterSink returns a JSONWriterSink writing to w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return internalaudit.NewJSONWriterSink(w)
}

// NewSlogSink returns a SlogSink logging through logger.
func NewSlogSink(logger *slog.Logger) *SlogSink {
	return internalaudit.NewSlogSink(logger)
}
