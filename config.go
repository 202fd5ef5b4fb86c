package authcore

import (
	"errors"
	"time"

	"github.com/MrEthical07/authcore/cryptox"
	"github.com/MrEthical07/authcore/internal/rate"
)

// Config holds every tunable of the Engine. Start from DefaultConfig and
// override what you need; Builder.Build calls Validate.
type Config struct {
	JWT           JWTConfig
	Session       SessionConfig
	Cipher        CipherConfig
	RateLimit     RateLimitConfig
	PasswordReset PasswordResetConfig
	Account       AccountConfig
	Audit         AuditConfig
	Anomaly       AnomalyConfig
	Metrics       MetricsConfig
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig configures access-token signing.
type JWTConfig struct {
	AccessTTL     time.Duration
	SigningMethod string // "hs256" (default) or "ed25519"
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig configures refresh-token entries.
type SessionConfig struct {
	RedisPrefix     string
	BlacklistPrefix string
	RefreshTTL      time.Duration
	// RefreshTokenBytes is the entropy of a refresh token before hex encoding.
	RefreshTokenBytes int
	// RotateRefreshTokens replaces the refresh token on every refresh.
	RotateRefreshTokens bool
}

/*
====================================
CIPHER CONFIG
====================================
*/

// CipherConfig configures password hashing and field encryption.
type CipherConfig struct {
	BcryptCost    int
	KDFIterations int
	// MasterSecret keys the encryption of session client details.
	MasterSecret []byte
}

/*
====================================
RATE LIMIT CONFIG
====================================
*/

// RateLimitPolicy is a fixed-window limit. A zero BlockDuration disables
// the extended block after the limit is hit.
type RateLimitPolicy struct {
	Limit         int
	Window        time.Duration
	BlockDuration time.Duration
}

func (p RateLimitPolicy) toRate() rate.Policy {
	return rate.Policy{
		Window:        p.Window,
		Limit:         p.Limit,
		BlockDuration: p.BlockDuration,
	}
}

// RateLimitConfig holds the per-category presets.
type RateLimitConfig struct {
	Enabled       bool
	RedisPrefix   string
	Auth          RateLimitPolicy
	SignUp        RateLimitPolicy
	PasswordReset RateLimitPolicy
	API           RateLimitPolicy
}

/*
====================================
ACCOUNT CONFIG
====================================
*/

// PasswordResetConfig configures reset tokens.
type PasswordResetConfig struct {
	TokenTTL   time.Duration
	TokenBytes int
}

// AccountConfig configures sign-up and the password policy.
type AccountConfig struct {
	TrialPeriod       time.Duration
	MinPasswordLength int
	MaxPasswordLength int
}

/*
====================================
OBSERVABILITY CONFIG
====================================
*/

// AuditConfig controls the asynchronous audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// AnomalyConfig controls the anomaly stream.
type AnomalyConfig struct {
	Stream string
	MaxLen int64
	// ForwardAtOrAbove is the lowest severity copied into the audit trail.
	ForwardAtOrAbove string
}

// MetricsConfig toggles the in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// DefaultConfig returns production defaults. JWT.PrivateKey and
// Cipher.MasterSecret must still be supplied.
func DefaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			AccessTTL:     15 * time.Minute,
			SigningMethod: "hs256",
			Issuer:        "authcore",
			Audience:      "authcore",
		},
		Session: SessionConfig{
			RedisPrefix:         "rt",
			BlacklistPrefix:     "abl",
			RefreshTTL:          30 * 24 * time.Hour,
			RefreshTokenBytes:   32,
			RotateRefreshTokens: false,
		},
		Cipher: CipherConfig{
			BcryptCost:    cryptox.DefaultBcryptCost,
			KDFIterations: cryptox.DefaultKDFIterations,
		},
		RateLimit: RateLimitConfig{
			Enabled:     true,
			RedisPrefix: "rl",
			Auth: RateLimitPolicy{
				Limit:         5,
				Window:        15 * time.Minute,
				BlockDuration: 30 * time.Minute,
			},
			SignUp: RateLimitPolicy{
				Limit:  10,
				Window: time.Hour,
			},
			PasswordReset: RateLimitPolicy{
				Limit:  3,
				Window: time.Hour,
			},
			API: RateLimitPolicy{
				Limit:  1000,
				Window: time.Minute,
			},
		},
		PasswordReset: PasswordResetConfig{
			TokenTTL:   time.Hour,
			TokenBytes: 32,
		},
		Account: AccountConfig{
			TrialPeriod:       14 * 24 * time.Hour,
			MinPasswordLength: 8,
			MaxPasswordLength: 72,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Anomaly: AnomalyConfig{
			Stream:           "anomalies",
			MaxLen:           10_000,
			ForwardAtOrAbove: "high",
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: false,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	out.Cipher.MasterSecret = cloneBytes(cfg.Cipher.MasterSecret)
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first configuration problem found.
func (c *Config) Validate() error {
	// JWT
	if c.JWT.AccessTTL <= 0 {
		return errors.New("JWT AccessTTL must be > 0")
	}
	switch c.JWT.SigningMethod {
	case "hs256":
		if len(c.JWT.PrivateKey) < 32 {
			return errors.New("hs256 requires a PrivateKey of at least 32 bytes")
		}
	case "ed25519":
		if len(c.JWT.PrivateKey) == 0 || len(c.JWT.PublicKey) == 0 {
			return errors.New("ed25519 requires PrivateKey and PublicKey")
		}
	default:
		return errors.New("unsupported JWT signing method")
	}

	// Session
	if c.Session.RefreshTTL <= 0 {
		return errors.New("Session RefreshTTL must be > 0")
	}
	if c.Session.RefreshTTL <= c.JWT.AccessTTL {
		return errors.New("Session RefreshTTL must exceed JWT AccessTTL")
	}
	if c.Session.RefreshTokenBytes < 16 {
		return errors.New("Session RefreshTokenBytes must be >= 16")
	}
	if c.Session.RedisPrefix == "" || c.Session.BlacklistPrefix == "" {
		return errors.New("Session prefixes must be set")
	}

	// Cipher
	if len(c.Cipher.MasterSecret) < 32 {
		return errors.New("Cipher MasterSecret must be at least 32 bytes")
	}

	// Rate limits
	if c.RateLimit.Enabled {
		for name, p := range map[string]RateLimitPolicy{
			"Auth":          c.RateLimit.Auth,
			"SignUp":        c.RateLimit.SignUp,
			"PasswordReset": c.RateLimit.PasswordReset,
			"API":           c.RateLimit.API,
		} {
			if err := p.toRate().Validate(); err != nil {
				return errors.New("RateLimit " + name + ": " + err.Error())
			}
		}
	}

	// Account
	if c.PasswordReset.TokenTTL <= 0 {
		return errors.New("PasswordReset TokenTTL must be > 0")
	}
	if c.PasswordReset.TokenBytes < 16 {
		return errors.New("PasswordReset TokenBytes must be >= 16")
	}
	if c.Account.TrialPeriod <= 0 {
		return errors.New("Account TrialPeriod must be > 0")
	}
	if c.Account.MinPasswordLength < 1 || c.Account.MaxPasswordLength > 72 ||
		c.Account.MinPasswordLength > c.Account.MaxPasswordLength {
		return errors.New("Account password length bounds must satisfy 1 <= min <= max <= 72")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when enabled")
	}

	return nil
}
