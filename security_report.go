package authcore

import "time"

// SecurityReport summarizes the security posture of a running Engine.
// It carries no secrets and is safe to log.
type SecurityReport struct {
	SigningAlgorithm       string
	AccessTTL              time.Duration
	RefreshTTL             time.Duration
	BcryptCost             int
	KDFIterations          int
	RefreshRotationEnabled bool
	RateLimitingActive     bool
	AuditEnabled           bool
	PasswordPolicy         PasswordPolicyReport
	ResetTokenTTL          time.Duration
}

type PasswordPolicyReport struct {
	MinLength int
	MaxLength int
}

func (e *Engine) SecurityReport() SecurityReport {
	if e == nil {
		return SecurityReport{}
	}

	return SecurityReport{
		SigningAlgorithm:       e.config.JWT.SigningMethod,
		AccessTTL:              e.config.JWT.AccessTTL,
		RefreshTTL:             e.config.Session.RefreshTTL,
		BcryptCost:             e.config.Cipher.BcryptCost,
		KDFIterations:          e.config.Cipher.KDFIterations,
		RefreshRotationEnabled: e.config.Session.RotateRefreshTokens,
		RateLimitingActive:     e.config.RateLimit.Enabled,
		AuditEnabled:           e.config.Audit.Enabled,
		PasswordPolicy: PasswordPolicyReport{
			MinLength: e.config.Account.MinPasswordLength,
			MaxLength: e.config.Account.MaxPasswordLength,
		},
		ResetTokenTTL: e.config.PasswordReset.TokenTTL,
	}
}
