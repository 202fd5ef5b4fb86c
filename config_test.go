package authcore

import (
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/MrEthical07/authcore/store/memory"
)

func TestDefaultConfigNeedsSecrets(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected default config without keys to be rejected")
	}

	cfg = testConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected test config to validate, got %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantValid bool
	}{
		{
			name:      "baseline",
			mutate:    func(*Config) {},
			wantValid: true,
		},
		{
			name: "access ttl zero",
			mutate: func(c *Config) {
				c.JWT.AccessTTL = 0
			},
			wantValid: false,
		},
		{
			name: "hs256 short secret",
			mutate: func(c *Config) {
				c.JWT.PrivateKey = []byte("too-short")
			},
			wantValid: false,
		},
		{
			name: "ed25519 missing public key",
			mutate: func(c *Config) {
				c.JWT.SigningMethod = "ed25519"
				c.JWT.PublicKey = nil
			},
			wantValid: false,
		},
		{
			name: "signing method unsupported",
			mutate: func(c *Config) {
				c.JWT.SigningMethod = "rs256"
			},
			wantValid: false,
		},
		{
			name: "refresh ttl shorter than access ttl",
			mutate: func(c *Config) {
				c.Session.RefreshTTL = 10 * time.Minute
			},
			wantValid: false,
		},
		{
			name: "refresh token too short",
			mutate: func(c *Config) {
				c.Session.RefreshTokenBytes = 8
			},
			wantValid: false,
		},
		{
			name: "master secret short",
			mutate: func(c *Config) {
				c.Cipher.MasterSecret = []byte("short")
			},
			wantValid: false,
		},
		{
			name: "rate limit policy invalid",
			mutate: func(c *Config) {
				c.RateLimit.Auth.Limit = 0
			},
			wantValid: false,
		},
		{
			name: "rate limit policy ignored when disabled",
			mutate: func(c *Config) {
				c.RateLimit.Enabled = false
				c.RateLimit.Auth.Limit = 0
			},
			wantValid: true,
		},
		{
			name: "reset ttl zero",
			mutate: func(c *Config) {
				c.PasswordReset.TokenTTL = 0
			},
			wantValid: false,
		},
		{
			name: "max password above bcrypt limit",
			mutate: func(c *Config) {
				c.Account.MaxPasswordLength = 100
			},
			wantValid: false,
		},
		{
			name: "min password above max",
			mutate: func(c *Config) {
				c.Account.MinPasswordLength = 40
				c.Account.MaxPasswordLength = 32
			},
			wantValid: false,
		},
		{
			name: "trial period zero",
			mutate: func(c *Config) {
				c.Account.TrialPeriod = 0
			},
			wantValid: false,
		},
		{
			name: "audit buffer zero when enabled",
			mutate: func(c *Config) {
				c.Audit.Enabled = true
				c.Audit.BufferSize = 0
			},
			wantValid: false,
		},
		{
			name: "audit buffer ignored when disabled",
			mutate: func(c *Config) {
				c.Audit.Enabled = false
				c.Audit.BufferSize = 0
			},
			wantValid: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.wantValid && err != nil {
				t.Fatalf("expected valid config, got %v", err)
			}
			if !tc.wantValid && err == nil {
				t.Fatal("expected invalid config")
			}
		})
	}
}

func TestDefaultConfigValues(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.JWT.AccessTTL != 15*time.Minute || cfg.Session.RefreshTTL != 30*24*time.Hour {
		t.Fatalf("unexpected token lifetimes: access=%s refresh=%s", cfg.JWT.AccessTTL, cfg.Session.RefreshTTL)
	}
	if cfg.RateLimit.Auth != (RateLimitPolicy{Limit: 5, Window: 15 * time.Minute, BlockDuration: 30 * time.Minute}) {
		t.Fatalf("unexpected auth policy: %+v", cfg.RateLimit.Auth)
	}
	if cfg.RateLimit.PasswordReset.Limit != 3 || cfg.RateLimit.PasswordReset.Window != time.Hour {
		t.Fatalf("unexpected reset policy: %+v", cfg.RateLimit.PasswordReset)
	}
	if cfg.PasswordReset.TokenTTL != time.Hour || cfg.Account.TrialPeriod != 14*24*time.Hour {
		t.Fatalf("unexpected account defaults: %+v %+v", cfg.PasswordReset, cfg.Account)
	}
	if cfg.Session.RotateRefreshTokens {
		t.Fatal("rotation must be opt-in")
	}
}

func TestEngineConfigIsACopy(t *testing.T) {
	env := newTestEnv(t, nil)

	cfg := env.engine.Config()
	cfg.Cipher.MasterSecret[0] ^= 0xff
	cfg.JWT.AccessTTL = time.Second

	again := env.engine.Config()
	if string(again.Cipher.MasterSecret) != testMasterSecret || again.JWT.AccessTTL != 15*time.Minute {
		t.Fatal("engine config was mutated through a returned copy")
	}
}

func TestBuilderRequiresCollaborators(t *testing.T) {
	_, rdb := newTestRedis(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	if _, err := New().WithConfig(testConfig()).WithRecords(memory.New()).WithLogger(logger).Build(); err == nil {
		t.Fatal("expected error without redis")
	}
	if _, err := New().WithConfig(testConfig()).WithRedis(rdb).WithLogger(logger).Build(); err == nil {
		t.Fatal("expected error without a record store")
	}

	bad := testConfig()
	bad.Cipher.MasterSecret = nil
	if _, err := New().WithConfig(bad).WithRedis(rdb).WithRecords(memory.New()).WithLogger(logger).Build(); err == nil {
		t.Fatal("expected config validation error")
	}

	b := New().WithConfig(testConfig()).WithRedis(rdb).WithRecords(memory.New()).WithLogger(logger)
	engine, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer engine.Close()
	if _, err := b.Build(); err == nil {
		t.Fatal("expected reused builder to fail")
	}
}

func TestZeroEngineReportsNotReady(t *testing.T) {
	var e Engine
	ctx := deviceA()

	if _, err := e.SignUp(ctx, SignUpInput{Email: "a@example.com", Password: "Secret123!", WorkspaceName: "w"}); !errors.Is(err, ErrEngineNotReady) {
		t.Fatalf("SignUp: expected ErrEngineNotReady, got %v", err)
	}
	if _, err := e.RefreshAccessToken(ctx, "x"); !errors.Is(err, ErrEngineNotReady) {
		t.Fatalf("RefreshAccessToken: expected ErrEngineNotReady, got %v", err)
	}
	if _, err := e.ValidateAccess(ctx, "x"); !errors.Is(err, ErrEngineNotReady) {
		t.Fatalf("ValidateAccess: expected ErrEngineNotReady, got %v", err)
	}
	if err := e.RequestPasswordReset(ctx, "a@example.com"); !errors.Is(err, ErrEngineNotReady) {
		t.Fatalf("RequestPasswordReset: expected ErrEngineNotReady, got %v", err)
	}
}
