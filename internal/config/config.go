package config

import (
	"fmt"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/MrEthical07/authcore"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration of authcore-server.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Redis    RedisConfig    `yaml:"redis"`
	Database DatabaseConfig `yaml:"database"`
	Logging  LoggingConfig  `yaml:"logging"`
	Auth     AuthConfig     `yaml:"auth"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// ServerConfig contains HTTP listener settings.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// TrustedProxies lists CIDRs whose X-Forwarded-For header is believed.
	TrustedProxies []string `yaml:"trusted_proxies"`
}

// RedisConfig contains the Redis connection used for sessions, rate limits
// and the anomaly stream.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	// Embedded starts an in-process miniredis instead of dialing Addr.
	// Development only.
	Embedded bool `yaml:"embedded"`
}

// DatabaseConfig selects the record store.
type DatabaseConfig struct {
	// Driver is "memory" or "postgres".
	Driver       string `yaml:"driver"`
	DSN          string `yaml:"dsn"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	AutoMigrate  bool   `yaml:"auto_migrate"`
}

// LoggingConfig controls the slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// AuthConfig mirrors the tunables of authcore.Config that operators set.
type AuthConfig struct {
	SigningMethod     string        `yaml:"signing_method"`
	JWTSecret         string        `yaml:"jwt_secret"`
	JWTPrivateKeyFile string        `yaml:"jwt_private_key_file"`
	JWTPublicKeyFile  string        `yaml:"jwt_public_key_file"`
	Issuer            string        `yaml:"issuer"`
	Audience          string        `yaml:"audience"`
	AccessTTL         time.Duration `yaml:"access_ttl"`
	RefreshTTL        time.Duration `yaml:"refresh_ttl"`
	RotateRefresh     bool          `yaml:"rotate_refresh_tokens"`
	MasterSecret      string        `yaml:"master_secret"`
	BcryptCost        int           `yaml:"bcrypt_cost"`
	RateLimitEnabled  bool          `yaml:"rate_limit_enabled"`
	// AuditSink is "none", "log" or "postgres".
	AuditSink string `yaml:"audit_sink"`
}

// MetricsConfig controls in-process counters and how they are exported.
// Exporter "prometheus" serves /metrics; "otel" pushes through an
// OpenTelemetry periodic reader every OTelInterval.
type MetricsConfig struct {
	Enabled           bool          `yaml:"enabled"`
	LatencyHistograms bool          `yaml:"latency_histograms"`
	Exporter          string        `yaml:"exporter"`
	OTelInterval      time.Duration `yaml:"otel_interval"`
}

// Load reads the YAML file at path, applies AUTHCORE_* environment
// overrides and validates the result. An empty path loads defaults plus
// environment only.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Database: DatabaseConfig{
			Driver:       "memory",
			MaxOpenConns: 10,
			AutoMigrate:  true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Auth: AuthConfig{
			SigningMethod:    "hs256",
			Issuer:           "authcore",
			Audience:         "authcore",
			AccessTTL:        15 * time.Minute,
			RefreshTTL:       30 * 24 * time.Hour,
			BcryptCost:       12,
			RateLimitEnabled: true,
			AuditSink:        "log",
		},
		Metrics: MetricsConfig{
			Enabled:      true,
			Exporter:     "prometheus",
			OTelInterval: time.Minute,
		},
	}
}

// applyEnvOverrides applies AUTHCORE_SECTION_KEY variables.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("AUTHCORE_SERVER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("AUTHCORE_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("AUTHCORE_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("AUTHCORE_REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Redis.DB = n
		}
	}
	if v := os.Getenv("AUTHCORE_DATABASE_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("AUTHCORE_DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("AUTHCORE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("AUTHCORE_METRICS_EXPORTER"); v != "" {
		cfg.Metrics.Exporter = v
	}

	// Secrets. Always set these from the environment in production.
	if v := os.Getenv("AUTHCORE_JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if v := os.Getenv("AUTHCORE_MASTER_SECRET"); v != "" {
		cfg.Auth.MasterSecret = v
	}
}

// Validate checks the file-level settings. Engine-level rules are checked
// again by authcore.Config.Validate when the engine is built.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Addr == "" {
		errs = append(errs, "server.addr is required")
	}
	if _, err := c.TrustedProxies(); err != nil {
		errs = append(errs, err.Error())
	}

	if !c.Redis.Embedded && c.Redis.Addr == "" {
		errs = append(errs, "redis.addr is required unless redis.embedded is set")
	}

	switch c.Database.Driver {
	case "memory":
	case "postgres":
		if c.Database.DSN == "" {
			errs = append(errs, "database.dsn is required for the postgres driver (set AUTHCORE_DATABASE_DSN)")
		}
	default:
		errs = append(errs, "database.driver must be memory or postgres")
	}

	const minSecretLength = 32
	switch c.Auth.SigningMethod {
	case "hs256":
		if len(c.Auth.JWTSecret) < minSecretLength {
			errs = append(errs, "auth.jwt_secret must be at least 32 characters (set AUTHCORE_JWT_SECRET)")
		}
	case "ed25519":
		if c.Auth.JWTPrivateKeyFile == "" || c.Auth.JWTPublicKeyFile == "" {
			errs = append(errs, "auth.jwt_private_key_file and auth.jwt_public_key_file are required for ed25519")
		}
	default:
		errs = append(errs, "auth.signing_method must be hs256 or ed25519")
	}
	if len(c.Auth.MasterSecret) < minSecretLength {
		errs = append(errs, "auth.master_secret must be at least 32 characters (set AUTHCORE_MASTER_SECRET)")
	}

	switch c.Auth.AuditSink {
	case "none", "log":
	case "postgres":
		if c.Database.Driver != "postgres" {
			errs = append(errs, "auth.audit_sink postgres requires database.driver postgres")
		}
	default:
		errs = append(errs, "auth.audit_sink must be none, log or postgres")
	}

	switch c.Metrics.Exporter {
	case "prometheus":
	case "otel":
		if c.Metrics.OTelInterval <= 0 {
			errs = append(errs, "metrics.otel_interval must be positive")
		}
	default:
		errs = append(errs, "metrics.exporter must be prometheus or otel")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// TrustedProxies parses Server.TrustedProxies.
func (c *Config) TrustedProxies() ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(c.Server.TrustedProxies))
	for _, raw := range c.Server.TrustedProxies {
		p, err := netip.ParsePrefix(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("server.trusted_proxies: %q is not a CIDR", raw)
		}
		out = append(out, p)
	}
	return out, nil
}

// EngineConfig builds the authcore.Config described by c. Key files are
// read here.
func (c *Config) EngineConfig() (authcore.Config, error) {
	cfg := authcore.DefaultConfig()

	cfg.JWT.SigningMethod = c.Auth.SigningMethod
	cfg.JWT.Issuer = c.Auth.Issuer
	cfg.JWT.Audience = c.Auth.Audience
	if c.Auth.AccessTTL > 0 {
		cfg.JWT.AccessTTL = c.Auth.AccessTTL
	}
	switch c.Auth.SigningMethod {
	case "ed25519":
		priv, err := os.ReadFile(c.Auth.JWTPrivateKeyFile)
		if err != nil {
			return cfg, fmt.Errorf("reading jwt private key: %w", err)
		}
		pub, err := os.ReadFile(c.Auth.JWTPublicKeyFile)
		if err != nil {
			return cfg, fmt.Errorf("reading jwt public key: %w", err)
		}
		cfg.JWT.PrivateKey = priv
		cfg.JWT.PublicKey = pub
	default:
		cfg.JWT.PrivateKey = []byte(c.Auth.JWTSecret)
	}

	if c.Auth.RefreshTTL > 0 {
		cfg.Session.RefreshTTL = c.Auth.RefreshTTL
	}
	cfg.Session.RotateRefreshTokens = c.Auth.RotateRefresh

	cfg.Cipher.MasterSecret = []byte(c.Auth.MasterSecret)
	if c.Auth.BcryptCost > 0 {
		cfg.Cipher.BcryptCost = c.Auth.BcryptCost
	}

	cfg.RateLimit.Enabled = c.Auth.RateLimitEnabled
	cfg.Audit.Enabled = c.Auth.AuditSink != "none"
	cfg.Metrics.Enabled = c.Metrics.Enabled
	cfg.Metrics.EnableLatencyHistograms = c.Metrics.LatencyHistograms

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("engine config: %w", err)
	}
	return cfg, nil
}
