package authcore

import (
	"errors"
	"log/slog"

	"github.com/MrEthical07/authcore/cryptox"
	"github.com/MrEthical07/authcore/internal/anomaly"
	"github.com/MrEthical07/authcore/internal/audit"
	"github.com/MrEthical07/authcore/internal/rate"
	"github.com/MrEthical07/authcore/jwt"
	"github.com/MrEthical07/authcore/session"
	"github.com/MrEthical07/authcore/store"
	"github.com/redis/go-redis/v9"
)

// dummyPassword is hashed once per Engine to equalize the cost of
// credential checks for users without a usable hash.
const dummyPassword = "authcore-timing-equalizer"

// Builder assembles an Engine. A Builder can be used once.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	records   store.Records
	mailer    Mailer
	auditSink AuditSink
	logger    *slog.Logger

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the client used for sessions, rate limits and the
// anomaly stream.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithRecords sets the user/workspace record store.
func (b *Builder) WithRecords(records store.Records) *Builder {
	b.records = records
	return b
}

func (b *Builder) WithMailer(m Mailer) *Builder {
	b.mailer = m
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires every collaborator.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}
	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.records == nil {
		return nil, errors.New("record store required")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}
	mailer := b.mailer
	if mailer == nil {
		mailer = LogMailer{Logger: logger}
	}

	cipher, err := cryptox.New(cryptox.Config{
		BcryptCost:    cfg.Cipher.BcryptCost,
		KDFIterations: cfg.Cipher.KDFIterations,
	})
	if err != nil {
		return nil, err
	}
	dummyHash, err := cipher.Hash(dummyPassword)
	if err != nil {
		return nil, err
	}

	jm, err := jwt.NewManager(jwt.Config{
		AccessTTL:     cfg.JWT.AccessTTL,
		SigningMethod: jwt.SigningMethod(cfg.JWT.SigningMethod),
		PrivateKey:    cloneBytes(cfg.JWT.PrivateKey),
		PublicKey:     cloneBytes(cfg.JWT.PublicKey),
		Issuer:        cfg.JWT.Issuer,
		Audience:      cfg.JWT.Audience,
		Leeway:        cfg.JWT.Leeway,
	})
	if err != nil {
		return nil, err
	}

	engine := &Engine{
		config:     cfg,
		records:    b.records,
		mailer:     mailer,
		cipher:     cipher,
		jwtManager: jm,
		logger:     logger,
		dummyHash:  dummyHash,
	}

	engine.sessionStore = session.NewStore(b.redis, session.Config{
		Prefix:          cfg.Session.RedisPrefix,
		BlacklistPrefix: cfg.Session.BlacklistPrefix,
	})
	engine.audit = audit.NewDispatcher(audit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
	}, b.auditSink)
	engine.metrics = NewMetrics(cfg.Metrics)
	engine.anomalies = anomaly.NewStreamRecorder(b.redis, anomaly.Config{
		Stream:           cfg.Anomaly.Stream,
		MaxLen:           cfg.Anomaly.MaxLen,
		ForwardAtOrAbove: anomaly.Severity(cfg.Anomaly.ForwardAtOrAbove),
		Forward:          engine.forwardAnomaly,
		Logger:           logger,
	})
	engine.rateLimiter = rate.New(b.redis, rate.Config{
		Prefix:    cfg.RateLimit.RedisPrefix,
		Anomalies: engine.anomalies,
		Logger:    logger,
	})

	b.built = true

	return engine, nil
}
