package authcore

import (
	"context"
	"log/slog"
	"time"

	"github.com/MrEthical07/authcore/cryptox"
	"github.com/MrEthical07/authcore/internal/anomaly"
	"github.com/MrEthical07/authcore/internal/audit"
	"github.com/MrEthical07/authcore/internal/rate"
	"github.com/MrEthical07/authcore/jwt"
	"github.com/MrEthical07/authcore/session"
	"github.com/MrEthical07/authcore/store"
)

// Engine is the authentication core. Build one with [New] and share it;
// all methods are safe for concurrent use.
type Engine struct {
	config       Config
	records      store.Records
	mailer       Mailer
	cipher       *cryptox.Cipher
	sessionStore *session.Store
	rateLimiter  *rate.Limiter
	anomalies    *anomaly.StreamRecorder
	audit        *audit.Dispatcher
	metrics      *Metrics
	jwtManager   *jwt.Manager
	logger       *slog.Logger

	// dummyHash is compared against when no password hash exists so that
	// unknown and federated-only users cost the same as a wrong password.
	dummyHash string
}

// Close flushes and stops the audit dispatcher.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped reports how many audit events were dropped because the
// dispatcher buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot returns a copy of the in-process counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// RecentAnomalies returns up to n of the newest anomaly events, newest
// first.
func (e *Engine) RecentAnomalies(ctx context.Context, n int64) ([]anomaly.Event, error) {
	if e == nil || e.anomalies == nil {
		return nil, ErrEngineNotReady
	}
	events, err := e.anomalies.Recent(ctx, n)
	if err != nil {
		return nil, unavailable(err)
	}
	return events, nil
}

// Ping checks the Redis connection shared by sessions and rate limits.
func (e *Engine) Ping(ctx context.Context) (time.Duration, error) {
	if e == nil || e.sessionStore == nil {
		return 0, ErrEngineNotReady
	}
	d, err := e.sessionStore.Ping(ctx)
	if err != nil {
		return 0, unavailable(err)
	}
	return d, nil
}

// Config returns a copy of the engine configuration.
func (e *Engine) Config() Config {
	return cloneConfig(e.config)
}

// CheckRateLimit consumes one unit of identifier's budget in category.
// It returns a *RateLimitedError when the request must be refused and nil
// otherwise, including when the limiter could not reach Redis.
func (e *Engine) CheckRateLimit(ctx context.Context, category, identifier string, policy RateLimitPolicy) error {
	if e == nil || e.rateLimiter == nil || !e.config.RateLimit.Enabled {
		return nil
	}

	res := e.rateLimiter.CheckLimit(ctx, identifier, policy.toRate(), category)
	if res.Degraded {
		e.metricInc(MetricRateLimitDegraded)
	}
	if res.Allowed {
		return nil
	}

	e.emitRateLimit(ctx, category, res.RetryAfter)
	return &RateLimitedError{Category: category, RetryAfter: res.RetryAfter}
}

func (e *Engine) resetRateLimit(ctx context.Context, category, identifier string) {
	if e.rateLimiter == nil || !e.config.RateLimit.Enabled {
		return
	}
	if err := e.rateLimiter.ResetLimit(ctx, identifier, category); err != nil {
		e.logger.WarnContext(ctx, "rate limit reset failed", "category", category, "error", err)
	}
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}
