package rate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/MrEthical07/authcore/internal/anomaly"
	"github.com/redis/go-redis/v9"
)

// Config wires the limiter's collaborators.
type Config struct {
	Prefix    string
	Anomalies anomaly.Recorder
	Logger    *slog.Logger
}

// Limiter enforces fixed-window limits keyed by (category, identifier).
type Limiter struct {
	redis  redis.UniversalClient
	config Config
}

// New creates a rate [Limiter] backed by the given Redis client.
func New(redisClient redis.UniversalClient, cfg Config) *Limiter {
	if cfg.Prefix == "" {
		cfg.Prefix = "rl"
	}
	if cfg.Anomalies == nil {
		cfg.Anomalies = anomaly.NopRecorder{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Limiter{
		redis:  redisClient,
		config: cfg,
	}
}

// CheckLimit consumes one unit of the identifier's budget and reports
// whether the request may proceed. It never returns an error: Redis
// failures yield an allowed, Degraded result.
func (l *Limiter) CheckLimit(ctx context.Context, identifier string, policy Policy, category string) Result {
	now := time.Now()
	if err := policy.Validate(); err != nil {
		l.config.Logger.ErrorContext(ctx, "rate limit policy rejected", slog.String("category", category), slog.Any("error", err))
		return l.failOpen(now, policy)
	}

	counterKey := l.counterKey(category, identifier)
	blockKey := l.blockKey(category, identifier)

	pipe := l.redis.Pipeline()
	blockTTL := pipe.PTTL(ctx, blockKey)
	current := pipe.Get(ctx, counterKey)
	windowTTL := pipe.PTTL(ctx, counterKey)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return l.degrade(ctx, now, policy, category, err)
	}

	if ttl := blockTTL.Val(); ttl > 0 {
		return Result{
			Allowed:    false,
			Remaining:  0,
			ResetAt:    now.Add(ttl),
			RetryAfter: ttl,
		}
	}

	count, err := current.Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return l.degrade(ctx, now, policy, category, err)
	}

	if count >= int64(policy.Limit) {
		return l.deny(ctx, now, identifier, policy, category, windowTTL.Val())
	}

	if count > 0 && windowTTL.Val() == -1 {
		// A counter without TTL would never reset.
		if err := l.redis.PExpire(ctx, counterKey, policy.Window).Err(); err != nil {
			l.config.Logger.WarnContext(ctx, "rate limit ttl repair failed", slog.Any("error", err))
		}
	}

	next, err := l.redis.Incr(ctx, counterKey).Result()
	if err != nil {
		return l.degrade(ctx, now, policy, category, err)
	}

	resetAt := now.Add(policy.Window)
	if next == 1 {
		if err := l.redis.PExpire(ctx, counterKey, policy.Window).Err(); err != nil {
			l.config.Logger.WarnContext(ctx, "rate limit expire failed", slog.String("category", category), slog.Any("error", err))
		}
	} else if ttl := windowTTL.Val(); ttl > 0 {
		resetAt = now.Add(ttl)
	}

	remaining := policy.Limit - int(next)
	if remaining < 0 {
		remaining = 0
	}

	return Result{
		Allowed:   true,
		Remaining: remaining,
		ResetAt:   resetAt,
	}
}

// ResetLimit clears the counter and any block for the identifier.
func (l *Limiter) ResetLimit(ctx context.Context, identifier, category string) error {
	if err := l.redis.Del(ctx, l.counterKey(category, identifier), l.blockKey(category, identifier)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

func (l *Limiter) deny(
	ctx context.Context,
	now time.Time,
	identifier string,
	policy Policy,
	category string,
	windowTTL time.Duration,
) Result {
	result := Result{
		Allowed:    false,
		Remaining:  0,
		ResetAt:    now.Add(policy.Window),
		RetryAfter: policy.Window,
	}
	if windowTTL > 0 {
		result.ResetAt = now.Add(windowTTL)
		result.RetryAfter = windowTTL
	}

	if policy.BlockDuration > 0 {
		record := BlockRecord{
			Identifier: identifier,
			Category:   category,
			BlockedAt:  now.UTC(),
			ExpiresAt:  now.Add(policy.BlockDuration).UTC(),
			Reason:     "limit exceeded",
		}
		data, _ := json.Marshal(record)
		if err := l.redis.Set(ctx, l.blockKey(category, identifier), data, policy.BlockDuration).Err(); err != nil {
			l.config.Logger.WarnContext(ctx, "rate limit block write failed", slog.String("category", category), slog.Any("error", err))
		} else {
			result.ResetAt = record.ExpiresAt
			result.RetryAfter = policy.BlockDuration
		}
	}

	l.config.Anomalies.Record(ctx, anomaly.Event{
		Type:       anomaly.TypeRateLimitExceeded,
		Severity:   anomaly.SeverityMedium,
		Identifier: identifier,
		Details: map[string]string{
			"category": category,
			"limit":    strconv.Itoa(policy.Limit),
			"window":   policy.Window.String(),
			"block":    policy.BlockDuration.String(),
		},
		Timestamp: now.UTC(),
	})

	return result
}

func (l *Limiter) degrade(ctx context.Context, now time.Time, policy Policy, category string, err error) Result {
	l.config.Logger.WarnContext(ctx, "rate limiter unavailable, failing open",
		slog.String("category", category),
		slog.Any("error", err),
	)
	return l.failOpen(now, policy)
}

func (l *Limiter) failOpen(now time.Time, policy Policy) Result {
	remaining := policy.Limit - 1
	if remaining < 0 {
		remaining = 0
	}
	return Result{
		Allowed:   true,
		Remaining: remaining,
		ResetAt:   now.Add(policy.Window),
		Degraded:  true,
	}
}

func (l *Limiter) counterKey(category, identifier string) string {
	return l.config.Prefix + ":" + category + ":" + identifier
}

func (l *Limiter) blockKey(category, identifier string) string {
	return l.config.Prefix + "b:" + category + ":" + identifier
}
