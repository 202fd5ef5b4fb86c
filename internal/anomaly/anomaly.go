// Package anomaly records security-relevant observations (rate-limit
// breaches, refresh-token theft) to an append-only Redis stream.
package anomaly

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Severity grades an Event.
type Severity string

// Severities in ascending order.
const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank orders severities; unknown values rank below low.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	default:
		return 0
	}
}

// Event types recorded by authcore.
const (
	// TypeRateLimitExceeded is recorded when a rate-limit policy denies.
	TypeRateLimitExceeded = "rate_limit_exceeded"
	// TypeFingerprintMismatch is recorded when a refresh token is presented
	// from a different client.
	TypeFingerprintMismatch = "refresh_fingerprint_mismatch"
)

// Event is one anomaly observation. Events are never updated.
type Event struct {
	Type       string            `json:"type"`
	Severity   Severity          `json:"severity"`
	Identifier string            `json:"identifier"`
	Details    map[string]string `json:"details,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
}

// Recorder accepts anomaly events. Implementations must not fail the caller.
type Recorder interface {
	Record(ctx context.Context, event Event)
}

// NopRecorder discards events.
type NopRecorder struct{}

func (NopRecorder) Record(context.Context, Event) {}

// Config controls a StreamRecorder.
type Config struct {
	Stream string
	MaxLen int64
	// ForwardAtOrAbove selects which events are handed to Forward.
	ForwardAtOrAbove Severity
	Forward          func(ctx context.Context, event Event)
	Logger           *slog.Logger
}

// StreamRecorder appends events to a Redis stream, logs them, and forwards
// severe ones (typically to the audit dispatcher).
type StreamRecorder struct {
	redis  redis.UniversalClient
	config Config
}

// NewStreamRecorder returns a recorder writing to cfg.Stream.
func NewStreamRecorder(redisClient redis.UniversalClient, cfg Config) *StreamRecorder {
	if cfg.Stream == "" {
		cfg.Stream = "anomalies"
	}
	if cfg.MaxLen <= 0 {
		cfg.MaxLen = 10_000
	}
	if cfg.ForwardAtOrAbove == "" {
		cfg.ForwardAtOrAbove = SeverityHigh
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &StreamRecorder{redis: redisClient, config: cfg}
}

// Record persists event. Storage failures are logged and swallowed.
func (r *StreamRecorder) Record(ctx context.Context, event Event) {
	if r == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	r.config.Logger.WarnContext(ctx, "anomaly recorded",
		slog.String("type", event.Type),
		slog.String("severity", string(event.Severity)),
		slog.String("identifier", event.Identifier),
	)

	if r.redis != nil {
		details, _ := json.Marshal(event.Details)
		err := r.redis.XAdd(ctx, &redis.XAddArgs{
			Stream: r.config.Stream,
			MaxLen: r.config.MaxLen,
			Approx: true,
			Values: map[string]any{
				"type":       event.Type,
				"severity":   string(event.Severity),
				"identifier": event.Identifier,
				"details":    string(details),
				"ts":         strconv.FormatInt(event.Timestamp.UnixMilli(), 10),
			},
		}).Err()
		if err != nil {
			r.config.Logger.ErrorContext(ctx, "anomaly stream write failed", slog.Any("error", err))
		}
	}

	if r.config.Forward != nil && event.Severity.Rank() >= r.config.ForwardAtOrAbove.Rank() {
		r.config.Forward(ctx, event)
	}
}

// Recent returns up to n events, newest first.
func (r *StreamRecorder) Recent(ctx context.Context, n int64) ([]Event, error) {
	msgs, err := r.redis.XRevRangeN(ctx, r.config.Stream, "+", "-", n).Result()
	if err != nil {
		return nil, fmt.Errorf("anomaly: read stream: %w", err)
	}

	events := make([]Event, 0, len(msgs))
	for _, msg := range msgs {
		ev := Event{
			Type:       stringValue(msg.Values, "type"),
			Severity:   Severity(stringValue(msg.Values, "severity")),
			Identifier: stringValue(msg.Values, "identifier"),
		}
		if raw := stringValue(msg.Values, "details"); raw != "" && raw != "null" {
			_ = json.Unmarshal([]byte(raw), &ev.Details)
		}
		if ms, err := strconv.ParseInt(stringValue(msg.Values, "ts"), 10, 64); err == nil {
			ev.Timestamp = time.UnixMilli(ms).UTC()
		}
		events = append(events, ev)
	}
	return events, nil
}

func stringValue(values map[string]any, key string) string {
	v, _ := values[key].(string)
	return v
}
