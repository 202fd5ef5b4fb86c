package rate

import (
	"fmt"
	"time"
)

// Policy is a fixed-window limit. BlockDuration of zero disables blocking.
type Policy struct {
	Window        time.Duration
	Limit         int
	BlockDuration time.Duration
}

// Validate reports whether p can be enforced.
func (p Policy) Validate() error {
	if p.Window <= 0 {
		return fmt.Errorf("%w: window must be > 0", ErrInvalidPolicy)
	}
	if p.Limit <= 0 {
		return fmt.Errorf("%w: limit must be > 0", ErrInvalidPolicy)
	}
	if p.BlockDuration < 0 {
		return fmt.Errorf("%w: block duration must be >= 0", ErrInvalidPolicy)
	}
	return nil
}

// Result is the outcome of CheckLimit.
type Result struct {
	Allowed    bool
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
	// Degraded is set when the decision was made without consulting Redis.
	Degraded bool
}

// BlockRecord is stored while an identifier is blocked.
type BlockRecord struct {
	Identifier string    `json:"identifier"`
	Category   string    `json:"category"`
	BlockedAt  time.Time `json:"blocked_at"`
	ExpiresAt  time.Time `json:"expires_at"`
	Reason     string    `json:"reason"`
}
