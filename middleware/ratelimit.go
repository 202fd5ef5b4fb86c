package middleware

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/MrEthical07/authcore"
)

// RateLimit enforces policy per client IP in the "api" category. It must
// run after ClientContext.
func RateLimit(engine *authcore.Engine, policy authcore.RateLimitPolicy) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()
			identifier := "api:" + authcore.ClientIPFromContext(ctx)
			err := engine.CheckRateLimit(ctx, authcore.RateCategoryAPI, identifier, policy)

			var limited *authcore.RateLimitedError
			if errors.As(err, &limited) {
				SetRetryAfter(w, limited.RetryAfter)
				http.Error(w, "too many requests", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// SetRetryAfter writes d as a Retry-After header in whole seconds, rounded
// up and never below one.
func SetRetryAfter(w http.ResponseWriter, d time.Duration) {
	secs := int64(math.Ceil(d.Seconds()))
	if secs < 1 {
		secs = 1
	}
	w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
}
