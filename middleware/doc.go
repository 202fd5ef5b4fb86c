// Package middleware adapts authcore.Engine to net/http.
//
// # Middleware
//
//   - [ClientContext] attaches the caller address and User-Agent to the
//     request context; every Engine call keyed by IP or fingerprint needs it.
//   - [RateLimit] applies a per-IP policy through Engine.CheckRateLimit and
//     answers 429 with Retry-After. Redis outages let requests through.
//   - [Guard] requires a bearer access token, validates it with
//     Engine.ValidateAccess and injects the claims.
//   - [RequireRole] rejects requests whose role claim is not listed.
//
// # What this package must NOT do
//
//   - Parse or create JWTs directly (delegates to Engine).
//   - Access Redis (Engine handles I/O).
//   - Make authorization decisions beyond the coarse role claim.
package middleware
