// Package authcore issues and rotates credentials for a multi-tenant
// platform: bcrypt-backed sign-up and sign-in, JWT access tokens, opaque
// refresh tokens bound to a device fingerprint, Redis-backed rate limiting
// with anomaly recording, and at-rest encryption of sensitive session
// fields.
//
// Engine methods are safe to call from multiple goroutines after
// initialization through [Builder.Build].
//
// # Architecture boundaries
//
// authcore is the public surface. It exposes [Engine], [Builder], [Config]
// and value types ([AuthResult], [TokenPair], [SessionInfo]). Rate limiting,
// anomaly recording, and audit dispatch live under internal/; refresh entry
// persistence lives in package session; user and workspace records are
// reached through [store.Records].
//
// # What this package must NOT do
//
//   - Log or audit passwords, refresh tokens, reset tokens or access tokens.
//   - Keep package-level state; every collaborator is injected via [Builder].
//   - Fail closed on rate-limiter outages. A Redis failure in the limiter
//     allows the request and increments MetricRateLimitDegraded.
//
// # Failure model
//
// Authentication failures surface as [ErrUnauthorized] with no further
// detail. Backing store failures surface wrapped in [ErrUnavailable].
// Refresh attempts from a different device fingerprint revoke every session
// of the user before returning [ErrUnauthorized].
package authcore
