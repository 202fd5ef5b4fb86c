// Package rate implements the Redis-backed fixed-window rate limiter with
// temporary blocking.
//
// # Key layout
//
//   - <prefix>:<category>:<identifier>   request counter, TTL = window
//   - <prefix>b:<category>:<identifier>  block record, TTL = block duration
//
// # Failure policy
//
// The limiter fails open: when Redis cannot be reached the request is
// allowed and the result is marked Degraded. Availability of sign-in is
// preferred over strict enforcement during a store outage.
//
// # Concurrency
//
// The counter is read before it is incremented, so concurrent callers in
// the same window may overshoot the limit by a small amount. This is
// accepted; the counter itself is never lost.
package rate
