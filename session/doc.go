// Package session persists refresh-token entries and the access-token
// revocation list in Redis.
//
// # Key layout
//
//   - <prefix>:<id>          refresh entry, TTL = refresh lifetime
//   - <prefix>u:<userID>     set of the user's entry ids
//   - <blacklist>:<jti>      revoked access token, TTL = remaining lifetime
//
// An entry id is the SHA-256 of the refresh token; the token itself is
// never written to Redis.
//
// # Binary encoding
//
// Entries are stored in a compact length-prefixed binary format with a
// leading schema version byte. Unknown versions are rejected as corrupt.
//
// # What this package must NOT do
//
//   - Import authcore, jwt, or cryptox (no upward imports).
//   - Decide whether a refresh is legitimate; the Engine compares
//     fingerprints and reacts to mismatches.
package session
