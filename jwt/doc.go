// Package jwt issues and verifies the short-lived access tokens handed out
// by authcore. Tokens carry sub, email, wid (workspace) and role claims plus
// a jti that the session layer uses to revoke a token before it expires.
package jwt
