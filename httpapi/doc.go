// Package httpapi serves the authcore engine over JSON/HTTP.
//
// Routes live under /v1/auth; /healthz and /metrics sit at the root. The
// server follows the usual lifecycle:
//
//	srv, err := httpapi.New(deps)
//	srv.Start(ctx)
//	defer srv.Close()
//
// Handler exposes the router without a listener, for tests and embedding.
package httpapi
