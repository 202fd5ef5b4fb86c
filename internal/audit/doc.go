// Package audit implements async event dispatching for security-relevant operations.
//
// # Components
//
//   - [Sink] — interface for event consumers (channel, JSON writer, slog, fan-out, no-op).
//   - [Dispatcher] — buffered async relay with drop-if-full / block-if-full semantics.
//   - [Event] — structured audit record with timestamp, type, user, workspace, IP, metadata.
//
// This package owns event buffering and sink delivery. It does NOT decide which events
// to emit; the Engine does.
package audit
