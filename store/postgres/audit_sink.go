package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"

	"github.com/MrEthical07/authcore/internal/audit"
)

// AuditSink persists audit events into the audit_events table. Write
// failures are logged and never surface to the caller.
type AuditSink struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewAuditSink(db *sql.DB, logger *slog.Logger) *AuditSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditSink{db: db, logger: logger}
}

func (s *AuditSink) Emit(ctx context.Context, event audit.Event) {
	var metadata []byte
	if len(event.Metadata) > 0 {
		var err error
		metadata, err = json.Marshal(event.Metadata)
		if err != nil {
			s.logger.Warn("audit metadata encode failed", "event_type", event.EventType, "error", err)
			metadata = nil
		}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_events (occurred_at, event_type, user_id, workspace_id, session_id,
		                           ip, success, error_code, severity, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		event.Timestamp, event.EventType, event.UserID, event.WorkspaceID, event.SessionID,
		event.IP, event.Success, event.Error, event.Severity, metadata,
	)
	if err != nil {
		s.logger.Error("audit insert failed", "event_type", event.EventType, "error", err)
	}
}
