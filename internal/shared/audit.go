package shared

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// AuditLog represents a record stored in audit_logs.
type AuditLog struct {
	Entity    string
	EntityID  string
	Action    string
	ActorRole string
	ActorID   int64
	Meta      map[string]any
	At        time.Time
}

// Auditor records committed state transitions. Failures are the caller's to
// log; they must never abort the operation being audited.
type Auditor interface {
	Record(ctx context.Context, log AuditLog) error
}

// AuditLogger writes records into audit_logs.
type AuditLogger struct {
	pool *pgxpool.Pool
}

var _ Auditor = (*AuditLogger)(nil)

// NewAuditLogger returns a new AuditLogger.
func NewAuditLogger(pool *pgxpool.Pool) *AuditLogger {
	return &AuditLogger{pool: pool}
}

// Record persists the log entry.
func (l *AuditLogger) Record(ctx context.Context, log AuditLog) error {
	if l == nil {
		return errors.New("audit logger not initialised")
	}
	if log.Action == "" || log.Entity == "" || log.EntityID == "" {
		return errors.New("audit log requires action/entity/entity_id")
	}
	metaJSON, err := json.Marshal(log.Meta)
	if err != nil {
		return err
	}
	at := log.At
	if at.IsZero() {
		at = time.Now()
	}
	_, err = l.pool.Exec(ctx,
		`INSERT INTO audit_logs (entity, entity_id, action, actor_role, actor_id, meta, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		log.Entity, log.EntityID, log.Action, log.ActorRole, log.ActorID, metaJSON, at)
	return err
}
