package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ruteri/treasury-vault/interfaces"
	"github.com/ruteri/treasury-vault/sqlitedb"
)

// timestampLayout sorts lexicographically in the same order as time.
const timestampLayout = "2006-01-02T15:04:05.000000000Z"

// SQLiteSink stores events in the append-only audit_events table.
type SQLiteSink struct {
	db *sqlitedb.DB
}

func NewSQLiteSink(db *sqlitedb.DB) *SQLiteSink {
	return &SQLiteSink{db: db}
}

func (s *SQLiteSink) Write(ctx context.Context, event interfaces.AuditEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode audit event: %w", err)
	}

	var requestID any
	if event.RequestID != "" {
		requestID = event.RequestID
	}

	_, err = s.db.Writer.ExecContext(ctx,
		`INSERT INTO audit_events (log_id, timestamp, account_id, action, outcome, request_id, event)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		event.LogID,
		event.Timestamp.UTC().Format(timestampLayout),
		event.AccountID.String(),
		string(event.Action),
		string(event.Outcome),
		requestID,
		string(payload),
	)
	if err != nil {
		return fmt.Errorf("insert audit event %d: %w", event.LogID, err)
	}
	return nil
}

func (s *SQLiteSink) LastID(ctx context.Context) (uint64, error) {
	var last int64
	err := s.db.Reader.QueryRowContext(ctx, `SELECT COALESCE(MAX(log_id), 0) FROM audit_events`).Scan(&last)
	if err != nil {
		return 0, fmt.Errorf("query last audit id: %w", err)
	}
	return uint64(last), nil
}

func (s *SQLiteSink) Events(ctx context.Context, filter interfaces.AuditFilter) ([]interfaces.AuditEvent, error) {
	var (
		where []string
		args  []any
	)
	if filter.AccountID != "" {
		where = append(where, "account_id = ?")
		args = append(args, filter.AccountID.String())
	}
	if filter.RequestID != "" {
		where = append(where, "request_id = ?")
		args = append(args, filter.RequestID)
	}
	if !filter.Since.IsZero() {
		where = append(where, "timestamp >= ?")
		args = append(args, filter.Since.UTC().Format(timestampLayout))
	}

	query := `SELECT event FROM audit_events`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY log_id"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.Reader.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	var events []interfaces.AuditEvent
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		var e interfaces.AuditEvent
		if err := json.Unmarshal([]byte(payload), &e); err != nil {
			return nil, fmt.Errorf("decode audit event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
