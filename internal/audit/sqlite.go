package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // CGO-less SQLite driver
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS login_events (
	id          TEXT PRIMARY KEY,
	timestamp   TEXT NOT NULL,
	outcome     TEXT NOT NULL,
	subject     TEXT,
	email       TEXT,
	reason      TEXT,
	request_id  TEXT,
	ip_address  TEXT,
	status_code INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_login_events_timestamp ON login_events(timestamp);
CREATE INDEX IF NOT EXISTS idx_login_events_outcome ON login_events(outcome);
`

// Fixed width so that text ordering matches time ordering.
const sqliteTimeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteAuditLogger is a SQLite-backed implementation of AuditLogger.
type SQLiteAuditLogger struct {
	db *sql.DB
}

// NewSQLiteAuditLogger opens dsn and creates the login_events table if
// needed.
func NewSQLiteAuditLogger(ctx context.Context, dsn string) (*SQLiteAuditLogger, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection keeps :memory: databases shared and serializes writers.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, `PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("configure sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create login_events: %w", err)
	}
	return &SQLiteAuditLogger{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteAuditLogger) Close() error {
	return s.db.Close()
}

// Log records an event to the database.
func (s *SQLiteAuditLogger) Log(ctx context.Context, event *LoginEvent) error {
	if event == nil {
		return nil
	}
	prepare(event)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO login_events (id, timestamp, outcome, subject, email, reason, request_id, ip_address, status_code)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		event.ID,
		event.Timestamp.UTC().Format(sqliteTimeFormat),
		string(event.Outcome),
		nullString(event.Subject),
		nullString(event.Email),
		nullString(event.Reason),
		nullString(event.RequestID),
		nullString(event.IPAddress),
		event.StatusCode,
	)
	return err
}

// List retrieves events newest first.
func (s *SQLiteAuditLogger) List(ctx context.Context, opts ListOptions) ([]*LoginEvent, int, error) {
	opts.normalize()

	where := "1=1"
	args := []any{}
	if opts.Outcome != "" {
		where += " AND outcome = ?"
		args = append(args, string(opts.Outcome))
	}
	if opts.Subject != "" {
		where += " AND subject = ?"
		args = append(args, opts.Subject)
	}
	if opts.Since != nil {
		where += " AND timestamp >= ?"
		args = append(args, opts.Since.UTC().Format(sqliteTimeFormat))
	}
	if opts.Until != nil {
		where += " AND timestamp <= ?"
		args = append(args, opts.Until.UTC().Format(sqliteTimeFormat))
	}

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM login_events WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := "SELECT id, timestamp, outcome, subject, email, reason, request_id, ip_address, status_code FROM login_events WHERE " +
		where + " ORDER BY timestamp DESC LIMIT ? OFFSET ?"
	args = append(args, opts.Limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var events []*LoginEvent
	for rows.Next() {
		var e LoginEvent
		var timestamp, outcome string
		var subject, email, reason, requestID, ipAddress sql.NullString

		if err := rows.Scan(&e.ID, &timestamp, &outcome, &subject, &email, &reason, &requestID, &ipAddress, &e.StatusCode); err != nil {
			return nil, 0, err
		}
		e.Timestamp, _ = time.Parse(time.RFC3339Nano, timestamp)
		e.Outcome = Outcome(outcome)
		e.Subject = subject.String
		e.Email = email.String
		e.Reason = reason.String
		e.RequestID = requestID.String
		e.IPAddress = ipAddress.String
		events = append(events, &e)
	}
	return events, total, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
