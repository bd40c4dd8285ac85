package audit

import (
	"context"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS login_events (
	id          TEXT PRIMARY KEY,
	timestamp   TIMESTAMPTZ NOT NULL,
	outcome     TEXT NOT NULL,
	subject     TEXT,
	email       TEXT,
	reason      TEXT,
	request_id  TEXT,
	ip_address  TEXT,
	status_code INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_login_events_timestamp ON login_events(timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_login_events_outcome ON login_events(outcome);
`

// PostgresAuditLogger is a PostgreSQL-backed implementation of AuditLogger.
type PostgresAuditLogger struct {
	pool    *pgxpool.Pool
	ownPool bool // true if we created the pool (and should close it)
}

// NewPostgresAuditLogger connects to connStr and creates the login_events
// table if needed.
func NewPostgresAuditLogger(ctx context.Context, connStr string) (*PostgresAuditLogger, error) {
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s := &PostgresAuditLogger{pool: pool, ownPool: true}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// NewPostgresAuditLoggerFromPool uses an existing pool, which the caller
// keeps ownership of.
func NewPostgresAuditLoggerFromPool(ctx context.Context, pool *pgxpool.Pool) (*PostgresAuditLogger, error) {
	s := &PostgresAuditLogger{pool: pool}
	if err := s.migrate(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresAuditLogger) migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("create login_events: %w", err)
	}
	return nil
}

// Close closes the pool if we own it.
func (s *PostgresAuditLogger) Close() error {
	if s.ownPool {
		s.pool.Close()
	}
	return nil
}

// Log records an event to the database.
func (s *PostgresAuditLogger) Log(ctx context.Context, event *LoginEvent) error {
	if event == nil {
		return nil
	}
	prepare(event)

	_, err := s.pool.Exec(ctx, `
		INSERT INTO login_events (id, timestamp, outcome, subject, email, reason, request_id, ip_address, status_code)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		event.ID, event.Timestamp, string(event.Outcome),
		nullStr(event.Subject), nullStr(event.Email), nullStr(event.Reason),
		nullStr(event.RequestID), nullStr(event.IPAddress),
		event.StatusCode,
	)
	return err
}

// List retrieves events newest first.
func (s *PostgresAuditLogger) List(ctx context.Context, opts ListOptions) ([]*LoginEvent, int, error) {
	opts.normalize()

	where := "TRUE"
	args := []any{}
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	if opts.Outcome != "" {
		where += " AND outcome = " + arg(string(opts.Outcome))
	}
	if opts.Subject != "" {
		where += " AND subject = " + arg(opts.Subject)
	}
	if opts.Since != nil {
		where += " AND timestamp >= " + arg(*opts.Since)
	}
	if opts.Until != nil {
		where += " AND timestamp <= " + arg(*opts.Until)
	}

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM login_events WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := "SELECT id, timestamp, outcome, subject, email, reason, request_id, ip_address, status_code FROM login_events WHERE " +
		where + " ORDER BY timestamp DESC LIMIT " + arg(opts.Limit) + " OFFSET " + arg(opts.Offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	events, err := scanLoginEvents(rows)
	if err != nil {
		return nil, 0, err
	}
	return events, total, nil
}

func scanLoginEvents(rows pgx.Rows) ([]*LoginEvent, error) {
	var events []*LoginEvent
	for rows.Next() {
		var e LoginEvent
		var outcome string
		var subject, email, reason, requestID, ipAddress *string

		if err := rows.Scan(
			&e.ID, &e.Timestamp, &outcome,
			&subject, &email, &reason, &requestID, &ipAddress,
			&e.StatusCode,
		); err != nil {
			return nil, err
		}
		e.Outcome = Outcome(outcome)
		e.Subject = deref(subject)
		e.Email = deref(email)
		e.Reason = deref(reason)
		e.RequestID = deref(requestID)
		e.IPAddress = deref(ipAddress)
		events = append(events, &e)
	}
	return events, rows.Err()
}

func nullStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
