package audit

import (
	"context"
)

// Backend names reported by Open.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// StoreConfig selects the audit backend. DatabaseURL wins over SQLiteDSN;
// with neither set events are kept in memory.
type StoreConfig struct {
	SQLiteDSN   string
	DatabaseURL string
	MaxEvents   int // memory backend only
}

// Open returns the configured AuditLogger and the name of its backend.
func Open(ctx context.Context, cfg StoreConfig) (AuditLogger, string, error) {
	switch {
	case cfg.DatabaseURL != "":
		l, err := NewPostgresAuditLogger(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, BackendPostgres, err
		}
		return l, BackendPostgres, nil
	case cfg.SQLiteDSN != "":
		l, err := NewSQLiteAuditLogger(ctx, cfg.SQLiteDSN)
		if err != nil {
			return nil, BackendSQLite, err
		}
		return l, BackendSQLite, nil
	default:
		return NewMemoryAuditLogger(WithMaxEvents(cfg.MaxEvents)), BackendMemory, nil
	}
}

var (
	_ AuditLogger = (*MemoryAuditLogger)(nil)
	_ AuditLogger = (*SQLiteAuditLogger)(nil)
	_ AuditLogger = (*PostgresAuditLogger)(nil)
)
