package audit

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

// exerciseLogger runs the behavior every backend must share.
func exerciseLogger(t *testing.T, logger AuditLogger) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	events := []*LoginEvent{
		{Outcome: OutcomeMalformed, StatusCode: 401, RequestID: "req-1", IPAddress: "10.0.0.1", Timestamp: base},
		{Outcome: OutcomeRejected, StatusCode: 401, Reason: "validation: token is expired", Timestamp: base.Add(time.Minute)},
		{Outcome: OutcomeSuccess, StatusCode: 302, Subject: "user-123", Email: "alice@example.com", Timestamp: base.Add(2 * time.Minute)},
		{Outcome: OutcomeProviderError, StatusCode: 302, Reason: "access_denied", Timestamp: base.Add(3 * time.Minute)},
	}
	for _, e := range events {
		if err := logger.Log(ctx, e); err != nil {
			t.Fatalf("Log() error = %v", err)
		}
		if e.ID == "" {
			t.Error("expected ID to be assigned")
		}
	}
	if err := logger.Log(ctx, nil); err != nil {
		t.Fatalf("Log(nil) should not error, got %v", err)
	}

	all, total, err := logger.List(ctx, ListOptions{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if total != 4 || len(all) != 4 {
		t.Fatalf("expected 4 events, got total=%d len=%d", total, len(all))
	}
	if all[0].Outcome != OutcomeProviderError || all[3].Outcome != OutcomeMalformed {
		t.Errorf("expected newest first, got %s ... %s", all[0].Outcome, all[3].Outcome)
	}
	if !all[3].Timestamp.Equal(base) {
		t.Errorf("timestamp not preserved: %v", all[3].Timestamp)
	}
	if all[3].RequestID != "req-1" || all[3].IPAddress != "10.0.0.1" {
		t.Errorf("request fields not preserved: %+v", all[3])
	}

	success, total, err := logger.List(ctx, ListOptions{Outcome: OutcomeSuccess})
	if err != nil {
		t.Fatalf("List(outcome) error = %v", err)
	}
	if total != 1 || success[0].Subject != "user-123" || success[0].Email != "alice@example.com" {
		t.Errorf("unexpected success events: total=%d %+v", total, success)
	}
	if success[0].StatusCode != 302 {
		t.Errorf("expected status 302, got %d", success[0].StatusCode)
	}

	bySubject, _, err := logger.List(ctx, ListOptions{Subject: "user-123"})
	if err != nil {
		t.Fatalf("List(subject) error = %v", err)
	}
	if len(bySubject) != 1 {
		t.Errorf("expected 1 event for subject, got %d", len(bySubject))
	}

	since := base.Add(90 * time.Second)
	recent, total, err := logger.List(ctx, ListOptions{Since: &since})
	if err != nil {
		t.Fatalf("List(since) error = %v", err)
	}
	if total != 2 || len(recent) != 2 {
		t.Errorf("expected 2 recent events, got total=%d len=%d", total, len(recent))
	}

	until := base.Add(30 * time.Second)
	old, _, err := logger.List(ctx, ListOptions{Until: &until})
	if err != nil {
		t.Fatalf("List(until) error = %v", err)
	}
	if len(old) != 1 || old[0].Outcome != OutcomeMalformed {
		t.Errorf("unexpected events before %v: %+v", until, old)
	}

	page, total, err := logger.List(ctx, ListOptions{Limit: 2, Offset: 1})
	if err != nil {
		t.Fatalf("List(page) error = %v", err)
	}
	if total != 4 || len(page) != 2 {
		t.Fatalf("expected page of 2 from 4, got total=%d len=%d", total, len(page))
	}
	if page[0].Outcome != OutcomeSuccess || page[1].Outcome != OutcomeRejected {
		t.Errorf("unexpected page order: %s, %s", page[0].Outcome, page[1].Outcome)
	}
}

func TestMemoryAuditLogger(t *testing.T) {
	logger := NewMemoryAuditLogger()
	exerciseLogger(t, logger)
	if err := logger.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestMemoryAuditLogger_MaxEvents(t *testing.T) {
	logger := NewMemoryAuditLogger(WithMaxEvents(3))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_ = logger.Log(ctx, &LoginEvent{Outcome: OutcomeRejected, RequestID: fmt.Sprintf("req-%d", i)})
	}

	events, total, _ := logger.List(ctx, ListOptions{})
	if total != 3 {
		t.Fatalf("expected 3 events kept, got %d", total)
	}
	if events[0].RequestID != "req-4" || events[2].RequestID != "req-2" {
		t.Errorf("expected newest three kept, got %s..%s", events[0].RequestID, events[2].RequestID)
	}
}

func TestMemoryAuditLogger_ReturnsCopies(t *testing.T) {
	logger := NewMemoryAuditLogger()
	ctx := context.Background()

	event := &LoginEvent{Outcome: OutcomeSuccess, Subject: "user-1"}
	_ = logger.Log(ctx, event)
	event.Subject = "mutated"

	events, _, _ := logger.List(ctx, ListOptions{})
	events[0].Reason = "mutated"

	again, _, _ := logger.List(ctx, ListOptions{})
	if again[0].Subject != "user-1" || again[0].Reason != "" {
		t.Errorf("stored event was mutated: %+v", again[0])
	}
}

func TestMemoryAuditLogger_Concurrent(t *testing.T) {
	logger := NewMemoryAuditLogger()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = logger.Log(ctx, &LoginEvent{Outcome: OutcomeMalformed})
			_, _, _ = logger.List(ctx, ListOptions{Limit: 5})
		}()
	}
	wg.Wait()

	_, total, _ := logger.List(ctx, ListOptions{})
	if total != 50 {
		t.Errorf("expected 50 events, got %d", total)
	}
}

func TestSQLiteAuditLogger(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "audit.db")
	logger, err := NewSQLiteAuditLogger(context.Background(), dsn)
	if err != nil {
		t.Fatalf("NewSQLiteAuditLogger: %v", err)
	}
	t.Cleanup(func() { _ = logger.Close() })

	exerciseLogger(t, logger)
}

func TestSQLiteAuditLogger_ReopenKeepsEvents(t *testing.T) {
	ctx := context.Background()
	dsn := filepath.Join(t.TempDir(), "audit.db")

	first, err := NewSQLiteAuditLogger(ctx, dsn)
	if err != nil {
		t.Fatalf("NewSQLiteAuditLogger: %v", err)
	}
	if err := first.Log(ctx, &LoginEvent{Outcome: OutcomeSuccess, Subject: "user-1", StatusCode: 302}); err != nil {
		t.Fatalf("Log: %v", err)
	}
	_ = first.Close()

	second, err := NewSQLiteAuditLogger(ctx, dsn)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	t.Cleanup(func() { _ = second.Close() })

	_, total, err := second.List(ctx, ListOptions{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if total != 1 {
		t.Errorf("expected 1 persisted event, got %d", total)
	}
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	logger, backend, err := Open(ctx, StoreConfig{})
	if err != nil || backend != BackendMemory {
		t.Fatalf("expected memory backend, got %q (%v)", backend, err)
	}
	if _, ok := logger.(*MemoryAuditLogger); !ok {
		t.Errorf("expected *MemoryAuditLogger, got %T", logger)
	}

	logger, backend, err = Open(ctx, StoreConfig{SQLiteDSN: filepath.Join(t.TempDir(), "a.db")})
	if err != nil || backend != BackendSQLite {
		t.Fatalf("expected sqlite backend, got %q (%v)", backend, err)
	}
	_ = logger.Close()

	_, backend, err = Open(ctx, StoreConfig{DatabaseURL: "postgres://%zz"})
	if err == nil {
		t.Fatal("expected error for malformed DATABASE_URL")
	}
	if backend != BackendPostgres {
		t.Errorf("expected postgres backend name, got %q", backend)
	}
}

func TestListOptions_Normalize(t *testing.T) {
	tests := []struct {
		in        ListOptions
		wantLimit int
		wantOff   int
	}{
		{ListOptions{}, defaultListLimit, 0},
		{ListOptions{Limit: 5000, Offset: -3}, maxListLimit, 0},
		{ListOptions{Limit: 10, Offset: 20}, 10, 20},
	}
	for _, tt := range tests {
		got := tt.in
		got.normalize()
		if got.Limit != tt.wantLimit || got.Offset != tt.wantOff {
			t.Errorf("normalize(%+v) = limit %d offset %d", tt.in, got.Limit, got.Offset)
		}
	}
}
