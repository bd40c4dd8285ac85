package audit

import (
	"context"
	"sync"
)

// DefaultMaxEvents is the default maximum number of events to store.
const DefaultMaxEvents = 10000

// MemoryAuditLogger is an in-memory implementation of AuditLogger.
// It stores events newest first and drops the oldest beyond maxEvents.
type MemoryAuditLogger struct {
	mu        sync.RWMutex
	events    []*LoginEvent
	maxEvents int
}

// MemoryAuditLoggerOption configures a MemoryAuditLogger.
type MemoryAuditLoggerOption func(*MemoryAuditLogger)

// WithMaxEvents sets the maximum number of events to store.
func WithMaxEvents(max int) MemoryAuditLoggerOption {
	return func(m *MemoryAuditLogger) {
		if max > 0 {
			m.maxEvents = max
		}
	}
}

// NewMemoryAuditLogger creates a new in-memory audit logger.
func NewMemoryAuditLogger(opts ...MemoryAuditLoggerOption) *MemoryAuditLogger {
	m := &MemoryAuditLogger{
		events:    make([]*LoginEvent, 0),
		maxEvents: DefaultMaxEvents,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Log records an event.
func (m *MemoryAuditLogger) Log(_ context.Context, event *LoginEvent) error {
	if event == nil {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	prepare(event)
	stored := *event
	m.events = append([]*LoginEvent{&stored}, m.events...)
	if len(m.events) > m.maxEvents {
		m.events = m.events[:m.maxEvents]
	}
	return nil
}

// List returns matching events newest first.
func (m *MemoryAuditLogger) List(_ context.Context, opts ListOptions) ([]*LoginEvent, int, error) {
	opts.normalize()

	m.mu.RLock()
	defer m.mu.RUnlock()

	var filtered []*LoginEvent
	for _, e := range m.events {
		if matchesFilters(e, opts) {
			filtered = append(filtered, e)
		}
	}
	total := len(filtered)

	start := min(opts.Offset, total)
	end := min(start+opts.Limit, total)

	result := make([]*LoginEvent, 0, end-start)
	for _, e := range filtered[start:end] {
		cp := *e
		result = append(result, &cp)
	}
	return result, total, nil
}

// Close is a no-op.
func (m *MemoryAuditLogger) Close() error { return nil }

func matchesFilters(e *LoginEvent, opts ListOptions) bool {
	if opts.Outcome != "" && e.Outcome != opts.Outcome {
		return false
	}
	if opts.Subject != "" && e.Subject != opts.Subject {
		return false
	}
	if opts.Since != nil && e.Timestamp.Before(*opts.Since) {
		return false
	}
	if opts.Until != nil && e.Timestamp.After(*opts.Until) {
		return false
	}
	return true
}
