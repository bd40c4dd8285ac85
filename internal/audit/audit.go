// Package audit records the outcome of every login callback.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Outcome is the terminal state a login callback reached.
type Outcome string

const (
	OutcomeSuccess       Outcome = "success"
	OutcomeProviderError Outcome = "provider_error"
	OutcomeMalformed     Outcome = "malformed"
	OutcomeRejected      Outcome = "rejected"
	OutcomeInternalError Outcome = "internal_error"
)

// Outcomes lists every Outcome in a stable order.
var Outcomes = []Outcome{
	OutcomeSuccess,
	OutcomeProviderError,
	OutcomeMalformed,
	OutcomeRejected,
	OutcomeInternalError,
}

// LoginEvent is one finalized login attempt.
type LoginEvent struct {
	ID         string    `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	Outcome    Outcome   `json:"outcome"`
	Subject    string    `json:"subject,omitempty"` // set on success only
	Email      string    `json:"email,omitempty"`
	Reason     string    `json:"reason,omitempty"` // a short classification, never raw provider errors
	RequestID  string    `json:"request_id,omitempty"`
	IPAddress  string    `json:"ip_address,omitempty"`
	StatusCode int       `json:"status_code"`
}

// ListOptions provides filtering and pagination options for listing events.
type ListOptions struct {
	Limit   int
	Offset  int
	Outcome Outcome
	Subject string
	Since   *time.Time
	Until   *time.Time
}

// AuditLogger persists login events.
type AuditLogger interface {
	// Log records an event, assigning ID and timestamp when unset.
	Log(ctx context.Context, event *LoginEvent) error

	// List returns events newest first and the total matching count.
	List(ctx context.Context, opts ListOptions) ([]*LoginEvent, int, error)

	// Close releases any resources held by the logger.
	Close() error
}

const (
	defaultListLimit = 50
	maxListLimit     = 1000
)

func (o *ListOptions) normalize() {
	if o.Limit <= 0 {
		o.Limit = defaultListLimit
	}
	if o.Limit > maxListLimit {
		o.Limit = maxListLimit
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
}

func prepare(event *LoginEvent) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
}
