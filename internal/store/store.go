// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/avh-lab/repchat/internal/domain"
)

// EventRecord is one durable, self-describing study event. Records are
// append-only audit data keyed by session and category.
type EventRecord struct {
	EventID   string          `json:"event_id"`
	SessionID string          `json:"session_id"`
	Category  string          `json:"category"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"timestamp"`
}

// Repository defines the interface for persisting quota counts and
// study event records.
type Repository interface {
	// LoadQuota retrieves the condition quota, creating and persisting a
	// zero-initialized one if none exists. Partially persisted state
	// (missing cells) is an error, never a silent reset.
	LoadQuota(ctx context.Context) (domain.Quota, error)

	// SaveQuota writes every quota cell in a single transaction so no
	// reader observes a partially written quota.
	SaveQuota(ctx context.Context, quota domain.Quota) error

	// AppendEvent durably appends one event record.
	AppendEvent(ctx context.Context, rec EventRecord) error

	// EventsBySession retrieves a session's event records, oldest first,
	// optionally filtered to one category ("" means all).
	EventsBySession(ctx context.Context, sessionID, category string) ([]EventRecord, error)

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
