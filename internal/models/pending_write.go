// Package models provides data model definitions for the focuscore ledger.
package models

import "encoding/json"

// PendingWrite is a local record of a write not yet confirmed by the remote
// store. Replayed on restart/reconnect for at-least-once delivery; the
// immutable entry id keys the row, so replay is idempotent.
type PendingWrite struct {
	ID          UUID            `db:"id" json:"id"` // Equals the TimeLog id
	Collection  string          `db:"collection" json:"collection"`
	Payload     json.RawMessage `db:"payload" json:"payload"`
	RetryCount  int             `db:"retry_count" json:"retry_count"`
	MaxRetries  int             `db:"max_retries" json:"max_retries"`
	NextRetryAt int64           `db:"next_retry_at" json:"next_retry_at"` // Milliseconds
	LastError   string          `db:"last_error" json:"last_error,omitempty"`
	CreatedAt   int64           `db:"created_at" json:"created_at"` // Milliseconds
	UpdatedAt   int64           `db:"updated_at" json:"updated_at"` // Milliseconds
}

// TableName returns the table name for PendingWrite.
func (PendingWrite) TableName() string {
	return "pending_writes"
}
