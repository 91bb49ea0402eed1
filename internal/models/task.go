// Package models provides data model definitions for the focuscore ledger.
package models

// Task is an external collaborator entity. The ledger owns time accounting;
// a task carries only a display cache of the derived total plus an
// optimistic running flag mirroring the session engine.
type Task struct {
	ID              UUID   `db:"id" json:"id"`
	Title           string `db:"title" json:"title"`
	CachedTotalTime int64  `db:"cached_total_time" json:"cached_total_time"` // Seconds, derived
	IsRunning       bool   `db:"is_running" json:"is_running"`

	// UpdatedUnix and DeviceID are the trusted-clock version stamp used by
	// last-write-wins resolution when a remote snapshot arrives.
	UpdatedUnix int64  `db:"updated_unix" json:"updated_unix"`
	DeviceID    string `db:"device_id" json:"device_id"`

	// SavedTime is the deprecated flat counter reconciled into the ledger by
	// the one-time legacy migration, then permanently removed from storage.
	SavedTime int64 `db:"saved_time" json:"saved_time,omitempty"`
}
