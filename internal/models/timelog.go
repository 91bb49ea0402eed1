// Package models provides data model definitions for the focuscore ledger.
package models

import (
	"database/sql/driver"
	"time"
)

// UUID is a wrapper around string for UUID v4 type safety.
type UUID string

// Value implements driver.Valuer for UUID.
func (u UUID) Value() (driver.Value, error) {
	return string(u), nil
}

// Scan implements sql.Scanner for UUID.
func (u *UUID) Scan(value interface{}) error {
	if value == nil {
		*u = ""
		return nil
	}
	switch v := value.(type) {
	case []byte:
		*u = UUID(v)
	case string:
		*u = UUID(v)
	}
	return nil
}

// String returns the string representation of the UUID.
func (u UUID) String() string {
	return string(u)
}

// LogType classifies how a time log entry came to exist.
type LogType string

const (
	// LogTypeAuto is written when a focus session completes.
	LogTypeAuto LogType = "auto"
	// LogTypeManual is written when the user edits accumulated time by hand.
	LogTypeManual LogType = "manual"
	// LogTypeMigration is a one-time synthetic entry covering legacy counters.
	LogTypeMigration LogType = "migration"
)

// TimeLog is one immutable work interval in the append-only ledger.
// Corrections are made via new delta entries, never in-place edits.
type TimeLog struct {
	ID        UUID    `db:"id" json:"id"`
	TaskID    UUID    `db:"task_id" json:"task_id"`
	StartTime string  `db:"start_time" json:"start_time"` // ISO 8601 with timezone
	StartUnix int64   `db:"start_unix" json:"start_unix"` // Milliseconds, for range queries
	Duration  int64   `db:"duration" json:"duration"`     // Seconds, >= 0
	Type      LogType `db:"type" json:"type"`
	Note      string  `db:"note" json:"note,omitempty"`
}

// TableName returns the table name for TimeLog.
func (TimeLog) TableName() string {
	return "time_logs"
}

// StartTimeAsTime returns StartUnix as time.Time.
func (l *TimeLog) StartTimeAsTime() time.Time {
	return time.UnixMilli(l.StartUnix)
}

// Valid reports whether the entry may enter the ledger.
// Invalid entries are dropped with a diagnostic, never stored.
func (l *TimeLog) Valid() bool {
	if l.ID == "" || l.TaskID == "" || l.StartTime == "" {
		return false
	}
	if l.Duration < 0 {
		return false
	}
	switch l.Type {
	case LogTypeAuto, LogTypeManual, LogTypeMigration:
		return true
	}
	return false
}
