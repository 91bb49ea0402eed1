// Package models provides data model definitions for the focuscore ledger.
package models

import "time"

// SessionStatus is the explicit state of a timed session.
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionPaused    SessionStatus = "paused"
	SessionCompleted SessionStatus = "completed"
)

// SessionMode distinguishes focus work from breaks.
type SessionMode string

const (
	ModeFocus SessionMode = "focus"
	ModeBreak SessionMode = "break"
)

// SessionConfig is the countdown configuration a session was started with.
type SessionConfig struct {
	Mode     SessionMode `db:"mode" json:"mode"`
	Duration int         `db:"target_minutes" json:"duration"` // Minutes
}

// TargetSeconds returns the configured countdown length in seconds.
func (c SessionConfig) TargetSeconds() int64 {
	return int64(c.Duration) * 60
}

// Session is one contiguous (possibly paused) timed work interval tied to a
// single task. At most one session is active system-wide; suspended sessions
// are keyed by task id, one per task.
type Session struct {
	ID        UUID          `db:"id" json:"id"`
	TaskID    UUID          `db:"task_id" json:"task_id"`
	StartTime string        `db:"start_time" json:"start_time"` // ISO 8601, trusted clock
	EndTime   string        `db:"end_time" json:"end_time,omitempty"`
	Duration  int64         `db:"duration" json:"duration"` // Seconds, filled on completion
	Status    SessionStatus `db:"status" json:"status"`
	Config    SessionConfig `db:"-" json:"config"`

	// SegmentStart is the trusted-clock millisecond timestamp of the moment
	// the current running segment began. Zero while paused.
	SegmentStart int64 `db:"segment_start" json:"segment_start"`
	// Accumulated is the number of seconds counted in segments that already
	// ended (pauses, task switches).
	Accumulated int64 `db:"accumulated" json:"accumulated"`
	// Remaining is the countdown snapshot captured at suspension, used to
	// resume a paused countdown exactly where it left off.
	Remaining int64 `db:"remaining" json:"remaining"`

	UpdatedUnix int64 `db:"updated_unix" json:"updated_unix"` // Milliseconds
}

// TableName returns the table name for Session.
func (Session) TableName() string {
	return "sessions"
}

// Elapsed returns the total seconds counted so far, given the trusted "now"
// in milliseconds. The open segment is included only while active.
func (s *Session) Elapsed(nowMs int64) int64 {
	elapsed := s.Accumulated
	if s.Status == SessionActive && s.SegmentStart > 0 {
		segment := (nowMs - s.SegmentStart) / 1000
		if segment > 0 {
			elapsed += segment
		}
	}
	return elapsed
}

// RemainingAt returns the countdown value at the trusted "now", clamped at
// zero.
func (s *Session) RemainingAt(nowMs int64) int64 {
	remaining := s.Config.TargetSeconds() - s.Elapsed(nowMs)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Fresh reports whether the session has never ticked: no accumulated time
// and no running segment older than a second. Only fresh sessions may be
// re-stamped when the configured duration changes.
func (s *Session) Fresh(nowMs int64) bool {
	return s.Elapsed(nowMs) == 0
}

// UpdatedAt returns UpdatedUnix as time.Time.
func (s *Session) UpdatedAt() time.Time {
	return time.UnixMilli(s.UpdatedUnix)
}
