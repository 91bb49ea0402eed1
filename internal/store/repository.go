package store

import (
	"database/sql"
	"fmt"
	"sync"

	"github.com/osadchyi/focuscore/internal/models"
)

// Repository provides CRUD operations for time logs, sessions, pending
// writes, and the meta key/value table.
type Repository struct {
	db *DB

	// Prepared statement cache for frequently used queries.
	// Statements are prepared on first use and cached for reuse.
	stmtCache sync.Map // map[string]*sql.Stmt
}

// NewRepository creates a new Repository instance.
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// PrepareStmt gets or creates a prepared statement from cache.
// Key is the query string, value is the prepared statement.
func (r *Repository) PrepareStmt(query string) (*sql.Stmt, error) {
	if stmt, ok := r.stmtCache.Load(query); ok {
		return stmt.(*sql.Stmt), nil
	}

	stmt, err := r.db.Prepare(query)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare statement: %w", err)
	}

	// Store in cache (if already stored by another goroutine, use existing)
	actual, loaded := r.stmtCache.LoadOrStore(query, stmt)
	if loaded {
		stmt.Close()
		return actual.(*sql.Stmt), nil
	}

	return stmt, nil
}

// Close closes all cached prepared statements.
func (r *Repository) Close() error {
	var firstErr error
	r.stmtCache.Range(func(key, value interface{}) bool {
		stmt := value.(*sql.Stmt)
		if err := stmt.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		return true
	})
	return firstErr
}

// Usage reports the approximate database size in bytes.
func (r *Repository) Usage() (int64, error) {
	return r.db.Usage()
}

// =====================================================
// TimeLog Operations
// =====================================================

// InsertTimeLog inserts a time log if no row with the same id exists.
// Returns true when the row was inserted, false when it was a duplicate.
// The id-based idempotency is what makes remote merges a set union.
func (r *Repository) InsertTimeLog(log *models.TimeLog) (bool, error) {
	query := `
	INSERT OR IGNORE INTO time_logs (id, task_id, start_time, start_unix, duration, type, note)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	stmt, err := r.PrepareStmt(query)
	if err != nil {
		return false, err
	}
	res, err := stmt.Exec(log.ID, log.TaskID, log.StartTime, log.StartUnix,
		log.Duration, log.Type, log.Note)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// GetTimeLog retrieves a time log by ID.
func (r *Repository) GetTimeLog(id string) (*models.TimeLog, error) {
	query := `
	SELECT id, task_id, start_time, start_unix, duration, type, note
	FROM time_logs WHERE id = ?
	`
	stmt, err := r.PrepareStmt(query)
	if err != nil {
		return nil, err
	}

	var log models.TimeLog
	err = stmt.QueryRow(id).Scan(&log.ID, &log.TaskID, &log.StartTime,
		&log.StartUnix, &log.Duration, &log.Type, &log.Note)
	if err != nil {
		return nil, err
	}
	return &log, nil
}

// ListTimeLogs returns all time logs ordered by start time descending.
func (r *Repository) ListTimeLogs() ([]*models.TimeLog, error) {
	query := `
	SELECT id, task_id, start_time, start_unix, duration, type, note
	FROM time_logs ORDER BY start_unix DESC
	`
	return r.queryTimeLogs(query)
}

// ListTimeLogsByTask returns all time logs for a task.
func (r *Repository) ListTimeLogsByTask(taskID string) ([]*models.TimeLog, error) {
	query := `
	SELECT id, task_id, start_time, start_unix, duration, type, note
	FROM time_logs WHERE task_id = ? ORDER BY start_unix DESC
	`
	return r.queryTimeLogs(query, taskID)
}

// ListTimeLogsByRange returns time logs whose start falls inside
// [sinceMs, untilMs), in chronological order.
func (r *Repository) ListTimeLogsByRange(sinceMs, untilMs int64) ([]*models.TimeLog, error) {
	query := `
	SELECT id, task_id, start_time, start_unix, duration, type, note
	FROM time_logs WHERE start_unix >= ? AND start_unix < ? ORDER BY start_unix ASC
	`
	return r.queryTimeLogs(query, sinceMs, untilMs)
}

func (r *Repository) queryTimeLogs(query string, args ...interface{}) ([]*models.TimeLog, error) {
	stmt, err := r.PrepareStmt(query)
	if err != nil {
		return nil, err
	}

	rows, err := stmt.Query(args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []*models.TimeLog
	for rows.Next() {
		var log models.TimeLog
		err := rows.Scan(&log.ID, &log.TaskID, &log.StartTime, &log.StartUnix,
			&log.Duration, &log.Type, &log.Note)
		if err != nil {
			return nil, err
		}
		logs = append(logs, &log)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

// SumDurationByTask returns the total logged seconds for a task.
func (r *Repository) SumDurationByTask(taskID string) (int64, error) {
	query := `SELECT COALESCE(SUM(duration), 0) FROM time_logs WHERE task_id = ?`
	stmt, err := r.PrepareStmt(query)
	if err != nil {
		return 0, err
	}
	var total int64
	if err := stmt.QueryRow(taskID).Scan(&total); err != nil {
		return 0, err
	}
	return total, nil
}

// DeleteTimeLogsOlderThan removes logs that started before cutoffMs.
// Returns the number of deleted rows.
func (r *Repository) DeleteTimeLogsOlderThan(cutoffMs int64) (int64, error) {
	res, err := r.db.Exec(`DELETE FROM time_logs WHERE start_unix < ?`, cutoffMs)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeleteTimeLogsForTask removes every log belonging to a task.
// Returns the number of deleted rows.
func (r *Repository) DeleteTimeLogsForTask(taskID string) (int64, error) {
	res, err := r.db.Exec(`DELETE FROM time_logs WHERE task_id = ?`, taskID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// CountTimeLogs returns the number of stored logs.
func (r *Repository) CountTimeLogs() (int64, error) {
	var n int64
	err := r.db.QueryRow(`SELECT COUNT(*) FROM time_logs`).Scan(&n)
	return n, err
}

// =====================================================
// Session Operations
// =====================================================

// Session slots. The active slot holds at most one row; suspended holds
// one row per task; history grows append-only.
const (
	SlotActive    = "active"
	SlotSuspended = "suspended"
	SlotHistory   = "history"
)

// SaveSession upserts a session into a slot.
func (r *Repository) SaveSession(slot string, s *models.Session) error {
	query := `
	INSERT INTO sessions (id, slot, task_id, start_time, end_time, duration, status,
		mode, target_minutes, segment_start, accumulated, remaining, updated_unix)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		slot = excluded.slot,
		task_id = excluded.task_id,
		start_time = excluded.start_time,
		end_time = excluded.end_time,
		duration = excluded.duration,
		status = excluded.status,
		mode = excluded.mode,
		target_minutes = excluded.target_minutes,
		segment_start = excluded.segment_start,
		accumulated = excluded.accumulated,
		remaining = excluded.remaining,
		updated_unix = excluded.updated_unix
	`
	stmt, err := r.PrepareStmt(query)
	if err != nil {
		return err
	}
	_, err = stmt.Exec(s.ID, slot, s.TaskID, s.StartTime, s.EndTime, s.Duration,
		s.Status, s.Config.Mode, s.Config.Duration, s.SegmentStart,
		s.Accumulated, s.Remaining, s.UpdatedUnix)
	return err
}

// GetActiveSession returns the session in the active slot, or nil.
func (r *Repository) GetActiveSession() (*models.Session, error) {
	sessions, err := r.querySessions(`
	SELECT id, task_id, start_time, end_time, duration, status, mode,
		target_minutes, segment_start, accumulated, remaining, updated_unix
	FROM sessions WHERE slot = ? LIMIT 1
	`, SlotActive)
	if err != nil {
		return nil, err
	}
	if len(sessions) == 0 {
		return nil, nil
	}
	return sessions[0], nil
}

// ListSessions returns all sessions in a slot, most recently updated first.
func (r *Repository) ListSessions(slot string) ([]*models.Session, error) {
	return r.querySessions(`
	SELECT id, task_id, start_time, end_time, duration, status, mode,
		target_minutes, segment_start, accumulated, remaining, updated_unix
	FROM sessions WHERE slot = ? ORDER BY updated_unix DESC
	`, slot)
}

// GetSuspendedSession returns the suspended session for a task, or nil.
func (r *Repository) GetSuspendedSession(taskID string) (*models.Session, error) {
	sessions, err := r.querySessions(`
	SELECT id, task_id, start_time, end_time, duration, status, mode,
		target_minutes, segment_start, accumulated, remaining, updated_unix
	FROM sessions WHERE slot = ? AND task_id = ? LIMIT 1
	`, SlotSuspended, taskID)
	if err != nil {
		return nil, err
	}
	if len(sessions) == 0 {
		return nil, nil
	}
	return sessions[0], nil
}

func (r *Repository) querySessions(query string, args ...interface{}) ([]*models.Session, error) {
	stmt, err := r.PrepareStmt(query)
	if err != nil {
		return nil, err
	}

	rows, err := stmt.Query(args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*models.Session
	for rows.Next() {
		var s models.Session
		err := rows.Scan(&s.ID, &s.TaskID, &s.StartTime, &s.EndTime, &s.Duration,
			&s.Status, &s.Config.Mode, &s.Config.Duration, &s.SegmentStart,
			&s.Accumulated, &s.Remaining, &s.UpdatedUnix)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sessions, nil
}

// DeleteSession removes a session by id.
func (r *Repository) DeleteSession(id string) error {
	_, err := r.db.Exec(`DELETE FROM sessions WHERE id = ?`, id)
	return err
}

// DeleteSessionsInSlotOlderThan removes slot rows last updated before
// cutoffMs. Used to purge stale suspended sessions on restore.
func (r *Repository) DeleteSessionsInSlotOlderThan(slot string, cutoffMs int64) (int64, error) {
	res, err := r.db.Exec(`DELETE FROM sessions WHERE slot = ? AND updated_unix < ?`,
		slot, cutoffMs)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ClearSlot removes every session in a slot.
func (r *Repository) ClearSlot(slot string) error {
	_, err := r.db.Exec(`DELETE FROM sessions WHERE slot = ?`, slot)
	return err
}

// =====================================================
// PendingWrite Operations
// =====================================================

// EnqueuePendingWrite inserts or replaces a queued write. Re-enqueueing
// the same id resets its retry state so the newest payload wins.
func (r *Repository) EnqueuePendingWrite(w *models.PendingWrite) error {
	query := `
	INSERT OR REPLACE INTO pending_writes
		(id, collection, payload, retry_count, max_retries, next_retry_at, last_error, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	stmt, err := r.PrepareStmt(query)
	if err != nil {
		return err
	}
	_, err = stmt.Exec(w.ID, w.Collection, string(w.Payload), w.RetryCount,
		w.MaxRetries, w.NextRetryAt, w.LastError, w.CreatedAt, w.UpdatedAt)
	return err
}

// DuePendingWrites returns queued writes whose retry time has passed,
// oldest first, up to limit.
func (r *Repository) DuePendingWrites(nowMs int64, limit int) ([]*models.PendingWrite, error) {
	query := `
	SELECT id, collection, payload, retry_count, max_retries, next_retry_at, last_error, created_at, updated_at
	FROM pending_writes WHERE next_retry_at <= ? ORDER BY created_at ASC LIMIT ?
	`
	stmt, err := r.PrepareStmt(query)
	if err != nil {
		return nil, err
	}

	rows, err := stmt.Query(nowMs, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var writes []*models.PendingWrite
	for rows.Next() {
		var w models.PendingWrite
		var payload string
		err := rows.Scan(&w.ID, &w.Collection, &payload, &w.RetryCount,
			&w.MaxRetries, &w.NextRetryAt, &w.LastError, &w.CreatedAt, &w.UpdatedAt)
		if err != nil {
			return nil, err
		}
		w.Payload = []byte(payload)
		writes = append(writes, &w)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return writes, nil
}

// CompletePendingWrite removes a queued write after successful upload.
func (r *Repository) CompletePendingWrite(id string) error {
	_, err := r.db.Exec(`DELETE FROM pending_writes WHERE id = ?`, id)
	return err
}

// FailPendingWrite records a failed attempt and schedules the next retry.
func (r *Repository) FailPendingWrite(id string, lastError string, nextRetryAt, nowMs int64) error {
	_, err := r.db.Exec(`
	UPDATE pending_writes
	SET retry_count = retry_count + 1, last_error = ?, next_retry_at = ?, updated_at = ?
	WHERE id = ?
	`, lastError, nextRetryAt, nowMs, id)
	return err
}

// CountPendingWrites returns the queue depth.
func (r *Repository) CountPendingWrites() (int64, error) {
	var n int64
	err := r.db.QueryRow(`SELECT COUNT(*) FROM pending_writes`).Scan(&n)
	return n, err
}

// =====================================================
// Meta Operations
// =====================================================

// GetMeta returns a meta value, or "" when the key is absent.
func (r *Repository) GetMeta(key string) (string, error) {
	var value string
	err := r.db.QueryRow(`SELECT value FROM meta WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

// SetMeta upserts a meta value.
func (r *Repository) SetMeta(key, value string) error {
	_, err := r.db.Exec(`
	INSERT INTO meta (key, value) VALUES (?, ?)
	ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}
