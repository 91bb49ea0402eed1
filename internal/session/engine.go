// Package session implements the pomodoro session state machine: at most
// one active session system-wide, suspended sessions keyed by task, and a
// completed-session history. Completed sessions are converted into ledger
// entries.
package session

import (
	"sync"
	"time"

	apperrors "github.com/osadchyi/focuscore/internal/errors"
	"github.com/osadchyi/focuscore/internal/logging"
	"github.com/osadchyi/focuscore/internal/models"
	"github.com/osadchyi/focuscore/internal/store"
	"github.com/osadchyi/focuscore/internal/uuid"
)

// Recorder receives the log entry produced by a completed session.
type Recorder interface {
	SaveLog(log *models.TimeLog) error
}

// Clock is the trusted time source sessions are stamped with.
type Clock interface {
	NowMs() int64
	ISO() string
}

// Options tune session lifetime housekeeping.
type Options struct {
	// TickInterval is the countdown granularity.
	TickInterval time.Duration

	// MinLogDuration is the floor below which a stopped session logs
	// nothing. Filters out accidental start/stop fumbles.
	MinLogDuration time.Duration

	// ZombieThreshold is how stale a restored active session may be
	// before it is discarded instead of resumed.
	ZombieThreshold time.Duration

	// SuspendedTTL is how long suspended sessions survive before the
	// restore pass purges them.
	SuspendedTTL time.Duration
}

// DefaultOptions returns the production tuning.
func DefaultOptions() Options {
	return Options{
		TickInterval:    time.Second,
		MinLogDuration:  5 * time.Second,
		ZombieThreshold: 24 * time.Hour,
		SuspendedTTL:    7 * 24 * time.Hour,
	}
}

// Snapshot is the read model pushed to subscribers. UI never computes
// countdown state itself.
type Snapshot struct {
	Active    *models.Session
	Suspended map[string]*models.Session
	TimeLeft  int64
	IsPaused  bool
	History   []*models.Session
}

// Listener receives a Snapshot after every state change and tick.
type Listener func(Snapshot)

// Engine is the session state machine. All operations are synchronous
// against local state; persistence failures degrade to in-memory state
// for the current process.
type Engine struct {
	repo     *store.Repository
	recorder Recorder
	clock    Clock
	opts     Options
	logger   *logging.Logger

	mu        sync.Mutex
	active    *models.Session
	suspended map[string]*models.Session // task id -> session
	history   []*models.Session
	nextSub   int
	listeners map[int]Listener

	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewEngine creates an Engine. Call Restore to load persisted state and
// Start to begin ticking.
func NewEngine(repo *store.Repository, recorder Recorder, clock Clock, opts Options, logger *logging.Logger) *Engine {
	return &Engine{
		repo:      repo,
		recorder:  recorder,
		clock:     clock,
		opts:      opts,
		logger:    logger,
		suspended: make(map[string]*models.Session),
		listeners: make(map[int]Listener),
	}
}

// Restore loads persisted session state. A restored active session left
// untouched for longer than ZombieThreshold is discarded without
// logging; suspended sessions past their TTL are purged.
func (e *Engine) Restore() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	nowMs := e.clock.NowMs()

	purged, err := e.repo.DeleteSessionsInSlotOlderThan(store.SlotSuspended, nowMs-e.opts.SuspendedTTL.Milliseconds())
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to purge suspended sessions", err)
	}
	if purged > 0 {
		e.logger.Info("Purged expired suspended sessions", map[string]interface{}{
			"count": purged,
		})
	}

	active, err := e.repo.GetActiveSession()
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to restore active session", err)
	}
	if active != nil {
		if nowMs-active.UpdatedUnix > e.opts.ZombieThreshold.Milliseconds() {
			e.logger.Warn("Discarding zombie session", map[string]interface{}{
				"session_id": string(active.ID),
				"task_id":    string(active.TaskID),
			})
			e.repo.DeleteSession(string(active.ID))
		} else {
			if active.Status == models.SessionActive && active.SegmentStart > 0 {
				// The gap between the last persisted tick and this
				// restart is downtime, not focus time. Close the open
				// segment at the moment it was last observed and start
				// a new one from the trusted now.
				segment := (active.UpdatedUnix - active.SegmentStart) / 1000
				if segment > 0 {
					active.Accumulated += segment
				}
				active.SegmentStart = nowMs
				active.Remaining = active.RemainingAt(nowMs)
				active.UpdatedUnix = nowMs
			}
			e.active = active
			e.persistActiveLocked()
		}
	}

	suspended, err := e.repo.ListSessions(store.SlotSuspended)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to restore suspended sessions", err)
	}
	for _, s := range suspended {
		e.suspended[string(s.TaskID)] = s
	}

	history, err := e.repo.ListSessions(store.SlotHistory)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to restore session history", err)
	}
	e.history = history

	return nil
}

// Start launches the tick loop.
func (e *Engine) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return
	}
	e.running = true
	e.stopCh = make(chan struct{})

	e.wg.Add(1)
	go e.tickLoop()
}

// Stop halts the tick loop.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	close(e.stopCh)
	e.mu.Unlock()

	e.wg.Wait()
}

func (e *Engine) tickLoop() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.opts.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
			e.Tick()
		}
	}
}

// Tick re-evaluates the active countdown. Reaching zero forces a pause
// rather than completing: completion is always an explicit caller
// action. Exposed so tests can drive the countdown deterministically.
func (e *Engine) Tick() {
	e.mu.Lock()
	if e.active == nil || e.active.Status != models.SessionActive {
		e.mu.Unlock()
		return
	}

	nowMs := e.clock.NowMs()
	if e.active.RemainingAt(nowMs) == 0 {
		e.foldSegmentLocked(e.active, nowMs)
		e.logger.Info("Session countdown reached zero, auto-pausing", map[string]interface{}{
			"session_id": string(e.active.ID),
			"task_id":    string(e.active.TaskID),
		})
	}
	e.active.UpdatedUnix = nowMs
	e.persistActiveLocked()
	e.mu.Unlock()

	e.notify()
}

// StartSession creates a fresh full-duration session for the task. An
// active session for another task is suspended first. A suspended
// session already present for this task is cleared, not resumed;
// resuming is SwitchTask's job.
func (e *Engine) StartSession(taskID string, config models.SessionConfig) *models.Session {
	e.mu.Lock()
	nowMs := e.clock.NowMs()

	if e.active != nil {
		e.suspendActiveLocked(nowMs)
	}
	e.clearSuspendedLocked(taskID)

	s := &models.Session{
		ID:           models.UUID(uuid.New()),
		TaskID:       models.UUID(taskID),
		StartTime:    e.clock.ISO(),
		Status:       models.SessionActive,
		Config:       config,
		SegmentStart: nowMs,
		Remaining:    config.TargetSeconds(),
		UpdatedUnix:  nowMs,
	}
	e.active = s
	e.persistActiveLocked()
	e.mu.Unlock()

	e.logger.Info("Session started", map[string]interface{}{
		"session_id": string(s.ID),
		"task_id":    taskID,
		"mode":       string(config.Mode),
	})
	e.notify()
	return s
}

// SwitchTask makes taskID the current task without starting the timer.
// The active session (if any) is suspended; a suspended session for the
// requested task is reinstated with its captured remaining time,
// otherwise a fresh paused session is created.
func (e *Engine) SwitchTask(taskID string, config models.SessionConfig) *models.Session {
	e.mu.Lock()
	if e.active != nil && string(e.active.TaskID) == taskID {
		s := e.active
		e.mu.Unlock()
		return s
	}

	nowMs := e.clock.NowMs()
	if e.active != nil {
		e.suspendActiveLocked(nowMs)
	}

	s, ok := e.suspended[taskID]
	if ok {
		delete(e.suspended, taskID)
	} else {
		s = &models.Session{
			ID:          models.UUID(uuid.New()),
			TaskID:      models.UUID(taskID),
			StartTime:   e.clock.ISO(),
			Status:      models.SessionPaused,
			Config:      config,
			Remaining:   config.TargetSeconds(),
			UpdatedUnix: nowMs,
		}
	}
	// Switching never auto-starts the timer
	s.Status = models.SessionPaused
	s.SegmentStart = 0
	s.UpdatedUnix = nowMs
	e.active = s
	e.persistActiveLocked()
	e.mu.Unlock()

	e.notify()
	return s
}

// Pause freezes the countdown. No-op when idle or already paused.
func (e *Engine) Pause() {
	e.mu.Lock()
	if e.active == nil || e.active.Status != models.SessionActive {
		e.mu.Unlock()
		return
	}
	nowMs := e.clock.NowMs()
	e.foldSegmentLocked(e.active, nowMs)
	e.active.UpdatedUnix = nowMs
	e.persistActiveLocked()
	e.mu.Unlock()

	e.notify()
}

// Resume restarts the countdown. No-op when idle, already running, or
// when no time is left.
func (e *Engine) Resume() {
	e.mu.Lock()
	nowMs := e.clock.NowMs()
	if e.active == nil || e.active.Status != models.SessionPaused || e.active.RemainingAt(nowMs) == 0 {
		e.mu.Unlock()
		return
	}
	e.active.Status = models.SessionActive
	e.active.SegmentStart = nowMs
	e.active.UpdatedUnix = nowMs
	e.persistActiveLocked()
	e.mu.Unlock()

	e.notify()
}

// StopSession completes the active session: computes the elapsed time,
// moves the session to history, and records a ledger entry. Sessions
// shorter than MinLogDuration complete without logging. Returns the
// created log, or nil when nothing was logged.
func (e *Engine) StopSession() (*models.TimeLog, error) {
	e.mu.Lock()
	if e.active == nil {
		e.mu.Unlock()
		return nil, apperrors.New(apperrors.ErrNoSession, "no session to stop")
	}

	nowMs := e.clock.NowMs()
	s := e.active
	e.foldSegmentLocked(s, nowMs)

	elapsed := s.Elapsed(nowMs)
	if elapsed < 0 {
		elapsed = 0
	}
	s.Status = models.SessionCompleted
	s.EndTime = e.clock.ISO()
	s.Duration = elapsed
	s.UpdatedUnix = nowMs

	e.active = nil
	e.clearSuspendedLocked(string(s.TaskID))
	e.history = append([]*models.Session{s}, e.history...)
	if err := e.repo.SaveSession(store.SlotHistory, s); err != nil {
		e.logger.Warn("Failed to persist completed session", map[string]interface{}{
			"session_id": string(s.ID),
			"error":      err.Error(),
		})
	}

	var log *models.TimeLog
	if elapsed >= int64(e.opts.MinLogDuration.Seconds()) {
		log = &models.TimeLog{
			ID:        models.UUID(uuid.New()),
			TaskID:    s.TaskID,
			StartTime: s.StartTime,
			StartUnix: e.sessionStartMs(s, nowMs, elapsed),
			Duration:  elapsed,
			Type:      models.LogTypeAuto,
		}
	}
	e.mu.Unlock()

	e.logger.Info("Session completed", map[string]interface{}{
		"session_id": string(s.ID),
		"task_id":    string(s.TaskID),
		"duration":   elapsed,
	})

	if log != nil {
		if err := e.recorder.SaveLog(log); err != nil {
			e.notify()
			return nil, err
		}
	}
	e.notify()
	return log, nil
}

// DiscardSession clears the active session without recording anything.
func (e *Engine) DiscardSession() {
	e.mu.Lock()
	if e.active == nil {
		e.mu.Unlock()
		return
	}
	s := e.active
	e.active = nil
	if err := e.repo.DeleteSession(string(s.ID)); err != nil {
		e.logger.Warn("Failed to delete discarded session", map[string]interface{}{
			"session_id": string(s.ID),
			"error":      err.Error(),
		})
	}
	e.mu.Unlock()

	e.logger.Info("Session discarded", map[string]interface{}{
		"session_id": string(s.ID),
		"task_id":    string(s.TaskID),
	})
	e.notify()
}

// UpdateConfig re-stamps the active session's countdown to the new
// configured duration, but only while the session is fresh. A session
// that has already counted time is left untouched.
func (e *Engine) UpdateConfig(config models.SessionConfig) {
	e.mu.Lock()
	nowMs := e.clock.NowMs()
	if e.active == nil || !e.active.Fresh(nowMs) {
		e.mu.Unlock()
		return
	}
	e.active.Config = config
	e.active.Remaining = config.TargetSeconds()
	if e.active.Status == models.SessionActive {
		e.active.SegmentStart = nowMs
	}
	e.active.UpdatedUnix = nowMs
	e.persistActiveLocked()
	e.mu.Unlock()

	e.notify()
}

// CurrentSnapshot returns the read model at the trusted now.
func (e *Engine) CurrentSnapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

// Subscribe registers a snapshot listener with immediate replay.
// Returns an unsubscribe func.
func (e *Engine) Subscribe(fn Listener) func() {
	e.mu.Lock()
	id := e.nextSub
	e.nextSub++
	e.listeners[id] = fn
	snap := e.snapshotLocked()
	e.mu.Unlock()

	fn(snap)

	return func() {
		e.mu.Lock()
		delete(e.listeners, id)
		e.mu.Unlock()
	}
}

func (e *Engine) snapshotLocked() Snapshot {
	nowMs := e.clock.NowMs()
	snap := Snapshot{
		Active:    e.active,
		Suspended: make(map[string]*models.Session, len(e.suspended)),
		History:   append([]*models.Session(nil), e.history...),
	}
	for taskID, s := range e.suspended {
		snap.Suspended[taskID] = s
	}
	if e.active != nil {
		snap.TimeLeft = e.active.RemainingAt(nowMs)
		snap.IsPaused = e.active.Status == models.SessionPaused
	}
	return snap
}

func (e *Engine) notify() {
	e.mu.Lock()
	listeners := make([]Listener, 0, len(e.listeners))
	for _, fn := range e.listeners {
		listeners = append(listeners, fn)
	}
	snap := e.snapshotLocked()
	e.mu.Unlock()

	for _, fn := range listeners {
		fn(snap)
	}
}

// foldSegmentLocked closes the running segment into Accumulated and
// freezes the countdown snapshot.
func (e *Engine) foldSegmentLocked(s *models.Session, nowMs int64) {
	s.Accumulated = s.Elapsed(nowMs)
	s.SegmentStart = 0
	s.Status = models.SessionPaused
	s.Remaining = s.RemainingAt(nowMs)
}

// suspendActiveLocked moves the active session into the suspended map,
// capturing its remaining time.
func (e *Engine) suspendActiveLocked(nowMs int64) {
	s := e.active
	e.foldSegmentLocked(s, nowMs)
	s.UpdatedUnix = nowMs
	e.active = nil
	e.suspended[string(s.TaskID)] = s
	if err := e.repo.SaveSession(store.SlotSuspended, s); err != nil {
		e.logger.Warn("Failed to persist suspended session", map[string]interface{}{
			"session_id": string(s.ID),
			"error":      err.Error(),
		})
	}
}

func (e *Engine) clearSuspendedLocked(taskID string) {
	s, ok := e.suspended[taskID]
	if !ok {
		return
	}
	delete(e.suspended, taskID)
	if err := e.repo.DeleteSession(string(s.ID)); err != nil {
		e.logger.Warn("Failed to delete suspended session", map[string]interface{}{
			"session_id": string(s.ID),
			"error":      err.Error(),
		})
	}
}

func (e *Engine) persistActiveLocked() {
	if e.active == nil {
		return
	}
	if err := e.repo.SaveSession(store.SlotActive, e.active); err != nil {
		e.logger.Warn("Failed to persist active session", map[string]interface{}{
			"session_id": string(e.active.ID),
			"error":      err.Error(),
		})
	}
}

// sessionStartMs derives the log's unix-ms start from the session's
// stamped start time, falling back to now minus elapsed when the stamp
// does not parse.
func (e *Engine) sessionStartMs(s *models.Session, nowMs, elapsed int64) int64 {
	if t, err := time.Parse("2006-01-02T15:04:05.000-07:00", s.StartTime); err == nil {
		return t.UnixMilli()
	}
	return nowMs - elapsed*1000
}
