package session

import (
	"io"
	"testing"

	"github.com/osadchyi/focuscore/internal/logging"
	"github.com/osadchyi/focuscore/internal/models"
	"github.com/osadchyi/focuscore/internal/store"
)

type fakeClock struct {
	ms int64
}

func (c *fakeClock) NowMs() int64 {
	return c.ms
}

func (c *fakeClock) ISO() string {
	return "2026-02-10T09:00:00.000+02:00"
}

// advance moves the clock forward by whole seconds.
func (c *fakeClock) advance(seconds int64) {
	c.ms += seconds * 1000
}

type fakeRecorder struct {
	logs []*models.TimeLog
}

func (r *fakeRecorder) SaveLog(log *models.TimeLog) error {
	r.logs = append(r.logs, log)
	return nil
}

func newTestEngine(t *testing.T) (*Engine, *fakeClock, *fakeRecorder, *store.Repository) {
	t.Helper()
	db, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	repo := store.NewRepository(db)
	t.Cleanup(func() { repo.Close() })

	clock := &fakeClock{ms: 1_000_000}
	recorder := &fakeRecorder{}
	logger := logging.New(io.Discard, logging.LevelError)
	engine := NewEngine(repo, recorder, clock, DefaultOptions(), logger)
	return engine, clock, recorder, repo
}

func focusConfig(minutes int) models.SessionConfig {
	return models.SessionConfig{Mode: models.ModeFocus, Duration: minutes}
}

func TestStartSessionCreatesActive(t *testing.T) {
	engine, clock, _, _ := newTestEngine(t)

	s := engine.StartSession("task-a", focusConfig(25))
	if s.Status != models.SessionActive {
		t.Errorf("Expected active status, got %s", s.Status)
	}

	snap := engine.CurrentSnapshot()
	if snap.Active == nil || string(snap.Active.TaskID) != "task-a" {
		t.Fatal("Expected task-a active")
	}
	if snap.TimeLeft != 1500 {
		t.Errorf("Expected full 1500s countdown, got %d", snap.TimeLeft)
	}

	clock.advance(100)
	snap = engine.CurrentSnapshot()
	if snap.TimeLeft != 1400 {
		t.Errorf("Expected countdown at 1400 after 100s, got %d", snap.TimeLeft)
	}
}

func TestAtMostOneActive(t *testing.T) {
	engine, _, _, repo := newTestEngine(t)

	engine.StartSession("task-a", focusConfig(25))
	engine.SwitchTask("task-b", focusConfig(25))
	engine.StartSession("task-c", focusConfig(25))
	engine.SwitchTask("task-a", focusConfig(25))
	engine.StartSession("task-b", focusConfig(25))

	snap := engine.CurrentSnapshot()
	activeCount := 0
	if snap.Active != nil && snap.Active.Status == models.SessionActive {
		activeCount++
	}
	for _, s := range snap.Suspended {
		if s.Status == models.SessionActive {
			activeCount++
		}
	}
	if activeCount > 1 {
		t.Errorf("Expected at most one active session, got %d", activeCount)
	}

	// The persisted active slot must hold at most one row too
	rows, err := repo.ListSessions(store.SlotActive)
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(rows) > 1 {
		t.Errorf("Expected at most one persisted active session, got %d", len(rows))
	}
}

func TestSuspendResumeRoundTrip(t *testing.T) {
	engine, clock, _, _ := newTestEngine(t)

	engine.StartSession("task-a", focusConfig(25))
	clock.advance(300) // 1200s remain on A

	engine.SwitchTask("task-b", focusConfig(25))
	clock.advance(500) // B is paused, A is suspended; neither may decrement

	restored := engine.SwitchTask("task-a", focusConfig(25))
	snap := engine.CurrentSnapshot()

	if snap.TimeLeft != 1200 {
		t.Errorf("Expected A restored with exactly 1200s remaining, got %d", snap.TimeLeft)
	}
	if restored.Status != models.SessionPaused {
		t.Errorf("Expected switch to reinstate in paused state, got %s", restored.Status)
	}
	if !snap.IsPaused {
		t.Error("Expected snapshot to report paused")
	}
}

func TestStartSessionAlwaysCreatesFresh(t *testing.T) {
	engine, clock, _, _ := newTestEngine(t)

	first := engine.StartSession("task-a", focusConfig(25))
	clock.advance(300)
	engine.SwitchTask("task-b", focusConfig(25))

	// task-a sits suspended with 1200s left; StartSession must not
	// resume it
	fresh := engine.StartSession("task-a", focusConfig(25))
	if fresh.ID == first.ID {
		t.Error("Expected a fresh session id, got the suspended one")
	}

	snap := engine.CurrentSnapshot()
	if snap.TimeLeft != 1500 {
		t.Errorf("Expected fresh full countdown 1500, got %d", snap.TimeLeft)
	}
	if _, ok := snap.Suspended["task-a"]; ok {
		t.Error("Expected stale suspended entry for task-a to be cleared")
	}
}

func TestSwitchTaskSameTaskIsNoop(t *testing.T) {
	engine, clock, _, _ := newTestEngine(t)

	started := engine.StartSession("task-a", focusConfig(25))
	clock.advance(60)
	same := engine.SwitchTask("task-a", focusConfig(25))

	if same.ID != started.ID {
		t.Error("Expected switch to the active task to be a no-op")
	}
	if same.Status != models.SessionActive {
		t.Errorf("Expected session still active, got %s", same.Status)
	}
}

func TestPauseFreezesCountdown(t *testing.T) {
	engine, clock, _, _ := newTestEngine(t)

	engine.StartSession("task-a", focusConfig(25))
	clock.advance(100)
	engine.Pause()
	clock.advance(1000) // frozen

	snap := engine.CurrentSnapshot()
	if snap.TimeLeft != 1400 {
		t.Errorf("Expected frozen countdown 1400, got %d", snap.TimeLeft)
	}

	engine.Resume()
	clock.advance(50)
	snap = engine.CurrentSnapshot()
	if snap.TimeLeft != 1350 {
		t.Errorf("Expected countdown resumed to 1350, got %d", snap.TimeLeft)
	}
}

func TestResumeNoopAtZeroRemaining(t *testing.T) {
	engine, clock, _, _ := newTestEngine(t)

	engine.StartSession("task-a", focusConfig(1))
	clock.advance(60)
	engine.Tick() // countdown hit zero, auto-pause

	engine.Resume()
	snap := engine.CurrentSnapshot()
	if !snap.IsPaused {
		t.Error("Expected resume at zero remaining to be a no-op")
	}
}

func TestTickAutoPausesAtZero(t *testing.T) {
	engine, clock, _, _ := newTestEngine(t)

	engine.StartSession("task-a", focusConfig(1))
	clock.advance(30)
	engine.Tick()
	snap := engine.CurrentSnapshot()
	if snap.IsPaused {
		t.Error("Expected session still running mid-countdown")
	}

	clock.advance(30)
	engine.Tick()
	snap = engine.CurrentSnapshot()
	if !snap.IsPaused {
		t.Error("Expected auto-pause when countdown reaches zero")
	}
	if snap.Active == nil {
		t.Fatal("Expected session to remain, not complete, at zero")
	}

	// Elapsed time is frozen at the target, not growing past it
	clock.advance(600)
	if got := snap.Active.Elapsed(clock.ms); got != 60 {
		t.Errorf("Expected elapsed frozen at 60, got %d", got)
	}
}

func TestStopComputesElapsed(t *testing.T) {
	engine, clock, recorder, _ := newTestEngine(t)

	engine.StartSession("task-a", focusConfig(25))
	clock.advance(700)

	log, err := engine.StopSession()
	if err != nil {
		t.Fatalf("StopSession failed: %v", err)
	}
	if log == nil {
		t.Fatal("Expected a log entry")
	}
	if log.Duration != 700 {
		t.Errorf("Expected logged duration 700, got %d", log.Duration)
	}
	if string(log.TaskID) != "task-a" {
		t.Errorf("Expected log for task-a, got %s", log.TaskID)
	}
	if log.Type != models.LogTypeAuto {
		t.Errorf("Expected auto log type, got %s", log.Type)
	}
	if len(recorder.logs) != 1 {
		t.Errorf("Expected recorder to receive 1 log, got %d", len(recorder.logs))
	}

	snap := engine.CurrentSnapshot()
	if snap.Active != nil {
		t.Error("Expected idle state after stop")
	}
	if len(snap.History) != 1 || snap.History[0].Duration != 700 {
		t.Errorf("Expected completed session in history, got %v", snap.History)
	}
}

func TestStopAcrossPauses(t *testing.T) {
	engine, clock, _, _ := newTestEngine(t)

	engine.StartSession("task-a", focusConfig(25))
	clock.advance(200)
	engine.Pause()
	clock.advance(10_000) // paused time must not count
	engine.Resume()
	clock.advance(300)

	log, err := engine.StopSession()
	if err != nil {
		t.Fatalf("StopSession failed: %v", err)
	}
	if log.Duration != 500 {
		t.Errorf("Expected 500s across two segments, got %d", log.Duration)
	}
}

func TestStopBelowMinimumLogsNothing(t *testing.T) {
	engine, clock, recorder, _ := newTestEngine(t)

	engine.StartSession("task-a", focusConfig(25))
	clock.advance(3) // below the 5s floor

	log, err := engine.StopSession()
	if err != nil {
		t.Fatalf("StopSession failed: %v", err)
	}
	if log != nil {
		t.Errorf("Expected no log below minimum duration, got %v", log)
	}
	if len(recorder.logs) != 0 {
		t.Errorf("Expected recorder untouched, got %d logs", len(recorder.logs))
	}
}

func TestStopWithoutSession(t *testing.T) {
	engine, _, _, _ := newTestEngine(t)

	if _, err := engine.StopSession(); err == nil {
		t.Error("Expected error when stopping with no session")
	}
}

func TestDiscardProducesNoLog(t *testing.T) {
	engine, clock, recorder, repo := newTestEngine(t)

	engine.StartSession("task-a", focusConfig(25))
	clock.advance(700)
	engine.DiscardSession()

	if len(recorder.logs) != 0 {
		t.Errorf("Expected no logs after discard, got %d", len(recorder.logs))
	}
	snap := engine.CurrentSnapshot()
	if snap.Active != nil {
		t.Error("Expected idle state after discard")
	}
	if len(snap.History) != 0 {
		t.Error("Expected no history entry after discard")
	}

	rows, err := repo.ListSessions(store.SlotActive)
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("Expected discarded session removed from storage, got %d", len(rows))
	}
}

func TestUpdateConfigRestampsOnlyFresh(t *testing.T) {
	engine, clock, _, _ := newTestEngine(t)

	engine.StartSession("task-a", focusConfig(25))
	engine.UpdateConfig(focusConfig(50))
	snap := engine.CurrentSnapshot()
	if snap.TimeLeft != 3000 {
		t.Errorf("Expected fresh session re-stamped to 3000s, got %d", snap.TimeLeft)
	}

	clock.advance(10)
	engine.UpdateConfig(focusConfig(5))
	snap = engine.CurrentSnapshot()
	if snap.TimeLeft != 2990 {
		t.Errorf("Expected ticked session untouched at 2990s, got %d", snap.TimeLeft)
	}
}

func TestSubscribeReplayAndNotify(t *testing.T) {
	engine, _, _, _ := newTestEngine(t)

	var snaps []Snapshot
	unsubscribe := engine.Subscribe(func(snap Snapshot) {
		snaps = append(snaps, snap)
	})

	if len(snaps) != 1 {
		t.Fatalf("Expected immediate replay, got %d snapshots", len(snaps))
	}
	if snaps[0].Active != nil {
		t.Error("Expected idle replay snapshot")
	}

	engine.StartSession("task-a", focusConfig(25))
	if len(snaps) != 2 {
		t.Fatalf("Expected notification after start, got %d snapshots", len(snaps))
	}
	if snaps[1].Active == nil || snaps[1].TimeLeft != 1500 {
		t.Errorf("Unexpected snapshot after start: %+v", snaps[1])
	}

	unsubscribe()
	engine.Pause()
	if len(snaps) != 2 {
		t.Error("Expected no notifications after unsubscribe")
	}
}

func TestRestoreRoundTrip(t *testing.T) {
	engine, clock, _, repo := newTestEngine(t)

	engine.StartSession("task-a", focusConfig(25))
	clock.advance(300)
	engine.SwitchTask("task-b", focusConfig(25))

	// Simulate a restart: fresh engine over the same repository
	logger := logging.New(io.Discard, logging.LevelError)
	restored := NewEngine(repo, &fakeRecorder{}, clock, DefaultOptions(), logger)
	if err := restored.Restore(); err != nil {
		t.Fatalf("Restore failed: %v", err)
	}

	snap := restored.CurrentSnapshot()
	if snap.Active == nil || string(snap.Active.TaskID) != "task-b" {
		t.Fatal("Expected task-b restored as current")
	}
	if !snap.IsPaused {
		t.Error("Expected restored session paused, as persisted")
	}
	suspendedA, ok := snap.Suspended["task-a"]
	if !ok {
		t.Fatal("Expected task-a restored as suspended")
	}
	if suspendedA.Remaining != 1200 {
		t.Errorf("Expected task-a remaining 1200, got %d", suspendedA.Remaining)
	}
}

func TestRestoreExcludesDaemonDowntime(t *testing.T) {
	engine, clock, _, repo := newTestEngine(t)

	engine.StartSession("task-a", focusConfig(25))
	clock.advance(60)
	engine.Tick() // persists the last observed moment

	// The process is down for two hours, then comes back
	clock.advance(2 * 3600)
	logger := logging.New(io.Discard, logging.LevelError)
	recorder := &fakeRecorder{}
	restored := NewEngine(repo, recorder, clock, DefaultOptions(), logger)
	if err := restored.Restore(); err != nil {
		t.Fatalf("Restore failed: %v", err)
	}

	snap := restored.CurrentSnapshot()
	if snap.Active == nil {
		t.Fatal("Expected active session restored")
	}
	if snap.IsPaused {
		t.Error("Expected restored session still active")
	}
	if snap.TimeLeft != 1440 {
		t.Errorf("Expected countdown at 1440 (60s elapsed, downtime excluded), got %d", snap.TimeLeft)
	}

	// The downtime must not leak into the logged duration either
	clock.advance(40)
	log, err := restored.StopSession()
	if err != nil {
		t.Fatalf("StopSession failed: %v", err)
	}
	if log.Duration != 100 {
		t.Errorf("Expected logged duration 100 (60s + 40s), got %d", log.Duration)
	}
}

func TestRestoreDiscardsZombie(t *testing.T) {
	engine, clock, _, repo := newTestEngine(t)

	engine.StartSession("task-a", focusConfig(25))

	// More than the zombie threshold passes before the next start
	clock.ms += DefaultOptions().ZombieThreshold.Milliseconds() + 60_000

	logger := logging.New(io.Discard, logging.LevelError)
	restored := NewEngine(repo, &fakeRecorder{}, clock, DefaultOptions(), logger)
	if err := restored.Restore(); err != nil {
		t.Fatalf("Restore failed: %v", err)
	}

	snap := restored.CurrentSnapshot()
	if snap.Active != nil {
		t.Error("Expected zombie session discarded on restore")
	}
}

func TestRestorePurgesExpiredSuspended(t *testing.T) {
	engine, clock, _, repo := newTestEngine(t)

	engine.StartSession("task-a", focusConfig(25))
	engine.SwitchTask("task-b", focusConfig(25))
	engine.DiscardSession() // drop task-b, leave task-a suspended

	clock.ms += DefaultOptions().SuspendedTTL.Milliseconds() + 60_000

	logger := logging.New(io.Discard, logging.LevelError)
	restored := NewEngine(repo, &fakeRecorder{}, clock, DefaultOptions(), logger)
	if err := restored.Restore(); err != nil {
		t.Fatalf("Restore failed: %v", err)
	}

	snap := restored.CurrentSnapshot()
	if len(snap.Suspended) != 0 {
		t.Errorf("Expected expired suspended sessions purged, got %d", len(snap.Suspended))
	}
}
