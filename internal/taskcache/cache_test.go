package taskcache

import (
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/osadchyi/focuscore/internal/conflict"
	"github.com/osadchyi/focuscore/internal/logging"
	"github.com/osadchyi/focuscore/internal/models"
	"github.com/osadchyi/focuscore/internal/remote"
)

type fakeClock struct {
	ms int64
}

func (c *fakeClock) NowMs() int64 {
	return c.ms
}

type fakeAgg struct {
	totals map[string]int64
}

func (a *fakeAgg) GetAggregatedTime(taskID string) (int64, error) {
	return a.totals[taskID], nil
}

func newTestCache(clock *fakeClock, lockout time.Duration) (*Cache, *fakeAgg) {
	logger := logging.New(io.Discard, logging.LevelError)
	policy := conflict.NewPolicy("dev-local", lockout, logger)
	agg := &fakeAgg{totals: make(map[string]int64)}
	return New(policy, agg, clock, logger), agg
}

func taskDoc(id string, updatedAt int64, deviceID, title string) remote.Document {
	data, _ := json.Marshal(models.Task{ID: models.UUID(id), Title: title})
	return remote.Document{ID: id, Data: data, UpdatedAt: updatedAt, DeviceID: deviceID}
}

func TestUpsertLocalStampsVersion(t *testing.T) {
	clock := &fakeClock{ms: 10_000}
	cache, _ := newTestCache(clock, 500*time.Millisecond)

	cache.UpsertLocal(&models.Task{ID: models.UUID("task-1"), Title: "write report"})

	got := cache.Get("task-1")
	if got == nil {
		t.Fatal("Expected task cached")
	}
	if got.UpdatedUnix != 10_000 || got.DeviceID != "dev-local" {
		t.Errorf("Expected local stamp, got updated=%d device=%s", got.UpdatedUnix, got.DeviceID)
	}
}

func TestApplyRemoteNewTask(t *testing.T) {
	clock := &fakeClock{ms: 10_000}
	cache, _ := newTestCache(clock, 500*time.Millisecond)

	applied := cache.ApplyRemote(taskDoc("task-1", 9000, "dev-other", "from phone"))
	if !applied {
		t.Fatal("Expected unknown task snapshot applied")
	}
	if cache.Get("task-1").Title != "from phone" {
		t.Errorf("Unexpected cached task: %+v", cache.Get("task-1"))
	}
}

func TestApplyRemoteLockout(t *testing.T) {
	clock := &fakeClock{ms: 10_000}
	cache, _ := newTestCache(clock, time.Minute)

	cache.UpsertLocal(&models.Task{ID: models.UUID("task-1"), Title: "local edit"})

	// Remote snapshot is newer but arrives inside the lockout window
	applied := cache.ApplyRemote(taskDoc("task-1", 11_000, "dev-other", "remote edit"))
	if applied {
		t.Error("Expected lockout to hold back the remote snapshot")
	}
	if cache.Get("task-1").Title != "local edit" {
		t.Errorf("Expected local edit kept, got %q", cache.Get("task-1").Title)
	}
}

func TestApplyRemotePreservesRunningFlag(t *testing.T) {
	clock := &fakeClock{ms: 10_000}
	cache, _ := newTestCache(clock, 0)

	cache.UpsertLocal(&models.Task{ID: models.UUID("task-1"), Title: "old"})
	cache.SetRunning("task-1", true)

	// Zero lockout, so the newer remote snapshot applies immediately
	applied := cache.ApplyRemote(taskDoc("task-1", 15_000, "dev-other", "renamed"))
	if !applied {
		t.Fatal("Expected newer remote snapshot applied")
	}

	got := cache.Get("task-1")
	if got.Title != "renamed" {
		t.Errorf("Expected remote title applied, got %q", got.Title)
	}
	if !got.IsRunning {
		t.Error("Expected device-local running flag preserved across merge")
	}
}

func TestRefreshTotals(t *testing.T) {
	clock := &fakeClock{ms: 10_000}
	cache, agg := newTestCache(clock, 500*time.Millisecond)

	cache.UpsertLocal(&models.Task{ID: models.UUID("task-1")})
	agg.totals["task-1"] = 750

	cache.RefreshTotals([]*models.TimeLog{
		{ID: models.UUID("log-1"), TaskID: models.UUID("task-1"), Duration: 750},
	})

	if got := cache.Get("task-1").CachedTotalTime; got != 750 {
		t.Errorf("Expected cached total 750, got %d", got)
	}
}
