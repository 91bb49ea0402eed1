// Package taskcache maintains the local view of tasks: a read-through
// cache of each task's derived total time, the optimistic running flag,
// and last-write-wins merging of remote task snapshots.
package taskcache

import (
	"encoding/json"
	"sync"

	"github.com/osadchyi/focuscore/internal/conflict"
	"github.com/osadchyi/focuscore/internal/logging"
	"github.com/osadchyi/focuscore/internal/models"
	"github.com/osadchyi/focuscore/internal/remote"
)

// Aggregator is the ledger query the cache refreshes totals from.
type Aggregator interface {
	GetAggregatedTime(taskID string) (int64, error)
}

// Clock stamps local mutations.
type Clock interface {
	NowMs() int64
}

// Cache is the in-memory task view. Local mutations are optimistic;
// remote snapshots are folded in through the conflict policy.
type Cache struct {
	policy *conflict.Policy
	agg    Aggregator
	clock  Clock
	logger *logging.Logger

	mu    sync.RWMutex
	tasks map[string]*models.Task
}

// New creates a Cache.
func New(policy *conflict.Policy, agg Aggregator, clock Clock, logger *logging.Logger) *Cache {
	return &Cache{
		policy: policy,
		agg:    agg,
		clock:  clock,
		logger: logger,
		tasks:  make(map[string]*models.Task),
	}
}

// Get returns the cached task, or nil.
func (c *Cache) Get(taskID string) *models.Task {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tasks[taskID]
}

// List returns all cached tasks.
func (c *Cache) List() []*models.Task {
	c.mu.RLock()
	defer c.mu.RUnlock()
	tasks := make([]*models.Task, 0, len(c.tasks))
	for _, t := range c.tasks {
		tasks = append(tasks, t)
	}
	return tasks
}

// UpsertLocal applies a local task mutation: the version is stamped
// with this device and the trusted now, and the conflict policy's
// lockout starts so an in-flight echo cannot revert it.
func (c *Cache) UpsertLocal(task *models.Task) {
	task.UpdatedUnix = c.clock.NowMs()
	task.DeviceID = c.policy.DeviceID()

	c.mu.Lock()
	c.tasks[string(task.ID)] = task
	c.mu.Unlock()

	c.policy.MarkLocalMutation(string(task.ID))
}

// SetRunning flips the optimistic running flag mirroring the session
// engine. Not a user mutation, so no lockout.
func (c *Cache) SetRunning(taskID string, running bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.tasks[taskID]; ok {
		t.IsRunning = running
	}
}

// ApplyRemote folds one remote task snapshot in, if the conflict policy
// allows it. Returns true when the snapshot was applied.
func (c *Cache) ApplyRemote(doc remote.Document) bool {
	var incoming models.Task
	if err := json.Unmarshal(doc.Data, &incoming); err != nil {
		c.logger.Warn("Skipping undecodable remote task", map[string]interface{}{
			"doc_id": doc.ID,
			"error":  err.Error(),
		})
		return false
	}

	c.mu.RLock()
	local := c.tasks[doc.ID]
	c.mu.RUnlock()

	localMeta := conflict.VersionMeta{}
	if local != nil {
		localMeta = conflict.VersionMeta{UpdatedAt: local.UpdatedUnix, DeviceID: local.DeviceID}
	}
	remoteMeta := conflict.VersionMeta{UpdatedAt: doc.UpdatedAt, DeviceID: doc.DeviceID}

	decision := c.policy.ShouldApply(doc.ID, localMeta, remoteMeta)
	if !decision.Apply {
		c.logger.Debug("Remote task snapshot not applied", map[string]interface{}{
			"task_id": doc.ID,
			"reason":  string(decision.Reason),
		})
		return false
	}

	incoming.UpdatedUnix = doc.UpdatedAt
	incoming.DeviceID = doc.DeviceID
	if local != nil {
		// Running state is device-local, never taken from remote
		incoming.IsRunning = local.IsRunning
	}

	c.mu.Lock()
	c.tasks[doc.ID] = &incoming
	c.mu.Unlock()
	return true
}

// RefreshTotals recomputes the cached totals for every task that has
// logs in the changed set. Wired to the ledger's subscription.
func (c *Cache) RefreshTotals(logs []*models.TimeLog) {
	touched := make(map[string]bool)
	for _, log := range logs {
		touched[string(log.TaskID)] = true
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for taskID, t := range c.tasks {
		if !touched[taskID] && t.CachedTotalTime == 0 {
			continue
		}
		total, err := c.agg.GetAggregatedTime(taskID)
		if err != nil {
			c.logger.Warn("Failed to refresh task total", map[string]interface{}{
				"task_id": taskID,
				"error":   err.Error(),
			})
			continue
		}
		t.CachedTotalTime = total
	}
}
