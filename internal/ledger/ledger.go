// Package ledger implements the append-only time log store. Logs are
// written locally first, queued for upload, and merged with remote logs
// by id so that every device converges on the same set.
package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	apperrors "github.com/osadchyi/focuscore/internal/errors"
	"github.com/osadchyi/focuscore/internal/logging"
	"github.com/osadchyi/focuscore/internal/models"
	"github.com/osadchyi/focuscore/internal/remote"
	"github.com/osadchyi/focuscore/internal/store"
)

// Clock is the trusted time source the ledger stamps and prunes with.
type Clock interface {
	NowMs() int64
	ISO() string
}

// Options bound local storage growth and the remote pull window.
type Options struct {
	// Retention is how long logs are kept locally.
	Retention time.Duration

	// MaxStorageBytes caps the local database size. When exceeded a
	// retention sweep runs; if that is not enough, new writes are
	// refused. Entries inside the retention window are never trimmed.
	MaxStorageBytes int64

	// CloudWindow is how far back remote pulls reach. Older logs only
	// exist on the devices that wrote them.
	CloudWindow time.Duration

	// QueueMaxRetries caps upload attempts per queued log.
	QueueMaxRetries int
}

// DefaultOptions returns the production bounds.
func DefaultOptions() Options {
	return Options{
		Retention:       90 * 24 * time.Hour,
		MaxStorageBytes: 4 * 1024 * 1024,
		CloudWindow:     30 * 24 * time.Hour,
		QueueMaxRetries: 8,
	}
}

// collection name used on the remote backend
const logCollection = "timeLogs"

// Listener receives the full current log list whenever it changes:
// local writes, remote merges, and cleanup all count as changes.
type Listener func(logs []*models.TimeLog)

// Ledger is the append-only time log store.
type Ledger struct {
	repo     *store.Repository
	docs     remote.DocumentStore // nil in guest mode
	clock    Clock
	queue    *Queue
	deviceID string
	opts     Options
	logger   *logging.Logger

	mu        sync.Mutex
	nextSub   int
	listeners map[int]Listener
}

// New creates a Ledger. docs may be nil in guest mode; logs then stay
// local and nothing is queued.
func New(repo *store.Repository, docs remote.DocumentStore, clock Clock, deviceID string, opts Options, logger *logging.Logger) *Ledger {
	l := &Ledger{
		repo:      repo,
		docs:      docs,
		clock:     clock,
		deviceID:  deviceID,
		opts:      opts,
		logger:    logger,
		listeners: make(map[int]Listener),
	}
	l.queue = NewQueue(repo, opts.QueueMaxRetries, clock, logger)
	return l
}

// Queue exposes the pending-write queue for the flusher.
func (l *Ledger) Queue() *Queue {
	return l.queue
}

// SaveLog appends one log. Invalid logs are dropped with a warning
// rather than failing the caller; a broken log must never block the
// session flow that produced it. Returns ErrQuotaExceeded only when the
// storage cap cannot be recovered by pruning.
func (l *Ledger) SaveLog(log *models.TimeLog) error {
	if !log.Valid() {
		l.logger.Warn("Dropping invalid time log", map[string]interface{}{
			"log_id":  string(log.ID),
			"task_id": string(log.TaskID),
		})
		return nil
	}

	if err := l.ensureCapacity(); err != nil {
		return err
	}

	inserted, err := l.repo.InsertTimeLog(log)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to save time log", err)
	}
	if !inserted {
		// Duplicate id, already stored. Append-only means no update.
		return nil
	}

	if err := l.enqueueUpload(log); err != nil {
		// Queue failure loses durability of the upload, not the log
		l.logger.Error("Failed to queue log upload", err, map[string]interface{}{
			"log_id": string(log.ID),
		})
	}

	l.notify()
	return nil
}

// SaveLogsBulk appends many logs in one call. Each log is validated and
// queued individually; the first storage error aborts the rest.
func (l *Ledger) SaveLogsBulk(logs []*models.TimeLog) error {
	for _, log := range logs {
		if err := l.SaveLog(log); err != nil {
			return err
		}
	}
	return nil
}

// GetAggregatedTime returns the total logged seconds for a task.
func (l *Ledger) GetAggregatedTime(taskID string) (int64, error) {
	total, err := l.repo.SumDurationByTask(taskID)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrDatabase, "failed to aggregate logs", err)
	}
	return total, nil
}

// GetLogsByTask returns all logs for a task, newest first.
func (l *Ledger) GetLogsByTask(taskID string) ([]*models.TimeLog, error) {
	return l.repo.ListTimeLogsByTask(taskID)
}

// GetLogsByDateRange returns logs that started inside [sinceMs, untilMs).
func (l *Ledger) GetLogsByDateRange(sinceMs, untilMs int64) ([]*models.TimeLog, error) {
	return l.repo.ListTimeLogsByRange(sinceMs, untilMs)
}

// DeleteLogsForTask removes every log of a deleted task.
func (l *Ledger) DeleteLogsForTask(taskID string) (int64, error) {
	deleted, err := l.repo.DeleteTimeLogsForTask(taskID)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrDatabase, "failed to delete task logs", err)
	}
	if deleted > 0 {
		l.notify()
		l.logger.Info("Deleted logs for task", map[string]interface{}{
			"task_id": taskID,
			"count":   deleted,
		})
	}
	return deleted, nil
}

// Subscribe registers a change listener. The current snapshot is
// replayed to the new subscriber immediately. Returns an unsubscribe
// func.
func (l *Ledger) Subscribe(fn Listener) func() {
	l.mu.Lock()
	id := l.nextSub
	l.nextSub++
	l.listeners[id] = fn
	l.mu.Unlock()

	if logs, err := l.repo.ListTimeLogs(); err == nil {
		fn(logs)
	}

	return func() {
		l.mu.Lock()
		delete(l.listeners, id)
		l.mu.Unlock()
	}
}

func (l *Ledger) notify() {
	l.mu.Lock()
	listeners := make([]Listener, 0, len(l.listeners))
	for _, fn := range l.listeners {
		listeners = append(listeners, fn)
	}
	l.mu.Unlock()

	if len(listeners) == 0 {
		return
	}
	logs, err := l.repo.ListTimeLogs()
	if err != nil {
		l.logger.Error("Failed to snapshot logs for subscribers", err, nil)
		return
	}
	for _, fn := range listeners {
		fn(logs)
	}
}

// MergeRemote folds remote documents into the local set. Logs are
// immutable and keyed by id, so the merge is a plain set union; a log
// already present locally is left untouched no matter what the remote
// copy says.
func (l *Ledger) MergeRemote(docs []remote.Document) (int, error) {
	merged := 0
	for _, doc := range docs {
		var log models.TimeLog
		if err := json.Unmarshal(doc.Data, &log); err != nil {
			l.logger.Warn("Skipping undecodable remote log", map[string]interface{}{
				"doc_id": doc.ID,
				"error":  err.Error(),
			})
			continue
		}
		if !log.Valid() {
			l.logger.Warn("Skipping invalid remote log", map[string]interface{}{
				"doc_id": doc.ID,
			})
			continue
		}
		inserted, err := l.repo.InsertTimeLog(&log)
		if err != nil {
			return merged, apperrors.Wrap(apperrors.ErrDatabase, "failed to merge remote log", err)
		}
		if inserted {
			merged++
		}
	}
	if merged > 0 {
		l.notify()
		l.logger.Info("Merged remote logs", map[string]interface{}{
			"count": merged,
		})
	}
	return merged, nil
}

// PullRemote fetches the cloud window of logs and merges them.
func (l *Ledger) PullRemote(ctx context.Context) (int, error) {
	if l.docs == nil {
		return 0, nil
	}
	nowMs := l.clock.NowMs()
	sinceMs := nowMs - l.opts.CloudWindow.Milliseconds()
	docs, err := l.docs.ReadRange(ctx, logCollection, sinceMs, nowMs+1)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrRemoteRead, "failed to pull remote logs", err)
	}
	return l.MergeRemote(docs)
}

// EnforceRetention deletes logs older than the retention window.
func (l *Ledger) EnforceRetention() (int64, error) {
	cutoffMs := l.clock.NowMs() - l.opts.Retention.Milliseconds()
	deleted, err := l.repo.DeleteTimeLogsOlderThan(cutoffMs)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrDatabase, "retention sweep failed", err)
	}
	if deleted > 0 {
		l.notify()
		l.logger.Info("Retention sweep removed logs", map[string]interface{}{
			"count": deleted,
		})
	}
	return deleted, nil
}

// ensureCapacity keeps the database under the storage cap. The only
// cleanup is a retention sweep: entries inside the retention window are
// never sacrificed for space. If the sweep cannot get under the cap the
// write is refused and the stored data stays intact.
func (l *Ledger) ensureCapacity() error {
	usage, err := l.repo.Usage()
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to read storage usage", err)
	}
	if usage <= l.opts.MaxStorageBytes {
		return nil
	}

	l.logger.Warn("Storage cap exceeded, running retention sweep", map[string]interface{}{
		"usage": usage,
		"cap":   l.opts.MaxStorageBytes,
	})
	if _, err := l.EnforceRetention(); err != nil {
		return err
	}

	usage, err = l.repo.Usage()
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to read storage usage", err)
	}
	if usage <= l.opts.MaxStorageBytes {
		return nil
	}
	return apperrors.New(apperrors.ErrQuotaExceeded,
		fmt.Sprintf("storage cap %d bytes exceeded after retention sweep", l.opts.MaxStorageBytes))
}

func (l *Ledger) enqueueUpload(log *models.TimeLog) error {
	if l.docs == nil {
		return nil
	}
	payload, err := json.Marshal(log)
	if err != nil {
		return err
	}
	return l.queue.Enqueue(string(log.ID), logCollection, payload)
}
