package ledger

import (
	"context"
	"encoding/json"

	"github.com/osadchyi/focuscore/internal/logging"
	"github.com/osadchyi/focuscore/internal/models"
	"github.com/osadchyi/focuscore/internal/remote"
	"github.com/osadchyi/focuscore/internal/store"
)

// Queue is the durable pending-write queue. Every locally written log
// gets a queue entry that survives restarts; the flusher drains entries
// while the device is online.
type Queue struct {
	repo       *store.Repository
	maxRetries int
	clock      Clock
	logger     *logging.Logger
}

// NewQueue creates a Queue backed by the pending_writes table.
func NewQueue(repo *store.Repository, maxRetries int, clock Clock, logger *logging.Logger) *Queue {
	return &Queue{
		repo:       repo,
		maxRetries: maxRetries,
		clock:      clock,
		logger:     logger,
	}
}

// parkDelayMs is how far out an exhausted write is rescheduled. Parked
// writes stay queued so delivery remains at least once; they just come
// back on a slow cadence instead of the normal backoff ladder.
const parkDelayMs = int64(24 * 3600 * 1000)

// Enqueue adds or refreshes a pending upload. Re-enqueueing an id
// resets its retry state so the newest payload is what gets uploaded.
func (q *Queue) Enqueue(id, collection string, payload json.RawMessage) error {
	nowMs := q.clock.NowMs()
	return q.repo.EnqueuePendingWrite(&models.PendingWrite{
		ID:         models.UUID(id),
		Collection: collection,
		Payload:    payload,
		MaxRetries: q.maxRetries,
		CreatedAt:  nowMs,
		UpdatedAt:  nowMs,
	})
}

// Depth returns the number of queued writes.
func (q *Queue) Depth() (int64, error) {
	return q.repo.CountPendingWrites()
}

// Drain uploads every due entry once. Failed entries are rescheduled
// with exponential backoff; entries past their retry budget are parked
// far out rather than dropped, so a queued write only ever leaves the
// queue on confirmed remote success. The one exception is a payload
// that cannot be decoded at all, which is dropped with an error log.
// Returns the number of successful uploads.
func (q *Queue) Drain(ctx context.Context, docs remote.DocumentStore, batchSize int) (int, error) {
	nowMs := q.clock.NowMs()
	due, err := q.repo.DuePendingWrites(nowMs, batchSize)
	if err != nil {
		return 0, err
	}

	flushed := 0
	for _, w := range due {
		if ctx.Err() != nil {
			return flushed, ctx.Err()
		}

		var doc interface{}
		if err := json.Unmarshal(w.Payload, &doc); err != nil {
			q.logger.Error("Dropping undecodable queued write", err, map[string]interface{}{
				"write_id": string(w.ID),
			})
			q.repo.CompletePendingWrite(string(w.ID))
			continue
		}

		if err := docs.Write(ctx, w.Collection, string(w.ID), doc); err != nil {
			delayMs := backoffSeconds(w.RetryCount) * 1000
			if w.RetryCount+1 >= w.MaxRetries {
				delayMs = parkDelayMs
				q.logger.ErrorWithCode("Queued write exhausted retries, parking",
					"REMOTE_WRITE", err, map[string]interface{}{
						"write_id": string(w.ID),
						"retries":  w.RetryCount + 1,
						"delay_ms": delayMs,
					})
			}
			nowMs = q.clock.NowMs()
			if ferr := q.repo.FailPendingWrite(string(w.ID), err.Error(), nowMs+delayMs, nowMs); ferr != nil {
				return flushed, ferr
			}
			if w.RetryCount+1 < w.MaxRetries {
				q.logger.Warn("Queued write failed, will retry", map[string]interface{}{
					"write_id": string(w.ID),
					"retry":    w.RetryCount + 1,
					"delay_ms": delayMs,
				})
			}
			continue
		}

		if err := q.repo.CompletePendingWrite(string(w.ID)); err != nil {
			return flushed, err
		}
		flushed++
	}
	return flushed, nil
}

// backoffSeconds computes exponential backoff.
// Formula: 2^retry_count * 60, capped at 3600 seconds (1 hour).
func backoffSeconds(retryCount int) int64 {
	backoff := int64(1) << uint(retryCount)
	backoff = backoff * 60

	maxBackoff := int64(3600)
	if backoff > maxBackoff {
		backoff = maxBackoff
	}

	return backoff
}
