package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/osadchyi/focuscore/internal/logging"
	"github.com/osadchyi/focuscore/internal/netstate"
	"github.com/osadchyi/focuscore/internal/remote"
)

// flushBatchSize is how many queued writes one flush round uploads.
const flushBatchSize = 20

// Flusher periodically drains the pending-write queue and runs the
// retention sweep. It pauses while the device is offline and flushes
// immediately when connectivity returns.
type Flusher struct {
	ledger   *Ledger
	docs     remote.DocumentStore
	monitor  *netstate.Monitor
	interval time.Duration
	logger   *logging.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewFlusher creates a Flusher. docs may be nil in guest mode; the
// flusher then only runs the retention sweep.
func NewFlusher(ledger *Ledger, docs remote.DocumentStore, monitor *netstate.Monitor, interval time.Duration, logger *logging.Logger) *Flusher {
	return &Flusher{
		ledger:   ledger,
		docs:     docs,
		monitor:  monitor,
		interval: interval,
		logger:   logger,
	}
}

// Start launches the flush loop. Safe to call once; subsequent calls
// are no-ops until Stop.
func (f *Flusher) Start() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.running {
		return
	}
	f.running = true
	f.stopCh = make(chan struct{})

	f.wg.Add(1)
	go f.loop()

	f.logger.Info("Ledger flusher started", map[string]interface{}{
		"interval": f.interval.String(),
	})
}

// Stop halts the flush loop and waits for the current round to finish.
func (f *Flusher) Stop() {
	f.mu.Lock()
	if !f.running {
		f.mu.Unlock()
		return
	}
	f.running = false
	close(f.stopCh)
	f.mu.Unlock()

	f.wg.Wait()
	f.logger.Info("Ledger flusher stopped", nil)
}

func (f *Flusher) loop() {
	defer f.wg.Done()

	online := make(chan bool, 8)
	unsubscribe := f.monitor.Subscribe(func(state netstate.State) {
		select {
		case online <- state.IsOnline:
		default:
		}
	})
	defer unsubscribe()

	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	isOnline := f.monitor.IsOnline()
	for {
		select {
		case <-f.stopCh:
			return
		case nowOnline := <-online:
			// Flush as soon as connectivity comes back
			if nowOnline && !isOnline {
				f.FlushOnce()
			}
			isOnline = nowOnline
		case <-ticker.C:
			if _, err := f.ledger.EnforceRetention(); err != nil {
				f.logger.Error("Retention sweep failed", err, nil)
			}
			if isOnline {
				f.FlushOnce()
			}
		}
	}
}

// FlushOnce drains one batch of the queue. Exposed so callers can force
// a flush on demand (sign-out, shutdown).
func (f *Flusher) FlushOnce() {
	if f.docs == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	flushed, err := f.ledger.Queue().Drain(ctx, f.docs, flushBatchSize)
	if err != nil {
		f.logger.Warn("Queue drain failed", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}
	if flushed > 0 {
		f.logger.Debug("Flushed queued writes", map[string]interface{}{
			"count": flushed,
		})
	}
}
