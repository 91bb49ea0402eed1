// Package clock provides a trusted clock that corrects the local system
// time with an offset measured against the cloud backend. All timestamps
// written to the ledger come from this clock so that logs from devices
// with skewed system clocks still order correctly.
package clock

import (
	"context"
	"sync"
	"time"

	apperrors "github.com/osadchyi/focuscore/internal/errors"
	"github.com/osadchyi/focuscore/internal/logging"
	"github.com/osadchyi/focuscore/internal/netstate"
	"github.com/osadchyi/focuscore/internal/remote"
)

// Options bound the offset correction.
type Options struct {
	// MaxOffset is the largest credible offset. Probe results beyond
	// it are rejected as measurement garbage.
	MaxOffset time.Duration

	// JitterThreshold suppresses small offset fluctuations between
	// probes so timestamps stay stable.
	JitterThreshold time.Duration

	// ProbeRetryCount is how many extra probe attempts Initialize
	// makes after the first failure.
	ProbeRetryCount int

	// ProbeRetryBaseDelay is the first retry delay; subsequent retries
	// double it.
	ProbeRetryBaseDelay time.Duration

	// HeartbeatStale is how old the last successful sync may get
	// before the heartbeat re-probes when the app becomes active.
	HeartbeatStale time.Duration
}

// DefaultOptions returns the production bounds.
func DefaultOptions() Options {
	return Options{
		MaxOffset:           time.Hour,
		JitterThreshold:     500 * time.Millisecond,
		ProbeRetryCount:     2,
		ProbeRetryBaseDelay: time.Second,
		HeartbeatStale:      time.Hour,
	}
}

// OffsetListener is notified when the applied offset changes.
type OffsetListener func(offsetMs int64)

// TrustedClock measures and applies a server time offset on top of the
// local monotonic-ish wall clock. Safe for concurrent use.
type TrustedClock struct {
	store  remote.DocumentStore
	opts   Options
	logger *logging.Logger

	// nowFn is the local time source, replaceable in tests.
	nowFn func() time.Time
	// sleepFn backs retry delays, replaceable in tests.
	sleepFn func(time.Duration)

	mu          sync.RWMutex
	offsetMs    int64
	initialized bool
	lastSyncMs  int64 // local ms of last successful probe
	nextListen  int
	listeners   map[int]OffsetListener
}

// New creates a TrustedClock. store may be nil for guest mode, where the
// clock runs on local time with zero offset.
func New(store remote.DocumentStore, opts Options, logger *logging.Logger) *TrustedClock {
	return &TrustedClock{
		store:     store,
		opts:      opts,
		logger:    logger,
		nowFn:     time.Now,
		sleepFn:   time.Sleep,
		listeners: make(map[int]OffsetListener),
	}
}

// Initialize measures the initial offset. Guest mode (no backend) skips
// the probe. Probe failures are retried with exponential backoff; if
// every attempt fails the clock degrades to local time instead of
// blocking the app, and the heartbeat keeps trying later.
func (c *TrustedClock) Initialize(ctx context.Context) error {
	if c.store == nil {
		c.mu.Lock()
		c.offsetMs = 0
		c.initialized = true
		c.mu.Unlock()
		c.logger.Info("Trusted clock running in guest mode", map[string]interface{}{
			"offset_ms": 0,
		})
		return nil
	}

	var lastErr error
	delay := c.opts.ProbeRetryBaseDelay
	for attempt := 0; attempt <= c.opts.ProbeRetryCount; attempt++ {
		if attempt > 0 {
			c.sleepFn(delay)
			delay *= 2
		}
		offsetMs, err := c.probe(ctx)
		if err != nil {
			lastErr = err
			c.logger.Warn("Clock probe attempt failed", map[string]interface{}{
				"attempt": attempt + 1,
				"error":   err.Error(),
			})
			continue
		}
		c.mu.Lock()
		c.initialized = true
		c.mu.Unlock()
		c.applyOffset(offsetMs, true)
		return nil
	}

	// Degrade gracefully: local time is better than no time.
	c.mu.Lock()
	c.offsetMs = 0
	c.initialized = true
	c.mu.Unlock()
	c.logger.ErrorWithCode("Clock initialization degraded to local time",
		string(apperrors.ErrProbeFailed), lastErr)
	return nil
}

// probe measures offset as serverTime + RTT/2 - localAtRead. The RTT/2
// term compensates for the time the response spent in flight.
func (c *TrustedClock) probe(ctx context.Context) (int64, error) {
	before := c.nowFn()
	serverMs, err := c.store.Probe(ctx)
	if err != nil {
		return 0, err
	}
	after := c.nowFn()

	rttMs := after.Sub(before).Milliseconds()
	localAtReadMs := after.UnixMilli()
	return serverMs + rttMs/2 - localAtReadMs, nil
}

// UpdateOffset validates and applies a freshly measured offset.
// Offsets beyond MaxOffset are rejected; changes smaller than
// JitterThreshold are ignored to keep timestamps stable.
func (c *TrustedClock) UpdateOffset(offsetMs int64) error {
	maxMs := c.opts.MaxOffset.Milliseconds()
	if offsetMs > maxMs || offsetMs < -maxMs {
		c.logger.Warn("Rejected implausible clock offset", map[string]interface{}{
			"offset_ms": offsetMs,
			"max_ms":    maxMs,
		})
		return apperrors.New(apperrors.ErrOffsetRejected, "clock offset exceeds maximum bound")
	}
	c.applyOffset(offsetMs, false)
	return nil
}

func (c *TrustedClock) applyOffset(offsetMs int64, force bool) {
	c.mu.Lock()
	jitterMs := c.opts.JitterThreshold.Milliseconds()
	delta := offsetMs - c.offsetMs
	if delta < 0 {
		delta = -delta
	}
	c.lastSyncMs = c.nowFn().UnixMilli()
	if !force && delta < jitterMs {
		c.mu.Unlock()
		return
	}
	c.offsetMs = offsetMs
	listeners := make([]OffsetListener, 0, len(c.listeners))
	for _, l := range c.listeners {
		listeners = append(listeners, l)
	}
	c.mu.Unlock()

	c.logger.Info("Clock offset updated", map[string]interface{}{
		"offset_ms": offsetMs,
	})
	for _, l := range listeners {
		l(offsetMs)
	}
}

// Now returns the corrected current time.
func (c *TrustedClock) Now() time.Time {
	c.mu.RLock()
	offsetMs := c.offsetMs
	c.mu.RUnlock()
	return c.nowFn().Add(time.Duration(offsetMs) * time.Millisecond)
}

// NowMs returns the corrected current time in unix ms.
func (c *TrustedClock) NowMs() int64 {
	return c.Now().UnixMilli()
}

// ISO returns the corrected time formatted as ISO 8601 with millisecond
// precision and the local timezone offset. Keeping the zone in the
// string preserves the user's wall-clock context for day boundaries.
func (c *TrustedClock) ISO() string {
	return c.Now().Format("2006-01-02T15:04:05.000-07:00")
}

// Offset returns the currently applied offset in ms.
func (c *TrustedClock) Offset() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.offsetMs
}

// Initialized reports whether Initialize has completed.
func (c *TrustedClock) Initialized() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.initialized
}

// Subscribe registers an offset listener. Returns an unsubscribe func.
func (c *TrustedClock) Subscribe(listener OffsetListener) func() {
	c.mu.Lock()
	id := c.nextListen
	c.nextListen++
	c.listeners[id] = listener
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

// Reset clears the offset and initialization state. Used on sign-out.
func (c *TrustedClock) Reset() {
	c.mu.Lock()
	c.offsetMs = 0
	c.initialized = false
	c.lastSyncMs = 0
	c.mu.Unlock()
}

// RunHeartbeat re-probes periodically while the app is online and
// visible, and immediately on becoming active when the last sync is
// stale. Blocks until ctx is cancelled; run it in its own goroutine.
func (c *TrustedClock) RunHeartbeat(ctx context.Context, monitor *netstate.Monitor, interval time.Duration) {
	if c.store == nil {
		return
	}

	active := make(chan bool, 8)
	unsubscribe := monitor.Subscribe(func(state netstate.State) {
		select {
		case active <- state.IsActive:
		default:
		}
	})
	defer unsubscribe()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	isActive := monitor.State().IsActive
	for {
		select {
		case <-ctx.Done():
			return
		case isActive = <-active:
			if isActive && c.staleSync() {
				c.reprobe(ctx)
			}
		case <-ticker.C:
			if isActive {
				c.reprobe(ctx)
			}
		}
	}
}

func (c *TrustedClock) staleSync() bool {
	c.mu.RLock()
	lastSyncMs := c.lastSyncMs
	c.mu.RUnlock()
	if lastSyncMs == 0 {
		return true
	}
	return c.nowFn().UnixMilli()-lastSyncMs > c.opts.HeartbeatStale.Milliseconds()
}

func (c *TrustedClock) reprobe(ctx context.Context) {
	offsetMs, err := c.probe(ctx)
	if err != nil {
		c.logger.Debug("Heartbeat probe failed", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}
	if err := c.UpdateOffset(offsetMs); err != nil {
		c.logger.Debug("Heartbeat offset rejected", map[string]interface{}{
			"error": err.Error(),
		})
	}
}
