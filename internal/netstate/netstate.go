// Package netstate provides centralized online/visibility state management.
// The embedding platform reports connectivity and foreground changes here;
// the clock heartbeat and ledger flusher subscribe to pause and resume
// network work.
package netstate

import (
	"sync"

	"github.com/osadchyi/focuscore/internal/logging"
)

// State is a snapshot of network and visibility status.
type State struct {
	IsOnline  bool
	IsVisible bool
	IsActive  bool // Combined: online AND visible
}

// Listener receives state change notifications.
type Listener func(State)

// Monitor tracks online/visibility state and fans out changes.
type Monitor struct {
	mu        sync.Mutex
	isOnline  bool
	isVisible bool
	nextID    int
	listeners map[int]Listener
	logger    *logging.Logger
}

// NewMonitor creates a Monitor that assumes online and visible until told
// otherwise.
func NewMonitor(logger *logging.Logger) *Monitor {
	if logger == nil {
		logger = logging.Get()
	}
	return &Monitor{
		isOnline:  true,
		isVisible: true,
		listeners: make(map[int]Listener),
		logger:    logger,
	}
}

// State returns the current snapshot.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// IsOnline reports whether the device is online.
func (m *Monitor) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.isOnline
}

// IsActive reports whether the device is online and the app is visible.
func (m *Monitor) IsActive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.isOnline && m.isVisible
}

// SetOnline records a connectivity change.
func (m *Monitor) SetOnline(online bool) {
	m.update(&online, nil)
}

// SetVisible records a foreground/background change.
func (m *Monitor) SetVisible(visible bool) {
	m.update(nil, &visible)
}

// Subscribe registers a listener. The listener is immediately invoked with
// the current state so new subscribers never wait for the next transition.
// Returns an unsubscribe function.
func (m *Monitor) Subscribe(fn Listener) func() {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	state := m.snapshotLocked()
	m.mu.Unlock()

	fn(state)

	return func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}
}

func (m *Monitor) snapshotLocked() State {
	return State{
		IsOnline:  m.isOnline,
		IsVisible: m.isVisible,
		IsActive:  m.isOnline && m.isVisible,
	}
}

func (m *Monitor) update(online, visible *bool) {
	m.mu.Lock()

	prevActive := m.isOnline && m.isVisible

	if online != nil {
		m.isOnline = *online
	}
	if visible != nil {
		m.isVisible = *visible
	}

	state := m.snapshotLocked()
	listeners := make([]Listener, 0, len(m.listeners))
	for _, fn := range m.listeners {
		listeners = append(listeners, fn)
	}
	m.mu.Unlock()

	if prevActive != state.IsActive {
		m.logger.Info("Network state changed",
			map[string]interface{}{
				"is_online":  state.IsOnline,
				"is_visible": state.IsVisible,
				"is_active":  state.IsActive,
			})
	}

	for _, fn := range listeners {
		fn(state)
	}
}
