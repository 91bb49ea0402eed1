// Package conflict decides whether a remote document version may replace
// local state. The strategy is last write wins on server timestamps,
// with guards against echoes of our own writes and against remote data
// stampeding over a mutation the user just made on this device.
package conflict

import (
	"sync"
	"time"

	"github.com/osadchyi/focuscore/internal/logging"
)

// Reason explains a resolution decision.
type Reason string

const (
	ReasonNoLocal       Reason = "no_local_version"
	ReasonNoRemoteStamp Reason = "remote_missing_timestamp"
	ReasonOwnEcho       Reason = "own_device_echo"
	ReasonLockout       Reason = "local_mutation_lockout"
	ReasonRemoteNewer   Reason = "remote_newer"
	ReasonRemoteStale   Reason = "remote_stale"
)

// Decision is the outcome of resolving one remote version.
type Decision struct {
	Apply  bool
	Reason Reason
}

// VersionMeta is the metadata compared during resolution.
type VersionMeta struct {
	UpdatedAt int64  // server timestamp, ms; 0 when absent
	DeviceID  string // device that produced the version
}

// Policy resolves remote versions against local state for one device.
type Policy struct {
	deviceID string
	lockout  time.Duration
	logger   *logging.Logger

	// nowFn is the time source, replaceable in tests.
	nowFn func() time.Time

	mu        sync.Mutex
	mutatedAt map[string]int64 // key -> local ms of last local mutation
}

// NewPolicy creates a Policy for this device. lockout is the window
// after a local mutation during which remote versions are held back so
// in-flight echoes cannot revert what the user just did.
func NewPolicy(deviceID string, lockout time.Duration, logger *logging.Logger) *Policy {
	return &Policy{
		deviceID:  deviceID,
		lockout:   lockout,
		logger:    logger,
		nowFn:     time.Now,
		mutatedAt: make(map[string]int64),
	}
}

// MarkLocalMutation records that the user changed key locally right now.
func (p *Policy) MarkLocalMutation(key string) {
	p.mu.Lock()
	p.mutatedAt[key] = p.nowFn().UnixMilli()
	p.mu.Unlock()
}

// ShouldApply decides whether the remote version of key replaces local.
//
// Rules, in order:
//  1. No local version: remote always applies.
//  2. Remote without a server timestamp never applies; an unstamped
//     write is still in flight and will come back stamped.
//  3. A version written by this device is an echo, never applied.
//  4. Inside the lockout window after a local mutation, remote is
//     held back regardless of its timestamp.
//  5. Otherwise the strictly newer server timestamp wins; ties keep
//     local.
func (p *Policy) ShouldApply(key string, local, remote VersionMeta) Decision {
	if local.UpdatedAt == 0 && local.DeviceID == "" {
		return Decision{Apply: true, Reason: ReasonNoLocal}
	}

	if remote.UpdatedAt == 0 {
		return Decision{Apply: false, Reason: ReasonNoRemoteStamp}
	}

	if remote.DeviceID != "" && remote.DeviceID == p.deviceID {
		return Decision{Apply: false, Reason: ReasonOwnEcho}
	}

	p.mu.Lock()
	mutatedAt, mutated := p.mutatedAt[key]
	p.mu.Unlock()
	if mutated && p.nowFn().UnixMilli()-mutatedAt < p.lockout.Milliseconds() {
		p.logger.Debug("Remote version held back by mutation lockout", map[string]interface{}{
			"key":              key,
			"remote_device_id": remote.DeviceID,
		})
		return Decision{Apply: false, Reason: ReasonLockout}
	}

	if remote.UpdatedAt > local.UpdatedAt {
		return Decision{Apply: true, Reason: ReasonRemoteNewer}
	}
	return Decision{Apply: false, Reason: ReasonRemoteStale}
}

// DeviceID returns the device identity this policy resolves for.
func (p *Policy) DeviceID() string {
	return p.deviceID
}
