// Package config provides configuration loading for focuscore.
// All timing and storage constants live here so the clock, ledger, and
// session engine stay in agreement about thresholds.
package config

import (
	"time"

	"github.com/spf13/viper"
)

// Config holds every tunable the core consumes. Values come from defaults,
// an optional config file, and FOCUSCORE_* environment variables, in that
// order of increasing precedence.
type Config struct {
	// DataDir is the directory holding the sqlite database.
	DataDir string

	// Clock synchronization
	MaxOffset          time.Duration // Offsets beyond this are rejected as garbage
	JitterThreshold    time.Duration // Minimum drift before the offset updates
	ProbeRetryCount    int           // Probe attempts before degrading to local time
	ProbeRetryBaseDelay time.Duration // Base delay for exponential backoff
	HeartbeatStale     time.Duration // Re-probe if no piggyback observation for this long

	// Session engine
	TickInterval    time.Duration // Countdown re-evaluation cadence
	MinLogDuration  time.Duration // Completed sessions shorter than this are not logged
	ZombieThreshold time.Duration // Restored active sessions older than this are discarded
	SuspendedTTL    time.Duration // Suspended sessions older than this are dropped
	LockoutWindow   time.Duration // Remote updates suppressed after a local mutation

	// Ledger storage
	LogRetention    time.Duration // Entries older than this are prunable
	MaxStorageBytes int64         // Local database byte budget before pruning kicks in
	CloudWindowDays int           // Remote merge window, for read cost control
	QueueMaxRetries int           // Pending-write attempts before marking failed
	FlushInterval   time.Duration // Pending-queue replay cadence

	// Daemon
	ListenAddr string // WebSocket listen address for the read-model push surface
	RemoteURL  string // Remote document store base URL; empty disables sync
	RemoteToken string
}

// setDefaults registers the built-in defaults on a viper instance.
func setDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", ".")

	v.SetDefault("clock.max_offset", "1h")
	v.SetDefault("clock.jitter_threshold", "500ms")
	v.SetDefault("clock.probe_retry_count", 2)
	v.SetDefault("clock.probe_retry_base_delay", "1s")
	v.SetDefault("clock.heartbeat_stale", "1h")

	v.SetDefault("session.tick_interval", "1s")
	v.SetDefault("session.min_log_duration", "5s")
	v.SetDefault("session.zombie_threshold", "24h")
	v.SetDefault("session.suspended_ttl", "168h")
	v.SetDefault("session.lockout_window", "500ms")

	v.SetDefault("ledger.retention", "2160h") // 90 days
	v.SetDefault("ledger.max_storage_bytes", 4*1024*1024)
	v.SetDefault("ledger.cloud_window_days", 30)
	v.SetDefault("ledger.queue_max_retries", 3)
	v.SetDefault("ledger.flush_interval", "1m")

	v.SetDefault("daemon.listen_addr", "localhost:8090")
	v.SetDefault("daemon.remote_url", "")
	v.SetDefault("daemon.remote_token", "")
}

// Load reads configuration from the given file path (optional; empty skips
// the file) and the environment, returning the resolved Config.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("FOCUSCORE")
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	return fromViper(v), nil
}

// Default returns the built-in configuration without touching disk.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	return fromViper(v)
}

func fromViper(v *viper.Viper) *Config {
	return &Config{
		DataDir: v.GetString("data_dir"),

		MaxOffset:           v.GetDuration("clock.max_offset"),
		JitterThreshold:     v.GetDuration("clock.jitter_threshold"),
		ProbeRetryCount:     v.GetInt("clock.probe_retry_count"),
		ProbeRetryBaseDelay: v.GetDuration("clock.probe_retry_base_delay"),
		HeartbeatStale:      v.GetDuration("clock.heartbeat_stale"),

		TickInterval:    v.GetDuration("session.tick_interval"),
		MinLogDuration:  v.GetDuration("session.min_log_duration"),
		ZombieThreshold: v.GetDuration("session.zombie_threshold"),
		SuspendedTTL:    v.GetDuration("session.suspended_ttl"),
		LockoutWindow:   v.GetDuration("session.lockout_window"),

		LogRetention:    v.GetDuration("ledger.retention"),
		MaxStorageBytes: v.GetInt64("ledger.max_storage_bytes"),
		CloudWindowDays: v.GetInt("ledger.cloud_window_days"),
		QueueMaxRetries: v.GetInt("ledger.queue_max_retries"),
		FlushInterval:   v.GetDuration("ledger.flush_interval"),

		ListenAddr:  v.GetString("daemon.listen_addr"),
		RemoteURL:   v.GetString("daemon.remote_url"),
		RemoteToken: v.GetString("daemon.remote_token"),
	}
}
