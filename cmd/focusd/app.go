package main

import (
	"time"

	"github.com/osadchyi/focuscore/internal/clock"
	"github.com/osadchyi/focuscore/internal/config"
	"github.com/osadchyi/focuscore/internal/conflict"
	"github.com/osadchyi/focuscore/internal/ledger"
	"github.com/osadchyi/focuscore/internal/logging"
	"github.com/osadchyi/focuscore/internal/netstate"
	"github.com/osadchyi/focuscore/internal/remote"
	"github.com/osadchyi/focuscore/internal/session"
	"github.com/osadchyi/focuscore/internal/store"
	"github.com/osadchyi/focuscore/internal/taskcache"
	"github.com/osadchyi/focuscore/internal/uuid"
)

// App wires the core services together. Everything is constructed once
// here and injected; no package-level singletons.
type App struct {
	Config   *config.Config
	Logger   *logging.Logger
	DB       *store.DB
	Repo     *store.Repository
	Docs     remote.DocumentStore // nil in guest mode
	Monitor  *netstate.Monitor
	Clock    *clock.TrustedClock
	Policy   *conflict.Policy
	Ledger   *ledger.Ledger
	Flusher  *ledger.Flusher
	Engine   *session.Engine
	Tasks    *taskcache.Cache
	DeviceID string
}

// newApp builds the full dependency graph from configuration.
func newApp(cfg *config.Config, logger *logging.Logger) (*App, error) {
	db, err := store.Open(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	repo := store.NewRepository(db)

	deviceID, err := loadDeviceID(repo)
	if err != nil {
		db.Close()
		return nil, err
	}

	var docs remote.DocumentStore
	if cfg.RemoteURL != "" {
		docs = remote.NewHTTPClient(&remote.HTTPConfig{
			BaseURL: cfg.RemoteURL,
			Token:   cfg.RemoteToken,
		})
	}

	monitor := netstate.NewMonitor(logger)

	trusted := clock.New(docs, clock.Options{
		MaxOffset:           cfg.MaxOffset,
		JitterThreshold:     cfg.JitterThreshold,
		ProbeRetryCount:     cfg.ProbeRetryCount,
		ProbeRetryBaseDelay: cfg.ProbeRetryBaseDelay,
		HeartbeatStale:      cfg.HeartbeatStale,
	}, logger)

	policy := conflict.NewPolicy(deviceID, cfg.LockoutWindow, logger)

	led := ledger.New(repo, docs, trusted, deviceID, ledger.Options{
		Retention:       cfg.LogRetention,
		MaxStorageBytes: cfg.MaxStorageBytes,
		CloudWindow:     time.Duration(cfg.CloudWindowDays) * 24 * time.Hour,
		QueueMaxRetries: cfg.QueueMaxRetries,
	}, logger)

	flusher := ledger.NewFlusher(led, docs, monitor, cfg.FlushInterval, logger)

	engine := session.NewEngine(repo, led, trusted, session.Options{
		TickInterval:    cfg.TickInterval,
		MinLogDuration:  cfg.MinLogDuration,
		ZombieThreshold: cfg.ZombieThreshold,
		SuspendedTTL:    cfg.SuspendedTTL,
	}, logger)

	tasks := taskcache.New(policy, led, trusted, logger)

	return &App{
		Config:   cfg,
		Logger:   logger,
		DB:       db,
		Repo:     repo,
		Docs:     docs,
		Monitor:  monitor,
		Clock:    trusted,
		Policy:   policy,
		Ledger:   led,
		Flusher:  flusher,
		Engine:   engine,
		Tasks:    tasks,
		DeviceID: deviceID,
	}, nil
}

// Close releases storage resources.
func (a *App) Close() {
	a.Repo.Close()
	a.DB.Close()
}

// loadDeviceID returns the stable device identifier, generating and
// persisting one on first run. Used for conflict echo suppression.
func loadDeviceID(repo *store.Repository) (string, error) {
	id, err := repo.GetMeta("device_id")
	if err != nil {
		return "", err
	}
	if id != "" {
		return id, nil
	}
	id = uuid.New()
	if err := repo.SetMeta("device_id", id); err != nil {
		return "", err
	}
	return id, nil
}
