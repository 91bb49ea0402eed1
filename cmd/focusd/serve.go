package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/osadchyi/focuscore/internal/config"
	"github.com/osadchyi/focuscore/internal/logging"
	"github.com/osadchyi/focuscore/internal/models"
	"github.com/osadchyi/focuscore/internal/remote"
	"github.com/osadchyi/focuscore/internal/session"
)

func serveCmd() *cobra.Command {
	var dataDir string
	var listenAddr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the focuscore daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if dataDir != "" {
				cfg.DataDir = dataDir
			}
			if listenAddr != "" {
				cfg.ListenAddr = listenAddr
			}
			return runServe(cfg)
		},
	}

	cmd.Flags().StringVar(&dataDir, "data-dir", "", "override data directory")
	cmd.Flags().StringVar(&listenAddr, "listen", "", "override listen address")

	return cmd
}

// migrateLegacyCounters reconciles pre-ledger flat counters on startup.
// The gate is persisted, so every start after the first skips straight
// through. Failure is logged, not fatal: the daemon still serves with
// unreconciled totals.
func migrateLegacyCounters(app *App, logger *logging.Logger) {
	if migrated, err := app.Ledger.MigrateLegacyCounters(app.Tasks.List()); err != nil {
		logger.Warn("Legacy counter migration failed", map[string]interface{}{
			"error": err.Error(),
		})
	} else if migrated > 0 {
		logger.Info("Migrated legacy task counters", map[string]interface{}{
			"count": migrated,
		})
	}
}

func runServe(cfg *config.Config) error {
	logger := logging.New(os.Stdout, logging.LevelInfo)

	app, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	logger.Info("focuscore starting", map[string]interface{}{
		"device_id": app.DeviceID,
		"data_dir":  cfg.DataDir,
		"remote":    cfg.RemoteURL != "",
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Clock first: everything downstream stamps with trusted time.
	// Initialize degrades to local time rather than failing.
	if err := app.Clock.Initialize(ctx); err != nil {
		return err
	}

	if err := app.Engine.Restore(); err != nil {
		return err
	}

	migrateLegacyCounters(app, logger)

	hub := NewWSHub(logger)

	// Read-model push surface: every engine change and tick reaches
	// connected UI clients, and the task cache mirrors the running flag.
	unsubEngine := app.Engine.Subscribe(func(snap session.Snapshot) {
		if snap.Active != nil {
			app.Tasks.SetRunning(string(snap.Active.TaskID), !snap.IsPaused)
		}
		hub.BroadcastSessionState(snap)
	})
	defer unsubEngine()

	// Ledger changes refresh cached task totals and notify clients.
	unsubLedger := app.Ledger.Subscribe(func(logs []*models.TimeLog) {
		app.Tasks.RefreshTotals(logs)
		hub.BroadcastLedgerUpdated(len(logs))
	})
	defer unsubLedger()

	// Offset changes are pushed so UI countdowns can re-anchor.
	unsubClock := app.Clock.Subscribe(func(offsetMs int64) {
		hub.BroadcastClockOffset(offsetMs)
	})
	defer unsubClock()

	if app.Docs != nil {
		unsubLogs := app.Docs.Subscribe("timeLogs", func(collection string, doc remote.Document) {
			if _, err := app.Ledger.MergeRemote([]remote.Document{doc}); err != nil {
				logger.Warn("Remote log merge failed", map[string]interface{}{
					"error": err.Error(),
				})
			}
		})
		defer unsubLogs()

		unsubTasks := app.Docs.Subscribe("tasks", func(collection string, doc remote.Document) {
			app.Tasks.ApplyRemote(doc)
		})
		defer unsubTasks()

		go app.Clock.RunHeartbeat(ctx, app.Monitor, cfg.HeartbeatStale/2)

		// Replay window on startup fills gaps from other devices
		if _, err := app.Ledger.PullRemote(ctx); err != nil {
			logger.Warn("Initial remote pull failed", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}

	app.Engine.Start()
	defer app.Engine.Stop()
	app.Flusher.Start()
	defer app.Flusher.Stop()

	mux := http.NewServeMux()
	registerHandlers(mux, app, hub)

	server := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Listening", map[string]interface{}{
			"addr": cfg.ListenAddr,
		})
		errCh <- server.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		logger.Info("Shutting down", map[string]interface{}{
			"signal": sig.String(),
		})
	}

	// Final flush gives queued writes one last chance before exit
	app.Flusher.FlushOnce()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	return server.Shutdown(shutdownCtx)
}
