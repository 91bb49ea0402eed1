package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/osadchyi/focuscore/internal/config"
	"github.com/osadchyi/focuscore/internal/store"
)

func statusCmd() *cobra.Command {
	var dataDir string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Inspect the local focuscore database",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if dataDir != "" {
				cfg.DataDir = dataDir
			}
			return runStatus(cmd, cfg)
		},
	}

	cmd.Flags().StringVar(&dataDir, "data-dir", "", "override data directory")

	return cmd
}

func runStatus(cmd *cobra.Command, cfg *config.Config) error {
	db, err := store.Open(cfg.DataDir)
	if err != nil {
		return err
	}
	defer db.Close()
	repo := store.NewRepository(db)
	defer repo.Close()

	deviceID, err := repo.GetMeta("device_id")
	if err != nil {
		return err
	}
	logs, err := repo.CountTimeLogs()
	if err != nil {
		return err
	}
	queued, err := repo.CountPendingWrites()
	if err != nil {
		return err
	}
	usage, err := repo.Usage()
	if err != nil {
		return err
	}
	active, err := repo.GetActiveSession()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "device:        %s\n", deviceID)
	fmt.Fprintf(out, "time logs:     %d\n", logs)
	fmt.Fprintf(out, "queued writes: %d\n", queued)
	fmt.Fprintf(out, "storage:       %d bytes\n", usage)
	if active != nil {
		fmt.Fprintf(out, "session:       %s on task %s (%s)\n", active.Status, active.TaskID, active.Config.Mode)
	} else {
		fmt.Fprintln(out, "session:       idle")
	}
	return nil
}
