package ledger

import (
	apperrors "github.com/osadchyi/focuscore/internal/errors"
	"github.com/osadchyi/focuscore/internal/models"
	"github.com/osadchyi/focuscore/internal/uuid"
)

// metaMigrationDone gates the legacy counter migration to exactly one
// run per device.
const metaMigrationDone = "legacy_counter_migration_done"

// MigrateLegacyCounters converts the old per-task saved-time counters
// into migration log entries. For each task whose counter exceeds the
// time already covered by logs, one delta entry is written so historic
// totals survive the move to the append-only ledger. Runs once; the
// completion flag is persisted before any partial rerun could double
// count.
func (l *Ledger) MigrateLegacyCounters(tasks []*models.Task) (int, error) {
	done, err := l.repo.GetMeta(metaMigrationDone)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrMigration, "failed to read migration flag", err)
	}
	if done == "true" {
		return 0, nil
	}

	migrated := 0
	for _, task := range tasks {
		if task.SavedTime <= 0 {
			continue
		}

		logged, err := l.repo.SumDurationByTask(string(task.ID))
		if err != nil {
			return migrated, apperrors.Wrap(apperrors.ErrMigration, "failed to sum task logs", err)
		}

		delta := task.SavedTime - logged
		if delta <= 0 {
			// Logs already cover the counter, nothing to carry over
			continue
		}

		entry := &models.TimeLog{
			ID:        models.UUID(uuid.New()),
			TaskID:    task.ID,
			StartTime: l.clock.ISO(),
			StartUnix: l.clock.NowMs(),
			Duration:  delta,
			Type:      models.LogTypeMigration,
			Note:      "carried over from legacy counter",
		}
		if err := l.SaveLog(entry); err != nil {
			return migrated, apperrors.Wrap(apperrors.ErrMigration, "failed to write migration entry", err)
		}
		migrated++

		l.logger.Info("Migrated legacy counter", map[string]interface{}{
			"task_id": string(task.ID),
			"delta":   delta,
		})
	}

	if err := l.repo.SetMeta(metaMigrationDone, "true"); err != nil {
		return migrated, apperrors.Wrap(apperrors.ErrMigration, "failed to persist migration flag", err)
	}
	return migrated, nil
}
