package intake

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"porecon/internal/util"
)

// runArchivist keeps one cron entry in step with backup_interval. The
// setting is re-read every Recheck; a change replaces the entry, and 0
// removes it. Stopping waits for a backup that is already running.
func (a *App) runArchivist(ctx context.Context) {
	if a.backups == nil {
		return
	}

	cronLog := cron.VerbosePrintfLogger(slog.NewLogLogger(a.logger.Handler(), slog.LevelDebug))
	c := cron.New(
		cron.WithLogger(cronLog),
		cron.WithChain(cron.SkipIfStillRunning(cronLog)),
	)
	c.Start()
	defer func() { <-c.Stop().Done() }()

	var (
		entry   cron.EntryID
		current = -1
	)
	for {
		if hours := a.settings.BackupInterval(); hours != current {
			if entry != 0 {
				c.Remove(entry)
				entry = 0
			}
			if hours > 0 {
				entry = c.Schedule(cron.Every(a.backupEvery(hours)), cron.FuncJob(func() { a.backupCycle(ctx) }))
				a.logger.Info("backup schedule set", "every", util.FormatDurationHours(hours))
			} else {
				a.logger.Info("scheduled backups disabled")
			}
			current = hours
		}
		if !sleepCtx(ctx, a.timings.Recheck) {
			return
		}
	}
}

// backupEvery converts a backup_interval value into a schedule period.
func (a *App) backupEvery(hours int) time.Duration {
	if hours > util.MaxDurationHours {
		hours = util.MaxDurationHours
	}
	return time.Duration(hours) * a.timings.BackupUnit
}

// backupCycle creates an auto bundle and applies retention. Retention runs
// even when the bundle could not be written.
func (a *App) backupCycle(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	path, err := a.backups.Create(ctx, "auto")
	if err != nil {
		a.metrics.Backups.WithLabelValues("error").Inc()
		a.logger.Error("scheduled backup", "error", err)
	} else {
		a.metrics.Backups.WithLabelValues("ok").Inc()
		a.logger.Info("scheduled backup written", "bundle", path)
	}

	removed, err := a.backups.Prune(a.settings.MaxBackups())
	a.metrics.BackupsPruned.Add(float64(removed))
	if err != nil {
		a.logger.Error("prune backups", "removed", removed, "error", err)
	}
}
