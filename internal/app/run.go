package app

import (
	"context"
	"errors"

	"github.com/robfig/cron/v3"

	"contact-sync/internal/common/logging"
	"contact-sync/internal/locks"
)

// Run executes an immediate pull pass, then keeps pulling on the
// configured schedule until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	a.runPull(ctx)

	scheduler := cron.New()
	_, err := scheduler.AddFunc(a.cfg.SyncSchedule, func() {
		a.runPull(ctx)
	})
	if err != nil {
		return err
	}
	scheduler.Start()
	a.logger.Info("sync scheduler started",
		logging.String("schedule", a.cfg.SyncSchedule))

	<-ctx.Done()
	stopped := scheduler.Stop()
	// Let an in-flight pass finish its current batch boundary.
	<-stopped.Done()
	return nil
}

// runPull runs one pull pass under the connection's sync lock. If
// another instance holds the lock the pass is skipped, not queued.
func (a *App) runPull(ctx context.Context) {
	lock, err := a.lockManager.Acquire(ctx, "sync:"+a.connection.ID, a.cfg.SyncLockTTL)
	if err != nil {
		if errors.Is(err, locks.ErrNotAcquired) {
			a.logger.Info("sync already running elsewhere, skipping pass",
				logging.String("connection", a.connection.ID))
			return
		}
		a.logger.Error("failed to acquire sync lock", err,
			logging.String("connection", a.connection.ID))
		return
	}
	defer func() {
		if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
			a.logger.Warn("failed to release sync lock", logging.Err(err))
		}
	}()

	summary, err := a.puller.Sync(ctx, a.connection)
	if err != nil {
		a.logger.Error("pull pass failed", err,
			logging.String("connection", a.connection.ID),
			logging.Int("persisted", summary.OKCount()))
		return
	}
}

// Push exports local persons back to the server, optionally scoped to
// an explicit identifier list.
func (a *App) Push(ctx context.Context, uids []string) error {
	_, err := a.pusher.Push(ctx, a.connection, uids)
	return err
}
