// Package scheduler triggers sync runs of the default source on a cron schedule.
package scheduler

import (
	"context"
	"errors"
	"fmt"

	"github.com/robfig/cron"
	"go.uber.org/zap"

	"ledgerSync/internal/lock"
	"ledgerSync/internal/model"
	"ledgerSync/internal/syncer"
)

// Scheduler runs the default engine on every cron tick.
// Ticks that find a run already active are skipped.
type Scheduler struct {
	spec    string
	manager *syncer.Manager
	locker  lock.Locker
	logger  *zap.Logger
}

// New validates spec (six fields, seconds first, or a descriptor such as @every 30s).
func New(spec string, manager *syncer.Manager, locker lock.Locker, logger *zap.Logger) (*Scheduler, error) {
	if _, err := cron.Parse(spec); err != nil {
		return nil, fmt.Errorf("%w: invalid schedule %q: %v", syncer.ErrConfig, spec, err)
	}
	if manager == nil {
		return nil, errors.New("manager is nil")
	}
	if locker == nil {
		locker = lock.NewLocal()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{spec: spec, manager: manager, locker: locker, logger: logger.With(zap.String("schedule", spec))}, nil
}

// Run starts the cron loop and blocks until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	c := cron.New()
	if err := c.AddFunc(s.spec, func() { s.Tick(ctx) }); err != nil {
		return fmt.Errorf("schedule sync: %w", err)
	}
	c.Start()
	s.logger.Info("scheduler started")

	<-ctx.Done()
	c.Stop()
	s.logger.Info("scheduler stopped")
	return nil
}

// Tick performs one scheduled run and logs its outcome.
func (s *Scheduler) Tick(ctx context.Context) (model.SyncCursor, error) {
	engine, err := s.manager.Default()
	if err != nil {
		s.logger.Error("scheduled sync failed", zap.Error(err))
		return model.SyncCursor{}, err
	}

	var cursor model.SyncCursor
	err = lock.Do(ctx, s.locker, lock.SyncKey(engine.Source()), func(ctx context.Context) error {
		var runErr error
		cursor, runErr = engine.RunSync(ctx)
		return runErr
	})
	switch {
	case errors.Is(err, lock.ErrBusy):
		s.logger.Info("scheduled sync skipped, run in progress", zap.String("source", engine.Source().String()))
	case err != nil:
		s.logger.Error("scheduled sync failed",
			zap.String("source", engine.Source().String()),
			zap.Uint64("last_processed", cursor.LastProcessedBlock),
			zap.Error(err),
		)
	default:
		s.logger.Info("scheduled sync complete",
			zap.String("source", engine.Source().String()),
			zap.Uint64("last_processed", cursor.LastProcessedBlock),
			zap.String("status", string(cursor.Status)),
			zap.Uint64("total_events", cursor.TotalEventsProcessed),
		)
	}
	return cursor, err
}
