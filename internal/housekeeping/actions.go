// Package housekeeping purges old action rows and evicts stale file cache
// entries on a cron schedule.
package housekeeping

import (
	"context"
	"log/slog"
	"time"

	"github.com/alekspetrov/scenarist/internal/config"
	"github.com/alekspetrov/scenarist/internal/logging"
	"github.com/alekspetrov/scenarist/internal/timeutil"
)

// Vacuumer reclaims database space.
type Vacuumer interface {
	Vacuum(ctx context.Context) error
}

// ActionPurger deletes old action rows.
type ActionPurger interface {
	CleanupOldActions(ctx context.Context, cutoff time.Time, batchSize int) (int64, error)
}

// StatePurger deletes expired user states.
type StatePurger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// ActionReport summarizes one ActionCleaner run.
type ActionReport struct {
	Deleted       int64
	StatesExpired int64
	Vacuumed      bool
}

// ActionCleaner deletes action rows older than the retention window.
type ActionCleaner struct {
	cfg     config.ActionCleanerConfig
	actions ActionPurger
	states  StatePurger
	db      Vacuumer
	clock   timeutil.Clock
	log     *slog.Logger
}

// NewActionCleaner creates an ActionCleaner. states may be nil.
func NewActionCleaner(cfg config.ActionCleanerConfig, actions ActionPurger, states StatePurger, db Vacuumer, clock timeutil.Clock) *ActionCleaner {
	return &ActionCleaner{
		cfg:     cfg,
		actions: actions,
		states:  states,
		db:      db,
		clock:   clock,
		log:     logging.WithComponent("action-cleaner"),
	}
}

// Run performs one purge.
func (c *ActionCleaner) Run(ctx context.Context) (ActionReport, error) {
	var rep ActionReport
	cutoff := c.clock.Now().Add(-time.Duration(c.cfg.OlderThanHours) * time.Hour)

	n, err := c.actions.CleanupOldActions(ctx, cutoff, c.cfg.BatchSize)
	rep.Deleted = n
	if err != nil {
		return rep, err
	}
	if c.states != nil {
		if rep.StatesExpired, err = c.states.PurgeExpired(ctx); err != nil {
			c.log.Warn("Failed to purge expired user states", slog.Any("error", err))
		}
	}

	if c.cfg.ThresholdForVacuum > 0 && n >= int64(c.cfg.ThresholdForVacuum) && c.db != nil {
		if err := c.db.Vacuum(ctx); err != nil {
			return rep, err
		}
		rep.Vacuumed = true
	}

	c.log.Info("Action queue cleaned",
		slog.Int64("deleted", rep.Deleted),
		slog.Int64("states_expired", rep.StatesExpired),
		slog.Bool("vacuumed", rep.Vacuumed),
		slog.Time("cutoff", cutoff),
	)
	return rep, nil
}

// Job wraps the cleaner for the Scheduler.
func (c *ActionCleaner) Job() Job {
	return Job{Name: "action-cleaner", Schedule: c.cfg.Schedule, Run: func(ctx context.Context) error {
		_, err := c.Run(ctx)
		return err
	}}
}
