package upload

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

const (
	defaultCleanupSchedule = "@every 10m"
	defaultMaxSessionAge   = 24 * time.Hour
)

// CleanupScheduler periodically reaps abandoned upload sessions
type CleanupScheduler struct {
	reaper   *Reaper
	schedule string
	maxAge   time.Duration
	cron     *cron.Cron
	logger   zerolog.Logger
}

// NewCleanupScheduler creates a new cleanup scheduler
func NewCleanupScheduler(reaper *Reaper, config ReaperConfig, logger zerolog.Logger) *CleanupScheduler {
	schedule := config.Schedule
	if schedule == "" {
		schedule = defaultCleanupSchedule
	}
	maxAge := config.MaxAge
	if maxAge <= 0 {
		maxAge = defaultMaxSessionAge
	}

	return &CleanupScheduler{
		reaper:   reaper,
		schedule: schedule,
		maxAge:   maxAge,
		cron:     cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		logger:   logger,
	}
}

// Start registers the sweep and starts the scheduler
func (cs *CleanupScheduler) Start() error {
	if _, err := cs.cron.AddFunc(cs.schedule, cs.runCleanup); err != nil {
		return fmt.Errorf("invalid cleanup schedule %q: %w", cs.schedule, err)
	}
	cs.cron.Start()

	cs.logger.Info().
		Str("schedule", cs.schedule).
		Dur("maxAge", cs.maxAge).
		Msg("Upload cleanup scheduler started")
	return nil
}

// runCleanup executes the cleanup task
func (cs *CleanupScheduler) runCleanup() {
	cs.logger.Debug().Dur("maxAge", cs.maxAge).Msg("Starting upload cleanup")

	reaped, err := cs.reaper.ReapStale(context.Background(), cs.maxAge)
	if err != nil {
		cs.logger.Error().Err(err).Msg("Failed to clean up stale uploads")
		return
	}

	if reaped > 0 {
		cs.logger.Info().Int("reapedCount", reaped).Msg("Upload cleanup completed")
	}
}

// Stop stops the scheduler and waits for a running sweep to finish
func (cs *CleanupScheduler) Stop() {
	cs.logger.Info().Msg("Stopping upload cleanup scheduler")
	<-cs.cron.Stop().Done()
}

// RunNow executes cleanup immediately
func (cs *CleanupScheduler) RunNow() {
	cs.runCleanup()
}
