// Package scheduler runs periodic maintenance of the match history: old
// matches are pruned once a day at the configured time.
package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/jrtknauer/pycraft2/internal/config"
	"github.com/jrtknauer/pycraft2/internal/util"
)

// HistoryStore is the part of the match store the scheduler maintains.
type HistoryStore interface {
	PruneBefore(ctx context.Context, cutoff time.Time) (int64, error)
	Count(ctx context.Context) (int, error)
}

// Scheduler manages periodic background tasks.
type Scheduler struct {
	cfg    config.DatabaseConfig
	store  HistoryStore
	now    func() time.Time
	logger zerolog.Logger
}

// NewScheduler creates a scheduler maintaining store.
func NewScheduler(cfg config.DatabaseConfig, store HistoryStore) *Scheduler {
	return &Scheduler{
		cfg:    cfg,
		store:  store,
		now:    time.Now,
		logger: util.ComponentLogger("scheduler"),
	}
}

// Start prunes once immediately, then daily at the cleanup time, until ctx
// is cancelled. A retention of 0 days disables pruning.
func (s *Scheduler) Start(ctx context.Context) {
	if s.cfg.RetentionDays <= 0 {
		s.logger.Debug().Msg("history retention disabled")
		return
	}
	s.logger.Info().Int("retention_days", s.cfg.RetentionDays).Msg("scheduler started")

	s.PruneHistory(ctx)

	for {
		nextRun := s.nextCleanupTime(s.now())
		sleepDuration := nextRun.Sub(s.now())
		if sleepDuration <= 0 {
			sleepDuration = 24 * time.Hour
		}

		s.logger.Debug().
			Time("next_run", nextRun).
			Dur("sleep", sleepDuration).
			Msg("history cleanup scheduled")

		select {
		case <-ctx.Done():
			s.logger.Info().Msg("scheduler stopped")
			return
		case <-time.After(sleepDuration):
			s.PruneHistory(ctx)
		}
	}
}

// PruneHistory removes matches older than the retention period and returns
// how many were removed.
func (s *Scheduler) PruneHistory(ctx context.Context) int64 {
	cutoff := s.now().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour)

	removed, err := s.store.PruneBefore(ctx, cutoff)
	if err != nil {
		s.logger.Warn().Err(err).Msg("history cleanup failed")
		return 0
	}

	event := s.logger.Info().
		Int64("removed", removed).
		Time("cutoff", cutoff)
	if remaining, err := s.store.Count(ctx); err == nil {
		event = event.Int("remaining", remaining)
	}
	event.Msg("history cleanup completed")
	return removed
}

// nextCleanupTime returns the first cleanup time strictly after now.
func (s *Scheduler) nextCleanupTime(now time.Time) time.Time {
	parts := strings.Split(s.cfg.CleanupTime, ":")

	hour, minute := 4, 0 // Default: 4:00 AM
	if len(parts) >= 2 {
		fmt.Sscanf(parts[0], "%d", &hour)
		fmt.Sscanf(parts[1], "%d", &minute)
	}

	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !next.After(now) {
		next = next.Add(24 * time.Hour)
	}
	return next
}
