// Package scheduler runs the relay's daily background jobs, currently the
// race archive retention sweep.
package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/slopcrew-project/slopcrew/internal/config"
	"github.com/slopcrew-project/slopcrew/internal/util"
)

// Pruner deletes archived races that ended before cutoff.
type Pruner interface {
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
}

// Scheduler manages periodic background tasks.
type Scheduler struct {
	hour, minute int
	retention    time.Duration
	archive      Pruner
	now          func() time.Time
	logger       zerolog.Logger
}

// NewScheduler creates a scheduler that prunes archive daily at the
// configured time.
func NewScheduler(cfg *config.Config, archive Pruner) *Scheduler {
	dbCfg := cfg.GetDatabase()
	hour, minute, ok := config.ParseClock(dbCfg.PruneTime)
	if !ok {
		hour, minute = 4, 0 // Default: 4:00 AM
	}
	return &Scheduler{
		hour:      hour,
		minute:    minute,
		retention: time.Duration(dbCfg.RetentionDays) * 24 * time.Hour,
		archive:   archive,
		now:       time.Now,
		logger:    util.ComponentLogger("scheduler"),
	}
}

// Start runs the jobs until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	if s.archive == nil || s.retention <= 0 {
		s.logger.Info().Msg("race archive pruning disabled")
		<-ctx.Done()
		return
	}

	s.logger.Info().Dur("retention", s.retention).Msg("scheduler started")
	for {
		next := s.nextRun(s.now())
		s.logger.Debug().Time("next_run", next).Msg("archive prune scheduled")

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info().Msg("scheduler stopped")
			return
		case <-timer.C:
			s.RunPrune(ctx)
		}
	}
}

// RunPrune deletes races older than the retention period.
func (s *Scheduler) RunPrune(ctx context.Context) {
	cutoff := s.now().Add(-s.retention)
	n, err := s.archive.Prune(ctx, cutoff)
	if err != nil {
		s.logger.Warn().Err(err).Msg("archive prune failed")
		return
	}
	s.logger.Info().
		Int64("deleted_races", n).
		Time("cutoff", cutoff).
		Msg("archive prune completed")
}

// nextRun returns the first configured time of day strictly after now.
func (s *Scheduler) nextRun(now time.Time) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), s.hour, s.minute, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
