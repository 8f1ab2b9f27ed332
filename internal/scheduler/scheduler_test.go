package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/slopcrew-project/slopcrew/internal/config"
)

type fakePruner struct {
	cutoffs []time.Time
	err     error
}

func (p *fakePruner) Prune(_ context.Context, cutoff time.Time) (int64, error) {
	p.cutoffs = append(p.cutoffs, cutoff)
	return 3, p.err
}

func newScheduler(t *testing.T, pruneTime string, p Pruner) *Scheduler {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Database.PruneTime = pruneTime
	cfg.Database.RetentionDays = 7
	return NewScheduler(cfg, p)
}

func TestNextRun(t *testing.T) {
	s := newScheduler(t, "04:30", nil)
	loc := time.UTC

	tests := []struct {
		now  time.Time
		want time.Time
	}{
		{time.Date(2026, 10, 14, 1, 0, 0, 0, loc), time.Date(2026, 10, 14, 4, 30, 0, 0, loc)},
		{time.Date(2026, 10, 14, 4, 30, 0, 0, loc), time.Date(2026, 10, 15, 4, 30, 0, 0, loc)},
		{time.Date(2026, 10, 31, 23, 0, 0, 0, loc), time.Date(2026, 11, 1, 4, 30, 0, 0, loc)},
	}
	for _, tt := range tests {
		if got := s.nextRun(tt.now); !got.Equal(tt.want) {
			t.Errorf("nextRun(%v) = %v, want %v", tt.now, got, tt.want)
		}
	}
}

func TestInvalidPruneTimeFallsBack(t *testing.T) {
	s := newScheduler(t, "late", nil)
	if s.hour != 4 || s.minute != 0 {
		t.Errorf("fallback = %02d:%02d", s.hour, s.minute)
	}
}

func TestRunPruneUsesRetention(t *testing.T) {
	p := &fakePruner{}
	s := newScheduler(t, "04:00", p)
	now := time.Date(2026, 10, 14, 4, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	s.RunPrune(context.Background())
	if len(p.cutoffs) != 1 || !p.cutoffs[0].Equal(now.AddDate(0, 0, -7)) {
		t.Errorf("cutoffs = %v", p.cutoffs)
	}

	p.err = errors.New("locked")
	s.RunPrune(context.Background())
	if len(p.cutoffs) != 2 {
		t.Error("failed prune not attempted")
	}
}

func TestStartStopsOnCancel(t *testing.T) {
	s := newScheduler(t, "04:00", &fakePruner{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return")
	}
}
