package server

import (
	"context"
	"time"

	"github.com/slopcrew-project/slopcrew/internal/events"
	"github.com/slopcrew-project/slopcrew/internal/protocol"
)

// Run drives the tick loop until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	interval := s.tickInterval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info().
		Int("tick_rate", s.cfg.TickRate).
		Dur("interval", interval).
		Msg("tick loop started")

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Uint64("ticks", s.CurrentTick()).Msg("tick loop stopped")
			return nil
		case now := <-ticker.C:
			start := time.Now()
			s.Step(now)
			s.lag.Observe(s.CurrentTick(), now, time.Since(start))
		}
	}
}

// Step runs one tick: flush every connection's staged updates, expire
// encounter intents, advance race timers and periodically send Sync.
func (s *Server) Step(now time.Time) {
	tick := s.tick.Add(1)

	for _, c := range s.registry.Active() {
		s.flushConnection(c)
	}

	if n := s.matchmaker.Sweep(now); n > 0 {
		s.logger.Trace().Int("expired", n).Msg("encounter intents expired")
	}
	s.races.Tick(now)

	if s.cfg.SyncInterval > 0 && tick%uint64(s.cfg.SyncInterval) == 0 {
		s.registry.Broadcast(&protocol.Sync{ServerTick: tick})
	}
	if s.cfg.StatsInterval > 0 && tick%uint64(s.cfg.StatsInterval) == 0 {
		stats := s.registry.Stats()
		s.bus.Publish(events.EventPopulation, "server", events.PopulationPayload{
			Connections: stats.Connections,
			Population:  stats.Population,
			Stages:      s.registry.Stages(),
		})
	}
}

func (s *Server) flushConnection(c *Connection) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().
				Interface("panic", r).
				Str("conn", c.id).
				Msg("flush panicked")
		}
	}()
	c.flush()
}
