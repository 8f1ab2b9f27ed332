// Package server is the relay core: it accepts plugin transports, runs each
// connection's handshake and update state machine, indexes players by stage
// and drives the fixed-rate tick that flushes coalesced updates.
package server

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/slopcrew-project/slopcrew/internal/encounter"
	"github.com/slopcrew-project/slopcrew/internal/events"
	"github.com/slopcrew-project/slopcrew/internal/filter"
	"github.com/slopcrew-project/slopcrew/internal/network"
	"github.com/slopcrew-project/slopcrew/internal/protocol"
	"github.com/slopcrew-project/slopcrew/internal/race"
	"github.com/slopcrew-project/slopcrew/internal/util"
)

// Config holds the relay core settings.
type Config struct {
	ProtocolVersion uint32
	TickRate        int
	// SyncInterval is the number of ticks between Sync messages.
	SyncInterval int
	// StatsInterval is the number of ticks between population events.
	StatsInterval  int
	MaxConnections int
	// DeveloperHashes are lowercase hex SHA-256 digests of accepted
	// developer secrets.
	DeveloperHashes []string
	Encounters      encounter.Config
	Races           race.Config
}

// DefaultConfig returns the stock relay settings.
func DefaultConfig() Config {
	return Config{
		ProtocolVersion: protocol.Version,
		TickRate:        10,
		SyncInterval:    10,
		StatsInterval:   100,
		MaxConnections:  1000,
		Encounters:      encounter.DefaultConfig(),
		Races:           race.DefaultConfig(),
	}
}

// Server wires the registry, matchmaker and race coordinator together.
type Server struct {
	cfg        Config
	registry   *Registry
	matchmaker *encounter.Matchmaker
	races      *race.Coordinator
	filter     filter.Filter
	bus        *events.EventBus
	developers map[string]bool
	lag        *LagMonitor
	tick       atomic.Uint64
	logger     zerolog.Logger
}

// Option customizes a Server.
type Option func(*serverOptions)

type serverOptions struct {
	filter     filter.Filter
	bus        *events.EventBus
	encounters []encounter.Option
	races      []race.Option
}

// WithFilter sets the name filter. The default only trims and caps names.
func WithFilter(f filter.Filter) Option {
	return func(o *serverOptions) { o.filter = f }
}

// WithEventBus publishes relay events on bus.
func WithEventBus(bus *events.EventBus) Option {
	return func(o *serverOptions) { o.bus = bus }
}

// WithEncounterOptions passes options through to the matchmaker.
func WithEncounterOptions(opts ...encounter.Option) Option {
	return func(o *serverOptions) { o.encounters = append(o.encounters, opts...) }
}

// WithRaceOptions passes options through to the race coordinator.
func WithRaceOptions(opts ...race.Option) Option {
	return func(o *serverOptions) { o.races = append(o.races, opts...) }
}

// New creates a relay server.
func New(cfg Config, opts ...Option) *Server {
	o := serverOptions{filter: filter.Nop{}}
	for _, opt := range opts {
		opt(&o)
	}
	if cfg.TickRate <= 0 {
		cfg.TickRate = 10
	}

	s := &Server{
		cfg:        cfg,
		registry:   NewRegistry(),
		filter:     o.filter,
		bus:        o.bus,
		developers: make(map[string]bool, len(cfg.DeveloperHashes)),
		logger:     util.ComponentLogger("server"),
	}
	s.lag = NewLagMonitor(o.bus, s.tickInterval())
	for _, h := range cfg.DeveloperHashes {
		s.developers[strings.ToLower(strings.TrimSpace(h))] = true
	}

	lookup := func(id uint32) (encounter.Peer, bool) {
		c, ok := s.registry.Lookup(id)
		if !ok {
			return nil, false
		}
		return c, true
	}
	s.matchmaker = encounter.NewMatchmaker(cfg.Encounters, lookup,
		append([]encounter.Option{encounter.WithEventBus(o.bus)}, o.encounters...)...)
	s.races = race.NewCoordinator(cfg.Races,
		append([]race.Option{race.WithEventBus(o.bus)}, o.races...)...)
	return s
}

// Registry returns the player registry.
func (s *Server) Registry() *Registry { return s.registry }

// Races returns the race coordinator.
func (s *Server) Races() *race.Coordinator { return s.races }

// Matchmaker returns the encounter matchmaker.
func (s *Server) Matchmaker() *encounter.Matchmaker { return s.matchmaker }

// Lag returns the long tick monitor.
func (s *Server) Lag() *LagMonitor { return s.lag }

// CurrentTick returns the number of ticks run so far.
func (s *Server) CurrentTick() uint64 { return s.tick.Load() }

// Accept registers a new transport. It fails with ErrServerFull when the
// connection limit is reached.
func (s *Server) Accept(t network.Transport) (*Connection, error) {
	c := &Connection{
		id:        uuid.NewString(),
		server:    s,
		transport: t,
		state:     StateUnauthenticated,
	}
	c.logger = util.ComponentLogger("connection").With().
		Str("conn", c.id).
		Str("remote", t.RemoteAddr()).
		Logger()

	if !s.registry.Add(c, s.cfg.MaxConnections) {
		return nil, ErrServerFull
	}
	c.logger.Debug().Msg("connection accepted")
	return c, nil
}

// Serve accepts t and processes its frames until the transport fails, the
// connection is closed or ctx is cancelled. Teardown always runs.
func (s *Server) Serve(ctx context.Context, t network.Transport) error {
	c, err := s.Accept(t)
	if err != nil {
		t.Close()
		return err
	}
	defer c.Close()

	stop := context.AfterFunc(ctx, func() { c.Close() })
	defer stop()

	for {
		frame, err := t.ReadMessage()
		if err != nil {
			if c.State() == StateClosed || errors.Is(err, network.ErrClosed) {
				return nil
			}
			return fmt.Errorf("connection %s: %w", c.id, err)
		}
		c.HandleFrame(frame)
		if c.State() == StateClosed {
			return nil
		}
	}
}

// Kick forcibly disconnects player id.
func (s *Server) Kick(id uint32, reason string) bool {
	c, ok := s.registry.Lookup(id)
	if !ok {
		return false
	}
	name := c.PlayerName()
	addr := c.transport.RemoteAddr()
	s.logger.Warn().
		Uint32("player", id).
		Str("name", name).
		Str("address", addr).
		Str("reason", reason).
		Msg("kicking player")
	s.bus.Publish(events.EventPlayerKicked, "server", events.KickPayload{
		ID: id, Name: name, Address: addr, Reason: reason,
	})
	c.Close()
	return true
}

// Shutdown closes every connection.
func (s *Server) Shutdown() {
	conns := s.registry.Snapshot()
	for _, c := range conns {
		c.Close()
	}
	s.logger.Info().Int("connections", len(conns)).Msg("relay shut down")
}

func (s *Server) isDeveloper(secret string) bool {
	if secret == "" || len(s.developers) == 0 {
		return false
	}
	sum := sha256.Sum256([]byte(secret))
	return s.developers[hex.EncodeToString(sum[:])]
}

func (s *Server) tickInterval() time.Duration {
	return time.Second / time.Duration(s.cfg.TickRate)
}
