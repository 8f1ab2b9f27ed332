// Package race coordinates multi-player races: pooling requesters per stage,
// forming sessions, gating the start on readiness and ranking finishers.
package race

import (
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/slopcrew-project/slopcrew/internal/events"
	"github.com/slopcrew-project/slopcrew/internal/protocol"
	"github.com/slopcrew-project/slopcrew/internal/util"
)

// Participant is the part of a connected player the coordinator needs.
type Participant interface {
	PlayerID() uint32
	PlayerName() string
	Stage() int32
	Send(msg protocol.Message)
}

// Config holds race grouping and timing policy.
type Config struct {
	MinRacers int
	MaxRacers int
	// LobbyMaxWait is how long a stage lobby stays open after its first
	// request. LobbyIncrementWait is added for every later joiner, but the
	// deadline never moves past LobbyMaxWait from the newest join.
	LobbyMaxWait       time.Duration
	LobbyIncrementWait time.Duration
	ReadyTimeout       time.Duration
	MaxRaceTime        time.Duration
	// Tracks lists the available courses per stage. Stages without
	// tracks refuse race requests.
	Tracks map[int32][]protocol.RaceConfig
}

// DefaultConfig returns the stock race policy with no tracks.
func DefaultConfig() Config {
	return Config{
		MinRacers:          2,
		MaxRacers:          8,
		LobbyMaxWait:       30 * time.Second,
		LobbyIncrementWait: 5 * time.Second,
		ReadyTimeout:       30 * time.Second,
		MaxRaceTime:        120 * time.Second,
		Tracks:             map[int32][]protocol.RaceConfig{},
	}
}

type member struct {
	peer     Participant
	ready    bool
	finished bool
	time     float32
}

type session struct {
	id        string
	stage     int32
	track     protocol.RaceConfig
	state     State
	createdAt time.Time
	startedAt time.Time
	members   map[uint32]*member
}

// lobby is the FIFO pool of requesters waiting on one stage.
type lobby struct {
	racers   []Participant
	deadline time.Time
}

type delivery struct {
	to  Participant
	msg protocol.Message
}

// Coordinator owns every race pool and session. All methods are safe for
// concurrent use; messages are sent after the internal lock is released.
type Coordinator struct {
	mu       sync.Mutex
	cfg      Config
	now      func() time.Time
	rng      *rand.Rand
	newID    func() string
	bus      *events.EventBus
	logger   zerolog.Logger
	pools    map[int32]*lobby
	sessions map[string]*session
	byPlayer map[uint32]*session
}

// Option customizes a Coordinator.
type Option func(*Coordinator)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// WithRand sets the source used for track selection.
func WithRand(rng *rand.Rand) Option {
	return func(c *Coordinator) { c.rng = rng }
}

// WithIDGenerator replaces the uuid session identifier source.
func WithIDGenerator(fn func() string) Option {
	return func(c *Coordinator) { c.newID = fn }
}

// WithEventBus makes the coordinator emit race lifecycle events.
func WithEventBus(bus *events.EventBus) Option {
	return func(c *Coordinator) { c.bus = bus }
}

// NewCoordinator creates a coordinator with the given policy.
func NewCoordinator(cfg Config, opts ...Option) *Coordinator {
	if cfg.MinRacers < 1 {
		cfg.MinRacers = 1
	}
	if cfg.MaxRacers < cfg.MinRacers {
		cfg.MaxRacers = cfg.MinRacers
	}
	c := &Coordinator{
		cfg:      cfg,
		now:      time.Now,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		newID:    uuid.NewString,
		logger:   util.ComponentLogger("race"),
		pools:    make(map[int32]*lobby),
		sessions: make(map[string]*session),
		byPlayer: make(map[uint32]*session),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Request handles a race request from p. The requester is answered
// negative and pooled; the lobby forms a session once it is full or, with
// at least MinRacers waiting, when its deadline passes on Tick.
func (c *Coordinator) Request(p Participant) {
	var out []delivery
	var formed *pendingEvent

	c.mu.Lock()
	id := p.PlayerID()
	stage := p.Stage()

	switch {
	case c.byPlayer[id] != nil:
		out = append(out, delivery{p, &protocol.RaceResponse{}})
	case len(c.cfg.Tracks[stage]) == 0:
		c.unpool(id)
		out = append(out, delivery{p, &protocol.RaceResponse{}})
	default:
		l := c.pool(p, stage)
		if len(l.racers) < c.cfg.MaxRacers {
			out = append(out, delivery{p, &protocol.RaceResponse{}})
			break
		}
		out, formed = c.formLobby(stage)
	}
	c.mu.Unlock()

	c.deliver(out)
	c.emit(formed)
}

// Ready marks id ready. The race starts once every remaining member is ready.
func (c *Coordinator) Ready(id uint32) {
	c.mu.Lock()
	s := c.byPlayer[id]
	if s == nil || !s.state.awaitingReady() {
		c.mu.Unlock()
		return
	}
	s.members[id].ready = true
	s.state = StateReadyPending
	out, ev := c.maybeStart(s)
	c.mu.Unlock()

	c.deliver(out)
	c.emit(ev)
}

// Finish records id's race time. Times reported before the start, after a
// first report, or that are not finite are ignored.
func (c *Coordinator) Finish(id uint32, raceTime float32) bool {
	if math.IsNaN(float64(raceTime)) || math.IsInf(float64(raceTime), 0) || raceTime < 0 {
		return false
	}

	c.mu.Lock()
	s := c.byPlayer[id]
	if s == nil || s.state != StateStarted {
		c.mu.Unlock()
		return false
	}
	m := s.members[id]
	if m.finished {
		c.mu.Unlock()
		return false
	}
	m.finished = true
	m.time = raceTime
	out, ev := c.maybeRank(s)
	c.mu.Unlock()

	c.deliver(out)
	c.emit(ev)
	return true
}

// Leave removes id from any pool and session.
func (c *Coordinator) Leave(id uint32) {
	c.mu.Lock()
	c.unpool(id)
	s := c.byPlayer[id]
	if s == nil {
		c.mu.Unlock()
		return
	}
	delete(s.members, id)
	delete(c.byPlayer, id)

	var out []delivery
	var ev *pendingEvent
	switch {
	case len(s.members) == 0:
		ev = c.cancel(s)
	case s.state.awaitingReady():
		out, ev = c.maybeStart(s)
	case s.state == StateStarted:
		out, ev = c.maybeRank(s)
	}
	c.mu.Unlock()

	c.deliver(out)
	c.emit(ev)
}

// Tick closes lobbies whose deadline passed and drives ready and race
// timeouts.
func (c *Coordinator) Tick(now time.Time) {
	var out []delivery
	var evs []*pendingEvent

	c.mu.Lock()
	for stage, l := range c.pools {
		if now.Before(l.deadline) {
			continue
		}
		if len(l.racers) < c.cfg.MinRacers {
			for _, p := range l.racers {
				c.logger.Debug().Uint32("player", p.PlayerID()).Msg("race request aged out")
			}
			delete(c.pools, stage)
			continue
		}
		o, ev := c.formLobby(stage)
		out = append(out, o...)
		evs = append(evs, ev)
	}

	for _, s := range c.sessions {
		switch s.state {
		case StateInitialized, StateReadyPending:
			if now.Sub(s.createdAt) < c.cfg.ReadyTimeout {
				continue
			}
			for id, m := range s.members {
				if !m.ready {
					delete(s.members, id)
					delete(c.byPlayer, id)
				}
			}
			if len(s.members) == 0 {
				evs = append(evs, c.cancel(s))
				continue
			}
			o, ev := c.maybeStart(s)
			out = append(out, o...)
			evs = append(evs, ev)
		case StateStarted:
			if now.Sub(s.startedAt) < c.cfg.MaxRaceTime {
				continue
			}
			o, ev := c.rank(s)
			out = append(out, o...)
			evs = append(evs, ev)
		}
	}
	c.mu.Unlock()

	c.deliver(out)
	for _, ev := range evs {
		c.emit(ev)
	}
}

type pendingEvent struct {
	kind    events.EventType
	payload interface{}
}

func (c *Coordinator) emit(ev *pendingEvent) {
	if ev == nil {
		return
	}
	c.bus.Publish(ev.kind, "race", ev.payload)
}

func (c *Coordinator) deliver(out []delivery) {
	for _, d := range out {
		d.to.Send(d.msg)
	}
}

// pool appends p to its stage lobby unless already present there, opening
// the lobby or pushing its deadline. mu held.
func (c *Coordinator) pool(p Participant, stage int32) *lobby {
	id := p.PlayerID()
	if l := c.pools[stage]; l != nil {
		for _, r := range l.racers {
			if r.PlayerID() == id {
				return l
			}
		}
	}
	c.unpool(id)

	now := c.now()
	l := c.pools[stage]
	if l == nil {
		l = &lobby{deadline: now.Add(c.cfg.LobbyMaxWait)}
		c.pools[stage] = l
	} else {
		l.deadline = l.deadline.Add(c.cfg.LobbyIncrementWait)
		if limit := now.Add(c.cfg.LobbyMaxWait); l.deadline.After(limit) {
			l.deadline = limit
		}
	}
	l.racers = append(l.racers, p)
	return l
}

func (c *Coordinator) unpool(id uint32) {
	for stage, l := range c.pools {
		for i, r := range l.racers {
			if r.PlayerID() != id {
				continue
			}
			l.racers = append(l.racers[:i:i], l.racers[i+1:]...)
			if len(l.racers) == 0 {
				delete(c.pools, stage)
			}
			break
		}
	}
}

// formLobby turns stage's lobby into a session. A lobby never holds more
// than MaxRacers since reaching it forms at once. mu held.
func (c *Coordinator) formLobby(stage int32) ([]delivery, *pendingEvent) {
	racers := c.pools[stage].racers
	delete(c.pools, stage)

	s := c.form(stage, c.cfg.Tracks[stage], racers)
	initTime := s.createdAt.UTC().Format(time.RFC3339Nano)
	out := make([]delivery, 0, 2*len(racers))
	for _, p := range racers {
		out = append(out,
			delivery{p, &protocol.RaceResponse{Accepted: true, Config: s.track, InitTime: initTime}},
			delivery{p, &protocol.RaceInitialize{}},
		)
	}

	c.logger.Info().
		Str("race", s.id).
		Int32("stage", stage).
		Int("racers", len(racers)).
		Msg("race formed")
	return out, &pendingEvent{events.EventRaceFormed, c.payload(s)}
}

func (c *Coordinator) form(stage int32, tracks []protocol.RaceConfig, racers []Participant) *session {
	s := &session{
		id:        c.newID(),
		stage:     stage,
		track:     tracks[c.rng.Intn(len(tracks))],
		state:     StateInitialized,
		createdAt: c.now(),
		members:   make(map[uint32]*member, len(racers)),
	}
	for _, p := range racers {
		s.members[p.PlayerID()] = &member{peer: p}
		c.byPlayer[p.PlayerID()] = s
	}
	c.sessions[s.id] = s
	return s
}

func (c *Coordinator) maybeStart(s *session) ([]delivery, *pendingEvent) {
	for _, m := range s.members {
		if !m.ready {
			return nil, nil
		}
	}
	s.state = StateStarted
	s.startedAt = c.now()

	out := make([]delivery, 0, len(s.members))
	for _, m := range s.members {
		out = append(out, delivery{m.peer, &protocol.RaceStart{}})
	}
	c.logger.Info().Str("race", s.id).Int("racers", len(s.members)).Msg("race started")
	return out, &pendingEvent{events.EventRaceStarted, c.payload(s)}
}

func (c *Coordinator) maybeRank(s *session) ([]delivery, *pendingEvent) {
	for _, m := range s.members {
		if !m.finished {
			return nil, nil
		}
	}
	return c.rank(s)
}

// rank sends every finisher its place and destroys the session.
func (c *Coordinator) rank(s *session) ([]delivery, *pendingEvent) {
	finishers := make([]*member, 0, len(s.members))
	for _, m := range s.members {
		if m.finished {
			finishers = append(finishers, m)
		}
	}
	if len(finishers) == 0 {
		return nil, c.cancel(s)
	}
	sort.Slice(finishers, func(i, j int) bool {
		if finishers[i].time != finishers[j].time {
			return finishers[i].time < finishers[j].time
		}
		return finishers[i].peer.PlayerID() < finishers[j].peer.PlayerID()
	})

	out := make([]delivery, 0, len(finishers))
	results := make([]events.RaceResult, 0, len(finishers))
	for i, m := range finishers {
		rank := int32(i + 1)
		out = append(out, delivery{m.peer, &protocol.RaceRank{Rank: rank}})
		results = append(results, events.RaceResult{
			PlayerID: m.peer.PlayerID(),
			Name:     m.peer.PlayerName(),
			Rank:     rank,
			Time:     m.time,
		})
	}
	c.destroy(s)

	c.logger.Info().Str("race", s.id).Int("finishers", len(results)).Msg("race ranked")
	return out, &pendingEvent{events.EventRaceRanked, events.RaceRankedPayload{
		RaceID:    s.id,
		Stage:     s.stage,
		StartedAt: s.startedAt,
		EndedAt:   c.now(),
		Results:   results,
	}}
}

func (c *Coordinator) cancel(s *session) *pendingEvent {
	payload := c.payload(s)
	c.destroy(s)
	c.logger.Info().Str("race", s.id).Msg("race cancelled")
	return &pendingEvent{events.EventRaceCancelled, payload}
}

func (c *Coordinator) destroy(s *session) {
	for id := range s.members {
		if c.byPlayer[id] == s {
			delete(c.byPlayer, id)
		}
	}
	s.state = StateFinished
	delete(c.sessions, s.id)
}

func (c *Coordinator) payload(s *session) events.RacePayload {
	ids := make([]uint32, 0, len(s.members))
	for id := range s.members {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return events.RacePayload{RaceID: s.id, Stage: s.stage, Participants: ids}
}
