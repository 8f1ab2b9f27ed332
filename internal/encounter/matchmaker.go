// Package encounter implements mutual-consent 1v1 encounters: a player asks
// for an encounter with a peer, and the encounter starts only once the peer
// asks back within the intent window.
package encounter

import (
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/slopcrew-project/slopcrew/internal/events"
	"github.com/slopcrew-project/slopcrew/internal/protocol"
	"github.com/slopcrew-project/slopcrew/internal/util"
)

// Peer is the part of a connected player the matchmaker needs.
type Peer interface {
	PlayerID() uint32
	PlayerName() string
	Stage() int32
	Send(msg protocol.Message)
}

// LookupFunc resolves an active player by ID.
type LookupFunc func(id uint32) (Peer, bool)

// Outcome reports what a Request did.
type Outcome int

const (
	// Ignored: self-target, unknown target, other stage or unsupported type.
	Ignored Outcome = iota
	// Notified: a new intent was recorded and the target was told.
	Notified
	// Pending: a live intent toward the target already exists.
	Pending
	// Started: the target had already asked; both players got EncounterStart.
	Started
)

func (o Outcome) String() string {
	switch o {
	case Notified:
		return "notified"
	case Pending:
		return "pending"
	case Started:
		return "started"
	}
	return "ignored"
}

// Config holds encounter timing and graffiti parameters.
type Config struct {
	Window           time.Duration
	ScoreDuration    int32
	ComboDuration    int32
	GraffitiDuration int32
	DefaultDuration  int32
	GraffitiPool     int
	GraffitiPicks    int
}

// DefaultConfig returns the stock encounter settings.
func DefaultConfig() Config {
	return Config{
		Window:           5 * time.Second,
		ScoreDuration:    90,
		ComboDuration:    300,
		GraffitiDuration: 90,
		DefaultDuration:  90,
		GraffitiPool:     15,
		GraffitiPicks:    5,
	}
}

// intentKey addresses one recorded intent: requester wants type with target.
type intentKey struct {
	target    uint32
	kind      protocol.EncounterType
	requester uint32
}

// Matchmaker records encounter intents and pairs reciprocal ones.
type Matchmaker struct {
	mu      sync.Mutex
	cfg     Config
	lookup  LookupFunc
	rng     *rand.Rand
	now     func() time.Time
	bus     *events.EventBus
	logger  zerolog.Logger
	intents map[uint32]map[protocol.EncounterType]map[uint32]time.Time
	expiry  intentHeap
}

// Option customizes a Matchmaker.
type Option func(*Matchmaker)

// WithRand sets the source used for graffiti spot selection.
func WithRand(rng *rand.Rand) Option {
	return func(m *Matchmaker) { m.rng = rng }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Matchmaker) { m.now = now }
}

// WithEventBus makes the matchmaker emit encounter_started.
func WithEventBus(bus *events.EventBus) Option {
	return func(m *Matchmaker) { m.bus = bus }
}

// NewMatchmaker creates a matchmaker resolving targets through lookup.
func NewMatchmaker(cfg Config, lookup LookupFunc, opts ...Option) *Matchmaker {
	if cfg.GraffitiPicks > cfg.GraffitiPool {
		cfg.GraffitiPicks = cfg.GraffitiPool
	}
	m := &Matchmaker{
		cfg:     cfg,
		lookup:  lookup,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		now:     time.Now,
		logger:  util.ComponentLogger("encounter"),
		intents: make(map[uint32]map[protocol.EncounterType]map[uint32]time.Time),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Request handles from asking targetID for an encounter of kind.
func (m *Matchmaker) Request(from Peer, targetID uint32, kind protocol.EncounterType) Outcome {
	if kind == protocol.EncounterRace || targetID == from.PlayerID() {
		return Ignored
	}
	target, ok := m.lookup(targetID)
	if !ok || target.Stage() != from.Stage() {
		return Ignored
	}

	fromID := from.PlayerID()
	now := m.now()

	m.mu.Lock()
	if m.live(intentKey{target: fromID, kind: kind, requester: targetID}, now) {
		m.remove(intentKey{target: fromID, kind: kind, requester: targetID})
		m.remove(intentKey{target: targetID, kind: kind, requester: fromID})
		cfg := m.resolve(kind)
		m.mu.Unlock()

		m.start(from, target, cfg)
		return Started
	}

	key := intentKey{target: targetID, kind: kind, requester: fromID}
	if m.live(key, now) {
		m.mu.Unlock()
		return Pending
	}
	deadline := now.Add(m.cfg.Window)
	m.put(key, deadline)
	m.mu.Unlock()

	target.Send(&protocol.EncounterNotify{PlayerID: fromID, Type: kind})
	m.logger.Debug().
		Uint32("from", fromID).
		Uint32("target", targetID).
		Str("type", kind.String()).
		Msg("encounter requested")
	return Notified
}

func (m *Matchmaker) start(a, b Peer, cfg protocol.EncounterConfig) {
	a.Send(&protocol.EncounterStart{PlayerID: b.PlayerID(), Config: cfg})
	b.Send(&protocol.EncounterStart{PlayerID: a.PlayerID(), Config: cfg})

	m.logger.Info().
		Str("player", a.PlayerName()).
		Str("other", b.PlayerName()).
		Str("type", cfg.Type().String()).
		Int32("duration", cfg.DurationSeconds()).
		Msg("starting encounter")

	m.bus.Publish(events.EventEncounterStarted, "encounter", events.EncounterPayload{
		Type:     cfg.Type().String(),
		Players:  [2]uint32{a.PlayerID(), b.PlayerID()},
		Stage:    a.Stage(),
		Duration: cfg.DurationSeconds(),
	})
}

// Sweep drops every intent whose deadline is not after now.
func (m *Matchmaker) Sweep(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for m.expiry.Len() > 0 && !m.expiry.peek().deadline.After(now) {
		it := m.expiry.popItem()
		if d, ok := m.get(it.key); ok && d.Equal(it.deadline) {
			m.remove(it.key)
			removed++
		}
	}
	return removed
}

// Forget drops every intent where id is requester or target.
func (m *Matchmaker) Forget(id uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.intents, id)
	for target, byKind := range m.intents {
		for kind, requesters := range byKind {
			delete(requesters, id)
			if len(requesters) == 0 {
				delete(byKind, kind)
			}
		}
		if len(byKind) == 0 {
			delete(m.intents, target)
		}
	}
}

// Pending returns the number of recorded intents, expired or not.
func (m *Matchmaker) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, byKind := range m.intents {
		for _, requesters := range byKind {
			n += len(requesters)
		}
	}
	return n
}

// live must be called with mu held.
func (m *Matchmaker) live(k intentKey, now time.Time) bool {
	d, ok := m.get(k)
	return ok && now.Before(d)
}

func (m *Matchmaker) get(k intentKey) (time.Time, bool) {
	d, ok := m.intents[k.target][k.kind][k.requester]
	return d, ok
}

func (m *Matchmaker) put(k intentKey, deadline time.Time) {
	byKind, ok := m.intents[k.target]
	if !ok {
		byKind = make(map[protocol.EncounterType]map[uint32]time.Time)
		m.intents[k.target] = byKind
	}
	requesters, ok := byKind[k.kind]
	if !ok {
		requesters = make(map[uint32]time.Time)
		byKind[k.kind] = requesters
	}
	requesters[k.requester] = deadline
	m.expiry.pushItem(intentItem{key: k, deadline: deadline})
}

func (m *Matchmaker) remove(k intentKey) {
	byKind, ok := m.intents[k.target]
	if !ok {
		return
	}
	requesters, ok := byKind[k.kind]
	if !ok {
		return
	}
	delete(requesters, k.requester)
	if len(requesters) == 0 {
		delete(byKind, k.kind)
	}
	if len(byKind) == 0 {
		delete(m.intents, k.target)
	}
}
