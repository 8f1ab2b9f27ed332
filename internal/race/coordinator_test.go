package race

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/slopcrew-project/slopcrew/internal/events"
	"github.com/slopcrew-project/slopcrew/internal/protocol"
)

type fakeRacer struct {
	id    uint32
	stage int32

	mu   sync.Mutex
	sent []protocol.Message
}

func (r *fakeRacer) PlayerID() uint32   { return r.id }
func (r *fakeRacer) PlayerName() string { return fmt.Sprintf("racer-%d", r.id) }
func (r *fakeRacer) Stage() int32       { return r.stage }

func (r *fakeRacer) Send(msg protocol.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, msg)
}

// take returns and clears everything sent so far.
func (r *fakeRacer) take() []protocol.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.sent
	r.sent = nil
	return out
}

var track = protocol.RaceConfig{
	Stage:         4,
	StartPosition: protocol.Vector3{X: 1, Y: 2, Z: 3},
	Checkpoints:   []protocol.Vector3{{X: 10}, {X: 20}},
}

type fixture struct {
	c     *Coordinator
	now   time.Time
	mu    sync.Mutex
	rs    map[uint32]*fakeRacer
	bus   *events.EventBus
	ranks chan events.RaceRankedPayload
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWith(t, nil)
}

func newFixtureWith(t *testing.T, mutate func(*Config)) *fixture {
	t.Helper()
	f := &fixture{
		now: time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC),
		rs: map[uint32]*fakeRacer{
			1: {id: 1, stage: 4},
			2: {id: 2, stage: 4},
			3: {id: 3, stage: 4},
			9: {id: 9, stage: 7},
		},
		bus:   events.NewEventBus(),
		ranks: make(chan events.RaceRankedPayload, 4),
	}
	t.Cleanup(f.bus.Stop)
	f.bus.Subscribe(events.EventRaceRanked, "test", func(_ context.Context, e events.Event) error {
		f.ranks <- e.Payload.(events.RaceRankedPayload)
		return nil
	})

	cfg := DefaultConfig()
	cfg.Tracks = map[int32][]protocol.RaceConfig{4: {track}}
	if mutate != nil {
		mutate(&cfg)
	}

	n := 0
	f.c = NewCoordinator(cfg,
		WithClock(f.clock),
		WithRand(rand.New(rand.NewSource(1))),
		WithIDGenerator(func() string { n++; return fmt.Sprintf("race-%d", n) }),
		WithEventBus(f.bus),
	)
	return f
}

func (f *fixture) clock() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fixture) advance(d time.Duration) time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
	return f.now
}

// formRace pools ids and closes the lobby, leaving their inboxes empty.
func (f *fixture) formRace(t *testing.T, ids ...uint32) {
	t.Helper()
	for _, id := range ids {
		f.c.Request(f.rs[id])
	}
	f.c.Tick(f.advance(f.c.cfg.LobbyMaxWait))
	for _, id := range ids {
		f.rs[id].take()
	}
	if infos := f.c.Sessions(); len(infos) != 1 || infos[0].Racers != len(ids) {
		t.Fatalf("race not formed: %+v", infos)
	}
}

// startRace forms and starts a race between racers 1 and 2.
func (f *fixture) startRace(t *testing.T) {
	t.Helper()
	f.formRace(t, 1, 2)
	f.c.Ready(1)
	f.c.Ready(2)
	f.rs[1].take()
	f.rs[2].take()
	if infos := f.c.Sessions(); len(infos) != 1 || infos[0].State != StateStarted {
		t.Fatalf("race not started: %+v", infos)
	}
}

func TestStageWithoutTracksRefused(t *testing.T) {
	f := newFixture(t)
	f.c.Request(f.rs[9])

	if diff := cmp.Diff([]protocol.Message{&protocol.RaceResponse{}}, f.rs[9].take()); diff != "" {
		t.Errorf("messages (-want +got):\n%s", diff)
	}
	if n := len(f.c.Pooled()); n != 0 {
		t.Errorf("pooled stages = %d, want 0", n)
	}
}

func TestLobbyFormsAtDeadline(t *testing.T) {
	f := newFixture(t)

	f.c.Request(f.rs[1])
	f.c.Request(f.rs[2])
	for _, id := range []uint32{1, 2} {
		if diff := cmp.Diff([]protocol.Message{&protocol.RaceResponse{}}, f.rs[id].take()); diff != "" {
			t.Fatalf("pooled racer %d (-want +got):\n%s", id, diff)
		}
	}
	if got := f.c.Pooled()[4]; got != 2 {
		t.Fatalf("pool size = %d, want 2", got)
	}

	f.c.Tick(f.advance(29 * time.Second))
	if n := len(f.c.Sessions()); n != 0 {
		t.Fatalf("formed before deadline: %d sessions", n)
	}

	f.c.Tick(f.advance(time.Second))
	want := []protocol.Message{
		&protocol.RaceResponse{Accepted: true, Config: track, InitTime: "2026-10-14T12:00:30Z"},
		&protocol.RaceInitialize{},
	}
	for _, id := range []uint32{1, 2} {
		if diff := cmp.Diff(want, f.rs[id].take()); diff != "" {
			t.Errorf("racer %d (-want +got):\n%s", id, diff)
		}
	}

	infos := f.c.Sessions()
	wantInfo := []SessionInfo{{ID: "race-1", Stage: 4, State: StateInitialized, Racers: 2, Created: f.clock()}}
	if diff := cmp.Diff(wantInfo, infos); diff != "" {
		t.Errorf("sessions (-want +got):\n%s", diff)
	}
	if n := len(f.c.Pooled()); n != 0 {
		t.Errorf("pool not drained: %v", f.c.Pooled())
	}
}

func TestLateJoinersExtendLobby(t *testing.T) {
	f := newFixture(t)

	f.c.Request(f.rs[1])
	f.advance(10 * time.Second)
	f.c.Request(f.rs[2]) // deadline 30s -> 35s
	f.advance(10 * time.Second)
	f.c.Request(f.rs[3]) // deadline 35s -> 40s

	f.c.Tick(f.advance(19 * time.Second))
	if n := len(f.c.Sessions()); n != 0 {
		t.Fatalf("formed before extended deadline: %d sessions", n)
	}

	f.c.Tick(f.advance(time.Second))
	infos := f.c.Sessions()
	if len(infos) != 1 || infos[0].Racers != 3 {
		t.Fatalf("sessions = %+v, want one 3-racer session", infos)
	}
	for _, id := range []uint32{1, 2, 3} {
		if !f.c.InRace(id) {
			t.Errorf("racer %d left behind", id)
		}
	}
	if n := len(f.c.Pooled()); n != 0 {
		t.Errorf("pool not drained: %v", f.c.Pooled())
	}
}

func TestLobbyExtensionCapped(t *testing.T) {
	f := newFixtureWith(t, func(c *Config) { c.LobbyIncrementWait = time.Minute })

	f.c.Request(f.rs[1])
	f.c.Request(f.rs[2])
	f.c.Request(f.rs[3])

	f.c.Tick(f.advance(30 * time.Second))
	if infos := f.c.Sessions(); len(infos) != 1 || infos[0].Racers != 3 {
		t.Errorf("sessions = %+v, want one 3-racer session at max wait", infos)
	}
}

func TestFullLobbyFormsImmediately(t *testing.T) {
	f := newFixtureWith(t, func(c *Config) { c.MaxRacers = 2 })

	f.c.Request(f.rs[1])
	f.c.Request(f.rs[2])
	f.c.Request(f.rs[3])

	infos := f.c.Sessions()
	if len(infos) != 1 || infos[0].Racers != 2 {
		t.Fatalf("sessions = %+v, want one full session", infos)
	}
	if !f.c.InRace(1) || !f.c.InRace(2) || f.c.InRace(3) {
		t.Error("session did not take the first two requesters")
	}
	if got := f.c.Pooled()[4]; got != 1 {
		t.Errorf("pool size = %d, want 1", got)
	}
	if diff := cmp.Diff([]protocol.Message{&protocol.RaceResponse{}}, f.rs[3].take()); diff != "" {
		t.Errorf("racer 3 (-want +got):\n%s", diff)
	}
}

func TestRepeatRequestStaysPooledOnce(t *testing.T) {
	f := newFixture(t)
	f.c.Request(f.rs[1])
	f.c.Request(f.rs[1])
	if got := f.c.Pooled()[4]; got != 1 {
		t.Errorf("pool size = %d, want 1", got)
	}
}

func TestRequestWhileRacingRefused(t *testing.T) {
	f := newFixture(t)
	f.formRace(t, 1, 2)

	f.c.Request(f.rs[1])
	if diff := cmp.Diff([]protocol.Message{&protocol.RaceResponse{}}, f.rs[1].take()); diff != "" {
		t.Errorf("messages (-want +got):\n%s", diff)
	}
}

func TestStartWaitsForEveryone(t *testing.T) {
	f := newFixture(t)
	f.formRace(t, 1, 2)

	if f.c.Finish(1, 3) {
		t.Error("finish before start was recorded")
	}

	f.c.Ready(1)
	f.c.Ready(1)
	if msgs := f.rs[1].take(); len(msgs) != 0 {
		t.Fatalf("started with one ready: %v", msgs)
	}
	if infos := f.c.Sessions(); infos[0].State != StateReadyPending || infos[0].Ready != 1 {
		t.Errorf("session = %+v, want ready_pending with 1 ready", infos[0])
	}

	f.c.Ready(2)
	for _, id := range []uint32{1, 2} {
		if diff := cmp.Diff([]protocol.Message{&protocol.RaceStart{}}, f.rs[id].take()); diff != "" {
			t.Errorf("racer %d (-want +got):\n%s", id, diff)
		}
	}
}

func TestRanking(t *testing.T) {
	f := newFixture(t)
	f.startRace(t)

	if !f.c.Finish(2, 10.5) {
		t.Fatal("finish rejected")
	}
	if f.c.Finish(2, 1) {
		t.Error("second finish accepted")
	}
	if msgs := f.rs[2].take(); len(msgs) != 0 {
		t.Fatalf("ranked before everyone finished: %v", msgs)
	}

	f.c.Finish(1, 12)
	if diff := cmp.Diff([]protocol.Message{&protocol.RaceRank{Rank: 1}}, f.rs[2].take()); diff != "" {
		t.Errorf("racer 2 (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]protocol.Message{&protocol.RaceRank{Rank: 2}}, f.rs[1].take()); diff != "" {
		t.Errorf("racer 1 (-want +got):\n%s", diff)
	}
	if f.c.InRace(1) || f.c.InRace(2) || len(f.c.Sessions()) != 0 {
		t.Error("session not destroyed after ranking")
	}

	f.bus.Wait()
	select {
	case p := <-f.ranks:
		want := []events.RaceResult{
			{PlayerID: 2, Name: "racer-2", Rank: 1, Time: 10.5},
			{PlayerID: 1, Name: "racer-1", Rank: 2, Time: 12},
		}
		if diff := cmp.Diff(want, p.Results); diff != "" {
			t.Errorf("results (-want +got):\n%s", diff)
		}
		if p.RaceID != "race-1" || p.Stage != 4 {
			t.Errorf("payload = %+v", p)
		}
	default:
		t.Error("no race_ranked event")
	}
}

func TestRankingTieBrokenByID(t *testing.T) {
	f := newFixture(t)
	f.startRace(t)

	f.c.Finish(2, 5)
	f.c.Finish(1, 5)
	if diff := cmp.Diff([]protocol.Message{&protocol.RaceRank{Rank: 1}}, f.rs[1].take()); diff != "" {
		t.Errorf("racer 1 (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]protocol.Message{&protocol.RaceRank{Rank: 2}}, f.rs[2].take()); diff != "" {
		t.Errorf("racer 2 (-want +got):\n%s", diff)
	}
}

func TestInvalidFinishTimeIgnored(t *testing.T) {
	f := newFixture(t)
	f.startRace(t)

	for _, v := range []float32{float32(math.NaN()), float32(math.Inf(1)), -1} {
		if f.c.Finish(1, v) {
			t.Errorf("time %v accepted", v)
		}
	}
}

func TestReadyTimeoutDropsUnready(t *testing.T) {
	f := newFixture(t)
	f.formRace(t, 1, 2)
	f.c.Ready(1)

	f.c.Tick(f.advance(29 * time.Second))
	if msgs := f.rs[1].take(); len(msgs) != 0 {
		t.Fatalf("started early: %v", msgs)
	}

	f.c.Tick(f.advance(time.Second))
	if diff := cmp.Diff([]protocol.Message{&protocol.RaceStart{}}, f.rs[1].take()); diff != "" {
		t.Errorf("racer 1 (-want +got):\n%s", diff)
	}
	if f.c.InRace(2) {
		t.Error("unready racer kept in session")
	}
	if !f.c.InRace(1) {
		t.Error("ready racer dropped")
	}
}

func TestReadyTimeoutWithNobodyReadyCancels(t *testing.T) {
	f := newFixture(t)
	f.formRace(t, 1, 2)

	f.c.Tick(f.advance(30 * time.Second))
	if n := len(f.c.Sessions()); n != 0 {
		t.Errorf("sessions = %d, want 0", n)
	}
	if f.c.InRace(1) || f.c.InRace(2) {
		t.Error("players still bound to cancelled race")
	}
}

func TestMaxRaceTimeRanksFinishersOnly(t *testing.T) {
	f := newFixture(t)
	f.startRace(t)
	f.c.Finish(1, 42)

	f.c.Tick(f.advance(119 * time.Second))
	if msgs := f.rs[1].take(); len(msgs) != 0 {
		t.Fatalf("ranked early: %v", msgs)
	}

	f.c.Tick(f.advance(time.Second))
	if diff := cmp.Diff([]protocol.Message{&protocol.RaceRank{Rank: 1}}, f.rs[1].take()); diff != "" {
		t.Errorf("racer 1 (-want +got):\n%s", diff)
	}
	if msgs := f.rs[2].take(); len(msgs) != 0 {
		t.Errorf("unfinished racer received %v", msgs)
	}
	if len(f.c.Sessions()) != 0 {
		t.Error("session survived race timeout")
	}
}

func TestLeaveMidRaceCompletesRanking(t *testing.T) {
	f := newFixture(t)
	f.startRace(t)

	f.c.Leave(2)
	f.c.Leave(2)
	f.c.Finish(1, 30)
	if diff := cmp.Diff([]protocol.Message{&protocol.RaceRank{Rank: 1}}, f.rs[1].take()); diff != "" {
		t.Errorf("racer 1 (-want +got):\n%s", diff)
	}
}

func TestLeaveBeforeStartReevaluatesReadiness(t *testing.T) {
	f := newFixture(t)
	f.formRace(t, 1, 2)
	f.c.Ready(1)

	f.c.Leave(2)
	if diff := cmp.Diff([]protocol.Message{&protocol.RaceStart{}}, f.rs[1].take()); diff != "" {
		t.Errorf("racer 1 (-want +got):\n%s", diff)
	}
}

func TestLeaveLastMemberDestroysSession(t *testing.T) {
	f := newFixture(t)
	f.startRace(t)
	f.c.Leave(1)
	f.c.Leave(2)
	if n := len(f.c.Sessions()); n != 0 {
		t.Errorf("sessions = %d, want 0", n)
	}
}

func TestLeaveRemovesFromPool(t *testing.T) {
	f := newFixture(t)
	f.c.Request(f.rs[1])
	f.c.Leave(1)
	if n := len(f.c.Pooled()); n != 0 {
		t.Errorf("pool not emptied: %v", f.c.Pooled())
	}
}

func TestLobbyBelowMinimumAgesOut(t *testing.T) {
	f := newFixture(t)
	f.c.Request(f.rs[1])

	f.c.Tick(f.advance(29 * time.Second))
	if got := f.c.Pooled()[4]; got != 1 {
		t.Fatalf("aged out early")
	}
	f.c.Tick(f.advance(time.Second))
	if n := len(f.c.Pooled()); n != 0 {
		t.Errorf("pool entry survived max wait")
	}

	// A fresh request after aging does not pair with the expired entry.
	f.c.Request(f.rs[2])
	if got := f.c.Pooled()[4]; got != 1 {
		t.Errorf("pool size = %d, want 1", got)
	}
}

func TestStateJSON(t *testing.T) {
	b, err := StateStarted.MarshalJSON()
	if err != nil || string(b) != `"started"` {
		t.Errorf("MarshalJSON = %s, %v", b, err)
	}
	if got := StateReadyPending.String(); got != "ready_pending" {
		t.Errorf("String = %q", got)
	}
}
