package server

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"testing"
	"time"

	"github.com/slopcrew-project/slopcrew/internal/encounter"
	"github.com/slopcrew-project/slopcrew/internal/network"
	"github.com/slopcrew-project/slopcrew/internal/protocol"
	"github.com/slopcrew-project/slopcrew/internal/race"
)

// fakeTransport is an in-memory Transport. Frames pushed with deliver are
// returned by ReadMessage; frames the server enqueues are kept for
// inspection.
type fakeTransport struct {
	remote string
	in     chan []byte

	mu       sync.Mutex
	out      [][]byte
	closed   bool
	closedCh chan struct{}
	full     bool
}

func newFakeTransport(remote string) *fakeTransport {
	return &fakeTransport{
		remote:   remote,
		in:       make(chan []byte, 64),
		closedCh: make(chan struct{}),
	}
}

func (t *fakeTransport) ReadMessage() ([]byte, error) {
	select {
	case f := <-t.in:
		return f, nil
	case <-t.closedCh:
		return nil, network.ErrClosed
	}
}

func (t *fakeTransport) Enqueue(frame []byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed || t.full {
		return false
	}
	t.out = append(t.out, frame)
	return true
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed {
		t.closed = true
		close(t.closedCh)
	}
	return nil
}

func (t *fakeTransport) RemoteAddr() string { return t.remote }

func (t *fakeTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *fakeTransport) deliver(msg protocol.Message) {
	t.in <- protocol.Encode(msg)
}

// take decodes and clears everything the server sent.
func (t *fakeTransport) take(tb testing.TB) []protocol.Message {
	tb.Helper()
	t.mu.Lock()
	frames := t.out
	t.out = nil
	t.mu.Unlock()

	msgs := make([]protocol.Message, 0, len(frames))
	for _, f := range frames {
		m, err := protocol.Decode(f)
		if err != nil {
			tb.Fatalf("server sent undecodable frame: %v", err)
		}
		msgs = append(msgs, m)
	}
	return msgs
}

// takeType returns only the sent messages of type t, clearing everything.
func (t *fakeTransport) takeType(tb testing.TB, kind protocol.MessageType) []protocol.Message {
	tb.Helper()
	var out []protocol.Message
	for _, m := range t.take(tb) {
		if m.MessageType() == kind {
			out = append(out, m)
		}
	}
	return out
}

type harness struct {
	srv *Server
	now time.Time
}

func newHarness(t *testing.T, mutate func(*Config), opts ...Option) *harness {
	t.Helper()
	cfg := DefaultConfig()
	sum := sha256.Sum256([]byte("dev-secret"))
	cfg.DeveloperHashes = []string{hex.EncodeToString(sum[:])}
	cfg.Races.Tracks = map[int32][]protocol.RaceConfig{
		4: {{Stage: 4, StartPosition: protocol.Vector3{X: 1}}},
	}
	if mutate != nil {
		mutate(&cfg)
	}
	h := &harness{now: time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)}
	clock := func() time.Time { return h.now }
	opts = append([]Option{
		WithEncounterOptions(encounter.WithClock(clock)),
		WithRaceOptions(race.WithClock(clock)),
	}, opts...)
	h.srv = New(cfg, opts...)
	return h
}

// connect accepts a new fake transport without saying hello.
func (h *harness) connect(t *testing.T) (*Connection, *fakeTransport) {
	t.Helper()
	tr := newFakeTransport("192.0.2.1")
	c, err := h.srv.Accept(tr)
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	return c, tr
}

// join accepts a connection and completes a hello on stage.
func (h *harness) join(t *testing.T, name string, stage int32) (*Connection, *fakeTransport) {
	t.Helper()
	c, tr := h.connect(t)
	if err := c.Handle(&protocol.Hello{Player: protocol.Player{Name: name, Stage: stage}}); err != nil {
		t.Fatalf("hello: %v", err)
	}
	return c, tr
}

func (h *harness) step(d time.Duration) {
	h.now = h.now.Add(d)
	h.srv.Step(h.now)
}
