package db

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/slopcrew-project/slopcrew/internal/events"
)

func openTest(t *testing.T) *Database {
	t.Helper()
	d, err := Open(context.Background(), MemoryPath)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func TestOpenCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "races.db")
	d, err := Open(context.Background(), path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer d.Close()

	if _, err := os.Stat(path); err != nil {
		t.Errorf("database file: %v", err)
	}
}

func ranked(id string, ended time.Time, results ...events.RaceResult) events.RaceRankedPayload {
	return events.RaceRankedPayload{
		RaceID:    id,
		Stage:     4,
		StartedAt: ended.Add(-time.Minute),
		EndedAt:   ended,
		Results:   results,
	}
}

func TestRaceHistoryRecordAndRecent(t *testing.T) {
	ctx := context.Background()
	h := NewRaceHistory(openTest(t))
	base := time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)

	first := ranked("r1", base,
		events.RaceResult{PlayerID: 2, Name: "b", Rank: 2, Time: 31.5},
		events.RaceResult{PlayerID: 1, Name: "a", Rank: 1, Time: 30.25},
	)
	second := ranked("r2", base.Add(time.Hour), events.RaceResult{PlayerID: 3, Name: "c", Rank: 1, Time: 12})
	for _, r := range []events.RaceRankedPayload{first, second, first} {
		if err := h.Record(ctx, r); err != nil {
			t.Fatal(err)
		}
	}

	got, err := h.Recent(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	want := []RaceRecord{
		{
			ID: "r2", Stage: 4, StartedAt: base.Add(59 * time.Minute), EndedAt: base.Add(time.Hour),
			Results: []events.RaceResult{{PlayerID: 3, Name: "c", Rank: 1, Time: 12}},
		},
		{
			ID: "r1", Stage: 4, StartedAt: base.Add(-time.Minute), EndedAt: base,
			Results: []events.RaceResult{
				{PlayerID: 1, Name: "a", Rank: 1, Time: 30.25},
				{PlayerID: 2, Name: "b", Rank: 2, Time: 31.5},
			},
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}

	limited, err := h.Recent(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 1 || limited[0].ID != "r2" {
		t.Errorf("limit 1 = %+v", limited)
	}
}

func TestRaceHistoryPrune(t *testing.T) {
	ctx := context.Background()
	h := NewRaceHistory(openTest(t))
	base := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)

	h.Record(ctx, ranked("old", base, events.RaceResult{PlayerID: 1, Name: "a", Rank: 1, Time: 1}))
	h.Record(ctx, ranked("new", base.Add(48*time.Hour)))

	n, err := h.Prune(ctx, base.Add(24*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("pruned %d, want 1", n)
	}
	got, _ := h.Recent(ctx, 10)
	if len(got) != 1 || got[0].ID != "new" {
		t.Errorf("remaining = %+v", got)
	}
}

func TestRaceHistorySubscribe(t *testing.T) {
	bus := events.NewEventBus()
	defer bus.Stop()
	h := NewRaceHistory(openTest(t))
	h.Subscribe(bus)

	r := ranked("evt", time.Date(2026, 10, 14, 0, 0, 0, 0, time.UTC))
	if err := bus.EmitSync(context.Background(), events.Event{Type: events.EventRaceRanked, Payload: r}); err != nil {
		t.Fatal(err)
	}
	got, err := h.Recent(context.Background(), 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != "evt" {
		t.Errorf("archived = %+v", got)
	}
}

func TestKickLog(t *testing.T) {
	ctx := context.Background()
	l := NewKickLog(openTest(t))
	now := time.Date(2026, 10, 14, 8, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	l.Record(ctx, events.KickPayload{ID: 1, Name: "a", Address: "192.0.2.1", Reason: "spam"})
	now = now.Add(time.Minute)
	l.Record(ctx, events.KickPayload{ID: 5, Name: "a2", Address: "192.0.2.1", Reason: "again"})
	l.Record(ctx, events.KickPayload{ID: 2, Name: "b", Address: "192.0.2.9"})

	got, err := l.ByAddress(ctx, "192.0.2.1")
	if err != nil {
		t.Fatal(err)
	}
	want := []Kick{
		{ID: 2, PlayerID: 5, Name: "a2", Address: "192.0.2.1", Reason: "again", CreatedAt: now},
		{ID: 1, PlayerID: 1, Name: "a", Address: "192.0.2.1", Reason: "spam", CreatedAt: now.Add(-time.Minute)},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
}
