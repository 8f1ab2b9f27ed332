package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/slopcrew-project/slopcrew/internal/events"
)

// RaceRecord is one archived race with its ranked finishers.
type RaceRecord struct {
	ID        string              `json:"id"`
	Stage     int32               `json:"stage"`
	StartedAt time.Time           `json:"started_at"`
	EndedAt   time.Time           `json:"ended_at"`
	Results   []events.RaceResult `json:"results"`
}

// RaceHistory stores ranked races.
type RaceHistory struct {
	db *Database
}

// NewRaceHistory returns the race archive backed by d.
func NewRaceHistory(d *Database) *RaceHistory {
	return &RaceHistory{db: d}
}

// Record stores a ranked race. Recording the same race twice is a no-op.
func (h *RaceHistory) Record(ctx context.Context, r events.RaceRankedPayload) error {
	return h.db.Transaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO races (id, stage, started_at, ended_at) VALUES (?, ?, ?, ?)",
			r.RaceID, r.Stage, r.StartedAt.UnixMilli(), r.EndedAt.UnixMilli())
		if err != nil {
			return fmt.Errorf("failed to insert race %s: %w", r.RaceID, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil
		}

		for _, result := range r.Results {
			_, err := tx.ExecContext(ctx,
				"INSERT INTO race_results (race_id, player_id, name, rank, time_sec) VALUES (?, ?, ?, ?, ?)",
				r.RaceID, result.PlayerID, result.Name, result.Rank, result.Time)
			if err != nil {
				return fmt.Errorf("failed to insert result for player %d: %w", result.PlayerID, err)
			}
		}
		return nil
	})
}

// Recent returns up to limit races, newest first.
func (h *RaceHistory) Recent(ctx context.Context, limit int) ([]RaceRecord, error) {
	if limit <= 0 {
		return nil, nil
	}

	rows, err := h.db.query(ctx,
		"SELECT id, stage, started_at, ended_at FROM races ORDER BY ended_at DESC, id LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query races: %w", err)
	}

	var records []RaceRecord
	for rows.Next() {
		var rec RaceRecord
		var started, ended int64
		if err := rows.Scan(&rec.ID, &rec.Stage, &started, &ended); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan race: %w", err)
		}
		rec.StartedAt = time.UnixMilli(started).UTC()
		rec.EndedAt = time.UnixMilli(ended).UTC()
		records = append(records, rec)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, err
	}

	for i := range records {
		results, err := h.results(ctx, records[i].ID)
		if err != nil {
			return nil, err
		}
		records[i].Results = results
	}
	return records, nil
}

func (h *RaceHistory) results(ctx context.Context, raceID string) ([]events.RaceResult, error) {
	rows, err := h.db.query(ctx,
		"SELECT player_id, name, rank, time_sec FROM race_results WHERE race_id = ? ORDER BY rank, player_id", raceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query results for race %s: %w", raceID, err)
	}
	defer rows.Close()

	var out []events.RaceResult
	for rows.Next() {
		var r events.RaceResult
		if err := rows.Scan(&r.PlayerID, &r.Name, &r.Rank, &r.Time); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Prune deletes races that ended before cutoff and returns how many went.
func (h *RaceHistory) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := h.db.exec(ctx, "DELETE FROM races WHERE ended_at < ?", cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to prune races: %w", err)
	}
	return res.RowsAffected()
}

// Subscribe archives every race_ranked event published on bus.
func (h *RaceHistory) Subscribe(bus *events.EventBus) {
	bus.Subscribe(events.EventRaceRanked, "db.raceHistory", func(ctx context.Context, e events.Event) error {
		payload, ok := e.Payload.(events.RaceRankedPayload)
		if !ok {
			return fmt.Errorf("unexpected payload %T", e.Payload)
		}
		if err := h.Record(ctx, payload); err != nil {
			h.db.logger.Error().Err(err).Str("race", payload.RaceID).Msg("failed to archive race")
			return err
		}
		h.db.logger.Debug().Str("race", payload.RaceID).Int("results", len(payload.Results)).Msg("race archived")
		return nil
	})
}
