package db

import (
	"context"
	"fmt"
	"time"

	"github.com/slopcrew-project/slopcrew/internal/events"
)

// Kick is one recorded forced disconnection.
type Kick struct {
	ID        int64     `json:"id"`
	PlayerID  uint32    `json:"player_id"`
	Name      string    `json:"name"`
	Address   string    `json:"address"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}

// KickLog keeps an audit trail of operator kicks.
type KickLog struct {
	db  *Database
	now func() time.Time
}

// NewKickLog returns the kick audit log backed by d.
func NewKickLog(d *Database) *KickLog {
	return &KickLog{db: d, now: time.Now}
}

// Record appends a kick.
func (l *KickLog) Record(ctx context.Context, k events.KickPayload) error {
	_, err := l.db.exec(ctx,
		"INSERT INTO kicks (player_id, name, address, reason, created_at) VALUES (?, ?, ?, ?, ?)",
		k.ID, k.Name, k.Address, k.Reason, l.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to record kick of player %d: %w", k.ID, err)
	}
	return nil
}

// ByAddress lists kicks against address, newest first.
func (l *KickLog) ByAddress(ctx context.Context, address string) ([]Kick, error) {
	rows, err := l.db.query(ctx,
		`SELECT id, player_id, name, address, reason, created_at FROM kicks
		 WHERE address = ? ORDER BY created_at DESC, id DESC`, address)
	if err != nil {
		return nil, fmt.Errorf("failed to query kicks: %w", err)
	}
	defer rows.Close()

	var out []Kick
	for rows.Next() {
		var k Kick
		var created int64
		if err := rows.Scan(&k.ID, &k.PlayerID, &k.Name, &k.Address, &k.Reason, &created); err != nil {
			return nil, fmt.Errorf("failed to scan kick: %w", err)
		}
		k.CreatedAt = time.UnixMilli(created).UTC()
		out = append(out, k)
	}
	return out, rows.Err()
}

// Subscribe records every player_kicked event published on bus.
func (l *KickLog) Subscribe(bus *events.EventBus) {
	bus.Subscribe(events.EventPlayerKicked, "db.kickLog", func(ctx context.Context, e events.Event) error {
		payload, ok := e.Payload.(events.KickPayload)
		if !ok {
			return fmt.Errorf("unexpected payload %T", e.Payload)
		}
		if err := l.Record(ctx, payload); err != nil {
			l.db.logger.Error().Err(err).Uint32("player", payload.ID).Msg("failed to record kick")
			return err
		}
		return nil
	})
}
