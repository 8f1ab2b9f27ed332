package server

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/slopcrew-project/slopcrew/internal/events"
	"github.com/slopcrew-project/slopcrew/internal/network"
	"github.com/slopcrew-project/slopcrew/internal/protocol"
)

// State is a connection's position in the handshake lifecycle.
type State int

const (
	StateUnauthenticated State = iota
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// outbound holds the newest unsent update of each kind.
type outbound struct {
	animation *protocol.PlayerAnimation
	position  *protocol.PlayerPositionUpdate
	score     *protocol.PlayerScoreUpdate
	visual    *protocol.PlayerVisualUpdate
}

func (o outbound) messages() []protocol.Message {
	msgs := make([]protocol.Message, 0, 4)
	if o.animation != nil {
		msgs = append(msgs, o.animation)
	}
	if o.position != nil {
		msgs = append(msgs, o.position)
	}
	if o.score != nil {
		msgs = append(msgs, o.score)
	}
	if o.visual != nil {
		msgs = append(msgs, o.visual)
	}
	return msgs
}

// Connection is one plugin session. Its player state is written by its own
// frame handler and read by the tick, other handlers and the admin surface,
// all under mu.
type Connection struct {
	id        string
	server    *Server
	transport network.Transport
	logger    zerolog.Logger

	mu     sync.Mutex
	state  State
	player protocol.Player
	score  protocol.ScoreUpdate
	out    outbound

	closeOnce sync.Once
}

// ID returns the connection's session identifier.
func (c *Connection) ID() string { return c.id }

// State returns the current lifecycle state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// PlayerID returns the assigned player ID, or 0 before the first hello.
func (c *Connection) PlayerID() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.player.ID
}

// PlayerName returns the sanitized display name.
func (c *Connection) PlayerName() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.player.Name
}

// Stage returns the player's current stage.
func (c *Connection) Stage() int32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.player.Stage
}

// Player returns a copy of the player description.
func (c *Connection) Player() protocol.Player {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.player.Clone()
}

// Score returns the last reported score.
func (c *Connection) Score() protocol.ScoreUpdate {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.score
}

// RemoteAddr returns the transport's peer address.
func (c *Connection) RemoteAddr() string {
	return c.transport.RemoteAddr()
}

// Send encodes msg and queues it directly on the transport.
func (c *Connection) Send(msg protocol.Message) {
	c.sendFrame(protocol.Encode(msg))
}

func (c *Connection) sendFrame(frame []byte) {
	if !c.transport.Enqueue(frame) {
		c.logger.Trace().Msg("frame not queued")
	}
}

// debugName formats the player for log lines.
func (c *Connection) debugName() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return fmt.Sprintf("%s (%d)", c.player.Name, c.player.ID)
}

// drain takes every staged update and clears the slots.
func (c *Connection) drain() outbound {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.out
	c.out = outbound{}
	return out
}

// flush broadcasts staged updates to the player's stage.
func (c *Connection) flush() {
	if c.State() != StateActive {
		return
	}
	for _, msg := range c.drain().messages() {
		c.server.registry.BroadcastInStage(c, msg)
	}
}

// Close tears the connection down. Every step tolerates repetition and
// partial earlier teardown.
func (c *Connection) Close() {
	c.closeOnce.Do(c.teardown)
}

func (c *Connection) teardown() {
	c.mu.Lock()
	wasActive := c.state == StateActive
	c.state = StateClosed
	c.out = outbound{}
	player := c.player
	c.mu.Unlock()

	s := c.server
	s.registry.Untrack(c)
	if player.ID != 0 {
		s.matchmaker.Forget(player.ID)
		s.races.Leave(player.ID)
	}
	if err := c.transport.Close(); err != nil {
		c.logger.Debug().Err(err).Msg("closing transport")
	}

	if wasActive {
		c.logger.Info().
			Uint32("player", player.ID).
			Str("name", player.Name).
			Int32("stage", player.Stage).
			Msg("player left")
		s.bus.Publish(events.EventPlayerLeft, "server", events.PlayerPayload{
			ID:    player.ID,
			Name:  player.Name,
			Stage: player.Stage,
		})
	} else {
		c.logger.Debug().Msg("connection closed before hello")
	}
}
