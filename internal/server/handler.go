package server

import (
	"errors"
	"fmt"

	"github.com/slopcrew-project/slopcrew/internal/events"
	"github.com/slopcrew-project/slopcrew/internal/protocol"
)

// Selector bounds. A hello with any selector outside them gets all three
// replaced by the defaults.
const (
	minCharacter     = -1
	maxCharacter     = 26
	maxOutfit        = 3
	maxMoveStyle     = 5
	defaultCharacter = 3

	// MaxCharacterInfoSize caps the custom appearance payload.
	MaxCharacterInfoSize = 64
)

// HandleFrame decodes and handles one inbound frame. Decode and handler
// failures are logged; only a version mismatch closes the connection.
func (c *Connection) HandleFrame(frame []byte) {
	msg, err := protocol.Decode(frame)
	if err != nil {
		var unknown *protocol.UnknownMessageTypeError
		var malformed *protocol.MalformedPacketError
		switch {
		case errors.As(err, &unknown):
			c.logger.Debug().Int32("tag", int32(unknown.Tag)).Msg("unknown message type")
		case errors.As(err, &malformed):
			c.logger.Debug().Err(malformed.Err).Str("tag", malformed.Tag.String()).Msg("malformed packet")
		default:
			c.logger.Debug().Err(err).Msg("undecodable frame")
		}
		return
	}

	if err := c.safeHandle(msg); err != nil {
		c.logHandleError(msg, err)
	}
}

func (c *Connection) safeHandle(msg protocol.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error().
				Interface("panic", r).
				Str("message", msg.MessageType().String()).
				Msg("handler panicked, closing connection")
			c.Close()
			err = nil
		}
	}()
	return c.Handle(msg)
}

func (c *Connection) logHandleError(msg protocol.Message, err error) {
	ev := c.logger.Debug()
	switch {
	case errors.Is(err, ErrVersionMismatch):
		ev = c.logger.Info()
	case errors.Is(err, ErrOutOfOrder):
		ev = c.logger.Trace()
	}
	ev.Err(err).Str("message", msg.MessageType().String()).Msg("message rejected")
}

// Handle applies one decoded message to the connection.
func (c *Connection) Handle(msg protocol.Message) error {
	state := c.State()
	if state == StateClosed {
		return nil
	}

	switch m := msg.(type) {
	case *protocol.VersionCheck:
		return c.handleVersion(m)
	case *protocol.Ping:
		c.Send(&protocol.Pong{ID: m.ID})
		return nil
	case *protocol.Hello:
		return c.handleHello(m)
	}

	if msg.Direction() != protocol.Serverbound {
		return fmt.Errorf("%w: %s", ErrUnexpectedMessage, msg.MessageType())
	}
	if state != StateActive {
		return fmt.Errorf("%w: %s", ErrOutOfOrder, msg.MessageType())
	}

	s := c.server
	switch m := msg.(type) {
	case *protocol.PositionUpdate:
		return c.handlePosition(m)
	case *protocol.Animation:
		c.mu.Lock()
		c.out.animation = &protocol.PlayerAnimation{
			Player:         c.player.ID,
			Animation:      m.Animation,
			ForceOverwrite: m.ForceOverwrite,
			Instant:        m.Instant,
			AtTime:         m.AtTime,
		}
		c.mu.Unlock()
	case *protocol.ScoreUpdate:
		c.mu.Lock()
		c.score = *m
		c.out.score = &protocol.PlayerScoreUpdate{
			Player:     c.player.ID,
			Score:      m.Score,
			BaseScore:  m.BaseScore,
			Multiplier: m.Multiplier,
		}
		c.mu.Unlock()
	case *protocol.VisualUpdate:
		c.mu.Lock()
		c.out.visual = &protocol.PlayerVisualUpdate{
			Player:          c.player.ID,
			BoostpackEffect: m.BoostpackEffect,
			FrictionEffect:  m.FrictionEffect,
			Spraycan:        m.Spraycan,
			Phone:           m.Phone,
			SpraycanState:   m.SpraycanState,
		}
		c.mu.Unlock()
	case *protocol.EncounterRequest:
		kind := m.EncounterType()
		if kind == protocol.EncounterRace {
			s.races.Request(c)
			return nil
		}
		outcome := s.matchmaker.Request(c, m.PlayerID, kind)
		c.logger.Trace().
			Uint32("target", m.PlayerID).
			Str("type", kind.String()).
			Str("outcome", outcome.String()).
			Msg("encounter request")
	case *protocol.RequestRace:
		s.races.Request(c)
	case *protocol.ReadyForRace:
		s.races.Ready(c.PlayerID())
	case *protocol.FinishedRace:
		s.races.Finish(c.PlayerID(), m.Time)
	}
	return nil
}

func (c *Connection) handleVersion(m *protocol.VersionCheck) error {
	want := c.server.cfg.ProtocolVersion
	if m.Version == want {
		return nil
	}
	c.server.bus.Publish(events.EventVersionReject, "server", events.VersionRejectPayload{
		Address: c.RemoteAddr(),
		Got:     m.Version,
		Want:    want,
	})
	c.Close()
	return fmt.Errorf("%w: client %d, server %d", ErrVersionMismatch, m.Version, want)
}

func (c *Connection) handleHello(m *protocol.Hello) error {
	s := c.server
	p := m.Player

	if p.Character < minCharacter || p.Character > maxCharacter ||
		p.Outfit < 0 || p.Outfit > maxOutfit ||
		p.MoveStyle < 0 || p.MoveStyle > maxMoveStyle {
		c.logger.Debug().
			Int32("character", p.Character).
			Int32("outfit", p.Outfit).
			Int32("move_style", p.MoveStyle).
			Msg("selectors out of range, using defaults")
		p.Character, p.Outfit, p.MoveStyle = defaultCharacter, 0, 0
	}

	p.Name = s.filter.Sanitize(p.Name)
	p.IsDeveloper = s.isDeveloper(m.Secret)

	if p.CharacterInfo != nil {
		info := *p.CharacterInfo
		if len(info.Data) > MaxCharacterInfoSize {
			info.Data = info.Data[:MaxCharacterInfoSize:MaxCharacterInfoSize]
		}
		p.CharacterInfo = &info
	}
	if !p.Transform.IsFinite() {
		p.Transform = protocol.Transform{}
	}
	p.Transform.Tick = s.CurrentTick()

	res, ok := s.registry.Track(c, p)
	if !ok {
		return nil
	}

	if res.Moved {
		s.matchmaker.Forget(res.ID)
		s.races.Leave(res.ID)
		s.bus.Publish(events.EventStageChanged, "server", events.PlayerPayload{
			ID: res.ID, Name: p.Name, Stage: p.Stage, PrevStage: res.PrevStage,
		})
	}
	if res.First {
		c.logger.Info().
			Uint32("player", res.ID).
			Str("name", p.Name).
			Int32("stage", p.Stage).
			Bool("developer", p.IsDeveloper).
			Msg("player joined")
		s.bus.Publish(events.EventPlayerJoined, "server", events.PlayerPayload{
			ID: res.ID, Name: p.Name, Stage: p.Stage, IsDeveloper: p.IsDeveloper,
		})
	}
	return nil
}

func (c *Connection) handlePosition(m *protocol.PositionUpdate) error {
	t := m.Transform
	if !t.IsFinite() {
		return ErrNonFiniteTransform
	}
	t.Tick = c.server.CurrentTick()

	c.mu.Lock()
	c.player.Transform = t
	c.out.position = &protocol.PlayerPositionUpdate{Player: c.player.ID, Transform: t}
	c.mu.Unlock()
	return nil
}
