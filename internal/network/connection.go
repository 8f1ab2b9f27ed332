// Package network implements the websocket transport that carries game
// protocol frames between plugins and the relay.
package network

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ErrClosed is returned by reads on a closed transport.
var ErrClosed = errors.New("connection is closed")

// Transport is a message-framed duplex connection. Reads block; sends are
// queued and never block the caller.
type Transport interface {
	// ReadMessage returns the next binary frame.
	ReadMessage() ([]byte, error)
	// Enqueue queues a frame for sending and reports whether it was accepted.
	Enqueue(frame []byte) bool
	// Close tears the connection down. It is safe to call more than once.
	Close() error
	// RemoteAddr is the peer address, preferring a forwarded client IP.
	RemoteAddr() string
}

// Options tunes a websocket connection.
type Options struct {
	SendQueue    int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PingInterval time.Duration
	ReadLimit    int64
}

// DefaultOptions returns the stock transport settings.
func DefaultOptions() Options {
	return Options{
		SendQueue:    256,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 10 * time.Second,
		PingInterval: 10 * time.Second,
		ReadLimit:    64 << 10,
	}
}

// Connection wraps one plugin websocket. A dedicated write pump drains the
// send queue so a slow peer only ever fills its own queue.
type Connection struct {
	ws     *websocket.Conn
	opts   Options
	remote string
	logger zerolog.Logger

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	connectedAt  time.Time
	lastActivity atomic.Int64
	dropped      atomic.Uint64
}

// NewConnection wraps an upgraded websocket and starts its write pump.
func NewConnection(ws *websocket.Conn, remote string, opts Options) *Connection {
	if opts.SendQueue <= 0 {
		opts.SendQueue = DefaultOptions().SendQueue
	}
	if remote == "" {
		remote = ws.RemoteAddr().String()
	}
	c := &Connection{
		ws:          ws,
		opts:        opts,
		remote:      remote,
		logger:      log.With().Str("component", "transport").Str("remote", remote).Logger(),
		send:        make(chan []byte, opts.SendQueue),
		done:        make(chan struct{}),
		connectedAt: time.Now(),
	}
	c.touch()

	if opts.ReadLimit > 0 {
		ws.SetReadLimit(opts.ReadLimit)
	}
	ws.SetPongHandler(func(string) error {
		c.touch()
		return c.extendReadDeadline()
	})

	go c.writePump()
	return c
}

// ReadMessage blocks for the next binary frame. Text frames are skipped.
// A frame not arriving within the read timeout closes the connection.
func (c *Connection) ReadMessage() ([]byte, error) {
	for {
		if c.IsClosed() {
			return nil, ErrClosed
		}
		if err := c.extendReadDeadline(); err != nil {
			return nil, fmt.Errorf("setting read deadline: %w", err)
		}
		kind, data, err := c.ws.ReadMessage()
		if err != nil {
			if c.IsClosed() {
				return nil, ErrClosed
			}
			return nil, fmt.Errorf("reading frame: %w", err)
		}
		c.touch()
		if kind == websocket.BinaryMessage {
			return data, nil
		}
		c.logger.Trace().Int("type", kind).Msg("ignoring non-binary frame")
	}
}

// Enqueue queues frame without blocking. A full queue drops the frame.
func (c *Connection) Enqueue(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- frame:
		return true
	default:
		if n := c.dropped.Add(1); n == 1 || n%100 == 0 {
			c.logger.Warn().Uint64("dropped", n).Msg("send queue full, dropping frame")
		}
		return false
	}
}

// Close stops the write pump and closes the socket.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		deadline := time.Now().Add(time.Second)
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		err = c.ws.Close()
		c.logger.Debug().Msg("connection closed")
	})
	return err
}

// Done is closed once Close has been called.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// IsClosed returns whether the connection has been closed.
func (c *Connection) IsClosed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// RemoteAddr returns the peer address.
func (c *Connection) RemoteAddr() string {
	return c.remote
}

// ConnectedAt returns the time the connection was established.
func (c *Connection) ConnectedAt() time.Time {
	return c.connectedAt
}

// LastActivity returns the time of the last inbound frame or pong.
func (c *Connection) LastActivity() time.Time {
	return time.Unix(0, c.lastActivity.Load())
}

// Dropped returns how many frames were discarded because the queue was full.
func (c *Connection) Dropped() uint64 {
	return c.dropped.Load()
}

func (c *Connection) touch() {
	c.lastActivity.Store(time.Now().UnixNano())
}

func (c *Connection) extendReadDeadline() error {
	if c.opts.ReadTimeout <= 0 {
		return nil
	}
	return c.ws.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout))
}

func (c *Connection) writePump() {
	var ping <-chan time.Time
	if c.opts.PingInterval > 0 {
		t := time.NewTicker(c.opts.PingInterval)
		defer t.Stop()
		ping = t.C
	}

	for {
		select {
		case <-c.done:
			return
		case frame := <-c.send:
			if err := c.write(websocket.BinaryMessage, frame); err != nil {
				c.logger.Debug().Err(err).Msg("write failed")
				c.Close()
				return
			}
		case <-ping:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.logger.Debug().Err(err).Msg("ping failed")
				c.Close()
				return
			}
		}
	}
}

func (c *Connection) write(kind int, data []byte) error {
	if c.opts.WriteTimeout > 0 {
		if err := c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout)); err != nil {
			return err
		}
	}
	return c.ws.WriteMessage(kind, data)
}
