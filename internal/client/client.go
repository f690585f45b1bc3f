// Package client maintains the bidirectional socket to the server: clock
// synchronization, room subscriptions, and post submission. Incoming
// confirmed posts are dispatched to per-room handlers from a single read
// goroutine, so handler-side state mutation is serialized by delivery.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"gridsync/internal/clock"
	"gridsync/internal/wire"
)

var (
	// ErrNotOpen reports a submission on a closed connection. The core
	// does not retry; reconnection policy belongs to the caller.
	ErrNotOpen = errors.New("client: connection is not open")
	// ErrDuplicateHandler reports a second handler registration for the
	// same room, which is a caller bug.
	ErrDuplicateHandler = errors.New("client: handler already registered for room")
)

const (
	writeWait           = 10 * time.Second
	defaultSyncInterval = 2 * time.Second
)

// Handler consumes confirmed posts for one room.
type Handler func(wire.InfoPost)

// Conn is one live connection. There is exactly one clock estimate per
// Conn, shared by every room it touches.
type Conn struct {
	ws       *websocket.Conn
	logger   *slog.Logger
	estimate *clock.Estimate
	interval time.Duration
	now      func() int64

	writeMu sync.Mutex

	mu       sync.Mutex
	handlers map[string]Handler
	syncFns  []func()
	sentAt   int64
	closed   bool

	done chan struct{}
}

// Option tweaks connection construction.
type Option func(*Conn)

// WithLogger overrides the default logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Conn) { c.logger = logger }
}

// WithSyncInterval overrides the clock-sync request period.
func WithSyncInterval(d time.Duration) Option {
	return func(c *Conn) { c.interval = d }
}

// Dial connects to the server's socket endpoint and starts the read and
// clock-sync loops.
func Dial(ctx context.Context, url string, opts ...Option) (*Conn, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	c := &Conn{
		ws:       ws,
		logger:   slog.Default(),
		estimate: clock.NewEstimate(),
		interval: defaultSyncInterval,
		now:      func() int64 { return time.Now().UnixMilli() },
		handlers: make(map[string]Handler),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	go c.readLoop()
	go c.syncLoop()
	return c, nil
}

func (c *Conn) writeJSON(msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

// requestTime sends one get_time, recording the local send timestamp.
func (c *Conn) requestTime() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.sentAt = c.now()
	c.mu.Unlock()

	if err := c.writeJSON(wire.GetTime{Type: wire.TypeGetTime}); err != nil {
		c.logger.Warn("time request failed", "error", err)
	}
}

func (c *Conn) syncLoop() {
	c.requestTime()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.requestTime()
		}
	}
}

func (c *Conn) readLoop() {
	defer c.markClosed()

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			return
		}

		env, err := wire.Decode(raw)
		if err != nil {
			c.logger.Warn("discarding malformed message", "error", err)
			continue
		}

		switch env.Type {
		case wire.TypeInfoTime:
			var msg wire.InfoTime
			if err := json.Unmarshal(raw, &msg); err != nil {
				c.logger.Warn("discarding malformed info_time", "error", err)
				continue
			}
			c.handleInfoTime(msg)
		case wire.TypeInfoPost:
			var msg wire.InfoPost
			if err := json.Unmarshal(raw, &msg); err != nil {
				c.logger.Warn("discarding malformed info_post", "error", err)
				continue
			}
			c.handleInfoPost(msg)
		default:
			c.logger.Debug("ignoring message", "type", env.Type)
		}
	}
}

func (c *Conn) handleInfoTime(msg wire.InfoTime) {
	c.mu.Lock()
	sentAt := c.sentAt
	c.mu.Unlock()

	first := c.estimate.Observe(sentAt, c.now(), msg.Time)
	if !first {
		return
	}

	c.mu.Lock()
	fns := c.syncFns
	c.syncFns = nil
	c.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (c *Conn) handleInfoPost(msg wire.InfoPost) {
	c.mu.Lock()
	handler := c.handlers[msg.Room]
	c.mu.Unlock()

	if handler != nil {
		handler(msg)
	}
}

func (c *Conn) markClosed() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.done)
}

func (c *Conn) ensureOpen() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrNotOpen
	}
	return nil
}

// register installs handler for room, rejecting duplicates. A nil handler
// is a no-op so Load can replay into an already watched room.
func (c *Conn) register(room string, handler Handler) error {
	if handler == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.handlers[room]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateHandler, room)
	}
	c.handlers[room] = handler
	return nil
}

// ServerTime returns the current server clock in milliseconds, or
// clock.ErrNotSynced before the first sample.
func (c *Conn) ServerTime() (int64, error) {
	return c.estimate.ServerTime(c.now())
}

// Ping returns the last observed round trip, for display and
// prediction-horizon heuristics only.
func (c *Conn) Ping() time.Duration {
	return c.estimate.Ping()
}

// OnSync runs fn once the first clock sample has arrived, immediately if
// it already has.
func (c *Conn) OnSync(fn func()) {
	c.mu.Lock()
	if c.estimate.Synced() {
		c.mu.Unlock()
		fn()
		return
	}
	c.syncFns = append(c.syncFns, fn)
	c.mu.Unlock()
}

// Post submits data to the room's log and returns the author token that
// will identify the confirmation. The wire stamp is the client's current
// view of server time.
func (c *Conn) Post(room string, data json.RawMessage) (string, error) {
	if err := c.ensureOpen(); err != nil {
		return "", err
	}
	now, err := c.ServerTime()
	if err != nil {
		return "", err
	}

	name := GenName()
	msg := wire.Post{Type: wire.TypePost, Room: room, Time: now, Name: name, Data: data}
	if err := c.writeJSON(msg); err != nil {
		return "", err
	}
	return name, nil
}

// Watch registers handler for the room and subscribes to its broadcasts.
func (c *Conn) Watch(room string, handler Handler) error {
	if err := c.ensureOpen(); err != nil {
		return err
	}
	if err := c.register(room, handler); err != nil {
		return err
	}
	return c.writeJSON(wire.Watch{Type: wire.TypeWatch, Room: room})
}

// Load requests a replay of the room's log from index from. The handler
// is optional when the room is already watched.
func (c *Conn) Load(room string, from int, handler Handler) error {
	if err := c.ensureOpen(); err != nil {
		return err
	}
	if err := c.register(room, handler); err != nil {
		return err
	}
	return c.writeJSON(wire.Load{Type: wire.TypeLoad, Room: room, From: from})
}

// Unwatch drops the room's handler and unsubscribes.
func (c *Conn) Unwatch(room string) error {
	c.mu.Lock()
	delete(c.handlers, room)
	c.mu.Unlock()

	if err := c.ensureOpen(); err != nil {
		return err
	}
	return c.writeJSON(wire.Unwatch{Type: wire.TypeUnwatch, Room: room})
}

// Close tears the connection down. It is safe to call more than once.
func (c *Conn) Close() error {
	c.markClosed()
	return c.ws.Close()
}
