// Package channel maintains one logical connection per client process
// and exposes room-scoped pub/sub on top of it. Transport failures never
// unwind into caller code: connectivity is observed purely through the
// connected/disconnected callbacks, and join outcomes arrive via ack
// callbacks.
package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"
)

// ConnState is the transport state of the channel.
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	}
	return "disconnected"
}

var (
	// ErrNotConnected is handed to an ack callback when a join is
	// requested while the transport is down.
	ErrNotConnected = errors.New("channel not connected")

	// ErrJoinTimeout is handed to an ack callback when no ack arrived
	// within the configured window. The join may still have succeeded
	// server-side; the next reconnect re-issues it either way.
	ErrJoinTimeout = errors.New("join acknowledgment timed out")

	// ErrJoinRejected wraps a server-side join refusal.
	ErrJoinRejected = errors.New("join rejected")
)

// Config tunes the reconnect schedule and join ack window. Zero values
// pick the defaults.
type Config struct {
	InitialBackoff time.Duration // first retry delay, default 500ms
	MaxBackoff     time.Duration // backoff cap, default 30s
	BackoffFactor  float64       // growth per failed attempt, default 2
	JoinTimeout    time.Duration // ack wait before reporting failure, default 5s
}

func (c Config) withDefaults() Config {
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 500 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 30 * time.Second
	}
	if c.BackoffFactor <= 1 {
		c.BackoffFactor = 2
	}
	if c.JoinTimeout <= 0 {
		c.JoinTimeout = 5 * time.Second
	}
	return c
}

// AckFunc receives the outcome of a join request: nil on success,
// ErrJoinRejected/ErrJoinTimeout/ErrNotConnected otherwise.
type AckFunc func(err error)

// Handler receives the payload of a named broadcast event.
type Handler func(payload json.RawMessage)

type pendingAck struct {
	cb    AckFunc
	gen   uint64
	timer *time.Timer
}

// Channel is the one logical connection a client process owns. It
// redials forever on unexpected disconnects with a capped multiplicative
// backoff and replays nothing: callers re-join rooms from OnConnected,
// because server-side room membership does not survive a drop.
type Channel struct {
	transport Transport
	cfg       Config

	mu           sync.Mutex
	state        ConnState
	conn         Conn
	gen          uint64 // bumped on every successful connect
	running      bool
	cancel       context.CancelFunc
	handlers     map[string]Handler
	connected    []func()
	disconnected []func()
	nextAck      int64
	pending      map[int64]*pendingAck
}

// New creates a channel over the given transport. Nothing is dialed
// until Connect.
func New(transport Transport, cfg Config) *Channel {
	return &Channel{
		transport: transport,
		cfg:       cfg.withDefaults(),
		handlers:  make(map[string]Handler),
		pending:   make(map[int64]*pendingAck),
	}
}

// State returns the current transport state.
func (c *Channel) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// OnConnected registers a callback fired every time the transport
// reaches connected, including after each reconnect. Callbacks run
// before any inbound event is dispatched on the new connection, so room
// joins issued here always precede buffered event delivery.
func (c *Channel) OnConnected(cb func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = append(c.connected, cb)
}

// OnDisconnected registers a callback fired on every transition away
// from connected. Useful for a non-blocking "reconnecting" indicator.
func (c *Channel) OnDisconnected(cb func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnected = append(c.disconnected, cb)
}

// On registers the handler for a named event, replacing any previous
// handler for that name. One name, at most one active handler: repeated
// registration never accumulates duplicate invocations.
func (c *Channel) On(event string, h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[event] = h
}

// Off removes the handler for an event name.
func (c *Channel) Off(event string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.handlers, event)
}

// Connect starts the connection loop. Idempotent: calling it while the
// loop is running is a no-op.
func (c *Channel) Connect() {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.running = true
	c.cancel = cancel
	c.mu.Unlock()

	go c.run(ctx)
}

// Disconnect releases the transport and stops reconnecting. Idempotent.
// Pending join acks are discarded, never delivered late.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	cancel := c.cancel
	c.cancel = nil
	conn := c.conn
	c.conn = nil
	c.state = StateDisconnected
	c.dropPendingLocked()
	c.mu.Unlock()

	cancel()
	if conn != nil {
		conn.Close()
	}
}

// JoinRoom sends a room join request. The outcome is reported through
// the ack callback only; nothing is thrown. Safe to call repeatedly for
// the same room, the server-side join is idempotent.
func (c *Channel) JoinRoom(event string, payload interface{}, ack AckFunc) {
	if ack == nil {
		ack = func(error) {}
	}

	c.mu.Lock()
	if c.state != StateConnected || c.conn == nil {
		c.mu.Unlock()
		ack(ErrNotConnected)
		return
	}
	c.nextAck++
	id := c.nextAck
	p := &pendingAck{cb: ack, gen: c.gen}
	p.timer = time.AfterFunc(c.cfg.JoinTimeout, func() {
		c.failAck(id, ErrJoinTimeout)
	})
	c.pending[id] = p
	conn := c.conn
	c.mu.Unlock()

	data, err := EncodeFrame(event, id, payload)
	if err != nil {
		c.failAck(id, err)
		return
	}
	if err := conn.WriteMessage(data); err != nil {
		c.failAck(id, fmt.Errorf("join write failed: %w", err))
	}
}

// run is the connection loop: dial, announce, read until failure,
// back off, repeat. It exits only when Disconnect cancels the context.
func (c *Channel) run(ctx context.Context) {
	backoff := c.cfg.InitialBackoff
	for {
		c.setState(StateConnecting)
		conn, err := c.transport.Dial(ctx)
		if err != nil {
			c.setState(StateDisconnected)
			if ctx.Err() != nil {
				return
			}
			log.Printf("channel: dial failed, retrying in %s: %v", backoff, err)
			if !sleep(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff, c.cfg)
			continue
		}
		backoff = c.cfg.InitialBackoff

		c.mu.Lock()
		if ctx.Err() != nil {
			c.mu.Unlock()
			conn.Close()
			return
		}
		c.conn = conn
		c.gen++
		gen := c.gen
		c.state = StateConnected
		cbs := make([]func(), len(c.connected))
		copy(cbs, c.connected)
		c.mu.Unlock()

		// Room joins happen here, before the read loop delivers
		// anything the server may already have buffered.
		for _, cb := range cbs {
			cb()
		}

		c.readLoop(conn, gen)

		c.mu.Lock()
		stale := c.gen != gen
		if !stale {
			c.conn = nil
			c.state = StateDisconnected
			c.dropPendingLocked()
		}
		dcbs := make([]func(), len(c.disconnected))
		copy(dcbs, c.disconnected)
		c.mu.Unlock()
		conn.Close()

		if ctx.Err() != nil {
			return
		}
		if !stale {
			for _, cb := range dcbs {
				cb()
			}
		}
		log.Printf("channel: connection lost, reconnecting in %s", backoff)
		if !sleep(ctx, backoff) {
			return
		}
		backoff = nextBackoff(backoff, c.cfg)
	}
}

func (c *Channel) readLoop(conn Conn, gen uint64) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		c.dispatch(gen, data)
	}
}

func (c *Channel) dispatch(gen uint64, data []byte) {
	var frame Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		log.Printf("channel: dropping malformed frame: %v", err)
		return
	}

	if frame.Event == EventAck {
		c.resolveAck(gen, frame)
		return
	}

	c.mu.Lock()
	if gen != c.gen {
		// Frame from a connection that has since been replaced.
		c.mu.Unlock()
		return
	}
	h := c.handlers[frame.Event]
	c.mu.Unlock()

	if h != nil {
		h(frame.Payload)
	}
}

func (c *Channel) resolveAck(gen uint64, frame Frame) {
	c.mu.Lock()
	p, ok := c.pending[frame.Ack]
	if ok {
		delete(c.pending, frame.Ack)
	}
	current := c.gen
	c.mu.Unlock()

	if !ok {
		return
	}
	p.timer.Stop()
	if p.gen != gen || gen != current {
		// Ack for a join issued on an earlier connection: discard.
		return
	}

	var ack AckPayload
	if err := json.Unmarshal(frame.Payload, &ack); err != nil {
		p.cb(fmt.Errorf("malformed ack payload: %w", err))
		return
	}
	if !ack.OK {
		p.cb(fmt.Errorf("%w: %s", ErrJoinRejected, ack.Error))
		return
	}
	p.cb(nil)
}

func (c *Channel) failAck(id int64, err error) {
	c.mu.Lock()
	p, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()
	if ok {
		p.timer.Stop()
		p.cb(err)
	}
}

// dropPendingLocked discards in-flight acks without invoking callbacks:
// an ack that would arrive after a disconnect must not be applied.
func (c *Channel) dropPendingLocked() {
	for id, p := range c.pending {
		p.timer.Stop()
		delete(c.pending, id)
	}
}

func (c *Channel) setState(s ConnState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func nextBackoff(current time.Duration, cfg Config) time.Duration {
	next := time.Duration(float64(current) * cfg.BackoffFactor)
	if next > cfg.MaxBackoff {
		next = cfg.MaxBackoff
	}
	return next
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
