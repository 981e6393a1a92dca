package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeConn is a scriptable connection: the test feeds inbound frames
// through serve and records everything the channel writes.
type fakeConn struct {
	inbound chan []byte

	mu     sync.Mutex
	writes [][]byte

	closeOnce sync.Once
	closed    chan struct{}
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbound: make(chan []byte, 16),
		closed:  make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case data := <-c.inbound:
		return data, nil
	case <-c.closed:
		return nil, errors.New("connection closed")
	}
}

func (c *fakeConn) WriteMessage(data []byte) error {
	select {
	case <-c.closed:
		return errors.New("connection closed")
	default:
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	c.writes = append(c.writes, cp)
	return nil
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

// serve pushes a server-originated frame to the client.
func (c *fakeConn) serve(t *testing.T, event string, ack int64, payload interface{}) {
	t.Helper()
	data, err := EncodeFrame(event, ack, payload)
	require.NoError(t, err)
	c.inbound <- data
}

func (c *fakeConn) frames(t *testing.T) []Frame {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Frame, 0, len(c.writes))
	for _, w := range c.writes {
		var f Frame
		require.NoError(t, json.Unmarshal(w, &f))
		out = append(out, f)
	}
	return out
}

// fakeTransport fails a configurable number of dials before handing out
// fresh fakeConns.
type fakeTransport struct {
	mu        sync.Mutex
	failNext  int
	dials     int
	conns     []*fakeConn
	connReady chan *fakeConn
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{connReady: make(chan *fakeConn, 16)}
}

func (t *fakeTransport) Dial(ctx context.Context) (Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dials++
	if t.failNext > 0 {
		t.failNext--
		return nil, fmt.Errorf("dial refused (%d)", t.dials)
	}
	conn := newFakeConn()
	t.conns = append(t.conns, conn)
	t.connReady <- conn
	return conn, nil
}

func (t *fakeTransport) failDials(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failNext = n
}

func (t *fakeTransport) dialCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dials
}

func waitConn(t *testing.T, tr *fakeTransport) *fakeConn {
	t.Helper()
	select {
	case conn := <-tr.connReady:
		return conn
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for connection")
		return nil
	}
}

func testConfig() Config {
	return Config{
		InitialBackoff: time.Millisecond,
		MaxBackoff:     4 * time.Millisecond,
		BackoffFactor:  2,
		JoinTimeout:    200 * time.Millisecond,
	}
}

func TestConnectIsIdempotent(t *testing.T) {
	tr := newFakeTransport()
	ch := New(tr, testConfig())
	defer ch.Disconnect()

	ch.Connect()
	waitConn(t, tr)
	ch.Connect()
	ch.Connect()

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, tr.dialCount(), "repeat Connect must not redial")
	assert.Equal(t, StateConnected, ch.State())
}

func TestOnReplacesHandler(t *testing.T) {
	tr := newFakeTransport()
	ch := New(tr, testConfig())
	defer ch.Disconnect()

	var first, second int32
	ch.On("order_updated", func(json.RawMessage) { atomic.AddInt32(&first, 1) })
	ch.On("order_updated", func(json.RawMessage) { atomic.AddInt32(&second, 1) })

	ch.Connect()
	conn := waitConn(t, tr)
	conn.serve(t, "order_updated", 0, map[string]any{"order_id": 1, "state": "preparing"})

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&second) == 1
	}, time.Second, time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&first),
		"replaced handler must not fire")
}

func TestOffRemovesHandler(t *testing.T) {
	tr := newFakeTransport()
	ch := New(tr, testConfig())
	defer ch.Disconnect()

	var fired int32
	ch.On("new_order", func(json.RawMessage) { atomic.AddInt32(&fired, 1) })
	ch.Off("new_order")

	ch.Connect()
	conn := waitConn(t, tr)
	conn.serve(t, "new_order", 0, map[string]any{"order": map[string]any{"id": 1}})

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&fired))
}

func TestJoinRoomAck(t *testing.T) {
	tr := newFakeTransport()
	ch := New(tr, testConfig())
	defer ch.Disconnect()

	ch.Connect()
	conn := waitConn(t, tr)
	require.Eventually(t, func() bool {
		return ch.State() == StateConnected
	}, time.Second, time.Millisecond)

	acked := make(chan error, 1)
	ch.JoinRoom("joinKitchen", map[string]uint{"restaurant_id": 7}, func(err error) {
		acked <- err
	})

	var join Frame
	require.Eventually(t, func() bool {
		frames := conn.frames(t)
		if len(frames) == 0 {
			return false
		}
		join = frames[0]
		return true
	}, time.Second, time.Millisecond)
	assert.Equal(t, "joinKitchen", join.Event)
	require.NotZero(t, join.Ack)

	conn.serve(t, EventAck, join.Ack, AckPayload{OK: true})
	select {
	case err := <-acked:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("ack callback never fired")
	}
}

func TestJoinRoomRejected(t *testing.T) {
	tr := newFakeTransport()
	ch := New(tr, testConfig())
	defer ch.Disconnect()

	ch.Connect()
	conn := waitConn(t, tr)
	require.Eventually(t, func() bool {
		return ch.State() == StateConnected
	}, time.Second, time.Millisecond)

	acked := make(chan error, 1)
	ch.JoinRoom("joinCashier", map[string]uint{"restaurant_id": 7}, func(err error) {
		acked <- err
	})

	var join Frame
	require.Eventually(t, func() bool {
		frames := conn.frames(t)
		if len(frames) == 0 {
			return false
		}
		join = frames[0]
		return true
	}, time.Second, time.Millisecond)

	conn.serve(t, EventAck, join.Ack, AckPayload{OK: false, Error: "wrong role"})
	select {
	case err := <-acked:
		assert.ErrorIs(t, err, ErrJoinRejected)
	case <-time.After(time.Second):
		t.Fatal("ack callback never fired")
	}
}

func TestJoinWhileDisconnected(t *testing.T) {
	tr := newFakeTransport()
	ch := New(tr, testConfig())

	acked := make(chan error, 1)
	ch.JoinRoom("joinKitchen", nil, func(err error) { acked <- err })
	select {
	case err := <-acked:
		assert.ErrorIs(t, err, ErrNotConnected)
	case <-time.After(time.Second):
		t.Fatal("ack callback never fired")
	}
}

func TestJoinAckTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.JoinTimeout = 10 * time.Millisecond
	tr := newFakeTransport()
	ch := New(tr, cfg)
	defer ch.Disconnect()

	ch.Connect()
	waitConn(t, tr)
	require.Eventually(t, func() bool {
		return ch.State() == StateConnected
	}, time.Second, time.Millisecond)

	acked := make(chan error, 1)
	ch.JoinRoom("joinOrder", map[string]uint{"order_id": 42}, func(err error) {
		acked <- err
	})
	select {
	case err := <-acked:
		assert.ErrorIs(t, err, ErrJoinTimeout)
	case <-time.After(time.Second):
		t.Fatal("timeout never reported")
	}
}

func TestAckAfterDisconnectIsDiscarded(t *testing.T) {
	cfg := testConfig()
	cfg.JoinTimeout = time.Minute // only disconnect should resolve it
	tr := newFakeTransport()
	ch := New(tr, cfg)

	ch.Connect()
	waitConn(t, tr)
	require.Eventually(t, func() bool {
		return ch.State() == StateConnected
	}, time.Second, time.Millisecond)

	var fired int32
	ch.JoinRoom("joinKitchen", map[string]uint{"restaurant_id": 7}, func(error) {
		atomic.AddInt32(&fired, 1)
	})
	ch.Disconnect()

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&fired),
		"in-flight ack must be discarded on disconnect, not delivered")
}

// The reconnect scenario: a session that joined a room loses the
// connection, survives several failed dials with capped backoff, and on
// the next successful connection re-joins the room exactly once before
// any buffered event reaches application code.
func TestReconnectRejoinsBeforeEventDelivery(t *testing.T) {
	tr := newFakeTransport()
	ch := New(tr, testConfig())
	defer ch.Disconnect()

	var joins int32
	ch.OnConnected(func() {
		atomic.AddInt32(&joins, 1)
		ch.JoinRoom("joinKitchen", map[string]uint{"restaurant_id": 7}, nil)
	})

	received := make(chan json.RawMessage, 4)
	ch.On("order_updated", func(p json.RawMessage) { received <- p })

	ch.Connect()
	conn1 := waitConn(t, tr)
	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&joins) == 1
	}, time.Second, time.Millisecond)

	// Drop the connection; the next 3 dials fail before one succeeds.
	tr.failDials(3)
	dialsBefore := tr.dialCount()
	conn1.Close()

	conn2 := waitConn(t, tr)
	require.GreaterOrEqual(t, tr.dialCount(), dialsBefore+4,
		"expected 3 failed dials before the successful one")

	// The join must already be on the wire when the server starts
	// flushing buffered events.
	require.Eventually(t, func() bool {
		frames := conn2.frames(t)
		return len(frames) == 1 && frames[0].Event == "joinKitchen"
	}, time.Second, time.Millisecond)
	assert.Equal(t, int32(2), atomic.LoadInt32(&joins),
		"exactly one re-join per reconnect")

	conn2.serve(t, "order_updated", 0, map[string]any{"order_id": 42, "state": "ready"})
	select {
	case <-received:
	case <-time.After(time.Second):
		t.Fatal("event after reconnect never delivered")
	}

	// No duplicate join for the same room on the same connection.
	assert.Len(t, conn2.frames(t), 1)
}

func TestDisconnectIsIdempotent(t *testing.T) {
	tr := newFakeTransport()
	ch := New(tr, testConfig())

	ch.Connect()
	waitConn(t, tr)
	ch.Disconnect()
	ch.Disconnect()
	assert.Equal(t, StateDisconnected, ch.State())
}
