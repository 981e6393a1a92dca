package channel

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is one established transport connection. Implementations must be
// safe for one concurrent reader plus writers.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
}

// Transport dials new connections. The channel owns reconnect policy;
// the transport only knows how to establish a single connection.
type Transport interface {
	Dial(ctx context.Context) (Conn, error)
}

// WebsocketTransport dials a websocket endpoint, the production
// transport behind every role client.
type WebsocketTransport struct {
	URL    string
	Dialer *websocket.Dialer
}

func NewWebsocketTransport(url string) *WebsocketTransport {
	return &WebsocketTransport{
		URL: url,
		Dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
		},
	}
}

func (t *WebsocketTransport) Dial(ctx context.Context) (Conn, error) {
	conn, _, err := t.Dialer.DialContext(ctx, t.URL, nil)
	if err != nil {
		return nil, err
	}
	return &wsConn{conn: conn}, nil
}

type wsConn struct {
	conn *websocket.Conn
	wmu  sync.Mutex // gorilla allows a single concurrent writer
}

func (c *wsConn) ReadMessage() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	return data, err
}

func (c *wsConn) WriteMessage(data []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) Close() error {
	return c.conn.Close()
}
