package server

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"tableflow/internal/auth"
	"tableflow/internal/channel"
	"tableflow/internal/metrics"
	"tableflow/internal/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // role clients connect from their own origins
	},
}

// orderLookup resolves an order so joins can be scoped to the
// restaurant the session token binds.
type orderLookup interface {
	Get(id uint) (*models.Order, error)
}

// Hub is the single broadcast node: it tracks which connection sits in
// which room and fans events out. Per-subscriber ordering is preserved
// by the one write pump each connection owns.
type Hub struct {
	mu     sync.Mutex
	rooms  map[string]map[*wsClient]struct{}
	orders orderLookup
}

func NewHub() *Hub {
	return &Hub{rooms: make(map[string]map[*wsClient]struct{})}
}

// Broadcast sends one event to every connection in any of the given
// rooms. A connection sitting in several of them receives the event
// once; re-delivery is harmless anyway since projections apply events
// idempotently, but there is no reason to waste the frames.
func (h *Hub) Broadcast(rooms []string, event string, payload interface{}) {
	data, err := channel.EncodeFrame(event, 0, payload)
	if err != nil {
		log.Printf("hub: failed to encode %s broadcast: %v", event, err)
		return
	}
	metrics.Broadcasts.WithLabelValues(event).Inc()

	h.mu.Lock()
	targets := make(map[*wsClient]struct{})
	for _, room := range rooms {
		for c := range h.rooms[room] {
			targets[c] = struct{}{}
		}
	}
	h.mu.Unlock()

	for c := range targets {
		select {
		case c.send <- data:
		default:
			log.Printf("hub: send buffer full, dropping %s for one client", event)
		}
	}
}

func (h *Hub) join(c *wsClient, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[*wsClient]struct{})
		h.rooms[room] = members
	}
	members[c] = struct{}{}
}

func (h *Hub) remove(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for room, members := range h.rooms {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
}

// roomCount reports a room's membership, for tests and diagnostics.
func (h *Hub) roomCount(room string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms[room])
}

// wsClient is one connected role client.
type wsClient struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	cred auth.Credential
}

// ServeWS upgrades a client connection. The session token travels as a
// query parameter; an expired or invalid one is refused before the
// upgrade so the client sees a clean 403.
func (h *Hub) ServeWS(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		cred, err := auth.VerifyToken(secret, c.Query("token"))
		if err != nil {
			c.JSON(http.StatusForbidden, gin.H{"error": "session expired or invalid"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Printf("hub: failed to upgrade connection: %v", err)
			return
		}

		client := &wsClient{
			hub:  h,
			conn: conn,
			send: make(chan []byte, 256),
			done: make(chan struct{}),
			cred: cred,
		}
		metrics.ConnectionsActive.Inc()

		go client.writePump()
		go client.readPump()
	}
}

func (c *wsClient) readPump() {
	defer func() {
		c.hub.remove(c)
		c.conn.Close()
		close(c.done)
		metrics.ConnectionsActive.Dec()
	}()

	c.conn.SetReadLimit(64 * 1024)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("hub: websocket error: %v", err)
			}
			break
		}
		c.handleFrame(message)
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *wsClient) handleFrame(message []byte) {
	var frame channel.Frame
	if err := json.Unmarshal(message, &frame); err != nil {
		log.Printf("hub: dropping malformed frame: %v", err)
		return
	}

	var payload models.JoinPayload
	if len(frame.Payload) > 0 {
		if err := json.Unmarshal(frame.Payload, &payload); err != nil {
			c.ack(frame.Ack, false, "malformed join payload")
			return
		}
	}

	switch frame.Event {
	case models.EventJoinKitchen:
		c.handleJoin(frame, payload, models.RoleKitchen, models.RoleDelivery)
	case models.EventJoinCashier:
		c.handleJoin(frame, payload, models.RoleCashier)
	case models.EventJoinOrder:
		if payload.OrderID == 0 {
			c.ack(frame.Ack, false, "missing order id")
			metrics.RoomJoins.WithLabelValues(frame.Event, "rejected").Inc()
			return
		}
		// Any role may follow an order, but only orders of the session's
		// restaurant. Cross-restaurant ids look identical to unknown ones.
		if !c.orderVisible(payload.OrderID) {
			c.ack(frame.Ack, false, "order not found")
			metrics.RoomJoins.WithLabelValues(frame.Event, "rejected").Inc()
			return
		}
		c.hub.join(c, models.OrderRoom(payload.OrderID))
		c.ack(frame.Ack, true, "")
		metrics.RoomJoins.WithLabelValues(frame.Event, "ok").Inc()
	default:
		log.Printf("hub: unknown event %q from client", frame.Event)
	}
}

// handleJoin admits a staff role into its restaurant room. The room is
// derived from the credential, never from the payload, so a client can
// only ever join rooms of the restaurant its token binds.
func (c *wsClient) handleJoin(frame channel.Frame, payload models.JoinPayload, allowed ...models.Role) {
	roleOK := false
	for _, r := range allowed {
		if c.cred.Role == r {
			roleOK = true
			break
		}
	}
	if !roleOK {
		c.ack(frame.Ack, false, "role not allowed for this room")
		metrics.RoomJoins.WithLabelValues(frame.Event, "rejected").Inc()
		return
	}
	if payload.RestaurantID != 0 && payload.RestaurantID != c.cred.RestaurantID {
		c.ack(frame.Ack, false, "restaurant does not match session")
		metrics.RoomJoins.WithLabelValues(frame.Event, "rejected").Inc()
		return
	}

	room := models.KitchenRoom(c.cred.RestaurantID)
	if frame.Event == models.EventJoinCashier {
		room = models.CashierRoom(c.cred.RestaurantID)
	}
	c.hub.join(c, room)
	c.ack(frame.Ack, true, "")
	metrics.RoomJoins.WithLabelValues(frame.Event, "ok").Inc()
}

func (c *wsClient) orderVisible(orderID uint) bool {
	if c.hub.orders == nil {
		return false
	}
	order, err := c.hub.orders.Get(orderID)
	if err != nil {
		return false
	}
	return order.RestaurantID == c.cred.RestaurantID
}

func (c *wsClient) ack(id int64, ok bool, reason string) {
	if id == 0 {
		return
	}
	data, err := channel.EncodeFrame(channel.EventAck, id, channel.AckPayload{OK: ok, Error: reason})
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
		log.Println("hub: send buffer full, dropping ack")
	}
}
