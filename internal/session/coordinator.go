// Package session wires credential binding, the channel, and the order
// projection together for one role client: resolve who we are, open the
// channel, and keep our rooms joined across reconnects.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"

	"tableflow/internal/auth"
	"tableflow/internal/channel"
	"tableflow/internal/models"
	"tableflow/internal/projection"
)

// Inline carries credentials supplied at launch, e.g. via a one-time
// link. When present they are persisted for later reuse.
type Inline struct {
	RestaurantID uint
	UserID       uint
	Token        string
}

type roomJoin struct {
	event   string
	payload models.JoinPayload
}

// Coordinator runs one role session: a resolved credential, a connected
// channel, and a projection fed by the room broadcasts.
type Coordinator struct {
	store auth.SessionStore
	ch    *channel.Channel
	proj  *projection.Projection

	mu         sync.Mutex
	cred       *auth.Credential
	rooms      []roomJoin
	started    bool
	registered bool

	// OnJoinError is reported join failures; OnChange fires after every
	// broadcast that moved the projection. Both optional, set before Start.
	OnJoinError func(room string, err error)
	OnChange    func(orderID uint, state models.OrderState)
}

// New creates a coordinator over an already-constructed channel and
// projection. Nothing connects until Start.
func New(store auth.SessionStore, ch *channel.Channel, proj *projection.Projection) *Coordinator {
	return &Coordinator{store: store, ch: ch, proj: proj}
}

// Resolve binds the session credential. Inline supply wins and is
// persisted; otherwise the persisted session is used. With neither,
// auth.ErrUnauthenticated is returned and the caller must not Start.
func (c *Coordinator) Resolve(ctx context.Context, inline *Inline) error {
	var sess auth.StoredSession
	switch {
	case inline != nil:
		sess = auth.StoredSession{
			RestaurantID: inline.RestaurantID,
			UserID:       inline.UserID,
			Token:        inline.Token,
		}
		if err := c.store.Set(ctx, sess); err != nil {
			// Persistence failure degrades reuse, not this session.
			log.Printf("session: failed to persist credentials: %v", err)
		}
	default:
		var err error
		sess, err = c.store.Get(ctx)
		if errors.Is(err, auth.ErrNoSession) {
			return auth.ErrUnauthenticated
		}
		if err != nil {
			return fmt.Errorf("resolving session: %w", err)
		}
	}

	cred, err := auth.BindToken(sess.RestaurantID, sess.UserID, sess.Token)
	if err != nil {
		return fmt.Errorf("%w: %v", auth.ErrUnauthenticated, err)
	}

	c.mu.Lock()
	c.cred = &cred
	c.mu.Unlock()
	return nil
}

// Credential returns the resolved tuple. Valid only after Resolve.
func (c *Coordinator) Credential() (auth.Credential, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cred == nil {
		return auth.Credential{}, false
	}
	return *c.cred, true
}

// Start registers the event handlers and room joins for the resolved
// role and connects the channel. Refuses to touch the network while
// unauthenticated.
func (c *Coordinator) Start() error {
	c.mu.Lock()
	if c.cred == nil {
		c.mu.Unlock()
		return auth.ErrUnauthenticated
	}
	if c.started {
		c.mu.Unlock()
		return nil
	}
	c.started = true
	cred := *c.cred

	// Handlers, the reconnect hook, and the role room are registered once
	// for the coordinator's lifetime; Stop/Start cycles must not stack
	// duplicates that would multiply joins on the next connection.
	register := !c.registered
	c.registered = true
	if register {
		switch cred.Role {
		case models.RoleKitchen, models.RoleDelivery:
			c.rooms = append(c.rooms, roomJoin{
				event:   models.EventJoinKitchen,
				payload: models.JoinPayload{RestaurantID: cred.RestaurantID},
			})
		case models.RoleCashier:
			c.rooms = append(c.rooms, roomJoin{
				event:   models.EventJoinCashier,
				payload: models.JoinPayload{RestaurantID: cred.RestaurantID},
			})
		}
	}
	c.mu.Unlock()

	if register {
		c.ch.On(models.EventNewOrder, c.handleNewOrder)
		c.ch.On(models.EventOrderUpdated, c.handleOrderUpdated)

		// Room membership does not survive a reconnect; re-issue every
		// join each time the transport comes back.
		c.ch.OnConnected(c.joinAll)
	}

	c.ch.Connect()
	return nil
}

// Stop releases the channel. The credential stays resolved so a later
// Start can reconnect without a fresh Resolve.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	c.started = false
	c.mu.Unlock()
	c.ch.Disconnect()
}

// Projection exposes the session's order mirror for the UI layer.
func (c *Coordinator) Projection() *projection.Projection {
	return c.proj
}

// WatchOrder subscribes the session to one order's room, e.g. after the
// customer submits or a display opens a ticket's detail view. The join
// is re-issued on every reconnect like any other room.
func (c *Coordinator) WatchOrder(orderID uint) {
	join := roomJoin{
		event:   models.EventJoinOrder,
		payload: models.JoinPayload{OrderID: orderID},
	}

	c.mu.Lock()
	for _, r := range c.rooms {
		if r.event == join.event && r.payload.OrderID == orderID {
			c.mu.Unlock()
			return
		}
	}
	c.rooms = append(c.rooms, join)
	c.mu.Unlock()

	c.join(join)
}

func (c *Coordinator) joinAll() {
	c.mu.Lock()
	rooms := make([]roomJoin, len(c.rooms))
	copy(rooms, c.rooms)
	c.mu.Unlock()
	for _, r := range rooms {
		c.join(r)
	}
}

func (c *Coordinator) join(r roomJoin) {
	c.ch.JoinRoom(r.event, r.payload, func(err error) {
		if err == nil {
			return
		}
		log.Printf("session: join %s failed: %v", r.event, err)
		if c.OnJoinError != nil {
			c.OnJoinError(r.event, err)
		}
	})
}

func (c *Coordinator) handleNewOrder(raw json.RawMessage) {
	ev, err := models.DecodeNewOrder(raw)
	if err != nil {
		log.Printf("session: %v", err)
		return
	}
	if c.proj.ApplyNewOrder(ev.Order) && c.OnChange != nil {
		c.OnChange(ev.Order.ID, ev.Order.State)
	}
}

func (c *Coordinator) handleOrderUpdated(raw json.RawMessage) {
	ev, err := models.DecodeOrderUpdated(raw)
	if err != nil {
		log.Printf("session: %v", err)
		return
	}
	if c.proj.ApplyUpdate(ev) && c.OnChange != nil {
		c.OnChange(ev.OrderID, ev.State)
	}
}
