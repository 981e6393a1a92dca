package server

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tableflow/internal/auth"
	"tableflow/internal/channel"
	"tableflow/internal/models"
)

// fakeOrders maps order id to owning restaurant for join scoping.
type fakeOrders map[uint]uint

func (f fakeOrders) Get(id uint) (*models.Order, error) {
	rid, ok := f[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &models.Order{ID: id, RestaurantID: rid}, nil
}

func fakeClient(hub *Hub, role models.Role) *wsClient {
	return &wsClient{
		hub:  hub,
		send: make(chan []byte, 16),
		cred: auth.Credential{RestaurantID: 7, UserID: 12, Role: role, Token: "tok"},
	}
}

func joinFrame(t *testing.T, event string, ack int64, payload models.JoinPayload) []byte {
	t.Helper()
	data, err := channel.EncodeFrame(event, ack, payload)
	require.NoError(t, err)
	return data
}

func readAck(t *testing.T, c *wsClient) channel.AckPayload {
	t.Helper()
	select {
	case data := <-c.send:
		var f channel.Frame
		require.NoError(t, json.Unmarshal(data, &f))
		require.Equal(t, channel.EventAck, f.Event)
		var ack channel.AckPayload
		require.NoError(t, json.Unmarshal(f.Payload, &ack))
		return ack
	case <-time.After(time.Second):
		t.Fatal("no ack sent")
		return channel.AckPayload{}
	}
}

func TestJoinKitchen_AdmitsKitchenRole(t *testing.T) {
	hub := NewHub()
	c := fakeClient(hub, models.RoleKitchen)

	c.handleFrame(joinFrame(t, models.EventJoinKitchen, 1, models.JoinPayload{RestaurantID: 7}))

	ack := readAck(t, c)
	assert.True(t, ack.OK)
	assert.Equal(t, 1, hub.roomCount(models.KitchenRoom(7)))
}

func TestJoinKitchen_RejectsCashier(t *testing.T) {
	hub := NewHub()
	c := fakeClient(hub, models.RoleCashier)

	c.handleFrame(joinFrame(t, models.EventJoinKitchen, 1, models.JoinPayload{RestaurantID: 7}))

	ack := readAck(t, c)
	assert.False(t, ack.OK)
	assert.Zero(t, hub.roomCount(models.KitchenRoom(7)))
}

func TestJoin_RestaurantMustMatchSession(t *testing.T) {
	hub := NewHub()
	c := fakeClient(hub, models.RoleKitchen)

	c.handleFrame(joinFrame(t, models.EventJoinKitchen, 1, models.JoinPayload{RestaurantID: 99}))

	ack := readAck(t, c)
	assert.False(t, ack.OK)
}

func TestJoinOrder_AnyRoleOfOwningRestaurant(t *testing.T) {
	hub := NewHub()
	hub.orders = fakeOrders{42: 7}
	c := fakeClient(hub, models.RoleCustomer)

	c.handleFrame(joinFrame(t, models.EventJoinOrder, 1, models.JoinPayload{OrderID: 42}))

	ack := readAck(t, c)
	assert.True(t, ack.OK)
	assert.Equal(t, 1, hub.roomCount(models.OrderRoom(42)))
}

func TestJoinOrder_OtherRestaurantRejected(t *testing.T) {
	hub := NewHub()
	hub.orders = fakeOrders{42: 99}
	c := fakeClient(hub, models.RoleCustomer)

	c.handleFrame(joinFrame(t, models.EventJoinOrder, 1, models.JoinPayload{OrderID: 42}))

	ack := readAck(t, c)
	assert.False(t, ack.OK)
	assert.Zero(t, hub.roomCount(models.OrderRoom(42)))
}

func TestJoinOrder_UnknownOrderRejected(t *testing.T) {
	hub := NewHub()
	hub.orders = fakeOrders{}
	c := fakeClient(hub, models.RoleCustomer)

	c.handleFrame(joinFrame(t, models.EventJoinOrder, 1, models.JoinPayload{OrderID: 42}))

	ack := readAck(t, c)
	assert.False(t, ack.OK)
}

func TestJoinIsIdempotent(t *testing.T) {
	hub := NewHub()
	c := fakeClient(hub, models.RoleKitchen)

	for i := int64(1); i <= 3; i++ {
		c.handleFrame(joinFrame(t, models.EventJoinKitchen, i, models.JoinPayload{RestaurantID: 7}))
		readAck(t, c)
	}
	assert.Equal(t, 1, hub.roomCount(models.KitchenRoom(7)))
}

func TestBroadcast_DeduplicatesAcrossRooms(t *testing.T) {
	hub := NewHub()
	c := fakeClient(hub, models.RoleKitchen)
	hub.join(c, models.KitchenRoom(7))
	hub.join(c, models.OrderRoom(42))

	hub.Broadcast(
		[]string{models.KitchenRoom(7), models.OrderRoom(42)},
		models.EventOrderUpdated,
		models.OrderUpdatedEvent{OrderID: 42, RestaurantID: 7, State: models.StateReady},
	)

	<-c.send
	select {
	case <-c.send:
		t.Fatal("client in two target rooms must receive the event once")
	case <-time.After(20 * time.Millisecond):
	}
}

func TestRemoveDropsAllMemberships(t *testing.T) {
	hub := NewHub()
	c := fakeClient(hub, models.RoleKitchen)
	hub.join(c, models.KitchenRoom(7))
	hub.join(c, models.OrderRoom(42))

	hub.remove(c)
	assert.Zero(t, hub.roomCount(models.KitchenRoom(7)))
	assert.Zero(t, hub.roomCount(models.OrderRoom(42)))
}
