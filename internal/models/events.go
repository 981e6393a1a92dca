package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Broadcast event names. Each has a fixed payload schema validated at the
// boundary before anything is handed to the projection.
const (
	EventNewOrder     = "new_order"
	EventOrderUpdated = "order_updated"
)

// Join request event names understood by the hub.
const (
	EventJoinKitchen = "joinKitchen"
	EventJoinCashier = "joinCashier"
	EventJoinOrder   = "joinOrder"
)

// NewOrderEvent announces a freshly submitted order to the staff rooms.
type NewOrderEvent struct {
	Order Order `json:"order"`
}

// OrderUpdatedEvent announces a lifecycle transition. Only the fields a
// projection needs to move its copy forward are carried.
type OrderUpdatedEvent struct {
	OrderID      uint       `json:"order_id"`
	RestaurantID uint       `json:"restaurant_id"`
	State        OrderState `json:"state"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// DecodeNewOrder parses and validates a new_order payload.
func DecodeNewOrder(raw json.RawMessage) (NewOrderEvent, error) {
	var ev NewOrderEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return NewOrderEvent{}, fmt.Errorf("malformed new_order payload: %w", err)
	}
	if ev.Order.ID == 0 {
		return NewOrderEvent{}, fmt.Errorf("new_order payload missing order id")
	}
	if _, err := ParseOrderState(string(ev.Order.State)); err != nil {
		return NewOrderEvent{}, fmt.Errorf("new_order payload: %w", err)
	}
	return ev, nil
}

// DecodeOrderUpdated parses and validates an order_updated payload.
func DecodeOrderUpdated(raw json.RawMessage) (OrderUpdatedEvent, error) {
	var ev OrderUpdatedEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return OrderUpdatedEvent{}, fmt.Errorf("malformed order_updated payload: %w", err)
	}
	if ev.OrderID == 0 {
		return OrderUpdatedEvent{}, fmt.Errorf("order_updated payload missing order id")
	}
	if _, err := ParseOrderState(string(ev.State)); err != nil {
		return OrderUpdatedEvent{}, fmt.Errorf("order_updated payload: %w", err)
	}
	return ev, nil
}

// JoinPayload is the body of a room join request. Exactly one of the two
// scopes is set depending on the join event.
type JoinPayload struct {
	RestaurantID uint `json:"restaurant_id,omitempty"`
	OrderID      uint `json:"order_id,omitempty"`
}
