package models

import "fmt"

// OrderState is a stage in the order lifecycle. StateDraft exists only
// client-side (the cart) and never crosses the wire; an order enters the
// system as StateSubmitted and the authority advances it to
// StateKitchenQueued on receipt.
type OrderState string

const (
	StateDraft          OrderState = "draft"
	StateSubmitted      OrderState = "submitted"
	StateKitchenQueued  OrderState = "kitchen_queued"
	StatePreparing      OrderState = "preparing"
	StateReady          OrderState = "ready"
	StateCashierBilling OrderState = "cashier_billing"
	StateCompleted      OrderState = "completed"
	StateCancelled      OrderState = "cancelled"
)

// ParseOrderState validates a state string arriving over the wire.
// StateDraft is deliberately rejected: drafts never leave the client.
func ParseOrderState(s string) (OrderState, error) {
	switch OrderState(s) {
	case StateSubmitted, StateKitchenQueued, StatePreparing, StateReady,
		StateCashierBilling, StateCompleted, StateCancelled:
		return OrderState(s), nil
	}
	return "", fmt.Errorf("unknown order state %q", s)
}

// Terminal reports whether no further transitions leave the state.
func (s OrderState) Terminal() bool {
	return s == StateCompleted || s == StateCancelled
}

// transitions maps each state to the states it may advance to and the
// roles allowed to trigger each advance. RoleAuthority marks the
// server-side auto-advance performed on order receipt.
const RoleAuthority Role = "authority"

var transitions = map[OrderState]map[OrderState][]Role{
	StateDraft: {
		StateSubmitted: {RoleCustomer},
	},
	StateSubmitted: {
		StateKitchenQueued: {RoleAuthority},
		StateCancelled:     {RoleKitchen, RoleCashier},
	},
	StateKitchenQueued: {
		StatePreparing: {RoleKitchen},
		StateCancelled: {RoleKitchen, RoleCashier},
	},
	StatePreparing: {
		StateReady:     {RoleKitchen},
		StateCancelled: {RoleKitchen, RoleCashier},
	},
	StateReady: {
		StateCashierBilling: {RoleCashier},
		StateCancelled:      {RoleKitchen, RoleCashier},
	},
	StateCashierBilling: {
		StateCompleted: {RoleCashier},
		StateCancelled: {RoleKitchen, RoleCashier},
	},
}

// CanTransition reports whether the lifecycle allows moving from one
// state to another, regardless of actor.
func CanTransition(from, to OrderState) bool {
	_, ok := transitions[from][to]
	return ok
}

// RoleMayTransition reports whether the given role is allowed to trigger
// the from->to transition.
func RoleMayTransition(role Role, from, to OrderState) bool {
	for _, r := range transitions[from][to] {
		if r == role {
			return true
		}
	}
	return false
}
