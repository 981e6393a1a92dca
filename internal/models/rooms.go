package models

import "fmt"

// Rooms are named broadcast scopes. A restaurant has one room per staff
// role, and every submitted order gets its own room so the customer who
// placed it can follow live status.

func KitchenRoom(restaurantID uint) string {
	return fmt.Sprintf("kitchen:%d", restaurantID)
}

func CashierRoom(restaurantID uint) string {
	return fmt.Sprintf("cashier:%d", restaurantID)
}

func OrderRoom(orderID uint) string {
	return fmt.Sprintf("order:%d", orderID)
}

// RoleRoom returns the restaurant-scoped room a staff role subscribes to.
// Customer sessions subscribe to per-order rooms instead.
func RoleRoom(restaurantID uint, role Role) (string, bool) {
	switch role {
	case RoleKitchen, RoleDelivery:
		return KitchenRoom(restaurantID), true
	case RoleCashier:
		return CashierRoom(restaurantID), true
	}
	return "", false
}

// FanoutRooms returns every room a transition to the given state is
// broadcast to. The kitchen follows an order until it leaves the kitchen,
// the cashier from the moment it is queued until it is settled, and the
// per-order room sees everything.
func FanoutRooms(restaurantID, orderID uint, state OrderState) []string {
	rooms := []string{OrderRoom(orderID)}
	switch state {
	case StateKitchenQueued, StatePreparing:
		rooms = append(rooms, KitchenRoom(restaurantID))
	case StateReady:
		rooms = append(rooms, KitchenRoom(restaurantID), CashierRoom(restaurantID))
	case StateCashierBilling, StateCompleted:
		rooms = append(rooms, CashierRoom(restaurantID))
	case StateCancelled:
		rooms = append(rooms, KitchenRoom(restaurantID), CashierRoom(restaurantID))
	}
	return rooms
}
