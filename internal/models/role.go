package models

import "fmt"

// Role identifies which side of the restaurant a connected client serves.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleKitchen  Role = "kitchen"
	RoleCashier  Role = "cashier"
	RoleDelivery Role = "delivery"
)

// ParseRole validates a role string received from a token or request.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleCustomer, RoleKitchen, RoleCashier, RoleDelivery:
		return Role(s), nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}
