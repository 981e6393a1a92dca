// Package projection holds a client's read-mostly mirror of authoritative
// order state. The mirror moves only on authority broadcasts or on the
// client's own acknowledged action; anything outside the lifecycle table
// is ignored without error.
package projection

import (
	"log"
	"sort"
	"sync"

	"tableflow/internal/models"
)

// Projection is one client's local cache of orders. Safe for concurrent
// use: channel callbacks write while the UI reads.
type Projection struct {
	mu     sync.RWMutex
	orders map[uint]models.Order
}

func New() *Projection {
	return &Projection{orders: make(map[uint]models.Order)}
}

// ApplyNewOrder inserts an order announced by a new_order broadcast.
// Re-announcements of a known order are no-ops.
func (p *Projection) ApplyNewOrder(order models.Order) bool {
	if order.ID == 0 {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.orders[order.ID]; ok {
		return false
	}
	p.orders[order.ID] = order
	return true
}

// ApplyUpdate moves an order to a new state if the lifecycle allows it.
// Returns true when the projection changed. Duplicate (order, state)
// broadcasts and transitions outside the table leave the projection
// untouched; an update for an unknown order seeds a minimal entry, which
// covers displays catching up after a reconnect.
func (p *Projection) ApplyUpdate(ev models.OrderUpdatedEvent) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	current, ok := p.orders[ev.OrderID]
	if !ok {
		p.orders[ev.OrderID] = models.Order{
			ID:           ev.OrderID,
			RestaurantID: ev.RestaurantID,
			State:        ev.State,
			UpdatedAt:    ev.UpdatedAt,
		}
		return true
	}

	if current.State == ev.State {
		// Idempotent re-delivery.
		return false
	}
	if !models.CanTransition(current.State, ev.State) {
		log.Printf("projection: ignoring illegal transition %s -> %s for order %d",
			current.State, ev.State, ev.OrderID)
		return false
	}

	current.State = ev.State
	if !ev.UpdatedAt.IsZero() {
		current.UpdatedAt = ev.UpdatedAt
	}
	p.orders[ev.OrderID] = current
	return true
}

// Confirm applies the outcome of the client's own acknowledged action.
// Only called after the authority accepted the mutation, so the full
// order record from the response replaces the local copy.
func (p *Projection) Confirm(order models.Order) {
	if order.ID == 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.orders[order.ID] = order
}

// Get returns the projected order, if known.
func (p *Projection) Get(orderID uint) (models.Order, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	o, ok := p.orders[orderID]
	return o, ok
}

// Snapshot returns all projected orders sorted by id, oldest first.
func (p *Projection) Snapshot() []models.Order {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]models.Order, 0, len(p.orders))
	for _, o := range p.orders {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Drop removes an order from the local cache, e.g. when a display clears
// a completed ticket.
func (p *Projection) Drop(orderID uint) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.orders, orderID)
}
