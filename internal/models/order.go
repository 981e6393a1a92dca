package models

import (
	"fmt"
	"time"
)

// SelectedOption is an additive modifier chosen on an order line. The same
// option id never appears twice in one line's option set.
type SelectedOption struct {
	ID       uint   `gorm:"primary_key" json:"-"`
	LineID   uint   `json:"-"`
	OptionID uint   `json:"id"`
	Name     string `json:"name"`
	Price    Cents  `gorm:"column:price_cents" json:"price_cents"`
}

// OrderLine is one priced unit within an order: an item, its selected
// options, a quantity and a free-text comment.
type OrderLine struct {
	ID        uint             `gorm:"primary_key" json:"-"`
	OrderID   uint             `json:"-"`
	ItemID    uint             `json:"item_id"`
	Name      string           `json:"name"`
	BasePrice Cents            `gorm:"column:base_price_cents" json:"base_price_cents"`
	Options   []SelectedOption `gorm:"foreignkey:LineID" json:"options"`
	Quantity  int              `json:"quantity"`
	Comment   string           `json:"comment,omitempty"`
}

// Total returns (base price + sum of option prices) x quantity.
func (l OrderLine) Total() Cents {
	unit := l.BasePrice
	for _, opt := range l.Options {
		unit += opt.Price
	}
	return unit.Mul(l.Quantity)
}

// Order is the shared mutable entity every role synchronizes on. The
// authority owns the record once submitted; clients hold projections.
type Order struct {
	ID           uint        `gorm:"primary_key" json:"id"`
	RestaurantID uint        `json:"restaurant_id"`
	TableID      *uint       `json:"table_id,omitempty"`
	Lines        []OrderLine `gorm:"foreignkey:OrderID" json:"lines"`
	State        OrderState  `json:"state"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// Total sums the line totals.
func (o Order) Total() Cents {
	var total Cents
	for _, l := range o.Lines {
		total += l.Total()
	}
	return total
}

// Validate checks an order payload at the submission boundary.
func (o Order) Validate() error {
	if o.RestaurantID == 0 {
		return fmt.Errorf("order missing restaurant id")
	}
	if len(o.Lines) == 0 {
		return fmt.Errorf("order has no lines")
	}
	for i, l := range o.Lines {
		if l.ItemID == 0 {
			return fmt.Errorf("line %d missing item id", i)
		}
		if l.Quantity < 1 {
			return fmt.Errorf("line %d quantity must be at least 1", i)
		}
		seen := make(map[uint]bool, len(l.Options))
		for _, opt := range l.Options {
			if seen[opt.OptionID] {
				return fmt.Errorf("line %d selects option %d twice", i, opt.OptionID)
			}
			seen[opt.OptionID] = true
		}
	}
	return nil
}
