package models

import "fmt"

// MenuCategory groups items for display. Categories are advisory; the
// ordering flow only needs the item itself.
type MenuCategory string

const (
	MenuCategoryAppetizer MenuCategory = "appetizer"
	MenuCategoryEntree    MenuCategory = "entree"
	MenuCategorySide      MenuCategory = "side"
	MenuCategoryDessert   MenuCategory = "dessert"
	MenuCategoryBeverage  MenuCategory = "beverage"
)

// MenuItem is a dish on a restaurant's menu. The cart keys lines off the
// item id and prices them from BasePrice plus selected option prices.
type MenuItem struct {
	ID           uint          `gorm:"primary_key" json:"id"`
	RestaurantID uint          `json:"restaurant_id"`
	Name         string        `json:"name"`
	Description  string        `json:"description,omitempty"`
	Category     MenuCategory  `json:"category,omitempty"`
	BasePrice    Cents         `gorm:"column:base_price_cents" json:"base_price_cents"`
	Available    bool          `json:"available"`
	Groups       []OptionGroup `gorm:"foreignkey:ItemID" json:"option_groups,omitempty"`
}

// OptionGroup is a named set of options on an item ("Extras", "Size").
type OptionGroup struct {
	ID      uint         `gorm:"primary_key" json:"id"`
	ItemID  uint         `json:"-"`
	Name    string       `json:"name"`
	Options []MenuOption `gorm:"foreignkey:GroupID" json:"options"`
}

// MenuOption is one additive choice within a group.
type MenuOption struct {
	ID      uint   `gorm:"primary_key" json:"id"`
	GroupID uint   `json:"-"`
	Name    string `json:"name"`
	Price   Cents  `gorm:"column:price_cents" json:"price_cents"`
}

// Select converts a catalog option into the form an order line carries.
func (o MenuOption) Select() SelectedOption {
	return SelectedOption{OptionID: o.ID, Name: o.Name, Price: o.Price}
}

// ValidateMenuItem checks an item before it enters the catalog.
func ValidateMenuItem(item MenuItem) error {
	if item.RestaurantID == 0 {
		return fmt.Errorf("menu item missing restaurant id")
	}
	if item.Name == "" {
		return fmt.Errorf("menu item name is required")
	}
	if item.BasePrice <= 0 {
		return fmt.Errorf("menu item price must be greater than 0")
	}
	for _, g := range item.Groups {
		if g.Name == "" {
			return fmt.Errorf("option group on %q missing name", item.Name)
		}
		for _, opt := range g.Options {
			if opt.Name == "" {
				return fmt.Errorf("option in %q missing name", g.Name)
			}
			if opt.Price < 0 {
				return fmt.Errorf("option %q has negative price", opt.Name)
			}
		}
	}
	return nil
}
