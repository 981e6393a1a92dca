package cart

import "tableflow/internal/models"

// Basket is the customer client's draft order. It wraps the pure line
// operations with the little bit of state a cart screen needs.
type Basket struct {
	lines []models.OrderLine
}

// Add builds a line from the selection and merges it into the basket.
func (b *Basket) Add(item models.MenuItem, quantity int, options []models.SelectedOption, comment string) {
	b.lines = MergeLine(b.lines, BuildLine(item, quantity, options, comment))
}

// Lines returns a copy of the current draft lines.
func (b *Basket) Lines() []models.OrderLine {
	out := make([]models.OrderLine, len(b.lines))
	copy(out, b.lines)
	return out
}

// Total is the draft order total.
func (b *Basket) Total() models.Cents {
	return OrderTotal(b.lines)
}

// Clear empties the basket, typically after a successful submit.
func (b *Basket) Clear() {
	b.lines = nil
}

// ToOrder produces the submission payload for the given restaurant and
// optional table. The order is a draft until the authority accepts it.
func (b *Basket) ToOrder(restaurantID uint, tableID *uint) models.Order {
	return models.Order{
		RestaurantID: restaurantID,
		TableID:      tableID,
		Lines:        b.Lines(),
		State:        models.StateDraft,
	}
}
