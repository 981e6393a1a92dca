// Package cart turns raw item and option selections into priced order
// lines. It is pure: no network, no storage, no clock.
package cart

import (
	"sort"

	"tableflow/internal/models"
)

// ComputeLineTotal returns (base price + sum of option prices) x quantity.
// Quantities below 1 are treated as 1, matching BuildLine's clamp.
func ComputeLineTotal(item models.MenuItem, options []models.SelectedOption, quantity int) models.Cents {
	if quantity < 1 {
		quantity = 1
	}
	unit := item.BasePrice
	for _, opt := range options {
		unit += opt.Price
	}
	return unit.Mul(quantity)
}

// ToggleOption flips an option's membership in the selection: present
// options are removed, absent ones added. The input slice is not mutated.
func ToggleOption(current []models.SelectedOption, option models.SelectedOption) []models.SelectedOption {
	next := make([]models.SelectedOption, 0, len(current)+1)
	removed := false
	for _, opt := range current {
		if opt.OptionID == option.OptionID {
			removed = true
			continue
		}
		next = append(next, opt)
	}
	if !removed {
		next = append(next, option)
	}
	return next
}

// BuildLine assembles a priced order line. Quantity is clamped to at
// least 1: decrementing below 1 is a no-op, not an error.
func BuildLine(item models.MenuItem, quantity int, options []models.SelectedOption, comment string) models.OrderLine {
	if quantity < 1 {
		quantity = 1
	}
	opts := make([]models.SelectedOption, len(options))
	copy(opts, options)
	return models.OrderLine{
		ItemID:    item.ID,
		Name:      item.Name,
		BasePrice: item.BasePrice,
		Options:   opts,
		Quantity:  quantity,
		Comment:   comment,
	}
}

// MergeLine folds a new line into an existing set: a line with the same
// item, option set, and comment absorbs the new quantity; otherwise the
// line is appended. Option-set equality is order-independent.
func MergeLine(lines []models.OrderLine, line models.OrderLine) []models.OrderLine {
	for i, existing := range lines {
		if existing.ItemID == line.ItemID &&
			existing.Comment == line.Comment &&
			sameOptions(existing.Options, line.Options) {
			merged := make([]models.OrderLine, len(lines))
			copy(merged, lines)
			merged[i].Quantity += line.Quantity
			return merged
		}
	}
	return append(append([]models.OrderLine(nil), lines...), line)
}

// OrderTotal sums the line totals of the whole cart.
func OrderTotal(lines []models.OrderLine) models.Cents {
	var total models.Cents
	for _, l := range lines {
		total += l.Total()
	}
	return total
}

func sameOptions(a, b []models.SelectedOption) bool {
	if len(a) != len(b) {
		return false
	}
	ids := func(opts []models.SelectedOption) []uint {
		out := make([]uint, len(opts))
		for i, o := range opts {
			out[i] = o.OptionID
		}
		sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
		return out
	}
	ai, bi := ids(a), ids(b)
	for i := range ai {
		if ai[i] != bi[i] {
			return false
		}
	}
	return true
}
