// Package selection implements the in-memory working list a staff member
// builds while preparing a dispatch. A Set is owned by exactly one dispatch
// session and is never shared, so it needs no locking.
package selection

import (
	"context"
	"errors"

	"github.com/mise-kitchen/mise-kitchen/internal/catalog"
)

// Catalog is the availability lookup the set bounds its quantities against.
type Catalog interface {
	Lookup(ctx context.Context, locationID, itemID int64) (catalog.ItemAvailability, error)
}

// ErrExpiredItem rejects expired batches; expired stock never enters a set.
var ErrExpiredItem = errors.New("selection: expired batch cannot be selected")

// Line is one (item, quantity) pair in a set. Quantity is always > 0.
type Line struct {
	ItemID   int64 `json:"item_id"`
	Quantity int64 `json:"quantity"`
}

// Set maps item ids to selected quantities. Insertion order is preserved for
// display; it has no bearing on correctness.
type Set struct {
	locationID int64
	lines      map[int64]*Line
	order      []int64
}

// NewSet creates an empty set scoped to a location.
func NewSet(locationID int64) *Set {
	return &Set{locationID: locationID, lines: make(map[int64]*Line)}
}

// LocationID returns the location the set draws stock from.
func (s *Set) LocationID() int64 {
	return s.locationID
}

// AdjustQuantity applies a +/- delta to an item's selected quantity.
//
// The first touch of an item always inserts quantity 1 regardless of the
// delta magnitude. Subsequent adjustments clamp to [0, available]; a clamped
// result of 0 removes the line.
func (s *Set) AdjustQuantity(ctx context.Context, cat Catalog, itemID int64, delta int64) error {
	avail, err := cat.Lookup(ctx, s.locationID, itemID)
	if err != nil {
		return err
	}
	if avail.Expired {
		return ErrExpiredItem
	}
	line, ok := s.lines[itemID]
	if !ok {
		if delta <= 0 {
			return nil
		}
		if qty := avail.Clamp(1); qty > 0 {
			s.insert(itemID, qty)
		}
		return nil
	}
	qty := avail.Clamp(line.Quantity + delta)
	if qty == 0 {
		s.Remove(itemID)
		return nil
	}
	line.Quantity = qty
	return nil
}

// SetQuantity writes an explicit quantity, clamped to [1, available]. When
// the item has no remaining availability the line is dropped instead.
func (s *Set) SetQuantity(ctx context.Context, cat Catalog, itemID int64, qty int64) error {
	avail, err := cat.Lookup(ctx, s.locationID, itemID)
	if err != nil {
		return err
	}
	if avail.Expired {
		return ErrExpiredItem
	}
	clamped := avail.Clamp(qty)
	if clamped < 1 {
		if !avail.Unbounded && avail.Quantity == 0 {
			s.Remove(itemID)
			return nil
		}
		clamped = 1
	}
	if line, ok := s.lines[itemID]; ok {
		line.Quantity = clamped
		return nil
	}
	s.insert(itemID, clamped)
	return nil
}

// Remove drops the item unconditionally.
func (s *Set) Remove(itemID int64) {
	if _, ok := s.lines[itemID]; !ok {
		return
	}
	delete(s.lines, itemID)
	for i, id := range s.order {
		if id == itemID {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// Clear empties the set after a successful submit or an explicit cancel.
func (s *Set) Clear() {
	s.lines = make(map[int64]*Line)
	s.order = nil
}

// TotalLines returns the number of distinct items selected.
func (s *Set) TotalLines() int {
	return len(s.lines)
}

// TotalUnits sums the selected quantities.
func (s *Set) TotalUnits() int64 {
	var total int64
	for _, line := range s.lines {
		total += line.Quantity
	}
	return total
}

// Lines returns a snapshot of the selection in insertion order.
func (s *Set) Lines() []Line {
	out := make([]Line, 0, len(s.order))
	for _, id := range s.order {
		if line, ok := s.lines[id]; ok {
			out = append(out, *line)
		}
	}
	return out
}

func (s *Set) insert(itemID, qty int64) {
	s.lines[itemID] = &Line{ItemID: itemID, Quantity: qty}
	s.order = append(s.order, itemID)
}
