package catalog

import (
	"errors"
	"time"
)

// ItemKind distinguishes the two stock-bearing item variants.
type ItemKind string

const (
	// KindBatch is a dated, quantity-bounded production run.
	KindBatch ItemKind = "BATCH"
	// KindExternal is a supplier-provided product without a hard quantity cap.
	KindExternal ItemKind = "EXTERNAL"
)

// Item is a stock-bearing entry in a location's inventory.
type Item struct {
	ID          int64
	LocationID  int64
	Kind        ItemKind
	ProductName string

	// Batch fields, zero-valued for external items.
	BatchNumber       string
	ProducedQuantity  int64
	CommittedQuantity int64
	ExpiryDate        time.Time
	ProductionDate    time.Time

	// External fields.
	Supplier string
}

// ItemAvailability reports how much of an item may still be allocated.
type ItemAvailability struct {
	Quantity  int64
	Unbounded bool
	Expired   bool
}

// Clamp bounds a requested quantity to what the item can still supply.
func (a ItemAvailability) Clamp(qty int64) int64 {
	if qty < 0 {
		return 0
	}
	if a.Unbounded {
		return qty
	}
	if qty > a.Quantity {
		return a.Quantity
	}
	return qty
}

// Allows reports whether the requested quantity fits the availability.
func (a ItemAvailability) Allows(qty int64) bool {
	return a.Unbounded || qty <= a.Quantity
}

// StockRow is a display row combining item master data with availability.
type StockRow struct {
	Item      Item             `json:"item"`
	Available ItemAvailability `json:"available"`
}

// ErrItemNotFound indicates the item id is not part of the location's inventory.
var ErrItemNotFound = errors.New("catalog: item not found")

// availableQuantity derives the allocatable quantity for a batch. The
// committed quantity already includes reserved picks awaiting confirmation.
func availableQuantity(item Item) int64 {
	if item.Kind == KindExternal {
		return 0
	}
	avail := item.ProducedQuantity - item.CommittedQuantity
	if avail < 0 {
		avail = 0
	}
	return avail
}
