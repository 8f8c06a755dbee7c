package dispatch

import (
	"errors"
	"fmt"
	"time"

	"github.com/mise-kitchen/mise-kitchen/internal/catalog"
)

// Type separates customer-facing dispatches from in-house picks.
type Type string

const (
	// TypeExternal ships stock to a customer and produces a packing slip.
	TypeExternal Type = "EXTERNAL"
	// TypeInternal reserves stock for kitchen use until a second explicit
	// confirmation consumes it.
	TypeInternal Type = "INTERNAL"
)

// IsValid checks if the dispatch type is known.
func (t Type) IsValid() bool {
	return t == TypeExternal || t == TypeInternal
}

// State is the lifecycle of a dispatch record.
type State string

const (
	// StateCreated is the single, terminal state of an external dispatch.
	StateCreated State = "CREATED"
	// StatePickCreated is an internal dispatch awaiting pickup confirmation.
	// Its quantities are already reserved against the catalog.
	StatePickCreated State = "PICK_CREATED"
	// StateConfirmed makes the reservation a permanent consumption.
	StateConfirmed State = "CONFIRMED"
	// StateCancelled releases the reservation back to the catalog.
	StateCancelled State = "CANCELLED"
)

// IsValid checks if the state is known.
func (s State) IsValid() bool {
	switch s {
	case StateCreated, StatePickCreated, StateConfirmed, StateCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further transition is defined.
func (s State) IsTerminal() bool {
	return s != StatePickCreated
}

// CanConfirm checks if the record may move to StateConfirmed.
func (s State) CanConfirm() bool {
	return s == StatePickCreated
}

// CanCancel checks if the record may move to StateCancelled.
func (s State) CanCancel() bool {
	return s == StatePickCreated
}

// Record is a persisted dispatch with an immutable line snapshot.
type Record struct {
	ID          int64      `json:"id"`
	Type        Type       `json:"type"`
	LocationID  int64      `json:"location_id"`
	StaffName   string     `json:"staff_name"`
	CustomerID  *int64     `json:"customer_id,omitempty"`
	State       State      `json:"state"`
	CreatedAt   time.Time  `json:"created_at"`
	ConfirmedBy *string    `json:"confirmed_by,omitempty"`
	ConfirmedAt *time.Time `json:"confirmed_at,omitempty"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`
	Lines       []Line     `json:"lines,omitempty"`
}

// Line snapshots one selected item at submission time.
type Line struct {
	ID          int64            `json:"id"`
	DispatchID  int64            `json:"dispatch_id"`
	ItemID      int64            `json:"item_id"`
	ItemKind    catalog.ItemKind `json:"item_kind"`
	ProductName string           `json:"product_name"`
	Quantity    int64            `json:"quantity"`
}

// PackingSlip is the shipping document of an external dispatch, 1:1 with its
// record.
type PackingSlip struct {
	ID            int64     `json:"id"`
	SlipNumber    string    `json:"slip_number"`
	DispatchID    int64     `json:"dispatch_id"`
	Destination   string    `json:"destination"`
	PreparedBy    string    `json:"prepared_by"`
	PickedUpBy    string    `json:"picked_up_by"`
	TotalItems    int       `json:"total_items"`
	TotalPackages int64     `json:"total_packages"`
	CreatedAt     time.Time `json:"created_at"`
}

// Metadata carries everything beyond the selection needed to commit.
type Metadata struct {
	Type        Type
	LocationID  int64
	StaffName   string
	CustomerID  *int64
	Destination string
	PickedUpBy  string
	// RequestID guards against duplicate submissions when set.
	RequestID string
}

// CreateResult reports the committed dispatch. SlipNumber is empty for
// internal dispatches.
type CreateResult struct {
	DispatchID int64  `json:"dispatch_id"`
	SlipNumber string `json:"slip_number,omitempty"`
}

var (
	// ErrDispatchNotFound indicates an unknown dispatch id.
	ErrDispatchNotFound = errors.New("dispatch: record not found")
	// ErrInsufficientQuantity rejects a commit exceeding current availability.
	ErrInsufficientQuantity = errors.New("dispatch: insufficient quantity")
	// ErrValidation flags missing or inconsistent metadata.
	ErrValidation = errors.New("dispatch: validation failed")
	// ErrEmptySelection rejects a commit without lines.
	ErrEmptySelection = errors.New("dispatch: selection is empty")
	// ErrAlreadyFinalized signals a transition on a terminal record. Safe to
	// ignore on UI double-clicks; the reserved balance is untouched.
	ErrAlreadyFinalized = errors.New("dispatch: record already finalized")
	// ErrSlipNumberExhausted surfaces after repeated slip number collisions.
	ErrSlipNumberExhausted = errors.New("dispatch: slip number attempts exhausted")

	// errSlipNumberTaken triggers a retry with a fresh number.
	errSlipNumberTaken = errors.New("dispatch: slip number taken")
)

// StoreError wraps backing-store failures so callers can retry them apart
// from the domain taxonomy.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("dispatch: store failure during %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}
