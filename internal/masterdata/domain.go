package masterdata

import (
	"context"
	"time"
)

// ListFilters represents standard list page filters
type ListFilters struct {
	Page   int
	Limit  int
	Search string
}

// Location represents a kitchen or outlet that holds its own inventory
type Location struct {
	ID        int64     `json:"id"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	Address   string    `json:"address"`
	CreatedAt time.Time `json:"created_at"`
}

// Staff represents a staff directory entry
type Staff struct {
	ID        int64     `json:"id"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	Role      string    `json:"role"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

// Customer represents an external dispatch recipient
type Customer struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	CustomerType string    `json:"customer_type"`
	Phone        string    `json:"phone"`
	Address      string    `json:"address"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
}

// Batch captures a production batch registration that feeds location stock.
type Batch struct {
	ID             int64      `json:"id"`
	LocationID     int64      `json:"location_id"`
	ProductName    string     `json:"product_name"`
	BatchNumber    string     `json:"batch_number"`
	Quantity       int64      `json:"quantity"`
	ProductionDate time.Time  `json:"production_date"`
	ExpiryDate     *time.Time `json:"expiry_date,omitempty"`
}

// ExternalItem registers a supplier-stocked product that is dispatched
// without quantity tracking.
type ExternalItem struct {
	ID          int64  `json:"id"`
	LocationID  int64  `json:"location_id"`
	ProductName string `json:"product_name"`
	Supplier    string `json:"supplier"`
}

// Repository interface for master data operations
type Repository interface {
	ListLocations(ctx context.Context) ([]Location, error)
	GetLocation(ctx context.Context, id int64) (Location, error)

	ListStaff(ctx context.Context, filters ListFilters) ([]Staff, int, error)
	ListCustomers(ctx context.Context, filters ListFilters) ([]Customer, int, error)

	ListBatches(ctx context.Context, locationID int64) ([]Batch, error)
	CreateBatch(ctx context.Context, batch Batch) (Batch, error)
	CreateExternalItem(ctx context.Context, item ExternalItem) (ExternalItem, error)
}

// Service interface for master data business logic
type Service interface {
	ListLocations(ctx context.Context) ([]Location, error)
	GetLocation(ctx context.Context, id int64) (Location, error)

	ListStaff(ctx context.Context, filters ListFilters) ([]Staff, int, error)
	ListCustomers(ctx context.Context, filters ListFilters) ([]Customer, int, error)

	ListBatches(ctx context.Context, locationID int64) ([]Batch, error)
	RegisterBatch(ctx context.Context, batch Batch) (Batch, error)
	RegisterExternalItem(ctx context.Context, item ExternalItem) (ExternalItem, error)
}
