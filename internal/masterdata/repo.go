package masterdata

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mise-kitchen/mise-kitchen/internal/platform/httpx"
)

// repo implements Repository interface
type repo struct {
	db *pgxpool.Pool
}

// NewRepository creates a new master data repository
func NewRepository(db *pgxpool.Pool) Repository {
	return &repo{db: db}
}

// storeError marks a storage failure as retryable for the transport layer.
func storeError(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", httpx.ErrUnavailable, op, err)
}

func (r *repo) ListLocations(ctx context.Context) ([]Location, error) {
	query := `SELECT id, code, name, address, created_at FROM locations ORDER BY name`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, storeError("list locations", err)
	}
	defer rows.Close()

	var locations []Location
	for rows.Next() {
		var l Location
		if err := rows.Scan(&l.ID, &l.Code, &l.Name, &l.Address, &l.CreatedAt); err != nil {
			return nil, storeError("scan location", err)
		}
		locations = append(locations, l)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("list locations", err)
	}
	return locations, nil
}

func (r *repo) GetLocation(ctx context.Context, id int64) (Location, error) {
	query := `SELECT id, code, name, address, created_at FROM locations WHERE id = $1`
	var l Location
	err := r.db.QueryRow(ctx, query, id).Scan(&l.ID, &l.Code, &l.Name, &l.Address, &l.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Location{}, fmt.Errorf("%w: location %d", httpx.ErrNotFound, id)
	}
	if err != nil {
		return Location{}, storeError("get location", err)
	}
	return l, nil
}

func (r *repo) ListStaff(ctx context.Context, filters ListFilters) ([]Staff, int, error) {
	query := `SELECT id, code, name, role, is_active, created_at, COUNT(*) OVER() FROM staff WHERE is_active = TRUE`
	args := []interface{}{}
	if filters.Search != "" {
		query += ` AND search_name LIKE '%' || $1 || '%'`
		args = append(args, filters.Search)
	}
	query += ` ORDER BY name` + limitClause(filters, &args)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, storeError("list staff", err)
	}
	defer rows.Close()

	var staff []Staff
	total := 0
	for rows.Next() {
		var s Staff
		if err := rows.Scan(&s.ID, &s.Code, &s.Name, &s.Role, &s.IsActive, &s.CreatedAt, &total); err != nil {
			return nil, 0, storeError("scan staff", err)
		}
		staff = append(staff, s)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, storeError("list staff", err)
	}
	return staff, total, nil
}

func (r *repo) ListCustomers(ctx context.Context, filters ListFilters) ([]Customer, int, error) {
	query := `SELECT id, name, customer_type, phone, address, is_active, created_at, COUNT(*) OVER() FROM customers WHERE is_active = TRUE`
	args := []interface{}{}
	if filters.Search != "" {
		query += ` AND search_name LIKE '%' || $1 || '%'`
		args = append(args, filters.Search)
	}
	query += ` ORDER BY name` + limitClause(filters, &args)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, storeError("list customers", err)
	}
	defer rows.Close()

	var customers []Customer
	total := 0
	for rows.Next() {
		var c Customer
		if err := rows.Scan(&c.ID, &c.Name, &c.CustomerType, &c.Phone, &c.Address, &c.IsActive, &c.CreatedAt, &total); err != nil {
			return nil, 0, storeError("scan customer", err)
		}
		customers = append(customers, c)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, storeError("list customers", err)
	}
	return customers, total, nil
}

// limitClause appends LIMIT/OFFSET placeholders when paging was requested.
func limitClause(filters ListFilters, args *[]interface{}) string {
	if filters.Limit <= 0 {
		return ""
	}
	page := filters.Page
	if page <= 0 {
		page = 1
	}
	*args = append(*args, filters.Limit, (page-1)*filters.Limit)
	return fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(*args)-1, len(*args))
}

func (r *repo) ListBatches(ctx context.Context, locationID int64) ([]Batch, error) {
	query := `SELECT id, location_id, product_name, batch_number, produced_qty, production_date, expiry_date
	          FROM stock_items WHERE location_id = $1 AND kind = 'BATCH' ORDER BY production_date DESC, id DESC`
	rows, err := r.db.Query(ctx, query, locationID)
	if err != nil {
		return nil, storeError("list batches", err)
	}
	defer rows.Close()

	var batches []Batch
	for rows.Next() {
		var b Batch
		var production *time.Time
		if err := rows.Scan(&b.ID, &b.LocationID, &b.ProductName, &b.BatchNumber, &b.Quantity, &production, &b.ExpiryDate); err != nil {
			return nil, storeError("scan batch", err)
		}
		if production != nil {
			b.ProductionDate = *production
		}
		batches = append(batches, b)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("list batches", err)
	}
	return batches, nil
}

func (r *repo) CreateBatch(ctx context.Context, batch Batch) (Batch, error) {
	query := `INSERT INTO stock_items (location_id, kind, product_name, batch_number, produced_qty, committed_qty, production_date, expiry_date)
	          VALUES ($1, 'BATCH', $2, $3, $4, 0, $5, $6) RETURNING id`
	err := r.db.QueryRow(ctx, query,
		batch.LocationID, batch.ProductName, batch.BatchNumber, batch.Quantity, batch.ProductionDate, batch.ExpiryDate,
	).Scan(&batch.ID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Batch{}, fmt.Errorf("%w: batch number %q already registered", httpx.ErrConflict, batch.BatchNumber)
		}
		return Batch{}, storeError("create batch", err)
	}
	return batch, nil
}

func (r *repo) CreateExternalItem(ctx context.Context, item ExternalItem) (ExternalItem, error) {
	query := `INSERT INTO stock_items (location_id, kind, product_name, supplier, produced_qty, committed_qty)
	          VALUES ($1, 'EXTERNAL', $2, $3, 0, 0) RETURNING id`
	err := r.db.QueryRow(ctx, query, item.LocationID, item.ProductName, item.Supplier).Scan(&item.ID)
	if err != nil {
		return ExternalItem{}, storeError("create external item", err)
	}
	return item, nil
}
