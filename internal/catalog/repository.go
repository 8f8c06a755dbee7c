package catalog

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository reads stock items from PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const itemColumns = `id, location_id, kind, product_name, batch_number, produced_qty, committed_qty, expiry_date, production_date, supplier`

// GetItem loads a single item scoped to a location.
func (r *Repository) GetItem(ctx context.Context, locationID, itemID int64) (Item, error) {
	if r == nil {
		return Item{}, errors.New("catalog repository not initialised")
	}
	row := r.pool.QueryRow(ctx, `SELECT `+itemColumns+` FROM stock_items WHERE location_id=$1 AND id=$2`, locationID, itemID)
	item, err := scanItem(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Item{}, ErrItemNotFound
		}
		return Item{}, err
	}
	return item, nil
}

// ListItems returns every stock item for the location, batches first by
// production date so the oldest stock surfaces at the top.
func (r *Repository) ListItems(ctx context.Context, locationID int64) ([]Item, error) {
	if r == nil {
		return nil, errors.New("catalog repository not initialised")
	}
	rows, err := r.pool.Query(ctx, `SELECT `+itemColumns+` FROM stock_items WHERE location_id=$1 ORDER BY kind, production_date ASC, product_name ASC`, locationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []Item{}
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func scanItem(row pgx.Row) (Item, error) {
	var item Item
	var batchNumber, supplier *string
	var produced, committed *int64
	var expiry, production *time.Time
	err := row.Scan(&item.ID, &item.LocationID, &item.Kind, &item.ProductName, &batchNumber, &produced, &committed, &expiry, &production, &supplier)
	if err != nil {
		return Item{}, err
	}
	if batchNumber != nil {
		item.BatchNumber = *batchNumber
	}
	if produced != nil {
		item.ProducedQuantity = *produced
	}
	if committed != nil {
		item.CommittedQuantity = *committed
	}
	if expiry != nil {
		item.ExpiryDate = *expiry
	}
	if production != nil {
		item.ProductionDate = *production
	}
	if supplier != nil {
		item.Supplier = *supplier
	}
	return item, nil
}
