package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mise-kitchen/mise-kitchen/internal/catalog"
)

// Repository persists dispatch data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes the transactional operations used by the allocator.
// Every commit-time read and write of shared availability state goes through
// one transaction obtained from WithTx.
type TxRepository interface {
	GetItemForUpdate(ctx context.Context, locationID, itemID int64) (catalog.Item, error)
	AddCommitted(ctx context.Context, itemID, delta int64) error
	InsertDispatch(ctx context.Context, rec Record) (int64, error)
	InsertDispatchLines(ctx context.Context, dispatchID int64, lines []Line) error
	InsertPackingSlip(ctx context.Context, slip PackingSlip) (int64, error)
	GetDispatchForUpdate(ctx context.Context, id int64) (Record, error)
	UpdateDispatchState(ctx context.Context, id int64, state State, confirmedBy *string, at time.Time) error
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("dispatch repository not initialised")
	}
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return &StoreError{Op: "begin", Err: err}
	}
	wrapper := &txRepository{tx: tx}
	if err := fn(ctx, wrapper); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return &StoreError{Op: "commit", Err: err}
	}
	return nil
}

const recordColumns = `id, dispatch_type, location_id, staff_name, customer_id, state, created_at, confirmed_by, confirmed_at, cancelled_at`

// GetDispatch loads a record with its line snapshot.
func (r *Repository) GetDispatch(ctx context.Context, id int64) (Record, error) {
	if r == nil {
		return Record{}, errors.New("dispatch repository not initialised")
	}
	row := r.pool.QueryRow(ctx, `SELECT `+recordColumns+` FROM dispatches WHERE id=$1`, id)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrDispatchNotFound
		}
		return Record{}, &StoreError{Op: "get dispatch", Err: err}
	}
	lines, err := r.loadLines(ctx, id)
	if err != nil {
		return Record{}, err
	}
	rec.Lines = lines
	return rec, nil
}

// ListPendingPicks returns PickCreated records for a location, oldest first,
// so the longest-waiting pickups surface at the top.
func (r *Repository) ListPendingPicks(ctx context.Context, locationID int64) ([]Record, error) {
	if r == nil {
		return nil, errors.New("dispatch repository not initialised")
	}
	rows, err := r.pool.Query(ctx, `SELECT `+recordColumns+` FROM dispatches
WHERE location_id=$1 AND state=$2
ORDER BY created_at ASC, id ASC`, locationID, string(StatePickCreated))
	if err != nil {
		return nil, &StoreError{Op: "list pending picks", Err: err}
	}
	defer rows.Close()
	records := []Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, &StoreError{Op: "scan pending pick", Err: err}
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, &StoreError{Op: "list pending picks", Err: err}
	}
	for i := range records {
		lines, err := r.loadLines(ctx, records[i].ID)
		if err != nil {
			return nil, err
		}
		records[i].Lines = lines
	}
	return records, nil
}

// ListStalePicks returns PickCreated records older than the cutoff across all
// locations, used by the background scan.
func (r *Repository) ListStalePicks(ctx context.Context, olderThan time.Time) ([]Record, error) {
	if r == nil {
		return nil, errors.New("dispatch repository not initialised")
	}
	rows, err := r.pool.Query(ctx, `SELECT `+recordColumns+` FROM dispatches
WHERE state=$1 AND created_at < $2
ORDER BY created_at ASC`, string(StatePickCreated), olderThan)
	if err != nil {
		return nil, &StoreError{Op: "list stale picks", Err: err}
	}
	defer rows.Close()
	records := []Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, &StoreError{Op: "scan stale pick", Err: err}
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, &StoreError{Op: "list stale picks", Err: err}
	}
	return records, nil
}

// GetPackingSlip loads the slip belonging to an external dispatch.
func (r *Repository) GetPackingSlip(ctx context.Context, dispatchID int64) (PackingSlip, error) {
	if r == nil {
		return PackingSlip{}, errors.New("dispatch repository not initialised")
	}
	var slip PackingSlip
	err := r.pool.QueryRow(ctx, `SELECT id, slip_number, dispatch_id, destination, prepared_by, picked_up_by, total_items, total_packages, created_at
FROM packing_slips WHERE dispatch_id=$1`, dispatchID).
		Scan(&slip.ID, &slip.SlipNumber, &slip.DispatchID, &slip.Destination, &slip.PreparedBy, &slip.PickedUpBy, &slip.TotalItems, &slip.TotalPackages, &slip.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PackingSlip{}, ErrDispatchNotFound
		}
		return PackingSlip{}, &StoreError{Op: "get packing slip", Err: err}
	}
	return slip, nil
}

func (r *Repository) loadLines(ctx context.Context, dispatchID int64) ([]Line, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, dispatch_id, item_id, item_kind, product_name, qty
FROM dispatch_lines WHERE dispatch_id=$1 ORDER BY id ASC`, dispatchID)
	if err != nil {
		return nil, &StoreError{Op: "load lines", Err: err}
	}
	defer rows.Close()
	lines := []Line{}
	for rows.Next() {
		var line Line
		if err := rows.Scan(&line.ID, &line.DispatchID, &line.ItemID, &line.ItemKind, &line.ProductName, &line.Quantity); err != nil {
			return nil, &StoreError{Op: "scan line", Err: err}
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, &StoreError{Op: "load lines", Err: err}
	}
	return lines, nil
}

func (r *txRepository) GetItemForUpdate(ctx context.Context, locationID, itemID int64) (catalog.Item, error) {
	var item catalog.Item
	var batchNumber, supplier *string
	var produced, committed *int64
	var expiry, production *time.Time
	err := r.tx.QueryRow(ctx, `SELECT id, location_id, kind, product_name, batch_number, produced_qty, committed_qty, expiry_date, production_date, supplier
FROM stock_items WHERE location_id=$1 AND id=$2 FOR UPDATE`, locationID, itemID).
		Scan(&item.ID, &item.LocationID, &item.Kind, &item.ProductName, &batchNumber, &produced, &committed, &expiry, &production, &supplier)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return catalog.Item{}, catalog.ErrItemNotFound
		}
		return catalog.Item{}, &StoreError{Op: "lock item", Err: err}
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

func (r *txRepository) AddCommitted(ctx context.Context, itemID, delta int64) error {
	_, err := r.tx.Exec(ctx, `UPDATE stock_items SET committed_qty = committed_qty + $2 WHERE id=$1`, itemID, delta)
	if err != nil {
		return &StoreError{Op: "update committed qty", Err: err}
	}
	return nil
}

func (r *txRepository) InsertDispatch(ctx context.Context, rec Record) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO dispatches (dispatch_type, location_id, staff_name, customer_id, state, created_at)
VALUES ($1,$2,$3,$4,$5,$6) RETURNING id`,
		string(rec.Type), rec.LocationID, rec.StaffName, rec.CustomerID, string(rec.State), rec.CreatedAt).Scan(&id)
	if err != nil {
		return 0, &StoreError{Op: "insert dispatch", Err: err}
	}
	return id, nil
}

func (r *txRepository) InsertDispatchLines(ctx context.Context, dispatchID int64, lines []Line) error {
	for _, line := range lines {
		if _, err := r.tx.Exec(ctx, `INSERT INTO dispatch_lines (dispatch_id, item_id, item_kind, product_name, qty)
VALUES ($1,$2,$3,$4,$5)`, dispatchID, line.ItemID, string(line.ItemKind), line.ProductName, line.Quantity); err != nil {
			return &StoreError{Op: "insert line", Err: err}
		}
	}
	return nil
}

func (r *txRepository) InsertPackingSlip(ctx context.Context, slip PackingSlip) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO packing_slips (slip_number, dispatch_id, destination, prepared_by, picked_up_by, total_items, total_packages, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8) RETURNING id`,
		slip.SlipNumber, slip.DispatchID, slip.Destination, slip.PreparedBy, slip.PickedUpBy, slip.TotalItems, slip.TotalPackages, slip.CreatedAt).Scan(&id)
	if err != nil {
		if pgErr, ok := err.(*pgconn.PgError); ok && pgErr.Code == "23505" {
			return 0, errSlipNumberTaken
		}
		return 0, &StoreError{Op: "insert packing slip", Err: err}
	}
	return id, nil
}

func (r *txRepository) GetDispatchForUpdate(ctx context.Context, id int64) (Record, error) {
	row := r.tx.QueryRow(ctx, `SELECT `+recordColumns+` FROM dispatches WHERE id=$1 FOR UPDATE`, id)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrDispatchNotFound
		}
		return Record{}, &StoreError{Op: "lock dispatch", Err: err}
	}
	rows, err := r.tx.Query(ctx, `SELECT id, dispatch_id, item_id, item_kind, product_name, qty
FROM dispatch_lines WHERE dispatch_id=$1 ORDER BY id ASC`, id)
	if err != nil {
		return Record{}, &StoreError{Op: "load lines", Err: err}
	}
	defer rows.Close()
	for rows.Next() {
		var line Line
		if err := rows.Scan(&line.ID, &line.DispatchID, &line.ItemID, &line.ItemKind, &line.ProductName, &line.Quantity); err != nil {
			return Record{}, &StoreError{Op: "scan line", Err: err}
		}
		rec.Lines = append(rec.Lines, line)
	}
	if err := rows.Err(); err != nil {
		return Record{}, &StoreError{Op: "load lines", Err: err}
	}
	return rec, nil
}

func (r *txRepository) UpdateDispatchState(ctx context.Context, id int64, state State, confirmedBy *string, at time.Time) error {
	var err error
	switch state {
	case StateConfirmed:
		_, err = r.tx.Exec(ctx, `UPDATE dispatches SET state=$2, confirmed_by=$3, confirmed_at=$4 WHERE id=$1`,
			id, string(state), confirmedBy, at)
	case StateCancelled:
		_, err = r.tx.Exec(ctx, `UPDATE dispatches SET state=$2, cancelled_at=$3 WHERE id=$1`,
			id, string(state), at)
	default:
		_, err = r.tx.Exec(ctx, `UPDATE dispatches SET state=$2 WHERE id=$1`, id, string(state))
	}
	if err != nil {
		return &StoreError{Op: "update state", Err: err}
	}
	return nil
}

func scanRecord(row pgx.Row) (Record, error) {
	var rec Record
	err := row.Scan(&rec.ID, &rec.Type, &rec.LocationID, &rec.StaffName, &rec.CustomerID, &rec.State,
		&rec.CreatedAt, &rec.ConfirmedBy, &rec.ConfirmedAt, &rec.CancelledAt)
	if err != nil {
		return Record{}, err
	}
	return rec, nil
}
