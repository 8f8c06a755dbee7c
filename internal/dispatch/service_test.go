package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mise-kitchen/mise-kitchen/internal/catalog"
	"github.com/mise-kitchen/mise-kitchen/internal/selection"
	"github.com/mise-kitchen/mise-kitchen/internal/shared"
)

// memoryRepo implements RepositoryPort with copy-on-write transactions so
// rollback semantics match the real store: a failed callback leaves committed
// state untouched.
type memoryRepo struct {
	mu         sync.Mutex
	items      map[int64]catalog.Item
	dispatches map[int64]Record
	slips      map[string]PackingSlip
	nextID     int64

	failSlipInsert bool
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		items:      make(map[int64]catalog.Item),
		dispatches: make(map[int64]Record),
		slips:      make(map[string]PackingSlip),
	}
}

func (r *memoryRepo) addBatch(id int64, name string, produced int64) {
	r.items[id] = catalog.Item{
		ID: id, LocationID: 1, Kind: catalog.KindBatch, ProductName: name,
		ProducedQuantity: produced, ExpiryDate: time.Now().Add(48 * time.Hour),
	}
}

func (r *memoryRepo) addExternal(id int64, name, supplier string) {
	r.items[id] = catalog.Item{ID: id, LocationID: 1, Kind: catalog.KindExternal, ProductName: name, Supplier: supplier}
}

func (r *memoryRepo) committed(itemID int64) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.items[itemID].CommittedQuantity
}

type memoryTx struct {
	repo       *memoryRepo
	items      map[int64]catalog.Item
	dispatches map[int64]Record
	slips      map[string]PackingSlip
	nextID     int64
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx := &memoryTx{
		repo:       r,
		items:      make(map[int64]catalog.Item, len(r.items)),
		dispatches: make(map[int64]Record, len(r.dispatches)),
		slips:      make(map[string]PackingSlip, len(r.slips)),
		nextID:     r.nextID,
	}
	for k, v := range r.items {
		tx.items[k] = v
	}
	for k, v := range r.dispatches {
		tx.dispatches[k] = v
	}
	for k, v := range r.slips {
		tx.slips[k] = v
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	r.items = tx.items
	r.dispatches = tx.dispatches
	r.slips = tx.slips
	r.nextID = tx.nextID
	return nil
}

func (r *memoryRepo) GetDispatch(ctx context.Context, id int64) (Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.dispatches[id]
	if !ok {
		return Record{}, ErrDispatchNotFound
	}
	return rec, nil
}

func (r *memoryRepo) GetPackingSlip(ctx context.Context, dispatchID int64) (PackingSlip, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, slip := range r.slips {
		if slip.DispatchID == dispatchID {
			return slip, nil
		}
	}
	return PackingSlip{}, ErrDispatchNotFound
}

func (r *memoryRepo) ListPendingPicks(ctx context.Context, locationID int64) ([]Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	pending := []Record{}
	for _, rec := range r.dispatches {
		if rec.LocationID == locationID && rec.State == StatePickCreated {
			pending = append(pending, rec)
		}
	}
	for i := 0; i < len(pending); i++ {
		for j := i + 1; j < len(pending); j++ {
			if pending[j].CreatedAt.Before(pending[i].CreatedAt) {
				pending[i], pending[j] = pending[j], pending[i]
			}
		}
	}
	return pending, nil
}

func (tx *memoryTx) GetItemForUpdate(ctx context.Context, locationID, itemID int64) (catalog.Item, error) {
	item, ok := tx.items[itemID]
	if !ok || item.LocationID != locationID {
		return catalog.Item{}, catalog.ErrItemNotFound
	}
	return item, nil
}

func (tx *memoryTx) AddCommitted(ctx context.Context, itemID, delta int64) error {
	item := tx.items[itemID]
	item.CommittedQuantity += delta
	tx.items[itemID] = item
	return nil
}

func (tx *memoryTx) InsertDispatch(ctx context.Context, rec Record) (int64, error) {
	tx.nextID++
	rec.ID = tx.nextID
	tx.dispatches[rec.ID] = rec
	return rec.ID, nil
}

func (tx *memoryTx) InsertDispatchLines(ctx context.Context, dispatchID int64, lines []Line) error {
	rec := tx.dispatches[dispatchID]
	for i := range lines {
		tx.nextID++
		lines[i].ID = tx.nextID
		lines[i].DispatchID = dispatchID
	}
	rec.Lines = lines
	tx.dispatches[dispatchID] = rec
	return nil
}

func (tx *memoryTx) InsertPackingSlip(ctx context.Context, slip PackingSlip) (int64, error) {
	if tx.repo.failSlipInsert {
		return 0, &StoreError{Op: "insert packing slip", Err: context.DeadlineExceeded}
	}
	if _, exists := tx.slips[slip.SlipNumber]; exists {
		return 0, errSlipNumberTaken
	}
	tx.nextID++
	slip.ID = tx.nextID
	tx.slips[slip.SlipNumber] = slip
	return slip.ID, nil
}

func (tx *memoryTx) GetDispatchForUpdate(ctx context.Context, id int64) (Record, error) {
	rec, ok := tx.dispatches[id]
	if !ok {
		return Record{}, ErrDispatchNotFound
	}
	return rec, nil
}

func (tx *memoryTx) UpdateDispatchState(ctx context.Context, id int64, state State, confirmedBy *string, at time.Time) error {
	rec := tx.dispatches[id]
	rec.State = state
	switch state {
	case StateConfirmed:
		rec.ConfirmedBy = confirmedBy
		rec.ConfirmedAt = &at
	case StateCancelled:
		rec.CancelledAt = &at
	}
	tx.dispatches[id] = rec
	return nil
}

// openCatalog lets any quantity into a set; the commit transaction enforces
// the real bounds.
type openCatalog struct{}

func (openCatalog) Lookup(context.Context, int64, int64) (catalog.ItemAvailability, error) {
	return catalog.ItemAvailability{Unbounded: true}, nil
}

func buildSet(t *testing.T, quantities map[int64]int64) *selection.Set {
	t.Helper()
	set := selection.NewSet(1)
	for itemID, qty := range quantities {
		require.NoError(t, set.SetQuantity(context.Background(), openCatalog{}, itemID, qty))
	}
	return set
}

func fixedSlips(suffixes ...int) *SlipNumberGenerator {
	i := 0
	return &SlipNumberGenerator{
		now: func() time.Time { return time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC) },
		intN: func(int) int {
			n := suffixes[i%len(suffixes)]
			i++
			return n
		},
	}
}

func customer(id int64) *int64 { return &id }

func TestInternalPickLifecycle(t *testing.T) {
	repo := newMemoryRepo()
	repo.addBatch(1, "Mohinga broth", 20)
	svc := NewService(repo, nil, nil, nil, nil, nil)
	ctx := context.Background()

	set := buildSet(t, map[int64]int64{1: 5})
	result, err := svc.CreateDispatch(ctx, set, Metadata{Type: TypeInternal, LocationID: 1, StaffName: "Ann"})
	require.NoError(t, err)
	require.NotZero(t, result.DispatchID)
	require.Empty(t, result.SlipNumber)
	require.Equal(t, 0, set.TotalLines(), "set is cleared on successful submission")

	rec, err := svc.GetDispatch(ctx, result.DispatchID)
	require.NoError(t, err)
	require.Equal(t, StatePickCreated, rec.State)
	require.EqualValues(t, 5, repo.committed(1), "reservation happens at pick creation")

	require.NoError(t, svc.ConfirmPick(ctx, result.DispatchID, "Ann"))
	rec, err = svc.GetDispatch(ctx, result.DispatchID)
	require.NoError(t, err)
	require.Equal(t, StateConfirmed, rec.State)
	require.Equal(t, "Ann", *rec.ConfirmedBy)
	require.EqualValues(t, 5, repo.committed(1), "confirmation does not move the balance again")

	err = svc.CancelPick(ctx, result.DispatchID)
	require.ErrorIs(t, err, ErrAlreadyFinalized)
	require.EqualValues(t, 5, repo.committed(1), "no double release from a terminal state")
}

func TestCancelReleasesReservation(t *testing.T) {
	repo := newMemoryRepo()
	repo.addBatch(1, "Tea leaf salad mix", 10)
	svc := NewService(repo, nil, nil, nil, nil, nil)
	ctx := context.Background()

	result, err := svc.CreateDispatch(ctx, buildSet(t, map[int64]int64{1: 4}), Metadata{Type: TypeInternal, LocationID: 1, StaffName: "Moe"})
	require.NoError(t, err)
	require.EqualValues(t, 4, repo.committed(1))

	require.NoError(t, svc.CancelPick(ctx, result.DispatchID))
	require.EqualValues(t, 0, repo.committed(1))

	rec, err := svc.GetDispatch(ctx, result.DispatchID)
	require.NoError(t, err)
	require.Equal(t, StateCancelled, rec.State)

	require.ErrorIs(t, svc.ConfirmPick(ctx, result.DispatchID, "Moe"), ErrAlreadyFinalized)
	require.EqualValues(t, 0, repo.committed(1))
}

func TestExternalDispatchCreatesSlipAtomically(t *testing.T) {
	repo := newMemoryRepo()
	repo.addBatch(1, "Shan noodles", 15)
	svc := NewService(repo, fixedSlips(7), nil, nil, nil, nil)
	ctx := context.Background()

	result, err := svc.CreateDispatch(ctx, buildSet(t, map[int64]int64{1: 3}), Metadata{
		Type: TypeExternal, LocationID: 1, StaffName: "Ann", CustomerID: customer(9), Destination: "Khin", PickedUpBy: "Driver U Ba",
	})
	require.NoError(t, err)
	require.Equal(t, "PS-20260831-007", result.SlipNumber)

	rec, err := svc.GetDispatch(ctx, result.DispatchID)
	require.NoError(t, err)
	require.Equal(t, StateCreated, rec.State)

	slip, err := svc.GetPackingSlip(ctx, result.DispatchID)
	require.NoError(t, err)
	require.Equal(t, 1, slip.TotalItems)
	require.EqualValues(t, 3, slip.TotalPackages)
	require.Equal(t, "Ann", slip.PreparedBy)
	require.EqualValues(t, 3, repo.committed(1))
}

func TestExternalDispatchRollsBackOnSlipFailure(t *testing.T) {
	repo := newMemoryRepo()
	repo.addBatch(1, "Shan noodles", 15)
	repo.failSlipInsert = true
	svc := NewService(repo, fixedSlips(1), nil, nil, nil, nil)

	set := buildSet(t, map[int64]int64{1: 3})
	_, err := svc.CreateDispatch(context.Background(), set, Metadata{
		Type: TypeExternal, LocationID: 1, StaffName: "Ann", CustomerID: customer(9),
	})
	var storeErr *StoreError
	require.ErrorAs(t, err, &storeErr)
	require.Empty(t, repo.dispatches, "no dangling dispatch without a slip")
	require.EqualValues(t, 0, repo.committed(1), "reservation rolled back with the dispatch")
	require.Equal(t, 1, set.TotalLines(), "failed submission keeps the selection")
}

func TestSlipNumberCollisionRetries(t *testing.T) {
	repo := newMemoryRepo()
	repo.addBatch(1, "Shan noodles", 15)
	// First attempt collides with the pre-existing slip, second succeeds.
	svc := NewService(repo, fixedSlips(42, 43), nil, nil, nil, nil)
	repo.slips["PS-20260831-042"] = PackingSlip{SlipNumber: "PS-20260831-042", DispatchID: 999}

	result, err := svc.CreateDispatch(context.Background(), buildSet(t, map[int64]int64{1: 2}), Metadata{
		Type: TypeExternal, LocationID: 1, StaffName: "Ann", CustomerID: customer(9),
	})
	require.NoError(t, err)
	require.Equal(t, "PS-20260831-043", result.SlipNumber)
}

func TestSlipNumberExhausted(t *testing.T) {
	repo := newMemoryRepo()
	repo.addBatch(1, "Shan noodles", 15)
	svc := NewService(repo, fixedSlips(42), nil, nil, nil, nil)
	repo.slips["PS-20260831-042"] = PackingSlip{SlipNumber: "PS-20260831-042", DispatchID: 999}

	_, err := svc.CreateDispatch(context.Background(), buildSet(t, map[int64]int64{1: 2}), Metadata{
		Type: TypeExternal, LocationID: 1, StaffName: "Ann", CustomerID: customer(9),
	})
	require.ErrorIs(t, err, ErrSlipNumberExhausted)
	require.Empty(t, repo.dispatches)
	require.EqualValues(t, 0, repo.committed(1))
}

func TestCreateDispatchValidation(t *testing.T) {
	repo := newMemoryRepo()
	repo.addBatch(1, "Shan noodles", 15)
	svc := NewService(repo, nil, nil, nil, nil, nil)
	ctx := context.Background()

	_, err := svc.CreateDispatch(ctx, selection.NewSet(1), Metadata{Type: TypeInternal, LocationID: 1, StaffName: "Ann"})
	require.ErrorIs(t, err, ErrEmptySelection)

	_, err = svc.CreateDispatch(ctx, buildSet(t, map[int64]int64{1: 1}), Metadata{Type: TypeInternal, LocationID: 1})
	require.ErrorIs(t, err, ErrValidation)

	_, err = svc.CreateDispatch(ctx, buildSet(t, map[int64]int64{1: 1}), Metadata{Type: TypeExternal, LocationID: 1, StaffName: "Ann"})
	require.ErrorIs(t, err, ErrValidation)

	_, err = svc.CreateDispatch(ctx, buildSet(t, map[int64]int64{1: 1}), Metadata{Type: "DRONE", LocationID: 1, StaffName: "Ann"})
	require.ErrorIs(t, err, ErrValidation)
}

func TestCommitChecksCurrentAvailability(t *testing.T) {
	repo := newMemoryRepo()
	repo.addBatch(1, "Shan noodles", 10)
	svc := NewService(repo, nil, nil, nil, nil, nil)
	ctx := context.Background()

	// Another session commits 7 units between selection time and submit.
	_, err := svc.CreateDispatch(ctx, buildSet(t, map[int64]int64{1: 7}), Metadata{Type: TypeInternal, LocationID: 1, StaffName: "Moe"})
	require.NoError(t, err)

	_, err = svc.CreateDispatch(ctx, buildSet(t, map[int64]int64{1: 6}), Metadata{Type: TypeInternal, LocationID: 1, StaffName: "Ann"})
	require.ErrorIs(t, err, ErrInsufficientQuantity)
	require.EqualValues(t, 7, repo.committed(1))
}

func TestNoDoubleAllocationUnderConcurrency(t *testing.T) {
	repo := newMemoryRepo()
	repo.addBatch(1, "Shan noodles", 10)
	svc := NewService(repo, nil, nil, nil, nil, nil)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			set := buildSet(t, map[int64]int64{1: 6})
			_, errs[i] = svc.CreateDispatch(context.Background(), set, Metadata{Type: TypeInternal, LocationID: 1, StaffName: "Staff"})
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else {
			require.ErrorIs(t, err, ErrInsufficientQuantity)
		}
	}
	require.Equal(t, 1, succeeded, "at most one of two 6-unit commits fits 10 available")
	require.LessOrEqual(t, repo.committed(1), int64(10))
}

func TestExternalItemsAreNeverCapped(t *testing.T) {
	repo := newMemoryRepo()
	repo.addExternal(2, "Fish sauce", "Golden Bay Trading")
	svc := NewService(repo, nil, nil, nil, nil, nil)

	result, err := svc.CreateDispatch(context.Background(), buildSet(t, map[int64]int64{2: 500}), Metadata{Type: TypeInternal, LocationID: 1, StaffName: "Ann"})
	require.NoError(t, err)
	require.EqualValues(t, 0, repo.committed(2), "external items carry no committed quantity")

	rec, err := svc.GetDispatch(context.Background(), result.DispatchID)
	require.NoError(t, err)
	require.Equal(t, catalog.KindExternal, rec.Lines[0].ItemKind)
}

func TestUnknownItemFailsCommit(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil, nil, nil)

	_, err := svc.CreateDispatch(context.Background(), buildSet(t, map[int64]int64{77: 1}), Metadata{Type: TypeInternal, LocationID: 1, StaffName: "Ann"})
	require.ErrorIs(t, err, catalog.ErrItemNotFound)
}

func TestListPendingPicksOldestFirst(t *testing.T) {
	repo := newMemoryRepo()
	repo.addBatch(1, "Shan noodles", 100)
	svc := NewService(repo, nil, nil, nil, nil, nil)
	ctx := context.Background()

	base := time.Date(2026, 8, 31, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		offset := time.Duration(2-i) * time.Hour // create newest first
		svc.now = func() time.Time { return base.Add(offset) }
		_, err := svc.CreateDispatch(ctx, buildSet(t, map[int64]int64{1: 1}), Metadata{Type: TypeInternal, LocationID: 1, StaffName: "Ann"})
		require.NoError(t, err)
	}

	pending, err := svc.ListPendingPicks(ctx, 1)
	require.NoError(t, err)
	require.Len(t, pending, 3)
	for i := 1; i < len(pending); i++ {
		require.False(t, pending[i].CreatedAt.Before(pending[i-1].CreatedAt))
	}
}

func TestConfirmRequiresInternalType(t *testing.T) {
	repo := newMemoryRepo()
	repo.addBatch(1, "Shan noodles", 15)
	svc := NewService(repo, fixedSlips(5), nil, nil, nil, nil)
	ctx := context.Background()

	result, err := svc.CreateDispatch(ctx, buildSet(t, map[int64]int64{1: 1}), Metadata{
		Type: TypeExternal, LocationID: 1, StaffName: "Ann", CustomerID: customer(3),
	})
	require.NoError(t, err)

	require.ErrorIs(t, svc.ConfirmPick(ctx, result.DispatchID, "Ann"), ErrValidation)
	require.ErrorIs(t, svc.CancelPick(ctx, result.DispatchID), ErrValidation)
}

func TestConfirmUnknownDispatch(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil, nil, nil, nil, nil)
	require.ErrorIs(t, svc.ConfirmPick(context.Background(), 404, "Ann"), ErrDispatchNotFound)
}

// fakeIdempotency remembers every key it has accepted so a second submission
// with the same request id conflicts.
type fakeIdempotency struct {
	keys map[string]bool
}

func (f *fakeIdempotency) CheckAndInsert(_ context.Context, key, _ string) error {
	if f.keys[key] {
		return shared.ErrIdempotencyConflict
	}
	f.keys[key] = true
	return nil
}

func (f *fakeIdempotency) Delete(_ context.Context, key string) error {
	delete(f.keys, key)
	return nil
}

func TestDuplicateRequestIDRejected(t *testing.T) {
	repo := newMemoryRepo()
	repo.addBatch(1, "Tea leaf salad", 20)
	svc := NewService(repo, nil, nil, &fakeIdempotency{keys: map[string]bool{}}, nil, nil)
	ctx := context.Background()

	meta := Metadata{
		Type: TypeInternal, LocationID: 1, StaffName: "Ann",
		RequestID: "6f1c2b6e-8a4d-4c1f-9e2b-5a7d3c9f0e11",
	}
	_, err := svc.CreateDispatch(ctx, buildSet(t, map[int64]int64{1: 3}), meta)
	require.NoError(t, err)

	_, err = svc.CreateDispatch(ctx, buildSet(t, map[int64]int64{1: 3}), meta)
	require.ErrorIs(t, err, shared.ErrIdempotencyConflict)
	require.EqualValues(t, 3, repo.committed(1), "the duplicate never reaches the allocator")
}

func TestFailedCommitReleasesIdempotencyKey(t *testing.T) {
	repo := newMemoryRepo()
	repo.addBatch(1, "Tea leaf salad", 10)
	svc := NewService(repo, nil, nil, &fakeIdempotency{keys: map[string]bool{}}, nil, nil)
	ctx := context.Background()

	meta := Metadata{
		Type: TypeInternal, LocationID: 1, StaffName: "Ann",
		RequestID: "2d9e7a40-3b5c-4f8d-a1e6-7c0b9d2f4a83",
	}
	_, err := svc.CreateDispatch(ctx, buildSet(t, map[int64]int64{1: 50}), meta)
	require.ErrorIs(t, err, ErrInsufficientQuantity)

	// The key was released, so a corrected retry with the same id goes through.
	_, err = svc.CreateDispatch(ctx, buildSet(t, map[int64]int64{1: 5}), meta)
	require.NoError(t, err)
	require.EqualValues(t, 5, repo.committed(1))
}
