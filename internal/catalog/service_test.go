package catalog

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeRepo struct {
	items map[int64]Item
}

func (f *fakeRepo) GetItem(ctx context.Context, locationID, itemID int64) (Item, error) {
	item, ok := f.items[itemID]
	if !ok || item.LocationID != locationID {
		return Item{}, ErrItemNotFound
	}
	return item, nil
}

func (f *fakeRepo) ListItems(ctx context.Context, locationID int64) ([]Item, error) {
	out := []Item{}
	for _, item := range f.items {
		if item.LocationID == locationID {
			out = append(out, item)
		}
	}
	return out, nil
}

func testService(items map[int64]Item, now time.Time) *Service {
	svc := NewService(&fakeRepo{items: items}, nil)
	svc.now = func() time.Time { return now }
	return svc
}

func TestLookupBatchAvailability(t *testing.T) {
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	svc := testService(map[int64]Item{
		1: {ID: 1, LocationID: 1, Kind: KindBatch, ProducedQuantity: 20, CommittedQuantity: 5, ExpiryDate: now.Add(24 * time.Hour)},
	}, now)

	avail, err := svc.Lookup(context.Background(), 1, 1)
	require.NoError(t, err)
	require.EqualValues(t, 15, avail.Quantity)
	require.False(t, avail.Unbounded)
	require.False(t, avail.Expired)
}

func TestLookupOvercommittedClampsToZero(t *testing.T) {
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	svc := testService(map[int64]Item{
		1: {ID: 1, LocationID: 1, Kind: KindBatch, ProducedQuantity: 5, CommittedQuantity: 9, ExpiryDate: now.Add(time.Hour)},
	}, now)

	avail, err := svc.Lookup(context.Background(), 1, 1)
	require.NoError(t, err)
	require.EqualValues(t, 0, avail.Quantity)
}

func TestLookupExpiry(t *testing.T) {
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	cases := []struct {
		name    string
		expiry  time.Time
		expired bool
	}{
		{"future", now.Add(time.Minute), false},
		{"exactly now", now, true},
		{"past", now.Add(-time.Hour), true},
		{"unset", time.Time{}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := testService(map[int64]Item{
				1: {ID: 1, LocationID: 1, Kind: KindBatch, ProducedQuantity: 10, ExpiryDate: tc.expiry},
			}, now)
			avail, err := svc.Lookup(context.Background(), 1, 1)
			require.NoError(t, err)
			require.Equal(t, tc.expired, avail.Expired)
		})
	}
}

func TestLookupExternalUnbounded(t *testing.T) {
	svc := testService(map[int64]Item{
		2: {ID: 2, LocationID: 1, Kind: KindExternal, Supplier: "Golden Bay Trading"},
	}, time.Now())

	avail, err := svc.Lookup(context.Background(), 1, 2)
	require.NoError(t, err)
	require.True(t, avail.Unbounded)
	require.True(t, avail.Allows(1_000_000))
}

func TestLookupWrongLocation(t *testing.T) {
	svc := testService(map[int64]Item{
		1: {ID: 1, LocationID: 1, Kind: KindBatch, ProducedQuantity: 10},
	}, time.Now())

	_, err := svc.Lookup(context.Background(), 2, 1)
	require.ErrorIs(t, err, ErrItemNotFound)
}

func TestAvailabilityClamp(t *testing.T) {
	bounded := ItemAvailability{Quantity: 10}
	require.EqualValues(t, 10, bounded.Clamp(25))
	require.EqualValues(t, 7, bounded.Clamp(7))
	require.EqualValues(t, 0, bounded.Clamp(-3))
	require.True(t, bounded.Allows(10))
	require.False(t, bounded.Allows(11))

	unbounded := ItemAvailability{Unbounded: true}
	require.EqualValues(t, 25, unbounded.Clamp(25))
}

func TestListStockWithoutCache(t *testing.T) {
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	svc := testService(map[int64]Item{
		1: {ID: 1, LocationID: 1, Kind: KindBatch, ProductName: "Mohinga broth", ProducedQuantity: 20, CommittedQuantity: 4, ExpiryDate: now.Add(time.Hour)},
		2: {ID: 2, LocationID: 1, Kind: KindExternal, ProductName: "Fish sauce"},
		3: {ID: 3, LocationID: 2, Kind: KindBatch, ProductName: "Elsewhere", ProducedQuantity: 1},
	}, now)

	rows, err := svc.ListStock(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	for _, row := range rows {
		if row.Item.Kind == KindBatch {
			require.EqualValues(t, 16, row.Available.Quantity)
		} else {
			require.True(t, row.Available.Unbounded)
		}
	}
}
