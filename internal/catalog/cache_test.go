package catalog

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func testCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewCache(client, time.Minute), mr
}

func TestCacheVersionInitialises(t *testing.T) {
	cache, _ := testCache(t)
	ver, err := cache.Version(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 1, ver)
}

func TestCacheBumpChangesKeys(t *testing.T) {
	cache, _ := testCache(t)
	ctx := context.Background()

	before, err := cache.BuildKey(ctx, "catalog:stock", "1")
	require.NoError(t, err)
	require.Equal(t, "catalog:stock:1:1", before)

	require.NoError(t, cache.Bump(ctx))
	after, err := cache.BuildKey(ctx, "catalog:stock", "1")
	require.NoError(t, err)
	require.Equal(t, "catalog:stock:1:2", after)
	require.NotEqual(t, before, after)
}

func TestCacheFetchJSONPopulatesOnce(t *testing.T) {
	cache, _ := testCache(t)
	ctx := context.Background()
	key, err := cache.BuildKey(ctx, "catalog:stock", "1")
	require.NoError(t, err)

	calls := 0
	loader := func(context.Context) (interface{}, error) {
		calls++
		return []StockRow{{Item: Item{ID: 1, ProductName: "Mohinga broth"}}}, nil
	}

	var rows []StockRow
	require.NoError(t, cache.FetchJSON(ctx, key, &rows, loader))
	require.Len(t, rows, 1)
	require.Equal(t, 1, calls)

	rows = nil
	require.NoError(t, cache.FetchJSON(ctx, key, &rows, loader))
	require.Len(t, rows, 1)
	require.Equal(t, 1, calls, "second fetch served from cache")
}

func TestCacheNilClientFallsThrough(t *testing.T) {
	var cache *Cache
	var rows []StockRow
	err := cache.FetchJSON(context.Background(), "any", &rows, func(context.Context) (interface{}, error) {
		return []StockRow{{Item: Item{ID: 7}}}, nil
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.NoError(t, cache.Bump(context.Background()))
}
