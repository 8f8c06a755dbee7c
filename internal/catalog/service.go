package catalog

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	GetItem(ctx context.Context, locationID, itemID int64) (Item, error)
	ListItems(ctx context.Context, locationID int64) ([]Item, error)
}

// Service exposes the availability catalog to selections and the allocator.
type Service struct {
	repo  RepositoryPort
	cache *Cache
	now   func() time.Time
}

// NewService builds Service. A nil cache disables snapshot caching.
func NewService(repo RepositoryPort, cache *Cache) *Service {
	return &Service{repo: repo, cache: cache, now: time.Now}
}

// Lookup returns the current allocatable quantity and expiry flag for an item.
func (s *Service) Lookup(ctx context.Context, locationID, itemID int64) (ItemAvailability, error) {
	if s == nil || s.repo == nil {
		return ItemAvailability{}, errors.New("catalog service not initialised")
	}
	item, err := s.repo.GetItem(ctx, locationID, itemID)
	if err != nil {
		return ItemAvailability{}, err
	}
	return s.availability(item), nil
}

// ListStock returns the location's stock rows through the snapshot cache.
func (s *Service) ListStock(ctx context.Context, locationID int64) ([]StockRow, error) {
	if s == nil || s.repo == nil {
		return nil, errors.New("catalog service not initialised")
	}
	key, err := s.cache.BuildKey(ctx, "catalog:stock", strconv.FormatInt(locationID, 10))
	if err != nil {
		return nil, fmt.Errorf("catalog: build cache key: %w", err)
	}
	var rows []StockRow
	err = s.cache.FetchJSON(ctx, key, &rows, func(ctx context.Context) (interface{}, error) {
		return s.loadStock(ctx, locationID)
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// Invalidate drops cached snapshots after committed stock changed.
func (s *Service) Invalidate(ctx context.Context) error {
	if s == nil {
		return nil
	}
	return s.cache.Bump(ctx)
}

func (s *Service) loadStock(ctx context.Context, locationID int64) ([]StockRow, error) {
	items, err := s.repo.ListItems(ctx, locationID)
	if err != nil {
		return nil, err
	}
	rows := make([]StockRow, 0, len(items))
	for _, item := range items {
		rows = append(rows, StockRow{Item: item, Available: s.availability(item)})
	}
	return rows, nil
}

func (s *Service) availability(item Item) ItemAvailability {
	if item.Kind == KindExternal {
		return ItemAvailability{Unbounded: true}
	}
	expired := !item.ExpiryDate.IsZero() && !item.ExpiryDate.After(s.now())
	return ItemAvailability{Quantity: availableQuantity(item), Expired: expired}
}
