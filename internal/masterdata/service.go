package masterdata

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/mise-kitchen/mise-kitchen/internal/platform/httpx"
)

// service implements Service interface
type service struct {
	repo   Repository
	folder cases.Caser
}

// NewService creates a new master data service
func NewService(repo Repository) Service {
	return &service{repo: repo, folder: cases.Fold()}
}

func (s *service) ListLocations(ctx context.Context) ([]Location, error) {
	return s.repo.ListLocations(ctx)
}

func (s *service) GetLocation(ctx context.Context, id int64) (Location, error) {
	if id <= 0 {
		return Location{}, fmt.Errorf("%w: invalid location ID", httpx.ErrValidation)
	}
	return s.repo.GetLocation(ctx, id)
}

func (s *service) ListStaff(ctx context.Context, filters ListFilters) ([]Staff, int, error) {
	filters.Search = s.foldSearch(filters.Search)
	return s.repo.ListStaff(ctx, filters)
}

func (s *service) ListCustomers(ctx context.Context, filters ListFilters) ([]Customer, int, error) {
	filters.Search = s.foldSearch(filters.Search)
	return s.repo.ListCustomers(ctx, filters)
}

func (s *service) ListBatches(ctx context.Context, locationID int64) ([]Batch, error) {
	if locationID <= 0 {
		return nil, fmt.Errorf("%w: invalid location ID", httpx.ErrValidation)
	}
	return s.repo.ListBatches(ctx, locationID)
}

func (s *service) RegisterBatch(ctx context.Context, batch Batch) (Batch, error) {
	if err := s.validateBatch(batch); err != nil {
		return Batch{}, err
	}
	batch.ProductName = titleCase(batch.ProductName)
	return s.repo.CreateBatch(ctx, batch)
}

func (s *service) RegisterExternalItem(ctx context.Context, item ExternalItem) (ExternalItem, error) {
	if item.LocationID <= 0 {
		return ExternalItem{}, fmt.Errorf("%w: location ID is required", httpx.ErrValidation)
	}
	if strings.TrimSpace(item.ProductName) == "" {
		return ExternalItem{}, fmt.Errorf("%w: product name is required", httpx.ErrValidation)
	}
	if strings.TrimSpace(item.Supplier) == "" {
		return ExternalItem{}, fmt.Errorf("%w: supplier is required", httpx.ErrValidation)
	}
	item.ProductName = titleCase(item.ProductName)
	return s.repo.CreateExternalItem(ctx, item)
}

// foldSearch case-folds a search term so repositories can compare it
// against pre-folded name columns.
func (s *service) foldSearch(term string) string {
	term = strings.TrimSpace(term)
	if term == "" {
		return ""
	}
	return s.folder.String(term)
}

func (s *service) validateBatch(batch Batch) error {
	if batch.LocationID <= 0 {
		return fmt.Errorf("%w: location ID is required", httpx.ErrValidation)
	}
	if strings.TrimSpace(batch.ProductName) == "" {
		return fmt.Errorf("%w: product name is required", httpx.ErrValidation)
	}
	if strings.TrimSpace(batch.BatchNumber) == "" {
		return fmt.Errorf("%w: batch number is required", httpx.ErrValidation)
	}
	if batch.Quantity <= 0 {
		return fmt.Errorf("%w: quantity must be positive", httpx.ErrValidation)
	}
	if batch.ProductionDate.IsZero() {
		return fmt.Errorf("%w: production date is required", httpx.ErrValidation)
	}
	if batch.ExpiryDate != nil && !batch.ExpiryDate.After(batch.ProductionDate) {
		return fmt.Errorf("%w: expiry date must be after production date", httpx.ErrValidation)
	}
	return nil
}

func titleCase(name string) string {
	return cases.Title(language.English).String(strings.TrimSpace(name))
}
