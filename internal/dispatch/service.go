package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mise-kitchen/mise-kitchen/internal/catalog"
	"github.com/mise-kitchen/mise-kitchen/internal/selection"
	"github.com/mise-kitchen/mise-kitchen/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetDispatch(ctx context.Context, id int64) (Record, error)
	GetPackingSlip(ctx context.Context, dispatchID int64) (PackingSlip, error)
	ListPendingPicks(ctx context.Context, locationID int64) ([]Record, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// CatalogInvalidator drops cached availability snapshots after committed
// stock changed.
type CatalogInvalidator interface {
	Invalidate(ctx context.Context) error
}

// IdempotencyPort guards against duplicate submissions of the same request.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// Service is the dispatch allocator: it validates a selection against live
// availability and commits it atomically, then drives the two-phase
// confirmation of internal picks.
type Service struct {
	repo        RepositoryPort
	slips       *SlipNumberGenerator
	audit       AuditPort
	idempotency IdempotencyPort
	invalidator CatalogInvalidator
	metrics     *Metrics
	now         func() time.Time
}

// NewService builds Service. Audit, idempotency, invalidator and metrics are
// optional.
func NewService(repo RepositoryPort, slips *SlipNumberGenerator, audit AuditPort, idem IdempotencyPort, invalidator CatalogInvalidator, metrics *Metrics) *Service {
	if slips == nil {
		slips = NewSlipNumberGenerator()
	}
	return &Service{
		repo:        repo,
		slips:       slips,
		audit:       audit,
		idempotency: idem,
		invalidator: invalidator,
		metrics:     metrics,
		now:         time.Now,
	}
}

// CreateDispatch validates and commits a selection into a dispatch record.
//
// Every line is re-verified against current availability inside the commit
// transaction, not against the state at selection time, so two concurrent
// sessions cannot over-allocate the same batch. External dispatches insert
// the packing slip in the same transaction; internal dispatches reserve the
// selected quantities immediately and enter PICK_CREATED.
func (s *Service) CreateDispatch(ctx context.Context, set *selection.Set, meta Metadata) (CreateResult, error) {
	if err := s.validateCreate(set, meta); err != nil {
		s.metrics.commit(meta.Type, "rejected")
		return CreateResult{}, err
	}
	lines := set.Lines()

	insertedKey := false
	if s.idempotency != nil && meta.RequestID != "" {
		if _, err := uuid.Parse(meta.RequestID); err != nil {
			return CreateResult{}, fmt.Errorf("%w: invalid request id", ErrValidation)
		}
		if err := s.idempotency.CheckAndInsert(ctx, "dispatch:"+meta.RequestID, "dispatch"); err != nil {
			return CreateResult{}, err
		}
		insertedKey = true
	}

	result, err := s.commitWithSlipRetry(ctx, lines, meta)
	if err != nil {
		if insertedKey {
			_ = s.idempotency.Delete(ctx, "dispatch:"+meta.RequestID)
		}
		s.metrics.commit(meta.Type, "failed")
		return CreateResult{}, err
	}

	set.Clear()
	s.metrics.commit(meta.Type, "ok")
	if s.invalidator != nil {
		_ = s.invalidator.Invalidate(ctx)
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorName: meta.StaffName,
			Action:    fmt.Sprintf("dispatch:create:%s", meta.Type),
			Entity:    "dispatch",
			EntityID:  fmt.Sprintf("%d", result.DispatchID),
			Meta: map[string]any{
				"location_id": meta.LocationID,
				"lines":       len(lines),
				"slip_number": result.SlipNumber,
			},
		})
	}
	return result, nil
}

// ConfirmPick moves a PICK_CREATED record to CONFIRMED. The reservation made
// at pick creation becomes permanent consumption; the available balance does
// not change again.
func (s *Service) ConfirmPick(ctx context.Context, id int64, confirmedBy string) error {
	if confirmedBy == "" {
		return fmt.Errorf("%w: confirmed_by required", ErrValidation)
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		rec, err := tx.GetDispatchForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if rec.Type != TypeInternal {
			return fmt.Errorf("%w: dispatch %d is not an internal pick", ErrValidation, id)
		}
		if !rec.State.CanConfirm() {
			return ErrAlreadyFinalized
		}
		return tx.UpdateDispatchState(ctx, id, StateConfirmed, &confirmedBy, s.now().UTC())
	})
	if err != nil {
		s.metrics.transition("confirm", outcomeLabel(err))
		return err
	}
	s.metrics.transition("confirm", "ok")
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorName: confirmedBy,
			Action:    "dispatch:confirm",
			Entity:    "dispatch",
			EntityID:  fmt.Sprintf("%d", id),
		})
	}
	return nil
}

// CancelPick moves a PICK_CREATED record to CANCELLED and releases the
// reserved quantities in the same transaction. A release without the state
// flip, or the reverse, must never be observable.
func (s *Service) CancelPick(ctx context.Context, id int64) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		rec, err := tx.GetDispatchForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if rec.Type != TypeInternal {
			return fmt.Errorf("%w: dispatch %d is not an internal pick", ErrValidation, id)
		}
		if !rec.State.CanCancel() {
			return ErrAlreadyFinalized
		}
		for _, line := range rec.Lines {
			if line.ItemKind != catalog.KindBatch {
				continue
			}
			if err := tx.AddCommitted(ctx, line.ItemID, -line.Quantity); err != nil {
				return err
			}
		}
		return tx.UpdateDispatchState(ctx, id, StateCancelled, nil, s.now().UTC())
	})
	if err != nil {
		s.metrics.transition("cancel", outcomeLabel(err))
		return err
	}
	s.metrics.transition("cancel", "ok")
	if s.invalidator != nil {
		_ = s.invalidator.Invalidate(ctx)
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorName: "system",
			Action:    "dispatch:cancel",
			Entity:    "dispatch",
			EntityID:  fmt.Sprintf("%d", id),
		})
	}
	return nil
}

// ListPendingPicks returns the location's picks awaiting confirmation,
// oldest first.
func (s *Service) ListPendingPicks(ctx context.Context, locationID int64) ([]Record, error) {
	return s.repo.ListPendingPicks(ctx, locationID)
}

// GetDispatch loads a single record with its lines.
func (s *Service) GetDispatch(ctx context.Context, id int64) (Record, error) {
	return s.repo.GetDispatch(ctx, id)
}

// GetPackingSlip loads the slip of an external dispatch.
func (s *Service) GetPackingSlip(ctx context.Context, dispatchID int64) (PackingSlip, error) {
	return s.repo.GetPackingSlip(ctx, dispatchID)
}

func (s *Service) validateCreate(set *selection.Set, meta Metadata) error {
	if !meta.Type.IsValid() {
		return fmt.Errorf("%w: unknown dispatch type %q", ErrValidation, meta.Type)
	}
	if set == nil || set.TotalLines() == 0 {
		return ErrEmptySelection
	}
	if meta.StaffName == "" {
		return fmt.Errorf("%w: staff name required", ErrValidation)
	}
	if meta.LocationID == 0 {
		return fmt.Errorf("%w: location required", ErrValidation)
	}
	if meta.Type == TypeExternal && meta.CustomerID == nil {
		return fmt.Errorf("%w: customer required for external dispatch", ErrValidation)
	}
	return nil
}

// commitWithSlipRetry runs the commit transaction, regenerating the slip
// number and retrying on a uniqueness violation. Each attempt is a fresh
// transaction; a collision aborts the previous one entirely.
func (s *Service) commitWithSlipRetry(ctx context.Context, lines []selection.Line, meta Metadata) (CreateResult, error) {
	attempts := 1
	if meta.Type == TypeExternal {
		attempts = slipMaxAttempts
	}
	for i := 0; i < attempts; i++ {
		slipNumber := ""
		if meta.Type == TypeExternal {
			slipNumber = s.slips.Generate()
		}
		result, err := s.commit(ctx, lines, meta, slipNumber)
		if errors.Is(err, errSlipNumberTaken) {
			s.metrics.slipCollision()
			continue
		}
		if err != nil {
			return CreateResult{}, err
		}
		return result, nil
	}
	return CreateResult{}, ErrSlipNumberExhausted
}

func (s *Service) commit(ctx context.Context, lines []selection.Line, meta Metadata, slipNumber string) (CreateResult, error) {
	var result CreateResult
	now := s.now().UTC()
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		snapshot := make([]Line, 0, len(lines))
		var totalUnits int64
		for _, sel := range lines {
			item, err := tx.GetItemForUpdate(ctx, meta.LocationID, sel.ItemID)
			if err != nil {
				return err
			}
			if item.Kind == catalog.KindBatch {
				available := item.ProducedQuantity - item.CommittedQuantity
				if sel.Quantity > available {
					return fmt.Errorf("%w: %s needs %d, only %d available",
						ErrInsufficientQuantity, item.ProductName, sel.Quantity, available)
				}
				if err := tx.AddCommitted(ctx, item.ID, sel.Quantity); err != nil {
					return err
				}
			}
			snapshot = append(snapshot, Line{
				ItemID:      item.ID,
				ItemKind:    item.Kind,
				ProductName: item.ProductName,
				Quantity:    sel.Quantity,
			})
			totalUnits += sel.Quantity
		}

		state := StatePickCreated
		if meta.Type == TypeExternal {
			state = StateCreated
		}
		rec := Record{
			Type:       meta.Type,
			LocationID: meta.LocationID,
			StaffName:  meta.StaffName,
			CustomerID: meta.CustomerID,
			State:      state,
			CreatedAt:  now,
		}
		dispatchID, err := tx.InsertDispatch(ctx, rec)
		if err != nil {
			return err
		}
		if err := tx.InsertDispatchLines(ctx, dispatchID, snapshot); err != nil {
			return err
		}
		if meta.Type == TypeExternal {
			slip := PackingSlip{
				SlipNumber:    slipNumber,
				DispatchID:    dispatchID,
				Destination:   meta.Destination,
				PreparedBy:    meta.StaffName,
				PickedUpBy:    meta.PickedUpBy,
				TotalItems:    len(snapshot),
				TotalPackages: totalUnits,
				CreatedAt:     now,
			}
			if _, err := tx.InsertPackingSlip(ctx, slip); err != nil {
				return err
			}
		}
		result = CreateResult{DispatchID: dispatchID, SlipNumber: slipNumber}
		return nil
	})
	if err != nil {
		return CreateResult{}, err
	}
	return result, nil
}

func outcomeLabel(err error) string {
	switch {
	case errors.Is(err, ErrAlreadyFinalized):
		return "already_finalized"
	case errors.Is(err, ErrDispatchNotFound):
		return "not_found"
	default:
		return "failed"
	}
}
