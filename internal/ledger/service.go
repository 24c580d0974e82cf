package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/fieldledger/fieldledger/internal/money"
	"github.com/fieldledger/fieldledger/internal/shared"
)

// ErrItemLocked rejects mutation of a locked cost item. Locked items are
// financial facts that originated from an approved upstream record; altering
// them after the fact would falsify the job's cost history.
var ErrItemLocked = fmt.Errorf("%w: cost item is locked because it originated from an approved source", shared.ErrConflict)

// Invalidator drops derived read-side state for a job after a ledger write.
// Best effort; failures are not surfaced.
type Invalidator interface {
	InvalidateJob(ctx context.Context, jobID int64)
}

// Service implements the cost ledger operations.
type Service struct {
	repo  Repository
	cache Invalidator
	now   func() time.Time
}

// NewService builds a Service instance.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// SetInvalidator injects the costing cache invalidation hook.
func (s *Service) SetInvalidator(inv Invalidator) {
	s.cache = inv
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// AddItem creates a manual, open cost item. Manual entries carry no
// idempotency key and may be repeated freely.
func (s *Service) AddItem(ctx context.Context, in AddItemInput) (CostItem, error) {
	if err := validateAdd(in); err != nil {
		return CostItem{}, err
	}
	now := s.now()
	item := CostItem{
		JobID:       in.JobID,
		Type:        in.Type,
		Description: in.Description,
		Quantity:    in.Quantity,
		UnitCost:    in.UnitCost,
		MarkupPct:   in.MarkupPct,
		TotalCost:   money.Line(in.Quantity, in.UnitCost),
		LockStatus:  LockOpen,
		Source:      ManualSource(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.InsertItem(ctx, item)
		if err != nil {
			return err
		}
		item.ID = id
		return nil
	})
	if err != nil {
		return CostItem{}, err
	}
	s.invalidate(ctx, item.JobID)
	return item, nil
}

// UpdateItem patches an open item and recomputes its total. The lock check
// runs against the freshest row state, inside the same transaction as the
// write.
func (s *Service) UpdateItem(ctx context.Context, id int64, patch UpdateItemInput) (CostItem, error) {
	if patch.Quantity != nil && *patch.Quantity <= 0 {
		return CostItem{}, fmt.Errorf("%w: quantity must be positive", shared.ErrValidation)
	}
	if patch.UnitCost != nil && *patch.UnitCost < 0 {
		return CostItem{}, fmt.Errorf("%w: unit cost must not be negative", shared.ErrValidation)
	}
	if patch.Type != nil && !KnownType(*patch.Type) {
		return CostItem{}, fmt.Errorf("%w: unknown cost type %q", shared.ErrValidation, *patch.Type)
	}
	var updated CostItem
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		item, err := tx.GetItem(ctx, id)
		if err != nil {
			return err
		}
		if item.Locked() {
			return ErrItemLocked
		}
		if patch.Description != nil {
			item.Description = *patch.Description
		}
		if patch.Type != nil {
			item.Type = *patch.Type
		}
		if patch.Quantity != nil {
			item.Quantity = *patch.Quantity
		}
		if patch.UnitCost != nil {
			item.UnitCost = *patch.UnitCost
		}
		if patch.MarkupPct != nil {
			item.MarkupPct = *patch.MarkupPct
		}
		item.TotalCost = money.Line(item.Quantity, item.UnitCost)
		item.UpdatedAt = s.now()
		if err := tx.UpdateItem(ctx, item); err != nil {
			return err
		}
		updated = item
		return nil
	})
	if err != nil {
		return CostItem{}, err
	}
	s.invalidate(ctx, updated.JobID)
	return updated, nil
}

// DeleteItem removes an open item. Locked items cannot be deleted.
func (s *Service) DeleteItem(ctx context.Context, id int64) error {
	var jobID int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		item, err := tx.GetItem(ctx, id)
		if err != nil {
			return err
		}
		if item.Locked() {
			return ErrItemLocked
		}
		jobID = item.JobID
		return tx.DeleteItem(ctx, id)
	})
	if err != nil {
		return err
	}
	s.invalidate(ctx, jobID)
	return nil
}

// ListItems returns all cost items for a job.
func (s *Service) ListItems(ctx context.Context, jobID int64) ([]CostItem, error) {
	return s.repo.ListItems(ctx, jobID)
}

// GetItem returns a single cost item.
func (s *Service) GetItem(ctx context.Context, id int64) (CostItem, error) {
	return s.repo.GetItem(ctx, id)
}

func (s *Service) invalidate(ctx context.Context, jobID int64) {
	if s.cache != nil && jobID != 0 {
		s.cache.InvalidateJob(ctx, jobID)
	}
}

func validateAdd(in AddItemInput) error {
	if in.JobID == 0 {
		return fmt.Errorf("%w: job id required", shared.ErrValidation)
	}
	if !KnownType(in.Type) {
		return fmt.Errorf("%w: unknown cost type %q", shared.ErrValidation, in.Type)
	}
	if in.Quantity <= 0 {
		return fmt.Errorf("%w: quantity must be positive", shared.ErrValidation)
	}
	if in.UnitCost < 0 {
		return fmt.Errorf("%w: unit cost must not be negative", shared.ErrValidation)
	}
	return nil
}
