package supplierbill

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/fieldledger/fieldledger/internal/ledger"
	"github.com/fieldledger/fieldledger/internal/money"
	"github.com/fieldledger/fieldledger/internal/shared"
)

// Notifier receives post-commit events. Best effort.
type Notifier interface {
	BillPosted(ctx context.Context, bill Bill)
}

// Invalidator drops derived costing state for the job a bill was posted to.
type Invalidator interface {
	InvalidateJob(ctx context.Context, jobID int64)
}

// Service handles supplier bill posting, the pipeline that materialises
// locked material cost from posted bills.
type Service struct {
	repo     Repository
	audit    shared.Auditor
	notifier Notifier
	cache    Invalidator
	logger   *slog.Logger
	now      func() time.Time
}

// NewService builds a Service instance.
func NewService(repo Repository, audit shared.Auditor, logger *slog.Logger) *Service {
	return &Service{repo: repo, audit: audit, logger: logger, now: time.Now}
}

// SetNotifier injects the post-commit notification hook.
func (s *Service) SetNotifier(n Notifier) {
	s.notifier = n
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

// Get returns a bill by id.
func (s *Service) Get(ctx context.Context, id int64) (Bill, error) {
	return s.repo.GetBill(ctx, id)
}

// Lines returns the lines of a bill.
func (s *Service) Lines(ctx context.Context, id int64) ([]BillLine, error) {
	return s.repo.ListLines(ctx, id)
}

// Post marks the bill posted and mints one locked material cost item per
// line, writing the item id back onto the line. Posting an already-posted
// bill is a no-op returning the stored record; a concurrent posting that
// commits first wins.
func (s *Service) Post(ctx context.Context, id int64, actor shared.Actor) (Bill, error) {
	bill, err := s.repo.GetBill(ctx, id)
	if err != nil {
		return Bill{}, err
	}
	if bill.Status == StatusPosted {
		return bill, nil
	}

	var (
		posted   Bill
		raceLost bool
	)
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		fresh, err := tx.GetBill(ctx, id)
		if err != nil {
			return err
		}
		if fresh.Status == StatusPosted {
			posted = fresh
			raceLost = true
			return nil
		}

		// Claim the bill before minting anything: if a concurrent posting
		// committed between our re-read and here, the conditional write
		// claims zero rows and this call keeps the winner's outcome.
		now := s.now()
		won, err := tx.MarkPosted(ctx, id, actor.ID, now)
		if err != nil {
			return err
		}
		if !won {
			settled, err := tx.GetBill(ctx, id)
			if err != nil {
				return err
			}
			posted = settled
			raceLost = true
			return nil
		}

		lines, err := tx.ListLines(ctx, id)
		if err != nil {
			return err
		}
		for _, line := range lines {
			if line.CostItemID != nil {
				continue
			}
			source := ledger.BillLineSource(line.ID)
			exists, err := tx.CostItemExists(ctx, source.Key())
			if err != nil {
				return err
			}
			if exists {
				continue
			}
			itemID, err := tx.InsertCostItem(ctx, ledger.CostItem{
				JobID:       fresh.JobID,
				Type:        ledger.TypeMaterial,
				Description: line.Description,
				Quantity:    line.Quantity,
				UnitCost:    line.UnitCost,
				TotalCost:   money.Line(line.Quantity, line.UnitCost),
				LockStatus:  ledger.LockLocked,
				Source:      source,
				CreatedAt:   now,
				UpdatedAt:   now,
			})
			if err != nil {
				return err
			}
			if err := tx.LinkLineCostItem(ctx, line.ID, itemID); err != nil {
				return err
			}
		}
		posted = fresh
		posted.Status = StatusPosted
		posted.PostedAt = &now
		posterID := actor.ID
		posted.PostedBy = &posterID
		return nil
	})
	if err != nil {
		return Bill{}, err
	}
	if raceLost {
		return posted, nil
	}

	s.recordAudit(ctx, posted, actor)
	if s.cache != nil && posted.JobID != 0 {
		s.cache.InvalidateJob(ctx, posted.JobID)
	}
	if s.notifier != nil {
		s.notifier.BillPosted(ctx, posted)
	}
	return posted, nil
}

func (s *Service) recordAudit(ctx context.Context, bill Bill, actor shared.Actor) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		Entity:    "supplier_bill",
		EntityID:  strconv.FormatInt(bill.ID, 10),
		Action:    "posted",
		ActorRole: actor.Role,
		ActorID:   actor.ID,
		Meta:      map[string]any{"supplierId": bill.SupplierID, "jobId": bill.JobID},
		At:        s.now(),
	})
	if err != nil && s.logger != nil {
		s.logger.Warn("supplier bill audit write failed", slog.Any("error", err))
	}
}
