package timesheet

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/fieldledger/fieldledger/internal/ledger"
	"github.com/fieldledger/fieldledger/internal/money"
	"github.com/fieldledger/fieldledger/internal/shared"
)

// Notifier receives post-commit events. Best effort.
type Notifier interface {
	TimesheetApproved(ctx context.Context, ts Timesheet)
}

// Invalidator drops derived costing state for jobs touched by an approval.
type Invalidator interface {
	InvalidateJob(ctx context.Context, jobID int64)
}

// Service handles timesheet approval, the pipeline that materialises locked
// labour cost from approved time.
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

// Get returns a timesheet by id.
func (s *Service) Get(ctx context.Context, id int64) (Timesheet, error) {
	return s.repo.GetTimesheet(ctx, id)
}

// Entries returns the entries of a timesheet.
func (s *Service) Entries(ctx context.Context, id int64) ([]TimeEntry, error) {
	return s.repo.ListEntries(ctx, id)
}

// Approve marks the timesheet approved and mints one locked labour cost item
// per completed entry. Approving an already-approved timesheet is a no-op
// that returns the stored record; a concurrent approval that commits first
// wins and this call returns its state. Retries are therefore always safe.
func (s *Service) Approve(ctx context.Context, id int64, actor shared.Actor) (Timesheet, error) {
	ts, err := s.repo.GetTimesheet(ctx, id)
	if err != nil {
		return Timesheet{}, err
	}
	if ts.Status == StatusApproved {
		return ts, nil
	}

	var (
		approved Timesheet
		raceLost bool
		jobIDs   []int64
	)
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		// Re-read under the transaction: a concurrent approval may have
		// committed between the fast-path check and here.
		fresh, err := tx.GetTimesheet(ctx, id)
		if err != nil {
			return err
		}
		if fresh.Status == StatusApproved {
			approved = fresh
			raceLost = true
			return nil
		}

		now := s.now()
		won, err := tx.MarkApproved(ctx, id, actor.ID, now)
		if err != nil {
			return err
		}
		if !won {
			// A concurrent approval committed between our re-read and the
			// write. Its cost items stand; mint nothing here.
			settled, err := tx.GetTimesheet(ctx, id)
			if err != nil {
				return err
			}
			approved = settled
			raceLost = true
			return nil
		}
		if err := tx.LockEntries(ctx, id, now); err != nil {
			return err
		}

		entries, err := tx.ListEntries(ctx, id)
		if err != nil {
			return err
		}
		for _, entry := range entries {
			hours := entry.Hours()
			if hours <= 0 {
				continue
			}
			source := ledger.TimeEntrySource(entry.ID)
			exists, err := tx.CostItemExists(ctx, source.Key())
			if err != nil {
				return err
			}
			if exists {
				continue
			}
			rate, err := s.resolveRate(ctx, tx, fresh.EngineerID, entry.JobID)
			if err != nil {
				return err
			}
			if _, err := tx.InsertCostItem(ctx, ledger.CostItem{
				JobID:       entry.JobID,
				Type:        ledger.TypeLabour,
				Description: fmt.Sprintf("Labour %s", entry.StartedAt.Format("2006-01-02")),
				Quantity:    hours,
				UnitCost:    rate,
				TotalCost:   money.Line(hours, rate),
				LockStatus:  ledger.LockLocked,
				Source:      source,
				CreatedAt:   now,
				UpdatedAt:   now,
			}); err != nil {
				return err
			}
			jobIDs = append(jobIDs, entry.JobID)
		}

		approved = fresh
		approved.Status = StatusApproved
		approved.ApprovedAt = &now
		approverID := actor.ID
		approved.ApprovedBy = &approverID
		return nil
	})
	if err != nil {
		return Timesheet{}, err
	}
	if raceLost {
		return approved, nil
	}

	s.recordAudit(ctx, approved, actor)
	for _, jobID := range dedupe(jobIDs) {
		if s.cache != nil {
			s.cache.InvalidateJob(ctx, jobID)
		}
	}
	if s.notifier != nil {
		s.notifier.TimesheetApproved(ctx, approved)
	}
	return approved, nil
}

func (s *Service) resolveRate(ctx context.Context, tx TxRepository, engineerID, jobID int64) (float64, error) {
	if rate, ok, err := tx.RateCardRate(ctx, engineerID, jobID); err != nil || ok {
		return rate, err
	}
	if rate, ok, err := tx.EngineerDefaultRate(ctx, engineerID); err != nil || ok {
		return rate, err
	}
	if rate, ok, err := tx.GlobalDefaultRate(ctx); err != nil || ok {
		return rate, err
	}
	return 0, nil
}

func (s *Service) recordAudit(ctx context.Context, ts Timesheet, actor shared.Actor) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		Entity:    "timesheet",
		EntityID:  strconv.FormatInt(ts.ID, 10),
		Action:    "approved",
		ActorRole: actor.Role,
		ActorID:   actor.ID,
		Meta:      map[string]any{"engineerId": ts.EngineerID},
		At:        s.now(),
	})
	if err != nil && s.logger != nil {
		s.logger.Warn("timesheet audit write failed", slog.Any("error", err))
	}
}

func dedupe(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	var out []int64
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
