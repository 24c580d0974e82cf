package variation

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/fieldledger/fieldledger/internal/money"
	"github.com/fieldledger/fieldledger/internal/shared"
)

// ErrAlreadySent rejects re-sending a variation that has been decided.
var ErrAlreadySent = fmt.Errorf("%w: variation has already been decided", shared.ErrConflict)

// Notifier receives post-commit events. Best effort.
type Notifier interface {
	VariationDecided(ctx context.Context, v Variation)
}

// Invalidator drops derived costing state after a budget change.
type Invalidator interface {
	InvalidateJob(ctx context.Context, jobID int64)
}

// Service runs the variation settlement state machine.
type Service struct {
	repo     Repository
	audit    shared.Auditor
	notifier Notifier
	cache    Invalidator
	logger   *slog.Logger
	now      func() time.Time
	newToken func() string
}

// NewService builds a Service instance.
func NewService(repo Repository, audit shared.Auditor, logger *slog.Logger) *Service {
	return &Service{
		repo:     repo,
		audit:    audit,
		logger:   logger,
		now:      time.Now,
		newToken: uuid.NewString,
	}
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

// Create drafts a new variation. Amounts are fixed at creation; the stored
// subtotal/vat/total are what an approval later applies to the budget.
func (s *Service) Create(ctx context.Context, in CreateInput) (Variation, error) {
	if in.Subtotal <= 0 {
		return Variation{}, fmt.Errorf("%w: subtotal must be positive", shared.ErrValidation)
	}
	if in.VATRate < 0 {
		return Variation{}, fmt.Errorf("%w: vat rate must not be negative", shared.ErrValidation)
	}
	now := s.now()
	vat := money.VAT(in.Subtotal, in.VATRate)
	v := Variation{
		JobID:     in.JobID,
		QuoteID:   in.QuoteID,
		StageID:   in.StageID,
		StageName: in.StageName,
		Token:     s.newToken(),
		Title:     in.Title,
		Subtotal:  in.Subtotal,
		VAT:       vat,
		Total:     money.Total(in.Subtotal, vat),
		Status:    StatusDraft,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.Insert(ctx, v)
		if err != nil {
			return err
		}
		v.ID = id
		return nil
	})
	if err != nil {
		return Variation{}, err
	}
	return v, nil
}

// Send moves a draft variation to sent. Re-sending a sent variation is a
// no-op; sending a decided one is refused.
func (s *Service) Send(ctx context.Context, id int64) (Variation, error) {
	var sent Variation
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		v, err := tx.Get(ctx, id)
		if err != nil {
			return err
		}
		if v.Decided() {
			return ErrAlreadySent
		}
		if v.Status == StatusSent {
			sent = v
			return nil
		}
		now := s.now()
		if err := tx.MarkSent(ctx, id, now); err != nil {
			return err
		}
		sent = v
		sent.Status = StatusSent
		sent.SentAt = &now
		return nil
	})
	if err != nil {
		return Variation{}, err
	}
	return sent, nil
}

// Get returns a variation by id.
func (s *Service) Get(ctx context.Context, id int64) (Variation, error) {
	return s.repo.Get(ctx, id)
}

// GetByToken returns a variation by its public token.
func (s *Service) GetByToken(ctx context.Context, token string) (Variation, error) {
	return s.repo.GetByToken(ctx, token)
}

// DecideByToken settles a variation through its public link. Decisions are
// terminal: deciding an already-decided variation returns the stored record
// untouched, whatever the new decision says. Approval applies the
// variation's amounts to the job budget exactly once, via atomic increments,
// so replays and concurrent decisions cannot double-apply.
func (s *Service) DecideByToken(ctx context.Context, token string, decision Decision, approver string) (Variation, error) {
	if decision != DecisionApproved && decision != DecisionRejected {
		return Variation{}, fmt.Errorf("%w: unknown decision %q", shared.ErrValidation, decision)
	}
	v, err := s.repo.GetByToken(ctx, token)
	if err != nil {
		return Variation{}, err
	}
	if v.Decided() {
		return v, nil
	}

	var (
		decided  Variation
		raceLost bool
	)
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		fresh, err := tx.Get(ctx, v.ID)
		if err != nil {
			return err
		}
		if fresh.Decided() {
			decided = fresh
			raceLost = true
			return nil
		}

		now := s.now()
		name := approver
		if name == "" {
			if resolved, ok, err := tx.ResolveApprover(ctx, fresh.ID); err != nil {
				return err
			} else if ok {
				name = resolved
			}
		}

		status := StatusRejected
		if decision == DecisionApproved {
			status = StatusApproved
		}
		won, err := tx.MarkDecided(ctx, fresh.ID, status, now, name)
		if err != nil {
			return err
		}
		if !won {
			// A concurrent decision committed between our read and the
			// write. Keep the stored outcome and apply nothing.
			settled, err := tx.Get(ctx, fresh.ID)
			if err != nil {
				return err
			}
			decided = settled
			raceLost = true
			return nil
		}
		// Only approval moves money, and only when the variation belongs to
		// a job. Rejection has zero financial side effect.
		if status == StatusApproved && fresh.JobID != nil {
			if err := tx.IncrementJobBudget(ctx, *fresh.JobID, fresh.Subtotal, fresh.VAT, fresh.Total); err != nil {
				return err
			}
		}

		decided = fresh
		decided.Status = status
		decided.DecidedBy = name
		if status == StatusApproved {
			decided.ApprovedAt = &now
		} else {
			decided.RejectedAt = &now
		}
		return nil
	})
	if err != nil {
		return Variation{}, err
	}
	if raceLost {
		return decided, nil
	}

	s.recordAudit(ctx, decided)
	if decided.Status == StatusApproved && decided.JobID != nil && s.cache != nil {
		s.cache.InvalidateJob(ctx, *decided.JobID)
	}
	if s.notifier != nil {
		s.notifier.VariationDecided(ctx, decided)
	}
	return decided, nil
}

func (s *Service) recordAudit(ctx context.Context, v Variation) {
	if s.audit == nil {
		return
	}
	meta := map[string]any{"subtotal": v.Subtotal, "total": v.Total}
	if v.JobID != nil {
		meta["jobId"] = *v.JobID
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		Entity:    "variation",
		EntityID:  strconv.FormatInt(v.ID, 10),
		Action:    string(v.Status),
		ActorRole: "client",
		Meta:      meta,
		At:        s.now(),
	})
	if err != nil && s.logger != nil {
		s.logger.Warn("variation audit write failed", slog.Any("error", err))
	}
}
