package invoice

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/fieldledger/fieldledger/internal/money"
	"github.com/fieldledger/fieldledger/internal/shared"
)

// ErrVariationNotApproved is returned when billing a variation the client has
// not approved.
var ErrVariationNotApproved = fmt.Errorf("%w: variation is not approved", shared.ErrConflict)

// Notifier receives post-commit events. Best effort.
type Notifier interface {
	InvoiceIssued(ctx context.Context, inv Invoice)
}

// Invalidator drops derived costing state for the invoiced job.
type Invalidator interface {
	InvalidateJob(ctx context.Context, jobID int64)
}

// Service issues invoices, enforcing the per-job uniqueness rules.
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

// Get returns an invoice by id.
func (s *Service) Get(ctx context.Context, id int64) (Invoice, error) {
	return s.repo.GetInvoice(ctx, id)
}

// ListForJob returns a job's invoices in issue order.
func (s *Service) ListForJob(ctx context.Context, jobID int64) ([]Invoice, error) {
	return s.repo.ListByJob(ctx, jobID)
}

// CreateForJob issues an invoice for a job. A duplicate final or stage
// request returns the existing invoice rather than failing, and a variation
// request for an already billed variation returns the invoice that billed it.
func (s *Service) CreateForJob(ctx context.Context, in CreateInput) (Invoice, error) {
	if err := validateCreate(in); err != nil {
		return Invoice{}, err
	}

	var (
		out     Invoice
		created bool
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		legalEntityID, err := tx.JobLegalEntity(ctx, in.JobID)
		if err != nil {
			return err
		}

		existing, ok, err := s.findExisting(ctx, tx, in)
		if err != nil {
			return err
		}
		if ok {
			out = existing
			return nil
		}

		inv := Invoice{
			JobID:     in.JobID,
			Type:      in.Type,
			StageName: in.StageName,
			Status:    StatusIssued,
			CreatedAt: s.now(),
		}

		var billed []BilledVariation
		switch in.Type {
		case TypeVariation:
			// Amounts come from the variation itself, never the caller.
			bv, status, err := tx.VariationForJob(ctx, *in.VariationID, in.JobID)
			if err != nil {
				return err
			}
			if status != "approved" {
				return ErrVariationNotApproved
			}
			inv.VariationID = &bv.ID
			inv.Subtotal = bv.Subtotal
			inv.VAT = bv.VAT
			inv.Total = bv.Total
			billed = append(billed, bv)
		case TypeStage:
			inv.Subtotal = in.Subtotal
			inv.VAT = money.VAT(in.Subtotal, in.VATRate)
			folded, err := tx.UnbilledApprovedVariations(ctx, in.JobID, in.StageName)
			if err != nil {
				return err
			}
			for _, bv := range folded {
				inv.Subtotal = money.Round(inv.Subtotal + bv.Subtotal)
				inv.VAT = money.Round(inv.VAT + bv.VAT)
			}
			inv.Total = money.Total(inv.Subtotal, inv.VAT)
			billed = folded
		default:
			inv.Subtotal = in.Subtotal
			inv.VAT = money.VAT(in.Subtotal, in.VATRate)
			inv.Total = money.Total(inv.Subtotal, inv.VAT)
		}

		// A legal entity without a configured sequence still invoices,
		// just without a number.
		number, ok, err := tx.NextNumber(ctx, legalEntityID)
		if err != nil {
			return err
		}
		if ok {
			inv.Number = number
		}

		id, err := tx.InsertInvoice(ctx, inv)
		if err != nil {
			return err
		}
		inv.ID = id
		for _, bv := range billed {
			if err := tx.LinkVariation(ctx, id, bv.ID); err != nil {
				return err
			}
		}
		out = inv
		created = true
		return nil
	})
	if err != nil {
		return Invoice{}, err
	}

	if created {
		s.afterCreate(ctx, out)
	}
	return out, nil
}

func (s *Service) findExisting(ctx context.Context, tx TxRepository, in CreateInput) (Invoice, bool, error) {
	switch in.Type {
	case TypeFinal:
		return tx.FindFinal(ctx, in.JobID)
	case TypeStage:
		return tx.FindStage(ctx, in.JobID, in.StageName)
	case TypeVariation:
		return tx.FindByVariation(ctx, *in.VariationID)
	}
	return Invoice{}, false, nil
}

func validateCreate(in CreateInput) error {
	if !KnownType(in.Type) {
		return fmt.Errorf("%w: unknown invoice type %q", shared.ErrValidation, in.Type)
	}
	if in.Type == TypeStage && strings.TrimSpace(in.StageName) == "" {
		return fmt.Errorf("%w: stage invoice requires a stage name", shared.ErrValidation)
	}
	if in.Type == TypeVariation && in.VariationID == nil {
		return fmt.Errorf("%w: variation invoice requires a variation", shared.ErrValidation)
	}
	if in.Subtotal < 0 || in.VATRate < 0 {
		return fmt.Errorf("%w: amounts must not be negative", shared.ErrValidation)
	}
	return nil
}

func (s *Service) afterCreate(ctx context.Context, inv Invoice) {
	actor, _ := shared.ActorFromContext(ctx)
	s.recordAudit(ctx, inv, actor)
	if inv.Completion() {
		if err := s.repo.AttachIssuedCertificates(ctx, inv.ID, inv.JobID); err != nil && s.logger != nil {
			s.logger.Warn("attaching certificates failed",
				slog.Int64("invoice_id", inv.ID), slog.Any("error", err))
		}
	}
	if s.cache != nil {
		s.cache.InvalidateJob(ctx, inv.JobID)
	}
	if s.notifier != nil {
		s.notifier.InvoiceIssued(ctx, inv)
	}
}

func (s *Service) recordAudit(ctx context.Context, inv Invoice, actor shared.Actor) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		Entity:    "invoice",
		EntityID:  strconv.FormatInt(inv.ID, 10),
		Action:    "created",
		ActorRole: actor.Role,
		ActorID:   actor.ID,
		Meta:      map[string]any{"type": string(inv.Type), "number": inv.Number, "total": inv.Total},
		At:        s.now(),
	})
	if err != nil && s.logger != nil {
		s.logger.Warn("invoice audit write failed", slog.Any("error", err))
	}
}
