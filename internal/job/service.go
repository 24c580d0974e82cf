package job

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/fieldledger/fieldledger/internal/shared"
)

// ChecklistError reports the required checklist items still open when
// completion was attempted.
type ChecklistError struct {
	Items []ChecklistItem
}

func (e *ChecklistError) Error() string {
	ids := make([]string, 0, len(e.Items))
	for _, item := range e.Items {
		ids = append(ids, strconv.FormatInt(item.ID, 10))
	}
	return fmt.Sprintf("cannot complete job: %d required checklist items open (ids %s)",
		len(e.Items), strings.Join(ids, ", "))
}

func (e *ChecklistError) Unwrap() error {
	return shared.ErrConflict
}

// Notifier receives post-commit events. Best effort.
type Notifier interface {
	JobCompleted(ctx context.Context, j Job)
}

// Invalidator drops derived costing state for the completed job.
type Invalidator interface {
	InvalidateJob(ctx context.Context, jobID int64)
}

// Service gates job completion on the required checklist.
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

// Get returns a job by id.
func (s *Service) Get(ctx context.Context, id int64) (Job, error) {
	return s.repo.GetJob(ctx, id)
}

// Complete marks a job completed. Open required checklist items block it
// unless an admin overrides with a reason; the override is audited.
func (s *Service) Complete(ctx context.Context, in CompleteInput) (Job, error) {
	actor, _ := shared.ActorFromContext(ctx)
	if in.Override {
		if !actor.IsAdmin() {
			return Job{}, fmt.Errorf("%w: checklist override requires an admin", shared.ErrValidation)
		}
		if strings.TrimSpace(in.Reason) == "" {
			return Job{}, fmt.Errorf("%w: checklist override requires a reason", shared.ErrValidation)
		}
	}

	current, err := s.repo.GetJob(ctx, in.JobID)
	if err != nil {
		return Job{}, err
	}
	if current.Status == StatusCompleted {
		return current, nil
	}

	var (
		completed Job
		raceLost  bool
		open      []ChecklistItem
	)
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		j, err := tx.GetJob(ctx, in.JobID)
		if err != nil {
			return err
		}
		if j.Status == StatusCompleted {
			completed = j
			raceLost = true
			return nil
		}

		open, err = tx.OpenRequiredItems(ctx, in.JobID)
		if err != nil {
			return err
		}
		if len(open) > 0 && !in.Override {
			return &ChecklistError{Items: open}
		}

		at := s.now()
		won, err := tx.MarkCompleted(ctx, in.JobID, at)
		if err != nil {
			return err
		}
		if !won {
			// A concurrent completion committed between our re-read and the
			// write. Keep its outcome.
			settled, err := tx.GetJob(ctx, in.JobID)
			if err != nil {
				return err
			}
			completed = settled
			raceLost = true
			return nil
		}
		j.Status = StatusCompleted
		j.CompletedAt = &at
		j.UpdatedAt = at
		completed = j
		return nil
	})
	if err != nil {
		return Job{}, err
	}
	if raceLost {
		return completed, nil
	}

	s.recordAudit(ctx, completed, actor, in, open)
	if s.cache != nil {
		s.cache.InvalidateJob(ctx, in.JobID)
	}
	if s.notifier != nil {
		s.notifier.JobCompleted(ctx, completed)
	}
	return completed, nil
}

func (s *Service) recordAudit(ctx context.Context, j Job, actor shared.Actor, in CompleteInput, skipped []ChecklistItem) {
	if s.audit == nil {
		return
	}
	meta := map[string]any{"reference": j.Reference}
	if in.Override {
		ids := make([]int64, 0, len(skipped))
		for _, item := range skipped {
			ids = append(ids, item.ID)
		}
		meta["override"] = true
		meta["overrideReason"] = in.Reason
		meta["skippedChecklistIds"] = ids
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		Entity:    "job",
		EntityID:  strconv.FormatInt(j.ID, 10),
		Action:    "completed",
		ActorRole: actor.Role,
		ActorID:   actor.ID,
		Meta:      meta,
		At:        s.now(),
	})
	if err != nil && s.logger != nil {
		s.logger.Warn("job audit write failed", slog.Any("error", err))
	}
}
