package jobs

import (
	"context"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/fieldledger/fieldledger/internal/invoice"
	"github.com/fieldledger/fieldledger/internal/job"
	"github.com/fieldledger/fieldledger/internal/supplierbill"
	"github.com/fieldledger/fieldledger/internal/timesheet"
	"github.com/fieldledger/fieldledger/internal/variation"
)

// Enqueuer satisfies the domain services' notifier hooks by submitting
// asynq tasks. Enqueue failures are logged and swallowed; the committed
// state transition already happened.
type Enqueuer struct {
	client *Client
	logger *slog.Logger
}

// NewEnqueuer builds an Enqueuer instance.
func NewEnqueuer(client *Client, logger *slog.Logger) *Enqueuer {
	return &Enqueuer{client: client, logger: logger}
}

func (e *Enqueuer) enqueue(ctx context.Context, task *asynq.Task, err error) {
	if err != nil {
		e.logger.Warn("building notification task failed", slog.Any("error", err))
		return
	}
	if _, err := e.client.Enqueue(ctx, task); err != nil {
		e.logger.Warn("enqueueing notification task failed",
			slog.String("type", task.Type()), slog.Any("error", err))
	}
}

// TimesheetApproved implements timesheet.Notifier.
func (e *Enqueuer) TimesheetApproved(ctx context.Context, ts timesheet.Timesheet) {
	var approvedBy int64
	if ts.ApprovedBy != nil {
		approvedBy = *ts.ApprovedBy
	}
	task, err := NewTimesheetApprovedTask(TimesheetApprovedPayload{
		TimesheetID: ts.ID,
		EngineerID:  ts.EngineerID,
		ApprovedBy:  approvedBy,
	})
	e.enqueue(ctx, task, err)
}

// BillPosted implements supplierbill.Notifier.
func (e *Enqueuer) BillPosted(ctx context.Context, bill supplierbill.Bill) {
	task, err := NewBillPostedTask(BillPostedPayload{
		BillID:     bill.ID,
		SupplierID: bill.SupplierID,
		JobID:      bill.JobID,
		Reference:  bill.Reference,
	})
	e.enqueue(ctx, task, err)
}

// VariationDecided implements variation.Notifier.
func (e *Enqueuer) VariationDecided(ctx context.Context, v variation.Variation) {
	task, err := NewVariationDecidedTask(VariationDecidedPayload{
		VariationID: v.ID,
		JobID:       v.JobID,
		Title:       v.Title,
		Decision:    string(v.Status),
		DecidedBy:   v.DecidedBy,
		Total:       v.Total,
	})
	e.enqueue(ctx, task, err)
}

// InvoiceIssued implements invoice.Notifier.
func (e *Enqueuer) InvoiceIssued(ctx context.Context, inv invoice.Invoice) {
	task, err := NewInvoiceIssuedTask(InvoiceIssuedPayload{
		InvoiceID: inv.ID,
		JobID:     inv.JobID,
		Type:      string(inv.Type),
		Number:    inv.Number,
		Total:     inv.Total,
	})
	e.enqueue(ctx, task, err)
}

// JobCompleted implements job.Notifier.
func (e *Enqueuer) JobCompleted(ctx context.Context, j job.Job) {
	task, err := NewJobCompletedTask(JobCompletedPayload{
		JobID:     j.ID,
		Reference: j.Reference,
	})
	e.enqueue(ctx, task, err)
}
