package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"

	// TaskTimesheetApproved fans out after a timesheet approval commits.
	TaskTimesheetApproved = "timesheet:approved"
	// TaskBillPosted fans out after a supplier bill posting commits.
	TaskBillPosted = "supplier_bill:posted"
	// TaskVariationDecided fans out after a client decision commits.
	TaskVariationDecided = "variation:decided"
	// TaskInvoiceIssued fans out after an invoice is created.
	TaskInvoiceIssued = "invoice:issued"
	// TaskJobCompleted fans out after a job completes.
	TaskJobCompleted = "job:completed"
)

// gbp renders money amounts for notification text.
var gbp = message.NewPrinter(language.BritishEnglish)

func formatMoney(amount float64) string {
	return gbp.Sprintf("£%.2f", amount)
}

// TimesheetApprovedPayload describes an approved timesheet.
type TimesheetApprovedPayload struct {
	TimesheetID int64 `json:"timesheetId"`
	EngineerID  int64 `json:"engineerId"`
	ApprovedBy  int64 `json:"approvedBy"`
}

// BillPostedPayload describes a posted supplier bill.
type BillPostedPayload struct {
	BillID     int64  `json:"billId"`
	SupplierID int64  `json:"supplierId"`
	JobID      int64  `json:"jobId"`
	Reference  string `json:"reference"`
}

// VariationDecidedPayload describes a decided variation.
type VariationDecidedPayload struct {
	VariationID int64   `json:"variationId"`
	JobID       *int64  `json:"jobId,omitempty"`
	Title       string  `json:"title"`
	Decision    string  `json:"decision"`
	DecidedBy   string  `json:"decidedBy"`
	Total       float64 `json:"total"`
}

// InvoiceIssuedPayload describes an issued invoice.
type InvoiceIssuedPayload struct {
	InvoiceID int64   `json:"invoiceId"`
	JobID     int64   `json:"jobId"`
	Type      string  `json:"type"`
	Number    string  `json:"number"`
	Total     float64 `json:"total"`
}

// JobCompletedPayload describes a completed job.
type JobCompletedPayload struct {
	JobID     int64  `json:"jobId"`
	Reference string `json:"reference"`
}

func newTask(taskType string, payload any) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(taskType, data), nil
}

// NewTimesheetApprovedTask constructs an Asynq task.
func NewTimesheetApprovedTask(payload TimesheetApprovedPayload) (*asynq.Task, error) {
	return newTask(TaskTimesheetApproved, payload)
}

// NewBillPostedTask constructs an Asynq task.
func NewBillPostedTask(payload BillPostedPayload) (*asynq.Task, error) {
	return newTask(TaskBillPosted, payload)
}

// NewVariationDecidedTask constructs an Asynq task.
func NewVariationDecidedTask(payload VariationDecidedPayload) (*asynq.Task, error) {
	return newTask(TaskVariationDecided, payload)
}

// NewInvoiceIssuedTask constructs an Asynq task.
func NewInvoiceIssuedTask(payload InvoiceIssuedPayload) (*asynq.Task, error) {
	return newTask(TaskInvoiceIssued, payload)
}

// NewJobCompletedTask constructs an Asynq task.
func NewJobCompletedTask(payload JobCompletedPayload) (*asynq.Task, error) {
	return newTask(TaskJobCompleted, payload)
}

// Notifications delivers lifecycle messages. Delivery transport is injected;
// the default logs the rendered message.
type Notifications struct {
	Logger *slog.Logger
	Send   func(ctx context.Context, subject, body string) error
}

// NewNotifications builds the notification task handlers.
func NewNotifications(logger *slog.Logger) *Notifications {
	return &Notifications{Logger: logger}
}

func (n *Notifications) deliver(ctx context.Context, subject, body string) error {
	if n.Send != nil {
		return n.Send(ctx, subject, body)
	}
	n.Logger.Info("notification", slog.String("subject", subject), slog.String("body", body))
	return nil
}

// HandleTimesheetApproved processes TaskTimesheetApproved tasks.
func (n *Notifications) HandleTimesheetApproved(ctx context.Context, t *asynq.Task) error {
	var payload TimesheetApprovedPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	return n.deliver(ctx,
		"Timesheet approved",
		fmt.Sprintf("Timesheet %d for engineer %d was approved.", payload.TimesheetID, payload.EngineerID))
}

// HandleBillPosted processes TaskBillPosted tasks.
func (n *Notifications) HandleBillPosted(ctx context.Context, t *asynq.Task) error {
	var payload BillPostedPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	return n.deliver(ctx,
		"Supplier bill posted",
		fmt.Sprintf("Bill %s (id %d) was posted to job %d.", payload.Reference, payload.BillID, payload.JobID))
}

// HandleVariationDecided processes TaskVariationDecided tasks.
func (n *Notifications) HandleVariationDecided(ctx context.Context, t *asynq.Task) error {
	var payload VariationDecidedPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	return n.deliver(ctx,
		fmt.Sprintf("Variation %s", payload.Decision),
		fmt.Sprintf("%q (%s) was %s by %s.",
			payload.Title, formatMoney(payload.Total), payload.Decision, payload.DecidedBy))
}

// HandleInvoiceIssued processes TaskInvoiceIssued tasks.
func (n *Notifications) HandleInvoiceIssued(ctx context.Context, t *asynq.Task) error {
	var payload InvoiceIssuedPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	number := payload.Number
	if number == "" {
		number = "(unnumbered)"
	}
	return n.deliver(ctx,
		"Invoice issued",
		fmt.Sprintf("Invoice %s for %s issued against job %d.",
			number, formatMoney(payload.Total), payload.JobID))
}

// HandleJobCompleted processes TaskJobCompleted tasks.
func (n *Notifications) HandleJobCompleted(ctx context.Context, t *asynq.Task) error {
	var payload JobCompletedPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	return n.deliver(ctx,
		"Job completed",
		fmt.Sprintf("Job %s (id %d) was marked completed.", payload.Reference, payload.JobID))
}
