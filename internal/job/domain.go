package job

import "time"

// Status enumerates job lifecycle states.
type Status string

const (
	StatusNew        Status = "new"
	StatusScheduled  Status = "scheduled"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
)

// Job is the unit of delivered work that the ledger, variations and invoices
// hang off. Budget fields move only at creation and on variation approval.
type Job struct {
	ID             int64
	Reference      string
	Status         Status
	ClientID       int64
	SiteID         *int64
	QuoteID        *int64
	LegalEntityID  int64
	BudgetSubtotal float64
	BudgetVAT      float64
	BudgetTotal    float64
	CompletedAt    *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ChecklistItem is a pre-completion task. Required items block completion
// until done.
type ChecklistItem struct {
	ID       int64
	JobID    int64
	Label    string
	Required bool
	Done     bool
}

// CompleteInput carries the completion request.
type CompleteInput struct {
	JobID    int64
	Override bool
	Reason   string
}
