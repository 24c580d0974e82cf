package variation

import "time"

// Status enumerates variation states. Transitions run draft → sent →
// {approved, rejected}; both decisions are terminal.
type Status string

const (
	StatusDraft    Status = "draft"
	StatusSent     Status = "sent"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// Decision is a client ruling on a sent variation.
type Decision string

const (
	DecisionApproved Decision = "approved"
	DecisionRejected Decision = "rejected"
)

// Variation is a proposed change order against a job, optionally scoped to
// one of its stages. A variation without a job (quote-only) never touches
// any budget.
type Variation struct {
	ID         int64
	JobID      *int64
	QuoteID    *int64
	StageID    *int64
	StageName  string
	Token      string
	Title      string
	Subtotal   float64
	VAT        float64
	Total      float64
	Status     Status
	SentAt     *time.Time
	ApprovedAt *time.Time
	RejectedAt *time.Time
	DecidedBy  string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Decided reports whether the variation reached a terminal state.
func (v Variation) Decided() bool {
	return v.Status == StatusApproved || v.Status == StatusRejected
}

// CreateInput creates a draft variation.
type CreateInput struct {
	JobID     *int64
	QuoteID   *int64
	StageID   *int64
	StageName string
	Title     string
	Subtotal  float64
	VATRate   float64
}
