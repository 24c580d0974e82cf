package invoice

import (
	"strings"
	"time"
)

// Type enumerates invoice kinds.
type Type string

const (
	TypeDeposit   Type = "deposit"
	TypeStage     Type = "stage"
	TypeVariation Type = "variation"
	TypeFinal     Type = "final"
)

// KnownType reports whether t is a supported invoice kind.
func KnownType(t Type) bool {
	switch t {
	case TypeDeposit, TypeStage, TypeVariation, TypeFinal:
		return true
	}
	return false
}

// Invoice is a client-facing bill against a job. Uniqueness rules: one final
// invoice per job, one stage invoice per (job, stage name) compared
// case-insensitively, one invoice per variation.
type Invoice struct {
	ID          int64
	JobID       int64
	Type        Type
	StageName   string
	VariationID *int64
	Number      string
	Subtotal    float64
	VAT         float64
	Total       float64
	Status      string
	CreatedAt   time.Time
}

// StatusIssued is the only state minted here; payment tracking lives
// elsewhere.
const StatusIssued = "issued"

// Completion reports whether the invoice closes out the job: a final
// invoice, or a stage invoice whose stage marks completion.
func (i Invoice) Completion() bool {
	if i.Type == TypeFinal {
		return true
	}
	return i.Type == TypeStage && strings.Contains(strings.ToLower(i.StageName), "complet")
}

// CreateInput requests an invoice for a job.
type CreateInput struct {
	JobID       int64
	Type        Type
	StageName   string
	VariationID *int64
	Subtotal    float64
	VATRate     float64
}

// BilledVariation is an approved variation folded into a stage invoice.
type BilledVariation struct {
	ID       int64
	Subtotal float64
	VAT      float64
	Total    float64
}
