package supplierbill

import "time"

// Status enumerates supplier bill states.
type Status string

const (
	StatusDraft  Status = "draft"
	StatusPosted Status = "posted"
)

// Bill is a supplier's invoice against a job.
type Bill struct {
	ID         int64
	SupplierID int64
	JobID      int64
	Reference  string
	Status     Status
	PostedAt   *time.Time
	PostedBy   *int64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// BillLine is one charged line on a supplier bill. CostItemID links back to
// the material cost item minted when the bill was posted.
type BillLine struct {
	ID          int64
	BillID      int64
	Description string
	Quantity    float64
	UnitCost    float64
	CostItemID  *int64
}
