package ledger

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ItemType enumerates cost item categories.
type ItemType string

const (
	TypeLabour        ItemType = "labour"
	TypeMaterial      ItemType = "material"
	TypeSubcontractor ItemType = "subcontractor"
	TypePlant         ItemType = "plant"
	TypeOther         ItemType = "other"
)

// KnownType reports whether t is one of the supported categories.
func KnownType(t ItemType) bool {
	switch t {
	case TypeLabour, TypeMaterial, TypeSubcontractor, TypePlant, TypeOther:
		return true
	}
	return false
}

// LockStatus enumerates cost item lock states. The transition open → locked
// is one way; locked items are immutable.
type LockStatus string

const (
	LockOpen   LockStatus = "open"
	LockLocked LockStatus = "locked"
)

// SourceKind discriminates the provenance of a cost item.
type SourceKind int

const (
	// SourceManual marks an item entered by hand; repeatable, no idempotency.
	SourceManual SourceKind = iota
	// SourceTimeEntry marks an item minted from an approved time entry.
	SourceTimeEntry
	// SourceBillLine marks an item minted from a posted supplier bill line.
	SourceBillLine
)

// Source tags where a cost item came from. For items minted from upstream
// records the encoded key is the idempotency key: the same upstream record
// never materialises twice.
type Source struct {
	Kind SourceKind
	// RefID is the upstream record id; zero for manual items.
	RefID int64
}

// ManualSource returns the source tag for hand-entered items.
func ManualSource() Source {
	return Source{Kind: SourceManual}
}

// TimeEntrySource returns the source tag for a labour item minted from the
// given time entry.
func TimeEntrySource(entryID int64) Source {
	return Source{Kind: SourceTimeEntry, RefID: entryID}
}

// BillLineSource returns the source tag for a material item minted from the
// given supplier bill line.
func BillLineSource(lineID int64) Source {
	return Source{Kind: SourceBillLine, RefID: lineID}
}

const (
	sourceManualKey  = "manual"
	sourceTimePrefix = "timesheet:"
	sourceBillPrefix = "supplier_bill_line:"
)

// Key encodes the source as the stored idempotency key.
func (s Source) Key() string {
	switch s.Kind {
	case SourceTimeEntry:
		return sourceTimePrefix + strconv.FormatInt(s.RefID, 10)
	case SourceBillLine:
		return sourceBillPrefix + strconv.FormatInt(s.RefID, 10)
	default:
		return sourceManualKey
	}
}

// IsManual reports whether the item was entered by hand.
func (s Source) IsManual() bool {
	return s.Kind == SourceManual
}

// ParseSource decodes a stored source key.
func ParseSource(key string) (Source, error) {
	switch {
	case key == sourceManualKey || key == "":
		return ManualSource(), nil
	case strings.HasPrefix(key, sourceTimePrefix):
		id, err := strconv.ParseInt(strings.TrimPrefix(key, sourceTimePrefix), 10, 64)
		if err != nil {
			return Source{}, fmt.Errorf("ledger: bad source key %q: %w", key, err)
		}
		return TimeEntrySource(id), nil
	case strings.HasPrefix(key, sourceBillPrefix):
		id, err := strconv.ParseInt(strings.TrimPrefix(key, sourceBillPrefix), 10, 64)
		if err != nil {
			return Source{}, fmt.Errorf("ledger: bad source key %q: %w", key, err)
		}
		return BillLineSource(id), nil
	default:
		return Source{}, fmt.Errorf("ledger: unknown source key %q", key)
	}
}

// CostItem is a single costed fact for a job.
type CostItem struct {
	ID          int64
	JobID       int64
	Type        ItemType
	Description string
	Quantity    float64
	UnitCost    float64
	MarkupPct   float64
	TotalCost   float64
	LockStatus  LockStatus
	Source      Source
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Locked reports whether the item is immutable.
func (c CostItem) Locked() bool {
	return c.LockStatus == LockLocked
}

// --- Input DTOs ---

// AddItemInput creates a manual cost item.
type AddItemInput struct {
	JobID       int64
	Type        ItemType
	Description string
	Quantity    float64
	UnitCost    float64
	MarkupPct   float64
}

// UpdateItemInput patches an open cost item. Nil fields are left unchanged.
type UpdateItemInput struct {
	Description *string
	Type        *ItemType
	Quantity    *float64
	UnitCost    *float64
	MarkupPct   *float64
}
