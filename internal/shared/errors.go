package shared

import "errors"

var (
	// ErrNotFound indicates the referenced record does not exist or does not
	// belong to the expected parent. Cross-parent mismatches map here too so
	// existence is never leaked.
	ErrNotFound = errors.New("not found")
	// ErrValidation indicates malformed input rejected before any transaction
	// was opened.
	ErrValidation = errors.New("validation failed")
	// ErrConflict indicates the operation is refused by current record state,
	// e.g. mutating a locked ledger entry.
	ErrConflict = errors.New("conflict")
)
