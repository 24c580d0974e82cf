package timesheet

import "time"

// Status enumerates timesheet states.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusSubmitted Status = "submitted"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
)

// Timesheet aggregates one engineer-week of time entries.
type Timesheet struct {
	ID         int64
	EngineerID int64
	WeekStart  time.Time
	Status     Status
	ApprovedAt *time.Time
	ApprovedBy *int64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// TimeEntry is a single worked period on a job. Entries without an end time
// are in flight and never produce cost.
type TimeEntry struct {
	ID           int64
	TimesheetID  int64
	JobID        int64
	StartedAt    time.Time
	EndedAt      *time.Time
	BreakMinutes int
	Status       string
	LockedAt     *time.Time
}

// Hours returns worked hours net of break, zero if the entry is open.
func (e TimeEntry) Hours() float64 {
	if e.EndedAt == nil {
		return 0
	}
	worked := e.EndedAt.Sub(e.StartedAt) - time.Duration(e.BreakMinutes)*time.Minute
	return worked.Minutes() / 60
}
