package timesheet

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fieldledger/fieldledger/internal/ledger"
	"github.com/fieldledger/fieldledger/internal/platform/db"
	"github.com/fieldledger/fieldledger/internal/shared"
)

// Repository defines timesheet data access.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error

	GetTimesheet(ctx context.Context, id int64) (Timesheet, error)
	ListEntries(ctx context.Context, timesheetID int64) ([]TimeEntry, error)
}

// TxRepository defines operations within an approval transaction. The
// transaction spans timesheet, time entry and cost ledger rows; the lock on
// the minted cost items and the approved status must land atomically.
type TxRepository interface {
	GetTimesheet(ctx context.Context, id int64) (Timesheet, error)

	// MarkApproved flips the timesheet to approved only while it is not
	// already approved, reporting whether this write won. A false return
	// means a concurrent approval committed first.
	MarkApproved(ctx context.Context, id, approvedBy int64, at time.Time) (bool, error)
	LockEntries(ctx context.Context, timesheetID int64, at time.Time) error
	ListEntries(ctx context.Context, timesheetID int64) ([]TimeEntry, error)

	CostItemExists(ctx context.Context, sourceKey string) (bool, error)
	InsertCostItem(ctx context.Context, item ledger.CostItem) (int64, error)

	RateCardRate(ctx context.Context, engineerID, jobID int64) (float64, bool, error)
	EngineerDefaultRate(ctx context.Context, engineerID int64) (float64, bool, error)
	GlobalDefaultRate(ctx context.Context) (float64, bool, error)
}

var (
	_ Repository   = (*pgRepository)(nil)
	_ TxRepository = (*pgTxRepository)(nil)
)

type pgRepository struct {
	pool *pgxpool.Pool
}

// NewRepository builds the PostgreSQL-backed repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &pgRepository{pool: pool}
}

func (r *pgRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &pgTxRepository{tx: tx})
	})
}

const timesheetColumns = `id, engineer_id, week_start, status, approved_at, approved_by, created_at, updated_at`

func (r *pgRepository) GetTimesheet(ctx context.Context, id int64) (Timesheet, error) {
	return scanTimesheet(r.pool.QueryRow(ctx, `SELECT `+timesheetColumns+` FROM timesheets WHERE id = $1`, id))
}

func (r *pgRepository) ListEntries(ctx context.Context, timesheetID int64) ([]TimeEntry, error) {
	return queryEntries(ctx, r.pool, timesheetID)
}

type pgTxRepository struct {
	tx pgx.Tx
}

func (t *pgTxRepository) GetTimesheet(ctx context.Context, id int64) (Timesheet, error) {
	return scanTimesheet(t.tx.QueryRow(ctx, `SELECT `+timesheetColumns+` FROM timesheets WHERE id = $1`, id))
}

func (t *pgTxRepository) MarkApproved(ctx context.Context, id, approvedBy int64, at time.Time) (bool, error) {
	tag, err := t.tx.Exec(ctx,
		`UPDATE timesheets SET status='approved', approved_at=$2, approved_by=$3, updated_at=$2
		 WHERE id = $1 AND status <> 'approved'`,
		id, at, approvedBy)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (t *pgTxRepository) LockEntries(ctx context.Context, timesheetID int64, at time.Time) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE time_entries SET status='approved', locked_at=$2 WHERE timesheet_id = $1`,
		timesheetID, at)
	return err
}

func (t *pgTxRepository) ListEntries(ctx context.Context, timesheetID int64) ([]TimeEntry, error) {
	return queryEntries(ctx, t.tx, timesheetID)
}

func (t *pgTxRepository) CostItemExists(ctx context.Context, sourceKey string) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM cost_items WHERE source = $1)`, sourceKey).Scan(&exists)
	return exists, err
}

func (t *pgTxRepository) InsertCostItem(ctx context.Context, item ledger.CostItem) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx,
		`INSERT INTO cost_items (job_id, type, description, quantity, unit_cost, markup_pct, total_cost, lock_status, source, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 RETURNING id`,
		item.JobID, string(item.Type), item.Description, item.Quantity, item.UnitCost,
		item.MarkupPct, item.TotalCost, string(item.LockStatus), item.Source.Key(),
		item.CreatedAt, item.UpdatedAt).Scan(&id)
	return id, err
}

func (t *pgTxRepository) RateCardRate(ctx context.Context, engineerID, jobID int64) (float64, bool, error) {
	var rate float64
	err := t.tx.QueryRow(ctx,
		`SELECT hourly_cost FROM rate_cards WHERE engineer_id = $1 AND (job_id = $2 OR job_id IS NULL) ORDER BY job_id NULLS LAST LIMIT 1`,
		engineerID, jobID).Scan(&rate)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return rate, true, nil
}

func (t *pgTxRepository) EngineerDefaultRate(ctx context.Context, engineerID int64) (float64, bool, error) {
	var rate *float64
	err := t.tx.QueryRow(ctx, `SELECT hourly_cost FROM engineers WHERE id = $1`, engineerID).Scan(&rate)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	if rate == nil {
		return 0, false, nil
	}
	return *rate, true, nil
}

func (t *pgTxRepository) GlobalDefaultRate(ctx context.Context) (float64, bool, error) {
	// default_hourly_cost is nullable; a NULL value means no org-wide
	// default is configured, same as a missing settings row.
	var rate *float64
	err := t.tx.QueryRow(ctx, `SELECT default_hourly_cost FROM org_settings LIMIT 1`).Scan(&rate)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	if rate == nil {
		return 0, false, nil
	}
	return *rate, true, nil
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func queryEntries(ctx context.Context, q querier, timesheetID int64) ([]TimeEntry, error) {
	rows, err := q.Query(ctx,
		`SELECT id, timesheet_id, job_id, started_at, ended_at, break_minutes, status, locked_at FROM time_entries WHERE timesheet_id = $1 ORDER BY id`,
		timesheetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []TimeEntry
	for rows.Next() {
		var e TimeEntry
		if err := rows.Scan(&e.ID, &e.TimesheetID, &e.JobID, &e.StartedAt, &e.EndedAt, &e.BreakMinutes, &e.Status, &e.LockedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func scanTimesheet(row pgx.Row) (Timesheet, error) {
	var ts Timesheet
	var status string
	err := row.Scan(&ts.ID, &ts.EngineerID, &ts.WeekStart, &status, &ts.ApprovedAt, &ts.ApprovedBy, &ts.CreatedAt, &ts.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Timesheet{}, shared.ErrNotFound
		}
		return Timesheet{}, err
	}
	ts.Status = Status(status)
	return ts, nil
}
