package job

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fieldledger/fieldledger/internal/platform/db"
	"github.com/fieldledger/fieldledger/internal/shared"
)

// Repository defines job data access.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error

	GetJob(ctx context.Context, id int64) (Job, error)
}

// TxRepository defines operations within a completion transaction.
type TxRepository interface {
	GetJob(ctx context.Context, id int64) (Job, error)
	// OpenRequiredItems returns required checklist items not yet done.
	OpenRequiredItems(ctx context.Context, jobID int64) ([]ChecklistItem, error)
	// MarkCompleted flips the job to completed only while it is not already
	// completed, reporting whether this write won. A false return means a
	// concurrent completion committed first.
	MarkCompleted(ctx context.Context, id int64, at time.Time) (bool, error)
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

const jobColumns = `id, reference, status, client_id, site_id, quote_id, legal_entity_id,
	budget_subtotal, budget_vat, budget_total, completed_at, created_at, updated_at`

func (r *pgRepository) GetJob(ctx context.Context, id int64) (Job, error) {
	return scanJob(r.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id))
}

type pgTxRepository struct {
	tx pgx.Tx
}

func (t *pgTxRepository) GetJob(ctx context.Context, id int64) (Job, error) {
	return scanJob(t.tx.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id))
}

func (t *pgTxRepository) OpenRequiredItems(ctx context.Context, jobID int64) ([]ChecklistItem, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT id, job_id, label, required, done FROM job_checklist_items
		  WHERE job_id = $1 AND required AND NOT done ORDER BY id`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ChecklistItem
	for rows.Next() {
		var item ChecklistItem
		if err := rows.Scan(&item.ID, &item.JobID, &item.Label, &item.Required, &item.Done); err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

func (t *pgTxRepository) MarkCompleted(ctx context.Context, id int64, at time.Time) (bool, error) {
	tag, err := t.tx.Exec(ctx,
		`UPDATE jobs SET status = 'completed', completed_at = $2, updated_at = $2
		 WHERE id = $1 AND status <> 'completed'`, id, at)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func scanJob(row pgx.Row) (Job, error) {
	var j Job
	var status string
	err := row.Scan(&j.ID, &j.Reference, &status, &j.ClientID, &j.SiteID, &j.QuoteID,
		&j.LegalEntityID, &j.BudgetSubtotal, &j.BudgetVAT, &j.BudgetTotal,
		&j.CompletedAt, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Job{}, shared.ErrNotFound
		}
		return Job{}, err
	}
	j.Status = Status(status)
	return j, nil
}
