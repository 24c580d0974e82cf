package variation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fieldledger/fieldledger/internal/platform/db"
	"github.com/fieldledger/fieldledger/internal/shared"
)

// Repository defines variation data access.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error

	Get(ctx context.Context, id int64) (Variation, error)
	GetByToken(ctx context.Context, token string) (Variation, error)
	ListByJob(ctx context.Context, jobID int64) ([]Variation, error)
}

// TxRepository defines operations within a settlement transaction.
type TxRepository interface {
	Get(ctx context.Context, id int64) (Variation, error)
	Insert(ctx context.Context, v Variation) (int64, error)
	MarkSent(ctx context.Context, id int64, at time.Time) error

	// MarkDecided settles the variation only while it is still undecided and
	// reports whether this write won. A false return means a concurrent
	// decision landed first; the caller must re-read and keep the stored
	// outcome instead of applying its own.
	MarkDecided(ctx context.Context, id int64, status Status, at time.Time, decidedBy string) (bool, error)

	// IncrementJobBudget applies the delta with `SET x = x + $d` semantics so
	// concurrent approvals of different variations never lose an increment.
	IncrementJobBudget(ctx context.Context, jobID int64, subtotal, vat, total float64) error

	// ResolveApprover returns the client contact name behind the variation's
	// job or quote, if any.
	ResolveApprover(ctx context.Context, id int64) (string, bool, error)
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

const variationColumns = `id, job_id, quote_id, stage_id, stage_name, token, title, subtotal, vat, total, status, sent_at, approved_at, rejected_at, decided_by, created_at, updated_at`

func (r *pgRepository) Get(ctx context.Context, id int64) (Variation, error) {
	return scanVariation(r.pool.QueryRow(ctx, `SELECT `+variationColumns+` FROM variations WHERE id = $1`, id))
}

func (r *pgRepository) GetByToken(ctx context.Context, token string) (Variation, error) {
	return scanVariation(r.pool.QueryRow(ctx, `SELECT `+variationColumns+` FROM variations WHERE token = $1`, token))
}

func (r *pgRepository) ListByJob(ctx context.Context, jobID int64) ([]Variation, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+variationColumns+` FROM variations WHERE job_id = $1 ORDER BY id`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Variation
	for rows.Next() {
		v, err := scanVariation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

type pgTxRepository struct {
	tx pgx.Tx
}

func (t *pgTxRepository) Get(ctx context.Context, id int64) (Variation, error) {
	return scanVariation(t.tx.QueryRow(ctx, `SELECT `+variationColumns+` FROM variations WHERE id = $1`, id))
}

func (t *pgTxRepository) Insert(ctx context.Context, v Variation) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx,
		`INSERT INTO variations (job_id, quote_id, stage_id, stage_name, token, title, subtotal, vat, total, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 RETURNING id`,
		v.JobID, v.QuoteID, v.StageID, v.StageName, v.Token, v.Title,
		v.Subtotal, v.VAT, v.Total, string(v.Status), v.CreatedAt, v.UpdatedAt).Scan(&id)
	return id, err
}

func (t *pgTxRepository) MarkSent(ctx context.Context, id int64, at time.Time) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE variations SET status='sent', sent_at=$2, updated_at=$2 WHERE id = $1`, id, at)
	return err
}

func (t *pgTxRepository) MarkDecided(ctx context.Context, id int64, status Status, at time.Time, decidedBy string) (bool, error) {
	// The status guard makes the settle atomic: a concurrent decision that
	// committed first leaves zero rows for this update to claim.
	var (
		tag pgconn.CommandTag
		err error
	)
	switch status {
	case StatusApproved:
		tag, err = t.tx.Exec(ctx,
			`UPDATE variations SET status=$2, approved_at=$3, decided_by=$4, updated_at=$3
			 WHERE id = $1 AND status IN ('draft','sent')`,
			id, string(status), at, decidedBy)
	case StatusRejected:
		tag, err = t.tx.Exec(ctx,
			`UPDATE variations SET status=$2, rejected_at=$3, decided_by=$4, updated_at=$3
			 WHERE id = $1 AND status IN ('draft','sent')`,
			id, string(status), at, decidedBy)
	default:
		return false, fmt.Errorf("variation: %q is not a terminal status", status)
	}
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (t *pgTxRepository) IncrementJobBudget(ctx context.Context, jobID int64, subtotal, vat, total float64) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE jobs SET budget_subtotal = budget_subtotal + $2, budget_vat = budget_vat + $3, budget_total = budget_total + $4, updated_at = NOW() WHERE id = $1`,
		jobID, subtotal, vat, total)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (t *pgTxRepository) ResolveApprover(ctx context.Context, id int64) (string, bool, error) {
	var name *string
	err := t.tx.QueryRow(ctx,
		`SELECT c.contact_name
		   FROM variations v
		   LEFT JOIN jobs j ON j.id = v.job_id
		   LEFT JOIN quotes q ON q.id = v.quote_id
		   LEFT JOIN clients c ON c.id = COALESCE(j.client_id, q.client_id)
		  WHERE v.id = $1`, id).Scan(&name)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	if name == nil || *name == "" {
		return "", false, nil
	}
	return *name, true, nil
}

func scanVariation(row pgx.Row) (Variation, error) {
	var v Variation
	var status string
	var decidedBy *string
	err := row.Scan(&v.ID, &v.JobID, &v.QuoteID, &v.StageID, &v.StageName, &v.Token, &v.Title,
		&v.Subtotal, &v.VAT, &v.Total, &status, &v.SentAt, &v.ApprovedAt, &v.RejectedAt,
		&decidedBy, &v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Variation{}, shared.ErrNotFound
		}
		return Variation{}, err
	}
	v.Status = Status(status)
	if decidedBy != nil {
		v.DecidedBy = *decidedBy
	}
	return v, nil
}
