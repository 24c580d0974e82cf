package supplierbill

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

// Repository defines supplier bill data access.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error

	GetBill(ctx context.Context, id int64) (Bill, error)
	ListLines(ctx context.Context, billID int64) ([]BillLine, error)
}

// TxRepository defines operations within a posting transaction.
type TxRepository interface {
	GetBill(ctx context.Context, id int64) (Bill, error)
	// MarkPosted flips the bill to posted only while it is still draft,
	// reporting whether this write won. A false return means a concurrent
	// posting committed first.
	MarkPosted(ctx context.Context, id, postedBy int64, at time.Time) (bool, error)
	ListLines(ctx context.Context, billID int64) ([]BillLine, error)
	LinkLineCostItem(ctx context.Context, lineID, costItemID int64) error

	CostItemExists(ctx context.Context, sourceKey string) (bool, error)
	InsertCostItem(ctx context.Context, item ledger.CostItem) (int64, error)
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

const billColumns = `id, supplier_id, job_id, reference, status, posted_at, posted_by, created_at, updated_at`

func (r *pgRepository) GetBill(ctx context.Context, id int64) (Bill, error) {
	return scanBill(r.pool.QueryRow(ctx, `SELECT `+billColumns+` FROM supplier_bills WHERE id = $1`, id))
}

func (r *pgRepository) ListLines(ctx context.Context, billID int64) ([]BillLine, error) {
	return queryLines(ctx, r.pool, billID)
}

type pgTxRepository struct {
	tx pgx.Tx
}

func (t *pgTxRepository) GetBill(ctx context.Context, id int64) (Bill, error) {
	return scanBill(t.tx.QueryRow(ctx, `SELECT `+billColumns+` FROM supplier_bills WHERE id = $1`, id))
}

func (t *pgTxRepository) MarkPosted(ctx context.Context, id, postedBy int64, at time.Time) (bool, error) {
	tag, err := t.tx.Exec(ctx,
		`UPDATE supplier_bills SET status='posted', posted_at=$2, posted_by=$3, updated_at=$2
		 WHERE id = $1 AND status = 'draft'`,
		id, at, postedBy)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (t *pgTxRepository) ListLines(ctx context.Context, billID int64) ([]BillLine, error) {
	return queryLines(ctx, t.tx, billID)
}

func (t *pgTxRepository) LinkLineCostItem(ctx context.Context, lineID, costItemID int64) error {
	_, err := t.tx.Exec(ctx, `UPDATE supplier_bill_lines SET cost_item_id = $2 WHERE id = $1`, lineID, costItemID)
	return err
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

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func queryLines(ctx context.Context, q querier, billID int64) ([]BillLine, error) {
	rows, err := q.Query(ctx,
		`SELECT id, bill_id, description, quantity, unit_cost, cost_item_id FROM supplier_bill_lines WHERE bill_id = $1 ORDER BY id`,
		billID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []BillLine
	for rows.Next() {
		var l BillLine
		if err := rows.Scan(&l.ID, &l.BillID, &l.Description, &l.Quantity, &l.UnitCost, &l.CostItemID); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

func scanBill(row pgx.Row) (Bill, error) {
	var b Bill
	var status string
	err := row.Scan(&b.ID, &b.SupplierID, &b.JobID, &b.Reference, &status, &b.PostedAt, &b.PostedBy, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Bill{}, shared.ErrNotFound
		}
		return Bill{}, err
	}
	b.Status = Status(status)
	return b, nil
}
