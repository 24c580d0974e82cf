package ledger

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fieldledger/fieldledger/internal/platform/db"
	"github.com/fieldledger/fieldledger/internal/shared"
)

// Repository defines cost ledger data access.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error

	GetItem(ctx context.Context, id int64) (CostItem, error)
	ListItems(ctx context.Context, jobID int64) ([]CostItem, error)
}

// TxRepository defines operations within a transaction.
type TxRepository interface {
	GetItem(ctx context.Context, id int64) (CostItem, error)
	InsertItem(ctx context.Context, item CostItem) (int64, error)
	UpdateItem(ctx context.Context, item CostItem) error
	DeleteItem(ctx context.Context, id int64) error
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

const costItemColumns = `id, job_id, type, description, quantity, unit_cost, markup_pct, total_cost, lock_status, source, created_at, updated_at`

func (r *pgRepository) GetItem(ctx context.Context, id int64) (CostItem, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+costItemColumns+` FROM cost_items WHERE id = $1`, id)
	return scanCostItem(row)
}

func (r *pgRepository) ListItems(ctx context.Context, jobID int64) ([]CostItem, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+costItemColumns+` FROM cost_items WHERE job_id = $1 ORDER BY id`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []CostItem
	for rows.Next() {
		item, err := scanCostItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

type pgTxRepository struct {
	tx pgx.Tx
}

func (t *pgTxRepository) GetItem(ctx context.Context, id int64) (CostItem, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+costItemColumns+` FROM cost_items WHERE id = $1`, id)
	return scanCostItem(row)
}

func (t *pgTxRepository) InsertItem(ctx context.Context, item CostItem) (int64, error) {
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

func (t *pgTxRepository) UpdateItem(ctx context.Context, item CostItem) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE cost_items SET type=$2, description=$3, quantity=$4, unit_cost=$5, markup_pct=$6, total_cost=$7, updated_at=$8 WHERE id = $1`,
		item.ID, string(item.Type), item.Description, item.Quantity, item.UnitCost,
		item.MarkupPct, item.TotalCost, item.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (t *pgTxRepository) DeleteItem(ctx context.Context, id int64) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM cost_items WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCostItem(row rowScanner) (CostItem, error) {
	var item CostItem
	var typ, lock, source string
	err := row.Scan(&item.ID, &item.JobID, &typ, &item.Description, &item.Quantity,
		&item.UnitCost, &item.MarkupPct, &item.TotalCost, &lock, &source,
		&item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return CostItem{}, shared.ErrNotFound
		}
		return CostItem{}, err
	}
	item.Type = ItemType(typ)
	item.LockStatus = LockStatus(lock)
	item.Source, err = ParseSource(source)
	if err != nil {
		return CostItem{}, err
	}
	return item, nil
}
