package invoice

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fieldledger/fieldledger/internal/platform/db"
	"github.com/fieldledger/fieldledger/internal/shared"
)

// Repository defines invoice data access.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error

	GetInvoice(ctx context.Context, id int64) (Invoice, error)
	ListByJob(ctx context.Context, jobID int64) ([]Invoice, error)

	// AttachIssuedCertificates links the job's issued certificates to a
	// completion invoice. Best effort, called after commit.
	AttachIssuedCertificates(ctx context.Context, invoiceID, jobID int64) error
}

// TxRepository defines operations within an issuance transaction.
type TxRepository interface {
	// JobLegalEntity resolves the job's legal entity and takes a row lock on
	// the job, so concurrent issuance for the same job runs one at a time
	// and the loser observes the winner's invoice in the existence checks.
	JobLegalEntity(ctx context.Context, jobID int64) (int64, error)

	FindFinal(ctx context.Context, jobID int64) (Invoice, bool, error)
	FindStage(ctx context.Context, jobID int64, stageName string) (Invoice, bool, error)
	FindByVariation(ctx context.Context, variationID int64) (Invoice, bool, error)

	// VariationForJob returns the variation's amounts and status, reporting
	// not-found when it does not belong to the job.
	VariationForJob(ctx context.Context, variationID, jobID int64) (BilledVariation, string, error)
	// UnbilledApprovedVariations returns approved variations scoped to the
	// stage that no invoice references, directly or through the join table.
	UnbilledApprovedVariations(ctx context.Context, jobID int64, stageName string) ([]BilledVariation, error)

	InsertInvoice(ctx context.Context, inv Invoice) (int64, error)
	LinkVariation(ctx context.Context, invoiceID, variationID int64) error

	// NextNumber allocates the next invoice number for a legal entity.
	// Reports false when the entity has no sequence configured.
	NextNumber(ctx context.Context, legalEntityID int64) (string, bool, error)
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

const invoiceColumns = `id, job_id, type, stage_name, variation_id, number, subtotal, vat, total, status, created_at`

func (r *pgRepository) GetInvoice(ctx context.Context, id int64) (Invoice, error) {
	return scanInvoice(r.pool.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = $1`, id))
}

func (r *pgRepository) ListByJob(ctx context.Context, jobID int64) ([]Invoice, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE job_id = $1 ORDER BY id`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

func (r *pgRepository) AttachIssuedCertificates(ctx context.Context, invoiceID, jobID int64) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO invoice_certificates (invoice_id, certificate_id)
		 SELECT $1, id FROM certificates WHERE job_id = $2 AND status = 'issued'
		 ON CONFLICT DO NOTHING`,
		invoiceID, jobID)
	return err
}

type pgTxRepository struct {
	tx pgx.Tx
}

func (t *pgTxRepository) JobLegalEntity(ctx context.Context, jobID int64) (int64, error) {
	// FOR UPDATE serializes issuance per job: a concurrent create blocks
	// here until the first commits, then sees its invoice in the existence
	// checks instead of tripping the partial unique indexes.
	var legalEntityID int64
	err := t.tx.QueryRow(ctx, `SELECT legal_entity_id FROM jobs WHERE id = $1 FOR UPDATE`, jobID).Scan(&legalEntityID)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, shared.ErrNotFound
	}
	return legalEntityID, err
}

func (t *pgTxRepository) FindFinal(ctx context.Context, jobID int64) (Invoice, bool, error) {
	inv, err := scanInvoice(t.tx.QueryRow(ctx,
		`SELECT `+invoiceColumns+` FROM invoices WHERE job_id = $1 AND type = 'final' LIMIT 1`, jobID))
	return found(inv, err)
}

func (t *pgTxRepository) FindStage(ctx context.Context, jobID int64, stageName string) (Invoice, bool, error) {
	inv, err := scanInvoice(t.tx.QueryRow(ctx,
		`SELECT `+invoiceColumns+` FROM invoices WHERE job_id = $1 AND type = 'stage' AND LOWER(stage_name) = LOWER($2) LIMIT 1`,
		jobID, stageName))
	return found(inv, err)
}

func (t *pgTxRepository) FindByVariation(ctx context.Context, variationID int64) (Invoice, bool, error) {
	inv, err := scanInvoice(t.tx.QueryRow(ctx,
		`SELECT `+invoiceColumns+` FROM invoices i
		  WHERE i.variation_id = $1
		     OR EXISTS (SELECT 1 FROM invoice_variations iv WHERE iv.invoice_id = i.id AND iv.variation_id = $1)
		  LIMIT 1`, variationID))
	return found(inv, err)
}

func (t *pgTxRepository) VariationForJob(ctx context.Context, variationID, jobID int64) (BilledVariation, string, error) {
	var bv BilledVariation
	var status string
	err := t.tx.QueryRow(ctx,
		`SELECT id, subtotal, vat, total, status FROM variations WHERE id = $1 AND job_id = $2`,
		variationID, jobID).Scan(&bv.ID, &bv.Subtotal, &bv.VAT, &bv.Total, &status)
	if errors.Is(err, pgx.ErrNoRows) {
		return BilledVariation{}, "", shared.ErrNotFound
	}
	return bv, status, err
}

func (t *pgTxRepository) UnbilledApprovedVariations(ctx context.Context, jobID int64, stageName string) ([]BilledVariation, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT v.id, v.subtotal, v.vat, v.total
		   FROM variations v
		   LEFT JOIN job_stages s ON s.id = v.stage_id
		  WHERE v.job_id = $1
		    AND v.status = 'approved'
		    AND LOWER(COALESCE(s.name, v.stage_name)) = LOWER($2)
		    AND NOT EXISTS (SELECT 1 FROM invoice_variations iv WHERE iv.variation_id = v.id)
		    AND NOT EXISTS (SELECT 1 FROM invoices i WHERE i.variation_id = v.id)
		  ORDER BY v.id`,
		jobID, stageName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []BilledVariation
	for rows.Next() {
		var bv BilledVariation
		if err := rows.Scan(&bv.ID, &bv.Subtotal, &bv.VAT, &bv.Total); err != nil {
			return nil, err
		}
		out = append(out, bv)
	}
	return out, rows.Err()
}

func (t *pgTxRepository) InsertInvoice(ctx context.Context, inv Invoice) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx,
		`INSERT INTO invoices (job_id, type, stage_name, variation_id, number, subtotal, vat, total, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 RETURNING id`,
		inv.JobID, string(inv.Type), inv.StageName, inv.VariationID, inv.Number,
		inv.Subtotal, inv.VAT, inv.Total, inv.Status, inv.CreatedAt).Scan(&id)
	return id, err
}

func (t *pgTxRepository) LinkVariation(ctx context.Context, invoiceID, variationID int64) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO invoice_variations (invoice_id, variation_id) VALUES ($1, $2)`, invoiceID, variationID)
	return err
}

func (t *pgTxRepository) NextNumber(ctx context.Context, legalEntityID int64) (string, bool, error) {
	var prefix string
	var next int64
	err := t.tx.QueryRow(ctx,
		`UPDATE invoice_sequences SET next = next + 1 WHERE legal_entity_id = $1 AND doc_type = 'invoice' RETURNING prefix, next - 1`,
		legalEntityID).Scan(&prefix, &next)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return fmt.Sprintf("%s%05d", prefix, next), true, nil
}

func found(inv Invoice, err error) (Invoice, bool, error) {
	if errors.Is(err, shared.ErrNotFound) {
		return Invoice{}, false, nil
	}
	if err != nil {
		return Invoice{}, false, err
	}
	return inv, true, nil
}

func scanInvoice(row pgx.Row) (Invoice, error) {
	var inv Invoice
	var typ string
	err := row.Scan(&inv.ID, &inv.JobID, &typ, &inv.StageName, &inv.VariationID, &inv.Number,
		&inv.Subtotal, &inv.VAT, &inv.Total, &inv.Status, &inv.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Invoice{}, shared.ErrNotFound
		}
		return Invoice{}, err
	}
	inv.Type = Type(typ)
	return inv, nil
}
