package invoice

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fieldledger/fieldledger/internal/shared"
)

type memoryVariation struct {
	BilledVariation
	JobID     int64
	StageName string
	Status    string
}

type memoryRepo struct {
	invoices     map[int64]Invoice
	links        map[int64]int64 // variation id -> invoice id
	variations   map[int64]memoryVariation
	jobs         map[int64]int64 // job id -> legal entity id
	sequences    map[int64]*sequence
	certificates map[int64][]int64 // invoice id -> attached certificate ids
	issuedCerts  map[int64][]int64 // job id -> issued certificate ids
	nextID       int64

	// onJobLock runs when JobLegalEntity takes the job row lock, standing in
	// for a concurrent issuance that committed while this one waited.
	onJobLock func()
}

type sequence struct {
	prefix string
	next   int64
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		invoices:     make(map[int64]Invoice),
		links:        make(map[int64]int64),
		variations:   make(map[int64]memoryVariation),
		jobs:         make(map[int64]int64),
		sequences:    make(map[int64]*sequence),
		certificates: make(map[int64][]int64),
		issuedCerts:  make(map[int64][]int64),
	}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &memoryTx{repo: r})
}

func (r *memoryRepo) GetInvoice(ctx context.Context, id int64) (Invoice, error) {
	inv, ok := r.invoices[id]
	if !ok {
		return Invoice{}, shared.ErrNotFound
	}
	return inv, nil
}

func (r *memoryRepo) ListByJob(ctx context.Context, jobID int64) ([]Invoice, error) {
	var out []Invoice
	for _, inv := range r.invoices {
		if inv.JobID == jobID {
			out = append(out, inv)
		}
	}
	return out, nil
}

func (r *memoryRepo) AttachIssuedCertificates(ctx context.Context, invoiceID, jobID int64) error {
	r.certificates[invoiceID] = append(r.certificates[invoiceID], r.issuedCerts[jobID]...)
	return nil
}

func (t *memoryTx) JobLegalEntity(ctx context.Context, jobID int64) (int64, error) {
	if t.repo.onJobLock != nil {
		t.repo.onJobLock()
		t.repo.onJobLock = nil
	}
	entity, ok := t.repo.jobs[jobID]
	if !ok {
		return 0, shared.ErrNotFound
	}
	return entity, nil
}

func (t *memoryTx) FindFinal(ctx context.Context, jobID int64) (Invoice, bool, error) {
	for _, inv := range t.repo.invoices {
		if inv.JobID == jobID && inv.Type == TypeFinal {
			return inv, true, nil
		}
	}
	return Invoice{}, false, nil
}

func (t *memoryTx) FindStage(ctx context.Context, jobID int64, stageName string) (Invoice, bool, error) {
	for _, inv := range t.repo.invoices {
		if inv.JobID == jobID && inv.Type == TypeStage && strings.EqualFold(inv.StageName, stageName) {
			return inv, true, nil
		}
	}
	return Invoice{}, false, nil
}

func (t *memoryTx) FindByVariation(ctx context.Context, variationID int64) (Invoice, bool, error) {
	if invoiceID, ok := t.repo.links[variationID]; ok {
		return t.repo.invoices[invoiceID], true, nil
	}
	for _, inv := range t.repo.invoices {
		if inv.VariationID != nil && *inv.VariationID == variationID {
			return inv, true, nil
		}
	}
	return Invoice{}, false, nil
}

func (t *memoryTx) VariationForJob(ctx context.Context, variationID, jobID int64) (BilledVariation, string, error) {
	v, ok := t.repo.variations[variationID]
	if !ok || v.JobID != jobID {
		return BilledVariation{}, "", shared.ErrNotFound
	}
	return v.BilledVariation, v.Status, nil
}

func (t *memoryTx) UnbilledApprovedVariations(ctx context.Context, jobID int64, stageName string) ([]BilledVariation, error) {
	var out []BilledVariation
	for _, v := range t.repo.variations {
		if v.JobID != jobID || v.Status != "approved" || !strings.EqualFold(v.StageName, stageName) {
			continue
		}
		if _, billed := t.repo.links[v.ID]; billed {
			continue
		}
		out = append(out, v.BilledVariation)
	}
	return out, nil
}

func (t *memoryTx) InsertInvoice(ctx context.Context, inv Invoice) (int64, error) {
	t.repo.nextID++
	inv.ID = t.repo.nextID
	t.repo.invoices[inv.ID] = inv
	return inv.ID, nil
}

func (t *memoryTx) LinkVariation(ctx context.Context, invoiceID, variationID int64) error {
	t.repo.links[variationID] = invoiceID
	return nil
}

func (t *memoryTx) NextNumber(ctx context.Context, legalEntityID int64) (string, bool, error) {
	seq, ok := t.repo.sequences[legalEntityID]
	if !ok {
		return "", false, nil
	}
	n := seq.next
	seq.next++
	return fmt.Sprintf("%s%05d", seq.prefix, n), true, nil
}

func newTestService(repo *memoryRepo) *Service {
	svc := NewService(repo, nil, slog.Default())
	svc.WithNow(func() time.Time { return time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC) })
	return svc
}

func TestFinalInvoiceIssuedOncePerJob(t *testing.T) {
	repo := newMemoryRepo()
	repo.jobs[7] = 1
	repo.sequences[1] = &sequence{prefix: "INV-", next: 42}
	svc := newTestService(repo)

	first, err := svc.CreateForJob(context.Background(), CreateInput{
		JobID: 7, Type: TypeFinal, Subtotal: 50000, VATRate: 0.2,
	})
	require.NoError(t, err)
	require.Equal(t, 50000.0, first.Subtotal)
	require.Equal(t, 10000.0, first.VAT)
	require.Equal(t, 60000.0, first.Total)

	second, err := svc.CreateForJob(context.Background(), CreateInput{
		JobID: 7, Type: TypeFinal, Subtotal: 99999, VATRate: 0.2,
	})
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
	require.Equal(t, 50000.0, second.Subtotal)
	require.Len(t, repo.invoices, 1)
}

func TestConcurrentFinalInvoiceReturnsWinner(t *testing.T) {
	repo := newMemoryRepo()
	repo.jobs[7] = 1
	svc := newTestService(repo)

	// By the time this call acquires the job row lock, a concurrent
	// issuance has already committed a final invoice for the job.
	repo.onJobLock = func() {
		repo.nextID++
		repo.invoices[repo.nextID] = Invoice{
			ID: repo.nextID, JobID: 7, Type: TypeFinal, Number: "INV-00042",
			Subtotal: 50000, VAT: 10000, Total: 60000, Status: StatusIssued,
		}
	}

	inv, err := svc.CreateForJob(context.Background(), CreateInput{
		JobID: 7, Type: TypeFinal, Subtotal: 99999, VATRate: 0.2,
	})
	require.NoError(t, err)
	require.Equal(t, "INV-00042", inv.Number)
	require.Equal(t, 50000.0, inv.Subtotal)
	// No second final invoice was inserted.
	require.Len(t, repo.invoices, 1)
}

func TestStageInvoiceUniqueCaseInsensitive(t *testing.T) {
	repo := newMemoryRepo()
	repo.jobs[7] = 1
	svc := newTestService(repo)

	first, err := svc.CreateForJob(context.Background(), CreateInput{
		JobID: 7, Type: TypeStage, StageName: "Foundation", Subtotal: 12000, VATRate: 0.2,
	})
	require.NoError(t, err)

	second, err := svc.CreateForJob(context.Background(), CreateInput{
		JobID: 7, Type: TypeStage, StageName: "foundation", Subtotal: 500, VATRate: 0.2,
	})
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
	require.Len(t, repo.invoices, 1)

	other, err := svc.CreateForJob(context.Background(), CreateInput{
		JobID: 7, Type: TypeStage, StageName: "First Fix", Subtotal: 8000, VATRate: 0.2,
	})
	require.NoError(t, err)
	require.NotEqual(t, first.ID, other.ID)
}

func TestStageInvoiceFoldsUnbilledVariations(t *testing.T) {
	repo := newMemoryRepo()
	repo.jobs[7] = 1
	repo.variations[31] = memoryVariation{
		BilledVariation: BilledVariation{ID: 31, Subtotal: 1000, VAT: 200, Total: 1200},
		JobID:           7, StageName: "Foundation", Status: "approved",
	}
	repo.variations[32] = memoryVariation{
		BilledVariation: BilledVariation{ID: 32, Subtotal: 400, VAT: 80, Total: 480},
		JobID:           7, StageName: "foundation", Status: "approved",
	}
	// wrong stage, must not fold
	repo.variations[33] = memoryVariation{
		BilledVariation: BilledVariation{ID: 33, Subtotal: 900, VAT: 180, Total: 1080},
		JobID:           7, StageName: "Roof", Status: "approved",
	}
	// not approved, must not fold
	repo.variations[34] = memoryVariation{
		BilledVariation: BilledVariation{ID: 34, Subtotal: 700, VAT: 140, Total: 840},
		JobID:           7, StageName: "Foundation", Status: "sent",
	}
	svc := newTestService(repo)

	inv, err := svc.CreateForJob(context.Background(), CreateInput{
		JobID: 7, Type: TypeStage, StageName: "Foundation", Subtotal: 10000, VATRate: 0.2,
	})
	require.NoError(t, err)
	require.Equal(t, 11400.0, inv.Subtotal)
	require.Equal(t, 2280.0, inv.VAT)
	require.Equal(t, 13680.0, inv.Total)
	require.Equal(t, inv.ID, repo.links[31])
	require.Equal(t, inv.ID, repo.links[32])
	require.NotContains(t, repo.links, int64(33))
	require.NotContains(t, repo.links, int64(34))

	// folded variations cannot be billed again
	_, err = svc.CreateForJob(context.Background(), CreateInput{
		JobID: 7, Type: TypeVariation, VariationID: ptr(int64(31)),
	})
	require.NoError(t, err)
	require.Len(t, repo.invoices, 1)
}

func TestVariationInvoiceUsesVariationAmounts(t *testing.T) {
	repo := newMemoryRepo()
	repo.jobs[7] = 1
	repo.variations[31] = memoryVariation{
		BilledVariation: BilledVariation{ID: 31, Subtotal: 2500, VAT: 500, Total: 3000},
		JobID:           7, Status: "approved",
	}
	svc := newTestService(repo)

	inv, err := svc.CreateForJob(context.Background(), CreateInput{
		JobID: 7, Type: TypeVariation, VariationID: ptr(int64(31)),
		Subtotal: 999999, VATRate: 0.2, // caller amounts are ignored
	})
	require.NoError(t, err)
	require.Equal(t, 2500.0, inv.Subtotal)
	require.Equal(t, 500.0, inv.VAT)
	require.Equal(t, 3000.0, inv.Total)
	require.NotNil(t, inv.VariationID)
	require.Equal(t, int64(31), *inv.VariationID)

	// billing the same variation again returns the existing invoice
	again, err := svc.CreateForJob(context.Background(), CreateInput{
		JobID: 7, Type: TypeVariation, VariationID: ptr(int64(31)),
	})
	require.NoError(t, err)
	require.Equal(t, inv.ID, again.ID)
	require.Len(t, repo.invoices, 1)
}

func TestVariationInvoiceRequiresApproval(t *testing.T) {
	repo := newMemoryRepo()
	repo.jobs[7] = 1
	repo.variations[31] = memoryVariation{
		BilledVariation: BilledVariation{ID: 31, Subtotal: 2500, VAT: 500, Total: 3000},
		JobID:           7, Status: "sent",
	}
	svc := newTestService(repo)

	_, err := svc.CreateForJob(context.Background(), CreateInput{
		JobID: 7, Type: TypeVariation, VariationID: ptr(int64(31)),
	})
	require.ErrorIs(t, err, ErrVariationNotApproved)
	require.ErrorIs(t, err, shared.ErrConflict)
	require.Empty(t, repo.invoices)
}

func TestVariationInvoiceWrongJob(t *testing.T) {
	repo := newMemoryRepo()
	repo.jobs[7] = 1
	repo.jobs[8] = 1
	repo.variations[31] = memoryVariation{
		BilledVariation: BilledVariation{ID: 31, Subtotal: 2500, VAT: 500, Total: 3000},
		JobID:           8, Status: "approved",
	}
	svc := newTestService(repo)

	_, err := svc.CreateForJob(context.Background(), CreateInput{
		JobID: 7, Type: TypeVariation, VariationID: ptr(int64(31)),
	})
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestInvoiceNumbering(t *testing.T) {
	repo := newMemoryRepo()
	repo.jobs[7] = 1
	repo.jobs[9] = 2 // no sequence configured for entity 2
	repo.sequences[1] = &sequence{prefix: "INV-", next: 7}
	svc := newTestService(repo)

	first, err := svc.CreateForJob(context.Background(), CreateInput{
		JobID: 7, Type: TypeDeposit, Subtotal: 1000, VATRate: 0.2,
	})
	require.NoError(t, err)
	require.Equal(t, "INV-00007", first.Number)

	second, err := svc.CreateForJob(context.Background(), CreateInput{
		JobID: 7, Type: TypeStage, StageName: "Roof", Subtotal: 2000, VATRate: 0.2,
	})
	require.NoError(t, err)
	require.Equal(t, "INV-00008", second.Number)

	unnumbered, err := svc.CreateForJob(context.Background(), CreateInput{
		JobID: 9, Type: TypeDeposit, Subtotal: 1000, VATRate: 0.2,
	})
	require.NoError(t, err)
	require.Empty(t, unnumbered.Number)
}

func TestCompletionInvoiceAttachesCertificates(t *testing.T) {
	repo := newMemoryRepo()
	repo.jobs[7] = 1
	repo.issuedCerts[7] = []int64{101, 102}
	svc := newTestService(repo)

	inv, err := svc.CreateForJob(context.Background(), CreateInput{
		JobID: 7, Type: TypeFinal, Subtotal: 5000, VATRate: 0.2,
	})
	require.NoError(t, err)
	require.ElementsMatch(t, []int64{101, 102}, repo.certificates[inv.ID])

	stage, err := svc.CreateForJob(context.Background(), CreateInput{
		JobID: 7, Type: TypeStage, StageName: "Practical Completion", Subtotal: 3000, VATRate: 0.2,
	})
	require.NoError(t, err)
	require.ElementsMatch(t, []int64{101, 102}, repo.certificates[stage.ID])
}

func TestCreateValidation(t *testing.T) {
	repo := newMemoryRepo()
	repo.jobs[7] = 1
	svc := newTestService(repo)

	_, err := svc.CreateForJob(context.Background(), CreateInput{JobID: 7, Type: "retainer"})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.CreateForJob(context.Background(), CreateInput{JobID: 7, Type: TypeStage})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.CreateForJob(context.Background(), CreateInput{JobID: 7, Type: TypeVariation})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.CreateForJob(context.Background(), CreateInput{JobID: 99, Type: TypeDeposit, Subtotal: 100})
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func ptr[T any](v T) *T { return &v }
