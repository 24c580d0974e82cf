package supplierbill

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fieldledger/fieldledger/internal/ledger"
	"github.com/fieldledger/fieldledger/internal/shared"
)

type memoryRepo struct {
	bills    map[int64]Bill
	lines    map[int64][]BillLine
	items    map[string]ledger.CostItem
	nextItem int64

	beforeTx func()
	// beforePost runs inside the tx, after the re-read saw the bill still
	// draft.
	beforePost func()
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		bills: make(map[int64]Bill),
		lines: make(map[int64][]BillLine),
		items: make(map[string]ledger.CostItem),
	}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r.beforeTx != nil {
		r.beforeTx()
		r.beforeTx = nil
	}
	return fn(ctx, &memoryTx{repo: r})
}

func (r *memoryRepo) GetBill(ctx context.Context, id int64) (Bill, error) {
	bill, ok := r.bills[id]
	if !ok {
		return Bill{}, shared.ErrNotFound
	}
	return bill, nil
}

func (r *memoryRepo) ListLines(ctx context.Context, billID int64) ([]BillLine, error) {
	return append([]BillLine(nil), r.lines[billID]...), nil
}

func (t *memoryTx) GetBill(ctx context.Context, id int64) (Bill, error) {
	return t.repo.GetBill(ctx, id)
}

func (t *memoryTx) MarkPosted(ctx context.Context, id, postedBy int64, at time.Time) (bool, error) {
	if t.repo.beforePost != nil {
		t.repo.beforePost()
		t.repo.beforePost = nil
	}
	bill := t.repo.bills[id]
	if bill.Status == StatusPosted {
		return false, nil
	}
	bill.Status = StatusPosted
	bill.PostedAt = &at
	bill.PostedBy = &postedBy
	bill.UpdatedAt = at
	t.repo.bills[id] = bill
	return true, nil
}

func (t *memoryTx) ListLines(ctx context.Context, billID int64) ([]BillLine, error) {
	return t.repo.ListLines(ctx, billID)
}

func (t *memoryTx) LinkLineCostItem(ctx context.Context, lineID, costItemID int64) error {
	for billID, lines := range t.repo.lines {
		for i := range lines {
			if lines[i].ID == lineID {
				id := costItemID
				lines[i].CostItemID = &id
				t.repo.lines[billID] = lines
				return nil
			}
		}
	}
	return shared.ErrNotFound
}

func (t *memoryTx) CostItemExists(ctx context.Context, sourceKey string) (bool, error) {
	_, ok := t.repo.items[sourceKey]
	return ok, nil
}

func (t *memoryTx) InsertCostItem(ctx context.Context, item ledger.CostItem) (int64, error) {
	t.repo.nextItem++
	item.ID = t.repo.nextItem
	t.repo.items[item.Source.Key()] = item
	return item.ID, nil
}

func billFixture(repo *memoryRepo) {
	repo.bills[1] = Bill{ID: 1, SupplierID: 20, JobID: 5, Reference: "SB-100", Status: StatusDraft}
	repo.lines[1] = []BillLine{
		{ID: 31, BillID: 1, Description: "Boiler", Quantity: 1, UnitCost: 850},
		{ID: 32, BillID: 1, Description: "Flue kit", Quantity: 2, UnitCost: 60},
	}
}

func TestPostMintsLockedMaterialItems(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepo()
	billFixture(repo)
	svc := NewService(repo, nil, nil)

	bill, err := svc.Post(ctx, 1, shared.Actor{ID: 4, Role: "admin"})
	require.NoError(t, err)
	require.Equal(t, StatusPosted, bill.Status)
	require.NotNil(t, bill.PostedAt)

	require.Len(t, repo.items, 2)
	item := repo.items["supplier_bill_line:31"]
	require.Equal(t, ledger.TypeMaterial, item.Type)
	require.Equal(t, ledger.LockLocked, item.LockStatus)
	require.InDelta(t, 850.0, item.TotalCost, 0.001)
	require.Equal(t, int64(5), item.JobID)

	// Each line carries the back-link to its minted item.
	for _, line := range repo.lines[1] {
		require.NotNil(t, line.CostItemID)
	}
}

func TestPostIsIdempotent(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepo()
	billFixture(repo)
	svc := NewService(repo, nil, nil)

	first, err := svc.Post(ctx, 1, shared.Actor{ID: 4})
	require.NoError(t, err)

	second, err := svc.Post(ctx, 1, shared.Actor{ID: 5})
	require.NoError(t, err)
	require.Equal(t, first.Status, second.Status)
	require.Equal(t, *first.PostedBy, *second.PostedBy)
	require.Len(t, repo.items, 2)
}

func TestPostLosesRaceCleanly(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepo()
	billFixture(repo)
	svc := NewService(repo, nil, nil)

	repo.beforeTx = func() {
		bill := repo.bills[1]
		bill.Status = StatusPosted
		winner := int64(77)
		bill.PostedBy = &winner
		repo.bills[1] = bill
	}

	bill, err := svc.Post(ctx, 1, shared.Actor{ID: 4})
	require.NoError(t, err)
	require.Equal(t, StatusPosted, bill.Status)
	require.Equal(t, int64(77), *bill.PostedBy)
	require.Empty(t, repo.items)
}

func TestPostRaceInsideTransactionMintsNothing(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepo()
	billFixture(repo)
	svc := NewService(repo, nil, nil)

	// The concurrent posting commits after our transactional re-read still
	// saw the bill in draft, so only the conditional write notices it.
	repo.beforePost = func() {
		bill := repo.bills[1]
		bill.Status = StatusPosted
		winner := int64(77)
		bill.PostedBy = &winner
		repo.bills[1] = bill
		repo.items["supplier_bill_line:31"] = ledger.CostItem{ID: 1, Source: ledger.BillLineSource(31)}
		repo.items["supplier_bill_line:32"] = ledger.CostItem{ID: 2, Source: ledger.BillLineSource(32)}
	}

	bill, err := svc.Post(ctx, 1, shared.Actor{ID: 4})
	require.NoError(t, err)
	require.Equal(t, StatusPosted, bill.Status)
	require.Equal(t, int64(77), *bill.PostedBy)
	// Only the winner's items exist.
	require.Len(t, repo.items, 2)
}

func TestPostSkipsAlreadyLinkedLines(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepo()
	billFixture(repo)
	existing := int64(900)
	repo.lines[1][0].CostItemID = &existing
	svc := NewService(repo, nil, nil)

	_, err := svc.Post(ctx, 1, shared.Actor{ID: 4})
	require.NoError(t, err)
	require.Len(t, repo.items, 1)
	_, minted := repo.items["supplier_bill_line:32"]
	require.True(t, minted)
}

func TestPostUnknownBill(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil, nil)
	_, err := svc.Post(context.Background(), 404, shared.Actor{ID: 4})
	require.ErrorIs(t, err, shared.ErrNotFound)
}
