package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fieldledger/fieldledger/internal/shared"
)

type memoryRepo struct {
	items  map[int64]CostItem
	nextID int64
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{items: make(map[int64]CostItem)}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &memoryTx{repo: r})
}

func (r *memoryRepo) GetItem(ctx context.Context, id int64) (CostItem, error) {
	item, ok := r.items[id]
	if !ok {
		return CostItem{}, shared.ErrNotFound
	}
	return item, nil
}

func (r *memoryRepo) ListItems(ctx context.Context, jobID int64) ([]CostItem, error) {
	var out []CostItem
	for _, item := range r.items {
		if item.JobID == jobID {
			out = append(out, item)
		}
	}
	return out, nil
}

func (t *memoryTx) GetItem(ctx context.Context, id int64) (CostItem, error) {
	return t.repo.GetItem(ctx, id)
}

func (t *memoryTx) InsertItem(ctx context.Context, item CostItem) (int64, error) {
	t.repo.nextID++
	item.ID = t.repo.nextID
	t.repo.items[item.ID] = item
	return item.ID, nil
}

func (t *memoryTx) UpdateItem(ctx context.Context, item CostItem) error {
	if _, ok := t.repo.items[item.ID]; !ok {
		return shared.ErrNotFound
	}
	t.repo.items[item.ID] = item
	return nil
}

func (t *memoryTx) DeleteItem(ctx context.Context, id int64) error {
	if _, ok := t.repo.items[id]; !ok {
		return shared.ErrNotFound
	}
	delete(t.repo.items, id)
	return nil
}

func fixedClock() func() time.Time {
	at := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	return func() time.Time { return at }
}

func TestAddItemComputesTotal(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newMemoryRepo())
	svc.WithNow(fixedClock())

	item, err := svc.AddItem(ctx, AddItemInput{
		JobID:       7,
		Type:        TypeMaterial,
		Description: "Copper pipe",
		Quantity:    3,
		UnitCost:    12.5,
	})
	require.NoError(t, err)
	require.InDelta(t, 37.5, item.TotalCost, 0.001)
	require.Equal(t, LockOpen, item.LockStatus)
	require.True(t, item.Source.IsManual())
}

func TestAddItemValidation(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newMemoryRepo())

	_, err := svc.AddItem(ctx, AddItemInput{JobID: 1, Type: TypeOther, Quantity: 0, UnitCost: 1})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.AddItem(ctx, AddItemInput{JobID: 1, Type: "fuel", Quantity: 1, UnitCost: 1})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.AddItem(ctx, AddItemInput{JobID: 0, Type: TypeOther, Quantity: 1, UnitCost: 1})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestUpdateItemRecomputesTotal(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepo()
	svc := NewService(repo)
	svc.WithNow(fixedClock())

	item, err := svc.AddItem(ctx, AddItemInput{JobID: 1, Type: TypeLabour, Quantity: 2, UnitCost: 40})
	require.NoError(t, err)

	qty := 5.0
	updated, err := svc.UpdateItem(ctx, item.ID, UpdateItemInput{Quantity: &qty})
	require.NoError(t, err)
	require.InDelta(t, 200.0, updated.TotalCost, 0.001)
}

func TestLockedItemImmutable(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepo()
	svc := NewService(repo)

	repo.nextID++
	repo.items[repo.nextID] = CostItem{
		ID:         repo.nextID,
		JobID:      3,
		Type:       TypeLabour,
		Quantity:   8,
		UnitCost:   35,
		TotalCost:  280,
		LockStatus: LockLocked,
		Source:     TimeEntrySource(101),
	}

	qty := 1.0
	_, err := svc.UpdateItem(ctx, repo.nextID, UpdateItemInput{Quantity: &qty})
	require.ErrorIs(t, err, ErrItemLocked)
	require.ErrorIs(t, err, shared.ErrConflict)

	err = svc.DeleteItem(ctx, repo.nextID)
	require.ErrorIs(t, err, ErrItemLocked)

	// The row is untouched.
	stored, err := svc.GetItem(ctx, repo.nextID)
	require.NoError(t, err)
	require.InDelta(t, 280.0, stored.TotalCost, 0.001)
}

func TestOpenItemDeletable(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepo()
	svc := NewService(repo)

	item, err := svc.AddItem(ctx, AddItemInput{JobID: 1, Type: TypePlant, Quantity: 1, UnitCost: 90})
	require.NoError(t, err)

	require.NoError(t, svc.DeleteItem(ctx, item.ID))
	_, err = svc.GetItem(ctx, item.ID)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestSourceKeyRoundTrip(t *testing.T) {
	require.Equal(t, "manual", ManualSource().Key())
	require.Equal(t, "timesheet:42", TimeEntrySource(42).Key())
	require.Equal(t, "supplier_bill_line:9", BillLineSource(9).Key())

	src, err := ParseSource("timesheet:42")
	require.NoError(t, err)
	require.Equal(t, TimeEntrySource(42), src)

	_, err = ParseSource("purchase_order:1")
	require.Error(t, err)
}
