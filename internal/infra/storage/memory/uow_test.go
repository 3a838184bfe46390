package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appoutbox "staybook/internal/app/outbox"
	"staybook/internal/app/uow"
	domainavailability "staybook/internal/domain/availability"
	domainholds "staybook/internal/domain/holds"
	"staybook/internal/domain/pricing"
)

func newHold(t *testing.T, id string, now time.Time) *domainholds.Hold {
	t.Helper()
	h, err := domainholds.New(domainholds.CreateParams{
		ID:         domainholds.HoldID(id),
		PropertyID: "villa-1",
		Range:      mustRange(t, "2025-06-01", "2025-06-04"),
		Guests:     2,
		Quote:      pricing.Quote{Nights: 3, NightlyTotal: 300, CleaningFee: 20, Total: 320, Currency: "AED"},
		Now:        now,
		TTL:        15 * time.Minute,
	})
	require.NoError(t, err)
	return h
}

func TestUnitRollbackRevertsWrites(t *testing.T) {
	ctx := context.Background()
	store := NewStore(nil)
	box := NewOutbox()
	now := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	hold := newHold(t, "h-1", now)

	unit, err := Factory{Store: store}.Begin(ctx, uow.TxOptions{})
	require.NoError(t, err)
	unitCtx := uow.ContextWithUnitOfWork(ctx, unit)

	require.NoError(t, unit.Ledger().TryClaim(unitCtx, hold.PropertyID, hold.Range, domainavailability.ClaimHold, string(hold.ID)))
	require.NoError(t, unit.Holds().Create(unitCtx, hold))
	require.NoError(t, box.Add(unitCtx, appoutbox.EventRecord{ID: "e-1", Name: "hold.created"}))
	require.NoError(t, unit.Rollback(unitCtx))

	_, err = store.Holds.ByID(ctx, "h-1")
	assert.ErrorIs(t, err, domainholds.ErrHoldNotFound)
	days, err := store.Ledger.QueryStatus(ctx, hold.PropertyID, hold.Range)
	require.NoError(t, err)
	for _, d := range days {
		assert.Equal(t, domainavailability.StatusAvailable, d.Status)
	}
	assert.Empty(t, box.Pending())
}

func TestUnitRollbackRestoresReleasedNights(t *testing.T) {
	ctx := context.Background()
	store := NewStore(nil)
	now := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	hold := newHold(t, "h-1", now)
	require.NoError(t, store.Ledger.TryClaim(ctx, hold.PropertyID, hold.Range, domainavailability.ClaimHold, "h-1"))
	require.NoError(t, store.Holds.Create(ctx, hold))

	unit, err := Factory{Store: store}.Begin(ctx, uow.TxOptions{})
	require.NoError(t, err)
	loaded, err := unit.Holds().ByID(ctx, "h-1")
	require.NoError(t, err)
	require.NoError(t, loaded.Expire(now.Add(time.Hour)))
	require.NoError(t, unit.Holds().Save(ctx, loaded))
	require.NoError(t, unit.Ledger().Release(ctx, hold.PropertyID, hold.Range, "h-1"))
	require.NoError(t, unit.Rollback(ctx))

	restored, err := store.Holds.ByID(ctx, "h-1")
	require.NoError(t, err)
	assert.Equal(t, domainholds.StatusActive, restored.Status)
	assert.Equal(t, int64(1), restored.Version)
	days, err := store.Ledger.QueryStatus(ctx, hold.PropertyID, hold.Range)
	require.NoError(t, err)
	for _, d := range days {
		assert.Equal(t, domainavailability.StatusHold, d.Status)
	}
}

func TestCommittedUnitKeepsWrites(t *testing.T) {
	ctx := context.Background()
	store := NewStore(nil)
	hold := newHold(t, "h-1", time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC))

	unit, err := Factory{Store: store}.Begin(ctx, uow.TxOptions{})
	require.NoError(t, err)
	require.NoError(t, unit.Holds().Create(ctx, hold))
	require.NoError(t, unit.Commit(ctx))
	require.NoError(t, unit.Rollback(ctx))

	_, err = store.Holds.ByID(ctx, "h-1")
	assert.NoError(t, err)
}

func TestReadOnlyUnitRejectsWrites(t *testing.T) {
	ctx := context.Background()
	unit, err := Factory{Store: NewStore(nil)}.Begin(ctx, uow.TxOptions{ReadOnly: true})
	require.NoError(t, err)

	err = unit.Holds().Create(ctx, newHold(t, "h-1", time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)))
	assert.ErrorIs(t, err, errReadOnly)
}

func TestHoldSaveDetectsStaleVersion(t *testing.T) {
	ctx := context.Background()
	repo := NewHoldRepository()
	now := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, repo.Create(ctx, newHold(t, "h-1", now)))

	first, err := repo.ByID(ctx, "h-1")
	require.NoError(t, err)
	second, err := repo.ByID(ctx, "h-1")
	require.NoError(t, err)

	require.NoError(t, first.Consume(now.Add(time.Minute)))
	require.NoError(t, repo.Save(ctx, first))
	require.NoError(t, second.Expire(now.Add(time.Hour)))
	assert.ErrorIs(t, repo.Save(ctx, second), domainholds.ErrConcurrentUpdate)
}
