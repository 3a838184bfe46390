package holds_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"staybook/internal/app/clock"
	"staybook/internal/app/handlers/holds"
	"staybook/internal/app/uow"
	domainavailability "staybook/internal/domain/availability"
	domainholds "staybook/internal/domain/holds"
	"staybook/internal/domain/listings"
	"staybook/internal/domain/pricing"
	"staybook/internal/domain/shared/daterange"
	"staybook/internal/infra/storage/memory"
)

var errLedgerDown = errors.New("ledger unavailable")

// brokenReleaseFactory hands out units whose ledger cannot release one claim.
type brokenReleaseFactory struct {
	memory.Factory
	claimID string
}

func (f brokenReleaseFactory) Begin(ctx context.Context, opts uow.TxOptions) (uow.UnitOfWork, error) {
	unit, err := f.Factory.Begin(ctx, opts)
	if err != nil {
		return nil, err
	}
	return brokenReleaseUnit{UnitOfWork: unit, claimID: f.claimID}, nil
}

type brokenReleaseUnit struct {
	uow.UnitOfWork
	claimID string
}

func (u brokenReleaseUnit) Ledger() domainavailability.Ledger {
	return brokenReleaseLedger{Ledger: u.UnitOfWork.Ledger(), claimID: u.claimID}
}

type brokenReleaseLedger struct {
	domainavailability.Ledger
	claimID string
}

func (l brokenReleaseLedger) Release(ctx context.Context, propertyID listings.ListingID, dr daterange.DateRange, claimID string) error {
	if claimID == l.claimID {
		return errLedgerDown
	}
	return l.Ledger.Release(ctx, propertyID, dr, claimID)
}

func seedHold(t *testing.T, store *memory.Store, id, checkIn, checkOut string, now time.Time) *domainholds.Hold {
	t.Helper()
	ctx := context.Background()
	dr, err := daterange.Parse(checkIn, checkOut)
	require.NoError(t, err)
	hold, err := domainholds.New(domainholds.CreateParams{
		ID:         domainholds.HoldID(id),
		PropertyID: "villa-1",
		Range:      dr,
		Guests:     2,
		Quote:      pricing.Quote{Nights: dr.Nights(), NightlyTotal: 100, Total: 100, Currency: "AED"},
		Now:        now,
		TTL:        15 * time.Minute,
	})
	require.NoError(t, err)
	require.NoError(t, store.Ledger.TryClaim(ctx, hold.PropertyID, dr, domainavailability.ClaimHold, id))
	require.NoError(t, store.Holds.Create(ctx, hold))
	return hold
}

func TestExpireHoldsIsolatesFailingHold(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	store := memory.NewStore(memory.NewKeyedLocker())
	healthy := seedHold(t, store, "h-ok", "2025-06-01", "2025-06-04", start)
	broken := seedHold(t, store, "h-broken", "2025-06-10", "2025-06-12", start)

	handler := &holds.ExpireHoldsHandler{
		UoWFactory: brokenReleaseFactory{Factory: memory.Factory{Store: store}, claimID: string(broken.ID)},
		Clock:      clock.NewManual(start.Add(time.Hour)),
	}
	res, err := handler.Handle(ctx, holds.ExpireHoldsCommand{})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Scanned)
	assert.Equal(t, 1, res.Expired)
	assert.Equal(t, 1, res.Failed)

	got, err := store.Holds.ByID(ctx, healthy.ID)
	require.NoError(t, err)
	assert.Equal(t, domainholds.StatusExpired, got.Status)
	days, err := store.Ledger.QueryStatus(ctx, healthy.PropertyID, healthy.Range)
	require.NoError(t, err)
	for _, d := range days {
		assert.Equal(t, domainavailability.StatusAvailable, d.Status)
	}

	got, err = store.Holds.ByID(ctx, broken.ID)
	require.NoError(t, err)
	assert.Equal(t, domainholds.StatusActive, got.Status, "failed expiry must roll back its own unit only")
	days, err = store.Ledger.QueryStatus(ctx, broken.PropertyID, broken.Range)
	require.NoError(t, err)
	for _, d := range days {
		assert.Equal(t, domainavailability.StatusHold, d.Status)
	}
}

func TestExpireHoldsRetriesFailedHoldOnNextPass(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	store := memory.NewStore(memory.NewKeyedLocker())
	hold := seedHold(t, store, "h-1", "2025-06-01", "2025-06-03", start)
	manual := clock.NewManual(start.Add(time.Hour))

	failing := &holds.ExpireHoldsHandler{
		UoWFactory: brokenReleaseFactory{Factory: memory.Factory{Store: store}, claimID: string(hold.ID)},
		Clock:      manual,
	}
	res, err := failing.Handle(ctx, holds.ExpireHoldsCommand{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)

	healthy := &holds.ExpireHoldsHandler{UoWFactory: memory.Factory{Store: store}, Clock: manual}
	res, err = healthy.Handle(ctx, holds.ExpireHoldsCommand{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Expired)
	assert.Zero(t, res.Failed)

	got, err := store.Holds.ByID(ctx, hold.ID)
	require.NoError(t, err)
	assert.Equal(t, domainholds.StatusExpired, got.Status)
}
