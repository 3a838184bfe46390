package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"staybook/internal/app/uow"
	domainavailability "staybook/internal/domain/availability"
	domainbooking "staybook/internal/domain/booking"
	domainholds "staybook/internal/domain/holds"
	domainlistings "staybook/internal/domain/listings"
	domainpayments "staybook/internal/domain/payments"
	"staybook/internal/domain/shared/daterange"
)

var ErrFactoryMisconfigured = errors.New("memory: unit of work factory misconfigured")

// Store groups the in-memory repositories of one process.
type Store struct {
	Listings      *ListingRepository
	Ledger        *Ledger
	Holds         *HoldRepository
	Bookings      *BookingRepository
	PaymentEvents *PaymentEventRepository
	Refunds       *RefundRepository
}

func NewStore(locker domainavailability.Locker) *Store {
	return &Store{
		Listings:      NewListingRepository(),
		Ledger:        NewLedger(locker),
		Holds:         NewHoldRepository(),
		Bookings:      NewBookingRepository(),
		PaymentEvents: NewPaymentEventRepository(),
		Refunds:       NewRefundRepository(),
	}
}

// Factory begins units over a Store. Writes apply immediately; a unit keeps
// an undo journal so Rollback reverts what it wrote. There is no isolation
// between concurrent units: correctness rests on the ledger lock and the
// version checks of the repositories.
type Factory struct {
	Store *Store
}

func (f Factory) Begin(ctx context.Context, opts uow.TxOptions) (uow.UnitOfWork, error) {
	if f.Store == nil || f.Store.Ledger == nil || f.Store.Holds == nil || f.Store.Bookings == nil {
		return nil, ErrFactoryMisconfigured
	}
	return &Unit{store: f.Store, readOnly: opts.ReadOnly}, nil
}

type Unit struct {
	store    *Store
	readOnly bool

	mu   sync.Mutex
	undo []func()
}

func (u *Unit) Listings() domainlistings.ListingRepository {
	return u.store.Listings
}

func (u *Unit) Ledger() domainavailability.Ledger {
	return ledgerView{unit: u, ledger: u.store.Ledger}
}

func (u *Unit) Holds() domainholds.Repository {
	return holdView{unit: u, repo: u.store.Holds}
}

func (u *Unit) Bookings() domainbooking.Repository {
	return bookingView{unit: u, repo: u.store.Bookings}
}

func (u *Unit) PaymentEvents() domainpayments.EventRepository {
	return paymentEventView{unit: u, repo: u.store.PaymentEvents}
}

func (u *Unit) Refunds() domainpayments.RefundRepository {
	return refundView{unit: u, repo: u.store.Refunds}
}

func (u *Unit) Commit(ctx context.Context) error {
	u.mu.Lock()
	u.undo = nil
	u.mu.Unlock()
	return nil
}

func (u *Unit) Rollback(ctx context.Context) error {
	u.mu.Lock()
	undo := u.undo
	u.undo = nil
	u.mu.Unlock()
	for i := len(undo) - 1; i >= 0; i-- {
		undo[i]()
	}
	return nil
}

func (u *Unit) onRollback(fn func()) {
	u.mu.Lock()
	u.undo = append(u.undo, fn)
	u.mu.Unlock()
}

func (u *Unit) writable() error {
	if u.readOnly {
		return errReadOnly
	}
	return nil
}

var errReadOnly = errors.New("memory: write in read-only unit")

type ledgerView struct {
	unit   *Unit
	ledger *Ledger
}

func (v ledgerView) TryClaim(ctx context.Context, propertyID domainlistings.ListingID, dr daterange.DateRange, kind domainavailability.ClaimKind, claimID string) error {
	if err := v.unit.writable(); err != nil {
		return err
	}
	_, held := v.ledger.claimOf(propertyID, dr, claimID)
	if err := v.ledger.TryClaim(ctx, propertyID, dr, kind, claimID); err != nil {
		return err
	}
	if !held {
		v.unit.onRollback(func() { _ = v.ledger.Release(context.Background(), propertyID, dr, claimID) })
	}
	return nil
}

func (v ledgerView) Release(ctx context.Context, propertyID domainlistings.ListingID, dr daterange.DateRange, claimID string) error {
	if err := v.unit.writable(); err != nil {
		return err
	}
	kind, _ := v.ledger.claimOf(propertyID, dr, claimID)
	freed, err := v.ledger.release(ctx, propertyID, dr, claimID)
	if err != nil {
		return err
	}
	if len(freed) > 0 {
		v.unit.onRollback(func() { v.ledger.restore(propertyID, freed, dayClaim{ID: claimID, Kind: kind}) })
	}
	return nil
}

func (v ledgerView) Repoint(ctx context.Context, propertyID domainlistings.ListingID, dr daterange.DateRange, fromClaimID, toClaimID string, kind domainavailability.ClaimKind) error {
	if err := v.unit.writable(); err != nil {
		return err
	}
	prevKind, _ := v.ledger.claimOf(propertyID, dr, fromClaimID)
	if err := v.ledger.Repoint(ctx, propertyID, dr, fromClaimID, toClaimID, kind); err != nil {
		return err
	}
	v.unit.onRollback(func() {
		_ = v.ledger.Repoint(context.Background(), propertyID, dr, toClaimID, fromClaimID, prevKind)
	})
	return nil
}

func (v ledgerView) QueryStatus(ctx context.Context, propertyID domainlistings.ListingID, dr daterange.DateRange) ([]domainavailability.CalendarDay, error) {
	return v.ledger.QueryStatus(ctx, propertyID, dr)
}

type holdView struct {
	unit *Unit
	repo *HoldRepository
}

func (v holdView) Create(ctx context.Context, hold *domainholds.Hold) error {
	if err := v.unit.writable(); err != nil {
		return err
	}
	if err := v.repo.Create(ctx, hold); err != nil {
		return err
	}
	id, version := hold.ID, hold.Version
	v.unit.onRollback(func() { v.repo.compareAndRestore(id, version, nil) })
	return nil
}

func (v holdView) ByID(ctx context.Context, id domainholds.HoldID) (*domainholds.Hold, error) {
	return v.repo.ByID(ctx, id)
}

func (v holdView) Save(ctx context.Context, hold *domainholds.Hold) error {
	if err := v.unit.writable(); err != nil {
		return err
	}
	prev, err := v.repo.save(hold)
	if err != nil {
		return err
	}
	id, version := hold.ID, hold.Version
	v.unit.onRollback(func() { v.repo.compareAndRestore(id, version, prev) })
	return nil
}

func (v holdView) ListExpired(ctx context.Context, now time.Time, limit int) ([]*domainholds.Hold, error) {
	return v.repo.ListExpired(ctx, now, limit)
}

type bookingView struct {
	unit *Unit
	repo *BookingRepository
}

func (v bookingView) ByID(ctx context.Context, id domainbooking.BookingID) (*domainbooking.Booking, error) {
	return v.repo.ByID(ctx, id)
}

func (v bookingView) Save(ctx context.Context, booking *domainbooking.Booking) error {
	if err := v.unit.writable(); err != nil {
		return err
	}
	prev, err := v.repo.save(booking)
	if err != nil {
		return err
	}
	id, version := booking.ID, booking.Version
	v.unit.onRollback(func() { v.repo.compareAndRestore(id, version, prev) })
	return nil
}

func (v bookingView) ListPaymentExpired(ctx context.Context, now time.Time, limit int) ([]*domainbooking.Booking, error) {
	return v.repo.ListPaymentExpired(ctx, now, limit)
}

func (v bookingView) ListByProperty(ctx context.Context, propertyID domainlistings.ListingID) ([]*domainbooking.Booking, error) {
	return v.repo.ListByProperty(ctx, propertyID)
}

type paymentEventView struct {
	unit *Unit
	repo *PaymentEventRepository
}

func (v paymentEventView) Append(ctx context.Context, event *domainpayments.PaymentEvent) error {
	if err := v.unit.writable(); err != nil {
		return err
	}
	if err := v.repo.Append(ctx, event); err != nil {
		return err
	}
	provider, id := event.Provider, event.ProviderEventID
	v.unit.onRollback(func() { v.repo.remove(provider, id) })
	return nil
}

func (v paymentEventView) ListByBooking(ctx context.Context, bookingID domainbooking.BookingID) ([]*domainpayments.PaymentEvent, error) {
	return v.repo.ListByBooking(ctx, bookingID)
}

type refundView struct {
	unit *Unit
	repo *RefundRepository
}

func (v refundView) Append(ctx context.Context, refund *domainpayments.RefundRecord) error {
	if err := v.unit.writable(); err != nil {
		return err
	}
	if err := v.repo.Append(ctx, refund); err != nil {
		return err
	}
	id := refund.ID
	v.unit.onRollback(func() { v.repo.remove(id) })
	return nil
}

func (v refundView) ByID(ctx context.Context, id string) (*domainpayments.RefundRecord, error) {
	return v.repo.ByID(ctx, id)
}

func (v refundView) ListByBooking(ctx context.Context, bookingID domainbooking.BookingID) ([]*domainpayments.RefundRecord, error) {
	return v.repo.ListByBooking(ctx, bookingID)
}

func (v refundView) AppendAttempt(ctx context.Context, attempt domainpayments.RefundAttempt) error {
	if err := v.unit.writable(); err != nil {
		return err
	}
	if err := v.repo.AppendAttempt(ctx, attempt); err != nil {
		return err
	}
	v.unit.onRollback(func() { v.repo.dropAttempt(attempt.RefundID, attempt.Attempt) })
	return nil
}

func (v refundView) Attempts(ctx context.Context, refundID string) ([]domainpayments.RefundAttempt, error) {
	return v.repo.Attempts(ctx, refundID)
}

func (v refundView) ListUnsettled(ctx context.Context, idleSince time.Time, limit int) ([]*domainpayments.RefundRecord, error) {
	return v.repo.ListUnsettled(ctx, idleSince, limit)
}

var _ uow.UoWFactory = Factory{}
