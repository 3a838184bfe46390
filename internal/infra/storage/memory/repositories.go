package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	domainbooking "staybook/internal/domain/booking"
	domainholds "staybook/internal/domain/holds"
	domainlistings "staybook/internal/domain/listings"
	domainpayments "staybook/internal/domain/payments"
)

// ListingRepository is the in-process stand-in for the property catalog.
type ListingRepository struct {
	mu    sync.RWMutex
	items map[domainlistings.ListingID]domainlistings.Listing
}

func NewListingRepository() *ListingRepository {
	return &ListingRepository{items: make(map[domainlistings.ListingID]domainlistings.Listing)}
}

func (r *ListingRepository) ByID(ctx context.Context, id domainlistings.ListingID) (*domainlistings.Listing, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	listing, ok := r.items[id]
	if !ok {
		return nil, domainlistings.ErrListingNotFound
	}
	return &listing, nil
}

func (r *ListingRepository) Save(ctx context.Context, listing *domainlistings.Listing) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[listing.ID] = *listing
	return nil
}

// HoldRepository stores holds with version checks on every status change.
type HoldRepository struct {
	mu    sync.RWMutex
	items map[domainholds.HoldID]*domainholds.Hold
}

func NewHoldRepository() *HoldRepository {
	return &HoldRepository{items: make(map[domainholds.HoldID]*domainholds.Hold)}
}

func (r *HoldRepository) Create(ctx context.Context, hold *domainholds.Hold) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.items[hold.ID]; exists {
		return fmt.Errorf("memory: hold %s already exists", hold.ID)
	}
	hold.Version = 1
	r.items[hold.ID] = hold.Clone()
	return nil
}

func (r *HoldRepository) ByID(ctx context.Context, id domainholds.HoldID) (*domainholds.Hold, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	hold, ok := r.items[id]
	if !ok {
		return nil, domainholds.ErrHoldNotFound
	}
	return hold.Clone(), nil
}

func (r *HoldRepository) Save(ctx context.Context, hold *domainholds.Hold) error {
	_, err := r.save(hold)
	return err
}

// save applies the compare-and-set and returns the replaced row.
func (r *HoldRepository) save(hold *domainholds.Hold) (*domainholds.Hold, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.items[hold.ID]
	if !ok {
		return nil, domainholds.ErrHoldNotFound
	}
	if stored.Version != hold.Version {
		return nil, domainholds.ErrConcurrentUpdate
	}
	hold.Version++
	r.items[hold.ID] = hold.Clone()
	return stored, nil
}

func (r *HoldRepository) ListExpired(ctx context.Context, now time.Time, limit int) ([]*domainholds.Hold, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*domainholds.Hold
	for _, hold := range r.items {
		if hold.Status == domainholds.StatusActive && hold.ExpiredAt(now) {
			out = append(out, hold.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// compareAndRestore puts prev back if the row still carries version.
func (r *HoldRepository) compareAndRestore(id domainholds.HoldID, version int64, prev *domainholds.Hold) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.items[id]
	if !ok || stored.Version != version {
		return
	}
	if prev == nil {
		delete(r.items, id)
		return
	}
	r.items[id] = prev
}

// BookingRepository stores bookings; Save inserts at version zero.
type BookingRepository struct {
	mu    sync.RWMutex
	items map[domainbooking.BookingID]*domainbooking.Booking
}

func NewBookingRepository() *BookingRepository {
	return &BookingRepository{items: make(map[domainbooking.BookingID]*domainbooking.Booking)}
}

func (r *BookingRepository) ByID(ctx context.Context, id domainbooking.BookingID) (*domainbooking.Booking, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	booking, ok := r.items[id]
	if !ok {
		return nil, domainbooking.ErrBookingNotFound
	}
	return booking.Clone(), nil
}

func (r *BookingRepository) Save(ctx context.Context, booking *domainbooking.Booking) error {
	_, err := r.save(booking)
	return err
}

func (r *BookingRepository) save(booking *domainbooking.Booking) (*domainbooking.Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, exists := r.items[booking.ID]
	switch {
	case booking.Version == 0 && exists:
		return nil, domainbooking.ErrConcurrentUpdate
	case booking.Version != 0 && (!exists || stored.Version != booking.Version):
		return nil, domainbooking.ErrConcurrentUpdate
	}
	booking.Version++
	r.items[booking.ID] = booking.Clone()
	return stored, nil
}

func (r *BookingRepository) ListPaymentExpired(ctx context.Context, now time.Time, limit int) ([]*domainbooking.Booking, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*domainbooking.Booking
	for _, booking := range r.items {
		if booking.PaymentOverdue(now) {
			out = append(out, booking.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PaymentExpiresAt.Before(out[j].PaymentExpiresAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *BookingRepository) ListByProperty(ctx context.Context, propertyID domainlistings.ListingID) ([]*domainbooking.Booking, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*domainbooking.Booking
	for _, booking := range r.items {
		if booking.PropertyID == propertyID {
			out = append(out, booking.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Range.CheckIn.Before(out[j].Range.CheckIn) })
	return out, nil
}

func (r *BookingRepository) compareAndRestore(id domainbooking.BookingID, version int64, prev *domainbooking.Booking) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.items[id]
	if !ok || stored.Version != version {
		return
	}
	if prev == nil {
		delete(r.items, id)
		return
	}
	r.items[id] = prev
}

// PaymentEventRepository is the append-only provider event log with a
// unique (provider, provider event id) key.
type PaymentEventRepository struct {
	mu     sync.RWMutex
	events []*domainpayments.PaymentEvent
	seen   map[string]struct{}
}

func NewPaymentEventRepository() *PaymentEventRepository {
	return &PaymentEventRepository{seen: make(map[string]struct{})}
}

func (r *PaymentEventRepository) Append(ctx context.Context, event *domainpayments.PaymentEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := providerEventKey(event.Provider, event.ProviderEventID)
	if _, dup := r.seen[key]; dup {
		return domainpayments.ErrDuplicateEvent
	}
	r.seen[key] = struct{}{}
	cp := *event
	r.events = append(r.events, &cp)
	return nil
}

func (r *PaymentEventRepository) ListByBooking(ctx context.Context, bookingID domainbooking.BookingID) ([]*domainpayments.PaymentEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*domainpayments.PaymentEvent
	for _, ev := range r.events {
		if ev.BookingID == bookingID {
			cp := *ev
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *PaymentEventRepository) remove(provider, providerEventID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.seen, providerEventKey(provider, providerEventID))
	for i, ev := range r.events {
		if ev.Provider == provider && ev.ProviderEventID == providerEventID {
			r.events = append(r.events[:i], r.events[i+1:]...)
			return
		}
	}
}

func providerEventKey(provider, id string) string {
	return provider + "\x00" + id
}

// RefundRepository keeps refund records and their attempt log.
type RefundRepository struct {
	mu       sync.RWMutex
	refunds  map[string]*domainpayments.RefundRecord
	attempts map[string][]domainpayments.RefundAttempt
}

func NewRefundRepository() *RefundRepository {
	return &RefundRepository{
		refunds:  make(map[string]*domainpayments.RefundRecord),
		attempts: make(map[string][]domainpayments.RefundAttempt),
	}
}

func (r *RefundRepository) Append(ctx context.Context, refund *domainpayments.RefundRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.refunds[refund.ID]; exists {
		return fmt.Errorf("memory: refund %s already exists", refund.ID)
	}
	r.refunds[refund.ID] = cloneRefund(refund)
	return nil
}

func (r *RefundRepository) ByID(ctx context.Context, id string) (*domainpayments.RefundRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	refund, ok := r.refunds[id]
	if !ok {
		return nil, domainpayments.ErrRefundNotFound
	}
	return cloneRefund(refund), nil
}

func (r *RefundRepository) ListByBooking(ctx context.Context, bookingID domainbooking.BookingID) ([]*domainpayments.RefundRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*domainpayments.RefundRecord
	for _, refund := range r.refunds {
		if refund.BookingID == bookingID {
			out = append(out, cloneRefund(refund))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *RefundRepository) AppendAttempt(ctx context.Context, attempt domainpayments.RefundAttempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.refunds[attempt.RefundID]; !ok {
		return domainpayments.ErrRefundNotFound
	}
	r.attempts[attempt.RefundID] = append(r.attempts[attempt.RefundID], attempt)
	return nil
}

func (r *RefundRepository) Attempts(ctx context.Context, refundID string) ([]domainpayments.RefundAttempt, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domainpayments.RefundAttempt, len(r.attempts[refundID]))
	copy(out, r.attempts[refundID])
	return out, nil
}

func (r *RefundRepository) ListUnsettled(ctx context.Context, idleSince time.Time, limit int) ([]*domainpayments.RefundRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*domainpayments.RefundRecord
	for id, refund := range r.refunds {
		attempts := r.attempts[id]
		if !refund.Payable() || domainpayments.Settled(attempts) {
			continue
		}
		if domainpayments.LastActivity(refund.CreatedAt, attempts).After(idleSince) {
			continue
		}
		out = append(out, cloneRefund(refund))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *RefundRepository) remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.refunds, id)
}

func (r *RefundRepository) dropAttempt(refundID string, attempt int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.attempts[refundID]
	for i := len(list) - 1; i >= 0; i-- {
		if list[i].Attempt == attempt {
			r.attempts[refundID] = append(list[:i], list[i+1:]...)
			return
		}
	}
}

func cloneRefund(r *domainpayments.RefundRecord) *domainpayments.RefundRecord {
	return &domainpayments.RefundRecord{
		ID:             r.ID,
		BookingID:      r.BookingID,
		Amount:         r.Amount,
		Penalty:        r.Penalty,
		Reason:         r.Reason,
		PolicySnapshot: r.PolicySnapshot.Snapshot(),
		Rationale:      r.Rationale,
		CreatedAt:      r.CreatedAt,
	}
}

var (
	_ domainlistings.ListingRepository = (*ListingRepository)(nil)
	_ domainholds.Repository           = (*HoldRepository)(nil)
	_ domainbooking.Repository         = (*BookingRepository)(nil)
	_ domainpayments.EventRepository   = (*PaymentEventRepository)(nil)
	_ domainpayments.RefundRepository  = (*RefundRepository)(nil)
)
