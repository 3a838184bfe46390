package memory

import (
	"context"
	"sync"
	"time"

	domainavailability "staybook/internal/domain/availability"
	domainlistings "staybook/internal/domain/listings"
	"staybook/internal/domain/shared/daterange"
)

type dayClaim struct {
	ID   string
	Kind domainavailability.ClaimKind
}

// Ledger keeps claimed nights per property. Writers are serialized per
// property through the Locker; the map itself is guarded by mu.
type Ledger struct {
	locker domainavailability.Locker

	mu   sync.RWMutex
	days map[domainlistings.ListingID]map[int64]dayClaim
}

func NewLedger(locker domainavailability.Locker) *Ledger {
	if locker == nil {
		locker = NewKeyedLocker()
	}
	return &Ledger{
		locker: locker,
		days:   make(map[domainlistings.ListingID]map[int64]dayClaim),
	}
}

func (l *Ledger) TryClaim(ctx context.Context, propertyID domainlistings.ListingID, dr daterange.DateRange, kind domainavailability.ClaimKind, claimID string) error {
	if err := domainavailability.ValidateClaim(dr, kind, claimID); err != nil {
		return err
	}
	unlock, err := l.locker.Lock(ctx, domainavailability.LockKey(propertyID))
	if err != nil {
		return err
	}
	defer unlock()

	l.mu.Lock()
	defer l.mu.Unlock()
	cal := l.calendar(propertyID)
	var taken []time.Time
	days := dr.Days()
	for _, day := range days {
		if c, ok := cal[day.Unix()]; ok && c.ID != claimID {
			taken = append(taken, day)
		}
	}
	if len(taken) > 0 {
		return domainavailability.NewConflict(propertyID, taken)
	}
	for _, day := range days {
		cal[day.Unix()] = dayClaim{ID: claimID, Kind: kind}
	}
	return nil
}

func (l *Ledger) Release(ctx context.Context, propertyID domainlistings.ListingID, dr daterange.DateRange, claimID string) error {
	_, err := l.release(ctx, propertyID, dr, claimID)
	return err
}

// release returns the nights it freed so a rollback can restore them.
func (l *Ledger) release(ctx context.Context, propertyID domainlistings.ListingID, dr daterange.DateRange, claimID string) ([]int64, error) {
	if err := dr.Validate(); err != nil {
		return nil, err
	}
	unlock, err := l.locker.Lock(ctx, domainavailability.LockKey(propertyID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	l.mu.Lock()
	defer l.mu.Unlock()
	cal := l.calendar(propertyID)
	var freed []int64
	for _, day := range dr.Days() {
		key := day.Unix()
		if c, ok := cal[key]; ok && c.ID == claimID {
			delete(cal, key)
			freed = append(freed, key)
		}
	}
	return freed, nil
}

func (l *Ledger) Repoint(ctx context.Context, propertyID domainlistings.ListingID, dr daterange.DateRange, fromClaimID, toClaimID string, kind domainavailability.ClaimKind) error {
	if err := domainavailability.ValidateClaim(dr, kind, toClaimID); err != nil {
		return err
	}
	unlock, err := l.locker.Lock(ctx, domainavailability.LockKey(propertyID))
	if err != nil {
		return err
	}
	defer unlock()

	l.mu.Lock()
	defer l.mu.Unlock()
	cal := l.calendar(propertyID)
	days := dr.Days()
	for _, day := range days {
		if c, ok := cal[day.Unix()]; !ok || c.ID != fromClaimID {
			return domainavailability.ErrClaimMismatch
		}
	}
	for _, day := range days {
		cal[day.Unix()] = dayClaim{ID: toClaimID, Kind: kind}
	}
	return nil
}

func (l *Ledger) QueryStatus(ctx context.Context, propertyID domainlistings.ListingID, dr daterange.DateRange) ([]domainavailability.CalendarDay, error) {
	if err := dr.Validate(); err != nil {
		return nil, err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	cal := l.days[propertyID]
	var claimed []domainavailability.CalendarDay
	for _, day := range dr.Days() {
		if c, ok := cal[day.Unix()]; ok {
			claimed = append(claimed, domainavailability.CalendarDay{
				PropertyID: propertyID,
				Date:       day,
				Status:     c.Kind.Status(),
				ClaimID:    c.ID,
			})
		}
	}
	return domainavailability.Fill(propertyID, dr, claimed), nil
}

// restore puts back claims removed by a rolled-back release, skipping nights
// someone else has taken since.
func (l *Ledger) restore(propertyID domainlistings.ListingID, days []int64, claim dayClaim) {
	l.mu.Lock()
	defer l.mu.Unlock()
	cal := l.calendar(propertyID)
	for _, key := range days {
		if _, taken := cal[key]; !taken {
			cal[key] = claim
		}
	}
}

// claimOf reports the kind a claim id currently holds in the range.
func (l *Ledger) claimOf(propertyID domainlistings.ListingID, dr daterange.DateRange, claimID string) (domainavailability.ClaimKind, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	cal := l.days[propertyID]
	for _, day := range dr.Days() {
		if c, ok := cal[day.Unix()]; ok && c.ID == claimID {
			return c.Kind, true
		}
	}
	return "", false
}

func (l *Ledger) calendar(propertyID domainlistings.ListingID) map[int64]dayClaim {
	cal, ok := l.days[propertyID]
	if !ok {
		cal = make(map[int64]dayClaim)
		l.days[propertyID] = cal
	}
	return cal
}

var _ domainavailability.Ledger = (*Ledger)(nil)
