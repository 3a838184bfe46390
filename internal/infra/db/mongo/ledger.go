package mongo

import (
	"context"
	"errors"
	"time"

	"github.com/samber/lo"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	domainavailability "staybook/internal/domain/availability"
	domainlistings "staybook/internal/domain/listings"
	"staybook/internal/domain/shared/daterange"
)

const codeWriteConflict = 112

// Ledger stores one document per claimed night; an AVAILABLE night has no
// document. The unique (property_id, date) index is what keeps two claims
// off the same night across processes, the Locker only narrows the race.
type Ledger struct {
	col    *mongo.Collection
	locker domainavailability.Locker
}

func NewLedger(db *mongo.Database, locker domainavailability.Locker) *Ledger {
	return &Ledger{col: db.Collection(colLedger), locker: locker}
}

type dayDocument struct {
	ID         string `bson:"_id"`
	PropertyID string `bson:"property_id"`
	Date       string `bson:"date"`
	ClaimID    string `bson:"claim_id"`
	Kind       string `bson:"kind"`
}

func dayKey(propertyID domainlistings.ListingID, day time.Time) string {
	return string(propertyID) + "|" + day.Format(daterange.DayLayout)
}

func rangeFilter(propertyID domainlistings.ListingID, dr daterange.DateRange) bson.M {
	return bson.M{
		"property_id": string(propertyID),
		"date": bson.M{
			"$gte": dr.CheckIn.Format(daterange.DayLayout),
			"$lt":  dr.CheckOut.Format(daterange.DayLayout),
		},
	}
}

func (l *Ledger) lock(ctx context.Context, propertyID domainlistings.ListingID) (func(), error) {
	if l.locker == nil {
		return func() {}, nil
	}
	return l.locker.Lock(ctx, domainavailability.LockKey(propertyID))
}

func (l *Ledger) TryClaim(ctx context.Context, propertyID domainlistings.ListingID, dr daterange.DateRange, kind domainavailability.ClaimKind, claimID string) error {
	if err := domainavailability.ValidateClaim(dr, kind, claimID); err != nil {
		return err
	}
	unlock, err := l.lock(ctx, propertyID)
	if err != nil {
		return err
	}
	defer unlock()

	claimed, err := l.claimed(ctx, propertyID, dr)
	if err != nil {
		return err
	}
	owned := make(map[string]bool, len(claimed))
	var taken []time.Time
	for _, doc := range claimed {
		if doc.ClaimID == claimID {
			owned[doc.Date] = true
			continue
		}
		day, _ := time.Parse(daterange.DayLayout, doc.Date)
		taken = append(taken, day)
	}
	if len(taken) > 0 {
		return domainavailability.NewConflict(propertyID, taken)
	}

	missing := lo.Filter(dr.Days(), func(day time.Time, _ int) bool { return !owned[day.Format(daterange.DayLayout)] })
	if len(missing) == 0 {
		return nil
	}
	docs := lo.Map(missing, func(day time.Time, _ int) any {
		return dayDocument{
			ID:         dayKey(propertyID, day),
			PropertyID: string(propertyID),
			Date:       day.Format(daterange.DayLayout),
			ClaimID:    claimID,
			Kind:       string(kind),
		}
	})
	if _, err := l.col.InsertMany(ctx, docs); err != nil {
		if lostRace(err) {
			// Another transaction got there between our read and insert; its
			// rows are not visible to us, so report the nights we asked for.
			return domainavailability.NewConflict(propertyID, missing)
		}
		return err
	}
	return nil
}

func (l *Ledger) Release(ctx context.Context, propertyID domainlistings.ListingID, dr daterange.DateRange, claimID string) error {
	if err := dr.Validate(); err != nil {
		return err
	}
	unlock, err := l.lock(ctx, propertyID)
	if err != nil {
		return err
	}
	defer unlock()

	filter := rangeFilter(propertyID, dr)
	filter["claim_id"] = claimID
	_, err = l.col.DeleteMany(ctx, filter)
	return err
}

func (l *Ledger) Repoint(ctx context.Context, propertyID domainlistings.ListingID, dr daterange.DateRange, fromClaimID, toClaimID string, kind domainavailability.ClaimKind) error {
	if err := domainavailability.ValidateClaim(dr, kind, toClaimID); err != nil {
		return err
	}
	unlock, err := l.lock(ctx, propertyID)
	if err != nil {
		return err
	}
	defer unlock()

	filter := rangeFilter(propertyID, dr)
	filter["claim_id"] = fromClaimID
	owned, err := l.col.CountDocuments(ctx, filter)
	if err != nil {
		return err
	}
	if owned != int64(dr.Nights()) {
		return domainavailability.ErrClaimMismatch
	}
	res, err := l.col.UpdateMany(ctx, filter, bson.M{"$set": bson.M{"claim_id": toClaimID, "kind": string(kind)}})
	if err != nil {
		if lostRace(err) {
			return domainavailability.ErrClaimMismatch
		}
		return err
	}
	if res.ModifiedCount != owned {
		return domainavailability.ErrClaimMismatch
	}
	return nil
}

func (l *Ledger) QueryStatus(ctx context.Context, propertyID domainlistings.ListingID, dr daterange.DateRange) ([]domainavailability.CalendarDay, error) {
	if err := dr.Validate(); err != nil {
		return nil, err
	}
	claimed, err := l.claimed(ctx, propertyID, dr)
	if err != nil {
		return nil, err
	}
	days := make([]domainavailability.CalendarDay, 0, len(claimed))
	for _, doc := range claimed {
		day, err := time.Parse(daterange.DayLayout, doc.Date)
		if err != nil {
			return nil, err
		}
		days = append(days, domainavailability.CalendarDay{
			PropertyID: propertyID,
			Date:       day,
			Status:     domainavailability.ClaimKind(doc.Kind).Status(),
			ClaimID:    doc.ClaimID,
		})
	}
	return domainavailability.Fill(propertyID, dr, days), nil
}

func (l *Ledger) claimed(ctx context.Context, propertyID domainlistings.ListingID, dr daterange.DateRange) ([]dayDocument, error) {
	cur, err := l.col.Find(ctx, rangeFilter(propertyID, dr))
	if err != nil {
		return nil, err
	}
	var docs []dayDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	return docs, nil
}

// lostRace reports a duplicate night or a transaction write conflict.
func lostRace(err error) bool {
	if mongo.IsDuplicateKeyError(err) {
		return true
	}
	var se mongo.ServerError
	return errors.As(err, &se) && se.HasErrorCode(codeWriteConflict)
}

var _ domainavailability.Ledger = (*Ledger)(nil)
