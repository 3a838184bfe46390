package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	domainholds "staybook/internal/domain/holds"
	domainlistings "staybook/internal/domain/listings"
	"staybook/internal/domain/pricing"
	"staybook/internal/domain/shared/daterange"
)

type HoldRepository struct {
	col *mongo.Collection
}

func NewHoldRepository(db *mongo.Database) *HoldRepository {
	return &HoldRepository{col: db.Collection(colHolds)}
}

func (r *HoldRepository) Create(ctx context.Context, hold *domainholds.Hold) error {
	doc := newHoldDocument(hold)
	doc.Version = 1
	if _, err := r.col.InsertOne(ctx, doc); err != nil {
		return err
	}
	hold.Version = doc.Version
	return nil
}

func (r *HoldRepository) ByID(ctx context.Context, id domainholds.HoldID) (*domainholds.Hold, error) {
	var doc holdDocument
	if err := r.col.FindOne(ctx, bson.M{"_id": string(id)}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domainholds.ErrHoldNotFound
		}
		return nil, err
	}
	return doc.toAggregate(), nil
}

func (r *HoldRepository) Save(ctx context.Context, hold *domainholds.Hold) error {
	doc := newHoldDocument(hold)
	filter := bson.M{"_id": doc.ID, "version": hold.Version}
	doc.Version = hold.Version + 1
	res, err := r.col.ReplaceOne(ctx, filter, doc)
	if err != nil {
		if lostRace(err) {
			return domainholds.ErrConcurrentUpdate
		}
		return err
	}
	if res.MatchedCount == 0 {
		return domainholds.ErrConcurrentUpdate
	}
	hold.Version = doc.Version
	return nil
}

func (r *HoldRepository) ListExpired(ctx context.Context, now time.Time, limit int) ([]*domainholds.Hold, error) {
	filter := bson.M{"status": string(domainholds.StatusActive), "expires_at": bson.M{"$lte": now.UnixMilli()}}
	opts := options.Find().SetSort(bson.D{{Key: "expires_at", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cur, err := r.col.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	var docs []holdDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]*domainholds.Hold, 0, len(docs))
	for _, doc := range docs {
		out = append(out, doc.toAggregate())
	}
	return out, nil
}

type holdDocument struct {
	ID         string        `bson:"_id"`
	PropertyID string        `bson:"property_id"`
	Range      rangeDocument `bson:"range"`
	Guests     int           `bson:"guests"`
	Quote      pricing.Quote `bson:"quote"`
	Status     string        `bson:"status"`
	CreatedAt  int64         `bson:"created_at"`
	ExpiresAt  int64         `bson:"expires_at"`
	UpdatedAt  int64         `bson:"updated_at"`
	Version    int64         `bson:"version"`
}

func newHoldDocument(h *domainholds.Hold) holdDocument {
	return holdDocument{
		ID:         string(h.ID),
		PropertyID: string(h.PropertyID),
		Range:      newRangeDocument(h.Range),
		Guests:     h.Guests,
		Quote:      h.Quote,
		Status:     string(h.Status),
		CreatedAt:  timeToTimestamp(h.CreatedAt),
		ExpiresAt:  timeToTimestamp(h.ExpiresAt),
		UpdatedAt:  timeToTimestamp(h.UpdatedAt),
		Version:    h.Version,
	}
}

func (d holdDocument) toAggregate() *domainholds.Hold {
	return &domainholds.Hold{
		ID:         domainholds.HoldID(d.ID),
		PropertyID: domainlistings.ListingID(d.PropertyID),
		Range:      d.Range.toRange(),
		Guests:     d.Guests,
		Quote:      d.Quote,
		Status:     domainholds.Status(d.Status),
		CreatedAt:  timestampToTime(d.CreatedAt),
		ExpiresAt:  timestampToTime(d.ExpiresAt),
		UpdatedAt:  timestampToTime(d.UpdatedAt),
		Version:    d.Version,
	}
}

type rangeDocument struct {
	CheckIn  int64 `bson:"check_in"`
	CheckOut int64 `bson:"check_out"`
}

func newRangeDocument(dr daterange.DateRange) rangeDocument {
	return rangeDocument{CheckIn: dr.CheckIn.UnixMilli(), CheckOut: dr.CheckOut.UnixMilli()}
}

func (d rangeDocument) toRange() daterange.DateRange {
	return daterange.DateRange{CheckIn: timestampToTime(d.CheckIn), CheckOut: timestampToTime(d.CheckOut)}
}
