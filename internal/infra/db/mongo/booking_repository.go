package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	domainbooking "staybook/internal/domain/booking"
	"staybook/internal/domain/cancellation"
	domainholds "staybook/internal/domain/holds"
	domainlistings "staybook/internal/domain/listings"
	"staybook/internal/domain/pricing"
	"staybook/internal/domain/shared/money"
)

type BookingRepository struct {
	col *mongo.Collection
}

func NewBookingRepository(db *mongo.Database) *BookingRepository {
	return &BookingRepository{col: db.Collection(colBookings)}
}

func (r *BookingRepository) ByID(ctx context.Context, id domainbooking.BookingID) (*domainbooking.Booking, error) {
	var doc bookingDocument
	if err := r.col.FindOne(ctx, bson.M{"_id": string(id)}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domainbooking.ErrBookingNotFound
		}
		return nil, err
	}
	return doc.toAggregate(), nil
}

func (r *BookingRepository) Save(ctx context.Context, b *domainbooking.Booking) error {
	doc := newBookingDocument(b)
	doc.Version = b.Version + 1
	if b.Version == 0 {
		if _, err := r.col.InsertOne(ctx, doc); err != nil {
			if lostRace(err) {
				return domainbooking.ErrConcurrentUpdate
			}
			return err
		}
		b.Version = doc.Version
		return nil
	}
	res, err := r.col.ReplaceOne(ctx, bson.M{"_id": doc.ID, "version": b.Version}, doc)
	if err != nil {
		if lostRace(err) {
			return domainbooking.ErrConcurrentUpdate
		}
		return err
	}
	if res.MatchedCount == 0 {
		return domainbooking.ErrConcurrentUpdate
	}
	b.Version = doc.Version
	return nil
}

func (r *BookingRepository) ListPaymentExpired(ctx context.Context, now time.Time, limit int) ([]*domainbooking.Booking, error) {
	filter := bson.M{
		"status":             string(domainbooking.StatusPendingPayment),
		"payment_expires_at": bson.M{"$lte": now.UnixMilli()},
	}
	opts := options.Find().SetSort(bson.D{{Key: "payment_expires_at", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	return r.find(ctx, filter, opts)
}

func (r *BookingRepository) ListByProperty(ctx context.Context, propertyID domainlistings.ListingID) ([]*domainbooking.Booking, error) {
	opts := options.Find().SetSort(bson.D{{Key: "range.check_in", Value: 1}})
	return r.find(ctx, bson.M{"property_id": string(propertyID)}, opts)
}

func (r *BookingRepository) find(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]*domainbooking.Booking, error) {
	cur, err := r.col.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	var docs []bookingDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]*domainbooking.Booking, 0, len(docs))
	for _, doc := range docs {
		out = append(out, doc.toAggregate())
	}
	return out, nil
}

type bookingDocument struct {
	ID               string              `bson:"_id"`
	PropertyID       string              `bson:"property_id"`
	CustomerID       string              `bson:"customer_id"`
	HoldID           string              `bson:"hold_id"`
	Range            rangeDocument       `bson:"range"`
	Guests           int                 `bson:"guests"`
	Quote            pricing.Quote       `bson:"quote"`
	Total            money.Money         `bson:"total"`
	Status           string              `bson:"status"`
	Policy           cancellation.Policy `bson:"policy"`
	CreatedAt        int64               `bson:"created_at"`
	UpdatedAt        int64               `bson:"updated_at"`
	PaymentExpiresAt int64               `bson:"payment_expires_at"`
	Version          int64               `bson:"version"`
}

func newBookingDocument(b *domainbooking.Booking) bookingDocument {
	return bookingDocument{
		ID:               string(b.ID),
		PropertyID:       string(b.PropertyID),
		CustomerID:       b.CustomerID,
		HoldID:           string(b.HoldID),
		Range:            newRangeDocument(b.Range),
		Guests:           b.Guests,
		Quote:            b.Quote,
		Total:            b.Total,
		Status:           string(b.Status),
		Policy:           b.Policy.Snapshot(),
		CreatedAt:        timeToTimestamp(b.CreatedAt),
		UpdatedAt:        timeToTimestamp(b.UpdatedAt),
		PaymentExpiresAt: timeToTimestamp(b.PaymentExpiresAt),
		Version:          b.Version,
	}
}

func (d bookingDocument) toAggregate() *domainbooking.Booking {
	return &domainbooking.Booking{
		ID:               domainbooking.BookingID(d.ID),
		PropertyID:       domainlistings.ListingID(d.PropertyID),
		CustomerID:       d.CustomerID,
		HoldID:           domainholds.HoldID(d.HoldID),
		Range:            d.Range.toRange(),
		Guests:           d.Guests,
		Quote:            d.Quote,
		Total:            d.Total,
		Status:           domainbooking.Status(d.Status),
		Policy:           d.Policy,
		CreatedAt:        timestampToTime(d.CreatedAt),
		UpdatedAt:        timestampToTime(d.UpdatedAt),
		PaymentExpiresAt: timestampToTime(d.PaymentExpiresAt),
		Version:          d.Version,
	}
}
