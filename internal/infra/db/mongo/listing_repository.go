package mongo

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	domainlistings "staybook/internal/domain/listings"
	"staybook/internal/domain/shared/money"
)

type ListingRepository struct {
	col *mongo.Collection
}

func NewListingRepository(db *mongo.Database) *ListingRepository {
	return &ListingRepository{col: db.Collection(colListings)}
}

func (r *ListingRepository) ByID(ctx context.Context, id domainlistings.ListingID) (*domainlistings.Listing, error) {
	var doc listingDocument
	if err := r.col.FindOne(ctx, bson.M{"_id": string(id)}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domainlistings.ErrListingNotFound
		}
		return nil, err
	}
	return doc.toListing(), nil
}

func (r *ListingRepository) Save(ctx context.Context, listing *domainlistings.Listing) error {
	doc := newListingDocument(listing)
	_, err := r.col.ReplaceOne(ctx, bson.M{"_id": doc.ID}, doc, options.Replace().SetUpsert(true))
	return err
}

type listingDocument struct {
	ID                   string      `bson:"_id"`
	Host                 string      `bson:"host"`
	Title                string      `bson:"title"`
	State                string      `bson:"state"`
	GuestsLimit          int         `bson:"guests_limit"`
	MinNights            int         `bson:"min_nights"`
	MaxNights            int         `bson:"max_nights"`
	NightlyRate          money.Money `bson:"nightly_rate"`
	CleaningFee          money.Money `bson:"cleaning_fee"`
	CancellationPolicyID string      `bson:"cancellation_policy_id"`
}

func newListingDocument(l *domainlistings.Listing) listingDocument {
	return listingDocument{
		ID:                   string(l.ID),
		Host:                 l.Host,
		Title:                l.Title,
		State:                string(l.State),
		GuestsLimit:          l.GuestsLimit,
		MinNights:            l.MinNights,
		MaxNights:            l.MaxNights,
		NightlyRate:          l.NightlyRate,
		CleaningFee:          l.CleaningFee,
		CancellationPolicyID: l.CancellationPolicyID,
	}
}

func (d listingDocument) toListing() *domainlistings.Listing {
	return &domainlistings.Listing{
		ID:                   domainlistings.ListingID(d.ID),
		Host:                 d.Host,
		Title:                d.Title,
		State:                domainlistings.ListingState(d.State),
		GuestsLimit:          d.GuestsLimit,
		MinNights:            d.MinNights,
		MaxNights:            d.MaxNights,
		NightlyRate:          d.NightlyRate,
		CleaningFee:          d.CleaningFee,
		CancellationPolicyID: d.CancellationPolicyID,
	}
}
