package mongo

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	colListings      = "listings"
	colLedger        = "ledger_days"
	colHolds         = "holds"
	colBookings      = "bookings"
	colPaymentEvents = "payment_events"
	colRefunds       = "refunds"
	colAttempts      = "refund_attempts"
	colIdempotency   = "idempotency_keys"
)

type Client struct {
	DB *mongo.Database
}

// New connects to uri. Session transactions need a replica set deployment.
func New(ctx context.Context, uri, database string) (*Client, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	opts := options.Client().ApplyURI(uri).SetRetryWrites(true)
	m, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, err
	}
	return &Client{DB: m.Database(database)}, nil
}

func (c *Client) Ping(ctx context.Context) error {
	return c.DB.Client().Ping(ctx, nil)
}

func (c *Client) Close(ctx context.Context) error {
	return c.DB.Client().Disconnect(ctx)
}

// EnsureIndexes creates the indexes the repositories rely on for uniqueness
// and for the reaper scans. Collections are created on the way, which must
// happen outside any transaction.
func (c *Client) EnsureIndexes(ctx context.Context) error {
	models := map[string][]mongo.IndexModel{
		colLedger: {
			{Keys: bson.D{{Key: "property_id", Value: 1}, {Key: "date", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "claim_id", Value: 1}}},
		},
		colHolds: {
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "expires_at", Value: 1}}},
		},
		colBookings: {
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "payment_expires_at", Value: 1}}},
			{Keys: bson.D{{Key: "property_id", Value: 1}, {Key: "range.check_in", Value: 1}}},
		},
		colPaymentEvents: {
			{Keys: bson.D{{Key: "provider", Value: 1}, {Key: "provider_event_id", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "booking_id", Value: 1}, {Key: "processed_at", Value: 1}}},
		},
		colRefunds: {
			{Keys: bson.D{{Key: "booking_id", Value: 1}, {Key: "created_at", Value: 1}}},
			{Keys: bson.D{{Key: "payable", Value: 1}, {Key: "settled_at", Value: 1}, {Key: "active_at", Value: 1}}},
		},
		colAttempts: {
			{Keys: bson.D{{Key: "refund_id", Value: 1}, {Key: "attempt", Value: 1}}},
		},
	}
	for name, idx := range models {
		if _, err := c.DB.Collection(name).Indexes().CreateMany(ctx, idx); err != nil {
			return err
		}
	}
	return nil
}

func timestampToTime(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func timeToTimestamp(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}
