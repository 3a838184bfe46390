package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	appoutbox "staybook/internal/app/outbox"
)

const (
	StateNew     = "NEW"
	StateClaimed = "CLAIMED"
	StateSent    = "SENT"
	StateFailed  = "FAILED"
)

// sentRetention is how long delivered events stay queryable before the TTL
// index drops them.
const sentRetention = 72 * time.Hour

// Store is the Mongo outbox. Add runs on the caller's context, so inside a
// unit of work the insert joins the session transaction.
type Store struct {
	col *mongo.Collection
}

func NewStore(ctx context.Context, db *mongo.Database) (*Store, error) {
	col := db.Collection("outbox")
	models := []mongo.IndexModel{
		{Keys: bson.D{{Key: "state", Value: 1}, {Key: "next_attempt_at", Value: 1}}},
		{
			Keys: bson.D{{Key: "sent_at", Value: 1}},
			Options: options.Index().
				SetExpireAfterSeconds(int32(sentRetention.Seconds())).
				SetPartialFilterExpression(bson.D{{Key: "state", Value: StateSent}}),
		},
	}
	if _, err := col.Indexes().CreateMany(ctx, models); err != nil {
		return nil, fmt.Errorf("outbox indexes: %w", err)
	}
	return &Store{col: col}, nil
}

// EventDocument is one queued domain event plus its delivery bookkeeping.
type EventDocument struct {
	ID          string            `bson:"_id"`
	Name        string            `bson:"name"`
	Aggregate   string            `bson:"aggregate"`
	Payload     []byte            `bson:"payload"`
	Headers     map[string]string `bson:"headers"`
	OccurredAt  time.Time         `bson:"occurred_at"`
	CreatedAt   time.Time         `bson:"created_at"`
	State       string            `bson:"state"`
	Attempts    int               `bson:"attempts"`
	NextAttempt time.Time         `bson:"next_attempt_at"`
	ClaimedBy   string            `bson:"claimed_by,omitempty"`
	ClaimedAt   time.Time         `bson:"claimed_at,omitempty"`
	SentAt      time.Time         `bson:"sent_at,omitempty"`
	LastError   string            `bson:"last_error,omitempty"`
}

func newDocument(record appoutbox.EventRecord, at time.Time) EventDocument {
	return EventDocument{
		ID:          record.ID,
		Name:        record.Name,
		Aggregate:   record.Aggregate,
		Payload:     record.Payload,
		Headers:     record.Headers,
		OccurredAt:  record.OccurredAt,
		CreatedAt:   at,
		State:       StateNew,
		NextAttempt: at,
	}
}

func (s *Store) Add(ctx context.Context, record appoutbox.EventRecord) error {
	if _, err := s.col.InsertOne(ctx, newDocument(record, time.Now().UTC())); err != nil {
		return fmt.Errorf("outbox add %s: %w", record.Name, err)
	}
	return nil
}

// Flush is a no-op: inserts land with the surrounding transaction.
func (s *Store) Flush(context.Context) error { return nil }

// Claim leases the oldest due record to workerID. A nil document means the
// queue is drained.
func (s *Store) Claim(ctx context.Context, workerID string) (*EventDocument, error) {
	at := time.Now().UTC()
	due := bson.D{
		{Key: "state", Value: bson.D{{Key: "$in", Value: bson.A{StateNew, StateFailed}}}},
		{Key: "next_attempt_at", Value: bson.D{{Key: "$lte", Value: at}}},
	}
	lease := bson.D{{Key: "$set", Value: bson.D{
		{Key: "state", Value: StateClaimed},
		{Key: "claimed_by", Value: workerID},
		{Key: "claimed_at", Value: at},
	}}}
	opts := options.FindOneAndUpdate().
		SetSort(bson.D{{Key: "next_attempt_at", Value: 1}}).
		SetReturnDocument(options.After)

	doc := new(EventDocument)
	switch err := s.col.FindOneAndUpdate(ctx, due, lease, opts).Decode(doc); {
	case errors.Is(err, mongo.ErrNoDocuments):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("outbox claim: %w", err)
	}
	return doc, nil
}

func (s *Store) MarkSent(ctx context.Context, id string) error {
	return s.transition(ctx, id, bson.D{{Key: "$set", Value: bson.D{
		{Key: "state", Value: StateSent},
		{Key: "sent_at", Value: time.Now().UTC()},
	}}})
}

func (s *Store) MarkFailed(ctx context.Context, id string, next time.Time, errMsg string) error {
	return s.transition(ctx, id, bson.D{
		{Key: "$set", Value: bson.D{
			{Key: "state", Value: StateFailed},
			{Key: "next_attempt_at", Value: next.UTC()},
			{Key: "last_error", Value: errMsg},
		}},
		{Key: "$inc", Value: bson.D{{Key: "attempts", Value: 1}}},
	})
}

func (s *Store) transition(ctx context.Context, id string, update bson.D) error {
	if _, err := s.col.UpdateByID(ctx, id, update); err != nil {
		return fmt.Errorf("outbox update %s: %w", id, err)
	}
	return nil
}

// Requeue returns records claimed longer than staleAfter to FAILED so a
// crashed relay does not strand them.
func (s *Store) Requeue(ctx context.Context, staleAfter time.Duration) (int64, error) {
	at := time.Now().UTC()
	res, err := s.col.UpdateMany(ctx,
		bson.D{
			{Key: "state", Value: StateClaimed},
			{Key: "claimed_at", Value: bson.D{{Key: "$lt", Value: at.Add(-staleAfter)}}},
		},
		bson.D{{Key: "$set", Value: bson.D{
			{Key: "state", Value: StateFailed},
			{Key: "next_attempt_at", Value: at},
		}}},
	)
	if err != nil {
		return 0, fmt.Errorf("outbox requeue: %w", err)
	}
	return res.ModifiedCount, nil
}

var (
	_ appoutbox.Outbox = (*Store)(nil)
	_ Source           = (*Store)(nil)
)
