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
	domainpayments "staybook/internal/domain/payments"
	"staybook/internal/domain/shared/money"
)

// PaymentEventRepository is the append-only webhook log. The unique
// (provider, provider_event_id) index turns a redelivery into
// ErrDuplicateEvent inside the same transaction that would have applied it.
type PaymentEventRepository struct {
	col *mongo.Collection
}

func NewPaymentEventRepository(db *mongo.Database) *PaymentEventRepository {
	return &PaymentEventRepository{col: db.Collection(colPaymentEvents)}
}

func (r *PaymentEventRepository) Append(ctx context.Context, event *domainpayments.PaymentEvent) error {
	doc := paymentEventDocument{
		ID:              event.ID,
		BookingID:       string(event.BookingID),
		Provider:        event.Provider,
		ProviderEventID: event.ProviderEventID,
		Type:            string(event.Type),
		RawPayload:      event.RawPayload,
		ProcessedAt:     event.ProcessedAt,
	}
	if _, err := r.col.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return domainpayments.ErrDuplicateEvent
		}
		return err
	}
	return nil
}

func (r *PaymentEventRepository) ListByBooking(ctx context.Context, bookingID domainbooking.BookingID) ([]*domainpayments.PaymentEvent, error) {
	opts := options.Find().SetSort(bson.D{{Key: "processed_at", Value: 1}})
	cur, err := r.col.Find(ctx, bson.M{"booking_id": string(bookingID)}, opts)
	if err != nil {
		return nil, err
	}
	var docs []paymentEventDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]*domainpayments.PaymentEvent, 0, len(docs))
	for _, d := range docs {
		out = append(out, &domainpayments.PaymentEvent{
			ID:              d.ID,
			BookingID:       domainbooking.BookingID(d.BookingID),
			Provider:        d.Provider,
			ProviderEventID: d.ProviderEventID,
			Type:            domainpayments.EventType(d.Type),
			RawPayload:      d.RawPayload,
			ProcessedAt:     d.ProcessedAt.UTC(),
		})
	}
	return out, nil
}

type paymentEventDocument struct {
	ID              string    `bson:"_id"`
	BookingID       string    `bson:"booking_id"`
	Provider        string    `bson:"provider"`
	ProviderEventID string    `bson:"provider_event_id"`
	Type            string    `bson:"type"`
	RawPayload      []byte    `bson:"raw_payload"`
	ProcessedAt     time.Time `bson:"processed_at"`
}

type RefundRepository struct {
	refunds  *mongo.Collection
	attempts *mongo.Collection
}

func NewRefundRepository(db *mongo.Database) *RefundRepository {
	return &RefundRepository{refunds: db.Collection(colRefunds), attempts: db.Collection(colAttempts)}
}

func (r *RefundRepository) Append(ctx context.Context, refund *domainpayments.RefundRecord) error {
	doc := refundDocument{
		ID:             refund.ID,
		BookingID:      string(refund.BookingID),
		Amount:         refund.Amount,
		Penalty:        refund.Penalty,
		Reason:         refund.Reason,
		PolicySnapshot: refund.PolicySnapshot.Snapshot(),
		Rationale:      refund.Rationale,
		CreatedAt:      refund.CreatedAt,
		Payable:        refund.Payable(),
		ActiveAt:       refund.CreatedAt,
	}
	_, err := r.refunds.InsertOne(ctx, doc)
	return err
}

func (r *RefundRepository) ByID(ctx context.Context, id string) (*domainpayments.RefundRecord, error) {
	var doc refundDocument
	if err := r.refunds.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domainpayments.ErrRefundNotFound
		}
		return nil, err
	}
	return doc.toRecord(), nil
}

func (r *RefundRepository) ListByBooking(ctx context.Context, bookingID domainbooking.BookingID) ([]*domainpayments.RefundRecord, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	cur, err := r.refunds.Find(ctx, bson.M{"booking_id": string(bookingID)}, opts)
	if err != nil {
		return nil, err
	}
	var docs []refundDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]*domainpayments.RefundRecord, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.toRecord())
	}
	return out, nil
}

func (r *RefundRepository) AppendAttempt(ctx context.Context, attempt domainpayments.RefundAttempt) error {
	doc := attemptDocument{
		RefundID:    attempt.RefundID,
		Attempt:     attempt.Attempt,
		Outcome:     string(attempt.Outcome),
		ProviderRef: attempt.ProviderRef,
		Error:       attempt.Error,
		At:          attempt.At,
	}
	if _, err := r.attempts.InsertOne(ctx, doc); err != nil {
		return err
	}
	update := bson.D{{Key: "$max", Value: bson.D{{Key: "active_at", Value: attempt.At}}}}
	if attempt.Outcome.Final() {
		update = append(update, bson.E{Key: "$set", Value: bson.D{{Key: "settled_at", Value: attempt.At}}})
	}
	res, err := r.refunds.UpdateByID(ctx, attempt.RefundID, update)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return domainpayments.ErrRefundNotFound
	}
	return nil
}

func (r *RefundRepository) ListUnsettled(ctx context.Context, idleSince time.Time, limit int) ([]*domainpayments.RefundRecord, error) {
	filter := bson.D{
		{Key: "payable", Value: true},
		{Key: "settled_at", Value: bson.D{{Key: "$exists", Value: false}}},
		{Key: "active_at", Value: bson.D{{Key: "$lte", Value: idleSince}}},
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cur, err := r.refunds.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	var docs []refundDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]*domainpayments.RefundRecord, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.toRecord())
	}
	return out, nil
}

func (r *RefundRepository) Attempts(ctx context.Context, refundID string) ([]domainpayments.RefundAttempt, error) {
	opts := options.Find().SetSort(bson.D{{Key: "attempt", Value: 1}, {Key: "at", Value: 1}})
	cur, err := r.attempts.Find(ctx, bson.M{"refund_id": refundID}, opts)
	if err != nil {
		return nil, err
	}
	var docs []attemptDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]domainpayments.RefundAttempt, 0, len(docs))
	for _, d := range docs {
		out = append(out, domainpayments.RefundAttempt{
			RefundID:    d.RefundID,
			Attempt:     d.Attempt,
			Outcome:     domainpayments.AttemptOutcome(d.Outcome),
			ProviderRef: d.ProviderRef,
			Error:       d.Error,
			At:          d.At.UTC(),
		})
	}
	return out, nil
}

type refundDocument struct {
	ID             string              `bson:"_id"`
	BookingID      string              `bson:"booking_id"`
	Amount         money.Money         `bson:"amount"`
	Penalty        money.Money         `bson:"penalty"`
	Reason         string              `bson:"reason"`
	PolicySnapshot cancellation.Policy `bson:"policy_snapshot"`
	Rationale      string              `bson:"rationale"`
	CreatedAt      time.Time           `bson:"created_at"`
	Payable        bool                `bson:"payable"`
	ActiveAt       time.Time           `bson:"active_at"`
	SettledAt      *time.Time          `bson:"settled_at,omitempty"`
}

func (d refundDocument) toRecord() *domainpayments.RefundRecord {
	return &domainpayments.RefundRecord{
		ID:             d.ID,
		BookingID:      domainbooking.BookingID(d.BookingID),
		Amount:         d.Amount,
		Penalty:        d.Penalty,
		Reason:         d.Reason,
		PolicySnapshot: d.PolicySnapshot,
		Rationale:      d.Rationale,
		CreatedAt:      d.CreatedAt.UTC(),
	}
}

type attemptDocument struct {
	RefundID    string    `bson:"refund_id"`
	Attempt     int       `bson:"attempt"`
	Outcome     string    `bson:"outcome"`
	ProviderRef string    `bson:"provider_ref,omitempty"`
	Error       string    `bson:"error,omitempty"`
	At          time.Time `bson:"at"`
}
