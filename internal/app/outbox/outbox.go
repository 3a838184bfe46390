package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"staybook/internal/domain/shared/events"
)

const (
	HeaderEventName   = "event-name"
	HeaderAggregateID = "aggregate-id"
	HeaderContentType = "content-type"
)

// EventRecord is a domain event serialized for the relay. Aggregate doubles
// as the partition key so events of one booking stay ordered.
type EventRecord struct {
	ID         string
	Name       string
	Payload    []byte
	OccurredAt time.Time
	Aggregate  string
	Headers    map[string]string
}

// Outbox accepts records inside the unit of work that produced them.
type Outbox interface {
	Add(ctx context.Context, record EventRecord) error
	Flush(ctx context.Context) error
}

type EventEncoder interface {
	Encode(ev events.DomainEvent) (EventRecord, error)
}

type JSONEventEncoder struct {
	NewID func() string
}

func (e JSONEventEncoder) Encode(ev events.DomainEvent) (EventRecord, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return EventRecord{}, fmt.Errorf("encode %s: %w", ev.EventName(), err)
	}
	newID := e.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	return EventRecord{
		ID:         newID(),
		Name:       ev.EventName(),
		Payload:    payload,
		OccurredAt: ev.OccurredAt().UTC(),
		Aggregate:  ev.AggregateID(),
		Headers: map[string]string{
			HeaderEventName:   ev.EventName(),
			HeaderAggregateID: ev.AggregateID(),
			HeaderContentType: "application/json",
		},
	}, nil
}

// Recorder is any aggregate that buffers domain events until drained.
type Recorder interface {
	Drain() []events.DomainEvent
}

// RecordDomainEvents moves the pending events of every aggregate into box in
// the order they were raised. A nil box drops them.
func RecordDomainEvents(ctx context.Context, box Outbox, encoder EventEncoder, aggregates ...Recorder) error {
	if box == nil {
		return nil
	}
	if encoder == nil {
		encoder = JSONEventEncoder{}
	}
	for _, agg := range aggregates {
		for _, ev := range agg.Drain() {
			rec, err := encoder.Encode(ev)
			if err != nil {
				return err
			}
			if err := box.Add(ctx, rec); err != nil {
				return fmt.Errorf("outbox add %s: %w", rec.Name, err)
			}
		}
	}
	return nil
}
