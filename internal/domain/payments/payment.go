package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"staybook/internal/domain/booking"
)

var (
	ErrDuplicateEvent   = errors.New("payments: provider event already processed")
	ErrSignatureInvalid = errors.New("payments: webhook signature invalid")
	ErrUnknownEventType = errors.New("payments: unknown event type")
	ErrUnknownProvider  = errors.New("payments: unknown provider")
	ErrEventIDRequired  = errors.New("payments: provider event id required")
)

type EventType string

const (
	EventAuthorized EventType = "AUTHORIZED"
	EventCaptured   EventType = "CAPTURED"
	EventFailed     EventType = "FAILED"
	EventRefunded   EventType = "REFUNDED"
)

// ParseEventType accepts provider spellings in any case.
func ParseEventType(raw string) (EventType, error) {
	t := EventType(strings.ToUpper(strings.TrimSpace(raw)))
	switch t {
	case EventAuthorized, EventCaptured, EventFailed, EventRefunded:
		return t, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownEventType, raw)
}

// Confirms reports whether the event settles a pending booking.
func (t EventType) Confirms() bool {
	return t == EventAuthorized || t == EventCaptured
}

// PaymentEvent is one provider notification as received. The log is
// append-only and (Provider, ProviderEventID) is unique.
type PaymentEvent struct {
	ID              string
	BookingID       booking.BookingID
	Provider        string
	ProviderEventID string
	Type            EventType
	RawPayload      []byte
	ProcessedAt     time.Time
}

type NewEventParams struct {
	ID              string
	BookingID       booking.BookingID
	Provider        string
	ProviderEventID string
	Type            EventType
	RawPayload      []byte
	Now             time.Time
}

func NewEvent(params NewEventParams) (*PaymentEvent, error) {
	provider := strings.ToLower(strings.TrimSpace(params.Provider))
	if provider == "" {
		return nil, ErrUnknownProvider
	}
	if strings.TrimSpace(params.ProviderEventID) == "" {
		return nil, ErrEventIDRequired
	}
	payload := make([]byte, len(params.RawPayload))
	copy(payload, params.RawPayload)
	return &PaymentEvent{
		ID:              params.ID,
		BookingID:       params.BookingID,
		Provider:        provider,
		ProviderEventID: strings.TrimSpace(params.ProviderEventID),
		Type:            params.Type,
		RawPayload:      payload,
		ProcessedAt:     params.Now.UTC(),
	}, nil
}

type EventRepository interface {
	// Append inserts the event, returning ErrDuplicateEvent when the
	// provider event id was seen before.
	Append(ctx context.Context, event *PaymentEvent) error
	ListByBooking(ctx context.Context, bookingID booking.BookingID) ([]*PaymentEvent, error)
}
