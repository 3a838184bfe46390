package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"staybook/internal/app/clock"
	"staybook/internal/app/commands"
	"staybook/internal/app/handlers/support"
	"staybook/internal/app/outbox"
	"staybook/internal/app/policies"
	"staybook/internal/app/uow"
	domainbooking "staybook/internal/domain/booking"
	domainpayments "staybook/internal/domain/payments"
)

const handleWebhookKey = "payments.webhook"

const (
	ResultApplied   = "Applied"
	ResultDuplicate = "Duplicate"
)

var ErrMalformedWebhook = errors.New("payments: malformed webhook payload")

// HandleWebhookCommand carries a provider notification exactly as received.
// Payload is the raw body the signature was computed over.
type HandleWebhookCommand struct {
	Provider  string `validate:"required"`
	Payload   []byte `validate:"required"`
	Signature string
}

func (c HandleWebhookCommand) Key() string { return handleWebhookKey }

// Envelope is the provider-neutral body every webhook must decode into.
type Envelope struct {
	EventID   string `json:"eventId"`
	Type      string `json:"type"`
	BookingID string `json:"bookingId"`
}

type WebhookResult struct {
	Result    string `json:"result"`
	BookingID string `json:"bookingId"`
	Status    string `json:"status,omitempty"`
	Changed   bool   `json:"changed"`
}

// HandleWebhookHandler verifies, logs and applies a payment event. A repeated
// (provider, event id) surfaces as domainpayments.ErrDuplicateEvent so the
// surrounding unit of work rolls back; Process turns it into a result.
type HandleWebhookHandler struct {
	UoWFactory uow.UoWFactory
	Verifier   policies.SignatureVerifier
	Archive    policies.AuditArchive
	Clock      clock.Clock
	NewID      func() string
	Outbox     outbox.Outbox
	Encoder    outbox.EventEncoder
	Logger     *slog.Logger
}

func (h *HandleWebhookHandler) Handle(ctx context.Context, cmd HandleWebhookCommand) (*WebhookResult, error) {
	if h.Verifier == nil {
		return nil, domainpayments.ErrSignatureInvalid
	}
	if err := h.Verifier.Verify(cmd.Provider, cmd.Payload, cmd.Signature); err != nil {
		h.logger().Warn("webhook signature rejected",
			"event", "security",
			"provider", cmd.Provider,
			"payload_bytes", len(cmd.Payload),
			"error", err,
		)
		return nil, fmt.Errorf("%w: %v", domainpayments.ErrSignatureInvalid, err)
	}
	env, eventType, err := decodeEnvelope(cmd.Payload)
	if err != nil {
		return nil, err
	}

	return support.InUnit(ctx, h.UoWFactory, func(ctx context.Context, unit uow.UnitOfWork) (*WebhookResult, error) {
		now := h.now()
		bookingID := domainbooking.BookingID(env.BookingID)
		booking, err := unit.Bookings().ByID(ctx, bookingID)
		if err != nil {
			return nil, err
		}
		event, err := domainpayments.NewEvent(domainpayments.NewEventParams{
			ID:              h.newID(),
			BookingID:       bookingID,
			Provider:        cmd.Provider,
			ProviderEventID: env.EventID,
			Type:            eventType,
			RawPayload:      cmd.Payload,
			Now:             now,
		})
		if err != nil {
			return nil, err
		}
		if err := unit.PaymentEvents().Append(ctx, event); err != nil {
			return nil, err
		}

		booking, changed, err := h.apply(ctx, unit, booking, eventType, now)
		if err != nil {
			return nil, err
		}
		if changed && eventType == domainpayments.EventFailed {
			if err := unit.Ledger().Release(ctx, booking.PropertyID, booking.Range, string(booking.ID)); err != nil {
				return nil, err
			}
		}
		if err := outbox.RecordDomainEvents(ctx, h.Outbox, h.Encoder, booking); err != nil {
			return nil, err
		}
		if err := uow.AfterCommit(ctx, func(ctx context.Context) { h.archive(ctx, event) }); err != nil {
			return nil, err
		}

		h.logger().Info("payment event applied",
			"provider", event.Provider,
			"provider_event_id", event.ProviderEventID,
			"type", event.Type,
			"booking_id", booking.ID,
			"status", booking.Status,
			"changed", changed,
		)
		return &WebhookResult{
			Result:    ResultApplied,
			BookingID: string(booking.ID),
			Status:    string(booking.Status),
			Changed:   changed,
		}, nil
	})
}

// apply runs the transition for eventType and saves the booking when it
// changed. A lost version race is retried once on a fresh copy.
func (h *HandleWebhookHandler) apply(ctx context.Context, unit uow.UnitOfWork, booking *domainbooking.Booking, eventType domainpayments.EventType, now time.Time) (*domainbooking.Booking, bool, error) {
	transition := func(b *domainbooking.Booking) bool {
		switch {
		case eventType.Confirms():
			return b.Confirm(now)
		case eventType == domainpayments.EventFailed:
			return b.Expire("payment failed", now)
		default:
			return false
		}
	}
	if !transition(booking) {
		return booking, false, nil
	}
	err := unit.Bookings().Save(ctx, booking)
	if err == nil {
		return booking, true, nil
	}
	if !errors.Is(err, domainbooking.ErrConcurrentUpdate) {
		return nil, false, err
	}
	fresh, err := unit.Bookings().ByID(ctx, booking.ID)
	if err != nil {
		return nil, false, err
	}
	if !transition(fresh) {
		return fresh, false, nil
	}
	if err := unit.Bookings().Save(ctx, fresh); err != nil {
		return nil, false, err
	}
	return fresh, true, nil
}

func (h *HandleWebhookHandler) archive(ctx context.Context, event *domainpayments.PaymentEvent) {
	if h.Archive == nil {
		return
	}
	key := policies.ArchiveKey("webhooks", event.ProcessedAt, event.Provider, event.ProviderEventID)
	if err := h.Archive.Put(ctx, key, event.RawPayload, "application/json"); err != nil {
		h.logger().Error("webhook archive failed", "key", key, "error", err)
	}
}

func decodeEnvelope(payload []byte) (Envelope, domainpayments.EventType, error) {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return Envelope{}, "", fmt.Errorf("%w: %v", ErrMalformedWebhook, err)
	}
	if env.EventID == "" || env.BookingID == "" {
		return Envelope{}, "", fmt.Errorf("%w: eventId and bookingId are required", ErrMalformedWebhook)
	}
	eventType, err := domainpayments.ParseEventType(env.Type)
	if err != nil {
		return Envelope{}, "", err
	}
	return env, eventType, nil
}

func (h *HandleWebhookHandler) now() time.Time {
	if h.Clock != nil {
		return h.Clock.Now()
	}
	return time.Now().UTC()
}

func (h *HandleWebhookHandler) newID() string {
	if h.NewID != nil {
		return h.NewID()
	}
	return uuid.NewString()
}

func (h *HandleWebhookHandler) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

var _ commands.Handler[HandleWebhookCommand, *WebhookResult] = (*HandleWebhookHandler)(nil)
