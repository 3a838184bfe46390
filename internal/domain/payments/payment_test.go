package payments

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"staybook/internal/domain/booking"
	"staybook/internal/domain/cancellation"
	"staybook/internal/domain/shared/money"
)

func TestParseEventType(t *testing.T) {
	typ, err := ParseEventType(" captured ")
	require.NoError(t, err)
	assert.Equal(t, EventCaptured, typ)
	assert.True(t, typ.Confirms())

	typ, err = ParseEventType("FAILED")
	require.NoError(t, err)
	assert.False(t, typ.Confirms())

	_, err = ParseEventType("chargeback")
	assert.ErrorIs(t, err, ErrUnknownEventType)
}

func TestNewEventNormalizesProvider(t *testing.T) {
	raw := []byte(`{"id":"evt_1"}`)
	ev, err := NewEvent(NewEventParams{ID: "pe-1", BookingID: "b-1", Provider: " Stripe ", ProviderEventID: "evt_1", Type: EventCaptured, RawPayload: raw, Now: time.Now()})
	require.NoError(t, err)
	assert.Equal(t, "stripe", ev.Provider)

	raw[0] = 'x'
	assert.Equal(t, byte('{'), ev.RawPayload[0], "payload is copied")

	_, err = NewEvent(NewEventParams{Provider: "stripe"})
	assert.ErrorIs(t, err, ErrEventIDRequired)
	_, err = NewEvent(NewEventParams{ProviderEventID: "evt"})
	assert.ErrorIs(t, err, ErrUnknownProvider)
}

func TestNewRefundCopiesPolicy(t *testing.T) {
	b := &booking.Booking{
		ID:     "b-1",
		Policy: cancellation.Policy{ID: "flexible", Windows: []cancellation.Window{{MinHoursBefore: 24, RefundPercent: 50}}},
	}
	decision := cancellation.Decision{
		Refundable:    money.Must(160, "AED"),
		Penalty:       money.Must(160, "AED"),
		RefundPercent: 50,
		Rationale:     "policy flexible: window >=24h refunds 50%",
	}
	r, err := NewRefund("r-1", b, decision, "guest request", time.Now())
	require.NoError(t, err)

	b.Policy.Windows[0].RefundPercent = 0
	assert.Equal(t, 50, r.PolicySnapshot.Windows[0].RefundPercent)
	assert.True(t, r.Payable())
	assert.Equal(t, "refund.recorded", r.PendingEvents()[0].EventName())
}
