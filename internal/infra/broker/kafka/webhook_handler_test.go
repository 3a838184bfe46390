package kafka

import (
	"context"
	"testing"

	"github.com/IBM/sarama"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"staybook/internal/app/commands"
	paymentsapp "staybook/internal/app/handlers/payments"
	domainbooking "staybook/internal/domain/booking"
	domainpayments "staybook/internal/domain/payments"
)

func TestWebhookHandlerMapsHeadersAndOutcomes(t *testing.T) {
	var seen paymentsapp.HandleWebhookCommand
	outcome := error(nil)
	bus := commands.NewInMemoryBus()
	commands.RegisterHandler(bus, commands.HandlerFunc[paymentsapp.HandleWebhookCommand, *paymentsapp.WebhookResult](
		func(_ context.Context, cmd paymentsapp.HandleWebhookCommand) (*paymentsapp.WebhookResult, error) {
			seen = cmd
			if outcome != nil {
				return nil, outcome
			}
			return &paymentsapp.WebhookResult{Result: paymentsapp.ResultApplied}, nil
		}))
	h := WebhookHandler{Commands: bus}
	msg := &sarama.ConsumerMessage{
		Value: []byte(`{"eventId":"evt_1"}`),
		Headers: []*sarama.RecordHeader{
			{Key: []byte(HeaderProvider), Value: []byte("stripe")},
			{Key: []byte(HeaderSignature), Value: []byte("abc")},
		},
	}

	require.NoError(t, h.Handle(context.Background(), msg))
	assert.Equal(t, "stripe", seen.Provider)
	assert.Equal(t, "abc", seen.Signature)

	outcome = domainpayments.ErrDuplicateEvent
	assert.NoError(t, h.Handle(context.Background(), msg), "duplicates are successes")

	outcome = domainpayments.ErrSignatureInvalid
	assert.NoError(t, h.Handle(context.Background(), msg), "bad signatures are dropped, not retried")

	outcome = domainbooking.ErrConcurrentUpdate
	assert.Error(t, h.Handle(context.Background(), msg))
}
