package payments

import (
	"context"
	"errors"

	"staybook/internal/app/commands"
	"staybook/internal/app/policies"
	domainbooking "staybook/internal/domain/booking"
	domainpayments "staybook/internal/domain/payments"
)

// Process dispatches a webhook and folds the duplicate outcome into a
// successful result. Every ingestion path (HTTP, Kafka) goes through here.
func Process(ctx context.Context, bus commands.Bus, metrics policies.Metrics, cmd HandleWebhookCommand) (*WebhookResult, error) {
	if metrics == nil {
		metrics = policies.NopMetrics{}
	}
	res, err := commands.Dispatch[HandleWebhookCommand, *WebhookResult](ctx, bus, cmd)
	switch {
	case err == nil:
		metrics.WebhookResult(cmd.Provider, ResultApplied)
		return res, nil
	case errors.Is(err, domainpayments.ErrDuplicateEvent):
		metrics.WebhookResult(cmd.Provider, ResultDuplicate)
		return &WebhookResult{Result: ResultDuplicate}, nil
	case errors.Is(err, domainpayments.ErrSignatureInvalid):
		metrics.WebhookResult(cmd.Provider, "SignatureInvalid")
	case errors.Is(err, domainbooking.ErrBookingNotFound):
		metrics.WebhookResult(cmd.Provider, "BookingNotFound")
	default:
		metrics.WebhookResult(cmd.Provider, "Error")
	}
	return nil, err
}
