package kafka

import (
	"context"
	"errors"
	"log/slog"

	"github.com/IBM/sarama"

	"staybook/internal/app/commands"
	paymentsapp "staybook/internal/app/handlers/payments"
	"staybook/internal/app/policies"
	domainbooking "staybook/internal/domain/booking"
	domainpayments "staybook/internal/domain/payments"
	"staybook/internal/infra/validation"
)

const (
	HeaderProvider  = "provider"
	HeaderSignature = "signature"
)

// WebhookHandler feeds provider notifications relayed through Kafka into the
// same processor as the HTTP endpoint. The record value is the raw body.
type WebhookHandler struct {
	Commands commands.Bus
	Metrics  policies.Metrics
	Logger   *slog.Logger
}

func (h WebhookHandler) Handle(ctx context.Context, msg *sarama.ConsumerMessage) error {
	cmd := paymentsapp.HandleWebhookCommand{
		Provider:  header(msg, HeaderProvider),
		Payload:   msg.Value,
		Signature: header(msg, HeaderSignature),
	}
	res, err := paymentsapp.Process(ctx, h.Commands, h.Metrics, cmd)
	if err == nil {
		h.logger().Debug("webhook consumed", "provider", cmd.Provider, "result", res.Result, "offset", msg.Offset)
		return nil
	}
	if permanent(err) {
		h.logger().Warn("webhook dropped", "provider", cmd.Provider, "offset", msg.Offset, "error", err)
		return nil
	}
	return err
}

// permanent errors would fail the same way on every redelivery.
func permanent(err error) bool {
	return errors.Is(err, domainpayments.ErrSignatureInvalid) ||
		errors.Is(err, domainpayments.ErrUnknownEventType) ||
		errors.Is(err, domainpayments.ErrEventIDRequired) ||
		errors.Is(err, domainpayments.ErrUnknownProvider) ||
		errors.Is(err, paymentsapp.ErrMalformedWebhook) ||
		errors.Is(err, domainbooking.ErrBookingNotFound) ||
		errors.Is(err, validation.ErrInvalid)
}

func header(msg *sarama.ConsumerMessage, key string) string {
	for _, h := range msg.Headers {
		if h != nil && string(h.Key) == key {
			return string(h.Value)
		}
	}
	return ""
}

func (h WebhookHandler) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

var _ MessageHandler = WebhookHandler{}
