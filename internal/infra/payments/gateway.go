package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	circuit "github.com/rubyist/circuitbreaker"

	"staybook/internal/app/policies"
	domainbooking "staybook/internal/domain/booking"
	"staybook/internal/domain/shared/money"
)

var ErrProviderRejected = errors.New("payments: provider rejected refund")

// HTTPGateway posts refunds to the provider through a threshold circuit
// breaker so a failing provider is not hammered by every retry.
type HTTPGateway struct {
	endpoint string
	client   *circuit.HTTPClient
	logger   *slog.Logger
}

type refundRequest struct {
	Reference string `json:"reference"`
	BookingID string `json:"bookingId"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
}

type refundResponse struct {
	ID string `json:"id"`
}

func NewHTTPGateway(endpoint string, timeout time.Duration, threshold int64, logger *slog.Logger) (*HTTPGateway, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, errors.New("payments: refund endpoint is required")
	}
	if threshold <= 0 {
		threshold = 5
	}
	return &HTTPGateway{
		endpoint: endpoint,
		client:   circuit.NewHTTPClient(timeout, threshold, nil),
		logger:   logger,
	}, nil
}

func (g *HTTPGateway) Refund(ctx context.Context, reference string, bookingID domainbooking.BookingID, amount money.Money) (string, error) {
	body, err := json.Marshal(refundRequest{
		Reference: reference,
		BookingID: string(bookingID),
		Amount:    amount.Amount,
		Currency:  amount.Currency,
	})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", reference)

	resp, err := g.client.Do(req)
	if err != nil {
		if errors.Is(err, circuit.ErrBreakerOpen) && g.logger != nil {
			g.logger.Warn("refund provider breaker open", "endpoint", g.endpoint)
		}
		return "", fmt.Errorf("payments: refund request: %w", err)
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return "", fmt.Errorf("payments: read refund response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("%w: status %d: %s", ErrProviderRejected, resp.StatusCode, strings.TrimSpace(string(payload)))
	}
	var out refundResponse
	if err := json.Unmarshal(payload, &out); err != nil {
		return "", fmt.Errorf("payments: decode refund response: %w", err)
	}
	return out.ID, nil
}

// LoggingGateway stands in for a provider in local setups. It logs and
// reports success with a synthetic reference.
type LoggingGateway struct {
	Logger *slog.Logger
}

func (g LoggingGateway) Refund(ctx context.Context, reference string, bookingID domainbooking.BookingID, amount money.Money) (string, error) {
	if g.Logger != nil {
		g.Logger.Info("refund issued (local gateway)", "reference", reference, "booking_id", bookingID, "amount", amount.Amount, "currency", amount.Currency)
	}
	return "local-" + reference, nil
}

var (
	_ policies.RefundGateway = (*HTTPGateway)(nil)
	_ policies.RefundGateway = LoggingGateway{}
)
