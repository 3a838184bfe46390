package refunds

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/samber/lo"

	"staybook/internal/app/clock"
	"staybook/internal/app/handlers/support"
	"staybook/internal/app/policies"
	"staybook/internal/app/uow"
	domainpayments "staybook/internal/domain/payments"
)

var ErrGatewayMissing = errors.New("refunds: gateway not configured")

// Executor performs single refund attempts and records each outcome. It is
// shared by the in-process dispatcher and the queue worker.
type Executor struct {
	UoWFactory uow.UoWFactory
	Gateway    policies.RefundGateway
	Clock      clock.Clock
	Metrics    policies.Metrics
	Logger     *slog.Logger
}

// Attempt tries to move the funds for refundID once. Attempts after a
// recorded success return nil without calling the provider again.
func (e *Executor) Attempt(ctx context.Context, refundID string, attempt int) error {
	if e.Gateway == nil {
		return ErrGatewayMissing
	}
	refund, done, err := e.load(ctx, refundID)
	if err != nil {
		return err
	}
	if done {
		return nil
	}
	providerRef, callErr := e.Gateway.Refund(ctx, refund.ID, refund.BookingID, refund.Amount)
	rec := domainpayments.RefundAttempt{
		RefundID:    refund.ID,
		Attempt:     attempt,
		Outcome:     domainpayments.AttemptSucceeded,
		ProviderRef: providerRef,
		At:          e.now(),
	}
	if callErr != nil {
		rec.Outcome = domainpayments.AttemptFailed
		rec.Error = callErr.Error()
	}
	if err := e.appendAttempt(ctx, rec); err != nil {
		return errors.Join(callErr, err)
	}
	e.metrics().RefundDispatch(string(rec.Outcome))
	if callErr != nil {
		e.logger().Warn("refund attempt failed", "refund_id", refund.ID, "attempt", attempt, "error", callErr)
		return fmt.Errorf("refunds: attempt %d: %w", attempt, callErr)
	}
	e.logger().Info("refund sent", "refund_id", refund.ID, "booking_id", refund.BookingID, "amount", refund.Amount.Amount, "provider_ref", providerRef)
	return nil
}

// Exhausted records that retries ran out. The refund decision itself stays
// committed; this is an operator alert, not a rollback.
func (e *Executor) Exhausted(ctx context.Context, refundID string, attempts int, cause error) {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	e.logger().Error("refund retries exhausted",
		"refund_id", refundID,
		"attempts", attempts,
		"error", msg,
		"alert", true,
	)
	e.metrics().RefundDispatch(string(domainpayments.AttemptExhausted))
	rec := domainpayments.RefundAttempt{
		RefundID: refundID,
		Attempt:  attempts,
		Outcome:  domainpayments.AttemptExhausted,
		Error:    msg,
		At:       e.now(),
	}
	if err := e.appendAttempt(ctx, rec); err != nil {
		e.logger().Error("cannot record exhausted refund", "refund_id", refundID, "error", err)
	}
}

// Progress summarizes the attempt log of one refund.
type Progress struct {
	Failed    int
	Settled   bool
	LastError string
}

// Progress reads how far refundID has come, so a dispatcher picking it up
// again continues the attempt count instead of starting over.
func (e *Executor) Progress(ctx context.Context, refundID string) (Progress, error) {
	unit, ctx, cleanup, err := support.BeginReadOnlyUnit(ctx, e.UoWFactory)
	if err != nil {
		return Progress{}, err
	}
	if cleanup != nil {
		defer cleanup()
	}
	attempts, err := unit.Refunds().Attempts(ctx, refundID)
	if err != nil {
		return Progress{}, err
	}
	p := Progress{Settled: domainpayments.Settled(attempts)}
	for _, a := range attempts {
		if a.Outcome == domainpayments.AttemptFailed {
			p.Failed++
			p.LastError = a.Error
		}
	}
	return p, nil
}

func (e *Executor) load(ctx context.Context, refundID string) (*domainpayments.RefundRecord, bool, error) {
	unit, ctx, cleanup, err := support.BeginReadOnlyUnit(ctx, e.UoWFactory)
	if err != nil {
		return nil, false, err
	}
	if cleanup != nil {
		defer cleanup()
	}
	refund, err := unit.Refunds().ByID(ctx, refundID)
	if err != nil {
		return nil, false, err
	}
	attempts, err := unit.Refunds().Attempts(ctx, refundID)
	if err != nil {
		return nil, false, err
	}
	done := lo.ContainsBy(attempts, func(a domainpayments.RefundAttempt) bool {
		return a.Outcome == domainpayments.AttemptSucceeded
	})
	return refund, done, nil
}

func (e *Executor) appendAttempt(ctx context.Context, rec domainpayments.RefundAttempt) error {
	_, err := support.InUnit(ctx, e.UoWFactory, func(ctx context.Context, unit uow.UnitOfWork) (struct{}, error) {
		return struct{}{}, unit.Refunds().AppendAttempt(ctx, rec)
	})
	return err
}

func (e *Executor) now() time.Time {
	if e.Clock != nil {
		return e.Clock.Now()
	}
	return time.Now().UTC()
}

func (e *Executor) metrics() policies.Metrics {
	if e.Metrics != nil {
		return e.Metrics
	}
	return policies.NopMetrics{}
}

func (e *Executor) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}
