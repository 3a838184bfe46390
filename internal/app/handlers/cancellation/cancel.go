package cancellation

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"staybook/internal/app/clock"
	"staybook/internal/app/commands"
	"staybook/internal/app/dto"
	"staybook/internal/app/handlers/support"
	"staybook/internal/app/outbox"
	"staybook/internal/app/policies"
	"staybook/internal/app/uow"
	domainbooking "staybook/internal/domain/booking"
	domaincancellation "staybook/internal/domain/cancellation"
	domainpayments "staybook/internal/domain/payments"
)

const cancelBookingKey = "booking.cancel"

const defaultReason = "guest request"

type CancelBookingCommand struct {
	BookingID string `validate:"required"`
	Reason    string `validate:"max=500"`
}

func (c CancelBookingCommand) Key() string { return cancelBookingKey }

// CancelBookingHandler applies the booking's own policy snapshot, frees the
// nights and records the refund. Funds movement starts only after commit.
type CancelBookingHandler struct {
	UoWFactory uow.UoWFactory
	Dispatcher policies.RefundDispatcher
	Archive    policies.AuditArchive
	Clock      clock.Clock
	NewID      func() string
	Outbox     outbox.Outbox
	Encoder    outbox.EventEncoder
	Logger     *slog.Logger
}

func (h *CancelBookingHandler) Handle(ctx context.Context, cmd CancelBookingCommand) (*dto.Cancellation, error) {
	reason := strings.TrimSpace(cmd.Reason)
	if reason == "" {
		reason = defaultReason
	}
	return support.InUnit(ctx, h.UoWFactory, func(ctx context.Context, unit uow.UnitOfWork) (*dto.Cancellation, error) {
		now := h.now()
		booking, err := unit.Bookings().ByID(ctx, domainbooking.BookingID(cmd.BookingID))
		if err != nil {
			return nil, err
		}
		decision, err := booking.EvaluateCancellation(now)
		if err != nil {
			return nil, err
		}
		if err := booking.Cancel(decision, reason, now); err != nil {
			return nil, err
		}
		if err := unit.Bookings().Save(ctx, booking); err != nil {
			return nil, err
		}
		if err := unit.Ledger().Release(ctx, booking.PropertyID, booking.Range, string(booking.ID)); err != nil {
			return nil, err
		}
		refund, err := domainpayments.NewRefund(h.newID(), booking, decision, reason, now)
		if err != nil {
			return nil, err
		}
		if err := unit.Refunds().Append(ctx, refund); err != nil {
			return nil, err
		}
		if err := outbox.RecordDomainEvents(ctx, h.Outbox, h.Encoder, booking, refund); err != nil {
			return nil, err
		}
		if err := uow.AfterCommit(ctx, func(ctx context.Context) { h.afterCommit(ctx, refund) }); err != nil {
			return nil, err
		}

		h.logger().Info("booking cancelled",
			"booking_id", booking.ID,
			"status", booking.Status,
			"refund_id", refund.ID,
			"refund", refund.Amount.Amount,
			"penalty", refund.Penalty.Amount,
			"policy", refund.PolicySnapshot.ID,
		)
		return &dto.Cancellation{
			BookingID: string(booking.ID),
			Status:    string(booking.Status),
			RefundID:  refund.ID,
			Refund:    dto.MapMoney(decision.Refundable),
			Penalty:   dto.MapMoney(decision.Penalty),
			Percent:   decision.RefundPercent,
			Rationale: decision.Rationale,
		}, nil
	})
}

func (h *CancelBookingHandler) afterCommit(ctx context.Context, refund *domainpayments.RefundRecord) {
	h.archiveDecision(ctx, refund)
	if !refund.Payable() || h.Dispatcher == nil {
		return
	}
	if err := h.Dispatcher.Dispatch(ctx, refund.ID); err != nil {
		h.logger().Error("refund dispatch failed", "refund_id", refund.ID, "booking_id", refund.BookingID, "error", err)
	}
}

type decisionDocument struct {
	RefundID  string                    `json:"refundId"`
	BookingID string                    `json:"bookingId"`
	Amount    dto.MoneyDTO              `json:"amount"`
	Penalty   dto.MoneyDTO              `json:"penalty"`
	Reason    string                    `json:"reason"`
	Rationale string                    `json:"rationale"`
	Policy    domaincancellation.Policy `json:"policy"`
	CreatedAt time.Time                 `json:"createdAt"`
}

func (h *CancelBookingHandler) archiveDecision(ctx context.Context, refund *domainpayments.RefundRecord) {
	if h.Archive == nil {
		return
	}
	body, err := json.Marshal(decisionDocument{
		RefundID:  refund.ID,
		BookingID: string(refund.BookingID),
		Amount:    dto.MapMoney(refund.Amount),
		Penalty:   dto.MapMoney(refund.Penalty),
		Reason:    refund.Reason,
		Rationale: refund.Rationale,
		Policy:    refund.PolicySnapshot,
		CreatedAt: refund.CreatedAt,
	})
	if err == nil {
		key := policies.ArchiveKey("refunds", refund.CreatedAt, string(refund.BookingID), refund.ID)
		err = h.Archive.Put(ctx, key, body, "application/json")
	}
	if err != nil {
		h.logger().Error("refund decision archive failed", "refund_id", refund.ID, "error", err)
	}
}

func (h *CancelBookingHandler) now() time.Time {
	if h.Clock != nil {
		return h.Clock.Now()
	}
	return time.Now().UTC()
}

func (h *CancelBookingHandler) newID() string {
	if h.NewID != nil {
		return h.NewID()
	}
	return uuid.NewString()
}

func (h *CancelBookingHandler) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

var _ commands.Handler[CancelBookingCommand, *dto.Cancellation] = (*CancelBookingHandler)(nil)
