package ginserver

import (
	"errors"
	"log/slog"
	"net/http"

	gin "github.com/gin-gonic/gin"

	"staybook/internal/app/handlers/payments"
	"staybook/internal/app/middleware"
	domainavailability "staybook/internal/domain/availability"
	domainbooking "staybook/internal/domain/booking"
	"staybook/internal/domain/cancellation"
	domainholds "staybook/internal/domain/holds"
	domainlistings "staybook/internal/domain/listings"
	domainpayments "staybook/internal/domain/payments"
	"staybook/internal/domain/pricing"
	"staybook/internal/domain/shared/daterange"
	"staybook/internal/infra/obs"
	"staybook/internal/infra/validation"
)

type errorBody struct {
	Error            string                  `json:"error"`
	Message          string                  `json:"message"`
	ConflictingDates []string                `json:"conflictingDates,omitempty"`
	Fields           []validation.FieldError `json:"fields,omitempty"`
}

// handleError maps application errors onto the HTTP taxonomy. Anything it
// does not recognise is an infrastructure failure and is logged.
func handleError(c *gin.Context, logger *slog.Logger, err error) {
	var conflict *domainavailability.ConflictError
	if errors.As(err, &conflict) {
		c.JSON(http.StatusConflict, errorBody{
			Error:            "Conflict",
			Message:          "dates unavailable",
			ConflictingDates: conflict.ConflictingDates(),
		})
		return
	}
	var verr *validation.Error
	if errors.As(err, &verr) {
		c.JSON(http.StatusBadRequest, errorBody{Error: "ValidationError", Message: err.Error(), Fields: verr.Fields})
		return
	}

	status, code := classify(err)
	if status == http.StatusInternalServerError {
		if logger == nil {
			logger = slog.Default()
		}
		logger.Error("request failed",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"request_id", obs.RequestIDFromContext(c.Request.Context()),
			"error", err,
		)
		c.JSON(status, errorBody{Error: code, Message: "internal error"})
		return
	}
	c.JSON(status, errorBody{Error: code, Message: err.Error()})
}

func classify(err error) (int, string) {
	switch {
	case pricing.IsValidationError(err),
		errors.Is(err, daterange.ErrInvalidRange),
		errors.Is(err, domainholds.ErrCheckInPast),
		errors.Is(err, domainbooking.ErrCustomerRequired):
		return http.StatusBadRequest, "ValidationError"
	case errors.Is(err, domainpayments.ErrSignatureInvalid):
		return http.StatusBadRequest, "SignatureInvalid"
	case errors.Is(err, payments.ErrMalformedWebhook),
		errors.Is(err, domainpayments.ErrUnknownEventType),
		errors.Is(err, domainpayments.ErrEventIDRequired),
		errors.Is(err, domainpayments.ErrUnknownProvider):
		return http.StatusBadRequest, "MalformedWebhook"
	case errors.Is(err, middleware.ErrIdempotencyKeyReused):
		return http.StatusUnprocessableEntity, "IdempotencyKeyReused"
	case errors.Is(err, domainholds.ErrHoldExpired):
		return http.StatusGone, "HoldExpired"
	case errors.Is(err, domainholds.ErrHoldNotActive):
		return http.StatusConflict, "HoldNotActive"
	case errors.Is(err, cancellation.ErrNotCancellable):
		return http.StatusConflict, "NotCancellable"
	case errors.Is(err, domainlistings.ErrNotBookable):
		return http.StatusConflict, "NotBookable"
	case errors.Is(err, domainholds.ErrConcurrentUpdate),
		errors.Is(err, domainbooking.ErrConcurrentUpdate):
		return http.StatusConflict, "ConcurrentUpdate"
	case errors.Is(err, domainlistings.ErrListingNotFound):
		return http.StatusNotFound, "PropertyNotFound"
	case errors.Is(err, domainholds.ErrHoldNotFound):
		return http.StatusNotFound, "HoldNotFound"
	case errors.Is(err, domainbooking.ErrBookingNotFound):
		return http.StatusNotFound, "BookingNotFound"
	}
	return http.StatusInternalServerError, "InternalError"
}
