package ginserver

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	gin "github.com/gin-gonic/gin"

	"staybook/internal/app/commands"
	"staybook/internal/app/dto"
	bookingapp "staybook/internal/app/handlers/booking"
	cancellationapp "staybook/internal/app/handlers/cancellation"
	"staybook/internal/app/queries"
)

const customerHeader = "X-Customer-ID"

type BookingHandler struct {
	Commands commands.Bus
	Queries  queries.Bus
	Logger   *slog.Logger
}

type createBookingRequest struct {
	HoldID string `json:"holdId" binding:"required"`
}

type cancelBookingRequest struct {
	Reason string `json:"reason"`
}

func (h BookingHandler) Create(c *gin.Context) {
	customerID := strings.TrimSpace(c.GetHeader(customerHeader))
	if customerID == "" {
		c.JSON(http.StatusUnauthorized, errorBody{Error: "CustomerRequired", Message: customerHeader + " header is required"})
		return
	}
	var req createBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody{Error: "ValidationError", Message: err.Error()})
		return
	}
	cmd := bookingapp.CreateFromHoldCommand{
		HoldID:          req.HoldID,
		CustomerID:      customerID,
		IdempotencyKeyV: c.GetHeader("Idempotency-Key"),
	}
	result, err := commands.Dispatch[bookingapp.CreateFromHoldCommand, *dto.Booking](c.Request.Context(), h.Commands, cmd)
	if err != nil {
		handleError(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"booking": result})
}

func (h BookingHandler) Get(c *gin.Context) {
	query := bookingapp.GetBookingQuery{BookingID: c.Param("id")}
	result, err := queries.Ask[bookingapp.GetBookingQuery, dto.Booking](c.Request.Context(), h.Queries, query)
	if err != nil {
		handleError(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"booking": result})
}

func (h BookingHandler) Cancel(c *gin.Context) {
	var req cancelBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, errorBody{Error: "ValidationError", Message: err.Error()})
		return
	}
	cmd := cancellationapp.CancelBookingCommand{BookingID: c.Param("id"), Reason: req.Reason}
	result, err := commands.Dispatch[cancellationapp.CancelBookingCommand, *dto.Cancellation](c.Request.Context(), h.Commands, cmd)
	if err != nil {
		handleError(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": result.Status, "refund": result})
}

var _ BookingHTTP = BookingHandler{}
