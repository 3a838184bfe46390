package ginserver

import (
	"log/slog"
	"net/http"
	"time"

	gin "github.com/gin-gonic/gin"

	"staybook/internal/app/commands"
	"staybook/internal/app/dto"
	availabilityapp "staybook/internal/app/handlers/availability"
	holdsapp "staybook/internal/app/handlers/holds"
	quoteapp "staybook/internal/app/handlers/quote"
	"staybook/internal/app/queries"
	"staybook/internal/domain/shared/daterange"
)

const defaultCalendarDays = 30

// PropertyHandler serves quoting, reservation and the calendar view.
type PropertyHandler struct {
	Commands commands.Bus
	Queries  queries.Bus
	Logger   *slog.Logger
}

type stayRequest struct {
	CheckIn  string `json:"checkIn" binding:"required"`
	CheckOut string `json:"checkOut" binding:"required"`
	Guests   int    `json:"guests" binding:"required"`
}

func (h PropertyHandler) Quote(c *gin.Context) {
	var req stayRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody{Error: "ValidationError", Message: err.Error()})
		return
	}
	query := quoteapp.GetQuoteQuery{
		PropertyID: c.Param("id"),
		CheckIn:    req.CheckIn,
		CheckOut:   req.CheckOut,
		Guests:     req.Guests,
	}
	result, err := queries.Ask[quoteapp.GetQuoteQuery, dto.Quote](c.Request.Context(), h.Queries, query)
	if err != nil {
		handleError(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h PropertyHandler) Reserve(c *gin.Context) {
	var req stayRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody{Error: "ValidationError", Message: err.Error()})
		return
	}
	cmd := holdsapp.ReserveCommand{
		PropertyID:      c.Param("id"),
		CheckIn:         req.CheckIn,
		CheckOut:        req.CheckOut,
		Guests:          req.Guests,
		IdempotencyKeyV: c.GetHeader("Idempotency-Key"),
	}
	result, err := commands.Dispatch[holdsapp.ReserveCommand, *dto.Hold](c.Request.Context(), h.Commands, cmd)
	if err != nil {
		handleError(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

func (h PropertyHandler) Calendar(c *gin.Context) {
	from, to := c.Query("from"), c.Query("to")
	if from == "" {
		from = daterange.Day(time.Now()).Format(daterange.DayLayout)
	}
	if to == "" {
		if start, err := time.Parse(daterange.DayLayout, from); err == nil {
			to = start.AddDate(0, 0, defaultCalendarDays).Format(daterange.DayLayout)
		}
	}
	query := availabilityapp.GetCalendarQuery{PropertyID: c.Param("id"), From: from, To: to}
	result, err := queries.Ask[availabilityapp.GetCalendarQuery, dto.Calendar](c.Request.Context(), h.Queries, query)
	if err != nil {
		handleError(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

var _ PropertyHTTP = PropertyHandler{}
