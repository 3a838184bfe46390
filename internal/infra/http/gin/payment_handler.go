package ginserver

import (
	"io"
	"log/slog"
	"net/http"
	"net/url"

	gin "github.com/gin-gonic/gin"

	"staybook/internal/app/commands"
	paymentsapp "staybook/internal/app/handlers/payments"
	"staybook/internal/app/policies"
	"staybook/internal/app/queries"
)

const maxWebhookBytes = 1 << 20

// PaymentHandler receives provider webhooks and the browser return redirect.
type PaymentHandler struct {
	Commands        commands.Bus
	Queries         queries.Bus
	Metrics         policies.Metrics
	SignatureHeader string
	ReturnURL       string
	Logger          *slog.Logger
}

func (h PaymentHandler) Webhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorBody{Error: "MalformedWebhook", Message: err.Error()})
		return
	}
	cmd := paymentsapp.HandleWebhookCommand{
		Provider:  c.Param("provider"),
		Payload:   body,
		Signature: c.GetHeader(h.signatureHeader()),
	}
	result, err := paymentsapp.Process(c.Request.Context(), h.Commands, h.Metrics, cmd)
	if err != nil {
		handleError(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// Return reads the booking state and redirects the guest to the result page.
// It never changes state; only webhooks confirm payment.
func (h PaymentHandler) Return(c *gin.Context) {
	bookingID := c.Query("bookingId")
	if bookingID == "" {
		bookingID = c.Query("booking_id")
	}
	query := paymentsapp.ReturnStatusQuery{Provider: c.Param("provider"), BookingID: bookingID}
	status, err := queries.Ask[paymentsapp.ReturnStatusQuery, paymentsapp.ReturnStatus](c.Request.Context(), h.Queries, query)
	if err != nil {
		h.logger().Warn("return status lookup failed", "booking_id", query.BookingID, "error", err)
		status = paymentsapp.ReturnStatus{BookingID: query.BookingID, Status: paymentsapp.StatusUnknown}
	}
	c.Redirect(http.StatusFound, h.resultURL(status))
}

func (h PaymentHandler) resultURL(status paymentsapp.ReturnStatus) string {
	base := h.ReturnURL
	if base == "" {
		base = "/booking/result"
	}
	u, err := url.Parse(base)
	if err != nil {
		u = &url.URL{Path: "/booking/result"}
	}
	q := u.Query()
	q.Set("bookingId", status.BookingID)
	q.Set("status", status.Status)
	u.RawQuery = q.Encode()
	return u.String()
}

func (h PaymentHandler) signatureHeader() string {
	if h.SignatureHeader != "" {
		return h.SignatureHeader
	}
	return "X-Signature"
}

func (h PaymentHandler) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

var _ PaymentHTTP = PaymentHandler{}
