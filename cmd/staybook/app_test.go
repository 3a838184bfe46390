package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"staybook/internal/app/clock"
	"staybook/internal/app/commands"
	"staybook/internal/app/dto"
	availabilityapp "staybook/internal/app/handlers/availability"
	bookingapp "staybook/internal/app/handlers/booking"
	cancellationapp "staybook/internal/app/handlers/cancellation"
	holdsapp "staybook/internal/app/handlers/holds"
	paymentsapp "staybook/internal/app/handlers/payments"
	quoteapp "staybook/internal/app/handlers/quote"
	"staybook/internal/app/handlers/support"
	"staybook/internal/app/queries"
	domainavailability "staybook/internal/domain/availability"
	domainbooking "staybook/internal/domain/booking"
	domainholds "staybook/internal/domain/holds"
	domainpayments "staybook/internal/domain/payments"
	"staybook/internal/domain/shared/daterange"
	"staybook/internal/infra/config"
	ginserver "staybook/internal/infra/http/gin"
	"staybook/internal/infra/obs"
	"staybook/internal/infra/payments"
)

const webhookSecret = "whsec_test"

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const fixtureJSON = `[
  {
    "id": "villa-1",
    "host": "host-1",
    "title": "Marina loft",
    "guests_limit": 4,
    "min_nights": 1,
    "max_nights": 30,
    "nightly_rate": 100,
    "cleaning_fee": 20,
    "currency": "AED",
    "cancellation_policy_id": "flexible",
    "blocked": [{"id": "owner-1", "from": "2025-07-10", "to": "2025-07-12"}]
  }
]`

type testApp struct {
	*application
	clock *clock.Manual
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	fixtures := filepath.Join(t.TempDir(), "properties.json")
	require.NoError(t, os.WriteFile(fixtures, []byte(fixtureJSON), 0o600))

	cfg := config.Config{
		Env:                    "test",
		Storage:                config.StorageMemory,
		IdempotencyTTL:         time.Hour,
		HoldTTL:                15 * time.Minute,
		ReaperBatch:            100,
		RetryBackoff:           []time.Duration{10 * time.Millisecond},
		RefundMaxAttempts:      3,
		RefundDispatcher:       config.DispatcherInline,
		WebhookSecrets:         map[string]string{"stripe": webhookSecret},
		WebhookSignatureHeader: "X-Signature",
		ReturnResultURL:        "/booking/result",
		CancellationPolicies:   config.DefaultPolicies(),
		DefaultPolicy:          "flexible",
	}
	clk := clock.NewManual(time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC))
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	app, err := buildApplication(context.Background(), cfg, logger, clk)
	require.NoError(t, err)
	t.Cleanup(app.Close)
	require.NoError(t, app.loadFixtures(context.Background(), fixtures))
	return &testApp{application: app, clock: clk}
}

func (a *testApp) reserve(t *testing.T, in, out, key string) (*dto.Hold, error) {
	t.Helper()
	cmd := holdsapp.ReserveCommand{PropertyID: "villa-1", CheckIn: in, CheckOut: out, Guests: 2, IdempotencyKeyV: key}
	return commands.Dispatch[holdsapp.ReserveCommand, *dto.Hold](context.Background(), a.commands, cmd)
}

func (a *testApp) book(t *testing.T, holdID string) (*dto.Booking, error) {
	t.Helper()
	cmd := bookingapp.CreateFromHoldCommand{HoldID: holdID, CustomerID: "guest-1"}
	return commands.Dispatch[bookingapp.CreateFromHoldCommand, *dto.Booking](context.Background(), a.commands, cmd)
}

func (a *testApp) webhook(t *testing.T, eventID, eventType, bookingID string) (*paymentsapp.WebhookResult, error) {
	t.Helper()
	body, err := json.Marshal(paymentsapp.Envelope{EventID: eventID, Type: eventType, BookingID: bookingID})
	require.NoError(t, err)
	cmd := paymentsapp.HandleWebhookCommand{Provider: "stripe", Payload: body, Signature: payments.SignHex(webhookSecret, body)}
	return paymentsapp.Process(context.Background(), a.commands, a.metrics, cmd)
}

func (a *testApp) calendar(t *testing.T, from, to string) map[string]string {
	t.Helper()
	cal, err := queries.Ask[availabilityapp.GetCalendarQuery, dto.Calendar](context.Background(), a.queries, availabilityapp.GetCalendarQuery{PropertyID: "villa-1", From: from, To: to})
	require.NoError(t, err)
	out := make(map[string]string, len(cal.Days))
	for _, d := range cal.Days {
		out[d.Date] = d.Status
	}
	return out
}

func TestReserveConflictAndHoldExpiry(t *testing.T) {
	app := newTestApp(t)

	quote, err := queries.Ask[quoteapp.GetQuoteQuery, dto.Quote](context.Background(), app.queries, quoteapp.GetQuoteQuery{PropertyID: "villa-1", CheckIn: "2025-06-01", CheckOut: "2025-06-04", Guests: 2})
	require.NoError(t, err)
	assert.Equal(t, dto.Quote{Nights: 3, NightlyRate: 100, NightlyTotal: 300, CleaningFee: 20, Total: 320, Currency: "AED"}, quote)

	hold, err := app.reserve(t, "2025-06-01", "2025-06-04", "")
	require.NoError(t, err)
	assert.Equal(t, int64(320), hold.Quote.Total)
	assert.Equal(t, string(domainholds.StatusActive), hold.Status)

	_, err = app.reserve(t, "2025-06-02", "2025-06-03", "")
	var conflict *domainavailability.ConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, []string{"2025-06-02"}, conflict.ConflictingDates())

	app.clock.Advance(16 * time.Minute)
	_, err = app.book(t, hold.HoldID)
	assert.ErrorIs(t, err, domainholds.ErrHoldExpired)
}

func TestReserveReplaysIdempotencyKey(t *testing.T) {
	app := newTestApp(t)

	first, err := app.reserve(t, "2025-06-01", "2025-06-04", "key-1")
	require.NoError(t, err)
	second, err := app.reserve(t, "2025-06-01", "2025-06-04", "key-1")
	require.NoError(t, err)
	assert.Equal(t, first.HoldID, second.HoldID)
}

func TestReapersReleaseInventory(t *testing.T) {
	app := newTestApp(t)

	stale, err := app.reserve(t, "2025-06-01", "2025-06-04", "")
	require.NoError(t, err)
	pending, err := app.reserve(t, "2025-06-10", "2025-06-12", "")
	require.NoError(t, err)
	booking, err := app.book(t, pending.HoldID)
	require.NoError(t, err)
	assert.Equal(t, "BOOKED", app.calendar(t, "2025-06-10", "2025-06-12")["2025-06-10"])

	app.clock.Advance(16 * time.Minute)
	require.NoError(t, app.expireHolds(context.Background()))
	require.NoError(t, app.expireBookings(context.Background()))

	for _, status := range app.calendar(t, "2025-06-01", "2025-06-12") {
		assert.Equal(t, "AVAILABLE", status)
	}
	got, err := queries.Ask[bookingapp.GetBookingQuery, dto.Booking](context.Background(), app.queries, bookingapp.GetBookingQuery{BookingID: booking.ID})
	require.NoError(t, err)
	assert.Equal(t, "EXPIRED", got.Status)
	assert.Nil(t, got.ExpiresAt)

	_, err = app.book(t, stale.HoldID)
	assert.ErrorIs(t, err, domainholds.ErrHoldExpired)
}

func TestWebhookAppliesOnce(t *testing.T) {
	app := newTestApp(t)

	hold, err := app.reserve(t, "2025-06-01", "2025-06-04", "")
	require.NoError(t, err)
	booking, err := app.book(t, hold.HoldID)
	require.NoError(t, err)
	assert.Equal(t, "PENDING_PAYMENT", booking.Status)

	res, err := app.webhook(t, "evt_1", "captured", booking.ID)
	require.NoError(t, err)
	assert.Equal(t, paymentsapp.ResultApplied, res.Result)
	assert.Equal(t, "CONFIRMED", res.Status)
	assert.True(t, res.Changed)

	res, err = app.webhook(t, "evt_1", "captured", booking.ID)
	require.NoError(t, err)
	assert.Equal(t, paymentsapp.ResultDuplicate, res.Result)

	res, err = app.webhook(t, "evt_2", "authorized", booking.ID)
	require.NoError(t, err)
	assert.False(t, res.Changed)

	unit, ctx, cleanup, err := support.BeginReadOnlyUnit(context.Background(), app.factory)
	require.NoError(t, err)
	defer cleanup()
	events, err := unit.PaymentEvents().ListByBooking(ctx, domainbooking.BookingID(booking.ID))
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestWebhookFailureReleasesNights(t *testing.T) {
	app := newTestApp(t)

	hold, err := app.reserve(t, "2025-06-01", "2025-06-04", "")
	require.NoError(t, err)
	booking, err := app.book(t, hold.HoldID)
	require.NoError(t, err)

	res, err := app.webhook(t, "evt_fail", "FAILED", booking.ID)
	require.NoError(t, err)
	assert.Equal(t, "EXPIRED", res.Status)
	assert.Equal(t, "AVAILABLE", app.calendar(t, "2025-06-01", "2025-06-04")["2025-06-02"])

	res, err = app.webhook(t, "evt_late", "CAPTURED", booking.ID)
	require.NoError(t, err)
	assert.False(t, res.Changed)
	assert.Equal(t, "EXPIRED", res.Status)
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	app := newTestApp(t)
	body := []byte(`{"eventId":"evt_1","type":"CAPTURED","bookingId":"b-1"}`)

	_, err := paymentsapp.Process(context.Background(), app.commands, app.metrics, paymentsapp.HandleWebhookCommand{Provider: "stripe", Payload: body, Signature: "00ff"})
	assert.ErrorIs(t, err, domainpayments.ErrSignatureInvalid)
}

func TestCancelRefundsAndFreesNights(t *testing.T) {
	app := newTestApp(t)

	hold, err := app.reserve(t, "2025-06-01", "2025-06-04", "")
	require.NoError(t, err)
	booking, err := app.book(t, hold.HoldID)
	require.NoError(t, err)
	_, err = app.webhook(t, "evt_1", "CAPTURED", booking.ID)
	require.NoError(t, err)

	cmd := cancellationapp.CancelBookingCommand{BookingID: booking.ID, Reason: "plans changed"}
	res, err := commands.Dispatch[cancellationapp.CancelBookingCommand, *dto.Cancellation](context.Background(), app.commands, cmd)
	require.NoError(t, err)
	assert.Equal(t, "REFUNDED", res.Status)
	assert.Equal(t, int64(320), res.Refund.Amount)
	assert.Equal(t, 100, res.Percent)
	assert.Equal(t, "AVAILABLE", app.calendar(t, "2025-06-01", "2025-06-04")["2025-06-01"])

	require.Eventually(t, func() bool {
		unit, ctx, cleanup, err := support.BeginReadOnlyUnit(context.Background(), app.factory)
		if err != nil {
			return false
		}
		defer cleanup()
		attempts, err := unit.Refunds().Attempts(ctx, res.RefundID)
		return err == nil && len(attempts) == 1 && attempts[0].Outcome == domainpayments.AttemptSucceeded
	}, 2*time.Second, 10*time.Millisecond)

	_, err = commands.Dispatch[cancellationapp.CancelBookingCommand, *dto.Cancellation](context.Background(), app.commands, cmd)
	assert.Error(t, err)
}

func TestBlockedFixtureDatesAreUnavailable(t *testing.T) {
	app := newTestApp(t)

	assert.Equal(t, "BLOCKED", app.calendar(t, "2025-07-10", "2025-07-12")["2025-07-11"])
	_, err := app.reserve(t, "2025-07-09", "2025-07-11", "")
	var conflict *domainavailability.ConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, []string{"2025-07-10"}, conflict.ConflictingDates())
}

func TestHTTPBookingFlow(t *testing.T) {
	app := newTestApp(t)
	router := ginserver.NewRouter(app.cfg, obs.Middleware{Logger: app.logger, Metrics: app.metrics}, obs.HealthHandlers{Checks: app.checks}, app.httpHandlers())

	do := func(method, path string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}
	stay := []byte(`{"checkIn":"2025-06-01","checkOut":"2025-06-04","guests":2}`)

	rec := do(http.MethodPost, "/api/v1/properties/villa-1/quote", stay, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var quote dto.Quote
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &quote))
	assert.Equal(t, int64(320), quote.Total)

	rec = do(http.MethodPost, "/api/v1/properties/villa-1/reserve", stay, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	var hold dto.Hold
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &hold))

	rec = do(http.MethodPost, "/api/v1/properties/villa-1/reserve", []byte(`{"checkIn":"2025-06-02","checkOut":"2025-06-03","guests":2}`), nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.JSONEq(t, `{"error":"Conflict","message":"dates unavailable","conflictingDates":["2025-06-02"]}`, rec.Body.String())

	rec = do(http.MethodPost, "/api/v1/bookings", []byte(`{"holdId":"`+hold.HoldID+`"}`), nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(http.MethodPost, "/api/v1/bookings", []byte(`{"holdId":"`+hold.HoldID+`"}`), map[string]string{"X-Customer-ID": "guest-1"})
	require.Equal(t, http.StatusCreated, rec.Code)
	var created struct {
		Booking dto.Booking `json:"booking"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "PENDING_PAYMENT", created.Booking.Status)
	assert.NotNil(t, created.Booking.ExpiresAt)

	rec = do(http.MethodPost, "/api/v1/bookings", []byte(`{"holdId":"`+hold.HoldID+`"}`), map[string]string{"X-Customer-ID": "guest-1"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	event := []byte(`{"eventId":"evt_http","type":"CAPTURED","bookingId":"` + created.Booking.ID + `"}`)
	rec = do(http.MethodPost, "/api/v1/payments/webhook/stripe", event, map[string]string{"X-Signature": "deadbeef"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	for _, want := range []string{paymentsapp.ResultApplied, paymentsapp.ResultDuplicate} {
		rec = do(http.MethodPost, "/api/v1/payments/webhook/stripe", event, map[string]string{"X-Signature": "sha256=" + payments.SignHex(webhookSecret, event)})
		require.Equal(t, http.StatusOK, rec.Code)
		var res paymentsapp.WebhookResult
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
		assert.Equal(t, want, res.Result)
	}

	rec = do(http.MethodGet, "/api/v1/bookings/"+created.Booking.ID, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"CONFIRMED"`)

	for _, param := range []string{"bookingId", "booking_id"} {
		rec = do(http.MethodGet, "/api/v1/payments/return/stripe?"+param+"="+created.Booking.ID, nil, nil)
		assert.Equal(t, http.StatusFound, rec.Code)
		assert.Contains(t, rec.Header().Get("Location"), "status=CONFIRMED", param)
	}

	rec = do(http.MethodGet, "/api/v1/properties/villa-1/calendar?from=1000-01-01&to=9999-12-31", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(http.MethodGet, "/api/v1/bookings/missing", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "staybook_")
}

func TestCalendarRejectsUnboundedWindow(t *testing.T) {
	app := newTestApp(t)

	_, err := queries.Ask[availabilityapp.GetCalendarQuery, dto.Calendar](context.Background(), app.queries,
		availabilityapp.GetCalendarQuery{PropertyID: "villa-1", From: "1000-01-01", To: "9999-12-31"})
	assert.ErrorIs(t, err, daterange.ErrRangeTooLong)

	assert.Len(t, app.calendar(t, "2025-01-01", "2026-01-02"), daterange.MaxNights)
}

func TestConcurrentReservesClaimNightsOnce(t *testing.T) {
	app := newTestApp(t)
	const guests = 8

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		won      []*dto.Hold
		conflict int
		other    []error
	)
	for i := 0; i < guests; i++ {
		i := i // per-iteration copy; go.mod targets go1.21 loop semantics
		wg.Add(1)
		go func() {
			defer wg.Done()
			// Every other request overlaps the first one by a single night.
			in, out := "2025-06-01", "2025-06-04"
			if i%2 == 1 {
				in, out = "2025-06-03", "2025-06-05"
			}
			hold, err := app.reserve(t, in, out, "")
			mu.Lock()
			defer mu.Unlock()
			var ce *domainavailability.ConflictError
			switch {
			case err == nil:
				won = append(won, hold)
			case errors.As(err, &ce):
				conflict++
			default:
				other = append(other, err)
			}
		}()
	}
	wg.Wait()

	require.Empty(t, other)
	require.Len(t, won, 1)
	assert.Equal(t, guests-1, conflict)

	days := app.calendar(t, won[0].CheckIn, won[0].CheckOut)
	for day, status := range days {
		assert.Equal(t, "HOLD", status, day)
	}
	held := 0
	for _, status := range app.calendar(t, "2025-06-01", "2025-06-05") {
		if status == "HOLD" {
			held++
		}
	}
	assert.Equal(t, len(days), held)
}

func TestBookingRacesHoldReaperAtExpiry(t *testing.T) {
	app := newTestApp(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		checkIn := time.Date(2025, 6, 1+2*i, 0, 0, 0, 0, time.UTC)
		in, out := checkIn.Format(daterange.DayLayout), checkIn.AddDate(0, 0, 1).Format(daterange.DayLayout)
		hold, err := app.reserve(t, in, out, "")
		require.NoError(t, err)
		app.clock.Set(hold.ExpiresAt)

		var (
			wg      sync.WaitGroup
			booked  *dto.Booking
			bookErr error
			reaped  *holdsapp.ExpireHoldsResult
			reapErr error
		)
		wg.Add(2)
		go func() {
			defer wg.Done()
			booked, bookErr = app.book(t, hold.HoldID)
		}()
		go func() {
			defer wg.Done()
			reaped, reapErr = commands.Dispatch[holdsapp.ExpireHoldsCommand, *holdsapp.ExpireHoldsResult](ctx, app.commands, holdsapp.ExpireHoldsCommand{})
		}()
		wg.Wait()

		require.NoError(t, reapErr)
		status := app.calendar(t, in, out)[in]
		if bookErr == nil {
			assert.Equal(t, 0, reaped.Expired)
			assert.Equal(t, "PENDING_PAYMENT", booked.Status)
			assert.Equal(t, "BOOKED", status)
			continue
		}
		assert.True(t, errors.Is(bookErr, domainholds.ErrHoldExpired) || errors.Is(bookErr, domainholds.ErrHoldNotActive), bookErr)
		assert.Equal(t, 1, reaped.Expired)
		assert.Equal(t, "AVAILABLE", status)
	}
}

func TestConcurrentWebhookDeliveriesApplyOnce(t *testing.T) {
	app := newTestApp(t)
	ctx := context.Background()

	hold, err := app.reserve(t, "2025-06-01", "2025-06-04", "")
	require.NoError(t, err)
	booking, err := app.book(t, hold.HoldID)
	require.NoError(t, err)

	body, err := json.Marshal(paymentsapp.Envelope{EventID: "evt_storm", Type: "CAPTURED", BookingID: booking.ID})
	require.NoError(t, err)
	cmd := paymentsapp.HandleWebhookCommand{Provider: "stripe", Payload: body, Signature: payments.SignHex(webhookSecret, body)}

	const deliveries = 8
	results := make([]*paymentsapp.WebhookResult, deliveries)
	errs := make([]error, deliveries)
	var wg sync.WaitGroup
	for i := range results {
		i := i // per-iteration copy; go.mod targets go1.21 loop semantics
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = paymentsapp.Process(ctx, app.commands, app.metrics, cmd)
		}()
	}
	wg.Wait()

	applied, changed := 0, 0
	for i, res := range results {
		require.NoError(t, errs[i])
		if res.Result == paymentsapp.ResultApplied {
			applied++
		} else {
			assert.Equal(t, paymentsapp.ResultDuplicate, res.Result)
		}
		if res.Changed {
			changed++
		}
	}
	assert.Equal(t, 1, applied)
	assert.Equal(t, 1, changed)

	unit, uctx, cleanup, err := support.BeginReadOnlyUnit(ctx, app.factory)
	require.NoError(t, err)
	defer cleanup()
	logged, err := unit.PaymentEvents().ListByBooking(uctx, domainbooking.BookingID(booking.ID))
	require.NoError(t, err)
	assert.Len(t, logged, 1)
	stored, err := unit.Bookings().ByID(uctx, domainbooking.BookingID(booking.ID))
	require.NoError(t, err)
	assert.Equal(t, domainbooking.StatusConfirmed, stored.Status)
}
