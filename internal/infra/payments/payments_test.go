package payments

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	circuit "github.com/rubyist/circuitbreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainpayments "staybook/internal/domain/payments"
	"staybook/internal/domain/shared/money"
)

func TestHMACVerifier(t *testing.T) {
	v := NewHMACVerifier(map[string]string{"Stripe": "s3cr3t"})
	body := []byte(`{"eventId":"evt_1","type":"CAPTURED","bookingId":"b-1"}`)
	sig := SignHex("s3cr3t", body)

	assert.NoError(t, v.Verify("stripe", body, sig))
	assert.NoError(t, v.Verify("stripe", body, "sha256="+sig))
	assert.Error(t, v.Verify("stripe", append(body, ' '), sig))
	assert.Error(t, v.Verify("stripe", body, "not-hex"))
	assert.Error(t, v.Verify("stripe", body, ""))
	assert.ErrorIs(t, v.Verify("adyen", body, sig), domainpayments.ErrUnknownProvider)
}

func TestHTTPGatewaySendsReference(t *testing.T) {
	var got refundRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "r-1", r.Header.Get("Idempotency-Key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"id":"re_123"}`))
	}))
	defer srv.Close()

	gw, err := NewHTTPGateway(srv.URL, time.Second, 3, nil)
	require.NoError(t, err)
	ref, err := gw.Refund(context.Background(), "r-1", "b-1", money.Must(160, "AED"))
	require.NoError(t, err)
	assert.Equal(t, "re_123", ref)
	assert.Equal(t, int64(160), got.Amount)
	assert.Equal(t, "AED", got.Currency)
}

func TestHTTPGatewayBreakerOpensAfterFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	gw, err := NewHTTPGateway(url, time.Second, 2, nil)
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		_, err := gw.Refund(context.Background(), "r-1", "b-1", money.Must(10, "AED"))
		require.Error(t, err)
	}
	_, err = gw.Refund(context.Background(), "r-1", "b-1", money.Must(10, "AED"))
	assert.ErrorIs(t, err, circuit.ErrBreakerOpen)
}

func TestHTTPGatewayRejectsNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	gw, err := NewHTTPGateway(srv.URL, time.Second, 3, nil)
	require.NoError(t, err)
	_, err = gw.Refund(context.Background(), "r-1", "b-1", money.Must(10, "AED"))
	assert.ErrorIs(t, err, ErrProviderRejected)
}
