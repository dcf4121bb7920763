package gateways

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/risecheckout/payments-backend/pkg/config"
	"github.com/risecheckout/payments-backend/pkg/enums"
	pkgerrors "github.com/risecheckout/payments-backend/pkg/errors"
)

const mpTestSecret = "mp-webhook-secret"

func newTestMercadoPago(baseURL string) *MercadoPago {
	adapter := NewMercadoPago(config.MercadoPagoConfig{
		BaseURL:         baseURL,
		AccessToken:     "test-token",
		WebhookSecret:   mpTestSecret,
		Timeout:         2 * time.Second,
		SignatureMaxAge: 5 * time.Minute,
	}, nil)
	return adapter
}

func signMPManifest(dataID, requestID, ts string) string {
	manifest := fmt.Sprintf("id:%s;request-id:%s;ts:%s;", dataID, requestID, ts)
	mac := hmac.New(sha256.New, []byte(mpTestSecret))
	mac.Write([]byte(manifest))
	return hex.EncodeToString(mac.Sum(nil))
}

func mpWebhookHeaders(dataID, requestID string, ts time.Time) http.Header {
	tsStr := fmt.Sprintf("%d", ts.Unix())
	header := http.Header{}
	header.Set("x-request-id", requestID)
	header.Set("x-signature", fmt.Sprintf("ts=%s,v1=%s", tsStr, signMPManifest(dataID, requestID, tsStr)))
	return header
}

func TestMercadoPagoVerifyWebhookSuccess(t *testing.T) {
	adapter := newTestMercadoPago("http://unused")
	body := []byte(`{"action":"payment.updated","type":"payment","data":{"id":"12345"}}`)
	header := mpWebhookHeaders("12345", "req-1", time.Now())

	require.NoError(t, adapter.VerifyWebhook(header, body))
}

func TestMercadoPagoVerifyWebhookBadSignature(t *testing.T) {
	adapter := newTestMercadoPago("http://unused")
	body := []byte(`{"action":"payment.updated","type":"payment","data":{"id":"12345"}}`)
	header := http.Header{}
	header.Set("x-request-id", "req-1")
	header.Set("x-signature", fmt.Sprintf("ts=%d,v1=deadbeef", time.Now().Unix()))

	err := adapter.VerifyWebhook(header, body)
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeUnauthorized, pkgerrors.As(err).Code())
}

func TestMercadoPagoVerifyWebhookExpiredTimestamp(t *testing.T) {
	adapter := newTestMercadoPago("http://unused")
	body := []byte(`{"action":"payment.updated","type":"payment","data":{"id":"12345"}}`)
	header := mpWebhookHeaders("12345", "req-1", time.Now().Add(-time.Hour))

	err := adapter.VerifyWebhook(header, body)
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeUnauthorized, pkgerrors.As(err).Code())
}

func TestMercadoPagoVerifyWebhookMissingHeaders(t *testing.T) {
	adapter := newTestMercadoPago("http://unused")
	err := adapter.VerifyWebhook(http.Header{}, []byte(`{}`))
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeUnauthorized, pkgerrors.As(err).Code())
}

func TestMercadoPagoMapEventFetchesPayment(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/payments/12345", r.URL.Path)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":12345,"status":"approved","date_last_updated":"2026-02-01T10:00:00Z"}`)
	}))
	defer server.Close()

	adapter := newTestMercadoPago(server.URL)
	body := []byte(`{"action":"payment.updated","type":"payment","data":{"id":"12345"}}`)

	event, err := adapter.MapEvent(context.Background(), http.Header{}, body)
	require.NoError(t, err)
	assert.Equal(t, enums.GatewayMercadoPago, event.Gateway)
	assert.Equal(t, "12345", event.ChargeID)
	assert.Equal(t, "payment.updated:approved", event.EventType)
	assert.Equal(t, enums.BusinessStatusPaid, event.BusinessStatus)
	assert.Equal(t, "approved", event.TechnicalStatus)
	assert.Equal(t, 2026, event.OccurredAt.Year())
}

func TestMercadoPagoMapEventRetriesNotFound(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":777,"status":"pending"}`)
	}))
	defer server.Close()

	adapter := newTestMercadoPago(server.URL)
	body := []byte(`{"action":"payment.created","type":"payment","data":{"id":"777"}}`)

	event, err := adapter.MapEvent(context.Background(), http.Header{}, body)
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
	assert.Equal(t, enums.BusinessStatusUnchanged, event.BusinessStatus)
	assert.Equal(t, "pending", event.TechnicalStatus)
}

func TestMercadoPagoMapEventMalformedBody(t *testing.T) {
	adapter := newTestMercadoPago("http://unused")
	_, err := adapter.MapEvent(context.Background(), http.Header{}, []byte(`{"data":{}}`))
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.As(err).Code())
}

func TestMercadoPagoCreateCharge(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/payments", r.URL.Path)
		assert.Equal(t, "order-token-1", r.Header.Get("X-Idempotency-Key"))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":555,"status":"pending","point_of_interaction":{"transaction_data":{"qr_code":"pix-code","qr_code_base64":"cGl4"}}}`)
	}))
	defer server.Close()

	adapter := newTestMercadoPago(server.URL)
	charge, err := adapter.CreateCharge(context.Background(), ChargeRequest{
		OrderID:        "order-1",
		AmountCents:    10000,
		Currency:       "BRL",
		PaymentMethod:  enums.PaymentMethodPix,
		CustomerEmail:  "buyer@example.com",
		IdempotencyKey: "order-token-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "555", charge.GatewayChargeID)
	assert.Equal(t, "pending", charge.RawStatus)
	assert.Contains(t, string(charge.ProviderPayload), "pix-code")
}

func TestMercadoPagoCreateChargeGatewayDown(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	adapter := newTestMercadoPago(server.URL)
	_, err := adapter.CreateCharge(context.Background(), ChargeRequest{
		PaymentMethod: enums.PaymentMethodPix,
	})
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeDependency, pkgerrors.As(err).Code())
}

func TestMercadoPagoCreateChargeRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"message":"invalid payer"}`)
	}))
	defer server.Close()

	adapter := newTestMercadoPago(server.URL)
	_, err := adapter.CreateCharge(context.Background(), ChargeRequest{
		PaymentMethod: enums.PaymentMethodPix,
	})
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeGatewayRejected, pkgerrors.As(err).Code())
}

func TestCentsToAmountIsExact(t *testing.T) {
	cases := []struct {
		cents    int64
		expected float64
	}{
		{0, 0},
		{1, 0.01},
		{1999, 19.99},
		{10000, 100},
		{1234567, 12345.67},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.expected, centsToAmount(tc.cents), "cents=%d", tc.cents)
	}
}

func TestMapMercadoPagoStatusTable(t *testing.T) {
	cases := []struct {
		raw      string
		expected enums.BusinessStatus
	}{
		{"approved", enums.BusinessStatusPaid},
		{"pending", enums.BusinessStatusUnchanged},
		{"in_process", enums.BusinessStatusUnchanged},
		{"in_mediation", enums.BusinessStatusUnchanged},
		{"rejected", enums.BusinessStatusUnchanged},
		{"cancelled", enums.BusinessStatusUnchanged},
		{"expired", enums.BusinessStatusUnchanged},
		{"refunded", enums.BusinessStatusRefunded},
		{"charged_back", enums.BusinessStatusChargedBack},
		{"some_future_status", enums.BusinessStatusUnchanged},
	}
	for _, tc := range cases {
		business, technical := mapMercadoPagoStatus(tc.raw)
		assert.Equal(t, tc.expected, business, tc.raw)
		assert.Equal(t, tc.raw, technical)
	}
}
