package gateways

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/risecheckout/payments-backend/pkg/config"
	"github.com/risecheckout/payments-backend/pkg/enums"
	pkgerrors "github.com/risecheckout/payments-backend/pkg/errors"
	"github.com/risecheckout/payments-backend/pkg/logger"
)

// MercadoPago payment statuses.
const (
	mpStatusApproved    = "approved"
	mpStatusPending     = "pending"
	mpStatusInProcess   = "in_process"
	mpStatusInMediation = "in_mediation"
	mpStatusRejected    = "rejected"
	mpStatusCancelled   = "cancelled"
	mpStatusExpired     = "expired"
	mpStatusRefunded    = "refunded"
	mpStatusChargedBack = "charged_back"
)

type MercadoPago struct {
	cfg        config.MercadoPagoConfig
	httpClient *http.Client
	logg       *logger.Logger
	now        func() time.Time
}

func NewMercadoPago(cfg config.MercadoPagoConfig, logg *logger.Logger) *MercadoPago {
	return &MercadoPago{
		cfg:        cfg,
		httpClient: newHTTPClient(cfg.Timeout),
		logg:       logg,
		now:        time.Now,
	}
}

func (m *MercadoPago) Gateway() enums.Gateway {
	return enums.GatewayMercadoPago
}

type mpPaymentResponse struct {
	ID                 json.Number `json:"id"`
	Status             string      `json:"status"`
	DateApproved       string      `json:"date_approved"`
	DateLastUpdated    string      `json:"date_last_updated"`
	PointOfInteraction struct {
		TransactionData struct {
			QRCode       string `json:"qr_code"`
			QRCodeBase64 string `json:"qr_code_base64"`
			TicketURL    string `json:"ticket_url"`
		} `json:"transaction_data"`
	} `json:"point_of_interaction"`
}

func (m *MercadoPago) CreateCharge(ctx context.Context, req ChargeRequest) (*Charge, error) {
	methodID, ok := mpPaymentMethodIDs[req.PaymentMethod]
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("payment method %q not supported by mercadopago", req.PaymentMethod))
	}

	body := map[string]any{
		"transaction_amount": centsToAmount(req.AmountCents),
		"payment_method_id":  methodID,
		"description":        req.Description,
		"external_reference": req.OrderID,
		"payer": map[string]any{
			"email":      req.CustomerEmail,
			"first_name": req.CustomerName,
		},
	}
	headers := map[string]string{
		"Authorization":     "Bearer " + m.cfg.AccessToken,
		"X-Idempotency-Key": req.IdempotencyKey,
	}

	var resp mpPaymentResponse
	if err := doJSON(ctx, m.httpClient, http.MethodPost, buildURL(m.cfg.BaseURL, "/v1/payments"), headers, body, &resp); err != nil {
		return nil, err
	}
	if resp.ID.String() == "" {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "mercadopago returned payment without id")
	}

	payload, err := json.Marshal(map[string]string{
		"qr_code":        resp.PointOfInteraction.TransactionData.QRCode,
		"qr_code_base64": resp.PointOfInteraction.TransactionData.QRCodeBase64,
		"ticket_url":     resp.PointOfInteraction.TransactionData.TicketURL,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "marshal provider payload")
	}

	return &Charge{
		GatewayChargeID: resp.ID.String(),
		RawStatus:       resp.Status,
		ProviderPayload: payload,
	}, nil
}

func (m *MercadoPago) FetchStatus(ctx context.Context, chargeID string) (*Event, error) {
	resp, err := m.fetchPayment(ctx, chargeID)
	if err != nil {
		return nil, err
	}
	return m.eventFromPayment("payment.fetched", resp), nil
}

func (m *MercadoPago) fetchPayment(ctx context.Context, chargeID string) (*mpPaymentResponse, error) {
	headers := map[string]string{"Authorization": "Bearer " + m.cfg.AccessToken}
	var resp mpPaymentResponse
	err := doJSON(ctx, m.httpClient, http.MethodGet, buildURL(m.cfg.BaseURL, "/v1/payments/"+chargeID), headers, nil, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// fetchPaymentWithRetry retries 404s a few times. A payment referenced by a
// webhook can lag behind on the query API right after the notification fires.
func (m *MercadoPago) fetchPaymentWithRetry(ctx context.Context, chargeID string) (*mpPaymentResponse, error) {
	delay := statusNotFoundRetryDelay
	var lastErr error
	for attempt := 0; attempt < statusNotFoundMaxAttempts; attempt++ {
		resp, err := m.fetchPayment(ctx, chargeID)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !isNotFound(err) {
			return nil, err
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, ctx.Err(), "mercadopago fetch canceled")
		case <-timer.C:
		}
		delay *= 2
	}
	return nil, lastErr
}

func (m *MercadoPago) eventFromPayment(action string, payment *mpPaymentResponse) *Event {
	business, technical := mapMercadoPagoStatus(payment.Status)
	occurred := m.now()
	if ts := parseMPTime(payment.DateLastUpdated); !ts.IsZero() {
		occurred = ts
	}
	return &Event{
		Gateway:         enums.GatewayMercadoPago,
		ChargeID:        payment.ID.String(),
		EventType:       action + ":" + payment.Status,
		RawStatus:       payment.Status,
		BusinessStatus:  business,
		TechnicalStatus: technical,
		OccurredAt:      occurred,
	}
}

// VerifyWebhook checks the x-signature HMAC. MercadoPago signs the manifest
// `id:<data.id>;request-id:<x-request-id>;ts:<ts>;` with the webhook secret.
func (m *MercadoPago) VerifyWebhook(header http.Header, body []byte) error {
	signature := header.Get("x-signature")
	requestID := header.Get("x-request-id")
	if signature == "" || requestID == "" {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "missing webhook signature headers")
	}

	ts, v1 := parseMPSignature(signature)
	if ts == "" || v1 == "" {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "malformed x-signature header")
	}

	if m.cfg.SignatureMaxAge > 0 {
		tsSeconds, err := strconv.ParseInt(ts, 10, 64)
		if err != nil {
			return pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid signature timestamp")
		}
		age := m.now().Sub(time.Unix(tsSeconds, 0))
		if age > m.cfg.SignatureMaxAge || age < -m.cfg.SignatureMaxAge {
			return pkgerrors.New(pkgerrors.CodeUnauthorized, "webhook signature expired")
		}
	}

	dataID, _, err := parseMPNotification(body)
	if err != nil {
		return err
	}

	manifest := fmt.Sprintf("id:%s;request-id:%s;ts:%s;", strings.ToLower(dataID), requestID, ts)
	mac := hmac.New(sha256.New, []byte(m.cfg.WebhookSecret))
	mac.Write([]byte(manifest))
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(v1)) {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "webhook signature mismatch")
	}
	return nil
}

// MapEvent resolves the notification into a normalized event. MercadoPago
// webhooks only carry the payment id, so the current status comes from a
// follow-up fetch.
func (m *MercadoPago) MapEvent(ctx context.Context, header http.Header, body []byte) (*Event, error) {
	dataID, action, err := parseMPNotification(body)
	if err != nil {
		return nil, err
	}
	if action == "" {
		action = "payment.updated"
	}

	payment, err := m.fetchPaymentWithRetry(ctx, dataID)
	if err != nil {
		return nil, err
	}
	return m.eventFromPayment(action, payment), nil
}

func parseMPNotification(body []byte) (dataID, action string, err error) {
	var notification struct {
		Action string `json:"action"`
		Type   string `json:"type"`
		Data   struct {
			ID json.Number `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &notification); err != nil {
		return "", "", pkgerrors.Wrap(pkgerrors.CodeValidation, err, "malformed webhook payload")
	}
	if notification.Data.ID.String() == "" {
		return "", "", pkgerrors.New(pkgerrors.CodeValidation, "webhook payload missing data.id")
	}
	return notification.Data.ID.String(), notification.Action, nil
}

func parseMPSignature(signature string) (ts, v1 string) {
	for _, part := range strings.Split(signature, ",") {
		key, value, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			continue
		}
		switch strings.TrimSpace(key) {
		case "ts":
			ts = strings.TrimSpace(value)
		case "v1":
			v1 = strings.TrimSpace(value)
		}
	}
	return ts, v1
}

func mapMercadoPagoStatus(status string) (enums.BusinessStatus, string) {
	switch status {
	case mpStatusApproved:
		return enums.BusinessStatusPaid, status
	case mpStatusRefunded:
		return enums.BusinessStatusRefunded, status
	case mpStatusChargedBack:
		return enums.BusinessStatusChargedBack, status
	case mpStatusPending, mpStatusInProcess, mpStatusInMediation:
		return enums.BusinessStatusUnchanged, status
	case mpStatusRejected, mpStatusCancelled, mpStatusExpired:
		// Negative provider signals never cancel the order; the buyer can
		// still retry payment on the same order.
		return enums.BusinessStatusUnchanged, status
	default:
		return enums.BusinessStatusUnchanged, status
	}
}

var mpPaymentMethodIDs = map[enums.PaymentMethod]string{
	enums.PaymentMethodPix:        "pix",
	enums.PaymentMethodBoleto:     "bolbradesco",
	enums.PaymentMethodCreditCard: "credit_card",
}

func parseMPTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	ts, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}
	}
	return ts
}

var oneHundred = decimal.NewFromInt(100)

// centsToAmount converts integer cents into the decimal-major unit the
// provider APIs expect, going through decimal so the division is exact.
func centsToAmount(cents int64) float64 {
	amount, _ := decimal.NewFromInt(cents).Div(oneHundred).Float64()
	return amount
}
