package gateways

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/risecheckout/payments-backend/pkg/config"
	"github.com/risecheckout/payments-backend/pkg/enums"
	pkgerrors "github.com/risecheckout/payments-backend/pkg/errors"
	"github.com/risecheckout/payments-backend/pkg/logger"
)

// Asaas webhook event names.
const (
	asaasEventConfirmed           = "PAYMENT_CONFIRMED"
	asaasEventReceived            = "PAYMENT_RECEIVED"
	asaasEventRefunded            = "PAYMENT_REFUNDED"
	asaasEventChargebackRequested = "PAYMENT_CHARGEBACK_REQUESTED"
)

type Asaas struct {
	cfg        config.AsaasConfig
	httpClient *http.Client
	logg       *logger.Logger
	now        func() time.Time
}

func NewAsaas(cfg config.AsaasConfig, logg *logger.Logger) *Asaas {
	return &Asaas{
		cfg:        cfg,
		httpClient: newHTTPClient(cfg.Timeout),
		logg:       logg,
		now:        time.Now,
	}
}

func (a *Asaas) Gateway() enums.Gateway {
	return enums.GatewayAsaas
}

func (a *Asaas) authHeaders() map[string]string {
	return map[string]string{"access_token": a.cfg.APIKey}
}

var asaasBillingTypes = map[enums.PaymentMethod]string{
	enums.PaymentMethodPix:        "PIX",
	enums.PaymentMethodBoleto:     "BOLETO",
	enums.PaymentMethodCreditCard: "CREDIT_CARD",
}

type asaasPaymentResponse struct {
	ID              string  `json:"id"`
	Status          string  `json:"status"`
	Value           float64 `json:"value"`
	InvoiceURL      string  `json:"invoiceUrl"`
	BankSlipURL     string  `json:"bankSlipUrl"`
	DateCreated     string  `json:"dateCreated"`
	PaymentDate     string  `json:"paymentDate"`
	ExternalRef     string  `json:"externalReference"`
	BillingType     string  `json:"billingType"`
	ConfirmedDate   string  `json:"confirmedDate"`
	ClientPaymentID string  `json:"clientPaymentId"`
}

func (a *Asaas) CreateCharge(ctx context.Context, req ChargeRequest) (*Charge, error) {
	billingType, ok := asaasBillingTypes[req.PaymentMethod]
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("payment method %q not supported by asaas", req.PaymentMethod))
	}

	customerID, err := a.ensureCustomer(ctx, req.CustomerName, req.CustomerEmail)
	if err != nil {
		return nil, err
	}

	body := map[string]any{
		"customer":          customerID,
		"billingType":       billingType,
		"value":             centsToAmount(req.AmountCents),
		"description":       req.Description,
		"externalReference": req.OrderID,
		"dueDate":           a.now().AddDate(0, 0, 1).Format("2006-01-02"),
	}

	var resp asaasPaymentResponse
	if err := doJSON(ctx, a.httpClient, http.MethodPost, buildURL(a.cfg.BaseURL, "/payments"), a.authHeaders(), body, &resp); err != nil {
		return nil, err
	}
	if resp.ID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "asaas returned payment without id")
	}

	artifacts := map[string]string{
		"invoice_url":   resp.InvoiceURL,
		"bank_slip_url": resp.BankSlipURL,
	}
	if req.PaymentMethod == enums.PaymentMethodPix {
		qr, err := a.fetchPixQRCode(ctx, resp.ID)
		if err != nil {
			return nil, err
		}
		artifacts["qr_code"] = qr.Payload
		artifacts["qr_code_base64"] = qr.EncodedImage
	}

	payload, err := json.Marshal(artifacts)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "marshal provider payload")
	}

	return &Charge{
		GatewayChargeID: resp.ID,
		RawStatus:       resp.Status,
		ProviderPayload: payload,
	}, nil
}

// ensureCustomer resolves an Asaas customer id by email, creating one when
// no match exists.
func (a *Asaas) ensureCustomer(ctx context.Context, name, email string) (string, error) {
	var list struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	lookupURL := buildURL(a.cfg.BaseURL, "/customers?email="+url.QueryEscape(email))
	if err := doJSON(ctx, a.httpClient, http.MethodGet, lookupURL, a.authHeaders(), nil, &list); err != nil {
		return "", err
	}
	if len(list.Data) > 0 {
		return list.Data[0].ID, nil
	}

	var created struct {
		ID string `json:"id"`
	}
	body := map[string]string{"name": name, "email": email}
	if err := doJSON(ctx, a.httpClient, http.MethodPost, buildURL(a.cfg.BaseURL, "/customers"), a.authHeaders(), body, &created); err != nil {
		return "", err
	}
	if created.ID == "" {
		return "", pkgerrors.New(pkgerrors.CodeDependency, "asaas returned customer without id")
	}
	return created.ID, nil
}

type asaasPixQRCode struct {
	Payload      string `json:"payload"`
	EncodedImage string `json:"encodedImage"`
}

func (a *Asaas) fetchPixQRCode(ctx context.Context, paymentID string) (*asaasPixQRCode, error) {
	var qr asaasPixQRCode
	url := buildURL(a.cfg.BaseURL, "/payments/"+paymentID+"/pixQrCode")
	if err := doJSON(ctx, a.httpClient, http.MethodGet, url, a.authHeaders(), nil, &qr); err != nil {
		return nil, err
	}
	return &qr, nil
}

func (a *Asaas) FetchStatus(ctx context.Context, chargeID string) (*Event, error) {
	var resp asaasPaymentResponse
	url := buildURL(a.cfg.BaseURL, "/payments/"+chargeID)
	if err := doJSON(ctx, a.httpClient, http.MethodGet, url, a.authHeaders(), nil, &resp); err != nil {
		return nil, err
	}

	business, technical := mapAsaasPaymentStatus(resp.Status)
	return &Event{
		Gateway:         enums.GatewayAsaas,
		ChargeID:        resp.ID,
		EventType:       "payment.fetched:" + resp.Status,
		RawStatus:       resp.Status,
		BusinessStatus:  business,
		TechnicalStatus: technical,
		OccurredAt:      a.now(),
	}, nil
}

// VerifyWebhook compares the static asaas-access-token header against the
// configured webhook token.
func (a *Asaas) VerifyWebhook(header http.Header, body []byte) error {
	token := header.Get("asaas-access-token")
	if token == "" {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "missing asaas-access-token header")
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(a.cfg.WebhookToken)) != 1 {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "asaas webhook token mismatch")
	}
	return nil
}

func (a *Asaas) MapEvent(ctx context.Context, header http.Header, body []byte) (*Event, error) {
	var notification struct {
		Event   string `json:"event"`
		Payment struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		} `json:"payment"`
	}
	if err := json.Unmarshal(body, &notification); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "malformed webhook payload")
	}
	if notification.Event == "" || notification.Payment.ID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "webhook payload missing event or payment id")
	}

	business := mapAsaasEvent(notification.Event)
	return &Event{
		Gateway:         enums.GatewayAsaas,
		ChargeID:        notification.Payment.ID,
		EventType:       notification.Event,
		RawStatus:       notification.Payment.Status,
		BusinessStatus:  business,
		TechnicalStatus: notification.Payment.Status,
		OccurredAt:      a.now(),
	}, nil
}

func mapAsaasEvent(event string) enums.BusinessStatus {
	switch event {
	case asaasEventConfirmed, asaasEventReceived:
		return enums.BusinessStatusPaid
	case asaasEventRefunded:
		return enums.BusinessStatusRefunded
	case asaasEventChargebackRequested:
		return enums.BusinessStatusChargedBack
	default:
		// PAYMENT_OVERDUE and the rest only move the technical status.
		return enums.BusinessStatusUnchanged
	}
}

func mapAsaasPaymentStatus(status string) (enums.BusinessStatus, string) {
	switch status {
	case "CONFIRMED", "RECEIVED":
		return enums.BusinessStatusPaid, status
	case "REFUNDED":
		return enums.BusinessStatusRefunded, status
	case "CHARGEBACK_REQUESTED", "CHARGEBACK_DISPUTE":
		return enums.BusinessStatusChargedBack, status
	default:
		return enums.BusinessStatusUnchanged, status
	}
}
