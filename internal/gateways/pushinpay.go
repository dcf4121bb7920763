package gateways

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/risecheckout/payments-backend/pkg/config"
	"github.com/risecheckout/payments-backend/pkg/enums"
	pkgerrors "github.com/risecheckout/payments-backend/pkg/errors"
	"github.com/risecheckout/payments-backend/pkg/logger"
)

const (
	pushinPayStatusPaid     = "paid"
	pushinPayStatusCreated  = "created"
	pushinPayStatusExpired  = "expired"
	pushinPayStatusCanceled = "canceled"
)

// PushinPay only moves PIX.
type PushinPay struct {
	cfg        config.PushinPayConfig
	httpClient *http.Client
	logg       *logger.Logger
	now        func() time.Time
}

func NewPushinPay(cfg config.PushinPayConfig, logg *logger.Logger) *PushinPay {
	return &PushinPay{
		cfg:        cfg,
		httpClient: newHTTPClient(cfg.Timeout),
		logg:       logg,
		now:        time.Now,
	}
}

func (p *PushinPay) Gateway() enums.Gateway {
	return enums.GatewayPushinPay
}

func (p *PushinPay) authHeaders() map[string]string {
	return map[string]string{"Authorization": "Bearer " + p.cfg.Token}
}

type pushinPayTransaction struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	QRCode       string `json:"qr_code"`
	QRCodeBase64 string `json:"qr_code_base64"`
}

func (p *PushinPay) CreateCharge(ctx context.Context, req ChargeRequest) (*Charge, error) {
	if req.PaymentMethod != enums.PaymentMethodPix {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "pushinpay only supports pix")
	}

	body := map[string]any{
		"value": req.AmountCents,
	}
	if p.cfg.WebhookURL != "" {
		body["webhook_url"] = p.cfg.WebhookURL
	}

	var resp pushinPayTransaction
	if err := doJSON(ctx, p.httpClient, http.MethodPost, buildURL(p.cfg.BaseURL, "/pix/cashIn"), p.authHeaders(), body, &resp); err != nil {
		return nil, err
	}
	if resp.ID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "pushinpay returned transaction without id")
	}

	payload, err := json.Marshal(map[string]string{
		"qr_code":        resp.QRCode,
		"qr_code_base64": resp.QRCodeBase64,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "marshal provider payload")
	}

	return &Charge{
		GatewayChargeID: resp.ID,
		RawStatus:       resp.Status,
		ProviderPayload: payload,
	}, nil
}

func (p *PushinPay) FetchStatus(ctx context.Context, chargeID string) (*Event, error) {
	var resp pushinPayTransaction
	url := buildURL(p.cfg.BaseURL, "/transactions/"+chargeID)
	if err := doJSON(ctx, p.httpClient, http.MethodGet, url, p.authHeaders(), nil, &resp); err != nil {
		return nil, err
	}

	status := strings.ToLower(resp.Status)
	return &Event{
		Gateway:         enums.GatewayPushinPay,
		ChargeID:        resp.ID,
		EventType:       "transaction.fetched:" + status,
		RawStatus:       status,
		BusinessStatus:  mapPushinPayStatus(status),
		TechnicalStatus: status,
		OccurredAt:      p.now(),
	}, nil
}

// VerifyWebhook compares the static x-pushinpay-token header.
func (p *PushinPay) VerifyWebhook(header http.Header, body []byte) error {
	token := header.Get("x-pushinpay-token")
	if token == "" {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "missing x-pushinpay-token header")
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(p.cfg.WebhookToken)) != 1 {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "pushinpay webhook token mismatch")
	}
	return nil
}

func (p *PushinPay) MapEvent(ctx context.Context, header http.Header, body []byte) (*Event, error) {
	var notification struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(body, &notification); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "malformed webhook payload")
	}
	if notification.ID == "" || notification.Status == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "webhook payload missing id or status")
	}

	status := strings.ToLower(notification.Status)
	return &Event{
		Gateway:         enums.GatewayPushinPay,
		ChargeID:        notification.ID,
		EventType:       status,
		RawStatus:       status,
		BusinessStatus:  mapPushinPayStatus(status),
		TechnicalStatus: status,
		OccurredAt:      p.now(),
	}, nil
}

func mapPushinPayStatus(status string) enums.BusinessStatus {
	switch status {
	case pushinPayStatusPaid:
		return enums.BusinessStatusPaid
	case pushinPayStatusExpired, pushinPayStatusCanceled, pushinPayStatusCreated:
		// An expired PIX never cancels the order; a fresh charge can still
		// settle it.
		return enums.BusinessStatusUnchanged
	default:
		return enums.BusinessStatusUnchanged
	}
}
