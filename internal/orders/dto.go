package orders

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/risecheckout/payments-backend/pkg/db/models"
	"github.com/risecheckout/payments-backend/pkg/enums"
)

// CreateOrderInput carries everything needed to open an order. ClientToken is
// generated by the checkout client; resubmitting the same token returns the
// order created by the first attempt.
type CreateOrderInput struct {
	ClientToken   string
	VendorID      uuid.UUID
	ProductID     uuid.UUID
	Gateway       enums.Gateway
	AmountCents   int64
	Currency      string
	CustomerEmail string
	CustomerName  string
	AffiliateID   *uuid.UUID

	// Optional overrides for the frozen split rule. Nil falls back to the
	// platform defaults.
	PlatformFeePercent         *decimal.Decimal
	AffiliateCommissionPercent *decimal.Decimal
}

// SubmitPaymentInput selects the payment method and triggers charge creation.
type SubmitPaymentInput struct {
	OrderID       uuid.UUID
	PaymentMethod enums.PaymentMethod
}

// OrderView is the public shape of an order on the checkout API.
type OrderView struct {
	OrderID                  uuid.UUID            `json:"id"`
	BusinessStatus           enums.BusinessStatus `json:"business_status"`
	TechnicalStatus          string               `json:"technical_status"`
	Gateway                  enums.Gateway        `json:"gateway"`
	GatewayChargeID          *string              `json:"gateway_charge_id,omitempty"`
	PaymentMethod            enums.PaymentMethod  `json:"payment_method"`
	Currency                 string               `json:"currency"`
	AmountCents              int64                `json:"amount_cents"`
	PlatformFeeCents         int64                `json:"platform_fee_cents"`
	AffiliateCommissionCents int64                `json:"affiliate_commission_cents"`
	NetCents                 int64                `json:"net_cents"`
	ProviderPayload          json.RawMessage      `json:"provider_payload,omitempty"`
	CreatedAt                time.Time            `json:"created_at"`
}

// NewOrderView maps the storage row to its public representation.
func NewOrderView(order *models.Order) OrderView {
	view := OrderView{
		OrderID:                  order.ID,
		BusinessStatus:           order.BusinessStatus,
		TechnicalStatus:          order.TechnicalStatus,
		Gateway:                  order.Gateway,
		GatewayChargeID:          order.GatewayChargeID,
		PaymentMethod:            order.PaymentMethod,
		Currency:                 order.Currency,
		AmountCents:              order.AmountCents,
		PlatformFeeCents:         order.PlatformFeeCents,
		AffiliateCommissionCents: order.AffiliateCommissionCents,
		NetCents:                 order.NetCents,
		CreatedAt:                order.CreatedAt,
	}
	if order.ProviderPayload != nil {
		view.ProviderPayload = json.RawMessage(*order.ProviderPayload)
	}
	return view
}

// StatusView is the polling surface the checkout client consumes.
type StatusView struct {
	OrderID         uuid.UUID            `json:"order_id"`
	BusinessStatus  enums.BusinessStatus `json:"business_status"`
	TechnicalStatus string               `json:"technical_status"`
	Gateway         enums.Gateway        `json:"gateway"`
	PaymentMethod   enums.PaymentMethod  `json:"payment_method"`
	AmountCents     int64                `json:"amount_cents"`
	Currency        string               `json:"currency"`
	ProviderPayload json.RawMessage      `json:"provider_payload,omitempty"`
	PaidAt          *time.Time           `json:"paid_at,omitempty"`
	CreatedAt       time.Time            `json:"created_at"`
}
