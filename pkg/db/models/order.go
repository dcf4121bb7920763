package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/risecheckout/payments-backend/pkg/enums"
)

// Order is the central settlement aggregate. Business status only ever moves
// through the lifecycle transition function; every other writer is rejected by
// the optimistic version check.
type Order struct {
	ID        uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	VendorID  uuid.UUID `gorm:"column:vendor_id;type:uuid;not null"`
	ProductID uuid.UUID `gorm:"column:product_id;type:uuid;not null"`

	// ClientToken is the buyer-generated request token; the unique index makes
	// order creation idempotent under double submission.
	ClientToken string `gorm:"column:client_token;not null;uniqueIndex:ux_orders_client_token"`

	BusinessStatus  enums.BusinessStatus `gorm:"column:business_status;type:business_status;not null;default:'PENDING'"`
	TechnicalStatus string               `gorm:"column:technical_status;not null;default:''"`

	Gateway         enums.Gateway `gorm:"column:gateway;type:gateway;not null"`
	GatewayChargeID *string       `gorm:"column:gateway_charge_id;uniqueIndex:ux_orders_gateway_charge"`

	PaymentMethod enums.PaymentMethod `gorm:"column:payment_method;type:payment_method;not null;default:'pix'"`
	Currency      string              `gorm:"column:currency;not null;default:'BRL'"`

	AmountCents              int64 `gorm:"column:amount_cents;not null"`
	PlatformFeeCents         int64 `gorm:"column:platform_fee_cents;not null;default:0"`
	AffiliateCommissionCents int64 `gorm:"column:affiliate_commission_cents;not null;default:0"`
	NetCents                 int64 `gorm:"column:net_cents;not null;default:0"`

	// Split rule frozen at charge creation; later global fee changes never
	// rewrite a settled order.
	PlatformFeePercent         decimal.Decimal `gorm:"column:platform_fee_percent;type:numeric(5,2);not null;default:0"`
	AffiliateCommissionPercent decimal.Decimal `gorm:"column:affiliate_commission_percent;type:numeric(5,2);not null;default:0"`

	AffiliateID *uuid.UUID `gorm:"column:affiliate_id;type:uuid"`

	CustomerEmail string `gorm:"column:customer_email;not null;default:''"`
	CustomerName  string `gorm:"column:customer_name;not null;default:''"`

	// ProviderPayload carries method-specific artifacts (PIX QR code, boleto
	// line, card authorization id) returned at charge creation.
	ProviderPayload *string `gorm:"column:provider_payload;type:jsonb"`

	Version          int       `gorm:"column:version;not null;default:0"`
	LastTransitionAt time.Time `gorm:"column:last_transition_at;not null"`

	// LastCheckedAt is stamped by every reconciliation poll, including no-op
	// ones. The tier throttle keys off it; a PENDING order that never
	// transitions must still back off to hourly and daily checks.
	LastCheckedAt *time.Time `gorm:"column:last_checked_at"`

	PaidAt        *time.Time `gorm:"column:paid_at"`
	RefundedAt    *time.Time `gorm:"column:refunded_at"`
	ChargedBackAt *time.Time `gorm:"column:charged_back_at"`
	CancelledAt   *time.Time `gorm:"column:cancelled_at"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
