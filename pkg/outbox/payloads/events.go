package payloads

import (
	"time"

	"github.com/google/uuid"

	"github.com/risecheckout/payments-backend/pkg/enums"
)

// OrderCreatedEvent signals a new order entered the pipeline.
type OrderCreatedEvent struct {
	OrderID       uuid.UUID           `json:"order_id"`
	VendorID      uuid.UUID           `json:"vendor_id"`
	ProductID     uuid.UUID           `json:"product_id"`
	Gateway       enums.Gateway       `json:"gateway"`
	PaymentMethod enums.PaymentMethod `json:"payment_method"`
	AmountCents   int64               `json:"amount_cents"`
	Currency      string              `json:"currency"`
}

// PurchaseApprovedEvent is emitted when an order settles as PAID.
type PurchaseApprovedEvent struct {
	OrderID                  uuid.UUID     `json:"order_id"`
	VendorID                 uuid.UUID     `json:"vendor_id"`
	ProductID                uuid.UUID     `json:"product_id"`
	Gateway                  enums.Gateway `json:"gateway"`
	AmountCents              int64         `json:"amount_cents"`
	PlatformFeeCents         int64         `json:"platform_fee_cents"`
	AffiliateCommissionCents int64         `json:"affiliate_commission_cents"`
	NetCents                 int64         `json:"net_cents"`
	AffiliateID              *uuid.UUID    `json:"affiliate_id,omitempty"`
	PaidAt                   time.Time     `json:"paid_at"`
}

// RefundEvent is emitted when a paid order is refunded.
type RefundEvent struct {
	OrderID     uuid.UUID     `json:"order_id"`
	VendorID    uuid.UUID     `json:"vendor_id"`
	Gateway     enums.Gateway `json:"gateway"`
	AmountCents int64         `json:"amount_cents"`
	RefundedAt  time.Time     `json:"refunded_at"`
}

// ChargebackEvent is emitted when the issuer reverses a paid order.
type ChargebackEvent struct {
	OrderID       uuid.UUID     `json:"order_id"`
	VendorID      uuid.UUID     `json:"vendor_id"`
	Gateway       enums.Gateway `json:"gateway"`
	AmountCents   int64         `json:"amount_cents"`
	ChargedBackAt time.Time     `json:"charged_back_at"`
}

// PixGeneratedEvent carries the PIX artifacts produced at charge creation.
type PixGeneratedEvent struct {
	OrderID     uuid.UUID     `json:"order_id"`
	Gateway     enums.Gateway `json:"gateway"`
	QRCode      string        `json:"qr_code,omitempty"`
	QRCodeText  string        `json:"qr_code_text,omitempty"`
	AmountCents int64         `json:"amount_cents"`
}

// AccessGrantEvent tells the delivery system to release the product.
type AccessGrantEvent struct {
	OrderID       uuid.UUID `json:"order_id"`
	ProductID     uuid.UUID `json:"product_id"`
	CustomerEmail string    `json:"customer_email"`
	GrantedAt     time.Time `json:"granted_at"`
}

// AccessRevokeEvent tells the delivery system to pull the product back after a
// refund or chargeback.
type AccessRevokeEvent struct {
	OrderID       uuid.UUID `json:"order_id"`
	ProductID     uuid.UUID `json:"product_id"`
	CustomerEmail string    `json:"customer_email"`
	Reason        string    `json:"reason"`
	RevokedAt     time.Time `json:"revoked_at"`
}

// PurchaseTrackingEvent feeds conversion pixels and analytics sinks.
type PurchaseTrackingEvent struct {
	OrderID       uuid.UUID           `json:"order_id"`
	VendorID      uuid.UUID           `json:"vendor_id"`
	ProductID     uuid.UUID           `json:"product_id"`
	Gateway       enums.Gateway       `json:"gateway"`
	PaymentMethod enums.PaymentMethod `json:"payment_method"`
	AmountCents   int64               `json:"amount_cents"`
	Currency      string              `json:"currency"`
	AffiliateID   *uuid.UUID          `json:"affiliate_id,omitempty"`
}
