package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/risecheckout/payments-backend/internal/gateways"
	"github.com/risecheckout/payments-backend/internal/split"
	"github.com/risecheckout/payments-backend/pkg/config"
	dbpkg "github.com/risecheckout/payments-backend/pkg/db"
	"github.com/risecheckout/payments-backend/pkg/db/models"
	"github.com/risecheckout/payments-backend/pkg/enums"
	pkgerrors "github.com/risecheckout/payments-backend/pkg/errors"
	"github.com/risecheckout/payments-backend/pkg/logger"
	outboxpkg "github.com/risecheckout/payments-backend/pkg/outbox"
	"github.com/risecheckout/payments-backend/pkg/outbox/payloads"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outboxpkg.DomainEvent) error
	EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outboxpkg.DomainEvent) error
}

type chargeCreator interface {
	Lookup(gateway enums.Gateway) (gateways.Adapter, error)
}

// Service defines the checkout-facing order operations.
type Service interface {
	Create(ctx context.Context, input CreateOrderInput) (*models.Order, bool, error)
	SubmitPayment(ctx context.Context, input SubmitPaymentInput) (*models.Order, error)
	GetStatus(ctx context.Context, orderID uuid.UUID) (*StatusView, error)
}

type service struct {
	repo     Repository
	tx       txRunner
	outbox   outboxPublisher
	registry chargeCreator
	logg     *logger.Logger

	defaultPlatformFee decimal.Decimal
}

// NewService builds an orders service with the required dependencies.
func NewService(repo Repository, tx txRunner, outbox outboxPublisher, registry chargeCreator, cfg config.SplitConfig, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if registry == nil {
		return nil, fmt.Errorf("gateway registry required")
	}
	defaultFee, err := decimal.NewFromString(cfg.DefaultPlatformFeePercent)
	if err != nil {
		return nil, fmt.Errorf("invalid default platform fee %q: %w", cfg.DefaultPlatformFeePercent, err)
	}
	return &service{
		repo:               repo,
		tx:                 tx,
		outbox:             outbox,
		registry:           registry,
		logg:               logg,
		defaultPlatformFee: defaultFee,
	}, nil
}

// Create opens a PENDING order with the split rule frozen in. The second
// return value reports whether a new row was created; a resubmitted client
// token returns the original order instead.
func (s *service) Create(ctx context.Context, input CreateOrderInput) (*models.Order, bool, error) {
	if err := validateCreateInput(input); err != nil {
		return nil, false, err
	}

	feePercent := s.defaultPlatformFee
	if input.PlatformFeePercent != nil {
		feePercent = *input.PlatformFeePercent
	}
	commissionPercent := decimal.Zero
	if input.AffiliateID != nil && input.AffiliateCommissionPercent != nil {
		commissionPercent = *input.AffiliateCommissionPercent
	}

	result := split.Compute(input.AmountCents, split.Rule{
		PlatformFeePercent:         feePercent,
		AffiliateCommissionPercent: commissionPercent,
	})
	if result.Clamped && s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"vendor_id":                    input.VendorID.String(),
			"product_id":                   input.ProductID.String(),
			"amount_cents":                 input.AmountCents,
			"platform_fee_percent":         feePercent.String(),
			"affiliate_commission_percent": commissionPercent.String(),
		})
		s.logg.Warn(logCtx, "split rule exceeds order amount, cuts capped and vendor net floored at zero")
	}

	currency := input.Currency
	if currency == "" {
		currency = "BRL"
	}

	order := &models.Order{
		ID:                         uuid.New(),
		VendorID:                   input.VendorID,
		ProductID:                  input.ProductID,
		ClientToken:                input.ClientToken,
		BusinessStatus:             enums.BusinessStatusPending,
		Gateway:                    input.Gateway,
		PaymentMethod:              enums.PaymentMethodPix,
		Currency:                   currency,
		AmountCents:                input.AmountCents,
		PlatformFeeCents:           result.PlatformFeeCents,
		AffiliateCommissionCents:   result.AffiliateCommissionCents,
		NetCents:                   result.NetCents,
		PlatformFeePercent:         feePercent,
		AffiliateCommissionPercent: commissionPercent,
		AffiliateID:                input.AffiliateID,
		CustomerEmail:              input.CustomerEmail,
		CustomerName:               input.CustomerName,
		Version:                    1,
		LastTransitionAt:           time.Now().UTC(),
	}

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if _, err := s.repo.WithTx(tx).Create(ctx, order); err != nil {
			return err
		}
		return s.outbox.Emit(ctx, tx, outboxpkg.DomainEvent{
			EventType:     enums.EventOrderCreated,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Data: payloads.OrderCreatedEvent{
				OrderID:       order.ID,
				VendorID:      order.VendorID,
				ProductID:     order.ProductID,
				Gateway:       order.Gateway,
				PaymentMethod: order.PaymentMethod,
				AmountCents:   order.AmountCents,
				Currency:      order.Currency,
			},
		})
	})
	if err != nil {
		if dbpkg.IsUniqueViolation(err, "client_token") {
			existing, findErr := s.repo.FindByClientToken(ctx, input.ClientToken)
			if findErr != nil {
				return nil, false, pkgerrors.Wrap(pkgerrors.CodeDependency, findErr, "load order by client token")
			}
			return existing, false, nil
		}
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create order")
	}

	if s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"order_id":     order.ID.String(),
			"gateway":      order.Gateway,
			"amount_cents": order.AmountCents,
		})
		s.logg.Info(logCtx, "order created")
	}
	return order, true, nil
}

// SubmitPayment creates the gateway charge and binds it to the order. A
// concurrent double submission loses the claim and receives the charge the
// winner bound; the gateway-side idempotency key keeps the charge itself
// single.
func (s *service) SubmitPayment(ctx context.Context, input SubmitPaymentInput) (*models.Order, error) {
	if input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if !input.PaymentMethod.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid payment method")
	}

	order, err := s.findOrder(ctx, input.OrderID)
	if err != nil {
		return nil, err
	}
	if order.GatewayChargeID != nil {
		return order, nil
	}
	if order.BusinessStatus != enums.BusinessStatusPending {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order is not payable in its current state")
	}

	adapter, err := s.registry.Lookup(order.Gateway)
	if err != nil {
		return nil, err
	}

	charge, err := adapter.CreateCharge(ctx, gateways.ChargeRequest{
		OrderID:        order.ID.String(),
		AmountCents:    order.AmountCents,
		Currency:       order.Currency,
		PaymentMethod:  input.PaymentMethod,
		CustomerEmail:  order.CustomerEmail,
		CustomerName:   order.CustomerName,
		Description:    "order " + order.ID.String(),
		IdempotencyKey: order.ClientToken,
	})
	if err != nil {
		return nil, err
	}

	providerPayload := string(charge.ProviderPayload)
	now := time.Now().UTC()
	updates := map[string]any{
		"gateway_charge_id": charge.GatewayChargeID,
		"payment_method":    input.PaymentMethod,
		"technical_status":  charge.RawStatus,
		"provider_payload":  providerPayload,
		"updated_at":        now,
	}

	claimed := false
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		won, err := s.repo.WithTx(tx).ClaimCharge(ctx, order.ID, updates)
		if err != nil {
			return err
		}
		claimed = won
		if !won || input.PaymentMethod != enums.PaymentMethodPix {
			return nil
		}
		return s.outbox.EmitIfNotExists(ctx, tx, outboxpkg.DomainEvent{
			EventType:     enums.EventPixGenerated,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Data:          pixPayload(order, charge),
		})
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "bind gateway charge")
	}

	if !claimed {
		// Another submission bound a charge first; hand back what it created.
		return s.findOrder(ctx, order.ID)
	}

	chargeID := charge.GatewayChargeID
	order.GatewayChargeID = &chargeID
	order.PaymentMethod = input.PaymentMethod
	order.TechnicalStatus = charge.RawStatus
	order.ProviderPayload = &providerPayload
	order.UpdatedAt = now

	if s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"order_id":       order.ID.String(),
			"gateway":        order.Gateway,
			"charge_id":      charge.GatewayChargeID,
			"payment_method": input.PaymentMethod,
		})
		s.logg.Info(logCtx, "gateway charge bound to order")
	}
	return order, nil
}

func (s *service) GetStatus(ctx context.Context, orderID uuid.UUID) (*StatusView, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	order, err := s.findOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	view := &StatusView{
		OrderID:         order.ID,
		BusinessStatus:  order.BusinessStatus,
		TechnicalStatus: order.TechnicalStatus,
		Gateway:         order.Gateway,
		PaymentMethod:   order.PaymentMethod,
		AmountCents:     order.AmountCents,
		Currency:        order.Currency,
		PaidAt:          order.PaidAt,
		CreatedAt:       order.CreatedAt,
	}
	if order.ProviderPayload != nil {
		view.ProviderPayload = json.RawMessage(*order.ProviderPayload)
	}
	return view, nil
}

func (s *service) findOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	order, err := s.repo.FindByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	return order, nil
}

func validateCreateInput(input CreateOrderInput) error {
	if input.ClientToken == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "client token required")
	}
	if input.VendorID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "vendor id required")
	}
	if input.ProductID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "product id required")
	}
	if input.AmountCents <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}
	if !input.Gateway.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, "invalid gateway")
	}
	if input.CustomerEmail == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "customer email required")
	}
	return nil
}

func pixPayload(order *models.Order, charge *gateways.Charge) payloads.PixGeneratedEvent {
	var artifacts struct {
		QRCode       string `json:"qr_code"`
		QRCodeBase64 string `json:"qr_code_base64"`
	}
	_ = json.Unmarshal(charge.ProviderPayload, &artifacts)
	return payloads.PixGeneratedEvent{
		OrderID:     order.ID,
		Gateway:     order.Gateway,
		QRCode:      artifacts.QRCodeBase64,
		QRCodeText:  artifacts.QRCode,
		AmountCents: order.AmountCents,
	}
}
