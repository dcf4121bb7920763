package orders

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/risecheckout/payments-backend/api/responses"
	"github.com/risecheckout/payments-backend/api/validators"
	internalorders "github.com/risecheckout/payments-backend/internal/orders"
	"github.com/risecheckout/payments-backend/pkg/enums"
	pkgerrors "github.com/risecheckout/payments-backend/pkg/errors"
	"github.com/risecheckout/payments-backend/pkg/logger"
)

// Create opens a PENDING order. The client supplies its own token; replaying
// the same token returns the original order with a 200 instead of a 201.
func Create(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}

		var payload createOrderRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		input, err := payload.toInput()
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		order, created, err := svc.Create(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		view := internalorders.NewOrderView(order)
		if created {
			responses.WriteSuccessStatus(w, http.StatusCreated, view)
			return
		}
		responses.WriteSuccess(w, view)
	}
}

// SubmitPayment binds a gateway charge to the order using the selected method.
func SubmitPayment(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}

		orderID, err := parseOrderID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload submitPaymentRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		method, err := enums.ParsePaymentMethod(strings.TrimSpace(payload.PaymentMethod))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid payment method"))
			return
		}

		order, err := svc.SubmitPayment(r.Context(), internalorders.SubmitPaymentInput{
			OrderID:       orderID,
			PaymentMethod: method,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, internalorders.NewOrderView(order))
	}
}

// Status is the polling endpoint the checkout client watches after payment.
func Status(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}

		orderID, err := parseOrderID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		view, err := svc.GetStatus(r.Context(), orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, view)
	}
}

type createOrderRequest struct {
	ClientToken                string  `json:"client_token" validate:"required"`
	VendorID                   string  `json:"vendor_id" validate:"required,uuid4"`
	ProductID                  string  `json:"product_id" validate:"required,uuid4"`
	Gateway                    string  `json:"gateway" validate:"required"`
	AmountCents                int64   `json:"amount_cents" validate:"required,min=1"`
	Currency                   string  `json:"currency,omitempty"`
	CustomerEmail              string  `json:"customer_email" validate:"required,email"`
	CustomerName               string  `json:"customer_name,omitempty"`
	AffiliateID                *string `json:"affiliate_id,omitempty" validate:"omitempty,uuid4"`
	PlatformFeePercent         *string `json:"platform_fee_percent,omitempty"`
	AffiliateCommissionPercent *string `json:"affiliate_commission_percent,omitempty"`
}

func (p createOrderRequest) toInput() (internalorders.CreateOrderInput, error) {
	var input internalorders.CreateOrderInput

	vendorID, err := uuid.Parse(p.VendorID)
	if err != nil {
		return input, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid vendor id")
	}
	productID, err := uuid.Parse(p.ProductID)
	if err != nil {
		return input, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid product id")
	}
	gateway, err := enums.ParseGateway(strings.TrimSpace(p.Gateway))
	if err != nil {
		return input, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid gateway")
	}

	input = internalorders.CreateOrderInput{
		ClientToken:   strings.TrimSpace(p.ClientToken),
		VendorID:      vendorID,
		ProductID:     productID,
		Gateway:       gateway,
		AmountCents:   p.AmountCents,
		Currency:      strings.ToUpper(strings.TrimSpace(p.Currency)),
		CustomerEmail: strings.TrimSpace(p.CustomerEmail),
		CustomerName:  validators.SanitizeString(p.CustomerName, 255),
	}

	if p.AffiliateID != nil {
		affiliateID, err := uuid.Parse(*p.AffiliateID)
		if err != nil {
			return input, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid affiliate id")
		}
		input.AffiliateID = &affiliateID
	}
	if p.PlatformFeePercent != nil {
		fee, err := parsePercent(*p.PlatformFeePercent, "platform_fee_percent")
		if err != nil {
			return input, err
		}
		input.PlatformFeePercent = &fee
	}
	if p.AffiliateCommissionPercent != nil {
		commission, err := parsePercent(*p.AffiliateCommissionPercent, "affiliate_commission_percent")
		if err != nil {
			return input, err
		}
		input.AffiliateCommissionPercent = &commission
	}
	return input, nil
}

type submitPaymentRequest struct {
	PaymentMethod string `json:"payment_method" validate:"required"`
}

func parseOrderID(r *http.Request) (uuid.UUID, error) {
	raw := strings.TrimSpace(chi.URLParam(r, "orderId"))
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	orderID, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid order id")
	}
	return orderID, nil
}

func parsePercent(raw, field string) (decimal.Decimal, error) {
	value, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Decimal{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid "+field)
	}
	if value.IsNegative() || value.GreaterThan(decimal.NewFromInt(100)) {
		return decimal.Decimal{}, pkgerrors.New(pkgerrors.CodeValidation, field+" must be between 0 and 100")
	}
	return value, nil
}
