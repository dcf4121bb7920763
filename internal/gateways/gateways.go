package gateways

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/risecheckout/payments-backend/pkg/enums"
	pkgerrors "github.com/risecheckout/payments-backend/pkg/errors"
)

// ChargeRequest carries the order fields a provider needs to create a charge.
type ChargeRequest struct {
	OrderID       string
	AmountCents   int64
	Currency      string
	PaymentMethod enums.PaymentMethod
	CustomerEmail string
	CustomerName  string
	Description   string

	// IdempotencyKey is forwarded to providers that support request dedupe.
	IdempotencyKey string
}

// Charge is the provider-side result of creating a payment.
type Charge struct {
	GatewayChargeID string
	RawStatus       string

	// ProviderPayload holds method-specific artifacts (PIX QR code, boleto
	// line) passed through to the buyer untouched.
	ProviderPayload json.RawMessage
}

// Event is a normalized gateway signal, from a webhook or a status fetch.
type Event struct {
	Gateway         enums.Gateway
	ChargeID        string
	EventType       string
	RawStatus       string
	BusinessStatus  enums.BusinessStatus
	TechnicalStatus string
	OccurredAt      time.Time
}

// DedupeKey identifies this event for idempotency purposes. Reconciliation
// events get their own namespace so a replayed webhook and a reconcile fetch
// of the same status never mask each other.
func (e Event) DedupeKey(source enums.EventSource) string {
	if source == enums.EventSourceReconcile {
		return fmt.Sprintf("reconcile:%s:%s:%s", e.Gateway, e.ChargeID, e.RawStatus)
	}
	return fmt.Sprintf("%s:%s:%s", e.Gateway, e.ChargeID, e.EventType)
}

// Adapter is the uniform surface each payment provider implements.
type Adapter interface {
	Gateway() enums.Gateway
	CreateCharge(ctx context.Context, req ChargeRequest) (*Charge, error)
	FetchStatus(ctx context.Context, chargeID string) (*Event, error)
	VerifyWebhook(header http.Header, body []byte) error
	MapEvent(ctx context.Context, header http.Header, body []byte) (*Event, error)
}

// Registry resolves adapters by gateway identifier.
type Registry struct {
	adapters map[enums.Gateway]Adapter
}

// NewRegistry indexes the provided adapters.
func NewRegistry(adapters ...Adapter) *Registry {
	reg := &Registry{adapters: make(map[enums.Gateway]Adapter, len(adapters))}
	for _, adapter := range adapters {
		if adapter == nil {
			continue
		}
		reg.adapters[adapter.Gateway()] = adapter
	}
	return reg
}

// Lookup returns the adapter for the gateway.
func (r *Registry) Lookup(gateway enums.Gateway) (Adapter, error) {
	adapter, ok := r.adapters[gateway]
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unsupported gateway %q", gateway))
	}
	return adapter, nil
}
