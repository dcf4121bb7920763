package checkout

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"

	"github.com/risecheckout/payments-backend/pkg/enums"
	pkgerrors "github.com/risecheckout/payments-backend/pkg/errors"
	"github.com/risecheckout/payments-backend/pkg/logger"
)

// State tracks where the client sits in the checkout flow.
type State string

const (
	StateIdle                  State = "IDLE"
	StateCreatingOrder         State = "CREATING_ORDER"
	StateAwaitingPaymentMethod State = "AWAITING_PAYMENT_METHOD"
	StateSubmittingPayment     State = "SUBMITTING_PAYMENT"
	StatePollingStatus         State = "POLLING_STATUS"
	StateSuccess               State = "SUCCESS"
	StateFailed                State = "FAILED"
)

const (
	defaultTimeout      = 10 * time.Second
	defaultPollInterval = 2 * time.Second
	defaultMaxPolls     = 30
)

// Options configures a checkout Client.
type Options struct {
	BaseURL    string
	HTTPClient *http.Client
	Logger     *logger.Logger

	// PollInterval seeds the exponential backoff between status polls.
	PollInterval time.Duration
	// MaxPolls bounds the polling budget for one AwaitSettlement call.
	MaxPolls uint64
}

// Client drives one order through the checkout flow against the public API.
// The client token is generated once at construction and reused across create
// retries, so a flaky network never produces a second order. Client is safe
// for concurrent reads but the flow methods are meant to be called in sequence.
type Client struct {
	baseURL      string
	httpClient   *http.Client
	logg         *logger.Logger
	pollInterval time.Duration
	maxPolls     uint64

	mu          sync.Mutex
	state       State
	clientToken string
	orderID     uuid.UUID
}

// CreateOrderParams mirrors the POST /api/v1/orders body.
type CreateOrderParams struct {
	VendorID      uuid.UUID
	ProductID     uuid.UUID
	Gateway       enums.Gateway
	AmountCents   int64
	Currency      string
	CustomerEmail string
	CustomerName  string
	AffiliateID   *uuid.UUID
}

// OrderSummary is the slice of the order the client tracks.
type OrderSummary struct {
	OrderID         uuid.UUID            `json:"id"`
	BusinessStatus  enums.BusinessStatus `json:"business_status"`
	TechnicalStatus string               `json:"technical_status"`
}

// StatusSnapshot is one observation of GET /api/v1/orders/{id}/status.
type StatusSnapshot struct {
	OrderID         uuid.UUID            `json:"order_id"`
	BusinessStatus  enums.BusinessStatus `json:"business_status"`
	TechnicalStatus string               `json:"technical_status"`
	ProviderPayload json.RawMessage      `json:"provider_payload,omitempty"`
}

// New builds a checkout client pointed at the public API base URL.
func New(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("base url required")
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	pollInterval := opts.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	maxPolls := opts.MaxPolls
	if maxPolls == 0 {
		maxPolls = defaultMaxPolls
	}
	return &Client{
		baseURL:      opts.BaseURL,
		httpClient:   httpClient,
		logg:         opts.Logger,
		pollInterval: pollInterval,
		maxPolls:     maxPolls,
		state:        StateIdle,
		clientToken:  uuid.NewString(),
	}, nil
}

// State returns the current flow state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ClientToken returns the idempotency token bound to this flow.
func (c *Client) ClientToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clientToken
}

// CreateOrder opens the order. A failed attempt leaves the client in
// CREATING_ORDER and the next call replays the same token, landing on the
// order the first attempt may already have created.
func (c *Client) CreateOrder(ctx context.Context, params CreateOrderParams) (*OrderSummary, error) {
	c.mu.Lock()
	if c.state != StateIdle && c.state != StateCreatingOrder {
		state := c.state
		c.mu.Unlock()
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("cannot create order in state %s", state))
	}
	c.state = StateCreatingOrder
	token := c.clientToken
	c.mu.Unlock()

	body := map[string]any{
		"client_token":   token,
		"vendor_id":      params.VendorID.String(),
		"product_id":     params.ProductID.String(),
		"gateway":        string(params.Gateway),
		"amount_cents":   params.AmountCents,
		"customer_email": params.CustomerEmail,
	}
	if params.Currency != "" {
		body["currency"] = params.Currency
	}
	if params.CustomerName != "" {
		body["customer_name"] = params.CustomerName
	}
	if params.AffiliateID != nil {
		body["affiliate_id"] = params.AffiliateID.String()
	}

	var summary OrderSummary
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/orders", body, &summary); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.orderID = summary.OrderID
	c.state = StateAwaitingPaymentMethod
	c.mu.Unlock()

	if c.logg != nil {
		logCtx := c.logg.WithField(ctx, "order_id", summary.OrderID.String())
		c.logg.Info(logCtx, "checkout order created")
	}
	return &summary, nil
}

// SubmitPayment selects the payment method and binds the gateway charge.
func (c *Client) SubmitPayment(ctx context.Context, method enums.PaymentMethod) (*OrderSummary, error) {
	c.mu.Lock()
	if c.state != StateAwaitingPaymentMethod && c.state != StateSubmittingPayment {
		state := c.state
		c.mu.Unlock()
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("cannot submit payment in state %s", state))
	}
	c.state = StateSubmittingPayment
	orderID := c.orderID
	c.mu.Unlock()

	var summary OrderSummary
	path := "/api/v1/orders/" + orderID.String() + "/payment"
	if err := c.doJSON(ctx, http.MethodPost, path, map[string]any{"payment_method": string(method)}, &summary); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.state = StatePollingStatus
	c.mu.Unlock()
	return &summary, nil
}

// AwaitSettlement polls the status endpoint with exponential backoff until the
// order reaches PAID or CANCELLED or the polling budget runs out. The flow
// always terminates: PAID ends in SUCCESS, everything else ends in FAILED.
// The order itself may still settle later; webhooks and reconciliation do not
// depend on this client watching.
func (c *Client) AwaitSettlement(ctx context.Context) (*StatusSnapshot, error) {
	c.mu.Lock()
	if c.state != StatePollingStatus {
		state := c.state
		c.mu.Unlock()
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("cannot poll status in state %s", state))
	}
	orderID := c.orderID
	c.mu.Unlock()

	var snapshot StatusSnapshot
	backoff := retry.WithMaxRetries(c.maxPolls, retry.WithCappedDuration(30*time.Second, retry.NewExponential(c.pollInterval)))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := c.doJSON(ctx, http.MethodGet, "/api/v1/orders/"+orderID.String()+"/status", nil, &snapshot); err != nil {
			if pkgerrors.IsCode(err, pkgerrors.CodeDependency) {
				return retry.RetryableError(err)
			}
			return err
		}
		switch snapshot.BusinessStatus {
		case enums.BusinessStatusPaid, enums.BusinessStatusCancelled:
			return nil
		default:
			return retry.RetryableError(fmt.Errorf("order still %s", snapshot.BusinessStatus))
		}
	})
	if err != nil {
		c.mu.Lock()
		c.state = StateFailed
		c.mu.Unlock()
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "status polling budget exhausted")
	}

	c.mu.Lock()
	if snapshot.BusinessStatus == enums.BusinessStatusPaid {
		c.state = StateSuccess
	} else {
		c.state = StateFailed
	}
	c.mu.Unlock()
	return &snapshot, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "marshal checkout request")
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build checkout request")
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "execute checkout request")
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read checkout response")
	}

	if resp.StatusCode >= http.StatusBadRequest {
		var envelope struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		_ = json.Unmarshal(raw, &envelope)
		code := pkgerrors.Code(envelope.Error.Code)
		if code == "" {
			code = pkgerrors.CodeDependency
		}
		msg := envelope.Error.Message
		if msg == "" {
			msg = fmt.Sprintf("checkout api returned %d", resp.StatusCode)
		}
		return pkgerrors.New(code, msg)
	}

	if out == nil {
		return nil
	}
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode checkout response")
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode checkout payload")
	}
	return nil
}
