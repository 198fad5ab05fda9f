// Package payment talks to the upstream payment provider: creating payment
// intents at checkout and verifying the cryptographic proof the provider
// hands back after the customer pays.
package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// GatewayError indicates the payment provider rejected or failed a request.
// Checkout fails closed on it: no order row is persisted.
type GatewayError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *GatewayError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("payment gateway: %v", e.Err)
	}
	return fmt.Sprintf("payment gateway: status %d: %s", e.StatusCode, e.Body)
}

func (e *GatewayError) Unwrap() error { return e.Err }

// IntentRequest describes the payment intent to create.
type IntentRequest struct {
	Amount         decimal.Decimal
	Currency       string
	IdempotencyKey string
	Notes          map[string]string
}

// Gateway creates payment intents with the provider.
type Gateway interface {
	CreateIntent(ctx context.Context, req IntentRequest) (string, error)
}

// Client is the HTTP Gateway implementation. Requests carry basic auth and
// are bounded by the client timeout so checkout never blocks indefinitely.
type Client struct {
	http    *http.Client
	baseURL string
	keyID   string
	secret  string
	tracer  trace.Tracer
}

// NewClient creates a gateway client against baseURL with the given API
// credentials and per-request timeout.
func NewClient(baseURL, keyID, secret string, timeout time.Duration, tp trace.TracerProvider) *Client {
	return &Client{
		http:    &http.Client{Timeout: timeout},
		baseURL: baseURL,
		keyID:   keyID,
		secret:  secret,
		tracer:  tp.Tracer("threadline/payment"),
	}
}

type intentBody struct {
	// Amount is in the currency's smallest unit, per provider convention.
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Receipt  string            `json:"receipt"`
	Notes    map[string]string `json:"notes,omitempty"`
}

type intentResponse struct {
	ID string `json:"id"`
}

// CreateIntent registers a payment intent and returns the provider's order
// id. Any non-2xx response or transport failure is a *GatewayError.
func (c *Client) CreateIntent(ctx context.Context, req IntentRequest) (id string, err error) {
	ctx, span := c.tracer.Start(ctx, "payment.CreateIntent",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("payment.currency", req.Currency)),
	)
	defer func() {
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	body, err := json.Marshal(intentBody{
		Amount:   req.Amount.Mul(decimal.NewFromInt(100)).IntPart(),
		Currency: req.Currency,
		Receipt:  req.IdempotencyKey,
		Notes:    req.Notes,
	})
	if err != nil {
		return "", errors.Wrap(err, "encode intent")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/orders", bytes.NewReader(body))
	if err != nil {
		return "", errors.Wrap(err, "build request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Idempotency-Key", req.IdempotencyKey)
	httpReq.SetBasicAuth(c.keyID, c.secret)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", &GatewayError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", &GatewayError{StatusCode: resp.StatusCode, Body: string(snippet)}
	}

	var out intentResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", &GatewayError{Err: errors.Wrap(err, "decode response")}
	}
	if out.ID == "" {
		return "", &GatewayError{Err: errors.New("empty intent id")}
	}
	return out.ID, nil
}
