package payway

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

type Config struct {
	// BaseURL is the gateway API root, e.g. https://payway.example.org/api.
	BaseURL string
	// Project identifies this system to the gateway; sent on every message.
	Project string
	// PassphraseOut signs messages we send. PassphraseIn verifies messages
	// we receive. The two must never be swapped.
	PassphraseOut string
	PassphraseIn  string
	Timeout       time.Duration
}

// Client talks to the PayWay gateway over form-encoded POSTs. Every
// outbound message is signed with the outbound passphrase; every response
// and callback is verified with the inbound one.
type Client struct {
	cfg    Config
	hc     *http.Client
	logger *slog.Logger
}

func New(cfg Config, logger *slog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	return &Client{
		cfg:    cfg,
		hc:     &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

// OrderRef is the gateway's handle for a registered order.
type OrderRef struct {
	GatewayOrderID int64
	// PaymentURL is where the customer is redirected to pay.
	PaymentURL string
}

// OrderState is the gateway-side view of an order, fetched by Refresh.
type OrderState struct {
	GatewayOrderID int64
	Paid           bool
	AmountCents    int64
}

// RegisterResult carries the outcome of an asynchronous registration.
type RegisterResult struct {
	Ref *OrderRef
	Err error
}

// RegisterOrder registers a new order with the gateway and returns its
// reference. A rejection or verification failure surfaces as
// ErrGatewayFailure; nothing is retried here.
func (c *Client) RegisterOrder(ctx context.Context, userID, amountCents int64, email string) (*OrderRef, error) {
	const op = "payway.Client.RegisterOrder"

	msg := NewMessage()
	msg.Set("PROJECT", c.cfg.Project)
	msg.SetInt64("USERID", userID)
	msg.SetInt64("AMOUNT", amountCents)
	msg.Set("CURRENCY", "EUR")
	msg.Set("EMAIL", email)

	resp, err := c.send(ctx, "createOrder", msg)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	orderID, ok := resp.Int64("ORDERID")
	if !ok {
		return nil, fmt.Errorf("%s: missing orderid: %w", op, ErrGatewayFailure)
	}

	payURL, _ := resp.Get("PAYMENTURL")

	return &OrderRef{GatewayOrderID: orderID, PaymentURL: payURL}, nil
}

// RegisterOrderAsync dispatches RegisterOrder off the caller's goroutine
// and returns a handle to await. The holding/state transition path must
// not block on gateway I/O.
func (c *Client) RegisterOrderAsync(ctx context.Context, userID, amountCents int64, email string) <-chan RegisterResult {
	ch := make(chan RegisterResult, 1)

	go func() {
		ref, err := c.RegisterOrder(ctx, userID, amountCents, email)
		ch <- RegisterResult{Ref: ref, Err: err}
	}()

	return ch
}

// RefreshOrder fetches the current gateway-side state of an order.
func (c *Client) RefreshOrder(ctx context.Context, gatewayOrderID int64) (*OrderState, error) {
	const op = "payway.Client.RefreshOrder"

	msg := NewMessage()
	msg.Set("PROJECT", c.cfg.Project)
	msg.SetInt64("ORDERID", gatewayOrderID)

	resp, err := c.send(ctx, "orderDetails", msg)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	st := &OrderState{GatewayOrderID: gatewayOrderID}
	st.Paid, _ = resp.Bool("PAYED")
	st.AmountCents, _ = resp.Int64("AMOUNT")

	return st, nil
}

// RefundOrder asks the gateway to refund a paid order.
func (c *Client) RefundOrder(ctx context.Context, gatewayOrderID int64) error {
	const op = "payway.Client.RefundOrder"

	msg := NewMessage()
	msg.Set("PROJECT", c.cfg.Project)
	msg.SetInt64("ORDERID", gatewayOrderID)

	if _, err := c.send(ctx, "refundOrder", msg); err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}

	return nil
}

// RefundOrderAsync dispatches RefundOrder and returns a handle to await.
func (c *Client) RefundOrderAsync(ctx context.Context, gatewayOrderID int64) <-chan error {
	ch := make(chan error, 1)

	go func() {
		ch <- c.RefundOrder(ctx, gatewayOrderID)
	}()

	return ch
}

// VerifyCallback gates every inbound gateway message. A declared failure
// is rejected before any signature work; a missing or mismatching
// signature rejects without any status change downstream.
func (c *Client) VerifyCallback(m *Message) error {
	if success, ok := m.Bool("SUCCESS"); ok && !success {
		return ErrPaymentRefused
	}

	if !m.VerifySign(c.cfg.PassphraseIn) {
		return ErrInvalidSignature
	}

	return nil
}

// send signs msg with the outbound passphrase, POSTs it form-encoded to
// the named gateway operation, and verifies the signed response.
func (c *Client) send(ctx context.Context, operation string, msg *Message) (*Message, error) {
	msg.Sign(c.cfg.PassphraseOut)

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/" + operation

	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		endpoint,
		strings.NewReader(msg.Form().Encode()),
	)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrGatewayFailure, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Error("payway request rejected",
			"operation", operation,
			"status", resp.StatusCode,
		)
		return nil, fmt.Errorf("%w: status %d", ErrGatewayFailure, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrGatewayFailure, err)
	}

	form, err := url.ParseQuery(string(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrGatewayFailure, err)
	}

	out := ParseForm(form)

	if success, ok := out.Bool("SUCCESS"); ok && !success {
		return nil, ErrGatewayFailure
	}

	if !out.VerifySign(c.cfg.PassphraseIn) {
		return nil, ErrInvalidSignature
	}

	return out, nil
}
