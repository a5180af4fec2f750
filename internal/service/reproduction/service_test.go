package reproduction_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leeszaal/deliver-go/internal/arbitrator"
	"github.com/leeszaal/deliver-go/internal/catalog"
	"github.com/leeszaal/deliver-go/internal/domain"
	"github.com/leeszaal/deliver-go/internal/payway"
	"github.com/leeszaal/deliver-go/internal/repository/memory"
	"github.com/leeszaal/deliver-go/internal/service/reproduction"
	"github.com/leeszaal/deliver-go/internal/service/request"
)

const (
	passOut = "pass-out"
	passIn  = "pass-in"
)

type recordingNotifier struct {
	pending   int
	offerURLs []string
	reminders int
	cancels   int
}

func (n *recordingNotifier) SendPending(context.Context, domain.Request) error {
	n.pending++
	return nil
}

func (n *recordingNotifier) SendOfferReady(_ context.Context, _ *domain.Reproduction, confirmURL string) error {
	n.offerURLs = append(n.offerURLs, confirmURL)
	return nil
}

func (n *recordingNotifier) SendPaymentReminder(context.Context, *domain.Reproduction) error {
	n.reminders++
	return nil
}

func (n *recordingNotifier) SendCancelled(context.Context, *domain.Reproduction) error {
	n.cancels++
	return nil
}

// fakeGateway emulates the payment gateway on the wire, answering signed
// form messages the way the real one does.
type fakeGateway struct {
	srv       *httptest.Server
	registers atomic.Int64
	refunds   atomic.Int64
	failNext  atomic.Bool
}

func newFakeGateway(t *testing.T) *fakeGateway {
	t.Helper()

	g := &fakeGateway{}
	g.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if g.failNext.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		require.NoError(t, r.ParseForm())
		in := payway.ParseForm(r.PostForm)
		require.True(t, in.VerifySign(passOut))

		out := payway.NewMessage()
		out.Set("SUCCESS", "true")

		switch {
		case strings.HasSuffix(r.URL.Path, "/createOrder"):
			n := g.registers.Add(1)
			out.SetInt64("ORDERID", 9000+n)
			out.Set("PAYMENTURL", "https://pay.example.org/order")
		case strings.HasSuffix(r.URL.Path, "/refundOrder"):
			g.refunds.Add(1)
		}

		out.Sign(passIn)
		_, _ = w.Write([]byte(out.Form().Encode()))
	}))
	t.Cleanup(g.srv.Close)

	return g
}

type fixture struct {
	svc      *reproduction.Service
	store    *memory.Store
	catalog  *catalog.Static
	notifier *recordingNotifier
	gateway  *fakeGateway
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memory.NewStore()
	arb := arbitrator.New(logger)
	cat := catalog.NewStatic()
	notifier := &recordingNotifier{}
	gateway := newFakeGateway(t)

	pay := payway.New(payway.Config{
		BaseURL:       gateway.srv.URL,
		Project:       "readingroom",
		PassphraseOut: passOut,
		PassphraseIn:  passIn,
	}, logger)

	svc := reproduction.New(
		store,
		arb,
		request.NewValidator(cat),
		pay,
		cat,
		nil,
		nil,
		notifier,
		logger,
		reproduction.Config{ConfirmBaseURL: "https://example.org/confirm"},
	)
	arb.Register(svc)

	return &fixture{svc: svc, store: store, catalog: cat, notifier: notifier, gateway: gateway}
}

func (f *fixture) seedHolding(recordID int64, signature string) *domain.Holding {
	return f.store.Seed(&domain.Holding{
		RecordID:  recordID,
		Signature: signature,
		Status:    domain.HoldingAvailable,
	})
}

func (f *fixture) create(t *testing.T, holdings ...*domain.Holding) *domain.Reproduction {
	t.Helper()

	in := reproduction.CreateInput{
		Name:  "A. Customer",
		Email: "customer@example.org",
	}
	for _, h := range holdings {
		in.Items = append(in.Items, reproduction.ItemInput{HoldingID: h.ID})
	}

	rep, err := f.svc.Create(context.Background(), in)
	require.NoError(t, err)
	return rep
}

func (f *fixture) priceAll(t *testing.T, rep *domain.Reproduction, cents int64) {
	t.Helper()

	details := make([]reproduction.OrderDetailInput, 0, len(rep.Holdings))
	for _, hr := range rep.Holdings {
		details = append(details, reproduction.OrderDetailInput{
			HoldingID:    hr.Holding.ID,
			PriceCents:   cents,
			DeliveryDays: 5,
		})
	}
	require.NoError(t, f.svc.SupplyOrderDetails(context.Background(), rep.ID, details))
}

func TestCreateWaitsForOrderDetails(t *testing.T) {
	f := newFixture(t)
	h := f.seedHolding(1, "A 1")

	rep := f.create(t, h)

	assert.Equal(t, domain.ReproductionWaitingForOrderDetails, rep.Status)
	assert.NotEmpty(t, rep.Token)
	assert.Equal(t, domain.HoldingAvailable, h.Status, "a reproduction claims no shelf space up front")
	assert.Equal(t, 1, f.notifier.pending)
}

func TestSupplyOrderDetailsAdvancesOnlyWhenComplete(t *testing.T) {
	f := newFixture(t)
	h1 := f.seedHolding(1, "A 1")
	h2 := f.seedHolding(1, "A 2")

	rep := f.create(t, h1, h2)
	ctx := context.Background()

	// Pricing one of two holdings is not an offer yet.
	err := f.svc.SupplyOrderDetails(ctx, rep.ID, []reproduction.OrderDetailInput{
		{HoldingID: h1.ID, PriceCents: 500, DeliveryDays: 3},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.ReproductionWaitingForOrderDetails, rep.Status)
	assert.Nil(t, rep.OfferedAt)
	assert.Empty(t, f.notifier.offerURLs)

	// The customer cannot confirm a half-priced offer either.
	_, err = f.svc.Confirm(ctx, rep.Token)
	assert.ErrorIs(t, err, reproduction.ErrIncompleteOrderDetails)

	// The second price completes the offer.
	err = f.svc.SupplyOrderDetails(ctx, rep.ID, []reproduction.OrderDetailInput{
		{HoldingID: h2.ID, PriceCents: 750, DeliveryDays: 3},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.ReproductionHasOrderDetails, rep.Status)
	require.NotNil(t, rep.OfferedAt)

	require.Len(t, f.notifier.offerURLs, 1)
	assert.Equal(t, "https://example.org/confirm?token="+rep.Token, f.notifier.offerURLs[0])
}

func TestConfirmFreeActivatesWithoutOrder(t *testing.T) {
	f := newFixture(t)
	h := f.seedHolding(1, "A 1")

	rep := f.create(t, h)
	f.priceAll(t, rep, 0)

	result, err := f.svc.Confirm(context.Background(), rep.Token)
	require.NoError(t, err)

	assert.Empty(t, result.PaymentURL)
	assert.Equal(t, domain.ReproductionActive, rep.Status)
	assert.Equal(t, int64(0), f.gateway.registers.Load(), "free reproductions never touch the gateway")
}

func TestConfirmPaidRegistersExactlyOneOrder(t *testing.T) {
	f := newFixture(t)
	h := f.seedHolding(1, "A 1")

	rep := f.create(t, h)
	f.priceAll(t, rep, 1250)

	ctx := context.Background()

	result, err := f.svc.Confirm(ctx, rep.Token)
	require.NoError(t, err)
	assert.Equal(t, "https://pay.example.org/order", result.PaymentURL)
	assert.Equal(t, domain.ReproductionConfirmed, rep.Status)

	// The link is clicked twice: same order, one registration.
	result2, err := f.svc.Confirm(ctx, rep.Token)
	require.NoError(t, err)
	assert.Equal(t, result.PaymentURL, result2.PaymentURL)
	assert.Equal(t, int64(1), f.gateway.registers.Load())

	got, err := f.svc.Get(ctx, rep.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Order)
	assert.Equal(t, int64(1250), got.Order.TotalCents)
	assert.False(t, got.Order.Paid())
}

func TestConfirmSurvivesGatewayOutage(t *testing.T) {
	f := newFixture(t)
	h := f.seedHolding(1, "A 1")

	rep := f.create(t, h)
	f.priceAll(t, rep, 1250)

	ctx := context.Background()

	f.gateway.failNext.Store(true)
	_, err := f.svc.Confirm(ctx, rep.Token)
	assert.ErrorIs(t, err, reproduction.ErrOrderRegistrationFailure)

	// The confirmation itself committed; only the order is missing.
	got, err := f.svc.Get(ctx, rep.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ReproductionConfirmed, got.Status)
	assert.Nil(t, got.Order)

	// Gateway back up: confirming again just retries registration.
	f.gateway.failNext.Store(false)
	result, err := f.svc.Confirm(ctx, rep.Token)
	require.NoError(t, err)
	assert.NotEmpty(t, result.PaymentURL)
}

func (f *fixture) confirmPaid(t *testing.T, holdings ...*domain.Holding) *domain.Reproduction {
	t.Helper()

	rep := f.create(t, holdings...)
	f.priceAll(t, rep, 1250)
	_, err := f.svc.Confirm(context.Background(), rep.Token)
	require.NoError(t, err)
	return rep
}

func paymentCallback(t *testing.T, rep *domain.Reproduction, passphrase string) *payway.Message {
	t.Helper()

	require.NotNil(t, rep.Order, "fixture must have registered an order")

	msg := payway.NewMessage()
	msg.Set("SUCCESS", "true")
	msg.SetInt64("USERID", rep.ID)
	msg.SetInt64("ORDERID", rep.Order.GatewayOrderID)
	msg.Sign(passphrase)
	return msg
}

func (f *fixture) reload(t *testing.T, id int64) *domain.Reproduction {
	t.Helper()
	rep, err := f.svc.Get(context.Background(), id)
	require.NoError(t, err)
	return rep
}

func TestAcceptPayment(t *testing.T) {
	f := newFixture(t)
	h := f.seedHolding(1, "A 1")

	rep := f.confirmPaid(t, h)
	rep = f.reload(t, rep.ID)

	err := f.svc.AcceptPayment(context.Background(), paymentCallback(t, rep, passIn))
	require.NoError(t, err)

	got := f.reload(t, rep.ID)
	assert.Equal(t, domain.ReproductionActive, got.Status)
	require.NotNil(t, got.Order)
	assert.True(t, got.Order.Paid())
}

func TestAcceptPaymentForgedSignature(t *testing.T) {
	f := newFixture(t)
	h := f.seedHolding(1, "A 1")

	rep := f.confirmPaid(t, h)
	rep = f.reload(t, rep.ID)

	// Signed with the wrong secret: rejected before any state change.
	err := f.svc.AcceptPayment(context.Background(), paymentCallback(t, rep, "forged"))
	assert.ErrorIs(t, err, payway.ErrInvalidSignature)

	got := f.reload(t, rep.ID)
	assert.Equal(t, domain.ReproductionConfirmed, got.Status)
	assert.False(t, got.Order.Paid())
}

func TestAcceptPaymentRefused(t *testing.T) {
	f := newFixture(t)
	h := f.seedHolding(1, "A 1")

	rep := f.confirmPaid(t, h)
	rep = f.reload(t, rep.ID)

	msg := payway.NewMessage()
	msg.Set("SUCCESS", "false")
	msg.SetInt64("USERID", rep.ID)
	msg.SetInt64("ORDERID", rep.Order.GatewayOrderID)
	msg.Sign(passIn)

	err := f.svc.AcceptPayment(context.Background(), msg)
	assert.ErrorIs(t, err, payway.ErrPaymentRefused)

	got := f.reload(t, rep.ID)
	assert.Equal(t, domain.ReproductionConfirmed, got.Status)
}

func TestAcceptPaymentOrderMismatch(t *testing.T) {
	f := newFixture(t)
	h := f.seedHolding(1, "A 1")

	rep := f.confirmPaid(t, h)
	rep = f.reload(t, rep.ID)

	msg := payway.NewMessage()
	msg.Set("SUCCESS", "true")
	msg.SetInt64("USERID", rep.ID)
	msg.SetInt64("ORDERID", rep.Order.GatewayOrderID+1)
	msg.Sign(passIn)

	err := f.svc.AcceptPayment(context.Background(), msg)
	assert.ErrorIs(t, err, reproduction.ErrOrderMismatch)

	got := f.reload(t, rep.ID)
	assert.False(t, got.Order.Paid())
}

func TestAcceptPaymentCompletesWhenFullyDigital(t *testing.T) {
	f := newFixture(t)
	h := f.seedHolding(1, "A 1")
	f.catalog.SorHoldings[h.ID] = true

	rep := f.confirmPaid(t, h)
	rep = f.reload(t, rep.ID)

	err := f.svc.AcceptPayment(context.Background(), paymentCallback(t, rep, passIn))
	require.NoError(t, err)

	got := f.reload(t, rep.ID)
	assert.Equal(t, domain.ReproductionCompleted, got.Status)
	assert.True(t, got.Holdings[0].Completed)
}

func TestCancelRefundsPaidOrder(t *testing.T) {
	f := newFixture(t)
	h := f.seedHolding(1, "A 1")

	rep := f.confirmPaid(t, h)
	rep = f.reload(t, rep.ID)

	ctx := context.Background()
	require.NoError(t, f.svc.AcceptPayment(ctx, paymentCallback(t, rep, passIn)))

	require.NoError(t, f.svc.Cancel(ctx, rep.ID))

	got := f.reload(t, rep.ID)
	assert.Equal(t, domain.ReproductionCancelled, got.Status)
	assert.Equal(t, 1, f.notifier.cancels)
	assert.Equal(t, int64(1), f.gateway.refunds.Load())
}

func TestCancelUnpaidOrderSkipsRefund(t *testing.T) {
	f := newFixture(t)
	h := f.seedHolding(1, "A 1")

	rep := f.confirmPaid(t, h)

	require.NoError(t, f.svc.Cancel(context.Background(), rep.ID))

	assert.Equal(t, int64(0), f.gateway.refunds.Load())
	assert.Equal(t, 1, f.notifier.cancels)
}

func TestCancelUnpaidSweepIsIdempotent(t *testing.T) {
	f := newFixture(t)
	h := f.seedHolding(1, "A 1")

	rep := f.create(t, h)
	f.priceAll(t, rep, 1250)

	// Backdate the offer past the threshold.
	past := time.Now().Add(-48 * time.Hour)
	rep.OfferedAt = &past

	ctx := context.Background()

	cancelled, err := f.svc.CancelUnpaid(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, cancelled)
	assert.Equal(t, domain.ReproductionCancelled, f.reload(t, rep.ID).Status)

	// A second sweep finds nothing left to do.
	cancelled, err = f.svc.CancelUnpaid(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 0, cancelled)
	assert.Equal(t, 1, f.notifier.cancels)
}

func TestSendRemindersOnlyOnce(t *testing.T) {
	f := newFixture(t)
	h := f.seedHolding(1, "A 1")

	rep := f.create(t, h)
	f.priceAll(t, rep, 1250)

	past := time.Now().Add(-48 * time.Hour)
	rep.OfferedAt = &past

	ctx := context.Background()

	sent, err := f.svc.SendReminders(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
	assert.True(t, f.reload(t, rep.ID).ReminderSent)

	sent, err = f.svc.SendReminders(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 0, sent)
	assert.Equal(t, 1, f.notifier.reminders)
}

func TestDeliverAfterComplete(t *testing.T) {
	f := newFixture(t)
	h := f.seedHolding(1, "A 1")

	rep := f.create(t, h)
	f.priceAll(t, rep, 0)

	ctx := context.Background()
	_, err := f.svc.Confirm(ctx, rep.Token)
	require.NoError(t, err)

	require.NoError(t, f.svc.Complete(ctx, rep.ID))
	assert.Equal(t, domain.ReproductionCompleted, f.reload(t, rep.ID).Status)

	require.NoError(t, f.svc.Deliver(ctx, rep.ID))
	assert.Equal(t, domain.ReproductionDelivered, f.reload(t, rep.ID).Status)

	// Delivered is terminal: cancel is a no-op on status.
	require.NoError(t, f.svc.Cancel(ctx, rep.ID))
	assert.Equal(t, domain.ReproductionDelivered, f.reload(t, rep.ID).Status)
}

func TestConfirmUnknownToken(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Confirm(context.Background(), "nope")
	assert.ErrorIs(t, err, reproduction.ErrNotFound)
}
