package reservation_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leeszaal/deliver-go/internal/arbitrator"
	"github.com/leeszaal/deliver-go/internal/catalog"
	"github.com/leeszaal/deliver-go/internal/domain"
	"github.com/leeszaal/deliver-go/internal/repository/memory"
	"github.com/leeszaal/deliver-go/internal/service/request"
	"github.com/leeszaal/deliver-go/internal/service/reservation"
)

type recordingNotifier struct {
	pending []int64
}

func (n *recordingNotifier) SendPending(_ context.Context, req domain.Request) error {
	n.pending = append(n.pending, req.RequestID())
	return nil
}

func (n *recordingNotifier) SendOfferReady(context.Context, *domain.Reproduction, string) error {
	return nil
}

func (n *recordingNotifier) SendPaymentReminder(context.Context, *domain.Reproduction) error {
	return nil
}

func (n *recordingNotifier) SendCancelled(context.Context, *domain.Reproduction) error {
	return nil
}

type recordingPrinter struct {
	calls int
	err   error
}

func (p *recordingPrinter) PrintItems(_ context.Context, _ []*domain.HoldingRequest) error {
	p.calls++
	return p.err
}

type fixture struct {
	svc      *reservation.Service
	store    *memory.Store
	notifier *recordingNotifier
	printer  *recordingPrinter
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memory.NewStore()
	arb := arbitrator.New(logger)
	notifier := &recordingNotifier{}
	printer := &recordingPrinter{}

	svc := reservation.New(
		store,
		arb,
		request.NewValidator(catalog.NewStatic()),
		nil,
		nil,
		notifier,
		printer,
		logger,
	)
	arb.Register(svc)

	return &fixture{svc: svc, store: store, notifier: notifier, printer: printer}
}

func (f *fixture) seedHolding(recordID int64, signature string) *domain.Holding {
	return f.store.Seed(&domain.Holding{
		RecordID:  recordID,
		Signature: signature,
		Status:    domain.HoldingAvailable,
	})
}

func createInput(date time.Time, holdings ...*domain.Holding) reservation.CreateInput {
	in := reservation.CreateInput{
		Name:              "A. Visitor",
		Email:             "visitor@example.org",
		Date:              date,
		CheckAvailability: true,
	}
	for _, h := range holdings {
		in.Items = append(in.Items, reservation.ItemInput{HoldingID: h.ID})
	}
	return in
}

func TestCreateReservesHoldings(t *testing.T) {
	f := newFixture(t)
	h1 := f.seedHolding(1, "A 1")
	h2 := f.seedHolding(1, "A 2")

	res, err := f.svc.Create(context.Background(), createInput(time.Now(), h1, h2))
	require.NoError(t, err)

	assert.Equal(t, domain.ReservationPending, res.Status)
	assert.Equal(t, domain.HoldingReserved, h1.Status)
	assert.Equal(t, domain.HoldingReserved, h2.Status)
	assert.Equal(t, []int64{res.ID}, f.notifier.pending, "reading room must hear about the new reservation")
}

func TestCreateRejectsDoubleBooking(t *testing.T) {
	f := newFixture(t)
	h := f.seedHolding(1, "A 1")

	_, err := f.svc.Create(context.Background(), createInput(time.Now(), h))
	require.NoError(t, err)

	_, err = f.svc.Create(context.Background(), createInput(time.Now(), h))
	assert.ErrorIs(t, err, request.ErrInUse)

	// The loser left no trace.
	assert.Len(t, f.notifier.pending, 1)
	assert.Equal(t, domain.HoldingReserved, h.Status)
}

func TestCreateUnknownHolding(t *testing.T) {
	f := newFixture(t)

	in := createInput(time.Now())
	in.Items = []reservation.ItemInput{{HoldingID: 404}}

	_, err := f.svc.Create(context.Background(), in)
	assert.ErrorIs(t, err, reservation.ErrHoldingNotFound)
}

func TestUpdateStatusAdvances(t *testing.T) {
	f := newFixture(t)
	h := f.seedHolding(1, "A 1")

	res, err := f.svc.Create(context.Background(), createInput(time.Now(), h))
	require.NoError(t, err)

	require.NoError(t, f.svc.UpdateStatus(context.Background(), res.ID, domain.ReservationActive))

	got, err := f.svc.Get(context.Background(), res.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ReservationActive, got.Status)
	assert.Equal(t, domain.HoldingInUse, h.Status)
}

func TestUpdateStatusNeverRegresses(t *testing.T) {
	f := newFixture(t)
	h := f.seedHolding(1, "A 1")

	res, err := f.svc.Create(context.Background(), createInput(time.Now(), h))
	require.NoError(t, err)

	require.NoError(t, f.svc.UpdateStatus(context.Background(), res.ID, domain.ReservationActive))

	// Stale screen posts the old status: silently absorbed.
	require.NoError(t, f.svc.UpdateStatus(context.Background(), res.ID, domain.ReservationPending))

	got, err := f.svc.Get(context.Background(), res.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ReservationActive, got.Status)
	assert.Equal(t, domain.HoldingInUse, h.Status)
}

func TestUpdateStatusCompletedReleasesHoldings(t *testing.T) {
	f := newFixture(t)
	h1 := f.seedHolding(1, "A 1")
	h2 := f.seedHolding(1, "A 2")

	res, err := f.svc.Create(context.Background(), createInput(time.Now(), h1, h2))
	require.NoError(t, err)

	require.NoError(t, f.svc.UpdateStatus(context.Background(), res.ID, domain.ReservationCompleted))

	got, err := f.svc.Get(context.Background(), res.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ReservationCompleted, got.Status)
	assert.Equal(t, domain.HoldingAvailable, h1.Status)
	assert.Equal(t, domain.HoldingAvailable, h2.Status)
	for _, hr := range got.Holdings {
		assert.True(t, hr.Completed)
	}
}

func TestMarkItemScanCycle(t *testing.T) {
	f := newFixture(t)
	h := f.seedHolding(1, "A 1")

	res, err := f.svc.Create(context.Background(), createInput(time.Now(), h))
	require.NoError(t, err)

	ctx := context.Background()

	// Hand-out scan: reserved to in_use, reservation becomes active.
	require.NoError(t, f.svc.MarkItem(ctx, h.ID))
	assert.Equal(t, domain.HoldingInUse, h.Status)

	got, err := f.svc.Get(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ReservationActive, got.Status)

	// Return scan: returned folds straight to available and the
	// reservation completes.
	require.NoError(t, f.svc.MarkItem(ctx, h.ID))
	assert.Equal(t, domain.HoldingAvailable, h.Status)

	got, err = f.svc.Get(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ReservationCompleted, got.Status)
	assert.True(t, got.Holdings[0].Completed)
}

func TestMarkItemOnAvailableHoldingIsNoop(t *testing.T) {
	f := newFixture(t)
	h := f.seedHolding(1, "A 1")

	require.NoError(t, f.svc.MarkItem(context.Background(), h.ID))
	assert.Equal(t, domain.HoldingAvailable, h.Status)
}

func TestUpdateMergesHoldings(t *testing.T) {
	f := newFixture(t)
	h1 := f.seedHolding(1, "A 1")
	h2 := f.seedHolding(1, "A 2")
	h3 := f.seedHolding(2, "B 7")

	day := time.Now()

	res, err := f.svc.Create(context.Background(), createInput(day, h1, h2))
	require.NoError(t, err)

	updated, err := f.svc.Update(context.Background(), res.ID, createInput(day, h1, h3))
	require.NoError(t, err)

	require.Len(t, updated.Holdings, 2)
	assert.Equal(t, domain.HoldingReserved, h1.Status)
	assert.Equal(t, domain.HoldingAvailable, h2.Status, "dropped holding returns to the shelf")
	assert.Equal(t, domain.HoldingReserved, h3.Status, "added holding follows the reservation")
}

func TestUpdateUnknownReservation(t *testing.T) {
	f := newFixture(t)
	h := f.seedHolding(1, "A 1")

	_, err := f.svc.Update(context.Background(), 404, createInput(time.Now(), h))
	assert.ErrorIs(t, err, reservation.ErrNotFound)
}

func TestPrintOnlyOnce(t *testing.T) {
	f := newFixture(t)
	h := f.seedHolding(1, "A 1")

	res, err := f.svc.Create(context.Background(), createInput(time.Now(), h))
	require.NoError(t, err)

	ctx := context.Background()

	require.NoError(t, f.svc.Print(ctx, res.ID, false))
	assert.Equal(t, 1, f.printer.calls)

	// Second regular print is skipped.
	require.NoError(t, f.svc.Print(ctx, res.ID, false))
	assert.Equal(t, 1, f.printer.calls)

	// Explicit reprint goes through.
	require.NoError(t, f.svc.Print(ctx, res.ID, true))
	assert.Equal(t, 2, f.printer.calls)
}

func TestPrintFailureIsSoft(t *testing.T) {
	f := newFixture(t)
	f.printer.err = errors.New("paper jam")
	h := f.seedHolding(1, "A 1")

	res, err := f.svc.Create(context.Background(), createInput(time.Now(), h))
	require.NoError(t, err)

	require.NoError(t, f.svc.Print(context.Background(), res.ID, false))

	got, err := f.svc.Get(context.Background(), res.ID)
	require.NoError(t, err)
	assert.False(t, got.Printed, "a failed print must stay retryable")

	// Printer fixed: the next print attempt is not skipped.
	f.printer.err = nil
	require.NoError(t, f.svc.Print(context.Background(), res.ID, false))
	assert.Equal(t, 2, f.printer.calls)
}
