package httpgin

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leeszaal/deliver-go/internal/catalog"
	"github.com/leeszaal/deliver-go/internal/domain"
	"github.com/leeszaal/deliver-go/internal/notify"
	"github.com/leeszaal/deliver-go/internal/payway"
	"github.com/leeszaal/deliver-go/internal/printing"
	"github.com/leeszaal/deliver-go/internal/repository/memory"
	"github.com/leeszaal/deliver-go/internal/service"
)

const (
	gwPassOut = "pass-out"
	gwPassIn  = "pass-in"
)

type api struct {
	router *gin.Engine
	store  *memory.Store
}

func newAPI(t *testing.T) *api {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memory.NewStore()

	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		in := payway.ParseForm(r.PostForm)
		require.True(t, in.VerifySign(gwPassOut))

		out := payway.NewMessage()
		out.Set("SUCCESS", "true")
		if strings.HasSuffix(r.URL.Path, "/createOrder") {
			out.SetInt64("ORDERID", 4242)
			out.Set("PAYMENTURL", "https://pay.example.org/4242")
		}
		out.Sign(gwPassIn)
		_, _ = w.Write([]byte(out.Form().Encode()))
	}))
	t.Cleanup(gateway.Close)

	pay := payway.New(payway.Config{
		BaseURL:       gateway.URL,
		Project:       "readingroom",
		PassphraseOut: gwPassOut,
		PassphraseIn:  gwPassIn,
	}, logger)

	svcs := service.NewServices(
		store,
		catalog.NewStatic(),
		pay,
		nil,
		nil,
		notify.NewLogNotifier(logger),
		printing.NewLogPrinter(logger),
		logger,
		service.Config{},
	)

	return &api{
		router: NewRouter(svcs, nil, nil, logger),
		store:  store,
	}
}

func (a *api) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}

	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func (a *api) postForm(t *testing.T, path string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func (a *api) seedHolding(recordID int64, signature string) *domain.Holding {
	return a.store.Seed(&domain.Holding{
		RecordID:  recordID,
		Signature: signature,
		Status:    domain.HoldingAvailable,
	})
}

func TestHealthz(t *testing.T) {
	a := newAPI(t)

	w := a.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRecordEndpoints(t *testing.T) {
	a := newAPI(t)
	a.seedHolding(12, "A 1")
	a.seedHolding(12, "A 2")

	w := a.do(t, http.MethodGet, "/records/12/holdings", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("ETag"))
	views := decode[[]map[string]any](t, w)
	assert.Len(t, views, 2)

	// A matching ETag turns the poll into a 304.
	req := httptest.NewRequest(http.MethodGet, "/records/12/holdings", nil)
	req.Header.Set("If-None-Match", w.Header().Get("ETag"))
	w2 := httptest.NewRecorder()
	a.router.ServeHTTP(w2, req)
	assert.Equal(t, http.StatusNotModified, w2.Code)

	w = a.do(t, http.MethodGet, "/records/12/availability", nil)
	require.Equal(t, http.StatusOK, w.Code)
	counts := decode[domain.HoldingCounts](t, w)
	assert.Equal(t, int64(2), counts.Total)
	assert.Equal(t, int64(2), counts.Available)

	w = a.do(t, http.MethodGet, "/records/999/holdings", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestReservationLifecycleOverHTTP(t *testing.T) {
	a := newAPI(t)
	h := a.seedHolding(1, "A 1")

	body := CreateReservationRequest{
		Name:  "A. Visitor",
		Email: "visitor@example.org",
		Date:  time.Now().Format(dateLayout),
		Items: []ItemInput{{HoldingID: h.ID}},
	}

	w := a.do(t, http.MethodPost, "/reservations", body)
	require.Equal(t, http.StatusCreated, w.Code)
	created := decode[ReservationResponse](t, w)
	assert.Equal(t, "pending", created.Status)
	require.Len(t, created.Items, 1)
	assert.Equal(t, "reserved", created.Items[0].Status)

	// The same holding again: arbitration turns it into a conflict.
	w = a.do(t, http.MethodPost, "/reservations", body)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = a.do(t, http.MethodGet, fmt.Sprintf("/reservations/%d", created.ID), nil)
	require.Equal(t, http.StatusOK, w.Code)

	// Scan out, scan back in.
	w = a.do(t, http.MethodPost, fmt.Sprintf("/staff/holdings/%d/scan", h.ID), nil)
	require.Equal(t, http.StatusNoContent, w.Code)
	w = a.do(t, http.MethodPost, fmt.Sprintf("/staff/holdings/%d/scan", h.ID), nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	w = a.do(t, http.MethodGet, fmt.Sprintf("/reservations/%d", created.ID), nil)
	require.Equal(t, http.StatusOK, w.Code)
	got := decode[ReservationResponse](t, w)
	assert.Equal(t, "completed", got.Status)
	assert.Equal(t, "available", got.Items[0].Status)
}

func TestReservationValidation(t *testing.T) {
	a := newAPI(t)

	w := a.do(t, http.MethodPost, "/reservations", CreateReservationRequest{
		Name:  "A. Visitor",
		Email: "not-an-email",
		Date:  "2026-03-01",
		Items: []ItemInput{{HoldingID: 1}},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = a.do(t, http.MethodPost, "/reservations", map[string]any{
		"name":  "A. Visitor",
		"email": "visitor@example.org",
		"date":  "01-03-2026",
		"items": []map[string]any{{"holding_id": 1}},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestReproductionPaymentFlowOverHTTP(t *testing.T) {
	a := newAPI(t)
	h := a.seedHolding(1, "A 1")

	w := a.do(t, http.MethodPost, "/reproductions", CreateReproductionRequest{
		Name:  "A. Customer",
		Email: "customer@example.org",
		Items: []ItemInput{{HoldingID: h.ID}},
	})
	require.Equal(t, http.StatusCreated, w.Code)
	created := decode[ReproductionResponse](t, w)
	assert.Equal(t, "waiting_for_order_details", created.Status)
	assert.Empty(t, created.Token, "public response must not leak the token")

	// Staff view carries the token; staff price the request.
	w = a.do(t, http.MethodGet, fmt.Sprintf("/staff/reproductions/%d", created.ID), nil)
	require.Equal(t, http.StatusOK, w.Code)
	staffView := decode[ReproductionResponse](t, w)
	require.NotEmpty(t, staffView.Token)

	w = a.do(t, http.MethodPut, fmt.Sprintf("/staff/reproductions/%d/order-details", created.ID), OrderDetailsRequest{
		Items: []OrderDetailInput{{HoldingID: h.ID, PriceCents: 1250, DeliveryDays: 5}},
	})
	require.Equal(t, http.StatusNoContent, w.Code)

	// The customer opens the offer link and confirms.
	w = a.do(t, http.MethodGet, "/reproductions/confirm?token="+staffView.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = a.do(t, http.MethodPost, "/reproductions/confirm", ConfirmRequest{Token: staffView.Token})
	require.Equal(t, http.StatusOK, w.Code)
	confirmed := decode[ConfirmResponse](t, w)
	assert.Equal(t, "confirmed", confirmed.Status)
	assert.Equal(t, "https://pay.example.org/4242", confirmed.PaymentURL)

	// Gateway callback: forged first, then genuine.
	forged := payway.NewMessage()
	forged.Set("SUCCESS", "true")
	forged.SetInt64("USERID", created.ID)
	forged.SetInt64("ORDERID", 4242)
	forged.Sign("wrong-passphrase")

	w = a.postForm(t, "/payway/accept", forged.Form())
	assert.Equal(t, http.StatusBadRequest, w.Code)

	callback := payway.NewMessage()
	callback.Set("SUCCESS", "true")
	callback.SetInt64("USERID", created.ID)
	callback.SetInt64("ORDERID", 4242)
	callback.Sign(gwPassIn)

	w = a.postForm(t, "/payway/accept", callback.Form())
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "OK", w.Body.String())

	w = a.do(t, http.MethodGet, fmt.Sprintf("/staff/reproductions/%d", created.ID), nil)
	require.Equal(t, http.StatusOK, w.Code)
	paid := decode[ReproductionResponse](t, w)
	assert.Equal(t, "active", paid.Status)
	require.NotNil(t, paid.Order)
	assert.NotNil(t, paid.Order.PaymentAcceptedAt)
}

func TestConfirmBeforePricing(t *testing.T) {
	a := newAPI(t)
	h := a.seedHolding(1, "A 1")

	w := a.do(t, http.MethodPost, "/reproductions", CreateReproductionRequest{
		Name:  "A. Customer",
		Email: "customer@example.org",
		Items: []ItemInput{{HoldingID: h.ID}},
	})
	require.Equal(t, http.StatusCreated, w.Code)
	created := decode[ReproductionResponse](t, w)

	staffView := decode[ReproductionResponse](t, a.do(t, http.MethodGet, fmt.Sprintf("/staff/reproductions/%d", created.ID), nil))

	w = a.do(t, http.MethodPost, "/reproductions/confirm", ConfirmRequest{Token: staffView.Token})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestUnknownRoutesAndIDs(t *testing.T) {
	a := newAPI(t)

	w := a.do(t, http.MethodGet, "/reservations/123", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = a.do(t, http.MethodGet, "/reservations/abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = a.do(t, http.MethodPost, "/reproductions/confirm", ConfirmRequest{Token: "nope"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}
