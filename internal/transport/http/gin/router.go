package httpgin

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/leeszaal/deliver-go/internal/arbitrator"
	"github.com/leeszaal/deliver-go/internal/payway"
	"github.com/leeszaal/deliver-go/internal/repository"
	redisrepo "github.com/leeszaal/deliver-go/internal/repository/redis"
	"github.com/leeszaal/deliver-go/internal/service"
	"github.com/leeszaal/deliver-go/internal/service/query"
	"github.com/leeszaal/deliver-go/internal/service/reproduction"
	"github.com/leeszaal/deliver-go/internal/service/request"
	"github.com/leeszaal/deliver-go/internal/service/reservation"
)

func NewRouter(
	svcs *service.Services,
	idem *redisrepo.IdempotencyStore,
	limiter *redisrepo.SlidingWindowLimiter,
	logger *slog.Logger,
	middlewares ...gin.HandlerFunc,
) *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery(), LoggingMiddleware(logger), RequestIDMiddleware(), CORS())
	for _, m := range middlewares {
		if m != nil {
			r.Use(m)
		}
	}

	// health
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Public API
	r.GET("/records/:id/holdings", handleRecordHoldings(svcs))
	r.GET("/records/:id/availability", handleRecordAvailability(svcs))

	r.POST("/reservations", handleCreateReservation(svcs, idem))
	r.GET("/reservations/:id", handleGetReservation(svcs))

	r.POST("/reproductions", handleCreateReproduction(svcs, idem))
	r.GET("/reproductions/confirm", handleGetOffer(svcs, limiter))
	r.POST("/reproductions/confirm", handleConfirmOffer(svcs, limiter))

	// Payment gateway callback
	r.POST("/payway/accept", handleAcceptPayment(svcs))

	// Staff API
	// TODO: add staff auth middleware once the SSO proxy lands
	staff := r.Group("/staff")
	{
		staff.GET("/reservations", handleListReservationsByDate(svcs))
		staff.PUT("/reservations/:id", handleUpdateReservation(svcs))
		staff.POST("/reservations/:id/status", handleUpdateReservationStatus(svcs))
		staff.POST("/reservations/:id/print", handlePrintReservation(svcs))
		staff.POST("/holdings/:id/scan", handleScanHolding(svcs))

		staff.GET("/reproductions/:id", handleGetReproduction(svcs))
		staff.PUT("/reproductions/:id/order-details", handleSupplyOrderDetails(svcs))
		staff.POST("/reproductions/:id/deliver", handleReproductionTransition(svcs, "deliver"))
		staff.POST("/reproductions/:id/complete", handleReproductionTransition(svcs, "complete"))
		staff.POST("/reproductions/:id/cancel", handleReproductionTransition(svcs, "cancel"))
	}

	return r
}

func handleRecordHoldings(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		recordID, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}
		holdings, err := svcs.Query.RecordHoldings(c.Request.Context(), recordID)
		if err != nil {
			respondErr(c, err)
			return
		}
		// ETag + Cache-Control 60s
		writeJSONWithCache(c, http.StatusOK, holdings, "public, max-age=60", true)
	}
}

func handleRecordAvailability(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		recordID, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}
		counts, err := svcs.Query.RecordAvailability(c.Request.Context(), recordID)
		if err != nil {
			respondErr(c, err)
			return
		}
		// ETag + Cache-Control 15s
		writeJSONWithCache(c, http.StatusOK, counts, "public, max-age=15", true)
	}
}

// idemReplay serves the stored response for a replayed Idempotency-Key,
// or acquires the lock for a first attempt. It has written the response
// whenever done is true.
func idemReplay(c *gin.Context, idem *redisrepo.IdempotencyStore, storageKey, idemKey string) (done bool) {
	if payload, ok, _ := idem.GetResult(c.Request.Context(), storageKey); ok {
		c.Header("Idempotency-Key", idemKey)
		c.Data(http.StatusCreated, "application/json; charset=utf-8", []byte(payload))
		return true
	}

	locked, err := idem.AcquireLock(c.Request.Context(), storageKey, 60*time.Second)
	if err != nil {
		respondErr(c, err)
		return true
	}
	if !locked {
		if payload, ok, _ := idem.GetResult(c.Request.Context(), storageKey); ok {
			c.Header("Idempotency-Key", idemKey)
			c.Data(http.StatusCreated, "application/json; charset=utf-8", []byte(payload))
			return true
		}
		c.Header("Retry-After", "1")
		c.JSON(http.StatusConflict, ErrorResponse{Error: "idempotency key in progress"})
		return true
	}

	return false
}

func handleCreateReservation(svcs *service.Services, idem *redisrepo.IdempotencyStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CreateReservationRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}

		date, err := parseDate(req.Date)
		if err != nil {
			badRequest(c, "invalid date (YYYY-MM-DD)")
			return
		}

		idemKey := strings.TrimSpace(c.GetHeader("Idempotency-Key"))
		var idemStorageKey string
		if idem != nil && idemKey != "" {
			idemStorageKey = redisrepo.KeyIdemRequest("reservation", idemKey)
			if idemReplay(c, idem, idemStorageKey, idemKey) {
				return
			}
		}

		in := reservation.CreateInput{
			Name:              req.Name,
			Email:             req.Email,
			Date:              date,
			CheckAvailability: true,
		}
		for _, item := range req.Items {
			in.Items = append(in.Items, reservation.ItemInput{
				HoldingID: item.HoldingID,
				Comment:   item.Comment,
			})
		}

		res, err := svcs.Reservation.Create(c.Request.Context(), in)
		if err != nil {
			if idemStorageKey != "" && idem != nil {
				_ = idem.Release(c.Request.Context(), idemStorageKey)
			}
			respondErr(c, err)
			return
		}

		resp := toReservationResponse(res)

		if idemStorageKey != "" && idem != nil {
			b, _ := json.Marshal(resp)
			_ = idem.SaveResult(c.Request.Context(), idemStorageKey, string(b))
			c.Header("Idempotency-Key", idemKey)
		}

		c.JSON(http.StatusCreated, resp)
	}
}

func handleGetReservation(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}
		res, err := svcs.Query.GetReservation(c.Request.Context(), id)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, toReservationResponse(res))
	}
}

func handleListReservationsByDate(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		day, err := parseDate(c.Query("date"))
		if err != nil {
			badRequest(c, "invalid date (YYYY-MM-DD)")
			return
		}
		list, err := svcs.Query.ListReservationsByDate(c.Request.Context(), day)
		if err != nil {
			respondErr(c, err)
			return
		}
		out := make([]ReservationResponse, 0, len(list))
		for _, res := range list {
			out = append(out, toReservationResponse(res))
		}
		c.JSON(http.StatusOK, out)
	}
}

func handleUpdateReservation(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}
		var req UpdateReservationRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		date, err := parseDate(req.Date)
		if err != nil {
			badRequest(c, "invalid date (YYYY-MM-DD)")
			return
		}

		in := reservation.CreateInput{
			Name:  req.Name,
			Email: req.Email,
			Date:  date,
		}
		for _, item := range req.Items {
			in.Items = append(in.Items, reservation.ItemInput{
				HoldingID: item.HoldingID,
				Comment:   item.Comment,
			})
		}

		res, err := svcs.Reservation.Update(c.Request.Context(), id, in)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, toReservationResponse(res))
	}
}

func handleUpdateReservationStatus(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}
		var req UpdateStatusRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		status, ok := parseReservationStatus(req.Status)
		if !ok {
			badRequest(c, "invalid status")
			return
		}
		if err := svcs.Reservation.UpdateStatus(c.Request.Context(), id, status); err != nil {
			respondErr(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func handlePrintReservation(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}
		always := c.Query("always") == "true"
		if err := svcs.Reservation.Print(c.Request.Context(), id, always); err != nil {
			respondErr(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// handleScanHolding is the reading-room barcode scan: each scan advances
// the holding one step through its physical cycle.
func handleScanHolding(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}
		if err := svcs.Reservation.MarkItem(c.Request.Context(), id); err != nil {
			respondErr(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func handleCreateReproduction(svcs *service.Services, idem *redisrepo.IdempotencyStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CreateReproductionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}

		idemKey := strings.TrimSpace(c.GetHeader("Idempotency-Key"))
		var idemStorageKey string
		if idem != nil && idemKey != "" {
			idemStorageKey = redisrepo.KeyIdemRequest("reproduction", idemKey)
			if idemReplay(c, idem, idemStorageKey, idemKey) {
				return
			}
		}

		in := reproduction.CreateInput{
			Name:  req.Name,
			Email: req.Email,
		}
		for _, item := range req.Items {
			in.Items = append(in.Items, reproduction.ItemInput{
				HoldingID: item.HoldingID,
				Comment:   item.Comment,
			})
		}

		rep, err := svcs.Reproduction.Create(c.Request.Context(), in)
		if err != nil {
			if idemStorageKey != "" && idem != nil {
				_ = idem.Release(c.Request.Context(), idemStorageKey)
			}
			respondErr(c, err)
			return
		}

		resp := toReproductionResponse(rep, false)

		if idemStorageKey != "" && idem != nil {
			b, _ := json.Marshal(resp)
			_ = idem.SaveResult(c.Request.Context(), idemStorageKey, string(b))
			c.Header("Idempotency-Key", idemKey)
		}

		c.JSON(http.StatusCreated, resp)
	}
}

func handleGetReproduction(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}
		rep, err := svcs.Query.GetReproduction(c.Request.Context(), id)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, toReproductionResponse(rep, true))
	}
}

func handleSupplyOrderDetails(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}
		var req OrderDetailsRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}

		details := make([]reproduction.OrderDetailInput, 0, len(req.Items))
		for _, d := range req.Items {
			details = append(details, reproduction.OrderDetailInput{
				HoldingID:    d.HoldingID,
				PriceCents:   d.PriceCents,
				DeliveryDays: d.DeliveryDays,
			})
		}

		if err := svcs.Reproduction.SupplyOrderDetails(c.Request.Context(), id, details); err != nil {
			respondErr(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func rateLimited(c *gin.Context, limiter *redisrepo.SlidingWindowLimiter) bool {
	if limiter == nil {
		return false
	}
	allowed, _, retryAfter, err := limiter.Allow(c.Request.Context(), "ip:"+c.ClientIP())
	if err != nil {
		// Redis trouble must not take the confirmation page down.
		return false
	}
	if !allowed {
		secs := int(retryAfter/time.Second) + 1
		c.Header("Retry-After", strconv.Itoa(secs))
		c.JSON(http.StatusTooManyRequests, ErrorResponse{Error: "rate limited"})
		return true
	}
	return false
}

// handleGetOffer renders the offer behind the customer's token link.
func handleGetOffer(svcs *service.Services, limiter *redisrepo.SlidingWindowLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if rateLimited(c, limiter) {
			return
		}
		token := strings.TrimSpace(c.Query("token"))
		if token == "" {
			badRequest(c, "missing token")
			return
		}
		rep, err := svcs.Query.GetReproductionByToken(c.Request.Context(), token)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, toReproductionResponse(rep, false))
	}
}

func handleConfirmOffer(svcs *service.Services, limiter *redisrepo.SlidingWindowLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if rateLimited(c, limiter) {
			return
		}
		var req ConfirmRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}

		result, err := svcs.Reproduction.Confirm(c.Request.Context(), req.Token)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, ConfirmResponse{
			Status:     result.Reproduction.Status.String(),
			PaymentURL: result.PaymentURL,
		})
	}
}

// handleAcceptPayment is the gateway's server-to-server callback. The
// signature is verified before anything else; a bad signature or a
// refused payment gets a 400 and changes nothing.
func handleAcceptPayment(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := c.Request.ParseForm(); err != nil {
			badRequest(c, "invalid form")
			return
		}

		msg := payway.ParseForm(c.Request.PostForm)

		if err := svcs.Reproduction.AcceptPayment(c.Request.Context(), msg); err != nil {
			respondErr(c, err)
			return
		}
		c.String(http.StatusOK, "OK")
	}
}

func handleReproductionTransition(svcs *service.Services, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}

		var err error
		switch action {
		case "deliver":
			err = svcs.Reproduction.Deliver(c.Request.Context(), id)
		case "complete":
			err = svcs.Reproduction.Complete(c.Request.Context(), id)
		case "cancel":
			err = svcs.Reproduction.Cancel(c.Request.Context(), id)
		}
		if err != nil {
			respondErr(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// --- Helpers ---

func parseInt64Param(c *gin.Context, name string) (int64, bool) {
	s := c.Param(name)
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		badRequest(c, "invalid "+name)
		return 0, false
	}
	return v, true
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: msg})
}

func respondErr(c *gin.Context, err error) {
	if err == nil {
		c.Status(http.StatusNoContent)
		return
	}

	switch {
	// request validation
	case errors.Is(err, request.ErrNoHoldings):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "no holdings"})
		return
	case errors.Is(err, request.ErrClosed):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "record closed for requests"})
		return
	case errors.Is(err, request.ErrInUse):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "holding not available"})
		return
	// arbitration
	case errors.Is(err, arbitrator.ErrOnHold):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "holding already on hold"})
		return
	// reservation service
	case errors.Is(err, reservation.ErrNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "reservation not found"})
		return
	case errors.Is(err, reservation.ErrHoldingNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "holding not found"})
		return
	// reproduction service
	case errors.Is(err, reproduction.ErrNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "reproduction not found"})
		return
	case errors.Is(err, reproduction.ErrHoldingNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "holding not found"})
		return
	case errors.Is(err, reproduction.ErrNotConfirmed):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "reproduction not confirmed"})
		return
	case errors.Is(err, reproduction.ErrIncompleteOrderDetails):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "order details incomplete"})
		return
	case errors.Is(err, reproduction.ErrOrderMismatch):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "order mismatch"})
		return
	case errors.Is(err, reproduction.ErrOrderRegistrationFailure):
		c.JSON(http.StatusBadGateway, ErrorResponse{Error: "payment gateway unavailable"})
		return
	// payment gateway callback
	case errors.Is(err, payway.ErrInvalidSignature):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid signature"})
		return
	case errors.Is(err, payway.ErrPaymentRefused):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "payment refused"})
		return
	// query service
	case errors.Is(err, query.ErrRecordNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "record not found"})
		return
	case errors.Is(err, query.ErrReservationNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "reservation not found"})
		return
	case errors.Is(err, query.ErrReproductionNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "reproduction not found"})
		return
	// persistence
	case errors.Is(err, repository.ErrConflict):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "conflict"})
		return
	case errors.Is(err, repository.ErrNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "not found"})
		return
	}

	c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
}
