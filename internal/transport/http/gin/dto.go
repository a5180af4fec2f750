package httpgin

import (
	"time"

	"github.com/leeszaal/deliver-go/internal/domain"
)

type ItemInput struct {
	HoldingID int64  `json:"holding_id" binding:"required"`
	Comment   string `json:"comment"`
}

type CreateReservationRequest struct {
	Name  string      `json:"name" binding:"required"`
	Email string      `json:"email" binding:"required,email"`
	Date  string      `json:"date" binding:"required"`
	Items []ItemInput `json:"items" binding:"required,min=1,dive"`
}

type UpdateReservationRequest struct {
	Name  string      `json:"name" binding:"required"`
	Email string      `json:"email" binding:"required,email"`
	Date  string      `json:"date" binding:"required"`
	Items []ItemInput `json:"items" binding:"required,min=1,dive"`
}

type UpdateStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

type CreateReproductionRequest struct {
	Name  string      `json:"name" binding:"required"`
	Email string      `json:"email" binding:"required,email"`
	Items []ItemInput `json:"items" binding:"required,min=1,dive"`
}

type OrderDetailsRequest struct {
	Items []OrderDetailInput `json:"items" binding:"required,min=1,dive"`
}

type OrderDetailInput struct {
	HoldingID    int64 `json:"holding_id" binding:"required"`
	PriceCents   int64 `json:"price_cents" binding:"min=0"`
	DeliveryDays int   `json:"delivery_days" binding:"min=0"`
}

type ConfirmRequest struct {
	Token string `json:"token" binding:"required"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type ItemResponse struct {
	ID           int64  `json:"id"`
	HoldingID    int64  `json:"holding_id"`
	Signature    string `json:"signature"`
	Status       string `json:"status"`
	Completed    bool   `json:"completed"`
	OnHold       bool   `json:"on_hold"`
	Comment      string `json:"comment,omitempty"`
	PriceCents   *int64 `json:"price_cents,omitempty"`
	DeliveryDays *int   `json:"delivery_days,omitempty"`
}

type ReservationResponse struct {
	ID         int64          `json:"id"`
	Name       string         `json:"name"`
	Email      string         `json:"email"`
	Date       string         `json:"date"`
	ReturnDate *string        `json:"return_date,omitempty"`
	Status     string         `json:"status"`
	Printed    bool           `json:"printed"`
	Items      []ItemResponse `json:"items"`
}

type OrderResponse struct {
	ID                int64      `json:"id"`
	GatewayOrderID    int64      `json:"gateway_order_id"`
	TotalCents        int64      `json:"total_cents"`
	PaymentURL        string     `json:"payment_url,omitempty"`
	PaymentAcceptedAt *time.Time `json:"payment_accepted_at,omitempty"`
}

type ReproductionResponse struct {
	ID        int64          `json:"id"`
	Name      string         `json:"name"`
	Email     string         `json:"email"`
	Status    string         `json:"status"`
	Token     string         `json:"token,omitempty"`
	OfferedAt *time.Time     `json:"offered_at,omitempty"`
	Items     []ItemResponse `json:"items"`
	Order     *OrderResponse `json:"order,omitempty"`
}

type ConfirmResponse struct {
	Status     string `json:"status"`
	PaymentURL string `json:"payment_url,omitempty"`
}

const dateLayout = "2006-01-02"

func parseDate(s string) (time.Time, error) {
	return time.Parse(dateLayout, s)
}

func toItemResponses(items []*domain.HoldingRequest) []ItemResponse {
	out := make([]ItemResponse, 0, len(items))
	for _, hr := range items {
		ir := ItemResponse{
			ID:           hr.ID,
			Completed:    hr.Completed,
			OnHold:       hr.OnHold,
			Comment:      hr.Comment,
			PriceCents:   hr.PriceCents,
			DeliveryDays: hr.DeliveryDays,
		}
		if hr.Holding != nil {
			ir.HoldingID = hr.Holding.ID
			ir.Signature = hr.Holding.Signature
			ir.Status = string(hr.Holding.Status)
		}
		out = append(out, ir)
	}
	return out
}

func toReservationResponse(res *domain.Reservation) ReservationResponse {
	resp := ReservationResponse{
		ID:      res.ID,
		Name:    res.Name,
		Email:   res.Email,
		Date:    res.Date.Format(dateLayout),
		Status:  res.Status.String(),
		Printed: res.Printed,
		Items:   toItemResponses(res.Holdings),
	}
	if res.ReturnDate != nil {
		d := res.ReturnDate.Format(dateLayout)
		resp.ReturnDate = &d
	}
	return resp
}

func toReproductionResponse(rep *domain.Reproduction, includeToken bool) ReproductionResponse {
	resp := ReproductionResponse{
		ID:        rep.ID,
		Name:      rep.Name,
		Email:     rep.Email,
		Status:    rep.Status.String(),
		OfferedAt: rep.OfferedAt,
		Items:     toItemResponses(rep.Holdings),
	}
	if includeToken {
		resp.Token = rep.Token
	}
	if rep.Order != nil {
		resp.Order = &OrderResponse{
			ID:                rep.Order.ID,
			GatewayOrderID:    rep.Order.GatewayOrderID,
			TotalCents:        rep.Order.TotalCents,
			PaymentURL:        rep.Order.PaymentURL,
			PaymentAcceptedAt: rep.Order.PaymentAcceptedAt,
		}
	}
	return resp
}

func parseReservationStatus(s string) (domain.ReservationStatus, bool) {
	switch s {
	case "pending":
		return domain.ReservationPending, true
	case "active":
		return domain.ReservationActive, true
	case "completed":
		return domain.ReservationCompleted, true
	default:
		return 0, false
	}
}
