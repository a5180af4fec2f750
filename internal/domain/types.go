package domain

import (
	"time"
)

type HoldingStatus string

const (
	HoldingAvailable HoldingStatus = "available"
	HoldingReserved  HoldingStatus = "reserved"
	HoldingInUse     HoldingStatus = "in_use"
	// HoldingReturned is internal to the reading-room scan cycle: a holding
	// scanned back in stays "returned" only until the owning reservation
	// re-evaluates and folds it to "available".
	HoldingReturned HoldingStatus = "returned"
)

type Restriction string

const (
	RestrictionOpen       Restriction = "open"
	RestrictionRestricted Restriction = "restricted"
	RestrictionClosed     Restriction = "closed"
)

type RequestKind string

const (
	KindReservation  RequestKind = "reservation"
	KindReproduction RequestKind = "reproduction"
)

// Holding is one physical, individually requestable copy of a record.
// Its status is written exclusively through the arbitrator.
type Holding struct {
	ID        int64
	RecordID  int64
	Signature string
	Status    HoldingStatus
}

// HoldingRequest joins one holding to one request and carries the
// per-item state. PriceCents and DeliveryDays are set by staff for
// reproduction offers only.
type HoldingRequest struct {
	ID           int64
	Holding      *Holding
	Request      Request
	Completed    bool
	OnHold       bool
	Comment      string
	PriceCents   *int64
	DeliveryDays *int
}

func (hr *HoldingRequest) HasPrice() bool {
	return hr.PriceCents != nil
}

// Request is the closed set of visitor transaction kinds. Reservation and
// Reproduction are the only implementations.
type Request interface {
	Kind() RequestKind
	RequestID() int64
	CreatedAt() time.Time
	Items() []*HoldingRequest
	SetItems([]*HoldingRequest)
}

// RequestBase holds the fields shared by every request kind.
type RequestBase struct {
	ID           int64
	CreationDate time.Time
	Name         string
	Email        string
	Printed      bool
	Holdings     []*HoldingRequest
}

func (b *RequestBase) RequestID() int64          { return b.ID }
func (b *RequestBase) CreatedAt() time.Time      { return b.CreationDate }
func (b *RequestBase) Items() []*HoldingRequest  { return b.Holdings }
func (b *RequestBase) SetItems(hrs []*HoldingRequest) { b.Holdings = hrs }

// ItemFor returns the holding request attached to the given holding, or nil.
func (b *RequestBase) ItemFor(holdingID int64) *HoldingRequest {
	for _, hr := range b.Holdings {
		if hr.Holding != nil && hr.Holding.ID == holdingID {
			return hr
		}
	}
	return nil
}

type ReservationStatus int

const (
	ReservationPending ReservationStatus = iota
	ReservationActive
	ReservationCompleted
)

func (s ReservationStatus) Ordinal() int { return int(s) }

func (s ReservationStatus) String() string {
	switch s {
	case ReservationPending:
		return "pending"
	case ReservationActive:
		return "active"
	case ReservationCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// Reservation is a request to view holdings on-site on a given day.
type Reservation struct {
	RequestBase
	Date       time.Time
	ReturnDate *time.Time
	Status     ReservationStatus
}

func (r *Reservation) Kind() RequestKind { return KindReservation }

type ReproductionStatus int

const (
	ReproductionWaitingForOrderDetails ReproductionStatus = iota
	ReproductionHasOrderDetails
	ReproductionConfirmed
	ReproductionActive
	ReproductionCompleted
	ReproductionDelivered
	ReproductionCancelled
)

func (s ReproductionStatus) Ordinal() int { return int(s) }

func (s ReproductionStatus) String() string {
	switch s {
	case ReproductionWaitingForOrderDetails:
		return "waiting_for_order_details"
	case ReproductionHasOrderDetails:
		return "has_order_details"
	case ReproductionConfirmed:
		return "confirmed"
	case ReproductionActive:
		return "active"
	case ReproductionCompleted:
		return "completed"
	case ReproductionDelivered:
		return "delivered"
	case ReproductionCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Reproduction is a request for off-site duplication of holdings. Token
// authorizes the customer-facing confirmation link without a login.
type Reproduction struct {
	RequestBase
	Status ReproductionStatus
	Token  string
	Order  *Order
	// OfferedAt is when staff finished pricing and the offer went out to
	// the customer. The payment sweeps key off it.
	OfferedAt    *time.Time
	ReminderSent bool
}

func (r *Reproduction) Kind() RequestKind { return KindReproduction }

// TotalCents sums the per-holding prices. The second return reports
// whether every holding request has been priced.
func (r *Reproduction) TotalCents() (int64, bool) {
	var total int64
	for _, hr := range r.Holdings {
		if !hr.HasPrice() {
			return 0, false
		}
		total += *hr.PriceCents
	}
	return total, true
}

// IsForFree reports whether the reproduction is fully priced at zero.
// Free reproductions skip the payment gateway entirely.
func (r *Reproduction) IsForFree() bool {
	total, complete := r.TotalCents()
	return complete && total == 0
}

// Order tracks the single payment for a reproduction. GatewayOrderID is
// the external gateway's reference; the order itself is created at most
// once per reproduction and refreshed, never replaced.
type Order struct {
	ID                int64
	ReproductionID    int64
	GatewayOrderID    int64
	TotalCents        int64
	PaymentURL        string
	PaymentAcceptedAt *time.Time
	CreatedAt         time.Time
}

func (o *Order) Paid() bool { return o.PaymentAcceptedAt != nil }

// HoldingCounts aggregates a record's holdings by status.
type HoldingCounts struct {
	Available int64 `json:"available"`
	Reserved  int64 `json:"reserved"`
	InUse     int64 `json:"in_use"`
	Total     int64 `json:"total"`
}
