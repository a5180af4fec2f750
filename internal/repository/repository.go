package repository

import (
	"context"
	"time"

	"github.com/leeszaal/deliver-go/internal/domain"
)

// OnHoldFilter narrows "active request for holding" lookups to holding
// requests that are on hold, not on hold, or either.
type OnHoldFilter int

const (
	FilterAll OnHoldFilter = iota
	FilterOnlyOnHold
	FilterOnlyActive
)

// HoldingRepo manages physical holdings. Status writes go through the
// arbitrator; the repo only persists what it is handed.
type HoldingRepo interface {
	Get(ctx context.Context, id int64) (*domain.Holding, error)
	// GetForUpdate locks the holding row for the remainder of the
	// transaction so check-then-act flows cannot double-book.
	GetForUpdate(ctx context.Context, id int64) (*domain.Holding, error)
	GetBySignature(ctx context.Context, recordID int64, signature string) (*domain.Holding, error)
	ListByRecord(ctx context.Context, recordID int64) ([]*domain.Holding, error)
	Save(ctx context.Context, h *domain.Holding) error
	// OnHoldCount counts holding requests currently on hold for the
	// holding, across every request kind.
	OnHoldCount(ctx context.Context, holdingID int64) (int64, error)
	CountsByStatus(ctx context.Context, recordID int64) (*domain.HoldingCounts, error)
}

type ReservationRepo interface {
	Get(ctx context.Context, id int64) (*domain.Reservation, error)
	Save(ctx context.Context, r *domain.Reservation) error
	Remove(ctx context.Context, id int64) error
	// ActiveByHolding returns the earliest-created reservation that is not
	// completed and still references the holding through a non-completed
	// holding request matching the filter, or nil when there is none.
	ActiveByHolding(ctx context.Context, holdingID int64, filter OnHoldFilter) (*domain.Reservation, error)
	ListByDate(ctx context.Context, day time.Time) ([]*domain.Reservation, error)
}

type ReproductionRepo interface {
	Get(ctx context.Context, id int64) (*domain.Reproduction, error)
	GetByToken(ctx context.Context, token string) (*domain.Reproduction, error)
	Save(ctx context.Context, r *domain.Reproduction) error
	Remove(ctx context.Context, id int64) error
	ActiveByHolding(ctx context.Context, holdingID int64, filter OnHoldFilter) (*domain.Reproduction, error)
	// ListOfferedBefore lists reproductions still sitting in
	// has_order_details whose offer went out before the cutoff. Used by
	// the idempotent payment sweeps.
	ListOfferedBefore(ctx context.Context, cutoff time.Time) ([]*domain.Reproduction, error)
}

type OrderRepo interface {
	Get(ctx context.Context, id int64) (*domain.Order, error)
	GetByReproduction(ctx context.Context, reproductionID int64) (*domain.Order, error)
	Save(ctx context.Context, o *domain.Order) error
}

// Repos is the set of repositories bound to one transactional scope.
type Repos interface {
	Holdings() HoldingRepo
	Reservations() ReservationRepo
	Reproductions() ReproductionRepo
	Orders() OrderRepo
}

// AfterCommit runs after the enclosing unit of work committed.
type AfterCommit func(ctx context.Context)

// UnitOfWork applies fn atomically: either every save inside fn is
// persisted or none is. After-commit hooks run only on success, outside
// the transaction, and are the place for cache invalidation and
// notifications.
type UnitOfWork interface {
	Do(ctx context.Context, fn func(ctx context.Context, r Repos, after func(AfterCommit)) error) error
}
