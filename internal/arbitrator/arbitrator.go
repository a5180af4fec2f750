package arbitrator

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/leeszaal/deliver-go/internal/domain"
	"github.com/leeszaal/deliver-go/internal/repository"
)

// Handler is the capability set one request kind exposes to the
// arbitrator. Reservation and reproduction services implement it; the
// registry is fixed at boot.
type Handler interface {
	Kind() domain.RequestKind
	// ActiveFor returns this kind's active request on the holding, or nil
	// when it has none.
	ActiveFor(ctx context.Context, r repository.Repos, holding *domain.Holding, filter repository.OnHoldFilter) (domain.Request, error)
	// MarkRequest re-evaluates this kind's bookkeeping for the request
	// after a state-changing action.
	MarkRequest(ctx context.Context, r repository.Repos, req domain.Request) error
	// OnHoldingStatusUpdate lets a non-owning kind react to a holding
	// status change caused by triggering (which may be nil).
	OnHoldingStatusUpdate(ctx context.Context, r repository.Repos, holding *domain.Holding, triggering domain.Request) error
}

// Arbitrator is the single authority on which request currently owns a
// holding, and the only writer of holding statuses. Handlers are held in
// registration order; that order doubles as the arbitration tie-break.
type Arbitrator struct {
	handlers []Handler
	logger   *slog.Logger
}

func New(logger *slog.Logger) *Arbitrator {
	return &Arbitrator{logger: logger}
}

// Register appends a handler. Called once per request kind from the
// composition root before the arbitrator is used; not safe for
// concurrent use afterwards.
func (a *Arbitrator) Register(h Handler) {
	a.handlers = append(a.handlers, h)
}

// ActiveFor resolves the single request that owns the holding right now:
// the earliest creation date across every handler's candidate. Ties are
// broken by handler registration order, then by lower request id, so
// arbitration stays deterministic when two kinds enqueue in the same
// instant. Returns nil when no kind claims the holding.
func (a *Arbitrator) ActiveFor(
	ctx context.Context,
	r repository.Repos,
	holding *domain.Holding,
	filter repository.OnHoldFilter,
) (domain.Request, error) {
	const op = "arbitrator.ActiveFor"

	var best domain.Request

	for _, h := range a.handlers {
		candidate, err := h.ActiveFor(ctx, r, holding, filter)
		if err != nil {
			return nil, fmt.Errorf("%s:%w", op, err)
		}
		if candidate == nil {
			continue
		}

		if best == nil || earlier(candidate, best) {
			best = candidate
		}
	}

	return best, nil
}

func earlier(candidate, best domain.Request) bool {
	if candidate.CreatedAt().Before(best.CreatedAt()) {
		return true
	}
	if best.CreatedAt().Before(candidate.CreatedAt()) {
		return false
	}
	// Same instant: earlier-registered handlers already won by iteration
	// order, so only a same-kind tie remains. Lower id wins.
	return candidate.Kind() == best.Kind() && candidate.RequestID() < best.RequestID()
}

// UpdateHoldingStatus is the sole write path for holding statuses (I1).
// It persists the new status and then fans out to every handler so
// non-owning kinds can react. Each reaction is failure-isolated: one
// handler's error is logged and never blocks another's reaction or the
// update itself.
func (a *Arbitrator) UpdateHoldingStatus(
	ctx context.Context,
	r repository.Repos,
	holding *domain.Holding,
	status domain.HoldingStatus,
	triggering domain.Request,
) error {
	const op = "arbitrator.UpdateHoldingStatus"

	holding.Status = status
	if err := r.Holdings().Save(ctx, holding); err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}

	for _, h := range a.handlers {
		if err := h.OnHoldingStatusUpdate(ctx, r, holding, triggering); err != nil {
			a.logger.Error("holding status fan-out failed",
				"handler", string(h.Kind()),
				"holding", holding.ID,
				"status", string(status),
				"error", err,
			)
		}
	}

	return nil
}

// MarkItemOnHold flags the holding request as provisionally set aside for
// one pending decision. At most one holding request per holding may be on
// hold across all request kinds (I3); a second attempt fails with
// ErrOnHold and leaves the first untouched.
func (a *Arbitrator) MarkItemOnHold(ctx context.Context, r repository.Repos, hr *domain.HoldingRequest) error {
	const op = "arbitrator.MarkItemOnHold"

	count, err := r.Holdings().OnHoldCount(ctx, hr.Holding.ID)
	if err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}
	if count > 0 {
		return fmt.Errorf("%s:%w", op, ErrOnHold)
	}

	hr.OnHold = true

	return nil
}

// MarkItemActive releases the holding's on-hold state: the pending
// decision has been made. Fails with ErrOnHold when nothing is on hold.
func (a *Arbitrator) MarkItemActive(ctx context.Context, r repository.Repos, hr *domain.HoldingRequest) error {
	const op = "arbitrator.MarkItemActive"

	count, err := r.Holdings().OnHoldCount(ctx, hr.Holding.ID)
	if err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}
	if count == 0 {
		return fmt.Errorf("%s:%w", op, ErrOnHold)
	}

	hr.OnHold = false

	return nil
}

// MarkRequest tells every handler to re-evaluate its own bookkeeping for
// the request. Unlike the status fan-out, failures here surface to the
// caller: a missed self-advance is a real inconsistency.
func (a *Arbitrator) MarkRequest(ctx context.Context, r repository.Repos, req domain.Request) error {
	const op = "arbitrator.MarkRequest"

	for _, h := range a.handlers {
		if err := h.MarkRequest(ctx, r, req); err != nil {
			return fmt.Errorf("%s: %s: %w", op, h.Kind(), err)
		}
	}

	return nil
}
