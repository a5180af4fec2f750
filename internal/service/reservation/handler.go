package reservation

import (
	"context"

	"github.com/leeszaal/deliver-go/internal/domain"
	"github.com/leeszaal/deliver-go/internal/repository"
)

// The service doubles as the reservation handler in the arbitrator's
// registry.

func (s *Service) Kind() domain.RequestKind { return domain.KindReservation }

func (s *Service) ActiveFor(
	ctx context.Context,
	r repository.Repos,
	holding *domain.Holding,
	filter repository.OnHoldFilter,
) (domain.Request, error) {
	res, err := r.Reservations().ActiveByHolding(ctx, holding.ID, filter)
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, nil
	}
	return res, nil
}

func (s *Service) MarkRequest(ctx context.Context, r repository.Repos, req domain.Request) error {
	res, ok := req.(*domain.Reservation)
	if !ok {
		return nil
	}

	if err := s.markReservation(ctx, r, res); err != nil {
		return err
	}

	return r.Reservations().Save(ctx, res)
}

// OnHoldingStatusUpdate re-evaluates the active reservation on a holding
// whose status another request kind changed, e.g. a reproduction
// releasing an item a reservation is still waiting on.
func (s *Service) OnHoldingStatusUpdate(
	ctx context.Context,
	r repository.Repos,
	holding *domain.Holding,
	triggering domain.Request,
) error {
	if triggering != nil && triggering.Kind() == domain.KindReservation {
		return nil
	}

	res, err := r.Reservations().ActiveByHolding(ctx, holding.ID, repository.FilterAll)
	if err != nil {
		return err
	}
	if res == nil {
		return nil
	}

	if hr := res.ItemFor(holding.ID); hr != nil {
		hr.Holding = holding
	}

	if err := s.markReservation(ctx, r, res); err != nil {
		return err
	}

	return r.Reservations().Save(ctx, res)
}
