package reproduction

import (
	"context"

	"github.com/leeszaal/deliver-go/internal/domain"
	"github.com/leeszaal/deliver-go/internal/repository"
)

// The service doubles as the reproduction handler in the arbitrator's
// registry.

func (s *Service) Kind() domain.RequestKind { return domain.KindReproduction }

func (s *Service) ActiveFor(
	ctx context.Context,
	r repository.Repos,
	holding *domain.Holding,
	filter repository.OnHoldFilter,
) (domain.Request, error) {
	rep, err := r.Reproductions().ActiveByHolding(ctx, holding.ID, filter)
	if err != nil {
		return nil, err
	}
	if rep == nil {
		return nil, nil
	}
	return rep, nil
}

// MarkRequest closes the loop on fulfillment bookkeeping: an active
// reproduction whose every holding request has been completed is itself
// completed.
func (s *Service) MarkRequest(ctx context.Context, r repository.Repos, req domain.Request) error {
	rep, ok := req.(*domain.Reproduction)
	if !ok {
		return nil
	}

	if rep.Status != domain.ReproductionActive {
		return nil
	}

	for _, hr := range rep.Holdings {
		if !hr.Completed {
			return nil
		}
	}

	if err := s.applyStatus(ctx, r, rep, domain.ReproductionCompleted); err != nil {
		return err
	}

	return r.Reproductions().Save(ctx, rep)
}

// OnHoldingStatusUpdate is a no-op: a reproduction's pipeline is driven
// by payment and fulfillment, not by the physical whereabouts of the
// item.
func (s *Service) OnHoldingStatusUpdate(
	_ context.Context,
	_ repository.Repos,
	_ *domain.Holding,
	_ domain.Request,
) error {
	return nil
}
