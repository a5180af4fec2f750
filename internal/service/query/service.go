package query

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/leeszaal/deliver-go/internal/domain"
	"github.com/leeszaal/deliver-go/internal/repository"
	redisrepo "github.com/leeszaal/deliver-go/internal/repository/redis"
)

type Config struct {
	HoldingsTTL     time.Duration
	AvailabilityTTL time.Duration
}

type Service struct {
	uow   repository.UnitOfWork
	cache *redisrepo.Cache
	cfg   Config
}

func New(uow repository.UnitOfWork, cache *redisrepo.Cache, cfg Config) *Service {
	if cfg.HoldingsTTL <= 0 {
		cfg.HoldingsTTL = 60 * time.Second
	}

	if cfg.AvailabilityTTL <= 0 {
		cfg.AvailabilityTTL = 15 * time.Second
	}

	return &Service{
		uow:   uow,
		cache: cache,
		cfg:   cfg,
	}
}

// HoldingView is the public read model of a holding: what it is and
// whether a visitor can still request it.
type HoldingView struct {
	ID        int64  `json:"id"`
	Signature string `json:"signature"`
	Status    string `json:"status"`
}

// RecordHoldings lists the holdings of a catalogue record, cached.
//
// Returns:
//   - []HoldingView: holdings with their current status.
//   - error: query.ErrRecordNotFound when the record has no holdings.
func (s *Service) RecordHoldings(ctx context.Context, recordID int64) ([]HoldingView, error) {
	const op = "service.query.RecordHoldings"

	key := redisrepo.KeyRecordHoldings(recordID)

	views, err := redisrepo.GetOrSetJSON(
		ctx,
		s.cache,
		key,
		s.cfg.HoldingsTTL,
		func(ctx context.Context) ([]HoldingView, error) {
			var holdings []*domain.Holding

			err := s.uow.Do(ctx, func(ctx context.Context, r repository.Repos, _ func(repository.AfterCommit)) error {
				var err error
				holdings, err = r.Holdings().ListByRecord(ctx, recordID)
				return err
			})
			if err != nil {
				return nil, err
			}
			if len(holdings) == 0 {
				return nil, ErrRecordNotFound
			}

			out := make([]HoldingView, 0, len(holdings))
			for _, h := range holdings {
				out = append(out, HoldingView{
					ID:        h.ID,
					Signature: h.Signature,
					Status:    string(h.Status),
				})
			}

			return out, nil
		},
	)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return nil, fmt.Errorf("%s:%w", op, ErrRecordNotFound)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return views, nil
}

// RecordAvailability retrieves the per-status holding counts of a record,
// cached with a short TTL so the public catalogue page stays cheap.
//
// Returns:
//   - *domain.HoldingCounts: the counts, or nil if the record is unknown.
//   - error: query.ErrRecordNotFound when the record has no holdings.
func (s *Service) RecordAvailability(ctx context.Context, recordID int64) (*domain.HoldingCounts, error) {
	const op = "service.query.RecordAvailability"

	key := redisrepo.KeyRecordAvailability(recordID)

	counts, err := redisrepo.GetOrSetJSON(
		ctx,
		s.cache,
		key,
		s.cfg.AvailabilityTTL,
		func(ctx context.Context) (domain.HoldingCounts, error) {
			var c *domain.HoldingCounts

			err := s.uow.Do(ctx, func(ctx context.Context, r repository.Repos, _ func(repository.AfterCommit)) error {
				var err error
				c, err = r.Holdings().CountsByStatus(ctx, recordID)
				return err
			})
			if err != nil {
				return domain.HoldingCounts{}, err
			}
			if c.Total == 0 {
				return domain.HoldingCounts{}, ErrRecordNotFound
			}

			return *c, nil
		},
	)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return nil, fmt.Errorf("%s:%w", op, ErrRecordNotFound)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &counts, nil
}

// GetReservation retrieves a reservation by its ID.
//
// Returns:
//   - *domain.Reservation: the retrieved reservation.
//   - error: query.ErrReservationNotFound if there is no such reservation.
func (s *Service) GetReservation(ctx context.Context, id int64) (*domain.Reservation, error) {
	const op = "service.query.GetReservation"

	var res *domain.Reservation

	err := s.uow.Do(ctx, func(ctx context.Context, r repository.Repos, _ func(repository.AfterCommit)) error {
		var err error
		res, err = r.Reservations().Get(ctx, id)
		return err
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%s:%w", op, ErrReservationNotFound)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return res, nil
}

// ListReservationsByDate lists the reservations for one visit day, the
// reading room's morning pull list.
func (s *Service) ListReservationsByDate(ctx context.Context, day time.Time) ([]*domain.Reservation, error) {
	const op = "service.query.ListReservationsByDate"

	var out []*domain.Reservation

	err := s.uow.Do(ctx, func(ctx context.Context, r repository.Repos, _ func(repository.AfterCommit)) error {
		var err error
		out, err = r.Reservations().ListByDate(ctx, day)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return out, nil
}

// GetReproduction retrieves a reproduction together with its order, when
// one exists.
//
// Returns:
//   - *domain.Reproduction: the reproduction, Order populated if present.
//   - error: query.ErrReproductionNotFound if there is no such reproduction.
func (s *Service) GetReproduction(ctx context.Context, id int64) (*domain.Reproduction, error) {
	const op = "service.query.GetReproduction"

	var rep *domain.Reproduction

	err := s.uow.Do(ctx, func(ctx context.Context, r repository.Repos, _ func(repository.AfterCommit)) error {
		var err error

		rep, err = r.Reproductions().Get(ctx, id)
		if err != nil {
			return err
		}

		order, err := r.Orders().GetByReproduction(ctx, rep.ID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil
			}
			return err
		}
		rep.Order = order

		return nil
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%s:%w", op, ErrReproductionNotFound)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return rep, nil
}

// GetReproductionByToken resolves the customer-facing confirmation token.
//
// Returns:
//   - *domain.Reproduction: the reproduction, Order populated if present.
//   - error: query.ErrReproductionNotFound for unknown tokens.
func (s *Service) GetReproductionByToken(ctx context.Context, token string) (*domain.Reproduction, error) {
	const op = "service.query.GetReproductionByToken"

	var rep *domain.Reproduction

	err := s.uow.Do(ctx, func(ctx context.Context, r repository.Repos, _ func(repository.AfterCommit)) error {
		var err error

		rep, err = r.Reproductions().GetByToken(ctx, token)
		if err != nil {
			return err
		}

		order, err := r.Orders().GetByReproduction(ctx, rep.ID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil
			}
			return err
		}
		rep.Order = order

		return nil
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%s:%w", op, ErrReproductionNotFound)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return rep, nil
}
