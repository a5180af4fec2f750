package reservation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/leeszaal/deliver-go/internal/arbitrator"
	"github.com/leeszaal/deliver-go/internal/domain"
	"github.com/leeszaal/deliver-go/internal/notify"
	"github.com/leeszaal/deliver-go/internal/printing"
	"github.com/leeszaal/deliver-go/internal/repository"
	redisrepo "github.com/leeszaal/deliver-go/internal/repository/redis"
	"github.com/leeszaal/deliver-go/internal/service/request"
)

type Service struct {
	uow       repository.UnitOfWork
	arb       *arbitrator.Arbitrator
	validator *request.Validator
	cache     *redisrepo.Cache
	pubsub    *redisrepo.HoldingsPubSub
	notifier  notify.Notifier
	printer   printing.Printer
	logger    *slog.Logger
}

func New(
	uow repository.UnitOfWork,
	arb *arbitrator.Arbitrator,
	validator *request.Validator,
	cache *redisrepo.Cache,
	pubsub *redisrepo.HoldingsPubSub,
	notifier notify.Notifier,
	printer printing.Printer,
	logger *slog.Logger,
) *Service {
	return &Service{
		uow:       uow,
		arb:       arb,
		validator: validator,
		cache:     cache,
		pubsub:    pubsub,
		notifier:  notifier,
		printer:   printer,
		logger:    logger,
	}
}

type ItemInput struct {
	HoldingID int64
	Comment   string
}

type CreateInput struct {
	Name  string
	Email string
	Date  time.Time
	Items []ItemInput
	// CheckAvailability is set on visitor self-service flows: holdings
	// that are not available are rejected with request.ErrInUse.
	CheckAvailability bool
}

// Create validates and persists a new reservation and moves its holdings
// to reserved.
//
// Returns:
//   - *domain.Reservation: the created reservation.
//   - error: request.ErrNoHoldings, request.ErrClosed or request.ErrInUse
//     when validation rejects the proposed holdings.
func (s *Service) Create(ctx context.Context, in CreateInput) (*domain.Reservation, error) {
	const op = "service.reservation.Create"

	var created *domain.Reservation

	err := s.uow.Do(ctx, func(ctx context.Context, r repository.Repos, after func(repository.AfterCommit)) error {
		res := &domain.Reservation{
			RequestBase: domain.RequestBase{
				CreationDate: time.Now(),
				Name:         in.Name,
				Email:        in.Email,
			},
			Date:   in.Date,
			Status: domain.ReservationPending,
		}

		for _, item := range in.Items {
			h, err := r.Holdings().Get(ctx, item.HoldingID)
			if err != nil {
				if errors.Is(err, repository.ErrNotFound) {
					return fmt.Errorf("%s:%w", op, ErrHoldingNotFound)
				}
				return fmt.Errorf("%s:%w", op, err)
			}
			res.Holdings = append(res.Holdings, &domain.HoldingRequest{
				Holding: h,
				Comment: item.Comment,
			})
		}

		if err := s.validator.Validate(ctx, r, res, nil, in.CheckAvailability); err != nil {
			return fmt.Errorf("%s:%w", op, err)
		}

		if err := r.Reservations().Save(ctx, res); err != nil {
			return fmt.Errorf("%s:%w", op, err)
		}

		for _, hr := range res.Holdings {
			if err := s.arb.UpdateHoldingStatus(ctx, r, hr.Holding, domain.HoldingReserved, res); err != nil {
				return fmt.Errorf("%s:%w", op, err)
			}
		}

		created = res

		s.announce(after, res)
		after(func(ctx context.Context) {
			if err := s.notifier.SendPending(ctx, res); err != nil {
				s.logger.Warn("pending notification failed", "reservation", res.ID, "error", err)
			}
		})

		return nil
	})
	if err != nil {
		return nil, err
	}

	return created, nil
}

// Update merges an edited set of holding requests into the stored
// reservation. Removed holdings return to available; added ones follow
// the reservation's current status.
func (s *Service) Update(ctx context.Context, id int64, in CreateInput) (*domain.Reservation, error) {
	const op = "service.reservation.Update"

	var updated *domain.Reservation

	err := s.uow.Do(ctx, func(ctx context.Context, r repository.Repos, after func(repository.AfterCommit)) error {
		prior, err := r.Reservations().Get(ctx, id)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return fmt.Errorf("%s:%w", op, ErrNotFound)
			}
			return fmt.Errorf("%s:%w", op, err)
		}

		edited := &domain.Reservation{
			RequestBase: prior.RequestBase,
			Date:        in.Date,
			Status:      prior.Status,
		}
		edited.Holdings = nil

		for _, item := range in.Items {
			h, err := r.Holdings().Get(ctx, item.HoldingID)
			if err != nil {
				if errors.Is(err, repository.ErrNotFound) {
					return fmt.Errorf("%s:%w", op, ErrHoldingNotFound)
				}
				return fmt.Errorf("%s:%w", op, err)
			}
			edited.Holdings = append(edited.Holdings, &domain.HoldingRequest{
				Holding: h,
				Comment: item.Comment,
			})
		}

		if err := s.validator.Validate(ctx, r, edited, prior, in.CheckAvailability); err != nil {
			return fmt.Errorf("%s:%w", op, err)
		}

		removed := request.Merge(prior, edited)
		prior.Date = in.Date

		if err := r.Reservations().Save(ctx, prior); err != nil {
			return fmt.Errorf("%s:%w", op, err)
		}

		for _, hr := range removed {
			if err := s.arb.UpdateHoldingStatus(ctx, r, hr.Holding, domain.HoldingAvailable, prior); err != nil {
				return fmt.Errorf("%s:%w", op, err)
			}
		}

		target := holdingStatusFor(prior.Status)
		for _, hr := range prior.Holdings {
			if hr.Completed || hr.OnHold || hr.Holding.Status == target {
				continue
			}
			if err := s.arb.UpdateHoldingStatus(ctx, r, hr.Holding, target, prior); err != nil {
				return fmt.Errorf("%s:%w", op, err)
			}
		}

		updated = prior
		s.announce(after, prior)

		return nil
	})
	if err != nil {
		return nil, err
	}

	return updated, nil
}

// UpdateStatus moves the reservation forward and propagates the mapped
// holding status to every open holding request. Regressions are silent
// no-ops.
func (s *Service) UpdateStatus(ctx context.Context, id int64, status domain.ReservationStatus) error {
	const op = "service.reservation.UpdateStatus"

	return s.uow.Do(ctx, func(ctx context.Context, r repository.Repos, after func(repository.AfterCommit)) error {
		res, err := r.Reservations().Get(ctx, id)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return fmt.Errorf("%s:%w", op, ErrNotFound)
			}
			return fmt.Errorf("%s:%w", op, err)
		}

		if err := s.applyStatus(ctx, r, res, status); err != nil {
			return fmt.Errorf("%s:%w", op, err)
		}

		if err := r.Reservations().Save(ctx, res); err != nil {
			return fmt.Errorf("%s:%w", op, err)
		}

		s.announce(after, res)

		return nil
	})
}

// MarkItem is the reading-room scan action: one bump advances the holding
// reserved→in_use→returned→available. The owning reservation re-evaluates
// afterwards, folding returned straight back to available.
func (s *Service) MarkItem(ctx context.Context, holdingID int64) error {
	const op = "service.reservation.MarkItem"

	return s.uow.Do(ctx, func(ctx context.Context, r repository.Repos, after func(repository.AfterCommit)) error {
		h, err := r.Holdings().GetForUpdate(ctx, holdingID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return fmt.Errorf("%s:%w", op, ErrHoldingNotFound)
			}
			return fmt.Errorf("%s:%w", op, err)
		}

		next, ok := bump(h.Status)
		if !ok {
			return nil
		}

		res, err := r.Reservations().ActiveByHolding(ctx, holdingID, repository.FilterAll)
		if err != nil {
			return fmt.Errorf("%s:%w", op, err)
		}

		var triggering domain.Request
		if res != nil {
			triggering = res
		}

		if err := s.arb.UpdateHoldingStatus(ctx, r, h, next, triggering); err != nil {
			return fmt.Errorf("%s:%w", op, err)
		}

		if res != nil {
			if hr := res.ItemFor(holdingID); hr != nil {
				hr.Holding = h
			}
			if err := s.markReservation(ctx, r, res); err != nil {
				return fmt.Errorf("%s:%w", op, err)
			}
			if err := r.Reservations().Save(ctx, res); err != nil {
				return fmt.Errorf("%s:%w", op, err)
			}
			s.announce(after, res)
		}

		return nil
	})
}

// Print sends the reservation's holding requests to the reading-room
// printer. A reservation already printed is skipped unless alwaysPrint is
// set. Printer failures are soft: logged, nothing marked printed.
func (s *Service) Print(ctx context.Context, id int64, alwaysPrint bool) error {
	const op = "service.reservation.Print"

	return s.uow.Do(ctx, func(ctx context.Context, r repository.Repos, _ func(repository.AfterCommit)) error {
		res, err := r.Reservations().Get(ctx, id)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return fmt.Errorf("%s:%w", op, ErrNotFound)
			}
			return fmt.Errorf("%s:%w", op, err)
		}

		if res.Printed && !alwaysPrint {
			return nil
		}

		if err := s.printer.PrintItems(ctx, res.Holdings); err != nil {
			s.logger.Warn("print failed", "reservation", res.ID, "error", err)
			return nil
		}

		res.Printed = true

		if err := r.Reservations().Save(ctx, res); err != nil {
			return fmt.Errorf("%s:%w", op, err)
		}

		return nil
	})
}

func (s *Service) Get(ctx context.Context, id int64) (*domain.Reservation, error) {
	const op = "service.reservation.Get"

	var res *domain.Reservation

	err := s.uow.Do(ctx, func(ctx context.Context, r repository.Repos, _ func(repository.AfterCommit)) error {
		var err error
		res, err = r.Reservations().Get(ctx, id)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return fmt.Errorf("%s:%w", op, ErrNotFound)
			}
			return fmt.Errorf("%s:%w", op, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return res, nil
}

// applyStatus is the guarded forward-only transition. A status at or
// below the current one is absorbed silently.
func (s *Service) applyStatus(
	ctx context.Context,
	r repository.Repos,
	res *domain.Reservation,
	status domain.ReservationStatus,
) error {
	if status.Ordinal() <= res.Status.Ordinal() {
		return nil
	}

	res.Status = status
	target := holdingStatusFor(status)

	for _, hr := range res.Holdings {
		if hr.Completed || hr.OnHold {
			continue
		}
		if hr.Holding.Status != target {
			if err := s.arb.UpdateHoldingStatus(ctx, r, hr.Holding, target, res); err != nil {
				return err
			}
		}
		if status == domain.ReservationCompleted {
			hr.Completed = true
		}
	}

	return nil
}

// markReservation re-derives the reservation's own status from its
// holdings. Returned holdings are folded to available and their requests
// completed first; the forward-only guard keeps the derivation from ever
// regressing a live reservation.
func (s *Service) markReservation(ctx context.Context, r repository.Repos, res *domain.Reservation) error {
	for _, hr := range res.Holdings {
		if hr.Completed || hr.OnHold {
			continue
		}
		if hr.Holding.Status == domain.HoldingReturned {
			hr.Completed = true
			if err := s.arb.UpdateHoldingStatus(ctx, r, hr.Holding, domain.HoldingAvailable, res); err != nil {
				return err
			}
		}
	}

	open := 0
	allAvailable := true
	allReserved := true

	for _, hr := range res.Holdings {
		if hr.Completed {
			continue
		}
		open++
		if hr.Holding.Status != domain.HoldingAvailable {
			allAvailable = false
		}
		if hr.Holding.Status != domain.HoldingReserved {
			allReserved = false
		}
	}

	var derived domain.ReservationStatus
	switch {
	case open == 0 || allAvailable:
		derived = domain.ReservationCompleted
	case allReserved:
		derived = domain.ReservationPending
	default:
		derived = domain.ReservationActive
	}

	return s.applyStatus(ctx, r, res, derived)
}

func holdingStatusFor(status domain.ReservationStatus) domain.HoldingStatus {
	switch status {
	case domain.ReservationPending:
		return domain.HoldingReserved
	case domain.ReservationActive:
		return domain.HoldingInUse
	default:
		return domain.HoldingAvailable
	}
}

// bump advances one scan step. Available holdings have nothing to
// advance.
func bump(status domain.HoldingStatus) (domain.HoldingStatus, bool) {
	switch status {
	case domain.HoldingReserved:
		return domain.HoldingInUse, true
	case domain.HoldingInUse:
		return domain.HoldingReturned, true
	case domain.HoldingReturned:
		return domain.HoldingAvailable, true
	default:
		return status, false
	}
}

func (s *Service) announce(after func(repository.AfterCommit), res *domain.Reservation) {
	recordIDs := make([]int64, 0, len(res.Holdings))
	for _, hr := range res.Holdings {
		recordIDs = append(recordIDs, hr.Holding.RecordID)
	}

	after(func(ctx context.Context) {
		for _, id := range recordIDs {
			if s.cache != nil {
				_ = s.cache.InvalidateRecord(ctx, id)
			}
			if s.pubsub != nil {
				_ = s.pubsub.PublishRecordChanged(ctx, id)
			}
		}
	})
}
