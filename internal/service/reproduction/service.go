package reproduction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/leeszaal/deliver-go/internal/arbitrator"
	"github.com/leeszaal/deliver-go/internal/catalog"
	"github.com/leeszaal/deliver-go/internal/domain"
	"github.com/leeszaal/deliver-go/internal/notify"
	"github.com/leeszaal/deliver-go/internal/payway"
	"github.com/leeszaal/deliver-go/internal/repository"
	redisrepo "github.com/leeszaal/deliver-go/internal/repository/redis"
	"github.com/leeszaal/deliver-go/internal/service/request"
)

type Config struct {
	// ConfirmBaseURL is the customer-facing confirmation page; the token
	// is appended as a query parameter in offer-ready mails.
	ConfirmBaseURL string
}

type Service struct {
	uow       repository.UnitOfWork
	arb       *arbitrator.Arbitrator
	validator *request.Validator
	pay       *payway.Client
	catalog   catalog.Catalog
	cache     *redisrepo.Cache
	pubsub    *redisrepo.HoldingsPubSub
	notifier  notify.Notifier
	logger    *slog.Logger
	cfg       Config

	// orders deduplicates concurrent order creation per reproduction so
	// the gateway sees exactly one registration.
	orders singleflight.Group
}

func New(
	uow repository.UnitOfWork,
	arb *arbitrator.Arbitrator,
	validator *request.Validator,
	pay *payway.Client,
	cat catalog.Catalog,
	cache *redisrepo.Cache,
	pubsub *redisrepo.HoldingsPubSub,
	notifier notify.Notifier,
	logger *slog.Logger,
	cfg Config,
) *Service {
	return &Service{
		uow:       uow,
		arb:       arb,
		validator: validator,
		pay:       pay,
		catalog:   cat,
		cache:     cache,
		pubsub:    pubsub,
		notifier:  notifier,
		logger:    logger,
		cfg:       cfg,
	}
}

type ItemInput struct {
	HoldingID int64
	Comment   string
}

type CreateInput struct {
	Name              string
	Email             string
	Items             []ItemInput
	CheckAvailability bool
}

// Create validates and persists a new reproduction in
// waiting_for_order_details and notifies the reading room that pricing is
// needed. Holdings stay on the shelf; a reproduction claims one only
// through the on-hold mechanism.
func (s *Service) Create(ctx context.Context, in CreateInput) (*domain.Reproduction, error) {
	const op = "service.reproduction.Create"

	var created *domain.Reproduction

	err := s.uow.Do(ctx, func(ctx context.Context, r repository.Repos, after func(repository.AfterCommit)) error {
		rep := &domain.Reproduction{
			RequestBase: domain.RequestBase{
				CreationDate: time.Now(),
				Name:         in.Name,
				Email:        in.Email,
			},
			Status: domain.ReproductionWaitingForOrderDetails,
			Token:  uuid.NewString(),
		}

		for _, item := range in.Items {
			h, err := r.Holdings().Get(ctx, item.HoldingID)
			if err != nil {
				if errors.Is(err, repository.ErrNotFound) {
					return fmt.Errorf("%s:%w", op, ErrHoldingNotFound)
				}
				return fmt.Errorf("%s:%w", op, err)
			}
			rep.Holdings = append(rep.Holdings, &domain.HoldingRequest{
				Holding: h,
				Comment: item.Comment,
			})
		}

		if err := s.validator.Validate(ctx, r, rep, nil, in.CheckAvailability); err != nil {
			return fmt.Errorf("%s:%w", op, err)
		}

		if err := r.Reproductions().Save(ctx, rep); err != nil {
			return fmt.Errorf("%s:%w", op, err)
		}

		created = rep

		after(func(ctx context.Context) {
			if err := s.notifier.SendPending(ctx, rep); err != nil {
				s.logger.Warn("pending notification failed", "reproduction", rep.ID, "error", err)
			}
		})

		return nil
	})
	if err != nil {
		return nil, err
	}

	return created, nil
}

type OrderDetailInput struct {
	HoldingID    int64
	PriceCents   int64
	DeliveryDays int
}

// SupplyOrderDetails records staff pricing per holding. Once every
// holding request is priced the reproduction advances to
// has_order_details and the customer receives the offer with the
// token-carrying confirmation link.
func (s *Service) SupplyOrderDetails(ctx context.Context, id int64, details []OrderDetailInput) error {
	const op = "service.reproduction.SupplyOrderDetails"

	return s.uow.Do(ctx, func(ctx context.Context, r repository.Repos, after func(repository.AfterCommit)) error {
		rep, err := r.Reproductions().Get(ctx, id)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return fmt.Errorf("%s:%w", op, ErrNotFound)
			}
			return fmt.Errorf("%s:%w", op, err)
		}

		for _, d := range details {
			hr := rep.ItemFor(d.HoldingID)
			if hr == nil {
				return fmt.Errorf("%s:%w", op, ErrHoldingNotFound)
			}
			price := d.PriceCents
			days := d.DeliveryDays
			hr.PriceCents = &price
			hr.DeliveryDays = &days
		}

		if _, complete := rep.TotalCents(); complete {
			if err := s.applyStatus(ctx, r, rep, domain.ReproductionHasOrderDetails); err != nil {
				return fmt.Errorf("%s:%w", op, err)
			}
			now := time.Now()
			rep.OfferedAt = &now

			confirmURL := s.cfg.ConfirmBaseURL + "?token=" + rep.Token
			after(func(ctx context.Context) {
				if err := s.notifier.SendOfferReady(ctx, rep, confirmURL); err != nil {
					s.logger.Warn("offer-ready notification failed", "reproduction", rep.ID, "error", err)
				}
			})
		}

		if err := r.Reproductions().Save(ctx, rep); err != nil {
			return fmt.Errorf("%s:%w", op, err)
		}

		return nil
	})
}

// ConfirmResult tells the caller where to send the customer next. An
// empty PaymentURL means no payment is due.
type ConfirmResult struct {
	Reproduction *domain.Reproduction
	PaymentURL   string
}

// Confirm is the customer accepting the offer via their token link. The
// reproduction moves to confirmed; free reproductions activate
// immediately, paid ones get their order registered with the gateway and
// the customer is redirected to pay. A gateway rejection leaves the
// reproduction confirmed but orderless, so confirming again retries
// registration.
func (s *Service) Confirm(ctx context.Context, token string) (*ConfirmResult, error) {
	const op = "service.reproduction.Confirm"

	var rep *domain.Reproduction

	err := s.uow.Do(ctx, func(ctx context.Context, r repository.Repos, _ func(repository.AfterCommit)) error {
		var err error
		rep, err = r.Reproductions().GetByToken(ctx, token)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return fmt.Errorf("%s:%w", op, ErrNotFound)
			}
			return fmt.Errorf("%s:%w", op, err)
		}

		if rep.Status.Ordinal() < domain.ReproductionHasOrderDetails.Ordinal() {
			return fmt.Errorf("%s:%w", op, ErrIncompleteOrderDetails)
		}

		if _, complete := rep.TotalCents(); !complete {
			return fmt.Errorf("%s:%w", op, ErrIncompleteOrderDetails)
		}

		if err := s.applyStatus(ctx, r, rep, domain.ReproductionConfirmed); err != nil {
			return fmt.Errorf("%s:%w", op, err)
		}

		return r.Reproductions().Save(ctx, rep)
	})
	if err != nil {
		return nil, err
	}

	if rep.IsForFree() {
		if err := s.activate(ctx, rep.ID); err != nil {
			return nil, fmt.Errorf("%s:%w", op, err)
		}
		return &ConfirmResult{Reproduction: rep}, nil
	}

	order, err := s.CreateOrder(ctx, rep.ID)
	if err != nil {
		return nil, err
	}

	return &ConfirmResult{Reproduction: rep, PaymentURL: order.PaymentURL}, nil
}

// CreateOrder is the single write path for orders (at most one per
// reproduction). Repeat calls return the stored order without contacting
// the gateway again; concurrent calls collapse into one registration.
// The gateway round-trip runs outside any transaction so no holding or
// request row stays locked during I/O.
func (s *Service) CreateOrder(ctx context.Context, reproductionID int64) (*domain.Order, error) {
	const op = "service.reproduction.CreateOrder"

	v, err, _ := s.orders.Do(fmt.Sprintf("order:%d", reproductionID), func() (any, error) {
		return s.createOrder(ctx, reproductionID)
	})
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return v.(*domain.Order), nil
}

func (s *Service) createOrder(ctx context.Context, reproductionID int64) (*domain.Order, error) {
	var (
		existing   *domain.Order
		totalCents int64
		email      string
	)

	err := s.uow.Do(ctx, func(ctx context.Context, r repository.Repos, _ func(repository.AfterCommit)) error {
		rep, err := r.Reproductions().Get(ctx, reproductionID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrNotFound
			}
			return err
		}

		if o, err := r.Orders().GetByReproduction(ctx, reproductionID); err == nil {
			existing = o
			return nil
		} else if !errors.Is(err, repository.ErrNotFound) {
			return err
		}

		if rep.Status.Ordinal() < domain.ReproductionConfirmed.Ordinal() {
			return ErrNotConfirmed
		}

		total, complete := rep.TotalCents()
		if !complete {
			return ErrIncompleteOrderDetails
		}

		totalCents = total
		email = rep.Email

		return nil
	})
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}
	if totalCents == 0 {
		// Free of charge: no order, no gateway contact.
		return nil, nil
	}

	result := <-s.pay.RegisterOrderAsync(ctx, reproductionID, totalCents, email)
	if result.Err != nil {
		s.logger.Error("order registration failed", "reproduction", reproductionID, "error", result.Err)
		return nil, fmt.Errorf("%w: %w", ErrOrderRegistrationFailure, result.Err)
	}

	order := &domain.Order{
		ReproductionID: reproductionID,
		GatewayOrderID: result.Ref.GatewayOrderID,
		TotalCents:     totalCents,
		PaymentURL:     result.Ref.PaymentURL,
		CreatedAt:      time.Now(),
	}

	err = s.uow.Do(ctx, func(ctx context.Context, r repository.Repos, _ func(repository.AfterCommit)) error {
		return r.Orders().Save(ctx, order)
	})
	if err != nil {
		return nil, err
	}

	return order, nil
}

// AcceptPayment handles the verified gateway callback. The signature gate
// runs first: a forged or tampered message is rejected before any load or
// mutation. On success the order is marked paid and the reproduction goes
// active, or straight to completed when every holding is already
// digitally fulfillable.
func (s *Service) AcceptPayment(ctx context.Context, msg *payway.Message) error {
	const op = "service.reproduction.AcceptPayment"

	if err := s.pay.VerifyCallback(msg); err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}

	reproductionID, ok := msg.Int64("USERID")
	if !ok {
		return fmt.Errorf("%s:%w", op, ErrNotFound)
	}
	gatewayOrderID, ok := msg.Int64("ORDERID")
	if !ok {
		return fmt.Errorf("%s:%w", op, ErrOrderMismatch)
	}

	return s.uow.Do(ctx, func(ctx context.Context, r repository.Repos, after func(repository.AfterCommit)) error {
		rep, err := r.Reproductions().Get(ctx, reproductionID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return fmt.Errorf("%s:%w", op, ErrNotFound)
			}
			return fmt.Errorf("%s:%w", op, err)
		}

		order, err := r.Orders().GetByReproduction(ctx, reproductionID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return fmt.Errorf("%s:%w", op, ErrOrderMismatch)
			}
			return fmt.Errorf("%s:%w", op, err)
		}
		if order.GatewayOrderID != gatewayOrderID {
			return fmt.Errorf("%s:%w", op, ErrOrderMismatch)
		}

		if !order.Paid() {
			now := time.Now()
			order.PaymentAcceptedAt = &now
			if err := r.Orders().Save(ctx, order); err != nil {
				return fmt.Errorf("%s:%w", op, err)
			}
		}
		rep.Order = order

		if err := s.activateLoaded(ctx, r, rep); err != nil {
			return fmt.Errorf("%s:%w", op, err)
		}

		s.announce(after, rep)

		return nil
	})
}

// activate moves a reproduction to active and, when the whole request is
// already in the digital repository, immediately on to completed.
func (s *Service) activate(ctx context.Context, id int64) error {
	return s.uow.Do(ctx, func(ctx context.Context, r repository.Repos, after func(repository.AfterCommit)) error {
		rep, err := r.Reproductions().Get(ctx, id)
		if err != nil {
			return err
		}
		if err := s.activateLoaded(ctx, r, rep); err != nil {
			return err
		}
		s.announce(after, rep)
		return nil
	})
}

func (s *Service) activateLoaded(ctx context.Context, r repository.Repos, rep *domain.Reproduction) error {
	if err := s.applyStatus(ctx, r, rep, domain.ReproductionActive); err != nil {
		return err
	}

	inSor, err := s.completelyInSor(ctx, rep)
	if err != nil {
		return err
	}
	if inSor {
		if err := s.applyStatus(ctx, r, rep, domain.ReproductionCompleted); err != nil {
			return err
		}
	}

	return r.Reproductions().Save(ctx, rep)
}

// Complete is the staff fulfillment action for reproductions that needed
// manual scanning or copying.
func (s *Service) Complete(ctx context.Context, id int64) error {
	return s.transition(ctx, id, domain.ReproductionCompleted)
}

// Deliver marks the reproduction handed over or shipped. Terminal.
func (s *Service) Deliver(ctx context.Context, id int64) error {
	return s.transition(ctx, id, domain.ReproductionDelivered)
}

// Cancel terminates the reproduction and releases its holdings. A paid
// order is refunded asynchronously after commit; a refund failure is an
// operator log entry, never a rollback.
func (s *Service) Cancel(ctx context.Context, id int64) error {
	const op = "service.reproduction.Cancel"

	return s.uow.Do(ctx, func(ctx context.Context, r repository.Repos, after func(repository.AfterCommit)) error {
		rep, err := r.Reproductions().Get(ctx, id)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return fmt.Errorf("%s:%w", op, ErrNotFound)
			}
			return fmt.Errorf("%s:%w", op, err)
		}

		if rep.Status == domain.ReproductionCancelled || rep.Status == domain.ReproductionDelivered {
			return nil
		}

		if err := s.applyStatus(ctx, r, rep, domain.ReproductionCancelled); err != nil {
			return fmt.Errorf("%s:%w", op, err)
		}

		if err := r.Reproductions().Save(ctx, rep); err != nil {
			return fmt.Errorf("%s:%w", op, err)
		}

		order, err := r.Orders().GetByReproduction(ctx, id)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("%s:%w", op, err)
		}

		s.announce(after, rep)
		after(func(ctx context.Context) {
			if err := s.notifier.SendCancelled(ctx, rep); err != nil {
				s.logger.Warn("cancel notification failed", "reproduction", rep.ID, "error", err)
			}
			if order != nil && order.Paid() {
				if err := <-s.pay.RefundOrderAsync(ctx, order.GatewayOrderID); err != nil {
					s.logger.Error("refund failed", "reproduction", rep.ID, "order", order.GatewayOrderID, "error", err)
				}
			}
		})

		return nil
	})
}

// CancelUnpaid sweeps reproductions whose offer went unanswered past the
// threshold. The sweep is idempotent: it only touches reproductions still
// in has_order_details, so a partial failure can simply run again.
func (s *Service) CancelUnpaid(ctx context.Context, olderThan time.Duration) (int, error) {
	const op = "service.reproduction.CancelUnpaid"

	ids, err := s.offeredBefore(ctx, time.Now().Add(-olderThan), false)
	if err != nil {
		return 0, fmt.Errorf("%s:%w", op, err)
	}

	cancelled := 0
	for _, id := range ids {
		if err := s.Cancel(ctx, id); err != nil {
			s.logger.Error("sweep cancel failed", "reproduction", id, "error", err)
			continue
		}
		cancelled++
	}

	return cancelled, nil
}

// SendReminders mails one payment reminder per unanswered offer past the
// threshold. The reminder flag keeps re-runs from mailing twice.
func (s *Service) SendReminders(ctx context.Context, olderThan time.Duration) (int, error) {
	const op = "service.reproduction.SendReminders"

	ids, err := s.offeredBefore(ctx, time.Now().Add(-olderThan), true)
	if err != nil {
		return 0, fmt.Errorf("%s:%w", op, err)
	}

	sent := 0
	for _, id := range ids {
		err := s.uow.Do(ctx, func(ctx context.Context, r repository.Repos, after func(repository.AfterCommit)) error {
			rep, err := r.Reproductions().Get(ctx, id)
			if err != nil {
				return err
			}
			if rep.ReminderSent || rep.Status != domain.ReproductionHasOrderDetails {
				return nil
			}

			rep.ReminderSent = true
			if err := r.Reproductions().Save(ctx, rep); err != nil {
				return err
			}

			after(func(ctx context.Context) {
				if err := s.notifier.SendPaymentReminder(ctx, rep); err != nil {
					s.logger.Warn("reminder failed", "reproduction", rep.ID, "error", err)
				}
			})

			sent++
			return nil
		})
		if err != nil {
			s.logger.Error("sweep reminder failed", "reproduction", id, "error", err)
		}
	}

	return sent, nil
}

func (s *Service) Get(ctx context.Context, id int64) (*domain.Reproduction, error) {
	const op = "service.reproduction.Get"

	var rep *domain.Reproduction

	err := s.uow.Do(ctx, func(ctx context.Context, r repository.Repos, _ func(repository.AfterCommit)) error {
		var err error
		rep, err = r.Reproductions().Get(ctx, id)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return fmt.Errorf("%s:%w", op, ErrNotFound)
			}
			return fmt.Errorf("%s:%w", op, err)
		}

		if o, err := r.Orders().GetByReproduction(ctx, id); err == nil {
			rep.Order = o
		} else if !errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("%s:%w", op, err)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return rep, nil
}

func (s *Service) GetByToken(ctx context.Context, token string) (*domain.Reproduction, error) {
	const op = "service.reproduction.GetByToken"

	var rep *domain.Reproduction

	err := s.uow.Do(ctx, func(ctx context.Context, r repository.Repos, _ func(repository.AfterCommit)) error {
		var err error
		rep, err = r.Reproductions().GetByToken(ctx, token)
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

	return rep, nil
}

func (s *Service) transition(ctx context.Context, id int64, status domain.ReproductionStatus) error {
	const op = "service.reproduction.transition"

	return s.uow.Do(ctx, func(ctx context.Context, r repository.Repos, after func(repository.AfterCommit)) error {
		rep, err := r.Reproductions().Get(ctx, id)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return fmt.Errorf("%s:%w", op, ErrNotFound)
			}
			return fmt.Errorf("%s:%w", op, err)
		}

		if err := s.applyStatus(ctx, r, rep, status); err != nil {
			return fmt.Errorf("%s:%w", op, err)
		}

		if err := r.Reproductions().Save(ctx, rep); err != nil {
			return fmt.Errorf("%s:%w", op, err)
		}

		s.announce(after, rep)

		return nil
	})
}

// applyStatus is the guarded forward-only transition. Only completed and
// cancelled touch holdings: reproduction work never removes an item from
// the shelf for long, so the release target is always available.
func (s *Service) applyStatus(
	ctx context.Context,
	r repository.Repos,
	rep *domain.Reproduction,
	status domain.ReproductionStatus,
) error {
	if status.Ordinal() <= rep.Status.Ordinal() {
		return nil
	}

	rep.Status = status

	if status != domain.ReproductionCompleted && status != domain.ReproductionCancelled {
		return nil
	}

	for _, hr := range rep.Holdings {
		if hr.Completed || hr.OnHold {
			continue
		}
		if hr.Holding.Status != domain.HoldingAvailable {
			if err := s.arb.UpdateHoldingStatus(ctx, r, hr.Holding, domain.HoldingAvailable, rep); err != nil {
				return err
			}
		}
		hr.Completed = true
	}

	return nil
}

func (s *Service) completelyInSor(ctx context.Context, rep *domain.Reproduction) (bool, error) {
	for _, hr := range rep.Holdings {
		inSor, err := s.catalog.InSor(ctx, hr.Holding)
		if err != nil {
			return false, err
		}
		if !inSor {
			return false, nil
		}
	}
	return true, nil
}

func (s *Service) offeredBefore(ctx context.Context, cutoff time.Time, pendingReminderOnly bool) ([]int64, error) {
	var ids []int64

	err := s.uow.Do(ctx, func(ctx context.Context, r repository.Repos, _ func(repository.AfterCommit)) error {
		reps, err := r.Reproductions().ListOfferedBefore(ctx, cutoff)
		if err != nil {
			return err
		}
		for _, rep := range reps {
			if pendingReminderOnly && rep.ReminderSent {
				continue
			}
			ids = append(ids, rep.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return ids, nil
}

func (s *Service) announce(after func(repository.AfterCommit), rep *domain.Reproduction) {
	recordIDs := make([]int64, 0, len(rep.Holdings))
	for _, hr := range rep.Holdings {
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
