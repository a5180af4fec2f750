// Package memory is a mutex-guarded, in-process implementation of the
// repository contracts. It backs the test suites and gateway-less local
// runs; semantics match the postgres implementation, including the
// serialized unit of work.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/leeszaal/deliver-go/internal/domain"
	"github.com/leeszaal/deliver-go/internal/repository"
)

type Store struct {
	mu sync.Mutex

	holdings      map[int64]*domain.Holding
	reservations  map[int64]*domain.Reservation
	reproductions map[int64]*domain.Reproduction
	orders        map[int64]*domain.Order

	nextHolding int64
	nextRequest int64
	nextItem    int64
	nextOrder   int64
}

func NewStore() *Store {
	return &Store{
		holdings:      make(map[int64]*domain.Holding),
		reservations:  make(map[int64]*domain.Reservation),
		reproductions: make(map[int64]*domain.Reproduction),
		orders:        make(map[int64]*domain.Order),
	}
}

// Do serializes every unit of work behind one mutex, mirroring the
// row-locked transactions of the postgres store closely enough for the
// double-booking scenarios to behave identically.
func (s *Store) Do(
	ctx context.Context,
	fn func(ctx context.Context, r repository.Repos, after func(repository.AfterCommit)) error,
) error {
	s.mu.Lock()

	var hooks []repository.AfterCommit

	err := fn(ctx, (*repos)(s), func(h repository.AfterCommit) {
		hooks = append(hooks, h)
	})

	s.mu.Unlock()

	if err != nil {
		return err
	}

	for _, h := range hooks {
		h(ctx)
	}

	return nil
}

// Seed inserts a holding directly, for test and boot fixtures.
func (s *Store) Seed(h *domain.Holding) *domain.Holding {
	s.mu.Lock()
	defer s.mu.Unlock()

	if h.ID == 0 {
		s.nextHolding++
		h.ID = s.nextHolding
	} else if h.ID > s.nextHolding {
		s.nextHolding = h.ID
	}
	s.holdings[h.ID] = h

	return h
}

type repos Store

func (r *repos) Holdings() repository.HoldingRepo           { return (*holdingRepo)(r) }
func (r *repos) Reservations() repository.ReservationRepo   { return (*reservationRepo)(r) }
func (r *repos) Reproductions() repository.ReproductionRepo { return (*reproductionRepo)(r) }
func (r *repos) Orders() repository.OrderRepo               { return (*orderRepo)(r) }

type holdingRepo Store

func (r *holdingRepo) Get(_ context.Context, id int64) (*domain.Holding, error) {
	h, ok := r.holdings[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return h, nil
}

func (r *holdingRepo) GetForUpdate(ctx context.Context, id int64) (*domain.Holding, error) {
	// The store-wide mutex already serializes the transaction.
	return r.Get(ctx, id)
}

func (r *holdingRepo) GetBySignature(_ context.Context, recordID int64, signature string) (*domain.Holding, error) {
	for _, h := range r.holdings {
		if h.RecordID == recordID && h.Signature == signature {
			return h, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *holdingRepo) ListByRecord(_ context.Context, recordID int64) ([]*domain.Holding, error) {
	var out []*domain.Holding
	for _, h := range r.holdings {
		if h.RecordID == recordID {
			out = append(out, h)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Signature < out[j].Signature })
	return out, nil
}

func (r *holdingRepo) Save(_ context.Context, h *domain.Holding) error {
	if h.ID == 0 {
		r.nextHolding++
		h.ID = r.nextHolding
	}
	r.holdings[h.ID] = h
	return nil
}

func (r *holdingRepo) OnHoldCount(_ context.Context, holdingID int64) (int64, error) {
	var count int64
	for _, res := range r.reservations {
		count += onHoldItems(res, holdingID)
	}
	for _, rep := range r.reproductions {
		count += onHoldItems(rep, holdingID)
	}
	return count, nil
}

func onHoldItems(req domain.Request, holdingID int64) int64 {
	var count int64
	for _, hr := range req.Items() {
		if hr.OnHold && hr.Holding != nil && hr.Holding.ID == holdingID {
			count++
		}
	}
	return count
}

func (r *holdingRepo) CountsByStatus(_ context.Context, recordID int64) (*domain.HoldingCounts, error) {
	var c domain.HoldingCounts
	for _, h := range r.holdings {
		if h.RecordID != recordID {
			continue
		}
		c.Total++
		switch h.Status {
		case domain.HoldingAvailable:
			c.Available++
		case domain.HoldingReserved:
			c.Reserved++
		default:
			c.InUse++
		}
	}
	return &c, nil
}

type reservationRepo Store

func (r *reservationRepo) Get(_ context.Context, id int64) (*domain.Reservation, error) {
	res, ok := r.reservations[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return res, nil
}

func (r *reservationRepo) Save(_ context.Context, res *domain.Reservation) error {
	if res.ID == 0 {
		r.nextRequest++
		res.ID = r.nextRequest
	}
	for _, hr := range res.Holdings {
		if hr.ID == 0 {
			r.nextItem++
			hr.ID = r.nextItem
		}
	}
	r.reservations[res.ID] = res
	return nil
}

func (r *reservationRepo) Remove(_ context.Context, id int64) error {
	if _, ok := r.reservations[id]; !ok {
		return repository.ErrNotFound
	}
	delete(r.reservations, id)
	return nil
}

func (r *reservationRepo) ActiveByHolding(
	_ context.Context,
	holdingID int64,
	filter repository.OnHoldFilter,
) (*domain.Reservation, error) {
	var candidates []*domain.Reservation
	for _, res := range r.reservations {
		if res.Status.Ordinal() >= domain.ReservationCompleted.Ordinal() {
			continue
		}
		if hasOpenItem(res, holdingID, filter) {
			candidates = append(candidates, res)
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	sort.Slice(candidates, func(i, j int) bool {
		if !candidates[i].CreationDate.Equal(candidates[j].CreationDate) {
			return candidates[i].CreationDate.Before(candidates[j].CreationDate)
		}
		return candidates[i].ID < candidates[j].ID
	})
	return candidates[0], nil
}

func (r *reservationRepo) ListByDate(_ context.Context, day time.Time) ([]*domain.Reservation, error) {
	var out []*domain.Reservation
	for _, res := range r.reservations {
		if sameDay(res.Date, day) {
			out = append(out, res)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type reproductionRepo Store

func (r *reproductionRepo) Get(_ context.Context, id int64) (*domain.Reproduction, error) {
	rep, ok := r.reproductions[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return rep, nil
}

func (r *reproductionRepo) GetByToken(_ context.Context, token string) (*domain.Reproduction, error) {
	for _, rep := range r.reproductions {
		if rep.Token == token {
			return rep, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *reproductionRepo) Save(_ context.Context, rep *domain.Reproduction) error {
	if rep.ID == 0 {
		r.nextRequest++
		rep.ID = r.nextRequest
	}
	for _, hr := range rep.Holdings {
		if hr.ID == 0 {
			r.nextItem++
			hr.ID = r.nextItem
		}
	}
	r.reproductions[rep.ID] = rep
	return nil
}

func (r *reproductionRepo) Remove(_ context.Context, id int64) error {
	if _, ok := r.reproductions[id]; !ok {
		return repository.ErrNotFound
	}
	delete(r.reproductions, id)
	return nil
}

func (r *reproductionRepo) ActiveByHolding(
	_ context.Context,
	holdingID int64,
	filter repository.OnHoldFilter,
) (*domain.Reproduction, error) {
	var candidates []*domain.Reproduction
	for _, rep := range r.reproductions {
		if rep.Status.Ordinal() >= domain.ReproductionCompleted.Ordinal() {
			continue
		}
		if hasOpenItem(rep, holdingID, filter) {
			candidates = append(candidates, rep)
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	sort.Slice(candidates, func(i, j int) bool {
		if !candidates[i].CreationDate.Equal(candidates[j].CreationDate) {
			return candidates[i].CreationDate.Before(candidates[j].CreationDate)
		}
		return candidates[i].ID < candidates[j].ID
	})
	return candidates[0], nil
}

func (r *reproductionRepo) ListOfferedBefore(_ context.Context, cutoff time.Time) ([]*domain.Reproduction, error) {
	var out []*domain.Reproduction
	for _, rep := range r.reproductions {
		if rep.Status != domain.ReproductionHasOrderDetails {
			continue
		}
		if rep.OfferedAt == nil || !rep.OfferedAt.Before(cutoff) {
			continue
		}
		out = append(out, rep)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type orderRepo Store

func (r *orderRepo) Get(_ context.Context, id int64) (*domain.Order, error) {
	o, ok := r.orders[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return o, nil
}

func (r *orderRepo) GetByReproduction(_ context.Context, reproductionID int64) (*domain.Order, error) {
	for _, o := range r.orders {
		if o.ReproductionID == reproductionID {
			return o, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *orderRepo) Save(_ context.Context, o *domain.Order) error {
	if o.ID == 0 {
		for _, existing := range r.orders {
			if existing.ReproductionID == o.ReproductionID {
				return repository.ErrConflict
			}
		}
		r.nextOrder++
		o.ID = r.nextOrder
	}
	r.orders[o.ID] = o
	return nil
}

func hasOpenItem(req domain.Request, holdingID int64, filter repository.OnHoldFilter) bool {
	for _, hr := range req.Items() {
		if hr.Holding == nil || hr.Holding.ID != holdingID || hr.Completed {
			continue
		}
		switch filter {
		case repository.FilterOnlyOnHold:
			if hr.OnHold {
				return true
			}
		case repository.FilterOnlyActive:
			if !hr.OnHold {
				return true
			}
		default:
			return true
		}
	}
	return false
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
