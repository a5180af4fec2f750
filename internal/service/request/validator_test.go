package request_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leeszaal/deliver-go/internal/catalog"
	"github.com/leeszaal/deliver-go/internal/domain"
	"github.com/leeszaal/deliver-go/internal/repository"
	"github.com/leeszaal/deliver-go/internal/repository/memory"
	"github.com/leeszaal/deliver-go/internal/service/request"
)

func withRepos(t *testing.T, store *memory.Store, fn func(r repository.Repos)) {
	t.Helper()
	err := store.Do(context.Background(), func(_ context.Context, r repository.Repos, _ func(repository.AfterCommit)) error {
		fn(r)
		return nil
	})
	require.NoError(t, err)
}

func reservationWith(holdings ...*domain.Holding) *domain.Reservation {
	res := &domain.Reservation{}
	res.CreationDate = time.Now()
	for _, h := range holdings {
		res.Holdings = append(res.Holdings, &domain.HoldingRequest{Holding: h})
	}
	return res
}

func TestValidateRejectsEmptyRequest(t *testing.T) {
	v := request.NewValidator(catalog.NewStatic())
	store := memory.NewStore()

	withRepos(t, store, func(r repository.Repos) {
		err := v.Validate(context.Background(), r, reservationWith(), nil, false)
		assert.ErrorIs(t, err, request.ErrNoHoldings)
	})
}

func TestValidateRejectsClosedRecord(t *testing.T) {
	cat := catalog.NewStatic()
	cat.Restrictions[7] = domain.RestrictionClosed

	v := request.NewValidator(cat)
	store := memory.NewStore()
	h := store.Seed(&domain.Holding{RecordID: 7, Signature: "B 3", Status: domain.HoldingAvailable})

	withRepos(t, store, func(r repository.Repos) {
		err := v.Validate(context.Background(), r, reservationWith(h), nil, false)
		assert.ErrorIs(t, err, request.ErrClosed)
	})
}

func TestValidateSkipsChecksForPriorHoldings(t *testing.T) {
	// A record closed after the original request must not block edits that
	// keep its holdings.
	cat := catalog.NewStatic()
	cat.Restrictions[7] = domain.RestrictionClosed

	v := request.NewValidator(cat)
	store := memory.NewStore()
	h := store.Seed(&domain.Holding{RecordID: 7, Signature: "B 3", Status: domain.HoldingInUse})

	prior := reservationWith(h)

	withRepos(t, store, func(r repository.Repos) {
		err := v.Validate(context.Background(), r, reservationWith(h), prior, true)
		assert.NoError(t, err)
	})
}

func TestValidateAvailabilityCheck(t *testing.T) {
	v := request.NewValidator(catalog.NewStatic())
	store := memory.NewStore()
	taken := store.Seed(&domain.Holding{RecordID: 1, Signature: "A 1", Status: domain.HoldingReserved})

	withRepos(t, store, func(r repository.Repos) {
		err := v.Validate(context.Background(), r, reservationWith(taken), nil, true)
		assert.ErrorIs(t, err, request.ErrInUse)
	})
}

func TestValidateWithoutAvailabilityCheck(t *testing.T) {
	// Reproductions queue behind whoever has the item; no availability
	// gate applies.
	v := request.NewValidator(catalog.NewStatic())
	store := memory.NewStore()
	taken := store.Seed(&domain.Holding{RecordID: 1, Signature: "A 1", Status: domain.HoldingInUse})

	withRepos(t, store, func(r repository.Repos) {
		err := v.Validate(context.Background(), r, reservationWith(taken), nil, false)
		assert.NoError(t, err)
	})
}

func TestValidateBindsBackReference(t *testing.T) {
	v := request.NewValidator(catalog.NewStatic())
	store := memory.NewStore()
	h := store.Seed(&domain.Holding{RecordID: 1, Signature: "A 1", Status: domain.HoldingAvailable})

	res := reservationWith(h)

	withRepos(t, store, func(r repository.Repos) {
		require.NoError(t, v.Validate(context.Background(), r, res, nil, true))
	})

	for _, hr := range res.Holdings {
		assert.Same(t, res, hr.Request)
	}
}

func TestMerge(t *testing.T) {
	kept := &domain.Holding{ID: 1, RecordID: 1, Signature: "A 1"}
	dropped := &domain.Holding{ID: 2, RecordID: 1, Signature: "A 2"}
	added := &domain.Holding{ID: 3, RecordID: 2, Signature: "C 9"}

	prior := reservationWith(kept, dropped)
	prior.ID = 10
	prior.Holdings[0].ID = 100
	prior.Holdings[0].Comment = "old comment"
	prior.Holdings[1].ID = 101

	edited := reservationWith(kept, added)
	edited.Holdings[0].Comment = "new comment"

	removed := request.Merge(prior, edited)

	require.Len(t, removed, 1)
	assert.Equal(t, dropped, removed[0].Holding)

	require.Len(t, prior.Holdings, 2)

	// Kept holding request retains its identity but takes the edit.
	assert.Equal(t, int64(100), prior.Holdings[0].ID)
	assert.Equal(t, "new comment", prior.Holdings[0].Comment)

	// New holding request joins the prior request.
	assert.Equal(t, added, prior.Holdings[1].Holding)
	assert.Same(t, prior, prior.Holdings[1].Request)
}

func TestMergeAppliesPricing(t *testing.T) {
	h := &domain.Holding{ID: 1, RecordID: 1, Signature: "A 1"}

	prior := reservationWith(h)
	prior.Holdings[0].ID = 100

	price := int64(1500)
	days := 5
	edited := reservationWith(h)
	edited.Holdings[0].PriceCents = &price
	edited.Holdings[0].DeliveryDays = &days

	removed := request.Merge(prior, edited)

	assert.Empty(t, removed)
	require.NotNil(t, prior.Holdings[0].PriceCents)
	assert.Equal(t, int64(1500), *prior.Holdings[0].PriceCents)
	require.NotNil(t, prior.Holdings[0].DeliveryDays)
	assert.Equal(t, 5, *prior.Holdings[0].DeliveryDays)
}
