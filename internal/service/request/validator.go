// Package request holds the validation and merge logic shared by every
// request kind.
package request

import (
	"context"
	"fmt"

	"github.com/leeszaal/deliver-go/internal/catalog"
	"github.com/leeszaal/deliver-go/internal/domain"
	"github.com/leeszaal/deliver-go/internal/repository"
)

type Validator struct {
	catalog catalog.Catalog
}

func NewValidator(c catalog.Catalog) *Validator {
	return &Validator{catalog: c}
}

// Validate checks the proposed holding requests of req before anything is
// persisted, and binds each one's back-reference to req. prior is the
// on-file version when editing, nil when creating. Holdings already
// attached to prior are exempt from the closed/availability checks.
//
// checkAvailability is set on visitor self-service flows only: it locks
// each new holding's row for the rest of the transaction and rejects
// anything that is not available, so two concurrent submissions cannot
// both win the same holding.
func (v *Validator) Validate(
	ctx context.Context,
	r repository.Repos,
	req domain.Request,
	prior domain.Request,
	checkAvailability bool,
) error {
	const op = "request.Validator.Validate"

	items := req.Items()
	if len(items) == 0 {
		return fmt.Errorf("%s:%w", op, ErrNoHoldings)
	}

	for _, hr := range items {
		hr.Request = req

		if prior != nil && itemFor(prior, hr.Holding) != nil {
			continue
		}

		restriction, err := v.catalog.Restriction(ctx, hr.Holding.RecordID)
		if err != nil {
			return fmt.Errorf("%s:%w", op, err)
		}
		if restriction == domain.RestrictionClosed {
			return fmt.Errorf("%s: %w: %s", op, ErrClosed, hr.Holding.Signature)
		}

		if checkAvailability {
			h, err := r.Holdings().GetForUpdate(ctx, hr.Holding.ID)
			if err != nil {
				return fmt.Errorf("%s:%w", op, err)
			}
			if h.Status != domain.HoldingAvailable {
				return fmt.Errorf("%s: %w: %s", op, ErrInUse, h.Signature)
			}
			hr.Holding = h
		}
	}

	return nil
}

// Merge reconciles an edited request against its on-file version. Holding
// requests absent from the edit are removed and returned so the caller
// can release their holdings through the arbitrator; the rest are matched
// on (record, signature) identity and updated in place, letting a client
// re-submit a whole set without tracking join-row ids.
func Merge(prior, edited domain.Request) (removed []*domain.HoldingRequest) {
	merged := make([]*domain.HoldingRequest, 0, len(edited.Items()))

	for _, existing := range prior.Items() {
		proposal := itemFor(edited, existing.Holding)
		if proposal == nil {
			removed = append(removed, existing)
			continue
		}

		existing.Comment = proposal.Comment
		if proposal.HasPrice() {
			existing.PriceCents = proposal.PriceCents
			existing.DeliveryDays = proposal.DeliveryDays
		}
		merged = append(merged, existing)
	}

	for _, proposal := range edited.Items() {
		if itemFor(prior, proposal.Holding) == nil {
			proposal.Request = prior
			merged = append(merged, proposal)
		}
	}

	prior.SetItems(merged)

	return removed
}

func itemFor(req domain.Request, h *domain.Holding) *domain.HoldingRequest {
	for _, hr := range req.Items() {
		if hr.Holding.RecordID == h.RecordID && hr.Holding.Signature == h.Signature {
			return hr
		}
	}
	return nil
}
