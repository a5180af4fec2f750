// Package catalog is the boundary to the bibliographic metadata system.
// The core only reads restriction levels, titles and the SOR predicate;
// MARC/EAD extraction lives on the other side of this interface.
package catalog

import (
	"context"

	"github.com/leeszaal/deliver-go/internal/domain"
)

type Catalog interface {
	// Restriction resolves the record's access restriction. Closed
	// records may never be requested.
	Restriction(ctx context.Context, recordID int64) (domain.Restriction, error)
	Title(ctx context.Context, recordID int64) (string, error)
	MaterialType(ctx context.Context, recordID int64) (string, error)
	// InSor reports whether the holding is already fully available in the
	// digital object repository, i.e. fulfillable online without staff
	// work.
	InSor(ctx context.Context, holding *domain.Holding) (bool, error)
}

// Static is a fixed in-memory catalog. It backs local development and
// deployments where the metadata system pushes its view at boot.
type Static struct {
	Restrictions  map[int64]domain.Restriction
	Titles        map[int64]string
	MaterialTypes map[int64]string
	SorHoldings   map[int64]bool
}

func NewStatic() *Static {
	return &Static{
		Restrictions:  make(map[int64]domain.Restriction),
		Titles:        make(map[int64]string),
		MaterialTypes: make(map[int64]string),
		SorHoldings:   make(map[int64]bool),
	}
}

func (s *Static) Restriction(_ context.Context, recordID int64) (domain.Restriction, error) {
	if r, ok := s.Restrictions[recordID]; ok {
		return r, nil
	}
	return domain.RestrictionOpen, nil
}

func (s *Static) Title(_ context.Context, recordID int64) (string, error) {
	return s.Titles[recordID], nil
}

func (s *Static) MaterialType(_ context.Context, recordID int64) (string, error) {
	return s.MaterialTypes[recordID], nil
}

func (s *Static) InSor(_ context.Context, holding *domain.Holding) (bool, error) {
	return s.SorHoldings[holding.ID], nil
}
