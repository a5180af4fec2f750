package uow

import (
	"context"

	"github.com/leeszaal/deliver-go/internal/repository"
	postgres "github.com/leeszaal/deliver-go/internal/repository/postgres"
)

// UoW is the postgres-backed unit of work: one serializable transaction
// per Do call, with tx-bound repositories handed to fn and after-commit
// hooks running only once the commit succeeded.
type UoW struct {
	store *postgres.Store
}

func NewUoW(store *postgres.Store) *UoW {
	return &UoW{store: store}
}

// Do runs fn inside a transaction. After a successful commit, it executes
// all after-commit hooks.
func (u *UoW) Do(
	ctx context.Context,
	fn func(ctx context.Context, r repository.Repos, after func(repository.AfterCommit)) error,
) error {
	var hooks []repository.AfterCommit

	err := u.store.RunTx(ctx, nil, func(ctx context.Context, tx postgres.DB) error {
		return fn(ctx, u.store.BoundTo(tx), func(h repository.AfterCommit) {
			hooks = append(hooks, h)
		})
	})
	if err != nil {
		return err
	}

	for _, h := range hooks {
		h(ctx)
	}

	return nil
}
