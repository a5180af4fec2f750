package postgres

import (
	"context"

	"github.com/leeszaal/deliver-go/internal/domain"
)

type OrderRepo struct {
	db DB
}

const orderColumns = `id, reproduction_id, gateway_order_id, total_cents, payment_url, payment_accepted_at, created_at`

func (r *OrderRepo) Get(ctx context.Context, id int64) (*domain.Order, error) {
	const op = "postgres.OrderRepo.Get"

	return r.getWhere(ctx, op, `id = $1`, id)
}

func (r *OrderRepo) GetByReproduction(ctx context.Context, reproductionID int64) (*domain.Order, error) {
	const op = "postgres.OrderRepo.GetByReproduction"

	return r.getWhere(ctx, op, `reproduction_id = $1`, reproductionID)
}

func (r *OrderRepo) getWhere(ctx context.Context, op, where string, arg any) (*domain.Order, error) {
	var o domain.Order

	err := r.db.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE `+where,
		arg,
	).Scan(
		&o.ID,
		&o.ReproductionID,
		&o.GatewayOrderID,
		&o.TotalCents,
		&o.PaymentURL,
		&o.PaymentAcceptedAt,
		&o.CreatedAt,
	)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	return &o, nil
}

// Save relies on the unique index on reproduction_id to uphold the
// one-order-per-reproduction invariant even across processes.
func (r *OrderRepo) Save(ctx context.Context, o *domain.Order) error {
	const op = "postgres.OrderRepo.Save"

	if o.ID == 0 {
		err := r.db.QueryRow(ctx,
			`INSERT INTO orders(reproduction_id, gateway_order_id, total_cents, payment_url, payment_accepted_at, created_at)
		   	 VALUES ($1, $2, $3, $4, $5, $6)
		  	 RETURNING id`,
			o.ReproductionID, o.GatewayOrderID, o.TotalCents, o.PaymentURL, o.PaymentAcceptedAt, o.CreatedAt,
		).Scan(&o.ID)
		if err != nil {
			return wrapDBErr(op, err)
		}
		return nil
	}

	tag, err := r.db.Exec(ctx,
		`UPDATE orders
        	SET gateway_order_id = $2, total_cents = $3, payment_url = $4, payment_accepted_at = $5
      	 WHERE id = $1`,
		o.ID, o.GatewayOrderID, o.TotalCents, o.PaymentURL, o.PaymentAcceptedAt,
	)
	if err != nil {
		return wrapDBErr(op, err)
	}
	if tag.RowsAffected() == 0 {
		return wrapDBErr(op, errNoRowsAffected)
	}

	return nil
}
