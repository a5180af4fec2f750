package postgres

import (
	"context"
	"time"

	"github.com/leeszaal/deliver-go/internal/domain"
	"github.com/leeszaal/deliver-go/internal/repository"
)

type ReservationRepo struct {
	db DB
}

func (r *ReservationRepo) Get(ctx context.Context, id int64) (*domain.Reservation, error) {
	const op = "postgres.ReservationRepo.Get"

	var res domain.Reservation
	var status int

	err := r.db.QueryRow(ctx,
		`SELECT id, name, email, printed, status, visit_date, return_date, created_at
       	 FROM reservations WHERE id = $1`,
		id,
	).Scan(
		&res.ID,
		&res.Name,
		&res.Email,
		&res.Printed,
		&status,
		&res.Date,
		&res.ReturnDate,
		&res.CreationDate,
	)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	res.Status = domain.ReservationStatus(status)

	items, err := loadItems(ctx, r.db, "reservation_id", res.ID, &res)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}
	res.Holdings = items

	return &res, nil
}

func (r *ReservationRepo) Save(ctx context.Context, res *domain.Reservation) error {
	const op = "postgres.ReservationRepo.Save"

	if res.ID == 0 {
		err := r.db.QueryRow(ctx,
			`INSERT INTO reservations(name, email, printed, status, visit_date, return_date, created_at)
		   	 VALUES ($1, $2, $3, $4, $5, $6, $7)
		  	 RETURNING id`,
			res.Name, res.Email, res.Printed, res.Status.Ordinal(), res.Date, res.ReturnDate, res.CreationDate,
		).Scan(&res.ID)
		if err != nil {
			return wrapDBErr(op, err)
		}
	} else {
		tag, err := r.db.Exec(ctx,
			`UPDATE reservations
		        SET name = $2, email = $3, printed = $4, status = $5, visit_date = $6, return_date = $7
		 	 WHERE id = $1`,
			res.ID, res.Name, res.Email, res.Printed, res.Status.Ordinal(), res.Date, res.ReturnDate,
		)
		if err != nil {
			return wrapDBErr(op, err)
		}
		if tag.RowsAffected() == 0 {
			return wrapDBErr(op, errNoRowsAffected)
		}
	}

	if err := saveItems(ctx, r.db, "reservation_id", res.ID, res.Holdings); err != nil {
		return wrapDBErr(op, err)
	}

	return nil
}

func (r *ReservationRepo) Remove(ctx context.Context, id int64) error {
	const op = "postgres.ReservationRepo.Remove"

	if _, err := r.db.Exec(ctx,
		`DELETE FROM holding_requests WHERE reservation_id = $1`, id,
	); err != nil {
		return wrapDBErr(op, err)
	}

	tag, err := r.db.Exec(ctx, `DELETE FROM reservations WHERE id = $1`, id)
	if err != nil {
		return wrapDBErr(op, err)
	}
	if tag.RowsAffected() == 0 {
		return wrapDBErr(op, errNoRowsAffected)
	}

	return nil
}

// ActiveByHolding returns the earliest live reservation still holding a
// non-completed claim on the holding, or nil.
func (r *ReservationRepo) ActiveByHolding(
	ctx context.Context,
	holdingID int64,
	filter repository.OnHoldFilter,
) (*domain.Reservation, error) {
	const op = "postgres.ReservationRepo.ActiveByHolding"

	var id int64

	err := r.db.QueryRow(ctx,
		`SELECT res.id
       	 FROM reservations res
       	 JOIN holding_requests hr ON hr.reservation_id = res.id
      	 WHERE hr.holding_id = $1
        	AND res.status < $2
        	AND NOT hr.completed`+onHoldClause("hr", filter)+`
      	 ORDER BY res.created_at, res.id
      	 LIMIT 1`,
		holdingID, domain.ReservationCompleted.Ordinal(),
	).Scan(&id)
	if err != nil {
		wrapped := wrapDBErr(op, err)
		if isNotFound(wrapped) {
			return nil, nil
		}
		return nil, wrapped
	}

	return r.Get(ctx, id)
}

func (r *ReservationRepo) ListByDate(ctx context.Context, day time.Time) ([]*domain.Reservation, error) {
	const op = "postgres.ReservationRepo.ListByDate"

	rows, err := r.db.Query(ctx,
		`SELECT id FROM reservations WHERE visit_date = $1 ORDER BY created_at, id`,
		day,
	)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, wrapDBErr(op, err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, wrapDBErr(op, err)
	}
	rows.Close()

	out := make([]*domain.Reservation, 0, len(ids))
	for _, id := range ids {
		res, err := r.Get(ctx, id)
		if err != nil {
			return nil, wrapDBErr(op, err)
		}
		out = append(out, res)
	}

	return out, nil
}
