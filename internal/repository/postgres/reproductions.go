package postgres

import (
	"context"
	"time"

	"github.com/leeszaal/deliver-go/internal/domain"
	"github.com/leeszaal/deliver-go/internal/repository"
)

type ReproductionRepo struct {
	db DB
}

const reproductionColumns = `id, name, email, printed, status, token, offered_at, reminder_sent, created_at`

func (r *ReproductionRepo) Get(ctx context.Context, id int64) (*domain.Reproduction, error) {
	const op = "postgres.ReproductionRepo.Get"

	return r.getWhere(ctx, op, `id = $1`, id)
}

func (r *ReproductionRepo) GetByToken(ctx context.Context, token string) (*domain.Reproduction, error) {
	const op = "postgres.ReproductionRepo.GetByToken"

	return r.getWhere(ctx, op, `token = $1`, token)
}

func (r *ReproductionRepo) getWhere(ctx context.Context, op, where string, arg any) (*domain.Reproduction, error) {
	var rep domain.Reproduction
	var status int

	err := r.db.QueryRow(ctx,
		`SELECT `+reproductionColumns+` FROM reproductions WHERE `+where,
		arg,
	).Scan(
		&rep.ID,
		&rep.Name,
		&rep.Email,
		&rep.Printed,
		&status,
		&rep.Token,
		&rep.OfferedAt,
		&rep.ReminderSent,
		&rep.CreationDate,
	)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	rep.Status = domain.ReproductionStatus(status)

	items, err := loadItems(ctx, r.db, "reproduction_id", rep.ID, &rep)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}
	rep.Holdings = items

	return &rep, nil
}

func (r *ReproductionRepo) Save(ctx context.Context, rep *domain.Reproduction) error {
	const op = "postgres.ReproductionRepo.Save"

	if rep.ID == 0 {
		err := r.db.QueryRow(ctx,
			`INSERT INTO reproductions(name, email, printed, status, token, offered_at, reminder_sent, created_at)
		   	 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		  	 RETURNING id`,
			rep.Name, rep.Email, rep.Printed, rep.Status.Ordinal(), rep.Token, rep.OfferedAt, rep.ReminderSent, rep.CreationDate,
		).Scan(&rep.ID)
		if err != nil {
			return wrapDBErr(op, err)
		}
	} else {
		tag, err := r.db.Exec(ctx,
			`UPDATE reproductions
		        SET name = $2, email = $3, printed = $4, status = $5, offered_at = $6, reminder_sent = $7
		 	 WHERE id = $1`,
			rep.ID, rep.Name, rep.Email, rep.Printed, rep.Status.Ordinal(), rep.OfferedAt, rep.ReminderSent,
		)
		if err != nil {
			return wrapDBErr(op, err)
		}
		if tag.RowsAffected() == 0 {
			return wrapDBErr(op, errNoRowsAffected)
		}
	}

	if err := saveItems(ctx, r.db, "reproduction_id", rep.ID, rep.Holdings); err != nil {
		return wrapDBErr(op, err)
	}

	return nil
}

func (r *ReproductionRepo) Remove(ctx context.Context, id int64) error {
	const op = "postgres.ReproductionRepo.Remove"

	if _, err := r.db.Exec(ctx,
		`DELETE FROM holding_requests WHERE reproduction_id = $1`, id,
	); err != nil {
		return wrapDBErr(op, err)
	}

	tag, err := r.db.Exec(ctx, `DELETE FROM reproductions WHERE id = $1`, id)
	if err != nil {
		return wrapDBErr(op, err)
	}
	if tag.RowsAffected() == 0 {
		return wrapDBErr(op, errNoRowsAffected)
	}

	return nil
}

func (r *ReproductionRepo) ActiveByHolding(
	ctx context.Context,
	holdingID int64,
	filter repository.OnHoldFilter,
) (*domain.Reproduction, error) {
	const op = "postgres.ReproductionRepo.ActiveByHolding"

	var id int64

	err := r.db.QueryRow(ctx,
		`SELECT rep.id
       	 FROM reproductions rep
       	 JOIN holding_requests hr ON hr.reproduction_id = rep.id
      	 WHERE hr.holding_id = $1
        	AND rep.status < $2
        	AND NOT hr.completed`+onHoldClause("hr", filter)+`
      	 ORDER BY rep.created_at, rep.id
      	 LIMIT 1`,
		holdingID, domain.ReproductionCompleted.Ordinal(),
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

// ListOfferedBefore drives the payment sweeps: reproductions still
// waiting on the customer past the cutoff.
func (r *ReproductionRepo) ListOfferedBefore(ctx context.Context, cutoff time.Time) ([]*domain.Reproduction, error) {
	const op = "postgres.ReproductionRepo.ListOfferedBefore"

	rows, err := r.db.Query(ctx,
		`SELECT id
       	 FROM reproductions
      	 WHERE status = $1 AND offered_at IS NOT NULL AND offered_at < $2
      	 ORDER BY offered_at, id`,
		domain.ReproductionHasOrderDetails.Ordinal(), cutoff,
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

	out := make([]*domain.Reproduction, 0, len(ids))
	for _, id := range ids {
		rep, err := r.Get(ctx, id)
		if err != nil {
			return nil, wrapDBErr(op, err)
		}
		out = append(out, rep)
	}

	return out, nil
}
