package postgres

import (
	"context"

	"github.com/leeszaal/deliver-go/internal/domain"
)

type HoldingRepo struct {
	db DB
}

func (r *HoldingRepo) Get(ctx context.Context, id int64) (*domain.Holding, error) {
	return r.get(ctx, id, "")
}

// GetForUpdate locks the holding row until the transaction ends, closing
// the window between an availability check and the status write.
func (r *HoldingRepo) GetForUpdate(ctx context.Context, id int64) (*domain.Holding, error) {
	return r.get(ctx, id, " FOR UPDATE")
}

func (r *HoldingRepo) get(ctx context.Context, id int64, suffix string) (*domain.Holding, error) {
	const op = "postgres.HoldingRepo.get"

	var h domain.Holding
	var status string

	err := r.db.QueryRow(ctx,
		`SELECT id, record_id, signature, status
       	 FROM holdings WHERE id = $1`+suffix,
		id,
	).Scan(&h.ID, &h.RecordID, &h.Signature, &status)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	h.Status = domain.HoldingStatus(status)

	return &h, nil
}

func (r *HoldingRepo) GetBySignature(ctx context.Context, recordID int64, signature string) (*domain.Holding, error) {
	const op = "postgres.HoldingRepo.GetBySignature"

	var h domain.Holding
	var status string

	err := r.db.QueryRow(ctx,
		`SELECT id, record_id, signature, status
       	 FROM holdings WHERE record_id = $1 AND signature = $2`,
		recordID, signature,
	).Scan(&h.ID, &h.RecordID, &h.Signature, &status)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	h.Status = domain.HoldingStatus(status)

	return &h, nil
}

func (r *HoldingRepo) ListByRecord(ctx context.Context, recordID int64) ([]*domain.Holding, error) {
	const op = "postgres.HoldingRepo.ListByRecord"

	rows, err := r.db.Query(ctx,
		`SELECT id, record_id, signature, status
       	 FROM holdings
      	 WHERE record_id = $1
      	 ORDER BY signature`,
		recordID,
	)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	defer rows.Close()

	var out []*domain.Holding
	for rows.Next() {
		var h domain.Holding
		var status string

		if err := rows.Scan(&h.ID, &h.RecordID, &h.Signature, &status); err != nil {
			return nil, wrapDBErr(op, err)
		}

		h.Status = domain.HoldingStatus(status)
		out = append(out, &h)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDBErr(op, err)
	}

	return out, nil
}

func (r *HoldingRepo) Save(ctx context.Context, h *domain.Holding) error {
	const op = "postgres.HoldingRepo.Save"

	if h.ID == 0 {
		err := r.db.QueryRow(ctx,
			`INSERT INTO holdings(record_id, signature, status)
		   	 VALUES ($1, $2, $3)
		  	 RETURNING id`,
			h.RecordID, h.Signature, string(h.Status),
		).Scan(&h.ID)
		if err != nil {
			return wrapDBErr(op, err)
		}
		return nil
	}

	tag, err := r.db.Exec(ctx,
		`UPDATE holdings
        	SET record_id = $2, signature = $3, status = $4
      	 WHERE id = $1`,
		h.ID, h.RecordID, h.Signature, string(h.Status),
	)
	if err != nil {
		return wrapDBErr(op, err)
	}
	if tag.RowsAffected() == 0 {
		return wrapDBErr(op, errNoRowsAffected)
	}

	return nil
}

// OnHoldCount counts on-hold holding requests on the holding across every
// request kind. The holding_requests table is shared, so one query covers
// reservations and reproductions alike.
func (r *HoldingRepo) OnHoldCount(ctx context.Context, holdingID int64) (int64, error) {
	const op = "postgres.HoldingRepo.OnHoldCount"

	var count int64

	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM holding_requests
      	 WHERE holding_id = $1 AND on_hold`,
		holdingID,
	).Scan(&count)
	if err != nil {
		return 0, wrapDBErr(op, err)
	}

	return count, nil
}

func (r *HoldingRepo) CountsByStatus(ctx context.Context, recordID int64) (*domain.HoldingCounts, error) {
	const op = "postgres.HoldingRepo.CountsByStatus"

	var c domain.HoldingCounts

	err := r.db.QueryRow(ctx,
		`SELECT
       	 	COALESCE(SUM(CASE WHEN status = 'available' THEN 1 ELSE 0 END), 0),
    	 	COALESCE(SUM(CASE WHEN status = 'reserved' THEN 1 ELSE 0 END), 0),
       	 	COALESCE(SUM(CASE WHEN status IN ('in_use', 'returned') THEN 1 ELSE 0 END), 0),
       	 	COUNT(*)
     	 FROM holdings
     	 WHERE record_id = $1`,
		recordID,
	).Scan(&c.Available, &c.Reserved, &c.InUse, &c.Total)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	return &c, nil
}
