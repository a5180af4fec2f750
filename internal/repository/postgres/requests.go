package postgres

import (
	"context"
	"fmt"

	"github.com/leeszaal/deliver-go/internal/domain"
	"github.com/leeszaal/deliver-go/internal/repository"
)

// holding_requests is one table shared by every request kind; ownerColumn
// selects the foreign key (reservation_id or reproduction_id).

func loadItems(ctx context.Context, db DB, ownerColumn string, ownerID int64, owner domain.Request) ([]*domain.HoldingRequest, error) {
	const op = "postgres.loadItems"

	rows, err := db.Query(ctx,
		fmt.Sprintf(
			`SELECT hr.id, hr.completed, hr.on_hold, hr.comment, hr.price_cents, hr.delivery_days,
		        h.id, h.record_id, h.signature, h.status
		 FROM holding_requests hr
		 JOIN holdings h ON h.id = hr.holding_id
		 WHERE hr.%s = $1
		 ORDER BY hr.id`, ownerColumn),
		ownerID,
	)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	defer rows.Close()

	var out []*domain.HoldingRequest
	for rows.Next() {
		hr := &domain.HoldingRequest{Holding: &domain.Holding{}, Request: owner}
		var status string

		if err := rows.Scan(
			&hr.ID,
			&hr.Completed,
			&hr.OnHold,
			&hr.Comment,
			&hr.PriceCents,
			&hr.DeliveryDays,
			&hr.Holding.ID,
			&hr.Holding.RecordID,
			&hr.Holding.Signature,
			&status,
		); err != nil {
			return nil, wrapDBErr(op, err)
		}

		hr.Holding.Status = domain.HoldingStatus(status)
		out = append(out, hr)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDBErr(op, err)
	}

	return out, nil
}

// saveItems upserts the request's holding requests and deletes rows that
// were merged away.
func saveItems(ctx context.Context, db DB, ownerColumn string, ownerID int64, items []*domain.HoldingRequest) error {
	const op = "postgres.saveItems"

	keep := make([]int64, 0, len(items))

	for _, hr := range items {
		if hr.ID == 0 {
			err := db.QueryRow(ctx,
				fmt.Sprintf(
					`INSERT INTO holding_requests(%s, holding_id, completed, on_hold, comment, price_cents, delivery_days)
			 	 VALUES ($1, $2, $3, $4, $5, $6, $7)
			 	 RETURNING id`, ownerColumn),
				ownerID, hr.Holding.ID, hr.Completed, hr.OnHold, hr.Comment, hr.PriceCents, hr.DeliveryDays,
			).Scan(&hr.ID)
			if err != nil {
				return wrapDBErr(op, err)
			}
			continue
		}

		if _, err := db.Exec(ctx,
			`UPDATE holding_requests
		        SET completed = $2, on_hold = $3, comment = $4, price_cents = $5, delivery_days = $6
		 	 WHERE id = $1`,
			hr.ID, hr.Completed, hr.OnHold, hr.Comment, hr.PriceCents, hr.DeliveryDays,
		); err != nil {
			return wrapDBErr(op, err)
		}

		keep = append(keep, hr.ID)
	}

	for _, hr := range items {
		keep = appendUnique(keep, hr.ID)
	}

	if _, err := db.Exec(ctx,
		fmt.Sprintf(
			`DELETE FROM holding_requests WHERE %s = $1 AND NOT (id = ANY($2))`, ownerColumn),
		ownerID, keep,
	); err != nil {
		return wrapDBErr(op, err)
	}

	return nil
}

func appendUnique(ids []int64, id int64) []int64 {
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	return append(ids, id)
}

func onHoldClause(alias string, filter repository.OnHoldFilter) string {
	switch filter {
	case repository.FilterOnlyOnHold:
		return " AND " + alias + ".on_hold"
	case repository.FilterOnlyActive:
		return " AND NOT " + alias + ".on_hold"
	default:
		return ""
	}
}
