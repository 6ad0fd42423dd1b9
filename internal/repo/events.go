package repo

import (
	"context"

	"prodline/internal/domain"
)

// ListEvents returns the newest events first, optionally filtered to a plan.
func (r Repo) ListEvents(ctx context.Context, planID string, limit int) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id,ts,type,COALESCE(plan_id,''),entity_kind,COALESCE(entity_id,''),actor_id,payload_json FROM events`
	var args []any
	if planID != "" {
		query += ` WHERE plan_id=?`
		args = append(args, planID)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.PlanID, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
