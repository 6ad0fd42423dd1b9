package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"prodline/internal/domain"
)

func (r Repo) InsertAssignment(ctx context.Context, tx *sql.Tx, a domain.Assignment) error {
	reserved, err := marshalJSON(a.Reserved)
	if err != nil {
		return err
	}
	planned, err := marshalJSON(a.PlannedOutput)
	if err != nil {
		return err
	}
	_, err = r.q(tx).ExecContext(ctx, `INSERT INTO assignments(id,plan_id,node_id,worker_id,substation_id,operation_id,status,estimated_start,estimated_end,sequence_number,is_urgent,reserved_json,planned_json,reservation_st,created_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		a.ID, a.PlanID, a.NodeID, a.WorkerID, a.SubstationID, a.OperationID, a.Status,
		fmtTime(a.EstimatedStart), fmtTime(a.EstimatedEnd), a.SequenceNumber, a.IsUrgent,
		reserved, planned, nullable(a.ReservationSt), fmtTime(a.CreatedAt))
	return err
}

const assignmentCols = `id,plan_id,node_id,worker_id,substation_id,operation_id,status,estimated_start,estimated_end,sequence_number,is_urgent,reserved_json,planned_json,reservation_st,created_at,started_at,completed_at`

func scanAssignment(row interface{ Scan(...any) error }) (domain.Assignment, error) {
	var a domain.Assignment
	var estStart, estEnd, created string
	var reserved, planned, reservationSt, startedAt, completedAt sql.NullString
	if err := row.Scan(&a.ID, &a.PlanID, &a.NodeID, &a.WorkerID, &a.SubstationID, &a.OperationID, &a.Status,
		&estStart, &estEnd, &a.SequenceNumber, &a.IsUrgent, &reserved, &planned, &reservationSt, &created, &startedAt, &completedAt); err != nil {
		return a, err
	}
	a.EstimatedStart, _ = parseTime(estStart)
	a.EstimatedEnd, _ = parseTime(estEnd)
	a.CreatedAt, _ = parseTime(created)
	a.StartedAt = scanTime(startedAt)
	a.CompletedAt = scanTime(completedAt)
	a.ReservationSt = reservationSt.String
	if reserved.Valid && reserved.String != "" {
		if err := json.Unmarshal([]byte(reserved.String), &a.Reserved); err != nil {
			return a, fmt.Errorf("assignment %s reserved: %w", a.ID, err)
		}
	}
	if planned.Valid && planned.String != "" {
		if err := json.Unmarshal([]byte(planned.String), &a.PlannedOutput); err != nil {
			return a, fmt.Errorf("assignment %s planned: %w", a.ID, err)
		}
	}
	return a, nil
}

func (r Repo) GetAssignment(ctx context.Context, tx *sql.Tx, id string) (domain.Assignment, error) {
	row := r.q(tx).QueryRowContext(ctx, `SELECT `+assignmentCols+` FROM assignments WHERE id=?`, id)
	a, err := scanAssignment(row)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	return a, err
}

func (r Repo) listAssignments(ctx context.Context, q querier, where string, args ...any) ([]domain.Assignment, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+assignmentCols+` FROM assignments `+where, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Assignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r Repo) ListPlanAssignments(ctx context.Context, tx *sql.Tx, planID string) ([]domain.Assignment, error) {
	return r.listAssignments(ctx, r.q(tx), `WHERE plan_id=? ORDER BY created_at, id`, planID)
}

// ListWorkerQueue returns a worker's assignments in task-queue order:
// urgent first, then earliest estimated start, then creation order.
func (r Repo) ListWorkerQueue(ctx context.Context, tx *sql.Tx, workerID string) ([]domain.Assignment, error) {
	return r.listAssignments(ctx, r.q(tx),
		`WHERE worker_id=? AND status NOT IN (?,?) ORDER BY is_urgent DESC, estimated_start ASC, created_at ASC, rowid ASC`,
		workerID, domain.AssignmentCompleted, domain.AssignmentCancelled)
}

// ListOpenAssignments returns every non-terminal assignment across all
// plans, ordered by estimated start.
func (r Repo) ListOpenAssignments(ctx context.Context, tx *sql.Tx) ([]domain.Assignment, error) {
	return r.listAssignments(ctx, r.q(tx),
		`WHERE status NOT IN (?,?) ORDER BY estimated_start, rowid`,
		domain.AssignmentCompleted, domain.AssignmentCancelled)
}

// ListOpenSubstationAssignments returns non-terminal assignments booked on a
// substation.
func (r Repo) ListOpenSubstationAssignments(ctx context.Context, tx *sql.Tx, substationID string) ([]domain.Assignment, error) {
	return r.listAssignments(ctx, r.q(tx),
		`WHERE substation_id=? AND status NOT IN (?,?) ORDER BY estimated_start`,
		substationID, domain.AssignmentCompleted, domain.AssignmentCancelled)
}

func (r Repo) CountAssignments(ctx context.Context, tx *sql.Tx) (int, error) {
	var n int
	err := r.q(tx).QueryRowContext(ctx, `SELECT COUNT(*) FROM assignments`).Scan(&n)
	return n, err
}

// CountOpenPlanAssignments counts a plan's assignments that are neither
// completed nor cancelled.
func (r Repo) CountOpenPlanAssignments(ctx context.Context, tx *sql.Tx, planID string) (int, error) {
	var n int
	err := r.q(tx).QueryRowContext(ctx,
		`SELECT COUNT(*) FROM assignments WHERE plan_id=? AND status NOT IN (?,?)`,
		planID, domain.AssignmentCompleted, domain.AssignmentCancelled).Scan(&n)
	return n, err
}

func (r Repo) SetAssignmentStatus(ctx context.Context, tx *sql.Tx, id, status string, at time.Time) error {
	var query string
	args := []any{status, fmtTime(at), id}
	switch status {
	case domain.AssignmentInProgress:
		query = `UPDATE assignments SET status=?, started_at=? WHERE id=?`
	case domain.AssignmentCompleted:
		query = `UPDATE assignments SET status=?, completed_at=? WHERE id=?`
	default:
		query = `UPDATE assignments SET status=? WHERE id=?`
		args = []any{status, id}
	}
	res, err := r.q(tx).ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
