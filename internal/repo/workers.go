package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"prodline/internal/domain"
)

func (r Repo) UpsertWorker(ctx context.Context, w domain.Worker) error {
	skills, err := marshalJSON(w.SkillIDs)
	if err != nil {
		return err
	}
	personal, err := marshalJSON(w.PersonalBlocks)
	if err != nil {
		return err
	}
	if w.Status == "" {
		w.Status = domain.WorkerAvailable
	}
	if w.ScheduleMode == "" {
		w.ScheduleMode = domain.ScheduleCompany
	}
	_, err = r.DB.ExecContext(ctx, `INSERT INTO workers(id,name,status,skills_json,schedule_mode,shift_lane,personal_json) VALUES (?,?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET name=excluded.name, status=excluded.status, skills_json=excluded.skills_json,
schedule_mode=excluded.schedule_mode, shift_lane=excluded.shift_lane, personal_json=excluded.personal_json`,
		w.ID, w.Name, w.Status, skills, w.ScheduleMode, nullable(w.ShiftLane), personal)
	return err
}

func scanWorker(rows interface{ Scan(...any) error }) (domain.Worker, error) {
	var w domain.Worker
	var skills, lane, personal sql.NullString
	if err := rows.Scan(&w.ID, &w.Name, &w.Status, &skills, &w.ScheduleMode, &lane, &personal); err != nil {
		return w, err
	}
	w.SkillIDs = unmarshalStrings(skills)
	w.ShiftLane = lane.String
	if personal.Valid && personal.String != "" {
		if err := json.Unmarshal([]byte(personal.String), &w.PersonalBlocks); err != nil {
			return w, fmt.Errorf("worker %s personal schedule: %w", w.ID, err)
		}
	}
	return w, nil
}

func (r Repo) GetWorker(ctx context.Context, tx *sql.Tx, id string) (domain.Worker, error) {
	row := r.q(tx).QueryRowContext(ctx, `SELECT id,name,status,skills_json,schedule_mode,shift_lane,personal_json FROM workers WHERE id=?`, id)
	w, err := scanWorker(row)
	if err == sql.ErrNoRows {
		return w, ErrNotFound
	}
	if err != nil {
		return w, err
	}
	w.Absences, err = r.listAbsences(ctx, tx, w.ID)
	return w, err
}

// ListWorkers returns all workers in insertion order, with absences loaded.
func (r Repo) ListWorkers(ctx context.Context, tx *sql.Tx) ([]domain.Worker, error) {
	rows, err := r.q(tx).QueryContext(ctx, `SELECT id,name,status,skills_json,schedule_mode,shift_lane,personal_json FROM workers ORDER BY rowid`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var workers []domain.Worker
	for rows.Next() {
		w, err := scanWorker(rows)
		if err != nil {
			return nil, err
		}
		workers = append(workers, w)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range workers {
		workers[i].Absences, err = r.listAbsences(ctx, tx, workers[i].ID)
		if err != nil {
			return nil, err
		}
	}
	return workers, nil
}

func (r Repo) listAbsences(ctx context.Context, tx *sql.Tx, workerID string) ([]domain.Absence, error) {
	rows, err := r.q(tx).QueryContext(ctx, `SELECT worker_id,from_date,to_date,COALESCE(reason,'') FROM worker_absences WHERE worker_id=? ORDER BY from_date`, workerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Absence
	for rows.Next() {
		var a domain.Absence
		var from, to string
		if err := rows.Scan(&a.WorkerID, &from, &to, &a.Reason); err != nil {
			return nil, err
		}
		a.From, _ = parseTime(from)
		a.To, _ = parseTime(to)
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r Repo) AddAbsence(ctx context.Context, a domain.Absence) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO worker_absences(worker_id,from_date,to_date,reason) VALUES (?,?,?,?)`,
		a.WorkerID, fmtTime(a.From), fmtTime(a.To), nullable(a.Reason))
	return err
}

func (r Repo) SetWorkerStatus(ctx context.Context, tx *sql.Tx, id, status string) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE workers SET status=? WHERE id=?`, status, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- skills ---

func (r Repo) UpsertSkill(ctx context.Context, s domain.Skill) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO skills(id,name) VALUES (?,?) ON CONFLICT(id) DO UPDATE SET name=excluded.name`, s.ID, s.Name)
	return err
}

// SkillNames maps skill ids to human-readable names; unknown ids map to
// themselves so error messages stay useful.
func (r Repo) SkillNames(ctx context.Context, tx *sql.Tx, ids []string) ([]string, error) {
	names := make([]string, 0, len(ids))
	for _, id := range ids {
		var name string
		err := r.q(tx).QueryRowContext(ctx, `SELECT name FROM skills WHERE id=?`, id).Scan(&name)
		if err == sql.ErrNoRows {
			name = id
		} else if err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, nil
}

// --- operations ---

func (r Repo) UpsertOperation(ctx context.Context, op domain.Operation) error {
	skills, err := marshalJSON(op.SkillIDs)
	if err != nil {
		return err
	}
	_, err = r.DB.ExecContext(ctx, `INSERT INTO operations(id,name,skills_json) VALUES (?,?,?)
ON CONFLICT(id) DO UPDATE SET name=excluded.name, skills_json=excluded.skills_json`, op.ID, op.Name, skills)
	return err
}

func (r Repo) GetOperation(ctx context.Context, tx *sql.Tx, id string) (domain.Operation, error) {
	var op domain.Operation
	var skills sql.NullString
	err := r.q(tx).QueryRowContext(ctx, `SELECT id,name,skills_json FROM operations WHERE id=?`, id).
		Scan(&op.ID, &op.Name, &skills)
	if err == sql.ErrNoRows {
		return op, ErrNotFound
	}
	if err != nil {
		return op, err
	}
	op.SkillIDs = unmarshalStrings(skills)
	return op, nil
}
