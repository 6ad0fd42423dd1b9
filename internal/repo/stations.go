package repo

import (
	"context"
	"database/sql"
	"time"

	"prodline/internal/domain"
)

func (r Repo) UpsertStation(ctx context.Context, s domain.Station) error {
	skills, err := marshalJSON(s.SkillIDs)
	if err != nil {
		return err
	}
	_, err = r.DB.ExecContext(ctx, `INSERT INTO stations(id,name,skills_json) VALUES (?,?,?)
ON CONFLICT(id) DO UPDATE SET name=excluded.name, skills_json=excluded.skills_json`, s.ID, s.Name, skills)
	return err
}

func (r Repo) GetStation(ctx context.Context, tx *sql.Tx, id string) (domain.Station, error) {
	var s domain.Station
	var skills sql.NullString
	err := r.q(tx).QueryRowContext(ctx, `SELECT id,name,skills_json FROM stations WHERE id=?`, id).
		Scan(&s.ID, &s.Name, &skills)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	if err != nil {
		return s, err
	}
	s.SkillIDs = unmarshalStrings(skills)
	return s, nil
}

func (r Repo) ListStations(ctx context.Context) ([]domain.Station, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,skills_json FROM stations ORDER BY rowid`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Station
	for rows.Next() {
		var s domain.Station
		var skills sql.NullString
		if err := rows.Scan(&s.ID, &s.Name, &skills); err != nil {
			return nil, err
		}
		s.SkillIDs = unmarshalStrings(skills)
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r Repo) UpsertSubstation(ctx context.Context, s domain.Substation) error {
	if s.Status == "" {
		s.Status = domain.SubstationAvailable
	}
	_, err := r.DB.ExecContext(ctx, `INSERT INTO substations(id,station_id,name,is_active,status) VALUES (?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET station_id=excluded.station_id, name=excluded.name, is_active=excluded.is_active, status=excluded.status`,
		s.ID, s.StationID, s.Name, s.IsActive, s.Status)
	return err
}

func scanSubstation(row interface{ Scan(...any) error }) (domain.Substation, error) {
	var s domain.Substation
	var end, assignment sql.NullString
	if err := row.Scan(&s.ID, &s.StationID, &s.Name, &s.IsActive, &s.Status, &end, &assignment); err != nil {
		return s, err
	}
	s.CurrentExpectedEnd = scanTime(end)
	if assignment.Valid {
		s.CurrentAssignmentID = &assignment.String
	}
	return s, nil
}

func (r Repo) GetSubstation(ctx context.Context, tx *sql.Tx, id string) (domain.Substation, error) {
	row := r.q(tx).QueryRowContext(ctx, `SELECT id,station_id,name,is_active,status,current_expected_end,current_assignment_id FROM substations WHERE id=?`, id)
	s, err := scanSubstation(row)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	return s, err
}

// ListActiveSubstations returns the active substations of a station in
// insertion order.
func (r Repo) ListActiveSubstations(ctx context.Context, tx *sql.Tx, stationID string) ([]domain.Substation, error) {
	rows, err := r.q(tx).QueryContext(ctx, `SELECT id,station_id,name,is_active,status,current_expected_end,current_assignment_id
FROM substations WHERE station_id=? AND is_active=1 ORDER BY rowid`, stationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Substation
	for rows.Next() {
		s, err := scanSubstation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r Repo) ListSubstations(ctx context.Context) ([]domain.Substation, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,station_id,name,is_active,status,current_expected_end,current_assignment_id FROM substations ORDER BY rowid`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Substation
	for rows.Next() {
		s, err := scanSubstation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ReserveSubstation marks a substation reserved for an assignment and moves
// its expected-end watermark.
func (r Repo) ReserveSubstation(ctx context.Context, tx *sql.Tx, id string, expectedEnd time.Time, assignmentID string) error {
	_, err := r.q(tx).ExecContext(ctx, `UPDATE substations SET status=?, current_expected_end=?, current_assignment_id=? WHERE id=?`,
		domain.SubstationReserved, fmtTime(expectedEnd), assignmentID, id)
	return err
}

// SetSubstationState updates status and current assignment; a nil
// assignmentID clears the reservation fields.
func (r Repo) SetSubstationState(ctx context.Context, tx *sql.Tx, id, status string, expectedEnd *time.Time, assignmentID *string) error {
	var assignment any
	if assignmentID != nil {
		assignment = *assignmentID
	}
	_, err := r.q(tx).ExecContext(ctx, `UPDATE substations SET status=?, current_expected_end=?, current_assignment_id=? WHERE id=?`,
		status, nullableTime(expectedEnd), assignment, id)
	return err
}
