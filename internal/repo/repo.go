package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"prodline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// querier lets a method run against the DB or inside a launch transaction.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (r Repo) q(tx *sql.Tx) querier {
	if tx != nil {
		return tx
	}
	return r.DB
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func fmtTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func nullableTime(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return fmtTime(*t)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}

func scanTime(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil
	}
	return &t
}

func marshalJSON(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func unmarshalStrings(ns sql.NullString) []string {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	var out []string
	_ = json.Unmarshal([]byte(ns.String), &out)
	return out
}

// --- plans ---

func (r Repo) InsertPlan(ctx context.Context, tx *sql.Tx, p domain.Plan) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO plans(id,name,status,quantity,defect_rate,created_at) VALUES (?,?,?,?,?,?)`,
		p.ID, p.Name, p.Status, p.Quantity, p.DefectRate, fmtTime(p.CreatedAt))
	return err
}

func (r Repo) GetPlan(ctx context.Context, tx *sql.Tx, id string) (domain.Plan, error) {
	var p domain.Plan
	var created string
	var launched sql.NullString
	err := r.q(tx).QueryRowContext(ctx, `SELECT id,name,status,quantity,defect_rate,created_at,launched_at FROM plans WHERE id=?`, id).
		Scan(&p.ID, &p.Name, &p.Status, &p.Quantity, &p.DefectRate, &created, &launched)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	p.CreatedAt, _ = parseTime(created)
	p.LaunchedAt = scanTime(launched)
	return p, nil
}

func (r Repo) ListPlans(ctx context.Context) ([]domain.Plan, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,status,quantity,defect_rate,created_at,launched_at FROM plans ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Plan
	for rows.Next() {
		var p domain.Plan
		var created string
		var launched sql.NullString
		if err := rows.Scan(&p.ID, &p.Name, &p.Status, &p.Quantity, &p.DefectRate, &created, &launched); err != nil {
			return nil, err
		}
		p.CreatedAt, _ = parseTime(created)
		p.LaunchedAt = scanTime(launched)
		res = append(res, p)
	}
	return res, rows.Err()
}

func (r Repo) UpdatePlanStatus(ctx context.Context, tx *sql.Tx, id, status string, launchedAt *time.Time) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE plans SET status=?, launched_at=COALESCE(?,launched_at) WHERE id=?`,
		status, nullableTime(launchedAt), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- nodes ---

func (r Repo) InsertNode(ctx context.Context, tx *sql.Tx, n domain.Node) error {
	q := r.q(tx)
	if _, err := q.ExecContext(ctx, `INSERT INTO nodes(id,plan_id,name,operation_id,nominal_time,efficiency,effective_time,output_code,output_qty,output_unit,sequence_order)
VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		n.ID, n.PlanID, n.Name, n.OperationID, n.NominalTime, n.Efficiency, n.EffectiveTime,
		nullable(n.OutputCode), n.OutputQty, nullable(n.OutputUnit), n.SequenceOrder); err != nil {
		return fmt.Errorf("insert node: %w", err)
	}
	for i, m := range n.Materials {
		if _, err := q.ExecContext(ctx, `INSERT INTO node_materials(node_id,material_code,required,unit_ratio,is_derived,pos) VALUES (?,?,?,?,?,?)`,
			n.ID, m.MaterialCode, m.Required, m.UnitRatio, m.IsDerived, i); err != nil {
			return fmt.Errorf("insert node material: %w", err)
		}
	}
	for _, s := range n.Stations {
		if _, err := q.ExecContext(ctx, `INSERT INTO node_stations(node_id,station_id,priority) VALUES (?,?,?)`,
			n.ID, s.StationID, s.Priority); err != nil {
			return fmt.Errorf("insert node station: %w", err)
		}
	}
	return nil
}

func (r Repo) ListNodes(ctx context.Context, tx *sql.Tx, planID string) ([]domain.Node, error) {
	q := r.q(tx)
	rows, err := q.QueryContext(ctx, `SELECT id,plan_id,name,operation_id,nominal_time,efficiency,effective_time,output_code,output_qty,output_unit,sequence_order,est_start,est_end,assignment_id
FROM nodes WHERE plan_id=? ORDER BY rowid`, planID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var nodes []domain.Node
	for rows.Next() {
		var n domain.Node
		var outputCode, outputUnit, estStart, estEnd, assignmentID sql.NullString
		if err := rows.Scan(&n.ID, &n.PlanID, &n.Name, &n.OperationID, &n.NominalTime, &n.Efficiency, &n.EffectiveTime,
			&outputCode, &n.OutputQty, &outputUnit, &n.SequenceOrder, &estStart, &estEnd, &assignmentID); err != nil {
			return nil, err
		}
		n.OutputCode = outputCode.String
		n.OutputUnit = outputUnit.String
		n.EstStart = scanTime(estStart)
		n.EstEnd = scanTime(estEnd)
		if assignmentID.Valid {
			n.AssignmentID = &assignmentID.String
		}
		nodes = append(nodes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range nodes {
		if err := r.loadNodeDetails(ctx, q, &nodes[i]); err != nil {
			return nil, err
		}
	}
	return nodes, nil
}

func (r Repo) loadNodeDetails(ctx context.Context, q querier, n *domain.Node) error {
	rows, err := q.QueryContext(ctx, `SELECT material_code,required,unit_ratio,is_derived FROM node_materials WHERE node_id=? ORDER BY pos`, n.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var m domain.MaterialInput
		if err := rows.Scan(&m.MaterialCode, &m.Required, &m.UnitRatio, &m.IsDerived); err != nil {
			return err
		}
		n.Materials = append(n.Materials, m)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	srows, err := q.QueryContext(ctx, `SELECT station_id,priority FROM node_stations WHERE node_id=? ORDER BY priority, station_id`, n.ID)
	if err != nil {
		return err
	}
	defer srows.Close()
	for srows.Next() {
		var s domain.StationOption
		if err := srows.Scan(&s.StationID, &s.Priority); err != nil {
			return err
		}
		n.Stations = append(n.Stations, s)
	}
	return srows.Err()
}

func (r Repo) GetNode(ctx context.Context, tx *sql.Tx, id string) (domain.Node, error) {
	q := r.q(tx)
	var n domain.Node
	var outputCode, outputUnit, estStart, estEnd, assignmentID sql.NullString
	err := q.QueryRowContext(ctx, `SELECT id,plan_id,name,operation_id,nominal_time,efficiency,effective_time,output_code,output_qty,output_unit,sequence_order,est_start,est_end,assignment_id
FROM nodes WHERE id=?`, id).
		Scan(&n.ID, &n.PlanID, &n.Name, &n.OperationID, &n.NominalTime, &n.Efficiency, &n.EffectiveTime,
			&outputCode, &n.OutputQty, &outputUnit, &n.SequenceOrder, &estStart, &estEnd, &assignmentID)
	if err == sql.ErrNoRows {
		return n, ErrNotFound
	}
	if err != nil {
		return n, err
	}
	n.OutputCode = outputCode.String
	n.OutputUnit = outputUnit.String
	n.EstStart = scanTime(estStart)
	n.EstEnd = scanTime(estEnd)
	if assignmentID.Valid {
		n.AssignmentID = &assignmentID.String
	}
	if err := r.loadNodeDetails(ctx, q, &n); err != nil {
		return n, err
	}
	return n, nil
}

func (r Repo) UpdateNodeTiming(ctx context.Context, tx *sql.Tx, nodeID string, start, end time.Time, assignmentID string) error {
	_, err := r.q(tx).ExecContext(ctx, `UPDATE nodes SET est_start=?, est_end=?, assignment_id=? WHERE id=?`,
		fmtTime(start), fmtTime(end), assignmentID, nodeID)
	return err
}

// --- edges ---

func (r Repo) InsertEdge(ctx context.Context, tx *sql.Tx, e domain.Edge) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO node_edges(node_id,predecessor_id) VALUES (?,?)`, e.NodeID, e.PredecessorID)
	return err
}

func (r Repo) ListEdges(ctx context.Context, tx *sql.Tx, planID string) ([]domain.Edge, error) {
	rows, err := r.q(tx).QueryContext(ctx, `SELECT e.node_id, e.predecessor_id FROM node_edges e
JOIN nodes n ON n.id = e.node_id WHERE n.plan_id=? ORDER BY e.rowid`, planID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var edges []domain.Edge
	for rows.Next() {
		var e domain.Edge
		if err := rows.Scan(&e.NodeID, &e.PredecessorID); err != nil {
			return nil, err
		}
		edges = append(edges, e)
	}
	return edges, rows.Err()
}
