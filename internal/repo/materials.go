package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"prodline/internal/domain"
)

func (r Repo) UpsertMaterial(ctx context.Context, m domain.Material) error {
	if m.Unit == "" {
		m.Unit = "pcs"
	}
	_, err := r.DB.ExecContext(ctx, `INSERT INTO materials(code,name,unit,stock) VALUES (?,?,?,?)
ON CONFLICT(code) DO UPDATE SET name=excluded.name, unit=excluded.unit, stock=excluded.stock`,
		m.Code, m.Name, m.Unit, m.Stock)
	return err
}

func (r Repo) SetStock(ctx context.Context, code string, stock float64) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE materials SET stock=? WHERE code=?`, stock, code)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// MaterialsByCode returns all materials keyed by code.
func (r Repo) MaterialsByCode(ctx context.Context, tx *sql.Tx) (map[string]domain.Material, error) {
	rows, err := r.q(tx).QueryContext(ctx, `SELECT code,name,unit,stock FROM materials`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]domain.Material{}
	for rows.Next() {
		var m domain.Material
		if err := rows.Scan(&m.Code, &m.Name, &m.Unit, &m.Stock); err != nil {
			return nil, err
		}
		out[m.Code] = m
	}
	return out, rows.Err()
}

func (r Repo) ListMaterials(ctx context.Context) ([]domain.Material, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT code,name,unit,stock FROM materials ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Material
	for rows.Next() {
		var m domain.Material
		if err := rows.Scan(&m.Code, &m.Name, &m.Unit, &m.Stock); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// --- holidays ---

func (r Repo) InsertHoliday(ctx context.Context, h domain.Holiday) error {
	blocks, err := marshalJSON(h.Blocks)
	if err != nil {
		return err
	}
	_, err = r.DB.ExecContext(ctx, `INSERT INTO holidays(id,from_date,to_date,name,is_working_day,blocks_json) VALUES (?,?,?,?,?,?)`,
		h.ID, fmtTime(h.From), fmtTime(h.To), nullable(h.Name), h.IsWorkingDay, blocks)
	return err
}

func (r Repo) ListHolidays(ctx context.Context, tx *sql.Tx) ([]domain.Holiday, error) {
	rows, err := r.q(tx).QueryContext(ctx, `SELECT id,from_date,to_date,COALESCE(name,''),is_working_day,blocks_json FROM holidays ORDER BY from_date`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Holiday
	for rows.Next() {
		var h domain.Holiday
		var from, to string
		var blocks sql.NullString
		if err := rows.Scan(&h.ID, &from, &to, &h.Name, &h.IsWorkingDay, &blocks); err != nil {
			return nil, err
		}
		h.From, _ = parseTime(from)
		h.To, _ = parseTime(to)
		if blocks.Valid && blocks.String != "" {
			if err := json.Unmarshal([]byte(blocks.String), &h.Blocks); err != nil {
				return nil, fmt.Errorf("holiday %s blocks: %w", h.ID, err)
			}
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// --- settings ---

// GetSetting reads a raw JSON settings value; ErrNotFound when absent.
func (r Repo) GetSetting(ctx context.Context, tx *sql.Tx, key string) ([]byte, error) {
	var value string
	err := r.q(tx).QueryRowContext(ctx, `SELECT value_json FROM settings WHERE key=?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return []byte(value), nil
}

func (r Repo) PutSetting(ctx context.Context, tx *sql.Tx, key string, value []byte) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO settings(key,value_json,updated_at) VALUES (?,?,?)
ON CONFLICT(key) DO UPDATE SET value_json=excluded.value_json, updated_at=excluded.updated_at`, key, string(value), now)
	return err
}
