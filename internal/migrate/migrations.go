package migrate

import (
	"database/sql"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"embed"
)

//go:embed sql/*.sql
var schemaFS embed.FS

type migration struct {
	version int
	name    string
	stmts   string
}

// Migrate brings the database up to the latest embedded schema version.
// The whole upgrade runs in one transaction; schema_version holds a single
// row with the applied version.
func Migrate(db *sql.DB) error {
	pending, err := readMigrations()
	if err != nil {
		return err
	}
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	current, err := ensureVersionRow(tx)
	if err != nil {
		return err
	}
	for _, m := range pending {
		if m.version <= current {
			continue
		}
		if _, err := tx.Exec(m.stmts); err != nil {
			return fmt.Errorf("apply %s: %w", m.name, err)
		}
		if _, err := tx.Exec(`UPDATE schema_version SET version=?`, m.version); err != nil {
			return fmt.Errorf("record %s: %w", m.name, err)
		}
		current = m.version
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migrations: %w", err)
	}
	return nil
}

func ensureVersionRow(tx *sql.Tx) (int, error) {
	if _, err := tx.Exec(`CREATE TABLE IF NOT EXISTS schema_version(version INTEGER NOT NULL);`); err != nil {
		return 0, fmt.Errorf("create schema_version: %w", err)
	}
	var version int
	err := tx.QueryRow(`SELECT version FROM schema_version LIMIT 1`).Scan(&version)
	if err == sql.ErrNoRows {
		if _, err := tx.Exec(`INSERT INTO schema_version(version) VALUES (0)`); err != nil {
			return 0, fmt.Errorf("init schema_version: %w", err)
		}
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read schema_version: %w", err)
	}
	return version, nil
}

func readMigrations() ([]migration, error) {
	entries, err := schemaFS.ReadDir("sql")
	if err != nil {
		return nil, err
	}
	out := make([]migration, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		prefix, _, ok := strings.Cut(e.Name(), "_")
		if !ok {
			return nil, fmt.Errorf("migration %s: want NNNN_name.sql", e.Name())
		}
		version, err := strconv.Atoi(prefix)
		if err != nil {
			return nil, fmt.Errorf("migration %s: %w", e.Name(), err)
		}
		data, err := schemaFS.ReadFile("sql/" + e.Name())
		if err != nil {
			return nil, err
		}
		out = append(out, migration{version: version, name: e.Name(), stmts: string(data)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].version < out[j].version })
	return out, nil
}
