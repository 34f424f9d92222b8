package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"plcmesh/internal/repository"

	_ "modernc.org/sqlite"
)

const metaLastIndex = "last_index"

// Repository implements repository.IdentityStore using SQLite
type Repository struct {
	db *sql.DB
}

// New creates a new SQLite repository
func New(dbPath string) (*Repository, error) {
	dsn := dbPath
	if dbPath != ":memory:" {
		dsn = "file:" + dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps :memory: databases alive across calls
	db.SetMaxOpenConns(1)

	repo := &Repository{db: db}
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return repo, nil
}

func (r *Repository) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS adapter_index (
		mac TEXT PRIMARY KEY,
		idx INTEGER NOT NULL,
		assigned_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS identity_meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_adapter_index_idx ON adapter_index(idx);
	`

	_, err := r.db.Exec(schema)
	return err
}

// LoadIdentities implements repository.IdentityStore
func (r *Repository) LoadIdentities(ctx context.Context) (repository.IdentityState, error) {
	state := repository.IdentityState{Indices: make(map[string]int)}

	rows, err := r.db.QueryContext(ctx, `SELECT mac, idx FROM adapter_index`)
	if err != nil {
		return state, fmt.Errorf("failed to query adapter index: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			mac string
			idx int
		)
		if err := rows.Scan(&mac, &idx); err != nil {
			return state, fmt.Errorf("failed to scan adapter index: %w", err)
		}
		state.Indices[mac] = idx
	}
	if err := rows.Err(); err != nil {
		return state, fmt.Errorf("error iterating adapter index: %w", err)
	}

	var raw string
	err = r.db.QueryRowContext(ctx, `SELECT value FROM identity_meta WHERE key = ?`, metaLastIndex).Scan(&raw)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return state, fmt.Errorf("failed to query identity metadata: %w", err)
	default:
		last, err := strconv.Atoi(raw)
		if err != nil {
			return state, fmt.Errorf("invalid %s %q: %w", metaLastIndex, raw, err)
		}
		state.LastIndex = last
	}

	return state, nil
}

// SaveIdentities implements repository.IdentityStore. The table is
// rewritten in one transaction; rows keep their original assignment time.
func (r *Repository) SaveIdentities(ctx context.Context, state repository.IdentityState) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	existing := make(map[string]bool)
	rows, err := tx.QueryContext(ctx, `SELECT mac FROM adapter_index`)
	if err != nil {
		return fmt.Errorf("failed to query adapter index: %w", err)
	}
	for rows.Next() {
		var mac string
		if err := rows.Scan(&mac); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan adapter index: %w", err)
		}
		existing[mac] = true
	}
	rows.Close()

	now := time.Now().UTC()
	for mac, idx := range state.Indices {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO adapter_index (mac, idx, assigned_at) VALUES (?, ?, ?)
			ON CONFLICT(mac) DO UPDATE SET idx = excluded.idx
		`, mac, idx, now)
		if err != nil {
			return fmt.Errorf("failed to save index for %s: %w", mac, err)
		}
		delete(existing, mac)
	}

	for mac := range existing {
		if _, err := tx.ExecContext(ctx, `DELETE FROM adapter_index WHERE mac = ?`, mac); err != nil {
			return fmt.Errorf("failed to remove index for %s: %w", mac, err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO identity_meta (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, metaLastIndex, strconv.Itoa(state.LastIndex), now)
	if err != nil {
		return fmt.Errorf("failed to save %s: %w", metaLastIndex, err)
	}

	return tx.Commit()
}

// AssignedAt returns when mac was first persisted, or the zero time if it
// never was
func (r *Repository) AssignedAt(ctx context.Context, mac string) (time.Time, error) {
	var at sql.NullTime
	err := r.db.QueryRowContext(ctx, `SELECT assigned_at FROM adapter_index WHERE mac = ?`, mac).Scan(&at)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to query assignment time: %w", err)
	}
	if !at.Valid {
		return time.Time{}, nil
	}
	return at.Time, nil
}

// Close closes the database connection
func (r *Repository) Close() error {
	return r.db.Close()
}
