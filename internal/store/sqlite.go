package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Ashfaaq98/osint-console/internal/osint"
	"github.com/google/uuid"
)

// ErrNotFound is returned when a looked-up row does not exist.
var ErrNotFound = errors.New("not found")

// Store represents the SQLite storage implementation
type Store struct {
	db *sql.DB
}

// NewStore creates a new SQLite store instance
func NewStore(dbPath string) (*Store, error) {
	// Ensure target directory exists (e.g., ./data)
	if dir := filepath.Dir(dbPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open(sqliteDriver, dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Single writer. Also keeps ":memory:" databases on one connection.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}

	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate performs database migrations
func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS investigations (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			description TEXT,
			created_at INTEGER NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS targets (
			id TEXT PRIMARY KEY,
			investigation_id TEXT NOT NULL,
			type TEXT NOT NULL,
			value TEXT NOT NULL,
			description TEXT,
			status TEXT NOT NULL DEFAULT 'pending',
			tools TEXT,
			created_at INTEGER NOT NULL,
			last_analyzed_at INTEGER,
			FOREIGN KEY (investigation_id) REFERENCES investigations(id) ON DELETE CASCADE
		)`,

		// Append-only: rows are inserted by dispatch and never updated.
		`CREATE TABLE IF NOT EXISTS analysis_results (
			id TEXT PRIMARY KEY,
			target_id TEXT NOT NULL,
			source TEXT NOT NULL,
			status TEXT NOT NULL,
			data TEXT NOT NULL,
			error_message TEXT,
			analyzed_at INTEGER NOT NULL,
			FOREIGN KEY (target_id) REFERENCES targets(id) ON DELETE CASCADE
		)`,

		`CREATE TABLE IF NOT EXISTS provider_configs (
			name TEXT PRIMARY KEY,
			active INTEGER NOT NULL DEFAULT 1,
			updated_at INTEGER NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS provider_options (
			provider TEXT NOT NULL,
			position INTEGER NOT NULL,
			name TEXT NOT NULL,
			value TEXT NOT NULL,
			encrypted INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (provider, position),
			FOREIGN KEY (provider) REFERENCES provider_configs(name) ON DELETE CASCADE
		)`,

		`CREATE TABLE IF NOT EXISTS audit_entries (
			id TEXT PRIMARY KEY,
			investigation_id TEXT,
			target_id TEXT,
			action TEXT NOT NULL,
			actor TEXT NOT NULL,
			details TEXT NOT NULL,
			metadata TEXT,
			timestamp INTEGER NOT NULL,
			created_at INTEGER NOT NULL
		)`,

		`CREATE INDEX IF NOT EXISTS idx_targets_investigation_id ON targets(investigation_id)`,
		`CREATE INDEX IF NOT EXISTS idx_targets_status ON targets(status)`,
		`CREATE INDEX IF NOT EXISTS idx_targets_type_value ON targets(type, value)`,

		`CREATE INDEX IF NOT EXISTS idx_results_target_id ON analysis_results(target_id)`,
		`CREATE INDEX IF NOT EXISTS idx_results_source ON analysis_results(source)`,
		`CREATE INDEX IF NOT EXISTS idx_results_analyzed_at ON analysis_results(analyzed_at)`,

		`CREATE INDEX IF NOT EXISTS idx_audit_target_id ON audit_entries(target_id)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_investigation_id ON audit_entries(investigation_id)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_timestamp ON audit_entries(timestamp)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return fmt.Errorf("failed to execute migration: %w", err)
		}
	}

	return nil
}

// CreateInvestigation inserts a new investigation, assigning an id if empty.
func (s *Store) CreateInvestigation(ctx context.Context, inv osint.Investigation) (osint.Investigation, error) {
	if strings.TrimSpace(inv.Name) == "" {
		return inv, fmt.Errorf("investigation name is required")
	}
	if inv.ID == "" {
		inv.ID = uuid.NewString()
	}
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO investigations (id, name, description, created_at) VALUES (?, ?, ?, ?)`,
		inv.ID, inv.Name, inv.Description, inv.CreatedAt.Unix())
	if err != nil {
		return inv, fmt.Errorf("failed to save investigation: %w", err)
	}
	return inv, nil
}

// GetInvestigation returns one investigation by id.
func (s *Store) GetInvestigation(ctx context.Context, id string) (osint.Investigation, error) {
	var inv osint.Investigation
	var desc sql.NullString
	var createdAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, description, created_at FROM investigations WHERE id = ?`, id,
	).Scan(&inv.ID, &inv.Name, &desc, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return inv, fmt.Errorf("investigation %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return inv, fmt.Errorf("failed to query investigation: %w", err)
	}
	inv.Description = desc.String
	inv.CreatedAt = time.Unix(createdAt, 0)
	return inv, nil
}

// ListInvestigations returns all investigations, newest first.
func (s *Store) ListInvestigations(ctx context.Context) ([]osint.Investigation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, description, created_at FROM investigations ORDER BY created_at DESC, rowid DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query investigations: %w", err)
	}
	defer rows.Close()

	var out []osint.Investigation
	for rows.Next() {
		var inv osint.Investigation
		var desc sql.NullString
		var createdAt int64
		if err := rows.Scan(&inv.ID, &inv.Name, &desc, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan investigation: %w", err)
		}
		inv.Description = desc.String
		inv.CreatedAt = time.Unix(createdAt, 0)
		out = append(out, inv)
	}
	return out, rows.Err()
}

// DeleteInvestigation removes an investigation with its targets and their results.
func (s *Store) DeleteInvestigation(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	rollback := func(e error) error {
		_ = tx.Rollback()
		return e
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM analysis_results WHERE target_id IN (SELECT id FROM targets WHERE investigation_id = ?)`, id); err != nil {
		return rollback(fmt.Errorf("delete results for investigation %s: %w", id, err))
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM targets WHERE investigation_id = ?`, id); err != nil {
		return rollback(fmt.Errorf("delete targets for investigation %s: %w", id, err))
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM investigations WHERE id = ?`, id)
	if err != nil {
		return rollback(fmt.Errorf("delete investigation %s: %w", id, err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return rollback(fmt.Errorf("investigation %s: %w", id, ErrNotFound))
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// CreateTarget validates and inserts a target in pending state.
func (s *Store) CreateTarget(ctx context.Context, t osint.Target) (osint.Target, error) {
	tt, err := osint.ParseTargetType(string(t.Type))
	if err != nil {
		return t, err
	}
	t.Type = tt
	t.Value = strings.TrimSpace(t.Value)
	if t.Value == "" {
		return t, fmt.Errorf("target value is required")
	}
	if _, err := s.GetInvestigation(ctx, t.InvestigationID); err != nil {
		return t, err
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	t.Status = osint.StatusPending
	t.LastAnalyzedAt = time.Time{}

	tools, err := json.Marshal(t.Tools)
	if err != nil {
		return t, fmt.Errorf("failed to marshal target tools: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `INSERT INTO targets (
		id, investigation_id, type, value, description, status, tools, created_at, last_analyzed_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, NULL)`,
		t.ID, t.InvestigationID, string(t.Type), t.Value, t.Description, string(t.Status),
		string(tools), t.CreatedAt.Unix())
	if err != nil {
		return t, fmt.Errorf("failed to save target: %w", err)
	}
	return t, nil
}

// UpdateTargetStatus records a status transition. A zero lastAnalyzedAt keeps
// the stored value.
func (s *Store) UpdateTargetStatus(ctx context.Context, id string, status osint.TargetStatus, lastAnalyzedAt time.Time) error {
	var lastAnalyzed interface{}
	if !lastAnalyzedAt.IsZero() {
		lastAnalyzed = lastAnalyzedAt.Unix()
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE targets SET status = ?, last_analyzed_at = COALESCE(?, last_analyzed_at) WHERE id = ?`,
		string(status), lastAnalyzed, id)
	if err != nil {
		return fmt.Errorf("failed to update target %s status: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("target %s: %w", id, ErrNotFound)
	}
	return nil
}

// UpdateTarget persists the mutable fields of a target.
func (s *Store) UpdateTarget(ctx context.Context, t osint.Target) error {
	tools, err := json.Marshal(t.Tools)
	if err != nil {
		return fmt.Errorf("failed to marshal target tools: %w", err)
	}
	var lastAnalyzed interface{}
	if !t.LastAnalyzedAt.IsZero() {
		lastAnalyzed = t.LastAnalyzedAt.Unix()
	}

	res, err := s.db.ExecContext(ctx, `UPDATE targets SET
		type = ?, value = ?, description = ?, status = ?, tools = ?, last_analyzed_at = ?
		WHERE id = ?`,
		string(t.Type), t.Value, t.Description, string(t.Status), string(tools), lastAnalyzed, t.ID)
	if err != nil {
		return fmt.Errorf("failed to update target %s: %w", t.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("target %s: %w", t.ID, ErrNotFound)
	}
	return nil
}

const targetColumns = `id, investigation_id, type, value, description, status, tools, created_at, last_analyzed_at`

// GetTarget returns one target by id.
func (s *Store) GetTarget(ctx context.Context, id string) (osint.Target, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+targetColumns+` FROM targets WHERE id = ?`, id)
	if err != nil {
		return osint.Target{}, fmt.Errorf("failed to query target: %w", err)
	}
	defer rows.Close()

	targets, err := scanTargets(rows)
	if err != nil {
		return osint.Target{}, err
	}
	if len(targets) == 0 {
		return osint.Target{}, fmt.Errorf("target %s: %w", id, ErrNotFound)
	}
	return targets[0], nil
}

// ListTargets returns the targets of an investigation, oldest first.
// An empty investigation id lists every target.
func (s *Store) ListTargets(ctx context.Context, investigationID string) ([]osint.Target, error) {
	query := `SELECT ` + targetColumns + ` FROM targets`
	args := []interface{}{}
	if investigationID != "" {
		query += ` WHERE investigation_id = ?`
		args = append(args, investigationID)
	}
	query += ` ORDER BY created_at ASC, rowid ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query targets: %w", err)
	}
	defer rows.Close()
	return scanTargets(rows)
}

// FindTarget looks up a target in an investigation by type and value.
func (s *Store) FindTarget(ctx context.Context, investigationID string, t osint.TargetType, value string) (osint.Target, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+targetColumns+` FROM targets
		WHERE investigation_id = ? AND type = ? AND value = ? ORDER BY created_at ASC LIMIT 1`,
		investigationID, string(t), strings.TrimSpace(value))
	if err != nil {
		return osint.Target{}, fmt.Errorf("failed to query target: %w", err)
	}
	defer rows.Close()

	targets, err := scanTargets(rows)
	if err != nil {
		return osint.Target{}, err
	}
	if len(targets) == 0 {
		return osint.Target{}, fmt.Errorf("target %s %s: %w", t, value, ErrNotFound)
	}
	return targets[0], nil
}

// DeleteTarget removes a target and its results.
func (s *Store) DeleteTarget(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	rollback := func(e error) error {
		_ = tx.Rollback()
		return e
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM analysis_results WHERE target_id = ?`, id); err != nil {
		return rollback(fmt.Errorf("delete results for target %s: %w", id, err))
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM targets WHERE id = ?`, id)
	if err != nil {
		return rollback(fmt.Errorf("delete target %s: %w", id, err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return rollback(fmt.Errorf("target %s: %w", id, ErrNotFound))
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func scanTargets(rows *sql.Rows) ([]osint.Target, error) {
	var targets []osint.Target
	for rows.Next() {
		var t osint.Target
		var typ, status string
		var desc, tools sql.NullString
		var createdAt int64
		var lastAnalyzed sql.NullInt64

		if err := rows.Scan(&t.ID, &t.InvestigationID, &typ, &t.Value, &desc, &status,
			&tools, &createdAt, &lastAnalyzed); err != nil {
			return nil, fmt.Errorf("failed to scan target: %w", err)
		}

		t.Type = osint.TargetType(typ)
		t.Status = osint.TargetStatus(status)
		t.Description = desc.String
		t.CreatedAt = time.Unix(createdAt, 0)
		if lastAnalyzed.Valid {
			t.LastAnalyzedAt = time.Unix(lastAnalyzed.Int64, 0)
		}
		if tools.Valid && tools.String != "" && tools.String != "null" {
			if err := json.Unmarshal([]byte(tools.String), &t.Tools); err != nil {
				t.Tools = nil
			}
		}
		targets = append(targets, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate targets: %w", err)
	}
	return targets, nil
}
