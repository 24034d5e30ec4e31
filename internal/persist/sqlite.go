// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package persist

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/pdiddy/compose-engine/pkg/types"
)

// SQLiteStore persists checkpoints in a single SQLite database. One row per
// (run, wave); the payload is the JSON-encoded Checkpoint.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens or creates the checkpoint database at dbPath,
// creating parent directories and the schema as needed (R1.1, R1.2).
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating checkpoint directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("opening checkpoint database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return s, nil
}

// Close releases the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) createSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			plan_title TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS checkpoints (
			run_id TEXT NOT NULL REFERENCES runs(run_id) ON DELETE CASCADE,
			wave INTEGER NOT NULL,
			taken_at TEXT NOT NULL,
			payload TEXT NOT NULL,
			PRIMARY KEY (run_id, wave)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_checkpoints_run ON checkpoints(run_id)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("executing schema statement: %w", err)
		}
	}
	return nil
}

// Save writes cp transactionally, replacing any checkpoint already stored
// for the same run and wave (R2.2).
func (s *SQLiteStore) Save(ctx context.Context, cp types.Checkpoint) error {
	payload, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("encoding checkpoint: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO runs (run_id, plan_title) VALUES (?, ?)
		 ON CONFLICT(run_id) DO UPDATE SET plan_title=excluded.plan_title`,
		cp.RunID, cp.PlanTitle,
	); err != nil {
		return fmt.Errorf("upserting run: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO checkpoints (run_id, wave, taken_at, payload) VALUES (?, ?, ?, ?)
		 ON CONFLICT(run_id, wave) DO UPDATE SET
			taken_at=excluded.taken_at, payload=excluded.payload`,
		cp.RunID, cp.Wave, cp.TakenAt.UTC().Format(time.RFC3339Nano), string(payload),
	); err != nil {
		return fmt.Errorf("upserting checkpoint: %w", err)
	}

	return tx.Commit()
}

// Load returns the checkpoint with the highest wave index for runID (R3.1).
func (s *SQLiteStore) Load(ctx context.Context, runID string) (types.Checkpoint, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM checkpoints WHERE run_id = ? ORDER BY wave DESC LIMIT 1`,
		runID,
	).Scan(&payload)
	if err == sql.ErrNoRows {
		return types.Checkpoint{}, ErrNotFound
	}
	if err != nil {
		return types.Checkpoint{}, fmt.Errorf("querying checkpoint: %w", err)
	}

	var cp types.Checkpoint
	if err := json.Unmarshal([]byte(payload), &cp); err != nil {
		return types.Checkpoint{}, fmt.Errorf("decoding checkpoint: %w", err)
	}
	return cp, nil
}

// List returns one summary per run at its highest stored wave, sorted by
// run ID (R4.1).
func (s *SQLiteStore) List(ctx context.Context) ([]RunSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT c.run_id, r.plan_title, c.wave, c.taken_at
		 FROM checkpoints c
		 JOIN runs r ON r.run_id = c.run_id
		 WHERE c.wave = (SELECT MAX(wave) FROM checkpoints WHERE run_id = c.run_id)
		 ORDER BY c.run_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var sum RunSummary
		var takenAt string
		if err := rows.Scan(&sum.RunID, &sum.PlanTitle, &sum.Wave, &takenAt); err != nil {
			return nil, fmt.Errorf("scanning run row: %w", err)
		}
		if t, err := time.Parse(time.RFC3339Nano, takenAt); err == nil {
			sum.TakenAt = t
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

// Delete removes a run and all its checkpoints (R4.2).
func (s *SQLiteStore) Delete(ctx context.Context, runID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE run_id = ?`, runID); err != nil {
		return fmt.Errorf("deleting checkpoints: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE run_id = ?`, runID); err != nil {
		return fmt.Errorf("deleting run: %w", err)
	}
	return nil
}
