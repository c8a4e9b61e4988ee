// Package history provides persistent run history storage backed by SQLite.
// Every completed run (including dry runs) is recorded so regressions can
// be traced across invocations without crawling the results tree.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// Record is one row of run history.
type Record struct {
	ID           int64     `json:"id"`
	Timestamp    string    `json:"timestamp"`
	Target       string    `json:"target"`
	Mode         string    `json:"mode"`
	DryRun       bool      `json:"dry_run"`
	Returncode   int       `json:"returncode"`
	Timeout      bool      `json:"timeout"`
	AllPassed    bool      `json:"all_passed"`
	SimInsts     int64     `json:"sim_insts"`
	ManifestPath string    `json:"manifest_path"`
	CreatedAt    time.Time `json:"created_at"`
}

// Store persists run records in a SQLite database.
type Store struct {
	mu sync.Mutex
	db *sql.DB
}

// Open creates or opens the history database at path, creating parent
// directories and the schema as needed.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating history directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("opening history database: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite works best with single writer

	if err := initSchema(context.Background(), db); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing history schema: %w", err)
	}

	return &Store{db: db}, nil
}

func initSchema(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS runs (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp     TEXT NOT NULL,
			target        TEXT NOT NULL,
			mode          TEXT NOT NULL,
			dry_run       INTEGER NOT NULL DEFAULT 0,
			returncode    INTEGER NOT NULL,
			timeout       INTEGER NOT NULL DEFAULT 0,
			all_passed    INTEGER NOT NULL DEFAULT 0,
			sim_insts     INTEGER NOT NULL DEFAULT -1,
			manifest_path TEXT NOT NULL,
			created_at    TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_runs_target_mode ON runs(target, mode);
		CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at);
	`)
	return err
}

// Insert records one run. The record's ID and CreatedAt are assigned here.
func (s *Store) Insert(ctx context.Context, r *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r.CreatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (timestamp, target, mode, dry_run, returncode, timeout,
			all_passed, sim_insts, manifest_path, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.Timestamp, r.Target, r.Mode, boolInt(r.DryRun), r.Returncode,
		boolInt(r.Timeout), boolInt(r.AllPassed), r.SimInsts,
		r.ManifestPath, r.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("inserting run record: %w", err)
	}
	r.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading run record id: %w", err)
	}
	return nil
}

// Recent returns up to limit records, newest first. A target filter of
// "" matches all targets.
func (s *Store) Recent(ctx context.Context, target string, limit int) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 {
		limit = 20
	}

	query := `SELECT id, timestamp, target, mode, dry_run, returncode, timeout,
		all_passed, sim_insts, manifest_path, created_at FROM runs`
	args := []any{}
	if target != "" {
		query += ` WHERE target = ?`
		args = append(args, target)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying run history: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		var dryRun, timeout, allPassed int
		var createdAt string
		if err := rows.Scan(&r.ID, &r.Timestamp, &r.Target, &r.Mode, &dryRun,
			&r.Returncode, &timeout, &allPassed, &r.SimInsts,
			&r.ManifestPath, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning run record: %w", err)
		}
		r.DryRun = dryRun != 0
		r.Timeout = timeout != 0
		r.AllPassed = allPassed != 0
		r.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
