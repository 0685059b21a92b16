package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

type SQLiteStore struct {
	path string

	mu sync.RWMutex
	db *sql.DB
}

func NewSQLiteStore(path string) *SQLiteStore {
	return &SQLiteStore{path: path}
}

func (s *SQLiteStore) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		return errors.New("sqlite path is required")
	}
	if s.db != nil {
		return nil
	}

	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return err
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return err
	}

	if err := createTables(ctx, db); err != nil {
		_ = db.Close()
		return err
	}

	s.db = db
	return nil
}

func (s *SQLiteStore) SaveRun(ctx context.Context, run Run) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO runs (id, env, num_envs, policy, options, steps, episodes, mean_return, status, err, started_at, ended_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			steps = excluded.steps,
			episodes = excluded.episodes,
			mean_return = excluded.mean_return,
			status = excluded.status,
			err = excluded.err,
			ended_at = excluded.ended_at
	`, run.ID, run.Env, run.NumEnvs, run.Policy, strings.Join(run.Options, "\n"), run.Steps, run.Episodes,
		run.MeanReturn, run.Status, run.Err, formatTime(run.StartedAt), formatTime(run.EndedAt))
	return err
}

const runColumns = `id, env, num_envs, policy, options, steps, episodes, mean_return, status, err, started_at, ended_at`

func (s *SQLiteStore) GetRun(ctx context.Context, id string) (Run, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return Run{}, false, err
	}

	run, err := scanRun(db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Run{}, false, nil
		}
		return Run{}, false, fmt.Errorf("get run %s: %w", id, err)
	}
	return run, true, nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context) ([]Run, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `SELECT `+runColumns+` FROM runs ORDER BY started_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func (s *SQLiteStore) SaveEpisodes(ctx context.Context, runID string, episodes []Episode) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO episodes (run_id, instance, idx, ep_return, length, end_step)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, instance, idx) DO UPDATE SET
			ep_return = excluded.ep_return,
			length = excluded.length,
			end_step = excluded.end_step
	`)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, ep := range episodes {
		if _, err := stmt.ExecContext(ctx, runID, ep.Instance, ep.Index, ep.Return, ep.Length, ep.EndStep); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("save episode %d of instance %d: %w", ep.Index, ep.Instance, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) GetEpisodes(ctx context.Context, runID string) ([]Episode, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, false, err
	}

	rows, err := db.QueryContext(ctx, `
		SELECT instance, idx, ep_return, length, end_step FROM episodes
		WHERE run_id = ? ORDER BY end_step, instance`, runID)
	if err != nil {
		return nil, false, err
	}
	defer rows.Close()

	var episodes []Episode
	for rows.Next() {
		ep := Episode{RunID: runID}
		if err := rows.Scan(&ep.Instance, &ep.Index, &ep.Return, &ep.Length, &ep.EndStep); err != nil {
			return nil, false, err
		}
		episodes = append(episodes, ep)
	}
	if err := rows.Err(); err != nil {
		return nil, false, err
	}
	return episodes, len(episodes) > 0, nil
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *SQLiteStore) getDB() (*sql.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return nil, errors.New("store is not initialized")
	}
	return s.db, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (Run, error) {
	var (
		run              Run
		options          string
		started, stopped string
	)
	err := row.Scan(&run.ID, &run.Env, &run.NumEnvs, &run.Policy, &options, &run.Steps, &run.Episodes,
		&run.MeanReturn, &run.Status, &run.Err, &started, &stopped)
	if err != nil {
		return Run{}, err
	}
	if options != "" {
		run.Options = strings.Split(options, "\n")
	}
	if run.StartedAt, err = parseTime(started); err != nil {
		return Run{}, err
	}
	if run.EndedAt, err = parseTime(stopped); err != nil {
		return Run{}, err
	}
	return run, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}

func createTables(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			env TEXT NOT NULL,
			num_envs INTEGER NOT NULL,
			policy TEXT NOT NULL,
			options TEXT NOT NULL,
			steps INTEGER NOT NULL,
			episodes INTEGER NOT NULL,
			mean_return REAL NOT NULL,
			status TEXT NOT NULL,
			err TEXT NOT NULL,
			started_at TEXT NOT NULL,
			ended_at TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS episodes (
			run_id TEXT NOT NULL,
			instance INTEGER NOT NULL,
			idx INTEGER NOT NULL,
			ep_return REAL NOT NULL,
			length INTEGER NOT NULL,
			end_step INTEGER NOT NULL,
			PRIMARY KEY (run_id, instance, idx)
		);
	`)
	return err
}
