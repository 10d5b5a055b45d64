// Package store handles SQLite persistence of runs.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/verte-zerg/cellpace/internal/model"

	_ "modernc.org/sqlite" // SQLite driver.
)

// ErrNotFound is returned when a run id is unknown.
var ErrNotFound = errors.New("run not found")

// Store wraps SQLite access for run data.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Open opens or creates the SQLite database and applies migrations.
func Open(path string, opts ...Option) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	store := &Store{db: db, logger: slog.Default()}
	for _, opt := range opts {
		opt(store)
	}
	if err := store.migrate(); err != nil {
		if cerr := db.Close(); cerr != nil {
			// Best-effort close on migration failure.
			_ = cerr
		}
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			model TEXT NOT NULL,
			status TEXT NOT NULL,
			error TEXT NOT NULL,
			started_at TEXT NOT NULL,
			ended_at TEXT NOT NULL,
			steps INTEGER NOT NULL,
			timestep REAL NOT NULL,
			s1 REAL NOT NULL,
			s2 REAL NOT NULL,
			ns1 INTEGER NOT NULL,
			s2_onset REAL NOT NULL,
			config TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS run_points (
			run_id TEXT NOT NULL,
			variable TEXT NOT NULL,
			idx INTEGER NOT NULL,
			time REAL NOT NULL,
			value REAL NOT NULL,
			PRIMARY KEY (run_id, variable, idx)
		);`,
		`CREATE TABLE IF NOT EXISTS run_beats (
			run_id TEXT NOT NULL,
			variable TEXT NOT NULL,
			idx INTEGER NOT NULL,
			up_time REAL NOT NULL,
			down_time REAL NOT NULL,
			PRIMARY KEY (run_id, variable, idx)
		);`,
		`CREATE TABLE IF NOT EXISTS run_extremes (
			run_id TEXT NOT NULL,
			variable TEXT NOT NULL,
			min REAL NOT NULL,
			max REAL NOT NULL,
			count INTEGER NOT NULL,
			PRIMARY KEY (run_id, variable)
		);`,
		`CREATE TABLE IF NOT EXISTS run_onsets (
			run_id TEXT NOT NULL,
			idx INTEGER NOT NULL,
			time REAL NOT NULL,
			PRIMARY KEY (run_id, idx)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);`,
		`CREATE INDEX IF NOT EXISTS idx_runs_model ON runs(model);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// InsertRun stores a run with all of its collected outputs. configText is
// the serialized configuration the run used.
func (s *Store) InsertRun(ctx context.Context, run model.Run, configText string) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			if rerr := tx.Rollback(); rerr != nil {
				// Best-effort rollback.
				_ = rerr
			}
		}
	}()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (id, model, status, error, started_at, ended_at, steps, timestep, s1, s2, ns1, s2_onset, config)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID,
		run.Model,
		string(run.Status),
		run.Error,
		run.StartedAt.Format(time.RFC3339Nano),
		run.EndedAt.Format(time.RFC3339Nano),
		run.Steps,
		run.Timestep,
		run.S1,
		run.S2,
		run.NS1,
		run.S2Onset,
		configText,
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	if err = insertRows(ctx, tx,
		`INSERT INTO run_points (run_id, variable, idx, time, value) VALUES (?, ?, ?, ?, ?)`,
		func(exec func(args ...any) error) error {
			for _, name := range sortedKeys(run.Series) {
				for i, p := range run.Series[name] {
					if err := exec(run.ID, name, i, p.Time, p.Value); err != nil {
						return err
					}
				}
			}
			return nil
		}); err != nil {
		return fmt.Errorf("failed to insert points: %w", err)
	}
	if err = insertRows(ctx, tx,
		`INSERT INTO run_beats (run_id, variable, idx, up_time, down_time) VALUES (?, ?, ?, ?, ?)`,
		func(exec func(args ...any) error) error {
			for _, name := range sortedKeys(run.Beats) {
				for i, b := range run.Beats[name] {
					if err := exec(run.ID, name, i, b.UpTime, b.DownTime); err != nil {
						return err
					}
				}
			}
			return nil
		}); err != nil {
		return fmt.Errorf("failed to insert beats: %w", err)
	}
	if err = insertRows(ctx, tx,
		`INSERT INTO run_extremes (run_id, variable, min, max, count) VALUES (?, ?, ?, ?, ?)`,
		func(exec func(args ...any) error) error {
			for _, name := range sortedKeys(run.Extremes) {
				ext := run.Extremes[name]
				if err := exec(run.ID, name, ext.Min, ext.Max, ext.Count); err != nil {
					return err
				}
			}
			return nil
		}); err != nil {
		return fmt.Errorf("failed to insert extremes: %w", err)
	}
	if err = insertRows(ctx, tx,
		`INSERT INTO run_onsets (run_id, idx, time) VALUES (?, ?, ?)`,
		func(exec func(args ...any) error) error {
			for i, t := range run.Onsets {
				if err := exec(run.ID, i, t); err != nil {
					return err
				}
			}
			return nil
		}); err != nil {
		return fmt.Errorf("failed to insert onsets: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return err
	}
	s.logger.Debug("run stored", "run", run.ID, "status", run.Status)
	return nil
}

func insertRows(ctx context.Context, tx *sql.Tx, query string, fill func(exec func(args ...any) error) error) error {
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := stmt.Close(); cerr != nil {
			// Best-effort statement close.
			_ = cerr
		}
	}()
	return fill(func(args ...any) error {
		_, err := stmt.ExecContext(ctx, args...)
		return err
	})
}

// ListRuns returns run summaries, newest first, narrowed by filter.
func (s *Store) ListRuns(ctx context.Context, filter model.RunFilter) ([]model.RunSummary, error) {
	clauses := []string{"1=1"}
	args := []any{}
	if filter.Model != "" {
		clauses = append(clauses, "r.model = ?")
		args = append(args, filter.Model)
	}
	if filter.Since != nil {
		clauses = append(clauses, "r.started_at >= ?")
		args = append(args, filter.Since.Format(time.RFC3339Nano))
	}
	limit := ""
	if filter.Last > 0 {
		limit = "LIMIT ?"
		args = append(args, filter.Last)
	}
	query := fmt.Sprintf(`SELECT r.id, r.model, r.status, r.started_at, r.steps, r.s1, r.s2, r.ns1,
		(SELECT COUNT(*) FROM run_beats b WHERE b.run_id = r.id) AS beats
		FROM runs r
		WHERE %s
		ORDER BY r.started_at DESC, r.id ASC
		%s`, strings.Join(clauses, " AND "), limit)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			// Best-effort rows close.
			_ = cerr
		}
	}()

	var runs []model.RunSummary
	for rows.Next() {
		var sum model.RunSummary
		var status, startedAt string
		if err := rows.Scan(&sum.ID, &sum.Model, &status, &startedAt, &sum.Steps, &sum.S1, &sum.S2, &sum.NS1, &sum.Beats); err != nil {
			return nil, err
		}
		parsed, err := time.Parse(time.RFC3339Nano, startedAt)
		if err != nil {
			return nil, err
		}
		sum.Status = model.RunStatus(status)
		sum.StartedAt = parsed
		runs = append(runs, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return runs, nil
}

// GetRun loads a stored run and the configuration text it was stored with.
func (s *Store) GetRun(ctx context.Context, id string) (model.Run, string, error) {
	run := model.Run{ID: id}
	var status, startedAt, endedAt, configText string
	err := s.db.QueryRowContext(ctx,
		`SELECT model, status, error, started_at, ended_at, steps, timestep, s1, s2, ns1, s2_onset, config
		 FROM runs WHERE id = ?`, id).
		Scan(&run.Model, &status, &run.Error, &startedAt, &endedAt, &run.Steps, &run.Timestep, &run.S1, &run.S2, &run.NS1, &run.S2Onset, &configText)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Run{}, "", fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return model.Run{}, "", err
	}
	run.Status = model.RunStatus(status)
	if run.StartedAt, err = time.Parse(time.RFC3339Nano, startedAt); err != nil {
		return model.Run{}, "", err
	}
	if run.EndedAt, err = time.Parse(time.RFC3339Nano, endedAt); err != nil {
		return model.Run{}, "", err
	}

	err = eachRow(ctx, s.db, `SELECT variable, time, value FROM run_points WHERE run_id = ? ORDER BY variable, idx`, id,
		func(rows *sql.Rows) error {
			var name string
			var p model.Point
			if err := rows.Scan(&name, &p.Time, &p.Value); err != nil {
				return err
			}
			if run.Series == nil {
				run.Series = map[string][]model.Point{}
			}
			run.Series[name] = append(run.Series[name], p)
			return nil
		})
	if err != nil {
		return model.Run{}, "", err
	}
	err = eachRow(ctx, s.db, `SELECT variable, up_time, down_time FROM run_beats WHERE run_id = ? ORDER BY variable, idx`, id,
		func(rows *sql.Rows) error {
			var name string
			var b model.Beat
			if err := rows.Scan(&name, &b.UpTime, &b.DownTime); err != nil {
				return err
			}
			if run.Beats == nil {
				run.Beats = map[string][]model.Beat{}
			}
			run.Beats[name] = append(run.Beats[name], b)
			return nil
		})
	if err != nil {
		return model.Run{}, "", err
	}
	err = eachRow(ctx, s.db, `SELECT variable, min, max, count FROM run_extremes WHERE run_id = ?`, id,
		func(rows *sql.Rows) error {
			var name string
			var ext model.Extremes
			if err := rows.Scan(&name, &ext.Min, &ext.Max, &ext.Count); err != nil {
				return err
			}
			if run.Extremes == nil {
				run.Extremes = map[string]model.Extremes{}
			}
			run.Extremes[name] = ext
			return nil
		})
	if err != nil {
		return model.Run{}, "", err
	}
	err = eachRow(ctx, s.db, `SELECT time FROM run_onsets WHERE run_id = ? ORDER BY idx`, id,
		func(rows *sql.Rows) error {
			var t float64
			if err := rows.Scan(&t); err != nil {
				return err
			}
			run.Onsets = append(run.Onsets, t)
			return nil
		})
	if err != nil {
		return model.Run{}, "", err
	}
	return run, configText, nil
}

func eachRow(ctx context.Context, db *sql.DB, query string, id string, scan func(*sql.Rows) error) error {
	rows, err := db.QueryContext(ctx, query, id)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			// Best-effort rows close.
			_ = cerr
		}
	}()
	for rows.Next() {
		if err := scan(rows); err != nil {
			return err
		}
	}
	return rows.Err()
}

// DeleteRun removes a run and everything stored with it.
func (s *Store) DeleteRun(ctx context.Context, id string) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			if rerr := tx.Rollback(); rerr != nil {
				// Best-effort rollback.
				_ = rerr
			}
		}
	}()

	res, err := tx.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		err = fmt.Errorf("%w: %s", ErrNotFound, id)
		return err
	}
	for _, table := range []string{"run_points", "run_beats", "run_extremes", "run_onsets"} {
		if _, err = tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE run_id = ?`, id); err != nil {
			return err
		}
	}
	if err = tx.Commit(); err != nil {
		return err
	}
	s.logger.Debug("run deleted", "run", id)
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
