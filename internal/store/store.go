// Package store keeps the history of refinement runs in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
	_ "modernc.org/sqlite"
)

// Run statuses.
const (
	StatusRunning = "running"
	StatusSuccess = "success"
	StatusPartial = "partial"
	StatusFailed  = "failed"
)

var (
	ErrNotFound  = errors.New("run not found")
	ErrAmbiguous = errors.New("run ID prefix matches more than one run")
)

type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}

	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		target TEXT NOT NULL,
		target_key TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'running',
		max_iterations INTEGER NOT NULL,
		success_threshold REAL NOT NULL,
		iterations INTEGER NOT NULL DEFAULT 0,
		confidence REAL NOT NULL DEFAULT 0,
		best_confidence REAL NOT NULL DEFAULT 0,
		best_iteration INTEGER NOT NULL DEFAULT 0,
		final_image_path TEXT NOT NULL DEFAULT '',
		report_path TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT '',
		started_at TIMESTAMP NOT NULL,
		finished_at TIMESTAMP
	);

	-- iterations stores one row per generate/evaluate round of a run
	CREATE TABLE IF NOT EXISTS iterations (
		run_id TEXT NOT NULL,
		iteration INTEGER NOT NULL,
		prompt TEXT NOT NULL,
		seeded BOOLEAN NOT NULL DEFAULT FALSE,
		model TEXT NOT NULL DEFAULT '',
		matches_intent BOOLEAN NOT NULL DEFAULT FALSE,
		confidence REAL NOT NULL,
		correct_elements TEXT NOT NULL DEFAULT '',
		missing_elements TEXT NOT NULL DEFAULT '',
		improvements TEXT NOT NULL DEFAULT '',
		elapsed_ms INTEGER NOT NULL DEFAULT 0,
		image_path TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (run_id, iteration),
		FOREIGN KEY (run_id) REFERENCES runs(id)
	);

	CREATE INDEX IF NOT EXISTS idx_runs_target ON runs(target_key, status);
	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Run is a row of the runs table.
type Run struct {
	ID               string
	Target           string
	Status           string
	MaxIterations    int
	SuccessThreshold float64
	Iterations       int
	Confidence       float64
	BestConfidence   float64
	BestIteration    int
	FinalImagePath   string
	ReportPath       string
	Error            string
	StartedAt        time.Time
	FinishedAt       *time.Time
}

// Iteration is a row of the iterations table.
type Iteration struct {
	RunID           string
	Iteration       int
	Prompt          string
	Seeded          bool
	Model           string
	MatchesIntent   bool
	Confidence      float64
	CorrectElements string
	MissingElements string
	Improvements    string
	Elapsed         time.Duration
	ImagePath       string
}

// Stats summarises the run history.
type Stats struct {
	TotalRuns         int
	Successful        int
	Partial           int
	Failed            int
	Running           int
	TotalIterations   int
	AverageIterations float64
	AverageConfidence float64
}

// SaveRun inserts a run in the running state. Saving an existing ID is an
// error.
func (s *Store) SaveRun(ctx context.Context, run Run) error {
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}
	if run.Status == "" {
		run.Status = StatusRunning
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, target, target_key, status, max_iterations, success_threshold, started_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Target, normalizeText(run.Target), run.Status, run.MaxIterations, run.SuccessThreshold, run.StartedAt)
	return err
}

// SaveIteration stores one iteration of a run, replacing an earlier copy.
func (s *Store) SaveIteration(ctx context.Context, it Iteration) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO iterations (run_id, iteration, prompt, seeded, model, matches_intent, confidence, correct_elements, missing_elements, improvements, elapsed_ms, image_path)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		it.RunID, it.Iteration, it.Prompt, it.Seeded, it.Model, it.MatchesIntent, it.Confidence,
		it.CorrectElements, it.MissingElements, it.Improvements, it.Elapsed.Milliseconds(), it.ImagePath)
	return err
}

// FinishRun records the outcome of a run.
func (s *Store) FinishRun(ctx context.Context, run Run) error {
	finished := time.Now()
	if run.FinishedAt != nil {
		finished = *run.FinishedAt
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, iterations = ?, confidence = ?, best_confidence = ?, best_iteration = ?,
		 final_image_path = ?, report_path = ?, error = ?, finished_at = ? WHERE id = ?`,
		run.Status, run.Iterations, run.Confidence, run.BestConfidence, run.BestIteration,
		run.FinalImagePath, run.ReportPath, run.Error, finished, run.ID)
	if err != nil {
		return err
	}
	return expectRow(res)
}

const runColumns = `id, target, status, max_iterations, success_threshold, iterations, confidence, best_confidence,
	best_iteration, final_image_path, report_path, error, started_at, finished_at`

func scanRun(row interface{ Scan(...any) error }) (*Run, error) {
	var r Run
	var finished sql.NullTime
	if err := row.Scan(&r.ID, &r.Target, &r.Status, &r.MaxIterations, &r.SuccessThreshold, &r.Iterations,
		&r.Confidence, &r.BestConfidence, &r.BestIteration, &r.FinalImagePath, &r.ReportPath, &r.Error,
		&r.StartedAt, &finished); err != nil {
		return nil, err
	}
	if finished.Valid {
		r.FinishedAt = &finished.Time
	}
	return &r, nil
}

// GetRun returns a run by ID. A unique ID prefix is accepted too.
func (s *Store) GetRun(ctx context.Context, id string) (*Run, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, ErrNotFound
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs WHERE id = ? OR id LIKE ? ESCAPE '\\' ORDER BY id = ? DESC LIMIT 2`,
		id, escapeLike(id)+"%", id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var found []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		found = append(found, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	switch {
	case len(found) == 0:
		return nil, ErrNotFound
	case found[0].ID == id || len(found) == 1:
		return found[0], nil
	default:
		return nil, ErrAmbiguous
	}
}

// ListRuns returns runs, most recent first. limit <= 0 returns all of them.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs ORDER BY started_at DESC, id`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

// ListIterations returns the iterations of a run in order.
func (s *Store) ListIterations(ctx context.Context, runID string) ([]Iteration, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, iteration, prompt, seeded, model, matches_intent, confidence, correct_elements, missing_elements, improvements, elapsed_ms, image_path
		 FROM iterations WHERE run_id = ? ORDER BY iteration`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var its []Iteration
	for rows.Next() {
		var it Iteration
		var elapsedMs int64
		if err := rows.Scan(&it.RunID, &it.Iteration, &it.Prompt, &it.Seeded, &it.Model, &it.MatchesIntent, &it.Confidence,
			&it.CorrectElements, &it.MissingElements, &it.Improvements, &elapsedMs, &it.ImagePath); err != nil {
			return nil, err
		}
		it.Elapsed = time.Duration(elapsedMs) * time.Millisecond
		its = append(its, it)
	}
	return its, rows.Err()
}

// Stats returns summary statistics over finished and running runs.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}

	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN status = 'success' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'partial' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'running' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(iterations), 0),
			COALESCE(AVG(CASE WHEN status IN ('success', 'partial') THEN iterations END), 0),
			COALESCE(AVG(CASE WHEN status IN ('success', 'partial') THEN best_confidence END), 0)
		FROM runs`).Scan(
		&stats.TotalRuns,
		&stats.Successful,
		&stats.Partial,
		&stats.Failed,
		&stats.Running,
		&stats.TotalIterations,
		&stats.AverageIterations,
		&stats.AverageConfidence,
	)
	if err != nil {
		return nil, err
	}
	return stats, nil
}

// DeleteRun removes a run and its iterations.
func (s *Store) DeleteRun(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM iterations WHERE run_id = ?`, id); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if err := expectRow(res); err != nil {
		return err
	}
	return tx.Commit()
}

// ClearRuns removes every run and iteration and returns the number of runs
// deleted.
func (s *Store) ClearRuns(ctx context.Context) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM iterations`); err != nil {
		return 0, err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM runs`)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return n, tx.Commit()
}

// FindSuccessfulRun returns the most recent successful run for target whose
// final image was saved. Targets are compared after trimming and Unicode NFC
// normalisation.
func (s *Store) FindSuccessfulRun(ctx context.Context, target string) (*Run, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM runs
		 WHERE target_key = ? AND status = 'success' AND final_image_path != ''
		 ORDER BY finished_at DESC LIMIT 1`,
		normalizeText(target))

	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return r, true, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func expectRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// normalizeText trims whitespace and applies Unicode NFC normalization
// for consistent target comparison.
func normalizeText(text string) string {
	return norm.NFC.String(strings.TrimSpace(text))
}

// escapeLike escapes LIKE wildcards so a prefix lookup stays literal.
func escapeLike(s string) string {
	return strings.NewReplacer(`\\`, `\\\\`, `%`, `\\%`, `_`, `\\_`).Replace(s)
}
