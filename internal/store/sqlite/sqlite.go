// Package sqlite keeps run history in a local SQLite file. It backs the CLI
// and single-node deployments that do not run Postgres.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/22f2001388/llm-analysis-quiz/internal/store"
)

// Timestamps are stored with a fixed-width layout so they sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id           TEXT PRIMARY KEY,
	start_url    TEXT NOT NULL,
	email        TEXT NOT NULL DEFAULT '',
	status       TEXT NOT NULL,
	final_status TEXT,
	steps        INTEGER NOT NULL DEFAULT 0,
	error        TEXT,
	duration_ms  INTEGER NOT NULL DEFAULT 0,
	created_at   TEXT NOT NULL,
	updated_at   TEXT NOT NULL,
	completed_at TEXT
);

CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at);

CREATE TABLE IF NOT EXISTS run_steps (
	run_id          TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	idx             INTEGER NOT NULL,
	url             TEXT NOT NULL,
	url_fingerprint TEXT NOT NULL,
	outcome         TEXT NOT NULL,
	next_url        TEXT,
	code            TEXT,
	error           TEXT,
	answer          TEXT,
	correct         INTEGER,
	retries         INTEGER NOT NULL DEFAULT 0,
	reason          TEXT,
	timings         TEXT NOT NULL DEFAULT '[]',
	started_at      TEXT,
	duration_ms     INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (run_id, idx)
);
`

type SQLiteStore struct {
	db   *sql.DB
	path string
}

// New opens (creating if needed) the database at path. ":memory:" gives a
// private in-memory database.
func New(path string) (*SQLiteStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	dsn := ":memory:"
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
		dsn = path + "?mode=rwc"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA foreign_keys=ON", "PRAGMA busy_timeout=5000"} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}
	return &SQLiteStore{db: db, path: path}, nil
}

func (s *SQLiteStore) Path() string {
	return s.path
}

func (s *SQLiteStore) CreateRun(ctx context.Context, run store.Run) error {
	status := strings.TrimSpace(run.Status)
	if status == "" {
		status = store.RunStatusRunning
	}
	created := toDB(run.CreatedAt)
	if created == nil {
		created = time.Now().UTC().Format(timeLayout)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, start_url, email, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		run.ID, run.StartURL, run.Email, status, created, created,
	)
	return err
}

func (s *SQLiteStore) CompleteRun(ctx context.Context, completion store.Completion) error {
	completed := toDB(completion.CompletedAt)
	if completed == nil {
		completed = time.Now().UTC().Format(timeLayout)
	}
	result, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, final_status = ?, error = ?, duration_ms = ?, completed_at = ?, updated_at = ? WHERE id = ?`,
		completion.Status,
		nullString(completion.FinalStatus),
		nullString(completion.Error),
		completion.DurationMs,
		completed,
		completed,
		completion.RunID,
	)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) AppendStep(ctx context.Context, step store.StepRecord) (err error) {
	answer, err := store.EncodeAnswer(step.Answer)
	if err != nil {
		return err
	}
	timings, err := store.EncodeTimings(step.Timings)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var exists int
	if err = tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs WHERE id = ?`, step.RunID).Scan(&exists); err != nil {
		return err
	}
	if exists == 0 {
		err = store.ErrNotFound
		return err
	}
	var answerValue any
	if len(answer) > 0 {
		answerValue = string(answer)
	}
	var correct any
	if step.Correct != nil {
		correct = boolInt(*step.Correct)
	}
	if _, err = tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO run_steps (
			run_id, idx, url, url_fingerprint, outcome, next_url, code, error,
			answer, correct, retries, reason, timings, started_at, duration_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		step.RunID,
		step.Index,
		step.URL,
		step.URLFingerprint,
		step.Outcome,
		nullString(step.NextURL),
		nullString(step.Code),
		nullString(step.Error),
		answerValue,
		correct,
		step.Retries,
		nullString(step.Reason),
		string(timings),
		toDB(step.StartedAt),
		step.DurationMs,
	); err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx,
		`UPDATE runs SET steps = (SELECT COUNT(*) FROM run_steps WHERE run_id = ?), updated_at = ? WHERE id = ?`,
		step.RunID, time.Now().UTC().Format(timeLayout), step.RunID,
	); err != nil {
		return err
	}
	err = tx.Commit()
	return err
}

const runColumns = `id, start_url, email, status, final_status, steps, error, duration_ms, created_at, updated_at, completed_at`

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*store.Run, error) {
	run, err := scanRun(s.db.QueryRowContext(ctx, "SELECT "+runColumns+" FROM runs WHERE id = ?", runID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]store.Run, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+runColumns+" FROM runs ORDER BY created_at DESC, id ASC LIMIT ?", store.ClampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := []store.Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, run)
	}
	return results, rows.Err()
}

func (s *SQLiteStore) ListSteps(ctx context.Context, runID string) ([]store.StepRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, idx, url, url_fingerprint, outcome, next_url, code, error,
			answer, correct, retries, reason, timings, started_at, duration_ms
		FROM run_steps WHERE run_id = ? ORDER BY idx ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := []store.StepRecord{}
	for rows.Next() {
		var (
			step      store.StepRecord
			nextURL   sql.NullString
			code      sql.NullString
			errText   sql.NullString
			answer    sql.NullString
			correct   sql.NullInt64
			reason    sql.NullString
			timings   string
			startedAt sql.NullString
		)
		if err := rows.Scan(
			&step.RunID, &step.Index, &step.URL, &step.URLFingerprint, &step.Outcome,
			&nextURL, &code, &errText, &answer, &correct, &step.Retries, &reason,
			&timings, &startedAt, &step.DurationMs,
		); err != nil {
			return nil, err
		}
		step.NextURL = nextURL.String
		step.Code = code.String
		step.Error = errText.String
		step.Reason = reason.String
		if answer.Valid {
			step.Answer = store.DecodeAnswer([]byte(answer.String))
		}
		if correct.Valid {
			value := correct.Int64 != 0
			step.Correct = &value
		}
		step.Timings = store.DecodeTimings([]byte(timings))
		step.StartedAt = fromDB(startedAt)
		results = append(results, step)
	}
	return results, rows.Err()
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (store.Run, error) {
	var (
		run         store.Run
		finalStatus sql.NullString
		errText     sql.NullString
		createdAt   string
		updatedAt   string
		completedAt sql.NullString
	)
	if err := row.Scan(&run.ID, &run.StartURL, &run.Email, &run.Status, &finalStatus, &run.Steps,
		&errText, &run.DurationMs, &createdAt, &updatedAt, &completedAt); err != nil {
		return store.Run{}, err
	}
	run.FinalStatus = finalStatus.String
	run.Error = errText.String
	run.CreatedAt = fromDB(sql.NullString{String: createdAt, Valid: true})
	run.UpdatedAt = fromDB(sql.NullString{String: updatedAt, Valid: true})
	run.CompletedAt = fromDB(completedAt)
	return run, nil
}

// toDB normalises an RFC 3339 timestamp to the stored layout, or nil.
func toDB(value string) any {
	parsed, ok := store.ParseTime(value).(time.Time)
	if !ok {
		return nil
	}
	return parsed.UTC().Format(timeLayout)
}

func fromDB(value sql.NullString) string {
	if !value.Valid || value.String == "" {
		return ""
	}
	parsed, err := time.Parse(timeLayout, value.String)
	if err != nil {
		return value.String
	}
	return store.FormatTime(parsed)
}

func nullString(value string) any {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return value
}

func boolInt(value bool) int {
	if value {
		return 1
	}
	return 0
}
