package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/22f2001388/llm-analysis-quiz/internal/store"
)

type PostgresStore struct {
	db *sql.DB
}

var openDB = sql.Open

func New(conn string) (*PostgresStore, error) {
	db, err := openDB("pgx", conn)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := verifySchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func verifySchema(ctx context.Context, db *sql.DB) error {
	for _, table := range []string{"runs", "run_steps"} {
		var regclass sql.NullString
		if err := db.QueryRowContext(ctx, "SELECT to_regclass($1)", fmt.Sprintf("public.%s", table)).Scan(&regclass); err != nil {
			return err
		}
		if !regclass.Valid {
			return fmt.Errorf("database schema missing: %s table not found (run migrations/001_init.sql)", table)
		}
	}
	return nil
}

func (p *PostgresStore) CreateRun(ctx context.Context, run store.Run) error {
	status := strings.TrimSpace(run.Status)
	if status == "" {
		status = store.RunStatusRunning
	}
	created := store.ParseTime(run.CreatedAt)
	if created == nil {
		created = time.Now().UTC()
	}
	const query = `
		INSERT INTO runs (id, start_url, email, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
	`
	_, err := p.db.ExecContext(ctx, query, run.ID, run.StartURL, run.Email, status, created)
	return err
}

func (p *PostgresStore) CompleteRun(ctx context.Context, completion store.Completion) error {
	completed := store.ParseTime(completion.CompletedAt)
	if completed == nil {
		completed = time.Now().UTC()
	}
	const query = `
		UPDATE runs
		SET status = $2, final_status = $3, error = $4, duration_ms = $5, completed_at = $6, updated_at = $6
		WHERE id = $1
	`
	result, err := p.db.ExecContext(ctx, query,
		completion.RunID,
		completion.Status,
		nullString(completion.FinalStatus),
		nullString(completion.Error),
		completion.DurationMs,
		completed,
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

// AppendStep upserts the step and refreshes the run's step count in one
// transaction.
func (p *PostgresStore) AppendStep(ctx context.Context, step store.StepRecord) (err error) {
	answer, err := store.EncodeAnswer(step.Answer)
	if err != nil {
		return err
	}
	timings, err := store.EncodeTimings(step.Timings)
	if err != nil {
		return err
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	const insert = `
		INSERT INTO run_steps (
			run_id, idx, url, url_fingerprint, outcome, next_url, code, error,
			answer, correct, retries, reason, timings, started_at, duration_ms
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (run_id, idx) DO UPDATE SET
			outcome = EXCLUDED.outcome,
			next_url = EXCLUDED.next_url,
			code = EXCLUDED.code,
			error = EXCLUDED.error,
			answer = EXCLUDED.answer,
			correct = EXCLUDED.correct,
			retries = EXCLUDED.retries,
			reason = EXCLUDED.reason,
			timings = EXCLUDED.timings,
			duration_ms = EXCLUDED.duration_ms
	`
	if _, err = tx.ExecContext(ctx, insert,
		step.RunID,
		step.Index,
		step.URL,
		step.URLFingerprint,
		step.Outcome,
		nullString(step.NextURL),
		nullString(step.Code),
		nullString(step.Error),
		nullBytes(answer),
		nullBool(step.Correct),
		step.Retries,
		nullString(step.Reason),
		timings,
		store.ParseTime(step.StartedAt),
		step.DurationMs,
	); err != nil {
		return err
	}
	const touch = `
		UPDATE runs
		SET steps = (SELECT COUNT(*) FROM run_steps WHERE run_id = $1), updated_at = now()
		WHERE id = $1
	`
	if _, err = tx.ExecContext(ctx, touch, step.RunID); err != nil {
		return err
	}
	err = tx.Commit()
	return err
}

const runColumns = `id, start_url, email, status, final_status, steps, error, duration_ms, created_at, updated_at, completed_at`

func (p *PostgresStore) GetRun(ctx context.Context, runID string) (*store.Run, error) {
	row := p.db.QueryRowContext(ctx, "SELECT "+runColumns+" FROM runs WHERE id = $1", runID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

func (p *PostgresStore) ListRuns(ctx context.Context, limit int) ([]store.Run, error) {
	rows, err := p.db.QueryContext(ctx, "SELECT "+runColumns+" FROM runs ORDER BY created_at DESC, id ASC LIMIT $1", store.ClampLimit(limit))
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
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func (p *PostgresStore) ListSteps(ctx context.Context, runID string) ([]store.StepRecord, error) {
	const query = `
		SELECT run_id, idx, url, url_fingerprint, outcome, next_url, code, error,
			answer, correct, retries, reason, timings, started_at, duration_ms
		FROM run_steps
		WHERE run_id = $1
		ORDER BY idx ASC
	`
	rows, err := p.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := []store.StepRecord{}
	for rows.Next() {
		var (
			step        store.StepRecord
			nextURL     sql.NullString
			code        sql.NullString
			errText     sql.NullString
			answer      []byte
			correct     sql.NullBool
			reason      sql.NullString
			timingBytes []byte
			startedAt   sql.NullTime
		)
		if err := rows.Scan(
			&step.RunID,
			&step.Index,
			&step.URL,
			&step.URLFingerprint,
			&step.Outcome,
			&nextURL,
			&code,
			&errText,
			&answer,
			&correct,
			&step.Retries,
			&reason,
			&timingBytes,
			&startedAt,
			&step.DurationMs,
		); err != nil {
			return nil, err
		}
		step.NextURL = nextURL.String
		step.Code = code.String
		step.Error = errText.String
		step.Reason = reason.String
		step.Answer = store.DecodeAnswer(answer)
		if correct.Valid {
			value := correct.Bool
			step.Correct = &value
		}
		step.Timings = store.DecodeTimings(timingBytes)
		if startedAt.Valid {
			step.StartedAt = store.FormatTime(startedAt.Time)
		}
		results = append(results, step)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

func (p *PostgresStore) Close() error {
	return p.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (store.Run, error) {
	var (
		run         store.Run
		finalStatus sql.NullString
		errText     sql.NullString
		createdAt   time.Time
		updatedAt   time.Time
		completedAt sql.NullTime
	)
	if err := row.Scan(
		&run.ID,
		&run.StartURL,
		&run.Email,
		&run.Status,
		&finalStatus,
		&run.Steps,
		&errText,
		&run.DurationMs,
		&createdAt,
		&updatedAt,
		&completedAt,
	); err != nil {
		return store.Run{}, err
	}
	run.FinalStatus = finalStatus.String
	run.Error = errText.String
	run.CreatedAt = store.FormatTime(createdAt)
	run.UpdatedAt = store.FormatTime(updatedAt)
	if completedAt.Valid {
		run.CompletedAt = store.FormatTime(completedAt.Time)
	}
	return run, nil
}

func nullString(value string) any {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return value
}

func nullBytes(value []byte) any {
	if len(value) == 0 {
		return nil
	}
	return value
}

func nullBool(value *bool) any {
	if value == nil {
		return nil
	}
	return *value
}
