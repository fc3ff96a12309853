//go:build integration

package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	testcontainers "github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	storepkg "github.com/22f2001388/llm-analysis-quiz/internal/store"
)

var (
	testDB   *sql.DB
	testConn string
)

func TestMain(m *testing.M) {
	ctx := context.Background()
	container, err := tcpostgres.Run(
		ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("quizchain"),
		tcpostgres.WithUsername("quizchain"),
		tcpostgres.WithPassword("quizchain"),
		testcontainers.WithWaitStrategy(wait.ForLog("database system is ready to accept connections").WithOccurrence(2).WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		fmt.Fprintln(os.Stderr, "start postgres container:", err)
		os.Exit(1)
	}
	conn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = container.Terminate(ctx)
		fmt.Fprintln(os.Stderr, "connection string:", err)
		os.Exit(1)
	}
	ldb, err := sql.Open("pgx", conn)
	if err != nil {
		_ = container.Terminate(ctx)
		fmt.Fprintln(os.Stderr, "open db:", err)
		os.Exit(1)
	}
	if err := waitForDB(ldb); err != nil {
		_ = ldb.Close()
		_ = container.Terminate(ctx)
		fmt.Fprintln(os.Stderr, "ping db:", err)
		os.Exit(1)
	}
	if err := applyMigrations(ctx, ldb); err != nil {
		_ = ldb.Close()
		_ = container.Terminate(ctx)
		fmt.Fprintln(os.Stderr, "apply migrations:", err)
		os.Exit(1)
	}
	testDB = ldb
	testConn = conn
	code := m.Run()
	_ = ldb.Close()
	_ = container.Terminate(ctx)
	os.Exit(code)
}

func applyMigrations(ctx context.Context, db *sql.DB) error {
	root, err := repoRoot()
	if err != nil {
		return err
	}
	migrationsDir := filepath.Join(root, "migrations")
	entries, err := os.ReadDir(migrationsDir)
	if err != nil {
		return err
	}
	files := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		files = append(files, entry.Name())
	}
	sort.Strings(files)
	for _, name := range files {
		contents, err := os.ReadFile(filepath.Join(migrationsDir, name))
		if err != nil {
			return err
		}
		if _, err := db.ExecContext(ctx, string(contents)); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

func waitForDB(db *sql.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	var lastErr error
	for i := 0; i < 20; i++ {
		if err := db.PingContext(ctx); err == nil {
			return nil
		} else {
			lastErr = err
		}
		time.Sleep(500 * time.Millisecond)
	}
	return lastErr
}

func repoRoot() (string, error) {
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		return "", fmt.Errorf("resolve repo root")
	}
	return filepath.Clean(filepath.Join(filepath.Dir(file), "..", "..", "..")), nil
}

func newStore(t *testing.T) *PostgresStore {
	t.Helper()
	if _, err := testDB.Exec(`TRUNCATE TABLE run_steps, runs CASCADE`); err != nil {
		t.Fatalf("clean db: %v", err)
	}
	return &PostgresStore{db: testDB}
}

func TestNew_Success(t *testing.T) {
	pgStore, err := New(testConn)
	require.NoError(t, err)
	require.NoError(t, pgStore.Ping(context.Background()))
	require.NoError(t, pgStore.Close())
}

func TestRunLifecycle(t *testing.T) {
	ctx := context.Background()
	pg := newStore(t)

	require.NoError(t, pg.CreateRun(ctx, storepkg.Run{
		ID:        "run-1",
		StartURL:  "https://quiz.example.com/a",
		Email:     "student@example.com",
		CreatedAt: "2026-02-07T00:00:00Z",
	}))
	correct := true
	require.NoError(t, pg.AppendStep(ctx, storepkg.StepRecord{
		RunID:          "run-1",
		Index:          0,
		URL:            "https://quiz.example.com/a",
		URLFingerprint: "abc",
		Outcome:        "submitted",
		NextURL:        "https://quiz.example.com/b",
		Answer:         map[string]any{"total": 12.5},
		Correct:        &correct,
		Timings:        []storepkg.StepTiming{{Name: "extract", ElapsedMs: 12}},
		StartedAt:      "2026-02-07T00:00:00.5Z",
		DurationMs:     700,
	}))
	require.NoError(t, pg.AppendStep(ctx, storepkg.StepRecord{
		RunID:          "run-1",
		Index:          1,
		URL:            "https://quiz.example.com/b",
		URLFingerprint: "def",
		Outcome:        "ended",
	}))
	require.NoError(t, pg.CompleteRun(ctx, storepkg.Completion{
		RunID:       "run-1",
		Status:      storepkg.RunStatusCompleted,
		FinalStatus: "ended",
		DurationMs:  1400,
		CompletedAt: "2026-02-07T00:00:02Z",
	}))

	run, err := pg.GetRun(ctx, "run-1")
	require.NoError(t, err)
	require.Equal(t, 2, run.Steps)
	require.Equal(t, "ended", run.FinalStatus)
	require.Equal(t, "2026-02-07T00:00:02Z", run.CompletedAt)

	steps, err := pg.ListSteps(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, steps, 2)
	require.Equal(t, map[string]any{"total": 12.5}, steps[0].Answer)
	require.True(t, *steps[0].Correct)
	require.Nil(t, steps[1].Correct)
	require.Equal(t, "extract", steps[0].Timings[0].Name)

	runs, err := pg.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)

	_, err = pg.GetRun(ctx, "missing")
	require.ErrorIs(t, err, storepkg.ErrNotFound)
}
