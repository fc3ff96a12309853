package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/22f2001388/llm-analysis-quiz/internal/app"
	"github.com/22f2001388/llm-analysis-quiz/internal/chain"
	"github.com/22f2001388/llm-analysis-quiz/internal/config"
	"github.com/22f2001388/llm-analysis-quiz/internal/store/sqlite"
	"github.com/22f2001388/llm-analysis-quiz/internal/workflows"
)

type chainRunner interface {
	Run(ctx context.Context, req chain.Request) (*chain.Report, error)
}

var (
	loadConfig = func() config.Config {
		config.LoadDotEnv()
		return config.Load()
	}
	newRunner = func(cfg config.Config, recorder chain.Recorder, logger *slog.Logger) (chainRunner, func(context.Context) error, error) {
		rt, err := app.Build(cfg, recorder, logger)
		if err != nil {
			return nil, nil, err
		}
		return rt.Controller, rt.Close, nil
	}
)

// NewRunCmd creates the run command.
func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [start-url]",
		Short: "Run one quiz chain and print its report",
		Long: `Run follows a quiz chain from the given start URL in this process, using a
local headless browser, and prints the final report when the chain stops.

The run is recorded in the SQLite history unless --no-history is set.

Examples:
  # Run with QUIZ_EMAIL and QUIZ_SECRET from the environment
  chainctl run https://quiz.example.com/start

  # Override the credentials and print JSON
  chainctl run --email me@example.com --secret s3cr3t --json https://quiz.example.com/start`,
		Args: cobra.ExactArgs(1),
		RunE: runRunCmd,
	}

	cmd.Flags().String("email", "", "Student email (default QUIZ_EMAIL)")
	cmd.Flags().String("secret", "", "Student secret (default QUIZ_SECRET)")
	cmd.Flags().String("db", "", "SQLite history path (default SQLITE_PATH)")
	cmd.Flags().Bool("no-history", false, "Do not record the run")
	cmd.Flags().Bool("json", false, "Print the report as JSON")

	return cmd
}

func runRunCmd(cmd *cobra.Command, args []string) error {
	cfg := commandConfig(cmd)
	if email, _ := cmd.Flags().GetString("email"); email != "" {
		cfg.QuizEmail = email
	}
	if secret, _ := cmd.Flags().GetString("secret"); secret != "" {
		cfg.QuizSecret = secret
	}
	if cfg.QuizEmail == "" || cfg.QuizSecret == "" {
		return errors.New("an email and secret are required (flags or QUIZ_EMAIL/QUIZ_SECRET)")
	}
	logger := app.NewLogger(cfg, cmd.ErrOrStderr())

	var recorder chain.Recorder = chain.NopRecorder{}
	if noHistory, _ := cmd.Flags().GetBool("no-history"); !noHistory {
		st, err := sqlite.New(cfg.SQLitePath)
		if err != nil {
			return fmt.Errorf("open history: %w", err)
		}
		defer st.Close()
		recorder = workflows.NewRecorder(st, nil, logger)
	}

	runner, closeRunner, err := newRunner(cfg, recorder, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeRunner(context.Background()); err != nil {
			logger.Warn("browser shutdown failed", "error", err)
		}
	}()

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer cancel()

	report, err := runner.Run(ctx, chain.Request{
		RunID:    uuid.NewString(),
		StartURL: args[0],
		Email:    cfg.QuizEmail,
		Secret:   cfg.QuizSecret,
	})
	if err != nil {
		return err
	}

	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		encoder := json.NewEncoder(cmd.OutOrStdout())
		encoder.SetIndent("", "  ")
		return encoder.Encode(report)
	}
	return writeMarkdownReport(cmd.OutOrStdout(), report)
}

// commandConfig loads settings and applies the flags shared by subcommands.
func commandConfig(cmd *cobra.Command) config.Config {
	cfg := loadConfig()
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		cfg.LogLevel = "debug"
	}
	if db, err := cmd.Flags().GetString("db"); err == nil && db != "" {
		cfg.SQLitePath = db
	}
	return cfg
}
