package main

import (
	"fmt"
	"strconv"

	"github.com/nao1215/markdown"
	"github.com/spf13/cobra"

	"github.com/22f2001388/llm-analysis-quiz/internal/store/sqlite"
)

// NewRunsCmd creates the runs command.
func NewRunsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List runs recorded in the local history",
		Long: `Runs lists the most recent chain runs stored in the SQLite history, newest
first. Pass a run ID to show its steps.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runRunsCmd,
	}
	cmd.Flags().String("db", "", "SQLite history path (default SQLITE_PATH)")
	cmd.Flags().IntP("limit", "n", 20, "Maximum number of runs to list")
	return cmd
}

func runRunsCmd(cmd *cobra.Command, args []string) error {
	cfg := commandConfig(cmd)
	st, err := sqlite.New(cfg.SQLitePath)
	if err != nil {
		return fmt.Errorf("open history: %w", err)
	}
	defer st.Close()

	md := markdown.NewMarkdown(cmd.OutOrStdout())
	if len(args) == 1 {
		run, err := st.GetRun(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("get run %s: %w", args[0], err)
		}
		steps, err := st.ListSteps(cmd.Context(), run.ID)
		if err != nil {
			return fmt.Errorf("list steps: %w", err)
		}
		md.H1("Run " + run.ID)
		md.PlainText("")
		md.Table(markdown.TableSet{
			Header: []string{"Property", "Value"},
			Rows: [][]string{
				{"Start URL", run.StartURL},
				{"Status", run.Status},
				{"Final status", orDash(run.FinalStatus)},
				{"Started", run.CreatedAt},
				{"Duration", formatMs(run.DurationMs)},
			},
		})
		md.PlainText("")
		if run.Error != "" {
			md.Cautionf("%s", run.Error)
			md.PlainText("")
		}
		rows := make([][]string, len(steps))
		for i, step := range steps {
			rows[i] = []string{
				strconv.Itoa(step.Index),
				truncate(step.URL, 60),
				step.Outcome,
				truncate(formatAnswer(step.Answer), 40),
				formatCorrect(step.Correct),
				formatMs(step.DurationMs),
			}
		}
		md.H2("Steps")
		md.PlainText("")
		md.Table(markdown.TableSet{
			Header: []string{"#", "URL", "Outcome", "Answer", "Correct", "Duration"},
			Rows:   rows,
		})
		return md.Build()
	}

	limit, _ := cmd.Flags().GetInt("limit")
	runs, err := st.ListRuns(cmd.Context(), limit)
	if err != nil {
		return fmt.Errorf("list runs: %w", err)
	}
	md.H1("Recent Runs")
	md.PlainText("")
	if len(runs) == 0 {
		md.PlainText("No runs recorded yet.")
		return md.Build()
	}
	rows := make([][]string, len(runs))
	for i, run := range runs {
		rows[i] = []string{
			"`" + run.ID + "`",
			run.CreatedAt,
			run.Status,
			orDash(run.FinalStatus),
			strconv.Itoa(run.Steps),
			truncate(run.StartURL, 50),
		}
	}
	md.Table(markdown.TableSet{
		Header: []string{"Run", "Started", "Status", "Final status", "Steps", "Start URL"},
		Rows:   rows,
	})
	return md.Build()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
