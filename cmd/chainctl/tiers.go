package main

import (
	"strconv"

	"github.com/nao1215/markdown"
	"github.com/spf13/cobra"

	"github.com/22f2001388/llm-analysis-quiz/internal/solve"
)

// NewTiersCmd creates the tiers command.
func NewTiersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tiers",
		Short: "Show the resolved solver tier catalogue",
		Long: `Tiers prints the solver tiers tried for each question complexity, in
cascade order. The catalogue comes from --file, TIERS_FILE, or
$XDG_CONFIG_HOME/quizchain/tiers.yaml, falling back to the built-in defaults.`,
		Args: cobra.NoArgs,
		RunE: runTiersCmd,
	}
	cmd.Flags().StringP("file", "f", "", "Tier catalogue file")
	return cmd
}

func runTiersCmd(cmd *cobra.Command, _ []string) error {
	path := loadConfig().TiersFile
	if file, _ := cmd.Flags().GetString("file"); file != "" {
		path = file
	}
	catalogue, err := solve.LoadCatalogue(path)
	if err != nil {
		return err
	}

	md := markdown.NewMarkdown(cmd.OutOrStdout())
	md.H1("Solver Tiers")
	md.PlainText("")
	source := "built-in defaults"
	if path != "" {
		source = "`" + path + "`"
	}
	md.PlainTextf("Source: %s. Planner model: `%s`.", source, catalogue.PlannerModel)
	md.PlainText("")

	for _, complexity := range []solve.Complexity{solve.ComplexitySimple, solve.ComplexityMedium, solve.ComplexityHard} {
		md.H2(string(complexity))
		md.PlainText("")
		tiers := catalogue.Tiers[complexity]
		if len(tiers) == 0 {
			md.PlainText("No tiers configured.")
			md.PlainText("")
			continue
		}
		rows := make([][]string, len(tiers))
		for i, tier := range tiers {
			model := tier.Model
			if model == "" {
				model = "-"
			}
			tokens := "-"
			if tier.MaxPromptTokens > 0 {
				tokens = strconv.Itoa(tier.MaxPromptTokens)
			}
			rows[i] = []string{strconv.Itoa(i + 1), tier.Name, tier.Kind, model, tier.Timeout.String(), tokens}
		}
		md.Table(markdown.TableSet{
			Header: []string{"Order", "Name", "Kind", "Model", "Timeout", "Max prompt tokens"},
			Rows:   rows,
		})
		md.PlainText("")
	}
	return md.Build()
}
