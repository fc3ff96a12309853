package main

import (
	"fmt"
	"os"
	"runtime/debug"

	"github.com/spf13/cobra"
)

var version = ""

func getVersion() string {
	if version != "" {
		return version
	}
	if buildInfo, ok := debug.ReadBuildInfo(); ok && buildInfo.Main.Version != "" {
		return buildInfo.Main.Version
	}
	return "(devel)"
}

// NewRootCmd creates the chainctl root command.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chainctl",
		Short: "Run and inspect quiz chains from the terminal",
		Long: `chainctl runs a quiz chain synchronously in this process and prints the
report, shows the resolved solver tier catalogue, and lists past runs kept
in the local SQLite history.`,
		Version:       getVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().BoolP("verbose", "v", false, "Enable debug logging")

	cmd.AddCommand(NewRunCmd())
	cmd.AddCommand(NewTiersCmd())
	cmd.AddCommand(NewRunsCmd())

	return cmd
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
