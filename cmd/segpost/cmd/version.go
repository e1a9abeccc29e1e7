package cmd

import (
	"fmt"

	"github.com/MeKo-Tech/segpost/internal/version"
	"github.com/spf13/cobra"
)

// versionCmd prints build metadata.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  cobra.NoArgs,
	// Skip configuration loading.
	PersistentPreRun: func(cmd *cobra.Command, args []string) {},
	Run: func(cmd *cobra.Command, args []string) {
		v, commit, date := version.Info()
		out := cmd.OutOrStdout()
		_, _ = fmt.Fprintf(out, "segpost version %s\n", v)
		_, _ = fmt.Fprintf(out, "Commit: %s\n", commit)
		_, _ = fmt.Fprintf(out, "Date: %s\n", date)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
