package cmd

import (
	"github.com/brensch/weatherduck/internal/inspector"

	"github.com/spf13/cobra"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect [dir]",
	Short: "Summarize exported parquet files",
	Long: `Reads the footers of every parquet file under the given directory
(default: the output directory) and prints row counts and schemas.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := appConfig.OutputDir
		if len(args) == 1 {
			dir = args[0]
		}
		return inspector.InspectParquet(dir, getLogger())
	},
}
