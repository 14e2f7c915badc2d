package cmd

import (
	"fmt"

	"github.com/brensch/weatherduck/internal/archive"
	"github.com/brensch/weatherduck/internal/config"
	"github.com/brensch/weatherduck/internal/dataset"
	"github.com/brensch/weatherduck/internal/ingest"

	"github.com/spf13/cobra"
)

var (
	dailyArchiveURL string
	dailyTable      string
	dailySince      int

	stormsArchiveURL string
	stormsTable      string
	stormsSince      int
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Incrementally ingest a yearly archive feed into DuckDB",
	Long: `Ingest resumes from the newest period already in the sink table: the
boundary year is truncated and re-loaded, then every newer remote file is
fetched and appended. Downloads overlap with loading, one file loads at a
time, and an interrupt finishes the current file before stopping.

A failed file is skipped and reported in the final summary; it does not
abort the rest of the run or the process exit status.`,
}

var ingestDailyCmd = &cobra.Command{
	Use:   "daily",
	Short: "Ingest GHCN daily observations (one YYYY.csv.gz per year)",
	RunE: func(cmd *cobra.Command, args []string) error {
		ds := dataset.NewGHCNDaily(getDB(), dailyTable)
		return runIngest(cmd, dailyArchiveURL, ds, dailySince)
	},
}

var ingestStormsCmd = &cobra.Command{
	Use:   "storms",
	Short: "Ingest NCEI storm events details files",
	RunE: func(cmd *cobra.Command, args []string) error {
		ds := dataset.NewStormEvents(getDB(), stormsTable)
		return runIngest(cmd, stormsArchiveURL, ds, stormsSince)
	},
}

// runIngest is shared by both feeds: archive connection, memory limit,
// pipeline run, summary. Per-file failures and cancellation surface in the
// summary, not the exit status.
func runIngest(cmd *cobra.Command, archiveURL string, ds ingest.Dataset, since int) error {
	ctx := cmd.Context()
	logger := getLogger()

	if err := applyMemoryLimit(ctx, config.IngestMemoryLimit); err != nil {
		return err
	}

	arc, err := archive.Open(ctx, archiveURL, logger)
	if err != nil {
		return fmt.Errorf("failed to open archive %s: %w", archiveURL, err)
	}
	defer func() {
		if err := arc.Close(); err != nil {
			logger.Warn("Failed to close archive connection.", "error", err)
		}
	}()

	opts := ingest.Options{Since: since, HaveSince: cmd.Flags().Changed("since")}
	summary, err := ingest.Run(ctx, arc, ds, logger, opts)
	if err != nil {
		return err
	}
	fmt.Println(summary.Render())
	return nil
}

func init() {
	ingestDailyCmd.Flags().StringVar(&dailyArchiveURL, "archive", config.DefaultDailyArchiveURL, "Archive URL of the by-year directory (ftp:// or https://)")
	ingestDailyCmd.Flags().StringVar(&dailyTable, "table", config.DefaultDailyTable, "Sink table for daily observations")
	ingestDailyCmd.Flags().IntVar(&dailySince, "since", 0, "Only ingest files from this year or later")

	ingestStormsCmd.Flags().StringVar(&stormsArchiveURL, "archive", config.DefaultStormsArchiveURL, "Archive URL of the storm events directory (ftp:// or https://)")
	ingestStormsCmd.Flags().StringVar(&stormsTable, "table", config.DefaultStormsTable, "Sink table for storm events")
	ingestStormsCmd.Flags().IntVar(&stormsSince, "since", 0, "Only ingest files from this year or later")

	ingestCmd.AddCommand(ingestDailyCmd)
	ingestCmd.AddCommand(ingestStormsCmd)
}
