package cmd

import (
	"log/slog"

	"github.com/brensch/weatherduck/internal/config"
	"github.com/brensch/weatherduck/internal/dataset"
	"github.com/brensch/weatherduck/internal/util"

	"github.com/spf13/cobra"
)

var (
	zipcodesURL   string
	zipcodesTable string
)

var zipcodesCmd = &cobra.Command{
	Use:   "zipcodes",
	Short: "Download the Census ZCTA gazetteer and rebuild the ZIP code table",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		logger := getLogger()

		if err := applyMemoryLimit(ctx, config.IngestMemoryLimit); err != nil {
			return err
		}

		rows, err := dataset.NewZipcodes(getDB(), zipcodesTable).Reload(ctx, util.DefaultHTTPClient(), zipcodesURL, logger)
		if err != nil {
			return err
		}
		logger.Info("ZIP code table rebuilt.", slog.String("table", zipcodesTable), slog.Int64("rows", rows))
		return nil
	},
}

func init() {
	zipcodesCmd.Flags().StringVar(&zipcodesURL, "url", config.DefaultZipcodeURL, "URL of the gazetteer zip archive")
	zipcodesCmd.Flags().StringVar(&zipcodesTable, "table", config.DefaultZipcodesTable, "Table to rebuild with ZIP code centroids")
}
