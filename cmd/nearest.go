package cmd

import (
	"log/slog"

	"github.com/brensch/weatherduck/internal/analysis"
	"github.com/brensch/weatherduck/internal/config"

	"github.com/spf13/cobra"
)

var (
	nearestStationsTable string
	nearestZipcodesTable string
	nearestOutputTable   string
	nearestNumStations   int
	nearestBatchSize     int
)

var nearestCmd = &cobra.Command{
	Use:   "nearest",
	Short: "Compute the closest weather stations for every ZIP code",
	Long: `Cross-joins ZIP code centroids against station coordinates in batches,
keeping the N nearest stations within 200 miles of each ZIP code. The
output table is rebuilt from scratch each run.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		logger := getLogger()

		if err := applyMemoryLimit(ctx, config.AnalysisMemoryLimit); err != nil {
			return err
		}

		rows, err := analysis.ComputeNearestStations(ctx, getDB(), logger, analysis.NearestOptions{
			StationsTable: nearestStationsTable,
			ZipcodesTable: nearestZipcodesTable,
			OutputTable:   nearestOutputTable,
			NumStations:   nearestNumStations,
			BatchSize:     nearestBatchSize,
		})
		if err != nil {
			return err
		}
		logger.Info("Nearest station table ready.", slog.String("table", nearestOutputTable), slog.Int64("rows", rows))
		return nil
	},
}

func init() {
	nearestCmd.Flags().StringVar(&nearestStationsTable, "stations-table", config.DefaultStationsTable, "Table with station metadata")
	nearestCmd.Flags().StringVar(&nearestZipcodesTable, "zipcodes-table", config.DefaultZipcodesTable, "Table with ZIP code centroids")
	nearestCmd.Flags().StringVar(&nearestOutputTable, "table", config.DefaultZipcodeStationsTable, "Output table for the proximity pairs")
	nearestCmd.Flags().IntVar(&nearestNumStations, "num-stations", 20, "Closest stations to keep per ZIP code")
	nearestCmd.Flags().IntVar(&nearestBatchSize, "batch-size", 100, "ZIP codes per cross-join batch")
}
