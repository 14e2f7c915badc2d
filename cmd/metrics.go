package cmd

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/brensch/weatherduck/internal/analysis"
	"github.com/brensch/weatherduck/internal/config"

	"github.com/spf13/cobra"
)

var (
	metricsDailyTable    string
	metricsStationsTable string
	metricsOutputTable   string
	metricsMaxDistance   float64
	metricsMinDate       string
	metricsMaxDate       string
)

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Aggregate daily weather metrics per ZIP code",
	Long: `For each date in the range, averages the PRCP, SNOW, SNWD, TMAX and TMIN
observations of every station near each ZIP code. Without --min-date the
computation resumes from the latest date already in the output table;
that date is recomputed in full.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		logger := getLogger()

		if err := applyMemoryLimit(ctx, config.AnalysisMemoryLimit); err != nil {
			return err
		}

		maxDate, err := time.Parse("2006-01-02", metricsMaxDate)
		if err != nil {
			return fmt.Errorf("parse --max-date: %w", err)
		}
		var minDate time.Time
		if metricsMinDate == "" {
			minDate, err = analysis.ResolveMinDate(ctx, getDB(), metricsOutputTable, logger)
		} else {
			minDate, err = time.Parse("2006-01-02", metricsMinDate)
			if err != nil {
				err = fmt.Errorf("parse --min-date: %w", err)
			}
		}
		if err != nil {
			return err
		}

		rows, err := analysis.ComputeDailyMetrics(ctx, getDB(), logger, analysis.MetricsOptions{
			DailyTable:       metricsDailyTable,
			StationsTable:    metricsStationsTable,
			OutputTable:      metricsOutputTable,
			MaxDistanceMiles: metricsMaxDistance,
			MinDate:          minDate,
			MaxDate:          maxDate,
		})
		if err != nil {
			return err
		}
		logger.Info("Daily metrics ready.", slog.String("table", metricsOutputTable), slog.Int64("rows", rows))
		return nil
	},
}

func init() {
	metricsCmd.Flags().StringVar(&metricsDailyTable, "daily-table", config.DefaultDailyTable, "Table with raw daily observations")
	metricsCmd.Flags().StringVar(&metricsStationsTable, "stations-table", config.DefaultZipcodeStationsTable, "Table with ZIP-code-to-station proximity pairs")
	metricsCmd.Flags().StringVar(&metricsOutputTable, "table", config.DefaultMetricsTable, "Output table for the per-date metrics")
	metricsCmd.Flags().Float64Var(&metricsMaxDistance, "max-distance-miles", 20.0, "Maximum station distance contributing to a ZIP code")
	metricsCmd.Flags().StringVar(&metricsMinDate, "min-date", "", "First date to compute (YYYY-MM-DD, default resumes from existing data)")
	metricsCmd.Flags().StringVar(&metricsMaxDate, "max-date", time.Now().Format("2006-01-02"), "Last date to compute (YYYY-MM-DD)")
}
