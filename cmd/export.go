package cmd

import (
	"log/slog"
	"path"
	"path/filepath"
	"strings"

	"github.com/brensch/weatherduck/internal/config"
	"github.com/brensch/weatherduck/internal/exporter"

	"github.com/spf13/cobra"
)

var (
	exportTable       string
	exportWhere       string
	exportPartitionBy string
	exportBucket      string
	exportPrefix      string
	exportAccessKey   string
	exportSecretKey   string
	exportEndpoint    string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export a table as partitioned parquet, locally or to S3",
	Long: `Copies a table out of DuckDB in parquet format. Without S3 flags the
files land under the output directory; with --bucket set they are written
to s3://bucket/prefix/table through DuckDB's httpfs extension.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		logger := getLogger()

		if err := applyMemoryLimit(ctx, config.AnalysisMemoryLimit); err != nil {
			return err
		}

		opts := exporter.Options{
			Table:       exportTable,
			Where:       exportWhere,
			PartitionBy: exportPartitionBy,
		}
		if exportBucket != "" {
			opts.Destination = "s3://" + path.Join(exportBucket, exportPrefix, exportTable)
			opts.S3 = &exporter.S3Config{
				AccessKey: exportAccessKey,
				SecretKey: exportSecretKey,
				Endpoint:  exportEndpoint,
			}
		} else {
			opts.Destination = strings.ReplaceAll(filepath.Join(appConfig.OutputDir, exportTable), `\`, `/`)
		}

		if err := exporter.Export(ctx, getDB(), logger, opts); err != nil {
			return err
		}
		logger.Info("Export finished.", slog.String("table", exportTable), slog.String("destination", opts.Destination))
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportTable, "table", config.DefaultMetricsTable, "Table to export")
	exportCmd.Flags().StringVar(&exportWhere, "where", "", "SQL filter applied to the exported rows (without WHERE)")
	exportCmd.Flags().StringVar(&exportPartitionBy, "partition-by", "year, month", "Comma-separated partition columns (empty for a single file)")
	exportCmd.Flags().StringVar(&exportBucket, "bucket", "", "S3 bucket name (empty exports to the output directory)")
	exportCmd.Flags().StringVar(&exportPrefix, "prefix", "", "Path prefix inside the bucket")
	exportCmd.Flags().StringVar(&exportAccessKey, "access-key", "", "S3 access key")
	exportCmd.Flags().StringVar(&exportSecretKey, "secret-key", "", "S3 secret key")
	exportCmd.Flags().StringVar(&exportEndpoint, "endpoint-url", "", "S3 endpoint URL")
}
