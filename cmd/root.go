package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/brensch/weatherduck/internal/config"
	"github.com/brensch/weatherduck/internal/duckstore"

	"github.com/spf13/cobra"
)

var (
	// Persistent flags, bound in init().
	dbPath    string
	outputDir string
	logFormat string
	logLevel  string
	logOutput string

	// Populated in PersistentPreRunE.
	rootLogger *slog.Logger
	logFile    *os.File
	dbConn     *sql.DB
	appConfig  config.Config
)

// setupLogWriter resolves the --log-output flag. The returned file is
// non-nil only for a file destination and must be closed by the caller
// once logging is done.
func setupLogWriter(output string) (io.Writer, *os.File, error) {
	switch strings.ToLower(output) {
	case "", "stderr":
		return os.Stderr, nil, nil
	case "stdout":
		return os.Stdout, nil, nil
	default:
		f, err := os.OpenFile(output, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file %s: %w", output, err)
		}
		return f, f, nil
	}
}

var rootCmd = &cobra.Command{
	Use:   "weatherduck",
	Short: "Ingest NOAA weather archives into DuckDB and derive per-ZIP-code metrics.",
	Long: `WeatherDuck pulls the GHCN daily observations and NCEI storm events feeds
into a local DuckDB database, resuming incrementally from whatever is
already loaded. Supporting commands load station and ZIP code reference
data, compute station proximity and daily per-ZIP-code weather metrics,
and export tables as parquet locally or to S3.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var level slog.Level
		switch strings.ToLower(logLevel) {
		case "debug":
			level = slog.LevelDebug
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		default:
			level = slog.LevelInfo
		}

		logWriter, f, err := setupLogWriter(logOutput)
		if err != nil {
			return err
		}
		logFile = f

		opts := &slog.HandlerOptions{Level: level}
		var handler slog.Handler
		if logFormat == "json" {
			handler = slog.NewJSONHandler(logWriter, opts)
		} else {
			handler = slog.NewTextHandler(logWriter, opts)
		}
		rootLogger = slog.New(handler)
		slog.SetDefault(rootLogger)

		appConfig = config.Config{DbPath: dbPath, OutputDir: outputDir}
		if appConfig.DbPath == "" {
			return fmt.Errorf("--db-path flag is required")
		}
		if appConfig.DbPath != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(appConfig.DbPath), 0o755); err != nil {
				return fmt.Errorf("failed to create database directory: %w", err)
			}
		}

		dbConn, err = duckstore.Open(cmd.Context(), appConfig.DbPath, "")
		if err != nil {
			return err
		}
		rootLogger.Debug("DuckDB connection opened.", slog.String("path", appConfig.DbPath))
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if dbConn != nil {
			if err := dbConn.Close(); err != nil {
				rootLogger.Error("Failed to close DuckDB connection cleanly.", "error", err)
			}
		}
		if logFile != nil {
			if err := logFile.Close(); err != nil {
				fmt.Fprintf(os.Stderr, "Failed to close log file: %v\n", err)
			}
			logFile = nil
		}
		return nil
	},
}

// Execute wires up the command tree and runs it. Called by main.
func Execute() {
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(stationsCmd)
	rootCmd.AddCommand(zipcodesCmd)
	rootCmd.AddCommand(nearestCmd)
	rootCmd.AddCommand(metricsCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(inspectCmd)

	if err := rootCmd.Execute(); err != nil {
		if rootLogger != nil {
			rootLogger.Error("Command execution failed.", "error", err)
		} else {
			fmt.Fprintf(os.Stderr, "Command execution failed: %v\n", err)
		}
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&dbPath, "db-path", "d", "weather.duckdb", "Path to DuckDB database file (:memory: for in-memory)")
	rootCmd.PersistentFlags().StringVarP(&outputDir, "output-dir", "o", "./output_parquet", "Directory for exported parquet files")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "Log output format (text or json)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logOutput, "log-output", "stderr", "Log output destination (stderr, stdout, or file path)")

	rootCmd.Version = "0.1.0"
}

func getLogger() *slog.Logger {
	if rootLogger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return rootLogger
}

func getDB() *sql.DB {
	return dbConn
}

// applyMemoryLimit caps the shared connection for the current command.
// Ingest streams files through read_csv and stays small; the analysis
// joins get more headroom.
func applyMemoryLimit(ctx context.Context, limit string) error {
	return duckstore.SetMemoryLimit(ctx, getDB(), limit)
}
