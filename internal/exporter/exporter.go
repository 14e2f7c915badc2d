// Package exporter writes tables out of DuckDB as parquet, either to a
// local directory or straight to S3 through DuckDB's httpfs extension.
package exporter

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/brensch/weatherduck/internal/duckstore"
)

// S3Config carries the credentials httpfs needs for an s3:// destination.
type S3Config struct {
	AccessKey string
	SecretKey string
	Endpoint  string
}

// Options describe one export.
type Options struct {
	Table string
	// Destination is a directory path or an s3://bucket/prefix URL.
	Destination string
	// Where optionally filters the exported rows (SQL, without the
	// WHERE keyword).
	Where string
	// PartitionBy is a comma-separated column list; when set, each
	// distinct combination is exported as its own COPY so the memory
	// limit holds for arbitrarily large tables.
	PartitionBy string
	S3          *S3Config
}

// Export copies the table to the destination as parquet.
func Export(ctx context.Context, db *sql.DB, logger *slog.Logger, opts Options) error {
	// S3 settings and the export view are both connection-scoped, so
	// the whole export runs on one pinned connection.
	conn, err := db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer conn.Close()

	exists, err := duckstore.TableExists(ctx, conn, opts.Table)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("table %s does not exist in the database", opts.Table)
	}

	if strings.HasPrefix(opts.Destination, "s3://") {
		if opts.S3 == nil {
			return fmt.Errorf("s3 destination %s requires credentials", opts.Destination)
		}
		if err := configureS3(ctx, conn, opts.S3); err != nil {
			return err
		}
	}

	logger = logger.With(slog.String("table", opts.Table), slog.String("destination", opts.Destination))
	start := time.Now()

	if opts.PartitionBy == "" {
		if err := copyView(ctx, conn, opts, opts.Where); err != nil {
			return err
		}
		logger.Info("Export complete.", slog.Duration("duration", time.Since(start).Round(time.Millisecond)))
		return nil
	}

	partitions, err := fetchPartitions(ctx, conn, opts)
	if err != nil {
		return err
	}
	logger.Info("Exporting partitioned.", slog.String("partition_by", opts.PartitionBy), slog.Int("partitions", len(partitions)))

	cols := splitColumns(opts.PartitionBy)
	for i, values := range partitions {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		where := combineWhere(opts.Where, partitionFilter(cols, values))
		if err := copyView(ctx, conn, opts, where); err != nil {
			return fmt.Errorf("partition %s: %w", partitionFilter(cols, values), err)
		}
		logger.Debug("Partition exported.", slog.Int("done", i+1), slog.Int("total", len(partitions)))
	}
	logger.Info("Export complete.", slog.Duration("duration", time.Since(start).Round(time.Millisecond)))
	return nil
}

func configureS3(ctx context.Context, q duckstore.Querier, s3 *S3Config) error {
	statements := []string{
		`INSTALL httpfs;`,
		`LOAD httpfs;`,
		fmt.Sprintf(`SET s3_access_key_id='%s';`, duckstore.QuoteLiteral(s3.AccessKey)),
		fmt.Sprintf(`SET s3_secret_access_key='%s';`, duckstore.QuoteLiteral(s3.SecretKey)),
		fmt.Sprintf(`SET s3_endpoint='%s';`, duckstore.QuoteLiteral(s3.Endpoint)),
		`SET s3_use_ssl=true;`,
	}
	for _, stmt := range statements {
		if _, err := q.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to configure s3 access: %w", err)
		}
	}
	return nil
}

// copyView stages the filtered rows behind a temporary view and COPYs the
// view out, so the COPY statement itself stays constant.
func copyView(ctx context.Context, q duckstore.Querier, opts Options, where string) error {
	view := fmt.Sprintf(`
		CREATE OR REPLACE TEMPORARY VIEW export_view AS
		SELECT * FROM %s %s;`, duckstore.QuoteIdent(opts.Table), whereClause(where))
	if _, err := q.ExecContext(ctx, view); err != nil {
		return fmt.Errorf("failed to create export view: %w", err)
	}
	defer q.ExecContext(context.WithoutCancel(ctx), `DROP VIEW IF EXISTS export_view;`)

	if _, err := q.ExecContext(ctx, copyCommand(opts)); err != nil {
		return fmt.Errorf("failed to copy %s to %s: %w", opts.Table, opts.Destination, err)
	}
	return nil
}

func copyCommand(opts Options) string {
	copyOpts := []string{"FORMAT PARQUET", "OVERWRITE_OR_IGNORE", "ROW_GROUP_SIZE 200000"}
	if opts.PartitionBy != "" {
		copyOpts = append(copyOpts, fmt.Sprintf("PARTITION_BY (%s)", opts.PartitionBy))
	}
	return fmt.Sprintf(`COPY export_view TO '%s' (%s);`,
		duckstore.QuoteLiteral(opts.Destination), strings.Join(copyOpts, ", "))
}

func fetchPartitions(ctx context.Context, q duckstore.Querier, opts Options) ([][]any, error) {
	query := fmt.Sprintf(`
		SELECT DISTINCT %s
		FROM %s %s
		ORDER BY %s;`,
		opts.PartitionBy, duckstore.QuoteIdent(opts.Table), whereClause(opts.Where), opts.PartitionBy)
	rows, err := q.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query partitions: %w", err)
	}
	defer rows.Close()

	width := len(splitColumns(opts.PartitionBy))
	var partitions [][]any
	for rows.Next() {
		values := make([]any, width)
		scan := make([]any, width)
		for i := range values {
			scan[i] = &values[i]
		}
		if err := rows.Scan(scan...); err != nil {
			return nil, fmt.Errorf("failed to scan partition values: %w", err)
		}
		partitions = append(partitions, values)
	}
	return partitions, rows.Err()
}

func splitColumns(list string) []string {
	parts := strings.Split(list, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func partitionFilter(cols []string, values []any) string {
	terms := make([]string, len(cols))
	for i, col := range cols {
		terms[i] = fmt.Sprintf("%s = %s", col, sqlValue(values[i]))
	}
	return strings.Join(terms, " AND ")
}

func sqlValue(v any) string {
	switch val := v.(type) {
	case string:
		return "'" + duckstore.QuoteLiteral(val) + "'"
	case []byte:
		return "'" + duckstore.QuoteLiteral(string(val)) + "'"
	default:
		return fmt.Sprint(val)
	}
}

func combineWhere(base, extra string) string {
	if base == "" {
		return extra
	}
	return base + " AND " + extra
}

func whereClause(where string) string {
	if where == "" {
		return ""
	}
	return "WHERE " + where
}
