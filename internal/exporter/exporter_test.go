package exporter

import (
	"context"
	"database/sql/driver"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brensch/weatherduck/internal/testdb"
)

func TestExportRunsS3SettingsAndCopiesOnOneConnection(t *testing.T) {
	db, rec := testdb.Open()
	defer db.Close()
	// Force a fresh pool connection per statement unless the caller
	// pins one, so the SET s3_* settings and the temporary view would
	// land on connections the COPY never sees.
	db.SetMaxIdleConns(0)

	rec.On("information_schema.tables", []string{"1"}, []driver.Value{int64(1)})
	rec.On("SELECT DISTINCT year", []string{"year"},
		[]driver.Value{int64(2023)}, []driver.Value{int64(2024)})

	opts := Options{
		Table:       "zipcode_daily_metrics",
		Destination: "s3://bucket/weather/zipcode_daily_metrics",
		PartitionBy: "year",
		S3:          &S3Config{AccessKey: "key", SecretKey: "secret", Endpoint: "s3.amazonaws.com"},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	require.NoError(t, Export(context.Background(), db, logger, opts))

	statements := rec.Statements()
	require.NotEmpty(t, statements)
	assert.Equal(t, 1, rec.ConnsUsed())

	var sets, copies int
	for _, s := range statements {
		if strings.HasPrefix(s.Query, "SET s3_") {
			sets++
		}
		if strings.HasPrefix(s.Query, "COPY export_view") {
			copies++
		}
	}
	assert.Equal(t, 4, sets)
	assert.Equal(t, 2, copies)
}

func TestCopyCommandLocal(t *testing.T) {
	opts := Options{Table: "zipcode_daily_metrics", Destination: "out/metrics"}

	got := copyCommand(opts)

	assert.Equal(t, `COPY export_view TO 'out/metrics' (FORMAT PARQUET, OVERWRITE_OR_IGNORE, ROW_GROUP_SIZE 200000);`, got)
}

func TestCopyCommandPartitioned(t *testing.T) {
	opts := Options{
		Table:       "zipcode_daily_metrics",
		Destination: "s3://bucket/weather/zipcode_daily_metrics",
		PartitionBy: "year, month",
	}

	got := copyCommand(opts)

	assert.Contains(t, got, "PARTITION_BY (year, month)")
	assert.Contains(t, got, `TO 's3://bucket/weather/zipcode_daily_metrics'`)
}

func TestPartitionFilter(t *testing.T) {
	got := partitionFilter([]string{"year", "month"}, []any{int64(2024), int64(3)})
	assert.Equal(t, "year = 2024 AND month = 3", got)

	got = partitionFilter([]string{"state"}, []any{"CA"})
	assert.Equal(t, "state = 'CA'", got)
}

func TestCombineWhere(t *testing.T) {
	assert.Equal(t, "year = 2024", combineWhere("", "year = 2024"))
	assert.Equal(t, "zipcode = '90210' AND year = 2024", combineWhere("zipcode = '90210'", "year = 2024"))
}

func TestSplitColumns(t *testing.T) {
	assert.Equal(t, []string{"year", "month"}, splitColumns("year, month"))
	assert.Equal(t, []string{"year"}, splitColumns("year"))
}
