package analysis

import (
	"context"
	"database/sql/driver"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brensch/weatherduck/internal/testdb"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestBatchDistanceQuery(t *testing.T) {
	opts := NearestOptions{
		StationsTable: "ghcnd_stations",
		ZipcodesTable: "zipcodes",
		OutputTable:   "zipcode_stations",
		NumStations:   20,
		BatchSize:     100,
	}

	query := batchDistanceQuery(opts, []string{"90210", "10001"})

	assert.Contains(t, query, `GEOID IN ('90210','10001')`)
	assert.Contains(t, query, "CROSS JOIN station_data")
	// Coarse bounding box before the exact distance.
	assert.Contains(t, query, "abs(z.zipcode_latitude - s.station_latitude) <= 5")
	assert.Contains(t, query, "2 * 3956 * asin(")
	assert.Contains(t, query, "WHERE distance_miles <= 200")
	assert.Contains(t, query, "WHERE rank <= 20")
}

func TestBatchDistanceQueryEscapesZipcodes(t *testing.T) {
	opts := NearestOptions{ZipcodesTable: "zipcodes", StationsTable: "stations", NumStations: 1}

	query := batchDistanceQuery(opts, []string{"90'210"})

	assert.Contains(t, query, `'90''210'`)
}

func TestComputeNearestStationsRunsScratchTableOnOneConnection(t *testing.T) {
	db, rec := testdb.Open()
	defer db.Close()
	// Force a fresh pool connection per statement unless the caller
	// pins one, so the temporary scratch table would break apart.
	db.SetMaxIdleConns(0)

	rec.On("information_schema.tables", []string{"1"}, []driver.Value{int64(1)})
	rec.On("SELECT GEOID", []string{"GEOID"},
		[]driver.Value{"10001"}, []driver.Value{"90210"})
	rec.On("COUNT(*)", []string{"count"}, []driver.Value{int64(7)})

	opts := NearestOptions{
		StationsTable: "ghcnd_stations",
		ZipcodesTable: "zipcodes",
		OutputTable:   "zipcode_stations",
		NumStations:   5,
		BatchSize:     1,
	}
	count, err := ComputeNearestStations(context.Background(), db, testLogger(), opts)
	require.NoError(t, err)
	assert.Equal(t, int64(7), count)

	statements := rec.Statements()
	require.NotEmpty(t, statements)
	assert.Equal(t, 1, rec.ConnsUsed())

	var batches int
	for _, s := range statements {
		if strings.Contains(s.Query, "INSERT INTO temp_distances") {
			batches++
		}
	}
	assert.Equal(t, 2, batches)
	assert.Contains(t, statements[len(statements)-1].Query, "DROP TABLE IF EXISTS temp_distances")
}

func TestComputeDailyMetricsRunsViewOnOneConnection(t *testing.T) {
	db, rec := testdb.Open()
	defer db.Close()
	db.SetMaxIdleConns(0)

	rec.On("information_schema.tables", []string{"1"}, []driver.Value{int64(1)})
	rec.On("SELECT DISTINCT CAST(date", []string{"date"},
		[]driver.Value{"2024-03-15"}, []driver.Value{"2024-03-16"})

	opts := MetricsOptions{
		DailyTable:       "ghcn_daily_raw",
		StationsTable:    "zipcode_stations",
		OutputTable:      "zipcode_daily_metrics",
		MaxDistanceMiles: 20,
		MinDate:          time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC),
		MaxDate:          time.Date(2024, 3, 16, 0, 0, 0, 0, time.UTC),
	}
	inserted, err := ComputeDailyMetrics(context.Background(), db, testLogger(), opts)
	require.NoError(t, err)
	assert.Equal(t, int64(2), inserted)

	statements := rec.Statements()
	require.NotEmpty(t, statements)
	assert.Equal(t, 1, rec.ConnsUsed())

	var sawView bool
	for _, s := range statements {
		if strings.Contains(s.Query, "CREATE OR REPLACE TEMPORARY VIEW filtered_stations") {
			sawView = true
		}
	}
	assert.True(t, sawView)
	assert.Contains(t, statements[len(statements)-1].Query, "DROP VIEW IF EXISTS filtered_stations")
}

func TestDailyMetricQuery(t *testing.T) {
	opts := MetricsOptions{
		DailyTable:    "ghcn_daily_raw",
		StationsTable: "zipcode_stations",
		OutputTable:   "zipcode_daily_metrics",
	}

	query := dailyMetricQuery(opts, "2024-03-15")

	assert.Contains(t, query, `INSERT INTO "zipcode_daily_metrics"`)
	assert.Contains(t, query, `g.date = '2024-03-15'`)
	assert.Contains(t, query, "g.q_flag IS NULL")
	for _, element := range metricElements {
		assert.Contains(t, query, "element = '"+element+"'")
		low := strings.ToLower(element)
		assert.Contains(t, query, "AS "+low+"_count")
		assert.Contains(t, query, "AS "+low+"_stddev")
	}
	// Covered ZIP codes keep a row even with no observations that day.
	assert.Contains(t, query, "LEFT JOIN pivoted")
}
