package dataset

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brensch/weatherduck/internal/testdb"
)

func TestGHCNDailyPeriodFromName(t *testing.T) {
	d := &GHCNDaily{}

	tests := []struct {
		name string
		year int
		ok   bool
	}{
		{"2024.csv.gz", 2024, true},
		{"1763.csv.gz", 1763, true},
		{"readme.txt", 0, false},
		{"status.csv.gz", 0, false},
		{"2024.csv", 0, false},
		{"20244.csv.gz", 0, false},
	}
	for _, tt := range tests {
		year, ok := d.PeriodFromName(tt.name)
		assert.Equal(t, tt.ok, ok, tt.name)
		assert.Equal(t, tt.year, year, tt.name)
	}
}

func TestStormEventsPeriodFromName(t *testing.T) {
	d := &StormEvents{}

	year, ok := d.PeriodFromName("StormEvents_details-ftp_v1.0_d2025_c20250520.csv.gz")
	assert.True(t, ok)
	assert.Equal(t, 2025, year)

	_, ok = d.PeriodFromName("StormEvents_locations-ftp_v1.0.csv.gz")
	assert.False(t, ok)
}

func TestStormEventsLoadRunsStagingOnOneConnection(t *testing.T) {
	db, rec := testdb.Open()
	defer db.Close()
	// Force a fresh pool connection per statement unless the caller
	// pins one, so the temporary staging table would break apart.
	db.SetMaxIdleConns(0)

	d := NewStormEvents(db, "storm_events")
	rows, err := d.Load(context.Background(), "/tmp/StormEvents_details-ftp_v1.0_d2024_c20240101.csv.gz")
	require.NoError(t, err)
	assert.Equal(t, int64(1), rows)

	statements := rec.Statements()
	require.NotEmpty(t, statements)
	assert.Equal(t, 1, rec.ConnsUsed())
	assert.Contains(t, statements[0].Query, "DROP TABLE IF EXISTS staging_storm_events")
	assert.Contains(t, statements[1].Query, "CREATE TEMPORARY TABLE staging_storm_events")
	assert.Contains(t, statements[2].Query, "INSERT INTO")
	assert.Contains(t, statements[len(statements)-1].Query, "DROP TABLE IF EXISTS staging_storm_events")
}

func TestDamageExprCoversAllMagnitudes(t *testing.T) {
	expr := damageExpr("DAMAGE_PROPERTY")

	assert.Contains(t, expr, "LIKE '%K'")
	assert.Contains(t, expr, "* 1000\n")
	assert.Contains(t, expr, "LIKE '%M'")
	assert.Contains(t, expr, "* 1000000\n")
	assert.Contains(t, expr, "LIKE '%B'")
	assert.Contains(t, expr, "* 1000000000")
	// Blanks and junk collapse to zero rather than failing the insert.
	assert.Contains(t, expr, "THEN 0.0")
	assert.Contains(t, expr, "COALESCE(TRY_CAST(DAMAGE_PROPERTY AS DOUBLE), 0.0)")
}

func TestEventTimestampExprGuardsNulls(t *testing.T) {
	expr := eventTimestampExpr("BEGIN_YEARMONTH", "BEGIN_DAY", "BEGIN_TIME")

	assert.True(t, strings.HasPrefix(expr, "CASE"))
	assert.Contains(t, expr, "BEGIN_YEARMONTH IS NULL OR BEGIN_DAY IS NULL OR BEGIN_TIME IS NULL THEN NULL")
	assert.Contains(t, expr, "strptime")
	assert.Contains(t, expr, "'%Y%m-%d %H%M'")
}
