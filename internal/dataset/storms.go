package dataset

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strconv"

	"github.com/brensch/weatherduck/internal/duckstore"
)

// stormFileYear matches the year segment of NCEI storm events file names,
// e.g. StormEvents_details-ftp_v1.0_d2025_c20250520.csv.gz.
var stormFileYear = regexp.MustCompile(`_d(\d{4})_`)

// StormEvents is the NCEI storm events details feed. One remote file per
// year; raw CSV columns need timestamp assembly and damage-figure expansion
// before they land in the sink schema.
type StormEvents struct {
	db    *sql.DB
	table string
}

func NewStormEvents(db *sql.DB, table string) *StormEvents {
	return &StormEvents{db: db, table: table}
}

func (d *StormEvents) Name() string        { return "storm-events" }
func (d *StormEvents) Table() string       { return d.table }
func (d *StormEvents) FilePattern() string { return "StormEvents_details*.csv.gz" }

func (d *StormEvents) PeriodFromName(name string) (int, bool) {
	m := stormFileYear.FindStringSubmatch(name)
	if m == nil {
		return 0, false
	}
	year, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return year, true
}

func (d *StormEvents) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			BEGIN_YEARMONTH BIGINT,
			BEGIN_DAY BIGINT,
			BEGIN_TIME BIGINT,
			END_YEARMONTH BIGINT,
			END_DAY BIGINT,
			END_TIME BIGINT,
			EPISODE_ID VARCHAR,
			EVENT_ID BIGINT,
			STATE VARCHAR,
			STATE_FIPS BIGINT,
			YEAR BIGINT,
			MONTH_NAME VARCHAR,
			EVENT_TYPE VARCHAR,
			CZ_TYPE VARCHAR,
			CZ_FIPS BIGINT,
			CZ_NAME VARCHAR,
			WFO VARCHAR,
			BEGIN_DATE_TIME TIMESTAMP,
			CZ_TIMEZONE VARCHAR,
			END_DATE_TIME TIMESTAMP,
			INJURIES_DIRECT BIGINT,
			INJURIES_INDIRECT BIGINT,
			DEATHS_DIRECT BIGINT,
			DEATHS_INDIRECT BIGINT,
			DAMAGE_PROPERTY DOUBLE,
			DAMAGE_CROPS DOUBLE,
			SOURCE VARCHAR,
			MAGNITUDE BIGINT,
			MAGNITUDE_TYPE VARCHAR,
			FLOOD_CAUSE VARCHAR,
			CATEGORY VARCHAR,
			TOR_F_SCALE VARCHAR,
			TOR_LENGTH DOUBLE,
			TOR_WIDTH BIGINT,
			TOR_OTHER_WFO VARCHAR,
			TOR_OTHER_CZ_STATE VARCHAR,
			TOR_OTHER_CZ_FIPS VARCHAR,
			TOR_OTHER_CZ_NAME VARCHAR,
			BEGIN_RANGE BIGINT,
			BEGIN_AZIMUTH VARCHAR,
			BEGIN_LOCATION VARCHAR,
			END_RANGE BIGINT,
			END_AZIMUTH VARCHAR,
			END_LOCATION VARCHAR,
			BEGIN_LAT DOUBLE,
			BEGIN_LON DOUBLE,
			END_LAT DOUBLE,
			END_LON DOUBLE,
			EPISODE_NARRATIVE VARCHAR,
			EVENT_NARRATIVE VARCHAR,
			DATA_SOURCE VARCHAR
		);`, duckstore.QuoteIdent(d.table))
	if _, err := d.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create table %s: %w", d.table, err)
	}
	return nil
}

func (d *StormEvents) Watermark(ctx context.Context) (int, bool, error) {
	// BEGIN_YEARMONTH is YYYYMM; the watermark period is its year part.
	value, ok, err := duckstore.MaxInt64(ctx, d.db, d.table, "BEGIN_YEARMONTH")
	if err != nil || !ok {
		return 0, ok, err
	}
	return int(value / 100), true, nil
}

func (d *StormEvents) TruncatePeriod(ctx context.Context, year int) (int64, error) {
	query := fmt.Sprintf(`DELETE FROM %s WHERE YEAR = ?;`, duckstore.QuoteIdent(d.table))
	res, err := d.db.ExecContext(ctx, query, year)
	if err != nil {
		return 0, fmt.Errorf("failed to delete year %d from %s: %w", year, d.table, err)
	}
	return res.RowsAffected()
}

// Load stages the raw CSV into a temporary table with inferred types, then
// inserts into the sink with the timestamp and damage transforms applied.
// The temporary table is dropped on every path so a failed file leaves no
// residue behind.
func (d *StormEvents) Load(ctx context.Context, path string) (int64, error) {
	const staging = "staging_storm_events"

	// Temporary tables are scoped to a single DuckDB connection, so the
	// whole staging sequence runs on one pinned connection rather than
	// whatever the pool hands out per statement.
	conn, err := d.db.Conn(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer conn.Close()

	dropStaging := fmt.Sprintf(`DROP TABLE IF EXISTS %s;`, staging)
	if _, err := conn.ExecContext(ctx, dropStaging); err != nil {
		return 0, fmt.Errorf("failed to drop staging table: %w", err)
	}
	defer conn.ExecContext(context.WithoutCancel(ctx), dropStaging)

	create := fmt.Sprintf(`
		CREATE TEMPORARY TABLE %s AS
		SELECT * FROM read_csv_auto('%s', header=True, ignore_errors=True);`,
		staging, duckstore.PathLiteral(path))
	if _, err := conn.ExecContext(ctx, create); err != nil {
		return 0, fmt.Errorf("failed to stage %s: %w", path, err)
	}

	insert := fmt.Sprintf(`
		INSERT INTO %s
		SELECT
			BEGIN_YEARMONTH,
			BEGIN_DAY,
			BEGIN_TIME,
			END_YEARMONTH,
			END_DAY,
			END_TIME,
			EPISODE_ID,
			EVENT_ID,
			STATE,
			STATE_FIPS,
			YEAR,
			MONTH_NAME,
			EVENT_TYPE,
			CZ_TYPE,
			CZ_FIPS,
			CZ_NAME,
			WFO,
			%s AS BEGIN_DATE_TIME,
			CZ_TIMEZONE,
			%s AS END_DATE_TIME,
			INJURIES_DIRECT,
			INJURIES_INDIRECT,
			DEATHS_DIRECT,
			DEATHS_INDIRECT,
			%s AS DAMAGE_PROPERTY,
			%s AS DAMAGE_CROPS,
			SOURCE,
			MAGNITUDE,
			MAGNITUDE_TYPE,
			FLOOD_CAUSE,
			CATEGORY,
			TOR_F_SCALE,
			TOR_LENGTH,
			TOR_WIDTH,
			TOR_OTHER_WFO,
			TOR_OTHER_CZ_STATE,
			TOR_OTHER_CZ_FIPS,
			TOR_OTHER_CZ_NAME,
			BEGIN_RANGE,
			BEGIN_AZIMUTH,
			BEGIN_LOCATION,
			END_RANGE,
			END_AZIMUTH,
			END_LOCATION,
			BEGIN_LAT,
			BEGIN_LON,
			END_LAT,
			END_LON,
			EPISODE_NARRATIVE,
			EVENT_NARRATIVE,
			DATA_SOURCE
		FROM %s;`,
		duckstore.QuoteIdent(d.table),
		eventTimestampExpr("BEGIN_YEARMONTH", "BEGIN_DAY", "BEGIN_TIME"),
		eventTimestampExpr("END_YEARMONTH", "END_DAY", "END_TIME"),
		damageExpr("DAMAGE_PROPERTY"),
		damageExpr("DAMAGE_CROPS"),
		staging)
	res, err := conn.ExecContext(ctx, insert)
	if err != nil {
		return 0, fmt.Errorf("failed to insert from %s: %w", path, err)
	}
	return res.RowsAffected()
}

// eventTimestampExpr assembles a TIMESTAMP from the split YYYYMM, day and
// HHMM columns the raw feed carries.
func eventTimestampExpr(ym, day, tm string) string {
	return fmt.Sprintf(`CASE
		WHEN %[1]s IS NULL OR %[2]s IS NULL OR %[3]s IS NULL THEN NULL
		ELSE TRY_CAST(
			strptime(
				CAST(%[1]s AS VARCHAR) || '-' ||
				LPAD(CAST(%[2]s AS VARCHAR), 2, '0') || ' ' ||
				LPAD(CAST(%[3]s AS VARCHAR), 4, '0'),
				'%%Y%%m-%%d %%H%%M'
			) AS TIMESTAMP
		)
	END`, ym, day, tm)
}

// damageExpr expands the feed's abbreviated damage figures ("5K", "1.2M",
// "3B") into plain dollar amounts, defaulting to 0 for blanks and junk.
func damageExpr(col string) string {
	unit := func(suffix string, factor string) string {
		return fmt.Sprintf(`WHEN UPPER(CAST(%[1]s AS VARCHAR)) LIKE '%%%[2]s' THEN
			CASE
				WHEN REPLACE(UPPER(CAST(%[1]s AS VARCHAR)), '%[2]s', '') = '' THEN 0.0
				ELSE CAST(REPLACE(UPPER(CAST(%[1]s AS VARCHAR)), '%[2]s', '') AS DOUBLE) * %[3]s
			END`, col, suffix, factor)
	}
	return fmt.Sprintf(`CASE
		WHEN %[1]s IS NULL OR CAST(%[1]s AS VARCHAR) = '' THEN 0.0
		%[2]s
		%[3]s
		%[4]s
		ELSE COALESCE(TRY_CAST(%[1]s AS DOUBLE), 0.0)
	END`, col,
		unit("K", "1000"),
		unit("M", "1000000"),
		unit("B", "1000000000"))
}
