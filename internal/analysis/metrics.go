package analysis

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/brensch/weatherduck/internal/duckstore"
)

// MetricsOptions configure the daily aggregation.
type MetricsOptions struct {
	DailyTable    string
	StationsTable string
	OutputTable   string
	// MaxDistanceMiles bounds which stations contribute to a ZIP code.
	MaxDistanceMiles float64
	MinDate          time.Time
	MaxDate          time.Time
}

const dateLayout = "2006-01-02"

// ResolveMinDate picks the aggregation start date when the caller gave
// none: resume from the output table's latest date, or fall back to a
// fixed default for a fresh database.
func ResolveMinDate(ctx context.Context, db *sql.DB, outputTable string, logger *slog.Logger) (time.Time, error) {
	exists, err := duckstore.TableExists(ctx, db, outputTable)
	if err != nil {
		return time.Time{}, err
	}
	if !exists {
		start := time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
		logger.Info("Metrics table does not exist, starting from default date.", slog.String("min_date", start.Format(dateLayout)))
		return start, nil
	}

	var latest sql.NullTime
	query := fmt.Sprintf(`SELECT MAX(date) FROM %s;`, duckstore.QuoteIdent(outputTable))
	if err := db.QueryRowContext(ctx, query).Scan(&latest); err != nil {
		return time.Time{}, fmt.Errorf("failed to query max date from %s: %w", outputTable, err)
	}
	if !latest.Valid {
		start := time.Date(1900, 1, 1, 0, 0, 0, 0, time.UTC)
		logger.Info("Metrics table is empty, starting from default date.", slog.String("min_date", start.Format(dateLayout)))
		return start, nil
	}
	// The latest date is recomputed, resuming the same way the ingest
	// pipeline re-ingests its boundary period.
	logger.Info("Resuming metrics from last processed date.", slog.String("min_date", latest.Time.Format(dateLayout)))
	return latest.Time, nil
}

// ComputeDailyMetrics aggregates station observations into per-ZIP-code
// daily averages over [MinDate, MaxDate]. Rows already in that range are
// deleted first, then each date is computed and inserted one at a time so
// an interrupt loses at most the current date.
func ComputeDailyMetrics(ctx context.Context, db *sql.DB, logger *slog.Logger, opts MetricsOptions) (int64, error) {
	// The filtered station view is temporary, so it and every insert
	// that reads it share one pinned connection.
	conn, err := db.Conn(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer conn.Close()

	for _, table := range []string{opts.DailyTable, opts.StationsTable} {
		exists, err := duckstore.TableExists(ctx, conn, table)
		if err != nil {
			return 0, err
		}
		if !exists {
			return 0, fmt.Errorf("table %s does not exist, run the matching load command first", table)
		}
	}

	minDate := opts.MinDate.Format(dateLayout)
	maxDate := opts.MaxDate.Format(dateLayout)
	output := duckstore.QuoteIdent(opts.OutputTable)

	exists, err := duckstore.TableExists(ctx, conn, opts.OutputTable)
	if err != nil {
		return 0, err
	}
	if exists {
		del := fmt.Sprintf(`DELETE FROM %s WHERE date BETWEEN '%s' AND '%s';`, output, minDate, maxDate)
		res, err := conn.ExecContext(ctx, del)
		if err != nil {
			return 0, fmt.Errorf("failed to clear date range in %s: %w", opts.OutputTable, err)
		}
		if deleted, err := res.RowsAffected(); err == nil && deleted > 0 {
			logger.Info("Cleared existing rows in range.", slog.Int64("rows_deleted", deleted))
		}
	} else {
		if _, err := conn.ExecContext(ctx, fmt.Sprintf(metricsSchema, output)); err != nil {
			return 0, fmt.Errorf("failed to create table %s: %w", opts.OutputTable, err)
		}
	}

	filteredView := fmt.Sprintf(`
		CREATE OR REPLACE TEMPORARY VIEW filtered_stations AS
		SELECT *
		FROM %s
		WHERE distance_miles <= %g;`, duckstore.QuoteIdent(opts.StationsTable), opts.MaxDistanceMiles)
	if _, err := conn.ExecContext(ctx, filteredView); err != nil {
		return 0, fmt.Errorf("failed to create filtered station view: %w", err)
	}
	defer conn.ExecContext(context.WithoutCancel(ctx), `DROP VIEW IF EXISTS filtered_stations;`)

	dates, err := fetchDates(ctx, conn, opts.DailyTable, minDate, maxDate)
	if err != nil {
		return 0, err
	}
	logger.Info("Computing daily metrics.", slog.String("min_date", minDate), slog.String("max_date", maxDate), slog.Int("dates", len(dates)))

	start := time.Now()
	var inserted int64
	for i, date := range dates {
		if ctx.Err() != nil {
			logger.Warn("Metrics computation interrupted.", slog.Int("dates_done", i))
			return inserted, ctx.Err()
		}
		res, err := conn.ExecContext(ctx, dailyMetricQuery(opts, date))
		if err != nil {
			return inserted, fmt.Errorf("failed computing metrics for %s: %w", date, err)
		}
		if n, err := res.RowsAffected(); err == nil {
			inserted += n
		}
		logger.Debug("Date complete.", slog.String("date", date), slog.Int("done", i+1), slog.Int("total", len(dates)))
	}

	logger.Info("Daily metrics computed.", slog.Int64("rows", inserted), slog.Duration("duration", time.Since(start).Round(time.Millisecond)))
	return inserted, nil
}

const metricsSchema = `
	CREATE TABLE %s (
		zipcode VARCHAR,
		date DATE,
		year INTEGER,
		month INTEGER,
		day INTEGER,
		prcp DOUBLE,
		prcp_count INTEGER,
		prcp_stddev DOUBLE,
		snow DOUBLE,
		snow_count INTEGER,
		snow_stddev DOUBLE,
		snwd DOUBLE,
		snwd_count INTEGER,
		snwd_stddev DOUBLE,
		tmax DOUBLE,
		tmax_count INTEGER,
		tmax_stddev DOUBLE,
		tmin DOUBLE,
		tmin_count INTEGER,
		tmin_stddev DOUBLE
	);`

func fetchDates(ctx context.Context, q duckstore.Querier, dailyTable, minDate, maxDate string) ([]string, error) {
	query := fmt.Sprintf(`
		SELECT DISTINCT CAST(date AS VARCHAR)
		FROM %s
		WHERE date BETWEEN '%s' AND '%s'
		ORDER BY 1;`, duckstore.QuoteIdent(dailyTable), minDate, maxDate)
	rows, err := q.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query distinct dates: %w", err)
	}
	defer rows.Close()

	var dates []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("failed to scan date: %w", err)
		}
		dates = append(dates, d)
	}
	return dates, rows.Err()
}

// metricElements are the GHCN observation types that get aggregated.
var metricElements = []string{"PRCP", "SNOW", "SNWD", "TMAX", "TMIN"}

// dailyMetricQuery builds the single-date aggregation: join observations
// to nearby stations, average per ZIP code and element, pivot the elements
// into columns, then left-join so every covered ZIP code gets a row even
// when no station reported that day.
func dailyMetricQuery(opts MetricsOptions, date string) string {
	pivot := ""
	for _, e := range metricElements {
		low := strings.ToLower(e)
		pivot += fmt.Sprintf(`
				MAX(CASE WHEN element = '%[1]s' THEN avg_value ELSE NULL END) AS %[2]s,
				MAX(CASE WHEN element = '%[1]s' THEN data_count ELSE NULL END) AS %[2]s_count,
				MAX(CASE WHEN element = '%[1]s' THEN stddev_value ELSE NULL END) AS %[2]s_stddev,`, e, low)
	}
	pivot = pivot[:len(pivot)-1]

	return fmt.Sprintf(`
		INSERT INTO %s
		WITH zipcode_dates AS (
			SELECT z.zipcode, DATE '%[2]s' AS date
			FROM (SELECT DISTINCT zipcode FROM filtered_stations) z
		),
		station_data AS (
			SELECT
				s.zipcode,
				g.date,
				g.element,
				g.data_value
			FROM %[3]s g
			JOIN filtered_stations s ON g.id = s.station_id
			WHERE g.date = '%[2]s'
			AND g.element IN ('PRCP', 'SNOW', 'SNWD', 'TMAX', 'TMIN')
			AND g.q_flag IS NULL
		),
		metrics_by_element AS (
			SELECT
				zipcode,
				date,
				element,
				AVG(data_value) AS avg_value,
				COUNT(*) AS data_count,
				STDDEV(data_value) AS stddev_value
			FROM station_data
			GROUP BY zipcode, date, element
		),
		pivoted AS (
			SELECT
				zipcode,
				date,%[4]s
			FROM metrics_by_element
			GROUP BY zipcode, date
		)
		SELECT
			zd.zipcode,
			zd.date,
			year(zd.date) AS year,
			month(zd.date) AS month,
			day(zd.date) AS day,
			p.prcp,
			p.prcp_count,
			p.prcp_stddev,
			p.snow,
			p.snow_count,
			p.snow_stddev,
			p.snwd,
			p.snwd_count,
			p.snwd_stddev,
			p.tmax,
			p.tmax_count,
			p.tmax_stddev,
			p.tmin,
			p.tmin_count,
			p.tmin_stddev
		FROM zipcode_dates zd
		LEFT JOIN pivoted p ON zd.zipcode = p.zipcode AND zd.date = p.date;`,
		duckstore.QuoteIdent(opts.OutputTable),
		date,
		duckstore.QuoteIdent(opts.DailyTable),
		pivot)
}
