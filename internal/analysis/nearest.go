// Package analysis holds the sequential post-ingest computations: the
// ZIP-code-to-station proximity table and the per-day aggregated weather
// metrics. Both read and write the same DuckDB database the ingest
// commands populate.
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

// NearestOptions configure the proximity computation.
type NearestOptions struct {
	StationsTable string
	ZipcodesTable string
	OutputTable   string
	// NumStations is how many closest stations to keep per ZIP code.
	NumStations int
	// BatchSize is how many ZIP codes each cross-join pass covers. The
	// memory limit is what makes the batching necessary.
	BatchSize int
}

// haversineExpr approximates the great-circle distance in miles between a
// ZIP code centroid and a station.
const haversineExpr = `2 * 3956 * asin(
	sqrt(
		pow(sin(radians(s.station_latitude - z.zipcode_latitude) / 2), 2) +
		cos(radians(z.zipcode_latitude)) * cos(radians(s.station_latitude)) *
		pow(sin(radians(s.station_longitude - z.zipcode_longitude) / 2), 2)
	)
)`

// ComputeNearestStations rebuilds the ZIP-code-to-station proximity table:
// for every ZIP code, the N closest stations within 200 miles, ranked by
// distance. The output table is dropped and rebuilt whole.
func ComputeNearestStations(ctx context.Context, db *sql.DB, logger *slog.Logger, opts NearestOptions) (int64, error) {
	// The distance scratch table is temporary and lives on a single
	// DuckDB connection, so every statement here runs on one pinned
	// connection.
	conn, err := db.Conn(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer conn.Close()

	for _, table := range []string{opts.StationsTable, opts.ZipcodesTable} {
		exists, err := duckstore.TableExists(ctx, conn, table)
		if err != nil {
			return 0, err
		}
		if !exists {
			return 0, fmt.Errorf("table %s does not exist, run the matching load command first", table)
		}
	}

	output := duckstore.QuoteIdent(opts.OutputTable)
	if _, err := conn.ExecContext(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %s;`, output)); err != nil {
		return 0, fmt.Errorf("failed to drop table %s: %w", opts.OutputTable, err)
	}
	create := fmt.Sprintf(`
		CREATE TABLE %s (
			zipcode VARCHAR,
			station_id VARCHAR,
			station_name VARCHAR,
			station_latitude DOUBLE,
			station_longitude DOUBLE,
			zipcode_latitude DOUBLE,
			zipcode_longitude DOUBLE,
			distance_miles DOUBLE,
			rank INT
		);`, output)
	if _, err := conn.ExecContext(ctx, create); err != nil {
		return 0, fmt.Errorf("failed to create table %s: %w", opts.OutputTable, err)
	}

	zipcodes, err := fetchZipcodes(ctx, conn, opts.ZipcodesTable)
	if err != nil {
		return 0, err
	}
	logger.Info("Computing closest stations.", slog.Int("zipcodes", len(zipcodes)), slog.Int("num_stations", opts.NumStations), slog.Int("batch_size", opts.BatchSize))

	if _, err := conn.ExecContext(ctx, `
		CREATE TEMPORARY TABLE temp_distances (
			zipcode VARCHAR,
			station_id VARCHAR,
			station_name VARCHAR,
			station_latitude DOUBLE,
			station_longitude DOUBLE,
			zipcode_latitude DOUBLE,
			zipcode_longitude DOUBLE,
			distance_miles DOUBLE,
			rank INT
		);`); err != nil {
		return 0, fmt.Errorf("failed to create distance scratch table: %w", err)
	}
	defer conn.ExecContext(context.WithoutCancel(ctx), `DROP TABLE IF EXISTS temp_distances;`)

	start := time.Now()
	for offset := 0; offset < len(zipcodes); offset += opts.BatchSize {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		end := min(offset+opts.BatchSize, len(zipcodes))
		batch := zipcodes[offset:end]

		if _, err := conn.ExecContext(ctx, batchDistanceQuery(opts, batch)); err != nil {
			return 0, fmt.Errorf("failed batch at zipcode %d: %w", offset, err)
		}
		logger.Debug("Batch complete.", slog.Int("processed", end), slog.Int("total", len(zipcodes)))
	}

	if _, err := conn.ExecContext(ctx, fmt.Sprintf(`INSERT INTO %s SELECT * FROM temp_distances;`, output)); err != nil {
		return 0, fmt.Errorf("failed to copy distances into %s: %w", opts.OutputTable, err)
	}

	count, err := duckstore.CountRows(ctx, conn, opts.OutputTable)
	if err != nil {
		return 0, err
	}
	logger.Info("Proximity table built.", slog.Int64("rows", count), slog.Duration("duration", time.Since(start).Round(time.Millisecond)))
	return count, nil
}

func fetchZipcodes(ctx context.Context, q duckstore.Querier, table string) ([]string, error) {
	query := fmt.Sprintf(`SELECT GEOID FROM %s ORDER BY GEOID;`, duckstore.QuoteIdent(table))
	rows, err := q.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query zipcodes: %w", err)
	}
	defer rows.Close()

	var zipcodes []string
	for rows.Next() {
		var z string
		if err := rows.Scan(&z); err != nil {
			return nil, fmt.Errorf("failed to scan zipcode: %w", err)
		}
		zipcodes = append(zipcodes, z)
	}
	return zipcodes, rows.Err()
}

// batchDistanceQuery builds the cross-join query for one batch of ZIP
// codes. A coarse 5-degree bounding box prunes the join before the exact
// distance is computed; anything past 200 miles is discarded.
func batchDistanceQuery(opts NearestOptions, batch []string) string {
	quoted := make([]string, len(batch))
	for i, z := range batch {
		quoted[i] = "'" + duckstore.QuoteLiteral(z) + "'"
	}
	return fmt.Sprintf(`
		INSERT INTO temp_distances
		WITH zipcode_data AS (
			SELECT
				GEOID as zipcode,
				INTPTLAT as zipcode_latitude,
				INTPTLONG as zipcode_longitude
			FROM %s
			WHERE GEOID IN (%s)
		),
		station_data AS (
			SELECT
				id as station_id,
				name as station_name,
				latitude as station_latitude,
				longitude as station_longitude
			FROM %s
			WHERE latitude IS NOT NULL AND longitude IS NOT NULL
		),
		cross_join AS (
			SELECT
				z.zipcode,
				s.station_id,
				s.station_name,
				s.station_latitude,
				s.station_longitude,
				z.zipcode_latitude,
				z.zipcode_longitude,
				%s as distance_miles
			FROM zipcode_data z
			CROSS JOIN station_data s
			WHERE (
				abs(z.zipcode_latitude - s.station_latitude) <= 5 AND
				abs(z.zipcode_longitude - s.station_longitude) <= 5
			)
		),
		ranked AS (
			SELECT
				*,
				ROW_NUMBER() OVER (PARTITION BY zipcode ORDER BY distance_miles) as rank
			FROM cross_join
			WHERE distance_miles <= 200
		)
		SELECT *
		FROM ranked
		WHERE rank <= %d;`,
		duckstore.QuoteIdent(opts.ZipcodesTable),
		strings.Join(quoted, ","),
		duckstore.QuoteIdent(opts.StationsTable),
		haversineExpr,
		opts.NumStations)
}
