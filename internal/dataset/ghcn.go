// Package dataset contains the DuckDB-backed dataset definitions: the
// incremental GHCN daily and storm events feeds consumed by the ingest
// pipeline, plus the full-reload station and ZIP code reference tables.
package dataset

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/brensch/weatherduck/internal/duckstore"
)

// GHCNDaily is the GHCN-Daily by-year feed. Remote files are named
// YYYY.csv.gz, one file per year, headerless with eight columns.
type GHCNDaily struct {
	db    *sql.DB
	table string
}

func NewGHCNDaily(db *sql.DB, table string) *GHCNDaily {
	return &GHCNDaily{db: db, table: table}
}

func (d *GHCNDaily) Name() string        { return "ghcn-daily" }
func (d *GHCNDaily) Table() string       { return d.table }
func (d *GHCNDaily) FilePattern() string { return "*.csv.gz" }

// PeriodFromName extracts the year from a YYYY.csv.gz file name.
func (d *GHCNDaily) PeriodFromName(name string) (int, bool) {
	base, ok := strings.CutSuffix(name, ".csv.gz")
	if !ok || len(base) != 4 {
		return 0, false
	}
	year, err := strconv.Atoi(base)
	if err != nil {
		return 0, false
	}
	return year, true
}

func (d *GHCNDaily) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id VARCHAR,
			date DATE,
			element VARCHAR,
			data_value INTEGER,
			m_flag VARCHAR,
			q_flag VARCHAR,
			s_flag VARCHAR,
			obs_time VARCHAR
		);`, duckstore.QuoteIdent(d.table))
	if _, err := d.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create table %s: %w", d.table, err)
	}
	return nil
}

func (d *GHCNDaily) Watermark(ctx context.Context) (int, bool, error) {
	value, ok, err := duckstore.MaxInt64(ctx, d.db, d.table, "EXTRACT(YEAR FROM date)")
	return int(value), ok, err
}

func (d *GHCNDaily) TruncatePeriod(ctx context.Context, year int) (int64, error) {
	query := fmt.Sprintf(`DELETE FROM %s WHERE EXTRACT(YEAR FROM date) = ?;`, duckstore.QuoteIdent(d.table))
	res, err := d.db.ExecContext(ctx, query, year)
	if err != nil {
		return 0, fmt.Errorf("failed to delete year %d from %s: %w", year, d.table, err)
	}
	return res.RowsAffected()
}

// Load appends one year file. The insert is a single statement, so a
// failure leaves the table untouched.
func (d *GHCNDaily) Load(ctx context.Context, path string) (int64, error) {
	query := fmt.Sprintf(`
		INSERT INTO %s
		SELECT
			CAST(column0 AS VARCHAR),
			CAST(column1 AS DATE),
			CAST(column2 AS VARCHAR),
			CAST(column3 AS INTEGER),
			CAST(column4 AS VARCHAR),
			CAST(column5 AS VARCHAR),
			CAST(column6 AS VARCHAR),
			CAST(column7 AS VARCHAR)
		FROM read_csv_auto('%s',
			header=False,
			dateformat='%%Y%%m%%d',
			types={
				'column0': 'VARCHAR',
				'column1': 'DATE',
				'column2': 'VARCHAR',
				'column3': 'INTEGER',
				'column4': 'VARCHAR',
				'column5': 'VARCHAR',
				'column6': 'VARCHAR',
				'column7': 'VARCHAR'
			});`, duckstore.QuoteIdent(d.table), duckstore.PathLiteral(path))
	res, err := d.db.ExecContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to insert from %s: %w", path, err)
	}
	return res.RowsAffected()
}
