package dataset

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/brensch/weatherduck/internal/archive"
	"github.com/brensch/weatherduck/internal/duckstore"
)

// Stations loads the GHCN station metadata file. The file is small and
// fully replaced upstream, so unlike the yearly feeds it is reloaded from
// scratch rather than resumed.
type Stations struct {
	db    *sql.DB
	table string
}

func NewStations(db *sql.DB, table string) *Stations {
	return &Stations{db: db, table: table}
}

func (d *Stations) Table() string { return d.table }

// Reload fetches fileName from the archive, drops any existing table and
// rebuilds it by slicing the fixed-width station records in SQL.
func (d *Stations) Reload(ctx context.Context, arc archive.Archive, fileName string, logger *slog.Logger) (int64, error) {
	stagingDir, err := os.MkdirTemp("", "weatherduck-stations-*")
	if err != nil {
		return 0, fmt.Errorf("create staging dir: %w", err)
	}
	defer os.RemoveAll(stagingDir)

	localPath := filepath.Join(stagingDir, fileName)
	f, err := os.Create(localPath)
	if err != nil {
		return 0, fmt.Errorf("create staging file: %w", err)
	}
	logger.Info("Downloading station file.", slog.String("file", fileName))
	if err := arc.Fetch(ctx, fileName, f); err != nil {
		f.Close()
		return 0, fmt.Errorf("fetch %s: %w", fileName, err)
	}
	if err := f.Close(); err != nil {
		return 0, fmt.Errorf("close staging file: %w", err)
	}

	table := duckstore.QuoteIdent(d.table)
	if _, err := d.db.ExecContext(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %s;`, table)); err != nil {
		return 0, fmt.Errorf("failed to drop table %s: %w", d.table, err)
	}
	create := fmt.Sprintf(`
		CREATE TABLE %s (
			id VARCHAR,
			latitude DOUBLE,
			longitude DOUBLE,
			elevation DOUBLE,
			state VARCHAR,
			name VARCHAR,
			gsn_flag VARCHAR,
			hcn_crn_flag VARCHAR,
			wmo_id VARCHAR
		);`, table)
	if _, err := d.db.ExecContext(ctx, create); err != nil {
		return 0, fmt.Errorf("failed to create table %s: %w", d.table, err)
	}

	// The station file is fixed width; read each line whole and slice the
	// columns out with SUBSTRING.
	insert := fmt.Sprintf(`
		INSERT INTO %s
		SELECT
			SUBSTRING(line, 1, 11) AS id,
			CAST(SUBSTRING(line, 13, 8) AS DOUBLE) AS latitude,
			CAST(SUBSTRING(line, 22, 9) AS DOUBLE) AS longitude,
			CAST(SUBSTRING(line, 32, 6) AS DOUBLE) AS elevation,
			SUBSTRING(line, 39, 2) AS state,
			TRIM(SUBSTRING(line, 42, 30)) AS name,
			SUBSTRING(line, 73, 3) AS gsn_flag,
			SUBSTRING(line, 77, 3) AS hcn_crn_flag,
			SUBSTRING(line, 81, 5) AS wmo_id
		FROM read_csv('%s', header=False, columns={'line': 'VARCHAR'});`,
		table, duckstore.PathLiteral(localPath))
	if _, err := d.db.ExecContext(ctx, insert); err != nil {
		return 0, fmt.Errorf("failed to insert from %s: %w", localPath, err)
	}

	return duckstore.CountRows(ctx, d.db, d.table)
}
