package dataset

import (
	"archive/zip"
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/brensch/weatherduck/internal/duckstore"
	"github.com/brensch/weatherduck/internal/util"
)

// Zipcodes loads the Census gazetteer ZCTA file: a zip archive holding one
// tab-delimited data file. Like the station table it is dropped and rebuilt
// on every load.
type Zipcodes struct {
	db    *sql.DB
	table string
}

func NewZipcodes(db *sql.DB, table string) *Zipcodes {
	return &Zipcodes{db: db, table: table}
}

func (d *Zipcodes) Table() string { return d.table }

// Reload downloads the gazetteer archive from url, extracts the first data
// file and rebuilds the table from it.
func (d *Zipcodes) Reload(ctx context.Context, client *http.Client, url string, logger *slog.Logger) (int64, error) {
	stagingDir, err := os.MkdirTemp("", "weatherduck-zipcodes-*")
	if err != nil {
		return 0, fmt.Errorf("create staging dir: %w", err)
	}
	defer os.RemoveAll(stagingDir)

	zipPath := filepath.Join(stagingDir, "zipcode_data.zip")
	logger.Info("Downloading ZIP code gazetteer.", slog.String("url", url))
	if err := downloadFile(ctx, client, url, zipPath); err != nil {
		return 0, err
	}

	dataPath, err := extractFirst(zipPath, stagingDir)
	if err != nil {
		return 0, err
	}
	logger.Debug("Extracted gazetteer data file.", slog.String("file", filepath.Base(dataPath)))

	table := duckstore.QuoteIdent(d.table)
	if _, err := d.db.ExecContext(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %s;`, table)); err != nil {
		return 0, fmt.Errorf("failed to drop table %s: %w", d.table, err)
	}
	create := fmt.Sprintf(`
		CREATE TABLE %s (
			GEOID VARCHAR,
			ALAND BIGINT,
			AWATER BIGINT,
			ALAND_SQMI DOUBLE,
			AWATER_SQMI DOUBLE,
			INTPTLAT DOUBLE,
			INTPTLONG DOUBLE
		);`, table)
	if _, err := d.db.ExecContext(ctx, create); err != nil {
		return 0, fmt.Errorf("failed to create table %s: %w", d.table, err)
	}
	insert := fmt.Sprintf(`
		INSERT INTO %s
		SELECT *
		FROM read_csv('%s', header=True, delim='\t');`,
		table, duckstore.PathLiteral(dataPath))
	if _, err := d.db.ExecContext(ctx, insert); err != nil {
		return 0, fmt.Errorf("failed to insert from %s: %w", dataPath, err)
	}

	return duckstore.CountRows(ctx, d.db, d.table)
}

func downloadFile(ctx context.Context, client *http.Client, url, dst string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build request for %s: %w", url, err)
	}
	f, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create staging file: %w", err)
	}
	if _, err := util.DownloadToWriter(client, req, f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// extractFirst unpacks the first file entry of the zip archive into dir and
// returns its path.
func extractFirst(zipPath, dir string) (string, error) {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return "", fmt.Errorf("open zip %s: %w", zipPath, err)
	}
	defer r.Close()

	for _, entry := range r.File {
		if entry.FileInfo().IsDir() {
			continue
		}
		src, err := entry.Open()
		if err != nil {
			return "", fmt.Errorf("open zip entry %s: %w", entry.Name, err)
		}
		dstPath := filepath.Join(dir, filepath.Base(entry.Name))
		dst, err := os.Create(dstPath)
		if err != nil {
			src.Close()
			return "", fmt.Errorf("create extracted file: %w", err)
		}
		if _, err := io.Copy(dst, src); err != nil {
			src.Close()
			dst.Close()
			return "", fmt.Errorf("extract %s: %w", entry.Name, err)
		}
		src.Close()
		if err := dst.Close(); err != nil {
			return "", fmt.Errorf("close extracted file: %w", err)
		}
		return dstPath, nil
	}
	return "", fmt.Errorf("no files found in archive %s", zipPath)
}
