// Package inspector summarizes exported parquet files without touching the
// DuckDB database: row counts and schemas straight from the file footers.
package inspector

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/reader"
)

// fileSummary holds what the footer of one parquet file tells us.
type fileSummary struct {
	path    string
	rows    int64
	columns []string
	err     error
}

// InspectParquet walks dir (including partition subdirectories like
// year=2024/month=3/) and prints a per-file and aggregate summary of every
// parquet file found. Unreadable files are reported, not fatal.
func InspectParquet(dir string, logger *slog.Logger) error {
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(d.Name(), ".parquet") {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("walk %s: %w", dir, err)
	}
	if len(paths) == 0 {
		logger.Info("No *.parquet files found.", slog.String("dir", dir))
		return nil
	}
	sort.Strings(paths)
	logger.Info("Found parquet files to summarize.", slog.Int("count", len(paths)), slog.String("dir", dir))

	summaries := make([]fileSummary, 0, len(paths))
	var inspectErrs error
	for _, p := range paths {
		s := readFooter(p)
		if s.err != nil {
			logger.Error("Failed reading parquet footer.", slog.String("file", p), "error", s.err)
			inspectErrs = errors.Join(inspectErrs, fmt.Errorf("%s: %w", p, s.err))
		}
		summaries = append(summaries, s)
	}

	printSummaries(dir, summaries)
	return inspectErrs
}

// readFooter opens one parquet file and pulls row count and column names
// out of its footer metadata.
func readFooter(path string) fileSummary {
	s := fileSummary{path: path}

	fr, err := local.NewLocalFileReader(path)
	if err != nil {
		s.err = fmt.Errorf("open: %w", err)
		return s
	}
	defer fr.Close()

	pr, err := reader.NewParquetReader(fr, nil, 1)
	if err != nil {
		s.err = fmt.Errorf("read footer: %w", err)
		return s
	}
	defer pr.ReadStop()

	s.rows = pr.GetNumRows()
	// The first schema element is the root; the leaves are the columns.
	for _, el := range pr.Footer.GetSchema()[1:] {
		if el.NumChildren == nil || el.GetNumChildren() == 0 {
			s.columns = append(s.columns, el.GetName())
		}
	}
	return s
}

func printSummaries(dir string, summaries []fileSummary) {
	fmt.Printf("\n--- Parquet Summary: %s ---\n", dir)
	fmt.Printf("%-60s | %-12s | %s\n", "File", "Rows", "Columns")
	fmt.Println(strings.Repeat("-", 100))

	var totalRows int64
	var errored int
	for _, s := range summaries {
		rel, err := filepath.Rel(dir, s.path)
		if err != nil {
			rel = s.path
		}
		if s.err != nil {
			fmt.Printf("%-60s | %-12s | ERROR: %v\n", rel, "-", s.err)
			errored++
			continue
		}
		fmt.Printf("%-60s | %-12d | %d\n", rel, s.rows, len(s.columns))
		totalRows += s.rows
	}
	fmt.Println(strings.Repeat("-", 100))
	fmt.Printf("%d files, %d total rows, %d unreadable\n", len(summaries), totalRows, errored)

	// One representative schema, from the first readable file.
	for _, s := range summaries {
		if s.err == nil {
			fmt.Println("\nRepresentative schema:")
			for _, col := range s.columns {
				fmt.Printf("  %s\n", col)
			}
			break
		}
	}
}
