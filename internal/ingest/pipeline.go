// Package ingest implements the incremental archive-to-DuckDB pipeline:
// watermark-based resume, remote listing and filtering, a bounded
// producer/consumer transfer between the fetch and load stages, per-file
// transactional loading, and cooperative cancellation.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brensch/weatherduck/internal/archive"
)

// transferDepth is the capacity of the channel between the fetcher and the
// loader. The fetcher blocks once this many staged files await loading, so
// staging storage never holds more than a couple of files.
const transferDepth = 2

// fetcherGrace bounds how long the coordinator waits for the fetcher to
// exit after the loader has drained the channel.
const fetcherGrace = 5 * time.Second

// Dataset is the sink-side half of the pipeline: everything that depends on
// the specific table being ingested. Implementations live in the dataset
// package. Watermark, TruncatePeriod and Load all touch the sink and are
// only ever called from the coordinator/loader goroutine.
type Dataset interface {
	// Name labels log lines and the summary.
	Name() string
	// Table is the sink table the dataset loads into.
	Table() string
	// FilePattern is the remote listing glob for this dataset's files.
	FilePattern() string
	// PeriodFromName extracts the period key from a remote file name.
	// ok is false for names that do not belong to the dataset.
	PeriodFromName(name string) (period int, ok bool)
	// EnsureSchema creates the sink table if it does not exist yet.
	EnsureSchema(ctx context.Context) error
	// Watermark returns the highest period present in the sink.
	// ok is false when the table is missing or empty.
	Watermark(ctx context.Context) (period int, ok bool, err error)
	// TruncatePeriod deletes all rows of the given period and returns how
	// many were removed.
	TruncatePeriod(ctx context.Context, period int) (int64, error)
	// Load ingests one staged file as a single unit of work and returns
	// the number of rows added.
	Load(ctx context.Context, path string) (int64, error)
}

// stagedFile is a candidate sitting in local staging storage, owned by the
// fetcher until handed off and by the loader afterwards.
type stagedFile struct {
	candidate Candidate
	path      string
}

// Options tune a pipeline run.
type Options struct {
	// Since drops candidates below this period before the watermark is
	// even consulted. Zero value means no explicit lower bound.
	Since     int
	HaveSince bool
	// Grace bounds the wait for the fetcher goroutine after the loader
	// is done. Zero means the default of 5 seconds.
	Grace time.Duration
}

// Run executes the full ingest for one dataset: watermark, boundary-period
// truncation, listing, filtering, then the concurrent fetch/load stages.
// The returned error is non-nil only for fatal failures that stopped the
// run before any transfer; per-file failures are reported in the Summary.
func Run(ctx context.Context, arc archive.Archive, ds Dataset, logger *slog.Logger, opts Options) (*Summary, error) {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger = logger.With(slog.String("dataset", ds.Name()), slog.String("table", ds.Table()))
	summary := &Summary{Dataset: ds.Name(), Table: ds.Table()}

	if err := ds.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure schema for %s: %w", ds.Table(), err)
	}

	// The sink's state IS the watermark; recompute it fresh each run.
	watermark, haveWatermark, err := ds.Watermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("query watermark for %s: %w", ds.Table(), err)
	}
	if haveWatermark {
		logger.Info("Found existing data.", slog.Int("watermark_period", watermark))
		// Truncate the boundary period so a previously partial load of it
		// is redone cleanly rather than duplicated.
		deleted, err := ds.TruncatePeriod(ctx, watermark)
		if err != nil {
			return nil, fmt.Errorf("truncate period %d in %s: %w", watermark, ds.Table(), err)
		}
		summary.RowsTruncated = deleted
		if deleted > 0 {
			logger.Info("Truncated boundary period for clean reload.", slog.Int("period", watermark), slog.Int64("rows_deleted", deleted))
		}
	} else {
		logger.Info("No existing data, ingesting from the start.")
	}

	names, err := arc.List(ctx, ds.FilePattern())
	if err != nil {
		return nil, fmt.Errorf("list archive: %w", err)
	}
	candidates := ParseCandidates(names, ds.PeriodFromName, logger)
	candidates = Filter(candidates, opts.Since, opts.HaveSince, watermark, haveWatermark)
	summary.Candidates = len(candidates)
	logger.Info("Candidate files selected.", slog.Int("listed", len(names)), slog.Int("selected", len(candidates)))
	if len(candidates) == 0 {
		return summary, nil
	}

	stagingDir, err := os.MkdirTemp("", "weatherduck-staging-*")
	if err != nil {
		return nil, fmt.Errorf("create staging dir: %w", err)
	}
	// Staging storage is guaranteed empty after the run on every path.
	defer os.RemoveAll(stagingDir)

	files := make(chan stagedFile, transferDepth)
	fetchDone := make(chan fetchResult, 1)
	go func() {
		fetchDone <- fetchCandidates(ctx, arc, logger, stagingDir, candidates, files)
	}()

	runLoader(ctx, ds, logger, files, summary)

	// Bounded grace wait: the fetcher may be stuck mid-transfer after a
	// cancellation (FTP reads have no deadline once started); do not
	// block final reporting on it. Staged files it left behind go with
	// the staging directory.
	grace := opts.Grace
	if grace == 0 {
		grace = fetcherGrace
	}
	select {
	case result := <-fetchDone:
		for _, outcome := range result.failed {
			summary.record(outcome)
		}
		if result.err != nil {
			logger.Warn("Some downloads failed.", "error", result.err)
		}
	case <-time.After(grace):
		logger.Warn("Fetcher did not finish within grace period, reporting without it.", slog.Duration("grace", grace))
	}

	summary.Cancelled = ctx.Err() != nil
	if summary.Cancelled {
		logger.Warn("Run cancelled, partial progress kept.", slog.Int("files_loaded", summary.Loaded))
	}
	return summary, nil
}

// runLoader is the consumer stage. It runs on the coordinator's goroutine
// so the sink is never touched concurrently. It pulls staged files until
// the channel closes or the run is cancelled. On cancellation it returns
// immediately rather than waiting out the channel: the fetcher may be
// stuck in a transfer with the channel still open, and anything staged but
// unloaded is deleted with the staging directory.
func runLoader(ctx context.Context, ds Dataset, logger *slog.Logger, files <-chan stagedFile, summary *Summary) {
	for {
		// Checked between files so a cancellation never starts another
		// load, even when the channel has files waiting.
		if ctx.Err() != nil {
			logger.Warn("Loader stopping, cancellation requested.")
			return
		}
		select {
		case sf, ok := <-files:
			if !ok {
				return
			}
			summary.record(loadOne(ctx, ds, logger, sf))
		case <-ctx.Done():
			logger.Warn("Loader stopping, cancellation requested.")
			return
		}
	}
}

// loadOne ingests a single staged file and always removes its staging entry
// before returning, even when the insert failed.
func loadOne(ctx context.Context, ds Dataset, logger *slog.Logger, sf stagedFile) Outcome {
	l := logger.With(slog.String("file", sf.candidate.Name), slog.Int("period", sf.candidate.Period))
	defer func() {
		if err := os.Remove(sf.path); err != nil {
			l.Warn("Failed to delete staged file.", "error", err)
		}
	}()

	start := time.Now()
	// The file in progress runs to completion even under cancellation;
	// the loader loop stops before taking the next one.
	rows, err := ds.Load(context.WithoutCancel(ctx), sf.path)
	if err != nil {
		// File-isolated: one corrupt period must not abort the rest.
		l.Error("Load failed.", "error", err)
		return Outcome{Candidate: sf.candidate, Err: err}
	}
	l.Info("Loaded file.", slog.Int64("rows_added", rows), slog.Duration("duration", time.Since(start).Round(time.Millisecond)))
	return Outcome{Candidate: sf.candidate, RowsAdded: rows}
}
