package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/brensch/weatherduck/internal/archive"
)

// fetchResult is what the fetcher goroutine hands back to the coordinator
// once its loop ends: the candidates whose transfers failed (skipped with a
// log, counted in the summary) and any joined transfer errors.
type fetchResult struct {
	failed []Outcome
	err    error
}

// fetchCandidates is the producer stage. It downloads candidates one at a
// time into stagingDir and publishes each staged file on out. Pushing blocks
// when the channel is full; that is the backpressure point against a slow
// loader. The channel is closed on every exit path so the consumer always
// sees end-of-stream.
func fetchCandidates(
	ctx context.Context,
	arc archive.Archive,
	logger *slog.Logger,
	stagingDir string,
	candidates []Candidate,
	out chan<- stagedFile,
) fetchResult {
	defer close(out)

	var result fetchResult
	for i, c := range candidates {
		if ctx.Err() != nil {
			logger.Warn("Fetcher stopping before next file, cancellation requested.")
			return result
		}

		l := logger.With(slog.String("file", c.Name), slog.Int("file_num", i+1), slog.Int("total", len(candidates)))
		l.Info("Downloading.")

		start := time.Now()
		localPath := filepath.Join(stagingDir, c.Name)
		if err := fetchToFile(ctx, arc, c.Name, localPath); err != nil {
			// A single failed transfer is skipped, never fatal: the
			// remaining periods must still be attempted.
			l.Error("Download failed, skipping file.", "error", err)
			result.failed = append(result.failed, Outcome{Candidate: c, Err: err})
			result.err = errors.Join(result.err, fmt.Errorf("fetch %s: %w", c.Name, err))
			continue
		}
		l.Debug("Download complete.", slog.Duration("duration", time.Since(start).Round(time.Millisecond)))

		if ctx.Err() != nil {
			// Cancelled during the transfer; the loader will never see
			// this file, so its staging entry is ours to remove.
			os.Remove(localPath)
			logger.Warn("Fetcher stopping after in-flight download, cancellation requested.")
			return result
		}

		select {
		case out <- stagedFile{candidate: c, path: localPath}:
		case <-ctx.Done():
			os.Remove(localPath)
			logger.Warn("Fetcher cancelled while handing file to loader.")
			return result
		}
	}
	return result
}

// fetchToFile streams one remote file into a new staging file. The partial
// file is removed if the transfer fails.
func fetchToFile(ctx context.Context, arc archive.Archive, name, localPath string) error {
	f, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("create staging file %s: %w", localPath, err)
	}
	if err := arc.Fetch(ctx, name, f); err != nil {
		f.Close()
		os.Remove(localPath)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(localPath)
		return fmt.Errorf("close staging file %s: %w", localPath, err)
	}
	return nil
}
