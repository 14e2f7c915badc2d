package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeArchive serves candidate names from memory with optional per-file
// latency and failures, standing in for the FTP/HTTP backends.
type fakeArchive struct {
	names      []string
	fetchErr   map[string]error
	fetchDelay map[string]time.Duration
	// fetchHang stalls the transfer without honouring the context, the
	// way a wedged FTP data connection would.
	fetchHang map[string]time.Duration
	payload   string
}

func (a *fakeArchive) List(ctx context.Context, pattern string) ([]string, error) {
	out := make([]string, 0, len(a.names))
	for _, name := range a.names {
		if ok, _ := path.Match(pattern, name); ok {
			out = append(out, name)
		}
	}
	return out, nil
}

func (a *fakeArchive) Fetch(ctx context.Context, name string, dst io.Writer) error {
	if d := a.fetchHang[name]; d > 0 {
		time.Sleep(d)
	}
	if d := a.fetchDelay[name]; d > 0 {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := a.fetchErr[name]; err != nil {
		return err
	}
	payload := a.payload
	if payload == "" {
		payload = name + " contents"
	}
	_, err := io.WriteString(dst, payload)
	return err
}

func (a *fakeArchive) Close() error { return nil }

// fakeDataset records loads in arrival order and can fail or stall specific
// files, standing in for the DuckDB-backed datasets.
type fakeDataset struct {
	watermark     int
	haveWatermark bool
	loadErr       map[string]error
	loadDelay     time.Duration
	cancelOnLoad  context.CancelFunc

	loadedPeriods []int
	stagedPaths   []string
	maxStaged     int
	truncated     []int
}

func (d *fakeDataset) Name() string        { return "fake" }
func (d *fakeDataset) Table() string       { return "fake_table" }
func (d *fakeDataset) FilePattern() string { return "*.csv.gz" }

func (d *fakeDataset) PeriodFromName(name string) (int, bool) {
	var year int
	if _, err := fmt.Sscanf(name, "%d.csv.gz", &year); err != nil {
		return 0, false
	}
	return year, true
}

func (d *fakeDataset) EnsureSchema(ctx context.Context) error { return nil }

func (d *fakeDataset) Watermark(ctx context.Context) (int, bool, error) {
	return d.watermark, d.haveWatermark, nil
}

func (d *fakeDataset) TruncatePeriod(ctx context.Context, period int) (int64, error) {
	d.truncated = append(d.truncated, period)
	return 7, nil
}

func (d *fakeDataset) Load(ctx context.Context, p string) (int64, error) {
	if staged := countFiles(filepath.Dir(p)); staged > d.maxStaged {
		d.maxStaged = staged
	}
	if d.cancelOnLoad != nil {
		d.cancelOnLoad()
		d.cancelOnLoad = nil
	}
	if d.loadDelay > 0 {
		time.Sleep(d.loadDelay)
	}
	name := filepath.Base(p)
	if err := d.loadErr[name]; err != nil {
		return 0, err
	}
	period, _ := d.PeriodFromName(name)
	d.loadedPeriods = append(d.loadedPeriods, period)
	d.stagedPaths = append(d.stagedPaths, p)
	return 100, nil
}

func countFiles(dir string) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	return len(entries)
}

func TestRunLoadsAllCandidatesInOrder(t *testing.T) {
	arc := &fakeArchive{names: []string{"2021.csv.gz", "readme.txt", "2019.csv.gz", "2020.csv.gz"}}
	ds := &fakeDataset{}

	summary, err := Run(context.Background(), arc, ds, testLogger(), Options{})
	require.NoError(t, err)

	assert.Equal(t, 3, summary.Candidates)
	assert.Equal(t, 3, summary.Loaded)
	assert.Equal(t, 0, summary.Errored)
	assert.Equal(t, int64(300), summary.RowsAdded)
	assert.False(t, summary.Cancelled)
	assert.Equal(t, []int{2019, 2020, 2021}, ds.loadedPeriods)
}

func TestRunOrderStableUnderLatencyVariance(t *testing.T) {
	arc := &fakeArchive{
		names: []string{"2019.csv.gz", "2020.csv.gz", "2021.csv.gz", "2022.csv.gz"},
		fetchDelay: map[string]time.Duration{
			"2019.csv.gz": 30 * time.Millisecond,
			"2021.csv.gz": 20 * time.Millisecond,
		},
	}
	ds := &fakeDataset{loadDelay: 5 * time.Millisecond}

	summary, err := Run(context.Background(), arc, ds, testLogger(), Options{})
	require.NoError(t, err)

	assert.Equal(t, 4, summary.Loaded)
	assert.Equal(t, []int{2019, 2020, 2021, 2022}, ds.loadedPeriods)
}

func TestRunTruncatesWatermarkPeriodAndResumesFromIt(t *testing.T) {
	arc := &fakeArchive{names: []string{"2018.csv.gz", "2019.csv.gz", "2020.csv.gz", "2021.csv.gz"}}
	ds := &fakeDataset{watermark: 2020, haveWatermark: true}

	summary, err := Run(context.Background(), arc, ds, testLogger(), Options{})
	require.NoError(t, err)

	assert.Equal(t, []int{2020}, ds.truncated)
	assert.Equal(t, int64(7), summary.RowsTruncated)
	// The watermark period itself is reloaded after the truncation.
	assert.Equal(t, []int{2020, 2021}, ds.loadedPeriods)
}

func TestRunIsolatesCorruptFile(t *testing.T) {
	arc := &fakeArchive{names: []string{"2019.csv.gz", "2020.csv.gz", "2021.csv.gz"}}
	ds := &fakeDataset{loadErr: map[string]error{"2020.csv.gz": errors.New("malformed csv")}}

	summary, err := Run(context.Background(), arc, ds, testLogger(), Options{})
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Loaded)
	assert.Equal(t, 1, summary.Errored)
	require.Len(t, summary.Failures, 1)
	assert.Equal(t, "2020.csv.gz", summary.Failures[0].Candidate.Name)
	assert.Equal(t, []int{2019, 2021}, ds.loadedPeriods)
}

func TestRunReportsFailedFetches(t *testing.T) {
	arc := &fakeArchive{
		names:    []string{"2019.csv.gz", "2020.csv.gz"},
		fetchErr: map[string]error{"2019.csv.gz": errors.New("connection reset")},
	}
	ds := &fakeDataset{}

	summary, err := Run(context.Background(), arc, ds, testLogger(), Options{})
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Loaded)
	assert.Equal(t, 1, summary.Errored)
	assert.Equal(t, []int{2020}, ds.loadedPeriods)
}

func TestRunCancellationStopsCleanly(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	arc := &fakeArchive{names: []string{"2018.csv.gz", "2019.csv.gz", "2020.csv.gz", "2021.csv.gz", "2022.csv.gz"}}
	ds := &fakeDataset{cancelOnLoad: cancel}

	summary, err := Run(ctx, arc, ds, testLogger(), Options{})
	require.NoError(t, err)

	assert.True(t, summary.Cancelled)
	assert.Less(t, summary.Loaded, summary.Candidates)
	// Every staging entry was deleted: the kept ones after load, the
	// in-flight ones during the drain.
	for _, p := range ds.stagedPaths {
		_, statErr := os.Stat(p)
		assert.ErrorIs(t, statErr, fs.ErrNotExist, "staged file %s should be gone", p)
	}
	if len(ds.stagedPaths) > 0 {
		_, statErr := os.Stat(filepath.Dir(ds.stagedPaths[0]))
		assert.ErrorIs(t, statErr, fs.ErrNotExist, "staging dir should be gone")
	}
}

func TestRunCancellationNotBlockedByStuckTransfer(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	arc := &fakeArchive{
		names: []string{"2019.csv.gz", "2020.csv.gz", "2021.csv.gz"},
		// The transfer after the first load ignores the cancellation,
		// so the channel stays open well past the grace period.
		fetchHang: map[string]time.Duration{"2021.csv.gz": 3 * time.Second},
	}
	ds := &fakeDataset{cancelOnLoad: cancel}

	start := time.Now()
	summary, err := Run(ctx, arc, ds, testLogger(), Options{Grace: 50 * time.Millisecond})
	require.NoError(t, err)

	// The coordinator must report within the grace bound, not wait out
	// the stuck transfer.
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.True(t, summary.Cancelled)
	assert.Less(t, summary.Loaded, summary.Candidates)
}

func TestRunBoundsStagedFiles(t *testing.T) {
	names := make([]string, 0, 10)
	for year := 2013; year < 2023; year++ {
		names = append(names, fmt.Sprintf("%d.csv.gz", year))
	}
	arc := &fakeArchive{names: names}
	ds := &fakeDataset{loadDelay: 10 * time.Millisecond}

	summary, err := Run(context.Background(), arc, ds, testLogger(), Options{})
	require.NoError(t, err)
	require.Equal(t, 10, summary.Loaded)

	// At most: one file being loaded, transferDepth buffered, one held by
	// the blocked fetcher.
	assert.LessOrEqual(t, ds.maxStaged, transferDepth+2)
}

func TestRunSinceFilterAppliesBeforeWatermark(t *testing.T) {
	arc := &fakeArchive{names: []string{"2015.csv.gz", "2018.csv.gz", "2021.csv.gz"}}
	ds := &fakeDataset{}

	summary, err := Run(context.Background(), arc, ds, testLogger(), Options{Since: 2018, HaveSince: true})
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Candidates)
	assert.Equal(t, []int{2018, 2021}, ds.loadedPeriods)
}

func TestRunNoCandidatesReturnsEmptySummary(t *testing.T) {
	arc := &fakeArchive{names: []string{"readme.txt"}}
	ds := &fakeDataset{}

	summary, err := Run(context.Background(), arc, ds, testLogger(), Options{})
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Candidates)
	assert.Equal(t, 0, summary.Loaded)
}
