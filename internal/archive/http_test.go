package archive

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const listingHTML = `<html><body><pre>
<a href="../">../</a>
<a href="1763.csv.gz">1763.csv.gz</a>
<a href="/pub/data/by_year/2024.csv.gz">2024.csv.gz</a>
<a href="readme.txt">readme.txt</a>
<a href="status.csv.gz">status.csv.gz</a>
</pre></body></html>`

func newListingServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/pub/data/by_year/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, listingHTML)
	})
	mux.HandleFunc("/pub/data/by_year/2024.csv.gz", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "observation data")
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testArchive(t *testing.T, srv *httptest.Server) *HTTPArchive {
	t.Helper()
	base, err := url.Parse(srv.URL + "/pub/data/by_year/")
	require.NoError(t, err)
	return NewHTTPArchive(base, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestHTTPArchiveList(t *testing.T) {
	arc := testArchive(t, newListingServer(t))

	// The listing mixes relative and absolute hrefs; both reduce to
	// their base names.
	names, err := arc.List(context.Background(), "*.csv.gz")
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"1763.csv.gz", "2024.csv.gz", "status.csv.gz"}, names)
}

func TestHTTPArchiveListBadPattern(t *testing.T) {
	arc := testArchive(t, newListingServer(t))

	_, err := arc.List(context.Background(), "[unclosed")
	assert.Error(t, err)
}

func TestHTTPArchiveFetch(t *testing.T) {
	arc := testArchive(t, newListingServer(t))

	var buf bytes.Buffer
	err := arc.Fetch(context.Background(), "2024.csv.gz", &buf)
	require.NoError(t, err)

	assert.Equal(t, "observation data", buf.String())
}

func TestHTTPArchiveFetchMissing(t *testing.T) {
	arc := testArchive(t, newListingServer(t))

	var buf bytes.Buffer
	err := arc.Fetch(context.Background(), "1900.csv.gz", &buf)
	assert.Error(t, err)
}

func TestOpenRejectsUnknownScheme(t *testing.T) {
	_, err := Open(context.Background(), "gopher://example.com/data", slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.Error(t, err)
}
