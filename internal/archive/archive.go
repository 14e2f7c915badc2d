// Package archive abstracts the remote servers that host the periodic
// dataset files. Both NCEI endpoints speak FTP; the same directories are
// mirrored over HTTPS, so an HTTP directory-listing implementation is
// provided as well. The ingest pipeline only sees this interface.
package archive

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
)

// Archive is a read-only view of one remote directory of dataset files.
type Archive interface {
	// List returns the base names in the archive directory matching the
	// glob pattern (path.Match syntax), in no particular order.
	List(ctx context.Context, pattern string) ([]string, error)
	// Fetch streams the named file's bytes into dst.
	Fetch(ctx context.Context, name string, dst io.Writer) error
	// Close releases the underlying connection. Safe to call once only.
	Close() error
}

// Open dials the archive identified by rawURL. The scheme selects the
// implementation: ftp:// uses an FTP control connection, http:// and
// https:// scrape the server's directory listing. The URL path is the
// directory holding the dataset files.
func Open(ctx context.Context, rawURL string, logger *slog.Logger) (Archive, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse archive url %s: %w", rawURL, err)
	}
	switch u.Scheme {
	case "ftp":
		return DialFTP(ctx, u.Host, u.Path, logger)
	case "http", "https":
		return NewHTTPArchive(u, logger), nil
	default:
		return nil, fmt.Errorf("unsupported archive scheme %q in %s", u.Scheme, rawURL)
	}
}
