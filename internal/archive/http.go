package archive

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"

	"github.com/brensch/weatherduck/internal/util"
	"golang.org/x/net/html"
)

// HTTPArchive is an Archive backed by a plain directory-listing page, the
// kind NCEI's HTTPS mirror serves. Listing scrapes the anchor tags out of
// the index page; fetching resolves each name against the base URL.
type HTTPArchive struct {
	client *http.Client
	base   *url.URL
	logger *slog.Logger
}

// NewHTTPArchive wraps the directory at base.
func NewHTTPArchive(base *url.URL, logger *slog.Logger) *HTTPArchive {
	return &HTTPArchive{client: util.DefaultHTTPClient(), base: base, logger: logger}
}

// List fetches the directory index and returns link base names matching
// pattern.
func (a *HTTPArchive) List(ctx context.Context, pattern string) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.base.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create listing request %s: %w", a.base, err)
	}

	var buf bytes.Buffer
	if _, err := util.DownloadToWriter(a.client, req, &buf); err != nil {
		return nil, fmt.Errorf("fetch listing %s: %w", a.base, err)
	}
	root, err := html.Parse(&buf)
	if err != nil {
		return nil, fmt.Errorf("parse listing HTML %s: %w", a.base, err)
	}

	names, err := matchLinks(root, pattern)
	if err != nil {
		return nil, err
	}
	a.logger.Debug("Directory listing scraped.", slog.Int("matched", len(names)))
	return names, nil
}

// matchLinks walks the anchor tags of a listing page and returns the
// base name of every href matching pattern. Hrefs may be relative or
// absolute; only the final path segment counts.
func matchLinks(root *html.Node, pattern string) ([]string, error) {
	var names []string
	var walkErr error
	var walk func(*html.Node)

	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			for _, attr := range n.Attr {
				if attr.Key != "href" {
					continue
				}
				name := path.Base(attr.Val)
				ok, err := path.Match(pattern, name)
				if err != nil {
					walkErr = fmt.Errorf("bad list pattern %q: %w", pattern, err)
					return
				}
				if ok {
					names = append(names, name)
				}
				break
			}
		}
		for c := n.FirstChild; c != nil && walkErr == nil; c = c.NextSibling {
			walk(c)
		}
	}

	walk(root)
	if walkErr != nil {
		return nil, walkErr
	}
	return names, nil
}

// Fetch GETs the named file and streams it into dst.
func (a *HTTPArchive) Fetch(ctx context.Context, name string, dst io.Writer) error {
	fileURL := a.base.ResolveReference(&url.URL{Path: path.Join(a.base.Path, name)})
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL.String(), nil)
	if err != nil {
		return fmt.Errorf("create fetch request %s: %w", fileURL, err)
	}
	if _, err := util.DownloadToWriter(a.client, req, dst); err != nil {
		return fmt.Errorf("fetch %s: %w", fileURL, err)
	}
	return nil
}

// Close releases idle connections; the HTTP archive holds no session state.
func (a *HTTPArchive) Close() error {
	a.client.CloseIdleConnections()
	return nil
}
