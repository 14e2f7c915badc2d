package util

import (
	"fmt"
	"io"
	"net/http"
	"time"
)

// DownloadToWriter executes a pre-built HTTP request and streams the body
// into dst. It handles response closing and non-200 status codes. The caller
// is responsible for creating the request (including context and headers).
func DownloadToWriter(client *http.Client, req *http.Request, dst io.Writer) (int64, error) {
	resp, err := client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("http do request for %s: %w", req.URL.String(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Read some of the body for context on error.
		limitReader := io.LimitReader(resp.Body, 512)
		bodyBytes, _ := io.ReadAll(limitReader)
		return 0, fmt.Errorf("bad status '%s' fetching %s: %s", resp.Status, req.URL.String(), string(bodyBytes))
	}

	n, err := io.Copy(dst, resp.Body)
	if err != nil {
		return n, fmt.Errorf("failed reading body from %s: %w", req.URL.String(), err)
	}
	return n, nil
}

// DefaultHTTPClient creates a default http.Client with a reasonable timeout.
func DefaultHTTPClient() *http.Client {
	return &http.Client{Timeout: 120 * time.Second}
}
