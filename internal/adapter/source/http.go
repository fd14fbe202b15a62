package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPDownloader fetches datasets over HTTP(S).
type HTTPDownloader struct {
	client *http.Client
}

// NewHTTPDownloader creates a downloader whose requests time out after timeout.
func NewHTTPDownloader(timeout time.Duration) *HTTPDownloader {
	return &HTTPDownloader{client: &http.Client{Timeout: timeout}}
}

// Download streams the object at remote into w. A 404 means the run has not
// been published yet.
func (d *HTTPDownloader) Download(ctx context.Context, remote string, w io.Writer) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, remote, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("get %s: %w", remote, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return notYetAvailable(remote, errNotFound)
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("get %s: unexpected status %s", remote, resp.Status)
	}

	if _, err := io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("download %s: %w", remote, err)
	}
	return nil
}
