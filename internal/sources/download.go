// Package sources normalizes heterogeneous source material (uploaded
// buffers, remote URLs, podcast feeds, platform pages) into a single text or
// audio payload ahead of transcription.
package sources

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
)

const defaultDownloadTimeout = 5 * time.Minute

// maxDownloadBytes caps remote downloads at 500MB.
const maxDownloadBytes = 500 << 20

// Downloader fetches remote files over HTTP.
type Downloader struct {
	client *http.Client
}

// NewDownloader creates a downloader with a sane default timeout.
func NewDownloader(client *http.Client) *Downloader {
	if client == nil {
		client = &http.Client{Timeout: defaultDownloadTimeout}
	}
	return &Downloader{client: client}
}

// Fetch downloads the file at url, failing fast on non-2xx responses.
// Transient transport errors are retried a few times before giving up.
func (d *Downloader) Fetch(ctx context.Context, url string) ([]byte, string, error) {
	var (
		body        []byte
		contentType string
	)

	err := retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
			if err != nil {
				return retry.Unrecoverable(fmt.Errorf("build request: %w", err))
			}

			resp, err := d.client.Do(req)
			if err != nil {
				return fmt.Errorf("fetch %s: %w", url, err)
			}
			defer resp.Body.Close()

			if resp.StatusCode < 200 || resp.StatusCode > 299 {
				return retry.Unrecoverable(fmt.Errorf("fetch %s: unexpected status %d", url, resp.StatusCode))
			}

			body, err = io.ReadAll(io.LimitReader(resp.Body, maxDownloadBytes))
			if err != nil {
				return fmt.Errorf("read response body: %w", err)
			}
			contentType = resp.Header.Get("Content-Type")
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return nil, "", err
	}
	return body, contentType, nil
}

// FilenameFromURL derives a filename with extension from a URL path,
// defaulting to audio.mp3 when the path carries no usable name.
func FilenameFromURL(rawURL string) string {
	trimmed := rawURL
	if idx := strings.IndexAny(trimmed, "?#"); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	name := path.Base(trimmed)
	if name == "" || name == "." || name == "/" || !strings.Contains(name, ".") {
		return "audio.mp3"
	}
	return name
}
