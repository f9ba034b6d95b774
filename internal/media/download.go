package media

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const downloadTimeout = 60 * time.Second

// Downloader fetches attachment bytes over HTTP with a size ceiling.
type Downloader struct {
	client   *http.Client
	maxBytes int64
}

func NewDownloader(client *http.Client, maxBytes int64) *Downloader {
	if client == nil {
		client = &http.Client{Timeout: downloadTimeout}
	}
	if maxBytes <= 0 {
		maxBytes = MaxAssetBytes
	}
	return &Downloader{client: client, maxBytes: maxBytes}
}

// Fetch downloads url. limit overrides the default ceiling when positive.
func (d *Downloader) Fetch(ctx context.Context, url string, limit int64) ([]byte, error) {
	if strings.TrimSpace(url) == "" {
		return nil, fmt.Errorf("%w: empty url", ErrDownloadFailure)
	}
	if limit <= 0 || limit > d.maxBytes {
		limit = d.maxBytes
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDownloadFailure, err)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDownloadFailure, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: status %d", ErrDownloadFailure, resp.StatusCode)
	}
	return readBounded(resp.Body, resp.ContentLength, limit)
}
