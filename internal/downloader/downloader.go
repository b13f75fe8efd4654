package downloader

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/frederic-klein/distsqueeze/internal/metrics"
)

// FetchExhaustedError is returned when every candidate URI for a file failed.
type FetchExhaustedError struct {
	Path     string
	Attempts int
	Last     error
}

func (e *FetchExhaustedError) Error() string {
	return fmt.Sprintf("unable to fetch %s: all %d URIs failed", e.Path, e.Attempts)
}

func (e *FetchExhaustedError) Unwrap() error {
	return e.Last
}

// Downloader fetches files over HTTP, trying candidate URIs in order.
type Downloader struct {
	client  *http.Client
	timeout time.Duration
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewDownloader creates a downloader. A zero timeout means a single
// attempt may run until the caller's context ends.
func NewDownloader(timeout time.Duration, logger *zap.Logger, m *metrics.Metrics) *Downloader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Downloader{
		client:  &http.Client{},
		timeout: timeout,
		logger:  logger,
		metrics: m,
	}
}

// Retrieve downloads destPath from the first URI that works and returns it.
// If destPath already exists nothing is fetched and the returned URI is
// empty.
func (d *Downloader) Retrieve(ctx context.Context, uris []string, destPath string) (string, error) {
	// Check if already cached
	if _, err := os.Stat(destPath); err == nil {
		return "", nil
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return "", fmt.Errorf("creating directory: %w", err)
	}

	var last error
	for i, uri := range uris {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		n, err := d.fetchOne(ctx, uri, destPath)
		d.metrics.FetchAttempt(err, n)
		if err == nil {
			d.logger.Debug("fetched", zap.String("uri", uri), zap.String("path", destPath), zap.Int64("bytes", n))
			return uri, nil
		}
		last = err
		d.logger.Warn("uri failed", zap.String("uri", uri), zap.Int("attempt", i+1), zap.Error(err))
	}

	return "", &FetchExhaustedError{Path: destPath, Attempts: len(uris), Last: last}
}

func (d *Downloader) fetchOne(ctx context.Context, uri, destPath string) (int64, error) {
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return 0, fmt.Errorf("creating request: %w", err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("downloading %s: %w", uri, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("downloading %s: HTTP %d", uri, resp.StatusCode)
	}

	// Write to temp file first, then rename
	tmpPath := destPath + ".tmp"
	out, err := os.Create(tmpPath)
	if err != nil {
		return 0, fmt.Errorf("creating file: %w", err)
	}

	n, err := io.Copy(out, resp.Body)
	out.Close()
	if err != nil {
		os.Remove(tmpPath)
		return 0, fmt.Errorf("writing file: %w", err)
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		os.Remove(tmpPath)
		return 0, fmt.Errorf("renaming file: %w", err)
	}

	return n, nil
}
