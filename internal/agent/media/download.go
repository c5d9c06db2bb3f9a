package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	errx "github.com/chative-relay/server/internal/core/error"
)

// ErrTooLarge is returned by ReadAllWithLimit.
var ErrTooLarge = errors.New("payload exceeds limit")

// ReadAllWithLimit reads from reader and rejects payloads larger than maxBytes.
func ReadAllWithLimit(reader io.Reader, maxBytes int64) ([]byte, error) {
	if reader == nil {
		return nil, fmt.Errorf("reader is required")
	}
	if maxBytes <= 0 {
		return nil, fmt.Errorf("max bytes must be greater than 0")
	}
	limited := &io.LimitedReader{R: reader, N: maxBytes + 1}
	data, err := io.ReadAll(limited)
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("%w: max %d bytes", ErrTooLarge, maxBytes)
	}
	return data, nil
}

// Downloader fetches attachment bytes.
type Downloader interface {
	Download(ctx context.Context, url string, authorize func(*http.Request)) ([]byte, error)
}

// HTTPDownloader downloads over HTTP with a size cap.
type HTTPDownloader struct {
	client   *http.Client
	maxBytes int64
}

func NewHTTPDownloader(maxBytes int64, timeout time.Duration) *HTTPDownloader {
	return &HTTPDownloader{client: &http.Client{Timeout: timeout}, maxBytes: maxBytes}
}

// Download returns errx.ErrMediaTooLarge or errx.ErrMediaDownloadFailed kinds.
func (d *HTTPDownloader) Download(ctx context.Context, url string, authorize func(*http.Request)) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errx.Wrap(errx.ErrMediaDownloadFailed, err, http.StatusOK)
	}
	if authorize != nil {
		authorize(req)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, errx.Wrap(errx.ErrMediaDownloadFailed, err, http.StatusOK)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errx.Wrap(errx.ErrMediaDownloadFailed, fmt.Errorf("status %d", resp.StatusCode), http.StatusOK)
	}
	if resp.ContentLength > d.maxBytes {
		return nil, errx.Wrap(errx.ErrMediaTooLarge, fmt.Errorf("content length %d", resp.ContentLength), http.StatusOK)
	}

	data, err := ReadAllWithLimit(resp.Body, d.maxBytes)
	if errors.Is(err, ErrTooLarge) {
		return nil, errx.Wrap(errx.ErrMediaTooLarge, err, http.StatusOK)
	}
	if err != nil {
		return nil, errx.Wrap(errx.ErrMediaDownloadFailed, err, http.StatusOK)
	}
	return data, nil
}
