package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Fetcher downloads provider results before they are re-uploaded to our bucket.
type Fetcher struct {
	httpClient *http.Client
	attempts   int
	backoff    time.Duration
	log        *slog.Logger
}

func NewFetcher(httpClient *http.Client, attempts int, backoff time.Duration, log *slog.Logger) *Fetcher {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 2 * time.Minute}
	}
	if attempts < 1 {
		attempts = 1
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Fetcher{httpClient: httpClient, attempts: attempts, backoff: backoff, log: log}
}

// Fetch returns the body and normalized content type of url. Failed attempts are
// retried after attempt*backoff.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, string, error) {
	var lastErr error
	for attempt := 1; attempt <= f.attempts; attempt++ {
		data, ct, err := f.fetchOnce(ctx, url)
		if err == nil {
			return data, ct, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, "", ctx.Err()
		}
		f.log.Warn("download attempt failed", "url", url, "attempt", attempt, "err", err)
		if attempt == f.attempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, "", ctx.Err()
		case <-time.After(time.Duration(attempt) * f.backoff):
		}
	}
	return nil, "", fmt.Errorf("download %s after %d attempts: %w", url, f.attempts, lastErr)
}

func (f *Fetcher) fetchOnce(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build request: %w", err)
	}
	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download file: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, "", fmt.Errorf("download status: %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("read file body: %w", err)
	}
	ct, err := NormalizeContentType(resp.Header.Get("Content-Type"), body)
	if err != nil {
		return nil, "", err
	}
	return body, ct, nil
}
