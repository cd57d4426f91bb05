package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Webhook posts JSON bodies with a bounded number of linear-backoff retries.
type Webhook struct {
	Name       string
	URL        string
	RetryLimit int
	Client     *http.Client
}

// NewHTTPClient returns the default client used by webhook sinks.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

// Post sends body, retrying on any failure until RetryLimit is exhausted or ctx ends.
func (w Webhook) Post(ctx context.Context, body []byte) error {
	attempts := max(w.RetryLimit, 0) + 1
	var lastErr error
	for attempt := range attempts {
		if lastErr = w.post(ctx, body); lastErr == nil {
			return nil
		}
		if attempt == attempts-1 {
			break
		}
		timer := time.NewTimer(time.Duration(attempt+1) * 200 * time.Millisecond)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return lastErr
}

func (w Webhook) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create %s request: %w", w.Name, err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := w.Client
	if client == nil {
		client = NewHTTPClient(0)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", w.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, readErr := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if readErr != nil {
			return errors.Join(
				fmt.Errorf("%s %s", w.Name, resp.Status),
				fmt.Errorf("read error response: %w", readErr),
			)
		}
		return fmt.Errorf("%s %s: %s", w.Name, resp.Status, strings.TrimSpace(string(respBody)))
	}
	if _, err = io.Copy(io.Discard, resp.Body); err != nil {
		return fmt.Errorf("drain %s response body: %w", w.Name, err)
	}
	return nil
}

// Fallback returns value unless it is blank.
func Fallback(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}
