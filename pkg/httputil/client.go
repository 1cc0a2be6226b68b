// Package httputil provides the HTTP plumbing shared by the worker's
// outbound calls. Every client is bound to a rate-limit operation type, so
// registry fetches and PR-service calls draw from their own token buckets
// without each call site repeating the wait. The surface is the three call
// patterns the worker actually performs: JSON GET (packuments, version
// metadata), JSON POST (PR-service dispatch), and a streamed GET (artifact
// tarballs).
package httputil

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/deptex/watchtower/pkg/ratelimit"
)

// UserAgent identifies the worker to upstream services
const UserAgent = "watchtower-worker"

// defaultTimeout bounds requests when the caller does not pick one
const defaultTimeout = 30 * time.Second

// maxErrorBodyBytes caps how much of an error response is pulled into the
// error message
const maxErrorBodyBytes = 2048

// Client issues rate-limited HTTP requests for one operation type
type Client struct {
	httpClient *http.Client
	operation  ratelimit.OperationType
}

// NewClient builds a client whose every request waits on the operation's
// token bucket. A non-positive timeout falls back to the default.
func NewClient(operation ratelimit.OperationType, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		operation:  operation,
	}
}

// GetJSON fetches url and decodes the JSON response into out
func (c *Client) GetJSON(ctx context.Context, url string, out any) error {
	resp, err := c.send(ctx, http.MethodGet, url, nil, "application/json")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return responseError(url, resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("undecodable response from %s: %w", url, err)
	}
	return nil
}

// PostJSON sends body as JSON and decodes the response into out
func (c *Client) PostJSON(ctx context.Context, url string, body, out any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("unencodable request for %s: %w", url, err)
	}

	resp, err := c.send(ctx, http.MethodPost, url, bytes.NewReader(encoded), "application/json")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return responseError(url, resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("undecodable response from %s: %w", url, err)
	}
	return nil
}

// GetStream opens a GET request and hands the response body to the caller,
// who owns closing it. Used for artifact downloads.
func (c *Client) GetStream(ctx context.Context, url string) (io.ReadCloser, error) {
	resp, err := c.send(ctx, http.MethodGet, url, nil, "*/*")
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, responseError(url, resp)
	}
	return resp.Body, nil
}

// send waits on the operation's token bucket, then issues the request with
// the worker's standard headers
func (c *Client) send(ctx context.Context, method, url string, body io.Reader, accept string) (*http.Response, error) {
	if err := ratelimit.Wait(ctx, c.operation); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("Accept", accept)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request to %s failed: %w", url, err)
	}
	return resp, nil
}

// statusHints names the statuses the worker commonly sees upstream
var statusHints = map[int]string{
	http.StatusUnauthorized:    "credentials rejected",
	http.StatusForbidden:       "access forbidden",
	http.StatusNotFound:        "not found",
	http.StatusTooManyRequests: "rate limited upstream",
}

// responseError folds a bounded slice of the response body into the error
func responseError(url string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	hint, ok := statusHints[resp.StatusCode]
	if !ok {
		hint = "unexpected status"
	}
	return fmt.Errorf("%s: %s (HTTP %d): %s", url, hint, resp.StatusCode, bytes.TrimSpace(body))
}
