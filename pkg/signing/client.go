package signing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// StatusError is returned by Client calls that reached the peer but got a
// non-2xx reply. The coordinator inspects Code to distinguish conflicts from
// transient failures.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("peer returned status %d: %s", e.Code, e.Body)
}

// Client performs signed HTTP requests against a single share node.
type Client struct {
	baseURL string
	signer  *Signer
	http    *http.Client
}

// NewClient creates a signed client for baseURL. All calls are bounded by
// timeout end to end.
func NewClient(baseURL string, key []byte, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		signer:  New(key),
		http:    &http.Client{Timeout: timeout},
	}
}

// BaseURL returns the peer's base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// PostJSON marshals payload in canonical form, signs it and POSTs it to
// path. Map payloads marshal with sorted keys, so the bytes sent are the
// bytes signed.
func (c *Client) PostJSON(ctx context.Context, path string, payload map[string]interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	ts, sig := c.signer.Sign(body)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderTimestamp, ts)
	req.Header.Set(HeaderSignature, sig)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Code: resp.StatusCode, Body: readSnippet(resp.Body)}
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}

// GetJSON signs the empty canonical body {}, GETs path and decodes the
// response into out.
func (c *Client) GetJSON(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	ts, sig := c.signer.Sign([]byte("{}"))
	req.Header.Set(HeaderTimestamp, ts)
	req.Header.Set(HeaderSignature, sig)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("get %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Code: resp.StatusCode, Body: readSnippet(resp.Body)}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response from %s: %w", path, err)
	}
	return nil
}

// readSnippet reads a bounded prefix of an error body for diagnostics.
func readSnippet(r io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(r, 512))
	return strings.TrimSpace(string(data))
}
