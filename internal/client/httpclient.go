package client

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pesio-ai/be-plt-approvals/internal/errors"
)

// Client is a thin JSON HTTP client for calls between platform services.
// Non-2xx responses come back as coded errors so callers can branch on
// not-found versus unavailable.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client rooted at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// NewClientWithTimeout creates a client with a custom per-request timeout.
func NewClientWithTimeout(baseURL string, timeout time.Duration) *Client {
	c := NewClient(baseURL)
	if timeout > 0 {
		c.http.Timeout = timeout
	}
	return c
}

// Get requests path and decodes the JSON response into out.
func (c *Client) Get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

// Post sends in as JSON to path and decodes the response into out.
// Both in and out may be nil.
func (c *Client) Post(ctx context.Context, path string, in, out any) error {
	return c.do(ctx, http.MethodPost, path, in, out)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "encode request body")
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "build request")
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeUnavailable, "call "+path)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return statusError(resp.StatusCode, path)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "decode response from "+path)
	}
	return nil
}

func statusError(status int, path string) error {
	code := errors.ErrCodeInternal
	switch {
	case status == http.StatusNotFound:
		code = errors.ErrCodeNotFound
	case status == http.StatusBadRequest:
		code = errors.ErrCodeInvalidInput
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		code = errors.ErrCodeUnauthorized
	case status == http.StatusConflict:
		code = errors.ErrCodeConflict
	case status >= http.StatusInternalServerError:
		code = errors.ErrCodeUnavailable
	}
	return errors.Newf(code, "%s returned status %d", path, status)
}
