// Package transport carries JSON and server-sent-event traffic for vendors that
// are reached over plain REST. Every failure leaves this package as an *llm.Error.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/aschepis/backscratcher/llmbridge/llm"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
)

// maxResponseBodySize caps how much of a response body is buffered (10 MB).
const maxResponseBodySize int64 = 10 * 1024 * 1024

// Client sends requests to one vendor's REST API.
type Client struct {
	provider string
	baseURL  string
	http     *http.Client
	header   http.Header
	logger   zerolog.Logger
}

// New creates a Client. header holds static headers sent with every request,
// typically the credential. A nil httpClient selects http.DefaultClient.
func New(provider, baseURL string, httpClient *http.Client, header http.Header, logger zerolog.Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		provider: provider,
		baseURL:  strings.TrimRight(baseURL, "/"),
		http:     httpClient,
		header:   header.Clone(),
		logger:   logger,
	}
}

// BaseURL returns the API root requests are resolved against.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// PostJSON posts body to path and decodes a 2xx response into out.
func (c *Client) PostJSON(ctx context.Context, path string, body, out any) error {
	resp, err := c.do(ctx, http.MethodPost, path, body, "application/json")
	if err != nil {
		return err
	}
	defer c.closeBody(resp.Body)
	return c.decode(resp, out)
}

// GetJSON fetches path and decodes a 2xx response into out.
func (c *Client) GetJSON(ctx context.Context, path string, out any) error {
	resp, err := c.do(ctx, http.MethodGet, path, nil, "application/json")
	if err != nil {
		return err
	}
	defer c.closeBody(resp.Body)
	return c.decode(resp, out)
}

// PostStream posts body to path and returns the open response body of a 2xx
// event-stream response. The caller must close it.
func (c *Client) PostStream(ctx context.Context, path string, body any) (io.ReadCloser, error) {
	resp, err := c.do(ctx, http.MethodPost, path, body, "text/event-stream")
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, accept string) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, llm.NewPermanentError(c.provider, "failed to encode request", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, llm.NewPermanentError(c.provider, "failed to build request", err)
	}
	for k, v := range c.header {
		req.Header[k] = v
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", accept)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, llm.Normalize(c.provider, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer c.closeBody(resp.Body)
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
		return nil, ErrorFromResponse(c.provider, resp.StatusCode, resp.Header, errBody)
	}
	return resp, nil
}

func (c *Client) decode(resp *http.Response, out any) error {
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	if err != nil {
		return llm.Normalize(c.provider, err)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return llm.NewPermanentError(c.provider, fmt.Sprintf("malformed response: %s", truncate(string(raw), 200)), err)
	}
	return nil
}

func (c *Client) closeBody(body io.Closer) {
	if err := body.Close(); err != nil {
		c.logger.Warn().Err(err).Str("provider", c.provider).Msg("failed to close response body")
	}
}

// ErrorFromResponse classifies a non-2xx vendor response.
func ErrorFromResponse(provider string, status int, header http.Header, body []byte) *llm.Error {
	var cause error
	if len(body) > 0 {
		cause = errors.New(truncate(string(body), 500))
	}
	return llm.ClassifyStatus(provider, status, ErrorMessage(body), header, cause)
}

// ErrorMessage extracts the human-readable message from a vendor error body.
func ErrorMessage(body []byte) string {
	if !gjson.ValidBytes(body) {
		return strings.TrimSpace(truncate(string(body), 200))
	}
	for _, path := range []string{"error.message", "message", "detail", "error"} {
		if r := gjson.GetBytes(body, path); r.Exists() && r.Type == gjson.String && r.Str != "" {
			return r.Str
		}
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
