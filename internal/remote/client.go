// Package remote provides an HTTP client for a running tagmail server. The
// client offers the same operations as the local engine, so CLI commands can
// work against either.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/wesm/tagmail/internal/compose"
	"github.com/wesm/tagmail/internal/engine"
	"github.com/wesm/tagmail/internal/store"
	"github.com/wesm/tagmail/internal/tagset"
)

// Client calls the tagmail HTTP API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// Config holds configuration for creating a remote client.
type Config struct {
	URL           string
	APIKey        string
	AllowInsecure bool
	Timeout       time.Duration
}

// New creates a new remote client.
func New(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("remote URL is required")
	}

	parsedURL, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return nil, fmt.Errorf("URL scheme must be http or https, got: %s", parsedURL.Scheme)
	}
	if parsedURL.Host == "" {
		return nil, fmt.Errorf("remote URL must include a host (e.g., http://127.0.0.1:8080)")
	}

	// Plain HTTP is fine on loopback; anywhere else it needs an explicit opt-in.
	if parsedURL.Scheme == "http" && !cfg.AllowInsecure && !isLoopbackHost(parsedURL.Hostname()) {
		return nil, fmt.Errorf("HTTPS required for remote connections\n\n" +
			"Options:\n" +
			"  1. Use HTTPS: [remote] url = \"https://nas:8080\"\n" +
			"  2. For trusted networks: add 'allow_insecure = true' to [remote] in config.toml")
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		baseURL: strings.TrimSuffix(cfg.URL, "/"),
		apiKey:  cfg.APIKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

func isLoopbackHost(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// Close is a no-op for HTTP client.
func (c *Client) Close() error {
	return nil
}

// APIError is a non-2xx response from the server. It matches the engine's
// sentinel errors, so callers can use errors.Is as with a local engine.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("API error (%d): %s", e.Status, e.Message)
	}
	return fmt.Sprintf("API error (%d): %s", e.Status, e.Code)
}

// Unwrap maps the response code onto the matching sentinel error.
func (e *APIError) Unwrap() error {
	switch e.Code {
	case "not_found":
		return store.ErrNotFound
	case "duplicate":
		return store.ErrDuplicate
	case "invalid_tag":
		return tagset.ErrInvalidTag
	case "invalid_draft":
		return compose.ErrInvalidDraft
	case "send_unavailable":
		return engine.ErrNoDeliverer
	}
	return nil
}

// errorBody matches the API error response format.
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func handleErrorResponse(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var eb errorBody
	if err := json.Unmarshal(body, &eb); err == nil && eb.Error != "" {
		return &APIError{Status: resp.StatusCode, Code: eb.Error, Message: eb.Message}
	}
	return &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(body))}
}

// do performs an authenticated request and decodes a JSON response into out.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return handleErrorResponse(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func queryPath(path, q string, extra url.Values) string {
	v := url.Values{}
	for k, vals := range extra {
		v[k] = vals
	}
	if q != "" {
		v.Set("q", q)
	}
	if len(v) == 0 {
		return path
	}
	return path + "?" + v.Encode()
}

func messagePath(id string, suffix string) string {
	return "/api/v1/messages/" + url.PathEscape(id) + suffix
}

// List returns summaries of messages matching q, newest first. A zero limit
// takes the server's default page size.
func (c *Client) List(ctx context.Context, q string, opts engine.ListOptions) ([]store.Summary, error) {
	extra := url.Values{}
	if opts.Offset > 0 {
		extra.Set("offset", strconv.Itoa(opts.Offset))
	}
	if opts.Limit > 0 {
		extra.Set("limit", strconv.Itoa(opts.Limit))
	}
	var resp struct {
		Messages []store.Summary `json:"messages"`
	}
	if err := c.do(ctx, http.MethodGet, queryPath("/api/v1/messages", q, extra), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

// Count returns the number of messages matching q.
func (c *Client) Count(ctx context.Context, q string) (int, error) {
	var resp struct {
		Count int `json:"count"`
	}
	if err := c.do(ctx, http.MethodGet, queryPath("/api/v1/count", q, nil), nil, &resp); err != nil {
		return 0, err
	}
	return resp.Count, nil
}

type tagRequest struct {
	Query string `json:"query"`
	Tag   string `json:"tag"`
}

type tagResponse struct {
	Changed int `json:"changed"`
}

// ApplyTag adds tag to every message matching q.
func (c *Client) ApplyTag(ctx context.Context, q, tag string) (int, error) {
	var resp tagResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/tags/apply", tagRequest{Query: q, Tag: tag}, &resp); err != nil {
		return 0, err
	}
	return resp.Changed, nil
}

// RemoveTag removes tag from every message matching q.
func (c *Client) RemoveTag(ctx context.Context, q, tag string) (int, error) {
	var resp tagResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/tags/remove", tagRequest{Query: q, Tag: tag}, &resp); err != nil {
		return 0, err
	}
	return resp.Changed, nil
}

// ListTags returns every tag in use. Errors yield an empty list, as with
// the local engine, which cannot fail here.
func (c *Client) ListTags(ctx context.Context) []string {
	tags, err := c.Tags(ctx)
	if err != nil {
		return nil
	}
	return tags
}

// Tags is ListTags with the transport error reported.
func (c *Client) Tags(ctx context.Context) ([]string, error) {
	var resp struct {
		Tags []string `json:"tags"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/tags", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Tags, nil
}

// View returns the full record of one message.
func (c *Client) View(ctx context.Context, id string) (*store.Message, error) {
	var msg store.Message
	if err := c.do(ctx, http.MethodGet, messagePath(id, ""), nil, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// ReplyTemplate returns a reply draft for one message.
func (c *Client) ReplyTemplate(ctx context.Context, id string) (*compose.Draft, error) {
	var d compose.Draft
	if err := c.do(ctx, http.MethodGet, messagePath(id, "/reply"), nil, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// Preview renders d on the server without sending it.
func (c *Client) Preview(ctx context.Context, d *compose.Draft) ([]byte, error) {
	var resp struct {
		EML string `json:"eml"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/preview", d, &resp); err != nil {
		return nil, err
	}
	return []byte(resp.EML), nil
}

// Send delivers d through the server's relay. The returned message carries
// only the ID and tags of the stored copy.
func (c *Client) Send(ctx context.Context, d *compose.Draft) (*store.Message, error) {
	var resp struct {
		ID   string   `json:"id"`
		Tags []string `json:"tags"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/send", d, &resp); err != nil {
		return nil, err
	}
	return &store.Message{ID: resp.ID, Tags: tagset.New(resp.Tags...)}, nil
}

// Stats fetches corpus statistics.
func (c *Client) Stats(ctx context.Context) (*store.Stats, error) {
	var stats store.Stats
	if err := c.do(ctx, http.MethodGet, "/api/v1/stats", nil, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}
