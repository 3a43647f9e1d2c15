// Package extend is a client for the Extend document extraction API. A run is
// a single synchronous POST; transport failures and 5xx responses are retried
// with a linear backoff, 4xx responses are returned immediately.
package extend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
)

const (
	DefaultURL        = "https://api.extend.ai/processor_runs"
	DefaultAPIVersion = "2025-04-21"
	DefaultMaxRetries = 2
	DefaultRetryDelay = time.Second
	DefaultTimeout    = 120 * time.Second

	apiVersionHeader = "x-extend-api-version"
	maxResponseBytes = 10 << 20
)

// ErrRetriesExhausted is returned when every attempt failed with a
// retryable error.
var ErrRetriesExhausted = errors.New("API request failed after retries")

// APIError is a non-2xx response from the API.
type APIError struct {
	Status    int
	Code      string
	Message   string
	RequestID string
}

func (e *APIError) Error() string {
	parts := []string{fmt.Sprintf("status=%d", e.Status)}
	if e.Code != "" {
		parts = append(parts, "code="+e.Code)
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	}
	if e.RequestID != "" {
		parts = append(parts, "requestId="+e.RequestID)
	}
	return "Extend.ai: " + strings.Join(parts, " | ")
}

// Retryable reports whether the failure is on the server side.
func (e *APIError) Retryable() bool {
	return e.Status < 400 || e.Status >= 500
}

// Output is the extracted object and its per-field metadata.
type Output struct {
	Value     map[string]any
	Metadata  map[string]any
	RequestID string
}

// Option configures a Client.
type Option func(*Client)

// WithURL overrides the processor runs endpoint.
func WithURL(u string) Option {
	return func(c *Client) { c.url = u }
}

// WithAPIVersion overrides the API version header.
func WithAPIVersion(v string) Option {
	return func(c *Client) { c.apiVersion = v }
}

// WithMaxRetries sets how many times a failed attempt is retried.
func WithMaxRetries(n int) Option {
	return func(c *Client) {
		if n >= 0 {
			c.maxRetries = n
		}
	}
}

// WithRetryDelay sets the backoff unit; attempt n waits n times this delay.
func WithRetryDelay(d time.Duration) Option {
	return func(c *Client) { c.retryDelay = d }
}

// WithHTTPClient sets the underlying HTTP client. The bearer token transport
// is layered over its transport.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.base = hc }
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// Client runs extraction processors.
type Client struct {
	processorID string
	url         string
	apiVersion  string
	maxRetries  int
	retryDelay  time.Duration
	base        *http.Client
	http        *http.Client
	logger      zerolog.Logger
	sleep       func(ctx context.Context, d time.Duration) error
}

// NewClient creates a client authenticated with apiKey for processorID.
func NewClient(apiKey, processorID string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("extend api key is required")
	}
	if strings.TrimSpace(processorID) == "" {
		return nil, fmt.Errorf("extend processor id is required")
	}
	c := &Client{
		processorID: processorID,
		url:         DefaultURL,
		apiVersion:  DefaultAPIVersion,
		maxRetries:  DefaultMaxRetries,
		retryDelay:  DefaultRetryDelay,
		base:        &http.Client{Timeout: DefaultTimeout},
		logger:      zerolog.Nop(),
		sleep:       sleepContext,
	}
	for _, o := range opts {
		o(c)
	}
	c.http = &http.Client{
		Timeout: c.base.Timeout,
		Transport: &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: apiKey}),
			Base:   c.base.Transport,
		},
	}
	c.logger = c.logger.With().Str("component", "extend").Logger()
	return c, nil
}

type runRequest struct {
	ProcessorID string         `json:"processorId"`
	File        runFile        `json:"file"`
	Sync        bool           `json:"sync"`
	Config      *ExtractConfig `json:"config"`
}

type runFile struct {
	FileURL string `json:"fileUrl"`
}

// Extract runs the processor over the file at fileURL with the given config.
func (c *Client) Extract(ctx context.Context, fileURL string, cfg *ExtractConfig) (*Output, error) {
	if fileURL == "" {
		return nil, fmt.Errorf("missing file URL")
	}
	payload, err := json.Marshal(runRequest{
		ProcessorID: c.processorID,
		File:        runFile{FileURL: fileURL},
		Sync:        true,
		Config:      cfg,
	})
	if err != nil {
		return nil, fmt.Errorf("encode run request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		out, retryable, err := c.post(ctx, payload)
		if err == nil {
			return out, nil
		}
		if !retryable {
			return nil, err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		lastErr = err
		if attempt < c.maxRetries {
			c.logger.Warn().Err(err).Int("attempt", attempt+1).Msg("retrying extraction run")
			if err := c.sleep(ctx, time.Duration(attempt+1)*c.retryDelay); err != nil {
				return nil, err
			}
		}
	}
	return nil, fmt.Errorf("%w: %v", ErrRetriesExhausted, lastErr)
}

func (c *Client) post(ctx context.Context, payload []byte) (*Output, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(apiVersionHeader, c.apiVersion)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, true, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, true, fmt.Errorf("read response: %w", err)
	}

	var doc map[string]any
	decodeErr := json.Unmarshal(body, &doc)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		if decodeErr == nil {
			apiErr.Code = stringAt(doc, "code")
			apiErr.Message = stringAt(doc, "message")
			apiErr.RequestID = stringAt(doc, "requestId")
		}
		return nil, apiErr.Retryable(), apiErr
	}
	if decodeErr != nil {
		return nil, false, fmt.Errorf("decode response: %w", decodeErr)
	}

	output := objectAt(objectAt(doc, "processorRun"), "output")
	out := &Output{
		Value:     objectAt(output, "value"),
		RequestID: stringAt(doc, "requestId"),
	}
	if out.Value == nil {
		out.Value = map[string]any{}
	}
	if md, ok := output["metadata"].(map[string]any); ok {
		out.Metadata = md
	}
	return out, false, nil
}

func objectAt(m map[string]any, key string) map[string]any {
	if m == nil {
		return nil
	}
	v, _ := m[key].(map[string]any)
	return v
}

func stringAt(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
