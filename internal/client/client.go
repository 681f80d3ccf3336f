// Package client talks to the remote merge/inference task service.
//
// Every enqueueing endpoint answers with a task id; results are fetched from
// /tasks/{id}. The client only performs single requests; polling lives in the
// tasks package.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"evopanel/pkg/types"
)

// Remote endpoints.
const (
	EndpointListModels = "/list_models"
	EndpointMerge      = "/merge"
	EndpointGenerate   = "/generate"
	endpointTasks      = "/tasks/"
)

// DefaultBaseURL is the public deployment of the service.
const DefaultBaseURL = "https://tcmmichaelb139-evolutiontransformer.hf.space"

// maxErrorBody bounds how much of an error response is kept.
const maxErrorBody = 4096

// Config holds client tunables. Zero values select defaults.
type Config struct {
	BaseURL string
	// Timeout applies to each individual request via context.
	Timeout time.Duration
	// RequestsPerSecond limits outgoing requests across all callers (0 = unlimited).
	RequestsPerSecond float64
	ConnectTimeout    time.Duration
}

// Client is safe for concurrent use. It keeps the service's session cookie.
type Client struct {
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
	limiter    *rate.Limiter
	log        zerolog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger used for request tracing.
func WithLogger(l zerolog.Logger) Option { return func(c *Client) { c.log = l } }

// WithHTTPClient replaces the underlying HTTP client (tests, custom transports).
func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.httpClient = h } }

// New constructs a Client.
func New(cfg Config, opts ...Option) (*Client, error) {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	if _, err := url.ParseRequestURI(base); err != nil {
		return nil, fmt.Errorf("invalid service url %q: %w", cfg.BaseURL, err)
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.ConnectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	c := &Client{
		baseURL: base,
		timeout: cfg.Timeout,
		// Deadlines come from the per-request context, not Client.Timeout.
		httpClient: &http.Client{Transport: tr, Jar: jar},
		log:        zerolog.Nop(),
	}
	if cfg.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	for _, o := range opts {
		o(c)
	}
	if c.httpClient.Jar == nil {
		c.httpClient.Jar = jar
	}
	return c, nil
}

// BaseURL returns the service origin.
func (c *Client) BaseURL() string { return c.baseURL }

// ListModels enqueues a model-listing job.
func (c *Client) ListModels(ctx context.Context) (string, error) {
	return c.Submit(ctx, EndpointListModels, nil)
}

// Merge enqueues a merge job.
func (c *Client) Merge(ctx context.Context, req types.MergeRequest) (string, error) {
	return c.Submit(ctx, EndpointMerge, req)
}

// Generate enqueues an inference job.
func (c *Client) Generate(ctx context.Context, req types.GenerateRequest) (string, error) {
	return c.Submit(ctx, EndpointGenerate, req)
}

// Submit POSTs payload (JSON, may be nil) to endpoint and returns the task id.
func (c *Client) Submit(ctx context.Context, endpoint string, payload any) (string, error) {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return "", fmt.Errorf("encode %s payload: %w", endpoint, err)
		}
		body = bytes.NewReader(b)
	}
	resp, err := c.do(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", newHTTPError(resp)
	}
	var sr types.SubmitResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return "", &TransportError{Op: "decode " + endpoint + " response", Cause: err}
	}
	if sr.Error != "" {
		return "", &RejectedError{Reason: sr.Error}
	}
	if sr.TaskID == "" {
		return "", &TransportError{Op: endpoint + ": no task id received"}
	}
	c.log.Debug().Str("endpoint", endpoint).Str("task_id", sr.TaskID).Msg("task submitted")
	return sr.TaskID, nil
}

// Poll fetches the current status of a task. The service reports a failed
// task as HTTP 500 with {"detail": reason}; that is returned as *TaskFailure.
func (c *Client) Poll(ctx context.Context, taskID string) (types.TaskStatus, error) {
	var st types.TaskStatus
	resp, err := c.do(ctx, http.MethodGet, endpointTasks+url.PathEscape(taskID), nil)
	if err != nil {
		return st, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusInternalServerError {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		var detail struct {
			Detail *string `json:"detail"`
		}
		if json.Unmarshal(b, &detail) == nil && detail.Detail != nil {
			return st, &TaskFailure{TaskID: taskID, Reason: *detail.Detail}
		}
		return st, &HTTPError{Code: resp.StatusCode, StatusText: http.StatusText(resp.StatusCode), Body: string(b)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return st, newHTTPError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return st, &TransportError{Op: "decode task status", Cause: err}
	}
	c.log.Debug().Str("task_id", taskID).Str("status", string(st.Status)).Msg("task status")
	return st, nil
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		// Released when the body is closed.
		return c.send(ctx, cancel, method, path, body)
	}
	return c.send(ctx, func() {}, method, path, body)
}

func (c *Client) send(ctx context.Context, cancel context.CancelFunc, method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		cancel()
		return nil, &TransportError{Op: "build request", Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		cancel()
		// Caller cancellation is not a transport failure.
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &TransportError{Op: method + " " + path, Cause: err}
	}
	resp.Body = &cancelBody{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

type cancelBody struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelBody) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}

func newHTTPError(resp *http.Response) *HTTPError {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &HTTPError{Code: resp.StatusCode, StatusText: http.StatusText(resp.StatusCode), Body: string(b)}
}
