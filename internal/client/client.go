// Package client talks to a running analysis server over HTTP.
package client

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

	"golang.org/x/sync/errgroup"

	"github.com/t0270293/uk-source-attribution-fcm/internal/adapters/repository"
	"github.com/t0270293/uk-source-attribution-fcm/internal/domain/analysis"
)

const (
	defaultTimeout      = 30 * time.Second
	defaultPollInterval = 200 * time.Millisecond
)

// Sentinel kinds for client errors.
var (
	ErrStatus       = errors.New("unexpected status")
	ErrBackpressure = errors.New("server queue is full")
	ErrNotFound     = errors.New("analysis not found")
)

// SubmitResult is the server's answer to a submission.
type SubmitResult struct {
	RunID     string `json:"run_id"`
	Status    string `json:"status"`
	Duplicate bool   `json:"duplicate"`
}

// Client wraps http.Client with the API routes.
type Client struct {
	baseURL      string
	http         *http.Client
	pollInterval time.Duration
}

// Option applies a configuration option to the Client.
type Option func(*Client)

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// WithPollInterval sets how often Wait polls a pending run.
func WithPollInterval(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.pollInterval = d
		}
	}
}

// WithHTTPClient replaces the underlying client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.http = h
		}
	}
}

// New creates a client for the server at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		http:         &http.Client{Timeout: defaultTimeout},
		pollInterval: defaultPollInterval,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Health checks that the server answers its probe.
func (c *Client) Health(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodGet, "/healthz", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: health check returned %d", ErrStatus, resp.StatusCode)
	}
	return nil
}

// Submit posts one analysis request.
func (c *Client) Submit(ctx context.Context, req analysis.Request) (SubmitResult, error) { //nolint:gocritic // hugeParam: requests are immutable values
	var out SubmitResult
	body, err := json.Marshal(req)
	if err != nil {
		return out, fmt.Errorf("marshal request: %w", err)
	}
	resp, err := c.do(ctx, http.MethodPost, "/analyses", body)
	if err != nil {
		return out, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusAccepted, http.StatusOK:
		return out, decode(resp.Body, &out)
	case http.StatusTooManyRequests:
		return out, fmt.Errorf("%w: %s", ErrBackpressure, message(resp.Body))
	default:
		return out, fmt.Errorf("%w: submit returned %d: %s", ErrStatus, resp.StatusCode, message(resp.Body))
	}
}

// SubmitAll posts requests with at most concurrency in flight. Results are
// in request order.
func (c *Client) SubmitAll(ctx context.Context, reqs []analysis.Request, concurrency int) ([]SubmitResult, error) {
	out := make([]SubmitResult, len(reqs))
	g, gctx := errgroup.WithContext(ctx)
	if concurrency > 0 {
		g.SetLimit(concurrency)
	}
	for i := range reqs {
		g.Go(func() error {
			res, err := c.Submit(gctx, reqs[i])
			if err != nil {
				return fmt.Errorf("request %d (%s): %w", i, reqs[i].ID, err)
			}
			out[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Get fetches the record of a run.
func (c *Client) Get(ctx context.Context, runID string) (repository.Record, error) {
	var rec repository.Record
	resp, err := c.do(ctx, http.MethodGet, "/analyses/"+runID, nil)
	if err != nil {
		return rec, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return rec, decode(resp.Body, &rec)
	case http.StatusNotFound:
		return rec, fmt.Errorf("%w: %s", ErrNotFound, runID)
	default:
		return rec, fmt.Errorf("%w: get returned %d: %s", ErrStatus, resp.StatusCode, message(resp.Body))
	}
}

// Wait polls a run until it leaves pending or ctx ends.
func (c *Client) Wait(ctx context.Context, runID string) (repository.Record, error) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		rec, err := c.Get(ctx, runID)
		if err != nil {
			return rec, err
		}
		if rec.Status != repository.StatusPending {
			return rec, nil
		}
		select {
		case <-ctx.Done():
			return rec, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	return resp, nil
}

func decode(r io.Reader, v any) error {
	if err := json.NewDecoder(r).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// message extracts the server's error message, falling back to the raw body.
func message(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, 4096))
	var e struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(b, &e) == nil && e.Message != "" {
		return e.Message
	}
	return strings.TrimSpace(string(b))
}
