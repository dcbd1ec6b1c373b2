// Package executor talks to the remote code execution service over HTTP.
package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"codejudge/internal/judge/codec"
	"codejudge/internal/judge/model"
	appErr "codejudge/pkg/errors"
	"codejudge/pkg/utils/logger"

	"go.uber.org/zap"
)

const (
	DefaultBaseURL        = "http://localhost:2358"
	DefaultAuthHeader     = "X-Auth-Token"
	DefaultHealthTimeout  = 5 * time.Second
	DefaultRequestTimeout = 15 * time.Second
	DefaultSyncTimeout    = 30 * time.Second
	DefaultPollInterval   = 1500 * time.Millisecond
	DefaultPollAttempts   = 30
)

// resultFields is the field selection requested when fetching a submission.
const resultFields = "token,status,stdout,stderr,compile_output,message,time,memory,exit_code,exit_signal"

// Config holds remote endpoint and timing settings.
type Config struct {
	BaseURL        string
	AuthHeader     string
	AuthToken      string
	HealthTimeout  time.Duration
	RequestTimeout time.Duration
	SyncTimeout    time.Duration
	PollInterval   time.Duration
	PollAttempts   int
	// Transport overrides the HTTP transport, mainly for tests.
	Transport http.RoundTripper
}

func (c Config) withDefaults() Config {
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.AuthHeader == "" {
		c.AuthHeader = DefaultAuthHeader
	}
	if c.HealthTimeout <= 0 {
		c.HealthTimeout = DefaultHealthTimeout
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.SyncTimeout <= 0 {
		c.SyncTimeout = DefaultSyncTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.PollAttempts <= 0 {
		c.PollAttempts = DefaultPollAttempts
	}
	return c
}

// Client is the shared handle on the remote executor. Build one at startup
// and pass it to every consumer.
type Client struct {
	mu    sync.RWMutex
	cfg   Config
	http  *http.Client
	clock Clock
}

// NewClient creates a client. A nil clock selects RealClock.
func NewClient(cfg Config, clock Clock) *Client {
	if clock == nil {
		clock = RealClock{}
	}
	c := &Client{clock: clock}
	c.Reconfigure(cfg)
	return c
}

// Reconfigure rebuilds the underlying HTTP client. In-flight calls finish on the old one.
func (c *Client) Reconfigure(cfg Config) {
	cfg = cfg.withDefaults()
	transport := cfg.Transport
	if transport == nil {
		transport = http.DefaultTransport.(*http.Transport).Clone()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg = cfg
	c.http = &http.Client{Transport: transport}
}

// Config returns the active configuration.
func (c *Client) Config() Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg
}

type response struct {
	status int
	body   []byte
}

func (r response) ok() bool {
	return r.status >= 200 && r.status < 300
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, payload interface{}, timeout time.Duration) (response, error) {
	c.mu.RLock()
	cfg, httpClient := c.cfg, c.http
	c.mu.RUnlock()

	var reader io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return response{}, fmt.Errorf("encode request body failed: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	target := cfg.BaseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return response{}, fmt.Errorf("build request failed: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if cfg.AuthToken != "" {
		req.Header.Set(cfg.AuthHeader, cfg.AuthToken)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return response{}, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return response{}, fmt.Errorf("read response body failed: %w", err)
	}
	return response{status: resp.StatusCode, body: body}, nil
}

// IsHealthy reports whether the executor lists at least one language.
// Every failure is reported as false.
func (c *Client) IsHealthy(ctx context.Context) bool {
	resp, err := c.do(ctx, http.MethodGet, "/languages", nil, nil, c.Config().HealthTimeout)
	if err != nil {
		logger.Warn(ctx, "executor health probe failed", zap.Error(err))
		return false
	}
	if !resp.ok() {
		logger.Warn(ctx, "executor health probe rejected", zap.Int("status", resp.status))
		return false
	}
	var languages []json.RawMessage
	if err := json.Unmarshal(resp.body, &languages); err != nil {
		logger.Warn(ctx, "executor health probe returned malformed body", zap.Error(err))
		return false
	}
	return len(languages) > 0
}

func submitQuery(wait bool) url.Values {
	q := url.Values{}
	q.Set("base64_encoded", "true")
	q.Set("wait", fmt.Sprintf("%t", wait))
	return q
}

func (c *Client) submit(ctx context.Context, req model.SubmissionRequest, wait bool, timeout time.Duration) (response, error) {
	resp, err := c.do(ctx, http.MethodPost, "/submissions", submitQuery(wait), codec.Encode(req), timeout)
	if err != nil {
		return response{}, appErr.SubmitFailed(err, 0, "")
	}
	if !resp.ok() {
		return response{}, appErr.SubmitFailed(nil, resp.status, strings.TrimSpace(string(resp.body)))
	}
	return resp, nil
}

// SubmitAsync posts one submission without waiting and returns its token.
func (c *Client) SubmitAsync(ctx context.Context, req model.SubmissionRequest) (model.SubmissionToken, error) {
	resp, err := c.submit(ctx, req, false, c.Config().RequestTimeout)
	if err != nil {
		return "", err
	}
	return codec.DecodeToken(resp.body)
}

// SubmitSync posts one submission and lets the executor hold the
// connection until judging finishes.
func (c *Client) SubmitSync(ctx context.Context, req model.SubmissionRequest) (model.JudgementResult, error) {
	resp, err := c.submit(ctx, req, true, c.Config().SyncTimeout)
	if err != nil {
		return model.JudgementResult{}, err
	}
	return codec.Decode(resp.body)
}

// SubmitBatch posts all requests in one call. Tokens come back in request order.
func (c *Client) SubmitBatch(ctx context.Context, reqs []model.SubmissionRequest) ([]model.SubmissionToken, error) {
	q := url.Values{}
	q.Set("base64_encoded", "true")
	resp, err := c.do(ctx, http.MethodPost, "/submissions/batch", q, codec.EncodeBatch(reqs), c.Config().RequestTimeout)
	if err != nil {
		return nil, appErr.SubmitFailed(err, 0, "")
	}
	if !resp.ok() {
		return nil, appErr.SubmitFailed(nil, resp.status, strings.TrimSpace(string(resp.body)))
	}
	tokens, err := codec.DecodeTokens(resp.body)
	if err != nil {
		return nil, err
	}
	if len(tokens) != len(reqs) {
		return nil, appErr.ParseError(nil, "batch tokens").
			WithMessagef("batch returned %d tokens for %d submissions", len(tokens), len(reqs))
	}
	return tokens, nil
}

// GetSubmission fetches the current state of one token.
func (c *Client) GetSubmission(ctx context.Context, token model.SubmissionToken) (model.JudgementResult, error) {
	q := url.Values{}
	q.Set("base64_encoded", "true")
	q.Set("fields", resultFields)
	resp, err := c.do(ctx, http.MethodGet, "/submissions/"+url.PathEscape(token), q, nil, c.Config().RequestTimeout)
	if err != nil {
		return model.JudgementResult{}, err
	}
	if !resp.ok() {
		return model.JudgementResult{}, fmt.Errorf("get submission %s: unexpected status %d", token, resp.status)
	}
	return codec.Decode(resp.body)
}
