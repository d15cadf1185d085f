package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-resty/resty/v2"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/dennisjooo/moodlist-sub000/internal/models"
	"github.com/dennisjooo/moodlist-sub000/internal/shared"
	"github.com/dennisjooo/moodlist-sub000/internal/status"
)

const (
	defaultTimeout   = 15 * time.Second
	defaultCacheSize = 64
	retryCount       = 3
	retryWait        = 100 * time.Millisecond
	retryMaxWait     = 2 * time.Second
)

// WorkflowClient implements [WorkflowAPI] over HTTP.
type WorkflowClient struct {
	baseURL string
	wsURL   string
	client  *resty.Client
	stream  *http.Client
	tokens  oauth2.TokenSource
	results *lru.Cache[string, *models.WorkflowResults]
	logger  *log.Logger
}

var _ WorkflowAPI = (*WorkflowClient)(nil)

// NewWorkflowClient creates a client from the API configuration. base may be nil, in which case
// [http.DefaultTransport] is used.
func NewWorkflowClient(cfg shared.APIConfig, base http.RoundTripper, logger *log.Logger) (*WorkflowClient, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("%w: api.base_url is required", shared.ErrMissingConfig)
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("%w: api.base_url: %v", shared.ErrInvalidConfig, err)
	}

	wsURL, err := websocketBase(baseURL, cfg.WebSocketURL)
	if err != nil {
		return nil, err
	}

	if base == nil {
		base = http.DefaultTransport
	}
	if logger == nil {
		logger = shared.DiscardLogger()
	}

	var tokens oauth2.TokenSource
	transport := base
	if cfg.Token != "" {
		tokens = oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token, TokenType: "Bearer"})
		transport = &oauth2.Transport{Source: tokens, Base: base}
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	client := resty.NewWithClient(&http.Client{Transport: transport}).
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetRetryCount(retryCount).
		SetRetryWaitTime(retryWait).
		SetRetryMaxWaitTime(retryMaxWait)
	client.AddRetryCondition(retryCondition)

	if cfg.RequestsPerSecond > 0 {
		burst := max(cfg.Burst, 1)
		limiter := rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
		client.OnBeforeRequest(func(_ *resty.Client, r *resty.Request) error {
			return limiter.Wait(r.Context())
		})
	}

	size := cfg.ResultsCacheSize
	if size <= 0 {
		size = defaultCacheSize
	}
	cache, err := lru.New[string, *models.WorkflowResults](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create results cache: %w", err)
	}

	return &WorkflowClient{
		baseURL: baseURL,
		wsURL:   wsURL,
		client:  client,
		stream:  &http.Client{Transport: transport},
		tokens:  tokens,
		results: cache,
		logger:  logger,
	}, nil
}

// websocketBase derives the ws(s) base from the http(s) base unless one is configured.
func websocketBase(baseURL, configured string) (string, error) {
	if configured != "" {
		return strings.TrimRight(configured, "/"), nil
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("%w: api.base_url: %v", shared.ErrInvalidConfig, err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("%w: unsupported scheme %q in api.base_url", shared.ErrInvalidConfig, u.Scheme)
	}
	return u.String(), nil
}

// retryCondition retries idempotent requests on network errors and transient statuses.
func retryCondition(r *resty.Response, err error) bool {
	if r != nil && r.Request != nil && r.Request.Method == http.MethodPost {
		return false
	}
	if err != nil {
		return true
	}
	if r == nil {
		return false
	}
	code := r.StatusCode()
	return code >= 500 || code == http.StatusTooManyRequests || code == http.StatusRequestTimeout
}

// Start queues a workflow for req.MoodPrompt.
func (c *WorkflowClient) Start(ctx context.Context, req models.StartRequest) (*models.StartResponse, error) {
	if strings.TrimSpace(req.MoodPrompt) == "" {
		return nil, fmt.Errorf("%w: mood prompt is required", shared.ErrInvalidInput)
	}

	var out models.StartResponse
	if err := c.do(ctx, http.MethodPost, "/start", req, &out); err != nil {
		return nil, err
	}
	if out.SessionID == "" {
		return nil, fmt.Errorf("%w: start response without session_id", shared.ErrAPIRequest)
	}
	c.logger.Info("workflow started", "session_id", out.SessionID, "status", out.Status)
	return &out, nil
}

func (c *WorkflowClient) Status(ctx context.Context, sessionID string) (*models.WorkflowStatus, error) {
	var out models.WorkflowStatus
	if err := c.do(ctx, http.MethodGet, "/status/"+url.PathEscape(sessionID), nil, &out); err != nil {
		return nil, err
	}
	if out.SessionID == "" {
		out.SessionID = sessionID
	}
	return &out, nil
}

// Results returns final results, serving terminal sessions from the cache.
func (c *WorkflowClient) Results(ctx context.Context, sessionID string) (*models.WorkflowResults, error) {
	if cached, ok := c.results.Get(sessionID); ok {
		c.logger.Debug("results cache hit", "session_id", sessionID)
		return cached, nil
	}

	var out models.WorkflowResults
	if err := c.do(ctx, http.MethodGet, "/results/"+url.PathEscape(sessionID), nil, &out); err != nil {
		return nil, err
	}
	if out.SessionID == "" {
		out.SessionID = sessionID
	}
	if status.IsTerminal(out.Status) {
		c.results.Add(sessionID, &out)
	}
	return &out, nil
}

func (c *WorkflowClient) Cancel(ctx context.Context, sessionID string) error {
	if err := c.do(ctx, http.MethodDelete, "/"+url.PathEscape(sessionID), nil, nil); err != nil {
		return err
	}
	c.results.Remove(sessionID)
	c.logger.Info("workflow cancelled", "session_id", sessionID)
	return nil
}

// FetchStatus and FetchResults let the client act as a transport fetcher.
func (c *WorkflowClient) FetchStatus(ctx context.Context, sessionID string) (*models.WorkflowStatus, error) {
	return c.Status(ctx, sessionID)
}

func (c *WorkflowClient) FetchResults(ctx context.Context, sessionID string) (*models.WorkflowResults, error) {
	return c.Results(ctx, sessionID)
}

// StreamURL returns the Server-Sent Events endpoint for a session.
func (c *WorkflowClient) StreamURL(sessionID string) string {
	return c.baseURL + "/stream/" + url.PathEscape(sessionID)
}

// WebSocketURL returns the WebSocket endpoint for a session.
func (c *WorkflowClient) WebSocketURL(sessionID string) string {
	return c.wsURL + "/ws/" + url.PathEscape(sessionID)
}

// StreamClient returns an authenticated client without a timeout, for long-lived streams.
func (c *WorkflowClient) StreamClient() *http.Client {
	return c.stream
}

// AuthHeader returns the headers needed for a WebSocket handshake.
func (c *WorkflowClient) AuthHeader() http.Header {
	h := http.Header{}
	if c.tokens == nil {
		return h
	}
	tok, err := c.tokens.Token()
	if err != nil {
		c.logger.Warn("failed to read token", "error", err)
		return h
	}
	tok.SetAuthHeader(&http.Request{Header: h})
	return h
}

func (c *WorkflowClient) do(ctx context.Context, method, path string, body, result any) error {
	req := c.client.R().SetContext(ctx)
	if body != nil {
		req.SetBody(body)
	}
	if result != nil {
		req.SetResult(result).ForceContentType("application/json")
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %s %s: %v", shared.ErrAPIRequest, method, path, err)
	}
	return responseError(method, path, resp)
}

// errorBody matches the backend's error payloads.
type errorBody struct {
	Detail  any    `json:"detail"`
	Message string `json:"message"`
	Error   string `json:"error"`
}

func responseError(method, path string, resp *resty.Response) error {
	if !resp.IsError() {
		return nil
	}

	detail := strings.TrimSpace(resp.String())
	var eb errorBody
	if err := json.Unmarshal(resp.Body(), &eb); err == nil {
		switch {
		case eb.Detail != nil:
			detail = fmt.Sprint(eb.Detail)
		case eb.Message != "":
			detail = eb.Message
		case eb.Error != "":
			detail = eb.Error
		}
	}

	code := resp.StatusCode()
	switch {
	case code == http.StatusNotFound:
		return fmt.Errorf("%w: %s %s: %s", shared.ErrSessionNotFound, method, path, detail)
	case strings.HasPrefix(path, "/results/") && (code == http.StatusBadRequest || code == http.StatusConflict):
		return fmt.Errorf("%w: %s", shared.ErrResultsUnavailable, detail)
	default:
		return fmt.Errorf("%w: %s %s: status %d: %s", shared.ErrAPIRequest, method, path, code, detail)
	}
}
