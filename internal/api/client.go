package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	defaultHost       = "screeps.com"
	defaultSecurePort = 443
	defaultPlainPort  = 21025

	tokenHeader    = "X-Token"
	usernameHeader = "X-Username"
)

// Version is reported in the User-Agent header.
var Version = "dev"

// Credentials locates a server and authenticates against it.
type Credentials struct {
	Host     string
	Port     int
	Secure   bool
	Path     string
	Token    string
	Username string
	Password string
}

// Client talks to the Screeps HTTP API.
type Client struct {
	httpClient *http.Client
	baseURL    *url.URL
	logger     *zap.Logger

	username string
	password string

	mu    sync.Mutex
	token string
}

// ClientOption configures NewClient.
type ClientOption func(*clientConfig)

type clientConfig struct {
	transport   http.RoundTripper
	timeout     time.Duration
	rateLimiter rateLimiter
	logging     bool
	userAgent   string
}

// WithTransport replaces the underlying round tripper (primarily for tests).
func WithTransport(rt http.RoundTripper) ClientOption {
	return func(cfg *clientConfig) {
		cfg.transport = rt
	}
}

// WithTimeout bounds each request. Zero means no timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(cfg *clientConfig) {
		cfg.timeout = d
	}
}

// WithRateLimit throttles outgoing requests. A non-positive rps disables throttling.
func WithRateLimit(rps float64, burst int) ClientOption {
	return func(cfg *clientConfig) {
		if rps <= 0 {
			cfg.rateLimiter = nil
			return
		}
		cfg.rateLimiter = newTokenBucketLimiter(rps, burst)
	}
}

// WithRateLimiter overrides the request rate limiter (primarily for tests).
func WithRateLimiter(limiter rateLimiter) ClientOption {
	return func(cfg *clientConfig) {
		cfg.rateLimiter = limiter
	}
}

// WithLogging controls whether every request is logged.
func WithLogging(enabled bool) ClientOption {
	return func(cfg *clientConfig) {
		cfg.logging = enabled
	}
}

// NewClient builds a client for the server described by creds. Requests are neither
// throttled nor time-bounded unless WithRateLimit or WithTimeout say otherwise.
func NewClient(creds Credentials, logger *zap.Logger, opts ...ClientOption) (*Client, error) {
	if creds.Token == "" && (creds.Username == "" || creds.Password == "") {
		return nil, ErrMissingCredentials
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	cfg := clientConfig{
		transport: http.DefaultTransport,
		logging:   true,
		userAgent: "screeps-deploy/" + Version,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	baseURL, err := BaseURL(creds)
	if err != nil {
		return nil, err
	}

	var rt http.RoundTripper = cfg.transport
	if cfg.logging {
		rt = &loggingTransport{next: rt, logger: logger}
	}
	rt = &rateLimitTransport{next: rt, limiter: cfg.rateLimiter}
	rt = &userAgentTransport{next: rt, userAgent: cfg.userAgent}

	return &Client{
		httpClient: &http.Client{Transport: rt, Timeout: cfg.timeout},
		baseURL:    baseURL,
		logger:     logger,
		username:   creds.Username,
		password:   creds.Password,
		token:      creds.Token,
	}, nil
}

// BaseURL derives the API root for creds. It always ends in a slash.
func BaseURL(creds Credentials) (*url.URL, error) {
	host := strings.TrimSpace(creds.Host)
	if host == "" {
		host = defaultHost
	}

	scheme := "http"
	port := creds.Port
	if creds.Secure {
		scheme = "https"
	}
	if port == 0 {
		port = defaultPlainPort
		if creds.Secure {
			port = defaultSecurePort
		}
	}

	path := strings.TrimSpace(creds.Path)
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if !strings.HasSuffix(path, "/") {
		path += "/"
	}

	raw := fmt.Sprintf("%s://%s:%d%s", scheme, host, port, path)
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse server URL %q: %w", raw, err)
	}
	return u, nil
}

// BaseURL returns the API root the client talks to.
func (c *Client) BaseURL() *url.URL {
	u := *c.baseURL
	return &u
}

// SignIn exchanges the configured username and password for a session token.
func (c *Client) SignIn(ctx context.Context) error {
	if c.username == "" || c.password == "" {
		return ErrMissingCredentials
	}

	body := signInRequest{Email: c.username, Password: c.password}
	req, err := c.prepareRequest(ctx, http.MethodPost, "api/auth/signin", body)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}

	var resp signInResponse
	if _, err := c.do(req, &resp); err != nil {
		return fmt.Errorf("sign in: %w", err)
	}
	if resp.Token == "" {
		return errors.New("sign in: server returned no token")
	}

	c.setToken(resp.Token)
	return nil
}

// SetCode stores modules under branch and returns the server's raw JSON reply.
func (c *Client) SetCode(ctx context.Context, branch string, modules map[string]string) (json.RawMessage, error) {
	if err := c.ensureToken(ctx); err != nil {
		return nil, err
	}

	body := setCodeRequest{Branch: branch, Modules: modules}
	req, err := c.prepareRequest(ctx, http.MethodPost, "api/user/code", body)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}

	raw, err := c.do(req, nil)
	if err != nil {
		return nil, fmt.Errorf("set code: %w", err)
	}
	return json.RawMessage(raw), nil
}

func (c *Client) ensureToken(ctx context.Context) error {
	if c.currentToken() != "" {
		return nil
	}
	return c.SignIn(ctx)
}

func (c *Client) prepareRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	u, err := c.baseURL.Parse(path)
	if err != nil {
		return nil, err
	}

	var buf io.Reader
	if body != nil {
		payload := &bytes.Buffer{}
		enc := json.NewEncoder(payload)
		enc.SetEscapeHTML(false)
		if err := enc.Encode(body); err != nil {
			return nil, err
		}
		buf = payload
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), buf)
	if err != nil {
		return nil, err
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json; charset=utf-8")
	}
	if token := c.currentToken(); token != "" {
		req.Header.Set(tokenHeader, token)
		req.Header.Set(usernameHeader, token)
	}

	return req, nil
}

// do sends req and returns the response body. When v is non-nil the body is also
// decoded into it.
func (c *Client) do(req *http.Request, v any) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, err
	}
	defer resp.Body.Close()

	if rotated := resp.Header.Get(tokenHeader); rotated != "" {
		c.setToken(rotated)
	}
	c.logRateLimit(req, resp)

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &ErrorResponse{StatusCode: resp.StatusCode, Body: string(data)}
	}

	if v != nil && len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, v); err != nil {
			return nil, fmt.Errorf("decode response: %w", err)
		}
	}

	return data, nil
}

func (c *Client) logRateLimit(req *http.Request, resp *http.Response) {
	remaining := resp.Header.Get("X-RateLimit-Remaining")
	if remaining == "" {
		return
	}

	fields := []zap.Field{
		zap.String("path", req.URL.Path),
		zap.String("limit", resp.Header.Get("X-RateLimit-Limit")),
		zap.String("remaining", remaining),
	}
	if reset, err := strconv.ParseInt(resp.Header.Get("X-RateLimit-Reset"), 10, 64); err == nil {
		fields = append(fields, zap.Time("reset", time.Unix(reset, 0).UTC()))
	}
	c.logger.Debug("rate limit status", fields...)
}

func (c *Client) currentToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

func (c *Client) setToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type signInResponse struct {
	OK    int    `json:"ok"`
	Token string `json:"token"`
}

type setCodeRequest struct {
	Branch  string            `json:"branch"`
	Modules map[string]string `json:"modules"`
}
