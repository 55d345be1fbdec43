package mpesa

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/jamesnjugunah/vendorshop/internal/logging"
	"golang.org/x/sync/singleflight"
)

const (
	SandboxURL    = "https://sandbox.safaricom.co.ke"
	ProductionURL = "https://api.safaricom.co.ke"

	pathToken = "/oauth/v1/generate?grant_type=client_credentials"
	pathPush  = "/mpesa/stkpush/v1/processrequest"
	pathQuery = "/mpesa/stkpushquery/v1/query"
)

type Config struct {
	Environment    string // sandbox | production
	ConsumerKey    string
	ConsumerSecret string
	Shortcode      string
	Passkey        string
	CallbackURL    string
	BaseURL        string // optional override of the environment URL
}

func (c Config) Validate() error {
	var missing []string
	for _, f := range []struct{ name, value string }{
		{"consumer_key", c.ConsumerKey},
		{"consumer_secret", c.ConsumerSecret},
		{"shortcode", c.Shortcode},
		{"passkey", c.Passkey},
		{"callback_url", c.CallbackURL},
	} {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return newError(ErrConfig, "config", 0, "missing "+strings.Join(missing, ", "), nil)
	}
	if c.Environment != "sandbox" && c.Environment != "production" {
		return newError(ErrConfig, "config", 0, fmt.Sprintf("environment must be sandbox or production, got %q", c.Environment), nil)
	}
	return nil
}

// Client talks to the provider. One instance is shared by the whole process;
// it owns the cached bearer token.
type Client struct {
	cfg     Config
	baseURL string
	hc      *http.Client
	now     func() time.Time
	log     *slog.Logger

	tokenTimeout time.Duration
	queryTimeout time.Duration
	pushTimeout  time.Duration

	mu     sync.Mutex
	token  string
	expiry time.Time
	sf     singleflight.Group
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option { return func(c *Client) { c.hc = hc } }
func WithClock(now func() time.Time) Option { return func(c *Client) { c.now = now } }
func WithLogger(l *slog.Logger) Option { return func(c *Client) { c.log = l } }

// WithTimeouts overrides the per-call deadlines (defaults: 30s token/query, 60s push).
func WithTimeouts(token, query, push time.Duration) Option {
	return func(c *Client) {
		c.tokenTimeout, c.queryTimeout, c.pushTimeout = token, query, push
	}
}

func New(cfg Config, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := &Client{
		cfg:          cfg,
		baseURL:      SandboxURL,
		hc:           &http.Client{},
		now:          time.Now,
		tokenTimeout: 30 * time.Second,
		queryTimeout: 30 * time.Second,
		pushTimeout:  60 * time.Second,
	}
	if cfg.Environment == "production" {
		c.baseURL = ProductionURL
	}
	if cfg.BaseURL != "" {
		c.baseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = logging.New("mpesa")
	}
	return c, nil
}

type tokenResp struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   string `json:"expires_in"`
}

const tokenSkew = 60 * time.Second

// AccessToken returns a cached bearer token, fetching a new one when the
// cached one is missing or about to expire. Concurrent callers share one
// fetch, which is detached from any single caller's cancellation and bounded
// by the token timeout; each caller still stops waiting when its own ctx ends.
func (c *Client) AccessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.token != "" && c.now().Before(c.expiry) {
		tok := c.token
		c.mu.Unlock()
		return tok, nil
	}
	c.mu.Unlock()

	shared := context.WithoutCancel(ctx)
	ch := c.sf.DoChan("token", func() (any, error) {
		return c.fetchToken(shared)
	})
	select {
	case <-ctx.Done():
		return "", newError(ErrNetwork, "token", 0, "caller gave up waiting", ctx.Err())
	case r := <-ch:
		if r.Err != nil {
			return "", r.Err
		}
		return r.Val.(string), nil
	}
}

func (c *Client) invalidateToken() {
	c.mu.Lock()
	c.token, c.expiry = "", time.Time{}
	c.mu.Unlock()
}

func (c *Client) fetchToken(ctx context.Context) (string, error) {
	const op = "token"
	ctx, cancel := context.WithTimeout(ctx, c.tokenTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+pathToken, nil)
	if err != nil {
		return "", newError(ErrConfig, op, 0, "build request", err)
	}
	req.SetBasicAuth(c.cfg.ConsumerKey, c.cfg.ConsumerSecret)

	status, body, err := c.do(op, req)
	if err != nil {
		return "", err
	}
	switch {
	case status == http.StatusBadRequest || status == http.StatusUnauthorized:
		return "", newError(ErrCredential, op, status, providerMessage(body), nil)
	case status < 200 || status > 299:
		return "", newError(ErrProvider, op, status, providerMessage(body), nil)
	}

	var tr tokenResp
	if err := json.Unmarshal(body, &tr); err != nil || tr.AccessToken == "" {
		return "", newError(ErrProvider, op, status, "malformed token response", err)
	}
	ttl := parseSeconds(tr.ExpiresIn, 3599)

	c.mu.Lock()
	c.token = tr.AccessToken
	c.expiry = c.now().Add(ttl - tokenSkew)
	c.mu.Unlock()
	return tr.AccessToken, nil
}

// do executes req and reads the body. Transport failures are reported as
// ErrNetwork so callers never see raw net errors.
func (c *Client) do(op string, req *http.Request) (int, []byte, error) {
	start := time.Now()
	resp, err := c.hc.Do(req)
	if err != nil {
		observe(op, "network_error", start)
		return 0, nil, newError(ErrNetwork, op, 0, "", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		observe(op, "network_error", start)
		return resp.StatusCode, nil, newError(ErrNetwork, op, resp.StatusCode, "read body", err)
	}
	observe(op, outcomeFor(resp.StatusCode), start)
	return resp.StatusCode, body, nil
}

// postJSON sends an authenticated JSON request. A 401 invalidates the cached
// token so the next call fetches a fresh one.
func (c *Client) postJSON(ctx context.Context, op, path string, timeout time.Duration, payload any) (int, []byte, error) {
	token, err := c.AccessToken(ctx)
	if err != nil {
		return 0, nil, err
	}

	b, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, newError(ErrConfig, op, 0, "marshal payload", err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(b))
	if err != nil {
		return 0, nil, newError(ErrConfig, op, 0, "build request", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	status, body, err := c.do(op, req)
	if err != nil {
		return 0, nil, err
	}
	if status == http.StatusUnauthorized {
		c.invalidateToken()
		return status, body, newError(ErrCredential, op, status, providerMessage(body), nil)
	}
	return status, body, nil
}

type providerError struct {
	RequestID    string `json:"requestId"`
	ErrorCode    string `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
}

func providerMessage(body []byte) string {
	var pe providerError
	if err := json.Unmarshal(body, &pe); err == nil && pe.ErrorMessage != "" {
		return pe.ErrorMessage
	}
	s := strings.TrimSpace(string(body))
	if len(s) > 256 {
		s = s[:256]
	}
	return s
}

// IsRetryable reports whether err is worth retrying later.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrNetwork)
}
