// Package provider is the authenticated gateway to the IOPGPS tracking API.
package provider

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

	"github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-tracking/internal/geo"
	"github.com/ukydev/fleet-tracking/internal/models"
	"golang.org/x/sync/singleflight"
)

const (
	// refreshMargin is how long before expiry a token is treated as expired,
	// so a request never leaves with a token that lapses in flight.
	refreshMargin = 60 * time.Second

	defaultTokenTTL = 3600 * time.Second
	defaultTimeout  = 10 * time.Second

	appIDHeader = "X-App-Id"
)

// Config holds the provider connection settings.
type Config struct {
	BaseURL string
	AppID   string
	AppKey  string
	Timeout time.Duration
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithClock replaces time.Now, mainly for token expiry tests.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// Client wraps the provider endpoints and hides the token lifecycle.
// It is safe for concurrent use.
type Client struct {
	baseURL string
	appID   string
	appKey  string
	http    *http.Client
	timeout time.Duration
	log     *logrus.Entry
	now     func() time.Time

	mu      sync.RWMutex
	token   string
	expiry  time.Time
	refresh singleflight.Group
}

// NewClient creates a provider client. A nil logger uses the logrus standard logger.
func NewClient(cfg Config, logger *logrus.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	c := &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		appID:   cfg.AppID,
		appKey:  cfg.AppKey,
		http:    &http.Client{Timeout: timeout},
		timeout: timeout,
		log:     logger.WithField("component", "provider"),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type tokenRequest struct {
	AppID  string `json:"appId"`
	AppKey string `json:"appKey"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	Token       string `json:"token"`
	ExpiresIn   int64  `json:"expires_in"`
}

// Authenticate fetches a fresh bearer token. On failure the previous token,
// if any, is kept and the error is logged and returned.
func (c *Client) Authenticate(ctx context.Context) error {
	err := c.authenticate(ctx)
	if err != nil {
		c.log.WithError(err).Error("Provider authentication failed")
	}
	return err
}

func (c *Client) authenticate(ctx context.Context) error {
	body, err := json.Marshal(tokenRequest{AppID: c.appID, AppKey: c.appKey})
	if err != nil {
		return fmt.Errorf("marshal token request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/auth/token", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{Method: http.MethodPost, Path: "/api/auth/token", Code: resp.StatusCode}
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return fmt.Errorf("%w: token response: %v", ErrMalformedResponse, err)
	}
	token := tr.AccessToken
	if token == "" {
		token = tr.Token
	}
	if token == "" {
		return fmt.Errorf("%w: token response has no token", ErrMalformedResponse)
	}
	ttl := time.Duration(tr.ExpiresIn) * time.Second
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}

	c.mu.Lock()
	c.token = token
	c.expiry = c.now().Add(ttl)
	c.mu.Unlock()

	c.log.WithField("expires_in", ttl.String()).Debug("Provider token refreshed")
	return nil
}

func (c *Client) needsRefresh() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token == "" || !c.now().Before(c.expiry.Add(-refreshMargin))
}

// ensureAuthenticated refreshes the token when it is absent or close to
// expiry. Concurrent callers share a single refresh, which runs detached
// from any one caller's cancellation and is bounded by the client timeout.
// A failed refresh is not fatal: the request proceeds and fails at the
// provider.
func (c *Client) ensureAuthenticated(ctx context.Context) {
	if !c.needsRefresh() {
		return
	}
	done := c.refresh.DoChan("token", func() (interface{}, error) {
		if !c.needsRefresh() {
			return nil, nil
		}
		refreshCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()
		return nil, c.Authenticate(refreshCtx)
	})
	select {
	case <-done:
	case <-ctx.Done():
	}
}

func (c *Client) setHeaders(req *http.Request) {
	c.mu.RLock()
	token := c.token
	c.mu.RUnlock()

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set(appIDHeader, c.appID)
}

// send performs an authenticated request and returns the body of a 2xx response.
func (c *Client) send(ctx context.Context, method, path string, query url.Values, payload interface{}) ([]byte, error) {
	c.ensureAuthenticated(ctx)

	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{Method: method, Path: path, Code: resp.StatusCode}
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrUnavailable, err)
	}
	return data, nil
}

// fetch GETs path and decodes the first present envelope field into out.
func (c *Client) fetch(ctx context.Context, op, path string, query url.Values, out interface{}, fields []string) error {
	err := c.fetchEnvelope(ctx, http.MethodGet, path, query, nil, out, fields)
	if err != nil {
		c.logFailure(op, err)
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (c *Client) fetchEnvelope(ctx context.Context, method, path string, query url.Values, payload, out interface{}, fields []string) error {
	body, err := c.send(ctx, method, path, query, payload)
	if err != nil {
		return err
	}
	env, err := parseEnvelope(body)
	if err != nil {
		return err
	}
	return env.decode(out, fields...)
}

func (c *Client) logFailure(op string, err error) {
	c.log.WithError(err).WithField("op", op).Warn("Provider request failed")
}

// Distance is geo.Distance, exposed for callers holding only the client.
func (c *Client) Distance(lat1, lng1, lat2, lng2 float64) float64 {
	return geo.Distance(lat1, lng1, lat2, lng2)
}

// EstimateArrival is geo.EstimateArrival, exposed for callers holding only the client.
func (c *Client) EstimateArrival(pos models.Position, destLat, destLng float64) models.ETA {
	return geo.EstimateArrival(pos, destLat, destLng)
}
