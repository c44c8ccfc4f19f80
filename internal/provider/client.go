// Package provider is the single chokepoint for calls to the aviation data
// provider (AeroDataBox on RapidAPI). Calls are serialised through a Gate and
// every failure is classified into one of the sentinel errors in errors.go.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/bUNYrAbbito/Air-Tracker-Flight-Analytics/internal/metrics"
)

const (
	defaultBaseURL = "https://aerodatabox.p.rapidapi.com"
	defaultHost    = "aerodatabox.p.rapidapi.com"

	// Response bodies above this size are treated as malformed.
	maxBodyBytes = 16 << 20
)

// Config holds provider client settings.
type Config struct {
	BaseURL     string        `yaml:"base_url"`
	Host        string        `yaml:"host"`
	APIKey      string        `yaml:"api_key"`
	Timeout     time.Duration `yaml:"timeout"`
	MinInterval time.Duration `yaml:"min_interval"` // Minimum gap between any two calls.
	MaxAttempts int           `yaml:"max_attempts"` // Attempts per call for transient failures.
	BaseBackoff time.Duration `yaml:"base_backoff"`
	MaxBackoff  time.Duration `yaml:"max_backoff"`
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		BaseURL:     defaultBaseURL,
		Host:        defaultHost,
		Timeout:     10 * time.Second,
		MinInterval: time.Second,
		MaxAttempts: 3,
		BaseBackoff: 2 * time.Second,
		MaxBackoff:  30 * time.Second,
	}
}

// ApplyDefaults fills zero fields from DefaultConfig.
func (c *Config) ApplyDefaults() {
	d := DefaultConfig()
	if c.BaseURL == "" {
		c.BaseURL = d.BaseURL
	}
	if c.Host == "" {
		c.Host = d.Host
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.MinInterval == 0 {
		c.MinInterval = d.MinInterval
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = d.BaseBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = d.MaxBackoff
	}
}

// Client issues throttled, classified GET requests to the provider.
type Client struct {
	cfg     Config
	http    *http.Client
	gate    Gate
	clock   Clock
	log     *zap.Logger
	metrics *metrics.Metrics
}

// Option customises a Client.
type Option func(*Client)

// WithGate replaces the default interval gate.
func WithGate(g Gate) Option { return func(c *Client) { c.gate = g } }

// WithClock sets the clock used for backoff sleeps and the default gate.
func WithClock(clk Clock) Option { return func(c *Client) { c.clock = clk } }

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.http = h } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(c *Client) { c.log = l } }

// WithMetrics records per-attempt metrics.
func WithMetrics(m *metrics.Metrics) Option { return func(c *Client) { c.metrics = m } }

// New creates a provider client.
func New(cfg Config, opts ...Option) *Client {
	cfg.ApplyDefaults()
	c := &Client{
		cfg:   cfg,
		clock: SystemClock(),
		log:   zap.NewNop(),
	}
	for _, o := range opts {
		o(c)
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: cfg.Timeout}
	}
	if c.gate == nil {
		c.gate = NewIntervalGate(cfg.MinInterval, c.clock)
	}
	c.cfg.BaseURL = strings.TrimRight(c.cfg.BaseURL, "/")
	return c
}

// Fetch performs a GET against endpoint (a path such as "/airports/iata/DEL")
// and returns the raw JSON body. A 2xx body that is not valid JSON yields
// ErrMalformed.
func (c *Client) Fetch(ctx context.Context, endpoint string, params url.Values) ([]byte, error) {
	body, err := c.get(ctx, "raw", endpoint, params)
	if err != nil {
		return nil, err
	}
	if !json.Valid(body) {
		return nil, &CallError{Endpoint: endpoint, Status: http.StatusOK, Attempts: 1, Err: ErrMalformed}
	}
	return body, nil
}

// Airport looks up one airport by IATA code.
func (c *Client) Airport(ctx context.Context, code string) (*AirportDoc, error) {
	var doc AirportDoc
	if err := c.getJSON(ctx, "airport", "/airports/iata/"+url.PathEscape(code), nil, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Departures fetches the live movement feed for one airport.
func (c *Client) Departures(ctx context.Context, code string) (*DeparturesDoc, error) {
	var doc DeparturesDoc
	if err := c.getJSON(ctx, "departures", "/flights/airports/iata/"+url.PathEscape(code), nil, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Aircraft looks up an airframe by registration.
func (c *Client) Aircraft(ctx context.Context, registration string) (*AircraftDoc, error) {
	var doc AircraftDoc
	if err := c.getJSON(ctx, "aircraft", "/aircrafts/reg/"+url.PathEscape(registration), nil, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Delays fetches the rolling delay summary for one airport.
func (c *Client) Delays(ctx context.Context, code string) (*DelayDoc, error) {
	var doc DelayDoc
	if err := c.getJSON(ctx, "delays", "/airports/iata/"+url.PathEscape(code)+"/delays", nil, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

func (c *Client) getJSON(ctx context.Context, kind, endpoint string, params url.Values, v any) error {
	body, err := c.get(ctx, kind, endpoint, params)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return &CallError{Endpoint: endpoint, Status: http.StatusOK, Attempts: 1, Err: ErrMalformed, Cause: err}
	}
	return nil
}

// get runs the retry loop. Every attempt passes the gate.
func (c *Client) get(ctx context.Context, kind, endpoint string, params url.Values) ([]byte, error) {
	for attempt := 1; ; attempt++ {
		if err := c.gate.Wait(ctx); err != nil {
			return nil, err
		}

		start := c.clock.Now()
		body, status, retryAfter, err := c.once(ctx, endpoint, params)
		c.metrics.ObserveCall(kind, outcome(err), c.clock.Now().Sub(start))
		if err == nil {
			return body, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}

		callErr := &CallError{Endpoint: endpoint, Status: status, Attempts: attempt}
		var cause *causeError
		if errors.As(err, &cause) {
			callErr.Err, callErr.Cause = cause.class, cause.err
		} else {
			callErr.Err = err
		}

		if !Retryable(callErr.Err) || attempt >= c.cfg.MaxAttempts {
			return nil, callErr
		}

		wait := c.backoff(attempt)
		if retryAfter > wait {
			wait = retryAfter
		}
		c.log.Warn("provider call failed, retrying",
			zap.String("endpoint", endpoint),
			zap.Int("status", status),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", wait),
			zap.Error(callErr.Err),
		)
		if err := c.clock.Sleep(ctx, wait); err != nil {
			return nil, err
		}
	}
}

// causeError pairs a classification with the underlying error.
type causeError struct {
	class error
	err   error
}

func (e *causeError) Error() string { return e.class.Error() + ": " + e.err.Error() }

func (e *causeError) Unwrap() error { return e.class }

func (c *Client) once(ctx context.Context, endpoint string, params url.Values) ([]byte, int, time.Duration, error) {
	u := c.cfg.BaseURL + endpoint
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-rapidapi-key", c.cfg.APIKey)
	req.Header.Set("x-rapidapi-host", c.cfg.Host)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, 0, &causeError{class: ErrUnavailable, err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNoContent || resp.StatusCode == http.StatusNotFound:
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, resp.StatusCode, 0, ErrNotFound
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, resp.StatusCode, 0, ErrUnauthorized
	case resp.StatusCode == http.StatusTooManyRequests:
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, resp.StatusCode, parseRetryAfter(resp.Header.Get("Retry-After")), ErrRateLimited
	case resp.StatusCode >= 500:
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, resp.StatusCode, 0, ErrUnavailable
	case resp.StatusCode >= 400:
		// The provider answers 400 for codes it does not recognise.
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, resp.StatusCode, 0, ErrNotFound
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, resp.StatusCode, 0, &causeError{class: ErrMalformed, err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes+1))
	if err != nil {
		return nil, resp.StatusCode, 0, &causeError{class: ErrUnavailable, err: err}
	}
	if len(body) > maxBodyBytes {
		return nil, resp.StatusCode, 0, &causeError{class: ErrMalformed, err: fmt.Errorf("body exceeds %d bytes", maxBodyBytes)}
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return nil, resp.StatusCode, 0, ErrNotFound
	}
	return body, resp.StatusCode, 0, nil
}

func (c *Client) backoff(attempt int) time.Duration {
	d := c.cfg.BaseBackoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= c.cfg.MaxBackoff {
			return c.cfg.MaxBackoff
		}
	}
	return d
}

func parseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrMalformed):
		return "malformed"
	default:
		return "unavailable"
	}
}
