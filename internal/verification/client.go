// Package verification asks a remote registry whether a text was
// registered on chain.
//
// The client posts {"text": ...} to the configured endpoint and validates the
// JSON answer against an embedded schema. Verify never returns an error:
// transport failures, non-2xx statuses and malformed bodies all become a
// StatusUnavailable outcome. Transient failures (transport errors and 5xx)
// are retried with a fixed delay.
package verification

import (
	"bytes"
	"context"
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"zwsentry/internal/logging"
	"zwsentry/internal/metrics"
)

//go:embed response.schema.json
var responseSchema []byte

const (
	schemaURL       = "https://zwsentry.local/schema/verify-response.json"
	maxResponseSize = 1 << 20

	// DefaultEndpoint is the registry verify route of a local demo registry.
	DefaultEndpoint = "http://127.0.0.1:5050/api/registry/verify"
)

// Config controls the HTTP transport.
type Config struct {
	Endpoint      string
	Timeout       time.Duration
	RetryAttempts int
	RetryDelay    time.Duration
	UserAgent     string
}

// DefaultConfig returns the defaults used when no configuration file sets
// them.
func DefaultConfig() Config {
	return Config{
		Endpoint:      DefaultEndpoint,
		Timeout:       10 * time.Second,
		RetryAttempts: 2,
		RetryDelay:    500 * time.Millisecond,
		UserAgent:     "zwsentry",
	}
}

func (c Config) validate() error {
	u, err := url.Parse(c.Endpoint)
	if err != nil {
		return fmt.Errorf("invalid endpoint: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid endpoint %q: scheme must be http or https", c.Endpoint)
	}
	if u.Host == "" {
		return fmt.Errorf("invalid endpoint %q: missing host", c.Endpoint)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.RetryAttempts < 0 {
		return fmt.Errorf("retry attempts must not be negative")
	}
	return nil
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client. Its timeout is left untouched.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc; c.ownClient = false }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(c *Client) { c.logger = logging.OrDefault(l).WithComponent("verification") }
}

// WithMetrics records every call.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// Client talks to the verification registry. It is safe for concurrent
// use; Reconfigure may run while calls are in flight.
type Client struct {
	mu         sync.RWMutex
	cfg        Config
	httpClient *http.Client
	ownClient  bool
	schema     *jsonschema.Schema
	logger     *logging.Logger
	metrics    *metrics.Metrics
}

// New creates a client.
func New(cfg Config, opts ...Option) (*Client, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(schemaURL, bytes.NewReader(responseSchema)); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	schema, err := compiler.Compile(schemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		ownClient:  true,
		schema:     schema,
		logger:     logging.Default().WithComponent("verification"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Config returns the active configuration.
func (c *Client) Config() Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg
}

// Reconfigure swaps the endpoint, timeout and retry policy. Calls already
// in flight finish with the previous settings.
func (c *Client) Reconfigure(cfg Config) error {
	if err := cfg.validate(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg = cfg
	if c.ownClient {
		c.httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	c.logger.Info("verification client reconfigured", "endpoint", cfg.Endpoint, "timeout", cfg.Timeout)
	return nil
}

// HashText returns the hex SHA-256 of text, the digest the registry keys
// records by.
func HashText(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

type verifyRequest struct {
	Text string `json:"text"`
}

type verifyResponse struct {
	Verified bool `json:"verified"`
	Provenance
	IssuerID *int64 `json:"issuer_id"`
	Reason   string `json:"reason"`
}

// Verify submits text and waits for the registry's answer. The text is
// sent exactly as given.
func (c *Client) Verify(ctx context.Context, text string) Outcome {
	c.mu.RLock()
	cfg := c.cfg
	hc := c.httpClient
	c.mu.RUnlock()

	requestID := uuid.NewString()
	log := c.logger.WithRequestID(requestID)
	start := time.Now()

	var out Outcome
	for attempt := 0; ; attempt++ {
		var retry bool
		out, retry = c.attempt(ctx, hc, cfg, requestID, text)
		if !retry || attempt >= cfg.RetryAttempts {
			break
		}
		log.Debug("verification attempt failed, retrying", "attempt", attempt+1, "error", out.Cause)
		if err := sleep(ctx, cfg.RetryDelay); err != nil {
			out = Unavailable("%v", err)
			break
		}
	}
	out.RequestID = requestID

	switch out.Status {
	case StatusUnavailable:
		log.Warn("verification unavailable", "error", out.Cause)
	default:
		log.Info("verification completed", "status", out.Status.String())
	}
	c.metrics.ObserveVerification(out.Status.String(), time.Since(start))
	return out
}

// attempt performs one request. The bool reports whether the failure is
// worth retrying.
func (c *Client) attempt(ctx context.Context, hc *http.Client, cfg Config, requestID, text string) (Outcome, bool) {
	body, err := json.Marshal(verifyRequest{Text: text})
	if err != nil {
		return Unavailable("encode request: %v", err), false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return Unavailable("build request: %v", err), false
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID)
	if cfg.UserAgent != "" {
		req.Header.Set("User-Agent", cfg.UserAgent)
	}

	resp, err := hc.Do(req)
	if err != nil {
		return Unavailable("request failed: %v", err), ctx.Err() == nil
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return Unavailable("read response: %v", err), true
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Unavailable("unexpected status %d", resp.StatusCode), resp.StatusCode >= 500
	}

	return c.decode(data), false
}

func (c *Client) decode(data []byte) Outcome {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return Unavailable("malformed response: %v", err)
	}
	if err := c.schema.Validate(doc); err != nil {
		return Unavailable("response does not match schema: %v", err)
	}

	var r verifyResponse
	if err := json.Unmarshal(data, &r); err != nil {
		return Unavailable("malformed response: %v", err)
	}

	if !r.Verified {
		reason := r.Reason
		if reason == "" {
			reason = "no reason given"
		}
		return Outcome{Status: StatusNotVerified, Reason: reason, Provenance: Provenance{SHA256Hash: r.SHA256Hash}}
	}

	p := r.Provenance
	if r.IssuerID != nil {
		p.IssuerID = *r.IssuerID
	}
	return Outcome{Status: StatusVerified, Provenance: p}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
