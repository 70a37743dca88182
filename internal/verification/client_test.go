package verification

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zwsentry/internal/logging"
	"zwsentry/internal/metrics"
)

func newTestClient(t *testing.T, url string, mutate ...func(*Config)) *Client {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Endpoint = url
	cfg.Timeout = 2 * time.Second
	cfg.RetryDelay = time.Millisecond
	for _, m := range mutate {
		m(&cfg)
	}
	c, err := New(cfg, WithLogger(logging.Discard()))
	require.NoError(t, err)
	return c
}

func jsonHandler(status int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}
}

func TestVerifyVerified(t *testing.T) {
	srv := httptest.NewServer(jsonHandler(200, `{
		"verified": true,
		"sha256_hash": "ab12",
		"issuer_id": 1,
		"company": "Acme AI",
		"eth_address": null,
		"block_num": 17,
		"tx_hash": "0123456789abcdef0123456789abcdef",
		"timestamp": "2026-01-02T03:04:05Z",
		"watermark": {"detected": true, "tag_count": 1, "payloads": []}
	}`))
	defer srv.Close()

	out := newTestClient(t, srv.URL).Verify(context.Background(), "hello")

	require.Equal(t, StatusVerified, out.Status, "cause: %v", out.Cause)
	assert.Equal(t, "Acme AI", out.Provenance.Company)
	assert.Equal(t, int64(17), out.Provenance.BlockNumber)
	assert.Equal(t, "2026-01-02T03:04:05Z", out.Provenance.Timestamp)
	assert.Equal(t, int64(1), out.Provenance.IssuerID)
	assert.Equal(t, "", out.Provenance.EthAddress)
	assert.NotEmpty(t, out.RequestID)
	assert.Contains(t, out.Summary(), "Verified: Acme AI, block #17")
	assert.Contains(t, out.Summary(), "01234567...89abcdef")
}

func TestVerifyNotVerified(t *testing.T) {
	srv := httptest.NewServer(jsonHandler(200, `{"verified": false, "sha256_hash": "ff", "reason": "Hash not found on chain."}`))
	defer srv.Close()

	out := newTestClient(t, srv.URL).Verify(context.Background(), "hello")

	assert.Equal(t, StatusNotVerified, out.Status)
	assert.Equal(t, "Hash not found on chain.", out.Reason)
	assert.Equal(t, "ff", out.Provenance.SHA256Hash)
	assert.Equal(t, "Not verified: Hash not found on chain.", out.Summary())
}

func TestVerifyNotVerifiedWithoutReason(t *testing.T) {
	srv := httptest.NewServer(jsonHandler(200, `{"verified": false}`))
	defer srv.Close()

	out := newTestClient(t, srv.URL).Verify(context.Background(), "hello")
	assert.Equal(t, StatusNotVerified, out.Status)
	assert.Equal(t, "no reason given", out.Reason)
}

func TestVerifySendsRawText(t *testing.T) {
	text := "a\u200B\u2063b\u200Cc"
	var gotText, gotRequestID, gotContentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Text string `json:"text"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotText = body.Text
		gotRequestID = r.Header.Get("X-Request-ID")
		gotContentType = r.Header.Get("Content-Type")
		assert.Equal(t, http.MethodPost, r.Method)
		jsonHandler(200, `{"verified": false, "reason": "nope"}`)(w, r)
	}))
	defer srv.Close()

	out := newTestClient(t, srv.URL).Verify(context.Background(), text)

	assert.Equal(t, text, gotText)
	assert.Equal(t, out.RequestID, gotRequestID)
	assert.Equal(t, "application/json", gotContentType)
}

func TestVerifyServerErrorRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	out := newTestClient(t, srv.URL, func(c *Config) { c.RetryAttempts = 2 }).Verify(context.Background(), "x")

	assert.Equal(t, StatusUnavailable, out.Status)
	assert.True(t, errors.Is(out.Cause, ErrUnavailable))
	assert.Contains(t, out.Cause.Error(), "unexpected status 502")
	assert.Equal(t, int32(3), calls.Load())
}

func TestVerifyRecoversOnRetry(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		jsonHandler(200, `{"verified": false, "reason": "unknown"}`)(w, r)
	}))
	defer srv.Close()

	out := newTestClient(t, srv.URL).Verify(context.Background(), "x")
	assert.Equal(t, StatusNotVerified, out.Status)
	assert.Equal(t, int32(2), calls.Load())
}

func TestVerifyClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	out := newTestClient(t, srv.URL).Verify(context.Background(), "x")
	assert.Equal(t, StatusUnavailable, out.Status)
	assert.Equal(t, int32(1), calls.Load())
}

func TestVerifyMalformedResponses(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", `<html>oops</html>`},
		{"missing verified", `{"company": "Acme"}`},
		{"verified wrong type", `{"verified": "yes"}`},
		{"verified without provenance", `{"verified": true, "company": "Acme"}`},
		{"negative block", `{"verified": true, "company": "Acme", "block_num": -1, "timestamp": "t", "tx_hash": "h"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(jsonHandler(200, tt.body))
			defer srv.Close()

			out := newTestClient(t, srv.URL).Verify(context.Background(), "x")
			assert.Equal(t, StatusUnavailable, out.Status)
			assert.ErrorIs(t, out.Cause, ErrUnavailable)
			assert.Contains(t, out.Summary(), "Verification unavailable")
		})
	}
}

func TestVerifyUnreachable(t *testing.T) {
	srv := httptest.NewServer(jsonHandler(200, `{}`))
	url := srv.URL
	srv.Close()

	out := newTestClient(t, url, func(c *Config) { c.RetryAttempts = 0 }).Verify(context.Background(), "x")
	assert.Equal(t, StatusUnavailable, out.Status)
	assert.ErrorIs(t, out.Cause, ErrUnavailable)
}

func TestVerifyCanceledContext(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := newTestClient(t, srv.URL, func(c *Config) {
		c.RetryAttempts = 5
		c.RetryDelay = time.Hour
	}).Verify(ctx, "x")

	assert.Equal(t, StatusUnavailable, out.Status)
	assert.ErrorIs(t, out.Cause, ErrUnavailable)
	assert.Equal(t, int32(0), calls.Load())
}

func TestNewRejectsBadConfig(t *testing.T) {
	for _, cfg := range []Config{
		{Endpoint: "ftp://example.com", Timeout: time.Second},
		{Endpoint: "http://", Timeout: time.Second},
		{Endpoint: "http://example.com", Timeout: 0},
		{Endpoint: "http://example.com", Timeout: time.Second, RetryAttempts: -1},
	} {
		_, err := New(cfg)
		assert.Error(t, err, "%+v", cfg)
	}
}

func TestReconfigure(t *testing.T) {
	first := httptest.NewServer(jsonHandler(200, `{"verified": false, "reason": "first"}`))
	defer first.Close()
	second := httptest.NewServer(jsonHandler(200, `{"verified": false, "reason": "second"}`))
	defer second.Close()

	c := newTestClient(t, first.URL)
	assert.Equal(t, "first", c.Verify(context.Background(), "x").Reason)

	cfg := c.Config()
	cfg.Endpoint = second.URL
	require.NoError(t, c.Reconfigure(cfg))
	assert.Equal(t, "second", c.Verify(context.Background(), "x").Reason)

	cfg.Endpoint = "not a url"
	assert.Error(t, c.Reconfigure(cfg))
	assert.Equal(t, second.URL, c.Config().Endpoint)
}

func TestVerifyRecordsMetrics(t *testing.T) {
	srv := httptest.NewServer(jsonHandler(200, `{"verified": false, "reason": "r"}`))
	defer srv.Close()

	m := metrics.New()
	cfg := DefaultConfig()
	cfg.Endpoint = srv.URL
	c, err := New(cfg, WithLogger(logging.Discard()), WithMetrics(m))
	require.NoError(t, err)

	c.Verify(context.Background(), "x")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Verifications.WithLabelValues("not-verified")))
}

func TestHashText(t *testing.T) {
	assert.Equal(t, "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", HashText("hello"))
}
