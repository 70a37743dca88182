package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zwsentry/internal/payload"
	"zwsentry/internal/tagscan"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// testEnv points the data directory and config file at a temp dir and
// returns it.
func testEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("ZWSENTRY_DATA_DIR", dir)
	t.Setenv("ZWSENTRY_CONFIG", filepath.Join(dir, "config.toml"))
	t.Setenv("ZWSENTRY_LOG_LEVEL", "error")
	return dir
}

func writeConfig(t *testing.T, dir, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.toml"), []byte(content), 0o600))
}

func runApp(t *testing.T, stdin string, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := newApp(strings.NewReader(stdin), &stdout, &stderr).run(args)
	return code, stdout.String(), stderr.String()
}

func validTag(t *testing.T) string {
	t.Helper()
	tag, err := tagscan.FormatMetadata(payload.Metadata{SchemaVersion: 1, IssuerID: 7, ModelID: 42, ModelVersionID: 3, KeyID: 1})
	require.NoError(t, err)
	return tag
}

func registryServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

const verifiedBody = `{
	"verified": true,
	"company": "Acme AI",
	"block_num": 17,
	"tx_hash": "0123456789abcdef0123456789abcdef",
	"timestamp": "2026-01-02T03:04:05Z"
}`

func TestUsage(t *testing.T) {
	testEnv(t)

	code, _, stderr := runApp(t, "")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "USAGE:")

	code, _, _ = runApp(t, "", "help")
	assert.Equal(t, 0, code)

	code, _, stderr = runApp(t, "", "frobnicate")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "Unknown command: frobnicate")
}

func TestVersion(t *testing.T) {
	testEnv(t)
	code, stdout, _ := runApp(t, "", "version")
	assert.Equal(t, 0, code)
	assert.Equal(t, "zwsentry dev\n", stdout)
}

func TestRegistry(t *testing.T) {
	testEnv(t)
	code, stdout, _ := runApp(t, "", "registry")
	require.Equal(t, 0, code)

	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	assert.Len(t, lines, 16)
	assert.Contains(t, stdout, "U+200B   ZWSP  bit0      ZERO WIDTH SPACE")
	assert.Contains(t, stdout, "U+2063   IS    tagStart  INVISIBLE SEPARATOR")
	assert.Contains(t, stdout, "U+034F   CGJ   none      COMBINING GRAPHEME JOINER")
}

func TestScanStdin(t *testing.T) {
	testEnv(t)
	code, stdout, stderr := runApp(t, "intro "+validTag(t)+" outro", "scan")
	require.Equal(t, 0, code, stderr)

	assert.Contains(t, stdout, "=== Scan: stdin ===")
	assert.Contains(t, stdout, "Verdict:     watermarked (tag-valid)")
	assert.Contains(t, stdout, "Tags:        1 (1 valid, 0 invalid)")
	assert.Contains(t, stdout, "issuer=7 model=42 version=3 key=1")
	assert.Contains(t, stdout, "- valid CRC metadata payload recovered")
}

func TestScanCleanFile(t *testing.T) {
	dir := testEnv(t)
	path := filepath.Join(dir, "clean.txt")
	require.NoError(t, os.WriteFile(path, []byte("nothing hidden"), 0o644))

	code, stdout, _ := runApp(t, "", "scan", path)
	require.Equal(t, 0, code)
	assert.Contains(t, stdout, "=== Scan: "+path+" ===")
	assert.Contains(t, stdout, "Verdict:     clean (none)")
	assert.NotContains(t, stdout, "Histogram:")
}

func TestScanJSON(t *testing.T) {
	testEnv(t)
	code, stdout, _ := runApp(t, "a\u200Db"+validTag(t), "scan", "-json")
	require.Equal(t, 0, code)

	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(stdout), &got))
	assert.Equal(t, "stdin", got["source"])
	assert.Equal(t, "watermarked", got["verdict"])
	assert.Equal(t, "tag-valid", got["reason"])
	assert.Len(t, got["text_hash"], 64)

	tags, ok := got["tags"].([]any)
	require.True(t, ok)
	require.Len(t, tags, 1)
	p := tags[0].(map[string]any)["payload"].(map[string]any)
	assert.Equal(t, true, p["valid"])
	assert.Equal(t, 42.0, p["model_id"])

	hist := got["histogram"].(map[string]any)
	assert.Equal(t, 1.0, hist["ZWJ"])
}

func TestScanErrors(t *testing.T) {
	dir := testEnv(t)

	code, _, stderr := runApp(t, "", "scan", filepath.Join(dir, "missing.txt"))
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "Error:")

	writeConfig(t, dir, "[scan]\nmax_text_bytes = 4\n")
	code, _, stderr = runApp(t, "too long", "scan")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "exceeds 4 bytes")

	writeConfig(t, dir, "[scan]\ndefault_mode = \"sideways\"\n")
	code, _, stderr = runApp(t, "x", "scan")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "scan.default_mode")
}

func TestStrip(t *testing.T) {
	testEnv(t)
	code, stdout, _ := runApp(t, "he\u200Bllo\u00AD "+validTag(t)+"world\n", "strip")
	require.Equal(t, 0, code)
	assert.Equal(t, "hello world\n", stdout)
}

func TestVerifyVerified(t *testing.T) {
	testEnv(t)
	srv := registryServer(t, http.StatusOK, verifiedBody)
	t.Setenv("ZWSENTRY_VERIFY_ENDPOINT", srv.URL)

	code, stdout, stderr := runApp(t, "  text "+validTag(t)+"\n", "verify")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "Verified: Acme AI, block #17")
	assert.Contains(t, stdout, "Company:     Acme AI")
	assert.Contains(t, stdout, "Request ID:")

	code, stdout, _ = runApp(t, "", "history")
	require.Equal(t, 0, code)
	assert.Contains(t, stdout, "=== Verification History ===")
	assert.Contains(t, stdout, "Acme AI, block 17")
}

func TestVerifyNotVerified(t *testing.T) {
	testEnv(t)
	srv := registryServer(t, http.StatusOK, `{"verified": false, "reason": "Hash not found on chain."}`)
	t.Setenv("ZWSENTRY_VERIFY_ENDPOINT", srv.URL)

	code, stdout, _ := runApp(t, "text", "verify")
	require.Equal(t, 0, code)
	assert.Contains(t, stdout, "Not verified: Hash not found on chain.")
}

func TestVerifyUnavailable(t *testing.T) {
	dir := testEnv(t)
	srv := registryServer(t, http.StatusInternalServerError, `{}`)
	writeConfig(t, dir, fmt.Sprintf("[verification]\nenabled = true\nendpoint = %q\nretry_attempts = 0\n", srv.URL))

	code, stdout, stderr := runApp(t, "text", "verify")
	assert.Equal(t, 1, code)
	assert.Contains(t, stdout, "Verification unavailable")
	assert.Contains(t, stderr, "Error:")
}

func TestVerifyDisabled(t *testing.T) {
	dir := testEnv(t)
	writeConfig(t, dir, "[verification]\nenabled = false\n")

	code, stdout, _ := runApp(t, "text", "verify")
	assert.Equal(t, 1, code)
	assert.Contains(t, stdout, "verification is disabled")
}

func TestVerifyEmpty(t *testing.T) {
	testEnv(t)
	code, _, stderr := runApp(t, "  \n\t", "verify")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "nothing to verify")
}

func TestMode(t *testing.T) {
	testEnv(t)

	code, stdout, _ := runApp(t, "", "mode")
	require.Equal(t, 0, code)
	assert.Equal(t, "Mode: off (default)\n", stdout)

	code, stdout, _ = runApp(t, "", "mode", "selection")
	require.Equal(t, 0, code)
	assert.Equal(t, "Mode set to selectionScan\n", stdout)

	code, stdout, _ = runApp(t, "", "mode")
	require.Equal(t, 0, code)
	assert.Equal(t, "Mode: selectionScan\n", stdout)

	code, _, _ = runApp(t, "", "mode", "sideways")
	assert.Equal(t, 1, code)
}

func TestModeDefaultFromEnv(t *testing.T) {
	testEnv(t)
	t.Setenv("ZWSENTRY_MODE", "auto")

	code, stdout, _ := runApp(t, "", "mode")
	require.Equal(t, 0, code)
	assert.Equal(t, "Mode: autoDetect (default)\n", stdout)
}

func TestHistory(t *testing.T) {
	testEnv(t)

	code, stdout, _ := runApp(t, "", "history")
	require.Equal(t, 0, code)
	assert.Equal(t, "No scans recorded.\n", stdout)

	for _, text := range []string{"plain", "x\u200Dy", validTag(t)} {
		code, _, _ = runApp(t, text, "scan")
		require.Equal(t, 0, code)
	}

	code, stdout, _ = runApp(t, "", "history", "-limit", "2")
	require.Equal(t, 0, code)
	assert.Contains(t, stdout, "=== Scan History ===")
	assert.Contains(t, stdout, "watermarked")
	assert.Contains(t, stdout, "noise-only")
	assert.NotContains(t, stdout, "clean", "limit keeps the newest rows")
	assert.Contains(t, stdout, "issuer 7, model 42 v3, key 1")
}

func TestScanHistoryDisabled(t *testing.T) {
	dir := testEnv(t)
	writeConfig(t, dir, "[scan]\nrecord_history = false\n")

	code, _, _ := runApp(t, "x\u200Dy", "scan")
	require.Equal(t, 0, code)
	_, stdout, _ := runApp(t, "", "history")
	assert.Equal(t, "No scans recorded.\n", stdout)
}

func TestRunRejectsFile(t *testing.T) {
	dir := testEnv(t)
	path := filepath.Join(dir, "file.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	code, _, stderr := runApp(t, "", "run", path)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "is not a directory")
}

// startSession runs an interactive session over dir and returns its
// stdout, a writer feeding its stdin and a channel with its result.
func startSession(t *testing.T, dir, forced string) (*syncBuffer, *io.PipeWriter, <-chan error) {
	t.Helper()
	pr, pw := io.Pipe()
	out := &syncBuffer{}
	a := newApp(pr, out, &syncBuffer{})
	require.NoError(t, a.setup())

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- a.session(ctx, dir, forced) }()
	t.Cleanup(func() {
		cancel()
		_ = pw.Close()
	})
	return out, pw, errc
}

func waitSession(t *testing.T, errc <-chan error) {
	t.Helper()
	select {
	case err := <-errc:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("session did not stop")
	}
}

func TestWatchSession(t *testing.T) {
	testEnv(t)
	t.Setenv("ZWSENTRY_STORAGE_TYPE", "memory")
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("marked "+validTag(t)), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "clean.txt"), []byte("clean"), 0o644))

	out, pw, errc := startSession(t, root, "auto")

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "[tainted-watermark] a.txt:")
	}, 3*time.Second, 10*time.Millisecond)
	assert.NotContains(t, out.String(), "clean.txt")

	require.NoError(t, os.WriteFile(filepath.Join(root, "b.txt"), []byte("x\u200Dy"), 0o644))
	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "[tainted] b.txt:")
	}, 3*time.Second, 10*time.Millisecond)

	_, err := io.WriteString(pw, ":quit\n")
	require.NoError(t, err)
	waitSession(t, errc)
	assert.Contains(t, out.String(), "autoDetect mode")
}

func TestInspectSession(t *testing.T) {
	testEnv(t)
	srv := registryServer(t, http.StatusOK, verifiedBody)
	t.Setenv("ZWSENTRY_VERIFY_ENDPOINT", srv.URL)

	out, pw, errc := startSession(t, t.TempDir(), "selection")

	line := ":select " + strconv.Quote("copied "+validTag(t)) + "\n"
	require.Eventually(t, func() bool {
		if _, err := io.WriteString(pw, line); err != nil {
			return false
		}
		return strings.Contains(out.String(), "+ watermarked (tag-valid)")
	}, 3*time.Second, 20*time.Millisecond)

	_, err := io.WriteString(pw, ":verify\n")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "| Verified: Acme AI")
	}, 3*time.Second, 10*time.Millisecond)

	_, err = io.WriteString(pw, ":quit\n")
	require.NoError(t, err)
	waitSession(t, errc)

	_, stdout, _ := runApp(t, "", "history")
	assert.Contains(t, stdout, "Acme AI, block 17")
}
