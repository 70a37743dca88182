package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zwsentry/internal/host"
	"zwsentry/internal/logging"
	"zwsentry/internal/textsource"
	"zwsentry/internal/verification"
)

type memModeStore struct {
	mu   sync.Mutex
	mode host.Mode
	err  error
}

func (s *memModeStore) GetMode(ctx context.Context) (host.Mode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode, s.err
}

func (s *memModeStore) SetMode(ctx context.Context, m host.Mode) (host.Mode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return host.ModeOff, s.err
	}
	s.mode = m
	return m, nil
}

func startRunner(t *testing.T, f *fakeHost, cfg RunnerConfig) (*Runner, context.CancelFunc, <-chan error) {
	t.Helper()
	d := f.deps()
	d.Logger = logging.Discard()
	r := NewRunner(d, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- r.Run(ctx) }()
	t.Cleanup(cancel)
	return r, cancel, errc
}

func fastConfig() RunnerConfig {
	cfg := DefaultRunnerConfig()
	cfg.IdleDelay = 5 * time.Millisecond
	cfg.FrameInterval = time.Millisecond
	return cfg
}

func (f *fakeHost) annotationCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.annotations)
}

func (f *fakeHost) verificationCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.verifications)
}

func (f *fakeHost) summaryCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.summaries)
}

func TestRunnerResweepsAfterIdle(t *testing.T) {
	f := newFakeHost()
	f.setRegions(host.Region{ID: "a", Text: "clean"})
	r, _, _ := startRunner(t, f, fastConfig())

	require.NoError(t, r.Post(SetMode{Mode: host.ModeAutoDetect}))
	require.Eventually(t, func() bool {
		return f.listeners()[host.ListenMutations]
	}, time.Second, time.Millisecond)
	assert.Equal(t, 0, f.annotationCount())

	f.setRegions(host.Region{ID: "a", Text: "now\u200B tainted"})
	require.NoError(t, r.Post(ContentMutated{Records: 1}))
	require.NoError(t, r.Post(ContentMutated{Records: 2}))

	require.Eventually(t, func() bool {
		return f.annotationCount() == 1
	}, time.Second, time.Millisecond)
}

func TestRunnerHoverThroughFrames(t *testing.T) {
	f := newFakeHost()
	r, _, _ := startRunner(t, f, fastConfig())

	require.NoError(t, r.Post(SetMode{Mode: host.ModeSelectionScan}))
	require.NoError(t, r.Post(PointerMove{Target: textsource.Target{ID: "p", Block: "x\u200B"}}))

	require.Eventually(t, func() bool {
		return f.summaryCount() == 1
	}, time.Second, time.Millisecond)
}

func TestRunnerVerificationRoundTrip(t *testing.T) {
	f := newFakeHost()
	bridge := &fakeBridge{out: verification.Outcome{
		Status:     verification.StatusVerified,
		Provenance: verification.Provenance{Company: "Acme", BlockNumber: 7},
	}}

	var mu sync.Mutex
	var seen []string
	cfg := fastConfig()
	cfg.Bridge = bridge
	cfg.OnVerification = func(text string, out verification.Outcome) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, text)
	}
	r, _, _ := startRunner(t, f, cfg)

	require.NoError(t, r.Post(SetMode{Mode: host.ModeSelectionScan}))
	require.NoError(t, r.Post(PointerUp{Target: textsource.Target{Selection: " a\u200Bb "}}))
	require.NoError(t, r.Post(VerifyRequested{}))

	require.Eventually(t, func() bool {
		return f.verificationCount() == 2
	}, time.Second, time.Millisecond)

	view, _ := f.lastVerification()
	assert.False(t, view.Pending)
	assert.Equal(t, verification.StatusVerified, view.Outcome.Status)
	assert.Equal(t, int64(7), view.Outcome.Provenance.BlockNumber)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"a\u200Bb"}, seen)
}

func TestRunnerWithoutBridgeReportsUnavailable(t *testing.T) {
	f := newFakeHost()
	r, _, _ := startRunner(t, f, fastConfig())

	require.NoError(t, r.Post(SetMode{Mode: host.ModeSelectionScan}))
	require.NoError(t, r.Post(PointerUp{Target: textsource.Target{Selection: "a\u200Bb"}}))
	require.NoError(t, r.Post(VerifyRequested{}))

	require.Eventually(t, func() bool {
		return f.verificationCount() == 2
	}, time.Second, time.Millisecond)

	view, _ := f.lastVerification()
	assert.Equal(t, verification.StatusUnavailable, view.Outcome.Status)
	assert.ErrorIs(t, view.Outcome.Cause, verification.ErrUnavailable)
}

func TestRunnerSwitchModePersists(t *testing.T) {
	f := newFakeHost()
	store := &memModeStore{}
	cfg := fastConfig()
	cfg.Store = store
	r, _, _ := startRunner(t, f, cfg)

	require.NoError(t, r.SwitchMode(context.Background(), host.ModeSelectionScan))
	m, err := store.GetMode(context.Background())
	require.NoError(t, err)
	assert.Equal(t, host.ModeSelectionScan, m)

	require.Eventually(t, func() bool {
		return len(f.listeners()) == 4
	}, time.Second, time.Millisecond)

	store.err = errors.New("disk full")
	assert.Error(t, r.SwitchMode(context.Background(), host.ModeOff))
}

func TestRunnerStopTearsDown(t *testing.T) {
	f := newFakeHost()
	f.setRegions(host.Region{ID: "a", Text: "x\u200B"})
	r, cancel, errc := startRunner(t, f, fastConfig())

	require.NoError(t, r.Post(SetMode{Mode: host.ModeAutoDetect}))
	require.Eventually(t, func() bool {
		return f.annotationCount() == 1
	}, time.Second, time.Millisecond)
	assert.True(t, r.Running())

	cancel()
	select {
	case err := <-errc:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("runner did not stop")
	}

	assert.Equal(t, 0, f.annotationCount())
	assert.Empty(t, f.listeners())
	assert.ErrorIs(t, r.Post(ContentMutated{Records: 1}), ErrNotRunning)
	assert.False(t, r.Running())
}
