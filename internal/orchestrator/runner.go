package orchestrator

import (
	"context"
	"errors"
	"sync"
	"time"

	"zwsentry/internal/host"
	"zwsentry/internal/logging"
	"zwsentry/internal/verification"
)

// ErrNotRunning is returned by Post after the runner has stopped.
var ErrNotRunning = errors.New("orchestrator: runner not running")

// Bridge is the verification transport used by the runner.
type Bridge interface {
	Verify(ctx context.Context, text string) verification.Outcome
}

// RunnerConfig configures a Runner.
type RunnerConfig struct {
	// IdleDelay is how long a re-sweep waits after the first mutation of a
	// batch.
	IdleDelay time.Duration
	// FrameInterval is the hover scan cadence.
	FrameInterval time.Duration
	// Bridge may be nil; verify requests then complete as unavailable.
	Bridge Bridge
	// Store persists mode switches made through SwitchMode. Optional.
	Store host.ModeStore
	// OnVerification is called from the verification goroutine after each
	// completed call.
	OnVerification func(text string, out verification.Outcome)
	// Buffer is the event queue capacity.
	Buffer int
}

// DefaultRunnerConfig returns the scheduling defaults.
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		IdleDelay:     250 * time.Millisecond,
		FrameInterval: 16 * time.Millisecond,
		Buffer:        100,
	}
}

// Runner owns a Controller and feeds it events from a single goroutine.
// It implements host.Scheduler with timers and Verifier with a goroutine
// per request; both answer by posting events back onto the queue.
type Runner struct {
	cfg    RunnerConfig
	ctrl   *Controller
	events chan Event
	done   chan struct{}
	logger *logging.Logger

	mu      sync.Mutex
	ctx     context.Context
	running bool
	wg      sync.WaitGroup
}

// NewRunner creates a runner. The Scheduler and Verifier in deps are
// replaced by the runner itself.
func NewRunner(deps Deps, cfg RunnerConfig) *Runner {
	if cfg.Buffer <= 0 {
		cfg.Buffer = 100
	}
	r := &Runner{
		cfg:    cfg,
		events: make(chan Event, cfg.Buffer),
		done:   make(chan struct{}),
		logger: logging.OrDefault(deps.Logger).WithComponent("runner"),
		ctx:    context.Background(),
	}
	deps.Scheduler = r
	deps.Verifier = r
	r.ctrl = New(deps)
	return r
}

// Post queues an event. It blocks while the queue is full and fails once
// the runner has stopped.
func (r *Runner) Post(ev Event) error {
	select {
	case <-r.done:
		return ErrNotRunning
	default:
	}
	select {
	case r.events <- ev:
		return nil
	case <-r.done:
		return ErrNotRunning
	}
}

// SwitchMode persists m when a store is configured and queues the
// transition.
func (r *Runner) SwitchMode(ctx context.Context, m host.Mode) error {
	if r.cfg.Store != nil {
		stored, err := r.cfg.Store.SetMode(ctx, m)
		if err != nil {
			return err
		}
		m = stored
	}
	return r.Post(SetMode{Mode: m})
}

// Run processes events until ctx is cancelled. On exit the controller is
// switched off so every highlight and listener is removed.
func (r *Runner) Run(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return errors.New("orchestrator: runner already running")
	}
	r.running = true
	r.ctx = ctx
	r.mu.Unlock()

	r.logger.Info("runner started")
	defer func() {
		r.ctrl.Handle(SetMode{Mode: host.ModeOff})
		close(r.done)
		r.wg.Wait()
		r.logger.Info("runner stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-r.events:
			r.ctrl.Handle(ev)
		}
	}
}

// Running reports whether Run is processing events.
func (r *Runner) Running() bool {
	r.mu.Lock()
	running := r.running
	r.mu.Unlock()
	if !running {
		return false
	}
	select {
	case <-r.done:
		return false
	default:
		return true
	}
}

// RequestIdle implements host.Scheduler.
func (r *Runner) RequestIdle(t host.Ticket) {
	time.AfterFunc(r.cfg.IdleDelay, func() {
		_ = r.Post(IdleFired{Ticket: t})
	})
}

// RequestFrame implements host.Scheduler.
func (r *Runner) RequestFrame(t host.Ticket) {
	time.AfterFunc(r.cfg.FrameInterval, func() {
		_ = r.Post(FrameFired{Ticket: t})
	})
}

// Submit implements Verifier.
func (r *Runner) Submit(t host.Ticket, text string) {
	r.mu.Lock()
	ctx := r.ctx
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		var out verification.Outcome
		if r.cfg.Bridge == nil {
			out = verification.Unavailable("no verification endpoint configured")
		} else {
			out = r.cfg.Bridge.Verify(ctx, text)
		}
		if r.cfg.OnVerification != nil {
			r.cfg.OnVerification(text, out)
		}
		_ = r.Post(VerificationCompleted{Ticket: t, Outcome: out})
	}()
}
