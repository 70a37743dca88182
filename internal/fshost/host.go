package fshost

import (
	"bufio"
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"zwsentry/internal/host"
	"zwsentry/internal/logging"
	"zwsentry/internal/orchestrator"
	"zwsentry/internal/textsource"
	"zwsentry/internal/watcher"
)

// Runner is the part of orchestrator.Runner the host drives.
type Runner interface {
	Post(ev orchestrator.Event) error
	SwitchMode(ctx context.Context, m host.Mode) error
}

// Options configures a Host.
type Options struct {
	Document DocumentOptions
	// Window is the watcher batching window.
	Window time.Duration
	Logger *logging.Logger
}

// Host composes the directory document, the console renderer and the
// subscription state. It implements host.Document, host.Renderer and
// host.Subscriber.
type Host struct {
	*Document
	*Console

	opts   Options
	logger *logging.Logger

	mu        sync.Mutex
	runner    Runner
	listening map[host.Listener]bool
	watch     *watcher.Watcher
}

// New returns a host over root printing to out.
func New(root string, out io.Writer, opts Options) *Host {
	h := &Host{
		Document:  NewDocument(root, opts.Document),
		Console:   NewConsole(out),
		opts:      opts,
		logger:    logging.OrDefault(opts.Logger).WithComponent("fshost"),
		listening: make(map[host.Listener]bool),
	}
	h.Document.SetAnnotated(h.Console.Annotated)
	return h
}

// Bind connects the host to the runner that receives its events. Call
// before the first mode switch.
func (h *Host) Bind(r Runner) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.runner = r
}

// Listening reports whether l is subscribed.
func (h *Host) Listening(l host.Listener) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.listening[l]
}

// Listen implements host.Subscriber. Subscribing to mutations starts a
// filesystem watcher on the root.
func (h *Host) Listen(l host.Listener) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.listening[l] {
		return
	}
	h.listening[l] = true
	if l != host.ListenMutations {
		return
	}

	w, err := watcher.New(h.Document.Root(), watcher.Options{
		Recursive: h.opts.Document.Recursive,
		Exclude:   h.opts.Document.Exclude,
		Window:    h.opts.Window,
		Logger:    h.opts.Logger,
	})
	if err == nil {
		err = w.Start()
	}
	if err != nil {
		h.logger.Error("start watcher failed", "root", h.Document.Root(), "error", err)
		if w != nil {
			_ = w.Stop()
		}
		return
	}
	h.watch = w
	go h.forward(w, h.runner)
}

// Unlisten implements host.Subscriber.
func (h *Host) Unlisten(l host.Listener) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.listening[l] {
		return
	}
	delete(h.listening, l)
	if l == host.ListenMutations && h.watch != nil {
		if err := h.watch.Stop(); err != nil {
			h.logger.Warn("stop watcher failed", "error", err)
		}
		h.watch = nil
	}
}

// forward turns watcher batches into mutation events until the watcher is
// stopped.
func (h *Host) forward(w *watcher.Watcher, r Runner) {
	for b := range w.Batches() {
		if r == nil {
			continue
		}
		if err := r.Post(orchestrator.ContentMutated{Records: b.Records}); err != nil {
			return
		}
	}
}

// Dispatch turns one command into orchestrator events.
func (h *Host) Dispatch(ctx context.Context, cmd Command) error {
	h.mu.Lock()
	r := h.runner
	h.mu.Unlock()
	if r == nil {
		return errors.New("fshost: host is not bound to a runner")
	}

	switch cmd.Kind {
	case CmdQuit:
		return ErrQuit
	case CmdHelp:
		h.Printf("%s", Help)
		return nil
	case CmdMode:
		return r.SwitchMode(ctx, cmd.Mode)
	case CmdVerify:
		return r.Post(orchestrator.VerifyRequested{})
	case CmdClick:
		return h.post(r, host.ListenPointerDown, orchestrator.PointerDown{})
	case CmdKeyUp:
		return h.post(r, host.ListenKeyUp, orchestrator.KeyUp{})
	case CmdSelect:
		if !h.Listening(host.ListenPointerUp) {
			h.Printf("selection scanning is off (:mode selection)")
			return nil
		}
		// A drag: press outside any open summary, then release over the
		// selection.
		if err := h.post(r, host.ListenPointerDown, orchestrator.PointerDown{}); err != nil {
			return err
		}
		return h.post(r, host.ListenPointerUp, orchestrator.PointerUp{
			Target: textsource.Target{ID: "stdin", Selection: cmd.Text},
		})
	case CmdField:
		f, err := h.Document.ReadField(cmd.Path, cmd.Field)
		target := textsource.Target{ID: cmd.Path + "#" + cmd.Field, Gone: err != nil}
		if err == nil {
			target.Field = &textsource.FieldSelection{FieldID: f.ID, Value: f.Value, Start: cmd.Start, End: cmd.End}
		}
		return h.post(r, host.ListenPointerUp, orchestrator.PointerUp{Target: target})
	case CmdHover:
		text, err := h.Document.ReadRegion(cmd.Path)
		return h.post(r, host.ListenPointerMove, orchestrator.PointerMove{
			Target: textsource.Target{ID: cmd.Path, Block: text, Gone: err != nil},
		})
	}
	return nil
}

// post delivers ev only while its listener is subscribed, the way a page
// only fires handlers that are attached.
func (h *Host) post(r Runner, l host.Listener, ev orchestrator.Event) error {
	if !h.Listening(l) {
		return nil
	}
	return r.Post(ev)
}

// ReadCommands dispatches stdin lines until EOF, ctx is done or :quit.
// Parse and dispatch errors are printed and reading continues.
func (h *Host) ReadCommands(ctx context.Context, in io.Reader) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	errc := make(chan error, 1)
	go func() {
		sc := bufio.NewScanner(in)
		sc.Buffer(make([]byte, 64*1024), 1024*1024)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		errc <- sc.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errc:
			return err
		case line := <-lines:
			cmd, err := ParseCommand(line)
			if err != nil {
				h.Printf("error: %v", err)
				continue
			}
			switch err := h.Dispatch(ctx, cmd); {
			case errors.Is(err, ErrQuit):
				return ErrQuit
			case errors.Is(err, orchestrator.ErrNotRunning):
				return nil
			case err != nil:
				h.Printf("error: %v", err)
			}
		}
	}
}

// Close stops the watcher if one is running.
func (h *Host) Close() error {
	h.Unlisten(host.ListenMutations)
	return nil
}

var (
	_ host.Document   = (*Host)(nil)
	_ host.Renderer   = (*Host)(nil)
	_ host.Subscriber = (*Host)(nil)
)
