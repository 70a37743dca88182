package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"zwsentry/internal/config"
	"zwsentry/internal/fshost"
	"zwsentry/internal/health"
	"zwsentry/internal/host"
	"zwsentry/internal/logging"
	"zwsentry/internal/metrics"
	"zwsentry/internal/orchestrator"
	"zwsentry/internal/store"
	"zwsentry/internal/verification"
)

// cmdRun hosts the orchestrator over a directory and stdin until :quit or
// a signal. forced overrides the persisted mode when set.
func (a *app) cmdRun(args []string, forced string) error {
	if len(args) > 1 {
		return fmt.Errorf("usage: zwsentry run [dir]")
	}
	dir := "."
	if len(args) == 1 {
		dir = args[0]
	}
	if info, err := os.Stat(dir); err != nil {
		return err
	} else if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}
	if err := a.setup(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return a.session(ctx, dir, forced)
}

func (a *app) session(ctx context.Context, dir, forced string) error {
	cfg := a.cfg
	sessionID := uuid.NewString()
	logger := a.logger.WithRequestID(sessionID)

	st, err := a.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	var mode host.Mode
	if forced != "" {
		mode, err = host.ParseMode(forced)
	} else {
		mode, _, err = a.currentMode(ctx, st)
	}
	if err != nil {
		return err
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	var (
		client *verification.Client
		bridge orchestrator.Bridge
	)
	if cfg.Verification.Enabled {
		client, err = verification.New(cfg.VerificationClientConfig(),
			verification.WithLogger(logger), verification.WithMetrics(m))
		if err != nil {
			return err
		}
		bridge = client
	}

	h := fshost.New(dir, a.stdout, fshost.Options{
		Document: fshost.DocumentOptions{
			Recursive:   cfg.AutoDetect.Recursive,
			Include:     cfg.AutoDetect.IncludePatterns,
			Exclude:     cfg.AutoDetect.ExcludePatterns,
			MaxFileSize: cfg.AutoDetect.MaxFileSize,
		},
		Logger: logger,
	})
	defer h.Close()

	runner := orchestrator.NewRunner(orchestrator.Deps{
		Document:   h,
		Renderer:   h,
		Subscriber: h,
		Options: orchestrator.Options{
			PointerOffset:  cfg.Selection.PointerOffset,
			ViewportMargin: cfg.Selection.ViewportMargin,
			SummarySize:    host.Size{Width: cfg.Selection.SummaryWidth, Height: cfg.Selection.SummaryHeight},
		},
		Logger:  logger,
		Metrics: m,
	}, orchestrator.RunnerConfig{
		IdleDelay:     cfg.IdleDelay(),
		FrameInterval: cfg.FrameInterval(),
		Bridge:        bridge,
		Store:         st,
		OnVerification: func(text string, out verification.Outcome) {
			recordVerification(context.Background(), st, cfg.Storage.HistoryLimit, text, out, logger)
		},
	})
	h.Bind(runner)

	if loader := a.watchConfig(client, logger); loader != nil {
		defer loader.Close()
	}

	// Queued ahead of anything read from stdin.
	if err := runner.Post(orchestrator.SetMode{Mode: mode}); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return runner.Run(gctx)
	})
	g.Go(func() error {
		// EOF on stdin leaves the session running until a signal.
		return h.ReadCommands(gctx, a.stdin)
	})
	if m != nil {
		checker := health.NewChecker()
		checker.Register("runner", true, health.StateCheck("running", "stopped", runner.Running))
		if sq, ok := st.(*store.SQLite); ok {
			checker.Register("store", true, health.PingCheck("store", sq.DB().PingContext))
		}
		checker.SetReady(true)

		mux := http.NewServeMux()
		mux.Handle(cfg.Metrics.Path, m.Handler())
		checker.Mount(mux)
		srv := &http.Server{Addr: cfg.Metrics.ListenAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			logger.Info("metrics listening", "addr", cfg.Metrics.ListenAddr, "path", cfg.Metrics.Path)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	fmt.Fprintf(a.stdout, "zwsentry: %s in %s mode (session %s)\n", dir, mode, sessionID[:8])
	fmt.Fprintln(a.stdout, "Type text to scan it, :help for commands.")
	logger.Info("session started", "dir", dir, "mode", mode.String())

	err = g.Wait()
	if errors.Is(err, fshost.ErrQuit) {
		err = nil
	}
	logger.Info("session ended")
	return err
}

// watchConfig reloads the configuration file on change and applies the
// verification and log level settings to the running session.
func (a *app) watchConfig(client *verification.Client, logger *logging.Logger) *config.Loader {
	if _, err := os.Stat(a.configPath); err != nil {
		return nil
	}
	loader := config.NewLoader(a.configPath, logger)
	if _, err := loader.Load(); err != nil {
		logger.Warn("config reload disabled", "error", err)
		return nil
	}
	loader.OnChange(func(old, cfg *config.Config) {
		if level, err := logging.ParseLevel(cfg.Logging.Level); err == nil {
			a.logger.SetLevel(level)
		}
		if client != nil {
			if err := client.Reconfigure(cfg.VerificationClientConfig()); err != nil {
				logger.Warn("verification settings not applied", "error", err)
			}
		}
	})
	if err := loader.Watch(); err != nil {
		logger.Warn("config watch failed", "error", err)
		_ = loader.Close()
		return nil
	}
	return loader
}
