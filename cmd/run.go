package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/takopi-dev/takopi/internal/config"
	"github.com/takopi-dev/takopi/internal/escalation"
	"github.com/takopi-dev/takopi/internal/liaison"
	"github.com/takopi-dev/takopi/internal/model"
	"github.com/takopi-dev/takopi/internal/router"
	"github.com/takopi-dev/takopi/internal/runner"
	"github.com/takopi-dev/takopi/internal/telegram"

	// Registered backend engines.
	_ "github.com/takopi-dev/takopi/internal/runner/claude"
	_ "github.com/takopi-dev/takopi/internal/runner/codex"
	_ "github.com/takopi-dev/takopi/internal/runner/kimi"
)

func runSupervisor(ctx context.Context) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if cfg.Telegram.Token == "" {
		return fmt.Errorf("no telegram token in %s; run `takopi onboard`", cfg.Path)
	}

	log := slog.Default()
	log.Info("takopi.starting", "version", Version, "config", cfg.Path, "engines", runner.IDs())

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	transport, err := telegram.NewTransport(cfg.Telegram.Token, cfg.Telegram.ChatID, log)
	if err != nil {
		return err
	}
	if err := transport.Start(ctx); err != nil {
		return err
	}
	defer transport.Stop()

	// Hot-reloadable config: the watcher swaps the pointer, runs started
	// after the swap see the new settings.
	var current atomic.Pointer[config.Config]
	current.Store(cfg)

	extract := resumeExtractor(log)

	bridge := telegram.NewBridge(telegram.BridgeConfig{
		Chat:      transport,
		Messages:  transport.Messages(),
		Callbacks: transport.Callbacks(),
		Route: func(text, replyText string) router.Decision {
			c := current.Load()
			r := &router.Router{
				DefaultEngine:    defaultEngine(c),
				Engines:          runner.IDs(),
				Extract:          extract,
				LiaisonThreshold: c.Router.Threshold,
				SuggestOnly:      c.Router.SuggestOnly || !c.Router.Enabled,
			}
			return r.Route(text, replyText)
		},
		Build: func(engine model.EngineID) (runner.Runner, error) {
			return buildRunner(current.Load(), engine, log)
		},
		Logger: log,
	})

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return bridge.Run(ctx) })
	g.Go(func() error { return config.Watch(ctx, cfg.Path, log, func(c *config.Config) { current.Store(c) }) })

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("takopi.stopped")
	return nil
}

func defaultEngine(cfg *config.Config) model.EngineID {
	if cfg.DefaultEngine != "" {
		return cfg.DefaultEngine
	}
	return "claude"
}

// buildRunner constructs a runner for one routed engine from its config
// table. The liaison gets its dedicated constructor; subprocess backends go
// through the registry.
func buildRunner(cfg *config.Config, engine model.EngineID, log *slog.Logger) (runner.Runner, error) {
	ec := cfg.Engine(engine)

	if engine == liaison.EngineID {
		lc := liaison.Config{
			CoordinationFolder: ec.CoordinationFolder,
			CaptureLines:       ec.CaptureLines,
			BrainCommand:       ec.BrainCommand,
			CaptainMode:        ec.CaptainMode == nil || *ec.CaptainMode,
			Logger:             log,
		}
		if ec.PollIntervalS > 0 {
			lc.PollInterval = time.Duration(ec.PollIntervalS * float64(time.Second))
		}
		if ec.Escalation.TimeoutS > 0 {
			policy := escalation.NewPolicy()
			policy.DefaultTimeout = time.Duration(ec.Escalation.TimeoutS * float64(time.Second))
			lc.Policy = policy
		}
		return liaison.New(lc)
	}

	backend, ok := runner.Get(engine)
	if !ok {
		return nil, fmt.Errorf("unknown engine %q", engine)
	}
	return backend.Build(runner.Options{
		Model:     ec.Model,
		ExtraArgs: ec.ExtraArgs,
		Logger:    log,
	})
}

// resumeExtractor builds one runner per registered backend and scans text
// with each, so a resume line echoed in a reply routes back to its engine.
func resumeExtractor(log *slog.Logger) router.ExtractFunc {
	var runners []runner.Runner
	for _, backend := range runner.List() {
		r, err := backend.Build(runner.Options{Logger: log})
		if err != nil {
			log.Warn("runner.build.failed", "engine", backend.ID, "error", err)
			continue
		}
		runners = append(runners, r)
	}
	return func(text string) (model.ResumeToken, bool) {
		for _, r := range runners {
			if token, ok := r.ExtractResume(text); ok {
				return token, true
			}
		}
		return model.ResumeToken{}, false
	}
}
