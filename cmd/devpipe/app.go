package main

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/devpipe/internal/agents"
	"github.com/fyrsmithlabs/devpipe/internal/config"
	"github.com/fyrsmithlabs/devpipe/internal/events"
	"github.com/fyrsmithlabs/devpipe/internal/github"
	"github.com/fyrsmithlabs/devpipe/internal/llm"
	"github.com/fyrsmithlabs/devpipe/internal/logging"
	"github.com/fyrsmithlabs/devpipe/internal/memory"
	"github.com/fyrsmithlabs/devpipe/internal/orchestrator"
	"github.com/fyrsmithlabs/devpipe/internal/secrets"
	"github.com/fyrsmithlabs/devpipe/internal/telemetry"
	"github.com/fyrsmithlabs/devpipe/internal/testgate"
	"github.com/fyrsmithlabs/devpipe/internal/workspace"
)

const orchestratorMeter = "github.com/fyrsmithlabs/devpipe/internal/orchestrator"

// app is what every command starts from: configuration, logger and
// telemetry, plus whatever the command opened and must release.
type app struct {
	cfg       *config.Config
	logger    *logging.Logger
	telemetry *telemetry.Telemetry
	closers   []func() error
}

// newApp loads configuration and starts logging and telemetry. Commands
// that touch the repository or a model pass strict, which turns any
// configuration problem into a *config.ConfigurationError before anything
// else happens. Inspection commands tolerate missing credentials.
func newApp(ctx context.Context, flags *globalFlags, strict bool) (*app, error) {
	cfg, err := config.LoadWithFile(flags.configPath)
	var inferredRepo bool
	if err != nil && cfg != nil && cfg.GitHub.Repo == "" {
		if repo, rerr := github.RepoFromRemote(cfg.Pipeline.WorkDir); rerr == nil {
			cfg.GitHub.Repo = repo
			inferredRepo = true
			err = cfg.Validate()
		}
	}
	if err != nil {
		var cerr *config.ConfigurationError
		if strict || cfg == nil || !errors.As(err, &cerr) {
			return nil, err
		}
	}

	settings := cfg.Log
	if flags.logLevel != "" {
		settings.Level = flags.logLevel
	}
	if flags.logFormat != "" {
		settings.Format = flags.logFormat
	}

	tel, err := telemetry.New(ctx, telemetry.FromSettings(cfg.Telemetry, version))
	if err != nil {
		return nil, fmt.Errorf("initializing telemetry: %w", err)
	}
	logCfg, err := logging.FromSettings(settings)
	if err != nil {
		_ = tel.Shutdown(context.Background())
		return nil, fmt.Errorf("initializing logger: %w", err)
	}
	logger, err := logging.NewLogger(logCfg, tel.LoggerProvider())
	if err != nil {
		_ = tel.Shutdown(context.Background())
		return nil, fmt.Errorf("initializing logger: %w", err)
	}

	a := &app{cfg: cfg, logger: logger, telemetry: tel}
	a.onClose(func() error { return tel.Shutdown(context.Background()) })
	a.onClose(func() error {
		_ = logger.Sync() // Best-effort sync
		return nil
	})

	if inferredRepo {
		logger.Info(ctx, "github.repo taken from origin remote", zap.String("repo", cfg.GitHub.Repo))
	}
	if degraded, reasons := tel.Degraded(); degraded {
		logger.Warn(ctx, "telemetry degraded", zap.Strings("reasons", reasons))
	}
	return a, nil
}

func (a *app) onClose(fn func() error) {
	a.closers = append(a.closers, fn)
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Debug(context.Background(), "close failed", zap.Error(err))
		}
	}
}

// settings maps configuration onto orchestrator settings.
func (a *app) settings() orchestrator.Settings {
	p := a.cfg.Pipeline
	return orchestrator.Settings{
		MaxRevisions:    p.MaxRevisions,
		CodeExt:         p.CodeExt,
		TestExt:         p.TestExt,
		DocExt:          p.DocExt,
		ExplainFailures: p.ExplainFailures,
		AutoMerge:       a.cfg.GitHub.AutoMerge,
		Workflow:        a.cfg.GitHub.Workflow,
	}
}

// directory loads the agent directory, watching it for changes in
// long-lived processes when agents.watch is set.
func (a *app) directory(ctx context.Context, watch bool) (*agents.Directory, error) {
	dir := agents.NewDirectory(a.cfg.Agents.Dir, a.logger)
	if _, err := dir.Load(ctx); err != nil {
		return nil, err
	}
	if watch && a.cfg.Agents.Watch {
		if err := dir.Watch(ctx); err != nil {
			a.logger.Warn(ctx, "agent directory not watched", zap.Error(err))
		}
	}
	return dir, nil
}

// memory opens the conversation store, redacting secrets from turns when
// pipeline.scan_secrets is on.
func (a *app) memory(ctx context.Context, scanner *secrets.Scanner) (memory.Store, error) {
	var opts []memory.Option
	if scanner != nil {
		opts = append(opts, memory.WithRedactor(scanner))
	}
	store, err := memory.Open(ctx, a.cfg.Memory.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("opening memory: %w", err)
	}
	a.onClose(store.Close)
	return store, nil
}

// stack holds the pipeline collaborators.
type stack struct {
	directory *agents.Directory
	llm       *llm.Client
	gate      *testgate.Gate
	workspace *workspace.Workspace
	repo      *github.Gateway
	memory    memory.Store
	observers []orchestrator.Observer
}

// buildStack wires every collaborator the executor or the worker needs.
func (a *app) buildStack(ctx context.Context, watch bool) (*stack, error) {
	cfg := a.cfg

	ws, err := workspace.New(cfg.Pipeline.WorkDir)
	if err != nil {
		return nil, err
	}

	var scanner *secrets.Scanner
	if cfg.Pipeline.ScanSecrets {
		allowlist, err := secrets.LoadAllowlist(ws.Dir())
		if err != nil {
			return nil, err
		}
		if scanner, err = secrets.NewScanner(allowlist); err != nil {
			return nil, fmt.Errorf("initializing secret scanner: %w", err)
		}
	}

	dir, err := a.directory(ctx, watch)
	if err != nil {
		return nil, err
	}

	client, err := llm.New(cfg.LLM, a.logger)
	if err != nil {
		return nil, fmt.Errorf("initializing llm client: %w", err)
	}

	gate, err := testgate.New(cfg.TestGate, ws.Dir(), client, a.logger)
	if err != nil {
		return nil, fmt.Errorf("initializing test gate: %w", err)
	}

	var ghOpts []github.Option
	if scanner != nil {
		ghOpts = append(ghOpts, github.WithGuard(scanner))
	}
	repo, err := github.New(ctx, cfg.GitHub, a.logger, ghOpts...)
	if err != nil {
		return nil, fmt.Errorf("initializing github gateway: %w", err)
	}

	store, err := a.memory(ctx, scanner)
	if err != nil {
		return nil, err
	}

	s := &stack{
		directory: dir,
		llm:       client,
		gate:      gate,
		workspace: ws,
		repo:      repo,
		memory:    store,
	}

	metrics, err := orchestrator.NewMetrics(a.telemetry.Meter(orchestratorMeter))
	if err != nil {
		a.logger.Warn(ctx, "pipeline metrics disabled", zap.Error(err))
	} else {
		s.observers = append(s.observers, metrics.Observe)
	}

	if pub, err := a.publisher(); err != nil {
		a.logger.Warn(ctx, "transition events disabled", zap.Error(err))
	} else if pub != nil {
		s.observers = append(s.observers, pub.Observer())
	}

	a.logger.Info(ctx, "pipeline collaborators ready",
		zap.String("repo", repo.Repo()),
		zap.String("workdir", ws.Dir()),
		zap.String("llm_provider", cfg.LLM.Provider),
		zap.String("test_framework", gate.Framework()),
		zap.Int("observers", len(s.observers)))
	return s, nil
}

// publisher connects to NATS when events.nats_url is set. It returns nil
// without error when events are not configured.
func (a *app) publisher() (*events.Publisher, error) {
	if a.cfg.Events.NATSURL == "" {
		return nil, nil
	}
	pub, err := events.Connect(a.cfg.Events.NATSURL, a.cfg.Events.SubjectPrefix, a.logger)
	if err != nil {
		return nil, err
	}
	a.onClose(pub.Close)
	return pub, nil
}

// deps returns the executor collaborators around reviewer.
func (s *stack) deps(reviewer orchestrator.Reviewer) orchestrator.Deps {
	return orchestrator.Deps{
		Directory:  s.directory.Snapshot(),
		Generator:  s.llm,
		Gate:       s.gate,
		Workspace:  s.workspace,
		Locker:     s.workspace,
		Repository: s.repo,
		Memory:     s.memory,
		Reviewer:   reviewer,
	}
}
