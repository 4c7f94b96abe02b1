package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	nethttp "net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/devpipe/internal/config"
	apphttp "github.com/fyrsmithlabs/devpipe/internal/http"
	"github.com/fyrsmithlabs/devpipe/internal/logging"
	"github.com/fyrsmithlabs/devpipe/internal/orchestrator"
	"github.com/fyrsmithlabs/devpipe/internal/review"
	"github.com/fyrsmithlabs/devpipe/internal/workflows"
)

// awaitInterval is how often a Temporal run is polled for a pending review.
const awaitInterval = 2 * time.Second

type runFlags struct {
	name            string
	description     string
	descriptionFile string
	review          string
	temporal        bool
}

func newRunCmd(global *globalFlags) *cobra.Command {
	flags := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a task through the pipeline",
		Long: `Run generates code, tests and documentation for a task, runs the tests,
and on success pushes a branch, opens a pull request and waits for review.

Exit status is 0 only when the run ends in success, 2 for configuration
errors and 1 otherwise.

Examples:
  # Review in the terminal
  devpipe run --name "Website Endpoint Finder" \
    --description "Recursively crawl a website and return every internal endpoint."

  # Read the description from a file and accept decisions over HTTP
  devpipe run --name "Website Endpoint Finder" --description-file task.md --review http

  # Run durably on a Temporal worker
  devpipe run --temporal --name "Website Endpoint Finder" --description-file task.md`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runTask(cmd, global, flags)
		},
	}
	cmd.Flags().StringVar(&flags.name, "name", "", "task name (required)")
	cmd.Flags().StringVar(&flags.description, "description", "", "task description")
	cmd.Flags().StringVar(&flags.descriptionFile, "description-file", "", "read the task description from a file (- for stdin)")
	cmd.Flags().StringVar(&flags.review, "review", "", "review mode: terminal, prompt, auto, approve or http (default review.mode)")
	cmd.Flags().BoolVar(&flags.temporal, "temporal", false, "run on a Temporal worker instead of in-process")
	_ = cmd.MarkFlagRequired("name")
	cmd.MarkFlagsMutuallyExclusive("description", "description-file")
	return cmd
}

// taskFrom builds the task from flags.
func taskFrom(cmd *cobra.Command, flags *runFlags) (orchestrator.Task, error) {
	description := flags.description
	switch flags.descriptionFile {
	case "":
	case "-":
		data, err := readAll(cmd.InOrStdin())
		if err != nil {
			return orchestrator.Task{}, fmt.Errorf("failed to read description from stdin: %w", err)
		}
		description = data
	default:
		data, err := os.ReadFile(flags.descriptionFile)
		if err != nil {
			return orchestrator.Task{}, fmt.Errorf("failed to read description file %s: %w", flags.descriptionFile, err)
		}
		description = string(data)
	}

	task := orchestrator.Task{
		Name:        strings.TrimSpace(flags.name),
		Description: strings.TrimSpace(description),
	}
	if task.Description == "" {
		return task, errors.New("a task description is required (--description or --description-file)")
	}
	if task.Slug() == "" {
		return task, fmt.Errorf("task name %q has no usable characters", flags.name)
	}
	return task, nil
}

func runTask(cmd *cobra.Command, global *globalFlags, flags *runFlags) error {
	ctx := cmd.Context()

	task, err := taskFrom(cmd, flags)
	if err != nil {
		return err
	}

	a, err := newApp(ctx, global, true)
	if err != nil {
		return err
	}
	defer a.Close()

	mode := flags.review
	if mode == "" {
		mode = a.cfg.Review.Mode
	}

	ctx = withTaskContext(ctx, task)
	a.logger.Info(ctx, "starting run",
		zap.String("task", task.Name),
		zap.String("review", mode),
		zap.Bool("temporal", flags.temporal))

	var report *orchestrator.Report
	if flags.temporal {
		report, err = runTemporal(ctx, cmd, a, task, mode)
	} else {
		report, err = runLocal(ctx, cmd, a, task, mode)
	}
	if report == nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), renderReport(report))
	if report.Succeeded() && err == nil {
		return nil
	}
	return &runError{reason: string(report.Reason), cause: err}
}

// runLocal executes the pipeline in this process.
func runLocal(ctx context.Context, cmd *cobra.Command, a *app, task orchestrator.Task, mode string) (*orchestrator.Report, error) {
	s, err := a.buildStack(ctx, false)
	if err != nil {
		return nil, err
	}

	var (
		inbox  *review.Inbox
		server *apphttp.Server
	)
	if mode == config.ReviewHTTP {
		inbox = review.NewInbox(a.logger)
		if server, err = startReviewServer(ctx, a, inbox); err != nil {
			return nil, err
		}
	}

	reviewer, err := review.New(mode, review.Options{
		In:        cmd.InOrStdin(),
		Out:       cmd.OutOrStdout(),
		Generator: s.llm,
		Directory: s.directory.Snapshot(),
		Inbox:     inbox,
		Logger:    a.logger,
	})
	if err != nil {
		return nil, &config.ConfigurationError{Invalid: []string{"review.mode: " + err.Error()}}
	}
	reviewer = review.WithTimeout(reviewer, a.cfg.Review.Timeout)

	opts := []orchestrator.Option{}
	for _, o := range s.observers {
		opts = append(opts, orchestrator.WithObserver(o))
	}
	if server != nil {
		opts = append(opts, orchestrator.WithObserver(server.ObserveTransition))
	}

	exec, err := orchestrator.NewExecutor(s.deps(reviewer), a.settings(), a.logger, opts...)
	if err != nil {
		return nil, err
	}
	return exec.Execute(ctx, task)
}

// runTemporal starts the pipeline workflow and waits for its result. With
// the http review mode decisions are expected through devpipe serve;
// otherwise this process answers reviews itself.
func runTemporal(ctx context.Context, cmd *cobra.Command, a *app, task orchestrator.Task, mode string) (*orchestrator.Report, error) {
	c, err := workflows.Dial(a.cfg.Temporal, a.logger)
	if err != nil {
		return nil, err
	}
	defer c.Close()

	run, err := c.Start(ctx, workflows.PipelineInput{
		Task:          task,
		Settings:      a.settings(),
		ReviewTimeout: a.cfg.Review.Timeout,
	})
	if err != nil {
		return nil, err
	}
	a.logger.Info(ctx, "workflow started",
		zap.String("workflow_id", run.GetID()),
		zap.String("run_id", run.GetRunID()))

	if mode == config.ReviewHTTP {
		fmt.Fprintf(cmd.ErrOrStderr(), "Waiting for workflow %s; post decisions to devpipe serve.\n", run.GetID())
		return workflows.Result(ctx, run)
	}

	var reviewer orchestrator.Reviewer
	if mode == config.ReviewAuto {
		s, err := a.buildStack(ctx, false)
		if err != nil {
			return nil, err
		}
		reviewer = review.NewAuto(s.llm, s.directory.Snapshot(), a.logger)
	} else {
		reviewer, err = review.New(mode, review.Options{In: cmd.InOrStdin(), Out: cmd.OutOrStdout(), Logger: a.logger})
		if err != nil {
			return nil, &config.ConfigurationError{Invalid: []string{"review.mode: " + err.Error()}}
		}
	}
	return c.Await(ctx, run, task.Slug(), reviewer, awaitInterval)
}

// startReviewServer serves inbox until ctx ends.
func startReviewServer(ctx context.Context, a *app, sink apphttp.ReviewSink) (*apphttp.Server, error) {
	srv, err := apphttp.NewServer(sink, a.logger, &apphttp.Config{
		Host: a.cfg.Server.Host,
		Port: a.cfg.Server.Port,
	})
	if err != nil {
		return nil, err
	}

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
			a.logger.Error(ctx, "review server stopped", zap.Error(err))
		}
	}()
	a.onClose(func() error {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout(a.cfg))
		defer cancel()
		return srv.Shutdown(sctx)
	})
	fmt.Fprintf(os.Stderr, "Review decisions: POST http://%s/api/v1/reviews/<slug>\n", srv.Addr())
	return srv, nil
}

func shutdownTimeout(cfg *config.Config) time.Duration {
	if cfg.Server.ShutdownTimeout > 0 {
		return cfg.Server.ShutdownTimeout
	}
	return 10 * time.Second
}

func readAll(r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	return string(data), err
}

// withTaskContext tags log entries for the run with the task slug.
func withTaskContext(ctx context.Context, task orchestrator.Task) context.Context {
	return logging.WithTaskSlug(ctx, task.Slug())
}
