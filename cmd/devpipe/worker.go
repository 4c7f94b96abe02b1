package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/devpipe/internal/workflows"
)

func newWorkerCmd(global *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run a Temporal worker for pipeline workflows",
		Long: `Worker polls the configured Temporal task queue and executes pipeline
workflows and their activities. Workers sharing a task queue must share
pipeline.workdir, since artifacts written by one activity are read by the
test run in another.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			a, err := newApp(ctx, global, true)
			if err != nil {
				return err
			}
			defer a.Close()

			s, err := a.buildStack(ctx, true)
			if err != nil {
				return err
			}

			c, err := workflows.Dial(a.cfg.Temporal, a.logger)
			if err != nil {
				return err
			}
			defer c.Close()

			activities := &workflows.Activities{
				Agents:     s.directory,
				Generator:  s.llm,
				Gate:       s.gate,
				Workspace:  s.workspace,
				Repository: s.repo,
				Memory:     s.memory,
				Observers:  s.observers,
				Logger:     a.logger,
			}
			w := workflows.NewWorker(c.Temporal(), a.cfg.Temporal.TaskQueue, &workflows.Pipeline{Logger: a.logger}, activities)

			a.logger.Info(ctx, "worker configured",
				zap.String("temporal_host", a.cfg.Temporal.HostPort),
				zap.String("namespace", a.cfg.Temporal.Namespace),
				zap.String("task_queue", a.cfg.Temporal.TaskQueue))

			if err := w.Start(); err != nil {
				return fmt.Errorf("worker error: %w", err)
			}
			<-ctx.Done()
			a.logger.Info(ctx, "shutdown signal received")
			w.Stop()
			a.logger.Info(ctx, "worker stopped gracefully")
			return nil
		},
	}
}
