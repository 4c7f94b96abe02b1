package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/devpipe/internal/memory"
	"github.com/fyrsmithlabs/devpipe/internal/orchestrator"
)

func newMemoryCmd(global *globalFlags) *cobra.Command {
	var task string
	cmd := &cobra.Command{
		Use:   "memory",
		Short: "Print the conversation transcript of a task",
		Long: `Memory prints every turn recorded for a task: the request, the agents'
answers, test results and review decisions, oldest first.

Examples:
  devpipe memory --task "Website Endpoint Finder"
  MEMORY_URL=sqlite:///var/lib/devpipe/memory.db devpipe memory --task finder`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			slug := orchestrator.Slug(task)
			if slug == "" {
				return fmt.Errorf("task name %q has no usable characters", task)
			}

			a, err := newApp(ctx, global, false)
			if err != nil {
				return err
			}
			defer a.Close()

			store, err := a.memory(ctx, nil)
			if err != nil {
				return err
			}
			session, err := store.Session(ctx, slug)
			if err != nil {
				return err
			}
			turns, err := session.ReadAll(ctx)
			if err != nil {
				return fmt.Errorf("reading transcript for %s: %w", slug, err)
			}
			if len(turns) == 0 {
				fmt.Fprintf(cmd.ErrOrStderr(), "No turns recorded for %s.\n", slug)
				return nil
			}
			fmt.Fprint(cmd.OutOrStdout(), memory.Transcript(turns))
			return nil
		},
	}
	cmd.Flags().StringVar(&task, "task", "", "task name (required)")
	_ = cmd.MarkFlagRequired("task")
	return cmd
}
