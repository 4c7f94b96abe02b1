package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/devpipe/internal/llm"
)

func newDocstringCmd(global *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "docstring <file>",
		Short: "Generate a docstring for a source file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			code, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read file %s: %w", args[0], err)
			}

			a, err := newApp(ctx, global, false)
			if err != nil {
				return err
			}
			defer a.Close()

			client, err := llm.New(a.cfg.LLM, a.logger)
			if err != nil {
				return fmt.Errorf("initializing llm client: %w", err)
			}
			res, err := client.Docstring(ctx, string(code))
			if err != nil {
				return err
			}
			if !res.Ok() {
				fmt.Fprintln(cmd.ErrOrStderr(), warnStyle.Render("model answer was not usable; raw output follows"))
				fmt.Fprintln(cmd.OutOrStdout(), res.Raw)
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), res.Text)
			return nil
		},
	}
}
