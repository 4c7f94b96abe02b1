package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/devpipe/internal/agents"
)

var pipelineRoles = []string{agents.RoleDeveloper, agents.RoleTester, agents.RoleDocumenter, agents.RoleReviewer}

func newAgentsCmd(global *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "agents",
		Short: "List the agent profiles the pipeline will use",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, global, false)
			if err != nil {
				return err
			}
			defer a.Close()

			dir, err := a.directory(ctx, false)
			if err != nil {
				return err
			}
			printAgents(cmd.OutOrStdout(), a.cfg.Agents.Dir, dir.Snapshot())
			return nil
		},
	}
}

// printAgents lists bound roles, then the well-known roles nobody fills.
func printAgents(w io.Writer, dir string, snap agents.Snapshot) {
	fmt.Fprintln(w, titleStyle.Render("Agents in "+dir))
	fmt.Fprintln(w)

	for _, role := range snap.Roles() {
		h := snap[role]
		fmt.Fprintf(w, "%s %s %s\n",
			labelStyle.Render(fmt.Sprintf("%-11s", role)),
			valueStyle.Render(h.Name),
			dimStyle.Render(h.Source))
	}
	for _, role := range pipelineRoles {
		if _, ok := snap.Resolve(role); !ok {
			fmt.Fprintf(w, "%s %s\n",
				labelStyle.Render(fmt.Sprintf("%-11s", role)),
				warnStyle.Render("(unbound)"))
		}
	}
}
