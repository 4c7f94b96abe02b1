// Command devpipe turns a feature request into generated code, tests and
// documentation, publishes them only when the tests pass, and carries the
// pull request through review.
//
// Usage:
//
//	# Run a task locally, reviewing in the terminal
//	devpipe run --name "Website Endpoint Finder" --description "..."
//
//	# Run durably on Temporal, with decisions posted over HTTP
//	devpipe worker &
//	devpipe serve &
//	devpipe run --temporal --review http --name "..." --description-file task.md
//
// Configuration is read from ~/.config/devpipe/config.yaml and the
// environment. See internal/config for the keys.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/devpipe/internal/config"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

// Exit codes.
const (
	exitOK     = 0
	exitFailed = 1
	exitConfig = 2
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	logLevel   string
	logFormat  string
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	cancel()

	if err != nil && !errors.Is(err, errReported) {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
	}
	os.Exit(exitCode(err))
}

// errReported marks failures whose details were already printed.
var errReported = errors.New("reported")

// runError is returned by run when the pipeline ends in anything but
// success. The report has been printed.
type runError struct {
	reason string
	cause  error
}

func (e *runError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("pipeline terminated (%s): %v", e.reason, e.cause)
	}
	return fmt.Sprintf("pipeline terminated (%s)", e.reason)
}

func (e *runError) Unwrap() []error {
	if e.cause == nil {
		return []error{errReported}
	}
	return []error{errReported, e.cause}
}

func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	var cerr *config.ConfigurationError
	if errors.As(err, &cerr) {
		return exitConfig
	}
	return exitFailed
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}
	root := &cobra.Command{
		Use:   "devpipe",
		Short: "Generate, test and ship features from a task description",
		Long: `devpipe asks a team of LLM agents for code, tests and documentation for a
feature, runs the tests, and only then pushes a branch and opens a pull
request. A reviewer approves the pull request or sends it back for another
pass.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.configPath, "config", "", "config file (default ~/.config/devpipe/config.yaml)")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "override log.level")
	root.PersistentFlags().StringVar(&flags.logFormat, "log-format", "", "override log.format (json or console)")

	root.AddCommand(
		newRunCmd(flags),
		newWorkerCmd(flags),
		newServeCmd(flags),
		newAgentsCmd(flags),
		newMemoryCmd(flags),
		newDocstringCmd(flags),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			printVersion(cmd.OutOrStdout())
		},
	}
}

// printVersion prints version information
func printVersion(w io.Writer) {
	fmt.Fprintf(w, "devpipe by Fyrsmith Labs\n")
	fmt.Fprintf(w, "Version:    %s\n", version)
	fmt.Fprintf(w, "Commit:     %s\n", gitCommit)
	fmt.Fprintf(w, "Build Date: %s\n", buildDate)
}
