package testgate

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/fyrsmithlabs/devpipe/internal/agents"
	"github.com/fyrsmithlabs/devpipe/internal/config"
	"github.com/fyrsmithlabs/devpipe/internal/llm"
	"github.com/fyrsmithlabs/devpipe/internal/logging"
	"go.uber.org/zap"
)

// targetPlaceholder marks where the test path goes in the command template.
const targetPlaceholder = "{target}"

const waitDelay = 500 * time.Millisecond

// Generator is the slice of the generation client the gate needs.
type Generator interface {
	Generate(ctx context.Context, h *agents.Handle, prompt string) (llm.Result, error)
}

// Gate generates tests through a tester agent and runs them.
type Gate struct {
	gen     Generator
	command []string
	timeout time.Duration
	workDir string
	logger  *logging.Logger
}

// New creates a gate running cfg.Command from workDir.
func New(cfg config.TestGateConfig, workDir string, gen Generator, logger *logging.Logger) (*Gate, error) {
	command := strings.Fields(cfg.Command)
	if len(command) == 0 {
		return nil, fmt.Errorf("empty test command")
	}
	if !strings.Contains(cfg.Command, targetPlaceholder) {
		return nil, fmt.Errorf("test command must contain %s", targetPlaceholder)
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Gate{
		gen:     gen,
		command: command,
		timeout: cfg.Timeout,
		workDir: workDir,
		logger:  logger.Named("testgate"),
	}, nil
}

// Framework is the test runner's name, the first word of the command.
func (g *Gate) Framework() string {
	return g.command[0]
}

// GenerateTestCode asks tester for unit tests of fn and returns the
// extracted code. A nil tester fails with ErrNoTester carrying
// NoTesterVerdict.
func (g *Gate) GenerateTestCode(ctx context.Context, tester *agents.Handle, fn, description, ext string) (string, error) {
	if tester == nil {
		return "", &Error{Op: "generate", Err: ErrNoTester, Verdict: NoTesterVerdict()}
	}

	prompt := fmt.Sprintf(`Write comprehensive %s unit tests for a function named **%s**.
The function should: %s.

Requirements:
- Cover both typical and edge cases
- Use descriptive test case names
- Do not implement the function itself
- Return only valid unit test code

Expected output: Valid %s test code for the proposed function.`, g.Framework(), fn, description, g.Framework())

	result, err := g.gen.Generate(ctx, tester, prompt)
	if err != nil {
		return "", &llm.GenerationError{Role: tester.Role, Err: err}
	}
	if !result.Ok() {
		return "", &llm.GenerationError{Role: tester.Role, Err: fmt.Errorf("degraded answer: %s", result.Raw)}
	}
	return llm.ExtractCode(result.Text, ext), nil
}

// Explain asks tester (or the bare model when nil) why a run failed.
func (g *Gate) Explain(ctx context.Context, tester *agents.Handle, v Verdict) (string, error) {
	output := v.Output
	if v.Errors != "" {
		output += "\n" + v.Errors
	}
	prompt := fmt.Sprintf(`The following test output contains failed tests. Analyze and explain the reasons for failure.
Provide a list of actionable fixes.

----
%s
----

Expected output: A clear and concise explanation of what caused the test failures and how to fix them.`, output)

	result, err := g.gen.Generate(ctx, tester, prompt)
	if err != nil {
		return "", err
	}
	if !result.Ok() {
		return "", fmt.Errorf("degraded answer: %s", result.Raw)
	}
	return result.Text, nil
}

// Run executes the test command against target and reduces its output.
// A non-zero exit or a timeout yields a failing Verdict and no error; only
// a runner that cannot start, or a cancelled ctx, is an error.
func (g *Gate) Run(ctx context.Context, target string) (Verdict, error) {
	if target == "" {
		target = "."
	}

	runCtx := ctx
	if g.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	args := make([]string, len(g.command))
	for i, part := range g.command {
		args[i] = strings.ReplaceAll(part, targetPlaceholder, target)
	}

	cmd := exec.CommandContext(runCtx, args[0], args[1:]...) // #nosec G204 -- operator-configured command
	cmd.Dir = g.workDir
	// Children of a killed runner may hold the pipes open.
	cmd.WaitDelay = waitDelay
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	if err == nil {
		v := reduce(stdout.String(), stderr.String(), 0)
		g.logger.Info(ctx, "tests passed", zap.String("target", target), zap.String("summary", v.Summary), zap.Duration("duration", elapsed))
		return v, nil
	}

	if ctx.Err() != nil {
		return Verdict{}, &Error{Op: "run", Err: ctx.Err()}
	}

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		v := reduce(stdout.String(), stderr.String(), -1)
		v.Summary = fmt.Sprintf("timed out after %s; %s", g.timeout, v.Summary)
		g.logger.Warn(ctx, "tests timed out", zap.String("target", target), zap.Duration("timeout", g.timeout))
		return v, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		v := reduce(stdout.String(), stderr.String(), exitErr.ExitCode())
		g.logger.Warn(ctx, "tests failed", zap.String("target", target), zap.Int("exit_code", v.ExitCode), zap.String("summary", v.Summary))
		return v, nil
	}

	v := Verdict{Errors: err.Error(), Summary: "test runner error occurred", ExitCode: 1}
	return v, &Error{Op: "run", Err: err, Verdict: v}
}
