// Package review supplies review decisions to the orchestrator: from an
// operator at a terminal, from an LLM reviewer, from the HTTP review server,
// or unconditionally.
package review

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fyrsmithlabs/devpipe/internal/config"
	"github.com/fyrsmithlabs/devpipe/internal/logging"
	"github.com/fyrsmithlabs/devpipe/internal/orchestrator"
)

// ErrAborted means the operator quit without deciding.
var ErrAborted = errors.New("review aborted by operator")

// Options carries what the individual reviewers need. Only the fields used by
// the selected mode must be set.
type Options struct {
	In        io.Reader
	Out       io.Writer
	Generator Generator
	Directory orchestrator.Directory
	Inbox     *Inbox
	Logger    *logging.Logger
}

// New returns the reviewer for mode.
func New(mode string, o Options) (orchestrator.Reviewer, error) {
	if o.In == nil {
		o.In = os.Stdin
	}
	if o.Out == nil {
		o.Out = os.Stdout
	}
	if o.Logger == nil {
		o.Logger = logging.NewNop()
	}

	switch mode {
	case config.ReviewApprove:
		return Approve(), nil
	case config.ReviewPrompt:
		return NewPrompt(o.In, o.Out), nil
	case config.ReviewTerminal:
		return NewTerminal(o.In, o.Out), nil
	case config.ReviewAuto:
		if o.Generator == nil || o.Directory == nil {
			return nil, fmt.Errorf("auto review needs a generator and an agent directory")
		}
		return NewAuto(o.Generator, o.Directory, o.Logger), nil
	case config.ReviewHTTP:
		if o.Inbox == nil {
			return nil, fmt.Errorf("http review needs an inbox")
		}
		return o.Inbox, nil
	default:
		return nil, fmt.Errorf("unknown review mode %q", mode)
	}
}

// Approve approves every request. It is meant for unattended runs.
func Approve() orchestrator.Reviewer {
	return orchestrator.ReviewerFunc(func(ctx context.Context, _ orchestrator.ReviewRequest) (orchestrator.Review, error) {
		if err := ctx.Err(); err != nil {
			return orchestrator.Review{}, err
		}
		return orchestrator.Review{Decision: orchestrator.Approved, Reviewer: "auto-approve"}, nil
	})
}

// WithTimeout bounds how long r may take to decide.
func WithTimeout(r orchestrator.Reviewer, d time.Duration) orchestrator.Reviewer {
	if d <= 0 {
		return r
	}
	return orchestrator.ReviewerFunc(func(ctx context.Context, req orchestrator.ReviewRequest) (orchestrator.Review, error) {
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		rv, err := r.Review(ctx, req)
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() != nil {
			return rv, fmt.Errorf("no review decision within %s: %w", d, err)
		}
		return rv, err
	})
}
