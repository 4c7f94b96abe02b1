// Package workflows runs the pipeline as a durable Temporal workflow.
//
// The orchestrator's executor drives the run inside the workflow. Each
// collaborator call is an activity, transitions are published through a
// local activity, and the review decision arrives as the review-decision
// signal. A run survives worker restarts and can wait days for a reviewer.
//
// Workflow IDs are derived from the task slug, so Temporal itself rejects a
// second concurrent run of the same task.
package workflows

import (
	"context"
	"fmt"
	"time"

	"go.temporal.io/sdk/workflow"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/devpipe/internal/agents"
	"github.com/fyrsmithlabs/devpipe/internal/logging"
	"github.com/fyrsmithlabs/devpipe/internal/orchestrator"
)

const (
	// WorkflowName is the registered name of the pipeline workflow.
	WorkflowName = "PipelineWorkflow"
	// SignalReviewDecision carries an orchestrator.Review.
	SignalReviewDecision = "review-decision"
	// QueryPendingReview returns the *orchestrator.ReviewRequest awaiting a
	// decision, or nil.
	QueryPendingReview = "pending-review"
)

// WorkflowID is the workflow ID of the run for slug.
func WorkflowID(slug string) string {
	return "devpipe-" + slug
}

// PipelineInput starts a run.
type PipelineInput struct {
	Task     orchestrator.Task
	Settings orchestrator.Settings
	// ReviewTimeout bounds each wait for a review decision. Zero waits
	// indefinitely.
	ReviewTimeout time.Duration
}

// Pipeline is the workflow definition. Logger is the worker's logger; the
// workflow suppresses its output while replaying.
type Pipeline struct {
	Logger *logging.Logger
}

// Run is the workflow function, registered as WorkflowName.
//
// The report is the workflow result for every terminal reason except fatal
// errors, which fail the workflow with an ErrTypePipelineFailed application
// error carrying the report. Cancellation fails it as cancelled.
func (p *Pipeline) Run(ctx workflow.Context, in PipelineInput) (*orchestrator.Report, error) {
	wlog := workflow.GetLogger(ctx)
	wlog.Info("Starting pipeline", "task", in.Task.Name, "slug", in.Task.Slug())

	var snapshot agents.Snapshot
	if err := call(ctx, localOptions, acts.LoadAgents).Get(ctx, &snapshot); err != nil {
		return nil, fmt.Errorf("load agents: %w", err)
	}

	reviewer := newSignalReviewer(ctx, in.ReviewTimeout)
	if err := workflow.SetQueryHandler(ctx, QueryPendingReview, func() (*orchestrator.ReviewRequest, error) {
		return reviewer.pending, nil
	}); err != nil {
		return nil, fmt.Errorf("register query: %w", err)
	}

	deps := orchestrator.Deps{
		Directory:  snapshot,
		Generator:  generator{ctx},
		Gate:       gate{ctx},
		Workspace:  artifactStore{ctx},
		Repository: repository{ctx},
		Memory:     memoryStore{ctx},
		Reviewer:   reviewer,
	}
	exec, err := orchestrator.NewExecutor(deps, in.Settings, replayAware(p.Logger, ctx),
		orchestrator.WithClock(func() time.Time { return workflow.Now(ctx) }),
		orchestrator.WithRunIDs(func() string { return workflow.GetInfo(ctx).WorkflowExecution.RunID }),
		orchestrator.WithObserver(publisher(ctx)),
	)
	if err != nil {
		return nil, err
	}

	report, err := exec.Execute(runContext{ctx}, in.Task)
	if report.Reason == orchestrator.ReasonCancelled && ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, pipelineFailed(report, err)
	}
	wlog.Info("Pipeline finished", "reason", report.Reason, "pr", report.PRNumber)
	return report, nil
}

// publisher runs PublishTransition as a local activity on a context that
// survives cancellation, so the final TERMINATED transition still goes out.
func publisher(ctx workflow.Context) orchestrator.Observer {
	return func(t orchestrator.Transition) {
		dctx, _ := workflow.NewDisconnectedContext(ctx)
		lctx := workflow.WithLocalActivityOptions(dctx, workflow.LocalActivityOptions{
			ScheduleToCloseTimeout: 10 * time.Second,
		})
		if err := workflow.ExecuteLocalActivity(lctx, acts.PublishTransition, t).Get(lctx, nil); err != nil {
			workflow.GetLogger(ctx).Warn("Transition not published", "to", t.To, "error", err)
		}
	}
}

// signalReviewer waits for the review-decision signal.
type signalReviewer struct {
	ctx     workflow.Context
	signals workflow.ReceiveChannel
	timeout time.Duration
	pending *orchestrator.ReviewRequest
}

func newSignalReviewer(ctx workflow.Context, timeout time.Duration) *signalReviewer {
	return &signalReviewer{
		ctx:     ctx,
		signals: workflow.GetSignalChannel(ctx, SignalReviewDecision),
		timeout: timeout,
	}
}

// Review blocks until a valid decision is signalled, the timeout fires or
// the workflow is cancelled. Signals with an unknown decision are dropped.
func (r *signalReviewer) Review(_ context.Context, req orchestrator.ReviewRequest) (orchestrator.Review, error) {
	r.pending = &req
	defer func() { r.pending = nil }()

	timerCtx, cancelTimer := workflow.WithCancel(r.ctx)
	defer cancelTimer()

	var (
		rv       orchestrator.Review
		received bool
		expired  bool
	)
	sel := workflow.NewSelector(r.ctx)
	sel.AddReceive(r.signals, func(c workflow.ReceiveChannel, _ bool) {
		c.Receive(r.ctx, &rv)
		received = true
	})
	if r.timeout > 0 {
		sel.AddFuture(workflow.NewTimer(timerCtx, r.timeout), func(f workflow.Future) {
			expired = f.Get(timerCtx, nil) == nil
		})
	}
	sel.AddReceive(r.ctx.Done(), func(workflow.ReceiveChannel, bool) {})

	wlog := workflow.GetLogger(r.ctx)
	wlog.Info("Waiting for review decision", "pr", req.PRNumber, "iteration", req.Iteration)
	for {
		sel.Select(r.ctx)
		switch {
		case r.ctx.Err() != nil:
			return orchestrator.Review{}, context.Canceled
		case received:
			received = false
			decision, ok := orchestrator.ParseDecision(string(rv.Decision))
			if !ok {
				wlog.Warn("Ignoring review signal", "decision", rv.Decision)
				continue
			}
			rv.Decision = decision
			return rv, nil
		case expired:
			return orchestrator.Review{}, fmt.Errorf("no review decision within %s", r.timeout)
		}
	}
}

// replayAware drops log entries while the workflow replays history.
func replayAware(l *logging.Logger, ctx workflow.Context) *logging.Logger {
	if l == nil {
		return logging.NewNop()
	}
	return logging.FromZap(l.Underlying().WithOptions(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		return replayAwareCore{Core: core, ctx: ctx}
	})))
}

type replayAwareCore struct {
	zapcore.Core
	ctx workflow.Context
}

func (c replayAwareCore) With(fields []zapcore.Field) zapcore.Core {
	return replayAwareCore{Core: c.Core.With(fields), ctx: c.ctx}
}

func (c replayAwareCore) Check(e zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if workflow.IsReplaying(c.ctx) {
		return ce
	}
	return c.Core.Check(e, ce)
}
