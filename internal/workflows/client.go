package workflows

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.temporal.io/api/serviceerror"
	"go.temporal.io/api/workflowservice/v1"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/devpipe/internal/config"
	"github.com/fyrsmithlabs/devpipe/internal/logging"
	"github.com/fyrsmithlabs/devpipe/internal/orchestrator"
	"github.com/fyrsmithlabs/devpipe/internal/review"
)

// Client starts pipeline workflows and relays review decisions to them.
type Client struct {
	c         client.Client
	namespace string
	taskQueue string
	logger    *logging.Logger
}

// Dial connects to the Temporal frontend named in cfg.
func Dial(cfg config.TemporalConfig, logger *logging.Logger) (*Client, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	c, err := client.Dial(client.Options{
		HostPort:  cfg.HostPort,
		Namespace: cfg.Namespace,
		Logger:    logger.Temporal(),
	})
	if err != nil {
		return nil, fmt.Errorf("unable to create Temporal client: %w", err)
	}
	return NewClient(c, cfg, logger), nil
}

// NewClient wraps an existing Temporal client.
func NewClient(c client.Client, cfg config.TemporalConfig, logger *logging.Logger) *Client {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Client{c: c, namespace: cfg.Namespace, taskQueue: cfg.TaskQueue, logger: logger.Named("temporal")}
}

// Temporal returns the underlying client.
func (c *Client) Temporal() client.Client { return c.c }

// Close closes the connection.
func (c *Client) Close() { c.c.Close() }

// Start begins a run. It fails if a run for the same task is in progress.
func (c *Client) Start(ctx context.Context, in PipelineInput) (client.WorkflowRun, error) {
	opts := client.StartWorkflowOptions{
		ID:        WorkflowID(in.Task.Slug()),
		TaskQueue: c.taskQueue,
	}
	run, err := c.c.ExecuteWorkflow(ctx, opts, WorkflowName, in)
	if err != nil {
		return nil, fmt.Errorf("start pipeline workflow: %w", err)
	}
	c.logger.Info(ctx, "pipeline workflow started",
		zap.String("workflow_id", run.GetID()), zap.String("run_id", run.GetRunID()))
	return run, nil
}

// Submit signals a review decision to the run for slug. It satisfies the
// review server's sink.
func (c *Client) Submit(ctx context.Context, slug string, rv orchestrator.Review) error {
	decision, ok := orchestrator.ParseDecision(string(rv.Decision))
	if !ok {
		return fmt.Errorf("%w: got %q", review.ErrInvalidDecision, rv.Decision)
	}
	rv.Decision = decision

	err := c.c.SignalWorkflow(ctx, WorkflowID(slug), "", SignalReviewDecision, rv)
	var notFound *serviceerror.NotFound
	if errors.As(err, &notFound) {
		return fmt.Errorf("%w: %s", review.ErrNoPendingReview, slug)
	}
	if err != nil {
		return fmt.Errorf("signal review decision: %w", err)
	}
	return nil
}

// PendingFor returns the review the run for slug is waiting on, or nil.
func (c *Client) PendingFor(ctx context.Context, slug string) (*orchestrator.ReviewRequest, error) {
	return c.pending(ctx, WorkflowID(slug))
}

func (c *Client) pending(ctx context.Context, workflowID string) (*orchestrator.ReviewRequest, error) {
	value, err := c.c.QueryWorkflow(ctx, workflowID, "", QueryPendingReview)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", workflowID, err)
	}
	var req *orchestrator.ReviewRequest
	if value.HasValue() {
		if err := value.Get(&req); err != nil {
			return nil, fmt.Errorf("decode pending review: %w", err)
		}
	}
	return req, nil
}

// Pending lists the reviews every running pipeline is waiting on, sorted by
// slug. Runs that fail to answer the query are skipped.
func (c *Client) Pending(ctx context.Context) ([]orchestrator.ReviewRequest, error) {
	resp, err := c.c.ListWorkflow(ctx, &workflowservice.ListWorkflowExecutionsRequest{
		Namespace: c.namespace,
		Query:     fmt.Sprintf("WorkflowType = '%s' AND ExecutionStatus = 'Running'", WorkflowName),
	})
	if err != nil {
		return nil, fmt.Errorf("list pipeline workflows: %w", err)
	}

	var out []orchestrator.ReviewRequest
	for _, info := range resp.GetExecutions() {
		id := info.GetExecution().GetWorkflowId()
		req, err := c.pending(ctx, id)
		if err != nil {
			c.logger.Warn(ctx, "skipping unqueryable pipeline", zap.String("workflow_id", id), zap.Error(err))
			continue
		}
		if req != nil {
			out = append(out, *req)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return out, nil
}

// Result waits for run to finish. Fatal runs return their report along with
// the error.
func Result(ctx context.Context, run client.WorkflowRun) (*orchestrator.Report, error) {
	var report orchestrator.Report
	if err := run.Get(ctx, &report); err != nil {
		if r, ok := ReportFromError(err); ok {
			return r, errors.New(r.Error)
		}
		return nil, err
	}
	return &report, nil
}

// Await waits for run while answering its reviews with a local reviewer,
// polling the pending-review query every interval.
func (c *Client) Await(ctx context.Context, run client.WorkflowRun, slug string, reviewer orchestrator.Reviewer, interval time.Duration) (*orchestrator.Report, error) {
	type outcome struct {
		report *orchestrator.Report
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		report, err := Result(ctx, run)
		done <- outcome{report, err}
	}()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	answered := -1
	for {
		select {
		case o := <-done:
			return o.report, o.err
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			req, err := c.PendingFor(ctx, slug)
			if err != nil {
				c.logger.Debug(ctx, "pending review query failed", zap.Error(err))
				continue
			}
			if req == nil || req.Iteration == answered {
				continue
			}
			rv, err := reviewer.Review(ctx, *req)
			if err != nil {
				return nil, fmt.Errorf("review: %w", err)
			}
			if err := c.Submit(ctx, slug, rv); err != nil {
				return nil, err
			}
			answered = req.Iteration
		}
	}
}
