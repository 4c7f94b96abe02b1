package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fyrsmithlabs/devpipe/internal/agents"
	"github.com/fyrsmithlabs/devpipe/internal/github"
	"github.com/fyrsmithlabs/devpipe/internal/llm"
	"github.com/fyrsmithlabs/devpipe/internal/logging"
	"github.com/fyrsmithlabs/devpipe/internal/memory"
	"github.com/fyrsmithlabs/devpipe/internal/testgate"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Observer receives every transition, synchronously, on the executing
// goroutine.
type Observer func(Transition)

// Option configures an Executor.
type Option func(*Executor)

// WithObserver adds a transition observer.
func WithObserver(o Observer) Option {
	return func(e *Executor) { e.observers = append(e.observers, o) }
}

// WithClock overrides the time source used for report and transition
// timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Executor) { e.now = now }
}

// WithRunIDs overrides run id generation.
func WithRunIDs(next func() string) Option {
	return func(e *Executor) { e.newRunID = next }
}

// Executor runs tasks through the pipeline states.
type Executor struct {
	deps      Deps
	settings  Settings
	logger    *logging.Logger
	observers []Observer
	now       func() time.Time
	newRunID  func() string
}

// NewExecutor creates an executor. Every collaborator except the Locker is
// required.
func NewExecutor(deps Deps, settings Settings, logger *logging.Logger, opts ...Option) (*Executor, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if settings.MaxRevisions < 0 {
		return nil, fmt.Errorf("max revisions must be >= 0, got %d", settings.MaxRevisions)
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	e := &Executor{
		deps:     deps,
		settings: settings,
		logger:   logger.Named("orchestrator"),
		now:      time.Now,
		newRunID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// OnTransition adds an observer after construction.
func (e *Executor) OnTransition(o Observer) {
	e.observers = append(e.observers, o)
}

// run is the mutable state of one Execute call.
type run struct {
	task     Task
	report   *Report
	session  memory.Session
	handles  map[string]*agents.Handle
	state    State
	lastAt   time.Time
	testPath string
	feedback string
}

// step is what one state handler decided.
type step struct {
	completed bool
	next      State
	reason    Reason
	err       *StageError
}

func advance(next State) step { return step{completed: true, next: next} }

func stop(completed bool, reason Reason, err *StageError) step {
	return step{completed: completed, reason: reason, err: err}
}

// Execute runs task to a terminal state. The Report is always returned. The
// error is the fatal StageError that ended the run, or nil for
// success, tests-failed and max-revisions-exceeded.
func (e *Executor) Execute(ctx context.Context, task Task) (*Report, error) {
	slug := task.Slug()
	now := e.now()
	r := &run{
		task:  task,
		state: StateStart,
		report: &Report{
			RunID:         e.newRunID(),
			Task:          task,
			Slug:          slug,
			Branch:        BranchName(slug),
			LastCompleted: StateStart,
			StartedAt:     now,
		},
		lastAt: now,
	}

	if slug == "" || strings.TrimSpace(task.Description) == "" {
		err := fmt.Errorf("task needs a name with at least one [a-z0-9] character and a description")
		return e.terminate(ctx, r, ReasonFatal, &StageError{Stage: StateStart, Kind: KindConfiguration, Severity: SeverityFatal, Err: err})
	}

	ctx = logging.WithRunID(ctx, r.report.RunID)
	ctx = logging.WithTaskSlug(ctx, slug)

	if e.deps.Locker != nil {
		lock, err := e.deps.Locker.Lock(slug)
		if err != nil {
			return e.terminate(ctx, r, ReasonFatal, classify(StateStart, err, SeverityFatal))
		}
		defer func() {
			if err := lock.Unlock(); err != nil {
				e.logger.Warn(ctx, "failed to release task lock", zap.Error(err))
			}
		}()
	}

	r.handles = make(map[string]*agents.Handle)
	for _, role := range []string{agents.RoleDeveloper, agents.RoleTester, agents.RoleDocumenter} {
		if h, ok := e.deps.Directory.Resolve(role); ok {
			r.handles[role] = h
		}
	}

	session, err := e.deps.Memory.Session(ctx, slug)
	if err != nil {
		e.warn(ctx, r, classify(StateStart, fmt.Errorf("open memory session: %w", err), SeverityWarning))
	} else {
		r.session = session
	}
	e.remember(ctx, r, "user", fmt.Sprintf("%s\n\n%s", task.Name, task.Description))

	e.logger.Info(ctx, "pipeline started", zap.String("task", task.Name), zap.String("branch", r.report.Branch))

	next := StateIssueEnsured
	for {
		if err := ctx.Err(); err != nil {
			return e.terminate(ctx, r, ReasonCancelled, classify(r.state, err, SeverityFatal))
		}

		stageCtx := logging.WithStage(ctx, string(next))
		s := e.step(stageCtx, r, next)
		if s.completed {
			e.complete(stageCtx, r, next)
		}
		if s.reason != "" {
			return e.terminate(ctx, r, s.reason, s.err)
		}
		next = s.next
	}
}

func (e *Executor) step(ctx context.Context, r *run, target State) step {
	switch target {
	case StateIssueEnsured:
		return e.ensureIssue(ctx, r)
	case StateTestsGenerated:
		return e.generateTests(ctx, r)
	case StateTestFileWritten:
		return e.writeTestFile(ctx, r)
	case StateArtifactsGenerated:
		return e.generateArtifacts(ctx, r)
	case StateArtifactsPersisted:
		return e.persistArtifacts(ctx, r)
	case StateGateEvaluated:
		return e.evaluateGate(ctx, r)
	case StatePushed:
		return e.push(ctx, r)
	case StatePRCreated:
		return e.createPullRequest(ctx, r)
	case StateReviewed:
		return e.review(ctx, r)
	default:
		return stop(false, ReasonFatal, &StageError{Stage: target, Kind: KindFatal, Severity: SeverityFatal, Err: fmt.Errorf("unknown state %q", target)})
	}
}

// fail ends the run at stage, as cancelled when ctx ended first.
func (e *Executor) fail(ctx context.Context, stage State, reason Reason, err error) step {
	if isCancellation(ctx, err) {
		return stop(false, ReasonCancelled, classify(stage, err, SeverityFatal))
	}
	return stop(false, reason, classify(stage, err, SeverityFatal))
}

func (e *Executor) ensureIssue(ctx context.Context, r *run) step {
	title := fmt.Sprintf("🚀 %s - AI Task", r.task.Name)
	body := fmt.Sprintf("### Auto-Generated Task\n\n%s\n\n_Assigned to AI agents._\n", r.task.Description)

	number, err := e.deps.Repository.FindOrCreateIssue(ctx, title, body)
	if err != nil {
		return e.fail(ctx, StateIssueEnsured, ReasonFatal, err)
	}
	r.report.IssueNumber = number
	return advance(StateTestsGenerated)
}

func (e *Executor) generateTests(ctx context.Context, r *run) step {
	tester := r.handles[agents.RoleTester]
	fn := strings.ReplaceAll(r.report.Slug, "-", "_")

	tests, err := e.deps.Gate.GenerateTestCode(ctx, tester, fn, r.task.Description, e.settings.TestExt)
	if err != nil {
		var gateErr *testgate.Error
		if errors.As(err, &gateErr) && errors.Is(err, testgate.ErrNoTester) {
			v := gateErr.Verdict
			r.report.Verdict = &v
			return stop(false, ReasonNoTester, classify(StateTestsGenerated, err, SeverityFatal))
		}
		return e.fail(ctx, StateTestsGenerated, ReasonFatal, err)
	}

	codeFile, testFile, docFile := Filenames(r.report.Slug, e.settings)
	r.report.Artifacts = []Artifact{
		{Kind: ArtifactCode, Role: agents.RoleDeveloper, Filename: codeFile},
		{Kind: ArtifactTest, Role: agents.RoleTester, Filename: testFile, Content: tests},
		{Kind: ArtifactDocumentation, Role: agents.RoleDocumenter, Filename: docFile},
	}

	e.remember(ctx, r, agents.RoleTester, r.report.Artifacts[1].Content)
	return advance(StateTestFileWritten)
}

func (e *Executor) writeTestFile(ctx context.Context, r *run) step {
	test := &r.report.Artifacts[1]
	path, err := e.deps.Workspace.Write(ctx, test.Filename, test.Content)
	if err != nil {
		return e.fail(ctx, StateTestFileWritten, ReasonFatal, err)
	}
	test.Path = path
	r.testPath = path
	return advance(StateArtifactsGenerated)
}

// teamTasks builds the developer, tester and documenter tasks, in that
// order.
func (e *Executor) teamTasks(r *run, transcript string) []llm.TeamTask {
	name, desc := r.task.Name, r.task.Description
	currentTests := r.report.Artifacts[1].Content

	tasks := []llm.TeamTask{
		{
			Role:           agents.RoleDeveloper,
			Name:           name + " - Code",
			Description:    desc,
			ExpectedOutput: "Complete, async capable, production grade code implementation.",
			CodeExt:        e.settings.CodeExt,
		},
		{
			Role: agents.RoleTester,
			Name: name + " - Tests",
			Description: fmt.Sprintf("Review the current test suite for the task below and return a complete, revised test suite "+
				"that covers typical and edge cases. Return only test code.\n\nTask: %s\n\nCurrent tests:\n%s", desc, currentTests),
			ExpectedOutput: "Valid test code covering typical and edge cases.",
			CodeExt:        e.settings.TestExt,
		},
		{
			Role:           agents.RoleDocumenter,
			Name:           name + " - Documentation",
			Description:    fmt.Sprintf("Generate a README for the feature below using markdown and Mermaid diagrams.\n\n%s", desc),
			ExpectedOutput: "Feature README in markdown with diagrams and integration examples.",
		},
	}
	for i := range tasks {
		tasks[i].Handle = r.handles[tasks[i].Role]
		tasks[i].Context = transcript
		if r.feedback != "" {
			tasks[i].Description += "\n\nReviewer feedback to address:\n" + r.feedback
		}
	}
	return tasks
}

func (e *Executor) generateArtifacts(ctx context.Context, r *run) step {
	r.report.Iterations++

	var transcript string
	if r.session != nil {
		turns, err := r.session.ReadAll(ctx)
		if err != nil {
			e.warn(ctx, r, classify(StateArtifactsGenerated, fmt.Errorf("read memory: %w", err), SeverityWarning))
		} else {
			transcript = memory.Transcript(turns)
		}
	}

	tasks := e.teamTasks(r, transcript)
	outcomes, err := e.deps.Generator.RunTeam(ctx, tasks)
	if err != nil {
		return e.fail(ctx, StateArtifactsGenerated, ReasonFatal, err)
	}
	if len(outcomes) != len(tasks) {
		return stop(false, ReasonFatal, &StageError{
			Stage: StateArtifactsGenerated, Kind: KindGeneration, Severity: SeverityFatal,
			Err: fmt.Errorf("team returned %d outcomes for %d tasks", len(outcomes), len(tasks)),
		})
	}

	for i, o := range outcomes {
		a := &r.report.Artifacts[i]
		previous := a.Content
		a.Raw = ""

		switch {
		case o.Err != nil:
			a.Content = ""
			e.warn(ctx, r, classify(StateArtifactsGenerated, o.Err, SeverityWarning))
		case !o.Result.Ok():
			a.Content = ""
			a.Raw = o.Result.Raw
			e.warn(ctx, r, &StageError{
				Stage: StateArtifactsGenerated, Kind: KindGeneration, Severity: SeverityWarning,
				Err: &llm.GenerationError{Role: a.Role, Err: fmt.Errorf("%s answer has no usable content", o.Result.Kind)},
			})
		default:
			a.Content = o.Result.Text
		}

		// The gate needs a test file; keep the last good suite if the
		// tester's revision is unusable.
		if a.Kind == ArtifactTest && !a.Present() {
			a.Content = previous
		}
		if a.Kind == ArtifactDocumentation && errors.Is(o.Err, llm.ErrUnboundRole) {
			e.readmeFallback(ctx, r, a)
		}
		if a.Present() {
			e.remember(ctx, r, a.Role, a.Content)
		}
	}
	return advance(StateArtifactsPersisted)
}

func (e *Executor) readmeFallback(ctx context.Context, r *run, a *Artifact) {
	result, err := e.deps.Generator.Readme(ctx, r.task.Name, r.task.Description)
	switch {
	case err != nil:
		e.warn(ctx, r, classify(StateArtifactsGenerated, &llm.GenerationError{Role: a.Role, Err: fmt.Errorf("readme fallback: %w", err)}, SeverityWarning))
	case !result.Ok():
		a.Raw = result.Raw
	default:
		a.Content = result.Text
	}
}

func (e *Executor) persistArtifacts(ctx context.Context, r *run) step {
	for i := range r.report.Artifacts {
		a := &r.report.Artifacts[i]
		if !a.Present() {
			e.logger.Debug(ctx, "artifact has no content; not written", zap.String("artifact", string(a.Kind)))
			continue
		}
		path, err := e.deps.Workspace.Write(ctx, a.Filename, a.Content)
		if err != nil {
			if a.Kind == ArtifactTest || isCancellation(ctx, err) {
				return e.fail(ctx, StateArtifactsPersisted, ReasonFatal, err)
			}
			e.warn(ctx, r, classify(StateArtifactsPersisted, fmt.Errorf("write %s: %w", a.Filename, err), SeverityWarning))
			continue
		}
		a.Path = path
		if a.Kind == ArtifactTest {
			r.testPath = path
		}
	}
	return advance(StateGateEvaluated)
}

func (e *Executor) evaluateGate(ctx context.Context, r *run) step {
	verdict, err := e.deps.Gate.Run(ctx, r.testPath)
	if err != nil {
		var gateErr *testgate.Error
		if errors.As(err, &gateErr) {
			v := gateErr.Verdict
			r.report.Verdict = &v
		}
		return e.fail(ctx, StateGateEvaluated, ReasonFatal, err)
	}
	r.report.Verdict = &verdict
	e.remember(ctx, r, "test-gate", fmt.Sprintf("exit code %d: %s", verdict.ExitCode, verdict.Summary))

	if verdict.Ok() {
		return advance(StatePushed)
	}

	e.logger.Warn(ctx, "tests failed; nothing will be pushed",
		zap.Int("exit_code", verdict.ExitCode), zap.String("summary", verdict.Summary))

	if e.settings.ExplainFailures {
		explanation, err := e.deps.Gate.Explain(ctx, r.handles[agents.RoleTester], verdict)
		if err != nil {
			e.warn(ctx, r, classify(StateGateEvaluated, &llm.GenerationError{Role: agents.RoleTester, Err: err}, SeverityWarning))
		} else {
			r.report.Explanation = explanation
			e.remember(ctx, r, agents.RoleTester, explanation)
		}
	}
	return stop(true, ReasonTestsFailed, nil)
}

func (e *Executor) push(ctx context.Context, r *run) step {
	for _, a := range r.report.Artifacts {
		if !a.Present() {
			e.warn(ctx, r, &StageError{
				Stage: StatePushed, Kind: KindGeneration, Severity: SeverityWarning,
				Err: fmt.Errorf("%s artifact has no content; push skipped", a.Kind),
			})
			continue
		}
		file := github.File{
			Path:    a.Filename,
			Content: a.Content,
			Message: fmt.Sprintf("Add %s for %s", a.Kind, r.task.Name),
		}
		if err := e.deps.Repository.Push(ctx, file, r.report.Branch); err != nil {
			return e.fail(ctx, StatePushed, ReasonPushFailed, err)
		}
	}
	return advance(StatePRCreated)
}

func (e *Executor) createPullRequest(ctx context.Context, r *run) step {
	if r.report.PRNumber != 0 {
		e.logger.Debug(ctx, "reusing pull request", zap.Int("pr", r.report.PRNumber))
		return advance(StateReviewed)
	}

	base, err := e.deps.Repository.DefaultBranch(ctx)
	if err != nil {
		return e.fail(ctx, StatePRCreated, ReasonFatal, err)
	}
	r.report.BaseBranch = base

	title := fmt.Sprintf("✨ Feature: %s", r.task.Name)
	pr, err := e.deps.Repository.CreatePullRequest(ctx, title, r.report.Branch, base, r.report.IssueNumber, r.task.Description)
	if err != nil {
		return e.fail(ctx, StatePRCreated, ReasonFatal, err)
	}
	r.report.PRNumber = pr
	return advance(StateReviewed)
}

func (e *Executor) review(ctx context.Context, r *run) step {
	req := ReviewRequest{
		RunID:       r.report.RunID,
		Task:        r.task,
		Slug:        r.report.Slug,
		Branch:      r.report.Branch,
		IssueNumber: r.report.IssueNumber,
		PRNumber:    r.report.PRNumber,
		Iteration:   r.report.Iterations,
		Artifacts:   append([]Artifact(nil), r.report.Artifacts...),
	}
	if r.report.Verdict != nil {
		req.Verdict = *r.report.Verdict
	}

	rv, err := e.deps.Reviewer.Review(ctx, req)
	if err != nil {
		return e.fail(ctx, StateReviewed, ReasonFatal, err)
	}
	decision, ok := ParseDecision(string(rv.Decision))
	if !ok {
		return stop(false, ReasonFatal, &StageError{
			Stage: StateReviewed, Kind: KindFatal, Severity: SeverityFatal,
			Err: fmt.Errorf("invalid review decision %q", rv.Decision),
		})
	}
	rv.Decision = decision
	r.report.Review = &rv

	note := string(decision)
	if rv.Feedback != "" {
		note += ": " + rv.Feedback
	}
	e.remember(ctx, r, "reviewer", note)

	if decision == Approved {
		e.ship(ctx, r)
		return stop(true, ReasonSuccess, nil)
	}

	if r.report.Revisions >= e.settings.MaxRevisions {
		return stop(true, ReasonMaxRevisionsExceeded, nil)
	}
	r.report.Revisions++
	r.feedback = rv.Feedback
	e.logger.Info(ctx, "revision requested", zap.Int("revision", r.report.Revisions), zap.Int("max", e.settings.MaxRevisions))
	return advance(StateArtifactsGenerated)
}

// ship merges and dispatches after approval. Failures here never change the
// terminal reason.
func (e *Executor) ship(ctx context.Context, r *run) {
	if e.settings.AutoMerge && ctx.Err() == nil {
		if err := e.deps.Repository.Merge(ctx, r.report.PRNumber); err != nil {
			if errors.Is(err, github.ErrNotMergeable) {
				err = fmt.Errorf("pull request #%d left open for manual review: %w", r.report.PRNumber, err)
			}
			e.warn(ctx, r, classify(StateReviewed, err, SeverityWarning))
		} else {
			r.report.Merged = true
		}
	}
	if e.settings.Workflow != "" && ctx.Err() == nil {
		if err := e.deps.Repository.DispatchWorkflow(ctx, e.settings.Workflow, r.report.Branch); err != nil {
			e.warn(ctx, r, classify(StateReviewed, err, SeverityWarning))
		} else {
			r.report.Dispatched = true
		}
	}
}

func (e *Executor) complete(ctx context.Context, r *run, to State) {
	now := e.now()
	t := Transition{
		RunID:     r.report.RunID,
		Slug:      r.report.Slug,
		From:      r.state,
		To:        to,
		Iteration: r.report.Iterations,
		At:        now,
		Elapsed:   now.Sub(r.lastAt),
	}
	r.state = to
	r.lastAt = now
	r.report.LastCompleted = to

	e.logger.Info(ctx, "state completed", zap.String("from", string(t.From)), zap.String("to", string(to)), zap.Int("iteration", t.Iteration))
	e.emit(t)
}

func (e *Executor) terminate(ctx context.Context, r *run, reason Reason, cause *StageError) (*Report, error) {
	now := e.now()
	r.report.Reason = reason
	r.report.FinishedAt = now

	fields := []zap.Field{
		zap.String("reason", string(reason)),
		zap.String("last_completed", string(r.report.LastCompleted)),
		zap.Int("iterations", r.report.Iterations),
	}
	if r.report.Verdict != nil {
		fields = append(fields, zap.String("verdict", r.report.Verdict.Summary))
	}
	if cause != nil {
		r.report.Error = cause.Error()
		e.logger.Error(ctx, "pipeline terminated", append(fields, zap.Error(cause))...)
	} else {
		e.logger.Info(ctx, "pipeline terminated", fields...)
	}

	if reason != ReasonCancelled {
		e.remember(ctx, r, "orchestrator", fmt.Sprintf("TERMINATED(%s) after %s", reason, r.report.LastCompleted))
	}

	e.emit(Transition{
		RunID:     r.report.RunID,
		Slug:      r.report.Slug,
		From:      r.state,
		To:        StateTerminated,
		Reason:    reason,
		Iteration: r.report.Iterations,
		At:        now,
		Elapsed:   now.Sub(r.lastAt),
	})

	if cause == nil {
		return r.report, nil
	}
	return r.report, cause
}

func (e *Executor) warn(ctx context.Context, r *run, se *StageError) {
	r.report.Warnings = append(r.report.Warnings, Warning{Stage: se.Stage, Kind: se.Kind, Message: se.Err.Error()})
	e.logger.Warn(ctx, "stage degraded",
		zap.String("stage", string(se.Stage)),
		zap.String("kind", string(se.Kind)),
		zap.Error(se.Err),
	)
}

// remember appends a turn to the task's memory. A failed append is a warning.
func (e *Executor) remember(ctx context.Context, r *run, actor, message string) {
	if r.session == nil || message == "" {
		return
	}
	if err := r.session.Append(ctx, actor, message); err != nil {
		e.warn(ctx, r, classify(r.state, fmt.Errorf("append memory: %w", err), SeverityWarning))
	}
}

func (e *Executor) emit(t Transition) {
	for _, o := range e.observers {
		o(t)
	}
}
