package orchestrator

import (
	"strings"
	"unicode"
	"time"

	"github.com/fyrsmithlabs/devpipe/internal/testgate"
)

// State is a step of the pipeline.
type State string

const (
	StateStart              State = "START"
	StateIssueEnsured       State = "ISSUE_ENSURED"
	StateTestsGenerated     State = "TESTS_GENERATED"
	StateTestFileWritten    State = "TEST_FILE_WRITTEN"
	StateArtifactsGenerated State = "ARTIFACTS_GENERATED"
	StateArtifactsPersisted State = "ARTIFACTS_PERSISTED"
	StateGateEvaluated      State = "GATE_EVALUATED"
	StatePushed             State = "PUSHED"
	StatePRCreated          State = "PR_CREATED"
	StateReviewed           State = "REVIEWED"
	StateTerminated         State = "TERMINATED"
)

// Reason says why a run reached TERMINATED.
type Reason string

const (
	ReasonSuccess              Reason = "success"
	ReasonTestsFailed          Reason = "tests-failed"
	ReasonPushFailed           Reason = "push-failed"
	ReasonNoTester             Reason = "no-tester"
	ReasonMaxRevisionsExceeded Reason = "max-revisions-exceeded"
	ReasonCancelled            Reason = "cancelled"
	ReasonFatal                Reason = "fatal"
)

// Task is the unit of work. It does not change once a run starts.
type Task struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Slug derives the branch- and file-safe identifier for the task.
func (t Task) Slug() string {
	return Slug(t.Name)
}

// Slug lowercases name, turns whitespace into hyphens and drops every other
// character outside [a-z0-9-].
func Slug(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case unicode.IsSpace(r):
			b.WriteByte('-')
		case r == '-' || (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
		}
	}
	return b.String()
}

// BranchName is the work branch for slug.
func BranchName(slug string) string {
	return "feature/" + slug + "-ai"
}

// ArtifactKind names one of the three generated files.
type ArtifactKind string

const (
	ArtifactCode          ArtifactKind = "code"
	ArtifactTest          ArtifactKind = "test"
	ArtifactDocumentation ArtifactKind = "documentation"
)

// Artifact is one generated file.
type Artifact struct {
	Kind     ArtifactKind `json:"kind"`
	Role     string       `json:"role"`
	Filename string       `json:"filename"`
	Path     string       `json:"path,omitempty"`
	Content  string       `json:"content,omitempty"`
	// Raw keeps a non-conforming answer for inspection. It is never written
	// or pushed.
	Raw string `json:"raw,omitempty"`
}

// Present reports whether the artifact has content to persist and push.
func (a Artifact) Present() bool {
	return a.Content != ""
}

// Filenames derives the code, test and documentation file names for slug.
func Filenames(slug string, s Settings) (code, test, doc string) {
	return "code_" + slug + s.CodeExt, "test_" + slug + s.TestExt, "readme_" + slug + s.DocExt
}

// Decision is the outcome of a review.
type Decision string

const (
	Approved      Decision = "APPROVED"
	NeedsRevision Decision = "NEEDS_REVISION"
)

// ParseDecision accepts the two decision names in any case.
func ParseDecision(s string) (Decision, bool) {
	switch Decision(strings.ToUpper(strings.TrimSpace(s))) {
	case Approved:
		return Approved, true
	case NeedsRevision:
		return NeedsRevision, true
	}
	return "", false
}

// ReviewRequest is what a reviewer sees.
type ReviewRequest struct {
	RunID       string           `json:"run_id"`
	Task        Task             `json:"task"`
	Slug        string           `json:"slug"`
	Branch      string           `json:"branch"`
	IssueNumber int              `json:"issue_number"`
	PRNumber    int              `json:"pr_number"`
	Iteration   int              `json:"iteration"`
	Verdict     testgate.Verdict `json:"verdict"`
	Artifacts   []Artifact       `json:"artifacts"`
}

// Review is a reviewer's answer.
type Review struct {
	Decision Decision `json:"decision"`
	Feedback string   `json:"feedback,omitempty"`
	Reviewer string   `json:"reviewer,omitempty"`
}

// Transition is emitted after every completed state and on termination.
type Transition struct {
	RunID     string        `json:"run_id"`
	Slug      string        `json:"slug"`
	From      State         `json:"from"`
	To        State         `json:"to"`
	Reason    Reason        `json:"reason,omitempty"`
	Iteration int           `json:"iteration"`
	At        time.Time     `json:"at"`
	Elapsed   time.Duration `json:"elapsed"`
}

// Warning is a RecoverableStageWarning kept on the Report.
type Warning struct {
	Stage   State  `json:"stage"`
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
}

// Report is the outcome of one run.
type Report struct {
	RunID         string            `json:"run_id"`
	Task          Task              `json:"task"`
	Slug          string            `json:"slug"`
	Branch        string            `json:"branch"`
	BaseBranch    string            `json:"base_branch,omitempty"`
	IssueNumber   int               `json:"issue_number,omitempty"`
	PRNumber      int               `json:"pr_number,omitempty"`
	Reason        Reason            `json:"reason"`
	LastCompleted State             `json:"last_completed"`
	Iterations    int               `json:"iterations"`
	Revisions     int               `json:"revisions"`
	Artifacts     []Artifact        `json:"artifacts"`
	Verdict       *testgate.Verdict `json:"verdict,omitempty"`
	Explanation   string            `json:"explanation,omitempty"`
	Review        *Review           `json:"review,omitempty"`
	Warnings      []Warning         `json:"warnings,omitempty"`
	Merged        bool              `json:"merged"`
	Dispatched    bool              `json:"dispatched"`
	Error         string            `json:"error,omitempty"`
	StartedAt     time.Time         `json:"started_at"`
	FinishedAt    time.Time         `json:"finished_at"`
}

// Succeeded reports whether the run ended in TERMINATED(success).
func (r *Report) Succeeded() bool {
	return r != nil && r.Reason == ReasonSuccess
}

// Artifact returns the artifact of kind, if generated.
func (r *Report) Artifact(kind ArtifactKind) (Artifact, bool) {
	for _, a := range r.Artifacts {
		if a.Kind == kind {
			return a, true
		}
	}
	return Artifact{}, false
}

// Settings tune a run.
type Settings struct {
	// MaxRevisions bounds NEEDS_REVISION loops. Zero means the first
	// NEEDS_REVISION ends the run.
	MaxRevisions    int
	CodeExt         string
	TestExt         string
	DocExt          string
	ExplainFailures bool
	AutoMerge       bool
	// Workflow, when set, is dispatched on the branch after approval.
	Workflow string
}

// DefaultSettings returns Python-flavoured defaults.
func DefaultSettings() Settings {
	return Settings{
		MaxRevisions:    3,
		CodeExt:         ".py",
		TestExt:         ".py",
		DocExt:          ".md",
		ExplainFailures: true,
	}
}
