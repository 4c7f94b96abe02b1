// Package github is the repository gateway: find-or-create issues, branch
// pushes, pull requests, merges and workflow dispatch over the GitHub REST
// API. Every operation can be retried without duplicating resources.
package github

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/fyrsmithlabs/devpipe/internal/config"
	"github.com/fyrsmithlabs/devpipe/internal/logging"
	gogithub "github.com/google/go-github/v57/github"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

// Operation names used in RepositoryError.
const (
	OpIssue         = "find_or_create_issue"
	OpDefaultBranch = "default_branch"
	OpPush          = "push"
	OpPR            = "create_pull_request"
	OpMerge         = "merge"
	OpDispatch      = "dispatch_workflow"
)

// MergeMessage is the commit message used for auto-merges.
const MergeMessage = "✅ Auto-merging AI-generated PR after passing checks."

// File is one artifact to commit.
type File struct {
	Path    string `json:"path"`
	Content string `json:"content"`
	Message string `json:"message"`
}

// Guard inspects content before it leaves the machine.
type Guard interface {
	Guard(name, content string) error
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithGuard refuses pushes the guard rejects.
func WithGuard(g Guard) Option {
	return func(gw *Gateway) { gw.guard = g }
}

// WithRetry overrides the retry policy.
func WithRetry(cfg *RetryConfig) Option {
	return func(gw *Gateway) { gw.retry = cfg }
}

// WithHTTPClient replaces the OAuth2 client, mainly for tests.
func WithHTTPClient(c *http.Client) Option {
	return func(gw *Gateway) { gw.httpClient = c }
}

// Gateway talks to one repository.
type Gateway struct {
	client     *gogithub.Client
	httpClient *http.Client
	owner      string
	repo       string
	limiter    *rate.Limiter
	retry      *RetryConfig
	guard      Guard
	logger     *logging.Logger

	mu            sync.Mutex
	defaultBranch string
}

// New creates a gateway for cfg.Repo authenticated with cfg.Token.
func New(ctx context.Context, cfg config.GitHubConfig, logger *logging.Logger, opts ...Option) (*Gateway, error) {
	if !cfg.Token.IsSet() {
		return nil, fmt.Errorf("GitHub token not set")
	}
	if cfg.Owner() == "" || cfg.Name() == "" {
		return nil, fmt.Errorf("invalid repository %q", cfg.Repo)
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	gw := &Gateway{
		owner:   cfg.Owner(),
		repo:    cfg.Name(),
		limiter: rate.NewLimiter(limit, 1),
		retry:   DefaultRetryConfig(),
		logger:  logger.Named("github"),
	}
	for _, opt := range opts {
		opt(gw)
	}

	if gw.httpClient == nil {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token.Value()})
		gw.httpClient = oauth2.NewClient(ctx, ts)
	}
	gw.client = gogithub.NewClient(gw.httpClient)

	if cfg.BaseURL != "" {
		base := cfg.BaseURL
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		u, err := url.Parse(base)
		if err != nil {
			return nil, fmt.Errorf("invalid GitHub base URL: %w", err)
		}
		gw.client.BaseURL = u
	}
	return gw, nil
}

// Repo returns owner/name.
func (g *Gateway) Repo() string {
	return g.owner + "/" + g.repo
}

// call paces and retries one logical operation.
func (g *Gateway) call(ctx context.Context, op string, fn func() (*gogithub.Response, error)) error {
	return withRetry(ctx, g.retry, g.logger, op, func() (*gogithub.Response, error) {
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		return fn()
	})
}

// FindOrCreateIssue returns the open issue titled title, creating it when
// none exists. Pull requests are never matched.
func (g *Gateway) FindOrCreateIssue(ctx context.Context, title, body string) (int, error) {
	var number int
	err := g.call(ctx, OpIssue, func() (*gogithub.Response, error) {
		opts := &gogithub.IssueListByRepoOptions{
			State:       "open",
			ListOptions: gogithub.ListOptions{PerPage: 100},
		}
		for {
			issues, resp, err := g.client.Issues.ListByRepo(ctx, g.owner, g.repo, opts)
			if err != nil {
				return resp, err
			}
			for _, issue := range issues {
				if issue.IsPullRequest() {
					continue
				}
				if issue.GetTitle() == title {
					number = issue.GetNumber()
					g.logger.Info(ctx, "reusing open issue", zap.Int("issue", number))
					return resp, nil
				}
			}
			if resp.NextPage == 0 {
				break
			}
			opts.Page = resp.NextPage
		}

		issue, resp, err := g.client.Issues.Create(ctx, g.owner, g.repo, &gogithub.IssueRequest{
			Title: gogithub.String(title),
			Body:  gogithub.String(body),
		})
		if err != nil {
			return resp, err
		}
		number = issue.GetNumber()
		g.logger.Info(ctx, "created issue", zap.Int("issue", number))
		return resp, nil
	})
	return number, opError(OpIssue, err)
}

// DefaultBranch returns the repository's default branch, cached after the
// first lookup.
func (g *Gateway) DefaultBranch(ctx context.Context) (string, error) {
	g.mu.Lock()
	cached := g.defaultBranch
	g.mu.Unlock()
	if cached != "" {
		return cached, nil
	}

	var branch string
	err := g.call(ctx, OpDefaultBranch, func() (*gogithub.Response, error) {
		repo, resp, err := g.client.Repositories.Get(ctx, g.owner, g.repo)
		if err != nil {
			return resp, err
		}
		branch = repo.GetDefaultBranch()
		return resp, nil
	})
	if err != nil {
		return "", opError(OpDefaultBranch, err)
	}
	if branch == "" {
		branch = "main"
	}

	g.mu.Lock()
	g.defaultBranch = branch
	g.mu.Unlock()
	return branch, nil
}

// Push commits file to branch, creating the branch from the default branch
// when it does not exist. Content identical to what the branch already
// holds is not recommitted.
func (g *Gateway) Push(ctx context.Context, file File, branch string) error {
	if g.guard != nil {
		if err := g.guard.Guard(file.Path, file.Content); err != nil {
			return opError(OpPush, err)
		}
	}
	if err := g.ensureBranch(ctx, branch); err != nil {
		return opError(OpPush, err)
	}

	message := file.Message
	if message == "" {
		message = "Add " + file.Path
	}

	err := g.call(ctx, OpPush, func() (*gogithub.Response, error) {
		existing, _, resp, err := g.client.Repositories.GetContents(ctx, g.owner, g.repo, file.Path,
			&gogithub.RepositoryContentGetOptions{Ref: branch})
		if err != nil && statusCode(resp) != http.StatusNotFound {
			return resp, err
		}

		opts := &gogithub.RepositoryContentFileOptions{
			Message: gogithub.String(message),
			Content: []byte(file.Content),
			Branch:  gogithub.String(branch),
		}

		if existing == nil {
			_, resp, err = g.client.Repositories.CreateFile(ctx, g.owner, g.repo, file.Path, opts)
			return resp, err
		}

		if current, decodeErr := existing.GetContent(); decodeErr == nil && current == file.Content {
			g.logger.Debug(ctx, "file unchanged, skipping commit", zap.String("path", file.Path))
			return resp, nil
		}
		opts.SHA = existing.SHA
		_, resp, err = g.client.Repositories.UpdateFile(ctx, g.owner, g.repo, file.Path, opts)
		return resp, err
	})
	if err != nil {
		return opError(OpPush, err)
	}
	g.logger.Info(ctx, "pushed file", zap.String("path", file.Path), zap.String("branch", branch))
	return nil
}

func (g *Gateway) ensureBranch(ctx context.Context, branch string) error {
	ref := "heads/" + branch

	var exists bool
	err := g.call(ctx, "get_ref", func() (*gogithub.Response, error) {
		_, resp, err := g.client.Git.GetRef(ctx, g.owner, g.repo, ref)
		if err != nil {
			if statusCode(resp) == http.StatusNotFound {
				return resp, nil
			}
			return resp, err
		}
		exists = true
		return resp, nil
	})
	if err != nil || exists {
		return err
	}

	base, err := g.DefaultBranch(ctx)
	if err != nil {
		return err
	}

	return g.call(ctx, "create_ref", func() (*gogithub.Response, error) {
		baseRef, resp, err := g.client.Git.GetRef(ctx, g.owner, g.repo, "heads/"+base)
		if err != nil {
			return resp, err
		}
		_, resp, err = g.client.Git.CreateRef(ctx, g.owner, g.repo, &gogithub.Reference{
			Ref:    gogithub.String("refs/" + ref),
			Object: &gogithub.GitObject{SHA: baseRef.GetObject().SHA},
		})
		if statusCode(resp) == http.StatusUnprocessableEntity {
			// Created concurrently by another run.
			return resp, nil
		}
		if err == nil {
			g.logger.Info(ctx, "created branch", zap.String("branch", branch), zap.String("from", base))
		}
		return resp, err
	})
}

// CreatePullRequest opens a pull request from branch into base (the default
// branch when empty) that closes issue. An open pull request for the same
// head and base is returned instead of opening another.
func (g *Gateway) CreatePullRequest(ctx context.Context, title, branch, base string, issue int, description string) (int, error) {
	if base == "" {
		var err error
		if base, err = g.DefaultBranch(ctx); err != nil {
			return 0, opError(OpPR, err)
		}
	}

	body := fmt.Sprintf("Closes #%d", issue)
	if description != "" {
		body += "\n\n" + description
	}

	var number int
	err := g.call(ctx, OpPR, func() (*gogithub.Response, error) {
		open, resp, err := g.client.PullRequests.List(ctx, g.owner, g.repo, &gogithub.PullRequestListOptions{
			State: "open",
			Head:  g.owner + ":" + branch,
			Base:  base,
		})
		if err != nil {
			return resp, err
		}
		if len(open) > 0 {
			number = open[0].GetNumber()
			g.logger.Info(ctx, "reusing open pull request", zap.Int("pr", number))
			return resp, nil
		}

		pr, resp, err := g.client.PullRequests.Create(ctx, g.owner, g.repo, &gogithub.NewPullRequest{
			Title: gogithub.String(title),
			Head:  gogithub.String(branch),
			Base:  gogithub.String(base),
			Body:  gogithub.String(body),
		})
		if err != nil {
			return resp, err
		}
		number = pr.GetNumber()
		g.logger.Info(ctx, "created pull request", zap.Int("pr", number), zap.Int("issue", issue))
		return resp, nil
	})
	return number, opError(OpPR, err)
}

// Merge merges pr after checking mergeability. A pull request GitHub
// reports as not mergeable is left open and ErrNotMergeable is returned.
func (g *Gateway) Merge(ctx context.Context, pr int) error {
	err := g.call(ctx, OpMerge, func() (*gogithub.Response, error) {
		current, resp, err := g.client.PullRequests.Get(ctx, g.owner, g.repo, pr)
		if err != nil {
			return resp, err
		}
		if current.GetMerged() {
			return resp, nil
		}
		if current.Mergeable == nil {
			// GitHub computes mergeability lazily; ask again.
			return &gogithub.Response{Response: &http.Response{StatusCode: http.StatusServiceUnavailable}},
				fmt.Errorf("mergeability of #%d not yet computed", pr)
		}
		if !current.GetMergeable() {
			return resp, &permanentError{err: ErrNotMergeable}
		}

		result, resp, err := g.client.PullRequests.Merge(ctx, g.owner, g.repo, pr, MergeMessage, nil)
		if err != nil {
			if statusCode(resp) == http.StatusMethodNotAllowed {
				return resp, &permanentError{err: fmt.Errorf("%w: %v", ErrNotMergeable, err)}
			}
			return resp, err
		}
		if !result.GetMerged() {
			return resp, &permanentError{err: fmt.Errorf("%w: %s", ErrNotMergeable, result.GetMessage())}
		}
		return resp, nil
	})
	if err != nil {
		return opError(OpMerge, err)
	}
	g.logger.Info(ctx, "merged pull request", zap.Int("pr", pr))
	return nil
}

// DispatchWorkflow triggers workflow (a file name such as ci.yml) on ref.
// Anything but 204 No Content is a failure.
func (g *Gateway) DispatchWorkflow(ctx context.Context, workflow, ref string) error {
	err := g.call(ctx, OpDispatch, func() (*gogithub.Response, error) {
		resp, err := g.client.Actions.CreateWorkflowDispatchEventByFileName(ctx, g.owner, g.repo, workflow,
			gogithub.CreateWorkflowDispatchEventRequest{Ref: ref})
		if err != nil {
			return resp, err
		}
		if code := statusCode(resp); code != http.StatusNoContent {
			return resp, &permanentError{err: fmt.Errorf("unexpected status %d", code)}
		}
		return resp, nil
	})
	if err != nil {
		return opError(OpDispatch, err)
	}
	g.logger.Info(ctx, "dispatched workflow", zap.String("workflow", workflow), zap.String("ref", ref))
	return nil
}
