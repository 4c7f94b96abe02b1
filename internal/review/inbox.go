package review

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/fyrsmithlabs/devpipe/internal/logging"
	"github.com/fyrsmithlabs/devpipe/internal/orchestrator"
	"go.uber.org/zap"
)

// ErrNoPendingReview is returned when a decision names a task that is not
// waiting for review.
var ErrNoPendingReview = errors.New("no review pending for task")

// ErrInvalidDecision is returned for decisions other than APPROVED and
// NEEDS_REVISION.
var ErrInvalidDecision = errors.New("decision must be APPROVED or NEEDS_REVISION")

// Inbox is a Reviewer fed by Submit, typically from the HTTP review server.
// One review may be pending per task slug.
type Inbox struct {
	mu      sync.Mutex
	pending map[string]*pendingReview
	logger  *logging.Logger
}

type pendingReview struct {
	req     orchestrator.ReviewRequest
	decided chan orchestrator.Review
}

// NewInbox creates an empty inbox.
func NewInbox(logger *logging.Logger) *Inbox {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Inbox{pending: make(map[string]*pendingReview), logger: logger.Named("inbox")}
}

// Review waits for a Submit for req.Slug or for ctx to end.
func (i *Inbox) Review(ctx context.Context, req orchestrator.ReviewRequest) (orchestrator.Review, error) {
	p := &pendingReview{req: req, decided: make(chan orchestrator.Review, 1)}

	i.mu.Lock()
	if _, busy := i.pending[req.Slug]; busy {
		i.mu.Unlock()
		return orchestrator.Review{}, fmt.Errorf("a review for %s is already pending", req.Slug)
	}
	i.pending[req.Slug] = p
	i.mu.Unlock()

	defer func() {
		i.mu.Lock()
		if i.pending[req.Slug] == p {
			delete(i.pending, req.Slug)
		}
		i.mu.Unlock()
	}()

	i.logger.Info(ctx, "waiting for review decision", zap.Int("pr", req.PRNumber))
	select {
	case rv := <-p.decided:
		return rv, nil
	case <-ctx.Done():
		return orchestrator.Review{}, ctx.Err()
	}
}

// Submit delivers a decision to the run waiting on slug.
func (i *Inbox) Submit(_ context.Context, slug string, rv orchestrator.Review) error {
	decision, ok := orchestrator.ParseDecision(string(rv.Decision))
	if !ok {
		return fmt.Errorf("%w: got %q", ErrInvalidDecision, rv.Decision)
	}
	rv.Decision = decision

	i.mu.Lock()
	defer i.mu.Unlock()
	p, ok := i.pending[slug]
	if !ok {
		return fmt.Errorf("%s: %w", slug, ErrNoPendingReview)
	}
	delete(i.pending, slug)
	p.decided <- rv
	return nil
}

// Pending lists the requests waiting for a decision, by slug.
func (i *Inbox) Pending(_ context.Context) ([]orchestrator.ReviewRequest, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	out := make([]orchestrator.ReviewRequest, 0, len(i.pending))
	for _, p := range i.pending {
		out = append(out, p.req)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Slug < out[b].Slug })
	return out, nil
}
