// Package events publishes pipeline state transitions to NATS.
//
// Each transition is published as JSON to
//
//	<prefix>.<slug>.<run_id>.<state>
//
// where state is the lower-cased target state, e.g.
// pipeline.website-endpoint-finder.3f1c.gate_evaluated. Subscribers can
// follow one task with "pipeline.<slug>.>" or every terminal event with
// "pipeline.*.*.terminated".
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fyrsmithlabs/devpipe/internal/logging"
	"github.com/fyrsmithlabs/devpipe/internal/orchestrator"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// DefaultPrefix is the subject prefix used when none is configured.
const DefaultPrefix = "pipeline"

// Publisher sends transitions to NATS.
type Publisher struct {
	nc     *nats.Conn
	prefix string
	owned  bool
	logger *logging.Logger
}

// Connect dials url and returns a Publisher that owns the connection.
func Connect(url, prefix string, logger *logging.Logger) (*Publisher, error) {
	if url == "" {
		return nil, errors.New("nats url is required")
	}
	nc, err := nats.Connect(url,
		nats.Name("devpipe"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(1*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS at %s: %w", url, err)
	}
	p := NewPublisher(nc, prefix, logger)
	p.owned = true
	return p, nil
}

// NewPublisher publishes on an existing connection. Close does not close nc.
func NewPublisher(nc *nats.Conn, prefix string, logger *logging.Logger) *Publisher {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Publisher{nc: nc, prefix: strings.TrimSuffix(prefix, "."), logger: logger.Named("events")}
}

// Subject returns the subject a transition is published on.
func (p *Publisher) Subject(t orchestrator.Transition) string {
	return fmt.Sprintf("%s.%s.%s.%s", p.prefix, token(t.Slug), token(t.RunID), strings.ToLower(string(t.To)))
}

// Publish sends t.
func (p *Publisher) Publish(t orchestrator.Transition) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal transition: %w", err)
	}
	if err := p.nc.Publish(p.Subject(t), data); err != nil {
		return fmt.Errorf("publish %s transition: %w", t.To, err)
	}
	return nil
}

// Observer adapts the publisher to the executor's observer hook. Publish
// failures are logged and never affect the run.
func (p *Publisher) Observer() orchestrator.Observer {
	return func(t orchestrator.Transition) {
		if err := p.Publish(t); err != nil {
			p.logger.Warn(context.Background(), "transition not published",
				zap.String("subject", p.Subject(t)), zap.Error(err))
		}
	}
}

// Close flushes pending messages and, when the publisher dialed the
// connection itself, closes it.
func (p *Publisher) Close() error {
	if p.nc == nil || p.nc.IsClosed() {
		return nil
	}
	if !p.owned {
		return p.nc.Flush()
	}
	return p.nc.Drain()
}

// token makes s usable as a single subject token.
func token(s string) string {
	if s == "" {
		return "_"
	}
	return strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_").Replace(s)
}

// Subscribe delivers every transition published under prefix to fn until
// the returned subscription is drained. Undecodable messages are logged and
// skipped.
func Subscribe(nc *nats.Conn, prefix string, logger *logging.Logger, fn orchestrator.Observer) (*nats.Subscription, error) {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	subject := strings.TrimSuffix(prefix, ".") + ".>"
	sub, err := nc.Subscribe(subject, func(msg *nats.Msg) {
		var t orchestrator.Transition
		if err := json.Unmarshal(msg.Data, &t); err != nil {
			logger.Warn(context.Background(), "dropping malformed transition",
				zap.String("subject", msg.Subject), zap.Error(err))
			return
		}
		fn(t)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", subject, err)
	}
	return sub, nil
}

// Conn returns the underlying connection.
func (p *Publisher) Conn() *nats.Conn { return p.nc }
