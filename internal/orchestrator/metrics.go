package orchestrator

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// InstrumentationName is the meter scope for pipeline metrics.
const InstrumentationName = "github.com/fyrsmithlabs/devpipe/internal/orchestrator"

// Metrics records pipeline transitions as OpenTelemetry instruments.
type Metrics struct {
	runs          metric.Int64Counter
	transitions   metric.Int64Counter
	stageDuration metric.Float64Histogram
}

// NewMetrics creates the pipeline instruments on meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.runs, err = meter.Int64Counter(
		"devpipe.pipeline.runs_total",
		metric.WithDescription("Pipeline runs by terminal reason"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create runs counter: %w", err)
	}

	m.transitions, err = meter.Int64Counter(
		"devpipe.pipeline.transitions_total",
		metric.WithDescription("Completed pipeline states"),
		metric.WithUnit("{transition}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create transitions counter: %w", err)
	}

	m.stageDuration, err = meter.Float64Histogram(
		"devpipe.pipeline.stage_duration_seconds",
		metric.WithDescription("Time spent reaching each pipeline state"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create stage duration histogram: %w", err)
	}

	return m, nil
}

// Observe is an Observer.
func (m *Metrics) Observe(t Transition) {
	ctx := context.Background()
	state := metric.WithAttributes(attribute.String("state", string(t.To)))
	m.transitions.Add(ctx, 1, state)
	m.stageDuration.Record(ctx, t.Elapsed.Seconds(), state)
	if t.To == StateTerminated {
		m.runs.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", string(t.Reason))))
	}
}
