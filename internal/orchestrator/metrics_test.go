package orchestrator

import (
	"testing"
	"time"

	"github.com/fyrsmithlabs/devpipe/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Observe(t *testing.T) {
	tel := telemetry.NewTestTelemetry()
	m, err := NewMetrics(tel.Meter(InstrumentationName))
	require.NoError(t, err)

	m.Observe(Transition{To: StateIssueEnsured, Elapsed: time.Second})
	m.Observe(Transition{To: StateTestsGenerated, Elapsed: 2 * time.Second})
	m.Observe(Transition{To: StateTerminated, Reason: ReasonTestsFailed})

	assert.Equal(t, int64(3), tel.CounterValue(t, "devpipe.pipeline.transitions_total", "", ""))
	assert.Equal(t, int64(1), tel.CounterValue(t, "devpipe.pipeline.transitions_total", "state", "ISSUE_ENSURED"))
	assert.Equal(t, int64(1), tel.CounterValue(t, "devpipe.pipeline.runs_total", "reason", "tests-failed"))
	assert.Equal(t, int64(0), tel.CounterValue(t, "devpipe.pipeline.runs_total", "reason", "success"))
}
