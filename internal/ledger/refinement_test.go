package ledger

import (
	"errors"
	"testing"
	"time"

	"github.com/bnema/agentforge-cli/internal/domain"
	"github.com/bnema/agentforge-cli/internal/ports/clocktest"
	"github.com/bnema/agentforge-cli/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func refinementEvent(t *testing.T, line string) protocol.RefinementEvent {
	t.Helper()

	decoded, err := protocol.DecodeRefinementEvent([]byte(line))
	require.NoError(t, err)
	return decoded
}

func newTestRefinementLedger(t *testing.T) (*RefinementLedger, *clocktest.Clock) {
	t.Helper()

	clock := clocktest.New(testStart)
	return NewRefinementLedger(WithClock(clock)), clock
}

func TestRefinementHappyPath(t *testing.T) {
	r, clock := newTestRefinementLedger(t)

	var phases []domain.RefinementPhase
	r.Subscribe(func(s RefinementSnapshot) {
		if s.Active {
			phases = append(phases, s.Operation.Phase)
		}
	})

	require.NoError(t, r.Begin(" add rate limiting "))
	r.Apply(refinementEvent(t, `{"type":"analyzing"}`))
	r.Apply(refinementEvent(t, `{"type":"plan_ready","payload":{"edits_count":2,"artifacts_affected":["arch_design","security_review"],"reasoning":"limits belong at the gateway"}}`))
	r.Apply(refinementEvent(t, `{"type":"applying"}`))
	r.Apply(refinementEvent(t, `{"type":"artifact_updated","payload":{"artifact":"arch_design"}}`))
	r.Apply(refinementEvent(t, `{"type":"artifact_updated","payload":{"artifact":"security_review"}}`))
	clock.Advance(3 * time.Second)
	r.Apply(refinementEvent(t, `{"type":"complete","payload":{"applied":2,"updated_artifacts":{"arch_design":{"components":[]}},"changelog":[{"artifact":"arch_design","description":"added gateway"},{"artifact":"security_review","description":"new threat"}]}}`))

	snapshot := r.Snapshot()
	require.True(t, snapshot.Active)
	op := snapshot.Operation
	assert.Equal(t, "add rate limiting", op.Instruction)
	assert.Equal(t, domain.PhaseComplete, op.Phase)
	assert.Equal(t, 2, op.EditsCount)
	assert.Equal(t, "2 edits planned across arch_design, security_review", op.PlanSummary)
	assert.Equal(t, "limits belong at the gateway", op.Reasoning)
	assert.Equal(t, []string{"arch_design", "security_review"}, op.Updates)
	assert.Len(t, op.Changelog, 2)
	assert.Equal(t, "2 changes applied", op.Message)
	assert.Contains(t, op.ResultArtifacts, "arch_design")
	assert.Equal(t, testStart.Add(3*time.Second), op.FinishedAt)
	assert.True(t, r.Terminal())
	assert.True(t, snapshot.Terminal())

	assert.Equal(t, []domain.RefinementPhase{
		domain.PhaseAnalyzing,
		domain.PhasePlanReady,
		domain.PhaseApplying,
		domain.PhaseApplying,
		domain.PhaseApplying,
		domain.PhaseComplete,
	}, phases)
}

func TestRefinementCompleteWithNothingApplied(t *testing.T) {
	r, _ := newTestRefinementLedger(t)

	require.NoError(t, r.Begin("rename the product"))
	r.Apply(refinementEvent(t, `{"type":"complete","payload":{"applied":0,"changelog":[{"artifact":"pm_spec","description":"ignored"}]}}`))

	op := r.Snapshot().Operation
	assert.Equal(t, domain.PhaseComplete, op.Phase)
	assert.Equal(t, domain.NoChangesMessage, op.Message)
	assert.Empty(t, op.Changelog)
}

func TestRefinementPhasesNeverRegress(t *testing.T) {
	r, _ := newTestRefinementLedger(t)

	require.NoError(t, r.Begin("tighten scope"))
	r.Apply(refinementEvent(t, `{"type":"applying"}`))
	r.Apply(refinementEvent(t, `{"type":"plan_ready","payload":{"edits_count":1}}`))
	r.Apply(refinementEvent(t, `{"type":"analyzing"}`))

	op := r.Snapshot().Operation
	assert.Equal(t, domain.PhaseApplying, op.Phase)
	assert.Zero(t, op.EditsCount)
}

func TestRefinementTerminalPhaseIsFinal(t *testing.T) {
	r, _ := newTestRefinementLedger(t)

	require.NoError(t, r.Begin("x"))
	r.Apply(refinementEvent(t, `{"type":"error","payload":{"message":"model refused"}}`))
	r.Apply(refinementEvent(t, `{"type":"complete","payload":{"applied":3}}`))
	r.Apply(refinementEvent(t, `{"type":"artifact_updated","payload":{"artifact":"pm_spec"}}`))
	r.FailInFlight(errors.New("read failed"))

	op := r.Snapshot().Operation
	assert.Equal(t, domain.PhaseError, op.Phase)
	assert.Equal(t, "model refused", op.Error)
	assert.Empty(t, op.Updates)
	assert.Zero(t, op.Applied)
}

func TestRefinementSingleInFlight(t *testing.T) {
	r, _ := newTestRefinementLedger(t)

	require.NoError(t, r.Begin("first"))
	assert.ErrorIs(t, r.Begin("second"), domain.ErrRefinementInFlight)
	assert.ErrorIs(t, r.Discard(), domain.ErrRefinementInFlight)

	r.FailInFlight(domain.ErrStreamEndedUnexpectedly)
	op := r.Snapshot().Operation
	assert.Equal(t, domain.PhaseError, op.Phase)
	assert.Equal(t, "stream ended unexpectedly", op.Error)

	require.NoError(t, r.Begin("second"))
	assert.Equal(t, "second", r.Snapshot().Operation.Instruction)
	assert.Equal(t, domain.PhaseAnalyzing, r.Snapshot().Operation.Phase)
}

func TestRefinementDiscard(t *testing.T) {
	r, _ := newTestRefinementLedger(t)

	require.NoError(t, r.Discard())
	require.NoError(t, r.Begin("x"))
	r.Apply(refinementEvent(t, `{"type":"complete","payload":{"applied":1}}`))
	require.NoError(t, r.Discard())

	snapshot := r.Snapshot()
	assert.False(t, snapshot.Active)
	assert.False(t, snapshot.Terminal())
	assert.False(t, r.Terminal())
}

func TestRefinementEventsWithoutOperationAreIgnored(t *testing.T) {
	r, _ := newTestRefinementLedger(t)

	r.Apply(refinementEvent(t, `{"type":"plan_ready","payload":{"edits_count":1}}`))
	r.FailInFlight(errors.New("boom"))

	snapshot := r.Snapshot()
	assert.False(t, snapshot.Active)
	assert.Zero(t, snapshot.Version)
}

func TestRefinementSnapshotIsIsolated(t *testing.T) {
	r, _ := newTestRefinementLedger(t)

	require.NoError(t, r.Begin("x"))
	r.Apply(refinementEvent(t, `{"type":"artifact_updated","payload":{"artifact":"pm_spec"}}`))

	snapshot := r.Snapshot()
	snapshot.Operation.Updates[0] = "mutated"

	assert.Equal(t, []string{"pm_spec"}, r.Snapshot().Operation.Updates)
}
