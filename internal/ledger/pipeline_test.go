package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/bnema/agentforge-cli/internal/domain"
	"github.com/bnema/agentforge-cli/internal/ports/clocktest"
	"github.com/bnema/agentforge-cli/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testStart = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

func newTestLedger(t *testing.T) (*Ledger, *clocktest.Clock) {
	t.Helper()

	clock := clocktest.New(testStart)
	l := New("run-1", WithClock(clock), WithMinDwell(DefaultMinDwell))
	t.Cleanup(l.Dispose)
	return l, clock
}

func event(t *testing.T, line string) protocol.PipelineEvent {
	t.Helper()

	decoded, err := protocol.DecodePipelineEvent([]byte(line))
	require.NoError(t, err)
	return decoded
}

func start(t *testing.T, id domain.StepID) protocol.PipelineEvent {
	return event(t, fmt.Sprintf(`{"type":"step_start","step_id":%q}`, id))
}

func complete(t *testing.T, id domain.StepID, artifact string) protocol.PipelineEvent {
	return event(t, fmt.Sprintf(`{"type":"step_complete","step_id":%q,"artifact":%s}`, id, artifact))
}

func failed(t *testing.T, id domain.StepID, message string) protocol.PipelineEvent {
	return event(t, fmt.Sprintf(`{"type":"step_failed","step_id":%q,"error":%q}`, id, message))
}

func status(t *testing.T, l *Ledger, id domain.StepID) domain.StepStatus {
	t.Helper()

	step, ok := l.Snapshot().Step(id)
	require.True(t, ok)
	return step.Status
}

func TestNewLedgerStartsWithSevenPendingSteps(t *testing.T) {
	l, _ := newTestLedger(t)

	snapshot := l.Snapshot()
	require.Len(t, snapshot.Steps, 7)
	assert.Equal(t, domain.RunIdle, snapshot.Status)
	for _, step := range snapshot.Steps {
		assert.Equal(t, domain.StepPending, step.Status)
	}
	assert.Zero(t, snapshot.ActiveStepCount())
	assert.Empty(t, snapshot.VisibleSteps())
}

func TestStartThenEarlyCompleteWaitsForDwell(t *testing.T) {
	l, clock := newTestLedger(t)

	l.Apply(start(t, domain.StepPMSpec))
	assert.Equal(t, domain.StepRunning, status(t, l, domain.StepPMSpec))
	assert.Equal(t, domain.RunStreaming, l.Snapshot().Status)

	clock.Advance(100 * time.Millisecond)
	l.Apply(complete(t, domain.StepPMSpec, `{"user_stories":[1,2]}`))
	assert.Equal(t, domain.StepRunning, status(t, l, domain.StepPMSpec))
	assert.Equal(t, 1, l.PendingPromotions())

	clock.Advance(699 * time.Millisecond)
	assert.Equal(t, domain.StepRunning, status(t, l, domain.StepPMSpec))

	clock.Advance(time.Millisecond)
	step, _ := l.Snapshot().Step(domain.StepPMSpec)
	assert.Equal(t, domain.StepSucceeded, step.Status)
	assert.Equal(t, "2 user stories", step.CompletionSummary)
	assert.JSONEq(t, `{"user_stories":[1,2]}`, string(step.Artifact))
	assert.GreaterOrEqual(t, step.FinishedAt.Sub(step.StartedAt), DefaultMinDwell)
	assert.Zero(t, l.PendingPromotions())
}

func TestCompleteWithoutStartSynthesizesRunning(t *testing.T) {
	l, clock := newTestLedger(t)

	l.Apply(complete(t, domain.StepArchDesign, `{"components":["api"]}`))
	step, _ := l.Snapshot().Step(domain.StepArchDesign)
	assert.Equal(t, domain.StepRunning, step.Status)
	assert.Equal(t, testStart, step.StartedAt)

	clock.Advance(799 * time.Millisecond)
	assert.Equal(t, domain.StepRunning, status(t, l, domain.StepArchDesign))

	clock.Advance(time.Millisecond)
	step, _ = l.Snapshot().Step(domain.StepArchDesign)
	assert.Equal(t, domain.StepSucceeded, step.Status)
	assert.Equal(t, "1 components", step.CompletionSummary)
	assert.Equal(t, DefaultMinDwell, step.FinishedAt.Sub(step.StartedAt))
}

func TestCompleteAfterDwellPromotesImmediately(t *testing.T) {
	l, clock := newTestLedger(t)

	l.Apply(start(t, domain.StepSecurityReview))
	clock.Advance(2 * time.Second)
	l.Apply(complete(t, domain.StepSecurityReview, `{}`))

	step, _ := l.Snapshot().Step(domain.StepSecurityReview)
	assert.Equal(t, domain.StepSucceeded, step.Status)
	assert.Equal(t, "completed", step.CompletionSummary)
	assert.Zero(t, l.PendingPromotions())
}

func TestRepeatedCompleteReplacesScheduledPromotion(t *testing.T) {
	l, clock := newTestLedger(t)

	l.Apply(start(t, domain.StepDevOpsPlan))
	clock.Advance(200 * time.Millisecond)
	l.Apply(complete(t, domain.StepDevOpsPlan, `{"stages":[1]}`))
	clock.Advance(300 * time.Millisecond)
	l.Apply(complete(t, domain.StepDevOpsPlan, `{"stages":[1,2,3]}`))
	assert.Equal(t, 1, l.PendingPromotions())

	clock.Advance(299 * time.Millisecond)
	assert.Equal(t, domain.StepRunning, status(t, l, domain.StepDevOpsPlan))

	clock.Advance(time.Millisecond)
	step, _ := l.Snapshot().Step(domain.StepDevOpsPlan)
	assert.Equal(t, domain.StepSucceeded, step.Status)
	assert.Equal(t, "3 deployment stages", step.CompletionSummary)
}

func TestFailedBeforeDwellIsImmediateAndFinal(t *testing.T) {
	l, clock := newTestLedger(t)

	l.Apply(start(t, domain.StepEngineerImpl))
	clock.Advance(100 * time.Millisecond)
	l.Apply(event(t, `{"type":"step_failed","step_id":"engineer_impl","error":"timeout","partial_response":"func main() {"}`))

	step, _ := l.Snapshot().Step(domain.StepEngineerImpl)
	assert.Equal(t, domain.StepFailed, step.Status)
	assert.Equal(t, "timeout", step.Error)
	assert.Equal(t, domain.FailureTimeout, step.FailureKind)
	assert.Equal(t, "func main() {", step.PartialOutput)

	clock.Advance(5 * time.Second)
	assert.Equal(t, domain.StepFailed, status(t, l, domain.StepEngineerImpl))
}

func TestFailedCancelsScheduledPromotion(t *testing.T) {
	l, clock := newTestLedger(t)

	var mu sync.Mutex
	var seen []domain.StepStatus
	l.Subscribe(func(s Snapshot) {
		step, _ := s.Step(domain.StepUIDesign)
		mu.Lock()
		seen = append(seen, step.Status)
		mu.Unlock()
	})

	l.Apply(start(t, domain.StepUIDesign))
	l.Apply(complete(t, domain.StepUIDesign, `{"screens":[1]}`))
	require.Equal(t, 1, l.PendingPromotions())

	clock.Advance(400 * time.Millisecond)
	l.Apply(failed(t, domain.StepUIDesign, "renderer crashed"))
	assert.Zero(t, l.PendingPromotions())
	assert.Zero(t, clock.Pending())

	clock.Advance(10 * time.Second)
	step, _ := l.Snapshot().Step(domain.StepUIDesign)
	assert.Equal(t, domain.StepFailed, step.Status)
	assert.Empty(t, step.CompletionSummary)

	mu.Lock()
	defer mu.Unlock()
	assert.NotContains(t, seen, domain.StepSucceeded)
}

func TestLateSignalsNeverReviveTerminalSteps(t *testing.T) {
	l, clock := newTestLedger(t)

	l.Apply(failed(t, domain.StepPMSpec, "bad prompt"))
	l.Apply(start(t, domain.StepPMSpec))
	l.Apply(complete(t, domain.StepPMSpec, `{}`))
	clock.Advance(time.Second)
	assert.Equal(t, domain.StepFailed, status(t, l, domain.StepPMSpec))

	l.Apply(complete(t, domain.StepArchDesign, `{}`))
	clock.Advance(time.Second)
	require.Equal(t, domain.StepSucceeded, status(t, l, domain.StepArchDesign))

	l.Apply(start(t, domain.StepArchDesign))
	l.Apply(failed(t, domain.StepArchDesign, "late"))
	assert.Equal(t, domain.StepSucceeded, status(t, l, domain.StepArchDesign))
}

func TestStartIsIdempotent(t *testing.T) {
	l, clock := newTestLedger(t)

	l.Apply(start(t, domain.StepQAVerification))
	clock.Advance(500 * time.Millisecond)
	l.Apply(start(t, domain.StepQAVerification))

	step, _ := l.Snapshot().Step(domain.StepQAVerification)
	assert.Equal(t, testStart, step.StartedAt)
}

func TestThoughtsAttachOnceStepHasStarted(t *testing.T) {
	l, _ := newTestLedger(t)

	l.Apply(event(t, `{"type":"step_thought","step_id":"pm_spec","thought":"too early"}`))
	l.Apply(start(t, domain.StepPMSpec))
	l.Apply(event(t, `{"type":"step_thought","step_id":"pm_spec","thought":"reading prompt"}`))
	l.Apply(event(t, `{"type":"step_thought","step_id":"pm_spec","thought":"  "}`))
	l.Apply(event(t, `{"type":"step_thought","step_id":"pm_spec","thought":"writing stories"}`))

	step, _ := l.Snapshot().Step(domain.StepPMSpec)
	assert.Equal(t, []string{"reading prompt", "writing stories"}, step.Thoughts)
	assert.Equal(t, "writing stories", step.LatestThought())
}

func TestThoughtsAfterStepFinishedAreKept(t *testing.T) {
	l, clock := newTestLedger(t)

	l.Apply(start(t, domain.StepPMSpec))
	clock.Advance(time.Second)
	l.Apply(complete(t, domain.StepPMSpec, `{}`))
	require.Equal(t, domain.StepSucceeded, status(t, l, domain.StepPMSpec))
	l.Apply(event(t, `{"type":"step_thought","step_id":"pm_spec","thought":"late note"}`))

	l.Apply(start(t, domain.StepArchDesign))
	l.Apply(failed(t, domain.StepArchDesign, "boom"))
	l.Apply(event(t, `{"type":"step_thought","step_id":"arch_design","thought":"cleanup"}`))

	l.Apply(failed(t, domain.StepUIDesign, "never started"))
	l.Apply(event(t, `{"type":"step_thought","step_id":"ui_design","thought":"ignored"}`))

	pm, _ := l.Snapshot().Step(domain.StepPMSpec)
	assert.Equal(t, domain.StepSucceeded, pm.Status)
	assert.Equal(t, []string{"late note"}, pm.Thoughts)

	arch, _ := l.Snapshot().Step(domain.StepArchDesign)
	assert.Equal(t, domain.StepFailed, arch.Status)
	assert.Equal(t, []string{"cleanup"}, arch.Thoughts)

	ui, _ := l.Snapshot().Step(domain.StepUIDesign)
	assert.Empty(t, ui.Thoughts)
}

func TestSnapshotActiveStepIsMostRecentlyStarted(t *testing.T) {
	l, clock := newTestLedger(t)

	_, ok := l.Snapshot().ActiveStep()
	assert.False(t, ok)

	l.Apply(start(t, domain.StepPMSpec))
	clock.Advance(100 * time.Millisecond)
	l.Apply(start(t, domain.StepArchDesign))

	snapshot := l.Snapshot()
	assert.Equal(t, domain.StepArchDesign, snapshot.Active)
	active, ok := snapshot.ActiveStep()
	require.True(t, ok)
	assert.Equal(t, domain.StepArchDesign, active.ID)
	assert.Equal(t, 1, snapshot.ActiveStepCount())

	clock.Advance(time.Second)
	l.Apply(complete(t, domain.StepArchDesign, `{}`))

	active, ok = l.Snapshot().ActiveStep()
	require.True(t, ok)
	assert.Equal(t, domain.StepPMSpec, active.ID)

	l.Apply(failed(t, domain.StepPMSpec, "boom"))
	_, ok = l.Snapshot().ActiveStep()
	assert.False(t, ok)
}

func TestUnknownStepIsIgnored(t *testing.T) {
	l, _ := newTestLedger(t)

	before := l.Snapshot()
	l.Apply(start(t, "marketing_copy"))
	after := l.Snapshot()

	assert.Equal(t, before.Version, after.Version)
	assert.Equal(t, before.Steps, after.Steps)
}

func TestOrchestrationCompletePromotesRunningAndLeavesPending(t *testing.T) {
	l, clock := newTestLedger(t)

	l.Apply(start(t, domain.StepQAVerification))
	clock.Advance(50 * time.Millisecond)
	l.Apply(complete(t, domain.StepEngineerImpl, `{"files":["a"]}`))
	l.Apply(event(t, `{"type":"orchestration_complete","diagram":{"metadata":{"artifacts":{"qa_verification":{}}}}}`))

	snapshot := l.Snapshot()
	qa, _ := snapshot.Step(domain.StepQAVerification)
	ui, _ := snapshot.Step(domain.StepUIDesign)
	engineer, _ := snapshot.Step(domain.StepEngineerImpl)

	assert.Equal(t, domain.StepSucceeded, qa.Status)
	assert.Equal(t, "completed", qa.CompletionSummary)
	assert.Equal(t, domain.StepPending, ui.Status)
	assert.Equal(t, domain.StepSucceeded, engineer.Status)
	assert.Equal(t, "1 files generated", engineer.CompletionSummary)
	assert.Equal(t, domain.RunSucceeded, snapshot.Status)
	assert.Len(t, snapshot.Result.Artifacts, 1)
	assert.True(t, l.Terminal())
	assert.Zero(t, l.PendingPromotions())
}

func TestOrchestrationCompleteWithoutBundleIsEmptySuccess(t *testing.T) {
	l, _ := newTestLedger(t)

	l.Apply(event(t, `{"type":"orchestration_complete","diagram":{"nodes":[]}}`))

	snapshot := l.Snapshot()
	assert.Equal(t, domain.RunSucceeded, snapshot.Status)
	assert.True(t, snapshot.Result.Empty())
}

func TestOrchestrationFailedFailsOnlyActiveStep(t *testing.T) {
	l, clock := newTestLedger(t)

	l.Apply(start(t, domain.StepPMSpec))
	clock.Advance(10 * time.Millisecond)
	l.Apply(start(t, domain.StepArchDesign))
	l.Apply(event(t, `{"type":"orchestration_failed","error":"orchestrator crashed"}`))

	snapshot := l.Snapshot()
	pm, _ := snapshot.Step(domain.StepPMSpec)
	arch, _ := snapshot.Step(domain.StepArchDesign)

	assert.Equal(t, domain.StepRunning, pm.Status)
	assert.Equal(t, domain.StepFailed, arch.Status)
	assert.Equal(t, "orchestrator crashed", arch.Error)
	assert.Equal(t, domain.RunFailed, snapshot.Status)
	assert.Equal(t, "orchestrator crashed", snapshot.Error)
	assert.True(t, snapshot.HasStepDetail())
}

func TestOrchestrationFailedWithoutRunningStepKeepsRunLevelError(t *testing.T) {
	l, _ := newTestLedger(t)

	l.Apply(event(t, `{"type":"orchestration_failed"}`))

	snapshot := l.Snapshot()
	assert.Equal(t, domain.RunFailed, snapshot.Status)
	assert.Equal(t, "pipeline failed", snapshot.Error)
	assert.False(t, snapshot.HasStepDetail())
}

func TestEventsAfterTerminalAreIgnored(t *testing.T) {
	l, _ := newTestLedger(t)

	l.Apply(event(t, `{"type":"orchestration_complete"}`))
	version := l.Snapshot().Version

	l.Apply(start(t, domain.StepPMSpec))
	l.FailInFlight(errors.New("read failed"))

	snapshot := l.Snapshot()
	assert.Equal(t, version, snapshot.Version)
	assert.Equal(t, domain.RunSucceeded, snapshot.Status)
	assert.Equal(t, domain.StepPending, snapshot.Steps[0].Status)
}

func TestFailInFlightSurfacesUnexpectedEnd(t *testing.T) {
	l, clock := newTestLedger(t)

	l.Apply(start(t, domain.StepDevOpsPlan))
	l.Apply(complete(t, domain.StepPMSpec, `{}`))
	clock.Advance(100 * time.Millisecond)
	l.FailInFlight(domain.ErrStreamEndedUnexpectedly)

	snapshot := l.Snapshot()
	devops, _ := snapshot.Step(domain.StepDevOpsPlan)
	assert.Equal(t, domain.RunFailed, snapshot.Status)
	assert.Equal(t, domain.ErrStreamEndedUnexpectedly.Error(), snapshot.Error)
	assert.Equal(t, domain.StepRunning, devops.Status)
	assert.NotEqual(t, domain.RunSucceeded, snapshot.Status)

	pm, _ := snapshot.Step(domain.StepPMSpec)
	assert.Equal(t, domain.StepFailed, pm.Status)
	assert.True(t, l.Terminal())
}

func TestActiveStepCountAndVisibleSteps(t *testing.T) {
	l, clock := newTestLedger(t)

	l.Apply(start(t, domain.StepPMSpec))
	clock.Advance(time.Second)
	l.Apply(complete(t, domain.StepPMSpec, `{}`))
	l.Apply(start(t, domain.StepArchDesign))

	snapshot := l.Snapshot()
	assert.Equal(t, 2, snapshot.ActiveStepCount())
	visible := snapshot.VisibleSteps()
	require.Len(t, visible, 2)
	assert.Equal(t, domain.StepPMSpec, visible[0].ID)
	assert.Equal(t, domain.StepArchDesign, visible[1].ID)

	l.Apply(start(t, domain.StepSecurityReview))
	assert.Equal(t, 2, l.Snapshot().ActiveStepCount())
}

func TestSnapshotsArePublishedInIncreasingVersionOrder(t *testing.T) {
	l, clock := newTestLedger(t)

	var mu sync.Mutex
	var versions []uint64
	l.Subscribe(func(s Snapshot) {
		mu.Lock()
		versions = append(versions, s.Version)
		mu.Unlock()
	})

	for _, id := range domain.PipelineOrder() {
		l.Apply(start(t, id))
		clock.Advance(100 * time.Millisecond)
		l.Apply(complete(t, id, `{}`))
	}
	clock.Advance(time.Second)
	l.Apply(event(t, `{"type":"orchestration_complete"}`))

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, versions)
	for i := 1; i < len(versions); i++ {
		assert.Greater(t, versions[i], versions[i-1])
	}
	assert.Equal(t, l.Snapshot().Version, versions[len(versions)-1])
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	l, _ := newTestLedger(t)

	calls := 0
	unsubscribe := l.Subscribe(func(Snapshot) { calls++ })
	l.Apply(start(t, domain.StepPMSpec))
	unsubscribe()
	l.Apply(start(t, domain.StepArchDesign))

	assert.Equal(t, 1, calls)
}

func TestResetDrainsTimersFromPreviousRun(t *testing.T) {
	l, clock := newTestLedger(t)

	l.Apply(complete(t, domain.StepPMSpec, `{}`))
	require.Equal(t, 1, l.PendingPromotions())

	l.Reset("run-2")
	assert.Zero(t, l.PendingPromotions())
	assert.Zero(t, clock.Pending())

	clock.Advance(time.Second)
	snapshot := l.Snapshot()
	assert.Equal(t, domain.RunID("run-2"), snapshot.RunID)
	for _, step := range snapshot.Steps {
		assert.Equal(t, domain.StepPending, step.Status)
	}
}

func TestDisposeDrainsTimersAndIgnoresLaterEvents(t *testing.T) {
	l, clock := newTestLedger(t)

	l.Apply(complete(t, domain.StepPMSpec, `{}`))
	l.Dispose()
	assert.Zero(t, clock.Pending())

	version := l.Snapshot().Version
	l.Apply(start(t, domain.StepArchDesign))
	clock.Advance(time.Second)

	snapshot := l.Snapshot()
	assert.Equal(t, version, snapshot.Version)
	assert.Equal(t, domain.StepRunning, snapshot.Steps[0].Status)
}

func TestWaitSettled(t *testing.T) {
	l, clock := newTestLedger(t)

	require.NoError(t, l.WaitSettled(context.Background()))

	l.Apply(complete(t, domain.StepPMSpec, `{}`))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, l.WaitSettled(ctx), context.DeadlineExceeded)

	clock.Advance(DefaultMinDwell)
	require.NoError(t, l.WaitSettled(context.Background()))
	assert.Equal(t, domain.StepSucceeded, status(t, l, domain.StepPMSpec))
}

func TestLedgerWithSystemClock(t *testing.T) {
	l := New("run-real", WithMinDwell(20*time.Millisecond))
	defer l.Dispose()

	l.Apply(start(t, domain.StepPMSpec))
	l.Apply(complete(t, domain.StepPMSpec, `{}`))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, l.WaitSettled(ctx))

	step, _ := l.Snapshot().Step(domain.StepPMSpec)
	assert.Equal(t, domain.StepSucceeded, step.Status)
	assert.GreaterOrEqual(t, step.FinishedAt.Sub(step.StartedAt), 20*time.Millisecond)
}

func TestRandomEventSequencesKeepStepInvariants(t *testing.T) {
	steps := domain.PipelineOrder()

	for seed := int64(1); seed <= 50; seed++ {
		t.Run(fmt.Sprintf("seed_%d", seed), func(t *testing.T) {
			rng := rand.New(rand.NewSource(seed))
			l, clock := newTestLedger(t)

			last := map[domain.StepID]domain.StepStatus{}
			l.Subscribe(func(s Snapshot) {
				for _, step := range s.Steps {
					previous := last[step.ID]
					if previous.Terminal() {
						assert.Equal(t, previous, step.Status, "step %s left terminal state", step.ID)
					}
					if previous == domain.StepRunning {
						assert.NotEqual(t, domain.StepPending, step.Status, "step %s re-entered pending", step.ID)
					}
					if step.Status == domain.StepSucceeded && previous != domain.StepSucceeded && !s.Terminal() {
						assert.GreaterOrEqual(t, step.FinishedAt.Sub(step.StartedAt), DefaultMinDwell, "step %s promoted early", step.ID)
					}
					last[step.ID] = step.Status
				}
			})

			for i := 0; i < 60; i++ {
				id := steps[rng.Intn(len(steps))]
				switch rng.Intn(5) {
				case 0:
					l.Apply(start(t, id))
				case 1:
					l.Apply(complete(t, id, `{}`))
				case 2:
					if rng.Intn(4) == 0 {
						l.Apply(failed(t, id, "boom"))
					}
				default:
					clock.Advance(time.Duration(rng.Intn(400)) * time.Millisecond)
				}
			}
			clock.Advance(time.Second)
			assert.Zero(t, l.PendingPromotions())
		})
	}
}
