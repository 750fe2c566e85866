package progress

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bnema/agentforge-cli/internal/domain"
	"github.com/bnema/agentforge-cli/internal/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var renderStart = time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)

func snapshotWith(mutate func(steps []domain.PipelineStep)) ledger.Snapshot {
	steps := domain.NewPipelineSteps()
	mutate(steps)
	return ledger.Snapshot{
		Version: 1,
		RunID:   "3f2a9c1e-0000-4000-8000-000000000001",
		Status:  domain.RunStreaming,
		Steps:   steps,
		At:      renderStart,
		Active:  latestRunning(steps),
	}
}

func TestRenderSnapshotSpinsOnlyTheActiveStep(t *testing.T) {
	snapshot := snapshotWith(func(steps []domain.PipelineStep) {
		steps[0].Status = domain.StepRunning
		steps[0].StartedAt = renderStart
		steps[1].Status = domain.StepRunning
		steps[1].StartedAt = renderStart.Add(time.Second)
		steps[1].Thoughts = []string{"layering"}
	})
	require.Equal(t, domain.StepArchDesign, snapshot.Active)

	output := RenderSnapshot(snapshot, "*", renderStart.Add(3*time.Second))

	assert.Contains(t, output, "Product Manager started")
	assert.Contains(t, output, "Architect running 2.0s")
	assert.Contains(t, output, "layering")
	assert.Equal(t, 1, strings.Count(output, "running"))
}

func TestRenderSnapshotShowsRunningStepWithLatestThought(t *testing.T) {
	snapshot := snapshotWith(func(steps []domain.PipelineStep) {
		steps[0].Status = domain.StepSucceeded
		steps[0].CompletionSummary = "4 user stories"
		steps[1].Status = domain.StepRunning
		steps[1].StartedAt = renderStart
		steps[1].Thoughts = []string{"first idea", "sketching the service boundaries"}
	})

	output := RenderSnapshot(snapshot, "*", renderStart.Add(1500*time.Millisecond))

	assert.Contains(t, output, "Pipeline 3f2a9c1e")
	assert.Contains(t, output, "1/7 steps succeeded")
	assert.Contains(t, output, "Product Manager")
	assert.Contains(t, output, "4 user stories")
	assert.Contains(t, output, "Architect running 1.5s")
	assert.Contains(t, output, "sketching the service boundaries")
	assert.NotContains(t, output, "first idea")
	assert.NotContains(t, output, "Security", "steps beyond the visible prefix stay hidden")
}

func TestRenderSnapshotShowsFailedStepOutsideVisiblePrefix(t *testing.T) {
	snapshot := snapshotWith(func(steps []domain.PipelineStep) {
		steps[0].Status = domain.StepSucceeded
		steps[4].Status = domain.StepFailed
		steps[4].Error = "upstream model timed out"
		steps[4].FailureKind = domain.FailureTimeout
		steps[4].PartialOutput = "<screen>\n  <header/>\n</screen>"
	})
	snapshot.Status = domain.RunFailed
	snapshot.Error = "pipeline failed"

	output := RenderSnapshot(snapshot, "*", renderStart)

	assert.Contains(t, output, "UI Designer")
	assert.Contains(t, output, "timed out: upstream model timed out")
	assert.Contains(t, output, "partial output: <screen> <header/> </screen>")
	assert.Contains(t, output, "Run failed")
	assert.NotContains(t, output, "pipeline failed", "step detail takes precedence over the run error")
	assert.NotContains(t, output, "Architect")
}

func TestRenderSnapshotShowsRunErrorWithoutStepDetail(t *testing.T) {
	snapshot := snapshotWith(func([]domain.PipelineStep) {})
	snapshot.Status = domain.RunFailed
	snapshot.Error = "stream ended unexpectedly"

	output := RenderSnapshot(snapshot, "*", renderStart)

	assert.Contains(t, output, "Waiting for the first step...")
	assert.Contains(t, output, "Run failed: stream ended unexpectedly")
}

func TestRenderSnapshotTruncatesLongFailureForDisplay(t *testing.T) {
	long := strings.Repeat("x", 500)
	snapshot := snapshotWith(func(steps []domain.PipelineStep) {
		steps[0].Status = domain.StepFailed
		steps[0].Error = long
	})

	output := RenderSnapshot(snapshot, "*", renderStart)

	assert.NotContains(t, output, long)
	assert.Contains(t, output, strings.Repeat("x", errorWidth-1)+"…")
}

func TestRenderRecordListsArtifacts(t *testing.T) {
	steps := domain.NewPipelineSteps()
	for i := range steps {
		steps[i].Status = domain.StepSucceeded
	}
	record := domain.RunRecord{
		ID:     "run-1",
		Status: domain.RunSucceeded,
		Steps:  steps,
		Result: domain.RunResult{Artifacts: map[string]json.RawMessage{
			"qa":           json.RawMessage(`{}`),
			"architecture": json.RawMessage(`{}`),
		}},
	}

	output := RenderRecord(record)

	assert.Contains(t, output, "7/7 steps succeeded")
	assert.Contains(t, output, "Completed: architecture, qa")
	assert.Contains(t, output, "QA")
}

func TestRenderRefinementPhases(t *testing.T) {
	assert.Contains(t, RenderRefinement(ledger.RefinementSnapshot{}), "No refinement in progress.")

	op := domain.NewRefinementOperation("add caching", renderStart)
	assert.Contains(t, RenderRefinement(ledger.RefinementSnapshot{Active: true, Operation: op}), "Analyzing...")

	op.Phase = domain.PhaseApplying
	op.PlanSummary = "2 edits planned across arch_design"
	op.Updates = []string{"arch_design"}
	output := RenderRefinement(ledger.RefinementSnapshot{Active: true, Operation: op})
	assert.Contains(t, output, "Plan: 2 edits planned across arch_design")
	assert.Contains(t, output, "updated arch_design")

	op.Phase = domain.PhaseComplete
	op.Applied = 1
	op.Message = "1 change applied"
	op.Changelog = []domain.ChangelogEntry{{Artifact: "arch_design", Description: "added redis"}}
	output = RenderRefinement(ledger.RefinementSnapshot{Active: true, Operation: op})
	assert.Contains(t, output, "1 change applied")
	assert.Contains(t, output, "arch_design: added redis")

	op.Applied = 0
	op.Message = domain.NoChangesMessage
	assert.Contains(t, RenderRefinement(ledger.RefinementSnapshot{Active: true, Operation: op}), "No changes needed")

	op.Phase = domain.PhaseError
	op.Error = "model refused"
	assert.Contains(t, RenderRefinement(ledger.RefinementSnapshot{Active: true, Operation: op}), "Refinement failed: model refused")
}

func TestRenderHistory(t *testing.T) {
	assert.Contains(t, RenderHistory(nil), "No runs recorded yet.")

	steps := domain.NewPipelineSteps()
	steps[0].Status = domain.StepSucceeded
	steps[1].Status = domain.StepSucceeded
	output := RenderHistory([]domain.RunRecord{{
		ID:          "0123456789abcdef",
		Prompt:      "a todo app\nwith sync",
		StartedAt:   renderStart,
		Status:      domain.RunFailed,
		Steps:       steps,
		Refinements: []domain.RefinementRecord{{Instruction: "x"}},
	}})

	assert.Contains(t, output, "ID")
	assert.Contains(t, output, "01234567")
	assert.NotContains(t, output, "0123456789abcdef")
	assert.Contains(t, output, "failed")
	assert.Contains(t, output, "2/7")
	assert.Contains(t, output, "a todo app with sync")
}

func TestDetectInteractiveMode(t *testing.T) {
	regular, err := os.Create(filepath.Join(t.TempDir(), "out"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = regular.Close() })

	t.Setenv("CI", "")
	t.Setenv("NO_INTERACTION", "")

	assert.False(t, detectInteractiveMode(true, regular))
	assert.False(t, detectInteractiveMode(false, nil))
	assert.False(t, detectInteractiveMode(false, regular), "regular files are not terminals")

	t.Setenv("CI", "true")
	assert.False(t, ConfigureInteraction(false, regular))
}

func TestEnvTruthyValues(t *testing.T) {
	testCases := []struct {
		value string
		want  bool
	}{
		{value: "1", want: true},
		{value: "true", want: true},
		{value: " YES ", want: true},
		{value: "on", want: true},
		{value: "0", want: false},
		{value: "", want: false},
	}

	for _, tc := range testCases {
		t.Setenv("AF_TEST_TRUTHY", tc.value)
		assert.Equal(t, tc.want, envTruthy("AF_TEST_TRUTHY"), "value %q", tc.value)
	}
}
