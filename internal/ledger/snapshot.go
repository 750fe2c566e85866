package ledger

import (
	"time"

	"github.com/bnema/agentforge-cli/internal/domain"
)

// Snapshot is an immutable view of the step ledger at one version.
type Snapshot struct {
	Version uint64
	RunID   domain.RunID
	Status  domain.RunStatus
	Error   string
	Steps   []domain.PipelineStep
	Result  domain.RunResult
	At      time.Time
	// Active is the most recently started step still running, if any.
	Active domain.StepID
}

// ActiveStepCount is the number of succeeded steps plus one if any step is running.
func (s Snapshot) ActiveStepCount() int {
	count := 0
	running := false
	for _, step := range s.Steps {
		switch step.Status {
		case domain.StepSucceeded:
			count++
		case domain.StepRunning:
			running = true
		}
	}
	if running {
		count++
	}
	return min(count, len(s.Steps))
}

// VisibleSteps returns the first ActiveStepCount steps in pipeline order.
func (s Snapshot) VisibleSteps() []domain.PipelineStep {
	return s.Steps[:s.ActiveStepCount()]
}

// ActiveStep returns the step shown as running. When the producer overlaps
// starts, only the most recently started running step is active.
func (s Snapshot) ActiveStep() (domain.PipelineStep, bool) {
	if s.Active == "" {
		return domain.PipelineStep{}, false
	}
	step, ok := s.Step(s.Active)
	if !ok || step.Status != domain.StepRunning {
		return domain.PipelineStep{}, false
	}
	return step, true
}

func (s Snapshot) Step(id domain.StepID) (domain.PipelineStep, bool) {
	for _, step := range s.Steps {
		if step.ID == id {
			return step, true
		}
	}
	return domain.PipelineStep{}, false
}

func (s Snapshot) Terminal() bool {
	return s.Status.Terminal()
}

// HasStepDetail reports whether any step carries its own failure detail. When
// none does, a failed run is reported through its run-level error alone.
func (s Snapshot) HasStepDetail() bool {
	for _, step := range s.Steps {
		if step.Status == domain.StepFailed {
			return true
		}
	}
	return false
}

// Record converts a terminal snapshot into a persistable run record.
func (s Snapshot) Record(prompt string, options map[string]string, startedAt time.Time) domain.RunRecord {
	return domain.RunRecord{
		ID:         s.RunID,
		Prompt:     prompt,
		Options:    options,
		StartedAt:  startedAt,
		FinishedAt: s.At,
		Status:     s.Status,
		Error:      s.Error,
		Steps:      append([]domain.PipelineStep(nil), s.Steps...),
		Result:     s.Result,
	}
}
