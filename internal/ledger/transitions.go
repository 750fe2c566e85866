package ledger

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/bnema/agentforge-cli/internal/domain"
	"github.com/bnema/agentforge-cli/internal/protocol"
)

const (
	defaultStepError = "step failed"
	defaultRunError  = "pipeline failed"
)

var (
	errRunFinished  = errors.New("run already finished")
	errStepTerminal = errors.New("step already finished")
	errNotPending   = errors.New("step already started")
	errNotRunning   = errors.New("step is not running")
	errNotStarted   = errors.New("step has no recorded start")
)

type effectKind int

const (
	effectSchedule effectKind = iota
	effectCancel
	effectCancelAll
)

// effect is a timer side effect requested by the reducer.
type effect struct {
	kind  effectKind
	step  domain.StepID
	delay time.Duration
}

type completion struct {
	summary  string
	artifact []byte
}

// state is the value the reducer folds events into. It is never mutated in
// place; every transition works on a copy.
type state struct {
	runID    domain.RunID
	status   domain.RunStatus
	err      string
	steps    []domain.PipelineStep
	started  []domain.StepID
	pending  map[domain.StepID]completion
	result   domain.RunResult
	terminal bool
}

func newState(runID domain.RunID) state {
	return state{
		runID:   runID,
		status:  domain.RunIdle,
		steps:   domain.NewPipelineSteps(),
		pending: map[domain.StepID]completion{},
	}
}

func (s state) clone() state {
	next := s
	next.steps = slices.Clone(s.steps)
	next.started = slices.Clone(s.started)
	next.pending = maps.Clone(s.pending)
	if next.pending == nil {
		next.pending = map[domain.StepID]completion{}
	}
	return next
}

func (s state) stepIndex(id domain.StepID) int {
	for i := range s.steps {
		if s.steps[i].ID == id {
			return i
		}
	}
	return -1
}

// activeStep is the most recently started step that is still running.
func (s state) activeStep() (domain.StepID, bool) {
	for i := len(s.started) - 1; i >= 0; i-- {
		id := s.started[i]
		if idx := s.stepIndex(id); idx >= 0 && s.steps[idx].Status == domain.StepRunning {
			return id, true
		}
	}
	return "", false
}

// reduce applies one decoded event. A non-nil error means the event was
// ignored and the returned state equals s.
func reduce(s state, event protocol.PipelineEvent, now time.Time, minDwell time.Duration) (state, []effect, error) {
	if s.terminal {
		return s, nil, errRunFinished
	}

	next := s.clone()
	if next.status == domain.RunIdle {
		next.status = domain.RunStreaming
	}

	switch e := event.(type) {
	case protocol.StepStart:
		return next.startStep(e.StepID, now)
	case protocol.StepThought:
		return next.addThought(e.StepID, e.Thought)
	case protocol.StepComplete:
		return next.completeStep(e.StepID, e.Artifact, now, minDwell)
	case protocol.StepFailed:
		return next.failStep(e, now)
	case protocol.OrchestrationComplete:
		return next.completeRun(e.Result(), now)
	case protocol.OrchestrationFailed:
		return next.failRun(e.Error, now)
	default:
		return s, nil, fmt.Errorf("unsupported event %q", event.Kind())
	}
}

func (s state) lookup(id domain.StepID) (int, error) {
	idx := s.stepIndex(id)
	if idx < 0 {
		return -1, fmt.Errorf("%w: %q", domain.ErrUnknownStep, id)
	}
	return idx, nil
}

func (s state) markRunning(idx int, now time.Time) {
	s.steps[idx].Status = domain.StepRunning
	s.steps[idx].StartedAt = now
}

func (s state) startStep(id domain.StepID, now time.Time) (state, []effect, error) {
	idx, err := s.lookup(id)
	if err != nil {
		return s, nil, err
	}
	if !s.steps[idx].Status.CanTransitionTo(domain.StepRunning) {
		return s, nil, errNotPending
	}

	s.markRunning(idx, now)
	s.started = append(s.started, id)
	return s, nil, nil
}

func (s state) addThought(id domain.StepID, thought string) (state, []effect, error) {
	idx, err := s.lookup(id)
	if err != nil {
		return s, nil, err
	}
	if s.steps[idx].StartedAt.IsZero() {
		return s, nil, errNotStarted
	}
	thought = strings.TrimSpace(thought)
	if thought == "" {
		return s, nil, nil
	}

	s.steps[idx].Thoughts = append(slices.Clip(s.steps[idx].Thoughts), thought)
	return s, nil, nil
}

func (s state) completeStep(id domain.StepID, artifact []byte, now time.Time, minDwell time.Duration) (state, []effect, error) {
	idx, err := s.lookup(id)
	if err != nil {
		return s, nil, err
	}

	step := s.steps[idx]
	if step.Status.Terminal() {
		return s, nil, errStepTerminal
	}

	s.pending[id] = completion{
		summary:  domain.CompletionSummary(id, artifact),
		artifact: slices.Clone(artifact),
	}

	if step.Status == domain.StepPending {
		s.markRunning(idx, now)
		s.started = append(s.started, id)
		return s, []effect{{kind: effectSchedule, step: id, delay: minDwell}}, nil
	}

	elapsed := now.Sub(step.StartedAt)
	if elapsed >= minDwell {
		s.succeed(idx, now)
		return s, []effect{{kind: effectCancel, step: id}}, nil
	}
	return s, []effect{{kind: effectSchedule, step: id, delay: minDwell - elapsed}}, nil
}

// promote is the deferred half of completeStep, run when a dwell timer fires.
func (s state) promote(id domain.StepID, now time.Time, minDwell time.Duration) (state, []effect, error) {
	idx, err := s.lookup(id)
	if err != nil {
		return s, nil, err
	}
	if !s.steps[idx].Status.CanTransitionTo(domain.StepSucceeded) {
		return s, nil, errNotRunning
	}
	if _, ok := s.pending[id]; !ok {
		return s, nil, errNotRunning
	}

	next := s.clone()
	elapsed := now.Sub(next.steps[idx].StartedAt)
	if elapsed < minDwell {
		return next, []effect{{kind: effectSchedule, step: id, delay: minDwell - elapsed}}, nil
	}
	next.succeed(idx, now)
	return next, nil, nil
}

func (s state) succeed(idx int, now time.Time) {
	id := s.steps[idx].ID
	done, ok := s.pending[id]
	if !ok {
		done = completion{summary: domain.CompletionSummary(id, nil)}
	}
	delete(s.pending, id)

	s.steps[idx].Status = domain.StepSucceeded
	s.steps[idx].CompletionSummary = done.summary
	s.steps[idx].Artifact = done.artifact
	s.steps[idx].FinishedAt = now
}

func (s state) failStep(e protocol.StepFailed, now time.Time) (state, []effect, error) {
	idx, err := s.lookup(e.StepID)
	if err != nil {
		return s, nil, err
	}
	if !s.steps[idx].Status.CanTransitionTo(domain.StepFailed) {
		return s, nil, errStepTerminal
	}

	message := strings.TrimSpace(e.Error)
	if message == "" {
		message = defaultStepError
	}

	delete(s.pending, e.StepID)
	s.steps[idx].Status = domain.StepFailed
	s.steps[idx].Error = message
	s.steps[idx].FailureKind = e.FailureKind()
	s.steps[idx].PartialOutput = e.PartialOutput()
	s.steps[idx].Artifact = slices.Clone(e.Artifact)
	s.steps[idx].FinishedAt = now
	return s, []effect{{kind: effectCancel, step: e.StepID}}, nil
}

func (s state) completeRun(result domain.RunResult, now time.Time) (state, []effect, error) {
	for i := range s.steps {
		if s.steps[i].Status == domain.StepRunning {
			s.succeed(i, now)
		}
	}

	s.status = domain.RunSucceeded
	s.result = result
	s.terminal = true
	return s, []effect{{kind: effectCancelAll}}, nil
}

func (s state) failRun(message string, now time.Time) (state, []effect, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		message = defaultRunError
	}

	var effects []effect
	if id, ok := s.activeStep(); ok {
		idx := s.stepIndex(id)
		delete(s.pending, id)
		s.steps[idx].Status = domain.StepFailed
		s.steps[idx].Error = message
		s.steps[idx].FailureKind = domain.ClassifyFailure("", message)
		s.steps[idx].FinishedAt = now
		effects = append(effects, effect{kind: effectCancel, step: id})
	}

	s.status = domain.RunFailed
	s.err = message
	s.terminal = true
	return s, effects, nil
}

// failInFlight handles a transport failure or an unexpected end of stream.
func failInFlight(s state, cause error, now time.Time) (state, []effect, error) {
	if s.terminal {
		return s, nil, errRunFinished
	}
	message := defaultRunError
	if cause != nil {
		message = cause.Error()
	}
	return s.clone().failRun(message, now)
}
