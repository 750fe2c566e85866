package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/bnema/agentforge-cli/internal/domain"
)

type PipelineKind string

const (
	KindStepStart             PipelineKind = "step_start"
	KindStepThought           PipelineKind = "step_thought"
	KindStepComplete          PipelineKind = "step_complete"
	KindStepFailed            PipelineKind = "step_failed"
	KindOrchestrationComplete PipelineKind = "orchestration_complete"
	KindOrchestrationFailed   PipelineKind = "orchestration_failed"
)

// PipelineEvent is one decoded record of the generation stream.
type PipelineEvent interface {
	Kind() PipelineKind
	Raw() json.RawMessage
	pipelineEvent()
}

// StepEvent is a PipelineEvent addressed to a single step.
type StepEvent interface {
	PipelineEvent
	Step() domain.StepID
}

type pipelineBase struct {
	raw json.RawMessage
}

func (b pipelineBase) Raw() json.RawMessage { return b.raw }
func (pipelineBase) pipelineEvent() {}

type StepStart struct {
	pipelineBase
	StepID domain.StepID `json:"step_id"`
	Role   string        `json:"role"`
}

func (StepStart) Kind() PipelineKind { return KindStepStart }
func (e StepStart) Step() domain.StepID { return e.StepID }
func (e StepStart) Validate() error { return requireStep(e.StepID) }

type StepThought struct {
	pipelineBase
	StepID  domain.StepID `json:"step_id"`
	Thought string        `json:"thought"`
}

func (StepThought) Kind() PipelineKind { return KindStepThought }
func (e StepThought) Step() domain.StepID { return e.StepID }
func (e StepThought) Validate() error { return requireStep(e.StepID) }

type StepComplete struct {
	pipelineBase
	StepID   domain.StepID   `json:"step_id"`
	Artifact json.RawMessage `json:"artifact"`
}

func (StepComplete) Kind() PipelineKind { return KindStepComplete }
func (e StepComplete) Step() domain.StepID { return e.StepID }
func (e StepComplete) Validate() error { return requireStep(e.StepID) }

type StepFailed struct {
	pipelineBase
	StepID          domain.StepID   `json:"step_id"`
	Role            string          `json:"role"`
	Error           string          `json:"error"`
	ErrorKind       string          `json:"error_kind,omitempty"`
	PartialResponse json.RawMessage `json:"partial_response,omitempty"`
	Artifact        json.RawMessage `json:"artifact,omitempty"`
}

func (StepFailed) Kind() PipelineKind { return KindStepFailed }
func (e StepFailed) Step() domain.StepID { return e.StepID }
func (e StepFailed) Validate() error { return requireStep(e.StepID) }

// PartialOutput returns the partial response as text, if the producer sent one.
func (e StepFailed) PartialOutput() string {
	return rawText(e.PartialResponse)
}

// FailureKind classifies the failure, preferring the structured error_kind.
func (e StepFailed) FailureKind() domain.FailureKind {
	return domain.ClassifyFailure(e.ErrorKind, e.Error)
}

type OrchestrationComplete struct {
	pipelineBase
	Diagram json.RawMessage `json:"diagram"`
}

func (OrchestrationComplete) Kind() PipelineKind { return KindOrchestrationComplete }
func (OrchestrationComplete) Validate() error { return nil }

type diagramEnvelope struct {
	Metadata struct {
		Artifacts map[string]json.RawMessage `json:"artifacts"`
	} `json:"metadata"`
}

// Result extracts the run result. A diagram without an artifact bundle, or
// with an unreadable one, is a valid empty result.
func (e OrchestrationComplete) Result() domain.RunResult {
	result := domain.RunResult{}
	if hasValue(e.Diagram) {
		result.Diagram = append(json.RawMessage(nil), e.Diagram...)
	}

	var diagram diagramEnvelope
	if err := json.Unmarshal(e.Diagram, &diagram); err != nil {
		return result
	}
	if len(diagram.Metadata.Artifacts) > 0 {
		result.Artifacts = diagram.Metadata.Artifacts
	}
	return result
}

type OrchestrationFailed struct {
	pipelineBase
	Error string `json:"error"`
}

func (OrchestrationFailed) Kind() PipelineKind { return KindOrchestrationFailed }
func (OrchestrationFailed) Validate() error { return nil }

// IsPipelineTerminal reports whether event ends the whole run.
func IsPipelineTerminal(event PipelineEvent) bool {
	switch event.Kind() {
	case KindOrchestrationComplete, KindOrchestrationFailed:
		return true
	default:
		return false
	}
}

// DecodePipelineEvent parses one NDJSON record of the generation stream.
func DecodePipelineEvent(line []byte) (PipelineEvent, error) {
	kind, err := readType(line)
	if err != nil {
		return nil, err
	}

	base := pipelineBase{raw: cloneRaw(line)}
	switch PipelineKind(kind) {
	case KindStepStart:
		event, err := decodeInto(line, &StepStart{})
		if err != nil {
			return nil, err
		}
		event.pipelineBase = base
		return *event, nil
	case KindStepThought:
		event, err := decodeInto(line, &StepThought{})
		if err != nil {
			return nil, err
		}
		event.pipelineBase = base
		return *event, nil
	case KindStepComplete:
		event, err := decodeInto(line, &StepComplete{})
		if err != nil {
			return nil, err
		}
		event.pipelineBase = base
		return *event, nil
	case KindStepFailed:
		event, err := decodeInto(line, &StepFailed{})
		if err != nil {
			return nil, err
		}
		event.pipelineBase = base
		return *event, nil
	case KindOrchestrationComplete:
		event, err := decodeInto(line, &OrchestrationComplete{})
		if err != nil {
			return nil, err
		}
		event.pipelineBase = base
		return *event, nil
	case KindOrchestrationFailed:
		event, err := decodeInto(line, &OrchestrationFailed{})
		if err != nil {
			return nil, err
		}
		event.pipelineBase = base
		return *event, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, kind)
	}
}

func requireStep(id domain.StepID) error {
	if strings.TrimSpace(string(id)) == "" {
		return errors.New("step_id is required")
	}
	return nil
}
