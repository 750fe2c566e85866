package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/bnema/agentforge-cli/internal/domain"
)

type RefinementKind string

const (
	KindAnalyzing       RefinementKind = "analyzing"
	KindPlanReady       RefinementKind = "plan_ready"
	KindApplying        RefinementKind = "applying"
	KindArtifactUpdated RefinementKind = "artifact_updated"
	KindComplete        RefinementKind = "complete"
	KindError           RefinementKind = "error"
)

// RefinementEvent is one decoded record of the refinement stream.
type RefinementEvent interface {
	Kind() RefinementKind
	Raw() json.RawMessage
	refinementEvent()
}

type refinementBase struct {
	raw json.RawMessage
}

func (b refinementBase) Raw() json.RawMessage { return b.raw }
func (refinementBase) refinementEvent() {}

type Analyzing struct {
	refinementBase
	Payload struct {
		Message string `json:"message"`
	} `json:"payload"`
}

func (Analyzing) Kind() RefinementKind { return KindAnalyzing }
func (Analyzing) Validate() error { return nil }

type PlanReadyPayload struct {
	EditsCount        int      `json:"edits_count"`
	ArtifactsAffected []string `json:"artifacts_affected"`
	Reasoning         string   `json:"reasoning"`
}

type PlanReady struct {
	refinementBase
	Payload PlanReadyPayload `json:"payload"`
}

func (PlanReady) Kind() RefinementKind { return KindPlanReady }

func (e PlanReady) Validate() error {
	if e.Payload.EditsCount < 0 {
		return errors.New("edits_count must not be negative")
	}
	return nil
}

type Applying struct {
	refinementBase
	Payload struct {
		Message string `json:"message"`
	} `json:"payload"`
}

func (Applying) Kind() RefinementKind { return KindApplying }
func (Applying) Validate() error { return nil }

type ArtifactUpdated struct {
	refinementBase
	Payload struct {
		Artifact string `json:"artifact"`
	} `json:"payload"`
}

func (ArtifactUpdated) Kind() RefinementKind { return KindArtifactUpdated }
func (ArtifactUpdated) Validate() error { return nil }

// Artifact returns the updated artifact name.
func (e ArtifactUpdated) Artifact() string {
	return strings.TrimSpace(e.Payload.Artifact)
}

type CompletePayload struct {
	UpdatedArtifacts map[string]json.RawMessage `json:"updated_artifacts"`
	Changelog        []domain.ChangelogEntry    `json:"changelog"`
	Applied          int                        `json:"applied"`
}

type Complete struct {
	refinementBase
	Payload CompletePayload `json:"payload"`
}

func (Complete) Kind() RefinementKind { return KindComplete }

func (e Complete) Validate() error {
	if e.Payload.Applied < 0 {
		return errors.New("applied must not be negative")
	}
	return nil
}

type RefinementFailed struct {
	refinementBase
	Payload struct {
		Message string `json:"message"`
	} `json:"payload"`
}

func (RefinementFailed) Kind() RefinementKind { return KindError }
func (RefinementFailed) Validate() error { return nil }

// Message returns the failure text, with a fallback for producers that omit it.
func (e RefinementFailed) Message() string {
	if msg := strings.TrimSpace(e.Payload.Message); msg != "" {
		return msg
	}
	return "refinement failed"
}

// IsRefinementTerminal reports whether event ends the refinement operation.
func IsRefinementTerminal(event RefinementEvent) bool {
	switch event.Kind() {
	case KindComplete, KindError:
		return true
	default:
		return false
	}
}

// DecodeRefinementEvent parses one NDJSON record of the refinement stream.
func DecodeRefinementEvent(line []byte) (RefinementEvent, error) {
	kind, err := readType(line)
	if err != nil {
		return nil, err
	}

	base := refinementBase{raw: cloneRaw(line)}
	switch RefinementKind(kind) {
	case KindAnalyzing:
		event, err := decodeInto(line, &Analyzing{})
		if err != nil {
			return nil, err
		}
		event.refinementBase = base
		return *event, nil
	case KindPlanReady:
		event, err := decodeInto(line, &PlanReady{})
		if err != nil {
			return nil, err
		}
		event.refinementBase = base
		return *event, nil
	case KindApplying:
		event, err := decodeInto(line, &Applying{})
		if err != nil {
			return nil, err
		}
		event.refinementBase = base
		return *event, nil
	case KindArtifactUpdated:
		event, err := decodeInto(line, &ArtifactUpdated{})
		if err != nil {
			return nil, err
		}
		event.refinementBase = base
		return *event, nil
	case KindComplete:
		event, err := decodeInto(line, &Complete{})
		if err != nil {
			return nil, err
		}
		event.refinementBase = base
		return *event, nil
	case KindError:
		event, err := decodeInto(line, &RefinementFailed{})
		if err != nil {
			return nil, err
		}
		event.refinementBase = base
		return *event, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, kind)
	}
}
