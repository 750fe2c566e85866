package httpstream

import (
	"encoding/json"
	"time"

	"github.com/bnema/agentforge-cli/internal/domain"
)

type runPayload struct {
	ID          string                     `json:"id"`
	Prompt      string                     `json:"prompt"`
	Options     map[string]string          `json:"options,omitempty"`
	Status      string                     `json:"status"`
	Error       string                     `json:"error,omitempty"`
	StartedAt   string                     `json:"started_at"`
	FinishedAt  string                     `json:"finished_at,omitempty"`
	Steps       []stepPayload              `json:"steps"`
	Diagram     json.RawMessage            `json:"diagram,omitempty"`
	Artifacts   map[string]json.RawMessage `json:"artifacts,omitempty"`
	Refinements []refinementPayload        `json:"refinements,omitempty"`
}

type stepPayload struct {
	ID                string          `json:"step_id"`
	Role              string          `json:"role"`
	Status            string          `json:"status"`
	Error             string          `json:"error,omitempty"`
	FailureKind       string          `json:"failure_kind,omitempty"`
	PartialOutput     string          `json:"partial_output,omitempty"`
	CompletionSummary string          `json:"completion_summary,omitempty"`
	Artifact          json.RawMessage `json:"artifact,omitempty"`
	StartedAt         string          `json:"started_at,omitempty"`
	FinishedAt        string          `json:"finished_at,omitempty"`
}

type refinementPayload struct {
	Instruction string                  `json:"instruction"`
	Phase       string                  `json:"phase"`
	Message     string                  `json:"message,omitempty"`
	Changelog   []domain.ChangelogEntry `json:"changelog,omitempty"`
	Error       string                  `json:"error,omitempty"`
	FinishedAt  string                  `json:"finished_at,omitempty"`
}

func newRunPayload(run domain.RunRecord) runPayload {
	payload := runPayload{
		ID:         string(run.ID),
		Prompt:     run.Prompt,
		Options:    run.Options,
		Status:     string(run.Status),
		Error:      run.Error,
		StartedAt:  formatTime(run.StartedAt),
		FinishedAt: formatTime(run.FinishedAt),
		Steps:      make([]stepPayload, 0, len(run.Steps)),
		Diagram:    run.Result.Diagram,
		Artifacts:  run.Result.Artifacts,
	}

	for _, step := range run.Steps {
		payload.Steps = append(payload.Steps, stepPayload{
			ID:                string(step.ID),
			Role:              step.Role,
			Status:            string(step.Status),
			Error:             step.Error,
			FailureKind:       string(step.FailureKind),
			PartialOutput:     step.PartialOutput,
			CompletionSummary: step.CompletionSummary,
			Artifact:          step.Artifact,
			StartedAt:         formatTime(step.StartedAt),
			FinishedAt:        formatTime(step.FinishedAt),
		})
	}

	for _, refinement := range run.Refinements {
		payload.Refinements = append(payload.Refinements, refinementPayload{
			Instruction: refinement.Instruction,
			Phase:       string(refinement.Phase),
			Message:     refinement.Message,
			Changelog:   refinement.Changelog,
			Error:       refinement.Error,
			FinishedAt:  formatTime(refinement.FinishedAt),
		})
	}

	return payload
}

func formatTime(value time.Time) string {
	if value.IsZero() {
		return ""
	}
	return value.UTC().Format(time.RFC3339Nano)
}
