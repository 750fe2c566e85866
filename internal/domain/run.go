package domain

import (
	"encoding/json"
	"time"
)

type RunID string

type RunStatus string

const (
	RunIdle      RunStatus = "idle"
	RunStreaming RunStatus = "streaming"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)

func (s RunStatus) Terminal() bool {
	return s == RunSucceeded || s == RunFailed
}

// RunResult is what the producer hands back with orchestration_complete.
// A missing artifact bundle is a valid, empty result.
type RunResult struct {
	Diagram   json.RawMessage
	Artifacts map[string]json.RawMessage
}

func (r RunResult) Empty() bool {
	return len(r.Artifacts) == 0
}

type RunRecord struct {
	ID          RunID
	Prompt      string
	Options     map[string]string
	StartedAt   time.Time
	FinishedAt  time.Time
	Status      RunStatus
	Error       string
	Steps       []PipelineStep
	Result      RunResult
	Refinements []RefinementRecord
}

type RefinementRecord struct {
	Instruction string
	Phase       RefinementPhase
	Message     string
	Changelog   []ChangelogEntry
	Error       string
	FinishedAt  time.Time
}
