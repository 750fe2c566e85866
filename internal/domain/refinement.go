package domain

import (
	"encoding/json"
	"time"
)

type RefinementPhase string

const (
	PhaseAnalyzing RefinementPhase = "analyzing"
	PhasePlanReady RefinementPhase = "plan_ready"
	PhaseApplying  RefinementPhase = "applying"
	PhaseComplete  RefinementPhase = "complete"
	PhaseError     RefinementPhase = "error"
)

const NoChangesMessage = "No changes needed"

var phaseRank = map[RefinementPhase]int{
	PhaseAnalyzing: 0,
	PhasePlanReady: 1,
	PhaseApplying:  2,
	PhaseComplete:  3,
	PhaseError:     3,
}

func (p RefinementPhase) Terminal() bool {
	return p == PhaseComplete || p == PhaseError
}

// CanAdvanceTo reports whether p -> next moves the operation forward.
// Phases may be skipped; they never move backwards or leave a terminal phase.
func (p RefinementPhase) CanAdvanceTo(next RefinementPhase) bool {
	if p.Terminal() {
		return false
	}
	from, ok := phaseRank[p]
	if !ok {
		return false
	}
	to, ok := phaseRank[next]
	if !ok {
		return false
	}
	return to > from
}

type ChangelogEntry struct {
	Artifact    string `json:"artifact"`
	Description string `json:"description"`
}

type RefinementOperation struct {
	Instruction       string
	Phase             RefinementPhase
	PlanSummary       string
	EditsCount        int
	ArtifactsAffected []string
	Reasoning         string
	Updates           []string
	Changelog         []ChangelogEntry
	Applied           int
	Message           string
	ResultArtifacts   map[string]json.RawMessage
	Error             string
	StartedAt         time.Time
	FinishedAt        time.Time
}

func NewRefinementOperation(instruction string, now time.Time) RefinementOperation {
	return RefinementOperation{
		Instruction: instruction,
		Phase:       PhaseAnalyzing,
		StartedAt:   now,
	}
}

// Record captures the durable part of a finished operation.
func (o RefinementOperation) Record() RefinementRecord {
	return RefinementRecord{
		Instruction: o.Instruction,
		Phase:       o.Phase,
		Message:     o.Message,
		Changelog:   append([]ChangelogEntry(nil), o.Changelog...),
		Error:       o.Error,
		FinishedAt:  o.FinishedAt,
	}
}
