package domain

import (
	"encoding/json"
	"time"
)

type StepID string

const (
	StepPMSpec         StepID = "pm_spec"
	StepArchDesign     StepID = "arch_design"
	StepSecurityReview StepID = "security_review"
	StepDevOpsPlan     StepID = "devops_plan"
	StepUIDesign       StepID = "ui_design"
	StepEngineerImpl   StepID = "engineer_impl"
	StepQAVerification StepID = "qa_verification"
)

var pipelineOrder = [...]StepID{
	StepPMSpec,
	StepArchDesign,
	StepSecurityReview,
	StepDevOpsPlan,
	StepUIDesign,
	StepEngineerImpl,
	StepQAVerification,
}

var stepRoles = map[StepID]string{
	StepPMSpec:         "Product Manager",
	StepArchDesign:     "Architect",
	StepSecurityReview: "Security",
	StepDevOpsPlan:     "DevOps",
	StepUIDesign:       "UI Designer",
	StepEngineerImpl:   "Engineer",
	StepQAVerification: "QA",
}

// PipelineOrder returns the fixed step order of a generation run.
func PipelineOrder() []StepID {
	return append([]StepID(nil), pipelineOrder[:]...)
}

func (id StepID) Valid() bool {
	_, ok := stepRoles[id]
	return ok
}

func (id StepID) Role() string {
	if role, ok := stepRoles[id]; ok {
		return role
	}
	return string(id)
}

// Index returns the position of id in the pipeline, or -1 for unknown ids.
func (id StepID) Index() int {
	for i, candidate := range pipelineOrder {
		if candidate == id {
			return i
		}
	}
	return -1
}

type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepSucceeded StepStatus = "succeeded"
	StepFailed    StepStatus = "failed"
)

func (s StepStatus) Terminal() bool {
	return s == StepSucceeded || s == StepFailed
}

// CanTransitionTo reports whether s -> next is an edge of the step lifecycle.
// Running -> Running is not an edge; callers treat it as a no-op.
func (s StepStatus) CanTransitionTo(next StepStatus) bool {
	switch s {
	case StepPending:
		return next == StepRunning || next == StepFailed
	case StepRunning:
		return next == StepSucceeded || next == StepFailed
	default:
		return false
	}
}

type PipelineStep struct {
	ID                StepID
	Role              string
	Status            StepStatus
	Error             string
	FailureKind       FailureKind
	PartialOutput     string
	CompletionSummary string
	Thoughts          []string
	Artifact          json.RawMessage
	StartedAt         time.Time
	FinishedAt        time.Time
}

// NewPipelineSteps returns the seven steps of a fresh run, all pending.
func NewPipelineSteps() []PipelineStep {
	steps := make([]PipelineStep, 0, len(pipelineOrder))
	for _, id := range pipelineOrder {
		steps = append(steps, PipelineStep{ID: id, Role: id.Role(), Status: StepPending})
	}
	return steps
}

// LatestThought returns the most recent commentary line, if any.
func (s PipelineStep) LatestThought() string {
	if len(s.Thoughts) == 0 {
		return ""
	}
	return s.Thoughts[len(s.Thoughts)-1]
}

// RunningFor returns how long the step has been (or was) running at now.
func (s PipelineStep) RunningFor(now time.Time) time.Duration {
	if s.StartedAt.IsZero() {
		return 0
	}
	end := now
	if !s.FinishedAt.IsZero() {
		end = s.FinishedAt
	}
	if end.Before(s.StartedAt) {
		return 0
	}
	return end.Sub(s.StartedAt)
}
