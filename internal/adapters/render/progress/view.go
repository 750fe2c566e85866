package progress

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/bnema/agentforge-cli/internal/domain"
	"github.com/bnema/agentforge-cli/internal/ledger"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

const (
	thoughtWidth = 72
	partialWidth = 160
	promptWidth  = 40
	errorWidth   = 120
	shortIDLen   = 8
)

const (
	iconPending   = "○"
	iconSucceeded = "✓"
	iconFailed    = "✗"
)

// runView is the part of a run the renderer needs, shared by live snapshots
// and stored records.
type runView struct {
	id      domain.RunID
	status  domain.RunStatus
	err     string
	steps   []domain.PipelineStep
	visible int
	active  domain.StepID
	detail  bool
	result  domain.RunResult
}

func viewFromSnapshot(snapshot ledger.Snapshot) runView {
	return runView{
		id:      snapshot.RunID,
		status:  snapshot.Status,
		err:     snapshot.Error,
		steps:   snapshot.Steps,
		visible: snapshot.ActiveStepCount(),
		active:  snapshot.Active,
		detail:  snapshot.HasStepDetail(),
		result:  snapshot.Result,
	}
}

func viewFromRecord(record domain.RunRecord) runView {
	snapshot := ledger.Snapshot{Steps: record.Steps}
	return runView{
		id:      record.ID,
		status:  record.Status,
		err:     record.Error,
		steps:   record.Steps,
		visible: snapshot.ActiveStepCount(),
		active:  latestRunning(record.Steps),
		detail:  snapshot.HasStepDetail(),
		result:  record.Result,
	}
}

// latestRunning mirrors the ledger's active step for stored records, which
// keep start times but not start order.
func latestRunning(steps []domain.PipelineStep) domain.StepID {
	var active domain.PipelineStep
	for _, step := range steps {
		if step.Status == domain.StepRunning && !step.StartedAt.Before(active.StartedAt) {
			active = step
		}
	}
	return active.ID
}

// shownSteps is the visible prefix plus any failed or active step beyond it,
// so neither is hidden behind an unfinished earlier step.
func (v runView) shownSteps() []domain.PipelineStep {
	shown := make([]domain.PipelineStep, 0, len(v.steps))
	for i, step := range v.steps {
		if i < v.visible || step.Status == domain.StepFailed || step.ID == v.active {
			shown = append(shown, step)
		}
	}
	return shown
}

// RenderSnapshot renders one frame of the pipeline view. frame is the spinner
// glyph used for the running step.
func RenderSnapshot(snapshot ledger.Snapshot, frame string, now time.Time) string {
	return renderRun(viewFromSnapshot(snapshot), frame, now, newStyles())
}

// RenderRecord renders a stored run the same way as its final live frame.
func RenderRecord(record domain.RunRecord) string {
	return renderRun(viewFromRecord(record), iconPending, record.FinishedAt, newStyles())
}

func renderRun(v runView, frame string, now time.Time, s styles) string {
	succeeded := 0
	for _, step := range v.steps {
		if step.Status == domain.StepSucceeded {
			succeeded++
		}
	}

	lines := []string{
		s.title.Render(fmt.Sprintf("Pipeline %s", shortID(v.id))),
		s.header.Render(fmt.Sprintf("%s · %d/%d steps succeeded", v.status, succeeded, len(v.steps))),
	}

	shown := v.shownSteps()
	if len(shown) == 0 {
		lines = append(lines, s.empty.Render("Waiting for the first step..."))
	}
	for _, step := range shown {
		lines = append(lines, renderStep(step, step.ID == v.active, frame, now, s)...)
	}

	if footer := renderFooter(v, s); footer != "" {
		lines = append(lines, s.section.Render(footer))
	}

	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func renderStep(step domain.PipelineStep, active bool, frame string, now time.Time, s styles) []string {
	role := s.role.Render(step.Role)

	switch step.Status {
	case domain.StepRunning:
		if !active {
			return []string{fmt.Sprintf("%s %s %s", s.pending.Render(iconPending), role, s.detail.Render("started"))}
		}
		line := fmt.Sprintf("%s %s %s", s.running.Render(frame), role,
			s.detail.Render(fmt.Sprintf("running %s", formatElapsed(step.RunningFor(now)))))
		if thought := step.LatestThought(); thought != "" {
			return []string{line, s.thought.Render("  └ " + domain.TruncateForDisplay(thought, thoughtWidth))}
		}
		return []string{line}
	case domain.StepSucceeded:
		summary := step.CompletionSummary
		if summary == "" {
			summary = "completed"
		}
		return []string{fmt.Sprintf("%s %s %s", s.succeeded.Render(iconSucceeded), role, s.detail.Render(summary))}
	case domain.StepFailed:
		message := domain.TruncateForDisplay(step.Error, errorWidth)
		if step.FailureKind == domain.FailureTimeout {
			message = "timed out: " + message
		}
		lines := []string{fmt.Sprintf("%s %s %s", s.failed.Render(iconFailed), role, s.failed.Render(message))}
		if step.PartialOutput != "" {
			partial := strings.Join(strings.Fields(step.PartialOutput), " ")
			lines = append(lines, s.warning.Render("  partial output: "+domain.TruncateForDisplay(partial, partialWidth)))
		}
		return lines
	default:
		return []string{fmt.Sprintf("%s %s %s", s.pending.Render(iconPending), s.pending.Render(step.Role), s.pending.Render("waiting"))}
	}
}

func renderFooter(v runView, s styles) string {
	switch v.status {
	case domain.RunSucceeded:
		if v.result.Empty() {
			return s.succeeded.Render("Completed with no artifacts")
		}
		return s.succeeded.Render(fmt.Sprintf("Completed: %s", strings.Join(artifactNames(v.result), ", ")))
	case domain.RunFailed:
		if v.detail {
			return s.failed.Render("Run failed")
		}
		return s.failed.Render("Run failed: " + v.err)
	default:
		return ""
	}
}

// RenderRefinement renders the current state of a refinement operation.
func RenderRefinement(snapshot ledger.RefinementSnapshot) string {
	s := newStyles()
	if !snapshot.Active {
		return s.empty.Render("No refinement in progress.")
	}

	op := snapshot.Operation
	lines := []string{s.title.Render("Refine: " + domain.TruncateForDisplay(op.Instruction, thoughtWidth))}

	switch op.Phase {
	case domain.PhaseAnalyzing:
		lines = append(lines, s.running.Render("Analyzing..."))
	case domain.PhasePlanReady:
		lines = append(lines, s.detail.Render("Plan: "+op.PlanSummary))
	case domain.PhaseApplying:
		lines = append(lines, s.detail.Render("Plan: "+op.PlanSummary), s.running.Render("Applying..."))
		for _, name := range op.Updates {
			lines = append(lines, s.succeeded.Render("  updated "+name))
		}
	case domain.PhaseComplete:
		if op.Applied == 0 {
			lines = append(lines, s.detail.Render(op.Message))
			break
		}
		lines = append(lines, s.succeeded.Render(op.Message))
		for _, entry := range op.Changelog {
			lines = append(lines, fmt.Sprintf("  %s %s", s.key.Render(entry.Artifact+":"), s.detail.Render(entry.Description)))
		}
	case domain.PhaseError:
		lines = append(lines, s.failed.Render("Refinement failed: "+op.Error))
	}

	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

// RenderHistory renders stored runs as a table, newest first as given.
func RenderHistory(runs []domain.RunRecord) string {
	s := newStyles()
	if len(runs) == 0 {
		return s.empty.Render("No runs recorded yet.")
	}

	rows := make([][]string, 0, len(runs))
	for _, run := range runs {
		succeeded := 0
		for _, step := range run.Steps {
			if step.Status == domain.StepSucceeded {
				succeeded++
			}
		}
		rows = append(rows, []string{
			shortID(run.ID),
			run.StartedAt.Local().Format("2006-01-02 15:04"),
			string(run.Status),
			fmt.Sprintf("%d/%d", succeeded, len(run.Steps)),
			fmt.Sprintf("%d", len(run.Refinements)),
			domain.TruncateForDisplay(strings.Join(strings.Fields(run.Prompt), " "), promptWidth),
		})
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(s.border).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return s.tableHead
			case row%2 == 0:
				return s.tableCell
			default:
				return s.tableOdd
			}
		}).
		Headers("ID", "STARTED", "STATUS", "STEPS", "REFINED", "PROMPT").
		Rows(rows...)

	return t.String()
}

func artifactNames(result domain.RunResult) []string {
	names := make([]string, 0, len(result.Artifacts))
	for name := range result.Artifacts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func shortID(id domain.RunID) string {
	if len(id) <= shortIDLen {
		return string(id)
	}
	return string(id[:shortIDLen])
}

func formatElapsed(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return d.Truncate(time.Second).String()
}
