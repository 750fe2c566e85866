package progress

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/bnema/agentforge-cli/internal/domain"
	"github.com/bnema/agentforge-cli/internal/ledger"
)

type stepMark struct {
	status   domain.StepStatus
	thoughts int
}

// Plain writes one line per observed change. It is used when the output is
// not a terminal and for logs.
type Plain struct {
	out     io.Writer
	verbose bool

	mu      sync.Mutex
	version uint64
	steps   map[domain.StepID]stepMark
	status  domain.RunStatus
	done    chan struct{}
	once    sync.Once
}

// NewPlain returns a line reporter. With verbose set, step commentary is
// printed as well.
func NewPlain(out io.Writer, verbose bool) *Plain {
	return &Plain{
		out:     out,
		verbose: verbose,
		steps:   make(map[domain.StepID]stepMark),
		status:  domain.RunIdle,
		done:    make(chan struct{}),
	}
}

func (p *Plain) Update(snapshot ledger.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if snapshot.Version != 0 && snapshot.Version <= p.version {
		return
	}
	p.version = snapshot.Version

	for _, step := range snapshot.Steps {
		prev := p.steps[step.ID]
		shown := step.Status
		if shown == domain.StepRunning && step.ID != snapshot.Active {
			// Overlapping starts: only the active step is reported as running.
			shown = prev.status
		}
		if p.verbose {
			for _, thought := range step.Thoughts[min(prev.thoughts, len(step.Thoughts)):] {
				p.printf("  %s: %s\n", step.Role, domain.TruncateForDisplay(thought, thoughtWidth))
			}
		}
		if shown != prev.status && shown != domain.StepPending {
			p.printf("%s\n", stepLine(step))
		}
		p.steps[step.ID] = stepMark{status: shown, thoughts: len(step.Thoughts)}
	}

	if snapshot.Status != p.status {
		p.status = snapshot.Status
		switch snapshot.Status {
		case domain.RunSucceeded:
			if snapshot.Result.Empty() {
				p.printf("run %s succeeded with no artifacts\n", snapshot.RunID)
			} else {
				p.printf("run %s succeeded: %d artifacts\n", snapshot.RunID, len(snapshot.Result.Artifacts))
			}
		case domain.RunFailed:
			p.printf("run %s failed: %s\n", snapshot.RunID, snapshot.Error)
		}
	}
}

func stepLine(step domain.PipelineStep) string {
	switch step.Status {
	case domain.StepRunning:
		return fmt.Sprintf("%s: running", step.Role)
	case domain.StepSucceeded:
		return fmt.Sprintf("%s: succeeded (%s)", step.Role, step.CompletionSummary)
	case domain.StepFailed:
		if step.FailureKind == domain.FailureTimeout {
			return fmt.Sprintf("%s: failed (timeout): %s", step.Role, step.Error)
		}
		return fmt.Sprintf("%s: failed: %s", step.Role, step.Error)
	default:
		return fmt.Sprintf("%s: %s", step.Role, step.Status)
	}
}

func (p *Plain) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(p.out, format, args...)
}

func (p *Plain) Close() {
	p.once.Do(func() { close(p.done) })
}

func (p *Plain) Run(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-p.done:
		return nil
	}
}

// RefinementReporter prints refinement phase changes as lines.
type RefinementReporter struct {
	out io.Writer

	mu      sync.Mutex
	version uint64
	phase   domain.RefinementPhase
	updates int
}

func NewRefinementReporter(out io.Writer) *RefinementReporter {
	return &RefinementReporter{out: out}
}

func (r *RefinementReporter) Update(snapshot ledger.RefinementSnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if snapshot.Version <= r.version {
		return
	}
	r.version = snapshot.Version
	if !snapshot.Active {
		r.phase = ""
		r.updates = 0
		return
	}

	op := snapshot.Operation
	if op.Phase != r.phase {
		r.phase = op.Phase
		switch op.Phase {
		case domain.PhaseAnalyzing:
			r.updates = 0
			r.printf("analyzing: %s\n", op.Instruction)
		case domain.PhasePlanReady:
			r.printf("plan: %s\n", op.PlanSummary)
		case domain.PhaseApplying:
			r.printf("applying edits\n")
		case domain.PhaseComplete:
			r.printf("%s\n", op.Message)
			for _, entry := range op.Changelog {
				r.printf("  %s: %s\n", entry.Artifact, entry.Description)
			}
		case domain.PhaseError:
			r.printf("refinement failed: %s\n", op.Error)
		}
	}

	for _, name := range op.Updates[min(r.updates, len(op.Updates)):] {
		r.printf("  updated %s\n", name)
	}
	r.updates = len(op.Updates)
}

func (r *RefinementReporter) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(r.out, format, args...)
}
