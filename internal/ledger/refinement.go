package ledger

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/bnema/agentforge-cli/internal/domain"
	"github.com/bnema/agentforge-cli/internal/ports"
	"github.com/bnema/agentforge-cli/internal/protocol"
	"go.uber.org/zap"
)

type RefinementSnapshot struct {
	Version   uint64
	Active    bool
	Operation domain.RefinementOperation
}

func (s RefinementSnapshot) Terminal() bool {
	return s.Active && s.Operation.Phase.Terminal()
}

// RefinementLedger holds at most one refinement operation. Phases only move
// forward and are applied as soon as their event arrives.
type RefinementLedger struct {
	clock  ports.Clock
	logger *zap.Logger
	hub    hub[RefinementSnapshot]

	mu      sync.Mutex
	op      *domain.RefinementOperation
	version uint64
}

func NewRefinementLedger(opts ...Option) *RefinementLedger {
	o := buildOptions(opts)
	return &RefinementLedger{clock: o.clock, logger: o.logger}
}

func (r *RefinementLedger) Subscribe(fn func(RefinementSnapshot)) func() {
	return r.hub.subscribe(fn)
}

// Begin starts a new operation. It fails while another one is unfinished.
func (r *RefinementLedger) Begin(instruction string) error {
	r.mu.Lock()
	if r.op != nil && !r.op.Phase.Terminal() {
		r.mu.Unlock()
		return domain.ErrRefinementInFlight
	}

	op := domain.NewRefinementOperation(strings.TrimSpace(instruction), r.clock.Now())
	r.op = &op
	snapshot := r.commitLocked()
	r.mu.Unlock()

	r.hub.publish(snapshot.Version, snapshot)
	return nil
}

func (r *RefinementLedger) Apply(event protocol.RefinementEvent) {
	r.mu.Lock()
	if r.op == nil {
		r.mu.Unlock()
		r.logger.Debug("ignoring refinement event without operation", zap.String("type", string(event.Kind())))
		return
	}

	next, err := applyRefinement(*r.op, event, r.clock)
	if err != nil {
		r.mu.Unlock()
		r.logger.Debug("ignoring refinement event", zap.String("type", string(event.Kind())), zap.Error(err))
		return
	}

	r.op = &next
	snapshot := r.commitLocked()
	r.mu.Unlock()

	r.hub.publish(snapshot.Version, snapshot)
}

// FailInFlight moves an unfinished operation to the error phase.
func (r *RefinementLedger) FailInFlight(cause error) {
	r.mu.Lock()
	if r.op == nil || r.op.Phase.Terminal() {
		r.mu.Unlock()
		return
	}

	next := *r.op
	next.Phase = domain.PhaseError
	next.Error = "refinement failed"
	if cause != nil {
		next.Error = cause.Error()
	}
	next.FinishedAt = r.clock.Now()
	r.op = &next
	snapshot := r.commitLocked()
	r.mu.Unlock()

	r.logger.Warn("refinement failed in flight", zap.Error(cause))
	r.hub.publish(snapshot.Version, snapshot)
}

func (r *RefinementLedger) Terminal() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.op != nil && r.op.Phase.Terminal()
}

func (r *RefinementLedger) Snapshot() RefinementSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

// Discard clears a finished operation so a new one may begin.
func (r *RefinementLedger) Discard() error {
	r.mu.Lock()
	if r.op == nil {
		r.mu.Unlock()
		return nil
	}
	if !r.op.Phase.Terminal() {
		r.mu.Unlock()
		return domain.ErrRefinementInFlight
	}

	r.op = nil
	snapshot := r.commitLocked()
	r.mu.Unlock()

	r.hub.publish(snapshot.Version, snapshot)
	return nil
}

func (r *RefinementLedger) commitLocked() RefinementSnapshot {
	r.version++
	return r.snapshotLocked()
}

func (r *RefinementLedger) snapshotLocked() RefinementSnapshot {
	if r.op == nil {
		return RefinementSnapshot{Version: r.version}
	}
	op := *r.op
	op.ArtifactsAffected = slices.Clone(op.ArtifactsAffected)
	op.Updates = slices.Clone(op.Updates)
	op.Changelog = slices.Clone(op.Changelog)
	op.ResultArtifacts = maps.Clone(op.ResultArtifacts)
	return RefinementSnapshot{Version: r.version, Active: true, Operation: op}
}

func applyRefinement(op domain.RefinementOperation, event protocol.RefinementEvent, clock ports.Clock) (domain.RefinementOperation, error) {
	if op.Phase.Terminal() {
		return op, fmt.Errorf("operation already %s", op.Phase)
	}

	switch e := event.(type) {
	case protocol.Analyzing:
		return op, advance(&op, domain.PhaseAnalyzing)
	case protocol.PlanReady:
		if err := advance(&op, domain.PhasePlanReady); err != nil {
			return op, err
		}
		op.EditsCount = e.Payload.EditsCount
		op.ArtifactsAffected = slices.Clone(e.Payload.ArtifactsAffected)
		op.Reasoning = strings.TrimSpace(e.Payload.Reasoning)
		op.PlanSummary = planSummary(op)
		return op, nil
	case protocol.Applying:
		return op, advance(&op, domain.PhaseApplying)
	case protocol.ArtifactUpdated:
		name := e.Artifact()
		if name == "" {
			return op, errors.New("artifact name missing")
		}
		op.Updates = append(slices.Clip(op.Updates), name)
		return op, nil
	case protocol.Complete:
		if err := advance(&op, domain.PhaseComplete); err != nil {
			return op, err
		}
		op.Applied = e.Payload.Applied
		op.ResultArtifacts = maps.Clone(e.Payload.UpdatedArtifacts)
		if op.Applied == 0 {
			op.Message = domain.NoChangesMessage
			op.Changelog = nil
		} else {
			op.Message = appliedMessage(op.Applied)
			op.Changelog = slices.Clone(e.Payload.Changelog)
		}
		op.FinishedAt = clock.Now()
		return op, nil
	case protocol.RefinementFailed:
		if err := advance(&op, domain.PhaseError); err != nil {
			return op, err
		}
		op.Error = e.Message()
		op.FinishedAt = clock.Now()
		return op, nil
	default:
		return op, fmt.Errorf("unsupported event %q", event.Kind())
	}
}

func advance(op *domain.RefinementOperation, next domain.RefinementPhase) error {
	if !op.Phase.CanAdvanceTo(next) {
		return fmt.Errorf("phase %s cannot move to %s", op.Phase, next)
	}
	op.Phase = next
	return nil
}

func planSummary(op domain.RefinementOperation) string {
	edits := "edits"
	if op.EditsCount == 1 {
		edits = "edit"
	}
	summary := fmt.Sprintf("%d %s planned", op.EditsCount, edits)
	if len(op.ArtifactsAffected) > 0 {
		summary += " across " + strings.Join(op.ArtifactsAffected, ", ")
	}
	return summary
}

func appliedMessage(applied int) string {
	if applied == 1 {
		return "1 change applied"
	}
	return fmt.Sprintf("%d changes applied", applied)
}
