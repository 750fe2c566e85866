// Package ledger holds the client-side state machines for a generation run
// and for a refinement operation.
package ledger

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/bnema/agentforge-cli/internal/domain"
	"github.com/bnema/agentforge-cli/internal/ports"
	"github.com/bnema/agentforge-cli/internal/protocol"
	"go.uber.org/zap"
)

// Ledger tracks the seven steps of one generation run. Stream events and
// dwell timer callbacks are its two writers; both go through mu.
type Ledger struct {
	clock    ports.Clock
	minDwell time.Duration
	logger   *zap.Logger
	timers   *DwellTimers
	hub      hub[Snapshot]

	mu         sync.Mutex
	state      state
	version    uint64
	generation uint64
	disposed   bool
}

func New(runID domain.RunID, opts ...Option) *Ledger {
	o := buildOptions(opts)
	return &Ledger{
		clock:    o.clock,
		minDwell: o.minDwell,
		logger:   o.logger,
		timers:   NewDwellTimers(o.clock),
		state:    newState(runID),
	}
}

// Subscribe registers fn for every published snapshot and returns a function
// that removes it.
func (l *Ledger) Subscribe(fn func(Snapshot)) func() {
	return l.hub.subscribe(fn)
}

// Reset drains every pending timer and recreates all steps as pending.
func (l *Ledger) Reset(runID domain.RunID) {
	l.mu.Lock()
	l.generation++
	l.timers.DrainAll()
	l.state = newState(runID)
	l.disposed = false
	snapshot := l.commitLocked()
	l.mu.Unlock()

	l.hub.publish(snapshot.Version, snapshot)
}

func (l *Ledger) Apply(event protocol.PipelineEvent) {
	l.mu.Lock()
	if l.disposed {
		l.mu.Unlock()
		l.logger.Debug("ignoring event on disposed ledger", zap.String("type", string(event.Kind())))
		return
	}

	next, effects, err := reduce(l.state, event, l.clock.Now(), l.minDwell)
	if err != nil {
		l.mu.Unlock()
		fields := []zap.Field{zap.String("type", string(event.Kind())), zap.Error(err)}
		if stepEvent, ok := event.(protocol.StepEvent); ok {
			fields = append(fields, zap.String("step", string(stepEvent.Step())))
		}
		l.logger.Debug("ignoring event", fields...)
		return
	}

	snapshot := l.transitionLocked(next, effects)
	l.mu.Unlock()

	l.hub.publish(snapshot.Version, snapshot)
}

// FailInFlight fails the active step and the run. It is a no-op once the run
// has reached a terminal state.
func (l *Ledger) FailInFlight(cause error) {
	l.mu.Lock()
	if l.disposed {
		l.mu.Unlock()
		return
	}

	next, effects, err := failInFlight(l.state, cause, l.clock.Now())
	if err != nil {
		l.mu.Unlock()
		l.logger.Debug("ignoring in-flight failure", zap.NamedError("cause", cause), zap.Error(err))
		return
	}

	snapshot := l.transitionLocked(next, effects)
	l.mu.Unlock()

	l.logger.Warn("run failed in flight", zap.Error(cause))
	l.hub.publish(snapshot.Version, snapshot)
}

func (l *Ledger) Terminal() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state.terminal
}

func (l *Ledger) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.snapshotLocked()
}

// PendingPromotions reports how many dwell timers are outstanding.
func (l *Ledger) PendingPromotions() int {
	return l.timers.Pending()
}

// WaitSettled blocks until no promotion is pending or ctx is done.
func (l *Ledger) WaitSettled(ctx context.Context) error {
	for {
		select {
		case <-l.timers.Idle():
			if l.timers.Pending() == 0 {
				return nil
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Dispose drains all timers. Later events and timer callbacks are ignored.
func (l *Ledger) Dispose() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.disposed = true
	l.generation++
	if drained := l.timers.DrainAll(); drained > 0 {
		l.logger.Debug("drained dwell timers", zap.Int("count", drained))
	}
}

func (l *Ledger) promoteFunc(generation uint64, id domain.StepID) func() {
	return func() {
		l.mu.Lock()
		if l.disposed || generation != l.generation {
			l.mu.Unlock()
			return
		}

		next, effects, err := l.state.promote(id, l.clock.Now(), l.minDwell)
		if err != nil {
			l.mu.Unlock()
			l.logger.Debug("skipping promotion", zap.String("step", string(id)), zap.Error(err))
			return
		}

		snapshot := l.transitionLocked(next, effects)
		l.mu.Unlock()

		l.hub.publish(snapshot.Version, snapshot)
	}
}

func (l *Ledger) transitionLocked(next state, effects []effect) Snapshot {
	l.state = next
	for _, eff := range effects {
		switch eff.kind {
		case effectSchedule:
			l.timers.Schedule(eff.step, eff.delay, l.promoteFunc(l.generation, eff.step))
		case effectCancel:
			l.timers.Cancel(eff.step)
		case effectCancelAll:
			l.timers.DrainAll()
		}
	}
	return l.commitLocked()
}

func (l *Ledger) commitLocked() Snapshot {
	l.version++
	return l.snapshotLocked()
}

func (l *Ledger) snapshotLocked() Snapshot {
	active, _ := l.state.activeStep()
	return Snapshot{
		Version: l.version,
		RunID:   l.state.runID,
		Status:  l.state.status,
		Error:   l.state.err,
		Steps:   slices.Clone(l.state.steps),
		Result:  l.state.result,
		At:      l.clock.Now(),
		Active:  active,
	}
}
