package ledger

import (
	"sync"
	"time"

	"github.com/bnema/agentforge-cli/internal/domain"
	"github.com/bnema/agentforge-cli/internal/ports"
)

// DefaultMinDwell is how long a step stays visibly running before it may
// show as succeeded.
const DefaultMinDwell = 800 * time.Millisecond

// DwellTimers is a per-run registry of deferred promotions keyed by step.
// At most one action is pending per step; a cancelled or replaced action
// never runs.
type DwellTimers struct {
	clock ports.Clock

	mu         sync.Mutex
	entries    map[domain.StepID]*dwellEntry
	idle       chan struct{}
	idleClosed bool
}

type dwellEntry struct {
	timer ports.Timer
}

func NewDwellTimers(clock ports.Clock) *DwellTimers {
	if clock == nil {
		clock = ports.SystemClock{}
	}
	idle := make(chan struct{})
	close(idle)
	return &DwellTimers{
		clock:      clock,
		entries:    map[domain.StepID]*dwellEntry{},
		idle:       idle,
		idleClosed: true,
	}
}

// Schedule runs action after delay, replacing any action pending for id.
func (d *DwellTimers) Schedule(id domain.StepID, delay time.Duration, action func()) {
	if delay < 0 {
		delay = 0
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if previous, ok := d.entries[id]; ok {
		previous.timer.Stop()
	}
	if d.idleClosed {
		d.idle = make(chan struct{})
		d.idleClosed = false
	}

	entry := &dwellEntry{}
	d.entries[id] = entry
	entry.timer = d.clock.AfterFunc(delay, func() {
		d.fire(id, entry, action)
	})
}

// Cancel drops the action pending for id. It reports whether one existed.
func (d *DwellTimers) Cancel(id domain.StepID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	entry, ok := d.entries[id]
	if !ok {
		return false
	}
	entry.timer.Stop()
	delete(d.entries, id)
	d.signalIdleLocked()
	return true
}

// DrainAll cancels every pending action and returns how many there were.
func (d *DwellTimers) DrainAll() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	drained := len(d.entries)
	for id, entry := range d.entries {
		entry.timer.Stop()
		delete(d.entries, id)
	}
	d.signalIdleLocked()
	return drained
}

func (d *DwellTimers) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.entries)
}

// Idle returns a channel closed once no action is pending.
func (d *DwellTimers) Idle() <-chan struct{} {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.idle
}

// fire runs action only if entry is still the current one for id. The
// action runs without the registry lock so it may schedule again.
func (d *DwellTimers) fire(id domain.StepID, entry *dwellEntry, action func()) {
	d.mu.Lock()
	current := d.entries[id] == entry
	d.mu.Unlock()
	if !current {
		return
	}

	action()

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.entries[id] == entry {
		delete(d.entries, id)
		d.signalIdleLocked()
	}
}

func (d *DwellTimers) signalIdleLocked() {
	if len(d.entries) == 0 && !d.idleClosed {
		close(d.idle)
		d.idleClosed = true
	}
}
