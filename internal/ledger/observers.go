package ledger

import (
	"sync"
	"time"

	"github.com/bnema/agentforge-cli/internal/ports"
	"go.uber.org/zap"
)

type options struct {
	clock    ports.Clock
	minDwell time.Duration
	logger   *zap.Logger
}

type Option func(*options)

func WithClock(clock ports.Clock) Option {
	return func(o *options) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithMinDwell overrides DefaultMinDwell. Non-positive values disable gating.
func WithMinDwell(d time.Duration) Option {
	return func(o *options) {
		if d < 0 {
			d = 0
		}
		o.minDwell = d
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{
		clock:    ports.SystemClock{},
		minDwell: DefaultMinDwell,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// hub fans snapshots out to subscribers. Deliveries are serialized and
// versions only increase; a snapshot overtaken by a newer one is dropped.
type hub[S any] struct {
	mu        sync.Mutex
	observers map[int]func(S)
	nextID    int

	publishMu sync.Mutex
	last      uint64
}

func (h *hub[S]) subscribe(fn func(S)) func() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.observers == nil {
		h.observers = map[int]func(S){}
	}
	id := h.nextID
	h.nextID++
	h.observers[id] = fn

	// Once the returned func returns, fn is not called again. It must not be
	// called from inside fn.
	return func() {
		h.publishMu.Lock()
		defer h.publishMu.Unlock()
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.observers, id)
	}
}

func (h *hub[S]) publish(version uint64, snapshot S) {
	h.publishMu.Lock()
	defer h.publishMu.Unlock()

	if version <= h.last {
		return
	}
	h.last = version

	h.mu.Lock()
	observers := make([]func(S), 0, len(h.observers))
	for id := 0; id < h.nextID; id++ {
		if fn, ok := h.observers[id]; ok {
			observers = append(observers, fn)
		}
	}
	h.mu.Unlock()

	for _, fn := range observers {
		fn(snapshot)
	}
}
