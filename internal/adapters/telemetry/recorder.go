package telemetry

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/bnema/agentforge-cli/internal/domain"
	"github.com/bnema/agentforge-cli/internal/ledger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	TracerName     = "github.com/bnema/agentforge-cli"
	RunSpanName    = "agentforge.generate"
	RunIDKey       = "agentforge.run.id"
	StepRoleKey    = "agentforge.step.role"
	StepIDKey      = "agentforge.step.id"
	StepSummaryKey = "agentforge.step.summary"
	FailureKindKey = "agentforge.step.failure_kind"
	UnfinishedKey  = "agentforge.step.unfinished"
	ArtifactsKey   = "agentforge.run.artifacts"
)

// Recorder turns ledger snapshots into one root span per run and one child
// span per step that started. Step spans use the ledger's own timestamps.
type Recorder struct {
	tracer trace.Tracer

	mu     sync.Mutex
	ctx    context.Context
	root   trace.Span
	steps  map[domain.StepID]trace.Span
	ended  map[domain.StepID]bool
	last   ledger.Snapshot
	closed bool
}

// NewRecorder starts the run span. A nil tracer uses the global provider.
func NewRecorder(ctx context.Context, tracer trace.Tracer, runID domain.RunID) *Recorder {
	if tracer == nil {
		tracer = otel.Tracer(TracerName)
	}

	spanCtx, root := tracer.Start(ctx, RunSpanName, trace.WithAttributes(attribute.String(RunIDKey, string(runID))))
	return &Recorder{
		tracer: tracer,
		ctx:    spanCtx,
		root:   root,
		steps:  make(map[domain.StepID]trace.Span),
		ended:  make(map[domain.StepID]bool),
	}
}

// Observe records step transitions visible in snapshot. Older snapshots are
// ignored.
func (r *Recorder) Observe(snapshot ledger.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed || (r.last.Version != 0 && snapshot.Version <= r.last.Version) {
		return
	}
	r.last = snapshot

	for _, step := range snapshot.Steps {
		if step.Status == domain.StepPending || r.ended[step.ID] {
			continue
		}

		span, ok := r.steps[step.ID]
		if !ok {
			start := step.StartedAt
			if start.IsZero() {
				start = snapshot.At
			}
			_, span = r.tracer.Start(r.ctx, string(step.ID),
				trace.WithTimestamp(start),
				trace.WithAttributes(
					attribute.String(StepIDKey, string(step.ID)),
					attribute.String(StepRoleKey, step.Role),
				))
			r.steps[step.ID] = span
		}

		switch step.Status {
		case domain.StepSucceeded:
			span.SetAttributes(attribute.String(StepSummaryKey, step.CompletionSummary))
			span.SetStatus(codes.Ok, "")
		case domain.StepFailed:
			span.SetAttributes(attribute.String(FailureKindKey, string(step.FailureKind)))
			span.RecordError(errors.New(step.Error))
			span.SetStatus(codes.Error, strings.TrimSpace(step.Error))
		default:
			continue
		}

		end := step.FinishedAt
		if end.IsZero() {
			end = snapshot.At
		}
		span.End(trace.WithTimestamp(end))
		r.ended[step.ID] = true
	}
}

// Close ends spans of steps that never finished and the run span.
func (r *Recorder) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	r.closed = true

	end := r.last.At
	var opts []trace.SpanEndOption
	if !end.IsZero() {
		opts = append(opts, trace.WithTimestamp(end))
	}

	for id, span := range r.steps {
		if r.ended[id] {
			continue
		}
		span.SetAttributes(attribute.Bool(UnfinishedKey, true))
		span.End(opts...)
	}

	r.root.SetAttributes(attribute.Int(ArtifactsKey, len(r.last.Result.Artifacts)))
	switch r.last.Status {
	case domain.RunSucceeded:
		r.root.SetStatus(codes.Ok, "")
	case domain.RunFailed:
		r.root.SetStatus(codes.Error, r.last.Error)
	default:
		r.root.SetStatus(codes.Error, "run did not finish")
	}
	r.root.End(opts...)
}
