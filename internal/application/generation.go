package application

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/bnema/agentforge-cli/internal/domain"
	"github.com/bnema/agentforge-cli/internal/ledger"
	"github.com/bnema/agentforge-cli/internal/ports"
	"github.com/bnema/agentforge-cli/internal/stream"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var ErrEmptyPrompt = errors.New("prompt is empty")

// PipelineView presents ledger snapshots while a run streams. Update is only
// called between Run starting and Close.
type PipelineView interface {
	Update(snapshot ledger.Snapshot)
	Run(ctx context.Context) error
	Close()
}

// RunObserver follows a single run from its first snapshot until Close.
type RunObserver interface {
	Observe(snapshot ledger.Snapshot)
	Close()
}

type GenerationConfig struct {
	MinDwell time.Duration
	// GracePeriod keeps the final state on screen before the view closes.
	GracePeriod time.Duration
	Stream      stream.Config
}

type GenerationService struct {
	streamer  ports.PipelineStreamer
	repo      ports.RunRepository
	publisher ports.RunPublisher
	clock     ports.Clock
	logger    *zap.Logger
	cfg       GenerationConfig
	newID     func() domain.RunID
}

// NewGenerationService wires a run driver. repo and publisher may be nil.
func NewGenerationService(streamer ports.PipelineStreamer, repo ports.RunRepository, publisher ports.RunPublisher, clock ports.Clock, logger *zap.Logger, cfg GenerationConfig) *GenerationService {
	if clock == nil {
		clock = ports.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &GenerationService{
		streamer:  streamer,
		repo:      repo,
		publisher: publisher,
		clock:     clock,
		logger:    logger,
		cfg:       cfg,
		newID: func() domain.RunID {
			return domain.RunID(uuid.NewString())
		},
	}
}

type GenerateCommand struct {
	Prompt  string
	Options map[string]string
	View    PipelineView
	// Observers receive every snapshot alongside the view.
	Observers []func(ledger.Snapshot)
	// Instrument, when set, builds an observer once the run id is known.
	Instrument  func(ctx context.Context, runID domain.RunID) RunObserver
	Publish     bool
	SkipHistory bool
}

type GenerateResult struct {
	Record domain.RunRecord
	Stats  stream.Stats
	Saved  bool
}

// Generate streams one pipeline run to completion. The returned error is
// non-nil when the stream could not be consumed to a terminal event or the
// run could not be persisted; a run that the producer reports as failed is
// not an error and shows up in Record.Status.
func (s *GenerationService) Generate(ctx context.Context, cmd GenerateCommand) (GenerateResult, error) {
	prompt := strings.TrimSpace(cmd.Prompt)
	if prompt == "" {
		return GenerateResult{}, ErrEmptyPrompt
	}

	runID := s.newID()
	startedAt := s.clock.Now()
	logger := s.logger.With(zap.String("run_id", string(runID)))

	open := func(ctx context.Context) (io.ReadCloser, error) {
		return s.streamer.OpenPipeline(ctx, ports.GenerateRequest{Prompt: prompt, Options: cmd.Options})
	}

	final, stats, streamErr := s.drive(ctx, runID, logger, open, cmd)
	result := GenerateResult{
		Record: final.Record(prompt, cmd.Options, startedAt),
		Stats:  stats,
	}

	persistCtx := context.WithoutCancel(ctx)
	var persistErr error
	if !cmd.SkipHistory && s.repo != nil {
		if err := s.repo.Save(persistCtx, result.Record); err != nil {
			persistErr = fmt.Errorf("save run history: %w", err)
		} else {
			result.Saved = true
		}
	}
	if cmd.Publish && s.publisher != nil && result.Record.Status == domain.RunSucceeded {
		if err := s.publisher.Publish(persistCtx, result.Record); err != nil {
			persistErr = errors.Join(persistErr, fmt.Errorf("publish run: %w", err))
		}
	}

	logger.Info("run finished",
		zap.String("status", string(result.Record.Status)),
		zap.Int("events", result.Stats.Events),
		zap.Int("malformed", result.Stats.Malformed),
		zap.Bool("saved", result.Saved),
	)

	return result, errors.Join(streamErr, persistErr)
}

// Replay drives a recorded stream through the same ledger and view as a live
// run. Nothing is persisted.
func (s *GenerationService) Replay(ctx context.Context, body io.ReadCloser, cmd GenerateCommand) (GenerateResult, error) {
	runID := s.newID()
	startedAt := s.clock.Now()
	logger := s.logger.With(zap.String("run_id", string(runID)), zap.Bool("replay", true))

	open := func(context.Context) (io.ReadCloser, error) {
		return body, nil
	}

	final, stats, err := s.drive(ctx, runID, logger, open, cmd)
	return GenerateResult{
		Record: final.Record(strings.TrimSpace(cmd.Prompt), cmd.Options, startedAt),
		Stats:  stats,
	}, err
}

// drive feeds one stream into a fresh ledger while the view runs, then holds
// the final state for the grace period. It returns the last snapshot.
func (s *GenerationService) drive(ctx context.Context, runID domain.RunID, logger *zap.Logger, open func(context.Context) (io.ReadCloser, error), cmd GenerateCommand) (ledger.Snapshot, stream.Stats, error) {
	l := ledger.New(runID,
		ledger.WithClock(s.clock),
		ledger.WithMinDwell(s.cfg.MinDwell),
		ledger.WithLogger(logger),
	)
	defer l.Dispose()

	var unsubscribers []func()
	unsubscribeAll := func() {
		for _, unsubscribe := range unsubscribers {
			unsubscribe()
		}
		unsubscribers = nil
	}
	defer unsubscribeAll()

	for _, observer := range cmd.Observers {
		unsubscribers = append(unsubscribers, l.Subscribe(observer))
	}
	var instrument RunObserver
	if cmd.Instrument != nil {
		instrument = cmd.Instrument(ctx, runID)
		unsubscribers = append(unsubscribers, l.Subscribe(instrument.Observe))
	}
	if cmd.View != nil {
		unsubscribers = append(unsubscribers, l.Subscribe(cmd.View.Update))
	}

	streamCfg := s.cfg.Stream
	streamCfg.Logger = logger
	driver := stream.NewPipelineDriver(streamCfg)

	var (
		stats    stream.Stats
		runErr   error
		viewDone = make(chan struct{})
	)

	group, groupCtx := errgroup.WithContext(ctx)
	if cmd.View != nil {
		group.Go(func() error {
			defer close(viewDone)
			return cmd.View.Run(groupCtx)
		})
	} else {
		close(viewDone)
	}

	group.Go(func() error {
		defer func() {
			unsubscribeAll()
			if cmd.View != nil {
				cmd.View.Close()
			}
		}()

		body, err := open(groupCtx)
		if err != nil {
			l.FailInFlight(err)
			runErr = err
			return nil
		}
		defer body.Close()

		stats, runErr = driver.Run(groupCtx, body, l)
		if runErr != nil && groupCtx.Err() != nil {
			// Interrupted: record the run as failed rather than leaving it streaming.
			l.FailInFlight(runErr)
			return nil
		}

		if err := l.WaitSettled(groupCtx); err != nil {
			return nil
		}
		if !sleep(groupCtx, s.clock, s.cfg.GracePeriod, viewDone) {
			logger.Debug("grace period cut short")
		}
		return nil
	})

	viewErr := group.Wait()
	if instrument != nil {
		instrument.Close()
	}
	if viewErr != nil && !errors.Is(viewErr, context.Canceled) {
		viewErr = fmt.Errorf("render progress: %w", viewErr)
	} else {
		viewErr = nil
	}

	if runErr == nil && ctx.Err() != nil {
		runErr = ctx.Err()
	}
	return l.Snapshot(), stats, errors.Join(runErr, viewErr)
}

// sleep waits d on clock. It returns false when ctx ends or done closes first.
func sleep(ctx context.Context, clock ports.Clock, d time.Duration, done <-chan struct{}) bool {
	if d <= 0 {
		return true
	}

	elapsed := make(chan struct{})
	timer := clock.AfterFunc(d, func() { close(elapsed) })
	defer timer.Stop()

	select {
	case <-elapsed:
		return true
	case <-ctx.Done():
		return false
	case <-done:
		return false
	}
}
