package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"strings"

	"github.com/bnema/agentforge-cli/internal/domain"
	"github.com/bnema/agentforge-cli/internal/ledger"
	"github.com/bnema/agentforge-cli/internal/ports"
	"github.com/bnema/agentforge-cli/internal/stream"
	"go.uber.org/zap"
)

var ErrEmptyInstruction = errors.New("instruction is empty")

// RefinementService applies follow-up instructions to the artifacts of a
// stored run. It owns a single refinement ledger, so at most one operation is
// in flight per service.
type RefinementService struct {
	streamer ports.RefinementStreamer
	repo     ports.RunRepository
	logger   *zap.Logger
	stream   stream.Config
	ledger   *ledger.RefinementLedger
}

func NewRefinementService(streamer ports.RefinementStreamer, repo ports.RunRepository, clock ports.Clock, logger *zap.Logger, streamCfg stream.Config) *RefinementService {
	if clock == nil {
		clock = ports.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RefinementService{
		streamer: streamer,
		repo:     repo,
		logger:   logger,
		stream:   streamCfg,
		ledger:   ledger.NewRefinementLedger(ledger.WithClock(clock), ledger.WithLogger(logger)),
	}
}

// Subscribe registers fn for every refinement snapshot.
func (s *RefinementService) Subscribe(fn func(ledger.RefinementSnapshot)) func() {
	return s.ledger.Subscribe(fn)
}

func (s *RefinementService) Snapshot() ledger.RefinementSnapshot {
	return s.ledger.Snapshot()
}

type RefineResult struct {
	Operation domain.RefinementOperation
	Run       domain.RunRecord
	Stats     stream.Stats
}

// Refine streams one refinement of run id. On completion the refined
// artifacts are merged into the stored run and the outcome is appended to its
// refinement history, whether it succeeded or not.
func (s *RefinementService) Refine(ctx context.Context, id domain.RunID, instruction string) (RefineResult, error) {
	instruction = strings.TrimSpace(instruction)
	if instruction == "" {
		return RefineResult{}, ErrEmptyInstruction
	}

	run, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return RefineResult{}, fmt.Errorf("get run by id: %w", err)
	}
	if run.Result.Empty() {
		return RefineResult{}, fmt.Errorf("run %s: %w", id, domain.ErrNoArtifacts)
	}

	logger := s.logger.With(zap.String("run_id", string(id)))
	open := func(ctx context.Context) (io.ReadCloser, error) {
		return s.streamer.OpenRefinement(ctx, ports.RefineRequest{
			Instruction: instruction,
			Artifacts:   run.Result.Artifacts,
		})
	}

	op, stats, streamErr := s.drive(ctx, logger, instruction, open)
	if errors.Is(streamErr, domain.ErrRefinementInFlight) {
		return RefineResult{}, streamErr
	}

	run = recordRefinement(run, op)
	if err := s.repo.Save(context.WithoutCancel(ctx), run); err != nil {
		return RefineResult{Operation: op, Run: run, Stats: stats}, errors.Join(streamErr, fmt.Errorf("save refined run: %w", err))
	}

	logger.Info("refinement finished",
		zap.String("phase", string(op.Phase)),
		zap.Int("applied", op.Applied),
		zap.Int("events", stats.Events),
	)
	return RefineResult{Operation: op, Run: run, Stats: stats}, streamErr
}

// Replay drives a recorded refinement stream without touching history.
func (s *RefinementService) Replay(ctx context.Context, body io.ReadCloser, instruction string) (RefineResult, error) {
	open := func(context.Context) (io.ReadCloser, error) {
		return body, nil
	}
	op, stats, err := s.drive(ctx, s.logger.With(zap.Bool("replay", true)), instruction, open)
	return RefineResult{Operation: op, Stats: stats}, err
}

func (s *RefinementService) drive(ctx context.Context, logger *zap.Logger, instruction string, open func(context.Context) (io.ReadCloser, error)) (domain.RefinementOperation, stream.Stats, error) {
	var stats stream.Stats
	if err := s.ledger.Begin(instruction); err != nil {
		return domain.RefinementOperation{}, stats, err
	}

	body, err := open(ctx)
	if err != nil {
		s.ledger.FailInFlight(err)
		return s.ledger.Snapshot().Operation, stats, err
	}
	defer body.Close()

	streamCfg := s.stream
	streamCfg.Logger = logger
	stats, err = stream.NewRefinementDriver(streamCfg).Run(ctx, body, s.ledger)
	if err != nil && ctx.Err() != nil {
		s.ledger.FailInFlight(err)
	}

	return s.ledger.Snapshot().Operation, stats, err
}

// recordRefinement records op on run and, when edits were applied, overlays
// the refined artifacts by name.
func recordRefinement(run domain.RunRecord, op domain.RefinementOperation) domain.RunRecord {
	run.Refinements = append(append([]domain.RefinementRecord(nil), run.Refinements...), op.Record())
	if op.Phase != domain.PhaseComplete || len(op.ResultArtifacts) == 0 {
		return run
	}

	artifacts := make(map[string]json.RawMessage, len(run.Result.Artifacts)+len(op.ResultArtifacts))
	maps.Copy(artifacts, run.Result.Artifacts)
	maps.Copy(artifacts, op.ResultArtifacts)
	run.Result.Artifacts = artifacts
	return run
}
