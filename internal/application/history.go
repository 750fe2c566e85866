package application

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bnema/agentforge-cli/internal/domain"
	"github.com/bnema/agentforge-cli/internal/ports"
)

var ErrAmbiguousRunID = errors.New("run id prefix matches more than one run")

type HistoryService struct {
	repo ports.RunRepository
}

func NewHistoryService(repo ports.RunRepository) *HistoryService {
	return &HistoryService{repo: repo}
}

// List returns stored runs, newest first.
func (s *HistoryService) List(ctx context.Context) ([]domain.RunRecord, error) {
	runs, err := s.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return runs, nil
}

// Resolve finds a run by full id or by a unique id prefix.
func (s *HistoryService) Resolve(ctx context.Context, ref string) (domain.RunRecord, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return domain.RunRecord{}, fmt.Errorf("empty run id: %w", domain.ErrRunNotFound)
	}

	run, err := s.repo.GetByID(ctx, domain.RunID(ref))
	if err == nil {
		return run, nil
	}
	if !errors.Is(err, domain.ErrRunNotFound) {
		return domain.RunRecord{}, fmt.Errorf("get run by id: %w", err)
	}

	runs, err := s.List(ctx)
	if err != nil {
		return domain.RunRecord{}, err
	}

	var matches []domain.RunRecord
	for _, candidate := range runs {
		if strings.HasPrefix(string(candidate.ID), ref) {
			matches = append(matches, candidate)
		}
	}

	switch len(matches) {
	case 0:
		return domain.RunRecord{}, fmt.Errorf("run %q: %w", ref, domain.ErrRunNotFound)
	case 1:
		return matches[0], nil
	default:
		return domain.RunRecord{}, fmt.Errorf("%q: %w", ref, ErrAmbiguousRunID)
	}
}

// Latest returns the most recent run that produced artifacts.
func (s *HistoryService) Latest(ctx context.Context) (domain.RunRecord, error) {
	runs, err := s.List(ctx)
	if err != nil {
		return domain.RunRecord{}, err
	}
	for _, run := range runs {
		if !run.Result.Empty() {
			return run, nil
		}
	}
	return domain.RunRecord{}, domain.ErrNoActiveRun
}
