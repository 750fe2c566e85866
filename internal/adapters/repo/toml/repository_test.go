package toml

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bnema/agentforge-cli/internal/domain"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepository(t *testing.T, historyPath string) *Repository {
	t.Helper()

	config := viper.New()
	config.Set(HistoryPathKey, historyPath)

	repo, err := NewRepository(config)
	require.NoError(t, err)
	return repo
}

func sampleRun(id string, startedAt time.Time) domain.RunRecord {
	steps := domain.NewPipelineSteps()
	steps[0].Status = domain.StepSucceeded
	steps[0].CompletionSummary = "4 user stories"
	steps[0].Thoughts = []string{"reading the prompt", "drafting stories"}
	steps[0].Artifact = json.RawMessage(`{"user_stories":["a","b","c","d"]}`)
	steps[0].StartedAt = startedAt
	steps[0].FinishedAt = startedAt.Add(2 * time.Second)
	steps[1].Status = domain.StepFailed
	steps[1].Error = "model timed out"
	steps[1].FailureKind = domain.FailureTimeout
	steps[1].PartialOutput = "partial \"diagram\"\nline two"
	steps[1].StartedAt = startedAt.Add(2 * time.Second)
	steps[1].FinishedAt = startedAt.Add(5 * time.Second)

	return domain.RunRecord{
		ID:         domain.RunID(id),
		Prompt:     "a todo app",
		Options:    map[string]string{"stack": "go"},
		StartedAt:  startedAt,
		FinishedAt: startedAt.Add(5 * time.Second),
		Status:     domain.RunFailed,
		Error:      "pipeline failed",
		Steps:      steps,
	}
}

func TestRepositoryRoundTrip(t *testing.T) {
	t.Parallel()

	repo := newTestRepository(t, filepath.Join(t.TempDir(), "history.toml"))
	startedAt := time.Date(2026, 10, 19, 9, 30, 0, 123000000, time.UTC)

	first := sampleRun("run-1", startedAt)
	second := sampleRun("run-2", startedAt.Add(time.Hour))
	second.Status = domain.RunSucceeded
	second.Error = ""
	second.Result = domain.RunResult{
		Diagram:   json.RawMessage(`{"nodes":[]}`),
		Artifacts: map[string]json.RawMessage{"architecture": json.RawMessage(`{"components":["api"]}`)},
	}
	second.Refinements = []domain.RefinementRecord{{
		Instruction: "add a cache",
		Phase:       domain.PhaseComplete,
		Message:     "1 edit applied",
		Changelog:   []domain.ChangelogEntry{{Artifact: "architecture", Description: "added redis"}},
		FinishedAt:  startedAt.Add(2 * time.Hour),
	}}

	require.NoError(t, repo.Save(context.Background(), first))
	require.NoError(t, repo.Save(context.Background(), second))

	got, err := repo.GetByID(context.Background(), first.ID)
	require.NoError(t, err)
	assert.Equal(t, first, got)

	got, err = repo.GetByID(context.Background(), second.ID)
	require.NoError(t, err)
	assert.Equal(t, second, got)

	runs, err := repo.List(context.Background())
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, second.ID, runs[0].ID, "most recent run first")
	assert.Equal(t, first.ID, runs[1].ID)
}

func TestRepositorySaveReplacesExistingRun(t *testing.T) {
	t.Parallel()

	repo := newTestRepository(t, filepath.Join(t.TempDir(), "history.toml"))
	run := sampleRun("run-1", time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC))

	require.NoError(t, repo.Save(context.Background(), run))
	run.Refinements = append(run.Refinements, domain.RefinementRecord{
		Instruction: "rename service",
		Phase:       domain.PhaseError,
		Error:       "model refused",
	})
	require.NoError(t, repo.Save(context.Background(), run))

	runs, err := repo.List(context.Background())
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Len(t, runs[0].Refinements, 1)
	assert.Equal(t, "model refused", runs[0].Refinements[0].Error)
}

func TestRepositoryRetainsNewestRuns(t *testing.T) {
	t.Parallel()

	historyPath := filepath.Join(t.TempDir(), "history.toml")
	config := viper.New()
	config.Set(HistoryPathKey, historyPath)
	config.Set(HistoryMaxRunsKey, 2)
	repo, err := NewRepository(config)
	require.NoError(t, err)

	base := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		require.NoError(t, repo.Save(context.Background(), sampleRun("run-"+strconv.Itoa(i), base.Add(time.Duration(i)*time.Minute))))
	}

	runs, err := repo.List(context.Background())
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, domain.RunID("run-3"), runs[0].ID)
	assert.Equal(t, domain.RunID("run-2"), runs[1].ID)
}

func TestRepositorySaveCreatesDefaultPathAndEnforcesPermissions(t *testing.T) {
	homeDir := t.TempDir()
	t.Setenv("HOME", homeDir)
	t.Setenv("XDG_DATA_HOME", "")

	repo, err := NewRepository(viper.New())
	require.NoError(t, err)

	require.NoError(t, repo.Save(context.Background(), sampleRun("run-1", time.Now())))

	historyPath := filepath.Join(homeDir, ".local", "share", "agentforge", "history.toml")
	assert.Equal(t, historyPath, repo.Path())
	info, err := os.Stat(historyPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestDefaultHistoryPathHonoursXDGDataHome(t *testing.T) {
	dataHome := t.TempDir()
	t.Setenv("XDG_DATA_HOME", dataHome)

	path, err := DefaultHistoryPath()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dataHome, "agentforge", "history.toml"), path)
}

func TestRepositoryMissingFileBehaviors(t *testing.T) {
	t.Parallel()

	repo := newTestRepository(t, filepath.Join(t.TempDir(), "missing", "history.toml"))

	runs, err := repo.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, runs)

	_, err = repo.GetByID(context.Background(), "run-1")
	require.ErrorIs(t, err, domain.ErrRunNotFound)
}

func TestRepositoryRejectsInvalidInput(t *testing.T) {
	t.Parallel()

	repo := newTestRepository(t, filepath.Join(t.TempDir(), "history.toml"))
	assert.EqualError(t, repo.Save(context.Background(), domain.RunRecord{}), "run id is empty")

	config := viper.New()
	config.Set(HistoryPathKey, filepath.Join(t.TempDir(), "history.toml"))
	config.Set(HistoryMaxRunsKey, -1)
	_, err := NewRepository(config)
	assert.ErrorContains(t, err, "must not be negative")
}

func TestRepositoryListMalformedTOMLReturnsError(t *testing.T) {
	t.Parallel()

	historyPath := filepath.Join(t.TempDir(), "history.toml")
	require.NoError(t, os.WriteFile(historyPath, []byte("runs = ["), 0o600))

	repo := newTestRepository(t, historyPath)

	_, err := repo.List(context.Background())
	require.Error(t, err)
	assert.ErrorContains(t, err, "decode history file")
}

func TestRepositorySaveCanceledContextReturnsContextError(t *testing.T) {
	t.Parallel()

	repo := newTestRepository(t, filepath.Join(t.TempDir(), "history.toml"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := repo.Save(ctx, sampleRun("run-1", time.Now()))
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestRepositoryConcurrentSavesAcrossInstancesPreserveAllRuns(t *testing.T) {
	t.Parallel()

	historyPath := filepath.Join(t.TempDir(), "history.toml")
	repoA := newTestRepository(t, historyPath)
	repoB := newTestRepository(t, historyPath)

	const perRepoWrites = 20
	start := make(chan struct{})
	errCh := make(chan error, perRepoWrites*2)
	var wg sync.WaitGroup
	wg.Add(2)

	base := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
	write := func(repo *Repository, prefix string) {
		defer wg.Done()
		<-start
		for i := 0; i < perRepoWrites; i++ {
			errCh <- repo.Save(context.Background(), sampleRun(prefix+strconv.Itoa(i), base.Add(time.Duration(i)*time.Second)))
		}
	}

	go write(repoA, "run-a-")
	go write(repoB, "run-b-")

	close(start)
	wg.Wait()
	close(errCh)

	for err := range errCh {
		require.NoError(t, err)
	}

	runs, err := repoA.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, runs, perRepoWrites*2)
}

func TestRepositorySaveSerializedTOMLIncludesVersion(t *testing.T) {
	t.Parallel()

	historyPath := filepath.Join(t.TempDir(), "history.toml")
	repo := newTestRepository(t, historyPath)

	require.NoError(t, repo.Save(context.Background(), sampleRun("run-1", time.Now())))

	data, err := os.ReadFile(historyPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "version = 1")
	assert.Contains(t, string(data), "run-1")
}

func TestRepositoryFutureSchemaVersionReturnsError(t *testing.T) {
	t.Parallel()

	historyPath := filepath.Join(t.TempDir(), "history.toml")
	require.NoError(t, os.WriteFile(historyPath, []byte(strings.Join([]string{
		"version = 999",
		"",
		"runs = []",
		"",
	}, "\n")), 0o600))

	repo := newTestRepository(t, historyPath)

	_, err := repo.List(context.Background())
	require.Error(t, err)
	assert.ErrorContains(t, err, "unsupported history schema version")
}
