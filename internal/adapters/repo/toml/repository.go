package toml

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/bnema/agentforge-cli/internal/domain"
	"github.com/bnema/agentforge-cli/internal/ports"
	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"
)

const (
	HistoryPathKey    = "history.path"
	HistoryMaxRunsKey = "history.max_runs"

	DefaultMaxRuns = 50

	historyFileMode = 0o600
	historyDirMode  = 0o700
	historyDataDir  = "agentforge"
	historyFile     = "history.toml"
	tempFilePattern = ".history-*.toml.tmp"
)

// Repository stores finished runs in a single TOML file. Saving a run with an
// id already on file replaces it; the oldest runs are dropped past maxRuns.
type Repository struct {
	historyPath string
	maxRuns     int
	mu          *sync.RWMutex
}

var (
	lockRegistryMu sync.Mutex
	pathLockMap    = map[string]*sync.RWMutex{}
)

var _ ports.RunRepository = (*Repository)(nil)

func NewRepository(cfg *viper.Viper) (*Repository, error) {
	if cfg == nil {
		cfg = viper.New()
	}

	defaultPath, err := DefaultHistoryPath()
	if err != nil {
		return nil, err
	}
	cfg.SetDefault(HistoryPathKey, defaultPath)
	cfg.SetDefault(HistoryMaxRunsKey, DefaultMaxRuns)

	historyPath := cfg.GetString(HistoryPathKey)
	if historyPath == "" {
		return nil, errors.New("history path is empty")
	}
	historyPath, err = normalizeHistoryPath(historyPath)
	if err != nil {
		return nil, err
	}

	maxRuns := cfg.GetInt(HistoryMaxRunsKey)
	if maxRuns < 0 {
		return nil, fmt.Errorf("history max runs must not be negative, got %d", maxRuns)
	}

	return &Repository{historyPath: historyPath, maxRuns: maxRuns, mu: lockForPath(historyPath)}, nil
}

// DefaultHistoryPath resolves $XDG_DATA_HOME/agentforge/history.toml, falling
// back to ~/.local/share.
func DefaultHistoryPath() (string, error) {
	if dataHome := os.Getenv("XDG_DATA_HOME"); dataHome != "" {
		return filepath.Join(dataHome, historyDataDir, historyFile), nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}

	return filepath.Join(homeDir, ".local", "share", historyDataDir, historyFile), nil
}

func (r *Repository) Path() string {
	return r.historyPath
}

func (r *Repository) Save(ctx context.Context, run domain.RunRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if run.ID == "" {
		return errors.New("run id is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	file, err := r.readSchema()
	if err != nil {
		return err
	}

	encoded := toSchema(run)
	updated := false
	for i := range file.Runs {
		if file.Runs[i].ID == encoded.ID {
			file.Runs[i] = encoded
			updated = true
			break
		}
	}

	if !updated {
		file.Runs = append(file.Runs, encoded)
	}
	file.Runs = r.retain(file.Runs)

	if err := ctx.Err(); err != nil {
		return err
	}

	return r.writeSchema(file)
}

func (r *Repository) GetByID(ctx context.Context, id domain.RunID) (domain.RunRecord, error) {
	if err := ctx.Err(); err != nil {
		return domain.RunRecord{}, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	file, err := r.readSchema()
	if err != nil {
		return domain.RunRecord{}, err
	}

	for _, entry := range file.Runs {
		if entry.ID == string(id) {
			return fromSchema(entry), nil
		}
	}

	return domain.RunRecord{}, fmt.Errorf("run %q: %w", id, domain.ErrRunNotFound)
}

// List returns every stored run, most recently started first.
func (r *Repository) List(ctx context.Context) ([]domain.RunRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	file, err := r.readSchema()
	if err != nil {
		return nil, err
	}

	runs := make([]domain.RunRecord, 0, len(file.Runs))
	for _, entry := range file.Runs {
		runs = append(runs, fromSchema(entry))
	}
	sort.SliceStable(runs, func(i, j int) bool {
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})

	return runs, nil
}

func (r *Repository) retain(runs []runSchema) []runSchema {
	if r.maxRuns == 0 || len(runs) <= r.maxRuns {
		return runs
	}

	sort.SliceStable(runs, func(i, j int) bool {
		return parseTime(runs[i].StartedAt).Before(parseTime(runs[j].StartedAt))
	})

	return runs[len(runs)-r.maxRuns:]
}

func (r *Repository) readSchema() (fileSchema, error) {
	data, err := os.ReadFile(r.historyPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			file := fileSchema{}
			file.applyDefaults()
			return file, nil
		}
		return fileSchema{}, fmt.Errorf("read history file: %w", err)
	}

	var file fileSchema
	if err := toml.Unmarshal(data, &file); err != nil {
		return fileSchema{}, fmt.Errorf("decode history file: %w", err)
	}
	if err := file.validateVersion(); err != nil {
		return fileSchema{}, err
	}
	file.applyDefaults()

	return file, nil
}

func normalizeHistoryPath(path string) (string, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve history path: %w", err)
	}

	return filepath.Clean(absPath), nil
}

func lockForPath(path string) *sync.RWMutex {
	lockRegistryMu.Lock()
	defer lockRegistryMu.Unlock()

	if mu, ok := pathLockMap[path]; ok {
		return mu
	}

	mu := &sync.RWMutex{}
	pathLockMap[path] = mu
	return mu
}

func (r *Repository) writeSchema(file fileSchema) error {
	file.applyDefaults()

	if err := os.MkdirAll(filepath.Dir(r.historyPath), historyDirMode); err != nil {
		return fmt.Errorf("create history directory: %w", err)
	}

	data, err := toml.Marshal(file)
	if err != nil {
		return fmt.Errorf("encode history file: %w", err)
	}

	tempFile, err := os.CreateTemp(filepath.Dir(r.historyPath), tempFilePattern)
	if err != nil {
		return fmt.Errorf("create temp history file: %w", err)
	}

	tempName := tempFile.Name()
	cleanup := true
	defer func() {
		if cleanup {
			_ = os.Remove(tempName)
		}
	}()

	if _, err := tempFile.Write(data); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("write temp history file: %w", err)
	}

	if err := tempFile.Chmod(historyFileMode); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("chmod temp history file: %w", err)
	}

	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("close temp history file: %w", err)
	}

	if err := os.Rename(tempName, r.historyPath); err != nil {
		return fmt.Errorf("replace history file: %w", err)
	}

	cleanup = false

	return nil
}

func toSchema(run domain.RunRecord) runSchema {
	steps := make([]stepSchema, 0, len(run.Steps))
	for _, step := range run.Steps {
		steps = append(steps, stepSchema{
			ID:                string(step.ID),
			Role:              step.Role,
			Status:            string(step.Status),
			Error:             step.Error,
			FailureKind:       string(step.FailureKind),
			PartialOutput:     step.PartialOutput,
			CompletionSummary: step.CompletionSummary,
			Thoughts:          step.Thoughts,
			Artifact:          string(step.Artifact),
			StartedAt:         formatTime(step.StartedAt),
			FinishedAt:        formatTime(step.FinishedAt),
		})
	}

	var artifacts map[string]string
	if len(run.Result.Artifacts) > 0 {
		artifacts = make(map[string]string, len(run.Result.Artifacts))
		for name, raw := range run.Result.Artifacts {
			artifacts[name] = string(raw)
		}
	}

	refinements := make([]refinementSchema, 0, len(run.Refinements))
	for _, refinement := range run.Refinements {
		changelog := make([]changelogSchema, 0, len(refinement.Changelog))
		for _, entry := range refinement.Changelog {
			changelog = append(changelog, changelogSchema{Artifact: entry.Artifact, Description: entry.Description})
		}
		refinements = append(refinements, refinementSchema{
			Instruction: refinement.Instruction,
			Phase:       string(refinement.Phase),
			Message:     refinement.Message,
			Error:       refinement.Error,
			FinishedAt:  formatTime(refinement.FinishedAt),
			Changelog:   changelog,
		})
	}

	return runSchema{
		ID:          string(run.ID),
		Prompt:      run.Prompt,
		Options:     run.Options,
		StartedAt:   formatTime(run.StartedAt),
		FinishedAt:  formatTime(run.FinishedAt),
		Status:      string(run.Status),
		Error:       run.Error,
		Diagram:     string(run.Result.Diagram),
		Artifacts:   artifacts,
		Steps:       steps,
		Refinements: refinements,
	}
}

func fromSchema(run runSchema) domain.RunRecord {
	steps := make([]domain.PipelineStep, 0, len(run.Steps))
	for _, step := range run.Steps {
		steps = append(steps, domain.PipelineStep{
			ID:                domain.StepID(step.ID),
			Role:              step.Role,
			Status:            domain.StepStatus(step.Status),
			Error:             step.Error,
			FailureKind:       domain.FailureKind(step.FailureKind),
			PartialOutput:     step.PartialOutput,
			CompletionSummary: step.CompletionSummary,
			Thoughts:          emptyToNil(step.Thoughts),
			Artifact:          rawJSON(step.Artifact),
			StartedAt:         parseTime(step.StartedAt),
			FinishedAt:        parseTime(step.FinishedAt),
		})
	}

	var artifacts map[string]json.RawMessage
	if len(run.Artifacts) > 0 {
		artifacts = make(map[string]json.RawMessage, len(run.Artifacts))
		for name, raw := range run.Artifacts {
			artifacts[name] = json.RawMessage(raw)
		}
	}

	var refinements []domain.RefinementRecord
	for _, refinement := range run.Refinements {
		var changelog []domain.ChangelogEntry
		for _, entry := range refinement.Changelog {
			changelog = append(changelog, domain.ChangelogEntry{Artifact: entry.Artifact, Description: entry.Description})
		}
		refinements = append(refinements, domain.RefinementRecord{
			Instruction: refinement.Instruction,
			Phase:       domain.RefinementPhase(refinement.Phase),
			Message:     refinement.Message,
			Changelog:   changelog,
			Error:       refinement.Error,
			FinishedAt:  parseTime(refinement.FinishedAt),
		})
	}

	var options map[string]string
	if len(run.Options) > 0 {
		options = run.Options
	}

	return domain.RunRecord{
		ID:          domain.RunID(run.ID),
		Prompt:      run.Prompt,
		Options:     options,
		StartedAt:   parseTime(run.StartedAt),
		FinishedAt:  parseTime(run.FinishedAt),
		Status:      domain.RunStatus(run.Status),
		Error:       run.Error,
		Steps:       steps,
		Result:      domain.RunResult{Diagram: rawJSON(run.Diagram), Artifacts: artifacts},
		Refinements: refinements,
	}
}

func rawJSON(text string) json.RawMessage {
	if text == "" {
		return nil
	}
	return json.RawMessage(text)
}

func emptyToNil(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	return values
}

func parseTime(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}

	parsed, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}
	}

	return parsed
}

func formatTime(value time.Time) string {
	if value.IsZero() {
		return ""
	}

	return value.UTC().Format(time.RFC3339Nano)
}
