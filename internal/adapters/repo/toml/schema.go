package toml

import "fmt"

const currentSchemaVersion = 1

type fileSchema struct {
	Version int         `toml:"version"`
	Runs    []runSchema `toml:"runs"`
}

func (s *fileSchema) applyDefaults() {
	if s.Version == 0 {
		s.Version = currentSchemaVersion
	}
}

func (s fileSchema) validateVersion() error {
	if s.Version > currentSchemaVersion {
		return fmt.Errorf("unsupported history schema version %d (current %d)", s.Version, currentSchemaVersion)
	}

	return nil
}

// JSON payloads (diagram, artifacts) are kept as their raw text.
type runSchema struct {
	ID          string             `toml:"id"`
	Prompt      string             `toml:"prompt"`
	Options     map[string]string  `toml:"options,omitempty"`
	StartedAt   string             `toml:"started_at"`
	FinishedAt  string             `toml:"finished_at,omitempty"`
	Status      string             `toml:"status"`
	Error       string             `toml:"error,omitempty"`
	Diagram     string             `toml:"diagram,omitempty"`
	Artifacts   map[string]string  `toml:"artifacts,omitempty"`
	Steps       []stepSchema       `toml:"steps"`
	Refinements []refinementSchema `toml:"refinements,omitempty"`
}

type stepSchema struct {
	ID                string   `toml:"id"`
	Role              string   `toml:"role"`
	Status            string   `toml:"status"`
	Error             string   `toml:"error,omitempty"`
	FailureKind       string   `toml:"failure_kind,omitempty"`
	PartialOutput     string   `toml:"partial_output,omitempty"`
	CompletionSummary string   `toml:"completion_summary,omitempty"`
	Thoughts          []string `toml:"thoughts,omitempty"`
	Artifact          string   `toml:"artifact,omitempty"`
	StartedAt         string   `toml:"started_at,omitempty"`
	FinishedAt        string   `toml:"finished_at,omitempty"`
}

type refinementSchema struct {
	Instruction string            `toml:"instruction"`
	Phase       string            `toml:"phase"`
	Message     string            `toml:"message,omitempty"`
	Error       string            `toml:"error,omitempty"`
	FinishedAt  string            `toml:"finished_at,omitempty"`
	Changelog   []changelogSchema `toml:"changelog,omitempty"`
}

type changelogSchema struct {
	Artifact    string `toml:"artifact"`
	Description string `toml:"description"`
}
