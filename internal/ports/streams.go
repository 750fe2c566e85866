package ports

import (
	"context"
	"encoding/json"
	"io"
)

type GenerateRequest struct {
	Prompt  string            `json:"prompt"`
	Options map[string]string `json:"options,omitempty"`
}

type RefineRequest struct {
	Instruction string                     `json:"instruction"`
	Artifacts   map[string]json.RawMessage `json:"artifacts"`
}

// PipelineStreamer opens the generation event stream. The caller closes the body.
type PipelineStreamer interface {
	OpenPipeline(ctx context.Context, req GenerateRequest) (io.ReadCloser, error)
}

// RefinementStreamer opens the refinement event stream. The caller closes the body.
type RefinementStreamer interface {
	OpenRefinement(ctx context.Context, req RefineRequest) (io.ReadCloser, error)
}
