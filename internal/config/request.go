package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// RequestSpec is a generation request kept in a YAML file:
//
//	prompt: |
//	  A habit tracker with reminders
//	options:
//	  platform: mobile
type RequestSpec struct {
	Prompt  string            `yaml:"prompt"`
	Options map[string]string `yaml:"options"`
}

func LoadRequestSpec(path string) (RequestSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return RequestSpec{}, fmt.Errorf("read request spec: %w", err)
	}

	spec, err := ParseRequestSpec(data)
	if err != nil {
		return RequestSpec{}, fmt.Errorf("request spec %s: %w", path, err)
	}
	return spec, nil
}

// ParseRequestSpec rejects unknown fields so a misspelt key is not silently
// dropped.
func ParseRequestSpec(data []byte) (RequestSpec, error) {
	var spec RequestSpec

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&spec); err != nil {
		if errors.Is(err, io.EOF) {
			return RequestSpec{}, errors.New("empty document")
		}
		return RequestSpec{}, fmt.Errorf("parse yaml: %w", err)
	}

	spec.Prompt = strings.TrimSpace(spec.Prompt)
	return spec, nil
}

// Merge overlays a prompt and options given on the command line. Command
// line values win.
func (s RequestSpec) Merge(prompt string, options map[string]string) RequestSpec {
	merged := RequestSpec{Prompt: s.Prompt}
	if trimmed := strings.TrimSpace(prompt); trimmed != "" {
		merged.Prompt = trimmed
	}

	if len(s.Options) > 0 || len(options) > 0 {
		merged.Options = make(map[string]string, len(s.Options)+len(options))
		for k, v := range s.Options {
			merged.Options[k] = v
		}
		for k, v := range options {
			merged.Options[k] = v
		}
	}

	return merged
}
