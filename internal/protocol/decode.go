// Package protocol decodes the newline-delimited JSON events emitted by the
// generation and refinement endpoints into closed sets of typed events.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrMalformedEvent   = errors.New("malformed event")
	ErrUnknownEventType = errors.New("unknown event type")
)

type envelope struct {
	Type string `json:"type"`
}

// validator is implemented by every concrete event.
type validator interface {
	Validate() error
}

func readType(line []byte) (string, error) {
	var env envelope
	if err := json.Unmarshal(line, &env); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	kind := strings.TrimSpace(env.Type)
	if kind == "" {
		return "", fmt.Errorf("%w: type is required", ErrMalformedEvent)
	}
	return kind, nil
}

func decodeInto[T validator](line []byte, event T) (T, error) {
	if err := json.Unmarshal(line, event); err != nil {
		var zero T
		return zero, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if err := event.Validate(); err != nil {
		var zero T
		return zero, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	return event, nil
}

func cloneRaw(line []byte) json.RawMessage {
	return append(json.RawMessage(nil), line...)
}

// rawText renders a JSON value as display text: strings are unquoted, other
// values are kept verbatim, null and absent values are empty.
func rawText(raw json.RawMessage) string {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return ""
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text
	}
	return trimmed
}

func hasValue(raw json.RawMessage) bool {
	trimmed := strings.TrimSpace(string(raw))
	return trimmed != "" && trimmed != "null"
}
