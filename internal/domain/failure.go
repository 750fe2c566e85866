package domain

import (
	"strings"
	"unicode/utf8"
)

type FailureKind string

const (
	FailureGeneric FailureKind = "error"
	FailureTimeout FailureKind = "timeout"
)

var timeoutMarkers = []string{"timeout", "timed out", "deadline exceeded"}

// ClassifyFailure maps a failure to its kind. A structured kind from the
// producer wins; otherwise the message text is matched against known markers.
func ClassifyFailure(kind string, message string) FailureKind {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case string(FailureTimeout):
		return FailureTimeout
	case string(FailureGeneric):
		return FailureGeneric
	}

	lowered := strings.ToLower(message)
	for _, marker := range timeoutMarkers {
		if strings.Contains(lowered, marker) {
			return FailureTimeout
		}
	}

	return FailureGeneric
}

// TruncateForDisplay shortens s to at most limit runes, marking the cut.
// Stored values are never truncated.
func TruncateForDisplay(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}

	runes := []rune(s)
	if limit <= 1 {
		return string(runes[:limit])
	}

	return string(runes[:limit-1]) + "…"
}
