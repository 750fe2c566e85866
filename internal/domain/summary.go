package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

const (
	neutralSummary  = "completed"
	maxSummaryRunes = 80
)

type summaryRule struct {
	keys  []string
	label string
}

var summaryRules = map[StepID]summaryRule{
	StepPMSpec:         {keys: []string{"user_stories", "requirements", "features"}, label: "user stories"},
	StepArchDesign:     {keys: []string{"components", "services", "nodes"}, label: "components"},
	StepSecurityReview: {keys: []string{"threats", "findings", "risks"}, label: "threats identified"},
	StepDevOpsPlan:     {keys: []string{"pipeline_stages", "stages", "environments"}, label: "deployment stages"},
	StepUIDesign:       {keys: []string{"screens", "pages", "views"}, label: "screens"},
	StepEngineerImpl:   {keys: []string{"files", "modules"}, label: "files generated"},
	StepQAVerification: {keys: []string{"test_cases", "tests", "scenarios"}, label: "test cases"},
}

// CompletionSummary derives a short label from a step's final artifact.
// It never fails: unreadable or incomplete payloads yield a neutral label.
func CompletionSummary(id StepID, artifact json.RawMessage) string {
	rule, ok := summaryRules[id]
	if !ok || len(artifact) == 0 {
		return neutralSummary
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(artifact, &fields); err != nil {
		return neutralSummary
	}

	if title := stringField(fields, "summary"); title != "" {
		return TruncateForDisplay(title, maxSummaryRunes)
	}

	for _, key := range rule.keys {
		if count, ok := countField(fields, key); ok {
			return fmt.Sprintf("%d %s", count, rule.label)
		}
	}

	return neutralSummary
}

func countField(fields map[string]json.RawMessage, key string) (int, bool) {
	raw, ok := fields[key]
	if !ok {
		return 0, false
	}

	var list []json.RawMessage
	if err := json.Unmarshal(raw, &list); err == nil {
		return len(list), true
	}

	var object map[string]json.RawMessage
	if err := json.Unmarshal(raw, &object); err == nil {
		return len(object), true
	}

	var number float64
	if err := json.Unmarshal(raw, &number); err == nil && number >= 0 {
		return int(number), true
	}

	return 0, false
}

func stringField(fields map[string]json.RawMessage, key string) string {
	raw, ok := fields[key]
	if !ok {
		return ""
	}

	var value string
	if err := json.Unmarshal(raw, &value); err != nil {
		return ""
	}

	return strings.TrimSpace(value)
}
