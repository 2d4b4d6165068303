package advisory

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const (
	maxAlerts      = 5
	maxSuggestions = 5
)

type modelOutput struct {
	Summary     string   `json:"summary"`
	Alerts      []Alert  `json:"alerts"`
	Suggestions []string `json:"suggestions"`
}

// parseOutput decodes and validates the model's JSON. Code fences and text
// around the outermost object are tolerated; anything else is an error.
// Lists longer than the limits are truncated.
func parseOutput(raw string) (*modelOutput, error) {
	body := extractJSON(raw)
	if body == "" {
		return nil, errors.New("no JSON object in output")
	}

	var out modelOutput
	if err := json.Unmarshal([]byte(body), &out); err != nil {
		return nil, fmt.Errorf("decode output: %w", err)
	}

	out.Summary = strings.TrimSpace(out.Summary)
	if out.Summary == "" {
		return nil, errors.New("summary is empty")
	}

	alerts := make([]Alert, 0, len(out.Alerts))
	for i, a := range out.Alerts {
		a.Text = strings.TrimSpace(a.Text)
		if a.Kind != AlertCaution && a.Kind != AlertPositive {
			return nil, fmt.Errorf("alerts[%d]: unknown kind %q", i, a.Kind)
		}
		if a.Text == "" {
			return nil, fmt.Errorf("alerts[%d]: text is empty", i)
		}
		alerts = append(alerts, a)
	}
	if len(alerts) > maxAlerts {
		alerts = alerts[:maxAlerts]
	}

	suggestions := make([]string, 0, len(out.Suggestions))
	for i, s := range out.Suggestions {
		s = strings.TrimSpace(s)
		if s == "" {
			return nil, fmt.Errorf("suggestions[%d]: empty", i)
		}
		suggestions = append(suggestions, s)
	}
	if len(suggestions) > maxSuggestions {
		suggestions = suggestions[:maxSuggestions]
	}

	out.Alerts = alerts
	out.Suggestions = suggestions
	return &out, nil
}

func extractJSON(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
		s = strings.TrimSpace(s)
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end < start {
		return ""
	}
	return s[start : end+1]
}
