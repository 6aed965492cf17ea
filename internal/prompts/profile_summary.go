package prompts

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"
)

const profileSummaryUser = `You are a senior data scientist. Summarize the following tabular dataset profile for a product engineer.
- Focus on: target distribution, class/imbalance (if categorical), range/outliers (if numeric), missingness hotspots, cardinality, potential leakage signals, and high-level next steps (encoding, scaling, feature handling).
- Keep it concise (8-14 bullets), actionable, and avoid repeating raw numbers unless meaningful.
- If the target is present, point out its dtype and any issues (e.g., skew, imbalance).
- Respond STRICTLY as JSON: an array of objects with fields {"title": string, "detail": string}. No markdown, no extra text.

JSON profile:
{{ .Report }}`

var profileSummaryTmpl = template.Must(template.New("profileSummary").Parse(profileSummaryUser))

// ProfileSummaryPrompt renders the summary request for a profile report. The
// whole instruction goes in the user message.
func ProfileSummaryPrompt(report json.RawMessage) (string, error) {
	compact, err := compactJSON(report)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	if err := profileSummaryTmpl.Execute(&b, map[string]string{"Report": compact}); err != nil {
		return "", fmt.Errorf("error rendering profile summary prompt: %w", err)
	}
	return b.String(), nil
}

func compactJSON(raw json.RawMessage) (string, error) {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return "", fmt.Errorf("profile report is not valid json: %w", err)
	}
	return buf.String(), nil
}
