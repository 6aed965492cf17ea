package prompts

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/template"
)

var (
	ClassificationModels = []string{"LogisticRegression", "RandomForestClassifier", "GradientBoostingClassifier", "SVC"}
	RegressionModels     = []string{"LinearRegression", "RandomForestRegressor", "GradientBoostingRegressor", "SVR"}
	Scalers              = []string{"StandardScaler", "MinMaxScaler", "RobustScaler", "none"}
)

// RunConfigSystem frames the LLM as a training planner.
const RunConfigSystem = `You are an AutoML planner for scikit-learn. You read a tabular dataset profile and an analyst summary and choose a small, sensible training plan.
Respond with a single JSON object and nothing else.`

const runConfigUser = `Dataset profile (JSON):
{{ .Profile }}

Analyst summary:
{{ if .Summary }}{{ .Summary }}{{ else }}(none){{ end }}

Produce a training plan as a JSON object with exactly these fields:
{
  "target": string,
  "task_type": "classification" | "regression",
  "preprocessing": {"scaler": {{ quoteJoin .Scalers " | " }}},
  "models": [{"name": string, "params": object}],
  "cv": {"cv_folds": integer, "shuffle": boolean, "random_state": 42},
  "scoring": "balanced_accuracy" | "mae"
}

Rules:
- Use only these estimators for classification: {{ join .Classification ", " }}.
- Use only these estimators for regression: {{ join .Regression ", " }}.
- Propose between 2 and 4 models. Parameter names must be valid constructor arguments for the estimator.
- Set random_state to 42 everywhere it applies, including the cv block.
- Use "balanced_accuracy" as scoring for classification and "mae" for regression.
- The target must be one of the profiled columns.`

var runConfigTmpl = template.Must(template.New("runConfig").
	Funcs(template.FuncMap{
		"join": strings.Join,
		"quoteJoin": func(values []string, sep string) string {
			quoted := make([]string, len(values))
			for i, v := range values {
				quoted[i] = `"` + v + `"`
			}
			return strings.Join(quoted, sep)
		},
	}).
	Parse(runConfigUser))

func RunConfigPrompt(profile json.RawMessage, summary string) (string, error) {
	compact, err := compactJSON(profile)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	err = runConfigTmpl.Execute(&b, map[string]any{
		"Profile":        compact,
		"Summary":        strings.TrimSpace(summary),
		"Scalers":        Scalers,
		"Classification": ClassificationModels,
		"Regression":     RegressionModels,
	})
	if err != nil {
		return "", fmt.Errorf("error rendering run config prompt: %w", err)
	}
	return b.String(), nil
}
