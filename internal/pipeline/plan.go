package pipeline

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"tabular-backend/internal/prompts"

	"gorm.io/datatypes"
)

const (
	ScoringBalancedAccuracy = "balanced_accuracy"
	ScoringMAE              = "mae"

	defaultFolds       = 5
	defaultRandomState = 42
)

type ModelSpec struct {
	Name   string         `json:"name"`
	Params map[string]any `json:"params"`
}

type PreprocessingSpec struct {
	Scaler string `json:"scaler"`
}

type CVSpec struct {
	Folds       int  `json:"cv_folds"`
	Shuffle     bool `json:"shuffle"`
	RandomState int  `json:"random_state"`
}

// RunPlan is the structured training configuration the train worker consumes.
type RunPlan struct {
	Target        string            `json:"target"`
	TaskType      string            `json:"task_type"`
	Preprocessing PreprocessingSpec `json:"preprocessing"`
	Models        []ModelSpec       `json:"models"`
	CV            CVSpec            `json:"cv"`
	Scoring       string            `json:"scoring"`
}

// normalize fills defaults and checks the plan against the estimators the
// train worker knows. Defaults are applied even when problems are found, and
// every problem is reported in the joined error.
func (plan RunPlan) normalize() (RunPlan, error) {
	var problems []error

	if strings.TrimSpace(plan.Target) == "" {
		problems = append(problems, errors.New("target is required"))
	}

	var allowed []string
	var scoring string
	switch plan.TaskType {
	case "classification":
		allowed, scoring = prompts.ClassificationModels, ScoringBalancedAccuracy
	case "regression":
		allowed, scoring = prompts.RegressionModels, ScoringMAE
	default:
		problems = append(problems, fmt.Errorf("unknown task_type %q", plan.TaskType))
	}

	if plan.Scoring == "" {
		plan.Scoring = scoring
	}
	if scoring != "" && plan.Scoring != scoring {
		problems = append(problems, fmt.Errorf("scoring %q does not match task_type %s", plan.Scoring, plan.TaskType))
	}

	if plan.Preprocessing.Scaler == "" {
		plan.Preprocessing.Scaler = "none"
	}
	if !slices.Contains(prompts.Scalers, plan.Preprocessing.Scaler) {
		problems = append(problems, fmt.Errorf("unknown scaler %q", plan.Preprocessing.Scaler))
	}

	if len(plan.Models) == 0 {
		problems = append(problems, errors.New("at least one model is required"))
	}
	models := make([]ModelSpec, 0, len(plan.Models))
	for _, m := range plan.Models {
		if allowed != nil && !slices.Contains(allowed, m.Name) {
			problems = append(problems, fmt.Errorf("model %q is not allowed for %s", m.Name, plan.TaskType))
		}
		if m.Params == nil {
			m.Params = map[string]any{}
		}
		models = append(models, m)
	}
	plan.Models = models

	if plan.CV.Folds == 0 {
		plan.CV.Folds = defaultFolds
	}
	if plan.CV.Folds < 2 {
		problems = append(problems, fmt.Errorf("cv_folds must be at least 2"))
	}
	if plan.CV.RandomState == 0 {
		plan.CV.RandomState = defaultRandomState
	}

	return plan, errors.Join(problems...)
}

func stripCodeFence(reply string) string {
	trimmed := strings.TrimSpace(reply)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	if _, rest, ok := strings.Cut(trimmed, "\n"); ok {
		trimmed = rest
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(trimmed), "```"))
}

// planFromReply turns an LLM reply into the stored cfg. Only a reply that
// cannot be decoded as a plan object is kept verbatim as a JSON string. A
// decoded plan is stored with defaults applied even when it fails validation;
// the problems are only logged. The bool reports whether the stored cfg is
// structured.
func planFromReply(reply string) (datatypes.JSON, bool, error) {
	var plan RunPlan
	if err := json.Unmarshal([]byte(stripCodeFence(reply)), &plan); err != nil {
		slog.Warn("llm reply is not a json run plan, storing raw text", "error", err)

		raw, err := json.Marshal(reply)
		if err != nil {
			return nil, false, fmt.Errorf("error encoding raw llm reply: %w", err)
		}
		return datatypes.JSON(raw), false, nil
	}

	plan, problems := plan.normalize()
	if problems != nil {
		slog.Warn("llm run plan has validation problems", "error", problems)
	}

	data, err := json.Marshal(plan)
	if err != nil {
		return nil, false, fmt.Errorf("error encoding run plan: %w", err)
	}
	return datatypes.JSON(data), true, nil
}

// DecodePlan reads a stored cfg back into a plan. Raw text fallbacks are
// reported as ErrUnstructuredConfig.
func DecodePlan(cfg datatypes.JSON) (RunPlan, error) {
	var plan RunPlan
	trimmed := strings.TrimSpace(string(cfg))
	if !strings.HasPrefix(trimmed, "{") {
		return plan, ErrUnstructuredConfig
	}
	if err := json.Unmarshal([]byte(trimmed), &plan); err != nil {
		return plan, fmt.Errorf("%w: %v", ErrUnstructuredConfig, err)
	}
	return plan, nil
}
