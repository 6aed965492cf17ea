package pipeline

import (
	"fmt"
	"slices"
	"strings"
	"tabular-backend/pkg/api"
)

const defaultTestSize = 0.2

var (
	taskTypes       = []string{"auto", "classification", "regression"}
	missingStrategy = []string{"auto", "drop", "mean", "median", "most_frequent"}
)

func optionalColumn(col *string) *string {
	if col == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*col)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

// normalizeParams applies defaults and rejects values the worker would not
// understand.
func normalizeParams(params api.PreprocessParams) (api.PreprocessParams, error) {
	out := api.PreprocessParams{
		Target:   optionalColumn(params.Target),
		IdColumn: optionalColumn(params.IdColumn),
		TaskType: strings.TrimSpace(params.TaskType),
		Missing:  strings.TrimSpace(params.Missing),
		TestSize: params.TestSize,
	}

	if out.TaskType == "" {
		out.TaskType = "auto"
	}
	if !slices.Contains(taskTypes, out.TaskType) {
		return out, fmt.Errorf("%w: taskType must be one of %s", ErrInvalidParams, strings.Join(taskTypes, ", "))
	}

	if out.Missing == "" {
		out.Missing = "auto"
	}
	if !slices.Contains(missingStrategy, out.Missing) {
		return out, fmt.Errorf("%w: missing must be one of %s", ErrInvalidParams, strings.Join(missingStrategy, ", "))
	}

	if out.TestSize == 0 {
		out.TestSize = defaultTestSize
	}
	if out.TestSize <= 0 || out.TestSize >= 1 {
		return out, fmt.Errorf("%w: testSize must be between 0 and 1", ErrInvalidParams)
	}

	if out.Target != nil && out.IdColumn != nil && *out.Target == *out.IdColumn {
		return out, fmt.Errorf("%w: target and idColumn must differ", ErrInvalidParams)
	}

	return out, nil
}
