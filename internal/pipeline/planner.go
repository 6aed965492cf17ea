package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"tabular-backend/internal/database"
	"tabular-backend/internal/llm"
	"tabular-backend/internal/messaging"
	"tabular-backend/internal/prompts"

	"github.com/google/uuid"
)

func (p *Pipeline) requireLLM() error {
	if p.llm == nil {
		return ErrLLMUnavailable
	}
	return nil
}

// GenerateRunCfg returns the dataset's run configuration, asking the LLM for
// one only if none exists yet. Calls for the same dataset are serialized so
// concurrent first calls produce a single configuration.
func (p *Pipeline) GenerateRunCfg(ctx context.Context, datasetId uuid.UUID) (database.RunConfig, error) {
	if _, err := getDataset(ctx, p.store, datasetId); err != nil {
		return database.RunConfig{}, err
	}

	unlock := p.planLocks.Lock(datasetId)
	defer unlock()

	existing, err := database.LatestByDataset[database.RunConfig](ctx, p.store, datasetId)
	if err != nil {
		return database.RunConfig{}, err
	}
	if existing != nil {
		return *existing, nil
	}

	profile, err := database.LatestByDataset[database.Profile](ctx, p.store, datasetId)
	if err != nil {
		return database.RunConfig{}, err
	}
	if profile == nil {
		return database.RunConfig{}, ErrNoProfile
	}

	if err := p.requireLLM(); err != nil {
		return database.RunConfig{}, err
	}

	summary, err := database.LatestByDataset[database.ProfileSummary](ctx, p.store, datasetId)
	if err != nil {
		return database.RunConfig{}, err
	}

	runCfg := database.RunConfig{DatasetId: datasetId, ProfileId: profile.Id}
	summaryText := ""
	if summary != nil {
		summaryText = summary.Summary
		runCfg.SummaryId = uuid.NullUUID{UUID: summary.Id, Valid: true}
	}

	prompt, err := prompts.RunConfigPrompt(json.RawMessage(profile.Report), summaryText)
	if err != nil {
		return database.RunConfig{}, err
	}

	reply, err := p.llm.Generate(ctx, prompts.RunConfigSystem, prompt, llm.WithJSONOutput())
	if err != nil {
		slog.Error("error generating run config", "dataset_id", datasetId, "error", err)
		return database.RunConfig{}, fmt.Errorf("%w: error generating run config: %w", ErrLLMFailed, err)
	}

	cfg, structured, err := planFromReply(reply)
	if err != nil {
		return database.RunConfig{}, err
	}
	runCfg.Cfg = cfg

	if err := p.store.Insert(ctx, &runCfg); err != nil {
		return database.RunConfig{}, err
	}

	slog.Info("saved run config", "dataset_id", datasetId, "run_cfg_id", runCfg.Id, "structured", structured)
	p.publish(ctx, messaging.RunConfigSaved, datasetId, runCfg.Id, "")

	return runCfg, nil
}

// SummarizeProfile asks the LLM to summarize the latest profile. The reply is
// stored verbatim; callers parse the bullet list themselves.
func (p *Pipeline) SummarizeProfile(ctx context.Context, datasetId uuid.UUID) (database.ProfileSummary, error) {
	if _, err := getDataset(ctx, p.store, datasetId); err != nil {
		return database.ProfileSummary{}, err
	}

	profile, err := database.LatestByDataset[database.Profile](ctx, p.store, datasetId)
	if err != nil {
		return database.ProfileSummary{}, err
	}
	if profile == nil {
		return database.ProfileSummary{}, ErrNoProfile
	}

	if err := p.requireLLM(); err != nil {
		return database.ProfileSummary{}, err
	}

	prompt, err := prompts.ProfileSummaryPrompt(json.RawMessage(profile.Report))
	if err != nil {
		return database.ProfileSummary{}, err
	}

	reply, err := p.llm.Generate(ctx, "", prompt)
	if err != nil {
		slog.Error("error summarizing profile", "dataset_id", datasetId, "profile_id", profile.Id, "error", err)
		return database.ProfileSummary{}, fmt.Errorf("%w: error summarizing profile: %w", ErrLLMFailed, err)
	}

	summary := database.ProfileSummary{DatasetId: datasetId, ProfileId: profile.Id, Summary: reply}
	if err := p.store.Insert(ctx, &summary); err != nil {
		return database.ProfileSummary{}, err
	}

	p.publish(ctx, messaging.ProfileSummarySaved, datasetId, summary.Id, "")

	return summary, nil
}
