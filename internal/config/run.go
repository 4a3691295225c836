package config

import (
	"github.com/Thomashighbaugh/fiction-fabricator-sub002/internal/pipeline"
)

// RunOptions returns pipeline defaults overridden by the pipeline and limits
// sections. Premise, form and targets are left for the caller.
func (c *Config) RunOptions() pipeline.RunOptions {
	opts := pipeline.DefaultRunOptions()
	opts.ConcurrentChapters = c.Limits.MaxConcurrentChapters
	opts.RepairAttempts = c.Pipeline.RepairAttempts
	opts.AppendAttempts = c.Pipeline.AppendAttempts
	opts.MaxScenes = c.Pipeline.MaxScenes
	opts.SceneContextRunes = c.Pipeline.SceneContextRunes
	opts.LoreExcerptRunes = c.Pipeline.LoreExcerptRunes
	opts.DraftParts = c.Pipeline.DraftParts
	opts.CarryForward = c.Pipeline.CarryForward
	opts.Critique = c.Pipeline.Critique
	return opts
}
