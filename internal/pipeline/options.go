package pipeline

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Thomashighbaugh/fiction-fabricator-sub002/internal/phase/fiction"
)

// RunOptions is the immutable input of one run.
type RunOptions struct {
	Premise        string
	Form           fiction.Form
	TargetChapters int
	TargetWords    int
	MaxScenes      int

	Lore     fiction.LoreSource
	LoreName string

	// AppendChapters and Events drive a web novel continuation of Existing.
	// A new web novel passes Events to its first outline draft.
	AppendChapters int
	Events         string
	Existing       *Snapshot

	ConcurrentChapters int
	RepairAttempts     int
	AppendAttempts     int
	DraftParts         int
	SceneContextRunes  int
	LoreExcerptRunes   int
	Critique           bool
	CarryForward       bool
	PromptPairs        map[fiction.Kind]fiction.PromptPair
}

func DefaultRunOptions() RunOptions {
	return RunOptions{
		Form:               fiction.FormNovel,
		MaxScenes:          fiction.DefaultMaxScenes,
		ConcurrentChapters: 3,
		RepairAttempts:     fiction.DefaultRepairAttempts,
		AppendAttempts:     fiction.DefaultAppendAttempts,
		DraftParts:         1,
		SceneContextRunes:  fiction.DefaultSceneContextRunes,
		LoreExcerptRunes:   fiction.DefaultLoreExcerptRunes,
		Critique:           true,
		CarryForward:       true,
	}
}

func (o RunOptions) continuing() bool {
	return o.Existing != nil
}

func (o RunOptions) validate() error {
	if o.continuing() {
		if o.Existing.Outline == nil {
			return errors.New("snapshot has no outline to continue")
		}
		if o.Existing.Form != fiction.FormWebNovel {
			return fmt.Errorf("only a web novel can be continued, snapshot is a %s", o.Existing.Form.Describe())
		}
		if o.AppendChapters < 1 {
			return errors.New("continuing a web novel needs a positive chapter count")
		}
		return nil
	}

	if strings.TrimSpace(o.Premise) == "" {
		return errors.New("premise is required")
	}
	if o.Form != fiction.FormShortStory && o.TargetChapters < 1 {
		return fmt.Errorf("a %s needs a positive chapter count", o.Form.Describe())
	}
	if o.MaxScenes != 0 && o.MaxScenes < 2 {
		return fmt.Errorf("max scenes must be at least 2, got %d", o.MaxScenes)
	}
	return nil
}

func (o RunOptions) lore(focus string) string {
	if o.Lore == nil {
		return ""
	}
	return o.Lore.Excerpt(focus, o.LoreExcerptRunes)
}
