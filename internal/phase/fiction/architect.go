package fiction

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// DefaultMaxScenes caps the scenes per chapter.
const DefaultMaxScenes = 6

const minScenes = 2

// ChapterContext is what a chapter step may see of the rest of the story.
type ChapterContext struct {
	Premise  string
	Previous *ChapterOutline
	Next     *ChapterOutline
}

func (cc ChapterContext) brief(chapter ChapterOutline) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Premise: %s\n", cc.Premise)
	if cc.Previous != nil {
		fmt.Fprintf(&b, "Previous chapter, %s: %s\n", cc.Previous.heading(), cc.Previous.Summary)
	}
	fmt.Fprintf(&b, "This chapter, %s", chapter.heading())
	if cc.Next != nil {
		fmt.Fprintf(&b, "\nNext chapter, %s: %s", cc.Next.heading(), cc.Next.Summary)
	}
	return b.String()
}

// SceneDecomposer refines a chapter's plan and splits it into an ordered
// list of scenes.
type SceneDecomposer struct {
	tools     Toolkit
	validator *StructureValidator
	engine    *CritiqueReviseEngine
	logger    *slog.Logger
}

func NewSceneDecomposer(tools Toolkit, validator *StructureValidator, engine *CritiqueReviseEngine) *SceneDecomposer {
	return &SceneDecomposer{
		tools:     tools,
		validator: validator,
		engine:    engine,
		logger:    slog.Default().With("component", "decomposer"),
	}
}

// Refine runs the chapter-scope critique round. The chapter number never
// changes; a failed round returns the chapter as given.
func (d *SceneDecomposer) Refine(ctx context.Context, chapter ChapterOutline, cc ChapterContext) (ChapterOutline, error) {
	improved, err := d.engine.Improve(ctx, chapter, cc.brief(chapter), ChapterSchema())
	if err != nil {
		return chapter, err
	}
	return improved.(ChapterOutline), nil
}

type decomposeData struct {
	Premise   string
	Previous  *ChapterOutline
	Chapter   ChapterOutline
	Next      *ChapterOutline
	MinScenes int
	MaxScenes int
}

// Decompose returns between two and maxScenes scenes in narrative order.
func (d *SceneDecomposer) Decompose(ctx context.Context, chapter ChapterOutline, cc ChapterContext, maxScenes int) (*SceneOutlines, error) {
	if maxScenes < minScenes {
		maxScenes = DefaultMaxScenes
	}
	key := fmt.Sprintf("chapter:%d/scenes", chapter.Number)

	raw, err := d.tools.call(ctx, StageSceneOutline, templateScenes, decomposeData{
		Premise:   cc.Premise,
		Previous:  cc.Previous,
		Chapter:   chapter,
		Next:      cc.Next,
		MinScenes: minScenes,
		MaxScenes: maxScenes,
	}, callMeta{Unit: key})
	if err != nil {
		return nil, fmt.Errorf("decomposing chapter %d: %w", chapter.Number, err)
	}

	schema := SceneOutlineSchema(minScenes, maxScenes)
	u, err := d.validator.Accept(ctx, key, raw, decodeScenes(chapter.Number), schema)
	if err != nil {
		return nil, err
	}

	improved, err := d.engine.Improve(ctx, u, cc.brief(chapter)+"\n"+chapter.Summary, schema)
	if err != nil {
		return nil, err
	}
	scenes := improved.(*SceneOutlines)
	d.logger.Debug("chapter decomposed", "chapter", chapter.Number, "scenes", len(scenes.Scenes))
	return scenes, nil
}
