package fiction

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Thomashighbaugh/fiction-fabricator-sub002/internal/core"
	"github.com/Thomashighbaugh/fiction-fabricator-sub002/internal/phase"
)

const (
	DefaultSceneContextRunes = 6000
	DefaultLoreExcerptRunes  = 4000
)

// LoreSource supplies reference material relevant to a focus text.
type LoreSource interface {
	Excerpt(focus string, maxRunes int) string
}

type WriterSettings struct {
	// ContextRunes bounds the preceding-scene text handed to the next scene.
	// Longer scenes are replaced by their carry-forward summary.
	ContextRunes int
	LoreRunes    int
	CarryForward bool
	MinRunes     int
}

// SceneContext is the material a scene is written against.
type SceneContext struct {
	Chapter  ChapterOutline
	Previous string
	Lore     string
	Total    int
}

// SceneWriter turns scene outlines into prose, strictly in order within a
// chapter: scene k+1 is never started before scene k is final.
type SceneWriter struct {
	tools     Toolkit
	validator *StructureValidator
	engine    *CritiqueReviseEngine
	settings  WriterSettings
	logger    *slog.Logger
}

func NewSceneWriter(tools Toolkit, validator *StructureValidator, engine *CritiqueReviseEngine, settings WriterSettings) *SceneWriter {
	if settings.ContextRunes <= 0 {
		settings.ContextRunes = DefaultSceneContextRunes
	}
	if settings.LoreRunes <= 0 {
		settings.LoreRunes = DefaultLoreExcerptRunes
	}
	return &SceneWriter{
		tools:     tools,
		validator: validator,
		engine:    engine,
		settings:  settings,
		logger:    slog.Default().With("component", "writer"),
	}
}

type sceneData struct {
	Scene    SceneOutline
	Total    int
	Chapter  ChapterOutline
	Previous string
	Lore     string
}

// Write drafts, validates and improves one scene.
func (w *SceneWriter) Write(ctx context.Context, scene SceneOutline, sc SceneContext) (SceneText, error) {
	key := scene.Key()
	raw, err := w.tools.call(ctx, StageSceneText, templateSceneText, sceneData{
		Scene:    scene,
		Total:    sc.Total,
		Chapter:  sc.Chapter,
		Previous: sc.Previous,
		Lore:     sc.Lore,
	}, callMeta{Unit: key})
	if err != nil {
		return SceneText{}, fmt.Errorf("writing %s: %w", key, err)
	}

	schema := SceneTextSchema(w.settings.MinRunes)
	u, err := w.validator.Accept(ctx, key, raw, decodeSceneText(scene.Chapter, scene.Index), schema)
	if err != nil {
		return SceneText{}, err
	}

	improved, err := w.engine.Improve(ctx, u, sceneBrief(scene, sc), schema)
	if err != nil {
		return SceneText{}, err
	}
	return improved.(SceneText), nil
}

// WriteChapter writes every scene of a chapter in order. Carried-forward
// continuity is written into scenes.Scenes before the next scene starts.
// done, when set, is called after each scene with a copy of the plan as it
// stands. On error the scenes finished so far are returned with it.
func (w *SceneWriter) WriteChapter(ctx context.Context, chapter ChapterOutline, scenes *SceneOutlines, lore LoreSource, done func(SceneText, *SceneOutlines)) ([]SceneText, error) {
	total := len(scenes.Scenes)
	texts := make([]SceneText, 0, total)
	previous := ""

	for i := range scenes.Scenes {
		if err := ctx.Err(); err != nil {
			return texts, err
		}
		scene := scenes.Scenes[i]

		sc := SceneContext{Chapter: chapter, Previous: previous, Total: total}
		if lore != nil {
			sc.Lore = lore.Excerpt(scene.Description+" "+scene.State+" "+chapter.Summary, w.settings.LoreRunes)
		}

		text, err := w.Write(ctx, scene, sc)
		if err != nil {
			return texts, err
		}
		texts = append(texts, text)

		if i+1 < total {
			previous = w.handoff(ctx, text, scene, &scenes.Scenes[i+1])
		}
		if done != nil {
			done(text, scenes.Clone())
		}
		w.logger.Debug("scene written", "chapter", chapter.Number, "scene", scene.Index, "of", total, "runes", phase.RuneCount(text.Text))
	}
	return texts, nil
}

type carryData struct {
	Scene SceneOutline
	Text  string
	Next  SceneOutline
}

type carry struct {
	Summary    string `json:"summary"`
	Continuity string `json:"continuity"`
}

// handoff updates next with the continuity left by the finished scene and
// returns the preceding context for it. A failed carry call falls back to
// the tail of the finished text.
func (w *SceneWriter) handoff(ctx context.Context, finished SceneText, scene SceneOutline, next *SceneOutline) string {
	tooLong := phase.RuneCount(finished.Text) > w.settings.ContextRunes
	fallback := finished.Text
	if tooLong {
		fallback = phase.TailByRunes(finished.Text, w.settings.ContextRunes)
	}
	if !w.settings.CarryForward {
		return fallback
	}

	raw, err := w.tools.call(ctx, StageSceneCarry, templateCarry, carryData{
		Scene: scene,
		Text:  finished.Text,
		Next:  *next,
	}, callMeta{Unit: next.Key()})

	var c carry
	if err == nil {
		err = phase.DecodeJSON(raw, &c)
	}
	if err != nil {
		if ctx.Err() == nil {
			w.tools.report(core.Issue{
				Kind:    core.IssueCarryForwardSkipped,
				Unit:    next.Key(),
				Chapter: next.Chapter,
				Message: err.Error(),
			})
		}
		return fallback
	}

	if continuity := strings.TrimSpace(c.Continuity); continuity != "" {
		next.State = continuity
	}
	if summary := strings.TrimSpace(c.Summary); tooLong && summary != "" {
		return summary
	}
	return fallback
}

func sceneBrief(scene SceneOutline, sc SceneContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Chapter %d (%s): %s\n", sc.Chapter.Number, sc.Chapter.Title, sc.Chapter.Summary)
	fmt.Fprintf(&b, "Scene %d of %d: %s", scene.Index, sc.Total, scene.Description)
	if scene.State != "" {
		fmt.Fprintf(&b, "\nContinuity: %s", scene.State)
	}
	if sc.Previous != "" {
		fmt.Fprintf(&b, "\nPreceding scene:\n%s", sc.Previous)
	}
	return b.String()
}
