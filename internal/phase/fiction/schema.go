package fiction

import (
	"fmt"

	"github.com/Thomashighbaugh/fiction-fabricator-sub002/internal/core"
	"github.com/Thomashighbaugh/fiction-fabricator-sub002/internal/phase"
)

// Schema is the structural contract a unit must meet before it is accepted.
type Schema struct {
	Kind        Kind
	MinChapters int
	MaxChapters int // 0 means unbounded
	MinScenes   int
	MaxScenes   int
	MinRunes    int
	// Shape is shown to the model on revise and repair calls.
	Shape string
}

const (
	outlineShape = `{"title": "...", "logline": "...", "chapters": [{"number": 1, "title": "...", "summary": "..."}]}`
	chapterShape = `{"title": "...", "summary": "..."}`
	batchShape   = `{"chapters": [{"number": 1, "title": "...", "summary": "..."}]}`
	scenesShape  = `{"scenes": [{"description": "...", "state": "..."}]}`
	textShape    = `Return only the prose of the scene, with no headings or commentary.`
)

// OutlineSchema: a short story has exactly one chapter, other forms at
// least one. Numbering is always contiguous from 1.
func OutlineSchema(form Form) Schema {
	s := Schema{Kind: KindOutline, MinChapters: 1, Shape: outlineShape}
	if form == FormShortStory {
		s.MaxChapters = 1
	}
	return s
}

func ChapterSchema() Schema {
	return Schema{Kind: KindChapterOutline, Shape: chapterShape}
}

// batchSchema accepts an empty batch; a model that adds nothing is a
// zero-progress append, not a structural failure.
func batchSchema() Schema {
	return Schema{Kind: KindOutline, Shape: batchShape}
}

func SceneOutlineSchema(minScenes, maxScenes int) Schema {
	return Schema{Kind: KindSceneOutline, MinScenes: minScenes, MaxScenes: maxScenes, Shape: scenesShape}
}

func SceneTextSchema(minRunes int) Schema {
	if minRunes < 1 {
		minRunes = 1
	}
	return Schema{Kind: KindSceneText, MinRunes: minRunes, Shape: textShape}
}

// Check returns a *core.StructureError describing the first violation.
func (s Schema) Check(u Unit) error {
	fail := func(format string, args ...any) error {
		return &core.StructureError{Unit: u.Key(), Reason: fmt.Sprintf(format, args...)}
	}

	switch v := u.(type) {
	case *Outline:
		if v.Title == "" {
			return fail("outline has no title")
		}
		if n := len(v.Chapters); n < s.MinChapters {
			return fail("outline has %d chapters, need at least %d", n, s.MinChapters)
		}
		if s.MaxChapters > 0 && len(v.Chapters) > s.MaxChapters {
			return fail("outline has %d chapters, at most %d allowed", len(v.Chapters), s.MaxChapters)
		}
		for i, c := range v.Chapters {
			if c.Number != i+1 {
				return fail("chapter numbers must run 1..%d, position %d is numbered %d", len(v.Chapters), i+1, c.Number)
			}
			if c.Summary == "" {
				return fail("chapter %d has an empty summary", c.Number)
			}
		}

	case ChapterOutline:
		if v.Summary == "" {
			return fail("chapter %d has an empty summary", v.Number)
		}

	case *chapterBatch:
		if len(v.Chapters) < s.MinChapters {
			return fail("batch has %d chapters, need at least %d", len(v.Chapters), s.MinChapters)
		}
		for i, c := range v.Chapters {
			if c.Summary == "" {
				return fail("appended chapter at position %d has an empty summary", i+1)
			}
		}

	case *SceneOutlines:
		n := len(v.Scenes)
		if n < s.MinScenes {
			return fail("chapter %d has %d scenes, need at least %d", v.Chapter, n, s.MinScenes)
		}
		if s.MaxScenes > 0 && n > s.MaxScenes {
			return fail("chapter %d has %d scenes, at most %d allowed", v.Chapter, n, s.MaxScenes)
		}
		for i, scene := range v.Scenes {
			if scene.Index != i+1 {
				return fail("scene indices must run 1..%d, position %d is numbered %d", n, i+1, scene.Index)
			}
			if scene.Description == "" {
				return fail("scene %d has an empty description", scene.Index)
			}
		}

	case SceneText:
		if got := phase.RuneCount(v.Text); got < s.MinRunes {
			if got == 0 {
				return fail("scene text is empty")
			}
			return fail("scene text has %d characters, need at least %d", got, s.MinRunes)
		}

	default:
		return fail("unexpected unit type %T", u)
	}
	return nil
}
