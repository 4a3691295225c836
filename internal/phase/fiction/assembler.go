package fiction

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/Thomashighbaugh/fiction-fabricator-sub002/internal/core"
)

// SceneBreak separates scenes inside a chapter.
const SceneBreak = "\n\n* * *\n\n"

// Chapter is the assembled prose of one chapter.
type Chapter struct {
	Number int    `json:"number"`
	Title  string `json:"title"`
	Text   string `json:"text"`
}

func (c Chapter) Markdown() string {
	return fmt.Sprintf("## %s\n\n%s\n", ChapterOutline{Number: c.Number, Title: c.Title}.heading(), c.Text)
}

// NarrativeDocument is the final output of a run.
type NarrativeDocument struct {
	Title    string    `json:"title"`
	Logline  string    `json:"logline,omitempty"`
	Chapters []Chapter `json:"chapters"`
	Text     string    `json:"text"`
}

// Assembler concatenates finished units. It makes no model calls, so the
// same inputs always give the same output.
type Assembler struct {
	separator string
}

func NewAssembler() *Assembler {
	return &Assembler{separator: SceneBreak}
}

// Assemble joins a chapter's scene texts in scene order. Any scene without
// text makes the chapter a *core.IncompleteChapterError.
func (a *Assembler) Assemble(chapter ChapterOutline, scenes []SceneOutline, texts []SceneText) (Chapter, error) {
	if len(scenes) == 0 {
		return Chapter{}, &core.IncompleteChapterError{Chapter: chapter.Number, Cause: errors.New("chapter has no scenes")}
	}

	byIndex := make(map[int]string, len(texts))
	for _, t := range texts {
		if t.Chapter == chapter.Number {
			byIndex[t.Index] = t.Text
		}
	}

	parts := make([]string, 0, len(scenes))
	var missing []int
	for _, scene := range scenes {
		text, ok := byIndex[scene.Index]
		if !ok || strings.TrimSpace(text) == "" {
			missing = append(missing, scene.Index)
			continue
		}
		parts = append(parts, strings.TrimSpace(text))
	}
	if len(missing) > 0 {
		return Chapter{}, &core.IncompleteChapterError{Chapter: chapter.Number, Missing: missing}
	}

	return Chapter{
		Number: chapter.Number,
		Title:  chapter.Title,
		Text:   strings.Join(parts, a.separator),
	}, nil
}

// AssembleDocument orders chapters by number and renders the manuscript.
func (a *Assembler) AssembleDocument(title, logline string, chapters []Chapter) NarrativeDocument {
	ordered := slices.Clone(chapters)
	slices.SortStableFunc(ordered, func(x, y Chapter) int { return x.Number - y.Number })

	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", title)
	if logline != "" {
		fmt.Fprintf(&b, "*%s*\n\n", logline)
	}
	b.WriteString("---\n\n")
	for i, c := range ordered {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(c.Markdown())
	}

	return NarrativeDocument{
		Title:    title,
		Logline:  logline,
		Chapters: ordered,
		Text:     b.String(),
	}
}
