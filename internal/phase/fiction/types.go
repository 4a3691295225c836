package fiction

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Thomashighbaugh/fiction-fabricator-sub002/internal/phase"
)

// Kind tags the four generatable content units.
type Kind int

const (
	KindOutline Kind = iota
	KindChapterOutline
	KindSceneOutline
	KindSceneText
)

var kindNames = [...]string{"outline", "chapter_outline", "scene_outline", "scene_text"}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Describe is the human wording used inside prompts.
func (k Kind) Describe() string {
	return strings.ReplaceAll(k.String(), "_", " ")
}

// Form selects how the chapter dimension of an outline behaves.
type Form int

const (
	FormNovel Form = iota
	FormShortStory
	FormWebNovel
)

var formNames = [...]string{"novel", "short_story", "web_novel"}

func (f Form) String() string {
	if int(f) < len(formNames) {
		return formNames[f]
	}
	return fmt.Sprintf("form(%d)", int(f))
}

func (f Form) Describe() string {
	return strings.ReplaceAll(f.String(), "_", " ")
}

func ParseForm(s string) (Form, error) {
	normalized := strings.ToLower(strings.NewReplacer("-", "_", " ", "_").Replace(strings.TrimSpace(s)))
	for i, name := range formNames {
		if name == normalized {
			return Form(i), nil
		}
	}
	return 0, fmt.Errorf("unknown form %q", s)
}

func (f Form) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

func (f *Form) UnmarshalText(text []byte) error {
	parsed, err := ParseForm(string(text))
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}

// Unit is any generatable artifact. Replace builds a complete replacement
// from a model response, keeping identity fields (chapter and scene numbers)
// and taking every content field from the response.
type Unit interface {
	Kind() Kind
	Key() string
	Body() string
	Replace(raw string) (Unit, error)
}

// Decoder turns a raw model response into a unit.
type Decoder func(raw string) (Unit, error)

func marshalBody(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%+v", v)
	}
	return string(data)
}

// =============================================================================
// Outline
// =============================================================================

type ChapterOutline struct {
	Number  int    `json:"number"`
	Title   string `json:"title"`
	Summary string `json:"summary"`
}

func (c ChapterOutline) Kind() Kind  { return KindChapterOutline }
func (c ChapterOutline) Key() string { return fmt.Sprintf("chapter:%d", c.Number) }

func (c ChapterOutline) Body() string {
	return marshalBody(chapterContent{Title: c.Title, Summary: c.Summary})
}

func (c ChapterOutline) Replace(raw string) (Unit, error) {
	return decodeChapter(c.Number)(raw)
}

// Digest is a content hash used to prove earlier chapters were left alone.
func (c ChapterOutline) Digest() string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%d\x00%s\x00%s", c.Number, c.Title, c.Summary)))
	return hex.EncodeToString(sum[:])
}

func (c ChapterOutline) heading() string {
	if c.Title == "" {
		return fmt.Sprintf("Chapter %d", c.Number)
	}
	return fmt.Sprintf("Chapter %d: %s", c.Number, c.Title)
}

type chapterContent struct {
	Title   string `json:"title"`
	Summary string `json:"summary"`
}

func decodeChapter(number int) Decoder {
	return func(raw string) (Unit, error) {
		var content chapterContent
		if err := phase.DecodeJSON(raw, &content); err != nil {
			return nil, err
		}
		return ChapterOutline{
			Number:  number,
			Title:   strings.TrimSpace(content.Title),
			Summary: strings.TrimSpace(content.Summary),
		}, nil
	}
}

// Outline is the ordered chapter plan of a narrative.
type Outline struct {
	Form     Form             `json:"form"`
	Title    string           `json:"title"`
	Logline  string           `json:"logline,omitempty"`
	Chapters []ChapterOutline `json:"chapters"`
}

type outlineContent struct {
	Title    string           `json:"title"`
	Logline  string           `json:"logline,omitempty"`
	Chapters []ChapterOutline `json:"chapters"`
}

func (o *Outline) Kind() Kind  { return KindOutline }
func (o *Outline) Key() string { return "outline" }

func (o *Outline) Body() string {
	return marshalBody(outlineContent{Title: o.Title, Logline: o.Logline, Chapters: o.Chapters})
}

func (o *Outline) Replace(raw string) (Unit, error) {
	return decodeOutline(o.Form)(raw)
}

func (o *Outline) Count() int {
	return len(o.Chapters)
}

// Tail returns a copy of the last n chapters.
func (o *Outline) Tail(n int) []ChapterOutline {
	if n > len(o.Chapters) {
		n = len(o.Chapters)
	}
	out := make([]ChapterOutline, n)
	copy(out, o.Chapters[len(o.Chapters)-n:])
	return out
}

func (o *Outline) Chapter(number int) (ChapterOutline, bool) {
	if number < 1 || number > len(o.Chapters) {
		return ChapterOutline{}, false
	}
	return o.Chapters[number-1], true
}

// Neighbors returns the chapters before and after number, nil at the edges.
func (o *Outline) Neighbors(number int) (prev, next *ChapterOutline) {
	if p, ok := o.Chapter(number - 1); ok {
		prev = &p
	}
	if n, ok := o.Chapter(number + 1); ok {
		next = &n
	}
	return prev, next
}

func (o *Outline) Clone() *Outline {
	clone := *o
	clone.Chapters = make([]ChapterOutline, len(o.Chapters))
	copy(clone.Chapters, o.Chapters)
	return &clone
}

// Markdown renders the outline for people.
func (o *Outline) Markdown() string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", o.Title)
	if o.Logline != "" {
		fmt.Fprintf(&b, "*%s*\n\n", o.Logline)
	}
	for _, c := range o.Chapters {
		fmt.Fprintf(&b, "## %s\n\n%s\n\n", c.heading(), c.Summary)
	}
	return strings.TrimRight(b.String(), "\n") + "\n"
}

func decodeOutline(form Form) Decoder {
	return func(raw string) (Unit, error) {
		var content outlineContent
		if err := phase.DecodeJSON(raw, &content); err != nil {
			return nil, err
		}
		o := &Outline{
			Form:     form,
			Title:    strings.TrimSpace(content.Title),
			Logline:  strings.TrimSpace(content.Logline),
			Chapters: content.Chapters,
		}
		for i := range o.Chapters {
			o.Chapters[i].Title = strings.TrimSpace(o.Chapters[i].Title)
			o.Chapters[i].Summary = strings.TrimSpace(o.Chapters[i].Summary)
		}
		return o, nil
	}
}

// chapterBatch is the response to an append request. Numbers in it are
// ignored; the appender assigns them.
type chapterBatch struct {
	Chapters []ChapterOutline `json:"chapters"`
}

func (b *chapterBatch) Kind() Kind  { return KindChapterOutline }
func (b *chapterBatch) Key() string { return "outline/append" }
func (b *chapterBatch) Body() string {
	return marshalBody(b)
}

func (b *chapterBatch) Replace(raw string) (Unit, error) {
	return decodeBatch(raw)
}

func decodeBatch(raw string) (Unit, error) {
	var batch chapterBatch
	cleaned := phase.CleanJSONResponse(raw)
	if strings.HasPrefix(cleaned, "[") {
		if err := json.Unmarshal([]byte(cleaned), &batch.Chapters); err != nil {
			return nil, err
		}
	} else if err := json.Unmarshal([]byte(cleaned), &batch); err != nil {
		return nil, err
	}
	for i := range batch.Chapters {
		batch.Chapters[i].Title = strings.TrimSpace(batch.Chapters[i].Title)
		batch.Chapters[i].Summary = strings.TrimSpace(batch.Chapters[i].Summary)
	}
	return &batch, nil
}

// =============================================================================
// Scenes
// =============================================================================

// SceneOutline is one planned scene. State carries continuity notes forward
// from the scene before it.
type SceneOutline struct {
	Chapter     int    `json:"chapter"`
	Index       int    `json:"index"`
	Description string `json:"description"`
	State       string `json:"state,omitempty"`
}

func (s SceneOutline) Key() string {
	return fmt.Sprintf("chapter:%d/scene:%d", s.Chapter, s.Index)
}

// SceneOutlines is the scene plan of one chapter, improved as one unit.
type SceneOutlines struct {
	Chapter int            `json:"chapter"`
	Scenes  []SceneOutline `json:"scenes"`
}

type sceneContent struct {
	Description string `json:"description"`
	State       string `json:"state,omitempty"`
}

func (s *SceneOutlines) Kind() Kind  { return KindSceneOutline }
func (s *SceneOutlines) Key() string { return fmt.Sprintf("chapter:%d/scenes", s.Chapter) }

func (s *SceneOutlines) Body() string {
	content := make([]sceneContent, len(s.Scenes))
	for i, scene := range s.Scenes {
		content[i] = sceneContent{Description: scene.Description, State: scene.State}
	}
	return marshalBody(map[string][]sceneContent{"scenes": content})
}

func (s *SceneOutlines) Replace(raw string) (Unit, error) {
	return decodeScenes(s.Chapter)(raw)
}

func (s *SceneOutlines) Clone() *SceneOutlines {
	clone := &SceneOutlines{Chapter: s.Chapter, Scenes: make([]SceneOutline, len(s.Scenes))}
	copy(clone.Scenes, s.Scenes)
	return clone
}

// decodeScenes numbers scenes by their position: response order is
// narrative order.
func decodeScenes(chapter int) Decoder {
	return func(raw string) (Unit, error) {
		var wire struct {
			Scenes []sceneContent `json:"scenes"`
		}
		cleaned := phase.CleanJSONResponse(raw)
		if strings.HasPrefix(cleaned, "[") {
			if err := json.Unmarshal([]byte(cleaned), &wire.Scenes); err != nil {
				return nil, err
			}
		} else if err := json.Unmarshal([]byte(cleaned), &wire); err != nil {
			return nil, err
		}

		out := &SceneOutlines{Chapter: chapter, Scenes: make([]SceneOutline, len(wire.Scenes))}
		for i, sc := range wire.Scenes {
			out.Scenes[i] = SceneOutline{
				Chapter:     chapter,
				Index:       i + 1,
				Description: strings.TrimSpace(sc.Description),
				State:       strings.TrimSpace(sc.State),
			}
		}
		return out, nil
	}
}

// SceneText is the prose of one scene.
type SceneText struct {
	Chapter int    `json:"chapter"`
	Index   int    `json:"index"`
	Text    string `json:"text"`
}

func (t SceneText) Kind() Kind { return KindSceneText }
func (t SceneText) Key() string {
	return fmt.Sprintf("chapter:%d/scene:%d", t.Chapter, t.Index)
}
func (t SceneText) Body() string { return t.Text }

func (t SceneText) Replace(raw string) (Unit, error) {
	return decodeSceneText(t.Chapter, t.Index)(raw)
}

func decodeSceneText(chapter, index int) Decoder {
	return func(raw string) (Unit, error) {
		return SceneText{Chapter: chapter, Index: index, Text: strings.TrimSpace(raw)}, nil
	}
}
