package fiction_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thomashighbaugh/fiction-fabricator-sub002/internal/core"
	"github.com/Thomashighbaugh/fiction-fabricator-sub002/internal/phase/fiction"
)

func TestSceneDecomposer_Decompose(t *testing.T) {
	k := newKit(t, false)
	k.gateway.Script(fiction.StageSceneOutline, `Here is the plan:
{"scenes": [
  {"description": "Mara bribes the ferryman", "state": "night, soaked"},
  {"description": "the crossing"},
  {"description": "landing at the salt flats"}
]}`)

	prev := chapters(1, 1)[0]
	d := fiction.NewSceneDecomposer(k.tools, k.validator, k.engine)
	scenes, err := d.Decompose(context.Background(), chapterTwo(), fiction.ChapterContext{Premise: "premise", Previous: &prev}, 6)
	require.NoError(t, err)

	require.Len(t, scenes.Scenes, 3)
	for i, s := range scenes.Scenes {
		assert.Equal(t, i+1, s.Index)
		assert.Equal(t, 2, s.Chapter)
	}
	assert.Equal(t, "night, soaked", scenes.Scenes[0].State)

	prompt := k.gateway.CallsFor(fiction.StageSceneOutline)[0].Prompt
	assert.Contains(t, prompt, "Events of chapter 1.")
	assert.Contains(t, prompt, "between 2 and 6 scenes")
}

func TestSceneDecomposer_TooManyScenesUnrepairable(t *testing.T) {
	seven := `{"scenes": [{"description": "a"}, {"description": "b"}, {"description": "c"}, {"description": "d"}, {"description": "e"}, {"description": "f"}, {"description": "g"}]}`
	k := newKit(t, false)
	k.gateway.
		Script(fiction.StageSceneOutline, seven).
		Script("scene_outline.repair", seven, seven)

	d := fiction.NewSceneDecomposer(k.tools, k.validator, k.engine)
	_, err := d.Decompose(context.Background(), chapterTwo(), fiction.ChapterContext{}, 6)

	var unrepairable *core.UnrepairableError
	require.ErrorAs(t, err, &unrepairable)
	assert.Equal(t, "chapter:2/scenes", unrepairable.Unit)
	assert.Contains(t, unrepairable.Last.Reason, "at most 6")
}

func TestSceneDecomposer_RefineKeepsNumber(t *testing.T) {
	k := newKit(t, true)
	k.gateway.
		Script("chapter_outline.critique", "The ending is abrupt.").
		Script("chapter_outline.revise", `{"number": 9, "title": "Low Water", "summary": "Mara reaches the harbor at low water and finds it empty."}`)

	d := fiction.NewSceneDecomposer(k.tools, k.validator, k.engine)
	refined, err := d.Refine(context.Background(), chapterTwo(), fiction.ChapterContext{Premise: "premise"})
	require.NoError(t, err)

	assert.Equal(t, 2, refined.Number)
	assert.Equal(t, "Low Water", refined.Title)
	assert.Contains(t, refined.Summary, "finds it empty")
}
