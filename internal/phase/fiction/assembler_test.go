package fiction_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thomashighbaugh/fiction-fabricator-sub002/internal/core"
	"github.com/Thomashighbaugh/fiction-fabricator-sub002/internal/phase/fiction"
)

func TestAssembler_Assemble(t *testing.T) {
	a := fiction.NewAssembler()
	scenes := threeScenes().Scenes
	texts := []fiction.SceneText{
		{Chapter: 2, Index: 3, Text: "Third."},
		{Chapter: 2, Index: 1, Text: "First.\n"},
		{Chapter: 2, Index: 2, Text: "Second."},
	}

	first, err := a.Assemble(chapterTwo(), scenes, texts)
	require.NoError(t, err)
	assert.Equal(t, "First."+fiction.SceneBreak+"Second."+fiction.SceneBreak+"Third.", first.Text)
	assert.Equal(t, "Low Tide", first.Title)

	second, err := a.Assemble(chapterTwo(), scenes, texts)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestAssembler_MissingScene(t *testing.T) {
	a := fiction.NewAssembler()
	_, err := a.Assemble(chapterTwo(), threeScenes().Scenes, []fiction.SceneText{
		{Chapter: 2, Index: 1, Text: "First."},
		{Chapter: 2, Index: 3, Text: "Third."},
	})

	var incomplete *core.IncompleteChapterError
	require.ErrorAs(t, err, &incomplete)
	assert.Equal(t, 2, incomplete.Chapter)
	assert.Equal(t, []int{2}, incomplete.Missing)
}

func TestAssembler_Document(t *testing.T) {
	a := fiction.NewAssembler()
	chs := []fiction.Chapter{
		{Number: 2, Title: "Two", Text: "Beta."},
		{Number: 1, Title: "One", Text: "Alpha."},
	}

	doc := a.AssembleDocument("Salt", "A road.", chs)
	again := a.AssembleDocument("Salt", "A road.", chs)
	assert.Equal(t, doc, again)

	assert.Equal(t, "# Salt\n\n*A road.*\n\n---\n\n## Chapter 1: One\n\nAlpha.\n\n## Chapter 2: Two\n\nBeta.\n", doc.Text)
	assert.Equal(t, 1, doc.Chapters[0].Number)
	assert.Equal(t, 2, chs[0].Number, "input slice is not reordered")
}
