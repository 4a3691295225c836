package fiction_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thomashighbaugh/fiction-fabricator-sub002/internal/core"
	"github.com/Thomashighbaugh/fiction-fabricator-sub002/internal/phase/fiction"
)

func TestOutlineGenerator_AppendsToReachTarget(t *testing.T) {
	k := newKit(t, false)
	k.gateway.
		Script(fiction.StageOutlineDraft, outlineJSON(t, 3)).
		Script(fiction.StageOutlineAppend, batchJSON(t, 4, 5))

	result, err := k.planner(fiction.OutlineSettings{AppendAttempts: 2}).Generate(context.Background(), fiction.OutlineRequest{
		Premise:        "A courier crosses a drowned empire.",
		Form:           fiction.FormNovel,
		TargetChapters: 5,
	})
	require.NoError(t, err)

	assert.Equal(t, 5, result.Outline.Count())
	requireContiguous(t, result.Outline)
	assert.Equal(t, fiction.OutlineComplete, result.State)
	assert.Nil(t, result.Shortfall)
	assert.Equal(t, 1, result.AppendAttempts)

	assert.Len(t, k.tools.Records.Stage(fiction.StageOutlineDraft), 1)
	assert.Len(t, k.tools.Records.Stage(fiction.StageOutlineAppend), 1)
	assert.Zero(t, k.tools.Issues.Count(core.IssueChapterCountShortfall))
}

func TestOutlineGenerator_PartialAfterAttemptsSpent(t *testing.T) {
	k := newKit(t, false)
	k.gateway.
		Script(fiction.StageOutlineDraft, outlineJSON(t, 3)).
		Script(fiction.StageOutlineAppend, `{"chapters": []}`, `{"chapters": []}`, batchJSON(t, 4, 5))

	result, err := k.planner(fiction.OutlineSettings{AppendAttempts: 2}).Generate(context.Background(), fiction.OutlineRequest{
		Premise:        "A courier crosses a drowned empire.",
		Form:           fiction.FormNovel,
		TargetChapters: 5,
	})
	require.NoError(t, err)

	assert.Equal(t, 3, result.Outline.Count())
	requireContiguous(t, result.Outline)
	assert.True(t, result.Partial())
	require.NotNil(t, result.Shortfall)
	assert.Equal(t, 2, result.Shortfall.Missing())
	assert.Equal(t, 2, result.AppendAttempts)

	// the third scripted batch must never be requested
	assert.Len(t, k.gateway.CallsFor(fiction.StageOutlineAppend), 2)
	assert.Equal(t, 1, k.tools.Issues.Count(core.IssueChapterCountShortfall))
}

func TestOutlineGenerator_CachedEmptyAppendIsRetried(t *testing.T) {
	k := newCachedKit(t)
	k.gateway.
		Script(fiction.StageOutlineDraft, outlineJSON(t, 3)).
		Script(fiction.StageOutlineAppend, `{"chapters": []}`, batchJSON(t, 4, 5))

	result, err := k.planner(fiction.OutlineSettings{AppendAttempts: 2}).Generate(context.Background(), fiction.OutlineRequest{
		Premise:        "A courier crosses a drowned empire.",
		Form:           fiction.FormNovel,
		TargetChapters: 5,
	})
	require.NoError(t, err)

	assert.Equal(t, 5, result.Outline.Count())
	requireContiguous(t, result.Outline)
	assert.Nil(t, result.Shortfall)
	assert.Equal(t, 2, result.AppendAttempts)

	calls := k.gateway.CallsFor(fiction.StageOutlineAppend)
	require.Len(t, calls, 2, "the second attempt must reach the model")
	assert.Equal(t, calls[0].Prompt, calls[1].Prompt)
	assert.Equal(t, 2, calls[1].Attempt)

	records := k.tools.Records.Stage(fiction.StageOutlineAppend)
	require.Len(t, records, 2)
	assert.False(t, records[0].Cached)
	assert.False(t, records[1].Cached)
}

func TestOutlineGenerator_RejectedAppendCountsAsAttempt(t *testing.T) {
	k := newKit(t, false)
	k.gateway.
		Script(fiction.StageOutlineDraft, outlineJSON(t, 2)).
		Script(fiction.StageOutlineAppend, "not json", batchJSON(t, 3, 4)).
		Script("outline.repair", "still not json", "nope")

	result, err := k.planner(fiction.OutlineSettings{AppendAttempts: 2}).Generate(context.Background(), fiction.OutlineRequest{
		Premise:        "premise",
		Form:           fiction.FormNovel,
		TargetChapters: 4,
	})
	require.NoError(t, err)

	assert.Equal(t, 4, result.Outline.Count())
	assert.Equal(t, 2, result.AppendAttempts)
	assert.Equal(t, 1, k.tools.Issues.Count(core.IssueAppendRejected))
}

func TestOutlineGenerator_ShortStoryIsOneChapter(t *testing.T) {
	k := newKit(t, false)
	k.gateway.Script(fiction.StageOutlineDraft, outlineJSON(t, 1))

	result, err := k.planner(fiction.OutlineSettings{AppendAttempts: 2}).Generate(context.Background(), fiction.OutlineRequest{
		Premise:        "A lighthouse keeper finds a letter.",
		Form:           fiction.FormShortStory,
		TargetChapters: 12,
		TargetWords:    15000,
	})
	require.NoError(t, err)

	assert.Equal(t, 1, result.Outline.Count())
	assert.Equal(t, fiction.OutlineComplete, result.State)
	assert.Empty(t, k.gateway.CallsFor(fiction.StageOutlineAppend))

	draft := k.gateway.CallsFor(fiction.StageOutlineDraft)
	require.Len(t, draft, 1)
	assert.Contains(t, draft[0].Prompt, "15000 words")
	assert.Contains(t, draft[0].Prompt, "exactly 1 chapter")
}

func TestOutlineGenerator_ShortStoryWithTwoChaptersIsRepaired(t *testing.T) {
	k := newKit(t, false)
	k.gateway.
		Script(fiction.StageOutlineDraft, outlineJSON(t, 2)).
		Script("outline.repair", outlineJSON(t, 1))

	result, err := k.planner(fiction.OutlineSettings{}).Generate(context.Background(), fiction.OutlineRequest{
		Premise: "premise",
		Form:    fiction.FormShortStory,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Outline.Count())
	assert.Len(t, k.gateway.CallsFor("outline.repair"), 1)
}

func TestOutlineGenerator_UnrepairableDraftIsFatal(t *testing.T) {
	k := newKit(t, false)
	k.gateway.
		Script(fiction.StageOutlineDraft, "I cannot do that").
		Script("outline.repair", "still no", "no again")

	_, err := k.planner(fiction.OutlineSettings{}).Generate(context.Background(), fiction.OutlineRequest{
		Premise:        "premise",
		Form:           fiction.FormNovel,
		TargetChapters: 3,
	})
	require.Error(t, err)
	assert.True(t, core.IsUnrepairable(err))
	assert.True(t, core.IsTerminal(err))
}

func TestOutlineGenerator_TrimsSurplusChapters(t *testing.T) {
	k := newKit(t, false)
	k.gateway.Script(fiction.StageOutlineDraft, outlineJSON(t, 6))

	result, err := k.planner(fiction.OutlineSettings{}).Generate(context.Background(), fiction.OutlineRequest{
		Premise:        "premise",
		Form:           fiction.FormNovel,
		TargetChapters: 4,
	})
	require.NoError(t, err)
	assert.Equal(t, 4, result.Outline.Count())
	assert.Empty(t, k.gateway.CallsFor(fiction.StageOutlineAppend))
}

func TestOutlineGenerator_DraftParts(t *testing.T) {
	k := newKit(t, false)
	k.gateway.
		Script(fiction.StageOutlineDraft, outlineJSON(t, 4)).
		Script(fiction.StageOutlineAppend, batchJSON(t, 5, 8), batchJSON(t, 9, 10))

	result, err := k.planner(fiction.OutlineSettings{AppendAttempts: 2, DraftParts: 3}).Generate(context.Background(), fiction.OutlineRequest{
		Premise:        "premise",
		Form:           fiction.FormNovel,
		TargetChapters: 10,
	})
	require.NoError(t, err)

	assert.Equal(t, 10, result.Outline.Count())
	requireContiguous(t, result.Outline)
	assert.Zero(t, result.AppendAttempts, "draft parts are not enforcement attempts")
	assert.Contains(t, k.gateway.CallsFor(fiction.StageOutlineDraft)[0].Prompt, "exactly 4 chapter")
}

func TestOutlineGenerator_CritiqueFailureKeepsDraft(t *testing.T) {
	k := newKit(t, true)
	k.gateway.
		Script(fiction.StageOutlineDraft, outlineJSON(t, 2)).
		Fail("outline.critique", errors.New("provider down"))

	result, err := k.planner(fiction.OutlineSettings{}).Generate(context.Background(), fiction.OutlineRequest{
		Premise:        "premise",
		Form:           fiction.FormNovel,
		TargetChapters: 2,
	})
	require.NoError(t, err)
	assert.Equal(t, "The Salt Road", result.Outline.Title)
	assert.Equal(t, 1, k.tools.Issues.Count(core.IssueRevisionSkipped))
	assert.Empty(t, k.gateway.CallsFor("outline.revise"))
}

func TestOutlineGenerator_ProviderErrorDuringAppend(t *testing.T) {
	k := newKit(t, false)
	boom := &core.ProviderError{Provider: "mock", Stage: fiction.StageOutlineAppend, Cause: core.ErrServerError}
	k.gateway.
		Script(fiction.StageOutlineDraft, outlineJSON(t, 1)).
		Fail(fiction.StageOutlineAppend, boom)

	_, err := k.planner(fiction.OutlineSettings{AppendAttempts: 2}).Generate(context.Background(), fiction.OutlineRequest{
		Premise:        "premise",
		Form:           fiction.FormNovel,
		TargetChapters: 3,
	})
	require.Error(t, err)
	assert.True(t, core.IsProviderError(err))
}

func TestAppendChapters_KeepsExistingChapters(t *testing.T) {
	k := newKit(t, false)
	existing := &fiction.Outline{
		Form:     fiction.FormWebNovel,
		Title:    "Tower of Ash",
		Chapters: chapters(1, 4),
	}
	before := make([]string, existing.Count())
	for i, c := range existing.Chapters {
		before[i] = c.Digest()
	}

	// numbering in the response is ignored
	k.gateway.Script(fiction.StageOutlineAppend, batchJSON(t, 1, 2))

	next, added, err := k.planner(fiction.OutlineSettings{}).AppendChapters(context.Background(), existing, "premise", "", 2, "The tower falls.")
	require.NoError(t, err)

	assert.Equal(t, 2, added)
	assert.Equal(t, 6, next.Count())
	requireContiguous(t, next)
	for i := range before {
		assert.Equal(t, before[i], next.Chapters[i].Digest(), "chapter %d changed", i+1)
	}
	assert.Equal(t, 4, existing.Count(), "input outline must not be modified")

	prompt := k.gateway.CallsFor(fiction.StageOutlineAppend)[0].Prompt
	assert.Contains(t, prompt, "chapters 5 through 6")
	assert.Contains(t, prompt, "The tower falls.")
	assert.Contains(t, prompt, "Chapter 4: Part 4")
	assert.NotContains(t, prompt, "Chapter 2: Part 2", "only the tail of the outline is sent")
}

func TestAppendChapters_TruncatesSurplusAndAcceptsShort(t *testing.T) {
	existing := &fiction.Outline{Form: fiction.FormWebNovel, Title: "T", Chapters: chapters(1, 2)}

	t.Run("surplus", func(t *testing.T) {
		k := newKit(t, false)
		k.gateway.Script(fiction.StageOutlineAppend, batchJSON(t, 3, 7))
		next, added, err := k.planner(fiction.OutlineSettings{}).AppendChapters(context.Background(), existing, "p", "", 2, "")
		require.NoError(t, err)
		assert.Equal(t, 2, added)
		assert.Equal(t, 4, next.Count())
	})

	t.Run("short", func(t *testing.T) {
		k := newKit(t, false)
		k.gateway.Script(fiction.StageOutlineAppend, batchJSON(t, 3, 3))
		next, added, err := k.planner(fiction.OutlineSettings{}).AppendChapters(context.Background(), existing, "p", "", 3, "")
		require.NoError(t, err)
		assert.Equal(t, 1, added)
		assert.Equal(t, 3, next.Count())
		assert.Zero(t, k.tools.Issues.Count(core.IssueChapterCountShortfall))
	})
}
