package pipeline_test

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thomashighbaugh/fiction-fabricator-sub002/internal/agent"
	"github.com/Thomashighbaugh/fiction-fabricator-sub002/internal/core"
	"github.com/Thomashighbaugh/fiction-fabricator-sub002/internal/phase/fiction"
	"github.com/Thomashighbaugh/fiction-fabricator-sub002/internal/pipeline"
	"github.com/Thomashighbaugh/fiction-fabricator-sub002/internal/storage"
)

var (
	sceneHeader   = regexp.MustCompile(`Write scene (\d+) of \d+ in chapter (\d+)`)
	chapterHeader = regexp.MustCompile(`THIS CHAPTER \((\d+):`)
	appendRange   = regexp.MustCompile(`Write chapters (\d+) through (\d+)`)
	draftCount    = regexp.MustCompile(`Produce exactly (\d+) chapter`)
)

func chapterList(from, to int) []map[string]any {
	var out []map[string]any
	for n := from; n <= to; n++ {
		out = append(out, map[string]any{
			"number":  n,
			"title":   fmt.Sprintf("Chapter title %d", n),
			"summary": fmt.Sprintf("What happens in chapter %d.", n),
		})
	}
	return out
}

func mustJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(data)
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

// story answers every stage of a run with well-formed output.
func story(stage, prompt string) (string, error) {
	switch stage {
	case fiction.StageOutlineDraft:
		n := 1
		if m := draftCount.FindStringSubmatch(prompt); m != nil {
			n = atoi(m[1])
		}
		return mustJSON(map[string]any{"title": "The Salt Road", "logline": "A courier crosses a drowned empire.", "chapters": chapterList(1, n)}), nil
	case fiction.StageOutlineAppend:
		m := appendRange.FindStringSubmatch(prompt)
		return mustJSON(map[string]any{"chapters": chapterList(atoi(m[1]), atoi(m[2]))}), nil
	case fiction.StageSceneOutline:
		return `{"scenes": [{"description": "arrival", "state": "dusk"}, {"description": "departure"}]}`, nil
	case fiction.StageSceneText:
		m := sceneHeader.FindStringSubmatch(prompt)
		return fmt.Sprintf("Prose of chapter %s scene %s.", m[2], m[1]), nil
	case fiction.StageSceneCarry:
		return `{"summary": "Things happened.", "continuity": "Everyone is tired."}`, nil
	}
	return "", fmt.Errorf("unexpected stage %s", stage)
}

func novelOptions(chapters int) pipeline.RunOptions {
	opts := pipeline.DefaultRunOptions()
	opts.Premise = "A courier crosses a drowned empire."
	opts.TargetChapters = chapters
	opts.Critique = false
	return opts
}

func TestRun_Novel(t *testing.T) {
	gw := agent.NewMockGateway().Handle(story)
	store := storage.NewMemory()
	o := pipeline.New(gw, store)

	result, err := o.Run(context.Background(), novelOptions(3))
	require.NoError(t, err)

	assert.Equal(t, pipeline.StatusComplete, result.Status)
	require.Len(t, result.Document.Chapters, 3)
	for i, c := range result.Document.Chapters {
		assert.Equal(t, i+1, c.Number)
		assert.Equal(t,
			fmt.Sprintf("Prose of chapter %d scene 1.%sProse of chapter %d scene 2.", c.Number, fiction.SceneBreak, c.Number),
			c.Text)
	}
	assert.True(t, strings.HasPrefix(result.Document.Text, "# The Salt Road\n"))
	assert.Empty(t, result.Issues)
	assert.Positive(t, result.Words)

	// one draft, one decomposition and two scenes per chapter, one hand-off each
	assert.Len(t, gw.CallsFor(fiction.StageSceneOutline), 3)
	assert.Len(t, gw.CallsFor(fiction.StageSceneText), 6)
	assert.Len(t, gw.CallsFor(fiction.StageSceneCarry), 3)
	assert.Len(t, result.Records, len(gw.Calls()))
	for _, rec := range result.Records {
		assert.Equal(t, o.RunID(), rec.RunID)
		assert.NotEmpty(t, rec.ID)
	}

	ctx := context.Background()
	for _, p := range []string{"novel.md", "outline.md", "chapters/chapter_01.md", "chapters/chapter_03.md", "scenes/chapter_02_scene_02.md"} {
		assert.True(t, store.Exists(ctx, p), p)
	}
	novel, err := store.Load(ctx, "novel.md")
	require.NoError(t, err)
	assert.Equal(t, result.Document.Text, string(novel))

	snap, err := pipeline.LoadSnapshot(ctx, store, o.RunID())
	require.NoError(t, err)
	assert.Equal(t, pipeline.StatusComplete, snap.Status)
	assert.Equal(t, 3, snap.Outline.Count())
	assert.Len(t, snap.Records, len(result.Records))
	require.Len(t, snap.SceneOutlines, 3)
	assert.Equal(t, "Everyone is tired.", snap.SceneOutlines[0][1].State)
}

func TestRun_ShortStory(t *testing.T) {
	gw := agent.NewMockGateway().Handle(story)
	opts := pipeline.DefaultRunOptions()
	opts.Premise = "A lighthouse keeper finds a letter."
	opts.Form = fiction.FormShortStory
	opts.TargetWords = 15000
	opts.Critique = false

	result, err := pipeline.New(gw, storage.NewMemory()).Run(context.Background(), opts)
	require.NoError(t, err)

	assert.Len(t, result.Document.Chapters, 1)
	assert.Empty(t, gw.CallsFor(fiction.StageOutlineAppend))
}

func TestRun_IncompleteChapterDoesNotStopSiblings(t *testing.T) {
	gw := agent.NewMockGateway().Handle(func(stage, prompt string) (string, error) {
		if stage == fiction.StageSceneOutline {
			if m := chapterHeader.FindStringSubmatch(prompt); m != nil && m[1] == "2" {
				return "I would rather not.", nil
			}
		}
		if stage == "scene_outline.repair" {
			return `{"scenes": [{"description": "only one"}]}`, nil
		}
		return story(stage, prompt)
	})

	opts := novelOptions(3)
	opts.ConcurrentChapters = 3
	result, err := pipeline.New(gw, storage.NewMemory()).Run(context.Background(), opts)
	require.NoError(t, err)

	assert.Equal(t, pipeline.StatusPartial, result.Status)
	var numbers []int
	for _, c := range result.Document.Chapters {
		numbers = append(numbers, c.Number)
	}
	assert.Equal(t, []int{1, 3}, numbers)

	require.Len(t, result.Issues, 1)
	assert.Equal(t, core.IssueIncompleteChapter, result.Issues[0].Kind)
	assert.Equal(t, 2, result.Issues[0].Chapter)
	assert.Contains(t, result.Issues[0].Message, "unrepairable")

	var repairs int
	for _, rec := range result.Records {
		if rec.Stage == "scene_outline.repair" {
			repairs++
			assert.Equal(t, "chapter:2/scenes", rec.Unit)
		}
	}
	assert.Equal(t, fiction.DefaultRepairAttempts, repairs)
}

func TestRun_Shortfall(t *testing.T) {
	gw := agent.NewMockGateway().Handle(func(stage, prompt string) (string, error) {
		if stage == fiction.StageOutlineDraft {
			return mustJSON(map[string]any{"title": "T", "chapters": chapterList(1, 2)}), nil
		}
		if stage == fiction.StageOutlineAppend {
			return `{"chapters": []}`, nil
		}
		return story(stage, prompt)
	})

	result, err := pipeline.New(gw, storage.NewMemory()).Run(context.Background(), novelOptions(4))
	require.NoError(t, err)

	assert.Equal(t, pipeline.StatusPartial, result.Status)
	require.NotNil(t, result.Shortfall)
	assert.Equal(t, 2, result.Shortfall.Missing())
	assert.Len(t, result.Document.Chapters, 2)
	assert.Len(t, gw.CallsFor(fiction.StageOutlineAppend), fiction.DefaultAppendAttempts)
}

func TestRun_WebNovelContinuation(t *testing.T) {
	store := storage.NewMemory()
	ctx := context.Background()

	first := pipeline.DefaultRunOptions()
	first.Premise = "A tower grows one floor a night."
	first.Form = fiction.FormWebNovel
	first.TargetChapters = 4
	first.Critique = false

	o := pipeline.New(agent.NewMockGateway().Handle(story), store)
	before, err := o.Run(ctx, first)
	require.NoError(t, err)
	require.Len(t, before.Document.Chapters, 4)

	snap, err := pipeline.LoadSnapshot(ctx, store, o.RunID())
	require.NoError(t, err)

	gw := agent.NewMockGateway().Handle(story)
	next := pipeline.DefaultRunOptions()
	next.Existing = snap
	next.AppendChapters = 2
	next.Events = "The tower falls."
	next.Critique = false

	after, err := pipeline.New(gw, store).Run(ctx, next)
	require.NoError(t, err)

	assert.Equal(t, o.RunID(), after.RunID)
	require.Len(t, after.Document.Chapters, 6)
	for i := 0; i < 4; i++ {
		assert.Equal(t, before.Document.Chapters[i], after.Document.Chapters[i])
		assert.Equal(t, before.Outline.Chapters[i].Digest(), after.Outline.Chapters[i].Digest())
	}

	// only the new chapters are written
	for _, call := range gw.CallsFor(fiction.StageSceneText) {
		m := sceneHeader.FindStringSubmatch(call.Prompt)
		assert.Contains(t, []string{"5", "6"}, m[2])
	}
	appendCalls := gw.CallsFor(fiction.StageOutlineAppend)
	require.Len(t, appendCalls, 1)
	assert.Contains(t, appendCalls[0].Prompt, "The tower falls.")
	assert.Greater(t, len(after.Records), len(gw.Calls()), "earlier records are kept")
}

func TestRun_NewWebNovelDraftsRequestedEvents(t *testing.T) {
	gw := agent.NewMockGateway().Handle(story)

	opts := pipeline.DefaultRunOptions()
	opts.Premise = "A tower grows one floor a night."
	opts.Form = fiction.FormWebNovel
	opts.TargetChapters = 2
	opts.Events = "The climbers reach the hundredth floor."
	opts.Critique = false

	result, err := pipeline.New(gw, storage.NewMemory()).Run(context.Background(), opts)
	require.NoError(t, err)
	require.Len(t, result.Document.Chapters, 2)

	drafts := gw.CallsFor(fiction.StageOutlineDraft)
	require.Len(t, drafts, 1)
	assert.Contains(t, drafts[0].Prompt, "The climbers reach the hundredth floor.")
}

func TestRun_UnrepairableOutlineIsFatal(t *testing.T) {
	gw := agent.NewMockGateway().Default("no outline today")
	store := storage.NewMemory()
	o := pipeline.New(gw, store)

	result, err := o.Run(context.Background(), novelOptions(3))
	require.Error(t, err)
	assert.Nil(t, result)
	assert.True(t, core.IsUnrepairable(err))

	snap, err := pipeline.LoadSnapshot(context.Background(), store, o.RunID())
	require.NoError(t, err)
	assert.Equal(t, pipeline.StatusFailed, snap.Status)
	assert.Len(t, snap.Records, 1+fiction.DefaultRepairAttempts)
}

func TestRun_MissingCredentialsAbort(t *testing.T) {
	gw := agent.NewMockGateway().Handle(func(stage, prompt string) (string, error) {
		if stage == fiction.StageSceneText {
			return "", &core.ProviderError{Provider: "anthropic", Stage: stage, Cause: core.ErrUnauthorized}
		}
		return story(stage, prompt)
	})

	_, err := pipeline.New(gw, storage.NewMemory()).Run(context.Background(), novelOptions(2))
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrUnauthorized)
}

func TestRun_CancellationKeepsSnapshot(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gw := agent.NewMockGateway().Handle(func(stage, prompt string) (string, error) {
		if stage == fiction.StageSceneText {
			if m := sceneHeader.FindStringSubmatch(prompt); m[2] == "2" {
				cancel()
				return "", context.Canceled
			}
		}
		return story(stage, prompt)
	})

	store := storage.NewMemory()
	o := pipeline.New(gw, store)
	opts := novelOptions(3)
	opts.ConcurrentChapters = 1

	result, err := o.Run(ctx, opts)
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, result)
	assert.Equal(t, pipeline.StatusCancelled, result.Status)
	require.Len(t, result.Document.Chapters, 1)
	assert.Equal(t, 1, result.Document.Chapters[0].Number)

	snap, err := pipeline.LoadSnapshot(context.Background(), store, o.RunID())
	require.NoError(t, err)
	assert.Equal(t, pipeline.StatusCancelled, snap.Status)
	assert.Len(t, snap.Records, len(result.Records))
}

func TestRun_RejectsBadOptions(t *testing.T) {
	o := pipeline.New(agent.NewMockGateway(), storage.NewMemory())

	_, err := o.Run(context.Background(), pipeline.DefaultRunOptions())
	assert.ErrorContains(t, err, "premise")

	opts := novelOptions(0)
	_, err = o.Run(context.Background(), opts)
	assert.ErrorContains(t, err, "chapter count")

	opts = pipeline.DefaultRunOptions()
	opts.Existing = &pipeline.Snapshot{Form: fiction.FormNovel, Outline: &fiction.Outline{Title: "T"}}
	opts.AppendChapters = 1
	_, err = o.Run(context.Background(), opts)
	assert.ErrorContains(t, err, "only a web novel")
}

// checkpointLog counts the finished chapters in every checkpoint saved.
type checkpointLog struct {
	core.Storage
	mu       sync.Mutex
	finished []int
}

func (c *checkpointLog) Save(ctx context.Context, path string, data []byte) error {
	if strings.HasPrefix(path, "checkpoints/") {
		var cp core.Checkpoint
		if err := json.Unmarshal(data, &cp); err != nil {
			return err
		}
		var snap pipeline.Snapshot
		if err := json.Unmarshal(cp.State, &snap); err != nil {
			return err
		}
		done := 0
		for _, ch := range snap.Chapters {
			if ch != nil {
				done++
			}
		}
		c.mu.Lock()
		c.finished = append(c.finished, done)
		c.mu.Unlock()
	}
	return c.Storage.Save(ctx, path, data)
}

func TestRun_ConcurrentCheckpointsOnlyMoveForward(t *testing.T) {
	long := strings.Repeat("The tide rose over the causeway. ", 400)
	gw := agent.NewMockGateway().Handle(func(stage, prompt string) (string, error) {
		if stage == fiction.StageSceneText {
			text, err := story(stage, prompt)
			return text + " " + long, err
		}
		return story(stage, prompt)
	})
	store := &checkpointLog{Storage: storage.NewMemory()}

	opts := novelOptions(12)
	opts.ConcurrentChapters = 12
	opts.CarryForward = false
	result, err := pipeline.New(gw, store).Run(context.Background(), opts)
	require.NoError(t, err)
	require.Equal(t, pipeline.StatusComplete, result.Status)

	store.mu.Lock()
	defer store.mu.Unlock()
	require.NotEmpty(t, store.finished)
	assert.IsNonDecreasing(t, store.finished)
	assert.Equal(t, 12, store.finished[len(store.finished)-1])
}
