package pipeline_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thomashighbaugh/fiction-fabricator-sub002/internal/agent"
	"github.com/Thomashighbaugh/fiction-fabricator-sub002/internal/phase/fiction"
	"github.com/Thomashighbaugh/fiction-fabricator-sub002/internal/pipeline"
	"github.com/Thomashighbaugh/fiction-fabricator-sub002/internal/storage"
)

type collector struct {
	mu     sync.Mutex
	events []pipeline.Event
}

func (c *collector) handle(_ context.Context, e pipeline.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
	return nil
}

func (c *collector) ofType(eventType string) []pipeline.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []pipeline.Event
	for _, e := range c.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

func TestEventBusPatterns(t *testing.T) {
	bus := pipeline.NewEventBus()
	ctx := context.Background()

	chapters, completed, all := &collector{}, &collector{}, &collector{}
	_, err := bus.Subscribe("chapter.*", chapters.handle, 0)
	require.NoError(t, err)
	_, err = bus.Subscribe("*.completed", completed.handle, 0)
	require.NoError(t, err)
	_, err = bus.Subscribe("**", all.handle, 0)
	require.NoError(t, err)

	for _, typ := range []string{pipeline.EventRunStarted, pipeline.EventChapterStarted, pipeline.EventSceneCompleted, pipeline.EventChapterCompleted} {
		bus.Publish(ctx, pipeline.Event{Type: typ})
	}

	assert.Len(t, chapters.events, 2)
	assert.Len(t, completed.events, 2)
	assert.Len(t, all.events, 4)
	for _, e := range all.events {
		assert.NotEmpty(t, e.ID)
		assert.False(t, e.Timestamp.IsZero())
	}
}

func TestEventBusPriorityAndFailures(t *testing.T) {
	bus := pipeline.NewEventBus()
	ctx := context.Background()

	var order []string
	record := func(name string) pipeline.EventHandler {
		return func(context.Context, pipeline.Event) error {
			order = append(order, name)
			return nil
		}
	}
	_, err := bus.Subscribe("run.*", record("low"), 0)
	require.NoError(t, err)
	_, err = bus.Subscribe("run.*", func(context.Context, pipeline.Event) error { panic("boom") }, 5)
	require.NoError(t, err)
	_, err = bus.Subscribe("run.*", record("high"), 10)
	require.NoError(t, err)
	_, err = bus.Subscribe("run.*", func(context.Context, pipeline.Event) error { return errors.New("nope") }, 1)
	require.NoError(t, err)
	_, err = bus.Subscribe("run.*", record("low-later"), 0)
	require.NoError(t, err)

	bus.Publish(ctx, pipeline.Event{Type: pipeline.EventRunStarted})
	assert.Equal(t, []string{"high", "low", "low-later"}, order)

	published, failed := bus.Stats()
	assert.Equal(t, int64(1), published)
	assert.Equal(t, int64(2), failed)
}

func TestEventBusUnsubscribeAndStop(t *testing.T) {
	bus := pipeline.NewEventBus()
	ctx := context.Background()
	c := &collector{}

	sub, err := bus.Subscribe("**", c.handle, 0)
	require.NoError(t, err)
	bus.Publish(ctx, pipeline.Event{Type: pipeline.EventRunStarted})
	require.NoError(t, bus.Unsubscribe(sub.ID))
	assert.Error(t, bus.Unsubscribe(sub.ID))
	bus.Publish(ctx, pipeline.Event{Type: pipeline.EventRunFinished})
	assert.Len(t, c.events, 1)

	_, err = bus.Subscribe("**", c.handle, 0)
	require.NoError(t, err)
	bus.Stop()
	bus.Publish(ctx, pipeline.Event{Type: pipeline.EventRunFinished})
	assert.Len(t, c.events, 1)

	_, err = bus.Subscribe("", c.handle, 0)
	assert.Error(t, err)
	_, err = bus.Subscribe("run.*", nil, 0)
	assert.Error(t, err)
}

func TestRun_PublishesProgress(t *testing.T) {
	gw := agent.NewMockGateway().Handle(func(stage, prompt string) (string, error) {
		if stage == fiction.StageSceneOutline {
			if m := chapterHeader.FindStringSubmatch(prompt); m != nil && m[1] == "2" {
				return "no scenes today", nil
			}
		}
		if stage == "scene_outline.repair" {
			return "still no scenes", nil
		}
		return story(stage, prompt)
	})

	bus := pipeline.NewEventBus()
	c := &collector{}
	_, err := bus.Subscribe("**", c.handle, 0)
	require.NoError(t, err)

	o := pipeline.New(gw, storage.NewMemory(), pipeline.WithEvents(bus))
	result, err := o.Run(context.Background(), novelOptions(3))
	require.NoError(t, err)
	assert.Equal(t, pipeline.StatusPartial, result.Status)

	require.Len(t, c.ofType(pipeline.EventRunStarted), 1)
	require.Len(t, c.ofType(pipeline.EventOutlineCompleted), 1)
	assert.Len(t, c.ofType(pipeline.EventChapterStarted), 3)
	assert.Len(t, c.ofType(pipeline.EventSceneCompleted), 4)

	var done []int
	for _, e := range c.ofType(pipeline.EventChapterCompleted) {
		done = append(done, e.Chapter)
		assert.Positive(t, e.Words)
	}
	assert.ElementsMatch(t, []int{1, 3}, done)

	failed := c.ofType(pipeline.EventChapterFailed)
	require.Len(t, failed, 1)
	assert.Equal(t, 2, failed[0].Chapter)

	finished := c.ofType(pipeline.EventRunFinished)
	require.Len(t, finished, 1)
	assert.Equal(t, string(pipeline.StatusPartial), finished[0].Message)
	assert.Equal(t, result.Words, finished[0].Words)

	for _, e := range c.events {
		assert.Equal(t, o.RunID(), e.RunID)
	}
}
