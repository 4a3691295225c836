package fiction_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thomashighbaugh/fiction-fabricator-sub002/internal/agent"
	"github.com/Thomashighbaugh/fiction-fabricator-sub002/internal/core"
	"github.com/Thomashighbaugh/fiction-fabricator-sub002/internal/phase/fiction"
)

func threeScenes() *fiction.SceneOutlines {
	return &fiction.SceneOutlines{Chapter: 2, Scenes: []fiction.SceneOutline{
		{Chapter: 2, Index: 1, Description: "the market", State: "dawn"},
		{Chapter: 2, Index: 2, Description: "the chase"},
		{Chapter: 2, Index: 3, Description: "the harbor"},
	}}
}

func TestCritiqueReviseEngine_ReplacesWholeUnit(t *testing.T) {
	k := newKit(t, true)
	k.gateway.
		Script("scene_outline.critique", "The chase drags; merge it.").
		Script("scene_outline.revise", `{"scenes": [{"description": "the market and chase"}, {"description": "the harbor"}]}`)

	u, err := k.engine.Improve(context.Background(), threeScenes(), "chapter two", fiction.SceneOutlineSchema(2, 6))
	require.NoError(t, err)

	got := u.(*fiction.SceneOutlines)
	require.Len(t, got.Scenes, 2, "no scene from the old version survives")
	assert.Equal(t, "the market and chase", got.Scenes[0].Description)
	assert.Empty(t, got.Scenes[0].State, "fields absent from the revision are not carried over")
	assert.Equal(t, 2, got.Chapter)

	revise := k.gateway.CallsFor("scene_outline.revise")
	require.Len(t, revise, 1)
	assert.Contains(t, revise[0].Prompt, "The chase drags")
	assert.Contains(t, revise[0].Prompt, "the harbor")

	for _, rec := range k.tools.Records.All() {
		assert.Equal(t, 1, rec.Round)
		assert.Equal(t, "chapter:2/scenes", rec.Unit)
	}
}

func TestCritiqueReviseEngine_SkipsWithoutFailing(t *testing.T) {
	tests := []struct {
		name  string
		setup func(k *kit)
	}{
		{"critique provider error", func(k *kit) {
			k.gateway.Fail("scene_outline.critique", errors.New("503"))
		}},
		{"empty critique", func(k *kit) {
			k.gateway.Script("scene_outline.critique", "   ")
		}},
		{"revise provider error", func(k *kit) {
			k.gateway.Script("scene_outline.critique", "fix it").Fail("scene_outline.revise", errors.New("503"))
		}},
		{"degenerate revision", func(k *kit) {
			k.gateway.Script("scene_outline.critique", "fix it").Script("scene_outline.revise", `{"scenes": [{"description": "only one"}]}`)
		}},
		{"unparseable revision", func(k *kit) {
			k.gateway.Script("scene_outline.critique", "fix it").Script("scene_outline.revise", "Sure! Here you go.")
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			k := newKit(t, true)
			tt.setup(k)
			original := threeScenes()

			u, err := k.engine.Improve(context.Background(), original, "", fiction.SceneOutlineSchema(2, 6))
			require.NoError(t, err)
			assert.Same(t, original, u)

			issues := k.tools.Issues.All()
			require.Len(t, issues, 1)
			assert.Equal(t, core.IssueRevisionSkipped, issues[0].Kind)
			assert.Equal(t, 2, issues[0].Chapter)
		})
	}
}

func TestCritiqueReviseEngine_Disabled(t *testing.T) {
	k := newKit(t, false)
	original := threeScenes()
	u, err := k.engine.Improve(context.Background(), original, "", fiction.SceneOutlineSchema(2, 6))
	require.NoError(t, err)
	assert.Same(t, original, u)
	assert.Empty(t, k.gateway.Calls())
}

func TestCritiqueReviseEngine_Cancelled(t *testing.T) {
	k := newKit(t, true)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := k.engine.Improve(ctx, threeScenes(), "", fiction.SceneOutlineSchema(2, 6))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, k.tools.Issues.All())
}

func TestCritiqueReviseEngine_CustomPair(t *testing.T) {
	gw := agent.NewMockGateway()
	tools := fiction.Toolkit{
		Agents: agent.NewAgentFactory(gw, agent.NewPromptCache(map[string]string{
			"terse_critique": "Critique briefly: {{.Content}}",
		})),
		Records: core.NewRecordLog("test-run", nil),
		Issues:  core.NewIssueLog(),
	}
	engine := fiction.NewCritiqueReviseEngine(tools, map[fiction.Kind]fiction.PromptPair{
		fiction.KindSceneText: {Critique: "terse_critique"},
	}, true)

	gw.
		Script("scene_text.critique", "more sensory detail").
		Script("scene_text.revise", "Rain hammered the tin roof.")
	u, err := engine.Improve(context.Background(), fiction.SceneText{Chapter: 1, Index: 1, Text: "It rained."}, "", fiction.SceneTextSchema(1))
	require.NoError(t, err)
	assert.Equal(t, "Rain hammered the tin roof.", u.(fiction.SceneText).Text)

	critique := gw.CallsFor("scene_text.critique")
	require.Len(t, critique, 1)
	assert.Equal(t, "Critique briefly: It rained.", critique[0].Prompt)
	assert.Contains(t, gw.CallsFor("scene_text.revise")[0].Prompt, "more sensory detail", "the default revise template is kept")
}
