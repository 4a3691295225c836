package fiction_test

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Thomashighbaugh/fiction-fabricator-sub002/internal/agent"
	"github.com/Thomashighbaugh/fiction-fabricator-sub002/internal/core"
	"github.com/Thomashighbaugh/fiction-fabricator-sub002/internal/phase/fiction"
)

type kit struct {
	gateway   *agent.MockGateway
	tools     fiction.Toolkit
	validator *fiction.StructureValidator
	engine    *fiction.CritiqueReviseEngine
}

func newKit(t *testing.T, critique bool) *kit {
	t.Helper()
	gw := agent.NewMockGateway()
	return kitFor(gw, gw, critique)
}

// newCachedKit routes every call through a response cache in front of the
// scripted gateway.
func newCachedKit(t *testing.T) *kit {
	t.Helper()
	gw := agent.NewMockGateway()
	cache, err := agent.NewResponseCache(nil, 64, 0)
	require.NoError(t, err)
	return kitFor(gw, agent.WithCache(gw, cache), false)
}

func kitFor(gw *agent.MockGateway, front agent.Gateway, critique bool) *kit {
	tools := fiction.Toolkit{
		Agents:  agent.NewAgentFactory(front, agent.NewPromptCache(nil)),
		Records: core.NewRecordLog("test-run", nil),
		Issues:  core.NewIssueLog(),
	}
	return &kit{
		gateway:   gw,
		tools:     tools,
		validator: fiction.NewStructureValidator(tools, fiction.DefaultRepairAttempts),
		engine:    fiction.NewCritiqueReviseEngine(tools, nil, critique),
	}
}

func (k *kit) planner(settings fiction.OutlineSettings) *fiction.OutlineGenerator {
	return fiction.NewOutlineGenerator(k.tools, k.validator, k.engine, settings)
}

func chapters(from, to int) []fiction.ChapterOutline {
	var out []fiction.ChapterOutline
	for n := from; n <= to; n++ {
		out = append(out, fiction.ChapterOutline{
			Number:  n,
			Title:   fmt.Sprintf("Part %d", n),
			Summary: fmt.Sprintf("Events of chapter %d.", n),
		})
	}
	return out
}

func outlineJSON(t *testing.T, n int) string {
	t.Helper()
	data, err := json.Marshal(map[string]any{
		"title":    "The Salt Road",
		"logline":  "A courier crosses a drowned empire.",
		"chapters": chapters(1, n),
	})
	require.NoError(t, err)
	return string(data)
}

func batchJSON(t *testing.T, from, to int) string {
	t.Helper()
	data, err := json.Marshal(map[string]any{"chapters": chapters(from, to)})
	require.NoError(t, err)
	return string(data)
}

func requireContiguous(t *testing.T, o *fiction.Outline) {
	t.Helper()
	for i, c := range o.Chapters {
		require.Equal(t, i+1, c.Number, "chapter at position %d", i+1)
	}
}
