package fiction

import (
	"context"
	"time"

	"github.com/Thomashighbaugh/fiction-fabricator-sub002/internal/agent"
	"github.com/Thomashighbaugh/fiction-fabricator-sub002/internal/core"
)

// Toolkit is what every generation step needs: agents to talk to the model,
// the record log every call lands in, and the issue log for soft failures.
type Toolkit struct {
	Agents  *agent.AgentFactory
	Records *core.RecordLog
	Issues  *core.IssueLog
}

type callMeta struct {
	Unit    string
	Round   int
	Attempt int
}

// call renders template, sends it under stage and records the exchange,
// failed calls included.
func (t Toolkit) call(ctx context.Context, stage, template string, data any, meta callMeta) (string, error) {
	a := t.Agents.Agent(stage, template)
	prompt, err := a.Prompt(data)
	if err != nil {
		return "", err
	}

	started := time.Now()
	callCtx, hit := agent.TrackCacheHits(ctx)
	response, err := a.SendAttempt(callCtx, prompt, meta.Attempt)
	rec := core.GenerationRecord{
		Stage:      stage,
		Unit:       meta.Unit,
		Round:      meta.Round,
		Attempt:    meta.Attempt,
		Prompt:     prompt,
		Response:   response,
		Cached:     hit.Load(),
		StartedAt:  started,
		FinishedAt: time.Now(),
	}
	if err != nil {
		rec.Error = err.Error()
	}
	if t.Records != nil {
		t.Records.Append(ctx, rec)
	}
	return response, err
}

func (t Toolkit) report(issue core.Issue) {
	if t.Issues != nil {
		t.Issues.Report(issue)
	}
}

// chapterOf extracts the chapter a unit belongs to, 0 for the outline.
func chapterOf(u Unit) int {
	switch v := u.(type) {
	case ChapterOutline:
		return v.Number
	case *SceneOutlines:
		return v.Chapter
	case SceneText:
		return v.Chapter
	}
	return 0
}
