package fiction

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Thomashighbaugh/fiction-fabricator-sub002/internal/core"
)

// CritiqueReviseEngine runs one critique then revise round on a unit. A
// failed round never fails the unit: the pre-revision version is kept and
// a revision_skipped issue is reported.
type CritiqueReviseEngine struct {
	tools   Toolkit
	pairs   map[Kind]PromptPair
	enabled bool
	logger  *slog.Logger
}

func NewCritiqueReviseEngine(tools Toolkit, pairs map[Kind]PromptPair, enabled bool) *CritiqueReviseEngine {
	merged := DefaultPromptPairs()
	for kind, pair := range pairs {
		if pair.Critique != "" {
			p := merged[kind]
			p.Critique = pair.Critique
			merged[kind] = p
		}
		if pair.Revise != "" {
			p := merged[kind]
			p.Revise = pair.Revise
			merged[kind] = p
		}
	}
	return &CritiqueReviseEngine{
		tools:   tools,
		pairs:   merged,
		enabled: enabled,
		logger:  slog.Default().With("component", "critic"),
	}
}

type critiqueData struct {
	Kind    string
	Context string
	Content string
}

type reviseData struct {
	Kind     string
	Context  string
	Content  string
	Critique string
	Format   string
}

// Improve returns the revised unit, or u unchanged when any step of the
// round fails. The only error is cancellation of ctx.
func (e *CritiqueReviseEngine) Improve(ctx context.Context, u Unit, brief string, schema Schema) (Unit, error) {
	if !e.enabled {
		return u, nil
	}

	kind := u.Kind()
	pair := e.pairs[kind]
	meta := callMeta{Unit: u.Key(), Round: 1}
	start := time.Now()

	critique, err := e.tools.call(ctx, stageFor(kind, actionCritique), pair.Critique, critiqueData{
		Kind:    kind.Describe(),
		Context: brief,
		Content: u.Body(),
	}, meta)
	if err != nil {
		return e.skip(ctx, u, fmt.Sprintf("critique failed: %v", err))
	}
	if strings.TrimSpace(critique) == "" {
		return e.skip(ctx, u, "critique was empty")
	}

	revised, err := e.tools.call(ctx, stageFor(kind, actionRevise), pair.Revise, reviseData{
		Kind:     kind.Describe(),
		Context:  brief,
		Content:  u.Body(),
		Critique: critique,
		Format:   schema.Shape,
	}, meta)
	if err != nil {
		return e.skip(ctx, u, fmt.Sprintf("revise failed: %v", err))
	}
	if strings.TrimSpace(revised) == "" {
		return e.skip(ctx, u, "revision was empty")
	}

	next, err := u.Replace(revised)
	if err != nil {
		return e.skip(ctx, u, fmt.Sprintf("revision unparseable: %v", err))
	}
	if err := schema.Check(next); err != nil {
		return e.skip(ctx, u, fmt.Sprintf("revision rejected: %v", err))
	}

	e.logger.Debug("unit revised", "unit", u.Key(), "duration", time.Since(start))
	return next, nil
}

func (e *CritiqueReviseEngine) skip(ctx context.Context, u Unit, reason string) (Unit, error) {
	if err := ctx.Err(); err != nil {
		return u, err
	}
	e.tools.report(core.Issue{
		Kind:    core.IssueRevisionSkipped,
		Unit:    u.Key(),
		Chapter: chapterOf(u),
		Message: fmt.Sprintf("%s: %s", core.ErrRevisionSkipped, reason),
	})
	return u, nil
}
