package fiction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Thomashighbaugh/fiction-fabricator-sub002/internal/core"
)

// DefaultAppendAttempts bounds shortfall appends per outline.
const DefaultAppendAttempts = 2

// OutlineState tracks an outline through drafting and count enforcement.
type OutlineState int

const (
	OutlineDrafted OutlineState = iota
	OutlineValidated
	OutlineCritiqued
	OutlineShortOfTarget
	OutlineAppending
	OutlineComplete
	OutlineCompletePartial
)

var outlineStateNames = [...]string{
	"drafted", "validated", "critiqued", "short_of_target", "appending", "complete", "complete_partial",
}

func (s OutlineState) String() string {
	if int(s) < len(outlineStateNames) {
		return outlineStateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

func (s OutlineState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *OutlineState) UnmarshalText(text []byte) error {
	for i, name := range outlineStateNames {
		if name == string(text) {
			*s = OutlineState(i)
			return nil
		}
	}
	return fmt.Errorf("unknown outline state %q", text)
}

type OutlineRequest struct {
	Premise        string
	Form           Form
	TargetChapters int
	TargetWords    int
	Lore           string
	// Events the opening chapters must cover; used by new web novels.
	Events string
}

type OutlineResult struct {
	Outline        *Outline
	State          OutlineState
	Target         int
	AppendAttempts int
	// Shortfall is set when enforcement ran out of attempts.
	Shortfall *core.ChapterCountShortfall
}

func (r *OutlineResult) Partial() bool {
	return r.State == OutlineCompletePartial
}

type OutlineSettings struct {
	AppendAttempts int
	// DraftParts splits the first draft of a long novel outline into this
	// many sequential requests. 1 drafts it in one call.
	DraftParts int
}

// OutlineGenerator drafts, improves and enforces the chapter count of an
// outline.
type OutlineGenerator struct {
	tools     Toolkit
	validator *StructureValidator
	engine    *CritiqueReviseEngine
	settings  OutlineSettings
	logger    *slog.Logger
}

func NewOutlineGenerator(tools Toolkit, validator *StructureValidator, engine *CritiqueReviseEngine, settings OutlineSettings) *OutlineGenerator {
	if settings.AppendAttempts < 0 {
		settings.AppendAttempts = DefaultAppendAttempts
	}
	if settings.DraftParts < 1 {
		settings.DraftParts = 1
	}
	return &OutlineGenerator{
		tools:     tools,
		validator: validator,
		engine:    engine,
		settings:  settings,
		logger:    slog.Default().With("component", "planner"),
	}
}

type draftData struct {
	Premise  string
	Form     string
	Chapters int
	Words    int
	Lore     string
	Events   string
}

type appendData struct {
	Title   string
	Premise string
	Lore    string
	Recent  []ChapterOutline
	Events  string
	From    int
	To      int
}

func (g *OutlineGenerator) transition(state *OutlineState, next OutlineState, chapters int) {
	g.logger.Debug("outline state", "from", state.String(), "to", next.String(), "chapters", chapters)
	*state = next
}

// Generate produces a validated outline. For a novel the chapter count is
// driven to the target by appending, never by regenerating; when the
// append attempts run out the result is partial and carries a shortfall.
// An unrepairable first draft is fatal.
func (g *OutlineGenerator) Generate(ctx context.Context, req OutlineRequest) (*OutlineResult, error) {
	target := req.TargetChapters
	if req.Form == FormShortStory {
		target = 1
	}
	if target < 1 {
		return nil, fmt.Errorf("target chapter count must be positive, got %d", target)
	}

	first := target
	if req.Form == FormNovel && g.settings.DraftParts > 1 && target > g.settings.DraftParts {
		first = (target + g.settings.DraftParts - 1) / g.settings.DraftParts
	}

	schema := OutlineSchema(req.Form)
	raw, err := g.tools.call(ctx, StageOutlineDraft, templateOutlineDraft, draftData{
		Premise:  req.Premise,
		Form:     req.Form.Describe(),
		Chapters: first,
		Words:    req.TargetWords,
		Lore:     req.Lore,
		Events:   req.Events,
	}, callMeta{Unit: "outline"})
	if err != nil {
		return nil, fmt.Errorf("drafting outline: %w", err)
	}

	state := OutlineDrafted
	u, err := g.validator.Accept(ctx, "outline", raw, decodeOutline(req.Form), schema)
	if err != nil {
		return nil, err
	}
	outline := u.(*Outline)
	g.transition(&state, OutlineValidated, outline.Count())

	// Remaining parts of a split draft. These are part of drafting, so they
	// do not spend append attempts.
	for part := 2; part <= g.settings.DraftParts && first < target && outline.Count() < target; part++ {
		to := min(outline.Count()+first, target)
		next, added, err := g.appendRange(ctx, outline, req.Premise, req.Lore, to, "", callMeta{Unit: "outline", Round: part})
		if err != nil {
			if core.IsUnrepairable(err) {
				break
			}
			return nil, err
		}
		outline = next
		g.logger.Debug("outline part drafted", "part", part, "added", added, "chapters", outline.Count())
	}

	improved, err := g.engine.Improve(ctx, outline, outlineBrief(req), schema)
	if err != nil {
		return nil, err
	}
	outline = improved.(*Outline)
	g.transition(&state, OutlineCritiqued, outline.Count())

	if req.Form == FormNovel && outline.Count() > target {
		g.logger.Info("trimming outline to target", "chapters", outline.Count(), "target", target)
		outline = outline.Clone()
		outline.Chapters = outline.Chapters[:target]
	}

	result := &OutlineResult{Target: target}
	if req.Form == FormNovel && outline.Count() < target {
		g.transition(&state, OutlineShortOfTarget, outline.Count())
		for attempt := 1; attempt <= g.settings.AppendAttempts && outline.Count() < target; attempt++ {
			g.transition(&state, OutlineAppending, outline.Count())
			result.AppendAttempts++

			next, added, err := g.appendRange(ctx, outline, req.Premise, req.Lore, target, "", callMeta{Unit: "outline", Attempt: attempt})
			switch {
			case err == nil:
				outline = next
			case core.IsUnrepairable(err):
				g.tools.report(core.Issue{
					Kind:    core.IssueAppendRejected,
					Unit:    "outline",
					Message: fmt.Sprintf("append attempt %d produced no usable chapters: %v", attempt, err),
				})
			default:
				return nil, err
			}
			g.logger.Info("outline append", "attempt", attempt, "added", added, "chapters", outline.Count(), "target", target)
			if outline.Count() < target {
				g.transition(&state, OutlineShortOfTarget, outline.Count())
			}
		}
	}

	if err := g.validator.Validate(outline, schema); err != nil {
		return nil, fmt.Errorf("outline failed validation after enforcement: %w", err)
	}

	if req.Form == FormNovel && outline.Count() < target {
		result.Shortfall = &core.ChapterCountShortfall{Target: target, Got: outline.Count()}
		g.transition(&state, OutlineCompletePartial, outline.Count())
		g.tools.report(core.Issue{
			Kind:    core.IssueChapterCountShortfall,
			Unit:    "outline",
			Message: result.Shortfall.Error(),
		})
	} else {
		g.transition(&state, OutlineComplete, outline.Count())
	}

	result.Outline = outline
	result.State = state
	return result, nil
}

// AppendChapters extends an existing web novel outline by count chapters
// in a single request. Chapters already in the outline are never touched.
// There is no shortfall check: whatever the model adds is kept.
func (g *OutlineGenerator) AppendChapters(ctx context.Context, outline *Outline, premise, lore string, count int, events string) (*Outline, int, error) {
	if outline == nil {
		return nil, 0, errors.New("no outline to append to")
	}
	if count < 1 {
		return outline, 0, fmt.Errorf("append count must be positive, got %d", count)
	}

	next, added, err := g.appendRange(ctx, outline, premise, lore, outline.Count()+count, events, callMeta{Unit: "outline", Attempt: 1})
	if err != nil {
		return outline, 0, err
	}
	if err := g.validator.Validate(next, OutlineSchema(outline.Form)); err != nil {
		return outline, 0, err
	}
	g.logger.Info("web novel extended", "requested", count, "added", added, "chapters", next.Count())
	return next, added, nil
}

// appendRange asks for chapters Count()+1..to and returns a new outline
// with whatever came back, renumbered into that range. The input outline is
// not modified.
func (g *OutlineGenerator) appendRange(ctx context.Context, outline *Outline, premise, lore string, to int, events string, meta callMeta) (*Outline, int, error) {
	from := outline.Count() + 1
	raw, err := g.tools.call(ctx, StageOutlineAppend, templateAppend, appendData{
		Title:   outline.Title,
		Premise: premise,
		Lore:    lore,
		Recent:  outline.Tail(2),
		Events:  events,
		From:    from,
		To:      to,
	}, meta)
	if err != nil {
		return outline, 0, err
	}

	u, err := g.validator.Accept(ctx, "outline/append", raw, decodeBatch, batchSchema())
	if err != nil {
		return outline, 0, err
	}

	chapters := u.(*chapterBatch).Chapters
	if want := to - from + 1; len(chapters) > want {
		chapters = chapters[:want]
	}

	next := outline.Clone()
	for i, c := range chapters {
		c.Number = from + i
		next.Chapters = append(next.Chapters, c)
	}
	return next, len(chapters), nil
}

func outlineBrief(req OutlineRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Form: %s\n", req.Form.Describe())
	if req.Form == FormNovel {
		fmt.Fprintf(&b, "Chapters required: %d\n", req.TargetChapters)
	}
	if req.TargetWords > 0 {
		fmt.Fprintf(&b, "Target length: about %d words\n", req.TargetWords)
	}
	if req.Events != "" {
		fmt.Fprintf(&b, "Events to cover: %s\n", req.Events)
	}
	fmt.Fprintf(&b, "Premise: %s", req.Premise)
	return b.String()
}
