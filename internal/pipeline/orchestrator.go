package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Thomashighbaugh/fiction-fabricator-sub002/internal/agent"
	"github.com/Thomashighbaugh/fiction-fabricator-sub002/internal/core"
	"github.com/Thomashighbaugh/fiction-fabricator-sub002/internal/phase/fiction"
)

// RunResult is what a run hands back: the document plus everything that
// went wrong on the way without stopping it.
type RunResult struct {
	RunID     string
	Status    Status
	Document  fiction.NarrativeDocument
	Outline   *fiction.Outline
	Shortfall *core.ChapterCountShortfall
	Issues    []core.Issue
	Records   []core.GenerationRecord
	Words     int
}

type Orchestrator struct {
	gateway agent.Gateway
	storage core.Storage
	prompts *agent.PromptCache
	sink    core.RecordSink
	events  *EventBus
	logger  *slog.Logger
	runID   string
}

type Option func(*Orchestrator)

func WithPrompts(prompts *agent.PromptCache) Option {
	return func(o *Orchestrator) {
		o.prompts = prompts
	}
}

// WithRecordSink mirrors every generation record into sink as it happens.
func WithRecordSink(sink core.RecordSink) Option {
	return func(o *Orchestrator) {
		o.sink = sink
	}
}

// WithEvents publishes run progress on bus.
func WithEvents(bus *EventBus) Option {
	return func(o *Orchestrator) {
		o.events = bus
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

func WithRunID(runID string) Option {
	return func(o *Orchestrator) {
		o.runID = runID
	}
}

func New(gateway agent.Gateway, storage core.Storage, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		gateway: gateway,
		storage: storage,
		logger:  slog.Default().With("component", "pipeline"),
		runID:   uuid.New().String(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.prompts == nil {
		o.prompts = agent.NewPromptCache(nil)
	}
	return o
}

func (o *Orchestrator) RunID() string {
	return o.runID
}

// run holds the per-run collaborators.
type run struct {
	id          string
	opts        RunOptions
	storage     core.Storage
	logger      *slog.Logger
	state       *ProjectState
	records     *core.RecordLog
	issues      *core.IssueLog
	events      *EventBus
	checkpoints *core.CheckpointManager
	tracker     *core.SceneTracker
	words       *fiction.WordTracker
	planner     *fiction.OutlineGenerator
	decomposer  *fiction.SceneDecomposer
	writer      *fiction.SceneWriter
	assembler   *fiction.Assembler
}

// Run produces a narrative document. Chapter failures become issues and
// leave the rest of the document intact; an unrepairable outline, missing
// credentials and cancellation end the run with an error. The project
// snapshot is saved in every case, and on cancellation the partial result
// is returned alongside the error.
func (o *Orchestrator) Run(ctx context.Context, opts RunOptions) (*RunResult, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}

	runID := o.runID
	if opts.continuing() && opts.Existing.RunID != "" {
		runID = opts.Existing.RunID
	}
	r := o.newRun(runID, opts)

	start := time.Now()
	r.logger.Info("run started", "form", opts.Form.String(), "chapters", opts.TargetChapters, "continuing", opts.continuing())

	r.publish(ctx, Event{Type: EventRunStarted, Message: opts.Form.Describe()})

	err := r.execute(ctx)
	status := r.finish(err)
	result := r.result(status)
	r.publish(ctx, Event{Type: EventRunFinished, Message: string(status), Words: result.Words})

	r.logger.Info("run finished",
		"status", status,
		"chapters", len(result.Document.Chapters),
		"issues", len(result.Issues),
		"calls", len(result.Records),
		"words", r.words.Summary(),
		"duration", time.Since(start))

	if err != nil {
		if status == StatusCancelled {
			return result, err
		}
		return nil, err
	}
	return result, nil
}

func (o *Orchestrator) newRun(runID string, opts RunOptions) *run {
	records := core.NewRecordLog(runID, o.sink)
	issues := core.NewIssueLog()
	if opts.continuing() {
		records.Restore(opts.Existing.Records)
	}

	tools := fiction.Toolkit{
		Agents:  agent.NewAgentFactory(o.gateway, o.prompts),
		Records: records,
		Issues:  issues,
	}
	validator := fiction.NewStructureValidator(tools, opts.RepairAttempts)
	engine := fiction.NewCritiqueReviseEngine(tools, opts.PromptPairs, opts.Critique)

	return &run{
		id:          runID,
		opts:        opts,
		storage:     o.storage,
		logger:      o.logger.With("run_id", runID),
		state:       newProjectState(runID, opts),
		records:     records,
		issues:      issues,
		events:      o.events,
		checkpoints: core.NewCheckpointManager(o.storage),
		tracker:     core.NewSceneTracker(o.storage, runID),
		words:       fiction.NewWordTracker(opts.TargetWords),
		planner: fiction.NewOutlineGenerator(tools, validator, engine, fiction.OutlineSettings{
			AppendAttempts: opts.AppendAttempts,
			DraftParts:     opts.DraftParts,
		}),
		decomposer: fiction.NewSceneDecomposer(tools, validator, engine),
		writer: fiction.NewSceneWriter(tools, validator, engine, fiction.WriterSettings{
			ContextRunes: opts.SceneContextRunes,
			LoreRunes:    opts.LoreExcerptRunes,
			CarryForward: opts.CarryForward,
		}),
		assembler: fiction.NewAssembler(),
	}
}

func (r *run) execute(ctx context.Context) error {
	if err := r.outline(ctx); err != nil {
		return err
	}
	r.checkpoint(ctx, "outline")
	if outline := r.state.Outline(); outline != nil {
		r.publish(ctx, Event{
			Type:    EventOutlineCompleted,
			Message: fmt.Sprintf("%q, %d chapters", outline.Title, outline.Count()),
		})
	}

	pending := r.state.pending()
	r.logger.Info("writing chapters", "pending", len(pending))

	pool := core.NewWorkerPool[int](r.opts.ConcurrentChapters)
	if err := pool.Run(ctx, pending, r.chapter); err != nil {
		return err
	}
	return ctx.Err()
}

func (r *run) outline(ctx context.Context) error {
	if r.opts.continuing() {
		current := r.state.Outline()
		extended, added, err := r.planner.AppendChapters(ctx, current, r.state.premise(), r.opts.lore(r.state.premise()), r.opts.AppendChapters, r.opts.Events)
		if err != nil {
			return fmt.Errorf("extending outline: %w", err)
		}
		r.state.setOutline(extended, fiction.OutlineComplete, nil)
		r.logger.Info("outline extended", "added", added, "chapters", extended.Count())
		return nil
	}

	result, err := r.planner.Generate(ctx, fiction.OutlineRequest{
		Premise:        r.opts.Premise,
		Form:           r.opts.Form,
		TargetChapters: r.opts.TargetChapters,
		TargetWords:    r.opts.TargetWords,
		Lore:           r.opts.lore(r.opts.Premise),
		Events:         r.opts.Events,
	})
	if err != nil {
		return err
	}
	r.state.setOutline(result.Outline, result.State, result.Shortfall)
	return r.save(ctx, "outline.md", []byte(result.Outline.Markdown()))
}

// chapter runs one chapter from plan refinement to assembled text. Only
// errors that should end the run are returned.
func (r *run) chapter(ctx context.Context, number int) error {
	outline := r.state.Outline()
	plan, ok := outline.Chapter(number)
	if !ok {
		return fmt.Errorf("chapter %d is not in the outline", number)
	}
	prev, next := outline.Neighbors(number)
	cc := fiction.ChapterContext{Premise: r.state.premise(), Previous: prev, Next: next}

	logger := r.logger.With("chapter", number)
	logger.Debug("chapter started")
	r.publish(ctx, Event{Type: EventChapterStarted, Chapter: number, Message: plan.Title})
	r.state.resetChapter(number)

	plan, err := r.decomposer.Refine(ctx, plan, cc)
	if err != nil {
		return err
	}
	r.state.setChapterOutline(plan)

	scenes, err := r.decomposer.Decompose(ctx, plan, cc, r.opts.MaxScenes)
	if err != nil {
		return r.incomplete(ctx, number, nil, nil, err)
	}
	r.state.setScenes(number, scenes.Scenes)

	texts, err := r.writer.WriteChapter(ctx, plan, scenes, r.opts.Lore, func(text fiction.SceneText, current *fiction.SceneOutlines) {
		r.state.addSceneText(text)
		r.state.setScenes(number, current.Scenes)
		r.words.RecordScene(text)
		if err := r.tracker.MarkCompleted(context.WithoutCancel(ctx), text.Chapter, text.Index, text.Text); err != nil {
			logger.Warn("failed to persist scene", "scene", text.Index, "error", err)
		}
		r.publish(ctx, Event{Type: EventSceneCompleted, Chapter: text.Chapter, Scene: text.Index, Words: fiction.CountWords(text.Text)})
	})
	if err != nil {
		failed := len(texts) + 1
		if trackErr := r.tracker.MarkFailed(context.WithoutCancel(ctx), number, failed, err); trackErr != nil {
			logger.Warn("failed to persist scene failure", "scene", failed, "error", trackErr)
		}
		return r.incomplete(ctx, number, scenes.Scenes, texts, err)
	}

	assembled, err := r.assembler.Assemble(plan, scenes.Scenes, texts)
	if err != nil {
		return r.incomplete(ctx, number, scenes.Scenes, texts, err)
	}
	r.state.setChapter(assembled)

	if err := r.save(ctx, fmt.Sprintf("chapters/chapter_%02d.md", number), []byte(assembled.Markdown())); err != nil {
		logger.Warn("failed to save chapter", "error", err)
	}
	r.checkpoint(ctx, fmt.Sprintf("chapter_%d", number))
	logger.Info("chapter complete", "scenes", len(texts), "words", r.words.ChapterWords(number))
	r.publish(ctx, Event{Type: EventChapterCompleted, Chapter: number, Words: r.words.ChapterWords(number), Message: plan.Title})
	return nil
}

// incomplete turns a chapter failure into an issue unless it has to end the
// run.
func (r *run) incomplete(ctx context.Context, number int, scenes []fiction.SceneOutline, texts []fiction.SceneText, cause error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if core.IsTerminal(cause) {
		return cause
	}

	var incomplete *core.IncompleteChapterError
	if !errors.As(cause, &incomplete) {
		done := make(map[int]bool, len(texts))
		for _, t := range texts {
			done[t.Index] = true
		}
		var missing []int
		for _, s := range scenes {
			if !done[s.Index] {
				missing = append(missing, s.Index)
			}
		}
		incomplete = &core.IncompleteChapterError{Chapter: number, Missing: missing, Cause: cause}
	}

	r.issues.Report(core.Issue{
		Kind:    core.IssueIncompleteChapter,
		Unit:    fmt.Sprintf("chapter:%d", number),
		Chapter: number,
		Message: incomplete.Error(),
	})
	r.publish(ctx, Event{Type: EventChapterFailed, Chapter: number, Message: incomplete.Error()})
	return nil
}

// finish settles the final status and writes the outputs. It runs even when
// the run failed or was cancelled.
func (r *run) finish(err error) Status {
	ctx := context.Background()

	status := StatusComplete
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = StatusCancelled
	case err != nil:
		status = StatusFailed
	case r.state.shortfall() != nil, r.issues.Count(core.IssueIncompleteChapter) > 0:
		status = StatusPartial
	}
	r.state.setStatus(status)

	if outline := r.state.Outline(); outline != nil {
		doc := r.document()
		if saveErr := r.save(ctx, "novel.md", []byte(doc.Text)); saveErr != nil {
			r.logger.Warn("failed to save document", "error", saveErr)
		}
		if saveErr := r.save(ctx, "outline.md", []byte(outline.Markdown())); saveErr != nil {
			r.logger.Warn("failed to save outline", "error", saveErr)
		}
	}
	r.checkpoint(ctx, string(status))
	return status
}

func (r *run) document() fiction.NarrativeDocument {
	outline := r.state.Outline()
	if outline == nil {
		return fiction.NarrativeDocument{}
	}
	return r.assembler.AssembleDocument(outline.Title, outline.Logline, r.state.assembled())
}

func (r *run) result(status Status) *RunResult {
	snap := r.state.Snapshot(r.records, r.issues)
	return &RunResult{
		RunID:     r.id,
		Status:    status,
		Document:  r.document(),
		Outline:   snap.Outline,
		Shortfall: snap.Shortfall,
		Issues:    snap.Issues,
		Records:   snap.Records,
		Words:     r.words.Total(),
	}
}

func (r *run) publish(ctx context.Context, event Event) {
	if r.events == nil {
		return
	}
	event.RunID = r.id
	r.events.Publish(context.WithoutCancel(ctx), event)
}

func (r *run) save(ctx context.Context, path string, data []byte) error {
	return r.storage.Save(context.WithoutCancel(ctx), path, data)
}

// checkpoint persists the snapshot. Failures are logged, never fatal.
func (r *run) checkpoint(ctx context.Context, stage string) {
	capture := func() any { return r.state.Snapshot(r.records, r.issues) }
	if err := r.checkpoints.SaveCaptured(context.WithoutCancel(ctx), r.id, stage, capture); err != nil {
		r.logger.Warn("checkpoint failed", "stage", stage, "error", err)
	}
}
