package pipeline

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/Thomashighbaugh/fiction-fabricator-sub002/internal/core"
	"github.com/Thomashighbaugh/fiction-fabricator-sub002/internal/phase/fiction"
)

type Status string

const (
	StatusRunning   Status = "running"
	StatusComplete  Status = "complete"
	StatusPartial   Status = "partial"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Snapshot is the persisted state of a project. Per-chapter slices are
// indexed by chapter number minus one.
type Snapshot struct {
	RunID           string                        `json:"run_id"`
	Premise         string                        `json:"premise"`
	Form            fiction.Form                  `json:"form"`
	LoreName        string                        `json:"lore,omitempty"`
	Status          Status                        `json:"status"`
	Outline         *fiction.Outline              `json:"outline,omitempty"`
	OutlineState    fiction.OutlineState          `json:"outline_state"`
	Shortfall       *core.ChapterCountShortfall   `json:"shortfall,omitempty"`
	ChapterOutlines []fiction.ChapterOutline      `json:"chapter_outlines"`
	SceneOutlines   [][]fiction.SceneOutline      `json:"scene_outlines"`
	SceneTexts      [][]fiction.SceneText         `json:"scene_texts"`
	Chapters        []*fiction.Chapter            `json:"chapters"`
	Records         []core.GenerationRecord       `json:"generation_records"`
	Issues          []core.Issue                  `json:"issues"`
	UpdatedAt       time.Time                     `json:"updated_at"`
}

// LoadSnapshot reads the last checkpoint of a run.
func LoadSnapshot(ctx context.Context, storage core.Storage, runID string) (*Snapshot, error) {
	var snap Snapshot
	if _, err := core.NewCheckpointManager(storage).Restore(ctx, runID, &snap); err != nil {
		return nil, fmt.Errorf("loading snapshot %s: %w", runID, err)
	}
	return &snap, nil
}

// ProjectState is the one mutable copy of a run's progress. Chapter workers
// only touch their own chapter's slots.
type ProjectState struct {
	mu   sync.Mutex
	snap Snapshot
}

func newProjectState(runID string, opts RunOptions) *ProjectState {
	s := &ProjectState{snap: Snapshot{
		RunID:    runID,
		Premise:  opts.Premise,
		Form:     opts.Form,
		LoreName: opts.LoreName,
		Status:   StatusRunning,
	}}
	if existing := opts.Existing; existing != nil {
		s.snap.Premise = existing.Premise
		s.snap.Form = existing.Form
		if s.snap.LoreName == "" {
			s.snap.LoreName = existing.LoreName
		}
		s.snap.Outline = existing.Outline.Clone()
		s.snap.OutlineState = existing.OutlineState
		s.snap.ChapterOutlines = slices.Clone(existing.ChapterOutlines)
		s.snap.SceneOutlines = slices.Clone(existing.SceneOutlines)
		s.snap.SceneTexts = slices.Clone(existing.SceneTexts)
		s.snap.Chapters = slices.Clone(existing.Chapters)
	}
	return s
}

// grow makes the per-chapter slices at least n long. Caller holds mu.
func (s *ProjectState) grow(n int) {
	for len(s.snap.ChapterOutlines) < n {
		s.snap.ChapterOutlines = append(s.snap.ChapterOutlines, fiction.ChapterOutline{})
	}
	for len(s.snap.SceneOutlines) < n {
		s.snap.SceneOutlines = append(s.snap.SceneOutlines, nil)
	}
	for len(s.snap.SceneTexts) < n {
		s.snap.SceneTexts = append(s.snap.SceneTexts, nil)
	}
	for len(s.snap.Chapters) < n {
		s.snap.Chapters = append(s.snap.Chapters, nil)
	}
}

func (s *ProjectState) premise() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap.Premise
}

func (s *ProjectState) shortfall() *core.ChapterCountShortfall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap.Shortfall
}

func (s *ProjectState) Outline() *fiction.Outline {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snap.Outline == nil {
		return nil
	}
	return s.snap.Outline.Clone()
}

func (s *ProjectState) setOutline(o *fiction.Outline, state fiction.OutlineState, shortfall *core.ChapterCountShortfall) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.Outline = o.Clone()
	s.snap.OutlineState = state
	s.snap.Shortfall = shortfall
	s.grow(o.Count())
	for i, c := range o.Chapters {
		if s.snap.ChapterOutlines[i].Number == 0 {
			s.snap.ChapterOutlines[i] = c
		}
	}
}

func (s *ProjectState) setChapterOutline(c fiction.ChapterOutline) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.grow(c.Number)
	s.snap.ChapterOutlines[c.Number-1] = c
}

// resetChapter drops any partial scene work left from an earlier attempt.
func (s *ProjectState) resetChapter(chapter int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.grow(chapter)
	s.snap.SceneOutlines[chapter-1] = nil
	s.snap.SceneTexts[chapter-1] = nil
	s.snap.Chapters[chapter-1] = nil
}

func (s *ProjectState) setScenes(chapter int, scenes []fiction.SceneOutline) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.grow(chapter)
	s.snap.SceneOutlines[chapter-1] = slices.Clone(scenes)
}

func (s *ProjectState) addSceneText(text fiction.SceneText) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.grow(text.Chapter)
	s.snap.SceneTexts[text.Chapter-1] = append(s.snap.SceneTexts[text.Chapter-1], text)
}

func (s *ProjectState) setChapter(c fiction.Chapter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.grow(c.Number)
	s.snap.Chapters[c.Number-1] = &c
}

func (s *ProjectState) setStatus(status Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.Status = status
}

// pending lists outline chapters that have no assembled text yet.
func (s *ProjectState) pending() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snap.Outline == nil {
		return nil
	}
	var out []int
	for _, c := range s.snap.Outline.Chapters {
		if c.Number > len(s.snap.Chapters) || s.snap.Chapters[c.Number-1] == nil {
			out = append(out, c.Number)
		}
	}
	return out
}

// assembled returns the finished chapters in order.
func (s *ProjectState) assembled() []fiction.Chapter {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []fiction.Chapter
	for _, c := range s.snap.Chapters {
		if c != nil {
			out = append(out, *c)
		}
	}
	return out
}

// Snapshot copies the state together with the run's records and issues.
func (s *ProjectState) Snapshot(records *core.RecordLog, issues *core.IssueLog) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.snap
	if s.snap.Outline != nil {
		snap.Outline = s.snap.Outline.Clone()
	}
	snap.ChapterOutlines = slices.Clone(s.snap.ChapterOutlines)
	snap.SceneOutlines = make([][]fiction.SceneOutline, len(s.snap.SceneOutlines))
	for i, scenes := range s.snap.SceneOutlines {
		snap.SceneOutlines[i] = slices.Clone(scenes)
	}
	snap.SceneTexts = make([][]fiction.SceneText, len(s.snap.SceneTexts))
	for i, texts := range s.snap.SceneTexts {
		snap.SceneTexts[i] = slices.Clone(texts)
	}
	snap.Chapters = slices.Clone(s.snap.Chapters)
	if records != nil {
		snap.Records = records.All()
	}
	if issues != nil {
		snap.Issues = issues.All()
	}
	snap.UpdatedAt = time.Now()
	return snap
}
