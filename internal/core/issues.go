package core

import (
	"log/slog"
	"sync"
	"time"
)

type IssueKind string

const (
	IssueRevisionSkipped       IssueKind = "revision_skipped"
	IssueChapterCountShortfall IssueKind = "chapter_count_shortfall"
	IssueIncompleteChapter     IssueKind = "incomplete_chapter"
	IssueCarryForwardSkipped   IssueKind = "carry_forward_skipped"
	IssueAppendRejected        IssueKind = "append_rejected"
)

// Issue is a non-fatal event surfaced to the caller alongside the document.
type Issue struct {
	Kind    IssueKind `json:"kind"`
	Unit    string    `json:"unit"`
	Chapter int       `json:"chapter,omitempty"`
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
}

// IssueLog collects issues from concurrent chapter workers.
type IssueLog struct {
	mu     sync.Mutex
	issues []Issue
	logger *slog.Logger
}

func NewIssueLog() *IssueLog {
	return &IssueLog{
		logger: slog.Default().With("component", "issues"),
	}
}

func (l *IssueLog) Report(issue Issue) {
	if issue.Time.IsZero() {
		issue.Time = time.Now()
	}

	l.mu.Lock()
	l.issues = append(l.issues, issue)
	l.mu.Unlock()

	l.logger.Warn("pipeline issue",
		"kind", issue.Kind,
		"unit", issue.Unit,
		"chapter", issue.Chapter,
		"message", issue.Message)
}

func (l *IssueLog) All() []Issue {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Issue, len(l.issues))
	copy(out, l.issues)
	return out
}

func (l *IssueLog) Count(kind IssueKind) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := 0
	for _, issue := range l.issues {
		if issue.Kind == kind {
			n++
		}
	}
	return n
}
