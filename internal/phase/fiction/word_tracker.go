package fiction

import (
	"fmt"
	"strings"
	"sync"
)

// WordTracker counts words of finished scenes against an optional target.
// Chapter workers record into it concurrently.
type WordTracker struct {
	mu     sync.Mutex
	target int
	scenes map[[2]int]int
}

func NewWordTracker(targetWords int) *WordTracker {
	return &WordTracker{
		target: targetWords,
		scenes: make(map[[2]int]int),
	}
}

// RecordScene stores the count for a scene, replacing any earlier count.
func (wt *WordTracker) RecordScene(text SceneText) int {
	words := CountWords(text.Text)
	wt.mu.Lock()
	wt.scenes[[2]int{text.Chapter, text.Index}] = words
	wt.mu.Unlock()
	return words
}

func (wt *WordTracker) ChapterWords(chapter int) int {
	wt.mu.Lock()
	defer wt.mu.Unlock()

	total := 0
	for key, words := range wt.scenes {
		if key[0] == chapter {
			total += words
		}
	}
	return total
}

func (wt *WordTracker) Total() int {
	wt.mu.Lock()
	defer wt.mu.Unlock()

	total := 0
	for _, words := range wt.scenes {
		total += words
	}
	return total
}

// Progress is Total over the target, 0 without a target.
func (wt *WordTracker) Progress() float64 {
	if wt.target == 0 {
		return 0
	}
	return float64(wt.Total()) / float64(wt.target)
}

func (wt *WordTracker) Summary() string {
	total := wt.Total()
	wt.mu.Lock()
	scenes := len(wt.scenes)
	wt.mu.Unlock()

	if wt.target == 0 {
		return fmt.Sprintf("%d words in %d scenes", total, scenes)
	}
	return fmt.Sprintf("%d of %d target words (%.0f%%) in %d scenes", total, wt.target, wt.Progress()*100, scenes)
}

func CountWords(text string) int {
	return len(strings.Fields(text))
}

// SuggestChapters picks a chapter count for a target length, about a
// thousand words per chapter, clamped to 5..30.
func SuggestChapters(targetWords int) int {
	return min(max(targetWords/1000, 5), 30)
}
