package main

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/Thomashighbaugh/fiction-fabricator-sub002/internal/pipeline"
)

// progressPrinter writes one line per milestone. Scene events only show
// with --verbose.
func progressPrinter(w io.Writer) pipeline.EventHandler {
	var mu sync.Mutex
	return func(_ context.Context, e pipeline.Event) error {
		var line string
		switch e.Type {
		case pipeline.EventRunStarted:
			line = fmt.Sprintf("started %s", e.Message)
		case pipeline.EventOutlineCompleted:
			line = fmt.Sprintf("outline ready: %s", e.Message)
		case pipeline.EventChapterStarted:
			line = fmt.Sprintf("chapter %d: %s", e.Chapter, e.Message)
		case pipeline.EventSceneCompleted:
			if !verbose {
				return nil
			}
			line = fmt.Sprintf("chapter %d scene %d written (%d words)", e.Chapter, e.Scene, e.Words)
		case pipeline.EventChapterCompleted:
			line = fmt.Sprintf("chapter %d done (%d words)", e.Chapter, e.Words)
		case pipeline.EventChapterFailed:
			line = fmt.Sprintf("chapter %d incomplete: %s", e.Chapter, e.Message)
		case pipeline.EventRunFinished:
			line = fmt.Sprintf("finished: %s, %d words", e.Message, e.Words)
		default:
			return nil
		}

		mu.Lock()
		defer mu.Unlock()
		_, err := fmt.Fprintf(w, "[%s] %s\n", e.Timestamp.Format("15:04:05"), line)
		return err
	}
}
