package core

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// SceneProgress tracks scene completion for a run
type SceneProgress struct {
	RunID           string                 `json:"run_id"`
	CompletedScenes map[string]SceneResult `json:"completed_scenes"` // Key: "chapter_X_scene_Y"
	FailedScenes    map[string]SceneError  `json:"failed_scenes"`
	StartTime       time.Time              `json:"start_time"`
	LastUpdate      time.Time              `json:"last_update"`
}

type SceneResult struct {
	Chapter     int       `json:"chapter"`
	Scene       int       `json:"scene"`
	Runes       int       `json:"runes"`
	CompletedAt time.Time `json:"completed_at"`
}

type SceneError struct {
	Chapter   int       `json:"chapter"`
	Scene     int       `json:"scene"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

// SceneTracker persists every finished scene as soon as it exists so that a
// cancelled run can be inspected scene by scene. Safe for concurrent chapters.
type SceneTracker struct {
	storage  Storage
	mu       sync.RWMutex
	progress *SceneProgress
}

func NewSceneTracker(storage Storage, runID string) *SceneTracker {
	return &SceneTracker{
		storage: storage,
		progress: &SceneProgress{
			RunID:           runID,
			CompletedScenes: make(map[string]SceneResult),
			FailedScenes:    make(map[string]SceneError),
			StartTime:       time.Now(),
			LastUpdate:      time.Now(),
		},
	}
}

func sceneKey(chapter, scene int) string {
	return fmt.Sprintf("chapter_%d_scene_%d", chapter, scene)
}

func (t *SceneTracker) saveProgress(ctx context.Context) error {
	t.progress.LastUpdate = time.Now()

	data, err := json.MarshalIndent(t.progress, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling progress: %w", err)
	}

	return t.storage.Save(ctx, fmt.Sprintf("progress/scenes_%s.json", t.progress.RunID), data)
}

func (t *SceneTracker) MarkCompleted(ctx context.Context, chapter, scene int, text string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	sceneFile := fmt.Sprintf("scenes/chapter_%02d_scene_%02d.md", chapter, scene)
	if err := t.storage.Save(ctx, sceneFile, []byte(text)); err != nil {
		return fmt.Errorf("saving scene content: %w", err)
	}

	key := sceneKey(chapter, scene)
	t.progress.CompletedScenes[key] = SceneResult{
		Chapter:     chapter,
		Scene:       scene,
		Runes:       len([]rune(text)),
		CompletedAt: time.Now(),
	}
	delete(t.progress.FailedScenes, key)

	return t.saveProgress(ctx)
}

func (t *SceneTracker) MarkFailed(ctx context.Context, chapter, scene int, err error) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.progress.FailedScenes[sceneKey(chapter, scene)] = SceneError{
		Chapter:   chapter,
		Scene:     scene,
		Error:     err.Error(),
		Timestamp: time.Now(),
	}

	return t.saveProgress(ctx)
}

func (t *SceneTracker) IsCompleted(chapter, scene int) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	_, ok := t.progress.CompletedScenes[sceneKey(chapter, scene)]
	return ok
}

func (t *SceneTracker) Stats() SceneProgressStats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return SceneProgressStats{
		Completed:  len(t.progress.CompletedScenes),
		Failed:     len(t.progress.FailedScenes),
		StartTime:  t.progress.StartTime,
		LastUpdate: t.progress.LastUpdate,
	}
}

type SceneProgressStats struct {
	Completed  int       `json:"completed"`
	Failed     int       `json:"failed"`
	StartTime  time.Time `json:"start_time"`
	LastUpdate time.Time `json:"last_update"`
}
