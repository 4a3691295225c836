package core

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// Checkpoint wraps one persisted project snapshot. State is kept raw so the
// manager stays independent of the snapshot type.
type Checkpoint struct {
	ID        string          `json:"id"`
	Stage     string          `json:"stage"`
	Timestamp time.Time       `json:"timestamp"`
	Saves     int             `json:"saves"`
	State     json.RawMessage `json:"state"`
}

type CheckpointManager struct {
	storage Storage
	mu      sync.Mutex
	saves   map[string]int
}

func NewCheckpointManager(storage Storage) *CheckpointManager {
	return &CheckpointManager{
		storage: storage,
		saves:   make(map[string]int),
	}
}

func checkpointPath(id string) string {
	return fmt.Sprintf("checkpoints/%s.json", id)
}

// Save writes state under id. Concurrent saves for the same run are
// serialized so the file always holds one complete snapshot.
func (cm *CheckpointManager) Save(ctx context.Context, id, stage string, state any) error {
	return cm.SaveCaptured(ctx, id, stage, func() any { return state })
}

// SaveCaptured calls capture and writes its result while holding the save
// lock. Writers that race never replace a newer snapshot with an older one.
func (cm *CheckpointManager) SaveCaptured(ctx context.Context, id, stage string, capture func() any) error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	raw, err := json.Marshal(capture())
	if err != nil {
		return fmt.Errorf("marshaling checkpoint state: %w", err)
	}

	cm.saves[id]++
	checkpoint := &Checkpoint{
		ID:        id,
		Stage:     stage,
		Timestamp: time.Now(),
		Saves:     cm.saves[id],
		State:     raw,
	}

	data, err := json.MarshalIndent(checkpoint, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling checkpoint: %w", err)
	}

	return cm.storage.Save(ctx, checkpointPath(id), data)
}

func (cm *CheckpointManager) Load(ctx context.Context, id string) (*Checkpoint, error) {
	data, err := cm.storage.Load(ctx, checkpointPath(id))
	if err != nil {
		return nil, fmt.Errorf("loading checkpoint: %w", err)
	}

	var checkpoint Checkpoint
	if err := json.Unmarshal(data, &checkpoint); err != nil {
		return nil, fmt.Errorf("unmarshaling checkpoint: %w", err)
	}

	return &checkpoint, nil
}

// Restore loads the checkpoint for id and decodes its state into into.
func (cm *CheckpointManager) Restore(ctx context.Context, id string, into any) (*Checkpoint, error) {
	checkpoint, err := cm.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(checkpoint.State, into); err != nil {
		return nil, fmt.Errorf("decoding checkpoint state: %w", err)
	}
	return checkpoint, nil
}

func (cm *CheckpointManager) List(ctx context.Context) ([]*Checkpoint, error) {
	files, err := cm.storage.List(ctx, "checkpoints/*.json")
	if err != nil {
		return nil, fmt.Errorf("listing checkpoints: %w", err)
	}

	var checkpoints []*Checkpoint
	for _, file := range files {
		data, err := cm.storage.Load(ctx, file)
		if err != nil {
			continue
		}

		var checkpoint Checkpoint
		if err := json.Unmarshal(data, &checkpoint); err != nil {
			continue
		}

		checkpoints = append(checkpoints, &checkpoint)
	}

	return checkpoints, nil
}

func (cm *CheckpointManager) Delete(ctx context.Context, id string) error {
	return cm.storage.Delete(ctx, checkpointPath(id))
}
