package storage

import (
	"context"
	"fmt"
	"os"
	"path"
	"sort"
	"sync"
)

// Memory is an in-process Storage. Used for dry runs and tests.
type Memory struct {
	mu    sync.RWMutex
	files map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{files: make(map[string][]byte)}
}

func (m *Memory) Save(ctx context.Context, p string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[path.Clean(p)] = append([]byte(nil), data...)
	return nil
}

func (m *Memory) Load(ctx context.Context, p string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.files[path.Clean(p)]
	if !ok {
		return nil, fmt.Errorf("reading %s: %w", p, os.ErrNotExist)
	}
	return append([]byte(nil), data...), nil
}

func (m *Memory) List(ctx context.Context, pattern string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []string
	for p := range m.files {
		ok, err := path.Match(pattern, p)
		if err != nil {
			return nil, fmt.Errorf("listing files: %w", err)
		}
		if ok {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m *Memory) Exists(ctx context.Context, p string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.files[path.Clean(p)]
	return ok
}

func (m *Memory) Delete(ctx context.Context, p string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := path.Clean(p)
	if _, ok := m.files[key]; !ok {
		return fmt.Errorf("deleting %s: %w", p, os.ErrNotExist)
	}
	delete(m.files, key)
	return nil
}
