package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"
)

// ProjectNaming decides how project directories are named.
type ProjectNaming int

const (
	// NamingDescriptive uses timestamp + premise snippet + short id (default)
	NamingDescriptive ProjectNaming = iota
	// NamingTimestamp uses timestamp + short id
	NamingTimestamp
	// NamingRunID uses the full run id
	NamingRunID
)

func ParseProjectNaming(s string) (ProjectNaming, error) {
	switch strings.ToLower(s) {
	case "", "descriptive":
		return NamingDescriptive, nil
	case "timestamp":
		return NamingTimestamp, nil
	case "run-id", "run_id", "uuid":
		return NamingRunID, nil
	}
	return 0, fmt.Errorf("unknown project naming %q", s)
}

const metadataFile = "project.json"

// ProjectMetadata is written to project.json at the root of every project.
type ProjectMetadata struct {
	RunID     string    `json:"run_id"`
	Form      string    `json:"form"`
	Premise   string    `json:"premise"`
	Lorebook  string    `json:"lorebook,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type Project struct {
	Dir      string
	Metadata ProjectMetadata
}

func (p *Project) Storage() *FileSystem {
	return NewFileSystem(p.Dir)
}

// ProjectManager owns the output directory: one subdirectory per project.
type ProjectManager struct {
	baseDir string
	naming  ProjectNaming
	now     func() time.Time
}

func NewProjectManager(baseDir string, naming ProjectNaming) *ProjectManager {
	return &ProjectManager{baseDir: baseDir, naming: naming, now: time.Now}
}

func (m *ProjectManager) dirName(meta ProjectMetadata) string {
	shortID := meta.RunID
	if len(shortID) > 8 {
		shortID = shortID[:8]
	}
	stamp := m.now().Format("2006-01-02_1504")

	switch m.naming {
	case NamingRunID:
		return meta.RunID
	case NamingTimestamp:
		return fmt.Sprintf("%s_%s", stamp, shortID)
	default:
		return fmt.Sprintf("%s_%s_%s", stamp, slugify(meta.Premise, 30), shortID)
	}
}

// Create makes the project directory and writes its metadata.
func (m *ProjectManager) Create(meta ProjectMetadata) (*Project, error) {
	if meta.RunID == "" {
		return nil, errors.New("project needs a run id")
	}
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = m.now()
	}

	dir := filepath.Join(m.baseDir, m.dirName(meta))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating project directory: %w", err)
	}

	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling project metadata: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, metadataFile), data, 0o644); err != nil {
		return nil, fmt.Errorf("writing project metadata: %w", err)
	}
	return &Project{Dir: dir, Metadata: meta}, nil
}

// Find locates the project of a run by its metadata.
func (m *ProjectManager) Find(runID string) (*Project, error) {
	matches, err := filepath.Glob(filepath.Join(m.baseDir, "*", metadataFile))
	if err != nil {
		return nil, fmt.Errorf("listing projects: %w", err)
	}
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var meta ProjectMetadata
		if json.Unmarshal(data, &meta) != nil {
			continue
		}
		if meta.RunID == runID {
			return &Project{Dir: filepath.Dir(path), Metadata: meta}, nil
		}
	}
	return nil, fmt.Errorf("no project for run %s under %s: %w", runID, m.baseDir, os.ErrNotExist)
}

// slugify lowercases s and keeps letters and digits, joining words with
// hyphens.
func slugify(s string, maxLen int) string {
	var b strings.Builder
	hyphen := false
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			hyphen = false
		case r == '\'' || r == '"':
		default:
			if !hyphen && b.Len() > 0 {
				b.WriteByte('-')
				hyphen = true
			}
		}
	}

	out := strings.Trim(b.String(), "-")
	if runes := []rune(out); len(runes) > maxLen {
		out = strings.TrimRight(string(runes[:maxLen]), "-")
	}
	if out == "" {
		out = "story"
	}
	return out
}
