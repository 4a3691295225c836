package lorebook

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

var ErrNotFound = errors.New("lorebook not found")

var extensions = []string{".json", ".yaml", ".yml", ".md", ".txt"}

// Store finds lorebooks by name in a directory.
type Store struct {
	Dir string
}

// Load resolves name as a file path first, then as <Dir>/<name><ext> for
// each supported extension.
func (s Store) Load(name string) (*Book, error) {
	if name == "" {
		return nil, ErrNotFound
	}
	if info, err := os.Stat(name); err == nil && !info.IsDir() {
		return LoadFile(name)
	}
	for _, ext := range extensions {
		path := filepath.Join(s.Dir, name+ext)
		if _, err := os.Stat(path); err == nil {
			return LoadFile(path)
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
}

func LoadFile(path string) (*Book, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("reading lorebook: %w", err)
	}

	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	book, err := Parse(filepath.Ext(path), data)
	if err != nil {
		return nil, fmt.Errorf("parsing lorebook %s: %w", path, err)
	}
	if book.Name == "" {
		book.Name = name
	}
	return book, nil
}

// Parse decodes a lorebook in the format implied by ext.
func Parse(ext string, data []byte) (*Book, error) {
	switch strings.ToLower(ext) {
	case ".json":
		trimmed := strings.TrimSpace(string(data))
		if strings.HasPrefix(trimmed, "[") {
			var entries []Entry
			if err := json.Unmarshal(data, &entries); err != nil {
				return nil, err
			}
			return &Book{Entries: entries}, nil
		}
		var book Book
		if err := json.Unmarshal(data, &book); err != nil {
			return nil, err
		}
		return &book, nil

	case ".yaml", ".yml":
		var book Book
		if err := yaml.Unmarshal(data, &book); err != nil {
			return nil, err
		}
		return &book, nil

	case ".md":
		return parseMarkdown(string(data)), nil

	default:
		return &Book{Entries: []Entry{{Content: string(data)}}}, nil
	}
}

// parseMarkdown makes every "## a, b" section, heading included, an entry
// keyed by a and b. Text before the first such heading is always included.
func parseMarkdown(text string) *Book {
	book := &Book{}
	var keys []string
	var body strings.Builder

	flush := func() {
		if content := strings.TrimSpace(body.String()); content != "" {
			book.Entries = append(book.Entries, Entry{Keys: keys, Content: content})
		}
		body.Reset()
	}

	for _, line := range strings.Split(text, "\n") {
		if heading, ok := strings.CutPrefix(line, "## "); ok {
			flush()
			keys = nil
			for _, k := range strings.Split(heading, ",") {
				if k = strings.TrimSpace(k); k != "" {
					keys = append(keys, k)
				}
			}
			body.WriteString(line)
			body.WriteByte('\n')
			continue
		}
		body.WriteString(line)
		body.WriteByte('\n')
	}
	flush()
	return book
}
