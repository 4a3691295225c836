package agent

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"
	"sync"
	"text/template"
)

//go:embed prompts/*.tmpl
var defaultPrompts embed.FS

// PromptCache renders named prompt templates. Embedded defaults can be
// replaced per name; an override starting with "@" names a file to read.
type PromptCache struct {
	mu        sync.RWMutex
	templates map[string]*template.Template
	raw       map[string]string
	overrides map[string]string
}

func NewPromptCache(overrides map[string]string) *PromptCache {
	copied := make(map[string]string, len(overrides))
	for k, v := range overrides {
		copied[k] = v
	}
	return &PromptCache{
		templates: make(map[string]*template.Template),
		raw:       make(map[string]string),
		overrides: copied,
	}
}

// LoadPrompt loads a prompt from file or cache
func (pc *PromptCache) LoadPrompt(path string) (string, error) {
	pc.mu.RLock()
	if content, ok := pc.raw[path]; ok {
		pc.mu.RUnlock()
		return content, nil
	}
	pc.mu.RUnlock()

	content, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading prompt file: %w", err)
	}

	pc.mu.Lock()
	pc.raw[path] = string(content)
	pc.mu.Unlock()

	return string(content), nil
}

// Source returns the template text for name.
func (pc *PromptCache) Source(name string) (string, error) {
	if override, ok := pc.overrides[name]; ok {
		if file, isFile := strings.CutPrefix(override, "@"); isFile {
			return pc.LoadPrompt(file)
		}
		return override, nil
	}

	data, err := defaultPrompts.ReadFile(path.Join("prompts", name+".tmpl"))
	if err != nil {
		return "", fmt.Errorf("unknown prompt %q: %w", name, err)
	}
	return string(data), nil
}

// LoadTemplate parses the template for name once and caches it.
func (pc *PromptCache) LoadTemplate(name string) (*template.Template, error) {
	pc.mu.RLock()
	if tmpl, ok := pc.templates[name]; ok {
		pc.mu.RUnlock()
		return tmpl, nil
	}
	pc.mu.RUnlock()

	content, err := pc.Source(name)
	if err != nil {
		return nil, err
	}

	tmpl, err := template.New(name).Option("missingkey=error").Parse(content)
	if err != nil {
		return nil, fmt.Errorf("parsing template %s: %w", name, err)
	}

	pc.mu.Lock()
	pc.templates[name] = tmpl
	pc.mu.Unlock()

	return tmpl, nil
}

func (pc *PromptCache) Render(name string, data any) (string, error) {
	tmpl, err := pc.LoadTemplate(name)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	if err := tmpl.Execute(&b, data); err != nil {
		return "", fmt.Errorf("rendering template %s: %w", name, err)
	}
	return strings.TrimSpace(b.String()), nil
}

// Names lists the embedded template names.
func (pc *PromptCache) Names() []string {
	entries, err := fs.ReadDir(defaultPrompts, "prompts")
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, strings.TrimSuffix(entry.Name(), ".tmpl"))
	}
	sort.Strings(names)
	return names
}

// Preload parses every embedded template so a broken override fails early.
func (pc *PromptCache) Preload() error {
	for _, name := range pc.Names() {
		if _, err := pc.LoadTemplate(name); err != nil {
			return fmt.Errorf("preloading %s: %w", name, err)
		}
	}
	return nil
}

// Clear removes all cached prompts and templates
func (pc *PromptCache) Clear() {
	pc.mu.Lock()
	defer pc.mu.Unlock()

	pc.templates = make(map[string]*template.Template)
	pc.raw = make(map[string]string)
}

// Stats returns cache statistics
func (pc *PromptCache) Stats() (templates int, raw int) {
	pc.mu.RLock()
	defer pc.mu.RUnlock()

	return len(pc.templates), len(pc.raw)
}
