// Package lorebook loads reference material (characters, places, rules)
// and selects the parts relevant to the scene being written.
package lorebook

import (
	"strings"
	"sync"
	"unicode"

	"github.com/gobwas/glob"

	"github.com/Thomashighbaugh/fiction-fabricator-sub002/internal/phase"
)

// Entry is one piece of lore. An entry without keys is always included.
type Entry struct {
	Keys    []string `json:"keys,omitempty" yaml:"keys,omitempty"`
	Content string   `json:"content" yaml:"content"`
}

type Book struct {
	Name    string  `json:"name,omitempty" yaml:"name,omitempty"`
	Entries []Entry `json:"entries" yaml:"entries"`

	once     sync.Once
	matchers [][]matcher
}

// matcher is one entry key. Literal keys match whole words, or a run of
// whole words for keys such as "salt road"; "mara" matches "Mara's" but
// never "Marathon".
type matcher struct {
	pattern glob.Glob
	phrase  []string
}

func (m matcher) match(focus string, words []string) bool {
	if m.pattern == nil {
		return containsPhrase(words, m.phrase)
	}
	if m.pattern.Match(focus) {
		return true
	}
	for _, w := range words {
		if m.pattern.Match(w) {
			return true
		}
	}
	return false
}

func containsPhrase(words, phrase []string) bool {
	if len(phrase) == 0 {
		return false
	}
	for i := 0; i+len(phrase) <= len(words); i++ {
		matched := true
		for j, p := range phrase {
			if w := words[i+j]; w != p && strings.TrimSuffix(w, "'s") != p {
				matched = false
				break
			}
		}
		if matched {
			return true
		}
	}
	return false
}

// splitWords lowercases s and splits it into words. Apostrophes and
// hyphens stay inside a word.
func splitWords(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\'' && r != '-'
	})
}

func (b *Book) compile() {
	b.once.Do(func() {
		b.matchers = make([][]matcher, len(b.Entries))
		for i, e := range b.Entries {
			for _, key := range e.Keys {
				key = strings.ToLower(strings.TrimSpace(key))
				if key == "" {
					continue
				}
				var m matcher
				if strings.ContainsAny(key, "*?[{") {
					if g, err := glob.Compile(key); err == nil {
						m.pattern = g
					}
				}
				if m.pattern == nil {
					m.phrase = splitWords(key)
					if len(m.phrase) == 0 {
						continue
					}
				}
				b.matchers[i] = append(b.matchers[i], m)
			}
		}
	})
}

// Text is the whole book as one blob.
func (b *Book) Text() string {
	parts := make([]string, 0, len(b.Entries))
	for _, e := range b.Entries {
		if c := strings.TrimSpace(e.Content); c != "" {
			parts = append(parts, c)
		}
	}
	return strings.Join(parts, "\n\n")
}

// Excerpt returns the entries whose keys occur in focus, in book order,
// limited to maxRunes. Literal keys match at word boundaries; keys with
// wildcards are matched against each word of focus. When no keyed entry
// matches, the start of the whole book is returned instead.
func (b *Book) Excerpt(focus string, maxRunes int) string {
	if b == nil || len(b.Entries) == 0 || maxRunes <= 0 {
		return ""
	}
	b.compile()

	lowered := strings.ToLower(focus)
	words := splitWords(focus)

	var parts []string
	keyed := false
	for i, e := range b.Entries {
		content := strings.TrimSpace(e.Content)
		if content == "" {
			continue
		}
		if len(b.matchers[i]) == 0 {
			parts = append(parts, content)
			continue
		}
		for _, m := range b.matchers[i] {
			if m.match(lowered, words) {
				parts = append(parts, content)
				keyed = true
				break
			}
		}
	}

	if !keyed {
		return phase.TruncateByRunes(b.Text(), maxRunes)
	}
	return phase.TruncateByRunes(strings.Join(parts, "\n\n"), maxRunes)
}
