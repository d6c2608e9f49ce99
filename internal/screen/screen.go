// Package screen provides pluggable content screening. The messaging core
// only consumes the boolean outcome; the matching algorithm is swappable.
package screen

import (
	"strings"
)

// Screener decides whether message text should be flagged at creation.
type Screener interface {
	Flag(content string) bool
}

// WordList flags content containing any of a fixed set of words,
// case-insensitively.
type WordList struct {
	words []string
}

// NewWordList builds a word-list screener. Words are lowercased once.
func NewWordList(words []string) *WordList {
	lowered := make([]string, 0, len(words))
	for _, w := range words {
		if w = strings.ToLower(strings.TrimSpace(w)); w != "" {
			lowered = append(lowered, w)
		}
	}
	return &WordList{words: lowered}
}

// Flag reports whether content contains a screened word.
func (s *WordList) Flag(content string) bool {
	if content == "" {
		return false
	}
	lowered := strings.ToLower(content)
	for _, w := range s.words {
		if strings.Contains(lowered, w) {
			return true
		}
	}
	return false
}

// None never flags. Useful when screening is disabled.
type None struct{}

// Flag always returns false.
func (None) Flag(string) bool { return false }
