// Package moderation screens chat content before it is stored.
package moderation

import (
	"html"
	"strings"
	"unicode"

	"github.com/microcosm-cc/bluemonday"

	"github.com/vovakirdan/citychat/internal/core"
)

// MaxContentLength is the longest message body accepted.
const MaxContentLength = 2000

var policy = bluemonday.StrictPolicy()

// StripMarkup removes all HTML from input and returns plain text.
func StripMarkup(input string) string {
	return html.UnescapeString(policy.Sanitize(input))
}

// Filter rejects messages containing blocked words.
type Filter struct {
	words map[string]struct{}
}

// NewFilter builds a filter for the given words. Matching is case-insensitive
// and on whole words.
func NewFilter(words []string) *Filter {
	f := &Filter{words: make(map[string]struct{}, len(words))}
	for _, w := range words {
		w = strings.ToLower(strings.TrimSpace(w))
		if w != "" {
			f.words[w] = struct{}{}
		}
	}
	return f
}

// Check cleans content and returns a coded error when it must be rejected.
// The cleaned text has blocked words masked and is offered to the sender as
// a suggestion.
func (f *Filter) Check(content string) (string, error) {
	clean := strings.TrimSpace(StripMarkup(content))
	if clean == "" {
		return "", core.ValidationError(core.ErrEmptyContent.Error())
	}
	if len([]rune(clean)) > MaxContentLength {
		return "", core.ValidationError("message is too long")
	}
	if f == nil || len(f.words) == 0 {
		return clean, nil
	}

	masked, flags := f.mask(clean)
	if len(flags) == 0 {
		return clean, nil
	}
	return "", &core.Error{
		Kind:    core.KindModeration,
		Code:    core.ErrCodeModerated,
		Message: "message blocked by moderation",
		Moderation: &core.ModerationVerdict{
			Reason:      "profanity",
			CleanedText: masked,
			Flags:       flags,
		},
	}
}

func (f *Filter) mask(text string) (string, []string) {
	var (
		out   strings.Builder
		word  []rune
		flags []string
		seen  = make(map[string]bool)
	)
	flush := func() {
		if len(word) == 0 {
			return
		}
		lower := strings.ToLower(string(word))
		if _, blocked := f.words[lower]; blocked {
			out.WriteString(strings.Repeat("*", len(word)))
			if !seen[lower] {
				seen[lower] = true
				flags = append(flags, lower)
			}
		} else {
			out.WriteString(string(word))
		}
		word = word[:0]
	}
	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '\'' {
			word = append(word, r)
			continue
		}
		flush()
		out.WriteRune(r)
	}
	flush()
	return out.String(), flags
}
