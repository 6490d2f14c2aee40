// Package profanity detects and masks disallowed tokens in plaintext
// message content. Detection is token-based and case-insensitive; masking
// keeps the first rune and replaces the rest with asterisks so context
// survives for moderation.
package profanity

import (
	"strings"
	"unicode"
)

var defaultWords = []string{
	"shit", "fuck", "fucking", "bitch", "asshole", "bastard", "cunt",
	"dick", "piss", "slut", "whore", "damn",
}

// Filter holds the disallowed word set.
type Filter struct {
	words map[string]struct{}
}

// NewFilter builds a filter from the default word list plus extras.
func NewFilter(extra ...string) *Filter {
	f := &Filter{words: make(map[string]struct{}, len(defaultWords)+len(extra))}
	for _, w := range defaultWords {
		f.words[w] = struct{}{}
	}
	for _, w := range extra {
		w = strings.ToLower(strings.TrimSpace(w))
		if w != "" {
			f.words[w] = struct{}{}
		}
	}
	return f
}

func normalize(token string) string {
	return strings.ToLower(strings.TrimFunc(token, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	}))
}

// IsExplicit reports whether text contains any disallowed token.
func (f *Filter) IsExplicit(text string) bool {
	for _, token := range strings.Fields(text) {
		if _, hit := f.words[normalize(token)]; hit {
			return true
		}
	}
	return false
}

// Censor masks every disallowed token. The original text is not retained
// anywhere once the caller stores the censored form.
func (f *Filter) Censor(text string) string {
	fields := strings.Fields(text)
	changed := false
	for i, token := range fields {
		if _, hit := f.words[normalize(token)]; hit {
			fields[i] = mask(token)
			changed = true
		}
	}
	if !changed {
		return text
	}
	return strings.Join(fields, " ")
}

func mask(token string) string {
	runes := []rune(token)
	for i := 1; i < len(runes); i++ {
		if unicode.IsLetter(runes[i]) || unicode.IsNumber(runes[i]) {
			runes[i] = '*'
		}
	}
	return string(runes)
}
