// Package moderation screens text for prohibited content. The relay's
// sidecar runs report transcripts through the Filter to auto-flag obvious
// abuse before a human moderator ever looks at the queue.
package moderation

import (
	"strings"
	"unicode"
)

// FilterResult is the outcome of checking one piece of text.
type FilterResult struct {
	Blocked bool
	Reason  string // "blocked_keyword" or "spam_pattern"
	Term    string // the matched blocklist term or spam check name
}

// Filter holds the keyword blocklist split into single words and multi-word
// phrases. Matching is token-based (whole words only, so "assess" never
// trips on "ass") and leetspeak-normalized. A Filter is immutable after
// construction and safe for concurrent use.
type Filter struct {
	words   map[string]struct{}
	phrases []string
}

// defaultBlocklist is the built-in term set: slurs, self-harm incitement,
// sexual exploitation, solicitation, extremism, threats, and crypto scams.
var defaultBlocklist = []string{
	// slurs
	"nigger", "nigga", "faggot", "tranny", "kike", "spic", "chink",
	// self-harm incitement
	"kill yourself", "kys", "go die", "neck yourself",
	// exploitation and solicitation
	"child porn", "cp trade", "send nudes", "buy nudes", "sell nudes",
	// extremism
	"heil hitler", "sieg heil", "white power", "gas the",
	// threats
	"bomb threat", "shoot up", "rape you", "kill you all",
	// scams
	"free bitcoin", "free robux", "crypto giveaway", "onlyfans promo",
}

// NewFilter creates a Filter with the default blocklist.
func NewFilter() *Filter {
	return NewFilterWithTerms(defaultBlocklist)
}

// NewFilterWithTerms creates a Filter from an explicit term list. Terms are
// lowercased and trimmed; empty terms are dropped. Terms containing spaces
// become phrase matches, everything else a single-word match.
func NewFilterWithTerms(terms []string) *Filter {
	f := &Filter{words: make(map[string]struct{})}
	for _, term := range terms {
		term = strings.ToLower(strings.TrimSpace(term))
		if term == "" {
			continue
		}
		if strings.ContainsRune(term, ' ') {
			f.phrases = append(f.phrases, term)
		} else {
			f.words[term] = struct{}{}
		}
	}
	return f
}

// Check screens text against the keyword blocklist (plain and
// leetspeak-normalized) and the spam pattern checks. The first match wins.
func (f *Filter) Check(text string) FilterResult {
	lower := strings.ToLower(text)

	// Plain pass: tokens split on every non-alphanumeric rune.
	if term, ok := f.matchTokens(tokenizePlain(lower)); ok {
		return FilterResult{Blocked: true, Reason: "blocked_keyword", Term: term}
	}

	// Leet pass: normalize substitutions over the whole text, then re-tokenize.
	// Catches "b@dw0rd" which the plain pass splits apart at the "@".
	normalized := normalizeLeet(lower)
	if normalized != lower {
		if term, ok := f.matchTokens(tokenizePlain(normalized)); ok {
			return FilterResult{Blocked: true, Reason: "blocked_keyword", Term: term}
		}
	}

	return f.checkSpamPatterns(text)
}

// matchTokens checks single words and phrases against one token stream.
func (f *Filter) matchTokens(tokens []string) (string, bool) {
	for _, tok := range tokens {
		if _, ok := f.words[tok]; ok {
			return tok, true
		}
	}

	if len(f.phrases) > 0 && len(tokens) > 0 {
		// Whole-word phrase search over the space-joined token stream. The
		// padding spaces keep "kill yourself" from matching "kill yourselves".
		joined := " " + strings.Join(tokens, " ") + " "
		for _, phrase := range f.phrases {
			if strings.Contains(joined, " "+phrase+" ") {
				return phrase, true
			}
		}
	}
	return "", false
}

// CheckInterests filters a user's interest tags, returning only the clean
// ones in their original order.
func (f *Filter) CheckInterests(interests []string) []string {
	var clean []string
	for _, interest := range interests {
		if !f.Check(interest).Blocked {
			clean = append(clean, interest)
		}
	}
	return clean
}

// leetMap maps common character substitutions back to letters.
var leetMap = map[rune]rune{
	'0': 'o',
	'1': 'i',
	'3': 'e',
	'@': 'a',
	'$': 's',
	'!': 'i',
}

// normalizeLeet replaces leetspeak substitutions with their letters.
func normalizeLeet(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if sub, ok := leetMap[r]; ok {
			b.WriteRune(sub)
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// tokenizePlain splits text into tokens at every non-alphanumeric rune.
func tokenizePlain(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

// tokenizeLeet splits text on whitespace only, preserving substitution
// characters like "@" and "$" inside tokens.
func tokenizeLeet(s string) []string {
	return strings.Fields(s)
}
