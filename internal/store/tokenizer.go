package store

import (
	"strings"
	"unicode"
)

// Common English function words that carry no search signal.
var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {},
	"but": {}, "by": {}, "for": {}, "from": {}, "had": {}, "has": {},
	"have": {}, "he": {}, "her": {}, "his": {}, "i": {}, "in": {}, "is": {},
	"it": {}, "its": {}, "me": {}, "my": {}, "no": {}, "not": {}, "of": {},
	"on": {}, "or": {}, "our": {}, "she": {}, "so": {}, "that": {},
	"the": {}, "their": {}, "them": {}, "they": {}, "this": {}, "to": {},
	"was": {}, "we": {}, "were": {}, "what": {}, "when": {}, "who": {},
	"will": {}, "with": {}, "you": {}, "your": {},
}

// Tokenize splits text into lowercase search terms on word boundaries,
// dropping stopwords and single characters. Hashtags and mentions keep their
// bare word so "#launch" and "launch" land in the same posting list.
func Tokenize(text string) []string {
	if text == "" {
		return nil
	}
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) < 2 {
			continue
		}
		if _, stop := stopwords[f]; stop {
			continue
		}
		terms = append(terms, f)
	}
	return terms
}

// IsStopword reports whether the lowercase term is filtered from indexing.
func IsStopword(term string) bool {
	_, ok := stopwords[term]
	return ok
}
