package convo

import (
	"regexp"
	"strings"

	"github.com/mvailla/chatsight/internal/store"
)

// Extractor turns a raw query into topics, entities and a query type. The
// keyword implementation is the default; a model-backed one can slot in
// behind the same interface.
type Extractor interface {
	Extract(query string) Extraction
}

var (
	hashtagRe = regexp.MustCompile(`#([\p{L}\p{N}_]+)`)
	mentionRe = regexp.MustCompile(`@([\p{L}\p{N}_]+)`)
	personRe  = regexp.MustCompile(`(?i)\bwhat (?:did|does|has)\s+(\S+)\s+(?:say|said|mention|share)`)
)

// KeywordExtractor classifies queries with surface patterns and pulls topics
// from the same tokenizer the index uses, so extracted topics always line up
// with posting-list terms.
type KeywordExtractor struct{}

func NewKeywordExtractor() *KeywordExtractor { return &KeywordExtractor{} }

func (x *KeywordExtractor) Extract(query string) Extraction {
	lower := strings.ToLower(query)

	ext := Extraction{Type: classify(lower)}
	ext.TimeHint = timeHint(lower)

	seen := map[string]struct{}{}
	for _, m := range hashtagRe.FindAllStringSubmatch(query, -1) {
		entity := strings.ToLower(m[1])
		if _, dup := seen[entity]; !dup {
			seen[entity] = struct{}{}
			ext.Entities = append(ext.Entities, entity)
		}
	}
	for _, m := range mentionRe.FindAllStringSubmatch(query, -1) {
		entity := strings.ToLower(m[1])
		if _, dup := seen[entity]; !dup {
			seen[entity] = struct{}{}
			ext.Entities = append(ext.Entities, entity)
		}
	}
	if m := personRe.FindStringSubmatch(query); m != nil {
		entity := strings.ToLower(strings.Trim(m[1], "@,.?!"))
		if _, dup := seen[entity]; !dup {
			seen[entity] = struct{}{}
			ext.Entities = append(ext.Entities, entity)
		}
	}

	topicSeen := map[string]struct{}{}
	for _, term := range store.Tokenize(lower) {
		if isQueryNoise(term) {
			continue
		}
		if _, isEntity := seen[term]; isEntity {
			continue
		}
		if _, dup := topicSeen[term]; dup {
			continue
		}
		topicSeen[term] = struct{}{}
		ext.Topics = append(ext.Topics, term)
	}
	return ext
}

func classify(lower string) QueryType {
	switch {
	case containsAny(lower, "summarize", "summary", "recap", "catch me up"):
		return QuerySummarize
	case containsAny(lower, "status", "progress", "latest on", "update on", "any update"):
		return QueryStatus
	case personRe.MatchString(lower) || strings.HasPrefix(lower, "who "):
		return QueryPerson
	case containsAny(lower, "about ", "regarding ", "discussion on"):
		return QueryTopic
	default:
		return QuerySearch
	}
}

func timeHint(lower string) string {
	switch {
	case strings.Contains(lower, "yesterday"):
		return "yesterday"
	case strings.Contains(lower, "today"):
		return "today"
	case containsAny(lower, "this week", "past week", "last week"):
		return "week"
	case containsAny(lower, "this month", "past month", "last month"):
		return "month"
	}
	return ""
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// Query scaffolding that survives tokenization but carries no topical signal.
var queryNoise = map[string]struct{}{
	"did": {}, "do": {}, "does": {}, "say": {}, "said": {}, "tell": {},
	"show": {}, "find": {}, "about": {}, "anything": {}, "latest": {},
	"update": {}, "status": {}, "progress": {}, "summarize": {},
	"summary": {}, "recap": {}, "yesterday": {}, "today": {}, "week": {},
	"month": {}, "last": {}, "past": {}, "happened": {}, "going": {},
	"catch": {}, "up": {}, "new": {}, "else": {},
	"regarding": {}, "discussion": {}, "mention": {}, "mentioned": {},
	"share": {}, "shared": {},
}

func isQueryNoise(term string) bool {
	_, ok := queryNoise[term]
	return ok
}
