// Package search ranks stored messages against keyword queries and expands
// hits into conversational context windows.
package search

import (
	"errors"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/mvailla/chatsight/internal/store"
)

// ErrInvalidQuery marks a query with no usable search terms, such as pure
// stopwords or punctuation. Callers should ask for clarification instead of
// returning an empty answer.
var ErrInvalidQuery = errors.New("query has no searchable terms")

// DefaultLimit caps how many ranked hits one search returns.
const DefaultLimit = 50

// Scope restricts a search to specific chats. An empty ChatIDs means all.
type Scope struct {
	ChatIDs []string
}

func (s Scope) allows(chatID string) bool {
	if len(s.ChatIDs) == 0 {
		return true
	}
	for _, id := range s.ChatIDs {
		if id == chatID {
			return true
		}
	}
	return false
}

// Result is one ranked hit.
type Result struct {
	Message      store.StoredMessage
	Score        float64
	MatchedTerms []string
}

// Engine runs keyword retrieval over the message store.
type Engine struct {
	store  *store.MessageStore
	logger *zap.Logger
	limit  int
	now    func() time.Time
}

func NewEngine(st *store.MessageStore, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		store:  st,
		logger: logger,
		limit:  DefaultLimit,
		now:    time.Now,
	}
}

// SetLimit overrides the hit cap. Non-positive values are ignored.
func (e *Engine) SetLimit(n int) {
	if n > 0 {
		e.limit = n
	}
}

// Search tokenizes the query, intersects posting lists with the scope and
// period, and returns hits ranked by matched-term count with newer messages
// winning ties. Pure media messages never match; they enter answers only
// through context expansion.
func (e *Engine) Search(query string, scope Scope, period Period) ([]Result, error) {
	terms := store.Tokenize(query)
	if len(terms) == 0 {
		return nil, ErrInvalidQuery
	}

	start, end, bounded := period.Bounds(e.now())

	type key struct {
		chatID string
		id     uint64
	}
	matched := make(map[key][]string)
	stamps := make(map[key]time.Time)
	seen := map[string]struct{}{}
	for _, term := range terms {
		if _, dup := seen[term]; dup {
			continue
		}
		seen[term] = struct{}{}
		for _, p := range e.store.Lookup(term) {
			if !scope.allows(p.ChatID) {
				continue
			}
			if bounded && (p.Timestamp.Before(start) || !p.Timestamp.Before(end)) {
				continue
			}
			k := key{p.ChatID, p.MessageID}
			matched[k] = append(matched[k], term)
			stamps[k] = p.Timestamp
		}
	}
	if len(matched) == 0 {
		return []Result{}, nil
	}

	results := make([]Result, 0, len(matched))
	for k, hitTerms := range matched {
		msg, err := e.store.FindByID(k.chatID, k.id)
		if err != nil {
			// Purged between lookup and fetch; skip.
			continue
		}
		sort.Strings(hitTerms)
		results = append(results, Result{
			Message:      msg,
			Score:        float64(len(hitTerms)),
			MatchedTerms: hitTerms,
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		ti, tj := results[i].Message.Timestamp, results[j].Message.Timestamp
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		if results[i].Message.ChatID != results[j].Message.ChatID {
			return results[i].Message.ChatID < results[j].Message.ChatID
		}
		return results[i].Message.ID > results[j].Message.ID
	})

	if len(results) > e.limit {
		results = results[:e.limit]
	}
	e.logger.Debug("search complete",
		zap.Int("terms", len(seen)),
		zap.Int("hits", len(results)))
	return results, nil
}
