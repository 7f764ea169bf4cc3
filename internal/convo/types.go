// Package convo tracks per-user conversational state so follow-up questions
// can reuse the topics and entities of earlier turns.
package convo

import "time"

// QueryType classifies what kind of answer a query wants.
type QueryType string

const (
	QuerySearch    QueryType = "search"
	QueryStatus    QueryType = "status"
	QueryPerson    QueryType = "person"
	QueryTopic     QueryType = "topic"
	QuerySummarize QueryType = "summarize"
)

// Extraction is the analyzed form of one user query.
type Extraction struct {
	Type     QueryType
	Topics   []string
	Entities []string
	TimeHint string
}

// Empty reports whether the query yielded nothing to anchor on.
func (e Extraction) Empty() bool {
	return len(e.Topics) == 0 && len(e.Entities) == 0
}

// Turn is one completed query/answer exchange.
type Turn struct {
	Query       string
	Answer      string
	Type        QueryType
	Topics      []string
	Entities    []string
	ResultCount int
	At          time.Time
}

// Session is a snapshot of one conversation's state, keyed by user and chat
// scope.
type Session struct {
	Key          string
	Turns        []Turn
	Summary      string
	StartedAt    time.Time
	LastActiveAt time.Time
}
