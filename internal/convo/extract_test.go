package convo

import (
	"reflect"
	"testing"
)

func TestExtractClassifiesQueries(t *testing.T) {
	x := NewKeywordExtractor()
	cases := []struct {
		query string
		want  QueryType
	}{
		{"what happened with the deploy", QuerySearch},
		{"any update on the migration", QueryStatus},
		{"what did maria say about the budget", QueryPerson},
		{"who approved the release", QueryPerson},
		{"tell me about the offsite planning", QueryTopic},
		{"summarize this week", QuerySummarize},
	}
	for _, tc := range cases {
		if got := x.Extract(tc.query).Type; got != tc.want {
			t.Fatalf("Extract(%q).Type = %q, want %q", tc.query, got, tc.want)
		}
	}
}

func TestExtractTopicsAndEntities(t *testing.T) {
	x := NewKeywordExtractor()

	ext := x.Extract("what did @maria say about #launch timeline")
	if !reflect.DeepEqual(ext.Entities, []string{"launch", "maria"}) {
		t.Fatalf("Entities = %v, want [launch maria]", ext.Entities)
	}
	if !reflect.DeepEqual(ext.Topics, []string{"timeline"}) {
		t.Fatalf("Topics = %v, want [timeline]", ext.Topics)
	}
}

func TestExtractTimeHint(t *testing.T) {
	x := NewKeywordExtractor()
	cases := []struct {
		query string
		want  string
	}{
		{"what happened today", "today"},
		{"anything from yesterday", "yesterday"},
		{"summarize this week", "week"},
		{"updates from last month", "month"},
		{"deploy notes", ""},
	}
	for _, tc := range cases {
		if got := x.Extract(tc.query).TimeHint; got != tc.want {
			t.Fatalf("Extract(%q).TimeHint = %q, want %q", tc.query, got, tc.want)
		}
	}
}

func TestExtractEmpty(t *testing.T) {
	x := NewKeywordExtractor()
	ext := x.Extract("what about it?")
	if !ext.Empty() {
		t.Fatalf("Extract of anchor-free query not empty: %+v", ext)
	}
}
