package assemble

import (
	"strings"
	"testing"
	"time"

	"github.com/mvailla/chatsight/internal/convo"
	"github.com/mvailla/chatsight/internal/search"
	"github.com/mvailla/chatsight/internal/store"
)

func testWindow(chatID string, anchor uint64, texts ...string) search.Window {
	base := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	w := search.Window{ChatID: chatID, Anchors: []uint64{anchor}}
	for i, text := range texts {
		w.Messages = append(w.Messages, store.StoredMessage{
			ID:         uint64(i + 1),
			ChatID:     chatID,
			SenderName: "ana",
			Timestamp:  base.Add(time.Duration(i) * time.Minute),
			Text:       text,
			HasText:    true,
		})
	}
	w.FromID = 1
	w.ToID = uint64(len(texts))
	return w
}

func TestBuildStaysWithinBudget(t *testing.T) {
	long := strings.Repeat("deployment chatter ", 50)
	in := Input{
		Windows: []search.Window{testWindow("dev", 1, long, long, long, long)},
	}

	a := New(CharEstimator{}, 300)
	got := a.Build(in)
	if got.TokenCount > a.Budget() {
		t.Fatalf("TokenCount = %d exceeds budget %d", got.TokenCount, a.Budget())
	}
	if !got.Truncated {
		t.Fatal("oversized input not marked truncated")
	}
	if len(got.Sources) == 0 {
		t.Fatal("nothing included despite available budget")
	}
}

func TestBuildIncludesMessagesWhole(t *testing.T) {
	// Budget fits the header and first message but only part of the second;
	// the second must be dropped entirely.
	first := "short line"
	second := strings.Repeat("x", 400)
	in := Input{Windows: []search.Window{testWindow("dev", 1, first, second)}}

	a := New(CharEstimator{}, 40)
	got := a.Build(in)
	if len(got.Sources) != 1 {
		t.Fatalf("Sources = %v, want only the first message", got.Sources)
	}
	if strings.Contains(got.Text, "xxxx") {
		t.Fatal("partial message leaked into context")
	}
	if !got.Truncated {
		t.Fatal("dropped message did not mark context truncated")
	}
}

func TestBuildOrdersSectionsByPriority(t *testing.T) {
	in := Input{
		SessionSummary: "discussed deploy, rollback",
		RecentTurns:    []convo.Turn{{Query: "what failed", Answer: "the canary"}},
		Windows:        []search.Window{testWindow("dev", 1, "retro notes")},
	}

	got := New(CharEstimator{}, 10000).Build(in)
	windowAt := strings.Index(got.Text, "--- Chat dev ---")
	turnAt := strings.Index(got.Text, "Previous question")
	summaryAt := strings.Index(got.Text, "Earlier in this conversation")
	if summaryAt == -1 || turnAt == -1 || windowAt == -1 {
		t.Fatalf("missing sections in context:\n%s", got.Text)
	}
	if !(windowAt < turnAt && turnAt < summaryAt) {
		t.Fatalf("section order wrong: window=%d turn=%d summary=%d", windowAt, turnAt, summaryAt)
	}
}

func TestBuildKeepsMatchesUnderTightBudget(t *testing.T) {
	in := Input{
		SessionSummary: strings.Repeat("old carryover ", 40),
		Windows:        []search.Window{testWindow("dev", 1, "deploy shipped")},
	}

	got := New(CharEstimator{}, 90).Build(in)
	if len(got.Sources) == 0 {
		t.Fatalf("matched window dropped while carryover kept:\n%s", got.Text)
	}
	if !strings.Contains(got.Text, "deploy shipped") {
		t.Fatalf("matched message missing from context:\n%s", got.Text)
	}
	if strings.Contains(got.Text, "old carryover") {
		t.Fatal("session summary outranked the matched window")
	}
	if !got.Truncated {
		t.Fatal("dropped summary did not mark context truncated")
	}
}

func TestBuildDropsLowestScoredWindowsFirst(t *testing.T) {
	weak := testWindow("dev", 1, "stray mention")
	weak.Score = 1
	strong := testWindow("ops", 1, "paging oncall")
	strong.Score = 5

	got := New(CharEstimator{}, 20).Build(Input{Windows: []search.Window{weak, strong}})
	if !strings.Contains(got.Text, "paging oncall") {
		t.Fatalf("strongest window missing:\n%s", got.Text)
	}
	if strings.Contains(got.Text, "stray mention") || strings.Contains(got.Text, "--- Chat dev ---") {
		t.Fatalf("weak window kept over the strong one:\n%s", got.Text)
	}
	if !got.Truncated {
		t.Fatal("shed window did not mark context truncated")
	}
}

func TestBuildGroupsByChatAndLinksSources(t *testing.T) {
	devWindow := testWindow("dev", 2, "api down", "api back up")
	opsWindow := testWindow("ops", 1, "paging oncall")
	in := Input{Windows: []search.Window{devWindow, opsWindow}}

	got := New(CharEstimator{}, 10000).Build(in)
	if !strings.Contains(got.Text, "--- Chat dev ---") || !strings.Contains(got.Text, "--- Chat ops ---") {
		t.Fatalf("chat group headers missing:\n%s", got.Text)
	}
	want := []Source{{"dev", 1}, {"dev", 2}, {"ops", 1}}
	if len(got.Sources) != len(want) {
		t.Fatalf("Sources = %v, want %v", got.Sources, want)
	}
	for i, s := range want {
		if got.Sources[i] != s {
			t.Fatalf("Sources[%d] = %v, want %v", i, got.Sources[i], s)
		}
	}
	if want[1].String() != "dev:2" {
		t.Fatalf("Source.String() = %q, want dev:2", want[1].String())
	}
}

func TestBuildMarksAnchors(t *testing.T) {
	in := Input{Windows: []search.Window{testWindow("dev", 2, "context", "the hit")}}
	got := New(CharEstimator{}, 10000).Build(in)

	lines := strings.Split(strings.TrimSpace(got.Text), "\n")
	var hitLine string
	for _, line := range lines {
		if strings.Contains(line, "the hit") {
			hitLine = line
		}
	}
	if !strings.HasPrefix(hitLine, "* ") {
		t.Fatalf("anchor line not marked: %q", hitLine)
	}
}

func TestBuildFormatsMediaAndForwarded(t *testing.T) {
	base := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	w := search.Window{
		ChatID:  "dev",
		Anchors: []uint64{1},
		FromID:  1,
		ToID:    2,
		Messages: []store.StoredMessage{
			{ID: 1, ChatID: "dev", SenderName: "ana", Timestamp: base, Text: "see attached", HasText: true},
			{ID: 2, ChatID: "dev", SenderID: "u42", Timestamp: base, IsMedia: true, MediaType: "photo", IsForwarded: true},
		},
	}

	got := New(CharEstimator{}, 10000).Build(Input{Windows: []search.Window{w}})
	if !strings.Contains(got.Text, "(forwarded) [photo]") {
		t.Fatalf("media placeholder missing:\n%s", got.Text)
	}
	if !strings.Contains(got.Text, "u42:") {
		t.Fatalf("sender id fallback missing:\n%s", got.Text)
	}
}

func TestCharEstimator(t *testing.T) {
	e := CharEstimator{}
	cases := []struct {
		in   string
		want int
	}{
		{"", 0},
		{"abc", 1},
		{"abcd", 1},
		{"abcde", 2},
	}
	for _, tc := range cases {
		if got := e.Estimate(tc.in); got != tc.want {
			t.Fatalf("Estimate(%q) = %d, want %d", tc.in, got, tc.want)
		}
	}
}
