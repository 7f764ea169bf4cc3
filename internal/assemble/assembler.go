package assemble

import (
	"fmt"
	"sort"
	"strings"

	"github.com/mvailla/chatsight/internal/convo"
	"github.com/mvailla/chatsight/internal/search"
	"github.com/mvailla/chatsight/internal/store"
)

// Source ties an assembled line back to its stored message.
type Source struct {
	ChatID    string `json:"chat_id"`
	MessageID uint64 `json:"message_id"`
}

func (s Source) String() string {
	return fmt.Sprintf("%s:%d", s.ChatID, s.MessageID)
}

// Input is everything the assembler may draw on for one query.
type Input struct {
	Query          string
	Windows        []search.Window
	SessionSummary string
	RecentTurns    []convo.Turn
}

// Context is the assembled block plus bookkeeping for the response.
type Context struct {
	Text       string
	Sources    []Source
	TokenCount int
	Truncated  bool
}

// Assembler fills a fixed token budget in priority order: matched windows
// first, strongest score first, then recent turns, then the session summary.
// Messages are included whole or not at all, and once anything is dropped the
// remaining lower-priority sections are dropped with it.
type Assembler struct {
	est    TokenEstimator
	budget int
}

func New(est TokenEstimator, budget int) *Assembler {
	if est == nil {
		est = CharEstimator{}
	}
	if budget <= 0 {
		budget = 22000
	}
	return &Assembler{est: est, budget: budget}
}

// Budget returns the configured token ceiling.
func (a *Assembler) Budget() int { return a.budget }

// Build assembles the context. TokenCount never exceeds the budget.
func (a *Assembler) Build(in Input) Context {
	var (
		b       strings.Builder
		out     Context
		used    int
		anchors = anchorSet(in.Windows)
	)
	tryAdd := func(s string) bool {
		cost := a.est.Estimate(s)
		if used+cost > a.budget {
			out.Truncated = true
			return false
		}
		b.WriteString(s)
		used += cost
		return true
	}

	// The matched windows are what the query asked for; they take the budget
	// first so a tight budget sheds the weakest windows, never the hits.
	windows := append([]search.Window(nil), in.Windows...)
	sort.SliceStable(windows, func(i, j int) bool { return windows[i].Score > windows[j].Score })

windowLoop:
	for _, w := range windows {
		if len(w.Messages) == 0 {
			continue
		}
		header := fmt.Sprintf("\n--- Chat %s ---\n", w.ChatID)
		// A header with no message under it is noise; require room for both.
		if used+a.est.Estimate(header)+a.est.Estimate(formatMessage(w.Messages[0], anchors)) > a.budget {
			out.Truncated = true
			break
		}
		tryAdd(header)
		for _, msg := range w.Messages {
			if !tryAdd(formatMessage(msg, anchors)) {
				break windowLoop
			}
			out.Sources = append(out.Sources, Source{ChatID: msg.ChatID, MessageID: msg.ID})
		}
	}

	if !out.Truncated {
		for _, turn := range in.RecentTurns {
			if turn.Query == "" {
				continue
			}
			line := "Previous question: " + turn.Query + "\n"
			if turn.Answer != "" {
				line += "Previous answer: " + turn.Answer + "\n"
			}
			if !tryAdd(line) {
				break
			}
		}
	}
	if !out.Truncated && in.SessionSummary != "" {
		tryAdd("Earlier in this conversation: " + in.SessionSummary + "\n")
	}

	out.Text = b.String()
	out.TokenCount = used
	return out
}

func anchorSet(windows []search.Window) map[Source]struct{} {
	set := make(map[Source]struct{})
	for _, w := range windows {
		for _, id := range w.Anchors {
			set[Source{ChatID: w.ChatID, MessageID: id}] = struct{}{}
		}
	}
	return set
}

func formatMessage(msg store.StoredMessage, anchors map[Source]struct{}) string {
	sender := msg.SenderName
	if sender == "" {
		sender = msg.SenderID
	}
	if sender == "" {
		sender = "unknown"
	}

	body := msg.Text
	if !msg.HasText || body == "" {
		kind := msg.MediaType
		if kind == "" {
			kind = "message"
		}
		body = "[" + kind + "]"
	}
	if msg.IsForwarded {
		body = "(forwarded) " + body
	}

	marker := ""
	if _, hit := anchors[Source{ChatID: msg.ChatID, MessageID: msg.ID}]; hit {
		marker = "* "
	}
	return fmt.Sprintf("%s[%s] %s: %s\n",
		marker, msg.Timestamp.UTC().Format("2006-01-02 15:04"), sender, body)
}
