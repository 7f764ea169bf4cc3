// Package orchestrator drives one query through cache check, retrieval,
// context assembly and synthesis.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mvailla/chatsight/internal/assemble"
	"github.com/mvailla/chatsight/internal/convo"
	"github.com/mvailla/chatsight/internal/observability"
	"github.com/mvailla/chatsight/internal/qcache"
	"github.com/mvailla/chatsight/internal/search"
	"github.com/mvailla/chatsight/internal/store"
	"github.com/mvailla/chatsight/internal/synth"
)

// State names the pipeline stage a query is in. Exposed for logging and the
// websocket progress stream.
type State string

const (
	StateIdle              State = "idle"
	StateCacheCheck        State = "cache_check"
	StateSearching         State = "searching"
	StateContextBuilding   State = "context_building"
	StateAwaitingSynthesis State = "awaiting_synthesis"
	StateResponding        State = "responding"
)

// Outcome classifies how a query was answered.
type Outcome string

const (
	OutcomeAnswered      Outcome = "answered"
	OutcomeCached        Outcome = "cached"
	OutcomeDegraded      Outcome = "degraded"
	OutcomeNoResults     Outcome = "no_results"
	OutcomeClarification Outcome = "clarification"
)

// Request is one user query.
type Request struct {
	UserID  string
	Query   string
	ChatIDs []string
	Period  string
}

// Response is the final answer plus bookkeeping.
type Response struct {
	Answer     string            `json:"answer"`
	Outcome    Outcome           `json:"outcome"`
	QueryType  convo.QueryType   `json:"query_type"`
	Sources    []assemble.Source `json:"sources,omitempty"`
	Provider   string            `json:"provider,omitempty"`
	TokensUsed int               `json:"tokens_used,omitempty"`
	Truncated  bool              `json:"truncated,omitempty"`
	FollowUp   bool              `json:"follow_up,omitempty"`
}

// ProgressFunc receives state transitions while a query runs.
type ProgressFunc func(state State)

// Options wires the orchestrator's collaborators.
type Options struct {
	Store       *store.MessageStore
	Engine      *search.Engine
	Memory      *convo.Memory
	Extractor   convo.Extractor
	Assembler   *assemble.Assembler
	Cache       qcache.Cache
	Synthesizer synth.Synthesizer
	Metrics     *observability.Metrics
	Stages      *observability.StageWindow
	Logger      *zap.Logger

	ContextBefore   int
	ContextAfter    int
	SynthTimeout    time.Duration
	RecentTurnCount int
	SummarizeRecent int
}

// Orchestrator serializes queries per user and scope; two identical questions
// in flight resolve as one synthesis and one cache hit.
type Orchestrator struct {
	opts Options

	keysMu sync.Mutex
	keys   map[string]*sync.Mutex
}

func New(opts Options) (*Orchestrator, error) {
	if opts.Store == nil || opts.Engine == nil || opts.Memory == nil ||
		opts.Cache == nil || opts.Synthesizer == nil {
		return nil, errors.New("orchestrator missing required collaborators")
	}
	if opts.Extractor == nil {
		opts.Extractor = convo.NewKeywordExtractor()
	}
	if opts.Assembler == nil {
		opts.Assembler = assemble.New(nil, 0)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.ContextBefore <= 0 {
		opts.ContextBefore = 15
	}
	if opts.ContextAfter <= 0 {
		opts.ContextAfter = 15
	}
	if opts.SynthTimeout <= 0 {
		opts.SynthTimeout = 8 * time.Second
	}
	if opts.RecentTurnCount <= 0 {
		opts.RecentTurnCount = 2
	}
	if opts.SummarizeRecent <= 0 {
		opts.SummarizeRecent = 30
	}
	return &Orchestrator{opts: opts, keys: make(map[string]*sync.Mutex)}, nil
}

func (o *Orchestrator) lockKey(key string) func() {
	o.keysMu.Lock()
	mu, ok := o.keys[key]
	if !ok {
		mu = &sync.Mutex{}
		o.keys[key] = mu
	}
	o.keysMu.Unlock()
	mu.Lock()
	return mu.Unlock
}

// Query runs the full pipeline for one request. Queries sharing a session key
// are serialized; everything else runs in parallel.
func (o *Orchestrator) Query(ctx context.Context, req Request, progress ProgressFunc) (Response, error) {
	started := time.Now()
	unlock := o.lockKey(convo.SessionKey(req.UserID, req.ChatIDs))
	defer unlock()

	resp, err := o.run(ctx, req, progress)
	o.observeStage(observability.StageQueryTotal, time.Since(started))
	if err == nil {
		o.countQuery(resp.Outcome)
	}
	return resp, err
}

func (o *Orchestrator) run(ctx context.Context, req Request, progress ProgressFunc) (Response, error) {
	notify := func(state State) {
		if progress != nil {
			progress(state)
		}
	}
	logger := o.opts.Logger.With(zap.String("user_id", req.UserID))

	sessionKey := convo.SessionKey(req.UserID, req.ChatIDs)
	ext := o.opts.Extractor.Extract(req.Query)
	followUp := o.opts.Memory.IsFollowUp(sessionKey, ext)
	transition := o.opts.Memory.DetectTopicTransition(sessionKey, ext)

	notify(StateCacheCheck)
	// Keyed on the literal query so the same question repeated is a hit even
	// when follow-up expansion would rewrite the search terms.
	cacheKey := qcache.Key(req.Query, req.ChatIDs)
	cacheStart := time.Now()
	entry, hit, cacheErr := o.opts.Cache.Get(ctx, cacheKey)
	o.observeStage(observability.StageCacheCheck, time.Since(cacheStart))
	if cacheErr != nil {
		logger.Warn("cache lookup failed", zap.Error(cacheErr))
	}
	o.countCache(hit)
	if hit {
		notify(StateResponding)
		resp := Response{
			Answer:    entry.Answer,
			Outcome:   OutcomeCached,
			QueryType: ext.Type,
			Sources:   parseSources(entry.Sources),
			FollowUp:  followUp,
		}
		o.recordTurn(sessionKey, req, ext, resp.Answer, len(resp.Sources))
		return resp, nil
	}

	notify(StateSearching)
	period, err := o.resolvePeriod(req, ext)
	if err != nil {
		return Response{}, err
	}

	// A query that extracts nothing is unanswerable filler unless it asks for
	// a summary; searching its scaffolding words would match noise.
	if ext.Empty() && ext.Type != convo.QuerySummarize {
		notify(StateResponding)
		return Response{
			Answer:    "I could not find anything concrete to search for in that. Could you name a topic, person or keyword?",
			Outcome:   OutcomeClarification,
			QueryType: ext.Type,
		}, nil
	}

	searchQuery := req.Query
	if followUp {
		// Carry the previous turn's anchors so "what else did they say"
		// searches the same ground.
		session := o.opts.Memory.Session(sessionKey)
		if n := len(session.Turns); n > 0 {
			last := session.Turns[n-1]
			searchQuery = strings.Join(append(append([]string{req.Query}, last.Topics...), last.Entities...), " ")
		}
	}

	var hits []search.Result
	var windows []search.Window
	if ext.Type == convo.QuerySummarize && ext.Empty() {
		windows, err = o.recentWindows(req.ChatIDs)
		if err != nil {
			return Response{}, err
		}
		if len(windows) == 0 {
			notify(StateResponding)
			resp := Response{
				Answer:    "There is no recorded history to summarize yet.",
				Outcome:   OutcomeNoResults,
				QueryType: ext.Type,
			}
			o.recordTurn(sessionKey, req, ext, resp.Answer, 0)
			return resp, nil
		}
	} else {
		searchStart := time.Now()
		hits, err = o.opts.Engine.Search(searchQuery, search.Scope{ChatIDs: req.ChatIDs}, period)
		o.observeStage(observability.StageSearch, time.Since(searchStart))
		if errors.Is(err, search.ErrInvalidQuery) {
			notify(StateResponding)
			resp := Response{
				Answer:    "I could not find anything concrete to search for in that. Could you name a topic, person or keyword?",
				Outcome:   OutcomeClarification,
				QueryType: ext.Type,
				FollowUp:  followUp,
			}
			return resp, nil
		}
		if err != nil {
			return Response{}, fmt.Errorf("search: %w", err)
		}
		hits = filterByPerson(hits, ext)
		if len(hits) == 0 {
			notify(StateResponding)
			resp := Response{
				Answer:    "I did not find any messages matching that.",
				Outcome:   OutcomeNoResults,
				QueryType: ext.Type,
				FollowUp:  followUp,
			}
			o.recordTurn(sessionKey, req, ext, resp.Answer, 0)
			return resp, nil
		}
	}

	notify(StateContextBuilding)
	buildStart := time.Now()
	if windows == nil {
		windows, err = search.ExpandContext(o.opts.Store, hits, o.opts.ContextBefore, o.opts.ContextAfter)
		if err != nil {
			return Response{}, fmt.Errorf("expand context: %w", err)
		}
	}
	session := o.opts.Memory.Session(sessionKey)
	assembled := o.opts.Assembler.Build(assemble.Input{
		Query:          req.Query,
		Windows:        windows,
		SessionSummary: sessionSummaryFor(session, transition),
		RecentTurns:    recentTurnsFor(session, followUp, o.opts.RecentTurnCount),
	})
	o.observeStage(observability.StageContextBuild, time.Since(buildStart))

	notify(StateAwaitingSynthesis)
	synthCtx, cancel := context.WithTimeout(ctx, o.opts.SynthTimeout)
	defer cancel()
	synthStart := time.Now()
	result, synthErr := o.opts.Synthesizer.Synthesize(synthCtx, synth.Request{
		Query:   req.Query,
		Context: assembled.Text,
		Style:   styleFor(ext.Type),
	})
	o.observeStage(observability.StageSynthesis, time.Since(synthStart))

	notify(StateResponding)
	if synthErr != nil {
		if ctx.Err() != nil {
			return Response{}, ctx.Err()
		}
		logger.Warn("synthesis failed, serving degraded answer", zap.Error(synthErr))
		o.countSynthError()
		resp := Response{
			Answer:    degradedAnswer(hits, windows),
			Outcome:   OutcomeDegraded,
			QueryType: ext.Type,
			Sources:   assembled.Sources,
			FollowUp:  followUp,
			Truncated: assembled.Truncated,
		}
		o.recordTurn(sessionKey, req, ext, resp.Answer, len(hits))
		return resp, nil
	}

	resp := Response{
		Answer:     result.Answer,
		Outcome:    OutcomeAnswered,
		QueryType:  ext.Type,
		Sources:    assembled.Sources,
		Provider:   result.Provider,
		TokensUsed: assembled.TokenCount,
		Truncated:  assembled.Truncated,
		FollowUp:   followUp,
	}
	if err := o.opts.Cache.Put(ctx, cacheKey, qcache.Entry{
		Answer:  resp.Answer,
		Sources: formatSources(resp.Sources),
	}); err != nil {
		logger.Warn("cache put failed", zap.Error(err))
	}
	o.recordTurn(sessionKey, req, ext, resp.Answer, len(hits))
	return resp, nil
}

// ClearHistory wipes stored messages, conversation memory and the answer
// cache in that order; a cache serving answers about purged messages is the
// worst leftover, so it goes last.
func (o *Orchestrator) ClearHistory(ctx context.Context) error {
	if err := o.opts.Store.ClearAll(ctx); err != nil {
		return fmt.Errorf("clear store: %w", err)
	}
	o.opts.Memory.ClearAll()
	if err := o.opts.Cache.InvalidateAll(ctx); err != nil {
		return fmt.Errorf("invalidate cache: %w", err)
	}
	o.opts.Logger.Info("cleared history, sessions and cache")
	return nil
}

func (o *Orchestrator) resolvePeriod(req Request, ext convo.Extraction) (search.Period, error) {
	raw := req.Period
	if raw == "" {
		raw = ext.TimeHint
	}
	period, err := search.ParsePeriod(raw)
	if err != nil {
		return search.PeriodAll, fmt.Errorf("%w: %v", search.ErrInvalidQuery, err)
	}
	return period, nil
}

// recentWindows backs scope-wide summaries with the tail of each chat.
func (o *Orchestrator) recentWindows(chatIDs []string) ([]search.Window, error) {
	if len(chatIDs) == 0 {
		chatIDs = o.opts.Store.Chats()
	}
	var windows []search.Window
	for _, chatID := range chatIDs {
		msgs, err := o.opts.Store.Recent(chatID, o.opts.SummarizeRecent)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return nil, err
		}
		if len(msgs) == 0 {
			continue
		}
		windows = append(windows, search.Window{
			ChatID:   chatID,
			FromID:   msgs[0].ID,
			ToID:     msgs[len(msgs)-1].ID,
			Messages: msgs,
		})
	}
	return windows, nil
}

func (o *Orchestrator) recordTurn(sessionKey string, req Request, ext convo.Extraction, answer string, results int) {
	o.opts.Memory.RecordTurn(sessionKey, convo.Turn{
		Query:       req.Query,
		Answer:      answer,
		Type:        ext.Type,
		Topics:      ext.Topics,
		Entities:    ext.Entities,
		ResultCount: results,
	})
}

func (o *Orchestrator) observeStage(stage string, d time.Duration) {
	if o.opts.Stages != nil {
		o.opts.Stages.Observe(stage, d)
	}
	if o.opts.Metrics == nil {
		return
	}
	switch stage {
	case observability.StageSearch:
		o.opts.Metrics.ObserveSearchLatency(d)
	case observability.StageSynthesis:
		o.opts.Metrics.ObserveSynthesisLatency(d)
	}
}

func (o *Orchestrator) countQuery(outcome Outcome) {
	if o.opts.Metrics != nil {
		o.opts.Metrics.Queries.WithLabelValues(string(outcome)).Inc()
	}
}

func (o *Orchestrator) countCache(hit bool) {
	if o.opts.Metrics == nil {
		return
	}
	if hit {
		o.opts.Metrics.CacheLookups.WithLabelValues("hit").Inc()
	} else {
		o.opts.Metrics.CacheLookups.WithLabelValues("miss").Inc()
	}
}

func (o *Orchestrator) countSynthError() {
	if o.opts.Metrics != nil {
		o.opts.Metrics.SynthesisErrors.WithLabelValues(o.opts.Synthesizer.Name()).Inc()
		o.opts.Metrics.DegradedAnswers.Inc()
	}
}

// styleFor maps query types to an answer register. Summaries and status
// rollups read better organized than chatty.
func styleFor(t convo.QueryType) string {
	switch t {
	case convo.QuerySummarize, convo.QueryStatus:
		return synth.StyleAnalytical
	default:
		return synth.StyleConversational
	}
}

// filterByPerson narrows person queries to messages from the named sender,
// falling back to the unfiltered hits when nothing matches.
func filterByPerson(hits []search.Result, ext convo.Extraction) []search.Result {
	if ext.Type != convo.QueryPerson || len(ext.Entities) == 0 {
		return hits
	}
	var kept []search.Result
	for _, hit := range hits {
		sender := strings.ToLower(hit.Message.SenderName + " " + hit.Message.SenderID)
		for _, entity := range ext.Entities {
			if strings.Contains(sender, entity) {
				kept = append(kept, hit)
				break
			}
		}
	}
	if len(kept) == 0 {
		return hits
	}
	return kept
}

// sessionSummaryFor suppresses conversational carryover when the user has
// moved to an unrelated topic.
func sessionSummaryFor(session convo.Session, transition bool) string {
	if transition {
		return ""
	}
	return session.Summary
}

// recentTurnsFor carries the last turns into the prompt only when the query
// continues them; unrelated queries start from the retrieved windows alone.
func recentTurnsFor(session convo.Session, followUp bool, count int) []convo.Turn {
	if !followUp || len(session.Turns) == 0 {
		return nil
	}
	if len(session.Turns) > count {
		return session.Turns[len(session.Turns)-count:]
	}
	return session.Turns
}

const degradedLimit = 5

// degradedAnswer lists the strongest raw matches when synthesis is
// unavailable. Never cached; the next ask retries the model.
func degradedAnswer(hits []search.Result, windows []search.Window) string {
	var b strings.Builder
	b.WriteString("I could not generate a full answer right now. The most relevant messages were:\n")

	listed := 0
	if len(hits) > 0 {
		for _, hit := range hits {
			if listed == degradedLimit {
				break
			}
			b.WriteString(degradedLine(hit.Message))
			listed++
		}
	} else {
		for _, w := range windows {
			for _, msg := range w.Messages {
				if listed == degradedLimit {
					break
				}
				b.WriteString(degradedLine(msg))
				listed++
			}
		}
	}
	return b.String()
}

func degradedLine(msg store.StoredMessage) string {
	sender := msg.SenderName
	if sender == "" {
		sender = msg.SenderID
	}
	if sender == "" {
		sender = "unknown"
	}
	text := msg.Text
	if !msg.HasText || text == "" {
		text = "[" + nonEmpty(msg.MediaType, "message") + "]"
	}
	return fmt.Sprintf("- [%s] %s: %s\n", msg.Timestamp.UTC().Format("2006-01-02 15:04"), sender, text)
}

func nonEmpty(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

func parseSources(raw []string) []assemble.Source {
	var out []assemble.Source
	for _, s := range raw {
		i := strings.LastIndexByte(s, ':')
		if i <= 0 {
			continue
		}
		var id uint64
		if _, err := fmt.Sscanf(s[i+1:], "%d", &id); err != nil {
			continue
		}
		out = append(out, assemble.Source{ChatID: s[:i], MessageID: id})
	}
	return out
}

func formatSources(sources []assemble.Source) []string {
	out := make([]string, 0, len(sources))
	for _, s := range sources {
		out = append(out, s.String())
	}
	return out
}
