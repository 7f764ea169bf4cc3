package convo

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// SessionKey derives a session identity from a user and chat scope. The same
// user asking about disjoint chat sets holds independent sessions, so turns
// in one scope never leak follow-up context into another.
func SessionKey(userID string, chatIDs []string) string {
	if len(chatIDs) == 0 {
		return userID
	}
	scoped := append([]string(nil), chatIDs...)
	sort.Strings(scoped)
	return userID + "|" + strings.Join(scoped, ",")
}

// Memory holds sessions keyed by SessionKey. Expiry is lazy: a stale session
// is replaced the first time its key comes back, and a janitor sweeps the
// rest.
type Memory struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	expiry      time.Duration
	maxTurns    int
	followUpGap time.Duration
	logger      *zap.Logger
	now         func() time.Time
	onExpire    func(key string)
}

func NewMemory(expiry time.Duration, maxTurns int, followUpGap time.Duration, logger *zap.Logger) *Memory {
	if expiry <= 0 {
		expiry = 72 * time.Hour
	}
	if maxTurns <= 0 {
		maxTurns = 50
	}
	if followUpGap <= 0 {
		followUpGap = 10 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Memory{
		sessions:    make(map[string]*Session),
		expiry:      expiry,
		maxTurns:    maxTurns,
		followUpGap: followUpGap,
		logger:      logger,
		now:         time.Now,
	}
}

// SetExpireHook registers a callback fired once per expired session.
func (m *Memory) SetExpireHook(hook func(key string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExpire = hook
}

func (m *Memory) expired(s *Session, now time.Time) bool {
	return now.Sub(s.LastActiveAt) >= m.expiry
}

// Session returns a copy of the key's live session, replacing an expired one
// with a fresh session transparently.
func (m *Memory) Session(key string) Session {
	now := m.now().UTC()

	m.mu.Lock()
	s, ok := m.sessions[key]
	var expiredHook func(string)
	if !ok || m.expired(s, now) {
		if ok {
			expiredHook = m.onExpire
		}
		s = &Session{Key: key, StartedAt: now, LastActiveAt: now}
		m.sessions[key] = s
	}
	snap := cloneSession(s)
	m.mu.Unlock()

	if expiredHook != nil {
		expiredHook(key)
	}
	return snap
}

// RecordTurn appends one exchange, folding the oldest turn into the rolling
// summary once the history is full.
func (m *Memory) RecordTurn(key string, turn Turn) {
	now := m.now().UTC()
	if turn.At.IsZero() {
		turn.At = now
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[key]
	if !ok || m.expired(s, now) {
		s = &Session{Key: key, StartedAt: now}
		m.sessions[key] = s
	}
	s.Turns = append(s.Turns, turn)
	for len(s.Turns) > m.maxTurns {
		s.Summary = foldIntoSummary(s.Summary, s.Turns[0])
		s.Turns = s.Turns[1:]
	}
	s.LastActiveAt = now
}

// IsFollowUp reports whether the extraction continues the previous turn: it
// shares at least one topic or entity with the last turn and arrives within
// the follow-up gap.
func (m *Memory) IsFollowUp(key string, ext Extraction) bool {
	now := m.now().UTC()

	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[key]
	if !ok || m.expired(s, now) || len(s.Turns) == 0 {
		return false
	}
	last := s.Turns[len(s.Turns)-1]
	if now.Sub(last.At) > m.followUpGap {
		return false
	}
	return overlaps(ext.Topics, last.Topics) || overlaps(ext.Entities, last.Entities)
}

// DetectTopicTransition reports whether the extraction abandons the recent
// thread: it carries topics of its own, yet shares none with the last two
// turns. An extraction with nothing to anchor on is never a transition.
func (m *Memory) DetectTopicTransition(key string, ext Extraction) bool {
	if ext.Empty() {
		return false
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[key]
	if !ok || len(s.Turns) == 0 {
		return false
	}
	from := len(s.Turns) - 2
	if from < 0 {
		from = 0
	}
	for _, turn := range s.Turns[from:] {
		if overlaps(ext.Topics, turn.Topics) || overlaps(ext.Entities, turn.Entities) {
			return false
		}
	}
	return true
}

// ClearHistory drops one session.
func (m *Memory) ClearHistory(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, key)
}

// ClearAll drops every session.
func (m *Memory) ClearAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions = make(map[string]*Session)
}

// ActiveSessions counts unexpired sessions.
func (m *Memory) ActiveSessions() int {
	now := m.now().UTC()
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, s := range m.sessions {
		if !m.expired(s, now) {
			count++
		}
	}
	return count
}

// StartJanitor sweeps expired sessions on a ticker until ctx ends.
func (m *Memory) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.sweep()
			}
		}
	}()
}

func (m *Memory) sweep() {
	now := m.now().UTC()
	var gone []string

	m.mu.Lock()
	for key, s := range m.sessions {
		if m.expired(s, now) {
			delete(m.sessions, key)
			gone = append(gone, key)
		}
	}
	hook := m.onExpire
	m.mu.Unlock()

	if len(gone) > 0 {
		m.logger.Debug("swept expired sessions", zap.Int("count", len(gone)))
	}
	if hook != nil {
		for _, key := range gone {
			hook(key)
		}
	}
}

func overlaps(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}

func foldIntoSummary(summary string, turn Turn) string {
	topics := turn.Topics
	if len(topics) == 0 {
		topics = turn.Entities
	}
	if len(topics) == 0 {
		return summary
	}
	line := "discussed " + strings.Join(topics, ", ")
	if summary == "" {
		return line
	}
	if strings.Contains(summary, line) {
		return summary
	}
	return summary + "; " + line
}

func cloneSession(s *Session) Session {
	c := *s
	c.Turns = append([]Turn(nil), s.Turns...)
	return c
}
