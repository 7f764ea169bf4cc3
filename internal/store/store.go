package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// MessageStore is the append-only log of translated messages plus the
// in-process indices used for retrieval. Durable writes go to the backend
// before the indices are updated, so readers never see a message the backend
// could lose.
type MessageStore struct {
	backend Backend
	logger  *zap.Logger

	mu        sync.RWMutex
	timelines map[string]*timeline
	inverted  *invertedIndex

	appendMu sync.Mutex
	chatMu   map[string]*sync.Mutex
}

// New builds a store over the given backend and rebuilds the indices from
// whatever the backend already holds.
func New(ctx context.Context, backend Backend, logger *zap.Logger) (*MessageStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &MessageStore{
		backend:   backend,
		logger:    logger,
		timelines: make(map[string]*timeline),
		inverted:  newInvertedIndex(),
		chatMu:    make(map[string]*sync.Mutex),
	}

	msgs, err := backend.LoadMessages(ctx)
	if err != nil {
		return nil, fmt.Errorf("rebuild indices: %w", err)
	}
	for _, m := range msgs {
		tl := s.timelines[m.ChatID]
		if tl == nil {
			tl = newTimeline()
			s.timelines[m.ChatID] = tl
		}
		tl.insert(m)
		s.inverted.add(m)
	}
	if len(msgs) > 0 {
		logger.Info("rebuilt message indices",
			zap.Int("messages", len(msgs)),
			zap.Int("chats", len(s.timelines)))
	}
	return s, nil
}

func (s *MessageStore) lockChat(chatID string) *sync.Mutex {
	s.appendMu.Lock()
	mu, ok := s.chatMu[chatID]
	if !ok {
		mu = &sync.Mutex{}
		s.chatMu[chatID] = mu
	}
	s.appendMu.Unlock()
	mu.Lock()
	return mu
}

// Append validates, persists and indexes one message, returning it with its
// assigned id. Within a chat ids are dense and timestamps never move
// backwards; an out-of-order timestamp is a validation error.
func (s *MessageStore) Append(ctx context.Context, msg StoredMessage) (StoredMessage, error) {
	if err := msg.validate(); err != nil {
		return StoredMessage{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	msg.Timestamp = msg.Timestamp.UTC()

	mu := s.lockChat(msg.ChatID)
	defer mu.Unlock()

	s.mu.RLock()
	tl := s.timelines[msg.ChatID]
	if tl != nil {
		msg.ID = tl.nextID()
		if msg.Timestamp.Before(tl.lastTS) {
			s.mu.RUnlock()
			return StoredMessage{}, fmt.Errorf("%w: timestamp %s precedes chat tail %s",
				ErrValidation, msg.Timestamp.Format(time.RFC3339), tl.lastTS.Format(time.RFC3339))
		}
	} else {
		msg.ID = 1
	}
	s.mu.RUnlock()

	if err := s.backend.SaveMessage(ctx, msg); err != nil {
		return StoredMessage{}, fmt.Errorf("%w: %v", ErrStorageIO, err)
	}

	s.mu.Lock()
	tl = s.timelines[msg.ChatID]
	if tl == nil {
		tl = newTimeline()
		s.timelines[msg.ChatID] = tl
	}
	tl.insert(msg)
	s.inverted.add(msg)
	s.mu.Unlock()

	return msg, nil
}

// GetRange returns messages with fromID <= id <= toID for the chat, in order.
// An empty range is valid; an unknown chat is ErrNotFound.
func (s *MessageStore) GetRange(chatID string, fromID, toID uint64) ([]StoredMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tl := s.timelines[chatID]
	if tl == nil {
		return nil, ErrNotFound
	}
	return tl.rangeByID(fromID, toID), nil
}

// FindByID returns one message, or ErrNotFound for an unknown chat or id.
func (s *MessageStore) FindByID(chatID string, id uint64) (StoredMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tl := s.timelines[chatID]
	if tl == nil {
		return StoredMessage{}, ErrNotFound
	}
	msg, ok := tl.byID[id]
	if !ok {
		return StoredMessage{}, ErrNotFound
	}
	return msg, nil
}

// Neighbors returns the message plus up to before predecessors and after
// successors, chronological. Windows shrink at chat edges.
func (s *MessageStore) Neighbors(chatID string, id uint64, before, after int) ([]StoredMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tl := s.timelines[chatID]
	if tl == nil {
		return nil, ErrNotFound
	}
	out := tl.neighbors(id, before, after)
	if out == nil {
		return nil, ErrNotFound
	}
	return out, nil
}

// Lookup returns the posting list for one lowercase term across all chats.
func (s *MessageStore) Lookup(term string) []Posting {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.inverted.lookup(term)
}

// Chats returns all known chat ids, sorted for deterministic iteration.
func (s *MessageStore) Chats() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.timelines))
	for chatID := range s.timelines {
		out = append(out, chatID)
	}
	sort.Strings(out)
	return out
}

// Recent returns the newest limit messages of a chat in chronological order.
func (s *MessageStore) Recent(chatID string, limit int) ([]StoredMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tl := s.timelines[chatID]
	if tl == nil {
		return nil, ErrNotFound
	}
	if limit <= 0 || limit > len(tl.ids) {
		limit = len(tl.ids)
	}
	out := make([]StoredMessage, 0, limit)
	for i := len(tl.ids) - limit; i < len(tl.ids); i++ {
		out = append(out, tl.byID[tl.ids[i]])
	}
	return out, nil
}

// Size returns the total number of stored messages.
func (s *MessageStore) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := 0
	for _, tl := range s.timelines {
		total += len(tl.ids)
	}
	return total
}

// PurgeOlderThan removes messages older than cutoff, at most batchSize per
// chat per call, and returns the total removed. The backend delete runs
// first; an index that briefly retains a purged message is harmless, the
// reverse is not.
func (s *MessageStore) PurgeOlderThan(ctx context.Context, cutoff time.Time, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = 500
	}
	removed, err := s.backend.DeleteOlderThan(ctx, cutoff, batchSize)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStorageIO, err)
	}

	s.mu.Lock()
	dropped := 0
	for chatID, tl := range s.timelines {
		ids := tl.dropOlderThan(cutoff, batchSize)
		if len(ids) == 0 {
			continue
		}
		s.inverted.remove(chatID, ids)
		dropped += len(ids)
		if len(tl.ids) == 0 {
			delete(s.timelines, chatID)
		}
	}
	s.mu.Unlock()

	if dropped > 0 {
		s.logger.Info("purged expired messages",
			zap.Int("dropped", dropped),
			zap.Time("cutoff", cutoff))
	}
	if removed > dropped {
		dropped = removed
	}
	return dropped, nil
}

// ClearAll removes every message from the backend and the indices.
func (s *MessageStore) ClearAll(ctx context.Context) error {
	if err := s.backend.DeleteAll(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageIO, err)
	}
	s.mu.Lock()
	s.timelines = make(map[string]*timeline)
	s.inverted = newInvertedIndex()
	s.mu.Unlock()
	s.logger.Info("cleared message store")
	return nil
}

// StartRetentionJanitor purges expired messages on a ticker until ctx ends.
// A zero retention disables purging entirely.
func (s *MessageStore) StartRetentionJanitor(ctx context.Context, interval, retention time.Duration, batchSize int) {
	if retention <= 0 {
		return
	}
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				cutoff := time.Now().UTC().Add(-retention)
				if _, err := s.PurgeOlderThan(ctx, cutoff, batchSize); err != nil {
					s.logger.Warn("retention purge failed", zap.Error(err))
				}
			}
		}
	}()
}

func (s *MessageStore) Close() error {
	return s.backend.Close()
}
