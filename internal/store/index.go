package store

import (
	"sort"
	"time"
)

// Posting is one inverted-index entry for a term.
type Posting struct {
	ChatID    string
	MessageID uint64
	Timestamp time.Time
}

// timeline is the ordered per-chat index. Within a chat, id order equals
// timestamp order; ids only grow, so the slice stays sorted by construction.
type timeline struct {
	ids    []uint64
	byID   map[uint64]StoredMessage
	lastTS time.Time
}

func newTimeline() *timeline {
	return &timeline{byID: make(map[uint64]StoredMessage)}
}

func (t *timeline) nextID() uint64 {
	if len(t.ids) == 0 {
		return 1
	}
	return t.ids[len(t.ids)-1] + 1
}

func (t *timeline) insert(msg StoredMessage) {
	t.ids = append(t.ids, msg.ID)
	t.byID[msg.ID] = msg
	if msg.Timestamp.After(t.lastTS) {
		t.lastTS = msg.Timestamp
	}
}

// locate returns the position of id in the ordered index, or the insertion
// point and false when absent.
func (t *timeline) locate(id uint64) (int, bool) {
	i := sort.Search(len(t.ids), func(i int) bool { return t.ids[i] >= id })
	if i < len(t.ids) && t.ids[i] == id {
		return i, true
	}
	return i, false
}

// rangeByID returns messages with fromID <= id <= toID in order. An empty
// range is valid and returns an empty slice.
func (t *timeline) rangeByID(fromID, toID uint64) []StoredMessage {
	lo, _ := t.locate(fromID)
	out := []StoredMessage{}
	for i := lo; i < len(t.ids) && t.ids[i] <= toID; i++ {
		out = append(out, t.byID[t.ids[i]])
	}
	return out
}

// neighbors returns up to before predecessors and after successors around id,
// including the message itself, in chronological order.
func (t *timeline) neighbors(id uint64, before, after int) []StoredMessage {
	pos, ok := t.locate(id)
	if !ok {
		return nil
	}
	lo := pos - before
	if lo < 0 {
		lo = 0
	}
	hi := pos + after
	if hi > len(t.ids)-1 {
		hi = len(t.ids) - 1
	}
	out := make([]StoredMessage, 0, hi-lo+1)
	for i := lo; i <= hi; i++ {
		out = append(out, t.byID[t.ids[i]])
	}
	return out
}

// dropOlderThan removes up to limit messages with timestamp < cutoff from the
// front of the timeline and returns their ids. Time order equals id order, so
// expired messages are always a prefix.
func (t *timeline) dropOlderThan(cutoff time.Time, limit int) []uint64 {
	n := 0
	for n < len(t.ids) && n < limit {
		if !t.byID[t.ids[n]].Timestamp.Before(cutoff) {
			break
		}
		n++
	}
	if n == 0 {
		return nil
	}
	dropped := append([]uint64(nil), t.ids[:n]...)
	for _, id := range dropped {
		delete(t.byID, id)
	}
	t.ids = t.ids[n:]
	return dropped
}

// invertedIndex maps lowercase terms to posting lists. Per chat the postings
// stay sorted by message id because appends are monotonic.
type invertedIndex struct {
	postings map[string][]Posting
}

func newInvertedIndex() *invertedIndex {
	return &invertedIndex{postings: make(map[string][]Posting)}
}

func (ix *invertedIndex) add(msg StoredMessage) {
	if !msg.Searchable() {
		return
	}
	seen := map[string]struct{}{}
	for _, term := range Tokenize(msg.Text) {
		if _, dup := seen[term]; dup {
			continue
		}
		seen[term] = struct{}{}
		ix.postings[term] = append(ix.postings[term], Posting{
			ChatID:    msg.ChatID,
			MessageID: msg.ID,
			Timestamp: msg.Timestamp,
		})
	}
}

func (ix *invertedIndex) lookup(term string) []Posting {
	ps := ix.postings[term]
	if len(ps) == 0 {
		return nil
	}
	out := make([]Posting, len(ps))
	copy(out, ps)
	return out
}

// remove drops postings for the given chat/ids; used by retention purges.
func (ix *invertedIndex) remove(chatID string, ids []uint64) {
	if len(ids) == 0 {
		return
	}
	gone := make(map[uint64]struct{}, len(ids))
	for _, id := range ids {
		gone[id] = struct{}{}
	}
	for term, ps := range ix.postings {
		kept := ps[:0]
		for _, p := range ps {
			if p.ChatID == chatID {
				if _, dropped := gone[p.MessageID]; dropped {
					continue
				}
			}
			kept = append(kept, p)
		}
		if len(kept) == 0 {
			delete(ix.postings, term)
		} else {
			ix.postings[term] = kept
		}
	}
}
