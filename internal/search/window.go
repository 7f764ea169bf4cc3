package search

import (
	"sort"

	"github.com/mvailla/chatsight/internal/store"
)

// Window is a contiguous slice of one chat around one or more hits. Score is
// the best score among the hits the window covers; the assembler sheds
// lowest-scored windows first under budget pressure.
type Window struct {
	ChatID   string
	FromID   uint64
	ToID     uint64
	Score    float64
	Anchors  []uint64
	Messages []store.StoredMessage
}

// ExpandContext grows each hit into a window of before predecessors and
// after successors, then merges overlapping or adjacent windows in the same
// chat so shared context is never duplicated. Windows come back ordered by
// chat id then position.
func ExpandContext(st *store.MessageStore, hits []Result, before, after int) ([]Window, error) {
	if len(hits) == 0 {
		return nil, nil
	}

	type span struct {
		from, to uint64
		anchor   uint64
		score    float64
	}
	byChat := make(map[string][]span)
	for _, hit := range hits {
		id := hit.Message.ID
		from := uint64(1)
		if id > uint64(before) {
			from = id - uint64(before)
		}
		byChat[hit.Message.ChatID] = append(byChat[hit.Message.ChatID], span{
			from:   from,
			to:     id + uint64(after),
			anchor: id,
			score:  hit.Score,
		})
	}

	chatIDs := make([]string, 0, len(byChat))
	for chatID := range byChat {
		chatIDs = append(chatIDs, chatID)
	}
	sort.Strings(chatIDs)

	var windows []Window
	for _, chatID := range chatIDs {
		spans := byChat[chatID]
		sort.Slice(spans, func(i, j int) bool {
			if spans[i].from != spans[j].from {
				return spans[i].from < spans[j].from
			}
			return spans[i].anchor < spans[j].anchor
		})

		merged := []Window{}
		for _, sp := range spans {
			if n := len(merged); n > 0 && sp.from <= merged[n-1].ToID+1 {
				if sp.to > merged[n-1].ToID {
					merged[n-1].ToID = sp.to
				}
				if sp.score > merged[n-1].Score {
					merged[n-1].Score = sp.score
				}
				merged[n-1].Anchors = append(merged[n-1].Anchors, sp.anchor)
				continue
			}
			merged = append(merged, Window{
				ChatID:  chatID,
				FromID:  sp.from,
				ToID:    sp.to,
				Score:   sp.score,
				Anchors: []uint64{sp.anchor},
			})
		}

		for i := range merged {
			msgs, err := st.GetRange(chatID, merged[i].FromID, merged[i].ToID)
			if err != nil {
				return nil, err
			}
			if len(msgs) == 0 {
				continue
			}
			merged[i].FromID = msgs[0].ID
			merged[i].ToID = msgs[len(msgs)-1].ID
			merged[i].Messages = msgs
			windows = append(windows, merged[i])
		}
	}
	return windows, nil
}
