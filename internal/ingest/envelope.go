// Package ingest feeds translated messages from the broker into the store.
package ingest

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/mvailla/chatsight/internal/store"
)

// Envelope is the wire format the translation pipeline publishes.
type Envelope struct {
	ChatID      string    `json:"chat_id"`
	SenderID    string    `json:"sender_id,omitempty"`
	SenderName  string    `json:"sender_name,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	Text        *string   `json:"text,omitempty"`
	IsMedia     bool      `json:"is_media,omitempty"`
	MediaType   string    `json:"media_type,omitempty"`
	IsForwarded bool      `json:"is_forwarded,omitempty"`
	OriginalID  uint64    `json:"original_id,omitempty"`
	SourceLang  string    `json:"source_lang,omitempty"`
	TargetLang  string    `json:"target_lang,omitempty"`
}

// Decode parses one broker payload into a storable message. A null or absent
// text field marks a metadata-only message.
func Decode(payload []byte) (store.StoredMessage, error) {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return store.StoredMessage{}, fmt.Errorf("decode envelope: %w", err)
	}
	msg := store.StoredMessage{
		ChatID:      env.ChatID,
		SenderID:    env.SenderID,
		SenderName:  env.SenderName,
		Timestamp:   env.Timestamp,
		IsMedia:     env.IsMedia,
		MediaType:   env.MediaType,
		IsForwarded: env.IsForwarded,
		OriginalID:  env.OriginalID,
		SourceLang:  env.SourceLang,
		TargetLang:  env.TargetLang,
	}
	if env.Text != nil {
		msg.Text = *env.Text
		msg.HasText = true
	}
	return msg, nil
}
