// Package store implements the durable, indexed log of translated chat
// messages and the in-process indices used for retrieval.
package store

import (
	"errors"
	"time"
)

var (
	// ErrValidation marks a malformed message rejected on append.
	ErrValidation = errors.New("message validation failed")
	// ErrNotFound marks a reference to an unknown chat.
	ErrNotFound = errors.New("chat not found")
	// ErrStorageIO marks a durable write failure. The append is not retried
	// internally; redelivery is the ingestion side's policy.
	ErrStorageIO = errors.New("storage write failed")
)

// StoredMessage is one translated message. Immutable once appended; the
// store only removes messages through retention purges.
type StoredMessage struct {
	ID          uint64    `json:"id"`
	ChatID      string    `json:"chat_id"`
	SenderID    string    `json:"sender_id,omitempty"`
	SenderName  string    `json:"sender_name,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	Text        string    `json:"text,omitempty"`
	HasText     bool      `json:"has_text"`
	IsMedia     bool      `json:"is_media,omitempty"`
	MediaType   string    `json:"media_type,omitempty"`
	IsForwarded bool      `json:"is_forwarded,omitempty"`
	OriginalID  uint64    `json:"original_id,omitempty"`
	SourceLang  string    `json:"source_lang,omitempty"`
	TargetLang  string    `json:"target_lang,omitempty"`
}

// Searchable reports whether the message contributes terms to the keyword
// index. Pure media (no caption) is retained for chronological context only.
func (m *StoredMessage) Searchable() bool {
	return m.HasText && m.Text != ""
}

func (m *StoredMessage) validate() error {
	if m.ChatID == "" {
		return errors.New("chat_id is required")
	}
	if m.Timestamp.IsZero() {
		return errors.New("timestamp is required")
	}
	return nil
}
