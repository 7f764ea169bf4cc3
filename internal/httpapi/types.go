package httpapi

import (
	"time"

	"github.com/mvailla/chatsight/internal/orchestrator"
	"github.com/mvailla/chatsight/internal/store"
)

// QueryRequest is the body of POST /v1/query and each websocket query frame.
type QueryRequest struct {
	UserID  string   `json:"user_id,omitempty"`
	Query   string   `json:"query"`
	ChatIDs []string `json:"chat_ids,omitempty"`
	Period  string   `json:"period,omitempty"`
}

// AppendRequest is the body of POST /v1/messages. A null or absent text
// field stores a metadata-only message.
type AppendRequest struct {
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

type AppendResponse struct {
	ChatID    string `json:"chat_id"`
	MessageID uint64 `json:"message_id"`
}

type RecentResponse struct {
	ChatID   string                `json:"chat_id"`
	Messages []store.StoredMessage `json:"messages"`
}

// WSEnvelope frames every websocket message the server sends.
type WSEnvelope struct {
	Type     string                 `json:"type"`
	State    string                 `json:"state,omitempty"`
	Response *orchestrator.Response `json:"response,omitempty"`
	Error    string                 `json:"error,omitempty"`
}
