// Package httpapi exposes the query engine over HTTP and websocket.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/mvailla/chatsight/internal/config"
	"github.com/mvailla/chatsight/internal/observability"
	"github.com/mvailla/chatsight/internal/orchestrator"
	"github.com/mvailla/chatsight/internal/policy"
	"github.com/mvailla/chatsight/internal/search"
	"github.com/mvailla/chatsight/internal/store"
)

// QueryRunner is the slice of the orchestrator the server needs.
type QueryRunner interface {
	Query(ctx context.Context, req orchestrator.Request, progress orchestrator.ProgressFunc) (orchestrator.Response, error)
	ClearHistory(ctx context.Context) error
}

type Server struct {
	cfg      config.Config
	runner   QueryRunner
	store    *store.MessageStore
	privacy  policy.Privacy
	metrics  *observability.Metrics
	stages   *observability.StageWindow
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

func New(cfg config.Config, runner QueryRunner, st *store.MessageStore, metrics *observability.Metrics, stages *observability.StageWindow, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		cfg:    cfg,
		runner: runner,
		store:  st,
		privacy: policy.Privacy{
			Anonymize:    cfg.Anonymize,
			RedactPII:    cfg.Anonymize,
			MetadataOnly: cfg.ContentMode == config.ContentModeMetadataOnly,
		},
		metrics: metrics,
		stages:  stages,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only same-origin browser connections unless explicitly opened
				// up; other sites must not drive queries over a user's session.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})
	r.Get("/debug/stages", s.handleStages)

	r.Post("/v1/query", s.handleQuery)
	r.Get("/v1/query/ws", s.handleQueryWS)
	r.Post("/v1/messages", s.handleAppendMessage)
	r.Get("/v1/messages/recent", s.handleRecentMessages)
	r.Post("/v1/history/clear", s.handleClearHistory)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "ready",
		"stored_messages": s.store.Size(),
	})
}

func (s *Server) handleStages(w http.ResponseWriter, _ *http.Request) {
	if s.stages == nil {
		respondError(w, http.StatusNotFound, "stages_disabled", "stage window not configured")
		return
	}
	respondJSON(w, http.StatusOK, s.stages.Snapshot())
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		respondError(w, http.StatusBadRequest, "missing_query", "query is required")
		return
	}
	if req.UserID == "" {
		req.UserID = "anonymous"
	}

	resp, err := s.runner.Query(r.Context(), orchestrator.Request{
		UserID:  req.UserID,
		Query:   req.Query,
		ChatIDs: req.ChatIDs,
		Period:  req.Period,
	}, nil)
	if err != nil {
		if errors.Is(err, search.ErrInvalidQuery) {
			respondError(w, http.StatusBadRequest, "invalid_query", err.Error())
			return
		}
		if errors.Is(err, context.Canceled) {
			return
		}
		s.logger.Error("query failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "query_failed", "internal error")
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleQueryWS runs queries over a websocket, streaming pipeline state
// transitions before each final answer.
func (s *Server) handleQueryWS(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
	if userID == "" {
		userID = "ws-" + uuid.NewString()
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		return nil
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))

		var req QueryRequest
		if err := json.Unmarshal(data, &req); err != nil || strings.TrimSpace(req.Query) == "" {
			writeWS(conn, WSEnvelope{Type: "error", Error: "invalid query message"})
			continue
		}
		if req.UserID == "" {
			req.UserID = userID
		}

		resp, err := s.runner.Query(ctx, orchestrator.Request{
			UserID:  req.UserID,
			Query:   req.Query,
			ChatIDs: req.ChatIDs,
			Period:  req.Period,
		}, func(state orchestrator.State) {
			writeWS(conn, WSEnvelope{Type: "state", State: string(state)})
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			writeWS(conn, WSEnvelope{Type: "error", Error: "query failed"})
			continue
		}
		writeWS(conn, WSEnvelope{Type: "response", Response: &resp})
	}
}

func (s *Server) handleAppendMessage(w http.ResponseWriter, r *http.Request) {
	var req AppendRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	msg := store.StoredMessage{
		ChatID:      req.ChatID,
		SenderID:    req.SenderID,
		SenderName:  req.SenderName,
		Timestamp:   req.Timestamp,
		IsMedia:     req.IsMedia,
		MediaType:   req.MediaType,
		IsForwarded: req.IsForwarded,
		OriginalID:  req.OriginalID,
		SourceLang:  req.SourceLang,
		TargetLang:  req.TargetLang,
	}
	if req.Text != nil {
		msg.Text = *req.Text
		msg.HasText = true
	}
	msg = s.privacy.Apply(msg)

	stored, err := s.store.Append(r.Context(), msg)
	if err != nil {
		if errors.Is(err, store.ErrValidation) {
			respondError(w, http.StatusBadRequest, "invalid_message", err.Error())
			return
		}
		s.logger.Error("append failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "append_failed", "internal error")
		return
	}
	if s.metrics != nil {
		s.metrics.StoredMessages.Set(float64(s.store.Size()))
	}
	respondJSON(w, http.StatusCreated, AppendResponse{ChatID: stored.ChatID, MessageID: stored.ID})
}

func (s *Server) handleRecentMessages(w http.ResponseWriter, r *http.Request) {
	chatID := strings.TrimSpace(r.URL.Query().Get("chat_id"))
	if chatID == "" {
		respondError(w, http.StatusBadRequest, "missing_chat_id", "query parameter chat_id is required")
		return
	}
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			respondError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	msgs, err := s.store.Recent(chatID, limit)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusNotFound, "chat_not_found", "unknown chat")
			return
		}
		s.logger.Error("recent lookup failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "lookup_failed", "internal error")
		return
	}
	respondJSON(w, http.StatusOK, RecentResponse{ChatID: chatID, Messages: msgs})
}

func (s *Server) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	if err := s.runner.ClearHistory(r.Context()); err != nil {
		s.logger.Error("clear history failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "clear_failed", "internal error")
		return
	}
	if s.metrics != nil {
		s.metrics.StoredMessages.Set(0)
	}
	respondJSON(w, http.StatusOK, map[string]any{"status": "cleared"})
}

func writeWS(conn *websocket.Conn, v WSEnvelope) {
	_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	_ = conn.WriteJSON(v)
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errors.New("empty body")
	}
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(out)
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
