package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mvailla/chatsight/internal/config"
	"github.com/mvailla/chatsight/internal/orchestrator"
	"github.com/mvailla/chatsight/internal/store"
)

type stubRunner struct {
	resp    orchestrator.Response
	err     error
	cleared bool
	lastReq orchestrator.Request
}

func (s *stubRunner) Query(_ context.Context, req orchestrator.Request, progress orchestrator.ProgressFunc) (orchestrator.Response, error) {
	s.lastReq = req
	if progress != nil {
		progress(orchestrator.StateCacheCheck)
		progress(orchestrator.StateResponding)
	}
	return s.resp, s.err
}

func (s *stubRunner) ClearHistory(context.Context) error {
	s.cleared = true
	return nil
}

func newTestServer(t *testing.T, runner *stubRunner) (*Server, *store.MessageStore) {
	t.Helper()
	st, err := store.New(context.Background(), store.NewMemoryBackend(), nil)
	if err != nil {
		t.Fatalf("store.New() error = %v", err)
	}
	return New(config.Config{}, runner, st, nil, nil, nil), st
}

func TestHandleQuery(t *testing.T) {
	runner := &stubRunner{resp: orchestrator.Response{Answer: "shipped at nine", Outcome: orchestrator.OutcomeAnswered}}
	srv, _ := newTestServer(t, runner)

	body, _ := json.Marshal(QueryRequest{Query: "deploy status", ChatIDs: []string{"dev"}})
	req := httptest.NewRequest(http.MethodPost, "/v1/query", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body %s", rec.Code, rec.Body.String())
	}
	var resp orchestrator.Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Answer != "shipped at nine" {
		t.Fatalf("Answer = %q", resp.Answer)
	}
	if runner.lastReq.UserID != "anonymous" {
		t.Fatalf("UserID defaulted to %q, want anonymous", runner.lastReq.UserID)
	}
	if len(runner.lastReq.ChatIDs) != 1 || runner.lastReq.ChatIDs[0] != "dev" {
		t.Fatalf("ChatIDs = %v", runner.lastReq.ChatIDs)
	}
}

func TestHandleQueryRejectsEmpty(t *testing.T) {
	srv, _ := newTestServer(t, &stubRunner{})

	req := httptest.NewRequest(http.MethodPost, "/v1/query", strings.NewReader(`{"query": "  "}`))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHandleAppendAndRecent(t *testing.T) {
	srv, _ := newTestServer(t, &stubRunner{})
	router := srv.Router()

	text := "deploy shipped"
	body, _ := json.Marshal(AppendRequest{
		ChatID:    "dev",
		Timestamp: time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC),
		Text:      &text,
	})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/messages", bytes.NewReader(body)))
	if rec.Code != http.StatusCreated {
		t.Fatalf("append status = %d, want 201; body %s", rec.Code, rec.Body.String())
	}
	var appended AppendResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &appended); err != nil {
		t.Fatalf("decode append response: %v", err)
	}
	if appended.MessageID != 1 {
		t.Fatalf("MessageID = %d, want 1", appended.MessageID)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/messages/recent?chat_id=dev&limit=5", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("recent status = %d, want 200", rec.Code)
	}
	var recent RecentResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &recent); err != nil {
		t.Fatalf("decode recent response: %v", err)
	}
	if len(recent.Messages) != 1 || recent.Messages[0].Text != text {
		t.Fatalf("recent messages = %+v", recent.Messages)
	}
}

func TestHandleAppendRejectsInvalid(t *testing.T) {
	srv, _ := newTestServer(t, &stubRunner{})

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/messages",
		strings.NewReader(`{"timestamp": "2026-03-10T09:00:00Z"}`)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHandleRecentUnknownChat(t *testing.T) {
	srv, _ := newTestServer(t, &stubRunner{})

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/messages/recent?chat_id=nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestHandleRecentRequiresChatID(t *testing.T) {
	srv, _ := newTestServer(t, &stubRunner{})

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/messages/recent", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHandleClearHistory(t *testing.T) {
	runner := &stubRunner{}
	srv, _ := newTestServer(t, runner)

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/history/clear", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !runner.cleared {
		t.Fatal("ClearHistory not invoked")
	}
}

func TestHandleHealthAndReady(t *testing.T) {
	srv, _ := newTestServer(t, &stubRunner{})
	router := srv.Router()

	for _, path := range []string{"/healthz", "/readyz"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("GET %s = %d, want 200", path, rec.Code)
		}
	}
}

func TestHandleStagesDisabled(t *testing.T) {
	srv, _ := newTestServer(t, &stubRunner{})

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/stages", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404 when stage window disabled", rec.Code)
	}
}
