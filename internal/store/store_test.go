package store

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *MessageStore {
	t.Helper()
	s, err := New(context.Background(), NewMemoryBackend(), nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return s
}

func TestAppendAssignsDenseIDs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		got, err := s.Append(ctx, textMsg("dev", i, "hello"))
		if err != nil {
			t.Fatalf("Append() error = %v", err)
		}
		if got.ID != uint64(i+1) {
			t.Fatalf("Append() id = %d, want %d", got.ID, i+1)
		}
	}

	other, err := s.Append(ctx, textMsg("ops", 0, "hello"))
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if other.ID != 1 {
		t.Fatalf("ids leak across chats: got %d, want 1", other.ID)
	}
}

func TestAppendRejectsInvalid(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Append(ctx, StoredMessage{Timestamp: ts(0)})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("Append without chat id: error = %v, want ErrValidation", err)
	}

	_, err = s.Append(ctx, StoredMessage{ChatID: "dev"})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("Append without timestamp: error = %v, want ErrValidation", err)
	}
}

func TestAppendRejectsBackwardsTimestamp(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.Append(ctx, textMsg("dev", 10, "first")); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	_, err := s.Append(ctx, textMsg("dev", 5, "out of order"))
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("backwards timestamp: error = %v, want ErrValidation", err)
	}
	// Equal timestamps are fine; real feeds batch at second granularity.
	if _, err := s.Append(ctx, textMsg("dev", 10, "same instant")); err != nil {
		t.Fatalf("equal timestamp rejected: %v", err)
	}
}

func TestGetRangeAndFindByID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		if _, err := s.Append(ctx, textMsg("dev", i, "msg")); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}

	got, err := s.GetRange("dev", 2, 3)
	if err != nil {
		t.Fatalf("GetRange() error = %v", err)
	}
	if len(got) != 2 || got[0].ID != 2 || got[1].ID != 3 {
		t.Fatalf("GetRange(2, 3) = %v", got)
	}

	empty, err := s.GetRange("dev", 3, 2)
	if err != nil {
		t.Fatalf("GetRange() empty range error = %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("GetRange(3, 2) = %d messages, want 0", len(empty))
	}

	if _, err := s.GetRange("nope", 1, 2); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetRange unknown chat: error = %v, want ErrNotFound", err)
	}

	m, err := s.FindByID("dev", 4)
	if err != nil {
		t.Fatalf("FindByID() error = %v", err)
	}
	if m.ID != 4 {
		t.Fatalf("FindByID() id = %d, want 4", m.ID)
	}
	if _, err := s.FindByID("dev", 99); !errors.Is(err, ErrNotFound) {
		t.Fatalf("FindByID missing id: error = %v, want ErrNotFound", err)
	}
}

func TestRecent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if _, err := s.Append(ctx, textMsg("dev", i, "msg")); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}

	got, err := s.Recent("dev", 2)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(got) != 2 || got[0].ID != 4 || got[1].ID != 5 {
		t.Fatalf("Recent(2) = %v, want ids [4 5] chronological", got)
	}
}

func TestLookupSeesAppendedTerms(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.Append(ctx, textMsg("dev", 0, "api review tomorrow")); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	ps := s.Lookup("api")
	if len(ps) != 1 || ps[0].ChatID != "dev" || ps[0].MessageID != 1 {
		t.Fatalf("Lookup(api) = %v", ps)
	}
	if s.Lookup("missing") != nil {
		t.Fatal("Lookup of unseen term returned postings")
	}
}

func TestMetadataOnlyRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	in := StoredMessage{
		ChatID:      "dev",
		Timestamp:   ts(0),
		IsMedia:     true,
		MediaType:   "voice",
		IsForwarded: true,
		SourceLang:  "ru",
		TargetLang:  "en",
	}
	appended, err := s.Append(ctx, in)
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	got, err := s.FindByID("dev", appended.ID)
	if err != nil {
		t.Fatalf("FindByID() error = %v", err)
	}
	if got.HasText || got.Text != "" {
		t.Fatalf("metadata-only message grew text: %+v", got)
	}
	if got.MediaType != "voice" || !got.IsForwarded || got.SourceLang != "ru" {
		t.Fatalf("metadata lost on round trip: %+v", got)
	}
}

func TestPurgeOlderThan(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		if _, err := s.Append(ctx, textMsg("dev", i, "deploy notes")); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}

	dropped, err := s.PurgeOlderThan(ctx, ts(4), 100)
	if err != nil {
		t.Fatalf("PurgeOlderThan() error = %v", err)
	}
	if dropped != 4 {
		t.Fatalf("PurgeOlderThan() dropped = %d, want 4", dropped)
	}

	if _, err := s.FindByID("dev", 1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("purged message still findable: %v", err)
	}
	ps := s.Lookup("deploy")
	if len(ps) != 2 {
		t.Fatalf("postings after purge = %d, want 2", len(ps))
	}
	if s.Size() != 2 {
		t.Fatalf("Size() = %d, want 2", s.Size())
	}
}

func TestClearAll(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.Append(ctx, textMsg("dev", 0, "hello world")); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if err := s.ClearAll(ctx); err != nil {
		t.Fatalf("ClearAll() error = %v", err)
	}
	if s.Size() != 0 {
		t.Fatalf("Size() after ClearAll = %d, want 0", s.Size())
	}
	if got := s.Chats(); len(got) != 0 {
		t.Fatalf("Chats() after ClearAll = %v, want empty", got)
	}
	if s.Lookup("hello") != nil {
		t.Fatal("inverted index survived ClearAll")
	}
}

func TestConcurrentAppendsKeepOrderInvariant(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := ts(0)

	var wg sync.WaitGroup
	for c := 0; c < 4; c++ {
		chatID := string(rune('a' + c))
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				msg := StoredMessage{
					ChatID:    chatID,
					Timestamp: base.Add(time.Duration(i) * time.Second),
					Text:      "tick",
					HasText:   true,
				}
				if _, err := s.Append(ctx, msg); err != nil {
					t.Errorf("Append(%s) error = %v", chatID, err)
					return
				}
			}
		}()
	}
	wg.Wait()

	for c := 0; c < 4; c++ {
		chatID := string(rune('a' + c))
		msgs, err := s.GetRange(chatID, 1, 50)
		if err != nil {
			t.Fatalf("GetRange(%s) error = %v", chatID, err)
		}
		if len(msgs) != 50 {
			t.Fatalf("chat %s holds %d messages, want 50", chatID, len(msgs))
		}
		for i := 1; i < len(msgs); i++ {
			if msgs[i].ID != msgs[i-1].ID+1 {
				t.Fatalf("chat %s ids not dense at %d", chatID, i)
			}
			if msgs[i].Timestamp.Before(msgs[i-1].Timestamp) {
				t.Fatalf("chat %s timestamps regressed at %d", chatID, i)
			}
		}
	}
}

func TestBoltBackendRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "messages.db")
	ctx := context.Background()

	backend, err := NewBoltBackend(path)
	if err != nil {
		t.Fatalf("NewBoltBackend() error = %v", err)
	}
	s, err := New(ctx, backend, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := s.Append(ctx, textMsg("dev", i, "persisted line")); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	backend, err = NewBoltBackend(path)
	if err != nil {
		t.Fatalf("reopen NewBoltBackend() error = %v", err)
	}
	reopened, err := New(ctx, backend, nil)
	if err != nil {
		t.Fatalf("reopen New() error = %v", err)
	}
	defer reopened.Close()

	if reopened.Size() != 3 {
		t.Fatalf("Size() after reopen = %d, want 3", reopened.Size())
	}
	next, err := reopened.Append(ctx, textMsg("dev", 10, "after restart"))
	if err != nil {
		t.Fatalf("Append() after reopen error = %v", err)
	}
	if next.ID != 4 {
		t.Fatalf("id counter reset after reopen: got %d, want 4", next.ID)
	}
	if ps := reopened.Lookup("persisted"); len(ps) != 3 {
		t.Fatalf("index rebuild lost postings: got %d, want 3", len(ps))
	}
}
