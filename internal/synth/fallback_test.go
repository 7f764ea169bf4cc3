package synth

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestFallbackPrefersPrimary(t *testing.T) {
	primary := &Mock{Response: Response{Answer: "from primary", Provider: "a"}}
	secondary := &Mock{Response: Response{Answer: "from secondary", Provider: "b"}}

	got, err := NewFallback(primary, secondary).Synthesize(context.Background(), Request{Query: "q"})
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	if got.Answer != "from primary" {
		t.Fatalf("Answer = %q, want primary", got.Answer)
	}
	if secondary.Calls != 0 {
		t.Fatal("secondary called despite primary success")
	}
}

func TestFallbackOnProviderError(t *testing.T) {
	primary := &Mock{Err: errors.New("rate limited")}
	secondary := &Mock{Response: Response{Answer: "from secondary", Provider: "b"}}

	got, err := NewFallback(primary, secondary).Synthesize(context.Background(), Request{Query: "q"})
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	if got.Answer != "from secondary" {
		t.Fatalf("Answer = %q, want secondary", got.Answer)
	}
}

func TestFallbackPassesThroughCancellation(t *testing.T) {
	primary := &Mock{Err: context.DeadlineExceeded}
	secondary := &Mock{Response: Response{Answer: "from secondary"}}

	_, err := NewFallback(primary, secondary).Synthesize(context.Background(), Request{Query: "q"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("error = %v, want DeadlineExceeded", err)
	}
	if secondary.Calls != 0 {
		t.Fatal("secondary called after deadline")
	}
}

func TestFallbackReportsBothErrors(t *testing.T) {
	primary := &Mock{Err: errors.New("primary down")}
	secondary := &Mock{Err: errors.New("secondary down")}

	_, err := NewFallback(primary, secondary).Synthesize(context.Background(), Request{Query: "q"})
	if err == nil {
		t.Fatal("expected error when both providers fail")
	}
	if !strings.Contains(err.Error(), "primary down") || !strings.Contains(err.Error(), "secondary down") {
		t.Fatalf("error %q missing provider details", err)
	}
}

func TestNewSelectsProvider(t *testing.T) {
	if _, err := New("anthropic", "", "", "", ""); err == nil {
		t.Fatal("anthropic without key should fail")
	}
	s, err := New("auto", "ak", "", "ok", "")
	if err != nil {
		t.Fatalf("New(auto) error = %v", err)
	}
	if s.Name() != "anthropic+openai" {
		t.Fatalf("auto provider = %q, want anthropic+openai", s.Name())
	}
	if _, err := New("auto", "", "", "", ""); err == nil {
		t.Fatal("auto without keys should fail")
	}
	if _, err := New("bard", "k", "", "", ""); err == nil {
		t.Fatal("unknown provider should fail")
	}
}
