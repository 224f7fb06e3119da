package inproc

import (
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"chatd/internal/engine"
	"chatd/internal/engineargs"
)

func TestFlattenMessages(t *testing.T) {
	got := flattenMessages([]engine.Message{
		{Role: "system", Content: "be brief"},
		{Role: "user", Content: "hi"},
	})
	want := "system: be brief\nuser: hi\nassistant: "
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestThreadsOrDefault(t *testing.T) {
	if threadsOrDefault(3) != 3 || threadsOrDefault(0) < 1 {
		t.Fatalf("unexpected thread defaults")
	}
}

func TestNew_WithoutRuntime(t *testing.T) {
	if Built {
		t.Skip("in-process runtime built; loading needs a real model")
	}
	_, err := New(Options{Config: engineargs.Config{Model: "demo-7b"}, Logger: zerolog.Nop()})
	if !engine.IsDependencyUnavailable(err) || !strings.Contains(err.Error(), "llama") {
		t.Fatalf("expected dependency unavailable, got %v", err)
	}
}
