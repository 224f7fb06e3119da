package httpapi

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"
)

func TestJoinContexts_CancelsOnEither(t *testing.T) {
	a, cancelA := context.WithCancel(context.Background())
	defer cancelA()
	b := context.Background()
	ctx, cancel := joinContexts(a, b)
	defer cancel()

	cancelA()
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatalf("joined context not canceled when a was")
	}
}

func TestCompletionContext_BaseAndTimeout(t *testing.T) {
	base, stop := context.WithCancel(context.Background())
	SetBaseContext(base)
	t.Cleanup(func() { SetBaseContext(nil) })

	ctx, cancel := completionContext(httptest.NewRequest("POST", "/v1/chat/completions", nil))
	defer cancel()
	stop()
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatalf("completion context survived server shutdown")
	}

	SetBaseContext(nil)
	SetCompletionTimeout(20 * time.Millisecond)
	t.Cleanup(func() { SetCompletionTimeout(0) })
	ctx, cancel = completionContext(httptest.NewRequest("POST", "/v1/chat/completions", nil))
	defer cancel()
	<-ctx.Done()
	if !errors.Is(ctx.Err(), context.DeadlineExceeded) {
		t.Fatalf("err=%v", ctx.Err())
	}
}

func TestConfigSetters_Clamp(t *testing.T) {
	SetMaxBodyBytes(-1)
	if maxBodyBytes != defaultMaxBodyBytes {
		t.Fatalf("maxBodyBytes=%d", maxBodyBytes)
	}
	SetCompletionTimeout(-time.Second)
	if completionTimeout != 0 {
		t.Fatalf("completionTimeout=%v", completionTimeout)
	}
	SetReadyWait(-time.Second)
	if readyWait != 0 {
		t.Fatalf("readyWait=%v", readyWait)
	}
	SetReadyWait(250 * time.Millisecond)

	origins := []string{"https://a"}
	SetCORSOptions(true, origins, nil, nil)
	origins[0] = "mutated"
	if corsAllowedOrigins[0] != "https://a" {
		t.Fatalf("CORS origins aliased caller slice")
	}
	SetCORSOptions(false, nil, nil, nil)
}
