package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"chatd/internal/deployment"
	"chatd/internal/engine/llamaserver"
	"chatd/internal/engineargs"
	"chatd/internal/httpapi"
	"chatd/internal/serving"
)

// fakeLlama is an httptest stand-in for llama-server's OpenAI endpoints.
type fakeLlama struct {
	srv *httptest.Server

	// modelsDown makes GET /v1/models fail with 503 while > 0, decrementing per call.
	modelsDown atomic.Int32
	modelCalls atomic.Int32

	mu       sync.Mutex
	requests []upstreamRequest
	paths    []string
	tokens   []string
	failWith int
}

type upstreamRequest struct {
	Model    string `json:"model"`
	Prompt   string `json:"prompt"`
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
	MaxTokens int  `json:"max_tokens"`
	Stream    bool `json:"stream"`
	LoRA      []struct {
		ID    int     `json:"id"`
		Scale float64 `json:"scale"`
	} `json:"lora"`
}

func newFakeLlama(t *testing.T, tokens ...string) *fakeLlama {
	t.Helper()
	f := &fakeLlama{tokens: tokens}
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/models", func(w http.ResponseWriter, r *http.Request) {
		f.modelCalls.Add(1)
		if f.modelsDown.Load() > 0 {
			f.modelsDown.Add(-1)
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error":{"message":"Loading model","code":503}}`))
			return
		}
		_, _ = w.Write([]byte(`{"object":"list","data":[{"id":"demo-7b","object":"model","meta":{"n_ctx_train":4096}}]}`))
	})
	mux.HandleFunc("/v1/chat/completions", f.generate)
	mux.HandleFunc("/v1/completions", f.generate)
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeLlama) generate(w http.ResponseWriter, r *http.Request) {
	var req upstreamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.paths = append(f.paths, r.URL.Path)
	failWith := f.failWith
	tokens := append([]string(nil), f.tokens...)
	f.mu.Unlock()

	if failWith != 0 {
		w.WriteHeader(failWith)
		fmt.Fprintf(w, `{"error":{"code":%d,"message":"upstream rejected the request","type":"invalid_request_error"}}`, failWith)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	flusher, _ := w.(http.Flusher)
	completion := r.URL.Path == "/v1/completions"
	for i, tok := range tokens {
		var finish any
		if i == len(tokens)-1 {
			finish = "stop"
		}
		choice := map[string]any{"index": 0, "finish_reason": finish}
		if completion {
			choice["text"] = tok
		} else {
			choice["delta"] = map[string]string{"content": tok}
		}
		b, _ := json.Marshal(map[string]any{"choices": []any{choice}})
		fmt.Fprintf(w, "data: %s\n\n", b)
		if flusher != nil {
			flusher.Flush()
		}
	}
	fmt.Fprintf(w, "data: {\"choices\":[],\"usage\":{\"prompt_tokens\":7,\"completion_tokens\":%d}}\n\n", len(tokens))
	fmt.Fprint(w, "data: [DONE]\n\n")
}

func (f *fakeLlama) lastRequest(t *testing.T) (string, upstreamRequest) {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.requests) == 0 {
		t.Fatalf("no upstream generation request")
	}
	return f.paths[len(f.paths)-1], f.requests[len(f.requests)-1]
}

func (f *fakeLlama) setFailure(code int) {
	f.mu.Lock()
	f.failWith = code
	f.mu.Unlock()
}

// newGateway wires the full stack (translator, llama-server client,
// deployment, HTTP API) against the fake upstream.
func newGateway(t *testing.T, up *fakeLlama, raw map[string]any) (*httptest.Server, *deployment.Deployment) {
	t.Helper()
	accel, rest, err := engineargs.SplitAccelerator(raw)
	if err != nil {
		t.Fatalf("split accelerator: %v", err)
	}
	cfg, err := engineargs.Translate(rest, engineargs.DefaultOptions())
	if err != nil {
		t.Fatalf("translate: %v", err)
	}
	eng := llamaserver.New(llamaserver.Options{BaseURL: up.srv.URL, ConnectTimeout: time.Second, Logger: zerolog.Nop()})
	dep := deployment.New(eng, cfg, deployment.Options{
		Accelerator: accel,
		Serving:     serving.Options{Logger: zerolog.Nop()},
		Logger:      zerolog.Nop(),
	})
	t.Cleanup(func() { _ = dep.Close() })
	srv := httptest.NewServer(httpapi.NewMux(dep))
	t.Cleanup(srv.Close)
	return srv, dep
}

func demoArgs() map[string]any {
	return map[string]any{"model": "demo-7b", "response-role": "assistant"}
}

func httpGet(t *testing.T, url string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("new req: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do req: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	return resp, body
}

func httpPostJSON(t *testing.T, url string, payload []byte) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("new req: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do req: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	return resp, body
}

// sseData returns the data payloads of an event-stream body in order.
func sseData(body []byte) []string {
	var out []string
	for _, ev := range strings.Split(string(body), "\n\n") {
		if ev = strings.TrimSpace(ev); strings.HasPrefix(ev, "data: ") {
			out = append(out, strings.TrimPrefix(ev, "data: "))
		}
	}
	return out
}

// jsonString escapes a string for embedding inside a JSON literal we build manually.
func jsonString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
