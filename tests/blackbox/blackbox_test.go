package blackbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

// findFreePort picks an available TCP port on localhost.
func findFreePort(t *testing.T) (int, func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	cleanup := func() { _ = ln.Close() }
	return ln.Addr().(*net.TCPAddr).Port, cleanup
}

func projectRootFromThisFile(t *testing.T) string {
	t.Helper()
	_, thisFile, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("runtime.Caller failed")
	}
	// this file: <root>/tests/blackbox/blackbox_test.go
	return filepath.Dir(filepath.Dir(filepath.Dir(thisFile)))
}

func buildBinary(t *testing.T) string {
	t.Helper()
	root := projectRootFromThisFile(t)
	binPath := filepath.Join(t.TempDir(), "chatd")
	cmd := exec.Command("go", "build", "-o", binPath, "./cmd/chatd")
	cmd.Dir = root
	cmd.Env = append(os.Environ(), "CGO_ENABLED=0")
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("go build failed: %v\n%s", err, string(out))
	}
	return binPath
}

// fakeUpstream serves the llama-server endpoints chatd talks to.
func fakeUpstream(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/models", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[{"id":"demo-7b","meta":{"n_ctx_train":4096}}]}`))
	})
	mux.HandleFunc("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, tok := range []string{"Tide ", "pulls ", "moon"} {
			fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":%q},\"finish_reason\":null}]}\n\n", tok)
		}
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{},\"finish_reason\":\"stop\"}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

type serverProc struct {
	cmd  *exec.Cmd
	base string // http base URL, e.g. http://127.0.0.1:18080
}

func startServer(t *testing.T, bin, upstream string, port int, engineArgs ...string) *serverProc {
	t.Helper()
	base := fmt.Sprintf("http://127.0.0.1:%d", port)
	args := []string{"serve", "--addr", fmt.Sprintf("127.0.0.1:%d", port), "--engine-url", upstream}
	for _, a := range engineArgs {
		args = append(args, "--engine-arg", a)
	}
	cmd := exec.Command(bin, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		t.Fatalf("start server: %v", err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for {
		resp, err := http.Get(base + "/healthz")
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				break
			}
		}
		if time.Now().After(deadline) {
			_ = cmd.Process.Kill()
			t.Fatalf("server did not become healthy in time")
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Cleanup(func() { _ = cmd.Process.Kill(); _ = cmd.Wait() })
	return &serverProc{cmd: cmd, base: base}
}

func get(t *testing.T, url string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("new req: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	b, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	return resp, b
}

func postJSON(t *testing.T, url string, payload []byte) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("new req: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	b, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	return resp, b
}

func TestBlackbox_Flow(t *testing.T) {
	bin := buildBinary(t)
	up := fakeUpstream(t)
	port, release := findFreePort(t)
	release()
	sp := startServer(t, bin, up.URL, port, "model=demo-7b", "response-role=assistant")

	// lazy: nothing built before the first request
	resp, body := get(t, sp.base+"/status")
	var st struct {
		State       string `json:"state"`
		BuildsTotal int    `json:"builds_total"`
	}
	if err := json.Unmarshal(body, &st); err != nil || st.State != "uninitialized" || st.BuildsTotal != 0 {
		t.Fatalf("/status before first request: %s err=%v", body, err)
	}

	resp, body = get(t, sp.base+"/v1/models")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("/v1/models %d %s", resp.StatusCode, string(body))
	}
	if ct := resp.Header.Get("Content-Type"); !strings.Contains(ct, "application/json") {
		t.Fatalf("/v1/models content-type=%s", ct)
	}
	if !bytes.Contains(body, []byte(`"id":"demo-7b"`)) {
		t.Fatalf("/v1/models body=%s", body)
	}

	resp, body = postJSON(t, sp.base+"/v1/chat/completions", []byte(`{"messages":[{"role":"user","content":"haiku please"}],"stream":false}`))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("chat %d %s", resp.StatusCode, string(body))
	}
	var out struct {
		Choices []struct {
			Message struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(body, &out); err != nil || len(out.Choices) != 1 {
		t.Fatalf("chat json: %v body=%s", err, body)
	}
	if out.Choices[0].Message.Role != "assistant" || out.Choices[0].Message.Content != "Tide pulls moon" {
		t.Fatalf("chat message=%+v", out.Choices[0].Message)
	}

	resp, body = postJSON(t, sp.base+"/v1/chat/completions", []byte(`{"messages":[{"role":"user","content":"hi"}],"stream":true}`))
	if resp.StatusCode != http.StatusOK || !bytes.HasSuffix(body, []byte("data: [DONE]\n\n")) {
		t.Fatalf("stream %d %q", resp.StatusCode, body)
	}

	resp, _ = get(t, sp.base+"/readyz")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("/readyz after first request: %d", resp.StatusCode)
	}
}

func TestBlackbox_UnknownModel_404(t *testing.T) {
	bin := buildBinary(t)
	up := fakeUpstream(t)
	port, release := findFreePort(t)
	release()
	sp := startServer(t, bin, up.URL, port, "model=demo-7b", "response-role=assistant")

	resp, body := postJSON(t, sp.base+"/v1/chat/completions", []byte(`{"model":"missing","messages":[{"role":"user","content":"hi"}]}`))
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d, body=%s", resp.StatusCode, string(body))
	}
	var e struct {
		Code int `json:"code"`
	}
	if err := json.Unmarshal(body, &e); err != nil || e.Code != http.StatusNotFound {
		t.Fatalf("error body=%s", body)
	}
}

func TestBlackbox_InvalidEngineArgsFailStartup(t *testing.T) {
	bin := buildBinary(t)
	cmd := exec.Command(bin, "serve", "--addr", "127.0.0.1:0", "--engine-arg", "model=demo-7b")
	out, err := cmd.CombinedOutput()
	if err == nil {
		t.Fatalf("expected startup failure, output=%s", out)
	}
	if !strings.Contains(string(out), "response-role") {
		t.Fatalf("error does not name the missing key: %s", out)
	}
}

func TestBlackbox_InvalidChatTemplateFailsStartup(t *testing.T) {
	bin := buildBinary(t)
	cmd := exec.Command(bin, "serve", "--addr", "127.0.0.1:0",
		"--engine-arg", "model=demo-7b",
		"--engine-arg", "response-role=assistant",
		"--engine-arg", "chat-template={{range .Messages}")
	out, err := cmd.CombinedOutput()
	if err == nil {
		t.Fatalf("expected startup failure, output=%s", out)
	}
	if !strings.Contains(string(out), "chat-template") {
		t.Fatalf("error does not name the template: %s", out)
	}
}
