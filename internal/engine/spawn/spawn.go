// Package spawn runs a llama.cpp server as a child process and serves
// generations through it.
package spawn

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"chatd/internal/engine"
	"chatd/internal/engine/llamaserver"
	"chatd/internal/engineargs"
)

const (
	defaultReadyTimeout = 2 * time.Minute
	stopGrace           = 2 * time.Second
	// gpuAllLayers asks llama.cpp to offload every layer to the accelerator.
	gpuAllLayers = 999
)

// Options configures the spawned runtime.
type Options struct {
	Bin         string
	Host        string
	PortStart   int
	PortEnd     int
	Accelerator string
	Config      engineargs.Config
	// ModelPath is the weights file passed to -m; empty uses Config.Model.
	ModelPath string
	ExtraArgs []string
	// ReadyTimeout bounds how long ModelConfig waits for the server to load.
	ReadyTimeout   time.Duration
	RequestTimeout time.Duration
	ConnectTimeout time.Duration
	Logger         zerolog.Logger
}

// Engine owns one llama-server child process.
type Engine struct {
	client       *llamaserver.Client
	cmd          *exec.Cmd
	output       *tailBuffer
	exited       chan struct{}
	exitErr      error // set before exited is closed
	readyTimeout time.Duration
	log          zerolog.Logger

	mu    sync.Mutex
	ready bool

	stopOnce sync.Once
}

var _ engine.Engine = (*Engine)(nil)

// New starts the child process and returns immediately; ModelConfig blocks
// until the server answers.
func New(opts Options) (*Engine, error) {
	bin := strings.TrimSpace(opts.Bin)
	if bin == "" {
		bin = DiscoverBin()
	}
	if bin == "" {
		return nil, engine.ErrDependencyUnavailable("llama-server not found: set engine.bin or install llama.cpp")
	}
	if fi, err := os.Stat(bin); err != nil || fi.IsDir() {
		return nil, engine.ErrDependencyUnavailable(fmt.Sprintf("llama-server not found or not a file: %s", bin))
	}
	host := strings.TrimSpace(opts.Host)
	if host == "" {
		host = "127.0.0.1"
	}
	var port int
	var err error
	if opts.PortStart > 0 && opts.PortEnd >= opts.PortStart {
		port, err = pickPortInRange(host, opts.PortStart, opts.PortEnd)
	} else {
		port, err = pickFreePort(host)
	}
	if err != nil {
		return nil, err
	}
	args := BuildArgs(opts.Config, opts.ModelPath, opts.Accelerator, host, port, opts.ExtraArgs)
	baseURL := "http://" + net.JoinHostPort(host, strconv.Itoa(port))
	log := opts.Logger.With().Str("engine", "spawn").Str("url", baseURL).Logger()

	out := newTailBuffer(4096)
	cmd := exec.Command(bin, args...)
	cmd.Stdout = out
	cmd.Stderr = out
	if err := cmd.Start(); err != nil {
		return nil, engine.ErrDependencyUnavailable(fmt.Sprintf("start llama-server: %v", err))
	}
	log.Info().Int("pid", cmd.Process.Pid).Strs("args", args).Msg("llama-server started")

	e := &Engine{
		client: llamaserver.New(llamaserver.Options{
			BaseURL:        baseURL,
			RequestTimeout: opts.RequestTimeout,
			ConnectTimeout: opts.ConnectTimeout,
			Logger:         opts.Logger,
		}),
		cmd:          cmd,
		output:       out,
		exited:       make(chan struct{}),
		readyTimeout: opts.ReadyTimeout,
		log:          log,
	}
	if e.readyTimeout <= 0 {
		e.readyTimeout = defaultReadyTimeout
	}
	go func() {
		e.exitErr = cmd.Wait()
		close(e.exited)
	}()
	return e, nil
}

// BuildArgs maps the engine configuration onto llama-server flags. The server
// is aliased to the model name so it reports that id whatever the file path.
func BuildArgs(cfg engineargs.Config, modelPath, accelerator, host string, port int, extra []string) []string {
	if modelPath == "" {
		modelPath = cfg.Model
	}
	args := []string{
		"-m", modelPath,
		"--alias", cfg.Model,
		"--host", host,
		"--port", strconv.Itoa(port),
	}
	if cfg.MaxModelLen > 0 {
		args = append(args, "-c", strconv.Itoa(cfg.MaxModelLen))
	}
	if strings.EqualFold(accelerator, engineargs.AcceleratorCPU) {
		args = append(args, "-ngl", "0")
	} else {
		args = append(args, "-ngl", strconv.Itoa(gpuAllLayers))
	}
	if cfg.TensorParallelSize > 1 {
		args = append(args, "--split-mode", "row")
	}
	if rpc := cfg.RPCServers(); cfg.DistributedEngine && len(rpc) > 0 {
		args = append(args, "--rpc", strings.Join(rpc, ","))
	}
	// adapters load at scale 0; each request selects its own by slot
	loras := cfg.LoRAModules()
	for _, l := range loras {
		args = append(args, "--lora", l.Path)
	}
	if len(loras) > 0 {
		args = append(args, "--lora-init-without-apply")
	}
	if cfg.HasSeed {
		args = append(args, "--seed", strconv.FormatInt(cfg.Seed, 10))
	}
	return append(args, extra...)
}

// ModelConfig waits until the server is healthy and returns its metadata.
func (e *Engine) ModelConfig(ctx context.Context) (engine.ModelConfig, error) {
	if err := e.waitReady(ctx); err != nil {
		return engine.ModelConfig{}, err
	}
	return e.client.ModelConfig(ctx)
}

func (e *Engine) waitReady(ctx context.Context) error {
	e.mu.Lock()
	ready := e.ready
	e.mu.Unlock()
	if ready {
		return nil
	}
	deadline := time.NewTimer(e.readyTimeout)
	defer deadline.Stop()
	for {
		select {
		case <-e.exited:
			return e.exitError()
		default:
		}
		attemptCtx, cancel := context.WithTimeout(ctx, time.Second)
		_, err := e.client.ModelConfig(attemptCtx)
		cancel()
		if err == nil {
			e.mu.Lock()
			e.ready = true
			e.mu.Unlock()
			e.log.Info().Int("pid", e.cmd.Process.Pid).Msg("llama-server ready")
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.exited:
			return e.exitError()
		case <-deadline.C:
			return engine.ErrDependencyUnavailable(fmt.Sprintf("llama-server not ready after %s: %v", e.readyTimeout, err))
		case <-time.After(100 * time.Millisecond):
		}
	}
}

func (e *Engine) exitError() error {
	if e.exitErr != nil {
		return engine.ErrDependencyUnavailable(fmt.Sprintf("llama-server exited: %v; output tail: %s", e.exitErr, e.output.String()))
	}
	return engine.ErrDependencyUnavailable("llama-server exited; output tail: " + e.output.String())
}

// Generate delegates to the server once it is running.
func (e *Engine) Generate(ctx context.Context, req engine.Request) (engine.Stream, error) {
	select {
	case <-e.exited:
		return nil, e.exitError()
	default:
	}
	return e.client.Generate(ctx, req)
}

// Close terminates the child process: SIGTERM first, then kill.
func (e *Engine) Close() error {
	e.stopOnce.Do(func() {
		_ = e.client.Close()
		if e.cmd.Process == nil {
			return
		}
		_ = e.cmd.Process.Signal(syscall.SIGTERM)
		select {
		case <-e.exited:
		case <-time.After(stopGrace):
			_ = e.cmd.Process.Kill()
			<-e.exited
		}
		e.log.Info().Msg("llama-server stopped")
	})
	return nil
}

// PID returns the child process id.
func (e *Engine) PID() int { return e.cmd.Process.Pid }

// DiscoverBin locates a llama-server binary on PATH or in common locations.
func DiscoverBin() string {
	if lp, err := exec.LookPath("llama-server"); err == nil {
		return lp
	}
	for _, p := range []string{"/usr/local/bin/llama-server", "/opt/homebrew/bin/llama-server"} {
		if fi, err := os.Stat(p); err == nil && !fi.IsDir() {
			return p
		}
	}
	return ""
}

func pickPortInRange(host string, start, end int) (int, error) {
	for p := start; p <= end; p++ {
		l, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(p)))
		if err != nil {
			continue
		}
		_ = l.Close()
		return p, nil
	}
	return 0, fmt.Errorf("no free port in range %d-%d", start, end)
}

func pickFreePort(host string) (int, error) {
	l, err := net.Listen("tcp", net.JoinHostPort(host, "0"))
	if err != nil {
		return 0, err
	}
	defer l.Close()
	addr, ok := l.Addr().(*net.TCPAddr)
	if !ok {
		return 0, errors.New("unexpected listener address: " + l.Addr().String())
	}
	return addr.Port, nil
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	buf []byte
	max int
}

func newTailBuffer(max int) *tailBuffer { return &tailBuffer{max: max} }

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.max; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.TrimSpace(string(t.buf))
}
