//go:build llama

package inproc

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"

	llama "github.com/go-skynet/go-llama.cpp"

	"chatd/internal/engine"
	"chatd/internal/engineargs"
)

// Built reports whether this binary carries the in-process runtime.
const Built = true

// Engine runs generations on a model loaded into this process.
type Engine struct {
	cfg     engineargs.Config
	ctxSize int
	threads int

	// mu serialises predictions; the token callback is model-global.
	mu    sync.Mutex
	model *llama.LLama
}

// New loads the configured model. It blocks until the weights are resident.
func New(opts Options) (*Engine, error) {
	path := strings.TrimSpace(opts.ModelPath)
	if path == "" {
		path = strings.TrimSpace(opts.Config.Model)
	}
	if path == "" {
		return nil, errors.New("model path is empty")
	}
	ctxSize := opts.Config.MaxModelLen
	if ctxSize <= 0 {
		ctxSize = defaultContext
	}
	mo := []llama.ModelOption{llama.SetContext(ctxSize)}
	if !strings.EqualFold(opts.Accelerator, engineargs.AcceleratorCPU) {
		mo = append(mo, llama.SetGPULayers(gpuAllLayers))
	}
	m, err := llama.New(path, mo...)
	if err != nil {
		return nil, engine.ErrDependencyUnavailable("load model: " + err.Error())
	}
	opts.Logger.Info().Str("engine", "inproc").Str("model", path).Int("ctx", ctxSize).Msg("model loaded")
	return &Engine{cfg: opts.Config, ctxSize: ctxSize, threads: threadsOrDefault(opts.Threads), model: m}, nil
}

// ModelConfig reports the configured model; the runtime has no richer metadata.
func (e *Engine) ModelConfig(ctx context.Context) (engine.ModelConfig, error) {
	return engine.ModelConfig{Model: e.cfg.Model, MaxModelLen: e.ctxSize, Retrieved: true}, nil
}

// Generate streams tokens from the model through the token callback.
func (e *Engine) Generate(ctx context.Context, req engine.Request) (engine.Stream, error) {
	if req.Adapter != nil {
		return nil, engine.NewError(http.StatusBadRequest, "adapters are not supported by the in-process engine")
	}
	prompt := req.Prompt
	if prompt == "" {
		prompt = flattenMessages(req.Messages)
	}
	po := predictOptions(req.Params, e.threads)
	return engine.NewCallbackStream(ctx, func(ctx context.Context, emit func(engine.Output) error) error {
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.model == nil {
			return engine.ErrDependencyUnavailable("model unloaded")
		}
		tokens := 0
		e.model.SetTokenCallback(func(tok string) bool {
			if emit(engine.Output{Text: tok}) != nil {
				return false
			}
			tokens++
			return true
		})
		defer e.model.SetTokenCallback(nil)
		if _, err := e.model.Predict(prompt, po...); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return engine.NewError(http.StatusInternalServerError, err.Error())
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		finish := "stop"
		if req.Params.MaxTokens > 0 && tokens >= req.Params.MaxTokens {
			finish = "length"
		}
		return emit(engine.Output{FinishReason: finish, CompletionTokens: tokens})
	}), nil
}

// Close frees the model.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.model != nil {
		e.model.Free()
		e.model = nil
	}
	return nil
}

func predictOptions(p engine.SamplingParams, threads int) []llama.PredictOption {
	po := []llama.PredictOption{
		llama.SetTokens(maxInt(1, zeroOr(p.MaxTokens, llama.DefaultOptions.Tokens))),
		llama.SetThreads(threads),
		llama.SetTopK(zeroOr(p.TopK, llama.DefaultOptions.TopK)),
		llama.SetTopP(f32Or(p.TopP, llama.DefaultOptions.TopP)),
		llama.SetTemperature(f32Or(p.Temperature, llama.DefaultOptions.Temperature)),
		llama.SetPenalty(f32Or(p.RepetitionPenalty, llama.DefaultOptions.Penalty)),
	}
	if p.Seed != nil {
		po = append(po, llama.SetSeed(int(*p.Seed)))
	}
	if len(p.Stop) > 0 {
		po = append(po, llama.SetStopWords(p.Stop...))
	}
	return po
}

func f32Or(v *float64, def float32) float32 {
	if v == nil {
		return def
	}
	return float32(*v)
}

func zeroOr(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
