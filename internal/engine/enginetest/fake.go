// Package enginetest provides a scripted in-memory engine for tests.
package enginetest

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"chatd/internal/engine"
)

// Fake is a scripted engine.Engine. Configure the exported fields before
// first use; they are read without locking.
type Fake struct {
	Meta      engine.ModelConfig
	MetaErr   error
	MetaDelay time.Duration

	// Outputs are emitted in order by every generation.
	Outputs []engine.Output
	// GenerateErr fails Generate itself.
	GenerateErr error
	// StreamErr is returned by the stream after Outputs.
	StreamErr error
	// Endless keeps emitting "tick" after Outputs until the stream is closed.
	Endless bool

	metaCalls atomic.Int64
	closed    atomic.Bool

	mu       sync.Mutex
	requests []engine.Request
}

var _ engine.Engine = (*Fake)(nil)

// New returns a Fake reporting model with a 4096-token context.
func New(model string, outputs ...engine.Output) *Fake {
	return &Fake{Meta: engine.ModelConfig{Model: model, MaxModelLen: 4096, Retrieved: true}, Outputs: outputs}
}

// Tokens builds outputs for the given text pieces, the last one carrying
// finish reason "stop".
func Tokens(pieces ...string) []engine.Output {
	outs := make([]engine.Output, 0, len(pieces))
	for _, p := range pieces {
		outs = append(outs, engine.Output{Text: p})
	}
	if n := len(outs); n > 0 {
		outs[n-1].FinishReason = "stop"
		outs[n-1].PromptTokens = 5
		outs[n-1].CompletionTokens = n
	}
	return outs
}

func (f *Fake) ModelConfig(ctx context.Context) (engine.ModelConfig, error) {
	f.metaCalls.Add(1)
	if f.MetaDelay > 0 {
		select {
		case <-time.After(f.MetaDelay):
		case <-ctx.Done():
			return engine.ModelConfig{}, ctx.Err()
		}
	}
	if f.MetaErr != nil {
		return engine.ModelConfig{}, f.MetaErr
	}
	return f.Meta, nil
}

func (f *Fake) Generate(ctx context.Context, req engine.Request) (engine.Stream, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	if f.GenerateErr != nil {
		return nil, f.GenerateErr
	}
	return engine.NewCallbackStream(ctx, func(ctx context.Context, emit func(engine.Output) error) error {
		for _, o := range f.Outputs {
			if err := emit(o); err != nil {
				return err
			}
		}
		for f.Endless {
			if err := emit(engine.Output{Text: "tick"}); err != nil {
				return err
			}
		}
		return f.StreamErr
	}), nil
}

func (f *Fake) Close() error {
	f.closed.Store(true)
	return nil
}

// MetaCalls returns how many times ModelConfig was called.
func (f *Fake) MetaCalls() int { return int(f.metaCalls.Load()) }

// Closed reports whether Close was called.
func (f *Fake) Closed() bool { return f.closed.Load() }

// Requests returns the generation requests received so far.
func (f *Fake) Requests() []engine.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]engine.Request(nil), f.requests...)
}
