//go:build !llama

package inproc

import (
	"context"

	"chatd/internal/engine"
)

// Built reports whether this binary carries the in-process runtime.
const Built = false

const notBuilt = "in-process llama runtime not built (missing 'llama' build tag)"

// Engine is a placeholder so callers compile without cgo.
type Engine struct{}

// New fails: the runtime is not available in this build.
func New(opts Options) (*Engine, error) {
	return nil, engine.ErrDependencyUnavailable(notBuilt)
}

func (e *Engine) ModelConfig(ctx context.Context) (engine.ModelConfig, error) {
	return engine.ModelConfig{}, engine.ErrDependencyUnavailable(notBuilt)
}

func (e *Engine) Generate(ctx context.Context, req engine.Request) (engine.Stream, error) {
	return nil, engine.ErrDependencyUnavailable(notBuilt)
}

func (e *Engine) Close() error { return nil }
