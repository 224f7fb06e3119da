// Package inproc runs the model inside the chatd process through the
// go-llama.cpp bindings. Builds without the llama tag carry a stub that
// reports the runtime as unavailable.
package inproc

import (
	"runtime"
	"strings"

	"github.com/rs/zerolog"

	"chatd/internal/engine"
	"chatd/internal/engineargs"
)

const (
	defaultContext = 2048
	gpuAllLayers   = 999
)

// Options configures the in-process engine.
type Options struct {
	Config engineargs.Config
	// ModelPath is the weights file to load; empty uses Config.Model.
	ModelPath   string
	Accelerator string
	// Threads used for prediction; 0 uses the CPU count.
	Threads int
	Logger  zerolog.Logger
}

var _ engine.Engine = (*Engine)(nil)

func threadsOrDefault(n int) int {
	if n > 0 {
		return n
	}
	return runtime.NumCPU()
}

// flattenMessages renders messages as a plain transcript for models loaded
// without a chat template, ending with an open assistant turn.
func flattenMessages(msgs []engine.Message) string {
	var b strings.Builder
	for _, m := range msgs {
		b.WriteString(m.Role)
		b.WriteString(": ")
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	b.WriteString("assistant: ")
	return b.String()
}
