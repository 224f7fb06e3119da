package engine

import "context"

// Engine is an inference backend.
type Engine interface {
	// ModelConfig returns metadata about the loaded model.
	ModelConfig(ctx context.Context) (ModelConfig, error)
	// Generate starts a generation. The returned Stream must be closed by the
	// caller. Canceling ctx stops production.
	Generate(ctx context.Context, req Request) (Stream, error)
	// Close releases engine resources.
	Close() error
}

// Stream yields generation outputs in the order the engine produces them.
// Recv returns io.EOF once the generation is complete.
type Stream interface {
	Recv() (Output, error)
	Close() error
}

// ModelConfig is the engine-reported model metadata.
type ModelConfig struct {
	// Model is the identifier the engine reports for the loaded model.
	Model string
	// MaxModelLen is the context length; 0 when unknown.
	MaxModelLen int
	// Retrieved is set by engines once metadata was actually fetched, even
	// when the engine reported no id or context length.
	Retrieved bool
}

// Message is one role-tagged conversation message.
type Message struct {
	Role    string
	Content string
	Name    string
}

// Adapter selects a LoRA module for a request. Engines preload every
// configured module; ID is the module's position in the configured order.
type Adapter struct {
	ID   int
	Name string
	Path string
}

// SamplingParams are the generation parameters forwarded to the engine.
// Nil pointers mean "engine default".
type SamplingParams struct {
	MaxTokens         int
	Temperature       *float64
	TopP              *float64
	TopK              int
	Stop              []string
	Seed              *int64
	PresencePenalty   *float64
	FrequencyPenalty  *float64
	RepetitionPenalty *float64
}

// Request is a single generation request. Exactly one of Messages or Prompt
// is set: Prompt when the gateway rendered a chat template itself.
type Request struct {
	ID       string
	Model    string
	Adapter  *Adapter
	Messages []Message
	Prompt   string
	Params   SamplingParams
}

// Output is one increment of a generation.
type Output struct {
	// Text is the newly generated text (a delta, not cumulative).
	Text string
	// FinishReason is set on the final increment, e.g. "stop" or "length".
	FinishReason string
	// Token accounting; set when the engine reports it, usually on the last output.
	PromptTokens     int
	CompletionTokens int
}
