package types

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
)

// ChatCompletionRequest is the OpenAI-compatible chat request body.
type ChatCompletionRequest struct {
	// Model to serve the request. Empty selects the base model.
	// example: demo-7b
	Model string `json:"model,omitempty" example:"demo-7b"`
	// Ordered conversation messages.
	Messages []ChatMessage `json:"messages"`
	// If true, the response is streamed as text/event-stream.
	// example: false
	Stream bool `json:"stream,omitempty" example:"false"`
	// Streaming options; only honored when stream is true.
	StreamOptions *StreamOptions `json:"stream_options,omitempty"`
	// Maximum number of tokens to generate.
	// example: 128
	MaxTokens *int `json:"max_tokens,omitempty" example:"128"`
	// Newer alias for max_tokens; takes precedence when both are set.
	MaxCompletionTokens *int `json:"max_completion_tokens,omitempty"`
	// Sampling temperature.
	// example: 0.7
	Temperature *float64 `json:"temperature,omitempty" example:"0.7"`
	// Nucleus sampling probability.
	// example: 0.9
	TopP *float64 `json:"top_p,omitempty" example:"0.9"`
	// Top-K sampling (engine extension).
	// example: 40
	TopK *int `json:"top_k,omitempty" example:"40"`
	// Number of choices. Only 1 is supported.
	// example: 1
	N *int `json:"n,omitempty" example:"1"`
	// Stop sequences; accepts a string or a list of strings.
	Stop StopSequences `json:"stop,omitempty" swaggertype:"array,string"`
	// Random seed.
	// example: 42
	Seed *int64 `json:"seed,omitempty" example:"42"`
	// example: 0
	PresencePenalty *float64 `json:"presence_penalty,omitempty" example:"0"`
	// example: 0
	FrequencyPenalty *float64 `json:"frequency_penalty,omitempty" example:"0"`
	// Repetition penalty (engine extension).
	// example: 1.1
	RepetitionPenalty *float64 `json:"repetition_penalty,omitempty" example:"1.1"`
	// End-user identifier, logged only.
	User string `json:"user,omitempty"`
}

// StreamOptions controls extra items in a streamed response.
type StreamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

// ChatMessage is a single role-tagged message.
type ChatMessage struct {
	// example: user
	Role string `json:"role" example:"user"`
	// example: Write a haiku about the ocean.
	Content MessageContent `json:"content" swaggertype:"string" example:"Write a haiku about the ocean."`
	Name    string         `json:"name,omitempty"`
}

// MessageContent is message text. On input it also accepts the array form
// of content parts; only text parts are kept and they are joined by newlines.
type MessageContent string

func (c *MessageContent) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*c = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*c = MessageContent(s)
		return nil
	}
	var parts []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(b, &parts); err != nil {
		return errors.New("content must be a string or an array of content parts")
	}
	texts := make([]string, 0, len(parts))
	for _, p := range parts {
		if p.Type == "text" {
			texts = append(texts, p.Text)
		}
	}
	*c = MessageContent(strings.Join(texts, "\n"))
	return nil
}

// StopSequences accepts either a single string or a list of strings.
type StopSequences []string

func (s *StopSequences) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*s = nil
		return nil
	}
	if b[0] == '"' {
		var one string
		if err := json.Unmarshal(b, &one); err != nil {
			return err
		}
		*s = StopSequences{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(b, &many); err != nil {
		return errors.New("stop must be a string or an array of strings")
	}
	*s = many
	return nil
}

// ChatCompletionResponse is the buffered (stream=false) response body.
type ChatCompletionResponse struct {
	// example: chatcmpl-0b6f4d8e
	ID string `json:"id" example:"chatcmpl-0b6f4d8e"`
	// example: chat.completion
	Object string `json:"object" example:"chat.completion"`
	// example: 1700000000
	Created int64 `json:"created" example:"1700000000"`
	// example: demo-7b
	Model   string       `json:"model" example:"demo-7b"`
	Choices []ChatChoice `json:"choices"`
	Usage   *Usage       `json:"usage,omitempty"`
}

// ChatChoice is one generated alternative in a buffered response.
type ChatChoice struct {
	Index   int         `json:"index"`
	Message ChatMessage `json:"message"`
	// example: stop
	FinishReason string `json:"finish_reason" example:"stop"`
}

// ChatCompletionChunk is one streamed increment.
type ChatCompletionChunk struct {
	ID      string        `json:"id"`
	Object  string        `json:"object"`
	Created int64         `json:"created"`
	Model   string        `json:"model"`
	Choices []ChunkChoice `json:"choices"`
	Usage   *Usage        `json:"usage,omitempty"`
}

// ChunkChoice carries the delta of one streamed increment.
type ChunkChoice struct {
	Index        int        `json:"index"`
	Delta        ChunkDelta `json:"delta"`
	FinishReason *string    `json:"finish_reason"`
}

// ChunkDelta is the incremental message content.
type ChunkDelta struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
}

// Usage contains token accounting.
type Usage struct {
	// example: 12
	PromptTokens int `json:"prompt_tokens" example:"12"`
	// example: 34
	CompletionTokens int `json:"completion_tokens" example:"34"`
	// example: 46
	TotalTokens int `json:"total_tokens" example:"46"`
}

// ModelList is returned by GET /v1/models.
type ModelList struct {
	// example: list
	Object string      `json:"object" example:"list"`
	Data   []ModelCard `json:"data"`
}

// ModelCard describes one servable model identifier.
type ModelCard struct {
	// Served name of the model or adapter.
	// example: demo-7b
	ID string `json:"id" example:"demo-7b"`
	// example: model
	Object string `json:"object" example:"model"`
	// example: 1700000000
	Created int64 `json:"created" example:"1700000000"`
	// example: chatd
	OwnedBy string `json:"owned_by" example:"chatd"`
	// Filesystem or repository path backing the model.
	// example: demo-7b
	Root string `json:"root" example:"demo-7b"`
	// Base model name for adapters; null for the base model.
	Parent *string `json:"parent"`
	// Context length reported by the engine (base model only).
	// example: 4096
	MaxModelLen *int `json:"max_model_len,omitempty" example:"4096"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// example: error
	Object string `json:"object" example:"error"`
	// Error message.
	// example: The model foo does not exist.
	Message string `json:"message" example:"The model foo does not exist."`
	// Error class.
	// example: NotFoundError
	Type  string  `json:"type" example:"NotFoundError"`
	Param *string `json:"param"`
	// HTTP status code.
	// example: 404
	Code int `json:"code" example:"404"`
}

// StreamError wraps an error reported inside an event stream.
type StreamError struct {
	Error ErrorResponse `json:"error"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	// Serving facade state: uninitialized, building or ready.
	// example: ready
	State string `json:"state" example:"ready"`
	// Configured base model identifier.
	// example: demo-7b
	Model string `json:"model" example:"demo-7b"`
	// Accelerator class.
	// example: GPU
	Accelerator string `json:"accelerator" example:"GPU"`
	// example: 1
	TensorParallelSize int `json:"tensor_parallel_size" example:"1"`
	// Whether the engine itself is distributed across workers.
	// example: false
	DistributedEngine bool `json:"distributed_engine" example:"false"`
	// Value of the engine API toggle, diagnostic only.
	// example: not set
	EngineAPIV1 string `json:"engine_use_v1" example:"not set"`
	// Number of facade builds started (1 once ready, more after failed builds).
	// example: 1
	BuildsTotal uint64 `json:"builds_total" example:"1"`
	// Last build error, if any.
	LastError string `json:"last_error,omitempty"`
	// example: 3600
	UptimeSeconds int64 `json:"uptime_seconds" example:"3600"`
	// example: 1700000000
	ServerTimeUnix int64 `json:"server_time_unix" example:"1700000000"`
}
