// Package llamaserver implements engine.Engine on top of a running llama.cpp
// server, using its OpenAI-compatible endpoints.
package llamaserver

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"chatd/internal/engine"
)

// Options configures a Client.
type Options struct {
	BaseURL string
	APIKey  string
	// RequestTimeout bounds a whole generation including streaming; 0 disables it.
	RequestTimeout time.Duration
	// ConnectTimeout bounds TCP connection setup; 0 uses 10s.
	ConnectTimeout time.Duration
	Logger         zerolog.Logger
}

// Client talks to one llama.cpp server.
type Client struct {
	baseURL    string
	apiKey     string
	reqTimeout time.Duration
	httpClient *http.Client
	log        zerolog.Logger
}

var _ engine.Engine = (*Client)(nil)

// New constructs a Client.
func New(opts Options) *Client {
	connectTimeout := opts.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 10 * time.Second
	}
	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   connectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	// Timeout=0: streaming responses are bounded by request contexts instead.
	return &Client{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		apiKey:     opts.APIKey,
		reqTimeout: opts.RequestTimeout,
		httpClient: &http.Client{Transport: tr, Timeout: 0},
		log:        opts.Logger.With().Str("engine", "llama_server").Logger(),
	}
}

// BaseURL returns the server root the client talks to.
func (c *Client) BaseURL() string { return c.baseURL }

type modelsResponse struct {
	Data []struct {
		ID   string `json:"id"`
		Meta struct {
			NCtxTrain int `json:"n_ctx_train"`
		} `json:"meta"`
	} `json:"data"`
}

// ModelConfig queries GET /v1/models and reports the first model.
func (c *Client) ModelConfig(ctx context.Context) (engine.ModelConfig, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/models", nil)
	if err != nil {
		return engine.ModelConfig{}, err
	}
	c.authorize(req)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return engine.ModelConfig{}, ctx.Err()
		}
		return engine.ModelConfig{}, engine.ErrDependencyUnavailable(fmt.Sprintf("llama server unreachable at %s: %v", c.baseURL, err))
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return engine.ModelConfig{}, decodeError(resp)
	}
	var body modelsResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&body); err != nil {
		return engine.ModelConfig{}, fmt.Errorf("decode /v1/models: %w", err)
	}
	if len(body.Data) == 0 {
		return engine.ModelConfig{}, errors.New("llama server reported no models")
	}
	return engine.ModelConfig{Model: body.Data[0].ID, MaxModelLen: body.Data[0].Meta.NCtxTrain, Retrieved: true}, nil
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	Name    string `json:"name,omitempty"`
}

type streamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

// loraScale selects a preloaded LoRA adapter by its slot for one request.
type loraScale struct {
	ID    int     `json:"id"`
	Scale float64 `json:"scale"`
}

// generateRequest is the payload for both /v1/chat/completions and
// /v1/completions; exactly one of Messages or Prompt is set.
type generateRequest struct {
	Model             string         `json:"model,omitempty"`
	Messages          []chatMessage  `json:"messages,omitempty"`
	Prompt            string         `json:"prompt,omitempty"`
	MaxTokens         int            `json:"max_tokens,omitempty"`
	Temperature       *float64       `json:"temperature,omitempty"`
	TopP              *float64       `json:"top_p,omitempty"`
	TopK              int            `json:"top_k,omitempty"`
	Stop              []string       `json:"stop,omitempty"`
	Seed              *int64         `json:"seed,omitempty"`
	PresencePenalty   *float64       `json:"presence_penalty,omitempty"`
	FrequencyPenalty  *float64       `json:"frequency_penalty,omitempty"`
	RepetitionPenalty *float64       `json:"repeat_penalty,omitempty"`
	Stream            bool           `json:"stream"`
	StreamOptions     *streamOptions `json:"stream_options,omitempty"`
	// LoRA is always sent: adapters missing from the list run at scale 0,
	// so an empty list serves the plain base model.
	LoRA []loraScale `json:"lora"`
}

// Generate starts a streamed generation. Structured messages go to
// /v1/chat/completions; a pre-rendered prompt goes to /v1/completions.
func (c *Client) Generate(ctx context.Context, r engine.Request) (engine.Stream, error) {
	payload := generateRequest{
		Model:             r.Model,
		MaxTokens:         r.Params.MaxTokens,
		Temperature:       r.Params.Temperature,
		TopP:              r.Params.TopP,
		TopK:              r.Params.TopK,
		Stop:              r.Params.Stop,
		Seed:              r.Params.Seed,
		PresencePenalty:   r.Params.PresencePenalty,
		FrequencyPenalty:  r.Params.FrequencyPenalty,
		RepetitionPenalty: r.Params.RepetitionPenalty,
		Stream:            true,
		StreamOptions:     &streamOptions{IncludeUsage: true},
		LoRA:              []loraScale{},
	}
	if r.Adapter != nil {
		payload.Model = r.Adapter.Name
		payload.LoRA = []loraScale{{ID: r.Adapter.ID, Scale: 1}}
	}
	path := "/v1/chat/completions"
	if r.Prompt != "" {
		path = "/v1/completions"
		payload.Prompt = r.Prompt
	} else {
		payload.Messages = make([]chatMessage, 0, len(r.Messages))
		for _, m := range r.Messages {
			payload.Messages = append(payload.Messages, chatMessage{Role: m.Role, Content: m.Content, Name: m.Name})
		}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	cancel := context.CancelFunc(func() {})
	if c.reqTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, c.reqTimeout)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	if r.ID != "" {
		req.Header.Set("X-Request-Id", r.ID)
	}
	c.authorize(req)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		cancel()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, engine.ErrDependencyUnavailable(fmt.Sprintf("llama server unreachable at %s: %v", c.baseURL, err))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer cancel()
		defer resp.Body.Close()
		return nil, decodeError(resp)
	}
	return &sseStream{
		ctx:    ctx,
		cancel: cancel,
		body:   resp.Body,
		r:      bufio.NewReader(resp.Body),
		log:    c.log,
	}, nil
}

func (c *Client) authorize(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

// decodeError turns a non-2xx response into an *engine.Error, keeping the
// upstream status code.
func decodeError(resp *http.Response) error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var env struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
		Message string `json:"message"`
	}
	msg := strings.TrimSpace(string(b))
	if err := json.Unmarshal(b, &env); err == nil {
		switch {
		case env.Error.Message != "":
			msg = env.Error.Message
		case env.Message != "":
			msg = env.Message
		}
	}
	if msg == "" {
		msg = resp.Status
	}
	return engine.NewError(resp.StatusCode, msg)
}
