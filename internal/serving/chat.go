// Package serving maps OpenAI chat-completion requests onto engine calls and
// shapes the outcome into an error, a buffered completion or an event stream.
package serving

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"text/template"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"chatd/internal/engine"
	"chatd/internal/engineargs"
	"chatd/internal/models"
	"chatd/pkg/types"
)

// Options tunes a Chat.
type Options struct {
	Logger zerolog.Logger
	// Template is a chat template already compiled with LoadTemplate. When
	// nil, Build compiles the configured chat-template itself.
	Template *template.Template
	// Now overrides the clock used for created timestamps.
	Now func() time.Time
}

// Chat serves chat completions against one engine. It is safe for
// concurrent use.
type Chat struct {
	eng      engine.Engine
	cfg      engineargs.Config
	registry *models.Registry
	tmpl     *template.Template
	reqLog   requestLogger
	log      zerolog.Logger
	now      func() time.Time
}

// Build fetches model metadata from the engine once and prepares the
// serving state.
func Build(ctx context.Context, eng engine.Engine, cfg engineargs.Config, opts Options) (*Chat, error) {
	mc, err := eng.ModelConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("engine model config: %w", err)
	}
	reg, err := models.New(mc, cfg)
	if err != nil {
		return nil, err
	}
	tmpl := opts.Template
	if tmpl == nil {
		if tmpl, err = LoadTemplate(cfg.ChatTemplate); err != nil {
			return nil, err
		}
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	log := opts.Logger.With().Str("component", "serving").Logger()
	return &Chat{
		eng:      eng,
		cfg:      cfg,
		registry: reg,
		tmpl:     tmpl,
		reqLog:   requestLogger{log: log, maxLen: cfg.MaxLogLen, disabled: cfg.DisableLogRequests},
		log:      log,
		now:      now,
	}, nil
}

// Registry returns the model registry built from engine metadata.
func (c *Chat) Registry() *models.Registry { return c.registry }

// ListModels returns the GET /v1/models payload.
func (c *Chat) ListModels() types.ModelList { return c.registry.Response() }

// Complete runs one chat completion. It never returns an error: failures
// are reported as a KindError Result. With req.Stream false the result is
// never KindStreamed.
func (c *Chat) Complete(ctx context.Context, req *types.ChatCompletionRequest) Result {
	res := c.complete(ctx, req)
	resultsTotal.WithLabelValues(res.Kind.String()).Inc()
	return res
}

func (c *Chat) complete(ctx context.Context, req *types.ChatCompletionRequest) Result {
	if req == nil {
		return ErrorResult(http.StatusBadRequest, "request body is required")
	}
	if err := c.validate(req); err != nil {
		return ErrorResult(http.StatusBadRequest, err.Error())
	}
	mp, ok := c.registry.Resolve(req.Model)
	if !ok {
		return ErrorResult(http.StatusNotFound, fmt.Sprintf("The model `%s` does not exist.", req.Model))
	}
	if mp.Kind == models.KindPromptAdapter {
		return ErrorResult(http.StatusBadRequest, fmt.Sprintf("The model `%s` is a prompt adapter; the llama.cpp engines cannot generate with prompt adapters.", mp.Name))
	}
	er, err := c.engineRequest(req, mp)
	if err != nil {
		return ErrorResult(http.StatusBadRequest, err.Error())
	}
	c.reqLog.record(er, req.User)

	src, err := c.eng.Generate(ctx, er)
	if err != nil {
		c.log.Debug().Err(err).Str("request_id", er.ID).Msg("generate failed")
		return Result{Kind: KindError, Error: errorFromEngine(err)}
	}
	created := c.now().Unix()
	if req.Stream {
		includeUsage := req.StreamOptions != nil && req.StreamOptions.IncludeUsage
		return Result{Kind: KindStreamed, Stream: newStream(ctx, src, er.ID, mp.Name, c.cfg.ResponseRole, created, includeUsage, c.log)}
	}
	return c.buffer(src, er.ID, mp.Name, created)
}

func (c *Chat) validate(req *types.ChatCompletionRequest) error {
	if len(req.Messages) == 0 {
		return errors.New("messages must contain at least one message")
	}
	for i, m := range req.Messages {
		if strings.TrimSpace(m.Role) == "" {
			return fmt.Errorf("messages[%d].role is required", i)
		}
	}
	if req.N != nil && *req.N != 1 {
		return errors.New("only n=1 is supported")
	}
	maxTokens := effectiveMaxTokens(req)
	if maxTokens < 0 {
		return errors.New("max_tokens must be >= 0")
	}
	if limit := c.contextLimit(); limit > 0 && maxTokens > limit {
		return fmt.Errorf("max_tokens (%d) exceeds the model context length (%d)", maxTokens, limit)
	}
	return nil
}

// contextLimit is the configured max-model-len, else the engine-reported
// context length; 0 when neither is known.
func (c *Chat) contextLimit() int {
	if c.cfg.MaxModelLen > 0 {
		return c.cfg.MaxModelLen
	}
	return c.registry.EngineConfig().MaxModelLen
}

func effectiveMaxTokens(req *types.ChatCompletionRequest) int {
	switch {
	case req.MaxCompletionTokens != nil:
		return *req.MaxCompletionTokens
	case req.MaxTokens != nil:
		return *req.MaxTokens
	default:
		return 0
	}
}

func (c *Chat) engineRequest(req *types.ChatCompletionRequest, mp models.ModelPath) (engine.Request, error) {
	msgs := make([]engine.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		msgs = append(msgs, engine.Message{Role: m.Role, Content: string(m.Content), Name: m.Name})
	}
	er := engine.Request{
		ID:    "chatcmpl-" + uuid.NewString(),
		Model: c.registry.Base().Name,
		Params: engine.SamplingParams{
			MaxTokens:         effectiveMaxTokens(req),
			Temperature:       req.Temperature,
			TopP:              req.TopP,
			Stop:              []string(req.Stop),
			Seed:              req.Seed,
			PresencePenalty:   req.PresencePenalty,
			FrequencyPenalty:  req.FrequencyPenalty,
			RepetitionPenalty: req.RepetitionPenalty,
		},
	}
	if req.TopK != nil {
		er.Params.TopK = *req.TopK
	}
	if mp.Kind == models.KindLoRA {
		er.Adapter = &engine.Adapter{ID: mp.Index, Name: mp.Name, Path: mp.Path}
	}
	if c.tmpl == nil {
		er.Messages = msgs
		return er, nil
	}
	prompt, err := renderPrompt(c.tmpl, msgs, c.cfg.ResponseRole)
	if err != nil {
		return engine.Request{}, err
	}
	er.Prompt = prompt
	return er, nil
}

// buffer drains src into a single chat.completion object.
func (c *Chat) buffer(src engine.Stream, id, model string, created int64) Result {
	defer src.Close()
	var (
		text   strings.Builder
		finish string
		usage  types.Usage
	)
	for {
		out, err := src.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			c.log.Debug().Err(err).Str("request_id", id).Msg("generation failed")
			return Result{Kind: KindError, Error: errorFromEngine(err)}
		}
		text.WriteString(out.Text)
		if out.FinishReason != "" {
			finish = out.FinishReason
		}
		accumulateUsage(&usage, out)
	}
	if finish == "" {
		finish = "stop"
	}
	return Result{Kind: KindBuffered, Completion: &types.ChatCompletionResponse{
		ID:      id,
		Object:  "chat.completion",
		Created: created,
		Model:   model,
		Choices: []types.ChatChoice{{
			Index:        0,
			Message:      types.ChatMessage{Role: c.cfg.ResponseRole, Content: types.MessageContent(text.String())},
			FinishReason: finish,
		}},
		Usage: &usage,
	}}
}

// accumulateUsage keeps the largest counts seen; engines report cumulative
// totals, usually once at the end.
func accumulateUsage(u *types.Usage, out engine.Output) {
	if out.PromptTokens > u.PromptTokens {
		u.PromptTokens = out.PromptTokens
	}
	if out.CompletionTokens > u.CompletionTokens {
		u.CompletionTokens = out.CompletionTokens
	}
	u.TotalTokens = u.PromptTokens + u.CompletionTokens
}
