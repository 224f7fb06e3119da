package llamaserver

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"chatd/internal/engine"
)

// streamEvent is the subset of an OpenAI streaming event we consume. Chat
// events carry delta.content; completion events carry text.
type streamEvent struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		Text         string  `json:"text"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// sseStream reads one event per Recv from the response body.
type sseStream struct {
	ctx       context.Context
	cancel    context.CancelFunc
	body      io.ReadCloser
	r         *bufio.Reader
	log       zerolog.Logger
	done      bool
	closeOnce sync.Once
}

func (s *sseStream) Recv() (engine.Output, error) {
	for !s.done {
		line, err := s.r.ReadString('\n')
		if out, ok, perr := s.parseLine(line); perr != nil {
			return engine.Output{}, perr
		} else if ok {
			return out, nil
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.done = true
				break
			}
			if s.ctx.Err() != nil {
				return engine.Output{}, s.ctx.Err()
			}
			s.log.Warn().Err(err).Msg("stream read error")
			return engine.Output{}, err
		}
	}
	return engine.Output{}, io.EOF
}

// parseLine interprets one SSE line. ok is true when the line produced an
// output for the caller.
func (s *sseStream) parseLine(line string) (engine.Output, bool, error) {
	l := strings.TrimSpace(line)
	if l == "" || !strings.HasPrefix(strings.ToLower(l), "data:") {
		// blank separators, comments and event names
		return engine.Output{}, false, nil
	}
	data := strings.TrimSpace(l[len("data:"):])
	if data == "[DONE]" {
		s.done = true
		return engine.Output{}, false, nil
	}
	var ev streamEvent
	if err := json.Unmarshal([]byte(data), &ev); err != nil {
		s.log.Debug().Str("line", l).Msg("unknown stream line")
		return engine.Output{}, false, nil
	}
	if ev.Error != nil {
		code := ev.Error.Code
		if code == 0 {
			code = http.StatusInternalServerError
		}
		s.done = true
		return engine.Output{}, false, engine.NewError(code, ev.Error.Message)
	}
	var out engine.Output
	if len(ev.Choices) > 0 {
		ch := ev.Choices[0]
		out.Text = ch.Delta.Content + ch.Text
		if ch.FinishReason != nil {
			out.FinishReason = *ch.FinishReason
		}
	}
	if ev.Usage != nil {
		out.PromptTokens = ev.Usage.PromptTokens
		out.CompletionTokens = ev.Usage.CompletionTokens
	}
	if out == (engine.Output{}) {
		return out, false, nil
	}
	return out, true, nil
}

func (s *sseStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.body.Close()
		s.cancel()
	})
	return err
}
