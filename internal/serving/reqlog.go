package serving

import (
	"github.com/rs/zerolog"

	"chatd/internal/engine"
)

// requestLogger records every incoming generation with its prompt clipped
// to maxLen characters (0 keeps everything).
type requestLogger struct {
	log      zerolog.Logger
	maxLen   int
	disabled bool
}

func (l requestLogger) record(r engine.Request, user string) {
	if l.disabled {
		return
	}
	ev := l.log.Info().Str("request_id", r.ID).Str("model", r.Model)
	if r.Adapter != nil {
		ev = ev.Str("adapter", r.Adapter.Name)
	}
	if user != "" {
		ev = ev.Str("user", user)
	}
	if r.Prompt != "" {
		ev = ev.Str("prompt", clip(r.Prompt, l.maxLen))
	} else {
		msgs := zerolog.Arr()
		for _, m := range r.Messages {
			msgs = msgs.Dict(zerolog.Dict().Str("role", m.Role).Str("content", clip(m.Content, l.maxLen)))
		}
		ev = ev.Array("messages", msgs)
	}
	p := r.Params
	ev = ev.Int("max_tokens", p.MaxTokens)
	if p.Temperature != nil {
		ev = ev.Float64("temperature", *p.Temperature)
	}
	if p.TopP != nil {
		ev = ev.Float64("top_p", *p.TopP)
	}
	if len(p.Stop) > 0 {
		ev = ev.Strs("stop", p.Stop)
	}
	ev.Msg("received request")
}

// clip shortens s to at most n runes; n <= 0 leaves s untouched.
func clip(s string, n int) string {
	if n <= 0 {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
