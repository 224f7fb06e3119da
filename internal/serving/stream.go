package serving

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"

	"github.com/rs/zerolog"

	"chatd/internal/engine"
	"chatd/pkg/types"
)

var doneFrame = []byte("data: [DONE]\n\n")

type streamPhase int

const (
	phaseStart streamPhase = iota
	phaseContent
	phaseDone
)

// Stream is a single-pass sequence of text/event-stream frames, each a
// complete "data: ...\n\n" item. Pulling a frame pulls the engine; nothing
// is generated ahead of the consumer.
type Stream struct {
	ctx          context.Context
	src          engine.Stream
	id           string
	model        string
	role         string
	created      int64
	includeUsage bool
	log          zerolog.Logger

	phase   streamPhase
	pending [][]byte
	finish  string
	usage   types.Usage

	closeOnce sync.Once
}

func newStream(ctx context.Context, src engine.Stream, id, model, role string, created int64, includeUsage bool, log zerolog.Logger) *Stream {
	return &Stream{
		ctx:          ctx,
		src:          src,
		id:           id,
		model:        model,
		role:         role,
		created:      created,
		includeUsage: includeUsage,
		log:          log,
	}
}

// ID returns the completion id shared by every chunk.
func (s *Stream) ID() string { return s.id }

// Recv returns the next frame, io.EOF once the terminating [DONE] frame has
// been returned, or the context error when the consumer went away.
func (s *Stream) Recv() ([]byte, error) {
	for {
		if len(s.pending) > 0 {
			f := s.pending[0]
			s.pending = s.pending[1:]
			streamFramesTotal.Inc()
			return f, nil
		}
		switch s.phase {
		case phaseStart:
			s.phase = phaseContent
			s.push(s.chunk(types.ChunkDelta{Role: s.role}, nil))
		case phaseContent:
			if err := s.ctx.Err(); err != nil {
				s.Close()
				return nil, err
			}
			if err := s.pull(); err != nil {
				return nil, err
			}
		default:
			s.Close()
			return nil, io.EOF
		}
	}
}

// pull reads one engine output and queues the frames it produces.
func (s *Stream) pull() error {
	out, err := s.src.Recv()
	switch {
	case errors.Is(err, io.EOF):
		s.finishFrames()
		return nil
	case err != nil:
		if ctxErr := s.ctx.Err(); ctxErr != nil {
			s.Close()
			return ctxErr
		}
		s.log.Warn().Err(err).Str("request_id", s.id).Msg("stream aborted by engine error")
		b, _ := json.Marshal(types.StreamError{Error: *errorFromEngine(err)})
		s.push(frame(b))
		s.push(doneFrame)
		s.phase = phaseDone
		return nil
	}
	if out.FinishReason != "" {
		s.finish = out.FinishReason
	}
	accumulateUsage(&s.usage, out)
	if out.Text != "" {
		s.push(s.chunk(types.ChunkDelta{Content: out.Text}, nil))
	}
	return nil
}

func (s *Stream) finishFrames() {
	finish := s.finish
	if finish == "" {
		finish = "stop"
	}
	s.push(s.chunk(types.ChunkDelta{}, &finish))
	if s.includeUsage {
		u := s.usage
		b, _ := json.Marshal(types.ChatCompletionChunk{
			ID:      s.id,
			Object:  "chat.completion.chunk",
			Created: s.created,
			Model:   s.model,
			Choices: []types.ChunkChoice{},
			Usage:   &u,
		})
		s.push(frame(b))
	}
	s.push(doneFrame)
	s.phase = phaseDone
}

func (s *Stream) chunk(delta types.ChunkDelta, finish *string) []byte {
	b, _ := json.Marshal(types.ChatCompletionChunk{
		ID:      s.id,
		Object:  "chat.completion.chunk",
		Created: s.created,
		Model:   s.model,
		Choices: []types.ChunkChoice{{Index: 0, Delta: delta, FinishReason: finish}},
	})
	return frame(b)
}

func (s *Stream) push(f []byte) { s.pending = append(s.pending, f) }

// Close releases the engine stream. It is safe to call more than once.
func (s *Stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.src.Close()
		s.pending = nil
		s.phase = phaseDone
	})
	return err
}

func frame(payload []byte) []byte {
	out := make([]byte, 0, len(payload)+8)
	out = append(out, "data: "...)
	out = append(out, payload...)
	return append(out, '\n', '\n')
}
