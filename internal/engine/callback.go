package engine

import (
	"context"
	"io"
	"sync"
)

// ProduceFunc runs a generation, calling emit for every output in order.
// It must return promptly once ctx is canceled or emit returns an error.
type ProduceFunc func(ctx context.Context, emit func(Output) error) error

// NewCallbackStream adapts a push-style producer into a Stream. The producer
// runs in its own goroutine and blocks on emit until the consumer calls
// Recv, so at most one output is in flight.
func NewCallbackStream(ctx context.Context, produce ProduceFunc) Stream {
	ctx, cancel := context.WithCancel(ctx)
	s := &callbackStream{
		cancel: cancel,
		outs:   make(chan Output),
		done:   make(chan struct{}),
	}
	go func() {
		defer close(s.done)
		s.err = produce(ctx, func(o Output) error {
			select {
			case s.outs <- o:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	}()
	return s
}

type callbackStream struct {
	cancel    context.CancelFunc
	outs      chan Output
	done      chan struct{}
	err       error // written by the producer before done is closed
	closeOnce sync.Once
}

func (s *callbackStream) Recv() (Output, error) {
	select {
	case o := <-s.outs:
		return o, nil
	case <-s.done:
		if s.err != nil {
			return Output{}, s.err
		}
		return Output{}, io.EOF
	}
}

func (s *callbackStream) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		<-s.done
	})
	return nil
}
