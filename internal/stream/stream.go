// Package stream provides the lazy token stream shared by the local and
// remote executors: a bounded channel between one producer and one consumer,
// where draining the stream is what releases the producer's resources.
package stream

import (
	"context"
	"io"
	"strings"
)

// Stream is a finite, forward-only sequence of text increments. It is owned
// by a single consumer; it is not safe for concurrent draining.
type Stream struct {
	ch     chan string
	cancel func()
	err    error
}

// Producer is the write side of a Stream. The producing goroutine must call
// Close exactly once, after its final Send, on success and failure alike.
type Producer struct {
	s *Stream
}

// NewPipe creates a connected producer/consumer pair. cancel, if non-nil, is
// invoked when the consumer abandons the stream early; it must cause the
// producer to stop sending and Close.
func NewPipe(buffer int, cancel func()) (*Producer, *Stream) {
	if buffer < 1 {
		buffer = 1
	}
	s := &Stream{
		ch:     make(chan string, buffer),
		cancel: cancel,
	}
	return &Producer{s: s}, s
}

// Send blocks until the consumer accepts the increment or ctx is done.
func (p *Producer) Send(ctx context.Context, text string) error {
	select {
	case p.s.ch <- text:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close ends the stream. A non-nil err is surfaced to the consumer after
// the already-sent increments have been drained.
func (p *Producer) Close(err error) {
	p.s.err = err
	close(p.s.ch)
}

// Recv returns the next increment. It blocks until one is available, the
// producer finishes (io.EOF), or the producer failed mid-stream.
func (s *Stream) Recv() (string, error) {
	text, ok := <-s.ch
	if !ok {
		if s.err != nil {
			return "", s.err
		}
		return "", io.EOF
	}
	return text, nil
}

// Close abandons the stream: it signals the producer to stop and drains
// whatever was already buffered so the producer can exit. Safe to call
// after the stream is exhausted.
func (s *Stream) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	for range s.ch {
	}
	return nil
}

// Drain consumes the stream to exhaustion and concatenates the increments.
// Increments received before a mid-stream failure are kept.
func (s *Stream) Drain() (string, error) {
	var b strings.Builder
	for {
		text, err := s.Recv()
		if err == io.EOF {
			return b.String(), nil
		}
		if err != nil {
			return b.String(), err
		}
		b.WriteString(text)
	}
}
