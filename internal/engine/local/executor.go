// Package local runs generation against an in-process engine on a worker
// goroutine and hands decoded increments to the caller through a bounded
// channel.
package local

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/parleylabs/parley-gateway/internal/genparams"
	"github.com/parleylabs/parley-gateway/internal/stream"
	"github.com/parleylabs/parley-gateway/internal/tokenizer"
)

// Engine produces token ids for an encoded input. Implementations call emit
// once per produced id, in generation order, and stop when emit returns an
// error. Generate must be callable from a worker goroutine.
type Engine interface {
	Generate(ctx context.Context, inputIDs []int64, params genparams.Parameters, emit func(tokenID int64) error) error
}

// errStopGeneration ends generation from inside the emit callback once the
// termination policy is satisfied. Not a failure.
var errStopGeneration = errors.New("generation complete")

// Executor owns one engine and serializes generation calls on it; the
// underlying model computation is not reentrant.
type Executor struct {
	engine    Engine
	tok       tokenizer.Tokenizer
	queueSize int
	logger    *slog.Logger
	mu        sync.Mutex
}

func NewExecutor(engine Engine, tok tokenizer.Tokenizer, queueSize int, logger *slog.Logger) *Executor {
	if queueSize < 1 {
		queueSize = 1
	}
	return &Executor{
		engine:    engine,
		tok:       tok,
		queueSize: queueSize,
		logger:    logger.With(slog.String("component", "local-executor")),
	}
}

// Stream starts generation on a worker goroutine and returns immediately.
// The worker decodes each produced token and sends the increment into the
// stream's bounded queue; closing the stream is the join point. Abandoning
// the stream cancels the worker.
func (e *Executor) Stream(ctx context.Context, inputIDs []int64, params genparams.Parameters) *stream.Stream {
	genCtx, cancel := context.WithCancel(ctx)
	producer, s := stream.NewPipe(e.queueSize, cancel)

	go func() {
		e.mu.Lock()
		defer e.mu.Unlock()

		err := e.generate(genCtx, inputIDs, params, func(id int64) error {
			text := e.tok.Decode([]int64{id}, true)
			if text == "" {
				return nil
			}
			return producer.Send(genCtx, text)
		})
		if err != nil && genCtx.Err() != nil && ctx.Err() == nil {
			// Consumer walked away; nobody is owed the cancellation error.
			err = nil
		}
		producer.Close(err)
		cancel()
	}()

	return s
}

// Complete runs the same generation synchronously and returns the full
// decoded output with special tokens stripped.
func (e *Executor) Complete(ctx context.Context, inputIDs []int64, params genparams.Parameters) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var produced []int64
	err := e.generate(ctx, inputIDs, params, func(id int64) error {
		produced = append(produced, id)
		return nil
	})
	if err != nil {
		return "", err
	}
	return e.tok.Decode(produced, true), nil
}

// generate wraps the engine with the termination policy: stop on any id in
// the stop set or once max_new_tokens ids have been produced.
func (e *Executor) generate(ctx context.Context, inputIDs []int64, params genparams.Parameters, emit func(int64) error) error {
	produced := 0
	err := e.engine.Generate(ctx, inputIDs, params, func(id int64) error {
		if params.IsStopToken(id) {
			return errStopGeneration
		}
		if err := emit(id); err != nil {
			return err
		}
		produced++
		if params.MaxNewTokens > 0 && produced >= params.MaxNewTokens {
			return errStopGeneration
		}
		return nil
	})
	if errors.Is(err, errStopGeneration) {
		return nil
	}
	return err
}
