// Package remote streams generation from a remote inference engine over the
// shared bus. Requests are correlated by a process-unique id; each request
// gets its own reply subject while all requests share one connection.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/parleylabs/parley-gateway/internal/bus"
	"github.com/parleylabs/parley-gateway/internal/config"
	"github.com/parleylabs/parley-gateway/internal/protocol"
	"github.com/parleylabs/parley-gateway/internal/stream"
)

// ErrUnavailable means the shared channel to the engine is not established.
var ErrUnavailable = errors.New("remote engine unavailable")

const replyBuffer = 64

// Client submits inference requests over one persistent NATS connection.
// In-flight requests are bounded; Infer blocks while the engine is at
// capacity.
type Client struct {
	bus       *bus.Client
	stopToken string
	timeout   time.Duration
	inflight  chan struct{}
	counter   atomic.Uint64
	pid       int
	logger    *slog.Logger
}

func NewClient(busClient *bus.Client, cfg config.EngineConfig, logger *slog.Logger) *Client {
	maxInflight := cfg.MaxInflight
	if maxInflight < 1 {
		maxInflight = 1
	}
	return &Client{
		bus:       busClient,
		stopToken: cfg.StopToken,
		timeout:   time.Duration(cfg.RequestTimeout) * time.Millisecond,
		inflight:  make(chan struct{}, maxInflight),
		pid:       os.Getpid(),
		logger:    logger.With(slog.String("component", "remote-client")),
	}
}

// Start verifies the shared channel. Idempotent; Infer calls it before each
// submission, so an explicit call is only needed to fail fast at startup.
func (c *Client) Start() error {
	if c.bus == nil || !c.bus.Healthy() {
		return ErrUnavailable
	}
	return nil
}

// nextRequestID returns a process-lifetime-unique correlation id. Never
// reused.
func (c *Client) nextRequestID() string {
	return fmt.Sprintf("%d-%d", c.pid, c.counter.Add(1))
}

// Infer submits the request and returns a lazy stream of text increments.
// The engine's stop token is replaced by one empty increment, after which
// the stream ends. Abandoning the stream early releases this request's
// subscription and in-flight slot without disturbing the shared connection.
func (c *Client) Infer(ctx context.Context, req protocol.InferenceRequest) (*stream.Stream, error) {
	if err := c.Start(); err != nil {
		return nil, err
	}

	select {
	case c.inflight <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if req.RequestID == "" {
		req.RequestID = c.nextRequestID()
	}
	req.Timestamp = time.Now().UTC()

	msgCh := make(chan *nats.Msg, replyBuffer)
	sub, err := c.bus.Conn().ChanSubscribe(protocol.ReplySubject(req.RequestID), msgCh)
	if err != nil {
		<-c.inflight
		return nil, fmt.Errorf("subscribe reply subject: %w", err)
	}

	data, err := json.Marshal(req)
	if err != nil {
		_ = sub.Unsubscribe()
		<-c.inflight
		return nil, err
	}
	if err := c.bus.Conn().Publish(protocol.SubjectInferenceRequest, data); err != nil {
		_ = sub.Unsubscribe()
		<-c.inflight
		return nil, fmt.Errorf("publish inference request: %w", err)
	}

	pumpCtx, cancel := context.WithTimeout(ctx, c.timeout)
	producer, s := stream.NewPipe(replyBuffer, cancel)

	go func() {
		defer func() {
			_ = sub.Unsubscribe()
			<-c.inflight
			cancel()
		}()
		producer.Close(c.pump(pumpCtx, ctx, req.RequestID, msgCh, producer))
	}()

	return s, nil
}

// pump forwards engine chunks into the stream until the stop token, an
// engine error, or cancellation.
func (c *Client) pump(ctx, parent context.Context, requestID string, msgCh <-chan *nats.Msg, producer *stream.Producer) error {
	for {
		select {
		case msg := <-msgCh:
			var chunk protocol.InferenceChunk
			if err := json.Unmarshal(msg.Data, &chunk); err != nil {
				c.logger.Warn("failed to decode inference chunk",
					slog.String("request_id", requestID), slog.String("error", err.Error()))
				continue
			}
			if chunk.Error != "" {
				return fmt.Errorf("engine failure: %s", chunk.Error)
			}
			text := chunk.Text
			last := text == c.stopToken
			if last {
				// The sentinel never reaches the caller.
				text = ""
			}
			if err := producer.Send(ctx, text); err != nil {
				return c.abandonErr(parent, err)
			}
			if last {
				return nil
			}
		case <-ctx.Done():
			return c.abandonErr(parent, ctx.Err())
		}
	}
}

// abandonErr suppresses the cancellation error when the consumer walked
// away; timeouts and caller-context cancellations still surface.
func (c *Client) abandonErr(parent context.Context, err error) error {
	if errors.Is(err, context.Canceled) && parent.Err() == nil {
		return nil
	}
	return err
}
