// Package gateway normalizes inbound completion requests and dispatches
// them to the local or remote executor behind one result contract.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/parleylabs/parley-gateway/internal/auditlog"
	"github.com/parleylabs/parley-gateway/internal/config"
	"github.com/parleylabs/parley-gateway/internal/engine/local"
	"github.com/parleylabs/parley-gateway/internal/engine/remote"
	"github.com/parleylabs/parley-gateway/internal/genparams"
	"github.com/parleylabs/parley-gateway/internal/prompt"
	"github.com/parleylabs/parley-gateway/internal/protocol"
	"github.com/parleylabs/parley-gateway/internal/stream"
	"github.com/parleylabs/parley-gateway/internal/tokenizer"
)

var (
	// ErrInvalidRequest means the request resolves to no usable input.
	ErrInvalidRequest = errors.New("prompt or messages must be provided")
	// ErrBackendUnavailable means the selected executor cannot serve.
	ErrBackendUnavailable = errors.New("backend unavailable")
)

// DefaultMaxTokens is the fallback token budget for requests that leave
// max_tokens / max_new_tokens unset.
const DefaultMaxTokens = 500

// Prepared-input modes.
const (
	ModeChatTemplate = "chat-template"
	ModeRawPrompt    = "raw-prompt"
)

// CompletionRequest is the inbound request shape. Exactly one of Messages
// and Prompt must resolve to non-empty content.
type CompletionRequest struct {
	SessionID string        `json:"session_id,omitempty"`
	Messages  []prompt.Turn `json:"messages,omitempty"`
	Context   string        `json:"context,omitempty"`
	Prompt    string        `json:"prompt,omitempty"`
	Stream    bool          `json:"stream,omitempty"`

	MaxNewTokens *int `json:"max_new_tokens,omitempty"`

	genparams.Overrides
}

// ResultKind tags the variant a completion produced. The text/wrapped split
// mirrors the two historical non-streaming call paths and is kept for
// caller compatibility.
type ResultKind int

const (
	// KindStream carries a live token stream the caller must drain.
	KindStream ResultKind = iota
	// KindText is a plain concatenated string (chat-compatible backends).
	KindText
	// KindWrappedText is a {text: ...} wrapper (raw backends).
	KindWrappedText
)

// Result is the tagged outcome of one completion request.
type Result struct {
	Kind   ResultKind
	Stream *stream.Stream
	Text   string
}

// Gateway is the front door: it validates, normalizes, dispatches, and
// audits completion requests.
type Gateway struct {
	cfg    config.Config
	tok    tokenizer.Tokenizer
	local  *local.Executor
	remote *remote.Client
	audit  *auditlog.Store
	logger *slog.Logger

	requests metric.Int64Counter
	failures metric.Int64Counter
}

func New(cfg config.Config, tok tokenizer.Tokenizer, localExec *local.Executor, remoteClient *remote.Client, audit *auditlog.Store, logger *slog.Logger) *Gateway {
	meter := otel.Meter("parley-gateway")
	requests, _ := meter.Int64Counter("gateway.requests")
	failures, _ := meter.Int64Counter("gateway.failures")
	return &Gateway{
		cfg:      cfg,
		tok:      tok,
		local:    localExec,
		remote:   remoteClient,
		audit:    audit,
		logger:   logger.With(slog.String("component", "gateway")),
		requests: requests,
		failures: failures,
	}
}

// Normalize decides the prepared-input mode, fills token-budget defaults,
// and renders the final prompt. It mutates req: budgets are defaulted and,
// in chat modes, the first user turn gains the instruction prefix.
func (g *Gateway) Normalize(req *CompletionRequest) (mode string, finalPrompt string, err error) {
	if strings.TrimSpace(req.Prompt) == "" && len(req.Messages) == 0 {
		return "", "", ErrInvalidRequest
	}
	if req.MaxLength == nil {
		v := DefaultMaxTokens
		req.MaxLength = &v
	}
	if req.MaxNewTokens == nil {
		v := DefaultMaxTokens
		req.MaxNewTokens = &v
	}

	if strings.TrimSpace(req.Prompt) != "" {
		return ModeRawPrompt, req.Prompt, nil
	}

	if g.cfg.Engine.Mode == "local" {
		// The local model wants the role-labeled transcript with the
		// retrieval context folded in.
		return ModeChatTemplate, prompt.Format(req.Messages, req.Context), nil
	}
	if !g.cfg.Engine.ChatCompatible {
		return "", "", fmt.Errorf("%w: raw backend accepts only a prompt", ErrInvalidRequest)
	}
	return ModeChatTemplate, g.tok.RenderChatTemplate(req.Messages), nil
}

// Complete runs one normalized generation call. Streaming requests get the
// live stream back; non-streaming requests are drained here and returned as
// a plain string (chat-compatible backends) or a wrapped text (raw
// backends).
func (g *Gateway) Complete(ctx context.Context, req CompletionRequest) (Result, error) {
	start := time.Now()
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}

	mode, finalPrompt, err := g.Normalize(&req)
	if err != nil {
		g.failures.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", "invalid_request")))
		return Result{}, err
	}
	g.requests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("mode", mode),
		attribute.String("engine", g.cfg.Engine.Mode),
		attribute.Bool("stream", req.Stream),
	))

	var result Result
	if g.cfg.Engine.Mode == "remote" {
		result, err = g.completeRemote(ctx, req, finalPrompt)
	} else {
		result, err = g.completeLocal(ctx, req, finalPrompt)
	}
	if err != nil {
		g.failures.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", "backend")))
		g.record(ctx, req, mode, finalPrompt, "", err, start)
		return Result{}, err
	}

	if result.Kind == KindStream {
		// Streamed responses are audited at dispatch; the increments belong
		// to the caller.
		g.record(ctx, req, mode, finalPrompt, "", nil, start)
		return result, nil
	}

	g.record(ctx, req, mode, finalPrompt, result.Text, nil, start)
	g.logger.Info("completion finished",
		slog.String("session_id", req.SessionID),
		slog.String("mode", mode),
		slog.Duration("latency", time.Since(start)))
	return result, nil
}

func (g *Gateway) completeLocal(ctx context.Context, req CompletionRequest, finalPrompt string) (Result, error) {
	if g.local == nil {
		return Result{}, ErrBackendUnavailable
	}

	inputIDs := g.tok.Encode(finalPrompt)
	// The local engine budgets new tokens from max_tokens; max_new_tokens is
	// a remote wire field.
	params := genparams.Build(req.Overrides, g.tok.EOSTokenID(), g.tok.StopMarkerID(), g.tok.PadTokenID())

	if req.Stream {
		return Result{Kind: KindStream, Stream: g.local.Stream(ctx, inputIDs, params)}, nil
	}

	text, err := g.local.Complete(ctx, inputIDs, params)
	if err != nil {
		return Result{}, err
	}
	return g.textResult(text), nil
}

func (g *Gateway) completeRemote(ctx context.Context, req CompletionRequest, finalPrompt string) (Result, error) {
	if g.remote == nil {
		return Result{}, ErrBackendUnavailable
	}

	params := genparams.Build(req.Overrides, g.tok.EOSTokenID(), g.tok.StopMarkerID(), g.tok.PadTokenID())

	// Resume generation from an assistant turn instead of echoing the user
	// turn.
	finalPrompt += g.cfg.Engine.AssistantTemplate

	s, err := g.remote.Infer(ctx, protocol.InferenceRequest{
		SessionID:         req.SessionID,
		Prompt:            finalPrompt,
		MaxTokens:         *req.MaxLength,
		MaxNewTokens:      *req.MaxNewTokens,
		Temperature:       params.Temperature,
		TopP:              params.TopP,
		TopK:              params.TopK,
		RepetitionPenalty: params.RepetitionPenalty,
		EOSTokenID:        g.tok.EOSTokenID(),
	})
	if err != nil {
		if errors.Is(err, remote.ErrUnavailable) {
			return Result{}, ErrBackendUnavailable
		}
		return Result{}, err
	}

	if req.Stream {
		return Result{Kind: KindStream, Stream: s}, nil
	}

	text, err := s.Drain()
	if err != nil {
		return Result{}, err
	}
	return g.textResult(text), nil
}

func (g *Gateway) textResult(text string) Result {
	if g.cfg.Engine.ChatCompatible {
		return Result{Kind: KindText, Text: text}
	}
	return Result{Kind: KindWrappedText, Text: text}
}

func (g *Gateway) record(ctx context.Context, req CompletionRequest, mode, finalPrompt, response string, failure error, start time.Time) {
	if g.audit == nil {
		return
	}
	rec := auditlog.Record{
		SessionID: req.SessionID,
		Mode:      mode,
		Stream:    req.Stream,
		Prompt:    finalPrompt,
		Response:  response,
		LatencyMS: time.Since(start).Milliseconds(),
	}
	if failure != nil {
		rec.Error = failure.Error()
	}
	if err := g.audit.Append(ctx, rec); err != nil {
		g.logger.Warn("failed to audit completion", slog.String("error", err.Error()))
	}
}
