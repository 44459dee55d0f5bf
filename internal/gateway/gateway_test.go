package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/nats-io/nats.go"

	"github.com/parleylabs/parley-gateway/internal/auditlog"
	"github.com/parleylabs/parley-gateway/internal/bus"
	"github.com/parleylabs/parley-gateway/internal/config"
	"github.com/parleylabs/parley-gateway/internal/engine/local"
	"github.com/parleylabs/parley-gateway/internal/engine/remote"
	"github.com/parleylabs/parley-gateway/internal/genparams"
	"github.com/parleylabs/parley-gateway/internal/natsserver"
	"github.com/parleylabs/parley-gateway/internal/prompt"
	"github.com/parleylabs/parley-gateway/internal/protocol"
	"github.com/parleylabs/parley-gateway/internal/tokenizer"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newLocalGateway(t *testing.T, cfg config.Config, reply string) *Gateway {
	t.Helper()
	tok := tokenizer.NewStatic()
	exec := local.NewExecutor(local.NewMockEngine(tok, reply), tok, 8, newLogger())
	audit, err := auditlog.Open(context.Background(), config.AuditConfig{RetentionMode: "ephemeral"}, newLogger())
	if err != nil {
		t.Fatalf("open audit store: %v", err)
	}
	return New(cfg, tok, exec, nil, audit, newLogger())
}

func localConfig() config.Config {
	cfg := config.Default()
	cfg.Engine.Mode = "local"
	return cfg
}

func TestCompleteRejectsEmptyRequest(t *testing.T) {
	g := newLocalGateway(t, localConfig(), "ok")
	_, err := g.Complete(context.Background(), CompletionRequest{})
	if !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
}

func TestNormalizeDefaultsTokenBudgets(t *testing.T) {
	g := newLocalGateway(t, localConfig(), "ok")
	req := CompletionRequest{Prompt: "hello"}
	mode, _, err := g.Normalize(&req)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if mode != ModeRawPrompt {
		t.Fatalf("expected raw-prompt mode, got %q", mode)
	}
	if req.MaxLength == nil || *req.MaxLength != DefaultMaxTokens {
		t.Fatalf("max_tokens not defaulted: %v", req.MaxLength)
	}
	if req.MaxNewTokens == nil || *req.MaxNewTokens != DefaultMaxTokens {
		t.Fatalf("max_new_tokens not defaulted: %v", req.MaxNewTokens)
	}
}

func TestNormalizeFormatsLocalChatTranscript(t *testing.T) {
	g := newLocalGateway(t, localConfig(), "4")
	req := CompletionRequest{
		Messages: []prompt.Turn{{Role: prompt.RoleUser, Content: "What is 2+2?"}},
	}
	mode, finalPrompt, err := g.Normalize(&req)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if mode != ModeChatTemplate {
		t.Fatalf("expected chat-template mode, got %q", mode)
	}
	want := "User: Please give a full and complete answer for the question. What is 2+2?"
	if !strings.Contains(finalPrompt, want) {
		t.Fatalf("formatted prompt missing instructed turn:\n%s", finalPrompt)
	}
	if !strings.HasSuffix(finalPrompt, "\n\nAssistant:") {
		t.Fatalf("prompt must end with assistant cue:\n%s", finalPrompt)
	}
}

func TestNonStreamingReturnShapeAsymmetry(t *testing.T) {
	cfg := localConfig()
	cfg.Engine.ChatCompatible = false
	g := newLocalGateway(t, cfg, "hi there")
	res, err := g.Complete(context.Background(), CompletionRequest{Prompt: "p"})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if res.Kind != KindWrappedText {
		t.Fatalf("raw backend must return the wrapped variant, got %v", res.Kind)
	}

	cfg.Engine.ChatCompatible = true
	g = newLocalGateway(t, cfg, "hi there")
	res, err = g.Complete(context.Background(), CompletionRequest{Prompt: "p"})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if res.Kind != KindText {
		t.Fatalf("chat-compatible backend must return the plain variant, got %v", res.Kind)
	}
	if res.Text != "hi there" {
		t.Fatalf("unexpected text: %q", res.Text)
	}
}

func TestLocalNonStreamingHonorsMaxTokens(t *testing.T) {
	g := newLocalGateway(t, localConfig(), "w1 w2 w3 w4 w5 w6 w7 w8 w9 w10 w11 w12")
	budget := 10
	res, err := g.Complete(context.Background(), CompletionRequest{
		Prompt:    "p",
		Overrides: overridesWithMaxLength(budget),
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if n := len(strings.Fields(res.Text)); n > budget {
		t.Fatalf("response exceeds token budget: %d tokens in %q", n, res.Text)
	}
}

func TestLocalStreamingMatchesNonStreaming(t *testing.T) {
	g := newLocalGateway(t, localConfig(), "streamed and batched agree")

	streamed, err := g.Complete(context.Background(), CompletionRequest{Prompt: "p", Stream: true})
	if err != nil {
		t.Fatalf("stream complete: %v", err)
	}
	if streamed.Kind != KindStream {
		t.Fatalf("expected stream result, got %v", streamed.Kind)
	}
	streamText, err := streamed.Stream.Drain()
	if err != nil {
		t.Fatalf("drain: %v", err)
	}

	batched, err := g.Complete(context.Background(), CompletionRequest{Prompt: "p"})
	if err != nil {
		t.Fatalf("batch complete: %v", err)
	}
	if streamText != batched.Text {
		t.Fatalf("stream/batch mismatch: %q vs %q", streamText, batched.Text)
	}
}

func TestRemoteChatPromptEndsWithAssistantTemplate(t *testing.T) {
	srv, err := natsserver.Start(config.BusConfig{Embedded: true, Port: -1}, newLogger())
	if err != nil {
		t.Fatalf("start embedded nats: %v", err)
	}
	t.Cleanup(srv.Shutdown)

	busClient, err := bus.Connect(config.BusConfig{
		Servers:        []string{srv.ClientURL()},
		ConnectTimeout: 2000,
	}, newLogger())
	if err != nil {
		t.Fatalf("connect bus: %v", err)
	}
	t.Cleanup(busClient.Close)

	cfg := config.Default()
	cfg.Engine.Mode = "remote"
	cfg.Engine.ChatCompatible = true

	prompts := make(chan string, 1)
	sub, err := busClient.Conn().Subscribe(protocol.SubjectInferenceRequest, func(msg *nats.Msg) {
		var req protocol.InferenceRequest
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			return
		}
		prompts <- req.Prompt
		for _, text := range []string{"4", " is", " the", " answer", cfg.Engine.StopToken} {
			data, _ := json.Marshal(protocol.InferenceChunk{RequestID: req.RequestID, Text: text})
			_ = busClient.Conn().Publish(protocol.ReplySubject(req.RequestID), data)
		}
	})
	if err != nil {
		t.Fatalf("subscribe fake engine: %v", err)
	}
	t.Cleanup(func() { _ = sub.Unsubscribe() })

	tok := tokenizer.NewStatic()
	remoteClient := remote.NewClient(busClient, cfg.Engine, newLogger())
	g := New(cfg, tok, nil, remoteClient, nil, newLogger())

	res, err := g.Complete(context.Background(), CompletionRequest{
		Messages: []prompt.Turn{{Role: prompt.RoleUser, Content: "What is 2+2?"}},
		Stream:   true,
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}

	want := []string{"4", " is", " the", " answer", ""}
	for i, expected := range want {
		got, err := res.Stream.Recv()
		if err != nil {
			t.Fatalf("recv %d: %v", i, err)
		}
		if got != expected {
			t.Fatalf("increment %d: got %q want %q", i, got, expected)
		}
	}
	if _, err := res.Stream.Recv(); err != io.EOF {
		t.Fatalf("expected end of stream, got %v", err)
	}

	sent := <-prompts
	if !strings.HasSuffix(sent, cfg.Engine.AssistantTemplate) {
		t.Fatalf("outgoing prompt must end with the assistant template: %q", sent)
	}
}

func overridesWithMaxLength(n int) genparams.Overrides {
	return genparams.Overrides{MaxLength: &n}
}

func TestRemoteUnavailableFailsFast(t *testing.T) {
	cfg := config.Default()
	cfg.Engine.Mode = "remote"
	tok := tokenizer.NewStatic()
	g := New(cfg, tok, nil, remote.NewClient(nil, cfg.Engine, newLogger()), nil, newLogger())

	_, err := g.Complete(context.Background(), CompletionRequest{Prompt: "hi"})
	if !errors.Is(err, ErrBackendUnavailable) {
		t.Fatalf("expected ErrBackendUnavailable, got %v", err)
	}
}
