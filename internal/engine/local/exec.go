package local

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"

	"github.com/mattn/go-shellwords"

	"github.com/parleylabs/parley-gateway/internal/genparams"
)

type execEngine struct {
	cmd []string
}

type execInput struct {
	InputIDs          []int64 `json:"input_ids"`
	MaxNewTokens      int     `json:"max_new_tokens"`
	Temperature       float64 `json:"temperature"`
	TopP              float64 `json:"top_p"`
	TopK              int     `json:"top_k"`
	RepetitionPenalty float64 `json:"repetition_penalty"`
	NoRepeatNgramSize int     `json:"no_repeat_ngram_size"`
	DoSample          bool    `json:"do_sample"`
}

type execToken struct {
	TokenID int64 `json:"token_id"`
}

// NewExecEngine wraps a generation subprocess: the encoded input and
// sampling parameters go in as one JSON document on stdin, token ids come
// back as NDJSON lines on stdout.
func NewExecEngine(command string) (Engine, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse engine command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("engine command empty")
	}
	return &execEngine{cmd: args}, nil
}

func (g *execEngine) Generate(ctx context.Context, inputIDs []int64, params genparams.Parameters, emit func(int64) error) error {
	input, err := json.Marshal(execInput{
		InputIDs:          inputIDs,
		MaxNewTokens:      params.MaxNewTokens,
		Temperature:       params.Temperature,
		TopP:              params.TopP,
		TopK:              params.TopK,
		RepetitionPenalty: params.RepetitionPenalty,
		NoRepeatNgramSize: params.NoRepeatNgramSize,
		DoSample:          params.DoSample,
	})
	if err != nil {
		return err
	}

	base := g.cmd[0]
	args := append([]string{}, g.cmd[1:]...)
	cmd := exec.CommandContext(ctx, base, args...)
	cmd.Stdin = bytes.NewReader(input)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("engine stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start engine command: %w", err)
	}

	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var tok execToken
		if err := json.Unmarshal(line, &tok); err != nil {
			_ = cmd.Process.Kill()
			_ = cmd.Wait()
			return fmt.Errorf("decode engine token: %w", err)
		}
		if err := emit(tok.TokenID); err != nil {
			_ = cmd.Process.Kill()
			_ = cmd.Wait()
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		_ = cmd.Wait()
		return fmt.Errorf("read engine output: %w", err)
	}
	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("engine command failed: %w", err)
	}
	return nil
}
