package local

import (
	"context"

	"github.com/parleylabs/parley-gateway/internal/genparams"
	"github.com/parleylabs/parley-gateway/internal/tokenizer"
)

type mockEngine struct {
	tok   tokenizer.Tokenizer
	reply string
}

// NewMockEngine produces a fixed reply followed by end-of-sequence,
// regardless of input. Development and test backend.
func NewMockEngine(tok tokenizer.Tokenizer, reply string) Engine {
	if reply == "" {
		reply = "[mock completion]"
	}
	return &mockEngine{tok: tok, reply: reply}
}

func (m *mockEngine) Generate(ctx context.Context, _ []int64, _ genparams.Parameters, emit func(int64) error) error {
	ids := append(m.tok.Encode(m.reply), m.tok.EOSTokenID())
	for _, id := range ids {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := emit(id); err != nil {
			return err
		}
	}
	return nil
}
