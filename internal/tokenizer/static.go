package tokenizer

import (
	"strings"
	"sync"

	"github.com/parleylabs/parley-gateway/internal/prompt"
)

const (
	padTokenID  int64 = 0
	eosTokenID  int64 = 1
	stopMarker  int64 = 2
	firstWordID int64 = 3
)

const (
	padToken       = "<pad>"
	eosToken       = "</s>"
	StopToken      = "<|im_end|>"
	chatTurnOpen   = "<|im_start|>"
	AssistantToken = chatTurnOpen + "assistant"
)

// Static is a deterministic in-memory tokenizer. Ids are assigned per
// whitespace-delimited piece on first sight; a piece keeps its leading
// space so that piecewise decoding concatenates back to the input.
type Static struct {
	mu     sync.Mutex
	vocab  map[string]int64
	pieces map[int64]string
	next   int64
}

func NewStatic() *Static {
	return &Static{
		vocab: map[string]int64{
			padToken:  padTokenID,
			eosToken:  eosTokenID,
			StopToken: stopMarker,
		},
		pieces: map[int64]string{
			padTokenID: padToken,
			eosTokenID: eosToken,
			stopMarker: StopToken,
		},
		next: firstWordID,
	}
}

func (s *Static) Encode(text string) []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []int64
	for i, word := range strings.Fields(text) {
		// Special tokens keep their reserved id wherever they appear.
		if id, ok := s.vocab[word]; ok && id < firstWordID {
			ids = append(ids, id)
			continue
		}
		piece := word
		if i > 0 {
			piece = " " + word
		}
		id, ok := s.vocab[piece]
		if !ok {
			id = s.next
			s.next++
			s.vocab[piece] = id
			s.pieces[id] = piece
		}
		ids = append(ids, id)
	}
	return ids
}

func (s *Static) Decode(ids []int64, skipSpecial bool) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var b strings.Builder
	for _, id := range ids {
		if skipSpecial && id < firstWordID {
			continue
		}
		b.WriteString(s.pieces[id])
	}
	return b.String()
}

func (s *Static) EOSTokenID() int64   { return eosTokenID }
func (s *Static) PadTokenID() int64   { return padTokenID }
func (s *Static) StopMarkerID() int64 { return stopMarker }

func (s *Static) RenderChatTemplate(turns []prompt.Turn) string {
	var b strings.Builder
	for _, t := range turns {
		b.WriteString(chatTurnOpen)
		b.WriteString(t.Role)
		b.WriteString("\n")
		b.WriteString(t.Content)
		b.WriteString(StopToken)
		b.WriteString("\n")
	}
	return b.String()
}
