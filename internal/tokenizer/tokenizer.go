package tokenizer

import "github.com/parleylabs/parley-gateway/internal/prompt"

// Tokenizer is the text/token boundary the gateway depends on. Real
// deployments back this with the model's tokenizer artifacts; the static
// implementation in this package serves mock mode and tests.
type Tokenizer interface {
	Encode(text string) []int64
	// Decode renders ids back to text. With skipSpecial set, padding,
	// end-of-sequence and turn markers are dropped from the output.
	Decode(ids []int64, skipSpecial bool) string
	EOSTokenID() int64
	PadTokenID() int64
	// StopMarkerID is the model's turn-end marker, terminated on alongside
	// the end-of-sequence id.
	StopMarkerID() int64
	// RenderChatTemplate flattens messages per the model's chat convention.
	RenderChatTemplate(turns []prompt.Turn) string
}
