package genparams

// Process-wide sampling defaults.
const (
	DefaultMaxLength         = 512
	DefaultTemperature       = 1.0
	DefaultTopP              = 0.95
	DefaultTopK              = 40
	DefaultRepetitionPenalty = 1.0
	DefaultNoRepeatNgramSize = 0
	DefaultDoSample          = true
)

// Parameters is the normalized sampling configuration for one generation
// call. Immutable once built.
type Parameters struct {
	MaxLength         int
	MaxNewTokens      int
	Temperature       float64
	TopP              float64
	TopK              int
	RepetitionPenalty float64
	NoRepeatNgramSize int
	DoSample          bool
	UseCache          bool
	StopTokenIDs      []int64
	PadTokenID        int64
}

// Overrides carries the optional per-request sampling fields. Nil means
// "use the default".
type Overrides struct {
	MaxLength         *int     `json:"max_tokens,omitempty"`
	Temperature       *float64 `json:"temperature,omitempty"`
	TopP              *float64 `json:"top_p,omitempty"`
	TopK              *int     `json:"top_k,omitempty"`
	RepetitionPenalty *float64 `json:"repetition_penalty,omitempty"`
	NoRepeatNgramSize *int     `json:"no_repeat_ngram_size,omitempty"`
	DoSample          *bool    `json:"do_sample,omitempty"`
}

// Build merges request overrides with the defaults. Generation terminates
// on any id in the stop set: the tokenizer's end-of-sequence id plus the
// model's turn-end marker.
func Build(ov Overrides, eosTokenID, stopMarkerID, padTokenID int64) Parameters {
	p := Parameters{
		MaxLength:         DefaultMaxLength,
		Temperature:       DefaultTemperature,
		TopP:              DefaultTopP,
		TopK:              DefaultTopK,
		RepetitionPenalty: DefaultRepetitionPenalty,
		NoRepeatNgramSize: DefaultNoRepeatNgramSize,
		DoSample:          DefaultDoSample,
		UseCache:          true,
		StopTokenIDs:      []int64{eosTokenID, stopMarkerID},
		PadTokenID:        padTokenID,
	}
	if ov.MaxLength != nil {
		p.MaxLength = *ov.MaxLength
	}
	if ov.Temperature != nil {
		p.Temperature = *ov.Temperature
	}
	if ov.TopP != nil {
		p.TopP = *ov.TopP
	}
	if ov.TopK != nil {
		p.TopK = *ov.TopK
	}
	if ov.RepetitionPenalty != nil {
		p.RepetitionPenalty = *ov.RepetitionPenalty
	}
	if ov.NoRepeatNgramSize != nil {
		p.NoRepeatNgramSize = *ov.NoRepeatNgramSize
	}
	if ov.DoSample != nil {
		p.DoSample = *ov.DoSample
	}
	p.MaxNewTokens = p.MaxLength
	return p
}

// IsStopToken reports whether id terminates generation.
func (p Parameters) IsStopToken(id int64) bool {
	for _, stop := range p.StopTokenIDs {
		if id == stop {
			return true
		}
	}
	return false
}
