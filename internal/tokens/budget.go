// Package tokens trims prompt bodies so prefix plus body fit a model's
// context budget.
package tokens

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
	"github.com/rotisserie/eris"
)

// DefaultEncoding is the tokenizer used when none is configured.
const DefaultEncoding = "cl100k_base"

// Encoder converts between text and token ids.
type Encoder interface {
	Encode(text string) []int
	Decode(tokens []int) string
}

// Stats describes a single trim.
type Stats struct {
	PrefixTokens int `json:"pref_tokens"`
	BodyTokens   int `json:"text_tokens"`
	Budget       int `json:"budget"`
	Kept         int `json:"kept"`
	TotalAfter   int `json:"total_after"`
}

// Budgeter trims text to a token limit.
type Budgeter struct {
	enc    Encoder
	limit  int
	safety int
}

// NewBudgeter creates a Budgeter. Negative safety margins count as zero.
func NewBudgeter(enc Encoder, limit, safety int) *Budgeter {
	if safety < 0 {
		safety = 0
	}
	return &Budgeter{enc: enc, limit: limit, safety: safety}
}

// Trim keeps the leading tokens of body that fit in limit minus the prefix
// and the safety margin. The prefix itself is never trimmed.
func (b *Budgeter) Trim(prefix, body string) (string, Stats) {
	prefTokens := b.enc.Encode(prefix)
	bodyTokens := b.enc.Encode(body)

	budget := max(0, b.limit-len(prefTokens)-b.safety)
	keep := min(len(bodyTokens), budget)

	var trimmed string
	if keep > 0 {
		trimmed = b.enc.Decode(bodyTokens[:keep])
	}

	return trimmed, Stats{
		PrefixTokens: len(prefTokens),
		BodyTokens:   len(bodyTokens),
		Budget:       budget,
		Kept:         keep,
		TotalAfter:   len(prefTokens) + keep,
	}
}

var loaderOnce sync.Once

// tiktokenEncoder adapts a tiktoken BPE to Encoder.
type tiktokenEncoder struct {
	bpe *tiktoken.Tiktoken
}

// NewTiktoken loads the named BPE encoding from the embedded vocabulary
// files, so no network access is needed.
func NewTiktoken(encoding string) (Encoder, error) {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	loaderOnce.Do(func() {
		tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
	})
	bpe, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, eris.Wrapf(err, "tokens: load encoding %s", encoding)
	}
	return &tiktokenEncoder{bpe: bpe}, nil
}

func (e *tiktokenEncoder) Encode(text string) []int {
	if text == "" {
		return nil
	}
	return e.bpe.Encode(text, nil, nil)
}

func (e *tiktokenEncoder) Decode(tokens []int) string {
	return e.bpe.Decode(tokens)
}
