// Package tokens estimates how many upstream tokens a text costs and trims
// text to fit a token budget.
package tokens

import (
	"fmt"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
	tiktokenloader "github.com/pkoukk/tiktoken-go-loader"
)

// DefaultEncoding is the BPE encoding used when none is configured.
const DefaultEncoding = "cl100k_base"

// CharsEncoding selects the rune-count heuristic instead of a BPE encoding.
const CharsEncoding = "chars"

// Estimator converts text to an approximate token count. Implementations
// must be deterministic and monotonic in text length, and return zero for
// the empty string.
type Estimator interface {
	Estimate(text string) int
}

func init() {
	// Ranks ship inside the binary; never fetch them at runtime.
	tiktoken.SetBpeLoader(tiktokenloader.NewOfflineLoader())
}

// New returns the estimator for the named encoding.
func New(encoding string) (Estimator, error) {
	switch encoding {
	case CharsEncoding:
		return NewCharEstimator(), nil
	case "":
		return NewBPEEstimator(DefaultEncoding)
	default:
		return NewBPEEstimator(encoding)
	}
}

// BPEEstimator counts tokens with the same byte-pair encoding the upstream
// model uses.
type BPEEstimator struct {
	encoding *tiktoken.Tiktoken
}

// NewBPEEstimator loads the named tiktoken encoding.
func NewBPEEstimator(name string) (*BPEEstimator, error) {
	encoding, err := tiktoken.GetEncoding(name)
	if err != nil {
		return nil, fmt.Errorf("load tokenizer %q: %w", name, err)
	}
	return &BPEEstimator{encoding: encoding}, nil
}

// Estimate returns the BPE token count of text. Special-token markup in the
// text is counted as ordinary text.
func (e *BPEEstimator) Estimate(text string) int {
	if text == "" {
		return 0
	}
	return len(e.encoding.EncodeOrdinary(text))
}

// prefix returns the text covered by the first maxTokens tokens, cut back to
// a rune boundary.
func (e *BPEEstimator) prefix(text string, maxTokens int) string {
	ids := e.encoding.EncodeOrdinary(text)
	if len(ids) <= maxTokens {
		return text
	}
	decoded := e.encoding.Decode(ids[:maxTokens])
	for len(decoded) > 0 && !utf8.ValidString(decoded) {
		decoded = decoded[:len(decoded)-1]
	}
	return decoded
}

const defaultRunesPerToken = 4

// CharEstimator approximates tokens as one per four runes, rounded up. It
// overestimates English text slightly, which errs toward the deferred path.
type CharEstimator struct {
	runesPerToken int
}

// NewCharEstimator creates a CharEstimator with the default ratio.
func NewCharEstimator() *CharEstimator {
	return &CharEstimator{runesPerToken: defaultRunesPerToken}
}

func (e *CharEstimator) Estimate(text string) int {
	runes := utf8.RuneCountInString(text)
	return (runes + e.runesPerToken - 1) / e.runesPerToken
}
