// Package tokens provides token counting and the context budget policy that
// keeps a conversation within a model's window.
package tokens

import (
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/tiktoken-go/tokenizer"
)

// Counter estimates the token length of text for a target tokenizer family.
// Implementations must be deterministic for identical input and total: they
// never return a negative count or fail for valid UTF-8 text. Approximation
// is acceptable, silent failure is not.
type Counter interface {
	Count(text string) int
}

// EstimateTokens is the approximate fallback estimator: word count times 1.3,
// which tracks BPE output closely enough for budget thresholds.
func EstimateTokens(text string) int {
	words := len(strings.Fields(text))
	return words * 13 / 10
}

// TiktokenCounter counts with a tiktoken codec. Local model names (llama etc.)
// are unknown to tiktoken, so unknown models fall back to the cl100k_base
// encoding; if even that codec cannot be constructed or encoding fails, the
// word-count estimator is used instead.
type TiktokenCounter struct {
	model string

	once  sync.Once
	codec tokenizer.Codec
}

var _ Counter = (*TiktokenCounter)(nil)

func NewTiktokenCounter(model string) *TiktokenCounter {
	return &TiktokenCounter{model: model}
}

func (c *TiktokenCounter) init() {
	codec, err := tokenizer.ForModel(tokenizer.Model(c.model))
	if err == nil {
		c.codec = codec
		return
	}

	codec, err = tokenizer.Get(tokenizer.Encoding("cl100k_base"))
	if err != nil {
		log.Warn().Str("model", c.model).Err(err).
			Msg("no tokenizer codec available, using approximate token counts")
		return
	}
	c.codec = codec
}

func (c *TiktokenCounter) Count(text string) int {
	c.once.Do(c.init)

	if c.codec == nil {
		return EstimateTokens(text)
	}

	ids, _, err := c.codec.Encode(text)
	if err != nil {
		return EstimateTokens(text)
	}
	return len(ids)
}

// EstimateCounter is a Counter backed solely by the approximate estimator.
// Used in tests and wherever pulling in tiktoken vocabularies is unwanted.
type EstimateCounter struct{}

var _ Counter = EstimateCounter{}

func (EstimateCounter) Count(text string) int {
	return EstimateTokens(text)
}
