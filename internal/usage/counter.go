// ABOUTME: Token counters used to size prompts and completions for the usage ledger
// ABOUTME: TiktokenCounter uses a BPE encoding; EstimateCounter approximates from rune count

package usage

import (
	"fmt"
	"log/slog"
	"unicode/utf8"

	"github.com/weaviate/tiktoken-go"

	"github.com/2389/parley/internal/config"
	"github.com/2389/parley/internal/conversation"
)

// Counter counts tokens in a piece of text.
type Counter interface {
	Count(text string) int
	Name() string
}

// TiktokenCounter counts tokens with a tiktoken encoding.
type TiktokenCounter struct {
	encoding string
	enc      *tiktoken.Tiktoken
}

// NewTiktokenCounter loads the named encoding, e.g. "cl100k_base".
func NewTiktokenCounter(encoding string) (*TiktokenCounter, error) {
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("loading %s encoding: %w", encoding, err)
	}
	return &TiktokenCounter{encoding: encoding, enc: enc}, nil
}

func (c *TiktokenCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	return len(c.enc.Encode(text, nil, nil))
}

func (c *TiktokenCounter) Name() string { return c.encoding }

// EstimateCounter assumes roughly four characters per token.
type EstimateCounter struct{}

func (EstimateCounter) Count(text string) int {
	return (utf8.RuneCountInString(text) + 3) / 4
}

func (EstimateCounter) Name() string { return config.TokenizerEstimate }

// NewCounter returns the counter for a configured tokenizer name. If the
// encoding cannot be loaded it logs a warning and falls back to estimation.
func NewCounter(name string, logger *slog.Logger) Counter {
	if logger == nil {
		logger = slog.Default()
	}
	if name == config.TokenizerEstimate {
		return EstimateCounter{}
	}
	c, err := NewTiktokenCounter(name)
	if err != nil {
		logger.Warn("tokenizer unavailable, estimating token counts", "tokenizer", name, "error", err)
		return EstimateCounter{}
	}
	return c
}

// CountTurns sums the token counts of every turn's content.
func CountTurns(c Counter, turns []conversation.Turn) int {
	total := 0
	for _, t := range turns {
		total += c.Count(t.Content)
	}
	return total
}
