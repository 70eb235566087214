package usage

import (
	"sync"

	"github.com/tiktoken-go/tokenizer"

	"ai_gateway/internal/models"
)

var (
	codecOnce sync.Once
	codec     tokenizer.Codec
)

func loadCodec() tokenizer.Codec {
	codecOnce.Do(func() {
		enc, err := tokenizer.Get(tokenizer.Cl100kBase)
		if err != nil {
			logger.Warn("Tokenizer unavailable, estimating by length", "error", err)
			return
		}
		codec = enc
	})
	return codec
}

// CountTokens estimates the token count of text with the cl100k_base
// vocabulary. Self-hosted and Gemini models tokenize differently, so the
// figure is an estimate for every route. Without a codec it falls back to
// len/4.
func CountTokens(text string) int {
	if text == "" {
		return 0
	}
	if enc := loadCodec(); enc != nil {
		if ids, _, err := enc.Encode(text); err == nil {
			return len(ids)
		}
	}
	return (len(text) + 3) / 4
}

// EstimatePromptTokens counts every message plus a small per-message
// overhead for role framing.
func EstimatePromptTokens(messages []models.Message) int {
	total := 0
	for _, m := range messages {
		total += CountTokens(m.Content) + 2
	}
	return total
}
