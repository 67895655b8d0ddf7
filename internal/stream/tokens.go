package stream

import (
	"math"
	"unicode"

	"github.com/aigoflow/studio-bridge/internal/models"
)

// cjkRanges covers the scripts weighted more heavily by the estimator.
var cjkRanges = []*unicode.RangeTable{
	unicode.Han,
	unicode.Hiragana,
	unicode.Katakana,
	unicode.Hangul,
}

func isCJK(r rune) bool {
	return unicode.In(r, cjkRanges...)
}

// EstimateTokens approximates a token count from character classes: CJK runes
// at ~1 token per 1.5 characters, everything else at ~1 per 4. The result is
// max(1, round(sum)) for non-empty text. Never exact; the upstream page
// reports no real usage, so this is a deliberate approximation.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	cjk, other := 0, 0
	for _, r := range text {
		if isCJK(r) {
			cjk++
		} else {
			other++
		}
	}
	estimate := int(math.Round(float64(cjk)/1.5 + float64(other)/4))
	if estimate < 1 {
		return 1
	}
	return estimate
}

// EstimatePromptTokens sums the estimate over the serialized request
// messages, role labels included.
func EstimatePromptTokens(messages []models.Message) int {
	total := 0
	for _, m := range messages {
		total += EstimateTokens(m.Role) + EstimateTokens(m.Content.String())
	}
	return total
}

// Usage builds the usage object for a finished turn. Completion tokens cover
// both the answer and any reasoning text.
func Usage(messages []models.Message, body, reasoning string) models.ChatUsage {
	in := EstimatePromptTokens(messages)
	out := EstimateTokens(body)
	if reasoning != "" {
		out += EstimateTokens(reasoning)
	}
	return models.ChatUsage{
		PromptTokens:     in,
		CompletionTokens: out,
		TotalTokens:      in + out,
	}
}
