package stream

import (
	"testing"

	"github.com/aigoflow/studio-bridge/internal/models"
)

func TestEstimateTokensASCII(t *testing.T) {
	// 10 ASCII chars / 4 = 2.5, rounds to 3.
	if got := EstimateTokens("abcdefghij"); got != 3 {
		t.Errorf("EstimateTokens(10 ASCII) = %d, want 3", got)
	}
}

func TestEstimateTokensEmpty(t *testing.T) {
	if got := EstimateTokens(""); got != 0 {
		t.Errorf("EstimateTokens(\"\") = %d, want 0", got)
	}
}

func TestEstimateTokensFloorOne(t *testing.T) {
	if got := EstimateTokens("a"); got != 1 {
		t.Errorf("EstimateTokens(\"a\") = %d, want 1", got)
	}
}

func TestEstimateTokensCJK(t *testing.T) {
	// 3 Han chars / 1.5 = 2.
	if got := EstimateTokens("你好吗"); got != 2 {
		t.Errorf("EstimateTokens(3 CJK) = %d, want 2", got)
	}
}

func TestEstimateTokensMixed(t *testing.T) {
	// 4 ASCII / 4 + 3 CJK / 1.5 = 1 + 2 = 3.
	if got := EstimateTokens("test你好吗"); got != 3 {
		t.Errorf("EstimateTokens(mixed) = %d, want 3", got)
	}
}

func TestUsageNonNegative(t *testing.T) {
	usage := Usage([]models.Message{
		{Role: models.RoleUser, Content: models.MessageContent{Text: "hi"}},
	}, "hello there", "some reasoning")
	if usage.PromptTokens < 0 || usage.CompletionTokens < 0 || usage.TotalTokens < 0 {
		t.Errorf("Usage fields must be non-negative: %+v", usage)
	}
	if usage.TotalTokens != usage.PromptTokens+usage.CompletionTokens {
		t.Errorf("Total should be the sum: %+v", usage)
	}
	if usage.CompletionTokens <= EstimateTokens("hello there") {
		t.Errorf("Reasoning text should count toward completion tokens: %+v", usage)
	}
}
