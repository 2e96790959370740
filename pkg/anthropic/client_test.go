package anthropic

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokenUsage_EstimateCost(t *testing.T) {
	usage := TokenUsage{
		InputTokens:  1_000_000,
		OutputTokens: 1_000_000,
	}

	cost := usage.EstimateCost("claude-haiku-4-5-20251001")
	assert.InDelta(t, 0.80+4.00, cost, 0.0001)

	cost = usage.EstimateCost("claude-sonnet-4-5-20250929")
	assert.InDelta(t, 3.00+15.00, cost, 0.0001)
}

func TestTokenUsage_EstimateCost_CacheTokens(t *testing.T) {
	usage := TokenUsage{
		CacheCreationInputTokens: 1_000_000,
		CacheReadInputTokens:     1_000_000,
	}
	// Cache writes cost 1.25x input, cache reads 0.1x input.
	cost := usage.EstimateCost("claude-haiku-4-5-20251001")
	assert.InDelta(t, 0.80*1.25+0.80*0.1, cost, 0.0001)
}

func TestTokenUsage_EstimateCost_UnknownModel(t *testing.T) {
	usage := TokenUsage{InputTokens: 1000}
	assert.Equal(t, 0.0, usage.EstimateCost("some-other-model"))
}

func TestTokenUsage_Add(t *testing.T) {
	total := TokenUsage{InputTokens: 10, OutputTokens: 20}
	total.Add(TokenUsage{InputTokens: 5, OutputTokens: 7, CacheReadInputTokens: 3})
	assert.Equal(t, int64(15), total.InputTokens)
	assert.Equal(t, int64(27), total.OutputTokens)
	assert.Equal(t, int64(3), total.CacheReadInputTokens)
}

func TestMessageResponse_Text(t *testing.T) {
	resp := &MessageResponse{
		Content: []ContentBlock{
			{Type: "text", Text: "part one "},
			{Type: "tool_use", Text: "ignored"},
			{Type: "text", Text: "part two"},
		},
	}
	assert.Equal(t, "part one part two", resp.Text())
}

func TestBuildCachedSystemBlocks(t *testing.T) {
	blocks := BuildCachedSystemBlocks("You are an LCA extraction assistant.")
	assert.Len(t, blocks, 1)
	assert.Equal(t, "You are an LCA extraction assistant.", blocks[0].Text)
	assert.NotNil(t, blocks[0].CacheControl)
	assert.Equal(t, "1h", blocks[0].CacheControl.TTL)
}
