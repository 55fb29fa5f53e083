package runner

import (
	"github.com/hupe1980/agentstream/logging"
	"github.com/hupe1980/agentstream/model"
)

// Thinking budget limits in tokens.
const (
	ThinkingFloor     = 1024
	ThinkingHighWater = 32000
	thinkingHeadroom  = 4096
)

// Effort levels accepted by the provider.
const (
	EffortLow    = "low"
	EffortMedium = "medium"
	EffortHigh   = "high"
)

// clampThinking enforces the budget floor. Budgets above the high-water mark
// are allowed with a warning. Non-positive budgets disable thinking.
func clampThinking(budget int64, logger logging.Logger) int64 {
	switch {
	case budget <= 0:
		return 0
	case budget < ThinkingFloor:
		logger.Debug("runner.thinking.clamped", "requested", budget, "floor", ThinkingFloor)
		return ThinkingFloor
	case budget > ThinkingHighWater:
		logger.Warn("runner.thinking.high", "budget", budget, "high_water", ThinkingHighWater)
	}
	return budget
}

// maxTokensFor raises maxTokens so the thinking budget leaves room for output.
func maxTokensFor(maxTokens, budget int64) int64 {
	if budget > 0 && maxTokens <= budget {
		return budget + thinkingHeadroom
	}
	return maxTokens
}

func validEffort(effort string, logger logging.Logger) string {
	switch effort {
	case "", EffortLow, EffortMedium, EffortHigh:
		return effort
	default:
		logger.Warn("runner.effort.invalid", "effort", effort)
		return ""
	}
}

// AnnotateCache marks the last block of the most recent user message as an
// ephemeral cache breakpoint once the conversation has at least minMessages
// messages. The input is never modified and the transform is idempotent.
func AnnotateCache(msgs []model.Message, minMessages int) []model.Message {
	out := make([]model.Message, len(msgs))
	copy(out, msgs)

	if len(out) == 0 || len(out) < minMessages {
		return out
	}

	last := -1
	for i := len(out) - 1; i >= 0; i-- {
		if out[i].Role == model.RoleUser {
			last = i
			break
		}
	}
	if last < 0 {
		return out
	}

	c := out[last].Content.Clone()
	if c.IsText() {
		if c.Text == "" {
			return out
		}
		c = model.BlockContent(model.TextBlock(c.Text))
	}
	if len(c.Blocks) == 0 {
		return out
	}
	c.Blocks[len(c.Blocks)-1].CacheControl = model.Ephemeral()

	out[last] = model.Message{Role: out[last].Role, Content: c}
	return out
}
