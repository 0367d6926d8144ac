package nodes

import (
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/robbu/chatbot-core/server/internal/agent/model"
)

const DefaultMaxToolCalls = 10

// normalizeMaxToolCalls returns a sane default when the provided value is invalid.
func normalizeMaxToolCalls(n int) int {
	if n <= 0 {
		return DefaultMaxToolCalls
	}
	return n
}

// checkAndMarkToolLimit evaluates whether another tool call would exceed the
// limit and, if so, marks the state accordingly. Returns true when marked now.
func checkAndMarkToolLimit(state *model.TurnState, max int) bool {
	max = normalizeMaxToolCalls(max)
	if !state.ToolCallLimitReached && state.ToolCallCount >= max {
		state.ToolCallLimitReached = true
		return true
	}
	return false
}

// incrementToolCallAndCheck increments the count and marks the state if it
// exceeds the limit after incrementing. Returns true when exceeded.
func incrementToolCallAndCheck(state *model.TurnState, max int) bool {
	max = normalizeMaxToolCalls(max)
	state.ToolCallCount++
	if state.ToolCallCount > max {
		state.ToolCallLimitReached = true
		return true
	}
	return false
}

// repairToolCallIDs back-fills missing tool_call_id on tool results.
// Externally submitted results sometimes arrive without one; Gemini rejects
// tool messages that lack it.
func repairToolCallIDs(history []*schema.Message) {
	for i, m := range history {
		if m == nil || m.Role != schema.Tool || strings.TrimSpace(m.ToolCallID) != "" {
			continue
		}
		for j := i - 1; j >= 0; j-- {
			prev := history[j]
			if prev == nil || prev.Role != schema.Assistant || len(prev.ToolCalls) == 0 {
				continue
			}
			if id := strings.TrimSpace(prev.ToolCalls[0].ID); id != "" {
				m.ToolCallID = id
			}
			break
		}
	}
}

// usageOf extracts token usage from a model response when the provider
// reported it.
func usageOf(m *schema.Message) *schema.TokenUsage {
	if m == nil || m.ResponseMeta == nil {
		return nil
	}
	return m.ResponseMeta.Usage
}

// lastUserContent returns the content of the most recent user message.
func lastUserContent(history []*schema.Message) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i] != nil && history[i].Role == schema.User {
			return history[i].Content
		}
	}
	return ""
}
