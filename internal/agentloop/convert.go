package agentloop

import (
	"encoding/json"

	"github.com/taskvoice/taskvoice/internal/history"
	"github.com/taskvoice/taskvoice/internal/llm"
	"github.com/taskvoice/taskvoice/internal/tools"
)

// toProviderMessages translates a window of persisted history into the
// provider-bound message shape. A history message carrying tool results
// expands into one llm.Message per result, since Anthropic (and the
// OpenAI-style dialect the dispatcher speaks) correlates tool results to
// calls one block at a time rather than grouping them.
func toProviderMessages(window []history.Message) []llm.Message {
	out := make([]llm.Message, 0, len(window))
	for _, m := range window {
		switch {
		case m.HasToolResults():
			for _, tr := range m.ToolResults {
				out = append(out, llm.Message{
					Role:       "tool",
					Content:    tr.Result,
					ToolCallID: tr.ToolCallID,
				})
			}
		case m.HasToolCalls():
			out = append(out, llm.Message{
				Role:      "assistant",
				Content:   m.Content,
				ToolCalls: toLLMToolCalls(m.ToolCalls),
			})
		default:
			role := "user"
			if m.Role == history.RoleAssistant {
				role = "assistant"
			}
			out = append(out, llm.Message{Role: role, Content: m.Content})
		}
	}
	return out
}

func toLLMToolCalls(recs []history.ToolCallRecord) []llm.ToolCall {
	out := make([]llm.ToolCall, 0, len(recs))
	for _, r := range recs {
		tc := llm.ToolCall{ID: r.ID}
		tc.Function.Name = r.Name
		tc.Function.Arguments = r.Args
		out = append(out, tc)
	}
	return out
}

func toHistoryToolCalls(recs []llm.ToolCall) []history.ToolCallRecord {
	out := make([]history.ToolCallRecord, 0, len(recs))
	for _, tc := range recs {
		out = append(out, history.ToolCallRecord{
			ID:   tc.ID,
			Name: tc.Function.Name,
			Args: tc.Function.Arguments,
		})
	}
	return out
}

// envelopeToHistoryResult serializes a tool envelope to the compact
// string form the history log and the provider's tool_result content
// block both expect.
func envelopeToHistoryResult(toolCallID, name string, env tools.Envelope) history.ToolResultRecord {
	body, err := json.Marshal(env)
	result := string(body)
	if err != nil {
		result = `{"success":false,"message":"failed to encode tool result"}`
	}
	return history.ToolResultRecord{
		ToolCallID: toolCallID,
		Name:       name,
		Result:     result,
	}
}
