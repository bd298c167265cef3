package agentloop

import (
	"context"
	"encoding/json"

	"github.com/taskvoice/taskvoice/internal/history"
	"github.com/taskvoice/taskvoice/internal/llm"
	"github.com/taskvoice/taskvoice/internal/tools"
)

// iterationResult accumulates everything a single invocation produced
// across one or more model round-trips, ready to persist.
type iterationResult struct {
	cancelled bool
	transient bool
	errDetail string

	text        string
	toolCalls   []history.ToolCallRecord
	toolResults []history.ToolResultRecord
	usage       llm.Usage
}

// runIterations drives the bounded model round-trip loop for one
// invocation. messages is the full provider-bound conversation so far
// (history window plus the new user turn); it grows in place as tool
// calls and their results are appended for the next iteration.
//
// An iteration that produces both a tool call and non-empty text is
// treated as done immediately — the model already said everything it
// needed to say alongside the tool use, so there is no reason to pay for
// another round-trip just to hear it confirm that. Reaching max
// iterations without a natural stop surfaces whatever text accumulated;
// no forced extra completion call is made.
func (l *Loop) runIterations(ctx context.Context, events chan<- Event, messages []llm.Message, system string, schemas []llm.ToolSchema, sessionID string) iterationResult {
	var res iterationResult

	for iter := 0; iter < l.maxIterations; iter++ {
		if err := ctx.Err(); err != nil {
			res.cancelled = true
			return res
		}

		stream := l.llm.Stream(ctx, llm.Request{
			Model:    l.model,
			System:   system,
			Messages: messages,
			Tools:    schemas,
		})

		var (
			iterationText string
			toolOrder     []string
			stopReason    llm.StopReason
		)
		toolNames := map[string]string{}
		toolArgs := map[string]map[string]any{}

		for ev := range stream {
			switch ev.Kind {
			case llm.EventTextDelta:
				iterationText += ev.Text
				emit(ctx, events, Event{Kind: EventText, Text: ev.Text})

			case llm.EventToolCallStart:
				toolNames[ev.ToolCallID] = ev.ToolName
				toolOrder = append(toolOrder, ev.ToolCallID)
				emit(ctx, events, Event{Kind: EventToolUseStart, Tool: ev.ToolName})

			case llm.EventToolCallComplete:
				toolNames[ev.ToolCallID] = ev.ToolName
				toolArgs[ev.ToolCallID] = ev.Args
				emit(ctx, events, Event{Kind: EventToolUse, Tool: ev.ToolName, Input: ev.Args})

			case llm.EventUsage:
				res.usage.InputTokens += ev.Usage.InputTokens
				res.usage.CacheWriteTokens += ev.Usage.CacheWriteTokens
				res.usage.CacheReadTokens += ev.Usage.CacheReadTokens
				res.usage.OutputTokens += ev.Usage.OutputTokens

			case llm.EventStop:
				stopReason = ev.StopReason

			case llm.EventError:
				res.transient = true
				res.errDetail = ev.ErrDetail
			}
		}

		// The stream can drain to a clean EventStop even after ctx is
		// cancelled — the provider's SSE body may already be fully
		// buffered, so no further blocking read was needed to notice the
		// cancellation. Check explicitly rather than trusting that a
		// cancelled context always surfaces as a stream error.
		if err := ctx.Err(); err != nil {
			res.cancelled = true
			return res
		}

		if res.transient {
			return res
		}

		if iterationText != "" {
			if res.text != "" {
				res.text += " "
			}
			res.text += iterationText
		}

		if len(toolOrder) == 0 {
			// No tool use this round: the model is done talking.
			return res
		}

		assistantCalls := make([]llm.ToolCall, 0, len(toolOrder))
		for _, id := range toolOrder {
			tc := llm.ToolCall{ID: id}
			tc.Function.Name = toolNames[id]
			tc.Function.Arguments = toolArgs[id]
			assistantCalls = append(assistantCalls, tc)
		}
		messages = append(messages, llm.Message{
			Role:      "assistant",
			Content:   iterationText,
			ToolCalls: assistantCalls,
		})
		res.toolCalls = append(res.toolCalls, toHistoryToolCalls(assistantCalls)...)

		for _, id := range toolOrder {
			name := toolNames[id]
			args := toolArgs[id]
			env, err := l.registry.Dispatch(ctx, l.deps, name, args)
			if err != nil {
				l.logger.Error("tool dispatch failed", "session_id", sessionID, "tool", name, "error", err)
				env = tools.Envelope{Success: false, Message: err.Error()}
			}
			emit(ctx, events, Event{Kind: EventToolResult, Tool: name, Result: env})

			messages = append(messages, llm.Message{Role: "tool", Content: resultString(env), ToolCallID: id})
			res.toolResults = append(res.toolResults, envelopeToHistoryResult(id, name, env))
		}

		if err := ctx.Err(); err != nil {
			res.cancelled = true
			return res
		}

		if iterationText != "" {
			// Single-turn completion: the model already spoke alongside
			// its tool use, so there's nothing left to ask it for.
			return res
		}

		if stopReason != llm.StopToolUse {
			// Defensive: a provider that stops without tool_use but still
			// emitted tool_call_complete events shouldn't spin further.
			return res
		}
	}

	l.logger.Warn("max iterations reached", "session_id", sessionID, "max_iterations", l.maxIterations)
	return res
}

// resultString renders an envelope as the compact string the provider's
// tool_result content block carries.
func resultString(env tools.Envelope) string {
	body, err := json.Marshal(env)
	if err != nil {
		return `{"success":false,"message":"failed to encode tool result"}`
	}
	return string(body)
}
