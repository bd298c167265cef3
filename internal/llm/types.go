// Package llm provides a provider-agnostic streaming chat interface with
// tool calling, used by the agent loop to drive the model without branching
// on which backend answered the request.
package llm

import "log/slog"

// LevelTrace is below Debug, used for wire-level payload logging.
const LevelTrace = slog.Level(-8)

// Message is a single turn in the conversation sent to a provider.
// Role is one of "system", "user", "assistant", or "tool". Tool messages
// carry ToolCallID to correlate with the ToolCall that produced them.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ToolCall is a model-issued invocation of a named tool with arguments.
type ToolCall struct {
	ID       string `json:"id,omitempty"`
	Function struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	} `json:"function"`
}

// ToolSchema is the OpenAI-style function-wrapper dialect the Tool
// Dispatcher emits. Providers translate this to their native tool-schema
// shape; callers of Stream never see the provider-native form.
type ToolSchema struct {
	Type     string         `json:"type"`
	Function FunctionSchema `json:"function"`
}

// FunctionSchema describes one callable tool inside a ToolSchema.
type FunctionSchema struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// EventKind identifies the shape of an Event.
type EventKind int

const (
	// EventTextDelta carries an incremental fragment of assistant text.
	EventTextDelta EventKind = iota
	// EventToolCallStart marks the beginning of a tool invocation.
	EventToolCallStart
	// EventToolCallArgsDelta carries a streamed fragment of a tool call's
	// argument JSON. Fragments for the same ToolCallID must be
	// concatenated in order before parsing.
	EventToolCallArgsDelta
	// EventToolCallComplete carries a fully parsed, ready-to-dispatch
	// tool call.
	EventToolCallComplete
	// EventUsage carries final token/cost accounting for the stream.
	EventUsage
	// EventStop signals the stream ended with a particular reason.
	EventStop
	// EventError signals a provider or transport failure.
	EventError
)

// StopReason enumerates why a stream ended.
type StopReason string

const (
	StopEndTurn   StopReason = "end_turn"
	StopToolUse   StopReason = "tool_use"
	StopMaxTokens StopReason = "max_tokens"
	StopError     StopReason = "error"
)

// Event is one normalized item in the stream returned by Client.Stream.
// Consumers switch on Kind to decide which fields are populated.
type Event struct {
	Kind EventKind

	// Text is set for EventTextDelta.
	Text string

	// ToolCallID, ToolName are set for EventToolCallStart and
	// EventToolCallComplete.
	ToolCallID string
	ToolName   string

	// ArgsFragment is set for EventToolCallArgsDelta.
	ArgsFragment string

	// Args is set for EventToolCallComplete: the fully parsed, validated
	// tool input.
	Args map[string]any

	// Usage is set for EventUsage.
	Usage Usage

	// StopReason is set for EventStop.
	StopReason StopReason

	// ErrKind and ErrDetail are set for EventError.
	ErrKind   string
	ErrDetail string
}

// Usage holds the four token counters a provider may report, kept
// separate per the non-overlapping cache-accounting contract: regular
// input tokens, tokens written into the prompt cache, tokens read back
// from the prompt cache, and output tokens.
type Usage struct {
	InputTokens      int
	CacheWriteTokens int
	CacheReadTokens  int
	OutputTokens     int
}

// PricingEntry is the per-model USD-per-million-token rate for each of
// the four usage counters.
type PricingEntry struct {
	InputPerMillion      float64
	CacheWritePerMillion float64
	CacheReadPerMillion  float64
	OutputPerMillion     float64
}

// DefaultPricing is the built-in cost table, recovered from the
// original implementation's pricing constants for the Sonnet 4 family.
// Overridable at startup via TASKVOICE_COST_TABLE.
var DefaultPricing = map[string]PricingEntry{
	"claude-sonnet-4-20250514": {
		InputPerMillion:      3.0,
		CacheWritePerMillion: 3.75,
		CacheReadPerMillion:  0.30,
		OutputPerMillion:     15.0,
	},
}

// Cost computes the USD cost of u under the given pricing table. Models
// absent from the table cost zero, matching this repository's convention
// of treating unknown/local models as free.
func (u Usage) Cost(model string, pricing map[string]PricingEntry) float64 {
	entry, ok := pricing[model]
	if !ok {
		return 0
	}
	cost := float64(u.InputTokens) / 1_000_000.0 * entry.InputPerMillion
	cost += float64(u.CacheWriteTokens) / 1_000_000.0 * entry.CacheWritePerMillion
	cost += float64(u.CacheReadTokens) / 1_000_000.0 * entry.CacheReadPerMillion
	cost += float64(u.OutputTokens) / 1_000_000.0 * entry.OutputPerMillion
	return cost
}
