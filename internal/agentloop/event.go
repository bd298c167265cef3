package agentloop

import "github.com/taskvoice/taskvoice/internal/tools"

// EventKind identifies the shape of an Event emitted by Loop.Run. The
// vocabulary mirrors the agent_event inner types the Session Orchestrator
// forwards to the client: thinking, tool_use_start, tool_use, tool_result,
// text, done, error.
type EventKind string

const (
	EventThinking     EventKind = "thinking"
	EventToolUseStart EventKind = "tool_use_start"
	EventToolUse      EventKind = "tool_use"
	EventToolResult   EventKind = "tool_result"
	EventText         EventKind = "text"
	EventDone         EventKind = "done"
	EventError        EventKind = "error"
)

// Event is one item in the stream Loop.Run returns. Consumers switch on
// Kind to decide which fields apply; unused fields are left zero.
type Event struct {
	Kind EventKind

	// Text carries an incremental fragment for EventText (not cumulative:
	// the caller concatenates fragments itself if it wants the full reply).
	Text string

	// Tool, Input are set for EventToolUseStart/EventToolUse.
	Tool  string
	Input map[string]any

	// Result is set for EventToolResult.
	Result tools.Envelope

	// Message carries the human-readable detail for EventError.
	Message string
}
