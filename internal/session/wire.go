package session

import "github.com/taskvoice/taskvoice/internal/agentloop"

// Frame types sent to the client over the session WebSocket.
const (
	frameFluxEvent  = "flux_event"
	frameAgentStart = "agent_start"
	frameAgentEvent = "agent_event"
	frameAgentError = "agent_error"
)

// agentStartFrame announces the start of one agent invocation, carrying
// the transcript that triggered it so the client can echo it.
type agentStartFrame struct {
	Type  string `json:"type"`
	Query string `json:"query"`
}

// agentEventFrame wraps one agentloop.Event for the client.
type agentEventFrame struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

// agentErrorFrame reports an invocation that failed after its retry was
// exhausted. The session stays open; the client may speak again.
type agentErrorFrame struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

func newAgentStartFrame(query string) agentStartFrame {
	return agentStartFrame{Type: frameAgentStart, Query: query}
}

// toAgentEventFrame renders an agentloop.Event as the data payload the
// client's agent_event handler expects.
func toAgentEventFrame(ev agentloop.Event) agentEventFrame {
	data := map[string]any{"type": string(ev.Kind)}
	switch ev.Kind {
	case agentloop.EventToolUseStart:
		data["tool"] = ev.Tool
	case agentloop.EventToolUse:
		data["tool"] = ev.Tool
		data["input"] = ev.Input
	case agentloop.EventToolResult:
		data["tool"] = ev.Tool
		data["result"] = ev.Result
	case agentloop.EventText:
		data["content"] = ev.Text
	case agentloop.EventError:
		data["message"] = ev.Message
	}
	return agentEventFrame{Type: frameAgentEvent, Data: data}
}

func newAgentErrorFrame(message string) agentErrorFrame {
	return agentErrorFrame{Type: frameAgentError, Error: message}
}
