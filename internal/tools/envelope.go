package tools

import (
	"encoding/json"
	"fmt"
)

// Envelope is the shape every tool handler returns: a success flag, a
// human/model-facing message, an optional UI command, and whatever
// tool-specific payload fields the handler wants to surface (e.g. a
// created task, a list of matched ids). Data is flattened into the
// envelope's top level on marshal so the wire shape matches
// {success, message, ui_command?, ...payload} exactly, with no nested
// "data" wrapper.
type Envelope struct {
	Success   bool
	Message   string
	UICommand *UICommand
	Data      map[string]any
}

// MarshalJSON flattens Data alongside the fixed fields.
func (e Envelope) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(e.Data)+3)
	for k, v := range e.Data {
		out[k] = v
	}
	out["success"] = e.Success
	out["message"] = e.Message
	if e.UICommand != nil {
		out["ui_command"] = e.UICommand
	}
	return json.Marshal(out)
}

// ok builds a success envelope with optional payload fields.
func ok(message string, data map[string]any) Envelope {
	return Envelope{Success: true, Message: message, Data: data}
}

// okWithUI builds a success envelope carrying a UI command.
func okWithUI(message string, data map[string]any, cmd *UICommand) Envelope {
	return Envelope{Success: true, Message: message, Data: data, UICommand: cmd}
}

// fail builds a failure envelope. Per the dispatcher's contract this
// is returned, never raised as an error, so the model sees the
// failure on the next turn and can adjust.
func fail(format string, args ...any) Envelope {
	return Envelope{Success: false, Message: fmt.Sprintf(format, args...)}
}
