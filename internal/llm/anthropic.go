package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/taskvoice/taskvoice/internal/httpkit"
)

const (
	anthropicAPIURL          = "https://api.anthropic.com/v1/messages"
	anthropicAPIVersion      = "2023-06-01"
	anthropicCacheBetaHeader = "extended-cache-ttl-2025-04-11"
)

// AnthropicClient is a client for the Anthropic Messages API. It is the
// default provider this service ships with; other providers can be added
// behind the same Client interface without touching the agent loop.
type AnthropicClient struct {
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewAnthropicClient creates a new Anthropic client.
func NewAnthropicClient(apiKey string, logger *slog.Logger) *AnthropicClient {
	if logger == nil {
		logger = slog.Default()
	}
	// LLM responses can take significant time before sending headers
	// (long prompts, large tool schemas). Use a generous header timeout;
	// streaming requests rely on ctx deadlines for overall timeout control.
	t := httpkit.NewTransport()
	t.ResponseHeaderTimeout = 120 * time.Second

	return &AnthropicClient{
		apiKey: apiKey,
		logger: logger.With("provider", "anthropic"),
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(0),
			httpkit.WithTransport(t),
		),
	}
}

// Anthropic request/response wire types.

type anthropicRequest struct {
	Model     string             `json:"model"`
	Messages  []anthropicMessage `json:"messages"`
	System    []anthropicContent `json:"system,omitempty"`
	MaxTokens int                `json:"max_tokens"`
	Stream    bool               `json:"stream,omitempty"`
	Tools     []anthropicTool    `json:"tools,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"` // string or []anthropicContent
}

type anthropicContent struct {
	Type         string                `json:"type"`
	Text         string                `json:"text,omitempty"`
	ID           string                `json:"id,omitempty"`
	Name         string                `json:"name,omitempty"`
	Input        any                   `json:"input,omitempty"`
	ToolUseID    string                `json:"tool_use_id,omitempty"`
	Content      string                `json:"content,omitempty"` // for tool_result
	CacheControl *anthropicCacheControl `json:"cache_control,omitempty"`
}

type anthropicCacheControl struct {
	Type string `json:"type"`
}

type anthropicTool struct {
	Name         string                  `json:"name"`
	Description string                  `json:"description,omitempty"`
	InputSchema  any                     `json:"input_schema"`
	CacheControl *anthropicCacheControl  `json:"cache_control,omitempty"`
}

type anthropicResponse struct {
	ID           string             `json:"id"`
	Type         string             `json:"type"`
	Role         string             `json:"role"`
	Content      []anthropicContent `json:"content"`
	Model        string             `json:"model"`
	StopReason   string             `json:"stop_reason"`
	StopSequence *string            `json:"stop_sequence"`
	Usage        anthropicUsage     `json:"usage"`
}

type anthropicUsage struct {
	InputTokens              int `json:"input_tokens"`
	OutputTokens             int `json:"output_tokens"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens"`
}

// SSE event types for streaming.
type anthropicStreamEvent struct {
	Type         string             `json:"type"`
	Index        int                `json:"index,omitempty"`
	ContentBlock *anthropicContent  `json:"content_block,omitempty"`
	Delta        *anthropicDelta    `json:"delta,omitempty"`
	Message      *anthropicResponse `json:"message,omitempty"`
	Usage        *anthropicUsage    `json:"usage,omitempty"`
}

type anthropicDelta struct {
	Type         string `json:"type,omitempty"`
	Text         string `json:"text,omitempty"`
	PartialJSON  string `json:"partial_json,omitempty"`
	StopReason   string `json:"stop_reason,omitempty"`
	StopSequence string `json:"stop_sequence,omitempty"`
}

// Stream issues one streaming request and returns a channel of normalized
// events. The channel is closed after a terminal EventStop or EventError.
func (c *AnthropicClient) Stream(ctx context.Context, req Request) <-chan Event {
	events := make(chan Event, 16)

	go func() {
		defer close(events)

		anthropicMsgs := convertToAnthropic(req.Messages)
		anthropicTools := convertToolsToAnthropic(req.Tools)

		maxTokens := req.MaxOutputTokens
		if maxTokens <= 0 {
			maxTokens = 4096
		}

		wireReq := anthropicRequest{
			Model:     req.Model,
			Messages:  anthropicMsgs,
			System:    systemBlocks(req.System),
			MaxTokens: maxTokens,
			Stream:    true,
			Tools:     anthropicTools,
		}

		c.logger.Debug("preparing request",
			"model", req.Model,
			"messages", len(anthropicMsgs),
			"tools", len(anthropicTools),
			"system_len", len(req.System),
		)

		jsonData, err := json.Marshal(wireReq)
		if err != nil {
			sendErr(ctx, events, "marshal_error", err.Error())
			return
		}

		c.logger.Log(ctx, LevelTrace, "request payload", "json", string(jsonData))

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, anthropicAPIURL, bytes.NewReader(jsonData))
		if err != nil {
			sendErr(ctx, events, "request_error", err.Error())
			return
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("x-api-key", c.apiKey)
		httpReq.Header.Set("anthropic-version", anthropicAPIVersion)
		httpReq.Header.Set("anthropic-beta", anthropicCacheBetaHeader)

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			sendErr(ctx, events, "transient", err.Error())
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			errBody := httpkit.ReadErrorBody(resp.Body, 4096)
			c.logger.Error("API error", "status", resp.StatusCode, "body", errBody)
			kind := "provider_error"
			if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
				kind = "transient"
			}
			sendErr(ctx, events, kind, fmt.Sprintf("anthropic API error %d: %s", resp.StatusCode, errBody))
			return
		}

		c.streamBody(ctx, resp.Body, events)
	}()

	return events
}

// Ping checks if the Anthropic API is reachable and the key is valid.
func (c *AnthropicClient) Ping(ctx context.Context) error {
	wireReq := anthropicRequest{
		Model:     "claude-sonnet-4-20250514",
		Messages:  []anthropicMessage{{Role: "user", Content: "ping"}},
		MaxTokens: 1,
	}

	jsonData, err := json.Marshal(wireReq)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, anthropicAPIURL, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicAPIVersion)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("invalid API key")
	}
	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status from Anthropic API: %d", httpResp.StatusCode)
	}
	return nil
}

// streamBody parses the SSE body and emits normalized events as it goes,
// rather than buffering a full response before the caller sees anything.
func (c *AnthropicClient) streamBody(ctx context.Context, body io.Reader, events chan<- Event) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var (
		currentTool    *anthropicContent
		currentToolID  string
		toolJSONBuf    strings.Builder
		stopReason     string
		usage          anthropicUsage
	)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}

		data := strings.TrimSpace(strings.TrimPrefix(line, "data: "))
		if data == "[DONE]" {
			break
		}

		var event anthropicStreamEvent
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			continue // skip malformed events; the stream is best-effort
		}

		switch event.Type {
		case "message_start":
			if event.Message != nil {
				usage = event.Message.Usage
			}

		case "content_block_start":
			if event.ContentBlock != nil && event.ContentBlock.Type == "tool_use" {
				currentTool = event.ContentBlock
				currentToolID = event.ContentBlock.ID
				toolJSONBuf.Reset()
				if !sendEvent(ctx, events, Event{
					Kind:       EventToolCallStart,
					ToolCallID: currentToolID,
					ToolName:   currentTool.Name,
				}) {
					return
				}
			}

		case "content_block_delta":
			if event.Delta == nil {
				continue
			}
			switch event.Delta.Type {
			case "text_delta":
				if !sendEvent(ctx, events, Event{Kind: EventTextDelta, Text: event.Delta.Text}) {
					return
				}
			case "input_json_delta":
				toolJSONBuf.WriteString(event.Delta.PartialJSON)
				if !sendEvent(ctx, events, Event{
					Kind:         EventToolCallArgsDelta,
					ToolCallID:   currentToolID,
					ArgsFragment: event.Delta.PartialJSON,
				}) {
					return
				}
			}

		case "content_block_stop":
			if currentTool != nil {
				var args map[string]any
				if toolJSONBuf.Len() > 0 {
					if err := json.Unmarshal([]byte(toolJSONBuf.String()), &args); err != nil {
						args = map[string]any{"_raw": toolJSONBuf.String()}
					}
				} else {
					args = map[string]any{}
				}
				if !sendEvent(ctx, events, Event{
					Kind:       EventToolCallComplete,
					ToolCallID: currentToolID,
					ToolName:   currentTool.Name,
					Args:       args,
				}) {
					return
				}
				currentTool = nil
				currentToolID = ""
			}

		case "message_delta":
			if event.Delta != nil {
				stopReason = event.Delta.StopReason
			}
			if event.Usage != nil {
				usage.OutputTokens = event.Usage.OutputTokens
				if event.Usage.CacheCreationInputTokens > 0 {
					usage.CacheCreationInputTokens = event.Usage.CacheCreationInputTokens
				}
				if event.Usage.CacheReadInputTokens > 0 {
					usage.CacheReadInputTokens = event.Usage.CacheReadInputTokens
				}
			}
		}
	}

	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			// The read failed because the caller cancelled, not because
			// the provider or connection misbehaved — barge-in is the
			// single most frequent reason this stream ever stops short,
			// and it is not a transient failure worth retrying.
			return
		}
		sendErr(ctx, events, "transient", fmt.Sprintf("read stream: %v", err))
		return
	}

	if !sendEvent(ctx, events, Event{
		Kind: EventUsage,
		Usage: Usage{
			InputTokens:      usage.InputTokens,
			CacheWriteTokens: usage.CacheCreationInputTokens,
			CacheReadTokens:  usage.CacheReadInputTokens,
			OutputTokens:     usage.OutputTokens,
		},
	}) {
		return
	}

	c.logger.Debug("stream complete",
		"stop_reason", stopReason,
		"input_tokens", usage.InputTokens,
		"output_tokens", usage.OutputTokens,
		"cache_write_tokens", usage.CacheCreationInputTokens,
		"cache_read_tokens", usage.CacheReadInputTokens,
	)

	sendEvent(ctx, events, Event{Kind: EventStop, StopReason: normalizeStopReason(stopReason)})
}

func normalizeStopReason(raw string) StopReason {
	switch raw {
	case "tool_use":
		return StopToolUse
	case "max_tokens":
		return StopMaxTokens
	case "end_turn", "stop_sequence":
		return StopEndTurn
	default:
		return StopEndTurn
	}
}

// sendEvent delivers ev unless ctx is already done, in which case it
// reports false so the caller stops parsing immediately.
func sendEvent(ctx context.Context, events chan<- Event, ev Event) bool {
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func sendErr(ctx context.Context, events chan<- Event, kind, detail string) {
	sendEvent(ctx, events, Event{Kind: EventError, ErrKind: kind, ErrDetail: detail})
}

// systemBlocks wraps the system prompt as a single cacheable content
// block. Marking it ephemeral lets the provider reuse the (large, mostly
// static) tool-enumeration and behavioral-rules prefix across turns of
// the same conversation instead of re-billing it as fresh input tokens.
func systemBlocks(system string) []anthropicContent {
	if system == "" {
		return nil
	}
	return []anthropicContent{{
		Type:         "text",
		Text:         system,
		CacheControl: &anthropicCacheControl{Type: "ephemeral"},
	}}
}

// convertToAnthropic converts internal messages to Anthropic format.
// System messages are not expected here; the system prompt travels
// through Request.System instead.
func convertToAnthropic(messages []Message) []anthropicMessage {
	var result []anthropicMessage

	for _, msg := range messages {
		switch msg.Role {
		case "assistant":
			if len(msg.ToolCalls) > 0 {
				var blocks []anthropicContent
				if msg.Content != "" {
					blocks = append(blocks, anthropicContent{Type: "text", Text: msg.Content})
				}
				for i, tc := range msg.ToolCalls {
					args := tc.Function.Arguments
					if args == nil {
						args = map[string]any{}
					}
					id := tc.ID
					if id == "" {
						id = fmt.Sprintf("toolu_%s_%d", tc.Function.Name, i)
					}
					blocks = append(blocks, anthropicContent{
						Type:  "tool_use",
						ID:    id,
						Name:  tc.Function.Name,
						Input: args,
					})
				}
				result = append(result, anthropicMessage{Role: "assistant", Content: blocks})
			} else {
				result = append(result, anthropicMessage{Role: "assistant", Content: msg.Content})
			}

		case "tool":
			result = append(result, anthropicMessage{
				Role: "user",
				Content: []anthropicContent{{
					Type:      "tool_result",
					ToolUseID: msg.ToolCallID,
					Content:   msg.Content,
				}},
			})

		case "user":
			result = append(result, anthropicMessage{Role: "user", Content: msg.Content})
		}
	}

	return result
}

// convertToolsToAnthropic converts the dispatcher's OpenAI-style tool
// schemas to Anthropic's native {name, description, input_schema} shape,
// marking the last tool cacheable so the whole (static) tool block is
// reused across turns alongside the system prompt.
func convertToolsToAnthropic(tools []ToolSchema) []anthropicTool {
	if len(tools) == 0 {
		return nil
	}

	result := make([]anthropicTool, 0, len(tools))
	for _, t := range tools {
		params := t.Function.Parameters
		if params == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		result = append(result, anthropicTool{
			Name:        t.Function.Name,
			Description: t.Function.Description,
			InputSchema: params,
		})
	}
	result[len(result)-1].CacheControl = &anthropicCacheControl{Type: "ephemeral"}
	return result
}
