// Package agentloop drives one conversation turn: it loads recent
// history, calls the LLM Adapter in a bounded loop, dispatches any tool
// calls the model issues through the Tool Dispatcher, and persists the
// turn's messages and token usage once it settles.
package agentloop

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/taskvoice/taskvoice/internal/history"
	"github.com/taskvoice/taskvoice/internal/llm"
	"github.com/taskvoice/taskvoice/internal/tools"
	"github.com/taskvoice/taskvoice/internal/usage"
)

const (
	defaultMaxIterations = 3
	defaultHistoryWindow = 3
	invocationTimeout    = 30 * time.Second
	retryBackoff         = 500 * time.Millisecond
)

// Loop owns everything one turn needs: the provider client, the tool
// registry and its store dependencies, the history and usage ledgers.
type Loop struct {
	llm      llm.Client
	registry *tools.Registry
	deps     tools.Deps
	usage    *usage.Store

	model         string
	pricing       map[string]llm.PricingEntry
	maxIterations int
	historyWindow int

	logger *slog.Logger
}

// Option configures a Loop at construction time.
type Option func(*Loop)

// WithMaxIterations overrides the default bound on model round-trips
// within a single invocation.
func WithMaxIterations(n int) Option {
	return func(l *Loop) {
		if n > 0 {
			l.maxIterations = n
		}
	}
}

// WithHistoryWindow overrides how many recent messages are loaded as
// context before the new user query.
func WithHistoryWindow(n int) Option {
	return func(l *Loop) {
		if n > 0 {
			l.historyWindow = n
		}
	}
}

// NewLoop constructs a Loop ready to run turns.
func NewLoop(llmClient llm.Client, registry *tools.Registry, deps tools.Deps, usageStore *usage.Store, model string, pricing map[string]llm.PricingEntry, logger *slog.Logger, opts ...Option) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Loop{
		llm:           llmClient,
		registry:      registry,
		deps:          deps,
		usage:         usageStore,
		model:         model,
		pricing:       pricing,
		maxIterations: defaultMaxIterations,
		historyWindow: defaultHistoryWindow,
		logger:        logger,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Run drives one conversation turn for query and returns a channel of
// normalized events. The channel is always closed. Unless ctx is
// cancelled, the last event sent is either EventDone or (on an
// unrecoverable failure) EventError immediately followed by EventDone;
// once ctx is cancelled the channel is closed with no terminal event.
//
// The user query is persisted to history synchronously before Run does
// anything cancellable: cancelling ctx after Run has been called never
// erases that the user said something, it only ever cuts off the
// assistant's reply.
func (l *Loop) Run(ctx context.Context, sessionID, conversationID, query string) <-chan Event {
	events := make(chan Event, 16)

	go func() {
		defer close(events)

		window := l.loadConsistentWindow(ctx)

		if _, err := l.deps.History.Append(history.RoleUser, query, nil, nil); err != nil {
			l.logger.Error("append user message failed", "session_id", sessionID, "error", err)
			emit(ctx, events, Event{Kind: EventError, Message: "could not record your message"})
			emit(ctx, events, Event{Kind: EventDone})
			return
		}

		if err := ctx.Err(); err != nil {
			l.logger.Debug("turn cancelled before first model call", "session_id", sessionID)
			return
		}

		baseMessages := toProviderMessages(window)
		baseMessages = append(baseMessages, llm.Message{Role: "user", Content: query})
		sys := systemPrompt(time.Now().UTC())
		schemas := l.registry.Schemas()

		var res iterationResult
		for attempt := 0; attempt < 2; attempt++ {
			runCtx, cancel := context.WithTimeout(ctx, invocationTimeout)
			res = l.runIterations(runCtx, events, baseMessages, sys, schemas, sessionID)
			cancel()
			if res.cancelled && ctx.Err() == nil {
				// Only the invocation deadline expired, not the caller's
				// context: a timeout is handled like a transient failure.
				res = iterationResult{transient: true, errDetail: "invocation timed out"}
			}
			if !res.transient {
				break
			}
			if attempt == 0 {
				l.logger.Warn("transient provider failure, retrying once",
					"session_id", sessionID, "detail", res.errDetail)
				select {
				case <-time.After(retryBackoff):
				case <-ctx.Done():
				}
				continue
			}
			l.logger.Error("transient provider failure, retry exhausted",
				"session_id", sessionID, "detail", res.errDetail)
			emit(ctx, events, Event{Kind: EventError, Message: "the assistant is temporarily unavailable"})
			if err := l.deps.History.Clear(); err != nil {
				l.logger.Error("history clear after failure failed", "session_id", sessionID, "error", err)
			}
			emit(ctx, events, Event{Kind: EventDone})
			return
		}

		if res.cancelled {
			return
		}

		if _, err := l.deps.History.Append(history.RoleAssistant, res.text, res.toolCalls, nil); err != nil {
			l.logger.Error("append assistant message failed", "session_id", sessionID, "error", err)
		}
		if len(res.toolResults) > 0 {
			if _, err := l.deps.History.Append(history.RoleUser, "", nil, res.toolResults); err != nil {
				l.logger.Error("append tool result message failed", "session_id", sessionID, "error", err)
			}
		}

		l.recordUsage(ctx, sessionID, conversationID, res.usage)

		emit(ctx, events, Event{Kind: EventDone})
	}()

	return events
}

// loadConsistentWindow loads the recent-history window, recovering by
// clearing the log entirely if it can't be loaded or doesn't pair up
// (an assistant tool call with no matching tool result, or vice versa).
// A prior crash mid-turn leaves the log in that state, and so does a
// window of the last historyWindow messages whose first message is a
// tool result whose call lies just before the window.
func (l *Loop) loadConsistentWindow(ctx context.Context) []history.Message {
	window, err := l.deps.History.Tail(l.historyWindow)
	if err == nil && isConsistent(window) {
		return window
	}
	if err != nil {
		l.logger.Warn("history load failed, clearing log", "error", err)
	} else {
		l.logger.Warn("history window inconsistent, clearing log")
	}
	if clearErr := l.deps.History.Clear(); clearErr != nil {
		l.logger.Error("history clear failed", "error", clearErr)
	}
	return nil
}

// isConsistent reports whether every tool call in window is paired with
// a tool result and vice versa, in order.
func isConsistent(window []history.Message) bool {
	pending := map[string]bool{}
	for _, m := range window {
		if m.HasToolCalls() {
			for _, tc := range m.ToolCalls {
				pending[tc.ID] = true
			}
		}
		if m.HasToolResults() {
			for _, tr := range m.ToolResults {
				if !pending[tr.ToolCallID] {
					return false
				}
				delete(pending, tr.ToolCallID)
			}
		}
	}
	return len(pending) == 0
}

func (l *Loop) recordUsage(ctx context.Context, sessionID, conversationID string, u llm.Usage) {
	if l.usage == nil {
		return
	}
	if u.InputTokens == 0 && u.OutputTokens == 0 && u.CacheReadTokens == 0 && u.CacheWriteTokens == 0 {
		return
	}
	reqID, err := uuid.NewV7()
	if err != nil {
		reqID = uuid.New()
	}
	rec := usage.Record{
		ID:               reqID.String(),
		RequestID:        reqID.String(),
		SessionID:        sessionID,
		ConversationID:   conversationID,
		Model:            l.model,
		Provider:         "anthropic",
		InputTokens:      u.InputTokens,
		CacheWriteTokens: u.CacheWriteTokens,
		CacheReadTokens:  u.CacheReadTokens,
		OutputTokens:     u.OutputTokens,
		CostUSD:          u.Cost(l.model, l.pricing),
		Role:             "interactive",
	}
	if err := l.usage.Record(ctx, rec); err != nil {
		l.logger.Error("usage record failed", "session_id", sessionID, "error", err)
	}
}

// emit delivers ev unless ctx is already cancelled, in which case it
// silently drops the event — once a turn is cancelled, the Session
// Orchestrator has already torn down its interest in this invocation's
// events, so there is nothing left to suppress them for.
func emit(ctx context.Context, events chan<- Event, ev Event) {
	if ctx.Err() != nil {
		return
	}
	select {
	case events <- ev:
	case <-ctx.Done():
	}
}
