package session

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/taskvoice/taskvoice/internal/agentloop"
)

// interruptThreshold is the transcript length, in characters, above which
// a new partial transcript is treated as the client talking over a
// running agent invocation rather than noise — below it, a stray word
// caught mid-turn doesn't cancel useful work in progress.
const interruptThreshold = 5

// state is the session's coarse lifecycle stage. It exists mainly for
// logging and for deciding whether an incoming audio frame should be
// gated away while the agent is mid-turn; the client infers the speaking
// stage itself from agent_event frames rather than from any state this
// side sends explicitly.
type state int

const (
	stateOpening state = iota
	stateReady
	stateListening
	stateTranscribing
	stateAgentRunning
	stateClosing
)

// session drives one client connection end to end: it proxies audio to
// the STT provider, relays transcription events back to the client, and
// starts an agent invocation each time the provider reports a finished
// turn.
type session struct {
	id             string
	conversationID string

	clientConn *websocket.Conn
	writeMu    sync.Mutex

	stt *sttClient

	loop   *agentloop.Loop
	logger *slog.Logger

	stateMu sync.Mutex
	current state

	transcriptMu sync.Mutex
	transcript   string

	agentMu     sync.Mutex
	agentCancel context.CancelFunc
	agentDone   chan struct{}
}

func newSession(id string, clientConn *websocket.Conn, stt *sttClient, loop *agentloop.Loop, logger *slog.Logger) *session {
	return &session{
		id:             id,
		conversationID: uuid.NewString(),
		clientConn:     clientConn,
		stt:            stt,
		loop:           loop,
		logger:         logger,
		current:        stateOpening,
	}
}

func (s *session) setState(st state) {
	s.stateMu.Lock()
	s.current = st
	s.stateMu.Unlock()
}

func (s *session) getState() state {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.current
}

// writeJSON funnels every outbound client frame through one mutex, since
// a gorilla/websocket connection tolerates at most one writer at a time.
func (s *session) writeJSON(v any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.clientConn.WriteJSON(v)
}

// run owns the connection for its whole lifetime: it starts the
// audio-forward and stt-consume goroutines, waits for either to finish
// (a client disconnect, a provider error, or the outer context being
// cancelled all end up here), then tears everything down once,
// unconditionally, regardless of which side ended first.
func (s *session) run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.setState(stateReady)

	done := make(chan struct{}, 2)
	go func() {
		s.forwardAudio(ctx)
		done <- struct{}{}
	}()
	go func() {
		s.consumeSTT(ctx)
		done <- struct{}{}
	}()

	remaining := 2
	select {
	case <-done:
		remaining--
	case <-ctx.Done():
	}
	cancel()

	// Closing both connections is what unblocks whichever goroutine is
	// still waiting in a read.
	s.setState(stateClosing)
	s.cancelAgent()
	s.stt.Close()
	s.clientConn.Close()
	for ; remaining > 0; remaining-- {
		<-done
	}
}

// forwardAudio reads binary audio frames from the client and relays them
// to the STT provider, except while the agent is speaking: forwarding
// the device's own audio output back through the microphone would feed
// the agent's reply into the next turn's transcript.
func (s *session) forwardAudio(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		msgType, data, err := s.clientConn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("client read failed", "session_id", s.id, "error", err)
			}
			return
		}
		if msgType != websocket.BinaryMessage {
			continue
		}
		if s.getState() == stateAgentRunning {
			continue
		}
		if err := s.stt.SendAudio(data); err != nil {
			s.logger.Warn("stt send failed", "session_id", s.id, "error", err)
			return
		}
	}
}

// consumeSTT relays every provider frame to the client and watches for a
// finished turn, starting (or interrupting) an agent invocation as the
// transcript warrants.
func (s *session) consumeSTT(ctx context.Context) {
	err := s.stt.Events(
		func(raw json.RawMessage) {
			if werr := s.writeJSON(map[string]any{"type": frameFluxEvent, "data": raw}); werr != nil {
				s.logger.Debug("client write failed", "session_id", s.id, "error", werr)
			}
		},
		func(ti TurnInfo) {
			s.handleTurn(ctx, ti)
		},
	)
	if err != nil && ctx.Err() == nil {
		s.logger.Debug("stt read failed", "session_id", s.id, "error", err)
	}
}

func (s *session) handleTurn(ctx context.Context, ti TurnInfo) {
	switch ti.Event {
	case TurnEndOfTurn:
		s.transcriptMu.Lock()
		transcript := s.transcript
		s.transcript = ""
		s.transcriptMu.Unlock()

		if transcript == "" {
			s.setState(stateListening)
			return
		}
		s.setState(stateAgentRunning)
		s.startAgent(ctx, transcript)

	case TurnUpdate, TurnEagerEndOfTurn:
		s.transcriptMu.Lock()
		s.transcript = ti.Transcript
		s.transcriptMu.Unlock()
		s.setState(stateTranscribing)

		if len(ti.Transcript) > interruptThreshold {
			s.cancelAgent()
		}

	case TurnStartOfTurn, TurnResumed:
		s.setState(stateListening)
	}
}

// startAgent cancels any invocation still running on this session, then
// runs a fresh one in its own goroutine. Only one invocation is ever
// live at a time; a new EndOfTurn always wins over a stale one.
func (s *session) startAgent(ctx context.Context, query string) {
	s.cancelAgent()

	agentCtx, cancel := context.WithCancel(ctx)
	doneCh := make(chan struct{})

	s.agentMu.Lock()
	s.agentCancel = cancel
	s.agentDone = doneCh
	s.agentMu.Unlock()

	go func() {
		defer close(doneCh)
		defer cancel()
		s.runAgent(agentCtx, query)
	}()
}

// cancelAgent stops whatever invocation is currently running on this
// session, if any, and waits for its goroutine to finish so that two
// invocations never write to the client out of order.
func (s *session) cancelAgent() {
	s.agentMu.Lock()
	cancel := s.agentCancel
	doneCh := s.agentDone
	s.agentCancel = nil
	s.agentDone = nil
	s.agentMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-doneCh
}

func (s *session) runAgent(ctx context.Context, query string) {
	if err := s.writeJSON(newAgentStartFrame(query)); err != nil {
		s.logger.Debug("client write failed", "session_id", s.id, "error", err)
		return
	}

	events := s.loop.Run(ctx, s.id, s.conversationID, query)
	var sawError bool
	for ev := range events {
		if ev.Kind == agentloop.EventError {
			sawError = true
		}
		if err := s.writeJSON(toAgentEventFrame(ev)); err != nil {
			s.logger.Debug("client write failed", "session_id", s.id, "error", err)
			return
		}
	}

	if sawError {
		if err := s.writeJSON(newAgentErrorFrame("the assistant is temporarily unavailable")); err != nil {
			s.logger.Debug("client write failed", "session_id", s.id, "error", err)
		}
	}
	s.setState(stateListening)
}
