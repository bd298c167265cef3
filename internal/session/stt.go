package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/taskvoice/taskvoice/internal/httpkit"
)

const (
	sttProviderURL  = "wss://api.deepgram.com/v2/listen"
	defaultSTTQuery = "model=flux-general-en&sample_rate=16000&encoding=linear16&eot_threshold=0.9"

	sttConnectAttempts = 3
	sttConnectGap      = 500 * time.Millisecond
)

// Turn event names the STT provider reports in its TurnInfo frames.
const (
	TurnStartOfTurn    = "StartOfTurn"
	TurnUpdate         = "Update"
	TurnEagerEndOfTurn = "EagerEndOfTurn"
	TurnResumed        = "TurnResumed"
	TurnEndOfTurn      = "EndOfTurn"
)

// TurnInfo is one parsed turn event from the STT provider.
type TurnInfo struct {
	Event      string  `json:"event"`
	Transcript string  `json:"transcript"`
	Confidence float64 `json:"confidence"`
}

// sttClient is a session's outbound connection to the STT provider. A
// single goroutine forwards audio through SendAudio while a second reads
// provider frames through Events; gorilla/websocket allows at most one
// concurrent writer and one concurrent reader, which matches that split.
type sttClient struct {
	conn   *websocket.Conn
	connMu sync.Mutex
	logger *slog.Logger
}

// dialSTT connects to the STT provider, retrying up to sttConnectAttempts
// times with a fixed gap between attempts. rawQuery is the client's
// requested query string; an empty string falls back to defaultSTTQuery.
func dialSTT(ctx context.Context, apiKey, rawQuery string, logger *slog.Logger) (*sttClient, error) {
	if rawQuery == "" {
		rawQuery = defaultSTTQuery
	}
	target := sttProviderURL + "?" + rawQuery
	header := http.Header{"Authorization": {"Token " + apiKey}}

	dialer := websocket.Dialer{
		HandshakeTimeout: httpkit.DefaultTLSHandshakeTimeout,
	}

	var lastErr error
	for attempt := 1; attempt <= sttConnectAttempts; attempt++ {
		conn, _, err := dialer.DialContext(ctx, target, header)
		if err == nil {
			return &sttClient{conn: conn, logger: logger}, nil
		}
		lastErr = err
		logger.Warn("stt connect attempt failed", "attempt", attempt, "error", err)
		if attempt == sttConnectAttempts {
			break
		}
		select {
		case <-time.After(sttConnectGap):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("connect to stt provider: %w", lastErr)
}

// SendAudio forwards one binary audio frame to the provider.
func (c *sttClient) SendAudio(frame []byte) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	return c.conn.WriteMessage(websocket.BinaryMessage, frame)
}

// Close tears down the provider connection. Closing unblocks any
// in-progress Events read, which is how the session's stt-consume
// goroutine is asked to stop.
func (c *sttClient) Close() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	return c.conn.Close()
}

// Events reads provider frames until the connection closes. onRaw is
// called with every frame so the caller can relay it to the client
// unchanged; onTurn is called additionally whenever the frame is a
// TurnInfo event.
func (c *sttClient) Events(onRaw func(json.RawMessage), onTurn func(TurnInfo)) error {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return err
		}
		onRaw(json.RawMessage(data))

		var envelope struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(data, &envelope); err != nil || envelope.Type != "TurnInfo" {
			continue
		}
		var ti TurnInfo
		if err := json.Unmarshal(data, &ti); err != nil {
			continue
		}
		onTurn(ti)
	}
}
