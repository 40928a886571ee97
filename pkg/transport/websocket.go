package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocket implements Adapter over a single conversational websocket.
type WebSocket struct {
	callbacks

	config *Config
	logger *slog.Logger

	mu             sync.RWMutex
	conn           *websocket.Conn
	state          ConnectionState
	cancel         context.CancelFunc
	epoch          uint64
	sessionID      string
	conversationID string

	// gorilla allows one concurrent writer
	writeMu sync.Mutex

	muted            atomic.Bool
	messagesSent     atomic.Int64
	messagesReceived atomic.Int64
}

// NewWebSocket creates a websocket adapter.
func NewWebSocket(opts ...Option) (*WebSocket, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if _, err := url.Parse(cfg.URL); err != nil {
		return nil, fmt.Errorf("transport.websocket: invalid URL: %w", err)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &WebSocket{
		config: cfg,
		logger: cfg.Logger.With("component", "transport.websocket"),
		state:  StateDisconnected,
	}, nil
}

// Name implements Adapter.
func (w *WebSocket) Name() string { return "websocket" }

// Connect dials the backend and sends the session initiation event.
// OnConnect fires once the backend acknowledges the session.
func (w *WebSocket) Connect(ctx context.Context, p ConnectParams) error {
	if p.Token == "" {
		return ErrMissingToken
	}

	w.mu.Lock()
	if w.state != StateDisconnected {
		w.mu.Unlock()
		return ErrAlreadyConnected
	}
	w.state = StateConnecting
	w.epoch++
	epoch := w.epoch
	w.mu.Unlock()

	conn, err := w.dial(ctx, p)
	if err != nil {
		w.resetIfEpoch(epoch)
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())

	w.mu.Lock()
	if w.epoch != epoch {
		// Disconnect ran while we were dialing.
		w.mu.Unlock()
		cancel()
		conn.Close()
		return NewConnectionError("aborted by disconnect", nil, false)
	}
	w.conn = conn
	w.cancel = cancel
	w.sessionID = p.SessionID
	w.mu.Unlock()

	go w.readLoop(runCtx, conn)
	if w.config.AudioInput != nil {
		go w.pumpAudio(runCtx, w.config.AudioInput)
	}

	w.logger.Info("session initiated", "session_id", p.SessionID, "language", p.Language)
	return nil
}

func (w *WebSocket) dial(ctx context.Context, p ConnectParams) (*websocket.Conn, error) {
	wsURL, err := url.Parse(w.config.URL)
	if err != nil {
		return nil, fmt.Errorf("transport.websocket: invalid URL: %w", err)
	}
	if w.config.TokenParam != "" {
		q := wsURL.Query()
		q.Set(w.config.TokenParam, p.Token)
		wsURL.RawQuery = q.Encode()
	}

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+p.Token)

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: w.config.Timeout,
	}

	w.logger.Debug("dialing voice backend", "host", wsURL.Host, "session_id", p.SessionID)

	conn, resp, err := dialer.DialContext(ctx, wsURL.String(), headers)
	if err != nil {
		if resp != nil {
			return nil, NewConnectionError(
				fmt.Sprintf("dial failed with status %d", resp.StatusCode),
				err,
				resp.StatusCode >= 500,
			)
		}
		return nil, NewConnectionError("dial failed", err, true)
	}

	hello, err := encodeInitiation(p)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("transport.websocket: marshal initiation: %w", err)
	}
	if err := w.writeTo(conn, hello); err != nil {
		conn.Close()
		return nil, NewConnectionError("send initiation failed", err, true)
	}

	return conn, nil
}

func (w *WebSocket) resetIfEpoch(epoch uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.epoch == epoch {
		w.state = StateDisconnected
	}
}

// Disconnect closes the session and fires OnDisconnect. The local socket is
// always released; an error is returned only when ctx is already done.
func (w *WebSocket) Disconnect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	w.mu.Lock()
	if w.state == StateDisconnected {
		w.mu.Unlock()
		return nil
	}
	conn := w.conn
	cancel := w.cancel
	w.conn = nil
	w.cancel = nil
	w.state = StateDisconnected
	w.epoch++
	w.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	if conn != nil {
		deadline := time.Now().Add(time.Second)
		if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
			deadline = d
		}
		if err := conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			deadline,
		); err != nil {
			w.logger.Debug("close handshake failed", "error", err)
		}
		conn.Close()
	}

	w.logger.Info("disconnected from voice backend")
	w.emitDisconnect()
	return nil
}

// SendText implements Adapter.
func (w *WebSocket) SendText(text string) error {
	data, err := encodeText(eventUserMessage, text)
	if err != nil {
		return fmt.Errorf("transport.websocket: marshal failed: %w", err)
	}
	return w.send(data)
}

// SendContextualUpdate implements Adapter.
func (w *WebSocket) SendContextualUpdate(text string) error {
	data, err := encodeText(eventContextualUpdate, text)
	if err != nil {
		return fmt.Errorf("transport.websocket: marshal failed: %w", err)
	}
	return w.send(data)
}

// SendAudio streams one PCM16 chunk. Chunks are dropped while muted.
func (w *WebSocket) SendAudio(pcm []byte) error {
	if w.muted.Load() {
		return nil
	}
	data, err := encodeAudioChunk(pcm)
	if err != nil {
		return fmt.Errorf("transport.websocket: marshal failed: %w", err)
	}
	return w.send(data)
}

// SetMicMuted implements Adapter.
func (w *WebSocket) SetMicMuted(muted bool) error {
	w.muted.Store(muted)
	w.logger.Debug("microphone mute changed", "muted", muted)
	return nil
}

// Muted reports whether outbound audio is gated.
func (w *WebSocket) Muted() bool {
	return w.muted.Load()
}

// State returns the connection state.
func (w *WebSocket) State() ConnectionState {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state
}

// ConversationID returns the backend conversation id once connected.
func (w *WebSocket) ConversationID() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.conversationID
}

// Stats returns message counters.
func (w *WebSocket) Stats() (sent, received int64) {
	return w.messagesSent.Load(), w.messagesReceived.Load()
}

func (w *WebSocket) send(data []byte) error {
	w.mu.RLock()
	conn := w.conn
	state := w.state
	w.mu.RUnlock()

	if state != StateConnected || conn == nil {
		return ErrNotConnected
	}
	return w.writeTo(conn, data)
}

func (w *WebSocket) writeTo(conn *websocket.Conn, data []byte) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	_ = conn.SetWriteDeadline(time.Now().Add(w.config.WriteTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("%w: %w", ErrSendFailed, err)
	}
	w.messagesSent.Add(1)
	return nil
}

func (w *WebSocket) pumpAudio(ctx context.Context, in <-chan []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case chunk, ok := <-in:
			if !ok {
				return
			}
			if err := w.SendAudio(chunk); err != nil && !IsNotConnected(err) {
				w.logger.Debug("audio chunk dropped", "error", err)
			}
		}
	}
}

// readLoop processes inbound messages until the socket closes.
func (w *WebSocket) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_ = conn.SetReadDeadline(time.Now().Add(w.config.ReadTimeout))

		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				w.logger.Info("connection closed by backend")
				w.teardown(conn, nil)
				return
			}
			w.logger.Error("read error", "error", err)
			w.teardown(conn, NewConnectionError("read failed", err, true))
			return
		}

		w.messagesReceived.Add(1)

		var ev incomingEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			w.logger.Warn("failed to parse message", "error", err)
			continue
		}
		w.handleEvent(conn, ev, data)
	}
}

// teardown releases conn if it is still the live one and reports why.
func (w *WebSocket) teardown(conn *websocket.Conn, cause error) {
	w.mu.Lock()
	if w.conn != conn {
		w.mu.Unlock()
		return
	}
	if w.cancel != nil {
		w.cancel()
	}
	w.conn = nil
	w.cancel = nil
	w.state = StateDisconnected
	w.epoch++
	w.mu.Unlock()

	conn.Close()

	if cause != nil {
		w.emitError(cause)
		return
	}
	w.emitDisconnect()
}

func (w *WebSocket) handleEvent(conn *websocket.Conn, ev incomingEvent, raw []byte) {
	switch ev.Type {
	case eventInitiationMetadata:
		w.mu.Lock()
		ready := w.conn == conn && w.state == StateConnecting
		if ready {
			w.state = StateConnected
			if ev.InitiationMetadata != nil {
				w.conversationID = ev.InitiationMetadata.ConversationID
			}
		}
		w.mu.Unlock()
		if ready {
			w.logger.Info("connected to voice backend", "conversation_id", w.ConversationID())
			w.emitConnect()
		}

	case eventPing:
		eventID := 0
		if ev.PingEvent != nil {
			eventID = ev.PingEvent.EventID
		}
		data, _ := encodePong(eventID)
		if err := w.writeTo(conn, data); err != nil {
			w.logger.Debug("pong failed", "error", err)
		}

	case eventAudio:
		audio, err := decodeAudio(ev)
		if err != nil {
			w.logger.Warn("failed to decode audio", "error", err)
			return
		}
		if len(audio) > 0 {
			w.emitAudio(audio)
		}

	case eventError:
		w.emitMessage(toMessage(ev, raw))
		w.emitError(&APIError{Code: ev.Code, Message: ev.Message})

	default:
		w.emitMessage(toMessage(ev, raw))
	}
}

// Ensure WebSocket implements Adapter.
var _ Adapter = (*WebSocket)(nil)
