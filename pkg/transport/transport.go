// Package transport defines the capability interface every voice backend
// connection implements, and ships the bundled variants:
//
//   - WebSocket: a native-SDK style client speaking the conversational
//     agent protocol over a single websocket.
//   - WebRTC: a browser style client that negotiates a peer connection,
//     streams microphone audio on an RTP track and exchanges events on a
//     data channel.
//   - Mock: a scriptable adapter for tests.
//
// Adapters report lifecycle asynchronously through callbacks. Connect
// returning nil only means the attempt was handed to the backend; the
// session is live once OnConnect fires.
//
// Example usage:
//
//	adapter, err := transport.NewWebSocket(
//	    transport.WithURL("wss://voice.example.com/v1/convai/conversation"),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	adapter.OnConnect(func() { fmt.Println("live") })
//	adapter.OnError(func(err error) { fmt.Println(err) })
//
//	err = adapter.Connect(ctx, transport.ConnectParams{
//	    Token:     token,
//	    SessionID: "s1",
//	})
package transport

import (
	"context"
	"encoding/json"
)

// ConnectParams carries everything an adapter needs to open one session.
type ConnectParams struct {
	// Token is the short-lived authorization credential.
	Token string

	// SessionID correlates the voice session with the caller's session.
	SessionID string

	// InitialContext seeds the agent with conversation context. May be empty.
	InitialContext string

	// Language is the transport-specific language code. Empty means auto.
	Language string
}

// Message is an inbound event surfaced for debugging and telemetry.
type Message struct {
	// Type is the backend event type (e.g. "agent_response").
	Type string `json:"type"`

	// Source is "agent", "user" or "system".
	Source string `json:"source,omitempty"`

	// Text is the human readable payload, if any.
	Text string `json:"text,omitempty"`

	// Raw is the undecoded event.
	Raw json.RawMessage `json:"raw,omitempty"`
}

// Adapter is the capability interface of a voice backend connection.
// Implementations must be pointer types: registries compare adapters by
// identity.
type Adapter interface {
	// Name identifies the variant ("websocket", "webrtc", "mock").
	Name() string

	// Connect opens a session. Success is reported later via OnConnect.
	Connect(ctx context.Context, p ConnectParams) error

	// Disconnect closes the session. It is safe to call when not connected.
	Disconnect(ctx context.Context) error

	// SendText sends a user text message into the conversation.
	SendText(text string) error

	// SendContextualUpdate sends silent context the agent should know about.
	SendContextualUpdate(text string) error

	// SetMicMuted gates outbound microphone audio. It may be called at any
	// time and applies to the current and any later session.
	SetMicMuted(muted bool) error

	// OnConnect is called when the session handshake completes.
	OnConnect(fn func())

	// OnDisconnect is called once when a live or pending session ends.
	OnDisconnect(fn func())

	// OnError is called when the session fails.
	OnError(fn func(err error))

	// OnMessage is called for inbound events (debug/telemetry only).
	OnMessage(fn func(msg Message))
}

// ConnectionState represents the state of an adapter connection.
type ConnectionState int

const (
	// StateDisconnected indicates no active connection.
	StateDisconnected ConnectionState = iota
	// StateConnecting indicates the handshake is in progress.
	StateConnecting
	// StateConnected indicates a live session.
	StateConnected
)

// String returns a human-readable connection state.
func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}
