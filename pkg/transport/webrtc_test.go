package transport

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pion/rtp"
)

func TestNewWebRTCRequiresURL(t *testing.T) {
	if _, err := NewWebRTC(); !errors.Is(err, ErrMissingURL) {
		t.Fatalf("expected ErrMissingURL, got %v", err)
	}
}

func TestWebRTCSignalingRejected(t *testing.T) {
	var gotAuth, gotType string
	var gotOffer []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotType = r.Header.Get("Content-Type")
		gotOffer, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte("session not allowed"))
	}))
	defer srv.Close()

	rtc, err := NewWebRTC(WithURL(srv.URL), WithICEServers(), WithTimeout(5*time.Second), WithHTTPClient(srv.Client()))
	if err != nil {
		t.Fatal(err)
	}

	err = rtc.Connect(context.Background(), ConnectParams{Token: "tok", SessionID: "s1"})
	if !errors.Is(err, ErrHandshakeFailed) {
		t.Fatalf("expected ErrHandshakeFailed, got %v", err)
	}
	var connErr *ConnectionError
	if !errors.As(err, &connErr) || connErr.Retryable {
		t.Errorf("expected non-retryable ConnectionError, got %v", err)
	}
	if gotAuth != "Bearer tok" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotType != "application/sdp" {
		t.Errorf("Content-Type = %q", gotType)
	}
	if len(gotOffer) == 0 {
		t.Error("offer SDP not sent")
	}
	if rtc.State() != StateDisconnected {
		t.Errorf("state = %s, want disconnected", rtc.State())
	}
}

func TestWebRTCNotConnected(t *testing.T) {
	rtc, err := NewWebRTC(WithURL("http://127.0.0.1:1/sdp"))
	if err != nil {
		t.Fatal(err)
	}

	if err := rtc.SendText("hi"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
	if err := rtc.SendContextualUpdate("ctx"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
	if err := rtc.Connect(context.Background(), ConnectParams{SessionID: "s1"}); !errors.Is(err, ErrMissingToken) {
		t.Errorf("expected ErrMissingToken, got %v", err)
	}
	if err := rtc.Disconnect(context.Background()); err != nil {
		t.Errorf("disconnect while idle: %v", err)
	}
}

func TestWebRTCMuteAndRemoteAudio(t *testing.T) {
	rtc, err := NewWebRTC(WithURL("http://127.0.0.1:1/sdp"))
	if err != nil {
		t.Fatal(err)
	}

	_ = rtc.SetMicMuted(true)
	if !rtc.Muted() {
		t.Error("expected muted")
	}
	_ = rtc.SetMicMuted(false)
	if rtc.Muted() {
		t.Error("expected unmuted")
	}

	var got []byte
	rtc.OnAudio(func(a []byte) { got = a })
	rtc.handleRTP(&rtp.Packet{Header: rtp.Header{SequenceNumber: 1}, Payload: []byte{9, 9}})
	rtc.handleRTP(&rtp.Packet{Header: rtp.Header{SequenceNumber: 2}})

	if len(got) != 2 {
		t.Errorf("audio payload = %v", got)
	}
	if _, received := rtc.Stats(); received != 2 {
		t.Errorf("packets received = %d", received)
	}
}

func TestWebRTCDataEvents(t *testing.T) {
	rtc, err := NewWebRTC(WithURL("http://127.0.0.1:1/sdp"))
	if err != nil {
		t.Fatal(err)
	}

	var msgs []Message
	var gotErr error
	rtc.OnMessage(func(m Message) { msgs = append(msgs, m) })
	rtc.OnError(func(err error) { gotErr = err })

	rtc.handleData([]byte(`{"type":"user_transcript","user_transcription_event":{"user_transcript":"hello"}}`))
	rtc.handleData([]byte(`{"type":"error","code":"quota","message":"limit"}`))
	rtc.handleData([]byte(`not json`))

	if len(msgs) != 2 || msgs[0].Text != "hello" {
		t.Errorf("messages = %+v", msgs)
	}
	var apiErr *APIError
	if !errors.As(gotErr, &apiErr) || apiErr.Code != "quota" {
		t.Errorf("error = %v", gotErr)
	}
}
