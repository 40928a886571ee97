package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media"

	"github.com/teslashibe/voicelink/internal/httpc"
)

const eventsChannelLabel = "events"

// WebRTC implements Adapter with a peer connection: microphone audio goes
// out on an Opus track, agent audio arrives on the remote track, and
// protocol events travel on a data channel.
type WebRTC struct {
	callbacks

	config *Config
	logger *slog.Logger
	client *http.Client

	mu     sync.RWMutex
	pc     *webrtc.PeerConnection
	dc     *webrtc.DataChannel
	track  *webrtc.TrackLocalStaticSample
	state  ConnectionState
	cancel context.CancelFunc
	epoch  uint64

	muted           atomic.Bool
	packetsReceived atomic.Int64
	framesSent      atomic.Int64
}

// NewWebRTC creates a WebRTC adapter whose URL is the SDP signaling endpoint.
func NewWebRTC(opts ...Option) (*WebRTC, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.FrameDuration <= 0 {
		cfg.FrameDuration = 20 * time.Millisecond
	}

	client := cfg.HTTPClient
	if client == nil {
		client = httpc.Client
	}

	return &WebRTC{
		config: cfg,
		logger: cfg.Logger.With("component", "transport.webrtc"),
		client: client,
		state:  StateDisconnected,
	}, nil
}

// Name implements Adapter.
func (r *WebRTC) Name() string { return "webrtc" }

// Connect negotiates a peer connection through the signaling endpoint.
// OnConnect fires when the events channel opens.
func (r *WebRTC) Connect(ctx context.Context, p ConnectParams) error {
	if p.Token == "" {
		return ErrMissingToken
	}

	r.mu.Lock()
	if r.state != StateDisconnected {
		r.mu.Unlock()
		return ErrAlreadyConnected
	}
	r.state = StateConnecting
	r.epoch++
	epoch := r.epoch
	r.mu.Unlock()

	if r.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.config.Timeout)
		defer cancel()
	}

	pc, track, dc, err := r.newPeer(epoch, p)
	if err != nil {
		r.resetIfEpoch(epoch)
		return NewConnectionError("create peer connection", err, false)
	}

	answer, err := r.negotiate(ctx, pc, p.Token)
	if err != nil {
		pc.Close()
		r.resetIfEpoch(epoch)
		return err
	}

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: answer}); err != nil {
		pc.Close()
		r.resetIfEpoch(epoch)
		return NewConnectionError("apply answer", fmt.Errorf("%w: %w", ErrHandshakeFailed, err), false)
	}

	runCtx, cancel := context.WithCancel(context.Background())

	r.mu.Lock()
	if r.epoch != epoch {
		r.mu.Unlock()
		cancel()
		pc.Close()
		return NewConnectionError("aborted by disconnect", nil, false)
	}
	r.pc = pc
	r.dc = dc
	r.track = track
	r.cancel = cancel
	r.mu.Unlock()

	if r.config.AudioInput != nil {
		go r.pumpAudio(runCtx, track, r.config.AudioInput)
	}

	r.logger.Info("peer negotiated", "session_id", p.SessionID, "language", p.Language)
	return nil
}

// newPeer builds the peer connection, local audio track and events channel.
func (r *WebRTC) newPeer(epoch uint64, p ConnectParams) (*webrtc.PeerConnection, *webrtc.TrackLocalStaticSample, *webrtc.DataChannel, error) {
	cfg := webrtc.Configuration{}
	if len(r.config.ICEServers) > 0 {
		cfg.ICEServers = []webrtc.ICEServer{{URLs: r.config.ICEServers}}
	}

	pc, err := webrtc.NewPeerConnection(cfg)
	if err != nil {
		return nil, nil, nil, err
	}

	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		"audio", "voicelink",
	)
	if err != nil {
		pc.Close()
		return nil, nil, nil, err
	}

	sender, err := pc.AddTrack(track)
	if err != nil {
		pc.Close()
		return nil, nil, nil, err
	}

	// Drain RTCP so interceptors keep running.
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()

	dc, err := pc.CreateDataChannel(eventsChannelLabel, nil)
	if err != nil {
		pc.Close()
		return nil, nil, nil, err
	}

	dc.OnOpen(func() {
		r.handleChannelOpen(epoch, dc, p)
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		if !r.isEpoch(epoch) {
			return
		}
		r.handleData(msg.Data)
	})

	pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if remote.Kind() != webrtc.RTPCodecTypeAudio {
			return
		}
		r.logger.Debug("remote audio track", "codec", remote.Codec().MimeType)
		go r.readRemoteAudio(epoch, remote)
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		r.handlePeerState(epoch, pc, s)
	})

	return pc, track, dc, nil
}

// negotiate creates the offer, waits for ICE gathering and exchanges SDP.
func (r *WebRTC) negotiate(ctx context.Context, pc *webrtc.PeerConnection, token string) (string, error) {
	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return "", NewConnectionError("create offer", err, false)
	}

	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		return "", NewConnectionError("set local description", err, false)
	}

	select {
	case <-gathered:
	case <-ctx.Done():
		return "", NewConnectionError("ice gathering", ctx.Err(), true)
	}

	return r.exchange(ctx, token, pc.LocalDescription().SDP)
}

// exchange posts the offer SDP and returns the answer SDP.
func (r *WebRTC) exchange(ctx context.Context, token, offer string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.config.URL, strings.NewReader(offer))
	if err != nil {
		return "", NewConnectionError("build signaling request", err, false)
	}
	req.Header.Set("Content-Type", "application/sdp")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := httpc.Do(ctx, r.client, req)
	if err != nil {
		return "", NewConnectionError("signaling request", err, true)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", NewConnectionError("read signaling answer", err, true)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", NewConnectionError(
			fmt.Sprintf("signaling failed with status %d", resp.StatusCode),
			fmt.Errorf("%w: %s", ErrHandshakeFailed, strings.TrimSpace(string(body))),
			resp.StatusCode >= 500,
		)
	}
	return string(body), nil
}

func (r *WebRTC) handleChannelOpen(epoch uint64, dc *webrtc.DataChannel, p ConnectParams) {
	hello, err := encodeInitiation(p)
	if err == nil {
		err = dc.SendText(string(hello))
	}
	if err != nil {
		r.finish(epoch, NewConnectionError("send initiation failed", err, true))
		return
	}

	r.mu.Lock()
	ready := r.epoch == epoch && r.state == StateConnecting
	if ready {
		r.state = StateConnected
	}
	r.mu.Unlock()

	if ready {
		r.logger.Info("connected to voice backend")
		r.emitConnect()
	}
}

func (r *WebRTC) handlePeerState(epoch uint64, pc *webrtc.PeerConnection, s webrtc.PeerConnectionState) {
	r.logger.Debug("peer connection state", "state", s.String())
	switch s {
	case webrtc.PeerConnectionStateFailed:
		r.finish(epoch, NewConnectionError("peer connection failed", nil, true))
	case webrtc.PeerConnectionStateClosed:
		r.finish(epoch, nil)
	}
}

func (r *WebRTC) handleData(data []byte) {
	var ev incomingEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		r.logger.Warn("failed to parse message", "error", err)
		return
	}

	switch ev.Type {
	case eventPing:
		eventID := 0
		if ev.PingEvent != nil {
			eventID = ev.PingEvent.EventID
		}
		pong, _ := encodePong(eventID)
		if err := r.send(pong); err != nil {
			r.logger.Debug("pong failed", "error", err)
		}
	case eventError:
		r.emitMessage(toMessage(ev, data))
		r.emitError(&APIError{Code: ev.Code, Message: ev.Message})
	default:
		r.emitMessage(toMessage(ev, data))
	}
}

func (r *WebRTC) readRemoteAudio(epoch uint64, remote *webrtc.TrackRemote) {
	for {
		pkt, _, err := remote.ReadRTP()
		if err != nil {
			return
		}
		if !r.isEpoch(epoch) {
			return
		}
		r.handleRTP(pkt)
	}
}

func (r *WebRTC) handleRTP(pkt *rtp.Packet) {
	r.packetsReceived.Add(1)
	if len(pkt.Payload) == 0 {
		return
	}
	r.emitAudio(pkt.Payload)
}

func (r *WebRTC) pumpAudio(ctx context.Context, track *webrtc.TrackLocalStaticSample, in <-chan []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-in:
			if !ok {
				return
			}
			if r.muted.Load() {
				continue
			}
			if err := track.WriteSample(media.Sample{Data: frame, Duration: r.config.FrameDuration}); err != nil {
				if errors.Is(err, io.ErrClosedPipe) {
					return
				}
				r.logger.Debug("audio frame dropped", "error", err)
				continue
			}
			r.framesSent.Add(1)
		}
	}
}

// finish releases the peer for epoch if it is still live and reports cause
// through OnError, or OnDisconnect when cause is nil.
func (r *WebRTC) finish(epoch uint64, cause error) {
	r.mu.Lock()
	if r.epoch != epoch || r.state == StateDisconnected {
		r.mu.Unlock()
		return
	}
	pc := r.pc
	cancel := r.cancel
	r.pc, r.dc, r.track, r.cancel = nil, nil, nil, nil
	r.state = StateDisconnected
	r.epoch++
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if pc != nil {
		go pc.Close()
	}

	if cause != nil {
		r.emitError(cause)
		return
	}
	r.emitDisconnect()
}

// Disconnect closes the peer connection and fires OnDisconnect.
func (r *WebRTC) Disconnect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	if r.state == StateDisconnected {
		r.mu.Unlock()
		return nil
	}
	pc := r.pc
	cancel := r.cancel
	r.pc, r.dc, r.track, r.cancel = nil, nil, nil, nil
	r.state = StateDisconnected
	r.epoch++
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	var err error
	if pc != nil {
		if cerr := pc.Close(); cerr != nil {
			err = NewConnectionError("close peer connection", cerr, false)
		}
	}

	r.logger.Info("disconnected from voice backend")
	r.emitDisconnect()
	return err
}

// SendText implements Adapter.
func (r *WebRTC) SendText(text string) error {
	data, err := encodeText(eventUserMessage, text)
	if err != nil {
		return fmt.Errorf("transport.webrtc: marshal failed: %w", err)
	}
	return r.send(data)
}

// SendContextualUpdate implements Adapter.
func (r *WebRTC) SendContextualUpdate(text string) error {
	data, err := encodeText(eventContextualUpdate, text)
	if err != nil {
		return fmt.Errorf("transport.webrtc: marshal failed: %w", err)
	}
	return r.send(data)
}

// SetMicMuted implements Adapter. Muted frames are never written to the track.
func (r *WebRTC) SetMicMuted(muted bool) error {
	r.muted.Store(muted)
	r.logger.Debug("microphone mute changed", "muted", muted)
	return nil
}

// Muted reports whether outbound audio is gated.
func (r *WebRTC) Muted() bool {
	return r.muted.Load()
}

// State returns the connection state.
func (r *WebRTC) State() ConnectionState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// Stats returns audio counters.
func (r *WebRTC) Stats() (framesSent, packetsReceived int64) {
	return r.framesSent.Load(), r.packetsReceived.Load()
}

func (r *WebRTC) send(data []byte) error {
	r.mu.RLock()
	dc := r.dc
	state := r.state
	r.mu.RUnlock()

	if state != StateConnected || dc == nil {
		return ErrNotConnected
	}
	if err := dc.SendText(string(data)); err != nil {
		return fmt.Errorf("%w: %w", ErrSendFailed, err)
	}
	return nil
}

func (r *WebRTC) resetIfEpoch(epoch uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.epoch == epoch {
		r.state = StateDisconnected
	}
}

func (r *WebRTC) isEpoch(epoch uint64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.epoch == epoch
}

// Ensure WebRTC implements Adapter.
var _ Adapter = (*WebRTC)(nil)
