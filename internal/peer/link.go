package peer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/matcha-chat/realtime/internal/signal"
)

// Envelope type tags used on the signaling channel.
const (
	signalOffer     = "offer"
	signalAnswer    = "answer"
	signalCandidate = "candidate"
)

// iceGatherTimeout caps the wait for candidate gathering before a
// description is published.
const iceGatherTimeout = 15 * time.Second

// dataChannelLabel names the single chat data channel on the link.
const dataChannelLabel = "chat"

// ErrClosed is returned by operations on a closed link.
var ErrClosed = errors.New("peer: link closed")

// ErrNotReady is returned by Send before the data channel opens.
var ErrNotReady = errors.New("peer: data channel not open")

// Sender publishes signaling envelopes to the partner.
// Satisfied by *signal.Relay.
type Sender interface {
	Send(ctx context.Context, env signal.Envelope) error
}

// Config holds link settings.
type Config struct {
	// ICEServers are STUN/TURN URLs used for candidate gathering.
	// Empty means host candidates only.
	ICEServers []string
}

// sessionDescription is the SDP payload carried in an envelope's data
// field.
type sessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// Link is a data channel connection to one matched partner.
type Link struct {
	sender  Sender
	partner string
	cfg     Config
	logger  *slog.Logger

	mu      sync.Mutex
	pc      *webrtc.PeerConnection
	channel *webrtc.DataChannel
	onData  func([]byte)

	ready     chan struct{}
	readyOnce sync.Once
	closed    chan struct{}
	closeOnce sync.Once
}

// NewLink creates a link to the partner identified by partnerLoginID.
// Start must be called before the link carries data.
func NewLink(sender Sender, partnerLoginID string, cfg Config, logger *slog.Logger) *Link {
	if logger == nil {
		logger = slog.Default()
	}
	return &Link{
		sender:  sender,
		partner: partnerLoginID,
		cfg:     cfg,
		logger:  logger.With("partner", partnerLoginID),
		ready:   make(chan struct{}),
		closed:  make(chan struct{}),
	}
}

// OnData registers the inbound message handler. Must be called before
// Start.
func (l *Link) OnData(h func([]byte)) {
	l.mu.Lock()
	l.onData = h
	l.mu.Unlock()
}

// Ready is closed when the data channel opens.
func (l *Link) Ready() <-chan struct{} {
	return l.ready
}

// Start builds the peer connection. When createOffer is true this side
// originates: it opens the data channel, gathers candidates, and
// publishes the offer. Otherwise it waits for the partner's offer to
// arrive via HandleSignal.
func (l *Link) Start(ctx context.Context, createOffer bool) error {
	pc, err := l.newPeerConnection()
	if err != nil {
		return fmt.Errorf("creating peer connection: %w", err)
	}

	l.mu.Lock()
	l.pc = pc
	l.mu.Unlock()

	if !createOffer {
		// Answerer side: the partner opens the channel.
		pc.OnDataChannel(func(dc *webrtc.DataChannel) {
			l.attachChannel(dc)
		})
		return nil
	}

	dc, err := pc.CreateDataChannel(dataChannelLabel, nil)
	if err != nil {
		return fmt.Errorf("creating data channel: %w", err)
	}
	l.attachChannel(dc)

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("creating offer: %w", err)
	}

	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("setting local description: %w", err)
	}

	select {
	case <-gatherComplete:
	case <-time.After(iceGatherTimeout):
		return fmt.Errorf("candidate gathering timed out after %s", iceGatherTimeout)
	case <-ctx.Done():
		return ctx.Err()
	case <-l.closed:
		return ErrClosed
	}

	if err := l.sendDescription(ctx, signalOffer, pc.LocalDescription()); err != nil {
		return fmt.Errorf("publishing offer: %w", err)
	}

	l.logger.Info("offer published")
	return nil
}

// HandleSignal applies an inbound signaling envelope addressed to this
// link. Envelopes from other senders are ignored.
func (l *Link) HandleSignal(ctx context.Context, env signal.Envelope) error {
	if env.SenderLoginID != "" && env.SenderLoginID != l.partner {
		return nil
	}

	l.mu.Lock()
	pc := l.pc
	l.mu.Unlock()
	if pc == nil {
		return errors.New("peer: link not started")
	}

	switch env.Type {
	case signalOffer:
		return l.handleOffer(ctx, pc, env.Data)
	case signalAnswer:
		return l.handleAnswer(pc, env.Data)
	case signalCandidate:
		return l.handleCandidate(pc, env.Data)
	default:
		l.logger.Debug("unrecognized signal type", "type", env.Type)
		return nil
	}
}

// Send writes data to the partner over the open data channel.
func (l *Link) Send(data []byte) error {
	select {
	case <-l.closed:
		return ErrClosed
	default:
	}

	l.mu.Lock()
	dc := l.channel
	l.mu.Unlock()
	if dc == nil || dc.ReadyState() != webrtc.DataChannelStateOpen {
		return ErrNotReady
	}
	return dc.Send(data)
}

// Close tears down the peer connection. Idempotent.
func (l *Link) Close() error {
	l.closeOnce.Do(func() {
		close(l.closed)
	})

	l.mu.Lock()
	pc := l.pc
	l.pc = nil
	l.channel = nil
	l.mu.Unlock()

	if pc != nil {
		return pc.Close()
	}
	return nil
}

func (l *Link) handleOffer(ctx context.Context, pc *webrtc.PeerConnection, data json.RawMessage) error {
	var desc sessionDescription
	if err := json.Unmarshal(data, &desc); err != nil {
		return fmt.Errorf("decoding offer: %w", err)
	}

	remote := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: desc.SDP}
	if err := pc.SetRemoteDescription(remote); err != nil {
		return fmt.Errorf("setting remote offer: %w", err)
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("creating answer: %w", err)
	}

	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("setting local description: %w", err)
	}

	select {
	case <-gatherComplete:
	case <-time.After(iceGatherTimeout):
		return fmt.Errorf("candidate gathering timed out after %s", iceGatherTimeout)
	case <-ctx.Done():
		return ctx.Err()
	case <-l.closed:
		return ErrClosed
	}

	if err := l.sendDescription(ctx, signalAnswer, pc.LocalDescription()); err != nil {
		return fmt.Errorf("publishing answer: %w", err)
	}

	l.logger.Info("answer published")
	return nil
}

func (l *Link) handleAnswer(pc *webrtc.PeerConnection, data json.RawMessage) error {
	var desc sessionDescription
	if err := json.Unmarshal(data, &desc); err != nil {
		return fmt.Errorf("decoding answer: %w", err)
	}
	remote := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: desc.SDP}
	if err := pc.SetRemoteDescription(remote); err != nil {
		return fmt.Errorf("setting remote answer: %w", err)
	}
	return nil
}

func (l *Link) handleCandidate(pc *webrtc.PeerConnection, data json.RawMessage) error {
	var candidate webrtc.ICECandidateInit
	if err := json.Unmarshal(data, &candidate); err != nil {
		return fmt.Errorf("decoding candidate: %w", err)
	}
	if pc.RemoteDescription() == nil {
		// Trickled candidate arriving before the description; with
		// complete gathering on our side this should not happen, drop it.
		l.logger.Debug("candidate before remote description, dropped")
		return nil
	}
	return pc.AddICECandidate(candidate)
}

func (l *Link) sendDescription(ctx context.Context, kind string, desc *webrtc.SessionDescription) error {
	data, err := json.Marshal(sessionDescription{Type: kind, SDP: desc.SDP})
	if err != nil {
		return err
	}
	return l.sender.Send(ctx, signal.Envelope{
		Type:            kind,
		ReceiverLoginID: l.partner,
		Data:            data,
	})
}

func (l *Link) attachChannel(dc *webrtc.DataChannel) {
	l.mu.Lock()
	l.channel = dc
	handler := l.onData
	l.mu.Unlock()

	dc.OnOpen(func() {
		l.logger.Info("data channel open", "label", dc.Label())
		l.readyOnce.Do(func() { close(l.ready) })
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		if handler != nil {
			handler(msg.Data)
		}
	})
	dc.OnClose(func() {
		l.logger.Info("data channel closed", "label", dc.Label())
	})
}

// newPeerConnection builds a pion connection with loopback candidates
// enabled so same-host links work in test environments.
func (l *Link) newPeerConnection() (*webrtc.PeerConnection, error) {
	var servers []webrtc.ICEServer
	for _, url := range l.cfg.ICEServers {
		servers = append(servers, webrtc.ICEServer{URLs: []string{url}})
	}

	settingEngine := webrtc.SettingEngine{}
	settingEngine.SetIncludeLoopbackCandidate(true)

	api := webrtc.NewAPI(webrtc.WithSettingEngine(settingEngine))
	return api.NewPeerConnection(webrtc.Configuration{ICEServers: servers})
}
