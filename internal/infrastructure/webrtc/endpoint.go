package webrtc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"rillcall/internal/core/domain"
	"rillcall/internal/core/ports"

	"github.com/google/uuid"
	"github.com/pion/interceptor"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"
)

const hangupTimeout = 2 * time.Second

type Config struct {
	ICEServers []webrtc.ICEServer
	PortRange  struct {
		Min uint16
		Max uint16
	}
	GatherTimeout time.Duration
	// IncludeLoopback offers 127.0.0.1 candidates; only useful for same-host peers.
	IncludeLoopback bool
	// RegisterCodecs populates the media engine; defaults to pion's codec set.
	RegisterCodecs func(*webrtc.MediaEngine) error
}

// senderBinder is implemented by local tracks that follow enable toggles
// through their RTP senders.
type senderBinder interface {
	LocalTrack() webrtc.TrackLocal
	Attach(sender *webrtc.RTPSender) error
}

// Factory opens peer endpoints that negotiate pion peer connections over a Relay.
type Factory struct {
	api    *webrtc.API
	cfg    Config
	relay  Relay
	logger *zap.SugaredLogger
}

var _ ports.EndpointFactory = (*Factory)(nil)

func NewFactory(cfg Config, relay Relay, logger *zap.SugaredLogger) (*Factory, error) {
	if cfg.GatherTimeout <= 0 {
		cfg.GatherTimeout = 5 * time.Second
	}

	mediaEngine := &webrtc.MediaEngine{}
	register := cfg.RegisterCodecs
	if register == nil {
		register = (*webrtc.MediaEngine).RegisterDefaultCodecs
	}
	if err := register(mediaEngine); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	interceptorRegistry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, interceptorRegistry); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	settingEngine := webrtc.SettingEngine{}
	if cfg.PortRange.Min > 0 && cfg.PortRange.Max > 0 {
		if err := settingEngine.SetEphemeralUDPPortRange(cfg.PortRange.Min, cfg.PortRange.Max); err != nil {
			return nil, fmt.Errorf("port range: %w", err)
		}
	}
	// Ride out short NAT or relay hiccups instead of dropping the call.
	settingEngine.SetICETimeouts(30*time.Second, 120*time.Second, 2*time.Second)
	settingEngine.SetIncludeLoopbackCandidate(cfg.IncludeLoopback)

	return &Factory{
		api: webrtc.NewAPI(
			webrtc.WithMediaEngine(mediaEngine),
			webrtc.WithInterceptorRegistry(interceptorRegistry),
			webrtc.WithSettingEngine(settingEngine),
		),
		cfg:    cfg,
		relay:  relay,
		logger: logger,
	}, nil
}

func (f *Factory) Open(ctx context.Context, id domain.PeerID) (ports.PeerEndpoint, error) {
	sub, err := f.relay.Subscribe(ctx, id)
	if err != nil {
		return nil, err
	}

	e := &Endpoint{
		id:       id,
		factory:  f,
		sub:      sub,
		incoming: make(chan ports.CallHandle, 16),
		handles:  make(map[string]*callHandle),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		logger:   f.logger.With("peer_id", id),
	}
	go e.dispatch()
	return e, nil
}

func (f *Factory) newPeerConnection() (*webrtc.PeerConnection, error) {
	return f.api.NewPeerConnection(webrtc.Configuration{
		ICEServers:   f.cfg.ICEServers,
		SDPSemantics: webrtc.SDPSemanticsUnifiedPlan,
	})
}

// Endpoint is one addressable peer ID on the relay.
type Endpoint struct {
	id      domain.PeerID
	factory *Factory
	sub     Subscription

	incoming chan ports.CallHandle

	mu      sync.Mutex
	handles map[string]*callHandle
	closed  bool

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	logger *zap.SugaredLogger
}

var _ ports.PeerEndpoint = (*Endpoint)(nil)

func (e *Endpoint) ID() domain.PeerID                 { return e.id }
func (e *Endpoint) Incoming() <-chan ports.CallHandle { return e.incoming }

func (e *Endpoint) dispatch() {
	defer close(e.done)
	defer close(e.incoming)

	for {
		select {
		case <-e.stop:
			return
		case env, ok := <-e.sub.Envelopes():
			if !ok {
				e.logger.Warn("relay subscription closed")
				e.failAll(fmt.Errorf("%w: relay closed", domain.ErrSignalingUnreachable))
				return
			}
			e.route(env)
		}
	}
}

func (e *Endpoint) route(env Envelope) {
	switch env.Type {
	case SignalOffer:
		h, ok := e.acceptOffer(env)
		if !ok {
			return
		}
		select {
		case e.incoming <- h:
		case <-e.stop:
			_ = h.Close()
		}

	case SignalAnswer:
		if h := e.lookup(env.CallID); h != nil {
			h.applyAnswer(env.SDP)
		}

	case SignalHangup:
		if h := e.lookup(env.CallID); h != nil {
			h.finish(&domain.CallEvent{Type: domain.CallEventClose})
		}

	default:
		e.logger.Debugw("ignoring unknown relay envelope", "type", env.Type, "from", env.From)
	}
}

func (e *Endpoint) acceptOffer(env Envelope) (*callHandle, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, false
	}
	if _, dup := e.handles[env.CallID]; dup || env.CallID == "" {
		return nil, false
	}

	var md domain.CallMetadata
	if env.Metadata != nil {
		md = *env.Metadata
	}
	h := newCallHandle(e, env.CallID, env.From, md, false)
	h.offer = env.SDP
	e.handles[h.id] = h
	return h, true
}

func (e *Endpoint) lookup(callID string) *callHandle {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.handles[callID]
}

func (e *Endpoint) forget(callID string) {
	e.mu.Lock()
	delete(e.handles, callID)
	e.mu.Unlock()
}

func (e *Endpoint) failAll(err error) {
	e.mu.Lock()
	handles := make([]*callHandle, 0, len(e.handles))
	for _, h := range e.handles {
		handles = append(handles, h)
	}
	e.mu.Unlock()

	for _, h := range handles {
		h.finish(&domain.CallEvent{Type: domain.CallEventError, Err: err})
	}
}

// Call dials remote with the local stream attached. It returns once the offer
// is delivered; the answer arrives asynchronously.
func (e *Endpoint) Call(ctx context.Context, remote domain.PeerID, stream ports.LocalStream, md domain.CallMetadata) (ports.CallHandle, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: endpoint closed", domain.ErrSignalingUnreachable)
	}
	h := newCallHandle(e, uuid.NewString(), remote, md, true)
	e.handles[h.id] = h
	e.mu.Unlock()

	offer, err := h.negotiateOffer(ctx, stream)
	if err != nil {
		h.abort()
		return nil, err
	}

	err = e.factory.relay.Publish(ctx, remote, Envelope{
		Type:     SignalOffer,
		From:     e.id,
		CallID:   h.id,
		SDP:      offer,
		Metadata: &md,
	})
	if err != nil {
		h.abort()
		return nil, err
	}

	e.logger.Debugw("offer sent", "call_id", h.id, "remote", remote)
	return h, nil
}

// Close hangs up every handle and stops listening on the relay.
func (e *Endpoint) Close() error {
	e.mu.Lock()
	e.closed = true
	handles := make([]*callHandle, 0, len(e.handles))
	for _, h := range e.handles {
		handles = append(handles, h)
	}
	e.mu.Unlock()

	for _, h := range handles {
		_ = h.Close()
	}

	var err error
	e.closeOnce.Do(func() {
		close(e.stop)
		err = e.sub.Close()
	})
	<-e.done
	return err
}

type callHandle struct {
	id       string
	endpoint *Endpoint
	remote   domain.PeerID
	md       domain.CallMetadata
	outbound bool
	offer    string

	events chan domain.CallEvent

	mu         sync.Mutex
	pc         *webrtc.PeerConnection
	answered   bool
	streamSent bool
	finished   bool

	logger *zap.SugaredLogger
}

var _ ports.CallHandle = (*callHandle)(nil)

func newCallHandle(e *Endpoint, id string, remote domain.PeerID, md domain.CallMetadata, outbound bool) *callHandle {
	return &callHandle{
		id:       id,
		endpoint: e,
		remote:   remote,
		md:       md,
		outbound: outbound,
		// One stream event plus the final close or error.
		events: make(chan domain.CallEvent, 2),
		logger: e.logger.With("call_id", id, "remote", remote),
	}
}

func (h *callHandle) ID() string                      { return h.id }
func (h *callHandle) Remote() domain.PeerID           { return h.remote }
func (h *callHandle) Metadata() domain.CallMetadata   { return h.md }
func (h *callHandle) Events() <-chan domain.CallEvent { return h.events }

func (h *callHandle) negotiateOffer(ctx context.Context, stream ports.LocalStream) (string, error) {
	pc, err := h.attach(stream)
	if err != nil {
		return "", err
	}

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return "", fmt.Errorf("%w: create offer: %v", domain.ErrNegotiationFailed, err)
	}
	return h.gather(ctx, pc, offer)
}

// Answer completes an inbound call with the local stream attached.
func (h *callHandle) Answer(ctx context.Context, stream ports.LocalStream) error {
	if h.outbound {
		return fmt.Errorf("%w: cannot answer an outbound call", domain.ErrNegotiationFailed)
	}

	h.mu.Lock()
	if h.answered || h.finished {
		h.mu.Unlock()
		return fmt.Errorf("%w: call %s already answered or closed", domain.ErrNegotiationFailed, h.id)
	}
	h.answered = true
	h.mu.Unlock()

	pc, err := h.attach(nil)
	if err != nil {
		return err
	}
	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: h.offer}); err != nil {
		return fmt.Errorf("%w: apply offer: %v", domain.ErrNegotiationFailed, err)
	}
	// Tracks added after the remote offer reuse its transceivers.
	if err := h.addTracks(pc, stream); err != nil {
		return err
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("%w: create answer: %v", domain.ErrNegotiationFailed, err)
	}
	sdp, err := h.gather(ctx, pc, answer)
	if err != nil {
		return err
	}

	return h.endpoint.factory.relay.Publish(ctx, h.remote, Envelope{
		Type:   SignalAnswer,
		From:   h.endpoint.id,
		CallID: h.id,
		SDP:    sdp,
	})
}

// attach creates the peer connection, wires its callbacks and adds stream's tracks.
func (h *callHandle) attach(stream ports.LocalStream) (*webrtc.PeerConnection, error) {
	pc, err := h.endpoint.factory.newPeerConnection()
	if err != nil {
		return nil, fmt.Errorf("%w: new peer connection: %v", domain.ErrNegotiationFailed, err)
	}

	h.mu.Lock()
	if h.finished {
		h.mu.Unlock()
		_ = pc.Close()
		return nil, fmt.Errorf("%w: call %s closed", domain.ErrNegotiationFailed, h.id)
	}
	h.pc = pc
	h.mu.Unlock()

	pc.OnTrack(h.onTrack)
	pc.OnConnectionStateChange(h.onConnectionState)

	if stream != nil {
		if err := h.addTracks(pc, stream); err != nil {
			return nil, err
		}
	}
	return pc, nil
}

func (h *callHandle) addTracks(pc *webrtc.PeerConnection, stream ports.LocalStream) error {
	if stream == nil {
		return nil
	}
	for _, t := range stream.Tracks() {
		binder, ok := t.(senderBinder)
		if !ok {
			h.logger.Warnw("skipping track without a pion source", "track_id", t.ID())
			continue
		}
		sender, err := pc.AddTrack(binder.LocalTrack())
		if err != nil {
			return fmt.Errorf("%w: add %s track: %v", domain.ErrNegotiationFailed, t.Kind(), err)
		}
		if err := binder.Attach(sender); err != nil {
			return fmt.Errorf("%w: bind %s track: %v", domain.ErrNegotiationFailed, t.Kind(), err)
		}
		go drainRTCP(sender)
	}
	return nil
}

// gather sets the local description and waits for ICE gathering so the SDP
// carries every candidate; the relay has no trickle path.
func (h *callHandle) gather(ctx context.Context, pc *webrtc.PeerConnection, desc webrtc.SessionDescription) (string, error) {
	complete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(desc); err != nil {
		return "", fmt.Errorf("%w: set local description: %v", domain.ErrNegotiationFailed, err)
	}

	timer := time.NewTimer(h.endpoint.factory.cfg.GatherTimeout)
	defer timer.Stop()

	select {
	case <-complete:
	case <-timer.C:
		h.logger.Warn("ICE gathering timed out, sending partial candidates")
	case <-ctx.Done():
		return "", ctx.Err()
	}
	return pc.LocalDescription().SDP, nil
}

func (h *callHandle) applyAnswer(sdp string) {
	h.mu.Lock()
	pc := h.pc
	if !h.outbound || h.answered || h.finished || pc == nil {
		h.mu.Unlock()
		return
	}
	h.answered = true
	h.mu.Unlock()

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp}); err != nil {
		h.finish(&domain.CallEvent{
			Type: domain.CallEventError,
			Err:  fmt.Errorf("%w: apply answer: %v", domain.ErrNegotiationFailed, err),
		})
	}
}

func (h *callHandle) onTrack(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
	kind := domain.TrackKindAudio
	if track.Kind() == webrtc.RTPCodecTypeVideo {
		kind = domain.TrackKindVideo
		h.requestKeyframe(track)
	}

	h.logger.Infow("remote track started", "track_id", track.ID(), "kind", kind, "codec", track.Codec().MimeType)

	h.mu.Lock()
	if !h.finished && !h.streamSent {
		h.streamSent = true
		h.events <- domain.CallEvent{
			Type:   domain.CallEventStream,
			Stream: domain.RemoteStream{ID: track.StreamID(), Tracks: []domain.TrackKind{kind}},
		}
	}
	h.mu.Unlock()

	go drainRTCP(receiver)
	go h.drainRTP(track)
}

// requestKeyframe asks the sender for a fresh keyframe so video renders immediately.
func (h *callHandle) requestKeyframe(track *webrtc.TrackRemote) {
	h.mu.Lock()
	pc := h.pc
	h.mu.Unlock()
	if pc == nil {
		return
	}
	if err := pc.WriteRTCP([]rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: uint32(track.SSRC())}}); err != nil {
		h.logger.Debugw("failed to send PLI", "error", err)
	}
}

// drainRTP consumes the remote track. Rendering belongs to the UI; the node
// only keeps the pipeline flowing and reports packet loss when the track ends.
func (h *callHandle) drainRTP(track *webrtc.TrackRemote) {
	buf := make([]byte, 1500)
	pkt := &rtp.Packet{}

	var (
		packets, bytes, lost uint64
		lastSeq              uint16
		started              bool
	)
	for {
		n, _, err := track.Read(buf)
		if err != nil {
			break
		}
		if err := pkt.Unmarshal(buf[:n]); err != nil {
			continue
		}
		if started {
			if gap := pkt.SequenceNumber - lastSeq; gap > 1 && gap < 1<<15 {
				lost += uint64(gap - 1)
			}
		}
		started = true
		lastSeq = pkt.SequenceNumber
		packets++
		bytes += uint64(len(pkt.Payload))
	}

	h.logger.Debugw("remote track ended",
		"track_id", track.ID(),
		"packets", packets,
		"payload_bytes", bytes,
		"lost", lost,
	)
}

type rtcpReader interface {
	ReadRTCP() ([]rtcp.Packet, interceptor.Attributes, error)
}

// drainRTCP keeps interceptors (NACK, reports) running for a sender or receiver.
func drainRTCP(r rtcpReader) {
	for {
		if _, _, err := r.ReadRTCP(); err != nil {
			return
		}
	}
}

func (h *callHandle) onConnectionState(state webrtc.PeerConnectionState) {
	h.logger.Debugw("peer connection state changed", "state", state.String())

	switch state {
	case webrtc.PeerConnectionStateFailed:
		h.finish(&domain.CallEvent{
			Type: domain.CallEventError,
			Err:  fmt.Errorf("%w: connection failed", domain.ErrNegotiationFailed),
		})
	case webrtc.PeerConnectionStateClosed:
		h.finish(&domain.CallEvent{Type: domain.CallEventClose})
	}
}

// finish delivers the final event and closes the peer connection in the
// background; it runs on pion callbacks and the relay dispatch loop, which must
// not block. Later calls are no-ops.
func (h *callHandle) finish(last *domain.CallEvent) bool {
	pc, ok := h.detach(last)
	if ok && pc != nil {
		go h.closePeer(pc)
	}
	return ok
}

// detach delivers the final event, closes the event channel and forgets the
// handle. It reports false when the handle was already finished.
func (h *callHandle) detach(last *domain.CallEvent) (*webrtc.PeerConnection, bool) {
	h.mu.Lock()
	if h.finished {
		h.mu.Unlock()
		return nil, false
	}
	h.finished = true
	if last != nil {
		h.events <- *last
	}
	close(h.events)
	pc := h.pc
	h.mu.Unlock()

	h.endpoint.forget(h.id)
	return pc, true
}

func (h *callHandle) closePeer(pc *webrtc.PeerConnection) {
	if err := pc.Close(); err != nil && !errors.Is(err, webrtc.ErrConnectionClosed) {
		h.logger.Debugw("peer connection close failed", "error", err)
	}
}

// abort drops a handle that never reached the remote side.
func (h *callHandle) abort() {
	if pc, ok := h.detach(nil); ok && pc != nil {
		h.closePeer(pc)
	}
}

// Close hangs up: the peer connection is torn down before it returns, and the
// remote side gets a hangup envelope and a close event.
func (h *callHandle) Close() error {
	pc, ok := h.detach(nil)
	if !ok {
		return nil
	}
	if pc != nil {
		h.closePeer(pc)
	}

	ctx, cancel := context.WithTimeout(context.Background(), hangupTimeout)
	defer cancel()
	err := h.endpoint.factory.relay.Publish(ctx, h.remote, Envelope{
		Type:   SignalHangup,
		From:   h.endpoint.id,
		CallID: h.id,
	})
	if err != nil && !errors.Is(err, domain.ErrPeerUnavailable) {
		h.logger.Debugw("hangup not delivered", "error", err)
	}
	return nil
}
