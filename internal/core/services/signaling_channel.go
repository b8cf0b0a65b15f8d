package services

import (
	"context"
	"fmt"
	"sync"

	"rillcall/internal/core/domain"
	"rillcall/internal/core/ports"
	"rillcall/pkg/tracing"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// InviteHandler receives an inbound call attempt. The handler owns the handle:
// it must eventually answer or close it.
type InviteHandler func(invite domain.InboundInvite, handle ports.CallHandle)

// SignalingChannel carries one-to-one invites over the peer endpoint and
// announces mesh membership over presence sub-channels.
type SignalingChannel struct {
	endpoint ports.PeerEndpoint
	network  ports.PresenceNetwork
	limiter  *rate.Limiter
	metrics  ports.CallMetrics
	logger   *zap.SugaredLogger

	mu      sync.RWMutex
	handler InviteHandler

	startOnce sync.Once
	done      chan struct{}
}

func NewSignalingChannel(
	endpoint ports.PeerEndpoint,
	network ports.PresenceNetwork,
	inviteRate float64,
	inviteBurst int,
	metrics ports.CallMetrics,
	logger *zap.SugaredLogger,
) *SignalingChannel {
	return &SignalingChannel{
		endpoint: endpoint,
		network:  network,
		limiter:  rate.NewLimiter(rate.Limit(inviteRate), inviteBurst),
		metrics:  metrics,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// Start begins dispatching inbound call attempts. It returns immediately.
func (s *SignalingChannel) Start() {
	s.startOnce.Do(func() {
		go s.dispatch()
	})
}

// Done is closed once the endpoint's inbound stream ends.
func (s *SignalingChannel) Done() <-chan struct{} {
	return s.done
}

func (s *SignalingChannel) dispatch() {
	defer close(s.done)

	for handle := range s.endpoint.Incoming() {
		md := handle.Metadata()
		invite := domain.InboundInvite{
			CallerPeerID: handle.Remote(),
			CallerID:     md.CallerID,
			IsVideo:      md.IsVideo,
			CallerName:   md.CallerName,
		}
		if invite.CallerID == "" {
			invite.CallerID = domain.UserID(handle.Remote())
		}

		s.mu.RLock()
		handler := s.handler
		s.mu.RUnlock()

		if handler == nil {
			s.logger.Warnw("no invite handler, declining call",
				"caller_peer_id", invite.CallerPeerID,
			)
			_ = handle.Close()
			continue
		}

		s.logger.Debugw("inbound invite",
			"caller_peer_id", invite.CallerPeerID,
			"is_video", invite.IsVideo,
		)
		handler(invite, handle)
	}
}

// OnInvite sets the handler for inbound call attempts.
func (s *SignalingChannel) OnInvite(handler InviteHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = handler
}

// SendInvite places the call. Delivery is best-effort: the returned handle
// reports acceptance as a stream event and rejection as a close event.
func (s *SignalingChannel) SendInvite(ctx context.Context, invite domain.CallInvite, stream ports.LocalStream) (ports.CallHandle, error) {
	ctx, span := tracing.TraceSignaling(ctx, "invite", string(invite.CalleeID))
	defer span.End()

	if !s.limiter.Allow() {
		s.metrics.InviteSent(domain.ErrInviteRateLimited)
		return nil, domain.ErrInviteRateLimited
	}

	handle, err := s.endpoint.Call(ctx, domain.PeerID(invite.CalleeID), stream, invite.Metadata())
	s.metrics.InviteSent(err)
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, fmt.Errorf("send invite to %s: %w", invite.CalleeID, err)
	}

	s.logger.Infow("invite sent",
		"callee_id", invite.CalleeID,
		"is_video", invite.IsVideo,
		"handle_id", handle.ID(),
	)
	return handle, nil
}

// JoinGroup joins the group's presence sub-channel and tracks record on it.
func (s *SignalingChannel) JoinGroup(ctx context.Context, groupID domain.GroupID, record domain.PresenceRecord) (ports.PresenceChannel, error) {
	name := domain.GroupPresenceChannel(groupID)

	ch, err := s.network.Join(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("join %s: %w", name, err)
	}
	if err := ch.Track(ctx, record); err != nil {
		_ = ch.Leave(ctx)
		return nil, fmt.Errorf("announce on %s: %w", name, err)
	}

	s.logger.Infow("announced on group channel",
		"group_id", groupID,
		"peer_id", record.PeerID,
	)
	return ch, nil
}
