package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"rillcall/internal/core/domain"
	"rillcall/internal/core/ports"
	"rillcall/pkg/tracing"
	"rillcall/pkg/utils"

	"go.uber.org/zap"
)

type CallServiceDeps struct {
	Identity  ports.IdentityProvider
	Signaling *SignalingChannel
	Media     *MediaStreamManager
	Lease     *DeviceLease
	History   *HistoryRecorder
	Metrics   ports.CallMetrics
	Notifier  ports.Notifier // optional
	Clock     utils.Clock    // optional
	Logger    *zap.SugaredLogger
}

// CallService runs the one-to-one call state machine. Commands and
// collaborator events are serialized onto a single loop goroutine; media
// acquisition and SDP negotiation run off the loop and post their results back,
// so a hangup is honoured while either is in flight.
type CallService struct {
	identity  ports.IdentityProvider
	signaling *SignalingChannel
	media     *MediaStreamManager
	lease     *DeviceLease
	history   *HistoryRecorder
	metrics   ports.CallMetrics
	notifier  ports.Notifier
	clock     utils.Clock
	logger    *zap.SugaredLogger

	*actor

	// loop-owned
	session   *CallSession
	observers []CallObserver

	mu      sync.RWMutex
	current *domain.CallSnapshot
}

func NewCallService(deps CallServiceDeps) *CallService {
	s := &CallService{
		identity:  deps.Identity,
		signaling: deps.Signaling,
		media:     deps.Media,
		lease:     deps.Lease,
		history:   deps.History,
		metrics:   deps.Metrics,
		notifier:  deps.Notifier,
		clock:     deps.Clock,
		logger:    deps.Logger,
		actor:     newActor(),
	}
	if s.notifier == nil {
		s.notifier = nopNotifier{}
	}
	if s.clock == nil {
		s.clock = utils.SystemClock()
	}

	s.signaling.OnInvite(s.handleInvite)
	return s
}

// Observe registers an observer for state changes.
func (s *CallService) Observe(observer CallObserver) {
	_ = s.exec(context.Background(), func() {
		s.observers = append(s.observers, observer)
	})
}

// StartCall dials callee. It returns once the invite is on its way; acceptance
// shows up later as the Active state.
func (s *CallService) StartCall(ctx context.Context, callee domain.UserID, isVideo bool) (domain.CallSnapshot, error) {
	ctx, span := tracing.TraceCallOperation(ctx, "start", string(callee))
	defer span.End()

	local, err := s.identity.CurrentUser(ctx)
	if err != nil {
		return domain.CallSnapshot{}, err
	}
	if callee == local.UserID {
		return domain.CallSnapshot{}, domain.ErrSelfCall
	}

	var (
		sess  *CallSession
		snap  domain.CallSnapshot
		opErr error
	)
	if err := s.exec(ctx, func() {
		if s.session != nil && !s.session.ended() {
			opErr = domain.ErrSessionAlreadyActive
			return
		}
		if err := s.lease.Acquire(leaseOwnerCall); err != nil {
			opErr = err
			return
		}
		sess = newCallSession(
			domain.SessionID(utils.GenerateSessionID()),
			local, callee, "",
			domain.DirectionOutgoing, domain.CallTypeOf(isVideo),
		)
		s.session = sess
		s.metrics.CallStarted(sess.direction, sess.callType)
		s.setState(sess, domain.CallStateDialing)
	}); err != nil {
		return domain.CallSnapshot{}, err
	}
	if opErr != nil {
		tracing.RecordError(ctx, opErr)
		return domain.CallSnapshot{}, opErr
	}

	s.logger.Infow("dialing",
		"session_id", sess.id,
		"callee_id", callee,
		"is_video", isVideo,
	)

	stream, acquireErr := s.media.Acquire(ctx, isVideo)

	bg := context.WithoutCancel(ctx)
	proceed := false
	if err := s.exec(bg, func() {
		snap = sess.Snapshot()
		if acquireErr != nil {
			s.fail(sess, acquireErr)
			snap = sess.Snapshot()
			opErr = acquireErr
			return
		}
		if sess.ended() {
			s.media.Release(stream)
			return
		}
		sess.stream = stream
		sess.audioEnabled = true
		sess.videoEnabled = isVideo
		s.publish(sess)
		proceed = true
	}); err != nil {
		s.media.Release(stream)
		return domain.CallSnapshot{}, err
	}
	if !proceed {
		tracing.RecordError(ctx, opErr)
		return snap, opErr
	}

	invite := domain.CallInvite{
		CallerID:   local.UserID,
		CalleeID:   callee,
		IsVideo:    isVideo,
		CallerName: local.DisplayName,
	}
	handle, sendErr := s.signaling.SendInvite(ctx, invite, stream)

	if err := s.exec(bg, func() {
		if sendErr != nil {
			s.fail(sess, sendErr)
			opErr = sendErr
		} else if sess.ended() {
			_ = handle.Close()
		} else {
			sess.handle = handle
			go s.forward(sess.id, handle)
		}
		snap = sess.Snapshot()
	}); err != nil {
		if handle != nil {
			_ = handle.Close()
		}
		return domain.CallSnapshot{}, err
	}

	tracing.RecordError(ctx, opErr)
	return snap, opErr
}

// Answer accepts the ringing inbound call.
func (s *CallService) Answer(ctx context.Context) (domain.CallSnapshot, error) {
	ctx, span := tracing.TraceCallOperation(ctx, "answer", "")
	defer span.End()

	var (
		sess    *CallSession
		snap    domain.CallSnapshot
		isVideo bool
		opErr   error
	)
	if err := s.exec(ctx, func() {
		cur := s.session
		if cur == nil || cur.direction != domain.DirectionIncoming || cur.state != domain.CallStateRinging {
			opErr = domain.ErrNoIncomingCall
			return
		}
		sess = cur
		isVideo = cur.callType == domain.CallTypeVideo
	}); err != nil {
		return domain.CallSnapshot{}, err
	}
	if opErr != nil {
		return domain.CallSnapshot{}, opErr
	}

	stream, acquireErr := s.media.Acquire(ctx, isVideo)

	bg := context.WithoutCancel(ctx)
	var handle ports.CallHandle
	if err := s.exec(bg, func() {
		switch {
		case acquireErr != nil:
			if !sess.ended() {
				s.fail(sess, acquireErr)
			}
			opErr = acquireErr
		case sess.ended():
			s.media.Release(stream)
			opErr = domain.ErrNoActiveSession
		default:
			sess.stream = stream
			sess.audioEnabled = true
			sess.videoEnabled = isVideo
			sess.startedAt = s.clock()
			s.setState(sess, domain.CallStateConnecting)
			handle = sess.handle
		}
		snap = sess.Snapshot()
	}); err != nil {
		s.media.Release(stream)
		return domain.CallSnapshot{}, err
	}
	if opErr != nil {
		tracing.RecordError(ctx, opErr)
		return snap, opErr
	}

	answerErr := handle.Answer(ctx, stream)

	if err := s.exec(bg, func() {
		if answerErr != nil && !sess.ended() {
			s.logger.Warnw("answer negotiation failed", "session_id", sess.id, "error", answerErr)
			s.end(sess, domain.EndReasonNegotiationFailed)
			opErr = fmt.Errorf("%w: %v", domain.ErrNegotiationFailed, answerErr)
		}
		snap = sess.Snapshot()
	}); err != nil {
		return domain.CallSnapshot{}, err
	}

	tracing.RecordError(ctx, opErr)
	return snap, opErr
}

// Reject declines the ringing inbound call without touching media devices.
func (s *CallService) Reject(ctx context.Context) error {
	var opErr error
	if err := s.exec(ctx, func() {
		sess := s.session
		if sess == nil || sess.direction != domain.DirectionIncoming || sess.state != domain.CallStateRinging {
			opErr = domain.ErrNoIncomingCall
			return
		}
		s.end(sess, domain.EndReasonRejected)
	}); err != nil {
		return err
	}
	return opErr
}

// Hangup ends the current call. It returns after media is stopped and the
// connection closed, and is a no-op when no call is in progress.
func (s *CallService) Hangup(ctx context.Context) error {
	ctx, span := tracing.TraceCallOperation(ctx, "hangup", "")
	defer span.End()

	return s.exec(ctx, func() {
		if s.session == nil || s.session.ended() {
			return
		}
		s.end(s.session, domain.EndReasonLocalHangup)
	})
}

func (s *CallService) SetAudioEnabled(ctx context.Context, enabled bool) (domain.CallSnapshot, error) {
	return s.toggle(ctx, func(sess *CallSession) {
		s.media.SetAudioEnabled(sess.stream, enabled)
		sess.audioEnabled = enabled
	})
}

func (s *CallService) SetVideoEnabled(ctx context.Context, enabled bool) (domain.CallSnapshot, error) {
	return s.toggle(ctx, func(sess *CallSession) {
		if sess.callType != domain.CallTypeVideo {
			return
		}
		s.media.SetVideoEnabled(sess.stream, enabled)
		sess.videoEnabled = enabled
	})
}

func (s *CallService) toggle(ctx context.Context, apply func(*CallSession)) (domain.CallSnapshot, error) {
	var (
		snap  domain.CallSnapshot
		opErr error
	)
	if err := s.exec(ctx, func() {
		sess := s.session
		if sess == nil || sess.ended() || sess.stream == nil {
			opErr = domain.ErrNoActiveSession
			return
		}
		apply(sess)
		s.publish(sess)
		snap = sess.Snapshot()
	}); err != nil {
		return domain.CallSnapshot{}, err
	}
	return snap, opErr
}

// Current returns the latest call snapshot, including a call that has just ended.
func (s *CallService) Current() (domain.CallSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return domain.CallSnapshot{}, false
	}
	return *s.current, true
}

// Close hangs up any call in progress and stops the loop.
func (s *CallService) Close(ctx context.Context) error {
	err := s.exec(ctx, func() {
		if s.session != nil && !s.session.ended() {
			s.end(s.session, domain.EndReasonShutdown)
		}
	})
	s.stop()

	if errors.Is(err, domain.ErrServiceClosed) {
		return nil
	}
	return err
}

func (s *CallService) handleInvite(invite domain.InboundInvite, handle ports.CallHandle) {
	local, err := s.identity.CurrentUser(context.Background())
	if err != nil {
		s.logger.Warnw("declining call, no local identity", "error", err)
		_ = handle.Close()
		return
	}
	if !s.post(func() { s.onInvite(local, invite, handle) }) {
		_ = handle.Close()
	}
}

func (s *CallService) onInvite(local domain.PeerIdentity, invite domain.InboundInvite, handle ports.CallHandle) {
	busy := s.session != nil && !s.session.ended()
	if !busy && s.lease.Acquire(leaseOwnerCall) != nil {
		busy = true
	}
	if busy {
		s.logger.Infow("declining call while busy", "caller_id", invite.CallerID)
		s.metrics.InviteReceived(false)
		_ = handle.Close()
		return
	}

	sess := newCallSession(
		domain.SessionID(utils.GenerateSessionID()),
		local, invite.CallerID, invite.CallerName,
		domain.DirectionIncoming, domain.CallTypeOf(invite.IsVideo),
	)
	sess.handle = handle
	s.session = sess
	s.metrics.InviteReceived(true)
	s.metrics.CallStarted(sess.direction, sess.callType)

	s.notifier.Notify(domain.Notification{
		Type: domain.NotifyIncomingCall,
		Data: map[string]any{
			"session_id": sess.id,
			"invite":     invite,
		},
	})
	s.setState(sess, domain.CallStateRinging)

	go s.forward(sess.id, handle)
	s.logger.Infow("incoming call",
		"session_id", sess.id,
		"caller_id", invite.CallerID,
		"is_video", invite.IsVideo,
	)
}

func (s *CallService) forward(id domain.SessionID, handle ports.CallHandle) {
	for ev := range handle.Events() {
		ev := ev
		if !s.post(func() { s.onCallEvent(id, ev) }) {
			return
		}
	}
}

func (s *CallService) onCallEvent(id domain.SessionID, ev domain.CallEvent) {
	sess := s.session
	if sess == nil || sess.id != id || sess.ended() {
		s.logger.Debugw("ignoring late call event", "session_id", id, "type", ev.Type)
		return
	}

	switch ev.Type {
	case domain.CallEventStream:
		switch sess.state {
		case domain.CallStateDialing:
			sess.startedAt = s.clock()
			s.setState(sess, domain.CallStateConnecting)
			s.setState(sess, domain.CallStateActive)
		case domain.CallStateConnecting:
			s.setState(sess, domain.CallStateActive)
		}
	case domain.CallEventClose:
		s.end(sess, domain.EndReasonRemoteHangup)
	case domain.CallEventError:
		s.logger.Warnw("call connection failed", "session_id", id, "error", ev.Err)
		s.end(sess, domain.EndReasonNegotiationFailed)
	}
}

// fail ends sess because of err and raises a user-visible alert for media failures.
func (s *CallService) fail(sess *CallSession, err error) {
	reason := endReasonFor(err)
	if !sess.ended() {
		s.end(sess, reason)
	}
	if alert, ok := alertFor(err); ok {
		s.notifier.Notify(domain.Notification{Type: domain.NotifyAlert, Data: alert})
	}
}

func (s *CallService) end(sess *CallSession, reason domain.EndReason) {
	if sess.ended() {
		return
	}

	sess.endedAt = s.clock()
	sess.endReason = reason

	if sess.stream != nil {
		s.media.Release(sess.stream)
	}
	if sess.handle != nil {
		if err := sess.handle.Close(); err != nil {
			s.logger.Debugw("closing call handle", "session_id", sess.id, "error", err)
		}
	}
	s.lease.Release(leaseOwnerCall)

	rec := sess.historyRecord()
	s.history.Record(rec)
	s.metrics.CallEnded(reason, rec.DurationSeconds)

	s.setState(sess, domain.CallStateEnded)

	s.logger.Infow("call ended",
		"session_id", sess.id,
		"remote", sess.remote,
		"reason", reason,
		"duration_seconds", rec.DurationSeconds,
		"duration", utils.FormatDuration(time.Duration(rec.DurationSeconds)*time.Second),
	)
}

func (s *CallService) setState(sess *CallSession, to domain.CallState) {
	prev := sess.state
	if err := sess.transition(to); err != nil {
		s.logger.Errorw("rejected call transition", "session_id", sess.id, "error", err)
		return
	}
	s.metrics.CallStateChanged(to)
	snap := s.publish(sess)
	for _, observer := range s.observers {
		observer(prev, snap)
	}
}

func (s *CallService) publish(sess *CallSession) domain.CallSnapshot {
	snap := sess.Snapshot()
	s.mu.Lock()
	s.current = &snap
	s.mu.Unlock()
	return snap
}

func endReasonFor(err error) domain.EndReason {
	switch {
	case errors.Is(err, domain.ErrPermissionDenied):
		return domain.EndReasonPermissionDenied
	case errors.Is(err, domain.ErrDeviceUnavailable):
		return domain.EndReasonDeviceUnavailable
	case errors.Is(err, domain.ErrSignalingUnreachable):
		return domain.EndReasonSignalingUnreachable
	case errors.Is(err, domain.ErrInviteRateLimited):
		return domain.EndReasonRateLimited
	case errors.Is(err, domain.ErrPeerUnavailable):
		return domain.EndReasonPeerUnavailable
	default:
		return domain.EndReasonNegotiationFailed
	}
}

func alertFor(err error) (domain.Alert, bool) {
	switch {
	case errors.Is(err, domain.ErrPermissionDenied):
		return domain.Alert{
			Code:    string(domain.EndReasonPermissionDenied),
			Message: "Allow camera and microphone access to make calls.",
		}, true
	case errors.Is(err, domain.ErrDeviceUnavailable):
		return domain.Alert{
			Code:    string(domain.EndReasonDeviceUnavailable),
			Message: "No camera or microphone is available.",
		}, true
	}
	return domain.Alert{}, false
}

type nopNotifier struct{}

func (nopNotifier) Notify(domain.Notification) {}
