package services

import (
	"fmt"
	"time"

	"rillcall/internal/core/domain"
	"rillcall/internal/core/ports"
)

// CallSession is one one-to-one call. It is owned by the CallService loop and
// never touched from other goroutines.
type CallSession struct {
	id         domain.SessionID
	local      domain.PeerIdentity
	remote     domain.UserID
	remoteName string
	direction  domain.CallDirection
	callType   domain.CallType

	state     domain.CallState
	handle    ports.CallHandle
	stream    ports.LocalStream
	startedAt time.Time
	endedAt   time.Time
	endReason domain.EndReason

	audioEnabled bool
	videoEnabled bool
}

func newCallSession(
	id domain.SessionID,
	local domain.PeerIdentity,
	remote domain.UserID,
	remoteName string,
	direction domain.CallDirection,
	callType domain.CallType,
) *CallSession {
	return &CallSession{
		id:         id,
		local:      local,
		remote:     remote,
		remoteName: remoteName,
		direction:  direction,
		callType:   callType,
		state:      domain.CallStateIdle,
	}
}

func (s *CallSession) transition(to domain.CallState) error {
	if !domain.CanTransition(s.state, to) {
		return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, s.state, to)
	}
	s.state = to
	return nil
}

func (s *CallSession) ended() bool {
	return s.state.Terminal()
}

// historyRecord returns the local side's record and its duration. Duration is
// zero when the call never reached Connecting.
func (s *CallSession) historyRecord() domain.CallHistoryRecord {
	var duration int64
	if !s.startedAt.IsZero() {
		duration = domain.CallDuration(s.startedAt, s.endedAt)
	}
	return domain.CallHistoryRecord{
		CallerID:        s.local.UserID,
		ReceiverID:      s.remote,
		Type:            s.callType,
		DurationSeconds: duration,
	}
}

func (s *CallSession) Snapshot() domain.CallSnapshot {
	snap := domain.CallSnapshot{
		SessionID:    s.id,
		Local:        s.local.UserID,
		Remote:       s.remote,
		RemoteName:   s.remoteName,
		Direction:    s.direction,
		Type:         s.callType,
		State:        s.state,
		AudioEnabled: s.audioEnabled,
		VideoEnabled: s.videoEnabled,
		EndReason:    s.endReason,
	}
	if !s.startedAt.IsZero() {
		t := s.startedAt
		snap.StartedAt = &t
	}
	if !s.endedAt.IsZero() {
		t := s.endedAt
		snap.EndedAt = &t
	}
	return snap
}
