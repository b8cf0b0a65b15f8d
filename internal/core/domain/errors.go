package domain

import "errors"

var (
	ErrPermissionDenied     = errors.New("media permission denied")
	ErrDeviceUnavailable    = errors.New("media device unavailable")
	ErrSignalingUnreachable = errors.New("signaling unreachable")
	ErrNegotiationFailed    = errors.New("negotiation failed")
	ErrSessionAlreadyActive = errors.New("session already active")
	ErrNoActiveSession      = errors.New("no active session")
	ErrNoIncomingCall       = errors.New("no incoming call to answer")
	ErrInvalidTransition    = errors.New("invalid call state transition")
	ErrNotInGroup           = errors.New("not in a group call")
	ErrAlreadyInGroup       = errors.New("already in a group call")
	ErrSelfCall             = errors.New("cannot call yourself")
	ErrServiceClosed        = errors.New("service closed")
	ErrPeerUnavailable      = errors.New("peer unavailable")
	ErrUnauthenticated      = errors.New("no authenticated user")
	ErrInviteRateLimited    = errors.New("invite rate limit exceeded")
	ErrUnsupportedRecord    = errors.New("unsupported record")
)
