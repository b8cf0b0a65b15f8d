package domain

import "time"

type CallType string

const (
	CallTypeAudio CallType = "audio"
	CallTypeVideo CallType = "video"
)

func CallTypeOf(isVideo bool) CallType {
	if isVideo {
		return CallTypeVideo
	}
	return CallTypeAudio
}

type CallDirection string

const (
	DirectionOutgoing CallDirection = "outgoing"
	DirectionIncoming CallDirection = "incoming"
)

type CallState int

const (
	CallStateIdle CallState = iota
	CallStateDialing
	CallStateRinging
	CallStateConnecting
	CallStateActive
	CallStateEnded
)

func (s CallState) String() string {
	switch s {
	case CallStateIdle:
		return "idle"
	case CallStateDialing:
		return "dialing"
	case CallStateRinging:
		return "ringing"
	case CallStateConnecting:
		return "connecting"
	case CallStateActive:
		return "active"
	case CallStateEnded:
		return "ended"
	default:
		return "unknown"
	}
}

func (s CallState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Terminal reports whether no further transition is possible.
func (s CallState) Terminal() bool {
	return s == CallStateEnded
}

var callTransitions = map[CallState][]CallState{
	CallStateIdle:       {CallStateDialing, CallStateRinging},
	CallStateDialing:    {CallStateConnecting, CallStateEnded},
	CallStateRinging:    {CallStateConnecting, CallStateEnded},
	CallStateConnecting: {CallStateActive, CallStateEnded},
	CallStateActive:     {CallStateEnded},
}

// CanTransition reports whether the call state machine allows moving from one state to another.
func CanTransition(from, to CallState) bool {
	for _, next := range callTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

type EndReason string

const (
	EndReasonNone                 EndReason = ""
	EndReasonLocalHangup          EndReason = "local_hangup"
	EndReasonRejected             EndReason = "rejected"
	EndReasonRemoteHangup         EndReason = "remote_hangup"
	EndReasonNegotiationFailed    EndReason = "negotiation_failed"
	EndReasonPermissionDenied     EndReason = "permission_denied"
	EndReasonDeviceUnavailable    EndReason = "device_unavailable"
	EndReasonSignalingUnreachable EndReason = "signaling_unreachable"
	EndReasonRateLimited          EndReason = "rate_limited"
	EndReasonPeerUnavailable      EndReason = "peer_unavailable"
	EndReasonShutdown             EndReason = "shutdown"
)

// CallInvite is the outbound request to start a one-to-one call.
type CallInvite struct {
	CallerID   UserID
	CalleeID   UserID
	IsVideo    bool
	CallerName string
}

func (i CallInvite) Metadata() CallMetadata {
	return CallMetadata{
		IsVideo:    i.IsVideo,
		CallerName: i.CallerName,
		CallerID:   i.CallerID,
	}
}

// CallMetadata travels with the call attempt over the peer transport.
type CallMetadata struct {
	IsVideo    bool   `json:"isVideo"`
	CallerName string `json:"callerName"`
	CallerID   UserID `json:"callerId"`
}

// InboundInvite is what the callee sees of an incoming call attempt.
type InboundInvite struct {
	CallerPeerID PeerID `json:"callerPeerId"`
	CallerID     UserID `json:"callerId"`
	IsVideo      bool   `json:"isVideo"`
	CallerName   string `json:"callerName"`
}

type CallSnapshot struct {
	SessionID    SessionID     `json:"session_id"`
	Local        UserID        `json:"local"`
	Remote       UserID        `json:"remote"`
	RemoteName   string        `json:"remote_name,omitempty"`
	Direction    CallDirection `json:"direction"`
	Type         CallType      `json:"type"`
	State        CallState     `json:"state"`
	StartedAt    *time.Time    `json:"started_at,omitempty"`
	EndedAt      *time.Time    `json:"ended_at,omitempty"`
	AudioEnabled bool          `json:"audio_enabled"`
	VideoEnabled bool          `json:"video_enabled"`
	EndReason    EndReason     `json:"end_reason,omitempty"`
}
