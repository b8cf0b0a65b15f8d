package ports

import (
	"context"

	"rillcall/internal/core/domain"
)

// CallHandle is one negotiated (or negotiating) peer connection.
type CallHandle interface {
	ID() string
	Remote() domain.PeerID
	Metadata() domain.CallMetadata
	// Answer attaches the local stream to an inbound handle and completes negotiation.
	Answer(ctx context.Context, stream LocalStream) error
	// Events is closed after the final close or error event.
	Events() <-chan domain.CallEvent
	Close() error
}

// PeerEndpoint is a process's addressable identity on the peer transport.
type PeerEndpoint interface {
	ID() domain.PeerID
	Call(ctx context.Context, remote domain.PeerID, stream LocalStream, md domain.CallMetadata) (CallHandle, error)
	Incoming() <-chan CallHandle
	Close() error
}

type EndpointFactory interface {
	Open(ctx context.Context, id domain.PeerID) (PeerEndpoint, error)
}

type PresenceNetwork interface {
	Join(ctx context.Context, channel string) (PresenceChannel, error)
}

// PresenceChannel delivers full membership snapshots. Syncs is closed when the
// channel is left or the connection to the presence backend drops.
type PresenceChannel interface {
	Name() string
	Track(ctx context.Context, record domain.PresenceRecord) error
	Syncs() <-chan domain.PresenceSnapshot
	Leave(ctx context.Context) error
}

type MediaTrack interface {
	ID() string
	Kind() domain.TrackKind
	Enabled() bool
	SetEnabled(enabled bool)
	Stop()
}

type LocalStream interface {
	ID() string
	Tracks() []MediaTrack
	Stop()
}

type MediaDevices interface {
	GetUserMedia(ctx context.Context, constraints domain.MediaConstraints) (LocalStream, error)
}

type IdentityProvider interface {
	CurrentUser(ctx context.Context) (domain.PeerIdentity, error)
}

type RingTone interface {
	StartRing(kind domain.RingKind)
	StopRing()
}

type Notifier interface {
	Notify(n domain.Notification)
}

type CallMetrics interface {
	CallStarted(direction domain.CallDirection, callType domain.CallType)
	CallStateChanged(state domain.CallState)
	CallEnded(reason domain.EndReason, durationSeconds int64)
	InviteSent(err error)
	InviteReceived(accepted bool)
	MediaAcquired(err error)
	MeshParticipants(count int)
	HistoryWritten(err error)
}
