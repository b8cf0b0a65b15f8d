package domain

type TrackKind string

const (
	TrackKindAudio TrackKind = "audio"
	TrackKindVideo TrackKind = "video"
)

type MediaConstraints struct {
	Audio bool
	Video bool
}

type CallEventType string

const (
	CallEventStream CallEventType = "stream"
	CallEventClose  CallEventType = "close"
	CallEventError  CallEventType = "error"
)

// RemoteStream describes media received from the other side of a call handle.
type RemoteStream struct {
	ID     string
	Tracks []TrackKind
}

type CallEvent struct {
	Type   CallEventType
	Stream RemoteStream
	Err    error
}
