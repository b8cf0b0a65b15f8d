package domain

import "time"

type Participant struct {
	PeerID      PeerID    `json:"peer_id"`
	UserID      UserID    `json:"user_id"`
	Name        string    `json:"name"`
	Avatar      string    `json:"avatar,omitempty"`
	StreamID    string    `json:"stream_id"`
	Connections int       `json:"connections"`
	ConnectedAt time.Time `json:"connected_at"`
}

type MeshSnapshot struct {
	GroupID      GroupID       `json:"group_id"`
	LocalPeer    PeerID        `json:"local_peer"`
	Participants []Participant `json:"participants"`
	Alone        bool          `json:"alone"`
	AudioEnabled bool          `json:"audio_enabled"`
	VideoEnabled bool          `json:"video_enabled"`
	JoinedAt     time.Time     `json:"joined_at"`
}

// InitiatorPolicy decides which side of a pair dials when both see each other in a sync.
type InitiatorPolicy string

const (
	InitiatorLowestID InitiatorPolicy = "lowest_id"
	InitiatorBoth     InitiatorPolicy = "both"
)

// ShouldInitiate reports whether local dials remote under the policy.
func (p InitiatorPolicy) ShouldInitiate(local, remote PeerID) bool {
	if p == InitiatorBoth {
		return true
	}
	return local < remote
}
