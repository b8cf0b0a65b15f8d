package domain

import (
	"sort"
	"time"
)

// PresenceRecord is the ephemeral metadata a connected process tracks on a presence channel.
type PresenceRecord struct {
	PeerID   PeerID    `json:"peerId"`
	UserID   UserID    `json:"userId"`
	Name     string    `json:"name"`
	Avatar   string    `json:"avatar,omitempty"`
	JoinedAt time.Time `json:"joinedAt"`
}

// PresenceSnapshot is the full membership of a channel at the time of a sync.
type PresenceSnapshot struct {
	Channel string           `json:"channel"`
	Members []PresenceRecord `json:"members"`
}

func (s PresenceSnapshot) Contains(peerID PeerID) bool {
	for _, m := range s.Members {
		if m.PeerID == peerID {
			return true
		}
	}
	return false
}

// Users returns the distinct user IDs present in the snapshot, sorted.
func (s PresenceSnapshot) Users() []UserID {
	seen := make(map[UserID]struct{}, len(s.Members))
	users := make([]UserID, 0, len(s.Members))
	for _, m := range s.Members {
		if _, ok := seen[m.UserID]; ok {
			continue
		}
		seen[m.UserID] = struct{}{}
		users = append(users, m.UserID)
	}
	sort.Slice(users, func(i, j int) bool { return users[i] < users[j] })
	return users
}

// GroupPresenceChannel names the presence sub-channel used to announce mesh membership.
func GroupPresenceChannel(groupID GroupID) string {
	return "group:" + string(groupID)
}
