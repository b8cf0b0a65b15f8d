package domain

type UserID string
type PeerID string
type GroupID string
type SessionID string

// PeerIdentity is the authenticated local user as reported by the identity provider.
type PeerIdentity struct {
	UserID      UserID `json:"user_id"`
	DisplayName string `json:"display_name"`
	AvatarRef   string `json:"avatar,omitempty"`
}

// PeerID returns the presence/signaling key used for one-to-one calls.
func (p PeerIdentity) PeerID() PeerID {
	return PeerID(p.UserID)
}
