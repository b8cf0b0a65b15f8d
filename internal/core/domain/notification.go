package domain

import "time"

type RingKind string

const (
	RingOutgoing RingKind = "outgoing"
	RingIncoming RingKind = "incoming"
)

type NotificationType string

const (
	NotifyIncomingCall NotificationType = "incoming_call"
	NotifyCallState    NotificationType = "call_state"
	NotifyRing         NotificationType = "ring"
	NotifyAlert        NotificationType = "alert"
	NotifyMesh         NotificationType = "mesh"
	NotifyPresence     NotificationType = "presence"
)

// Notification is a UI-facing event pushed to connected clients.
type Notification struct {
	Type      NotificationType `json:"type"`
	Timestamp time.Time        `json:"timestamp"`
	Data      any              `json:"data,omitempty"`
}

// Alert is a blocking user-visible message, used for media permission failures.
type Alert struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
