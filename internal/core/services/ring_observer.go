package services

import (
	"rillcall/internal/core/domain"
	"rillcall/internal/core/ports"
)

// CallObserver is notified on the call loop after every state change.
type CallObserver func(prev domain.CallState, snap domain.CallSnapshot)

// RingCueObserver plays ring cues from call state changes so the state machine
// itself stays free of audio side effects.
func RingCueObserver(tone ports.RingTone) CallObserver {
	return func(prev domain.CallState, snap domain.CallSnapshot) {
		switch snap.State {
		case domain.CallStateDialing:
			tone.StartRing(domain.RingOutgoing)
		case domain.CallStateRinging:
			tone.StartRing(domain.RingIncoming)
		default:
			if prev == domain.CallStateDialing || prev == domain.CallStateRinging {
				tone.StopRing()
			}
		}
	}
}

// NotifyObserver forwards state changes to UI clients.
func NotifyObserver(notifier ports.Notifier) CallObserver {
	return func(_ domain.CallState, snap domain.CallSnapshot) {
		notifier.Notify(domain.Notification{
			Type: domain.NotifyCallState,
			Data: snap,
		})
	}
}
