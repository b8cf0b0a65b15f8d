package media

import (
	"sync"

	"rillcall/internal/core/domain"
	"rillcall/internal/core/ports"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
)

// Track is a captured local track. Disabling it swaps every bound sender to
// a nil track so the peer stops receiving media without renegotiation; the
// capture device keeps running.
type Track struct {
	local webrtc.TrackLocal
	kind  domain.TrackKind
	stop  func()

	mu      sync.Mutex
	enabled bool
	stopped bool
	senders []*webrtc.RTPSender
}

var _ ports.MediaTrack = (*Track)(nil)

func NewTrack(local webrtc.TrackLocal, stop func()) *Track {
	kind := domain.TrackKindAudio
	if local.Kind() == webrtc.RTPCodecTypeVideo {
		kind = domain.TrackKindVideo
	}
	return &Track{local: local, kind: kind, stop: stop, enabled: true}
}

func (t *Track) ID() string             { return t.local.ID() }
func (t *Track) Kind() domain.TrackKind { return t.kind }

// LocalTrack is what gets added to a peer connection.
func (t *Track) LocalTrack() webrtc.TrackLocal { return t.local }

func (t *Track) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

// Attach binds a sender so later enable toggles reach it.
func (t *Track) Attach(sender *webrtc.RTPSender) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.senders = append(t.senders, sender)
	if !t.enabled {
		return sender.ReplaceTrack(nil)
	}
	return nil
}

func (t *Track) SetEnabled(enabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.enabled == enabled || t.stopped {
		return
	}
	t.enabled = enabled

	var replacement webrtc.TrackLocal
	if enabled {
		replacement = t.local
	}
	for _, sender := range t.senders {
		// A closed connection's sender refuses the swap; nothing to do for it.
		_ = sender.ReplaceTrack(replacement)
	}
}

func (t *Track) Stop() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.stopped = true
	t.senders = nil
	t.mu.Unlock()

	if t.stop != nil {
		t.stop()
	}
}

// Stream groups the tracks of one capture request.
type Stream struct {
	id     string
	tracks []*Track
}

var _ ports.LocalStream = (*Stream)(nil)

func NewStream(tracks ...*Track) *Stream {
	return &Stream{id: uuid.NewString(), tracks: tracks}
}

func (s *Stream) ID() string { return s.id }

func (s *Stream) Tracks() []ports.MediaTrack {
	out := make([]ports.MediaTrack, len(s.tracks))
	for i, t := range s.tracks {
		out[i] = t
	}
	return out
}

func (s *Stream) Stop() {
	for _, t := range s.tracks {
		t.Stop()
	}
}
