package services

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"rillcall/internal/core/domain"
	"rillcall/internal/core/ports"
)

// fakeClock is shared by every node in a test so durations are exact.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeTrack struct {
	id      string
	kind    domain.TrackKind
	enabled atomic.Bool
	stopped atomic.Int32
}

func (t *fakeTrack) ID() string              { return t.id }
func (t *fakeTrack) Kind() domain.TrackKind  { return t.kind }
func (t *fakeTrack) Enabled() bool           { return t.enabled.Load() }
func (t *fakeTrack) SetEnabled(enabled bool) { t.enabled.Store(enabled) }
func (t *fakeTrack) Stop()                   { t.stopped.Add(1) }

type fakeStream struct {
	id      string
	tracks  []*fakeTrack
	stopped atomic.Int32
}

func (s *fakeStream) ID() string { return s.id }

func (s *fakeStream) Tracks() []ports.MediaTrack {
	tracks := make([]ports.MediaTrack, len(s.tracks))
	for i, t := range s.tracks {
		tracks[i] = t
	}
	return tracks
}

func (s *fakeStream) Stop() {
	s.stopped.Add(1)
	for _, t := range s.tracks {
		t.Stop()
	}
}

func (s *fakeStream) track(kind domain.TrackKind) *fakeTrack {
	for _, t := range s.tracks {
		if t.kind == kind {
			return t
		}
	}
	return nil
}

// fakeDevices hands out fake streams. When gate is set, GetUserMedia blocks
// until it is closed, simulating a permission prompt.
type fakeDevices struct {
	mu      sync.Mutex
	err     error
	gate    chan struct{}
	waiting chan struct{}
	streams []*fakeStream
	seq     int
}

func (d *fakeDevices) GetUserMedia(ctx context.Context, c domain.MediaConstraints) (ports.LocalStream, error) {
	d.mu.Lock()
	gate, waiting := d.gate, d.waiting
	d.mu.Unlock()

	if gate != nil {
		if waiting != nil {
			close(waiting)
		}
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}

	d.seq++
	s := &fakeStream{id: fmt.Sprintf("stream-%d", d.seq)}
	if c.Audio {
		s.tracks = append(s.tracks, newFakeTrack(s.id+"-audio", domain.TrackKindAudio))
	}
	if c.Video {
		s.tracks = append(s.tracks, newFakeTrack(s.id+"-video", domain.TrackKindVideo))
	}
	d.streams = append(d.streams, s)
	return s, nil
}

func newFakeTrack(id string, kind domain.TrackKind) *fakeTrack {
	t := &fakeTrack{id: id, kind: kind}
	t.enabled.Store(true)
	return t
}

func (d *fakeDevices) Acquired() []*fakeStream {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*fakeStream(nil), d.streams...)
}

// block makes the next GetUserMedia calls wait. The returned channel closes
// once a call is waiting; release lets it continue.
func (d *fakeDevices) block() (waiting <-chan struct{}, release func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	gate := make(chan struct{})
	w := make(chan struct{})
	d.gate, d.waiting = gate, w
	return w, func() { close(gate) }
}

// fakeNet is an in-process peer transport. Calls connect immediately and
// media flows as soon as the callee answers.
type fakeNet struct {
	mu        sync.Mutex
	endpoints map[domain.PeerID]*fakeEndpoint
	seq       atomic.Int64
}

func newFakeNet() *fakeNet {
	return &fakeNet{endpoints: make(map[domain.PeerID]*fakeEndpoint)}
}

func (n *fakeNet) Open(_ context.Context, id domain.PeerID) (ports.PeerEndpoint, error) {
	return n.endpoint(id), nil
}

func (n *fakeNet) endpoint(id domain.PeerID) *fakeEndpoint {
	ep := &fakeEndpoint{
		net:      n,
		id:       id,
		incoming: make(chan ports.CallHandle, 16),
	}
	n.mu.Lock()
	n.endpoints[id] = ep
	n.mu.Unlock()
	return ep
}

func (n *fakeNet) lookup(id domain.PeerID) *fakeEndpoint {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.endpoints[id]
}

func (n *fakeNet) remove(ep *fakeEndpoint) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.endpoints[ep.id] == ep {
		delete(n.endpoints, ep.id)
	}
}

type fakeEndpoint struct {
	net      *fakeNet
	id       domain.PeerID
	incoming chan ports.CallHandle

	mu      sync.Mutex
	closed  bool
	handles []*fakeHandle
	calls   int
}

func (e *fakeEndpoint) ID() domain.PeerID { return e.id }

func (e *fakeEndpoint) Incoming() <-chan ports.CallHandle { return e.incoming }

func (e *fakeEndpoint) Call(_ context.Context, remote domain.PeerID, _ ports.LocalStream, md domain.CallMetadata) (ports.CallHandle, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()

	callee := e.net.lookup(remote)
	if callee == nil {
		return nil, fmt.Errorf("dial %s: %w", remote, domain.ErrPeerUnavailable)
	}

	id := e.net.seq.Add(1)
	local := newFakeHandle(fmt.Sprintf("h%d-out", id), remote, md)
	far := newFakeHandle(fmt.Sprintf("h%d-in", id), e.id, md)
	local.peer, far.peer = far, local

	if !e.track(local) {
		return nil, fmt.Errorf("endpoint %s closed", e.id)
	}
	if !callee.deliver(far) {
		local.Close()
		return nil, fmt.Errorf("dial %s: %w", remote, domain.ErrPeerUnavailable)
	}
	return local, nil
}

func (e *fakeEndpoint) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

func (e *fakeEndpoint) track(h *fakeHandle) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return false
	}
	e.handles = append(e.handles, h)
	return true
}

func (e *fakeEndpoint) deliver(h *fakeHandle) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return false
	}
	e.handles = append(e.handles, h)
	e.incoming <- h
	return true
}

func (e *fakeEndpoint) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	handles := e.handles
	close(e.incoming)
	e.mu.Unlock()

	e.net.remove(e)
	for _, h := range handles {
		h.Close()
	}
	return nil
}

type fakeHandle struct {
	id     string
	remote domain.PeerID
	md     domain.CallMetadata
	peer   *fakeHandle

	mu       sync.Mutex
	events   chan domain.CallEvent
	closed   bool
	answered bool
}

func newFakeHandle(id string, remote domain.PeerID, md domain.CallMetadata) *fakeHandle {
	return &fakeHandle{
		id:     id,
		remote: remote,
		md:     md,
		events: make(chan domain.CallEvent, 16),
	}
}

func (h *fakeHandle) ID() string                      { return h.id }
func (h *fakeHandle) Remote() domain.PeerID           { return h.remote }
func (h *fakeHandle) Metadata() domain.CallMetadata   { return h.md }
func (h *fakeHandle) Events() <-chan domain.CallEvent { return h.events }

// Answer completes the pair: both sides see the other's stream.
func (h *fakeHandle) Answer(_ context.Context, stream ports.LocalStream) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return fmt.Errorf("handle %s closed", h.id)
	}
	h.answered = true
	h.mu.Unlock()

	h.emit(domain.CallEvent{Type: domain.CallEventStream, Stream: domain.RemoteStream{ID: "remote-" + h.peer.id}})
	h.peer.emit(domain.CallEvent{Type: domain.CallEventStream, Stream: domain.RemoteStream{ID: stream.ID()}})
	return nil
}

func (h *fakeHandle) emit(ev domain.CallEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.events <- ev
}

// Close ends the local side; the remote side observes a close event.
func (h *fakeHandle) Close() error {
	h.finish(nil)
	h.peer.finish(&domain.CallEvent{Type: domain.CallEventClose})
	return nil
}

// Fail reports a connection failure on this side only.
func (h *fakeHandle) Fail(err error) {
	h.finish(&domain.CallEvent{Type: domain.CallEventError, Err: err})
}

func (h *fakeHandle) finish(last *domain.CallEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	if last != nil {
		h.events <- *last
	}
	h.closed = true
	close(h.events)
}

func (h *fakeHandle) Closed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

// recordingStore is an in-memory Persistence.
type recordingStore struct {
	mu      sync.Mutex
	err     error
	records []domain.CallHistoryRecord
}

func (s *recordingStore) Insert(_ context.Context, table string, record any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	if table != domain.CallHistoryTable {
		return fmt.Errorf("unexpected table %q", table)
	}
	s.records = append(s.records, record.(domain.CallHistoryRecord))
	return nil
}

func (s *recordingStore) Records() []domain.CallHistoryRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.CallHistoryRecord(nil), s.records...)
}

type ringEvent struct {
	start bool
	kind  domain.RingKind
}

type fakeRingTone struct {
	mu     sync.Mutex
	events []ringEvent
}

func (r *fakeRingTone) StartRing(kind domain.RingKind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ringEvent{start: true, kind: kind})
}

func (r *fakeRingTone) StopRing() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ringEvent{})
}

func (r *fakeRingTone) Events() []ringEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ringEvent(nil), r.events...)
}

type fakeNotifier struct {
	mu            sync.Mutex
	notifications []domain.Notification
}

func (n *fakeNotifier) Notify(note domain.Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notifications = append(n.notifications, note)
}

func (n *fakeNotifier) OfType(typ domain.NotificationType) []domain.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []domain.Notification
	for _, note := range n.notifications {
		if note.Type == typ {
			out = append(out, note)
		}
	}
	return out
}
