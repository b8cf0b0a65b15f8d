package presence

import (
	"context"
	"errors"
	"sort"
	"sync"

	"rillcall/internal/core/domain"
	"rillcall/internal/core/ports"
)

var ErrChannelClosed = errors.New("presence channel closed")

// MemoryNetwork is an in-process presence hub. Every process sharing the
// value sees the same channels; it backs single-node deployments and tests.
type MemoryNetwork struct {
	mu       sync.Mutex
	channels map[string]map[*memoryChannel]struct{}
}

func NewMemoryNetwork() *MemoryNetwork {
	return &MemoryNetwork{
		channels: make(map[string]map[*memoryChannel]struct{}),
	}
}

func (n *MemoryNetwork) Join(ctx context.Context, channel string) (ports.PresenceChannel, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c := &memoryChannel{
		network: n,
		name:    channel,
		syncs:   make(chan domain.PresenceSnapshot, 8),
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	subs, ok := n.channels[channel]
	if !ok {
		subs = make(map[*memoryChannel]struct{})
		n.channels[channel] = subs
	}
	subs[c] = struct{}{}
	c.deliver(n.snapshotLocked(channel))
	return c, nil
}

// Drop disconnects every subscriber of channel as if the backend connection
// had been lost. Their records disappear and their Syncs channels close.
func (n *MemoryNetwork) Drop(channel string) {
	n.mu.Lock()
	defer n.mu.Unlock()

	for c := range n.channels[channel] {
		c.closeLocked()
	}
	delete(n.channels, channel)
}

// Members returns the tracked records on channel.
func (n *MemoryNetwork) Members(channel string) []domain.PresenceRecord {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.snapshotLocked(channel).Members
}

func (n *MemoryNetwork) snapshotLocked(channel string) domain.PresenceSnapshot {
	snap := domain.PresenceSnapshot{Channel: channel, Members: []domain.PresenceRecord{}}
	for c := range n.channels[channel] {
		if c.record != nil {
			snap.Members = append(snap.Members, *c.record)
		}
	}
	sort.Slice(snap.Members, func(i, j int) bool {
		return snap.Members[i].PeerID < snap.Members[j].PeerID
	})
	return snap
}

func (n *MemoryNetwork) broadcastLocked(channel string) {
	snap := n.snapshotLocked(channel)
	for c := range n.channels[channel] {
		c.deliver(snap)
	}
}

type memoryChannel struct {
	network *MemoryNetwork
	name    string
	syncs   chan domain.PresenceSnapshot

	// guarded by network.mu
	record *domain.PresenceRecord
	closed bool
}

func (c *memoryChannel) Name() string {
	return c.name
}

func (c *memoryChannel) Track(ctx context.Context, record domain.PresenceRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.network.mu.Lock()
	defer c.network.mu.Unlock()

	if c.closed {
		return ErrChannelClosed
	}
	c.record = &record
	c.network.broadcastLocked(c.name)
	return nil
}

func (c *memoryChannel) Syncs() <-chan domain.PresenceSnapshot {
	return c.syncs
}

func (c *memoryChannel) Leave(context.Context) error {
	c.network.mu.Lock()
	defer c.network.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closeLocked()
	delete(c.network.channels[c.name], c)
	c.network.broadcastLocked(c.name)
	return nil
}

func (c *memoryChannel) closeLocked() {
	if c.closed {
		return
	}
	c.closed = true
	c.record = nil
	close(c.syncs)
}

// deliver keeps only the newest snapshots when the reader falls behind.
// Each one is complete, so skipping older ones loses nothing.
func (c *memoryChannel) deliver(snap domain.PresenceSnapshot) {
	if c.closed {
		return
	}
	for {
		select {
		case c.syncs <- snap:
			return
		default:
		}
		select {
		case <-c.syncs:
		default:
		}
	}
}
