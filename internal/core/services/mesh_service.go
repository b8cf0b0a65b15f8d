package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"rillcall/internal/core/domain"
	"rillcall/internal/core/ports"
	"rillcall/pkg/retry"
	"rillcall/pkg/tracing"
	"rillcall/pkg/utils"

	"go.uber.org/zap"
)

type MeshServiceDeps struct {
	Identity  ports.IdentityProvider
	Endpoints ports.EndpointFactory
	Signaling *SignalingChannel
	Media     *MediaStreamManager
	Lease     *DeviceLease
	History   *HistoryRecorder
	Metrics   ports.CallMetrics
	Notifier  ports.Notifier // optional
	Policy    domain.InitiatorPolicy
	Rejoin    retry.Config
	Clock     utils.Clock // optional
	Logger    *zap.SugaredLogger
}

// MeshService runs a full-mesh group call: every member holds a direct
// connection to every other member of the group channel.
type MeshService struct {
	identity  ports.IdentityProvider
	endpoints ports.EndpointFactory
	signaling *SignalingChannel
	media     *MediaStreamManager
	lease     *DeviceLease
	history   *HistoryRecorder
	metrics   ports.CallMetrics
	notifier  ports.Notifier
	policy    domain.InitiatorPolicy
	rejoin    retry.Config
	clock     utils.Clock
	logger    *zap.SugaredLogger

	*actor

	// loop-owned
	group        *meshGroup
	joining      bool
	pendingLeave bool
	generation   uint64

	mu      sync.RWMutex
	current *domain.MeshSnapshot
}

type meshConn struct {
	handle      ports.CallHandle
	peer        domain.PeerID
	user        domain.UserID
	name        string
	outbound    bool
	connectedAt time.Time
}

// meshMember merges every handle to the same remote peer.
type meshMember struct {
	participant domain.Participant
	handles     map[string]struct{}
}

type meshGroup struct {
	id       domain.GroupID
	gen      uint64
	identity domain.PeerIdentity
	self     domain.PresenceRecord
	endpoint ports.PeerEndpoint
	channel  ports.PresenceChannel
	stream   ports.LocalStream
	joinedAt time.Time
	audio    bool
	video    bool

	roster  map[domain.PeerID]domain.PresenceRecord
	conns   map[string]*meshConn
	members map[domain.PeerID]*meshMember
	dialing map[domain.PeerID]struct{}

	ctx    context.Context
	cancel context.CancelFunc
}

func NewMeshService(deps MeshServiceDeps) *MeshService {
	m := &MeshService{
		identity:  deps.Identity,
		endpoints: deps.Endpoints,
		signaling: deps.Signaling,
		media:     deps.Media,
		lease:     deps.Lease,
		history:   deps.History,
		metrics:   deps.Metrics,
		notifier:  deps.Notifier,
		policy:    deps.Policy,
		rejoin:    deps.Rejoin,
		clock:     deps.Clock,
		logger:    deps.Logger,
		actor:     newActor(),
	}
	if m.notifier == nil {
		m.notifier = nopNotifier{}
	}
	if m.clock == nil {
		m.clock = utils.SystemClock()
	}
	if m.policy == "" {
		m.policy = domain.InitiatorLowestID
	}
	return m
}

// Join enters the group call. Media is acquired before anything is announced,
// so a permission failure leaves no trace on the group channel.
func (m *MeshService) Join(ctx context.Context, groupID domain.GroupID) (domain.MeshSnapshot, error) {
	ctx, span := tracing.TraceMeshOperation(ctx, "join", string(groupID))
	defer span.End()

	identity, err := m.identity.CurrentUser(ctx)
	if err != nil {
		return domain.MeshSnapshot{}, err
	}

	var (
		gen   uint64
		opErr error
	)
	if err := m.exec(ctx, func() {
		if m.group != nil || m.joining {
			opErr = domain.ErrAlreadyInGroup
			return
		}
		if err := m.lease.Acquire(leaseOwnerMesh); err != nil {
			opErr = err
			return
		}
		m.joining = true
		m.pendingLeave = false
		m.generation++
		gen = m.generation
	}); err != nil {
		return domain.MeshSnapshot{}, err
	}
	if opErr != nil {
		return domain.MeshSnapshot{}, opErr
	}

	var (
		stream   ports.LocalStream
		endpoint ports.PeerEndpoint
		channel  ports.PresenceChannel
	)
	bg := context.WithoutCancel(ctx)
	abort := func(cause error) (domain.MeshSnapshot, error) {
		if channel != nil {
			_ = channel.Leave(bg)
		}
		if endpoint != nil {
			_ = endpoint.Close()
		}
		m.media.Release(stream)
		_ = m.exec(bg, func() {
			m.joining = false
			m.pendingLeave = false
			m.lease.Release(leaseOwnerMesh)
		})
		tracing.RecordError(ctx, cause)
		m.logger.Warnw("group join failed", "group_id", groupID, "error", cause)
		return domain.MeshSnapshot{}, cause
	}

	stream, err = m.media.Acquire(ctx, true)
	if err != nil {
		if alert, ok := alertFor(err); ok {
			m.notifier.Notify(domain.Notification{Type: domain.NotifyAlert, Data: alert})
		}
		return abort(err)
	}

	peerID := domain.PeerID(utils.GenerateMeshPeerID())
	endpoint, err = m.endpoints.Open(ctx, peerID)
	if err != nil {
		return abort(fmt.Errorf("%w: open mesh endpoint: %v", domain.ErrSignalingUnreachable, err))
	}

	self := domain.PresenceRecord{
		PeerID:   peerID,
		UserID:   identity.UserID,
		Name:     identity.DisplayName,
		Avatar:   identity.AvatarRef,
		JoinedAt: m.clock(),
	}
	channel, err = m.signaling.JoinGroup(ctx, groupID, self)
	if err != nil {
		return abort(fmt.Errorf("%w: %v", domain.ErrSignalingUnreachable, err))
	}

	var (
		snap      domain.MeshSnapshot
		cancelled bool
	)
	if err := m.exec(bg, func() {
		if m.pendingLeave {
			cancelled = true
			return
		}
		groupCtx, cancel := context.WithCancel(context.Background())
		g := &meshGroup{
			id:       groupID,
			gen:      gen,
			identity: identity,
			self:     self,
			endpoint: endpoint,
			channel:  channel,
			stream:   stream,
			joinedAt: self.JoinedAt,
			audio:    true,
			video:    true,
			roster:   make(map[domain.PeerID]domain.PresenceRecord),
			conns:    make(map[string]*meshConn),
			members:  make(map[domain.PeerID]*meshMember),
			dialing:  make(map[domain.PeerID]struct{}),
			ctx:      groupCtx,
			cancel:   cancel,
		}
		m.group = g
		m.joining = false

		go m.acceptInbound(gen, endpoint)
		go m.watchGroup(groupCtx, gen, groupID, self, channel)

		snap = m.publish()
		m.metrics.MeshParticipants(0)
	}); err != nil {
		return abort(err)
	}
	if cancelled {
		return abort(fmt.Errorf("join %s cancelled: %w", groupID, domain.ErrNotInGroup))
	}

	m.notifier.Notify(domain.Notification{Type: domain.NotifyMesh, Data: snap})
	m.logger.Infow("joined group call",
		"group_id", groupID,
		"peer_id", peerID,
		"policy", m.policy,
	)
	return snap, nil
}

// Leave hangs up every connection and withdraws from the group channel.
// Leaving while not in a group is a no-op.
func (m *MeshService) Leave(ctx context.Context) error {
	ctx, span := tracing.TraceMeshOperation(ctx, "leave", "")
	defer span.End()

	var (
		g    *meshGroup
		ch   ports.PresenceChannel
		snap domain.MeshSnapshot
	)
	if err := m.exec(ctx, func() {
		if m.group == nil {
			if m.joining {
				m.pendingLeave = true
			}
			return
		}
		g = m.group
		ch = g.channel
		m.group = nil

		now := m.clock()
		for _, member := range g.members {
			m.recordMember(g, member, now)
		}
		for _, c := range g.conns {
			_ = c.handle.Close()
		}
		g.cancel()
		m.media.Release(g.stream)
		m.lease.Release(leaseOwnerMesh)

		snap = m.publish()
		m.metrics.MeshParticipants(0)
	}); err != nil {
		return err
	}
	if g == nil {
		return nil
	}

	if err := g.endpoint.Close(); err != nil {
		m.logger.Debugw("closing mesh endpoint", "group_id", g.id, "error", err)
	}
	var leaveErr error
	if ch != nil {
		leaveErr = ch.Leave(ctx)
	}

	m.notifier.Notify(domain.Notification{Type: domain.NotifyMesh, Data: snap})
	m.logger.Infow("left group call", "group_id", g.id, "peer_id", g.self.PeerID)

	if leaveErr != nil {
		return fmt.Errorf("leave group %s: %w", g.id, leaveErr)
	}
	return nil
}

func (m *MeshService) SetAudioEnabled(ctx context.Context, enabled bool) (domain.MeshSnapshot, error) {
	return m.toggle(ctx, func(g *meshGroup) {
		m.media.SetAudioEnabled(g.stream, enabled)
		g.audio = enabled
	})
}

func (m *MeshService) SetVideoEnabled(ctx context.Context, enabled bool) (domain.MeshSnapshot, error) {
	return m.toggle(ctx, func(g *meshGroup) {
		m.media.SetVideoEnabled(g.stream, enabled)
		g.video = enabled
	})
}

func (m *MeshService) toggle(ctx context.Context, apply func(*meshGroup)) (domain.MeshSnapshot, error) {
	var (
		snap  domain.MeshSnapshot
		opErr error
	)
	if err := m.exec(ctx, func() {
		if m.group == nil {
			opErr = domain.ErrNotInGroup
			return
		}
		apply(m.group)
		snap = m.publish()
	}); err != nil {
		return domain.MeshSnapshot{}, err
	}
	return snap, opErr
}

// Snapshot returns the current group call, if any.
func (m *MeshService) Snapshot() (domain.MeshSnapshot, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil {
		return domain.MeshSnapshot{}, false
	}
	return *m.current, true
}

// Close leaves any group and stops the loop.
func (m *MeshService) Close(ctx context.Context) error {
	err := m.Leave(ctx)
	m.stop()
	if errors.Is(err, domain.ErrServiceClosed) {
		return nil
	}
	return err
}

func (m *MeshService) acceptInbound(gen uint64, endpoint ports.PeerEndpoint) {
	for handle := range endpoint.Incoming() {
		handle := handle
		if !m.post(func() { m.onInbound(gen, handle) }) {
			_ = handle.Close()
			return
		}
	}
}

// watchGroup feeds membership syncs to the loop and rejoins the group channel
// when it drops. Established connections are left alone while it is away.
func (m *MeshService) watchGroup(ctx context.Context, gen uint64, groupID domain.GroupID, self domain.PresenceRecord, ch ports.PresenceChannel) {
	for {
		for snapshot := range ch.Syncs() {
			snapshot := snapshot
			if !m.post(func() { m.onSync(gen, snapshot) }) {
				return
			}
		}
		if ctx.Err() != nil {
			return
		}

		m.logger.Warnw("group channel dropped, rejoining",
			"group_id", groupID,
			"error", domain.ErrSignalingUnreachable,
		)
		next, err := retry.RetryWithResult(ctx, m.rejoin, func() (ports.PresenceChannel, error) {
			return m.signaling.JoinGroup(ctx, groupID, self)
		})
		if err != nil {
			if ctx.Err() == nil {
				m.logger.Errorw("giving up on group channel", "group_id", groupID, "error", err)
			}
			return
		}

		installed := false
		_ = m.exec(context.Background(), func() {
			if g := m.group; g != nil && g.gen == gen {
				g.channel = next
				installed = true
			}
		})
		if !installed {
			_ = next.Leave(context.Background())
			return
		}
		ch = next
	}
}

func (m *MeshService) onSync(gen uint64, snapshot domain.PresenceSnapshot) {
	g := m.group
	if g == nil || g.gen != gen {
		return
	}

	roster := make(map[domain.PeerID]domain.PresenceRecord, len(snapshot.Members))
	for _, rec := range snapshot.Members {
		if rec.PeerID == g.self.PeerID {
			continue
		}
		roster[rec.PeerID] = rec
	}
	g.roster = roster

	md := domain.CallMetadata{
		IsVideo:    true,
		CallerName: g.identity.DisplayName,
		CallerID:   g.identity.UserID,
	}
	for peer, rec := range roster {
		if g.connectedTo(peer) {
			continue
		}
		if _, ok := g.dialing[peer]; ok {
			continue
		}
		if !m.policy.ShouldInitiate(g.self.PeerID, peer) {
			continue
		}
		g.dialing[peer] = struct{}{}
		go m.dial(g.ctx, gen, g.endpoint, g.stream, rec, md)
	}
}

func (m *MeshService) dial(ctx context.Context, gen uint64, endpoint ports.PeerEndpoint, stream ports.LocalStream, rec domain.PresenceRecord, md domain.CallMetadata) {
	handle, err := endpoint.Call(ctx, rec.PeerID, stream, md)
	if !m.post(func() { m.onDialed(gen, rec, handle, err) }) && handle != nil {
		_ = handle.Close()
	}
}

func (m *MeshService) onDialed(gen uint64, rec domain.PresenceRecord, handle ports.CallHandle, err error) {
	g := m.group
	if g == nil || g.gen != gen {
		if handle != nil {
			_ = handle.Close()
		}
		return
	}
	delete(g.dialing, rec.PeerID)

	if err != nil {
		m.logger.Warnw("mesh dial failed", "group_id", g.id, "peer_id", rec.PeerID, "error", err)
		return
	}
	m.addConn(g, &meshConn{
		handle:   handle,
		peer:     rec.PeerID,
		user:     rec.UserID,
		name:     rec.Name,
		outbound: true,
	})
}

func (m *MeshService) onInbound(gen uint64, handle ports.CallHandle) {
	g := m.group
	if g == nil || g.gen != gen {
		_ = handle.Close()
		return
	}

	md := handle.Metadata()
	m.addConn(g, &meshConn{
		handle: handle,
		peer:   handle.Remote(),
		user:   md.CallerID,
		name:   md.CallerName,
	})

	ctx, stream := g.ctx, g.stream
	go func() {
		if err := handle.Answer(ctx, stream); err != nil {
			m.post(func() {
				m.onConnEvent(gen, handle.ID(), domain.CallEvent{Type: domain.CallEventError, Err: err})
			})
		}
	}()
}

func (m *MeshService) addConn(g *meshGroup, c *meshConn) {
	g.conns[c.handle.ID()] = c
	m.logger.Debugw("mesh connection opened",
		"group_id", g.id,
		"peer_id", c.peer,
		"outbound", c.outbound,
	)
	go m.forwardConn(g.gen, c.handle)
}

func (m *MeshService) forwardConn(gen uint64, handle ports.CallHandle) {
	id := handle.ID()
	for ev := range handle.Events() {
		ev := ev
		if !m.post(func() { m.onConnEvent(gen, id, ev) }) {
			return
		}
	}
}

func (m *MeshService) onConnEvent(gen uint64, handleID string, ev domain.CallEvent) {
	g := m.group
	if g == nil || g.gen != gen {
		return
	}
	c, ok := g.conns[handleID]
	if !ok {
		return
	}

	switch ev.Type {
	case domain.CallEventStream:
		if !c.connectedAt.IsZero() {
			return
		}
		c.connectedAt = m.clock()
		m.attach(g, c, ev.Stream)
	case domain.CallEventClose, domain.CallEventError:
		if ev.Err != nil {
			m.logger.Warnw("mesh connection failed", "group_id", g.id, "peer_id", c.peer, "error", ev.Err)
		}
		m.dropConn(g, c)
	}
}

func (m *MeshService) attach(g *meshGroup, c *meshConn, stream domain.RemoteStream) {
	member, ok := g.members[c.peer]
	if !ok {
		p := domain.Participant{
			PeerID:      c.peer,
			UserID:      c.user,
			Name:        c.name,
			StreamID:    stream.ID,
			ConnectedAt: c.connectedAt,
		}
		if rec, ok := g.roster[c.peer]; ok {
			p.UserID = rec.UserID
			p.Name = rec.Name
			p.Avatar = rec.Avatar
		}
		if p.UserID == "" {
			p.UserID = domain.UserID(c.peer)
		}
		member = &meshMember{participant: p, handles: make(map[string]struct{})}
		g.members[c.peer] = member
		m.logger.Infow("participant joined", "group_id", g.id, "peer_id", c.peer, "user_id", p.UserID)
	}
	member.handles[c.handle.ID()] = struct{}{}
	member.participant.Connections = len(member.handles)

	m.membershipChanged(g)
}

func (m *MeshService) dropConn(g *meshGroup, c *meshConn) {
	id := c.handle.ID()
	delete(g.conns, id)
	_ = c.handle.Close()

	member, ok := g.members[c.peer]
	if !ok {
		return
	}
	if _, ok := member.handles[id]; !ok {
		return
	}
	delete(member.handles, id)
	member.participant.Connections = len(member.handles)

	if len(member.handles) == 0 {
		delete(g.members, c.peer)
		m.recordMember(g, member, m.clock())
		m.logger.Infow("participant left", "group_id", g.id, "peer_id", c.peer)
	}
	m.membershipChanged(g)
}

// recordMember writes the local side's history entry for one remote participant.
func (m *MeshService) recordMember(g *meshGroup, member *meshMember, endedAt time.Time) {
	m.history.Record(domain.CallHistoryRecord{
		CallerID:        g.identity.UserID,
		ReceiverID:      member.participant.UserID,
		Type:            domain.CallTypeVideo,
		DurationSeconds: domain.CallDuration(member.participant.ConnectedAt, endedAt),
	})
}

func (m *MeshService) membershipChanged(g *meshGroup) {
	snap := m.publish()
	m.metrics.MeshParticipants(len(g.members))
	m.notifier.Notify(domain.Notification{Type: domain.NotifyMesh, Data: snap})
}

func (m *MeshService) publish() domain.MeshSnapshot {
	g := m.group
	if g == nil {
		m.mu.Lock()
		m.current = nil
		m.mu.Unlock()
		return domain.MeshSnapshot{}
	}

	participants := make([]domain.Participant, 0, len(g.members))
	for _, member := range g.members {
		participants = append(participants, member.participant)
	}
	sort.Slice(participants, func(i, j int) bool {
		return participants[i].PeerID < participants[j].PeerID
	})

	snap := domain.MeshSnapshot{
		GroupID:      g.id,
		LocalPeer:    g.self.PeerID,
		Participants: participants,
		Alone:        len(participants) == 0,
		AudioEnabled: g.audio,
		VideoEnabled: g.video,
		JoinedAt:     g.joinedAt,
	}
	m.mu.Lock()
	m.current = &snap
	m.mu.Unlock()
	return snap
}

func (g *meshGroup) connectedTo(peer domain.PeerID) bool {
	for _, c := range g.conns {
		if c.peer == peer {
			return true
		}
	}
	return false
}
