package services

import (
	"context"
	"fmt"
	"sort"
	"testing"
	"time"

	"rillcall/internal/core/domain"
	"rillcall/internal/infrastructure/presence"
	"rillcall/pkg/retry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type meshNode struct {
	user    domain.UserID
	svc     *MeshService
	devices *fakeDevices
	media   *MediaStreamManager
	lease   *DeviceLease
	store   *recordingStore
	history *HistoryRecorder
	metrics *MetricsService
	notes   *fakeNotifier
}

type meshEnv struct {
	clock *fakeClock
	net   *fakeNet
	hub   *presence.MemoryNetwork
}

func newMeshEnv() *meshEnv {
	return &meshEnv{clock: newFakeClock(), net: newFakeNet(), hub: presence.NewMemoryNetwork()}
}

func (e *meshEnv) node(t *testing.T, user domain.UserID, policy domain.InitiatorPolicy) *meshNode {
	t.Helper()
	logger := zaptest.NewLogger(t).Sugar().With("node", user)

	n := &meshNode{
		user:    user,
		devices: &fakeDevices{},
		lease:   NewDeviceLease(),
		store:   &recordingStore{},
		metrics: NewMetricsService(),
		notes:   &fakeNotifier{},
	}
	n.media = NewMediaStreamManager(n.devices, n.metrics, logger)
	n.history = NewHistoryRecorder(n.store, nil, time.Second, n.metrics, logger)

	n.svc = NewMeshService(MeshServiceDeps{
		Identity:  StaticIdentity{UserID: user, DisplayName: string(user)},
		Endpoints: e.net,
		Signaling: NewSignalingChannel(nil, e.hub, 100, 100, n.metrics, logger),
		Media:     n.media,
		Lease:     n.lease,
		History:   n.history,
		Metrics:   n.metrics,
		Notifier:  n.notes,
		Policy:    policy,
		Rejoin: retry.Config{
			Enabled:      true,
			InitialDelay: 10 * time.Millisecond,
			MaxDelay:     50 * time.Millisecond,
			Multiplier:   2,
		},
		Clock:  e.clock.Now,
		Logger: logger,
	})

	t.Cleanup(func() {
		_ = n.svc.Close(context.Background())
		n.history.Wait()
	})
	return n
}

func (n *meshNode) participantUsers() []domain.UserID {
	snap, ok := n.svc.Snapshot()
	if !ok {
		return nil
	}
	users := make([]domain.UserID, 0, len(snap.Participants))
	for _, p := range snap.Participants {
		users = append(users, p.UserID)
	}
	sort.Slice(users, func(i, j int) bool { return users[i] < users[j] })
	return users
}

func (n *meshNode) waitParticipants(t *testing.T, want ...domain.UserID) {
	t.Helper()
	if want == nil {
		want = []domain.UserID{}
	}
	require.Eventually(t, func() bool {
		return assert.ObjectsAreEqual(want, n.participantUsers())
	}, 2*time.Second, 5*time.Millisecond, "%s participants: %v", n.user, n.participantUsers())
}

func TestMeshService_FullMesh(t *testing.T) {
	for _, policy := range []domain.InitiatorPolicy{domain.InitiatorLowestID, domain.InitiatorBoth} {
		t.Run(string(policy), func(t *testing.T) {
			ctx := context.Background()
			env := newMeshEnv()
			alice := env.node(t, "alice", policy)
			bob := env.node(t, "bob", policy)
			carol := env.node(t, "carol", policy)

			for _, n := range []*meshNode{alice, bob, carol} {
				_, err := n.svc.Join(ctx, "standup")
				require.NoError(t, err)
			}

			alice.waitParticipants(t, "bob", "carol")
			bob.waitParticipants(t, "alice", "carol")
			carol.waitParticipants(t, "alice", "bob")

			env.clock.Advance(30 * time.Second)
			require.NoError(t, carol.svc.Leave(ctx))

			_, inGroup := carol.svc.Snapshot()
			assert.False(t, inGroup)
			alice.waitParticipants(t, "bob")
			bob.waitParticipants(t, "alice")

			carol.history.Wait()
			records := carol.store.Records()
			require.Len(t, records, 2)
			for _, rec := range records {
				assert.Equal(t, domain.UserID("carol"), rec.CallerID)
				assert.Equal(t, domain.CallTypeVideo, rec.Type)
				assert.Equal(t, int64(30), rec.DurationSeconds)
			}

			require.Eventually(t, func() bool {
				return len(alice.store.Records()) == 1
			}, time.Second, 5*time.Millisecond)
			assert.Equal(t, domain.CallHistoryRecord{
				CallerID: "alice", ReceiverID: "carol", Type: domain.CallTypeVideo, DurationSeconds: 30,
			}, alice.store.Records()[0])

			assert.Zero(t, carol.media.Outstanding())
			assert.Empty(t, carol.lease.Holder())
			assert.Len(t, env.hub.Members(domain.GroupPresenceChannel("standup")), 2)
		})
	}
}

func TestMeshService_LowestIDDialsOnce(t *testing.T) {
	ctx := context.Background()
	env := newMeshEnv()
	alice := env.node(t, "alice", domain.InitiatorLowestID)
	bob := env.node(t, "bob", domain.InitiatorLowestID)

	_, err := alice.svc.Join(ctx, "pair")
	require.NoError(t, err)
	_, err = bob.svc.Join(ctx, "pair")
	require.NoError(t, err)

	alice.waitParticipants(t, "bob")
	bob.waitParticipants(t, "alice")

	snap, _ := alice.svc.Snapshot()
	require.Len(t, snap.Participants, 1)
	assert.Equal(t, 1, snap.Participants[0].Connections)
	assert.Equal(t, 1, alice.metrics.Snapshot().MeshParticipants)
}

func TestMeshService_AloneUntilSomeoneJoins(t *testing.T) {
	ctx := context.Background()
	env := newMeshEnv()
	alice := env.node(t, "alice", domain.InitiatorLowestID)
	bob := env.node(t, "bob", domain.InitiatorLowestID)

	snap, err := alice.svc.Join(ctx, "g1")
	require.NoError(t, err)
	assert.True(t, snap.Alone)
	assert.Equal(t, domain.GroupID("g1"), snap.GroupID)
	assert.NotEmpty(t, snap.LocalPeer)
	assert.True(t, snap.AudioEnabled)
	assert.True(t, snap.VideoEnabled)

	_, err = bob.svc.Join(ctx, "g1")
	require.NoError(t, err)
	alice.waitParticipants(t, "bob")

	snap, _ = alice.svc.Snapshot()
	assert.False(t, snap.Alone)
	assert.Equal(t, "bob", snap.Participants[0].Name)
	assert.NotEmpty(t, alice.notes.OfType(domain.NotifyMesh))
}

func TestMeshService_JoinTwiceAndToggles(t *testing.T) {
	ctx := context.Background()
	env := newMeshEnv()
	alice := env.node(t, "alice", domain.InitiatorLowestID)

	_, err := alice.svc.SetAudioEnabled(ctx, false)
	assert.ErrorIs(t, err, domain.ErrNotInGroup)

	_, err = alice.svc.Join(ctx, "g1")
	require.NoError(t, err)
	_, err = alice.svc.Join(ctx, "g2")
	assert.ErrorIs(t, err, domain.ErrAlreadyInGroup)

	snap, err := alice.svc.SetVideoEnabled(ctx, false)
	require.NoError(t, err)
	assert.False(t, snap.VideoEnabled)
	assert.True(t, snap.AudioEnabled)

	stream := alice.devices.Acquired()[0]
	assert.False(t, stream.track(domain.TrackKindVideo).Enabled())
	assert.True(t, stream.track(domain.TrackKindAudio).Enabled())

	require.NoError(t, alice.svc.Leave(ctx))
	require.NoError(t, alice.svc.Leave(ctx))
	assert.Equal(t, int32(1), stream.stopped.Load())

	_, err = alice.svc.SetVideoEnabled(ctx, true)
	assert.ErrorIs(t, err, domain.ErrNotInGroup)
}

func TestMeshService_SharesDeviceLeaseWithCalls(t *testing.T) {
	ctx := context.Background()
	env := newMeshEnv()
	alice := env.node(t, "alice", domain.InitiatorLowestID)

	require.NoError(t, alice.lease.Acquire(leaseOwnerCall))
	_, err := alice.svc.Join(ctx, "g1")
	assert.ErrorIs(t, err, domain.ErrSessionAlreadyActive)
	assert.Empty(t, alice.devices.Acquired())

	alice.lease.Release(leaseOwnerCall)
	_, err = alice.svc.Join(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, leaseOwnerMesh, alice.lease.Holder())
}

func TestMeshService_PermissionDeniedLeavesNoTrace(t *testing.T) {
	ctx := context.Background()
	env := newMeshEnv()
	alice := env.node(t, "alice", domain.InitiatorLowestID)
	alice.devices.err = fmt.Errorf("%w: camera blocked", domain.ErrPermissionDenied)

	_, err := alice.svc.Join(ctx, "g1")
	require.ErrorIs(t, err, domain.ErrPermissionDenied)

	assert.Empty(t, env.hub.Members(domain.GroupPresenceChannel("g1")))
	assert.Empty(t, alice.lease.Holder())
	assert.Len(t, alice.notes.OfType(domain.NotifyAlert), 1)
	_, inGroup := alice.svc.Snapshot()
	assert.False(t, inGroup)
}

func TestMeshService_LeaveDuringJoinCancelsIt(t *testing.T) {
	ctx := context.Background()
	env := newMeshEnv()
	alice := env.node(t, "alice", domain.InitiatorLowestID)

	waiting, release := alice.devices.block()
	joined := make(chan error, 1)
	go func() {
		_, err := alice.svc.Join(ctx, "g1")
		joined <- err
	}()

	<-waiting
	require.NoError(t, alice.svc.Leave(ctx))
	release()

	assert.ErrorIs(t, <-joined, domain.ErrNotInGroup)
	assert.Empty(t, env.hub.Members(domain.GroupPresenceChannel("g1")))
	assert.Zero(t, alice.media.Outstanding())
	assert.Empty(t, alice.lease.Holder())
}

func TestMeshService_RejoinsGroupChannelAfterDrop(t *testing.T) {
	ctx := context.Background()
	env := newMeshEnv()
	alice := env.node(t, "alice", domain.InitiatorLowestID)
	bob := env.node(t, "bob", domain.InitiatorLowestID)
	carol := env.node(t, "carol", domain.InitiatorLowestID)
	channel := domain.GroupPresenceChannel("g1")

	_, err := alice.svc.Join(ctx, "g1")
	require.NoError(t, err)
	_, err = bob.svc.Join(ctx, "g1")
	require.NoError(t, err)
	alice.waitParticipants(t, "bob")

	env.hub.Drop(channel)

	require.Eventually(t, func() bool {
		return len(env.hub.Members(channel)) == 2
	}, 2*time.Second, 5*time.Millisecond)
	alice.waitParticipants(t, "bob")

	_, err = carol.svc.Join(ctx, "g1")
	require.NoError(t, err)
	alice.waitParticipants(t, "bob", "carol")
	bob.waitParticipants(t, "alice", "carol")
	carol.waitParticipants(t, "alice", "bob")
}

func TestMeshService_PeerFailureRemovesParticipant(t *testing.T) {
	ctx := context.Background()
	env := newMeshEnv()
	alice := env.node(t, "alice", domain.InitiatorLowestID)
	bob := env.node(t, "bob", domain.InitiatorLowestID)

	_, err := alice.svc.Join(ctx, "g1")
	require.NoError(t, err)
	bobSnap, err := bob.svc.Join(ctx, "g1")
	require.NoError(t, err)
	alice.waitParticipants(t, "bob")
	bob.waitParticipants(t, "alice")

	env.clock.Advance(12 * time.Second)
	ep := env.net.lookup(bobSnap.LocalPeer)
	require.NotNil(t, ep)
	ep.mu.Lock()
	handles := append([]*fakeHandle(nil), ep.handles...)
	ep.mu.Unlock()
	for _, h := range handles {
		h.Fail(fmt.Errorf("ice failed"))
	}

	bob.waitParticipants(t)
	snap, _ := bob.svc.Snapshot()
	assert.True(t, snap.Alone)

	require.Eventually(t, func() bool {
		return len(bob.store.Records()) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(12), bob.store.Records()[0].DurationSeconds)
}
