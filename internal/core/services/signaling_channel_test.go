package services

import (
	"context"
	"testing"
	"time"

	"rillcall/internal/core/domain"
	"rillcall/internal/core/ports"
	"rillcall/internal/infrastructure/presence"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestSignalingChannel_DeliversInvites(t *testing.T) {
	ctx := context.Background()
	net := newFakeNet()
	logger := zaptest.NewLogger(t).Sugar()

	callerEP := net.endpoint("alice")
	calleeEP := net.endpoint("bob")
	caller := NewSignalingChannel(callerEP, nil, 10, 10, NewMetricsService(), logger)
	callee := NewSignalingChannel(calleeEP, nil, 10, 10, NewMetricsService(), logger)

	type delivered struct {
		invite domain.InboundInvite
		handle ports.CallHandle
	}
	got := make(chan delivered, 1)
	callee.OnInvite(func(invite domain.InboundInvite, handle ports.CallHandle) {
		got <- delivered{invite, handle}
	})
	callee.Start()

	handle, err := caller.SendInvite(ctx, domain.CallInvite{
		CallerID:   "alice",
		CalleeID:   "bob",
		IsVideo:    true,
		CallerName: "Alice",
	}, nil)
	require.NoError(t, err)

	select {
	case d := <-got:
		assert.Equal(t, domain.InboundInvite{
			CallerPeerID: "alice",
			CallerID:     "alice",
			IsVideo:      true,
			CallerName:   "Alice",
		}, d.invite)
		_ = d.handle.Close()
	case <-time.After(time.Second):
		t.Fatal("invite not delivered")
	}

	ev := <-handle.Events()
	assert.Equal(t, domain.CallEventClose, ev.Type)

	_ = calleeEP.Close()
	<-callee.Done()
}

func TestSignalingChannel_DeclinesWithoutHandler(t *testing.T) {
	net := newFakeNet()
	logger := zaptest.NewLogger(t).Sugar()
	calleeEP := net.endpoint("bob")
	callee := NewSignalingChannel(calleeEP, nil, 10, 10, NewMetricsService(), logger)
	callee.Start()

	caller := NewSignalingChannel(net.endpoint("alice"), nil, 10, 10, NewMetricsService(), logger)
	handle, err := caller.SendInvite(context.Background(), domain.CallInvite{CallerID: "alice", CalleeID: "bob"}, nil)
	require.NoError(t, err)

	ev := <-handle.Events()
	assert.Equal(t, domain.CallEventClose, ev.Type)

	_ = calleeEP.Close()
	<-callee.Done()
}

func TestSignalingChannel_RateLimitsInvites(t *testing.T) {
	net := newFakeNet()
	net.endpoint("bob")
	metrics := NewMetricsService()
	s := NewSignalingChannel(net.endpoint("alice"), nil, 0.001, 2, metrics, zaptest.NewLogger(t).Sugar())

	invite := domain.CallInvite{CallerID: "alice", CalleeID: "bob"}
	for i := 0; i < 2; i++ {
		_, err := s.SendInvite(context.Background(), invite, nil)
		require.NoError(t, err)
	}
	_, err := s.SendInvite(context.Background(), invite, nil)
	assert.ErrorIs(t, err, domain.ErrInviteRateLimited)

	snap := metrics.Snapshot()
	assert.Equal(t, 2, snap.InvitesSent)
	assert.Equal(t, 1, snap.InviteFailures)
}

func TestSignalingChannel_UnreachableCallee(t *testing.T) {
	net := newFakeNet()
	s := NewSignalingChannel(net.endpoint("alice"), nil, 10, 10, NewMetricsService(), zaptest.NewLogger(t).Sugar())

	_, err := s.SendInvite(context.Background(), domain.CallInvite{CallerID: "alice", CalleeID: "ghost"}, nil)
	assert.ErrorIs(t, err, domain.ErrPeerUnavailable)
}

func TestSignalingChannel_JoinGroupAnnounces(t *testing.T) {
	ctx := context.Background()
	hub := presence.NewMemoryNetwork()
	s := NewSignalingChannel(nil, hub, 10, 10, NewMetricsService(), zaptest.NewLogger(t).Sugar())

	ch, err := s.JoinGroup(ctx, "g1", domain.PresenceRecord{PeerID: "p1", UserID: "alice"})
	require.NoError(t, err)
	assert.Equal(t, "group:g1", ch.Name())
	assert.Len(t, hub.Members("group:g1"), 1)

	require.NoError(t, ch.Leave(ctx))
	assert.Empty(t, hub.Members("group:g1"))
}
