package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	allowed := map[[2]CallState]bool{
		{CallStateIdle, CallStateDialing}:       true,
		{CallStateIdle, CallStateRinging}:       true,
		{CallStateDialing, CallStateConnecting}: true,
		{CallStateDialing, CallStateEnded}:      true,
		{CallStateRinging, CallStateConnecting}: true,
		{CallStateRinging, CallStateEnded}:      true,
		{CallStateConnecting, CallStateActive}:  true,
		{CallStateConnecting, CallStateEnded}:   true,
		{CallStateActive, CallStateEnded}:       true,
	}

	states := []CallState{CallStateIdle, CallStateDialing, CallStateRinging, CallStateConnecting, CallStateActive, CallStateEnded}
	for _, from := range states {
		for _, to := range states {
			assert.Equal(t, allowed[[2]CallState{from, to}], CanTransition(from, to), "%s -> %s", from, to)
		}
	}
	assert.True(t, CallStateEnded.Terminal())
	assert.False(t, CallStateActive.Terminal())
}

func TestCallDuration(t *testing.T) {
	start := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

	assert.Equal(t, int64(42), CallDuration(start, start.Add(42*time.Second+900*time.Millisecond)))
	assert.Equal(t, int64(0), CallDuration(start, start.Add(999*time.Millisecond)))
	assert.Equal(t, int64(0), CallDuration(time.Time{}, start))
	assert.Equal(t, int64(0), CallDuration(start, start.Add(-time.Second)))
}

func TestInitiatorPolicy(t *testing.T) {
	assert.True(t, InitiatorLowestID.ShouldInitiate("a", "b"))
	assert.False(t, InitiatorLowestID.ShouldInitiate("b", "a"))
	assert.True(t, InitiatorBoth.ShouldInitiate("b", "a"))
}

func TestCallSnapshotJSON(t *testing.T) {
	data, err := json.Marshal(CallSnapshot{State: CallStateActive, Type: CallTypeVideo})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"state":"active"`)
	assert.NotContains(t, string(data), "started_at")
}

func TestCallMetadataWireFormat(t *testing.T) {
	md := CallInvite{CallerID: "u1", CalleeID: "u2", IsVideo: true, CallerName: "Ada"}.Metadata()
	data, err := json.Marshal(md)
	require.NoError(t, err)
	assert.JSONEq(t, `{"isVideo":true,"callerName":"Ada","callerId":"u1"}`, string(data))
}

func TestPresenceSnapshotUsers(t *testing.T) {
	snap := PresenceSnapshot{Members: []PresenceRecord{
		{PeerID: "p2", UserID: "bob"},
		{PeerID: "p1", UserID: "alice"},
		{PeerID: "p3", UserID: "bob"},
	}}
	assert.Equal(t, []UserID{"alice", "bob"}, snap.Users())
	assert.True(t, snap.Contains("p3"))
	assert.False(t, snap.Contains("p9"))
	assert.Equal(t, "group:g1", GroupPresenceChannel("g1"))
}
