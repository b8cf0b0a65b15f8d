package media

import (
	"testing"

	"rillcall/internal/core/domain"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLocal(t *testing.T, kind string) webrtc.TrackLocal {
	t.Helper()
	mime := webrtc.MimeTypeOpus
	if kind == "video" {
		mime = webrtc.MimeTypeVP8
	}
	local, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: mime}, kind, "local")
	require.NoError(t, err)
	return local
}

func TestTrackToggleSwapsSenders(t *testing.T) {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pc.Close() })

	local := newLocal(t, "video")
	track := NewTrack(local, nil)
	assert.Equal(t, domain.TrackKindVideo, track.Kind())

	sender, err := pc.AddTrack(track.LocalTrack())
	require.NoError(t, err)
	require.NoError(t, track.Attach(sender))

	track.SetEnabled(false)
	assert.False(t, track.Enabled())
	assert.Nil(t, sender.Track())

	track.SetEnabled(true)
	assert.True(t, track.Enabled())
	assert.Equal(t, local, sender.Track())
}

func TestTrackAttachWhileDisabled(t *testing.T) {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pc.Close() })

	track := NewTrack(newLocal(t, "audio"), nil)
	track.SetEnabled(false)

	sender, err := pc.AddTrack(track.LocalTrack())
	require.NoError(t, err)
	require.NoError(t, track.Attach(sender))
	assert.Nil(t, sender.Track())
}

func TestStreamStopsEachTrackOnce(t *testing.T) {
	stops := map[string]int{}
	audio := NewTrack(newLocal(t, "audio"), func() { stops["audio"]++ })
	video := NewTrack(newLocal(t, "video"), func() { stops["video"]++ })

	stream := NewStream(audio, video)
	require.Len(t, stream.Tracks(), 2)
	assert.NotEmpty(t, stream.ID())

	stream.Stop()
	stream.Stop()
	assert.Equal(t, map[string]int{"audio": 1, "video": 1}, stops)

	// Toggling a stopped track is ignored.
	audio.SetEnabled(false)
	assert.True(t, audio.Enabled())
}
