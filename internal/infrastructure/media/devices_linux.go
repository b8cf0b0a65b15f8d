//go:build linux

package media

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"rillcall/internal/core/domain"
	"rillcall/internal/core/ports"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"
)

// Devices captures camera and microphone through V4L2 and malgo, encoding
// VP8 and Opus.
type Devices struct {
	cfg      Config
	selector *mediadevices.CodecSelector
	logger   *zap.SugaredLogger
}

var _ ports.MediaDevices = (*Devices)(nil)

func NewDevices(cfg Config, logger *zap.SugaredLogger) (*Devices, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, fmt.Errorf("vp8 params: %w", err)
	}
	if cfg.VideoBitrate > 0 {
		vpxParams.BitRate = cfg.VideoBitrate
	}

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, fmt.Errorf("opus params: %w", err)
	}

	d := &Devices{
		cfg: cfg,
		selector: mediadevices.NewCodecSelector(
			mediadevices.WithVideoEncoders(&vpxParams),
			mediadevices.WithAudioEncoders(&opusParams),
		),
		logger: logger,
	}

	if cfg.Enabled {
		for _, info := range mediadevices.EnumerateDevices() {
			logger.Debugw("media device found", "kind", info.Kind, "label", info.Label)
		}
	}
	return d, nil
}

// RegisterCodecs registers the encoders' codecs with a peer connection media engine.
func (d *Devices) RegisterCodecs(me *webrtc.MediaEngine) error {
	d.selector.Populate(me)
	return nil
}

func (d *Devices) GetUserMedia(ctx context.Context, c domain.MediaConstraints) (ports.LocalStream, error) {
	if !d.cfg.Enabled {
		return nil, fmt.Errorf("%w: capture disabled", domain.ErrDeviceUnavailable)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	constraints := mediadevices.MediaStreamConstraints{Codec: d.selector}
	if c.Audio {
		constraints.Audio = func(_ *mediadevices.MediaTrackConstraints) {}
	}
	if c.Video {
		constraints.Video = func(mc *mediadevices.MediaTrackConstraints) {
			// Raw formats only; some MJPEG nodes emit frames the VP8 encoder chokes on.
			mc.FrameFormat = prop.FrameFormatOneOf{
				frame.FormatYUYV,
				frame.FormatI420,
				frame.FormatI444,
				frame.FormatRGBA,
			}
			if d.cfg.VideoWidth > 0 {
				mc.Width = prop.IntRanged{Max: d.cfg.VideoWidth}
			}
			if d.cfg.VideoHeight > 0 {
				mc.Height = prop.IntRanged{Max: d.cfg.VideoHeight}
			}
			if d.cfg.FrameRate > 0 {
				mc.FrameRate = prop.FloatRanged{Max: float32(d.cfg.FrameRate)}
			}
		}
	}

	captured, err := mediadevices.GetUserMedia(constraints)
	if err != nil {
		return nil, classify(err)
	}

	var tracks []*Track
	for _, mt := range captured.GetTracks() {
		mt.OnEnded(func(err error) {
			if err != nil {
				d.logger.Warnw("local track ended", "track_id", mt.ID(), "error", err)
			}
		})
		tracks = append(tracks, NewTrack(mt, func() { _ = mt.Close() }))
	}
	return NewStream(tracks...), nil
}

func classify(err error) error {
	if errors.Is(err, os.ErrPermission) || strings.Contains(strings.ToLower(err.Error()), "permission") {
		return fmt.Errorf("%w: %v", domain.ErrPermissionDenied, err)
	}
	return fmt.Errorf("%w: %v", domain.ErrDeviceUnavailable, err)
}
