//go:build !linux

package media

import (
	"context"
	"fmt"

	"rillcall/internal/core/domain"
	"rillcall/internal/core/ports"

	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"
)

// Devices has no capture drivers on this platform; every request fails with
// domain.ErrDeviceUnavailable.
type Devices struct {
	logger *zap.SugaredLogger
}

var _ ports.MediaDevices = (*Devices)(nil)

func NewDevices(_ Config, logger *zap.SugaredLogger) (*Devices, error) {
	logger.Warn("no media capture drivers on this platform")
	return &Devices{logger: logger}, nil
}

func (d *Devices) RegisterCodecs(me *webrtc.MediaEngine) error {
	return me.RegisterDefaultCodecs()
}

func (d *Devices) GetUserMedia(_ context.Context, _ domain.MediaConstraints) (ports.LocalStream, error) {
	return nil, fmt.Errorf("%w: no capture drivers", domain.ErrDeviceUnavailable)
}
