package services

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"rillcall/internal/core/domain"
	"rillcall/internal/core/ports"

	"go.uber.org/zap"
)

// MediaStreamManager hands out local capture streams and guarantees each one
// is stopped exactly once.
type MediaStreamManager struct {
	devices ports.MediaDevices
	metrics ports.CallMetrics
	logger  *zap.SugaredLogger

	mu   sync.Mutex
	live map[string]ports.LocalStream
}

func NewMediaStreamManager(devices ports.MediaDevices, metrics ports.CallMetrics, logger *zap.SugaredLogger) *MediaStreamManager {
	return &MediaStreamManager{
		devices: devices,
		metrics: metrics,
		logger:  logger,
		live:    make(map[string]ports.LocalStream),
	}
}

// Acquire opens the microphone and, if video is set, the camera.
// Errors always match domain.ErrPermissionDenied or domain.ErrDeviceUnavailable.
func (m *MediaStreamManager) Acquire(ctx context.Context, video bool) (ports.LocalStream, error) {
	stream, err := m.devices.GetUserMedia(ctx, domain.MediaConstraints{Audio: true, Video: video})
	if err != nil {
		if !errors.Is(err, domain.ErrPermissionDenied) && !errors.Is(err, domain.ErrDeviceUnavailable) {
			err = fmt.Errorf("%w: %v", domain.ErrDeviceUnavailable, err)
		}
		m.metrics.MediaAcquired(err)
		m.logger.Warnw("media acquisition failed", "video", video, "error", err)
		return nil, err
	}
	m.metrics.MediaAcquired(nil)

	m.mu.Lock()
	m.live[stream.ID()] = stream
	m.mu.Unlock()

	m.logger.Debugw("media acquired", "stream_id", stream.ID(), "tracks", len(stream.Tracks()))
	return stream, nil
}

func (m *MediaStreamManager) SetAudioEnabled(stream ports.LocalStream, enabled bool) {
	m.setKindEnabled(stream, domain.TrackKindAudio, enabled)
}

func (m *MediaStreamManager) SetVideoEnabled(stream ports.LocalStream, enabled bool) {
	m.setKindEnabled(stream, domain.TrackKindVideo, enabled)
}

func (m *MediaStreamManager) setKindEnabled(stream ports.LocalStream, kind domain.TrackKind, enabled bool) {
	if stream == nil {
		return
	}
	for _, track := range stream.Tracks() {
		if track.Kind() == kind {
			track.SetEnabled(enabled)
		}
	}
}

// Release stops every track of stream. It reports false when the stream was
// already released or never came from this manager.
func (m *MediaStreamManager) Release(stream ports.LocalStream) bool {
	if stream == nil {
		return false
	}

	m.mu.Lock()
	_, ok := m.live[stream.ID()]
	delete(m.live, stream.ID())
	m.mu.Unlock()

	if !ok {
		m.logger.Debugw("stream already released", "stream_id", stream.ID())
		return false
	}

	stream.Stop()
	m.logger.Debugw("media released", "stream_id", stream.ID())
	return true
}

// Outstanding is the number of acquired streams not yet released.
func (m *MediaStreamManager) Outstanding() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.live)
}
