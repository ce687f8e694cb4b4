// Package livestream manages the RTP ingest mountpoint of the streaming
// plugin and the per-viewer watch negotiation.
package livestream

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mossy-p/videoroom-relay/internal/janus"
	"github.com/mossy-p/videoroom-relay/internal/logger"
	"github.com/mossy-p/videoroom-relay/internal/models"
)

// Fixed ingest parameters. An external encoder targets these ports.
const (
	VideoPort    = 10000
	VideoPT      = 96
	VideoRTPMap  = "VP8/90000"
	AudioPort    = 10002
	AudioPT      = 111
	AudioRTPMap  = "opus/48000/2"
	releaseLimit = 5 * time.Second
)

// ErrNoOfferFromGateway is reported when a watch reply carries no offer.
var ErrNoOfferFromGateway = errors.New("no offer from gateway")

// MountStore records mountpoint metadata for the REST API.
type MountStore interface {
	SaveMount(ctx context.Context, m models.MountMetadata) error
	DeleteMount(ctx context.Context, id uint64) error
}

// Mounts creates and destroys mountpoints on the streaming plugin.
type Mounts struct {
	gw      janus.Gateway
	rtpHost string
	store   MountStore
}

// NewMounts advertises rtpHost to encoders. store may be nil.
func NewMounts(gw janus.Gateway, rtpHost string, store MountStore) *Mounts {
	return &Mounts{gw: gw, rtpHost: rtpHost, store: store}
}

// Create replaces mountpoint id with a fresh RTP mountpoint through h and
// returns where the encoder should send media.
func (m *Mounts) Create(ctx context.Context, h janus.Handle, id uint64, name, creator string) (models.RTPInfo, error) {
	if err := m.destroy(ctx, h, id); err != nil && !janus.IsCode(err, janus.CodeStreamingNoSuchMount) {
		logger.Debugf("Destroy mountpoint %d before create: %v", id, err)
	}

	_, err := h.Message(ctx, map[string]any{
		"request":     "create",
		"type":        "rtp",
		"id":          id,
		"name":        name,
		"description": name,
		"audio":       true,
		"video":       true,
		"audioport":   AudioPort,
		"audiopt":     AudioPT,
		"audiortpmap": AudioRTPMap,
		"videoport":   VideoPort,
		"videopt":     VideoPT,
		"videortpmap": VideoRTPMap,
		"permanent":   false,
	}, nil)
	if err != nil {
		return models.RTPInfo{}, fmt.Errorf("create mountpoint %d: %w", id, err)
	}

	rtp := models.RTPInfo{IP: m.rtpHost, VideoPort: VideoPort, AudioPort: AudioPort}
	logger.Infof("Mountpoint %d (%s) ready, RTP ingest at %s video:%d audio:%d", id, name, rtp.IP, rtp.VideoPort, rtp.AudioPort)

	if m.store != nil {
		meta := models.MountMetadata{ID: id, Name: name, RTP: rtp, CreatorID: creator, CreatedAt: time.Now()}
		if err := m.store.SaveMount(ctx, meta); err != nil {
			logger.Warnf("Failed to store mountpoint %d: %v", id, err)
		}
	}
	return rtp, nil
}

// Destroy removes mountpoint id through h. Failures are returned.
func (m *Mounts) Destroy(ctx context.Context, h janus.Handle, id uint64) error {
	if err := m.destroy(ctx, h, id); err != nil {
		return fmt.Errorf("destroy mountpoint %d: %w", id, err)
	}
	logger.Infof("Mountpoint %d destroyed", id)

	if m.store != nil {
		if err := m.store.DeleteMount(ctx, id); err != nil {
			logger.Warnf("Failed to remove mountpoint %d from store: %v", id, err)
		}
	}
	return nil
}

func (m *Mounts) destroy(ctx context.Context, h janus.Handle, id uint64) error {
	_, err := h.Message(ctx, map[string]any{
		"request":   "destroy",
		"id":        id,
		"permanent": false,
	}, nil)
	return err
}

// StartStream is Create on a short-lived session of its own.
func (m *Mounts) StartStream(ctx context.Context, id uint64, name, creator string) (rtp models.RTPInfo, err error) {
	err = m.withHandle(ctx, func(h janus.Handle) error {
		rtp, err = m.Create(ctx, h, id, name, creator)
		return err
	})
	return rtp, err
}

// DestroyStream is Destroy on a short-lived session of its own.
func (m *Mounts) DestroyStream(ctx context.Context, id uint64) error {
	return m.withHandle(ctx, func(h janus.Handle) error {
		return m.Destroy(ctx, h, id)
	})
}

func (m *Mounts) withHandle(ctx context.Context, fn func(janus.Handle) error) error {
	s, err := m.gw.Create(ctx)
	if err != nil {
		return err
	}
	defer release(ctx, "admin session", s.Destroy)

	h, err := s.Attach(ctx, janus.PluginStreaming)
	if err != nil {
		return err
	}
	defer release(ctx, "admin handle", h.Detach)

	return fn(h)
}

// release runs a teardown request and discards the outcome.
func release(ctx context.Context, what string, op func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseLimit)
	defer cancel()

	if err := op(ctx); err != nil {
		logger.Debugf("Release %s: %v", what, err)
	}
}
