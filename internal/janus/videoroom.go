package janus

import (
	"context"

	"github.com/pkg/errors"

	"github.com/mossy-p/videoroom-relay/internal/logger"
)

// Participant is a videoroom participant as reported by listparticipants.
type Participant struct {
	ID         uint64  `json:"id"`
	Display    string  `json:"display,omitempty"`
	Publisher  bool    `json:"publisher"`
	AudioCodec *string `json:"audio_codec"`
	VideoCodec *string `json:"video_codec"`
}

// HasCodecs reports whether the gateway has negotiated at least one codec for
// the participant's feed.
func (p Participant) HasCodecs() bool {
	return p.AudioCodec != nil || p.VideoCodec != nil
}

// Publisher is an entry of the "publishers" list carried by videoroom events.
type Publisher struct {
	ID      uint64 `json:"id"`
	Display string `json:"display,omitempty"`
}

// JoinedData is the plugin data of a successful videoroom join.
type JoinedData struct {
	VideoRoom  string      `json:"videoroom"`
	Room       uint64      `json:"room"`
	ID         uint64      `json:"id"`
	Publishers []Publisher `json:"publishers,omitempty"`
}

// ListParticipants queries the participants of room through h.
func ListParticipants(ctx context.Context, h Handle, room uint64) ([]Participant, error) {
	resp, err := h.Message(ctx, map[string]any{
		"request": "listparticipants",
		"room":    room,
	}, nil)
	if err != nil {
		return nil, err
	}

	var data struct {
		Participants []Participant `json:"participants"`
	}
	if err := resp.Decode(&data); err != nil {
		return nil, errors.Wrap(err, "decode participants")
	}
	return data.Participants, nil
}

// EnsureRoom provisions the shared videoroom. A room that already exists is
// not an error; created reports whether this call made it.
func EnsureRoom(ctx context.Context, gw Gateway, room uint64, publishers int) (created bool, err error) {
	s, err := gw.Create(ctx)
	if err != nil {
		return false, err
	}
	defer func() {
		if derr := s.Destroy(ctx); derr != nil {
			logger.Debugf("Destroy bootstrap session: %v", derr)
		}
	}()

	h, err := s.Attach(ctx, PluginVideoRoom)
	if err != nil {
		return false, err
	}
	defer func() {
		if derr := h.Detach(ctx); derr != nil {
			logger.Debugf("Detach bootstrap handle: %v", derr)
		}
	}()

	_, err = h.Message(ctx, map[string]any{
		"request":    "create",
		"room":       room,
		"publishers": publishers,
	}, nil)
	switch {
	case err == nil:
		return true, nil
	case IsCode(err, CodeVideoRoomRoomExists):
		return false, nil
	default:
		return false, errors.Wrapf(err, "create room %d", room)
	}
}
