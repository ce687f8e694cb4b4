package relay

import (
	"context"
	"strconv"
	"strings"

	"github.com/pion/webrtc/v4"

	"github.com/mossy-p/videoroom-relay/internal/janus"
	"github.com/mossy-p/videoroom-relay/internal/logger"
	"github.com/mossy-p/videoroom-relay/internal/models"
)

func (p *Peer) join(ctx context.Context, name string) error {
	if p.joined {
		return ErrAlreadyJoined
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrInvalidName
	}

	id, err := p.onJoin(ctx, name)
	if err != nil {
		return err
	}
	logger.Infof("Peer %s joined room %d as '%s' (participant %d)", p.ID, p.relay.cfg.Room, name, id)
	p.send(models.Joined(id))
	return nil
}

func (p *Peer) publishOffer(ctx context.Context, jsep *webrtc.SessionDescription) error {
	if p.pub == nil {
		return nil
	}
	if jsep == nil || jsep.Type != webrtc.SDPTypeOffer {
		return ErrInvalidJsep
	}

	resp, err := p.pub.Message(ctx, map[string]any{
		"request": "publish",
		"audio":   true,
		"video":   true,
	}, jsep)
	if err != nil {
		return err
	}
	if resp.Jsep != nil {
		p.send(models.Jsep(models.TypeJsep, *resp.Jsep))
	}
	return nil
}

func (p *Peer) listPublishers(ctx context.Context) error {
	if p.pub == nil {
		return nil
	}

	parts, err := janus.ListParticipants(ctx, p.pub, p.relay.cfg.Room)
	if err != nil {
		return err
	}

	list := make([]models.PublisherInfo, 0, len(parts))
	for _, part := range parts {
		if !part.Publisher || part.ID == p.participantID {
			continue
		}
		list = append(list, publisherInfo(part.ID, part.Display))
	}
	p.send(models.Publishers(list))
	return nil
}

func (p *Peer) startSubscriber(ctx context.Context, jsep *webrtc.SessionDescription) error {
	if p.sub == nil {
		return nil
	}
	if jsep == nil || jsep.Type != webrtc.SDPTypeAnswer {
		return ErrInvalidJsep
	}

	_, err := p.sub.Message(ctx, map[string]any{
		"request": "start",
		"room":    p.relay.cfg.Room,
	}, jsep)
	return err
}

// trickle forwards a candidate to the handle selected by role. Failures are
// only logged; candidates may arrive after the handle is gone.
func (p *Peer) trickle(ctx context.Context, role models.Role, c janus.Candidate) error {
	h := p.pub
	if role == models.RoleSubscriber {
		h = p.sub
	}
	if h == nil {
		return nil
	}

	if err := h.Trickle(ctx, c); err != nil {
		logger.Debugf("Trickle (%s) for peer %s: %v", role, p.ID, err)
	}
	return nil
}

func (p *Peer) leave(ctx context.Context) {
	p.onLeave(ctx)
}

func publisherInfo(id uint64, display string) models.PublisherInfo {
	if display == "" {
		display = strconv.FormatUint(id, 10)
	}
	return models.PublisherInfo{ID: id, Display: display}
}
