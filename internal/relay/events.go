package relay

import (
	"encoding/json"

	"github.com/pion/webrtc/v4"

	"github.com/mossy-p/videoroom-relay/internal/janus"
	"github.com/mossy-p/videoroom-relay/internal/logger"
	"github.com/mossy-p/videoroom-relay/internal/models"
)

// publisherEvents turns publisher handle events into client messages.
type publisherEvents struct{ p *Peer }

func (e publisherEvents) OnEvent(data json.RawMessage, jsep *webrtc.SessionDescription) {
	if jsep != nil {
		e.p.send(models.Jsep(models.TypeJsep, *jsep))
	}

	var ev struct {
		Publishers []janus.Publisher `json:"publishers"`
	}
	if len(data) == 0 || json.Unmarshal(data, &ev) != nil || ev.Publishers == nil {
		return
	}
	list := make([]models.PublisherInfo, 0, len(ev.Publishers))
	for _, pub := range ev.Publishers {
		list = append(list, publisherInfo(pub.ID, pub.Display))
	}
	e.p.send(models.Publishers(list))
}

func (e publisherEvents) OnTrickle(c janus.Candidate) {
	e.p.send(models.Trickle(models.RolePublisher, c))
}

func (e publisherEvents) OnMediaUp() {
	e.p.publishing.Store(true)
	logger.Infof("Peer %s is publishing", e.p.ID)
	e.p.send(models.WebRTCUp(models.RolePublisher))
}

func (e publisherEvents) OnHangup(reason string) {
	e.p.publishing.Store(false)
	e.p.send(models.Hangup(models.RolePublisher))
}

// subscriberEvents turns subscriber handle events into client messages.
type subscriberEvents struct{ p *Peer }

func (e subscriberEvents) OnEvent(data json.RawMessage, jsep *webrtc.SessionDescription) {
	if jsep != nil {
		e.p.send(models.Jsep(models.TypeSubscriberJsep, *jsep))
	}
}

func (e subscriberEvents) OnTrickle(c janus.Candidate) {
	e.p.send(models.Trickle(models.RoleSubscriber, c))
}

func (e subscriberEvents) OnMediaUp() {
	e.p.send(models.WebRTCUp(models.RoleSubscriber))
}

func (e subscriberEvents) OnHangup(reason string) {
	logger.Debugf("Subscriber hangup for peer %s: %s", e.p.ID, reason)
}
