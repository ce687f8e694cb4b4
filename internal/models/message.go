package models

import (
	"github.com/pion/webrtc/v4"

	"github.com/mossy-p/videoroom-relay/internal/janus"
)

// MessageType is the `type` discriminator of every client message.
type MessageType string

// Room namespace, client to server.
const (
	TypeJoin           MessageType = "join"
	TypePublishOffer   MessageType = "publish_offer"
	TypeList           MessageType = "list"
	TypeSubscribe      MessageType = "subscribe"
	TypeStartSubscribe MessageType = "start_subscribe"
	TypeTrickle        MessageType = "trickle"
	TypeLeave          MessageType = "leave"
)

// Room namespace, server to client.
const (
	TypeJoined         MessageType = "joined"
	TypeJsep           MessageType = "jsep"
	TypePublishers     MessageType = "publishers"
	TypeSubscriberJsep MessageType = "subscriber_jsep"
	TypeWebRTCUp       MessageType = "webrtcup"
	TypeHangup         MessageType = "hangup"
	TypeError          MessageType = "error"
)

// Livestream namespace.
const (
	TypeStartStream    MessageType = "start_stream"
	TypeDestroyStream  MessageType = "destroy_stream"
	TypeWatch          MessageType = "watch"
	TypeStart          MessageType = "start"
	TypeUnwatch        MessageType = "unwatch"
	TypeMountCreated   MessageType = "mount_created"
	TypeMountDestroyed MessageType = "mount_destroyed"
)

// Role selects which handle a trickle belongs to.
type Role string

const (
	RolePublisher  Role = "publisher"
	RoleSubscriber Role = "subscriber"
)

// ClientMessage is any inbound message on either namespace. Only the fields
// relevant to Type are set.
type ClientMessage struct {
	Type      MessageType                `json:"type"`
	Name      string                     `json:"name,omitempty"`
	Jsep      *webrtc.SessionDescription `json:"jsep,omitempty"`
	Feed      uint64                     `json:"feed,omitempty"`
	Role      Role                       `json:"role,omitempty"`
	Candidate *janus.Candidate           `json:"candidate,omitempty"`
	ID        uint64                     `json:"id,omitempty"`
	Completed bool                       `json:"completed,omitempty"`
}

// TrickleCandidate returns the candidate carried by a trickle message. A
// missing candidate or an explicit completed flag is the end-of-candidates marker.
func (m *ClientMessage) TrickleCandidate() janus.Candidate {
	if m.Completed || m.Candidate == nil {
		return janus.CompletedCandidate
	}
	return *m.Candidate
}

// JoinedMessage carries the participant id assigned on join.
type JoinedMessage struct {
	Type MessageType `json:"type"`
	ID   uint64      `json:"id"`
}

// JsepMessage carries an SDP offer or answer. Type tells which handle it is for.
type JsepMessage struct {
	Type MessageType               `json:"type"`
	Jsep webrtc.SessionDescription `json:"jsep"`
}

// PublisherInfo is one entry of a publishers message.
type PublisherInfo struct {
	ID      uint64 `json:"id"`
	Display string `json:"display"`
}

// PublishersMessage lists the other active publishers in the room.
type PublishersMessage struct {
	Type       MessageType     `json:"type"`
	Publishers []PublisherInfo `json:"publishers"`
}

// TrickleMessage relays a gateway ICE candidate.
type TrickleMessage struct {
	Type      MessageType     `json:"type"`
	Role      Role            `json:"role,omitempty"`
	Candidate janus.Candidate `json:"candidate"`
}

// RoleMessage is a media state change on the publisher or subscriber handle.
type RoleMessage struct {
	Type MessageType `json:"type"`
	Role Role        `json:"role,omitempty"`
}

// ErrorMessage reports a failed intent.
type ErrorMessage struct {
	Type   MessageType `json:"type"`
	Reason string      `json:"reason"`
}

// RTPInfo is where an external encoder should send media for a mountpoint.
type RTPInfo struct {
	IP        string `json:"ip"`
	VideoPort int    `json:"video_port"`
	AudioPort int    `json:"audio_port"`
}

// MountCreatedMessage tells a livestream client where to send RTP.
type MountCreatedMessage struct {
	Type MessageType `json:"type"`
	ID   uint64      `json:"id"`
	RTP  RTPInfo     `json:"rtp"`
}

type MountDestroyedMessage struct {
	Type MessageType `json:"type"`
	ID   uint64      `json:"id"`
}

// Constructors for server to client messages.

func Joined(id uint64) JoinedMessage { return JoinedMessage{Type: TypeJoined, ID: id} }

func Jsep(t MessageType, jsep webrtc.SessionDescription) JsepMessage {
	return JsepMessage{Type: t, Jsep: jsep}
}

func Publishers(list []PublisherInfo) PublishersMessage {
	if list == nil {
		list = []PublisherInfo{}
	}
	return PublishersMessage{Type: TypePublishers, Publishers: list}
}

func Trickle(role Role, c janus.Candidate) TrickleMessage {
	return TrickleMessage{Type: TypeTrickle, Role: role, Candidate: c}
}

func WebRTCUp(role Role) RoleMessage { return RoleMessage{Type: TypeWebRTCUp, Role: role} }
func Hangup(role Role) RoleMessage   { return RoleMessage{Type: TypeHangup, Role: role} }

func Error(reason string) ErrorMessage { return ErrorMessage{Type: TypeError, Reason: reason} }

func MountCreated(id uint64, rtp RTPInfo) MountCreatedMessage {
	return MountCreatedMessage{Type: TypeMountCreated, ID: id, RTP: rtp}
}

func MountDestroyed(id uint64) MountDestroyedMessage {
	return MountDestroyedMessage{Type: TypeMountDestroyed, ID: id}
}
