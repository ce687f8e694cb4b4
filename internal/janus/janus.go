// Package janus is a client for the Janus WebRTC gateway's WebSocket API.
//
// A Conn holds the single link to the gateway. Sessions and handles created
// through it are exclusively owned by their caller; asynchronous gateway
// events for a handle are delivered to the EventSink bound to it.
package janus

import (
	"context"
	"encoding/json"

	"github.com/pion/webrtc/v4"
)

const (
	PluginVideoRoom = "janus.plugin.videoroom"
	PluginStreaming = "janus.plugin.streaming"
)

// Gateway creates gateway sessions.
type Gateway interface {
	Create(ctx context.Context) (Session, error)
}

// Session is a logical conversation with the gateway that owns handles.
type Session interface {
	ID() uint64
	Attach(ctx context.Context, plugin string) (Handle, error)
	Destroy(ctx context.Context) error
}

// Handle is a plugin attachment inside a session.
type Handle interface {
	ID() uint64
	// Message sends a plugin request and waits for its final reply. jsep may be nil.
	Message(ctx context.Context, body any, jsep *webrtc.SessionDescription) (*Response, error)
	Trickle(ctx context.Context, c Candidate) error
	Detach(ctx context.Context) error
	// Bind routes the handle's asynchronous events to sink. Only one sink is
	// kept; binding again replaces it.
	Bind(sink EventSink)
}

// Response is the plugin reply to a Message.
type Response struct {
	Plugin string
	Data   json.RawMessage
	Jsep   *webrtc.SessionDescription
}

// EventSink receives asynchronous events for one handle. Implementations are
// called on the connection's reader goroutine and must not block.
type EventSink interface {
	OnEvent(data json.RawMessage, jsep *webrtc.SessionDescription)
	OnTrickle(c Candidate)
	OnMediaUp()
	OnHangup(reason string)
}

// Decode unmarshals the plugin data of r into v.
func (r *Response) Decode(v any) error {
	if r == nil || len(r.Data) == 0 {
		return nil
	}
	return json.Unmarshal(r.Data, v)
}
