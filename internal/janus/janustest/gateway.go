// Package janustest provides an in-memory janus.Gateway for tests.
package janustest

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/mossy-p/videoroom-relay/internal/janus"
)

// MessageFunc answers a handle Message call.
type MessageFunc func(h *Handle, body map[string]any, jsep *webrtc.SessionDescription) (*janus.Response, error)

// Call is one recorded Message call.
type Call struct {
	Handle *Handle
	Body   map[string]any
	Jsep   *webrtc.SessionDescription
}

// Request returns the "request" field of the body.
func (c Call) Request() string {
	s, _ := c.Body["request"].(string)
	return s
}

// Gateway records every operation performed through it.
type Gateway struct {
	mu       sync.Mutex
	nextID   uint64
	sessions []*Session
	handles  []*Handle
	calls    []Call

	onMessage MessageFunc
	createErr error
}

func New() *Gateway {
	return &Gateway{nextID: 1000}
}

// OnMessage installs the reply function used by every handle.
func (g *Gateway) OnMessage(fn MessageFunc) {
	g.mu.Lock()
	g.onMessage = fn
	g.mu.Unlock()
}

// FailCreate makes subsequent Create calls fail with err.
func (g *Gateway) FailCreate(err error) {
	g.mu.Lock()
	g.createErr = err
	g.mu.Unlock()
}

func (g *Gateway) id() uint64 {
	g.nextID++
	return g.nextID
}

func (g *Gateway) Create(ctx context.Context) (janus.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.createErr != nil {
		return nil, g.createErr
	}
	s := &Session{g: g, id: g.id()}
	g.sessions = append(g.sessions, s)
	return s, nil
}

func (g *Gateway) Sessions() []*Session {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]*Session(nil), g.sessions...)
}

func (g *Gateway) Handles() []*Handle {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]*Handle(nil), g.handles...)
}

// LiveHandles returns the handles that were attached and not yet detached.
func (g *Gateway) LiveHandles() []*Handle {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []*Handle
	for _, h := range g.handles {
		if h.detaches == 0 {
			out = append(out, h)
		}
	}
	return out
}

// Calls returns the recorded Message calls, filtered by request name when
// request is non-empty.
func (g *Gateway) Calls(request string) []Call {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []Call
	for _, c := range g.calls {
		if request == "" || c.Request() == request {
			out = append(out, c)
		}
	}
	return out
}

type Session struct {
	g          *Gateway
	id         uint64
	destroys   int
	destroyErr error
}

func (s *Session) ID() uint64 { return s.id }

func (s *Session) Attach(ctx context.Context, plugin string) (janus.Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.g.mu.Lock()
	defer s.g.mu.Unlock()
	h := &Handle{g: s.g, session: s, id: s.g.id(), plugin: plugin}
	s.g.handles = append(s.g.handles, h)
	return h, nil
}

// Destroy records the attempt even when it fails.
func (s *Session) Destroy(ctx context.Context) error {
	s.g.mu.Lock()
	defer s.g.mu.Unlock()
	s.destroys++
	return s.destroyErr
}

// FailDestroy makes later Destroy calls fail with err.
func (s *Session) FailDestroy(err error) {
	s.g.mu.Lock()
	s.destroyErr = err
	s.g.mu.Unlock()
}

// Destroys is the number of Destroy calls made on the session.
func (s *Session) Destroys() int {
	s.g.mu.Lock()
	defer s.g.mu.Unlock()
	return s.destroys
}

type Handle struct {
	g        *Gateway
	session  *Session
	id       uint64
	plugin   string
	detaches int
	trickles []janus.Candidate
	sink     janus.EventSink

	detachErr  error
	trickleErr error
}

func (h *Handle) ID() uint64        { return h.id }
func (h *Handle) Plugin() string    { return h.plugin }
func (h *Handle) Session() *Session { return h.session }

func (h *Handle) Bind(s janus.EventSink) {
	h.g.mu.Lock()
	h.sink = s
	h.g.mu.Unlock()
}

// Sink returns the bound event sink, nil if none.
func (h *Handle) Sink() janus.EventSink {
	h.g.mu.Lock()
	defer h.g.mu.Unlock()
	return h.sink
}

func (h *Handle) Detaches() int {
	h.g.mu.Lock()
	defer h.g.mu.Unlock()
	return h.detaches
}

func (h *Handle) Trickles() []janus.Candidate {
	h.g.mu.Lock()
	defer h.g.mu.Unlock()
	return append([]janus.Candidate(nil), h.trickles...)
}

func (h *Handle) Message(ctx context.Context, body any, jsep *webrtc.SessionDescription) (*janus.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}

	h.g.mu.Lock()
	h.g.calls = append(h.g.calls, Call{Handle: h, Body: m, Jsep: jsep})
	fn := h.g.onMessage
	h.g.mu.Unlock()

	if fn == nil {
		return &janus.Response{}, nil
	}
	return fn(h, m, jsep)
}

// Trickle records c unless the handle was told to fail.
func (h *Handle) Trickle(ctx context.Context, c janus.Candidate) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	h.g.mu.Lock()
	defer h.g.mu.Unlock()
	if h.trickleErr != nil {
		return h.trickleErr
	}
	h.trickles = append(h.trickles, c)
	return nil
}

// Detach records the attempt even when it fails.
func (h *Handle) Detach(ctx context.Context) error {
	h.g.mu.Lock()
	defer h.g.mu.Unlock()
	h.detaches++
	return h.detachErr
}

// FailDetach makes later Detach calls fail with err.
func (h *Handle) FailDetach(err error) {
	h.g.mu.Lock()
	h.detachErr = err
	h.g.mu.Unlock()
}

// FailTrickle makes later Trickle calls fail with err.
func (h *Handle) FailTrickle(err error) {
	h.g.mu.Lock()
	h.trickleErr = err
	h.g.mu.Unlock()
}

// Reply builds a plugin response carrying data and an optional jsep.
func Reply(data any, jsep *webrtc.SessionDescription) *janus.Response {
	raw, _ := json.Marshal(data)
	return &janus.Response{Plugin: "janustest", Data: raw, Jsep: jsep}
}

// Offer returns a minimal offer description.
func Offer(sdp string) *webrtc.SessionDescription {
	return &webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}
}

// Answer returns a minimal answer description.
func Answer(sdp string) *webrtc.SessionDescription {
	return &webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp}
}

// Uint reads a numeric body field, which JSON decoding turns into float64.
func Uint(body map[string]any, key string) uint64 {
	f, _ := body[key].(float64)
	return uint64(f)
}
